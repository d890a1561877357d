// Package ratelimit implements exact sliding-window quotas keyed by
// identity and operation scope. A logical operation may carry several
// quotas (for example an hourly and a daily cap); Allow treats them as one
// unit: either every quota admits the call and every window records it, or
// nothing is recorded.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Quota is a cap of Limit events per sliding Window for one scope.
type Quota struct {
	Scope  string
	Limit  int
	Window time.Duration
}

// NewQuota validates a quota at construction so misconfiguration fails at
// startup rather than on the request path.
func NewQuota(scope string, limit int, window time.Duration) (Quota, error) {
	if scope == "" {
		return Quota{}, fmt.Errorf("ratelimit: scope must not be empty")
	}
	if limit <= 0 {
		return Quota{}, fmt.Errorf("ratelimit: quota %q: limit must be positive, got %d", scope, limit)
	}
	if window <= 0 {
		return Quota{}, fmt.Errorf("ratelimit: quota %q: window must be positive, got %s", scope, window)
	}
	return Quota{Scope: scope, Limit: limit, Window: window}, nil
}

// MustQuota is NewQuota for compile-time defaults.
func MustQuota(scope string, limit int, window time.Duration) Quota {
	q, err := NewQuota(scope, limit, window)
	if err != nil {
		panic(err)
	}
	return q
}

// Decision reports the outcome of an Allow call.
type Decision struct {
	Allowed bool
	// Scope is the first exceeded quota's scope when denied.
	Scope string
	// Remaining is the smallest headroom across the operation's quotas
	// after this call was recorded. Zero when denied.
	Remaining int
	// RetryAfter is how long until the denied quota admits one call.
	RetryAfter time.Duration
}

// Limiter admits or denies one logical operation against its quotas.
type Limiter interface {
	Allow(ctx context.Context, identity string, quotas ...Quota) (Decision, error)
}

// Operation scopes.
const (
	ScopeIntroRequest   = "intro_request"
	ScopeIntroRespond   = "intro_respond"
	ScopeGhostAskCreate = "ghost_ask"
	ScopeGhostAskSend   = "ghost_ask_send"
)

// Default quota sets per operation.
func DefaultIntroRequestQuotas() []Quota {
	return []Quota{
		MustQuota(ScopeIntroRequest, 3, time.Hour),
		MustQuota(ScopeIntroRequest, 5, 24*time.Hour),
	}
}

func DefaultIntroRespondQuotas() []Quota {
	return []Quota{MustQuota(ScopeIntroRespond, 10, time.Hour)}
}

func DefaultGhostAskCreateQuotas() []Quota {
	return []Quota{MustQuota(ScopeGhostAskCreate, 3, 24*time.Hour)}
}

func DefaultGhostAskSendQuotas() []Quota {
	return []Quota{MustQuota(ScopeGhostAskSend, 20, time.Hour)}
}

// UserIdentity keys quotas by user ID.
func UserIdentity(userID string) string { return "user:" + userID }

// IPIdentity keys quotas by caller address for unauthenticated traffic.
func IPIdentity(addr string) string { return "ip:" + addr }

func windowKey(identity, scope string) string { return identity + ":" + scope }
