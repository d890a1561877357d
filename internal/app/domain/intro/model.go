// Package intro defines the warm-introduction request model.
package intro

import "time"

// Status is the lifecycle state of an introduction request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusDeclined Status = "declined"
	StatusExpired  Status = "expired"
)

// Resolved reports whether the status is terminal.
func (s Status) Resolved() bool {
	return s == StatusAccepted || s == StatusDeclined || s == StatusExpired
}

// Request is a warm-introduction request from one user to a second-degree
// connection. At most one pending request may exist for a given ordered
// (requester, target) pair.
type Request struct {
	ID           string     `db:"id" json:"id"`
	RequesterID  string     `db:"requester_id" json:"requester_id"`
	TargetID     string     `db:"target_id" json:"target_id"`
	QueryContext string     `db:"query_context" json:"query_context"`
	WhyMatch     string     `db:"why_match" json:"why_match"`
	MutualIDs    []string   `db:"-" json:"mutual_ids"`
	MutualCount  int        `db:"mutual_count" json:"mutual_count"`
	Status       Status     `db:"status" json:"status"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	RespondedAt  *time.Time `db:"responded_at" json:"responded_at,omitempty"`
	ExpiresAt    time.Time  `db:"expires_at" json:"expires_at"`
}

// EffectiveStatus resolves the status a reader should observe at the given
// instant. A pending request past its deadline reads as expired even before
// the sweep has persisted the transition; both the sweep and the read path
// use this single definition.
func EffectiveStatus(req Request, now time.Time) Status {
	if req.Status == StatusPending && now.After(req.ExpiresAt) {
		return StatusExpired
	}
	return req.Status
}

// CooldownPolicy controls how long a pair must wait after a resolved request
// before a new request between the same ordered pair is allowed. The check
// considers the most recent resolved request only.
type CooldownPolicy struct {
	AfterDeclined time.Duration
	AfterExpired  time.Duration
}

// DefaultCooldownPolicy is 7 days after a decline and 30 days after expiry.
func DefaultCooldownPolicy() CooldownPolicy {
	return CooldownPolicy{
		AfterDeclined: 7 * 24 * time.Hour,
		AfterExpired:  30 * 24 * time.Hour,
	}
}

// Remaining returns how much cooldown is left for the given resolved request,
// or zero when none applies. Declined requests count from responded_at,
// expired requests from expires_at.
func (p CooldownPolicy) Remaining(last Request, now time.Time) time.Duration {
	var until time.Time
	switch last.Status {
	case StatusDeclined:
		if last.RespondedAt == nil {
			return 0
		}
		until = last.RespondedAt.Add(p.AfterDeclined)
	case StatusExpired:
		until = last.ExpiresAt.Add(p.AfterExpired)
	default:
		return 0
	}
	if remaining := until.Sub(now); remaining > 0 {
		return remaining
	}
	return 0
}

// PendingTTL is how long a new request stays open before expiring.
const PendingTTL = 7 * 24 * time.Hour
