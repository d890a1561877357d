// Package intro implements the warm-introduction lifecycle: quota-checked
// requests, accept/decline with exactly one winner under concurrency, lazy
// expiry, and cooldowns after a declined or expired request.
package intro

import (
	"context"
	stderrors "errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/windrunne/6ix-app/internal/app/clock"
	"github.com/windrunne/6ix-app/internal/app/domain/chat"
	"github.com/windrunne/6ix-app/internal/app/domain/intro"
	"github.com/windrunne/6ix-app/internal/app/domain/notification"
	"github.com/windrunne/6ix-app/internal/app/metrics"
	"github.com/windrunne/6ix-app/internal/app/ratelimit"
	"github.com/windrunne/6ix-app/internal/app/storage"
	"github.com/windrunne/6ix-app/internal/errors"
	"github.com/windrunne/6ix-app/pkg/logger"
)

const (
	queryContextMinLen = 3
	queryContextMaxLen = 200
	whyMatchMaxLen     = 500
)

// Notifier delivers user-facing notifications. Emission is best effort:
// failures are logged and never roll back a lifecycle transition.
type Notifier interface {
	Emit(ctx context.Context, userID, senderRef, typ, title, body string, payload map[string]interface{}) (notification.Notification, error)
}

// ChatCreator opens a chat thread when an introduction is accepted.
type ChatCreator interface {
	CreateThread(ctx context.Context, userA, userB, seedMessage string) (chat.Thread, error)
}

// Response is the outcome of resolving an introduction.
type Response struct {
	Status intro.Status `json:"status"`
	// ChatID is set when acceptance opened a chat thread. Empty when
	// thread creation failed; the acceptance stands regardless.
	ChatID string `json:"chat_id,omitempty"`
}

// UserIntros groups a user's sent and received requests.
type UserIntros struct {
	Sent     []intro.Request `json:"sent"`
	Received []intro.Request `json:"received"`
}

// Service coordinates the introduction lifecycle.
type Service struct {
	store    storage.IntroStore
	limiter  ratelimit.Limiter
	notifier Notifier
	chats    ChatCreator
	clock    clock.Clock
	log      *logger.Logger

	cooldown      intro.CooldownPolicy
	pendingTTL    time.Duration
	requestQuotas []ratelimit.Quota
	respondQuotas []ratelimit.Quota
}

// New creates an intro service with default quotas, cooldowns, and TTL. A
// nil log defaults to a named logger; a nil clk to the system clock.
func New(store storage.IntroStore, limiter ratelimit.Limiter, notifier Notifier, chats ChatCreator, clk clock.Clock, log *logger.Logger) *Service {
	if clk == nil {
		clk = clock.System()
	}
	if log == nil {
		log = logger.NewDefault("intro")
	}
	return &Service{
		store:         store,
		limiter:       limiter,
		notifier:      notifier,
		chats:         chats,
		clock:         clk,
		log:           log,
		cooldown:      intro.DefaultCooldownPolicy(),
		pendingTTL:    intro.PendingTTL,
		requestQuotas: ratelimit.DefaultIntroRequestQuotas(),
		respondQuotas: ratelimit.DefaultIntroRespondQuotas(),
	}
}

// WithCooldownPolicy overrides the post-resolution cooldowns.
func (s *Service) WithCooldownPolicy(policy intro.CooldownPolicy) *Service {
	s.cooldown = policy
	return s
}

// WithPendingTTL overrides how long a request stays answerable.
func (s *Service) WithPendingTTL(ttl time.Duration) *Service {
	s.pendingTTL = ttl
	return s
}

// WithQuotas overrides the request and respond quota sets.
func (s *Service) WithQuotas(request, respond []ratelimit.Quota) *Service {
	s.requestQuotas = request
	s.respondQuotas = respond
	return s
}

// Request creates a pending introduction from requester to target.
func (s *Service) Request(ctx context.Context, requesterID, targetID, queryContext, whyMatch string, mutualIDs []string) (intro.Request, error) {
	decision, err := s.limiter.Allow(ctx, ratelimit.UserIdentity(requesterID), s.requestQuotas...)
	if err != nil {
		return intro.Request{}, errors.StoreUnavailable(err)
	}
	metrics.RecordRateLimitDecision(ratelimit.ScopeIntroRequest, decision.Allowed)
	if !decision.Allowed {
		return intro.Request{}, errors.RateLimitExceeded(decision.Scope, decision.RetryAfter)
	}

	if requesterID == "" || targetID == "" {
		return intro.Request{}, errors.InvalidRequest("requester and target are required")
	}
	if requesterID == targetID {
		return intro.Request{}, errors.InvalidRequest("cannot request an introduction to yourself")
	}

	queryContext = strings.TrimSpace(queryContext)
	if n := utf8.RuneCountInString(queryContext); n < queryContextMinLen || n > queryContextMaxLen {
		return intro.Request{}, errors.InvalidRequest("query context must be %d-%d characters", queryContextMinLen, queryContextMaxLen)
	}
	whyMatch = strings.TrimSpace(whyMatch)
	if utf8.RuneCountInString(whyMatch) > whyMatchMaxLen {
		return intro.Request{}, errors.InvalidRequest("why match must be at most %d characters", whyMatchMaxLen)
	}

	now := s.clock.Now()

	pending, err := s.store.ListIntroRequestsByRequester(ctx, requesterID, intro.StatusPending)
	if err != nil {
		return intro.Request{}, errors.StoreUnavailable(err)
	}
	for _, existing := range pending {
		if existing.TargetID == targetID {
			return intro.Request{}, errors.DuplicateRequest("an introduction to this user is already pending")
		}
	}

	last, err := s.store.LatestResolvedIntro(ctx, requesterID, targetID)
	switch {
	case err == nil:
		if remaining := s.cooldown.Remaining(last, now); remaining > 0 {
			return intro.Request{}, errors.Cooldown(remaining)
		}
	case stderrors.Is(err, storage.ErrNotFound):
	default:
		return intro.Request{}, errors.StoreUnavailable(err)
	}

	req := intro.Request{
		RequesterID:  requesterID,
		TargetID:     targetID,
		QueryContext: queryContext,
		WhyMatch:     whyMatch,
		MutualIDs:    mutualIDs,
		MutualCount:  len(mutualIDs),
		Status:       intro.StatusPending,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.pendingTTL),
	}
	created, err := s.store.CreateIntroRequest(ctx, req)
	if err != nil {
		if stderrors.Is(err, storage.ErrDuplicate) {
			return intro.Request{}, errors.DuplicateRequest("an introduction to this user is already pending")
		}
		return intro.Request{}, errors.StoreUnavailable(err)
	}

	s.notify(ctx, targetID, requesterID, notification.TypeIntroRequest,
		"New introduction request",
		queryContext,
		map[string]interface{}{"intro_id": created.ID, "mutual_count": created.MutualCount})

	metrics.RecordLifecycleTransition("intro", string(intro.StatusPending))
	s.log.WithField("intro_id", created.ID).
		WithField("requester_id", requesterID).
		WithField("target_id", targetID).
		Info("introduction requested")
	return created, nil
}

// Respond resolves a pending introduction. Only the target may respond;
// concurrent responders get exactly one winner. A pending request past its
// expiry is expired in place and reported as such.
func (s *Service) Respond(ctx context.Context, id, responderID string, accept bool) (Response, error) {
	decision, err := s.limiter.Allow(ctx, ratelimit.UserIdentity(responderID), s.respondQuotas...)
	if err != nil {
		return Response{}, errors.StoreUnavailable(err)
	}
	metrics.RecordRateLimitDecision(ratelimit.ScopeIntroRespond, decision.Allowed)
	if !decision.Allowed {
		return Response{}, errors.RateLimitExceeded(decision.Scope, decision.RetryAfter)
	}

	req, err := s.store.GetIntroRequest(ctx, id)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return Response{}, errors.NotFound("intro request", id)
		}
		return Response{}, errors.StoreUnavailable(err)
	}
	if req.TargetID != responderID {
		return Response{}, errors.Forbidden("only the requested user may respond")
	}
	if req.Status != intro.StatusPending {
		return Response{}, errors.AlreadyResolved(string(req.Status))
	}

	now := s.clock.Now()
	if now.After(req.ExpiresAt) {
		if _, err := s.store.UpdateIntroStatusIf(ctx, id, intro.StatusPending, intro.StatusExpired, nil); err != nil &&
			!stderrors.Is(err, storage.ErrPredicateFailed) {
			return Response{}, errors.StoreUnavailable(err)
		}
		metrics.RecordLifecycleTransition("intro", string(intro.StatusExpired))
		return Response{}, errors.Expired()
	}

	to := intro.StatusDeclined
	if accept {
		to = intro.StatusAccepted
	}
	updated, err := s.store.UpdateIntroStatusIf(ctx, id, intro.StatusPending, to, &now)
	if err != nil {
		if stderrors.Is(err, storage.ErrPredicateFailed) {
			current, getErr := s.store.GetIntroRequest(ctx, id)
			if getErr != nil {
				return Response{}, errors.StoreUnavailable(getErr)
			}
			return Response{}, errors.AlreadyResolved(string(current.Status))
		}
		return Response{}, errors.StoreUnavailable(err)
	}

	resp := Response{Status: updated.Status}
	if accept {
		thread, chatErr := s.chats.CreateThread(ctx, updated.RequesterID, updated.TargetID, updated.QueryContext)
		if chatErr != nil {
			s.log.WithError(chatErr).WithField("intro_id", id).Warn("chat thread creation failed after accept")
		} else {
			resp.ChatID = thread.ID
		}
		s.notify(ctx, updated.RequesterID, updated.TargetID, notification.TypeIntroAccepted,
			"Introduction accepted",
			"Your introduction request was accepted",
			map[string]interface{}{"intro_id": id, "chat_id": resp.ChatID})
	} else {
		s.notify(ctx, updated.RequesterID, notification.SenderSystem, notification.TypeIntroDeclined,
			"Introduction update",
			"Your introduction request was not accepted this time",
			map[string]interface{}{"intro_id": id})
	}

	metrics.RecordLifecycleTransition("intro", string(updated.Status))
	s.log.WithField("intro_id", id).WithField("status", string(updated.Status)).Info("introduction resolved")
	return resp, nil
}

// SweepExpired transitions every pending request past its expiry. Safe to
// run concurrently with Respond and with itself.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	count, err := s.store.ExpireIntroRequests(ctx, s.clock.Now())
	if err != nil {
		return 0, errors.StoreUnavailable(err)
	}
	if count > 0 {
		metrics.RecordSweep("intro_expiry", count)
		s.log.WithField("count", count).Info("expired pending introductions")
	}
	return count, nil
}

// ListForUser returns the user's sent and received requests. Pending rows
// past their expiry are reported as expired even if the sweep has not
// caught up yet.
func (s *Service) ListForUser(ctx context.Context, userID string, status intro.Status) (UserIntros, error) {
	sent, err := s.store.ListIntroRequestsByRequester(ctx, userID, status)
	if err != nil {
		return UserIntros{}, errors.StoreUnavailable(err)
	}
	received, err := s.store.ListIntroRequestsByTarget(ctx, userID, status)
	if err != nil {
		return UserIntros{}, errors.StoreUnavailable(err)
	}

	now := s.clock.Now()
	applyEffective(sent, now)
	applyEffective(received, now)
	return UserIntros{Sent: sent, Received: received}, nil
}

func applyEffective(reqs []intro.Request, now time.Time) {
	for i := range reqs {
		reqs[i].Status = intro.EffectiveStatus(reqs[i], now)
	}
}

func (s *Service) notify(ctx context.Context, userID, senderRef, typ, title, body string, payload map[string]interface{}) {
	if s.notifier == nil {
		return
	}
	if _, err := s.notifier.Emit(ctx, userID, senderRef, typ, title, body, payload); err != nil {
		s.log.WithError(err).WithField("user_id", userID).WithField("type", typ).Warn("notification emit failed")
	}
}
