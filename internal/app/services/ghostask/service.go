// Package ghostask implements anonymous asks that unlock through
// proximity events or accumulate persuasion attempts until a threshold
// forces the send.
package ghostask

import (
	"context"
	stderrors "errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/windrunne/6ix-app/internal/app/clock"
	"github.com/windrunne/6ix-app/internal/app/domain/ghostask"
	"github.com/windrunne/6ix-app/internal/app/domain/notification"
	"github.com/windrunne/6ix-app/internal/app/metrics"
	"github.com/windrunne/6ix-app/internal/app/ratelimit"
	"github.com/windrunne/6ix-app/internal/app/storage"
	"github.com/windrunne/6ix-app/internal/errors"
	"github.com/windrunne/6ix-app/pkg/logger"
)

// Notifier delivers user-facing notifications, best effort.
type Notifier interface {
	Emit(ctx context.Context, userID, senderRef, typ, title, body string, payload map[string]interface{}) (notification.Notification, error)
}

// SendResult reports a successful delivery.
type SendResult struct {
	Ask ghostask.Ask `json:"ask"`
	// Forced is true when the persuasion threshold, not an unlock,
	// released the send.
	Forced bool `json:"forced"`
}

// Service coordinates the ghost-ask lifecycle.
type Service struct {
	store    storage.GhostAskStore
	limiter  ratelimit.Limiter
	notifier Notifier
	clock    clock.Clock
	log      *logger.Logger

	unlockWindow time.Duration
	threshold    int
	createQuotas []ratelimit.Quota
	sendQuotas   []ratelimit.Quota
}

// New creates a ghost-ask service with default quotas, unlock window, and
// persuasion threshold.
func New(store storage.GhostAskStore, limiter ratelimit.Limiter, notifier Notifier, clk clock.Clock, log *logger.Logger) *Service {
	if clk == nil {
		clk = clock.System()
	}
	if log == nil {
		log = logger.NewDefault("ghostask")
	}
	return &Service{
		store:        store,
		limiter:      limiter,
		notifier:     notifier,
		clock:        clk,
		log:          log,
		unlockWindow: ghostask.UnlockWindow,
		threshold:    ghostask.PersuasionThreshold,
		createQuotas: ratelimit.DefaultGhostAskCreateQuotas(),
		sendQuotas:   ratelimit.DefaultGhostAskSendQuotas(),
	}
}

// WithUnlockWindow overrides how long after creation an unlock event
// counts.
func (s *Service) WithUnlockWindow(window time.Duration) *Service {
	s.unlockWindow = window
	return s
}

// WithThreshold overrides the persuasion threshold.
func (s *Service) WithThreshold(threshold int) *Service {
	s.threshold = threshold
	return s
}

// WithQuotas overrides the create and send quota sets.
func (s *Service) WithQuotas(create, send []ratelimit.Quota) *Service {
	s.createQuotas = create
	s.sendQuotas = send
	return s
}

// Create stores a new locked ask.
func (s *Service) Create(ctx context.Context, senderID, recipientID, message string) (ghostask.Ask, error) {
	decision, err := s.limiter.Allow(ctx, ratelimit.UserIdentity(senderID), s.createQuotas...)
	if err != nil {
		return ghostask.Ask{}, errors.StoreUnavailable(err)
	}
	metrics.RecordRateLimitDecision(ratelimit.ScopeGhostAskCreate, decision.Allowed)
	if !decision.Allowed {
		return ghostask.Ask{}, errors.RateLimitExceeded(decision.Scope, decision.RetryAfter)
	}

	if senderID == "" || recipientID == "" {
		return ghostask.Ask{}, errors.InvalidRequest("sender and recipient are required")
	}
	if senderID == recipientID {
		return ghostask.Ask{}, errors.InvalidRequest("cannot send a ghost ask to yourself")
	}
	message = strings.TrimSpace(message)
	if n := utf8.RuneCountInString(message); n < ghostask.MessageMinLen || n > ghostask.MessageMaxLen {
		return ghostask.Ask{}, errors.InvalidRequest("message must be %d-%d characters", ghostask.MessageMinLen, ghostask.MessageMaxLen)
	}

	ask := ghostask.Ask{
		SenderID:    senderID,
		RecipientID: recipientID,
		Message:     message,
		Status:      ghostask.StatusPending,
		CreatedAt:   s.clock.Now(),
	}
	created, err := s.store.CreateGhostAsk(ctx, ask)
	if err != nil {
		return ghostask.Ask{}, errors.StoreUnavailable(err)
	}

	metrics.RecordLifecycleTransition("ghost_ask", string(ghostask.StatusPending))
	s.log.WithField("ask_id", created.ID).WithField("recipient_id", recipientID).Info("ghost ask created")
	return created, nil
}

// NotifyUnlockEvent marks the ask unlocked if the event landed within the
// unlock window and the ask is still pending. Out-of-window or repeated
// events are a no-op, not an error.
func (s *Service) NotifyUnlockEvent(ctx context.Context, id string, eventTime time.Time) (bool, error) {
	ask, err := s.store.GetGhostAsk(ctx, id)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return false, errors.NotFound("ghost ask", id)
		}
		return false, errors.StoreUnavailable(err)
	}
	if eventTime.Sub(ask.CreatedAt) > s.unlockWindow {
		return false, nil
	}

	unlocked, err := s.store.UnlockGhostAsk(ctx, id)
	if err != nil {
		return false, errors.StoreUnavailable(err)
	}
	if unlocked {
		s.log.WithField("ask_id", id).Info("ghost ask unlocked")
	}
	return unlocked, nil
}

// AttemptSend delivers an unlocked ask, or counts a persuasion attempt on
// a locked one. The attempt that raises the counter to the threshold
// forces the send in the same call.
func (s *Service) AttemptSend(ctx context.Context, id, senderID string) (SendResult, error) {
	decision, err := s.limiter.Allow(ctx, ratelimit.UserIdentity(senderID), s.sendQuotas...)
	if err != nil {
		return SendResult{}, errors.StoreUnavailable(err)
	}
	metrics.RecordRateLimitDecision(ratelimit.ScopeGhostAskSend, decision.Allowed)
	if !decision.Allowed {
		return SendResult{}, errors.RateLimitExceeded(decision.Scope, decision.RetryAfter)
	}

	ask, err := s.getOwned(ctx, id, senderID)
	if err != nil {
		return SendResult{}, err
	}
	if ask.Status != ghostask.StatusPending {
		return SendResult{}, errors.AlreadyResolved(string(ask.Status))
	}

	if ask.Unlocked {
		sent, err := s.send(ctx, id)
		if err != nil {
			return SendResult{}, err
		}
		return SendResult{Ask: sent}, nil
	}

	attempts, err := s.store.IncrementPersuasion(ctx, id)
	if err != nil {
		if stderrors.Is(err, storage.ErrPredicateFailed) {
			return SendResult{}, errors.AlreadyResolved(string(ghostask.StatusSent))
		}
		return SendResult{}, errors.StoreUnavailable(err)
	}
	if attempts >= s.threshold {
		sent, err := s.send(ctx, id)
		if err != nil {
			return SendResult{}, err
		}
		s.log.WithField("ask_id", id).WithField("attempts", attempts).Info("persuasion threshold reached, ask sent")
		return SendResult{Ask: sent, Forced: true}, nil
	}
	return SendResult{}, errors.PersuasionRequired(attempts, s.threshold)
}

// ForceSend delivers an ask whose persuasion attempts have reached the
// threshold. Unlock state does not matter here; an unlocked ask goes out
// through AttemptSend.
func (s *Service) ForceSend(ctx context.Context, id, senderID string) (SendResult, error) {
	ask, err := s.getOwned(ctx, id, senderID)
	if err != nil {
		return SendResult{}, err
	}
	if ask.Status != ghostask.StatusPending {
		return SendResult{}, errors.AlreadyResolved(string(ask.Status))
	}
	if ask.PersuasionAttempts < s.threshold {
		return SendResult{}, errors.ThresholdNotMet(ask.PersuasionAttempts, s.threshold)
	}

	sent, err := s.send(ctx, id)
	if err != nil {
		return SendResult{}, err
	}
	return SendResult{Ask: sent, Forced: true}, nil
}

func (s *Service) getOwned(ctx context.Context, id, senderID string) (ghostask.Ask, error) {
	ask, err := s.store.GetGhostAsk(ctx, id)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return ghostask.Ask{}, errors.NotFound("ghost ask", id)
		}
		return ghostask.Ask{}, errors.StoreUnavailable(err)
	}
	if ask.SenderID != senderID {
		return ghostask.Ask{}, errors.Forbidden("only the sender may act on this ask")
	}
	return ask, nil
}

func (s *Service) send(ctx context.Context, id string) (ghostask.Ask, error) {
	sent, err := s.store.MarkGhostAskSent(ctx, id, s.clock.Now())
	if err != nil {
		if stderrors.Is(err, storage.ErrPredicateFailed) {
			return ghostask.Ask{}, errors.AlreadyResolved(string(ghostask.StatusSent))
		}
		return ghostask.Ask{}, errors.StoreUnavailable(err)
	}

	if s.notifier != nil {
		_, err := s.notifier.Emit(ctx, sent.RecipientID, notification.SenderAnonymous, notification.TypeGhostAsk,
			"Someone asked you something",
			sent.Message,
			map[string]interface{}{"ask_id": sent.ID})
		if err != nil {
			s.log.WithError(err).WithField("ask_id", sent.ID).Warn("notification emit failed")
		}
	}

	metrics.RecordLifecycleTransition("ghost_ask", string(ghostask.StatusSent))
	s.log.WithField("ask_id", sent.ID).Info("ghost ask sent")
	return sent, nil
}
