// Package storage declares the entity-store contracts the lifecycle engines
// depend on. Implementations must provide per-row atomicity for the
// conditional updates; the engines hold no long-lived entity copies.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/windrunne/6ix-app/internal/app/domain/chat"
	"github.com/windrunne/6ix-app/internal/app/domain/ghostask"
	"github.com/windrunne/6ix-app/internal/app/domain/intro"
	"github.com/windrunne/6ix-app/internal/app/domain/notification"
)

// Sentinel errors shared by all store implementations. Services translate
// these into the caller-facing taxonomy.
var (
	// ErrNotFound reports an unknown primary key.
	ErrNotFound = errors.New("storage: not found")
	// ErrDuplicate reports a uniqueness violation, e.g. a second pending
	// intro request for the same ordered pair.
	ErrDuplicate = errors.New("storage: duplicate")
	// ErrPredicateFailed reports a conditional update whose status predicate
	// no longer held; the racing caller lost.
	ErrPredicateFailed = errors.New("storage: predicate failed")
)

// IntroStore persists warm-introduction requests.
type IntroStore interface {
	// CreateIntroRequest inserts a pending request, enforcing at most one
	// pending row per ordered (requester, target) pair (ErrDuplicate).
	CreateIntroRequest(ctx context.Context, req intro.Request) (intro.Request, error)
	GetIntroRequest(ctx context.Context, id string) (intro.Request, error)
	// LatestResolvedIntro returns the most recently resolved
	// (declined/expired) request for the ordered pair, or ErrNotFound.
	LatestResolvedIntro(ctx context.Context, requesterID, targetID string) (intro.Request, error)
	// UpdateIntroStatusIf transitions id from one status to another as a
	// single atomic operation, stamping respondedAt when non-nil. Returns
	// ErrPredicateFailed when the row is no longer in the from status.
	UpdateIntroStatusIf(ctx context.Context, id string, from, to intro.Status, respondedAt *time.Time) (intro.Request, error)
	// ExpireIntroRequests moves every pending row past its deadline to
	// expired and reports how many rows changed. Idempotent.
	ExpireIntroRequests(ctx context.Context, now time.Time) (int, error)
	// ListIntroRequestsByRequester and ListIntroRequestsByTarget return the
	// user's sent/received requests, newest first, optionally filtered by
	// status (empty status means all).
	ListIntroRequestsByRequester(ctx context.Context, requesterID string, status intro.Status) ([]intro.Request, error)
	ListIntroRequestsByTarget(ctx context.Context, targetID string, status intro.Status) ([]intro.Request, error)
}

// GhostAskStore persists ghost asks.
type GhostAskStore interface {
	CreateGhostAsk(ctx context.Context, ask ghostask.Ask) (ghostask.Ask, error)
	GetGhostAsk(ctx context.Context, id string) (ghostask.Ask, error)
	// UnlockGhostAsk sets unlocked=true if the ask is still pending and
	// locked. The bool reports whether the row changed.
	UnlockGhostAsk(ctx context.Context, id string) (bool, error)
	// IncrementPersuasion bumps the attempt counter while the ask is still
	// pending and returns the new count (ErrPredicateFailed otherwise).
	IncrementPersuasion(ctx context.Context, id string) (int, error)
	// MarkGhostAskSent transitions pending → sent atomically, stamping
	// sent_at. Returns ErrPredicateFailed when the ask is already resolved.
	MarkGhostAskSent(ctx context.Context, id string, sentAt time.Time) (ghostask.Ask, error)
}

// NotificationStore persists notification rows.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n notification.Notification) (notification.Notification, error)
	ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]notification.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
}

// ChatStore persists chat threads and their seed messages.
type ChatStore interface {
	// CreateChatThread inserts the thread and its seed message together.
	CreateChatThread(ctx context.Context, thread chat.Thread, seed chat.Message) (chat.Thread, error)
}
