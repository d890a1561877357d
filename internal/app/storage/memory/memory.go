// Package memory provides an in-memory implementation of the storage
// interfaces. It is safe for concurrent use and is primarily intended for
// tests and local development; every conditional update runs under the store
// mutex so check-and-set semantics match the SQL implementation.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/windrunne/6ix-app/internal/app/domain/chat"
	"github.com/windrunne/6ix-app/internal/app/domain/ghostask"
	"github.com/windrunne/6ix-app/internal/app/domain/intro"
	"github.com/windrunne/6ix-app/internal/app/domain/notification"
	"github.com/windrunne/6ix-app/internal/app/storage"
)

// Store is an in-memory entity store.
type Store struct {
	mu            sync.RWMutex
	intros        map[string]intro.Request
	asks          map[string]ghostask.Ask
	notifications map[string]notification.Notification
	threads       map[string]chat.Thread
	messages      map[string][]chat.Message
}

var _ storage.IntroStore = (*Store)(nil)
var _ storage.GhostAskStore = (*Store)(nil)
var _ storage.NotificationStore = (*Store)(nil)
var _ storage.ChatStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		intros:        make(map[string]intro.Request),
		asks:          make(map[string]ghostask.Ask),
		notifications: make(map[string]notification.Notification),
		threads:       make(map[string]chat.Thread),
		messages:      make(map[string][]chat.Message),
	}
}

// IntroStore implementation -----------------------------------------------

func (s *Store) CreateIntroRequest(_ context.Context, req intro.Request) (intro.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.intros {
		if existing.RequesterID == req.RequesterID &&
			existing.TargetID == req.TargetID &&
			existing.Status == intro.StatusPending {
			return intro.Request{}, storage.ErrDuplicate
		}
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.MutualIDs = append([]string(nil), req.MutualIDs...)
	s.intros[req.ID] = req
	return cloneIntro(req), nil
}

func (s *Store) GetIntroRequest(_ context.Context, id string) (intro.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.intros[id]
	if !ok {
		return intro.Request{}, storage.ErrNotFound
	}
	return cloneIntro(req), nil
}

func (s *Store) LatestResolvedIntro(_ context.Context, requesterID, targetID string) (intro.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		latest intro.Request
		found  bool
	)
	for _, req := range s.intros {
		if req.RequesterID != requesterID || req.TargetID != targetID {
			continue
		}
		if req.Status != intro.StatusDeclined && req.Status != intro.StatusExpired {
			continue
		}
		if !found || req.CreatedAt.After(latest.CreatedAt) {
			latest = req
			found = true
		}
	}
	if !found {
		return intro.Request{}, storage.ErrNotFound
	}
	return cloneIntro(latest), nil
}

func (s *Store) UpdateIntroStatusIf(_ context.Context, id string, from, to intro.Status, respondedAt *time.Time) (intro.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.intros[id]
	if !ok {
		return intro.Request{}, storage.ErrNotFound
	}
	if req.Status != from {
		return intro.Request{}, storage.ErrPredicateFailed
	}
	req.Status = to
	if respondedAt != nil {
		ts := respondedAt.UTC()
		req.RespondedAt = &ts
	}
	s.intros[id] = req
	return cloneIntro(req), nil
}

func (s *Store) ExpireIntroRequests(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, req := range s.intros {
		if req.Status == intro.StatusPending && now.After(req.ExpiresAt) {
			req.Status = intro.StatusExpired
			s.intros[id] = req
			count++
		}
	}
	return count, nil
}

func (s *Store) ListIntroRequestsByRequester(_ context.Context, requesterID string, status intro.Status) ([]intro.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listIntrosLocked(func(req intro.Request) bool {
		return req.RequesterID == requesterID && (status == "" || req.Status == status)
	}), nil
}

func (s *Store) ListIntroRequestsByTarget(_ context.Context, targetID string, status intro.Status) ([]intro.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listIntrosLocked(func(req intro.Request) bool {
		return req.TargetID == targetID && (status == "" || req.Status == status)
	}), nil
}

func (s *Store) listIntrosLocked(keep func(intro.Request) bool) []intro.Request {
	result := make([]intro.Request, 0)
	for _, req := range s.intros {
		if keep(req) {
			result = append(result, cloneIntro(req))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}

// GhostAskStore implementation ----------------------------------------------

func (s *Store) CreateGhostAsk(_ context.Context, ask ghostask.Ask) (ghostask.Ask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ask.ID == "" {
		ask.ID = uuid.NewString()
	}
	s.asks[ask.ID] = ask
	return cloneAsk(ask), nil
}

func (s *Store) GetGhostAsk(_ context.Context, id string) (ghostask.Ask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ask, ok := s.asks[id]
	if !ok {
		return ghostask.Ask{}, storage.ErrNotFound
	}
	return cloneAsk(ask), nil
}

func (s *Store) UnlockGhostAsk(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ask, ok := s.asks[id]
	if !ok {
		return false, storage.ErrNotFound
	}
	if ask.Status != ghostask.StatusPending || ask.Unlocked {
		return false, nil
	}
	ask.Unlocked = true
	s.asks[id] = ask
	return true, nil
}

func (s *Store) IncrementPersuasion(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ask, ok := s.asks[id]
	if !ok {
		return 0, storage.ErrNotFound
	}
	if ask.Status != ghostask.StatusPending {
		return 0, storage.ErrPredicateFailed
	}
	ask.PersuasionAttempts++
	s.asks[id] = ask
	return ask.PersuasionAttempts, nil
}

func (s *Store) MarkGhostAskSent(_ context.Context, id string, sentAt time.Time) (ghostask.Ask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ask, ok := s.asks[id]
	if !ok {
		return ghostask.Ask{}, storage.ErrNotFound
	}
	if ask.Status != ghostask.StatusPending {
		return ghostask.Ask{}, storage.ErrPredicateFailed
	}
	ts := sentAt.UTC()
	ask.Status = ghostask.StatusSent
	ask.SentAt = &ts
	s.asks[id] = ask
	return cloneAsk(ask), nil
}

// NotificationStore implementation -------------------------------------------

func (s *Store) CreateNotification(_ context.Context, n notification.Notification) (notification.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n.Payload = copyPayload(n.Payload)
	s.notifications[n.ID] = n
	return cloneNotification(n), nil
}

func (s *Store) ListNotifications(_ context.Context, userID string, unreadOnly bool) ([]notification.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]notification.Notification, 0)
	for _, n := range s.notifications {
		if n.UserID != userID {
			continue
		}
		if unreadOnly && n.Read {
			continue
		}
		result = append(result, cloneNotification(n))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) MarkNotificationRead(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok {
		return storage.ErrNotFound
	}
	n.Read = true
	s.notifications[id] = n
	return nil
}

// ChatStore implementation ----------------------------------------------------

func (s *Store) CreateChatThread(_ context.Context, thread chat.Thread, seed chat.Message) (chat.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if thread.ID == "" {
		thread.ID = uuid.NewString()
	}
	if seed.ID == "" {
		seed.ID = uuid.NewString()
	}
	seed.ThreadID = thread.ID
	s.threads[thread.ID] = thread
	s.messages[thread.ID] = append(s.messages[thread.ID], seed)
	return thread, nil
}

// Helpers ----------------------------------------------------------------------

func cloneIntro(req intro.Request) intro.Request {
	req.MutualIDs = append([]string(nil), req.MutualIDs...)
	if req.RespondedAt != nil {
		ts := *req.RespondedAt
		req.RespondedAt = &ts
	}
	return req
}

func cloneAsk(a ghostask.Ask) ghostask.Ask {
	if a.SentAt != nil {
		ts := *a.SentAt
		a.SentAt = &ts
	}
	return a
}

func cloneNotification(n notification.Notification) notification.Notification {
	n.Payload = copyPayload(n.Payload)
	return n
}

func copyPayload(src map[string]interface{}) map[string]interface{} {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]interface{}, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
