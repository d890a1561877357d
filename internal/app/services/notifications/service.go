// Package notifications persists user-facing notifications. Lifecycle
// services treat emission as best effort: a failed write is logged by the
// caller and never rolls back the transition that triggered it.
package notifications

import (
	"context"
	"fmt"

	"github.com/windrunne/6ix-app/internal/app/clock"
	"github.com/windrunne/6ix-app/internal/app/domain/notification"
	"github.com/windrunne/6ix-app/internal/app/storage"
	"github.com/windrunne/6ix-app/pkg/logger"
)

// Service writes and reads notifications.
type Service struct {
	store storage.NotificationStore
	clock clock.Clock
	log   *logger.Logger
}

// New creates a notification service. A nil clk defaults to the system
// clock; a nil log defaults to a named logger.
func New(store storage.NotificationStore, clk clock.Clock, log *logger.Logger) *Service {
	if clk == nil {
		clk = clock.System()
	}
	if log == nil {
		log = logger.NewDefault("notifications")
	}
	return &Service{store: store, clock: clk, log: log}
}

// Emit writes one notification row.
func (s *Service) Emit(ctx context.Context, userID, senderRef, typ, title, body string, payload map[string]interface{}) (notification.Notification, error) {
	n := notification.Notification{
		UserID:    userID,
		SenderRef: senderRef,
		Type:      typ,
		Title:     title,
		Body:      body,
		Payload:   payload,
		CreatedAt: s.clock.Now(),
	}
	created, err := s.store.CreateNotification(ctx, n)
	if err != nil {
		return notification.Notification{}, fmt.Errorf("create notification: %w", err)
	}
	s.log.WithField("user_id", userID).WithField("type", typ).Debug("notification emitted")
	return created, nil
}

// List returns a user's notifications, newest first.
func (s *Service) List(ctx context.Context, userID string, unreadOnly bool) ([]notification.Notification, error) {
	return s.store.ListNotifications(ctx, userID, unreadOnly)
}

// MarkRead flips the read flag on one notification.
func (s *Service) MarkRead(ctx context.Context, id string) error {
	return s.store.MarkNotificationRead(ctx, id)
}
