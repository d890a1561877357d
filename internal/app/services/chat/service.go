// Package chat opens chat threads between matched users. Its only caller
// today is intro acceptance, which seeds the thread with a system message.
package chat

import (
	"context"
	"fmt"

	"github.com/windrunne/6ix-app/internal/app/clock"
	"github.com/windrunne/6ix-app/internal/app/domain/chat"
	"github.com/windrunne/6ix-app/internal/app/domain/notification"
	"github.com/windrunne/6ix-app/internal/app/storage"
	"github.com/windrunne/6ix-app/pkg/logger"
)

// Service creates chat threads.
type Service struct {
	store storage.ChatStore
	clock clock.Clock
	log   *logger.Logger
}

// New creates a chat service. A nil clk defaults to the system clock; a
// nil log defaults to a named logger.
func New(store storage.ChatStore, clk clock.Clock, log *logger.Logger) *Service {
	if clk == nil {
		clk = clock.System()
	}
	if log == nil {
		log = logger.NewDefault("chat")
	}
	return &Service{store: store, clock: clk, log: log}
}

// CreateThread opens a thread between two users with a system-authored
// seed message.
func (s *Service) CreateThread(ctx context.Context, userA, userB, seedMessage string) (chat.Thread, error) {
	now := s.clock.Now()
	thread := chat.Thread{
		UserA:     userA,
		UserB:     userB,
		CreatedAt: now,
	}
	seed := chat.Message{
		SenderRef: notification.SenderSystem,
		Body:      seedMessage,
		CreatedAt: now,
	}
	created, err := s.store.CreateChatThread(ctx, thread, seed)
	if err != nil {
		return chat.Thread{}, fmt.Errorf("create chat thread: %w", err)
	}
	s.log.WithField("thread_id", created.ID).Info("chat thread created")
	return created, nil
}
