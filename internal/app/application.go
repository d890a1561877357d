// Package app wires the interaction services together and manages their
// lifecycle.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/windrunne/6ix-app/internal/app/clock"
	"github.com/windrunne/6ix-app/internal/app/domain/intro"
	"github.com/windrunne/6ix-app/internal/app/ratelimit"
	chatsvc "github.com/windrunne/6ix-app/internal/app/services/chat"
	ghostasksvc "github.com/windrunne/6ix-app/internal/app/services/ghostask"
	introsvc "github.com/windrunne/6ix-app/internal/app/services/intro"
	"github.com/windrunne/6ix-app/internal/app/services/maintenance"
	notificationsvc "github.com/windrunne/6ix-app/internal/app/services/notifications"
	"github.com/windrunne/6ix-app/internal/app/storage"
	"github.com/windrunne/6ix-app/internal/app/storage/memory"
	"github.com/windrunne/6ix-app/internal/app/system"
	"github.com/windrunne/6ix-app/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Intros        storage.IntroStore
	GhostAsks     storage.GhostAskStore
	Notifications storage.NotificationStore
	Chats         storage.ChatStore
}

// Options tunes the engine. Zero values fall back to the defaults baked
// into the services.
type Options struct {
	Limiter ratelimit.Limiter
	Clock   clock.Clock

	IntroRequestQuotas   []ratelimit.Quota
	IntroRespondQuotas   []ratelimit.Quota
	GhostAskCreateQuotas []ratelimit.Quota
	GhostAskSendQuotas   []ratelimit.Quota

	Cooldown            *intro.CooldownPolicy
	PendingTTL          time.Duration
	UnlockWindow        time.Duration
	PersuasionThreshold int

	Schedules *maintenance.Schedules
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Intros        *introsvc.Service
	GhostAsks     *ghostasksvc.Service
	Notifications *notificationsvc.Service
	Chats         *chatsvc.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Intros == nil {
		stores.Intros = mem
	}
	if stores.GhostAsks == nil {
		stores.GhostAsks = mem
	}
	if stores.Notifications == nil {
		stores.Notifications = mem
	}
	if stores.Chats == nil {
		stores.Chats = mem
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.System()
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = ratelimit.NewMemoryLimiter(clk)
	}

	notificationService := notificationsvc.New(stores.Notifications, clk, log.WithField("component", "notifications"))
	chatService := chatsvc.New(stores.Chats, clk, log.WithField("component", "chat"))

	introService := introsvc.New(stores.Intros, limiter, notificationService, chatService, clk, log.WithField("component", "intro"))
	if opts.IntroRequestQuotas != nil || opts.IntroRespondQuotas != nil {
		request := opts.IntroRequestQuotas
		if request == nil {
			request = ratelimit.DefaultIntroRequestQuotas()
		}
		respond := opts.IntroRespondQuotas
		if respond == nil {
			respond = ratelimit.DefaultIntroRespondQuotas()
		}
		introService.WithQuotas(request, respond)
	}
	if opts.Cooldown != nil {
		introService.WithCooldownPolicy(*opts.Cooldown)
	}
	if opts.PendingTTL > 0 {
		introService.WithPendingTTL(opts.PendingTTL)
	}

	ghostAskService := ghostasksvc.New(stores.GhostAsks, limiter, notificationService, clk, log.WithField("component", "ghostask"))
	if opts.GhostAskCreateQuotas != nil || opts.GhostAskSendQuotas != nil {
		create := opts.GhostAskCreateQuotas
		if create == nil {
			create = ratelimit.DefaultGhostAskCreateQuotas()
		}
		send := opts.GhostAskSendQuotas
		if send == nil {
			send = ratelimit.DefaultGhostAskSendQuotas()
		}
		ghostAskService.WithQuotas(create, send)
	}
	if opts.UnlockWindow > 0 {
		ghostAskService.WithUnlockWindow(opts.UnlockWindow)
	}
	if opts.PersuasionThreshold > 0 {
		ghostAskService.WithThreshold(opts.PersuasionThreshold)
	}

	manager := system.NewManager()

	schedules := maintenance.DefaultSchedules()
	if opts.Schedules != nil {
		schedules = *opts.Schedules
	}
	var evictor maintenance.WindowEvictor
	if ml, ok := limiter.(*ratelimit.MemoryLimiter); ok {
		evictor = ml
	}
	sweeper := maintenance.NewSweeper(introService, evictor, schedules, clk, log.WithField("component", "maintenance"))
	if err := manager.Register(sweeper); err != nil {
		return nil, fmt.Errorf("register %s: %w", sweeper.Name(), err)
	}

	return &Application{
		manager:       manager,
		log:           log,
		Intros:        introService,
		GhostAsks:     ghostAskService,
		Notifications: notificationService,
		Chats:         chatService,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before
// Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start starts all background services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
