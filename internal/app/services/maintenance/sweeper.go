// Package maintenance runs the background sweeps: expiring stale pending
// introductions and evicting idle rate-limit windows. Both jobs are
// idempotent and safe to overlap foreground operations.
package maintenance

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/windrunne/6ix-app/internal/app/clock"
	"github.com/windrunne/6ix-app/internal/app/metrics"
	"github.com/windrunne/6ix-app/internal/app/system"
	"github.com/windrunne/6ix-app/pkg/logger"
)

var _ system.Service = (*Sweeper)(nil)

// IntroSweeper expires pending introductions past their deadline.
type IntroSweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// WindowEvictor drops idle rate-limit windows.
type WindowEvictor interface {
	EvictStale(now time.Time) int
}

// Schedules are cron specs for the sweeps.
type Schedules struct {
	IntroExpiry     string
	LimiterEviction string
}

// DefaultSchedules sweeps intros every minute and limiter windows every
// five.
func DefaultSchedules() Schedules {
	return Schedules{
		IntroExpiry:     "@every 1m",
		LimiterEviction: "@every 5m",
	}
}

// Sweeper is a lifecycle-managed cron scheduler for the maintenance jobs.
type Sweeper struct {
	intros    IntroSweeper
	evictor   WindowEvictor
	schedules Schedules
	clock     clock.Clock
	log       *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
}

// NewSweeper constructs a sweeper. Either collaborator may be nil; its job
// is simply not scheduled.
func NewSweeper(intros IntroSweeper, evictor WindowEvictor, schedules Schedules, clk clock.Clock, log *logger.Logger) *Sweeper {
	if clk == nil {
		clk = clock.System()
	}
	if log == nil {
		log = logger.NewDefault("maintenance")
	}
	return &Sweeper{
		intros:    intros,
		evictor:   evictor,
		schedules: schedules,
		clock:     clk,
		log:       log,
	}
}

func (s *Sweeper) Name() string { return "maintenance-sweeper" }

func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	scheduler := cron.New()

	if s.intros != nil {
		if _, err := scheduler.AddFunc(s.schedules.IntroExpiry, func() { s.sweepIntros(runCtx) }); err != nil {
			cancel()
			return err
		}
	}
	if s.evictor != nil {
		if _, err := scheduler.AddFunc(s.schedules.LimiterEviction, func() { s.evictWindows() }); err != nil {
			cancel()
			return err
		}
	}

	scheduler.Start()
	s.cron = scheduler
	s.cancel = cancel
	s.running = true
	s.log.Info("maintenance sweeper started")
	return nil
}

func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	scheduler := s.cron
	cancel := s.cancel
	s.cron = nil
	s.cancel = nil
	s.running = false
	s.mu.Unlock()

	cancel()
	done := scheduler.Stop().Done()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) sweepIntros(ctx context.Context) {
	count, err := s.intros.SweepExpired(ctx)
	if err != nil {
		s.log.WithError(err).Warn("intro expiry sweep failed")
		return
	}
	if count > 0 {
		s.log.WithField("count", count).Info("intro expiry sweep completed")
	}
}

func (s *Sweeper) evictWindows() {
	if evicted := s.evictor.EvictStale(s.clock.Now()); evicted > 0 {
		metrics.RecordSweep("limiter_eviction", evicted)
		s.log.WithField("count", evicted).Debug("evicted idle rate-limit windows")
	}
}
