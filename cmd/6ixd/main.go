// Package main runs the interaction lifecycle and quota engine: the warm
// introduction lifecycle, the ghost-ask engine, and the sliding-window
// quota layer behind them, exposed over REST.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	app "github.com/windrunne/6ix-app/internal/app"
	"github.com/windrunne/6ix-app/internal/app/httpapi"
	"github.com/windrunne/6ix-app/internal/app/ratelimit"
	"github.com/windrunne/6ix-app/internal/app/storage/postgres"
	"github.com/windrunne/6ix-app/internal/config"
	"github.com/windrunne/6ix-app/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to YAML configuration")
	flag.Parse()

	// A missing .env is fine; explicit environment always wins.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.NewDefault("6ixd").WithError(err).Error("load configuration")
		os.Exit(1)
	}

	log := logger.New(cfg.LoggerConfig()).WithField("component", "6ixd")

	stores, cleanup, err := buildStores(cfg, log)
	if err != nil {
		log.WithError(err).Error("initialise storage")
		os.Exit(1)
	}
	defer cleanup()

	limiter, err := buildLimiter(cfg, log)
	if err != nil {
		log.WithError(err).Error("initialise rate limiter")
		os.Exit(1)
	}

	opts, err := buildOptions(cfg, limiter)
	if err != nil {
		log.WithError(err).Error("build engine options")
		os.Exit(1)
	}

	application, err := app.New(stores, opts, log)
	if err != nil {
		log.WithError(err).Error("build application")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.WithError(err).Error("start services")
		os.Exit(1)
	}

	throttle := httpapi.NewIPThrottle(cfg.Server.ThrottleRPS, cfg.Server.ThrottleBurst, log.WithField("component", "ip-throttle"))
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      throttle.Handler(httpapi.NewHandler(application)),
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("http server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	case err := <-errCh:
		log.WithError(err).Error("http server failed")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("service shutdown")
	}
	log.Info("stopped")
}

// buildStores selects PostgreSQL when a database URL is configured,
// falling back to the in-memory store otherwise.
func buildStores(cfg config.Config, log *logger.Logger) (app.Stores, func(), error) {
	if cfg.Database.URL == "" {
		log.Warn("no database url configured; using in-memory storage")
		return app.Stores{}, func() {}, nil
	}

	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		return app.Stores{}, nil, err
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)

	if cfg.Database.Migrate {
		if err := postgres.Migrate(db); err != nil {
			db.Close()
			return app.Stores{}, nil, err
		}
		log.Info("database migrations applied")
	}

	store := postgres.New(db)
	stores := app.Stores{
		Intros:        store,
		GhostAsks:     store,
		Notifications: store,
		Chats:         store,
	}
	return stores, func() { db.Close() }, nil
}

// buildLimiter selects the Redis-backed limiter when an address is
// configured so quotas hold across processes.
func buildLimiter(cfg config.Config, log *logger.Logger) (ratelimit.Limiter, error) {
	if cfg.Redis.Addr == "" {
		return ratelimit.NewMemoryLimiter(nil), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, err
	}

	log.WithField("addr", cfg.Redis.Addr).Info("using redis-backed rate limiter")
	return ratelimit.NewRedisLimiter(client, nil), nil
}

func buildOptions(cfg config.Config, limiter ratelimit.Limiter) (app.Options, error) {
	introRequest, err := cfg.IntroRequestQuotas()
	if err != nil {
		return app.Options{}, err
	}
	introRespond, err := cfg.IntroRespondQuotas()
	if err != nil {
		return app.Options{}, err
	}
	ghostAskCreate, err := cfg.GhostAskCreateQuotas()
	if err != nil {
		return app.Options{}, err
	}
	ghostAskSend, err := cfg.GhostAskSendQuotas()
	if err != nil {
		return app.Options{}, err
	}

	cooldown := cfg.CooldownPolicy()
	schedules := cfg.Schedules()
	return app.Options{
		Limiter:              limiter,
		IntroRequestQuotas:   introRequest,
		IntroRespondQuotas:   introRespond,
		GhostAskCreateQuotas: ghostAskCreate,
		GhostAskSendQuotas:   ghostAskSend,
		Cooldown:             &cooldown,
		PendingTTL:           cfg.Lifecycle.PendingTTL.Std(),
		UnlockWindow:         cfg.Lifecycle.UnlockWindow.Std(),
		PersuasionThreshold:  cfg.Lifecycle.PersuasionThreshold,
		Schedules:            &schedules,
	}, nil
}
