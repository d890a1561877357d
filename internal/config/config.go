// Package config loads engine settings from an optional YAML file with
// SIX_* environment overrides. Quota and lifecycle misconfiguration fails
// here, at startup, never on the request path.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"

	"github.com/windrunne/6ix-app/internal/app/domain/intro"
	"github.com/windrunne/6ix-app/internal/app/ratelimit"
	"github.com/windrunne/6ix-app/internal/app/services/maintenance"
	"github.com/windrunne/6ix-app/pkg/logger"
)

// Duration is a time.Duration readable from YAML ("30m") and env vars.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Decode implements envdecode.Decoder.
func (d *Duration) Decode(repl string) error {
	parsed, err := time.ParseDuration(repl)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", repl, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr            string   `yaml:"addr" env:"SIX_SERVER_ADDR"`
	ReadTimeout     Duration `yaml:"read_timeout" env:"SIX_SERVER_READ_TIMEOUT"`
	WriteTimeout    Duration `yaml:"write_timeout" env:"SIX_SERVER_WRITE_TIMEOUT"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout" env:"SIX_SERVER_SHUTDOWN_TIMEOUT"`
	ThrottleRPS     float64  `yaml:"throttle_rps" env:"SIX_SERVER_THROTTLE_RPS"`
	ThrottleBurst   int      `yaml:"throttle_burst" env:"SIX_SERVER_THROTTLE_BURST"`
}

// DatabaseConfig holds PostgreSQL settings. An empty URL selects the
// in-memory store.
type DatabaseConfig struct {
	URL          string `yaml:"url" env:"SIX_DATABASE_URL"`
	Migrate      bool   `yaml:"migrate" env:"SIX_DATABASE_MIGRATE"`
	MaxOpenConns int    `yaml:"max_open_conns" env:"SIX_DATABASE_MAX_OPEN_CONNS"`
}

// RedisConfig holds Redis settings for the shared limiter. An empty Addr
// selects the in-process limiter.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"SIX_REDIS_ADDR"`
	Password string `yaml:"password" env:"SIX_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"SIX_REDIS_DB"`
}

// QuotaConfig holds the per-operation sliding-window caps.
type QuotaConfig struct {
	IntroRequestPerHour int `yaml:"intro_request_per_hour" env:"SIX_QUOTA_INTRO_REQUEST_PER_HOUR"`
	IntroRequestPerDay  int `yaml:"intro_request_per_day" env:"SIX_QUOTA_INTRO_REQUEST_PER_DAY"`
	IntroRespondPerHour int `yaml:"intro_respond_per_hour" env:"SIX_QUOTA_INTRO_RESPOND_PER_HOUR"`
	GhostAskPerDay      int `yaml:"ghost_ask_per_day" env:"SIX_QUOTA_GHOST_ASK_PER_DAY"`
	GhostAskSendPerHour int `yaml:"ghost_ask_send_per_hour" env:"SIX_QUOTA_GHOST_ASK_SEND_PER_HOUR"`
}

// LifecycleConfig holds intro and ghost-ask timing rules.
type LifecycleConfig struct {
	PendingTTL          Duration `yaml:"pending_ttl" env:"SIX_LIFECYCLE_PENDING_TTL"`
	CooldownDeclined    Duration `yaml:"cooldown_declined" env:"SIX_LIFECYCLE_COOLDOWN_DECLINED"`
	CooldownExpired     Duration `yaml:"cooldown_expired" env:"SIX_LIFECYCLE_COOLDOWN_EXPIRED"`
	UnlockWindow        Duration `yaml:"unlock_window" env:"SIX_LIFECYCLE_UNLOCK_WINDOW"`
	PersuasionThreshold int      `yaml:"persuasion_threshold" env:"SIX_LIFECYCLE_PERSUASION_THRESHOLD"`
}

// SweepConfig holds cron specs for the maintenance jobs.
type SweepConfig struct {
	IntroExpiry     string `yaml:"intro_expiry" env:"SIX_SWEEP_INTRO_EXPIRY"`
	LimiterEviction string `yaml:"limiter_eviction" env:"SIX_SWEEP_LIMITER_EVICTION"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"SIX_LOG_LEVEL"`
	Format string `yaml:"format" env:"SIX_LOG_FORMAT"`
}

// Config is the full engine configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Quotas    QuotaConfig     `yaml:"quotas"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Sweeps    SweepConfig     `yaml:"sweeps"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     Duration(10 * time.Second),
			WriteTimeout:    Duration(15 * time.Second),
			ShutdownTimeout: Duration(10 * time.Second),
			ThrottleRPS:     20,
			ThrottleBurst:   40,
		},
		Database: DatabaseConfig{
			Migrate:      true,
			MaxOpenConns: 20,
		},
		Quotas: QuotaConfig{
			IntroRequestPerHour: 3,
			IntroRequestPerDay:  5,
			IntroRespondPerHour: 10,
			GhostAskPerDay:      3,
			GhostAskSendPerHour: 20,
		},
		Lifecycle: LifecycleConfig{
			PendingTTL:          Duration(intro.PendingTTL),
			CooldownDeclined:    Duration(7 * 24 * time.Hour),
			CooldownExpired:     Duration(30 * 24 * time.Hour),
			UnlockWindow:        Duration(6 * time.Minute),
			PersuasionThreshold: 10,
		},
		Sweeps: SweepConfig{
			IntroExpiry:     "@every 1m",
			LimiterEviction: "@every 5m",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the YAML file at path (skipped when path is empty or the
// file does not exist), applies environment overrides, and validates.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := envdecode.Decode(&cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return Config{}, fmt.Errorf("apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config: server.addr is required")
	}
	if c.Server.ThrottleRPS <= 0 || c.Server.ThrottleBurst <= 0 {
		return fmt.Errorf("config: server throttle rate and burst must be positive")
	}
	if _, err := c.IntroRequestQuotas(); err != nil {
		return err
	}
	if _, err := c.IntroRespondQuotas(); err != nil {
		return err
	}
	if _, err := c.GhostAskCreateQuotas(); err != nil {
		return err
	}
	if _, err := c.GhostAskSendQuotas(); err != nil {
		return err
	}
	if c.Lifecycle.PendingTTL <= 0 {
		return fmt.Errorf("config: lifecycle.pending_ttl must be positive")
	}
	if c.Lifecycle.CooldownDeclined <= 0 || c.Lifecycle.CooldownExpired <= 0 {
		return fmt.Errorf("config: lifecycle cooldowns must be positive")
	}
	if c.Lifecycle.UnlockWindow <= 0 {
		return fmt.Errorf("config: lifecycle.unlock_window must be positive")
	}
	if c.Lifecycle.PersuasionThreshold <= 0 {
		return fmt.Errorf("config: lifecycle.persuasion_threshold must be positive")
	}
	if c.Sweeps.IntroExpiry == "" || c.Sweeps.LimiterEviction == "" {
		return fmt.Errorf("config: sweep schedules are required")
	}
	return nil
}

// IntroRequestQuotas builds the hourly and daily request caps.
func (c Config) IntroRequestQuotas() ([]ratelimit.Quota, error) {
	hourly, err := ratelimit.NewQuota(ratelimit.ScopeIntroRequest, c.Quotas.IntroRequestPerHour, time.Hour)
	if err != nil {
		return nil, err
	}
	daily, err := ratelimit.NewQuota(ratelimit.ScopeIntroRequest, c.Quotas.IntroRequestPerDay, 24*time.Hour)
	if err != nil {
		return nil, err
	}
	return []ratelimit.Quota{hourly, daily}, nil
}

// IntroRespondQuotas builds the hourly respond cap.
func (c Config) IntroRespondQuotas() ([]ratelimit.Quota, error) {
	hourly, err := ratelimit.NewQuota(ratelimit.ScopeIntroRespond, c.Quotas.IntroRespondPerHour, time.Hour)
	if err != nil {
		return nil, err
	}
	return []ratelimit.Quota{hourly}, nil
}

// GhostAskCreateQuotas builds the daily creation cap.
func (c Config) GhostAskCreateQuotas() ([]ratelimit.Quota, error) {
	daily, err := ratelimit.NewQuota(ratelimit.ScopeGhostAskCreate, c.Quotas.GhostAskPerDay, 24*time.Hour)
	if err != nil {
		return nil, err
	}
	return []ratelimit.Quota{daily}, nil
}

// GhostAskSendQuotas builds the hourly send-attempt cap.
func (c Config) GhostAskSendQuotas() ([]ratelimit.Quota, error) {
	hourly, err := ratelimit.NewQuota(ratelimit.ScopeGhostAskSend, c.Quotas.GhostAskSendPerHour, time.Hour)
	if err != nil {
		return nil, err
	}
	return []ratelimit.Quota{hourly}, nil
}

// CooldownPolicy builds the intro cooldown policy.
func (c Config) CooldownPolicy() intro.CooldownPolicy {
	return intro.CooldownPolicy{
		AfterDeclined: c.Lifecycle.CooldownDeclined.Std(),
		AfterExpired:  c.Lifecycle.CooldownExpired.Std(),
	}
}

// Schedules builds the maintenance cron specs.
func (c Config) Schedules() maintenance.Schedules {
	return maintenance.Schedules{
		IntroExpiry:     c.Sweeps.IntroExpiry,
		LimiterEviction: c.Sweeps.LimiterEviction,
	}
}

// LoggerConfig maps logging settings onto the logger package.
func (c Config) LoggerConfig() logger.LoggingConfig {
	return logger.LoggingConfig{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
	}
}
