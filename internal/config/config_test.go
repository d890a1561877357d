package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	quotas, err := cfg.IntroRequestQuotas()
	if err != nil {
		t.Fatalf("intro request quotas: %v", err)
	}
	if len(quotas) != 2 || quotas[0].Limit != 3 || quotas[1].Limit != 5 {
		t.Fatalf("quotas = %+v", quotas)
	}
}

func TestLoadYAMLOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  addr: ":9090"
quotas:
  intro_request_per_hour: 7
lifecycle:
  unlock_window: 10m
  persuasion_threshold: 4
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Quotas.IntroRequestPerHour != 7 {
		t.Fatalf("intro request per hour = %d", cfg.Quotas.IntroRequestPerHour)
	}
	if cfg.Lifecycle.UnlockWindow.Std() != 10*time.Minute {
		t.Fatalf("unlock window = %s", cfg.Lifecycle.UnlockWindow.Std())
	}
	if cfg.Lifecycle.PersuasionThreshold != 4 {
		t.Fatalf("threshold = %d", cfg.Lifecycle.PersuasionThreshold)
	}
	// Untouched sections keep their defaults.
	if cfg.Quotas.GhostAskSendPerHour != 20 {
		t.Fatalf("ghost ask send per hour = %d", cfg.Quotas.GhostAskSendPerHour)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SIX_SERVER_ADDR", ":7070")
	t.Setenv("SIX_QUOTA_GHOST_ASK_PER_DAY", "9")
	t.Setenv("SIX_LIFECYCLE_COOLDOWN_DECLINED", "48h")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":7070" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Quotas.GhostAskPerDay != 9 {
		t.Fatalf("ghost ask per day = %d", cfg.Quotas.GhostAskPerDay)
	}
	if cfg.CooldownPolicy().AfterDeclined != 48*time.Hour {
		t.Fatalf("cooldown declined = %s", cfg.CooldownPolicy().AfterDeclined)
	}
}

func TestLoadRejectsInvalidQuota(t *testing.T) {
	t.Setenv("SIX_QUOTA_INTRO_RESPOND_PER_HOUR", "0")

	if _, err := Load(""); err == nil {
		t.Fatal("zero quota limit should fail validation")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
}
