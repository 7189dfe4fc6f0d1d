package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	minimal := []byte("jwt:\n  secret: test\n")
	if err := os.WriteFile(path, minimal, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if got := cfg.Webhooks.BaseDelay(); got != 2*time.Second {
		t.Errorf("webhook base delay = %v, want 2s", got)
	}
	if got := cfg.Webhooks.MaxDelay(); got != 5*time.Minute {
		t.Errorf("webhook max delay = %v, want 5m", got)
	}
	if cfg.Webhooks.MaxAttempts != 5 {
		t.Errorf("max attempts = %d, want 5", cfg.Webhooks.MaxAttempts)
	}
	if cfg.Webhooks.BatchSize != 100 {
		t.Errorf("webhook batch size = %d, want 100", cfg.Webhooks.BatchSize)
	}

	// The escalation loop tunes independently of the delivery loop.
	if cfg.Escalations.BatchSize != 50 {
		t.Errorf("escalation batch size = %d, want 50", cfg.Escalations.BatchSize)
	}
	if cfg.Escalations.MaxAge != 168*time.Hour {
		t.Errorf("escalation max age = %v, want 168h", cfg.Escalations.MaxAge)
	}
	if !cfg.Escalations.Enabled {
		t.Error("escalations disabled by default")
	}
	if cfg.Audit.RetentionDays != 365 {
		t.Errorf("audit retention = %d, want 365", cfg.Audit.RetentionDays)
	}
}
