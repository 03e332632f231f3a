package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"HOLD_TTL", "SEATS_PER_SHOW", "LEDGER_DRIVER", "REDIS_ADDR", "EXPIRY_WATCHER"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.HoldTTL != 30*time.Second {
		t.Errorf("expected 30s hold ttl, got %s", cfg.HoldTTL)
	}
	if cfg.SeatsPerShow != 30 {
		t.Errorf("expected 30 seats, got %d", cfg.SeatsPerShow)
	}
	if cfg.LedgerDriver != LedgerCRDB {
		t.Errorf("expected crdb ledger, got %s", cfg.LedgerDriver)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("expected default redis addr, got %s", cfg.RedisAddr)
	}
	if !cfg.RunExpiryWatch {
		t.Error("expected expiry watcher enabled by default")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("HOLD_TTL", "2m")
	t.Setenv("SEATS_PER_SHOW", "12")
	t.Setenv("LEDGER_DRIVER", "MySQL")
	t.Setenv("EXPIRY_WATCHER", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.HoldTTL != 2*time.Minute || cfg.SeatsPerShow != 12 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.LedgerDriver != LedgerMySQL {
		t.Errorf("expected mysql ledger, got %s", cfg.LedgerDriver)
	}
	if cfg.RunExpiryWatch {
		t.Error("expected expiry watcher disabled")
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string][2]string{
		"bad duration": {"HOLD_TTL", "soon"},
		"short ttl":    {"HOLD_TTL", "10ms"},
		"zero seats":   {"SEATS_PER_SHOW", "0"},
		"bad driver":   {"LEDGER_DRIVER", "sqlite"},
		"bad bool":     {"EXPIRY_WATCHER", "maybe"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", kv[0], kv[1])
			}
		})
	}
}
