package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SESSION_STORE_DRIVER", "")
	t.Setenv("ENGINE_INACTIVITY_TIMEOUT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Engine.InactivityTimeout != 30*time.Minute {
		t.Fatalf("unexpected inactivity timeout %s", cfg.Engine.InactivityTimeout)
	}
	if cfg.Engine.ReapPageSize != 100 {
		t.Fatalf("unexpected page size %d", cfg.Engine.ReapPageSize)
	}
	if cfg.Store.Driver != StoreDriverPostgres {
		t.Fatalf("unexpected store driver %q", cfg.Store.Driver)
	}
	if cfg.Messaging.OutboxInterval != 5*time.Second || cfg.Messaging.OutboxBatch != 100 {
		t.Fatalf("unexpected outbox settings %+v", cfg.Messaging)
	}
}

func TestLoadEngineOverrides(t *testing.T) {
	t.Setenv("ENGINE_INACTIVITY_TIMEOUT", "45m")
	t.Setenv("ENGINE_REAP_INTERVAL", "90s")
	t.Setenv("ENGINE_REAP_PAGE_SIZE", "25")
	t.Setenv("SESSION_STORE_DRIVER", "SQLite")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Engine.InactivityTimeout != 45*time.Minute {
		t.Fatalf("unexpected inactivity timeout %s", cfg.Engine.InactivityTimeout)
	}
	if cfg.Engine.ReapInterval != 90*time.Second {
		t.Fatalf("unexpected reap interval %s", cfg.Engine.ReapInterval)
	}
	if cfg.Engine.ReapPageSize != 25 {
		t.Fatalf("unexpected page size %d", cfg.Engine.ReapPageSize)
	}
	if cfg.Store.Driver != StoreDriverSQLite {
		t.Fatalf("unexpected store driver %q", cfg.Store.Driver)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("ENGINE_REAP_INTERVAL", "often")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for invalid duration")
	}
}

func TestLoadRejectsNonPositiveOutboxInterval(t *testing.T) {
	t.Setenv("AMQP_OUTBOX_INTERVAL", "0s")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for zero outbox interval")
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("SESSION_STORE_DRIVER", "cassandra")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestAuthEnabled(t *testing.T) {
	if (AuthConfig{}).Enabled() {
		t.Fatalf("empty secret should disable auth")
	}
	if !(AuthConfig{JWTSecret: "s"}).Enabled() {
		t.Fatalf("secret should enable auth")
	}
}
