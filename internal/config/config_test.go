package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("API_ADDR", "")
	t.Setenv("FEEDBACK_INVITE_TTL_HOURS", "")
	t.Setenv("MINIO_USE_SSL", "")

	cfg := Load()
	if cfg.Addr != ":8787" {
		t.Fatalf("Addr = %q, want :8787", cfg.Addr)
	}
	if cfg.InviteTTL != 168*time.Hour {
		t.Fatalf("InviteTTL = %v, want 168h", cfg.InviteTTL)
	}
	if cfg.MinioUseSSL {
		t.Fatal("expected MinioUseSSL to default to false")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("API_ADDR", ":9000")
	t.Setenv("FEEDBACK_ACCESS_TTL_SECONDS", "60")
	t.Setenv("FEEDBACK_INVITE_TTL_HOURS", "not-a-number")
	t.Setenv("MINIO_USE_SSL", "true")

	cfg := Load()
	if cfg.Addr != ":9000" {
		t.Fatalf("Addr = %q, want :9000", cfg.Addr)
	}
	if cfg.AccessTTL != time.Minute {
		t.Fatalf("AccessTTL = %v, want 1m", cfg.AccessTTL)
	}
	if cfg.InviteTTL != 168*time.Hour {
		t.Fatalf("invalid integer should fall back, got %v", cfg.InviteTTL)
	}
	if !cfg.MinioUseSSL {
		t.Fatal("expected MinioUseSSL=true")
	}
}
