package config

import "testing"

func TestLoadServerDefaults(t *testing.T) {
	t.Setenv("SESSION_SECRET", "0123456789abcdef0123456789abcdef")

	cfg, err := LoadServer()
	if err != nil {
		t.Fatalf("LoadServer() error = %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.KVBackend != "memory" {
		t.Fatalf("KVBackend = %q, want memory", cfg.KVBackend)
	}
}

func TestLoadServerRequiresSecret(t *testing.T) {
	t.Setenv("SESSION_SECRET", "")

	_, err := LoadServer()
	if err == nil {
		t.Fatal("LoadServer() expected error, got nil")
	}
}

func TestLoadSessionDefaults(t *testing.T) {
	cfg, err := LoadSession()
	if err != nil {
		t.Fatalf("LoadSession() error = %v", err)
	}
	if cfg.TokenTTL.Hours() != 24 {
		t.Fatalf("TokenTTL = %v, want 24h", cfg.TokenTTL)
	}
	if cfg.PingInterval.Seconds() != 10 {
		t.Fatalf("PingInterval = %v, want 10s", cfg.PingInterval)
	}
	if cfg.AbandonAfter.Minutes() != 5 {
		t.Fatalf("AbandonAfter = %v, want 5m", cfg.AbandonAfter)
	}
}

func TestLoadSessionParseTypes(t *testing.T) {
	t.Setenv("HEARTBEAT_PONG_DEADLINE", "20s")
	t.Setenv("ABANDON_AFTER", "3m")

	cfg, err := LoadSession()
	if err != nil {
		t.Fatalf("LoadSession() error = %v", err)
	}
	if cfg.PongDeadline.Seconds() != 20 {
		t.Fatalf("PongDeadline = %v, want 20s", cfg.PongDeadline)
	}
	if cfg.AbandonAfter.Minutes() != 3 {
		t.Fatalf("AbandonAfter = %v, want 3m", cfg.AbandonAfter)
	}
}
