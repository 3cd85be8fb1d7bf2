package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.AppPort != 8080 {
		t.Fatalf("expected default port 8080 got %d", cfg.AppPort)
	}
	if cfg.Playback.MaxActiveSessions != 1 {
		t.Fatalf("expected one active session by default got %d", cfg.Playback.MaxActiveSessions)
	}
	if cfg.Playback.SessionScope != SessionScopeUser {
		t.Fatalf("expected user scope by default got %q", cfg.Playback.SessionScope)
	}
	if cfg.Playback.FailedAttemptThreshold != 10 || cfg.Playback.FailedAttemptWindow != time.Hour {
		t.Fatalf("unexpected throttle defaults: %+v", cfg.Playback)
	}
	if cfg.Playback.AuditReadPolicy != AuditReadFailClosed {
		t.Fatalf("expected fail closed by default got %q", cfg.Playback.AuditReadPolicy)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STREAMGATE_PORT", "9090")
	t.Setenv("STREAMGATE_SESSION_SCOPE", "MODULE")
	t.Setenv("STREAMGATE_MAX_ACTIVE_SESSIONS", "3")
	t.Setenv("STREAMGATE_SESSION_IDLE_TIMEOUT", "45s")
	t.Setenv("STREAMGATE_AUDIT_READ_POLICY", "fail_open")
	t.Setenv("STREAMGATE_S3_ENDPOINT", "http://localhost:9000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.AppPort != 9090 {
		t.Fatalf("expected port override got %d", cfg.AppPort)
	}
	if cfg.Playback.SessionScope != SessionScopeModule {
		t.Fatalf("expected module scope got %q", cfg.Playback.SessionScope)
	}
	if cfg.Playback.MaxActiveSessions != 3 {
		t.Fatalf("expected 3 sessions got %d", cfg.Playback.MaxActiveSessions)
	}
	if cfg.Playback.IdleTimeout != 45*time.Second {
		t.Fatalf("expected 45s idle timeout got %v", cfg.Playback.IdleTimeout)
	}
	if cfg.Playback.AuditReadPolicy != AuditReadFailOpen {
		t.Fatalf("expected fail open got %q", cfg.Playback.AuditReadPolicy)
	}
	if cfg.ObjectStore.Endpoint != "http://localhost:9000" {
		t.Fatalf("unexpected endpoint %q", cfg.ObjectStore.Endpoint)
	}
}

func TestLoadFallsBackOnMalformedValues(t *testing.T) {
	t.Setenv("STREAMGATE_PORT", "not-a-number")
	t.Setenv("STREAMGATE_SESSION_IDLE_TIMEOUT", "soon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AppPort != 8080 {
		t.Fatalf("expected fallback port got %d", cfg.AppPort)
	}
	if cfg.Playback.IdleTimeout != 2*time.Minute {
		t.Fatalf("expected fallback idle timeout got %v", cfg.Playback.IdleTimeout)
	}
}

func TestLoadRejectsInvalidPolicy(t *testing.T) {
	cases := map[string]string{
		"STREAMGATE_SESSION_SCOPE":       "course",
		"STREAMGATE_AUDIT_READ_POLICY":   "maybe",
		"STREAMGATE_MAX_ACTIVE_SESSIONS": "0",
	}

	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", key, value)
			}
		})
	}
}

func TestLoadTrustedProxies(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.TrustedProxies) != 0 {
		t.Fatalf("expected no trusted proxies by default, got %v", cfg.TrustedProxies)
	}

	t.Setenv("STREAMGATE_TRUSTED_PROXIES", " 10.0.0.0/8, ,192.0.2.1 ")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.TrustedProxies) != 2 || cfg.TrustedProxies[0] != "10.0.0.0/8" || cfg.TrustedProxies[1] != "192.0.2.1" {
		t.Fatalf("unexpected trusted proxies %v", cfg.TrustedProxies)
	}
}
