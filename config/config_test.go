package config_test

import (
	"os"
	"testing"

	"github.com/originpool/httpclient/config"
)

func TestLoadConfigFromEnv(t *testing.T) {
	os.Setenv("POOL_MAX_CONNECTIONS_PER_ORIGIN", "16")
	os.Setenv("REDIS_URL", "redis://localhost:6379")
	os.Setenv("ENV", "test")
	defer func() {
		os.Unsetenv("POOL_MAX_CONNECTIONS_PER_ORIGIN")
		os.Unsetenv("REDIS_URL")
		os.Unsetenv("ENV")
	}()

	cfg := config.Load()
	if cfg.MaxConnectionsPerOrigin != 16 {
		t.Fatalf("expected POOL_MAX_CONNECTIONS_PER_ORIGIN to be loaded, got %d", cfg.MaxConnectionsPerOrigin)
	}
	if cfg.RedisURL != "redis://localhost:6379" {
		t.Fatalf("expected REDIS_URL to be loaded, got %s", cfg.RedisURL)
	}
	if cfg.Env != "test" {
		t.Fatalf("expected ENV=test, got %s", cfg.Env)
	}
	if !cfg.SnapshotEnabled() {
		t.Fatalf("expected snapshot publishing to be enabled once REDIS_URL is set")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	os.Unsetenv("POOL_MAX_CONNECTIONS_PER_ORIGIN")
	os.Unsetenv("REDIS_URL")
	os.Unsetenv("ENV")

	cfg := config.Load()
	if cfg.MaxConnectionsPerOrigin != 8 {
		t.Fatalf("expected default max connections 8, got %d", cfg.MaxConnectionsPerOrigin)
	}
	if cfg.SnapshotEnabled() {
		t.Fatalf("expected snapshot publishing disabled by default")
	}
	if !cfg.IsDevelopment() {
		t.Fatalf("expected default env to be development")
	}
}
