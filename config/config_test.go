package config_test

import (
	"os"
	"testing"

	"github.com/linkedlist771/claude-auditlimit-go/config"
)

func TestLoadConfigFromEnv(t *testing.T) {
	os.Setenv("REDIS_HOST", "redis.internal")
	os.Setenv("REDIS_PORT", "6400")
	os.Setenv("ENV", "test")
	os.Setenv("MAX_DEVICES", "5")
	defer func() {
		os.Unsetenv("REDIS_HOST")
		os.Unsetenv("REDIS_PORT")
		os.Unsetenv("ENV")
		os.Unsetenv("MAX_DEVICES")
	}()

	cfg := config.Load()
	if cfg.RedisHost != "redis.internal" {
		t.Fatalf("expected REDIS_HOST to be loaded, got %s", cfg.RedisHost)
	}
	if cfg.RedisPort != 6400 {
		t.Fatalf("expected REDIS_PORT to be loaded, got %d", cfg.RedisPort)
	}
	if cfg.Env != "test" {
		t.Fatalf("expected ENV=test, got %s", cfg.Env)
	}
	if cfg.MaxDevices != 5 {
		t.Fatalf("expected MAX_DEVICES=5, got %d", cfg.MaxDevices)
	}
	if cfg.RedisAddr() != "redis.internal:6400" {
		t.Fatalf("unexpected redis addr: %s", cfg.RedisAddr())
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	os.Unsetenv("MAX_DEVICES")
	os.Unsetenv("RATE_LIMIT")
	cfg := config.Load()
	if cfg.MaxDevices != 3 {
		t.Fatalf("expected default MAX_DEVICES=3, got %d", cfg.MaxDevices)
	}
	if cfg.RateLimit != 100000 {
		t.Fatalf("expected default RATE_LIMIT=100000, got %d", cfg.RateLimit)
	}
	if cfg.DefaultTokenizer != "cl100k_base" {
		t.Fatalf("expected default tokenizer cl100k_base, got %s", cfg.DefaultTokenizer)
	}
}
