package redis

import (
	"context"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap/zaptest"

	"github.com/Ozonelabrada/resqhub-sub000/internal/infra/config"
)

func testSettings(t *testing.T, server *miniredis.Miniredis) config.RedisSettings {
	t.Helper()
	port, err := strconv.Atoi(server.Port())
	if err != nil {
		t.Fatalf("parse miniredis port: %v", err)
	}
	return config.RedisSettings{
		Host:              server.Host(),
		Port:              port,
		LockPrefix:        "matching:lock",
		ReportCachePrefix: "matching:report",
		RateLimitPrefix:   "matching:ratelimit",
	}
}

func TestNewClientConnectsAndChecksHealth(t *testing.T) {
	server := miniredis.RunT(t)

	client, err := NewClient(testSettings(t, server), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}

	server.Close()
	if err := client.HealthCheck(context.Background()); err == nil {
		t.Fatalf("expected health check to fail once redis is gone")
	}
	_ = client.Close()
}

func TestNewClientRejectsSharedPrefixes(t *testing.T) {
	server := miniredis.RunT(t)
	cfg := testSettings(t, server)
	cfg.ReportCachePrefix = cfg.LockPrefix

	if _, err := NewClient(cfg, zaptest.NewLogger(t)); err == nil {
		t.Fatalf("expected error for overlapping prefixes")
	}
}

func TestNewOptionsDefaults(t *testing.T) {
	opts := newOptions(config.RedisSettings{Host: "cache", Port: 6380, TLSEnabled: true})
	if opts.Addr != "cache:6380" {
		t.Fatalf("unexpected addr %q", opts.Addr)
	}
	if opts.PoolSize != 20 {
		t.Fatalf("expected default pool size 20, got %d", opts.PoolSize)
	}
	if opts.TLSConfig == nil {
		t.Fatalf("expected TLS config when enabled")
	}
}
