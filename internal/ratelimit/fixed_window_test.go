package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestFixedWindowLimiterRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(RedisConfig{Addr: mr.Addr(), Prefix: "test:ratelimit", Limit: 2, Window: time.Minute})
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	ctx := context.Background()
	if !limiter.Allow(ctx, "ip-1").Allowed {
		t.Fatalf("first request should pass")
	}
	if !limiter.Allow(ctx, "ip-1").Allowed {
		t.Fatalf("second request should pass")
	}
	d := limiter.Allow(ctx, "ip-1")
	if d.Allowed {
		t.Fatalf("third request should be blocked")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Minute {
		t.Fatalf("unexpected retry after %v", d.RetryAfter)
	}
	if !limiter.Allow(ctx, "ip-2").Allowed {
		t.Fatalf("other keys have their own quota")
	}
}

func TestFixedWindowLimiterSharedClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter, err := NewRedisFixedWindowLimiter(RedisConfig{Client: client, Limit: 1, Window: time.Minute})
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	if !limiter.Allow(context.Background(), "ip-1").Allowed {
		t.Fatalf("first request should pass")
	}
	if len(mr.Keys()) != 1 {
		t.Fatalf("expected one counter key, got %v", mr.Keys())
	}
}

func TestFixedWindowLimiterRedisFailClosed(t *testing.T) {
	mr := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(RedisConfig{Addr: mr.Addr(), Prefix: "test:ratelimit", Limit: 1, Window: time.Second})
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	mr.Close()
	if limiter.Allow(context.Background(), "ip-1").Allowed {
		t.Fatalf("limiter should fail closed on redis errors")
	}
}

func TestFixedWindowLimiterRequiresRedisAddr(t *testing.T) {
	limiter, err := NewRedisFixedWindowLimiter(RedisConfig{Limit: 1, Window: time.Second})
	if err == nil || limiter != nil {
		t.Fatalf("expected constructor error for empty redis addr")
	}
}

func TestMemoryFixedWindowLimiter(t *testing.T) {
	limiter, err := NewMemoryFixedWindowLimiter(1, time.Minute)
	if err != nil {
		t.Fatalf("new memory limiter: %v", err)
	}
	now := time.Date(2024, 1, 1, 0, 0, 10, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	ctx := context.Background()
	if !limiter.Allow(ctx, "ip-1").Allowed {
		t.Fatalf("first request should pass")
	}
	d := limiter.Allow(ctx, "ip-1")
	if d.Allowed || d.RetryAfter != 50*time.Second {
		t.Fatalf("expected block with 50s retry, got %+v", d)
	}

	now = now.Add(time.Minute)
	if !limiter.Allow(ctx, "ip-1").Allowed {
		t.Fatalf("new window should reset quota")
	}
}
