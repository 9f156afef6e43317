package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// Limiter decides whether a caller identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) Decision
}

// Decision is the outcome of one Allow call. RetryAfter is set when the
// request was refused and tells the caller when the window resets.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// RedisConfig configures a Redis-backed limiter. Client, when set, is
// shared and never closed by the limiter; otherwise Addr is dialed.
type RedisConfig struct {
	Client   *redis.Client
	Addr     string
	Password string
	Prefix   string
	Limit    int
	Window   time.Duration
}

// FixedWindowLimiter limits requests per key in a fixed time window shared
// across replicas through Redis.
type FixedWindowLimiter struct {
	limit  int
	window time.Duration

	redisClient *redis.Client
	redisPrefix string
}

// NewRedisFixedWindowLimiter creates a Redis-backed distributed limiter.
func NewRedisFixedWindowLimiter(cfg RedisConfig) (*FixedWindowLimiter, error) {
	if cfg.Limit <= 0 || cfg.Window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	client := cfg.Client
	if client == nil {
		addr := strings.TrimSpace(cfg.Addr)
		if addr == "" {
			return nil, errors.New("rate limiter redis addr is required")
		}
		client = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Password,
		})
	}
	prefix := strings.TrimSpace(cfg.Prefix)
	if prefix == "" {
		prefix = "greenlight:ratelimit"
	}
	return &FixedWindowLimiter{
		limit:       cfg.Limit,
		window:      cfg.Window,
		redisClient: client,
		redisPrefix: prefix,
	}, nil
}

// Allow reports whether the key is within quota.
// On Redis failures, it fails closed.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) Decision {
	if l == nil {
		return Decision{}
	}
	key = normalizeKey(key)
	windowMs := l.window.Milliseconds()
	if windowMs <= 0 {
		return Decision{Allowed: true}
	}
	now := time.Now().UTC().UnixMilli()
	windowSlot := now / windowMs
	redisKey := fmt.Sprintf("%s:%s:%d", l.redisPrefix, key, windowSlot)
	retryAfter := time.Duration((windowSlot+1)*windowMs-now) * time.Millisecond

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	res, err := fixedWindowScript.Run(ctx, l.redisClient, []string{redisKey}, windowMs).Int64()
	if err != nil {
		slog.Warn("rate limiter unavailable", "err", err)
		return Decision{RetryAfter: retryAfter}
	}
	if res > int64(l.limit) {
		return Decision{RetryAfter: retryAfter}
	}
	return Decision{Allowed: true}
}

// MemoryFixedWindowLimiter is the single-process variant used when Redis
// is not configured.
type MemoryFixedWindowLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	slot    int64
	counter map[string]int
}

func NewMemoryFixedWindowLimiter(limit int, window time.Duration) (*MemoryFixedWindowLimiter, error) {
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	return &MemoryFixedWindowLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		counter: make(map[string]int),
	}, nil
}

func (l *MemoryFixedWindowLimiter) Allow(_ context.Context, key string) Decision {
	key = normalizeKey(key)
	now := l.now().UTC().UnixMilli()
	windowMs := l.window.Milliseconds()
	slot := now / windowMs

	l.mu.Lock()
	defer l.mu.Unlock()
	if slot != l.slot {
		// new window; drop every counter from the previous one
		l.slot = slot
		clear(l.counter)
	}
	l.counter[key]++
	if l.counter[key] > l.limit {
		return Decision{RetryAfter: time.Duration((slot+1)*windowMs-now) * time.Millisecond}
	}
	return Decision{Allowed: true}
}

func normalizeKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "unknown"
	}
	return key
}
