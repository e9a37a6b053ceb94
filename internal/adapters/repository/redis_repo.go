package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roykane/flower-shop-sub000/internal/core/ports"
)

// Ensure RedisRepository implements the cache-backed ports
var (
	_ ports.DedupRepository = (*RedisRepository)(nil)
	_ ports.RateLimiter     = (*RedisRepository)(nil)
)

// RedisRepository implements deduplication, alert cooldowns and rate limiting
type RedisRepository struct {
	client *redis.Client
}

// NewRedisRepository creates a new Redis repository instance
func NewRedisRepository(client *redis.Client) *RedisRepository {
	return &RedisRepository{
		client: client,
	}
}

// CheckAndMark uses SETNX so concurrent submissions of the same key race on
// a single atomic command. Returns true when the key was already marked.
func (r *RedisRepository) CheckAndMark(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	dedupKey := buildDedupKey(key)

	// Value is timestamp for debugging purposes
	set, err := r.client.SetNX(ctx, dedupKey, time.Now().Unix(), ttl).Result()
	if err != nil {
		slog.Error("Failed to check deduplication",
			"error", err,
			"key", dedupKey,
		)
		return false, fmt.Errorf("check and mark: %w", err)
	}

	if !set {
		slog.Warn("Duplicate chat event detected", "key", dedupKey)
		return true, nil
	}

	slog.Debug("Event marked as processed",
		"key", dedupKey,
		"ttl", ttl,
	)
	return false, nil
}

// Forget drops a mark so the client may resubmit after a failure
func (r *RedisRepository) Forget(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, buildDedupKey(key)).Err(); err != nil {
		return fmt.Errorf("forget dedup key: %w", err)
	}
	return nil
}

// fixedWindowScript increments the counter and sets its expiry on first hit
var fixedWindowScript = redis.NewScript(`
	local current = redis.call("INCR", KEYS[1])
	if current == 1 then
		redis.call("PEXPIRE", KEYS[1], ARGV[2])
	end
	if current > tonumber(ARGV[1]) then
		return 0
	end
	return 1
`)

// Allow implements a fixed-window counter
func (r *RedisRepository) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	result, err := fixedWindowScript.Run(ctx, r.client,
		[]string{buildRateKey(key)}, limit, window.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit: %w", err)
	}
	return result == 1, nil
}

// buildDedupKey constructs the Redis key for deduplication
// Key format dedup:chat:{key}
func buildDedupKey(key string) string {
	return fmt.Sprintf("dedup:chat:%s", key)
}

func buildRateKey(key string) string {
	return fmt.Sprintf("ratelimit:chat:%s", key)
}
