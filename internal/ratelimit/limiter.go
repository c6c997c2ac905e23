// Package ratelimit provides short-lived per-user locks backed by Redis.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds the caller's token,
// so a holder whose TTL lapsed cannot drop a lock someone else took since.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Limiter claims per-user action keys with SET NX and a TTL. A nil client
// allows every request, which keeps single-instance deployments working
// without Redis.
type Limiter struct {
	rdb *redis.Client
}

// New constructs a Limiter. rdb may be nil.
func New(rdb *redis.Client) *Limiter {
	return &Limiter{rdb: rdb}
}

// Connect parses a redis:// URL and verifies the server is reachable.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

func key(subject, action string) string {
	return fmt.Sprintf("rate_limit:user:%s:%s", subject, action)
}

// Acquire claims the key for ttl under a fresh random token. It returns false
// when the key is already held.
func (l *Limiter) Acquire(ctx context.Context, subject, action string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.rdb == nil {
		return "", true, nil
	}
	token := uuid.NewString()
	wasSet, err := l.rdb.SetNX(ctx, key(subject, action), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to check rate limit in redis: %w", err)
	}
	if !wasSet {
		return "", false, nil
	}
	return token, true, nil
}

// Release drops the key before its TTL expires, provided token still owns it.
func (l *Limiter) Release(ctx context.Context, subject, action, token string) error {
	if l == nil || l.rdb == nil || token == "" {
		return nil
	}
	if err := releaseScript.Run(ctx, l.rdb, []string{key(subject, action)}, token).Err(); err != nil {
		return fmt.Errorf("release %s: %w", key(subject, action), err)
	}
	return nil
}

// Remaining reports how long the key stays held. Zero means it is free.
func (l *Limiter) Remaining(ctx context.Context, subject, action string) (time.Duration, error) {
	if l == nil || l.rdb == nil {
		return 0, nil
	}
	ttl, err := l.rdb.TTL(ctx, key(subject, action)).Result()
	if err != nil {
		return 0, err
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}
