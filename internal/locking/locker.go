package locking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrLocked = errors.New("indexing already in progress for this user")

// Release gives the lock back. Calling it after the lock expired is harmless.
type Release func(ctx context.Context) error

type Locker interface {
	Acquire(ctx context.Context, userID string) (Release, error)
}

// releaseScript deletes the key only while it still holds our token, so an
// expired lock that another caller has since taken is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker holds one key per user for the duration of an indexing call.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl}
}

func Key(userID string) string {
	return "docbrief:index:" + userID
}

func (l *RedisLocker) Acquire(ctx context.Context, userID string) (Release, error) {
	key := Key(userID)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLocked
	}

	slog.Debug("Acquired indexing lock", "key", key, "ttl", l.ttl)
	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("release lock %s: %w", key, err)
		}
		return nil
	}, nil
}

// NoopLocker is used when no Redis is configured; callers serialize their own runs.
type NoopLocker struct{}

func (NoopLocker) Acquire(ctx context.Context, userID string) (Release, error) {
	return func(context.Context) error { return nil }, nil
}
