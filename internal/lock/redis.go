package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the key only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

const (
	minPoll = 10 * time.Millisecond
	maxPoll = 200 * time.Millisecond
)

// RedisLocker is a KeyedLocker shared by every process using the same Redis.
// A key expires after ttl so a crashed holder cannot wedge it.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisLocker builds a distributed locker.
func NewRedisLocker(client redis.UniversalClient, prefix string, ttl time.Duration, logger *zap.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{client: client, prefix: prefix, ttl: ttl, logger: logger}
}

// WithTTL returns a locker on the same client and prefix whose keys expire
// after ttl.
func (l *RedisLocker) WithTTL(ttl time.Duration) *RedisLocker {
	return NewRedisLocker(l.client, l.prefix, ttl, l.logger)
}

// Lock implements KeyedLocker by polling SET NX with a growing backoff.
func (l *RedisLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	poll := minPoll
	for {
		unlock, ok, err := l.TryLock(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			return unlock, nil
		}
		timer := time.NewTimer(poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		if poll *= 2; poll > maxPoll {
			poll = maxPoll
		}
	}
}

// TryLock implements KeyedLocker.
func (l *RedisLocker) TryLock(ctx context.Context, key string) (Unlock, bool, error) {
	full := l.prefix + key
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, full, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			// the caller's context may already be cancelled
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, l.client, []string{full}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
				l.logger.Warn("release lock failed", zap.String("key", key), zap.Error(err))
			}
		})
	}, true, nil
}
