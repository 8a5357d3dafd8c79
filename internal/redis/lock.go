package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrLockHeld is returned when another process holds the lock.
var ErrLockHeld = errors.New("lock held by another process")

// releaseIfOwner deletes the key only while it still carries our token.
var releaseIfOwner = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// Lock is a single-holder lease on a Redis key. The TTL bounds how long a
// crashed holder can block others.
type Lock struct {
	client *Client
	logger *zap.Logger
	key    string
	ttl    time.Duration
}

// NewLock creates a lock on name with the given lease.
func NewLock(client *Client, logger *zap.Logger, name string, ttl time.Duration) *Lock {
	return &Lock{
		client: client,
		logger: logger,
		key:    "lock:" + name,
		ttl:    ttl,
	}
}

// Acquire takes the lock with SET NX. The returned release func gives it
// back; it is a no-op if the lease already expired and someone else took it.
func (l *Lock) Acquire(ctx context.Context) (func(context.Context) error, error) {
	token := uuid.NewString()

	ok, err := l.client.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis setnx failed: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", l.key, ErrLockHeld)
	}

	l.logger.Debug("lock acquired", zap.String("key", l.key), zap.Duration("ttl", l.ttl))

	release := func(ctx context.Context) error {
		n, err := releaseIfOwner.Run(ctx, l.client.rdb, []string{l.key}, token).Int()
		if err != nil {
			return fmt.Errorf("redis release failed: %w", err)
		}
		if n == 0 {
			l.logger.Warn("lock expired before release", zap.String("key", l.key))
		}
		return nil
	}

	return release, nil
}
