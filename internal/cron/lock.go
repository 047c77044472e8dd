package cron

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const defaultLockTTL = 14 * time.Minute

// ErrLockLost means the lock expired or was taken over while a cycle held it.
var ErrLockLost = errors.New("cron lock lost")

// Lock coordinates exclusive settlement cycles across processes.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Extend(ctx context.Context) error
	Release(ctx context.Context) error
}

type redisStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	DeleteIfOwner(ctx context.Context, key, owner string) (bool, error)
	ExtendIfOwner(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
}

// RedisLock is a SETNX lock whose value names the holder, so only the
// holder can extend or release it. The zero owner means not held.
type RedisLock struct {
	client redisStore
	key    string
	ttl    time.Duration
	owner  atomic.Value
}

func NewRedisLock(client redisStore, key string, ttl time.Duration) (*RedisLock, error) {
	switch {
	case client == nil:
		return nil, errors.New("redis client required for lock")
	case key == "":
		return nil, errors.New("lock key is required")
	case ttl <= 0:
		ttl = defaultLockTTL
	}
	l := &RedisLock{client: client, key: key, ttl: ttl}
	l.owner.Store("")
	return l, nil
}

// TTL is how long a held lock survives without Extend.
func (l *RedisLock) TTL() time.Duration { return l.ttl }

func (l *RedisLock) holder() string { return l.owner.Load().(string) }

func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	candidate := uuid.NewString()
	won, err := l.client.SetNX(ctx, l.key, candidate, l.ttl)
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", l.key, err)
	}
	if won {
		l.owner.Store(candidate)
	}
	return won, nil
}

// Extend pushes the expiry out by a full TTL. It returns ErrLockLost when
// the key no longer carries this holder's value.
func (l *RedisLock) Extend(ctx context.Context) error {
	held := l.holder()
	if held == "" {
		return ErrLockLost
	}
	still, err := l.client.ExtendIfOwner(ctx, l.key, held, l.ttl)
	if err != nil {
		return fmt.Errorf("extend %s: %w", l.key, err)
	}
	if !still {
		l.owner.CompareAndSwap(held, "")
		return ErrLockLost
	}
	return nil
}

func (l *RedisLock) Release(ctx context.Context) error {
	held := l.owner.Swap("").(string)
	if held == "" {
		return nil
	}
	if _, err := l.client.DeleteIfOwner(ctx, l.key, held); err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	return nil
}
