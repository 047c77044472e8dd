package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// INCR and PEXPIRE must land together; a window key left without a TTL would
// throttle its caller forever.
const windowIncrSrc = `local n = redis.call("INCR", KEYS[1])
if n == 1 then redis.call("PEXPIRE", KEYS[1], ARGV[1]) end
return n`

// A lock holder whose TTL lapsed must not delete or extend the key another
// process now owns.
const (
	deleteIfOwnerSrc = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) end return 0`
	extendIfOwnerSrc = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("PEXPIRE", KEYS[1], ARGV[2]) end return 0`
)

var (
	windowIncr    = redis.NewScript(windowIncrSrc)
	deleteIfOwner = redis.NewScript(deleteIfOwnerSrc)
	extendIfOwner = redis.NewScript(extendIfOwnerSrc)
)

// IncrWithTTL increments key, starting its ttl on the first increment.
func (c *Client) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if c.store == nil {
		return 0, ErrNotInitialized
	}
	if ttl <= 0 {
		return 0, fmt.Errorf("ttl must be positive, got %s", ttl)
	}
	return windowIncr.Run(ctx, c.store, []string{key}, ttl.Milliseconds()).Int64()
}

// FixedWindowAllow counts a hit against scope and reports whether it is
// within limit for the current window.
func (c *Client) FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error) {
	count, err := c.IncrWithTTL(ctx, c.RateLimitKey(scope), window)
	if err != nil {
		return false, 0, err
	}
	return count <= limit, count, nil
}

// DeleteIfOwner removes key only while it still holds owner.
func (c *Client) DeleteIfOwner(ctx context.Context, key, owner string) (bool, error) {
	if c.store == nil {
		return false, ErrNotInitialized
	}
	n, err := deleteIfOwner.Run(ctx, c.store, []string{key}, owner).Int64()
	return n == 1, err
}

// ExtendIfOwner resets the TTL of key only while it still holds owner.
func (c *Client) ExtendIfOwner(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if c.store == nil {
		return false, ErrNotInitialized
	}
	if ttl <= 0 {
		return false, fmt.Errorf("ttl must be positive, got %s", ttl)
	}
	n, err := extendIfOwner.Run(ctx, c.store, []string{key}, owner, ttl.Milliseconds()).Int64()
	return n == 1, err
}
