package notifications

import (
	"context"
	"errors"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const defaultInteractionTTL = 24 * time.Hour

type counterStore interface {
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	InteractionKey(subjectID, interactionType string) string
}

// InteractionCache keeps rolling per-subject counters in Redis, such as the
// number of notifications a user received since they last read them.
type InteractionCache struct {
	store counterStore
	ttl   time.Duration
}

func NewInteractionCache(store counterStore, ttl time.Duration) *InteractionCache {
	if ttl <= 0 {
		ttl = defaultInteractionTTL
	}
	return &InteractionCache{store: store, ttl: ttl}
}

// Record bumps the counter and returns the new value.
func (c *InteractionCache) Record(ctx context.Context, subjectID, interactionType string) (int64, error) {
	return c.store.IncrWithTTL(ctx, c.store.InteractionKey(subjectID, interactionType), c.ttl)
}

// Count returns the current value; a missing or expired key is zero.
func (c *InteractionCache) Count(ctx context.Context, subjectID, interactionType string) (int64, error) {
	raw, err := c.store.Get(ctx, c.store.InteractionKey(subjectID, interactionType))
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}

func (c *InteractionCache) Reset(ctx context.Context, subjectID, interactionType string) error {
	return c.store.Del(ctx, c.store.InteractionKey(subjectID, interactionType))
}
