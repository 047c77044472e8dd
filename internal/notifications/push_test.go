package notifications

import (
	"context"
	"strconv"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePushTarget(t *testing.T) {
	target, err := ParsePushTarget("ExponentPushToken[abc]")
	require.NoError(t, err)
	assert.Equal(t, PushTarget{Platform: "expo", DeviceKind: "unknown", Token: "ExponentPushToken[abc]"}, target)

	target, err = ParsePushTarget(`{"platform":"FCM","deviceKind":"android","token":" tok "}`)
	require.NoError(t, err)
	assert.Equal(t, PushTarget{Platform: "fcm", DeviceKind: "android", Token: "tok"}, target)

	_, err = ParsePushTarget(`{"platform":"fcm"}`)
	assert.ErrorIs(t, err, ErrNoPushTarget)

	_, err = ParsePushTarget("  ")
	assert.ErrorIs(t, err, ErrNoPushTarget)

	_, err = ParsePushTarget("{not json")
	assert.Error(t, err)
}

type memoryCounters struct {
	values map[string]int64
	ttls   map[string]time.Duration
}

func newMemoryCounters() *memoryCounters {
	return &memoryCounters{values: map[string]int64{}, ttls: map[string]time.Duration{}}
}

func (m *memoryCounters) IncrWithTTL(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.values[key]++
	if m.values[key] == 1 {
		m.ttls[key] = ttl
	}
	return m.values[key], nil
}

func (m *memoryCounters) Get(_ context.Context, key string) (string, error) {
	v, ok := m.values[key]
	if !ok {
		return "", goredis.Nil
	}
	return strconv.FormatInt(v, 10), nil
}

func (m *memoryCounters) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

func (m *memoryCounters) InteractionKey(subjectID, interactionType string) string {
	return "tl:interaction:" + subjectID + ":" + interactionType
}

func TestInteractionCache(t *testing.T) {
	store := newMemoryCounters()
	cache := NewInteractionCache(store, 0)
	ctx := context.Background()

	count, err := cache.Count(ctx, "u1", BadgeInteraction)
	require.NoError(t, err)
	assert.Zero(t, count)

	for i := 0; i < 3; i++ {
		_, err = cache.Record(ctx, "u1", BadgeInteraction)
		require.NoError(t, err)
	}
	count, err = cache.Count(ctx, "u1", BadgeInteraction)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
	assert.Equal(t, defaultInteractionTTL, store.ttls["tl:interaction:u1:unread_notifications"])

	require.NoError(t, cache.Reset(ctx, "u1", BadgeInteraction))
	count, err = cache.Count(ctx, "u1", BadgeInteraction)
	require.NoError(t, err)
	assert.Zero(t, count)
}
