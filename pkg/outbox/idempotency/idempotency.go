// Package idempotency keeps Pub/Sub consumers from applying an outbox event
// twice. Each consumer claims an event before handling it and marks it
// complete afterwards; a claim left by a crashed worker expires on its own so
// the redelivery is processed.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/tradeline-backend/pkg/redis"
)

// DefaultClaimTTL bounds how long one delivery may hold an event.
const DefaultClaimTTL = 5 * time.Minute

const (
	markerInFlight = "in_flight"
	markerDone     = "done"
)

// Claim is the outcome of trying to start work on an event.
type Claim int

const (
	// ClaimAcquired means this delivery owns the event and must Complete or
	// Release it.
	ClaimAcquired Claim = iota
	// ClaimInFlight means another delivery is working on it; nack and let
	// Pub/Sub redeliver.
	ClaimInFlight
	// ClaimDone means the event was already handled; ack.
	ClaimDone
)

func (c Claim) String() string {
	switch c {
	case ClaimAcquired:
		return "acquired"
	case ClaimInFlight:
		return "in_flight"
	case ClaimDone:
		return "done"
	default:
		return fmt.Sprintf("claim(%d)", int(c))
	}
}

// Manager stores per-consumer markers under
// `tl:idempotency:evt:processed:<consumer>:<event_id>`.
type Manager struct {
	store    redis.ReplayStore
	ttl      time.Duration
	claimTTL time.Duration
}

// NewManager keeps completed markers for ttl. Claims expire after
// DefaultClaimTTL, or ttl when that is shorter.
func NewManager(store redis.ReplayStore, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl <= 0 {
		return nil, errors.New("ttl must be positive")
	}
	claimTTL := DefaultClaimTTL
	if ttl < claimTTL {
		claimTTL = ttl
	}
	return &Manager{store: store, ttl: ttl, claimTTL: claimTTL}, nil
}

func (m *Manager) Claim(ctx context.Context, consumer string, eventID uuid.UUID) (Claim, error) {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return ClaimInFlight, err
	}
	ok, err := m.store.SetNX(ctx, key, markerInFlight, m.claimTTL)
	if err != nil {
		return ClaimInFlight, fmt.Errorf("claim %s: %w", key, err)
	}
	if ok {
		return ClaimAcquired, nil
	}
	marker, err := m.store.Get(ctx, key)
	switch {
	case errors.Is(err, goredis.Nil):
		// released between SetNX and Get; the redelivery will claim it
		return ClaimInFlight, nil
	case err != nil:
		return ClaimInFlight, fmt.Errorf("read claim %s: %w", key, err)
	case marker == markerInFlight:
		return ClaimInFlight, nil
	default:
		return ClaimDone, nil
	}
}

// Complete turns the claim into a done marker that outlives redelivery.
func (m *Manager) Complete(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return err
	}
	return m.store.Set(ctx, key, markerDone, m.ttl)
}

// Release drops the claim so the next delivery retries the event.
func (m *Manager) Release(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

func (m *Manager) key(consumer string, eventID uuid.UUID) (string, error) {
	if consumer == "" {
		return "", errors.New("consumer name is required")
	}
	if eventID == uuid.Nil {
		return "", errors.New("event id is required")
	}
	return m.store.IdempotencyKey("evt:processed:"+consumer, eventID.String()), nil
}
