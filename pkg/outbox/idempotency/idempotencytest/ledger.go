// Package idempotencytest provides an in-memory claim ledger for consumer
// tests.
package idempotencytest

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/angelmondragon/tradeline-backend/pkg/outbox/idempotency"
)

// Ledger tracks claims per event, ignoring the consumer name. The zero value
// is ready to use.
type Ledger struct {
	mu        sync.Mutex
	state     map[uuid.UUID]idempotency.Claim
	ClaimErr  error
	Claims    int
	Completed int
	Released  int
}

// Hold marks eventID as claimed by some other delivery.
func (l *Ledger) Hold(eventID uuid.UUID) {
	l.set(eventID, idempotency.ClaimInFlight)
}

// State reports the marker for eventID, or ClaimAcquired when there is none.
func (l *Ledger) State(eventID uuid.UUID) idempotency.Claim {
	l.mu.Lock()
	defer l.mu.Unlock()
	if claim, ok := l.state[eventID]; ok {
		return claim
	}
	return idempotency.ClaimAcquired
}

func (l *Ledger) Claim(_ context.Context, _ string, eventID uuid.UUID) (idempotency.Claim, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Claims++
	if l.ClaimErr != nil {
		return idempotency.ClaimInFlight, l.ClaimErr
	}
	if claim, ok := l.state[eventID]; ok {
		return claim, nil
	}
	l.init()
	l.state[eventID] = idempotency.ClaimInFlight
	return idempotency.ClaimAcquired, nil
}

func (l *Ledger) Complete(_ context.Context, _ string, eventID uuid.UUID) error {
	l.mu.Lock()
	l.Completed++
	l.mu.Unlock()
	l.set(eventID, idempotency.ClaimDone)
	return nil
}

func (l *Ledger) Release(_ context.Context, _ string, eventID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Released++
	delete(l.state, eventID)
	return nil
}

func (l *Ledger) set(eventID uuid.UUID, claim idempotency.Claim) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.init()
	l.state[eventID] = claim
}

func (l *Ledger) init() {
	if l.state == nil {
		l.state = map[uuid.UUID]idempotency.Claim{}
	}
}
