package idempotency

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/tradeline-backend/pkg/logger"
)

// Ledger is the claim bookkeeping Once drives. *Manager implements it.
type Ledger interface {
	Claim(ctx context.Context, consumer string, eventID uuid.UUID) (Claim, error)
	Complete(ctx context.Context, consumer string, eventID uuid.UUID) error
	Release(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// ErrPermanent marks a handler failure that redelivery cannot fix. Once
// completes such events so they are acked and never retried.
var ErrPermanent = errors.New("permanent failure")

// Permanent tags err with ErrPermanent.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// Outcome is what Once did with one delivery.
type Outcome struct {
	Claim Claim
	// Ack reports whether the message should be acknowledged.
	Ack bool
	// Err is the claim or handler failure.
	Err error
	// LedgerErr is a failed Complete or Release. The ack decision stands;
	// the marker catches up on redelivery or when the claim expires.
	LedgerErr error
}

// Once runs fn for eventID at most once per consumer. A successful or
// permanently failed run is completed and acked; any other failure releases
// the claim and nacks so Pub/Sub redelivers. Done events ack without running
// fn and events claimed by another worker nack.
func Once(ctx context.Context, ledger Ledger, consumer string, eventID uuid.UUID, fn func(context.Context) error) Outcome {
	claim, err := ledger.Claim(ctx, consumer, eventID)
	if err != nil {
		return Outcome{Claim: ClaimInFlight, Err: fmt.Errorf("idempotency claim: %w", err)}
	}
	switch claim {
	case ClaimDone:
		return Outcome{Claim: claim, Ack: true}
	case ClaimInFlight:
		return Outcome{Claim: claim}
	}

	// bookkeeping must land even when the delivery deadline already passed
	ledgerCtx := context.WithoutCancel(ctx)
	err = fn(ctx)
	if err != nil && !errors.Is(err, ErrPermanent) {
		return Outcome{Claim: claim, Err: err, LedgerErr: ledger.Release(ledgerCtx, consumer, eventID)}
	}
	return Outcome{Claim: claim, Ack: true, Err: err, LedgerErr: ledger.Complete(ledgerCtx, consumer, eventID)}
}

// Report logs the outcome under ctx. what names the work, e.g. "receipt
// delivery".
func (o Outcome) Report(ctx context.Context, logg *logger.Logger, what string) {
	switch {
	case o.Claim == ClaimDone:
		logg.Info(ctx, "event already processed")
	case o.Claim == ClaimInFlight && o.Err == nil:
		logg.Info(ctx, "event in flight on another worker")
	case o.Err != nil && o.Ack:
		logg.Error(ctx, what+" failed permanently; dropping event", o.Err)
	case o.Err != nil:
		logg.Error(ctx, what+" failed; awaiting redelivery", o.Err)
	default:
		logg.Info(ctx, what+" done")
	}
	if o.LedgerErr != nil {
		logg.Warn(logg.WithField(ctx, "error", o.LedgerErr.Error()), "idempotency marker not updated")
	}
}
