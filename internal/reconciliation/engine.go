// Package reconciliation ties asynchronous gateway payments to pending
// transactions. Matching is tiered and never guesses: anything it cannot
// place with certainty is parked as an unmatched event for an operator.
package reconciliation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradeline-backend/internal/escrow"
	"github.com/angelmondragon/tradeline-backend/internal/ledger"
	"github.com/angelmondragon/tradeline-backend/pkg/db/models"
	"github.com/angelmondragon/tradeline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradeline-backend/pkg/errors"
	"github.com/angelmondragon/tradeline-backend/pkg/logger"
	"github.com/angelmondragon/tradeline-backend/pkg/outbox"
	"github.com/angelmondragon/tradeline-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/tradeline-backend/pkg/paystack"
)

const (
	defaultMatchWindow    = 20 * time.Minute
	defaultGatewayTimeout = 15 * time.Second
)

type Outcome string

const (
	OutcomeMatched          Outcome = "matched"
	OutcomeAlreadyProcessed Outcome = "already_processed"
	OutcomeUnmatched        Outcome = "unmatched"
	OutcomeNotPaid          Outcome = "not_paid"
)

// Result reports what happened to one payment event.
type Result struct {
	Outcome          Outcome
	Tier             enums.MatchTier
	Transaction      *models.Transaction
	UnmatchedReason  enums.UnmatchedReason
	UnmatchedEventID *uuid.UUID
}

type dbClient interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type escrowEntrant interface {
	EnterEscrow(ctx context.Context, tx *gorm.DB, txn *models.Transaction, payment escrow.Payment) (*models.Transaction, error)
}

type verifier interface {
	VerifyTransaction(ctx context.Context, reference string) (*paystack.Charge, error)
}

type observer interface {
	ObserveReconciliation(outcome, tier string)
}

type Options struct {
	MatchWindow    time.Duration
	HighValueKobo  int64
	GatewayTimeout time.Duration
}

type Engine struct {
	db       dbClient
	store    *ledger.Store
	machine  escrowEntrant
	verifier verifier
	emitter  outbox.Emitter
	metrics  observer
	logg     *logger.Logger
	opts     Options
}

func NewEngine(db dbClient, store *ledger.Store, machine escrowEntrant, verifier verifier, emitter outbox.Emitter, metrics observer, logg *logger.Logger, opts Options) (*Engine, error) {
	if db == nil || store == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "ledger required")
	}
	if machine == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "escrow machine required")
	}
	if emitter == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "outbox emitter required")
	}
	if opts.MatchWindow <= 0 {
		opts.MatchWindow = defaultMatchWindow
	}
	if opts.GatewayTimeout <= 0 {
		opts.GatewayTimeout = defaultGatewayTimeout
	}
	return &Engine{
		db:       db,
		store:    store,
		machine:  machine,
		verifier: verifier,
		emitter:  emitter,
		metrics:  metrics,
		logg:     logg,
		opts:     opts,
	}, nil
}

type match struct {
	txn       *models.Transaction
	tier      enums.MatchTier
	reason    enums.UnmatchedReason
	reference string
}

// ReconcileEvent matches a payment event and, on a match, moves the
// transaction into escrow. A product sold to someone else yields a recorded
// unmatched event and a CONFLICT error.
func (e *Engine) ReconcileEvent(ctx context.Context, event PaymentEvent) (*Result, error) {
	if event.AmountKobo <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment amount must be positive")
	}
	ctx = e.withEventFields(ctx, event)

	if event.GatewayReference != "" {
		applied, err := e.store.Transactions.FindByGatewayReference(ctx, event.GatewayReference)
		if err == nil {
			return e.finish(&Result{Outcome: OutcomeAlreadyProcessed, Transaction: applied}), nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load applied charge")
		}
	}

	m, err := e.match(ctx, event)
	if err != nil {
		return nil, err
	}
	if m.txn == nil {
		return e.recordUnmatched(ctx, event, m.reason, m.reference)
	}
	if m.txn.Status != enums.TransactionStatusAwaitingPayment {
		return e.settled(ctx, event, m, m.txn)
	}
	return e.enter(ctx, event, m, escrow.ActorWebhook)
}

// settled handles a charge for a transaction that has left awaiting_payment.
// Only the charge the transaction was paid with is already processed; any
// other charge is money nobody holds yet and is parked for review.
func (e *Engine) settled(ctx context.Context, event PaymentEvent, m match, current *models.Transaction) (*Result, error) {
	reason, late := lateChargeReason(current, event.GatewayReference)
	if !late {
		return e.finish(&Result{Outcome: OutcomeAlreadyProcessed, Tier: m.tier, Transaction: current}), nil
	}
	if e.logg != nil {
		logCtx := e.logg.WithTransactionID(ctx, current.ID.String())
		e.logg.Warn(e.logg.WithField(logCtx, "status", current.Status), "charge arrived for a settled transaction")
	}
	res, err := e.recordUnmatched(ctx, event, reason, current.PaymentReference)
	if err != nil {
		return nil, err
	}
	res.Transaction = current
	return res, nil
}

func lateChargeReason(txn *models.Transaction, gatewayRef string) (enums.UnmatchedReason, bool) {
	if gatewayRef != "" && txn.GatewayReference != nil && *txn.GatewayReference == gatewayRef {
		return "", false
	}
	switch txn.Status {
	case enums.TransactionStatusCancelled, enums.TransactionStatusRefunded:
		return enums.UnmatchedReasonTransactionClosed, true
	default:
		return enums.UnmatchedReasonDuplicatePayment, true
	}
}

func (e *Engine) enter(ctx context.Context, event PaymentEvent, m match, actor string) (*Result, error) {
	var updated *models.Transaction
	err := e.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		updated, err = e.machine.EnterEscrow(ctx, tx, m.txn, escrow.Payment{
			GatewayReference: event.GatewayReference,
			GatewayFeeKobo:   event.FeeKobo,
			PaidAt:           event.OccurredAt,
			Tier:             m.tier,
			Actor:            actor,
		})
		return err
	})

	switch {
	case err == nil:
		if e.logg != nil {
			e.logg.Info(e.logg.WithField(ctx, "tier", m.tier), "payment reconciled into escrow")
		}
		return e.finish(&Result{Outcome: OutcomeMatched, Tier: m.tier, Transaction: updated}), nil
	case errors.Is(err, escrow.ErrAlreadyApplied):
		return e.settled(ctx, event, m, updated)
	case errors.Is(err, escrow.ErrProductAlreadySold):
		res, recErr := e.recordUnmatched(ctx, event, enums.UnmatchedReasonProductAlreadySold, m.txn.PaymentReference)
		if recErr != nil {
			return nil, recErr
		}
		res.Transaction = m.txn
		return res, pkgerrors.New(pkgerrors.CodeConflict, "product already sold to another buyer").
			WithDetails(map[string]any{"payment_reference": m.txn.PaymentReference})
	case pkgerrors.IsCode(err, pkgerrors.CodeConflict):
		current, findErr := e.store.Transactions.FindByID(ctx, m.txn.ID)
		if findErr == nil && current.Status != enums.TransactionStatusAwaitingPayment {
			return e.settled(ctx, event, m, current)
		}
		return nil, err
	default:
		return nil, err
	}
}

func (e *Engine) match(ctx context.Context, event PaymentEvent) (match, error) {
	reference := event.ExtractReference()
	if reference != "" {
		txn, err := e.store.Transactions.FindByReference(ctx, reference)
		switch {
		case err == nil:
			if txn.AmountKobo != event.AmountKobo {
				return match{reason: enums.UnmatchedReasonAmountMismatch, reference: reference}, nil
			}
			return match{txn: txn, tier: enums.MatchTierReference, reference: reference}, nil
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return match{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "match by reference")
		}
	}

	if event.AccountNumber != "" || event.CustomerCode != "" {
		candidates, err := e.store.Transactions.FindPendingByChannelAmount(ctx, event.AccountNumber, event.CustomerCode, event.AmountKobo)
		if err != nil {
			return match{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "match by channel")
		}
		switch len(candidates) {
		case 0:
		case 1:
			return match{txn: &candidates[0], tier: enums.MatchTierChannelAmount, reference: reference}, nil
		default:
			return match{reason: enums.UnmatchedReasonAmbiguous, reference: reference}, nil
		}
	}

	if event.Email != "" {
		buyer, err := e.store.Users.FindByEmail(ctx, event.Email)
		switch {
		case err == nil:
			from := event.OccurredAt.Add(-e.opts.MatchWindow)
			to := event.OccurredAt.Add(e.opts.MatchWindow)
			candidates, err := e.store.Transactions.FindPendingByBuyerAmountWindow(ctx, buyer.ID, event.AmountKobo, from, to)
			if err != nil {
				return match{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "match by identity")
			}
			switch len(candidates) {
			case 0:
			case 1:
				return match{txn: &candidates[0], tier: enums.MatchTierIdentityWindow, reference: reference}, nil
			default:
				return match{reason: enums.UnmatchedReasonAmbiguous, reference: reference}, nil
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return match{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payer")
		}
	}

	return match{reason: enums.UnmatchedReasonNoMatch, reference: reference}, nil
}

func (e *Engine) recordUnmatched(ctx context.Context, event PaymentEvent, reason enums.UnmatchedReason, reference string) (*Result, error) {
	raw := event.Raw
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	row := &models.UnmatchedEvent{
		GatewayEventID: event.GatewayEventID,
		EventType:      event.EventType,
		AmountKobo:     event.AmountKobo,
		Reason:         reason,
		HighValue:      e.opts.HighValueKobo > 0 && event.AmountKobo >= e.opts.HighValueKobo,
		Payload:        raw,
	}
	if channel := firstNonEmpty(event.AccountNumber, event.CustomerCode); channel != "" {
		row.ChannelIdentifier = &channel
	}
	if event.Email != "" {
		email := event.Email
		row.Email = &email
	}
	if reference != "" {
		ref := reference
		row.ExtractedReference = &ref
	}

	created := false
	err := e.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		created, err = e.store.Unmatched.WithTx(tx).Record(ctx, row)
		if err != nil || !created {
			return err
		}
		return e.emitter.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventUnmatchedPaymentRecorded,
			AggregateType: enums.AggregateUnmatchedEvent,
			AggregateID:   row.ID,
			Data: payloads.UnmatchedPaymentEvent{
				UnmatchedEventID: row.ID,
				GatewayEventID:   row.GatewayEventID,
				Reason:           reason,
				AmountKobo:       row.AmountKobo,
				Reference:        reference,
				HighValue:        row.HighValue,
				OccurredAt:       event.OccurredAt,
			},
		})
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record unmatched payment")
	}

	if e.logg != nil && created {
		logCtx := e.logg.WithFields(ctx, map[string]any{
			"reason":     reason,
			"high_value": row.HighValue,
			"reference":  reference,
		})
		e.logg.Warn(logCtx, "payment left unmatched for review")
	}
	res := &Result{Outcome: OutcomeUnmatched, UnmatchedReason: reason}
	if created {
		id := row.ID
		res.UnmatchedEventID = &id
	}
	return e.finish(res), nil
}

func (e *Engine) finish(res *Result) *Result {
	if e.metrics != nil {
		tier := string(res.Tier)
		if res.Outcome == OutcomeUnmatched {
			tier = string(res.UnmatchedReason)
		}
		e.metrics.ObserveReconciliation(string(res.Outcome), tier)
	}
	return res
}

func (e *Engine) withEventFields(ctx context.Context, event PaymentEvent) context.Context {
	if e.logg == nil {
		return ctx
	}
	return e.logg.WithFields(ctx, map[string]any{
		"gateway_event_id":  event.GatewayEventID,
		"gateway_reference": event.GatewayReference,
		"amount_kobo":       event.AmountKobo,
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
