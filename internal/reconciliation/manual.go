package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradeline-backend/internal/escrow"
	"github.com/angelmondragon/tradeline-backend/internal/ledger"
	"github.com/angelmondragon/tradeline-backend/pkg/db/models"
	"github.com/angelmondragon/tradeline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradeline-backend/pkg/errors"
	"github.com/angelmondragon/tradeline-backend/pkg/pagination"
	"github.com/angelmondragon/tradeline-backend/pkg/paystack"
)

// VerifyByReference polls the gateway for a charge and feeds a successful
// one through the same matching path as a webhook.
func (e *Engine) VerifyByReference(ctx context.Context, reference string) (*Result, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reference required")
	}
	if e.verifier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "gateway verifier not configured")
	}

	callCtx, cancel := context.WithTimeout(ctx, e.opts.GatewayTimeout)
	charge, err := e.verifier.VerifyTransaction(callCtx, reference)
	cancel()
	if err != nil {
		if paystack.IsRejected(err) {
			// unknown reference: nothing has been paid yet
			return &Result{Outcome: OutcomeNotPaid}, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeUpstreamUnavailable, err, "verify transaction")
	}
	if !strings.EqualFold(charge.Status, paystack.ChargeStatusSuccess) {
		return &Result{Outcome: OutcomeNotPaid}, nil
	}
	eventID := fmt.Sprintf("%s:%d", paystack.EventChargeSuccess, charge.ID)
	return e.ReconcileEvent(ctx, EventFromCharge(eventID, charge, nil))
}

// AssignUnmatched lets an operator tie a parked event to a pending
// transaction. The transaction enters escrow through the normal path.
func (e *Engine) AssignUnmatched(ctx context.Context, eventID, txID, adminID uuid.UUID) (*Result, error) {
	event, err := e.store.Unmatched.FindByID(ctx, eventID)
	if err != nil {
		return nil, notFoundOr(err, "unmatched event not found", "load unmatched event")
	}
	if event.ResolvedAt != nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "unmatched event already resolved")
	}
	txn, err := e.store.Transactions.FindByID(ctx, txID)
	if err != nil {
		return nil, notFoundOr(err, "transaction not found", "load transaction")
	}
	if txn.Status != enums.TransactionStatusAwaitingPayment {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "transaction is not awaiting payment").
			WithDetails(map[string]any{"status": txn.Status})
	}

	actor := escrow.ActorUser(enums.UserRoleAdmin, adminID)
	var updated *models.Transaction
	err = e.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		updated, err = e.machine.EnterEscrow(ctx, tx, txn, escrow.Payment{
			Tier:  enums.MatchTierManual,
			Actor: actor,
		})
		if err != nil {
			return err
		}
		rows, err := e.store.Unmatched.WithTx(tx).MarkResolved(ctx, event.ID, txn.ID, adminID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve unmatched event")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "unmatched event already resolved")
		}
		return nil
	})
	switch {
	case err == nil:
	case errors.Is(err, escrow.ErrProductAlreadySold):
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "product already sold to another buyer")
	case errors.Is(err, escrow.ErrAlreadyApplied):
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "transaction already paid")
	default:
		return nil, err
	}

	if e.logg != nil {
		logCtx := e.logg.WithTransactionID(ctx, updated.ID.String())
		logCtx = e.logg.WithFields(logCtx, map[string]any{"unmatched_event_id": event.ID, "admin_id": adminID})
		e.logg.Info(logCtx, "unmatched payment assigned")
	}
	return e.finish(&Result{Outcome: OutcomeMatched, Tier: enums.MatchTierManual, Transaction: updated}), nil
}

// UnmatchedPage is one page of parked events.
type UnmatchedPage struct {
	Items  []models.UnmatchedEvent `json:"items"`
	Cursor string                  `json:"cursor"`
}

// ListUnmatched pages through parked events, newest first.
func (e *Engine) ListUnmatched(ctx context.Context, openOnly bool, params pagination.Params) (*UnmatchedPage, error) {
	query := ledger.UnmatchedListParams{OpenOnly: openOnly, Limit: params.Limit}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	query.Cursor = cursor
	rows, next, err := e.store.Unmatched.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list unmatched events")
	}
	return &UnmatchedPage{Items: rows, Cursor: pagination.NextCursor(next)}, nil
}

func notFoundOr(err error, notFound, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, notFound)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op)
}
