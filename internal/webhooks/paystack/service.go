// Package paystackwebhook routes verified gateway events to the engine that
// owns them.
package paystackwebhook

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/angelmondragon/tradeline-backend/internal/payouts"
	"github.com/angelmondragon/tradeline-backend/internal/reconciliation"
	pkgerrors "github.com/angelmondragon/tradeline-backend/pkg/errors"
	"github.com/angelmondragon/tradeline-backend/pkg/logger"
	"github.com/angelmondragon/tradeline-backend/pkg/paystack"
)

type chargeReconciler interface {
	ReconcileEvent(ctx context.Context, event reconciliation.PaymentEvent) (*reconciliation.Result, error)
}

type transferHandler interface {
	HandleTransferEvent(ctx context.Context, eventID, eventType string, transfer *paystack.Transfer, raw json.RawMessage) (*payouts.Result, error)
}

type refundHandler interface {
	HandleRefundEvent(ctx context.Context, eventType string, event *paystack.RefundEvent) error
}

type ServiceParams struct {
	Reconciler chargeReconciler
	Payouts    transferHandler
	Refunds    refundHandler
	Logger     *logger.Logger
}

// Service dispatches one webhook event. A nil error means the outcome is
// durable and the gateway may stop retrying.
type Service struct {
	reconciler chargeReconciler
	payouts    transferHandler
	refunds    refundHandler
	logg       *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Reconciler == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "reconciliation engine required")
	}
	if params.Payouts == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payout engine required")
	}
	if params.Refunds == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "refund service required")
	}
	return &Service{
		reconciler: params.Reconciler,
		payouts:    params.Payouts,
		refunds:    params.Refunds,
		logg:       params.Logger,
	}, nil
}

// HandleEvent returns VALIDATION for malformed payloads. Conflict-class and
// UNMATCHED errors are swallowed since the engines record them before
// returning and a retry would not change the result. A charge that hits an
// invariant violation left no trace, so that error is returned and the
// gateway redelivers.
func (s *Service) HandleEvent(ctx context.Context, eventID string, event *paystack.Event) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "event required")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{"event_id": eventID, "event": event.Event})

	var err error
	switch event.Event {
	case paystack.EventChargeSuccess:
		err = s.handleCharge(ctx, eventID, event)
		if pkgerrors.IsCode(err, pkgerrors.CodeInvariantViolation) {
			s.logg.Error(ctx, "charge could not be applied", err)
			return err
		}
	case paystack.EventTransferSuccess, paystack.EventTransferFailed, paystack.EventTransferReversed:
		err = s.handleTransfer(ctx, eventID, event)
	case paystack.EventRefundProcessed, paystack.EventRefundFailed:
		err = s.handleRefund(ctx, event)
	default:
		s.logg.Info(ctx, "ignoring unsupported webhook event")
		return nil
	}
	return s.settle(ctx, err)
}

func (s *Service) handleCharge(ctx context.Context, eventID string, event *paystack.Event) error {
	charge, err := event.Charge()
	if err != nil {
		return invalid(err)
	}
	res, err := s.reconciler.ReconcileEvent(ctx, reconciliation.EventFromCharge(eventID, charge, event.Data))
	if err != nil {
		return err
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{"outcome": res.Outcome, "tier": res.Tier}), "charge reconciled")
	return nil
}

func (s *Service) handleTransfer(ctx context.Context, eventID string, event *paystack.Event) error {
	transfer, err := event.Transfer()
	if err != nil {
		return invalid(err)
	}
	res, err := s.payouts.HandleTransferEvent(ctx, eventID, event.Event, transfer, event.Data)
	if err != nil {
		return err
	}
	s.logg.Info(s.logg.WithField(ctx, "outcome", res.Outcome), "transfer event applied")
	return nil
}

func (s *Service) handleRefund(ctx context.Context, event *paystack.Event) error {
	refund, err := event.Refund()
	if err != nil {
		return invalid(err)
	}
	return s.refunds.HandleRefundEvent(ctx, event.Event, refund)
}

func (s *Service) settle(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	switch pkgerrors.CodeOf(err) {
	case pkgerrors.CodeConflict, pkgerrors.CodeStateConflict, pkgerrors.CodeUnmatched:
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "webhook outcome recorded without state change")
		return nil
	case pkgerrors.CodeInvariantViolation:
		s.logg.Error(ctx, "webhook event broke a ledger invariant", err)
		return nil
	}
	return err
}

func invalid(err error) error {
	if errors.Is(err, paystack.ErrInvalidPayload) {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid webhook payload")
	}
	return err
}
