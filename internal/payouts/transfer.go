package payouts

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradeline-backend/internal/escrow"
	"github.com/angelmondragon/tradeline-backend/pkg/db/models"
	"github.com/angelmondragon/tradeline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradeline-backend/pkg/errors"
	"github.com/angelmondragon/tradeline-backend/pkg/paystack"
)

// transfer claims the transaction and then calls the gateway exactly once.
// An ambiguous failure is resolved by verifying the deterministic reference,
// never by sending a second transfer.
func (e *Engine) transfer(ctx context.Context, txn *models.Transaction, recipient string, amountKobo int64, actor string) (*Result, error) {
	reference := TransferReference(txn.ID)
	var claimed *models.Transaction
	err := e.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		claimed, err = e.machine.BeginTransfer(ctx, tx, txn, reference, actor)
		return err
	})
	if errors.Is(err, escrow.ErrAlreadyApplied) {
		return e.result(OutcomeAlreadyProcessed, claimed), nil
	}
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, e.opts.GatewayTimeout)
	out, err := e.gateway.InitiateTransfer(callCtx, paystack.TransferRequest{
		AmountKobo:    amountKobo,
		RecipientCode: recipient,
		Reference:     reference,
		Reason:        "Tradeline payout " + claimed.PaymentReference,
	})
	cancel()
	if err != nil {
		if paystack.IsRejected(err) {
			e.logError(ctx, "gateway rejected payout transfer", err)
			return e.fail(ctx, claimed, enums.TransactionStatusTransferFailed, actor, rejectionReason(err))
		}
		e.logWarn(e.logg.WithField(ctx, "error", err.Error()), "payout transfer outcome unknown, verifying")
		return e.reconcile(ctx, claimed, escrow.ActorSystem, false)
	}
	return e.applyTransfer(ctx, claimed, out, actor)
}

// FinalizeOTP completes an OTP-gated transfer with the code an admin received.
func (e *Engine) FinalizeOTP(ctx context.Context, txID, adminID uuid.UUID, otp string) (*Result, error) {
	otp = strings.TrimSpace(otp)
	if otp == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "otp required")
	}
	txn, err := e.load(ctx, txID)
	if err != nil {
		return nil, err
	}
	ctx = e.withTxFields(ctx, txn)
	if txn.Status != enums.TransactionStatusTransferInitiated || !txn.OTPRequired || txn.TransferCode == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "transaction has no transfer awaiting an otp")
	}

	callCtx, cancel := context.WithTimeout(ctx, e.opts.GatewayTimeout)
	out, err := e.gateway.FinalizeTransfer(callCtx, *txn.TransferCode, otp)
	cancel()
	if err != nil {
		if paystack.IsRejected(err) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "otp rejected by gateway")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeUpstreamUnavailable, err, "finalize transfer")
	}
	return e.applyTransfer(ctx, txn, out, escrow.ActorUser(enums.UserRoleAdmin, adminID))
}

// ReconcileTransfer asks the gateway what happened to a stale transfer. A
// transfer the gateway has never heard of is marked failed for an operator.
func (e *Engine) ReconcileTransfer(ctx context.Context, txn *models.Transaction) (*Result, error) {
	if txn.Status != enums.TransactionStatusTransferInitiated {
		return e.result(OutcomeAlreadyProcessed, txn), nil
	}
	return e.reconcile(e.withTxFields(ctx, txn), txn, escrow.ActorSystem, true)
}

func (e *Engine) reconcile(ctx context.Context, txn *models.Transaction, actor string, failUnknown bool) (*Result, error) {
	reference := TransferReference(txn.ID)
	if txn.TransferReference != nil {
		reference = *txn.TransferReference
	}
	callCtx, cancel := context.WithTimeout(ctx, e.opts.GatewayTimeout)
	out, err := e.gateway.VerifyTransfer(callCtx, reference)
	cancel()
	if err != nil {
		if failUnknown && paystack.IsRejected(err) {
			return e.fail(ctx, txn, enums.TransactionStatusTransferFailed, actor, "transfer unknown to gateway")
		}
		// stays in transfer_initiated for the transfer-reconcile job
		e.logWarn(e.logg.WithField(ctx, "error", err.Error()), "transfer verification inconclusive")
		return e.result(OutcomeTransferPending, txn), nil
	}
	return e.applyTransfer(ctx, txn, out, actor)
}

// HandleTransferEvent applies a transfer.* webhook.
func (e *Engine) HandleTransferEvent(ctx context.Context, eventID, eventType string, transfer *paystack.Transfer, raw json.RawMessage) (*Result, error) {
	txn, err := e.store.Transactions.FindByTransferReference(ctx, transfer.Reference)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction by transfer")
		}
		return e.recordUnknownTransfer(ctx, eventID, eventType, transfer, raw)
	}
	ctx = e.withTxFields(ctx, txn)

	status := transfer.Status
	switch eventType {
	case paystack.EventTransferSuccess:
		status = paystack.TransferStatusSuccess
	case paystack.EventTransferFailed:
		status = paystack.TransferStatusFailed
	case paystack.EventTransferReversed:
		status = paystack.TransferStatusReversed
	}
	if target, terminal := terminalStatus(status); terminal && txn.Status != enums.TransactionStatusTransferInitiated {
		if txn.Status == target {
			return e.result(OutcomeAlreadyProcessed, txn), nil
		}
		err := pkgerrors.New(pkgerrors.CodeInvariantViolation, "transfer event contradicts transaction state").
			WithDetails(map[string]any{"status": txn.Status, "event": eventType})
		e.logError(ctx, "transfer event rejected", err)
		return nil, err
	}
	out := *transfer
	out.Status = status
	return e.applyTransfer(ctx, txn, &out, escrow.ActorWebhook)
}

func (e *Engine) applyTransfer(ctx context.Context, txn *models.Transaction, out *paystack.Transfer, actor string) (*Result, error) {
	switch strings.ToLower(out.Status) {
	case paystack.TransferStatusSuccess:
		var updated *models.Transaction
		err := e.db.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			updated, err = e.machine.CompletePayout(ctx, tx, txn, actor)
			return err
		})
		if errors.Is(err, escrow.ErrAlreadyApplied) {
			return e.result(OutcomeAlreadyProcessed, updated), nil
		}
		if err != nil {
			return nil, err
		}
		e.logInfo(ctx, "payout completed")
		return e.result(OutcomeCompleted, updated), nil
	case paystack.TransferStatusFailed:
		return e.fail(ctx, txn, enums.TransactionStatusTransferFailed, actor, "gateway reported transfer failed")
	case paystack.TransferStatusReversed:
		return e.fail(ctx, txn, enums.TransactionStatusReversed, actor, "gateway reversed transfer")
	case paystack.TransferStatusOTP:
		if err := e.recordCode(ctx, txn, out.TransferCode, true); err != nil {
			return nil, err
		}
		e.logWarn(ctx, "payout awaiting otp")
		return e.result(OutcomeOTPRequired, txn), nil
	default:
		if err := e.recordCode(ctx, txn, out.TransferCode, false); err != nil {
			return nil, err
		}
		return e.result(OutcomeTransferPending, txn), nil
	}
}

func (e *Engine) fail(ctx context.Context, txn *models.Transaction, to enums.TransactionStatus, actor, reason string) (*Result, error) {
	var updated *models.Transaction
	err := e.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		updated, err = e.machine.FailPayout(ctx, tx, txn, to, actor, reason)
		return err
	})
	if errors.Is(err, escrow.ErrAlreadyApplied) {
		return e.result(OutcomeAlreadyProcessed, updated), nil
	}
	if err != nil {
		return nil, err
	}
	e.logError(e.logg.WithField(ctx, "reason", reason), "payout failed", nil)
	return e.result(OutcomeFailed, updated), nil
}

func (e *Engine) recordCode(ctx context.Context, txn *models.Transaction, code string, otp bool) error {
	err := e.db.WithTx(ctx, func(tx *gorm.DB) error {
		return e.machine.RecordTransferCode(ctx, tx, txn, code, otp)
	})
	if err != nil {
		return err
	}
	txn.OTPRequired = otp
	if code != "" {
		txn.TransferCode = &code
	}
	return nil
}

func (e *Engine) recordUnknownTransfer(ctx context.Context, eventID, eventType string, transfer *paystack.Transfer, raw json.RawMessage) (*Result, error) {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	reference := transfer.Reference
	_, err := e.store.Unmatched.Record(ctx, &models.UnmatchedEvent{
		GatewayEventID:     eventID,
		EventType:          eventType,
		AmountKobo:         transfer.AmountKobo,
		ExtractedReference: &reference,
		Reason:             enums.UnmatchedReasonUnknownTransfer,
		Payload:            raw,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record unknown transfer")
	}
	e.logWarn(e.logg.WithField(ctx, "transfer_reference", reference), "transfer event for unknown reference")
	return &Result{Outcome: OutcomeUnknownTransfer}, nil
}

func terminalStatus(status string) (enums.TransactionStatus, bool) {
	switch strings.ToLower(status) {
	case paystack.TransferStatusSuccess:
		return enums.TransactionStatusCompleted, true
	case paystack.TransferStatusFailed:
		return enums.TransactionStatusTransferFailed, true
	case paystack.TransferStatusReversed:
		return enums.TransactionStatusReversed, true
	}
	return "", false
}

func rejectionReason(err error) string {
	var gwErr *paystack.Error
	if errors.As(err, &gwErr) && gwErr.Message != "" {
		return "gateway rejected transfer: " + gwErr.Message
	}
	return "gateway rejected transfer"
}
