package escrow

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/angelmondragon/tradeline-backend/internal/ledger"
	"github.com/angelmondragon/tradeline-backend/internal/notifications"
	"github.com/angelmondragon/tradeline-backend/pkg/db/models"
	"github.com/angelmondragon/tradeline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradeline-backend/pkg/errors"
	"github.com/angelmondragon/tradeline-backend/pkg/money"
)

// BeginTransfer claims the transaction for a gateway transfer. Only one
// caller can win the claim, so at most one transfer is ever started.
func (m *Machine) BeginTransfer(ctx context.Context, tx *gorm.DB, txn *models.Transaction, transferReference, actor string) (*models.Transaction, error) {
	if txn == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction required")
	}
	held, err := m.heldEscrow(ctx, tx, txn)
	if err != nil {
		return nil, err
	}
	fields := map[string]any{
		"transfer_reference": transferReference,
		"commission_kobo":    held.CommissionKobo,
		"seller_share_kobo":  held.SellerShareKobo,
	}
	if txn.DeliveryConfirmedAt == nil {
		fields["delivery_confirmed_at"] = m.now()
	}
	updated, err := m.Apply(ctx, tx, Transition{
		TransactionID: txn.ID,
		From:          txn.Status,
		To:            enums.TransactionStatusTransferInitiated,
		Fields:        fields,
		Actor:         actor,
	})
	if err != nil {
		return updated, err
	}
	if err := m.store.Escrows.WithTx(tx).SetStatus(ctx, txn.ID, enums.EscrowStatusReleased); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release escrow")
	}
	if err := m.emit(ctx, tx, enums.EventPayoutInitiated, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// DeferPayout parks a confirmed delivery until the platform balance can
// cover the seller share.
func (m *Machine) DeferPayout(ctx context.Context, tx *gorm.DB, txn *models.Transaction, actor, reason string) (*models.Transaction, error) {
	if txn == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction required")
	}
	held, err := m.heldEscrow(ctx, tx, txn)
	if err != nil {
		return nil, err
	}
	updated, err := m.Apply(ctx, tx, Transition{
		TransactionID: txn.ID,
		From:          enums.TransactionStatusInEscrow,
		To:            enums.TransactionStatusConfirmedPendingPayout,
		Fields: map[string]any{
			"delivery_confirmed_at": m.now(),
			"commission_kobo":       held.CommissionKobo,
			"seller_share_kobo":     held.SellerShareKobo,
		},
		Actor: actor,
		Note:  reason,
	})
	if err != nil {
		return updated, err
	}
	if err := m.emit(ctx, tx, enums.EventPayoutDeferred, updated, withReason(reason)); err != nil {
		return nil, err
	}
	txID := updated.ID
	if err := m.notifier.Notify(ctx, tx, updated.SellerID, enums.NotificationTypePayoutDeferred, notifications.Payload{
		Title:         "Payout scheduled",
		Message:       fmt.Sprintf("Delivery of %s was confirmed. Your payout of %s is queued and will be sent shortly.", updated.PaymentReference, money.FormatNaira(updated.SellerShareKobo)),
		TransactionID: &txID,
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue deferral notification")
	}
	return updated, nil
}

// RecordTransferCode stores the gateway handle of a started transfer.
func (m *Machine) RecordTransferCode(ctx context.Context, tx *gorm.DB, txn *models.Transaction, transferCode string, otpRequired bool) error {
	fields := map[string]any{"otp_required": otpRequired}
	if transferCode != "" {
		fields["transfer_code"] = transferCode
	}
	_, err := m.store.Transactions.WithTx(tx).UpdateFields(ctx, txn.ID, enums.TransactionStatusTransferInitiated, fields)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record transfer code")
	}
	return nil
}

// CompletePayout finalizes a successful transfer and moves the reserved
// commission to the available balance.
func (m *Machine) CompletePayout(ctx context.Context, tx *gorm.DB, txn *models.Transaction, actor string) (*models.Transaction, error) {
	if txn == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction required")
	}
	updated, err := m.Apply(ctx, tx, Transition{
		TransactionID: txn.ID,
		From:          enums.TransactionStatusTransferInitiated,
		To:            enums.TransactionStatusCompleted,
		Fields:        map[string]any{"completed_at": m.now(), "otp_required": false},
		Actor:         actor,
	})
	if err != nil {
		return updated, err
	}
	store := m.store.WithTx(tx)
	if err := store.Escrows.SetStatus(ctx, updated.ID, enums.EscrowStatusCompleted); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete escrow")
	}
	if err := store.Wallet.EarnCommission(ctx, updated.ID, updated.PaymentReference, updated.CommissionKobo); err != nil && !errors.Is(err, ledger.ErrEntryExists) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "earn commission")
	}
	if err := m.emit(ctx, tx, enums.EventPayoutCompleted, updated); err != nil {
		return nil, err
	}
	txID := updated.ID
	if err := m.notifier.Notify(ctx, tx, updated.SellerID, enums.NotificationTypePayoutCompleted, notifications.Payload{
		Title:         "Payout sent",
		Message:       fmt.Sprintf("%s for %s has been sent to your bank account.", money.FormatNaira(updated.SellerShareKobo), updated.PaymentReference),
		TransactionID: &txID,
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue payout notification")
	}
	return updated, nil
}

// FailPayout records a transfer that failed or was reversed by the gateway.
// The commission stays reserved until an operator resolves the payout.
func (m *Machine) FailPayout(ctx context.Context, tx *gorm.DB, txn *models.Transaction, to enums.TransactionStatus, actor, reason string) (*models.Transaction, error) {
	if txn == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction required")
	}
	escrowStatus, eventType := enums.EscrowStatusTransferFailed, enums.EventPayoutFailed
	switch to {
	case enums.TransactionStatusTransferFailed:
	case enums.TransactionStatusReversed:
		escrowStatus, eventType = enums.EscrowStatusReversed, enums.EventPayoutReversed
	default:
		return nil, pkgerrors.New(pkgerrors.CodeInvariantViolation, fmt.Sprintf("%s is not a payout failure status", to))
	}
	updated, err := m.Apply(ctx, tx, Transition{
		TransactionID: txn.ID,
		From:          enums.TransactionStatusTransferInitiated,
		To:            to,
		Actor:         actor,
		Note:          reason,
	})
	if err != nil {
		return updated, err
	}
	if err := m.store.Escrows.WithTx(tx).SetStatus(ctx, updated.ID, escrowStatus); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update escrow")
	}
	if err := m.emit(ctx, tx, eventType, updated, withReason(reason)); err != nil {
		return nil, err
	}
	txID := updated.ID
	if err := m.notifier.Notify(ctx, tx, updated.SellerID, enums.NotificationTypePayoutFailed, notifications.Payload{
		Title:         "Payout failed",
		Message:       fmt.Sprintf("The transfer for %s did not go through. Our team has been alerted and will follow up.", updated.PaymentReference),
		TransactionID: &txID,
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue payout failure notification")
	}
	return updated, nil
}

func (m *Machine) heldEscrow(ctx context.Context, tx *gorm.DB, txn *models.Transaction) (*models.Escrow, error) {
	held, err := m.store.Escrows.WithTx(tx).FindByTransactionID(ctx, txn.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeInvariantViolation, "transaction has no escrow record").
				WithDetails(map[string]any{"transaction_id": txn.ID})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load escrow")
	}
	return held, nil
}
