package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/tradeline-backend/internal/ledger"
	"github.com/angelmondragon/tradeline-backend/internal/notifications"
	"github.com/angelmondragon/tradeline-backend/pkg/db/models"
	"github.com/angelmondragon/tradeline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradeline-backend/pkg/errors"
	"github.com/angelmondragon/tradeline-backend/pkg/money"
	"github.com/angelmondragon/tradeline-backend/pkg/outbox"
	"github.com/angelmondragon/tradeline-backend/pkg/outbox/payloads"
)

// ErrProductAlreadySold means another transaction owns the product. The
// caller must roll back the surrounding database transaction.
var ErrProductAlreadySold = errors.New("product already sold")

// Payment is the gateway evidence that moves a transaction into escrow.
type Payment struct {
	GatewayReference string
	GatewayFeeKobo   int64
	PaidAt           time.Time
	Tier             enums.MatchTier
	Actor            string
}

// EnterEscrow moves an awaiting_payment transaction to in_escrow. Inside the
// same database transaction it marks the product sold, records the escrow
// split, reserves commission on the platform wallet and queues the receipt
// and party notifications.
func (m *Machine) EnterEscrow(ctx context.Context, tx *gorm.DB, txn *models.Transaction, payment Payment) (*models.Transaction, error) {
	if txn == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction required")
	}
	paidAt := payment.PaidAt.UTC()
	if payment.PaidAt.IsZero() {
		paidAt = m.now()
	}
	split, err := m.splitter.Split(txn.AmountKobo)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInvariantViolation, err, "compute commission")
	}

	fields := map[string]any{
		"paid_at":           paidAt,
		"gateway_fee_kobo":  payment.GatewayFeeKobo,
		"commission_kobo":   split.CommissionKobo,
		"seller_share_kobo": split.SellerShareKobo,
	}
	if payment.GatewayReference != "" {
		fields["gateway_reference"] = payment.GatewayReference
	}

	updated, err := m.Apply(ctx, tx, Transition{
		TransactionID: txn.ID,
		From:          enums.TransactionStatusAwaitingPayment,
		To:            enums.TransactionStatusInEscrow,
		Fields:        fields,
		Actor:         actorOr(payment.Actor, ActorWebhook),
		Note:          "matched by " + string(payment.Tier),
	})
	if err != nil {
		return updated, err
	}

	store := m.store.WithTx(tx)
	sold, err := store.Products.MarkSold(ctx, updated.ProductID, updated.ID, paidAt)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark product sold")
	}
	if sold == 0 {
		return nil, ErrProductAlreadySold
	}

	if err := store.Escrows.Upsert(ctx, &models.Escrow{
		TransactionID:   updated.ID,
		AmountKobo:      split.AmountKobo,
		CommissionKobo:  split.CommissionKobo,
		SellerShareKobo: split.SellerShareKobo,
		Status:          enums.EscrowStatusInEscrow,
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record escrow")
	}

	if err := store.Wallet.ReserveCommission(ctx, updated.ID, updated.PaymentReference, split.CommissionKobo); err != nil && !errors.Is(err, ledger.ErrEntryExists) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve commission")
	}

	if err := m.queueEscrowEffects(ctx, tx, store, updated, payment.Tier); err != nil {
		return nil, err
	}
	return updated, nil
}

func (m *Machine) queueEscrowEffects(ctx context.Context, tx *gorm.DB, store *ledger.Store, txn *models.Transaction, tier enums.MatchTier) error {
	product, err := store.Products.FindByID(ctx, txn.ProductID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}
	buyer, err := store.Users.FindByID(ctx, txn.BuyerID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load buyer")
	}
	seller, err := store.Users.FindByID(ctx, txn.SellerID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load seller")
	}

	if err := m.emit(ctx, tx, enums.EventPaymentEscrowed, txn, withTier(tier)); err != nil {
		return err
	}

	paidAt := m.now()
	if txn.PaidAt != nil {
		paidAt = *txn.PaidAt
	}
	if err := m.emitter.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventReceiptRequested,
		AggregateType: enums.AggregateTransaction,
		AggregateID:   txn.ID,
		Data: payloads.ReceiptRequestedEvent{
			TransactionID:    txn.ID,
			PaymentReference: txn.PaymentReference,
			ProductTitle:     product.Title,
			BuyerName:        buyer.FullName(),
			BuyerEmail:       buyer.Email,
			SellerName:       seller.FullName(),
			AmountKobo:       txn.AmountKobo,
			CommissionKobo:   txn.CommissionKobo,
			SellerShareKobo:  txn.SellerShareKobo,
			PaidAt:           paidAt,
		},
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue receipt")
	}

	txID := txn.ID
	if err := m.notifier.Notify(ctx, tx, buyer.ID, enums.NotificationTypePaymentReceived, notifications.Payload{
		Title:         "Payment received",
		Message:       fmt.Sprintf("We received %s for %s. It is held in escrow until you confirm delivery.", money.FormatNaira(txn.AmountKobo), product.Title),
		TransactionID: &txID,
		Data:          map[string]string{"payment_reference": txn.PaymentReference},
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue buyer notification")
	}
	if err := m.notifier.Notify(ctx, tx, seller.ID, enums.NotificationTypeSaleInEscrow, notifications.Payload{
		Title:         "Item sold",
		Message:       fmt.Sprintf("%s was paid for. %s will be released to you after the buyer confirms delivery.", product.Title, money.FormatNaira(txn.SellerShareKobo)),
		TransactionID: &txID,
		Data:          map[string]string{"payment_reference": txn.PaymentReference},
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue seller notification")
	}
	return nil
}

// Cancel closes an unpaid transaction. expired marks system expiry, which
// also tells the buyer.
func (m *Machine) Cancel(ctx context.Context, tx *gorm.DB, txn *models.Transaction, actor, reason string, expired bool) (*models.Transaction, error) {
	if txn == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction required")
	}
	updated, err := m.Apply(ctx, tx, Transition{
		TransactionID: txn.ID,
		From:          enums.TransactionStatusAwaitingPayment,
		To:            enums.TransactionStatusCancelled,
		Fields:        map[string]any{"cancelled_at": m.now()},
		Actor:         actor,
		Note:          reason,
	})
	if err != nil {
		return updated, err
	}
	if err := m.emit(ctx, tx, enums.EventPaymentCancelled, updated, withReason(reason)); err != nil {
		return nil, err
	}
	if expired {
		txID := updated.ID
		if err := m.notifier.Notify(ctx, tx, updated.BuyerID, enums.NotificationTypePaymentExpired, notifications.Payload{
			Title:         "Payment window closed",
			Message:       fmt.Sprintf("We did not receive payment for reference %s in time. Start a new payment if you still want the item.", updated.PaymentReference),
			TransactionID: &txID,
		}); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue expiry notification")
		}
	}
	return updated, nil
}

func actorOr(actor, fallback string) string {
	if actor == "" {
		return fallback
	}
	return actor
}
