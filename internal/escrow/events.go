package escrow

import (
	"context"

	"gorm.io/gorm"

	"github.com/angelmondragon/tradeline-backend/pkg/db/models"
	"github.com/angelmondragon/tradeline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradeline-backend/pkg/errors"
	"github.com/angelmondragon/tradeline-backend/pkg/outbox"
	"github.com/angelmondragon/tradeline-backend/pkg/outbox/payloads"
)

type eventOption func(*payloads.TransactionEvent)

func withTier(tier enums.MatchTier) eventOption {
	return func(e *payloads.TransactionEvent) { e.MatchTier = tier }
}

func withReason(reason string) eventOption {
	return func(e *payloads.TransactionEvent) { e.Reason = reason }
}

func (m *Machine) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, txn *models.Transaction, opts ...eventOption) error {
	data := payloads.TransactionEvent{
		TransactionID:    txn.ID,
		PaymentReference: txn.PaymentReference,
		BuyerID:          txn.BuyerID,
		SellerID:         txn.SellerID,
		ProductID:        txn.ProductID,
		Status:           txn.Status,
		AmountKobo:       txn.AmountKobo,
		CommissionKobo:   txn.CommissionKobo,
		SellerShareKobo:  txn.SellerShareKobo,
		GatewayFeeKobo:   txn.GatewayFeeKobo,
		OccurredAt:       m.now(),
	}
	if txn.TransferReference != nil {
		data.TransferReference = *txn.TransferReference
	}
	for _, opt := range opts {
		opt(&data)
	}
	err := m.emitter.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateTransaction,
		AggregateID:   txn.ID,
		Data:          data,
		OccurredAt:    data.OccurredAt,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue "+string(eventType))
	}
	return nil
}
