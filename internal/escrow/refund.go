package escrow

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/angelmondragon/tradeline-backend/internal/ledger"
	"github.com/angelmondragon/tradeline-backend/pkg/db/models"
	"github.com/angelmondragon/tradeline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradeline-backend/pkg/errors"
)

// Refund claims the transaction for a refund. When it was escrowed the
// reserved commission is released and the product goes back on sale.
// The gateway refund itself is the caller's job.
func (m *Machine) Refund(ctx context.Context, tx *gorm.DB, txn *models.Transaction, actor, note string) (*models.Transaction, error) {
	if txn == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction required")
	}
	from := txn.Status
	updated, err := m.Apply(ctx, tx, Transition{
		TransactionID: txn.ID,
		From:          from,
		To:            enums.TransactionStatusRefunded,
		Fields:        map[string]any{"refunded_at": m.now()},
		Actor:         actor,
		Note:          note,
	})
	if err != nil {
		return updated, err
	}
	if from != enums.TransactionStatusInEscrow {
		return updated, nil
	}

	store := m.store.WithTx(tx)
	held, err := m.heldEscrow(ctx, tx, updated)
	if err != nil {
		return nil, err
	}
	if err := store.Wallet.ReleaseCommission(ctx, updated.ID, updated.PaymentReference, held.CommissionKobo); err != nil && !errors.Is(err, ledger.ErrEntryExists) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release commission")
	}
	if err := store.Escrows.SetStatus(ctx, updated.ID, enums.EscrowStatusRefunded); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "refund escrow")
	}
	if _, err := store.Products.Relist(ctx, updated.ProductID, updated.ID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "relist product")
	}
	return updated, nil
}
