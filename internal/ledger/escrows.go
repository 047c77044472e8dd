package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/tradeline-backend/pkg/db/models"
	"github.com/angelmondragon/tradeline-backend/pkg/enums"
)

type EscrowRepository struct {
	db *gorm.DB
}

func NewEscrowRepository(db *gorm.DB) *EscrowRepository {
	return &EscrowRepository{db: db}
}

func (r *EscrowRepository) WithTx(tx *gorm.DB) *EscrowRepository {
	if tx == nil {
		return r
	}
	return &EscrowRepository{db: tx}
}

// Upsert creates the escrow for a transaction or refreshes its split if a
// row already exists. The row is never deleted.
func (r *EscrowRepository) Upsert(ctx context.Context, escrow *models.Escrow) error {
	if escrow.ID == uuid.Nil {
		escrow.ID = uuid.New()
	}
	now := time.Now().UTC()
	escrow.CreatedAt = now
	escrow.UpdatedAt = now
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "transaction_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"amount_kobo", "commission_kobo", "seller_share_kobo", "status", "updated_at"}),
		}).
		Create(escrow).Error
}

func (r *EscrowRepository) FindByTransactionID(ctx context.Context, transactionID uuid.UUID) (*models.Escrow, error) {
	var escrow models.Escrow
	if err := r.db.WithContext(ctx).First(&escrow, "transaction_id = ?", transactionID).Error; err != nil {
		return nil, err
	}
	return &escrow, nil
}

// SetStatus moves the escrow for transactionID to status.
func (r *EscrowRepository) SetStatus(ctx context.Context, transactionID uuid.UUID, status enums.EscrowStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.Escrow{}).
		Where("transaction_id = ?", transactionID).
		Updates(map[string]any{"status": status, "updated_at": time.Now().UTC()}).Error
}
