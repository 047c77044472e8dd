package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradeline-backend/pkg/db/models"
	"github.com/angelmondragon/tradeline-backend/pkg/enums"
	"github.com/angelmondragon/tradeline-backend/pkg/pagination"
)

// TransactionRepository persists transactions and their transition log.
type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *TransactionRepository) WithTx(tx *gorm.DB) *TransactionRepository {
	if tx == nil {
		return r
	}
	return &TransactionRepository{db: tx}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *models.Transaction) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	now := time.Now().UTC()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = now
	return r.db.WithContext(ctx).Create(tx).Error
}

func (r *TransactionRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	var tx models.Transaction
	if err := r.db.WithContext(ctx).First(&tx, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *TransactionRepository) FindByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	var tx models.Transaction
	if err := r.db.WithContext(ctx).First(&tx, "payment_reference = ?", reference).Error; err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *TransactionRepository) FindByTransferReference(ctx context.Context, reference string) (*models.Transaction, error) {
	var tx models.Transaction
	if err := r.db.WithContext(ctx).First(&tx, "transfer_reference = ?", reference).Error; err != nil {
		return nil, err
	}
	return &tx, nil
}

// FindByGatewayReference finds the transaction a gateway charge was
// already applied to.
func (r *TransactionRepository) FindByGatewayReference(ctx context.Context, reference string) (*models.Transaction, error) {
	var tx models.Transaction
	if err := r.db.WithContext(ctx).First(&tx, "gateway_reference = ?", reference).Error; err != nil {
		return nil, err
	}
	return &tx, nil
}

// FindPendingByChannel returns the buyer's awaiting_payment transaction on the
// channel, if any.
func (r *TransactionRepository) FindPendingByChannel(ctx context.Context, buyerID uuid.UUID, channelKey string) (*models.Transaction, error) {
	var tx models.Transaction
	err := r.db.WithContext(ctx).
		Where("buyer_id = ? AND channel_key = ? AND status = ?", buyerID, channelKey, enums.TransactionStatusAwaitingPayment).
		First(&tx).Error
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// FindPendingByChannelAmount lists awaiting_payment dedicated-account
// transactions whose account number or customer code matches and whose
// amount is exactly amountKobo.
func (r *TransactionRepository) FindPendingByChannelAmount(ctx context.Context, accountNumber, customerCode string, amountKobo int64) ([]models.Transaction, error) {
	if accountNumber == "" && customerCode == "" {
		return nil, nil
	}
	query := r.db.WithContext(ctx).
		Where("status = ? AND channel_type = ? AND amount_kobo = ?",
			enums.TransactionStatusAwaitingPayment, enums.ChannelTypeDedicatedAccount, amountKobo)
	switch {
	case accountNumber != "" && customerCode != "":
		query = query.Where("channel_account_number = ? OR channel_customer_code = ?", accountNumber, customerCode)
	case accountNumber != "":
		query = query.Where("channel_account_number = ?", accountNumber)
	default:
		query = query.Where("channel_customer_code = ?", customerCode)
	}
	var rows []models.Transaction
	err := query.Order("created_at ASC").Limit(2).Find(&rows).Error
	return rows, err
}

// FindPendingByBuyerAmountWindow lists awaiting_payment transactions for the
// buyer with the exact amount created inside [from, to].
func (r *TransactionRepository) FindPendingByBuyerAmountWindow(ctx context.Context, buyerID uuid.UUID, amountKobo int64, from, to time.Time) ([]models.Transaction, error) {
	var rows []models.Transaction
	err := r.db.WithContext(ctx).
		Where("buyer_id = ? AND status = ? AND amount_kobo = ?", buyerID, enums.TransactionStatusAwaitingPayment, amountKobo).
		Where("created_at >= ? AND created_at <= ?", from.UTC(), to.UTC()).
		Order("created_at ASC").
		Limit(2).
		Find(&rows).Error
	return rows, err
}

// ListByStatusCreatedBefore returns the oldest rows in status created before cutoff.
func (r *TransactionRepository) ListByStatusCreatedBefore(ctx context.Context, status enums.TransactionStatus, cutoff time.Time, limit int) ([]models.Transaction, error) {
	var rows []models.Transaction
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", status, cutoff.UTC()).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// ListStaleTransfers returns transfer_initiated rows untouched since cutoff.
func (r *TransactionRepository) ListStaleTransfers(ctx context.Context, cutoff time.Time, limit int) ([]models.Transaction, error) {
	var rows []models.Transaction
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", enums.TransactionStatusTransferInitiated, cutoff.UTC()).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// ListPendingPayouts returns deferred payouts oldest-first by delivery confirmation.
func (r *TransactionRepository) ListPendingPayouts(ctx context.Context, limit int) ([]models.Transaction, error) {
	var rows []models.Transaction
	err := r.db.WithContext(ctx).
		Where("status = ?", enums.TransactionStatusConfirmedPendingPayout).
		Order("delivery_confirmed_at ASC").
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// TransactionListParams filters the admin listing.
type TransactionListParams struct {
	Status *enums.TransactionStatus
	UserID *uuid.UUID
	Limit  int
	Cursor *pagination.Cursor
}

// List pages through transactions newest-first.
func (r *TransactionRepository) List(ctx context.Context, params TransactionListParams) ([]models.Transaction, *pagination.Cursor, error) {
	query := r.db.WithContext(ctx).Model(&models.Transaction{})
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.UserID != nil {
		query = query.Where("buyer_id = ? OR seller_id = ?", *params.UserID, *params.UserID)
	}

	var rows []models.Transaction
	if err := pagination.Keyset(query, params.Limit, params.Cursor).Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	rows, next := pagination.Trim(rows, params.Limit, func(row models.Transaction) pagination.Cursor {
		return pagination.Cursor{CreatedAt: row.CreatedAt, ID: row.ID}
	})
	return rows, next, nil
}

// CompareAndSetStatus moves the row from one status to another only if it is
// still in from. fields are written in the same statement. The returned count
// is 0 when another writer got there first.
func (r *TransactionRepository) CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to enums.TransactionStatus, fields map[string]any) (int64, error) {
	updates := map[string]any{}
	for k, v := range fields {
		updates[k] = v
	}
	updates["status"] = to
	updates["updated_at"] = time.Now().UTC()
	res := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	return res.RowsAffected, res.Error
}

// UpdateFields writes non-status columns while the row is still in status.
func (r *TransactionRepository) UpdateFields(ctx context.Context, id uuid.UUID, status enums.TransactionStatus, fields map[string]any) (int64, error) {
	if len(fields) == 0 {
		return 0, nil
	}
	updates := map[string]any{"updated_at": time.Now().UTC()}
	for k, v := range fields {
		updates[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ? AND status = ?", id, status).
		Updates(updates)
	return res.RowsAffected, res.Error
}

// SetReceiptURL records the uploaded receipt location regardless of status.
func (r *TransactionRepository) SetReceiptURL(ctx context.Context, id uuid.UUID, url string) error {
	return r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ?", id).
		UpdateColumn("receipt_url", url).Error
}

func (r *TransactionRepository) InsertTransition(ctx context.Context, transition *models.TransactionTransition) error {
	if transition.ID == uuid.Nil {
		transition.ID = uuid.New()
	}
	if transition.CreatedAt.IsZero() {
		transition.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(transition).Error
}

func (r *TransactionRepository) ListTransitions(ctx context.Context, transactionID uuid.UUID) ([]models.TransactionTransition, error) {
	var rows []models.TransactionTransition
	err := r.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}
