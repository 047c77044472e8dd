package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	dbpkg "github.com/angelmondragon/tradeline-backend/pkg/db"
	"github.com/angelmondragon/tradeline-backend/pkg/db/models"
	"github.com/angelmondragon/tradeline-backend/pkg/enums"
)

const walletEntryConstraint = "uq_wallet_entries_reference_type"

// ErrEntryExists is returned when a wallet entry with the same reference and
// type was already written.
var ErrEntryExists = errors.New("wallet entry already recorded")

// WalletRepository mutates the singleton platform wallet. Balances only ever
// move through atomic increments paired with an append-only entry.
type WalletRepository struct {
	db *gorm.DB
}

func NewWalletRepository(db *gorm.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

func (r *WalletRepository) WithTx(tx *gorm.DB) *WalletRepository {
	if tx == nil {
		return r
	}
	return &WalletRepository{db: tx}
}

func (r *WalletRepository) Get(ctx context.Context) (*models.PlatformWallet, error) {
	var wallet models.PlatformWallet
	if err := r.db.WithContext(ctx).First(&wallet, "id = ?", models.PlatformWalletID).Error; err != nil {
		return nil, err
	}
	return &wallet, nil
}

// ReserveCommission holds commission for an escrowed transaction.
func (r *WalletRepository) ReserveCommission(ctx context.Context, transactionID uuid.UUID, reference string, amountKobo int64) error {
	return r.apply(ctx, enums.WalletEntryCommissionReserved, transactionID, reference, amountKobo, 0, amountKobo, "commission reserved on escrow entry")
}

// EarnCommission moves reserved commission to available on payout completion.
func (r *WalletRepository) EarnCommission(ctx context.Context, transactionID uuid.UUID, reference string, amountKobo int64) error {
	return r.apply(ctx, enums.WalletEntryCommissionEarned, transactionID, reference, amountKobo, amountKobo, -amountKobo, "commission earned on payout")
}

// ReleaseCommission drops the reservation of a refunded transaction.
func (r *WalletRepository) ReleaseCommission(ctx context.Context, transactionID uuid.UUID, reference string, amountKobo int64) error {
	return r.apply(ctx, enums.WalletEntryCommissionReleased, transactionID, reference, amountKobo, 0, -amountKobo, "commission released on refund")
}

func (r *WalletRepository) apply(ctx context.Context, entryType enums.WalletEntryType, transactionID uuid.UUID, reference string, amountKobo, availableDelta, reservedDelta int64, purpose string) error {
	if amountKobo < 0 {
		return fmt.Errorf("wallet amount must be non-negative, got %d", amountKobo)
	}
	txID := transactionID
	entry := models.WalletEntry{
		ID:            uuid.New(),
		EntryType:     entryType,
		AmountKobo:    amountKobo,
		Reference:     reference,
		Purpose:       purpose,
		TransactionID: &txID,
		CreatedAt:     time.Now().UTC(),
	}
	db := r.db.WithContext(ctx)
	// DO NOTHING keeps an enclosing Postgres transaction usable on a replay.
	created := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&entry)
	if created.Error != nil {
		if dbpkg.IsUniqueViolation(created.Error, walletEntryConstraint) {
			return ErrEntryExists
		}
		return created.Error
	}
	if created.RowsAffected == 0 {
		return ErrEntryExists
	}
	if amountKobo == 0 {
		return nil
	}
	res := db.Model(&models.PlatformWallet{}).
		Where("id = ?", models.PlatformWalletID).
		Updates(map[string]any{
			"available_kobo": gorm.Expr("available_kobo + ?", availableDelta),
			"reserved_kobo":  gorm.Expr("reserved_kobo + ?", reservedDelta),
			"updated_at":     time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.New("platform wallet row missing")
	}
	return nil
}

func (r *WalletRepository) ListEntries(ctx context.Context, transactionID uuid.UUID) ([]models.WalletEntry, error) {
	var rows []models.WalletEntry
	err := r.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}
