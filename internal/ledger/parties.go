package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradeline-backend/pkg/db/models"
)

// UserRepository reads marketplace users and caches gateway identifiers on them.
type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) WithTx(tx *gorm.DB) *UserRepository {
	if tx == nil {
		return r
	}
	return &UserRepository{db: tx}
}

func (r *UserRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	normalized := strings.ToLower(strings.TrimSpace(email))
	if err := r.db.WithContext(ctx).First(&user, "lower(email) = ?", normalized).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// DedicatedAccount is the gateway-side collection account for a buyer.
type DedicatedAccount struct {
	CustomerCode  string
	AccountNumber string
	BankName      string
	AccountName   string
}

// SaveDedicatedAccount caches the provisioned account on the user. Only the
// first writer wins so concurrent provisioning converges on one account.
func (r *UserRepository) SaveDedicatedAccount(ctx context.Context, userID uuid.UUID, account DedicatedAccount) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ? AND dedicated_account_number IS NULL", userID).
		Updates(map[string]any{
			"gateway_customer_code":    account.CustomerCode,
			"dedicated_account_number": account.AccountNumber,
			"dedicated_bank_name":      account.BankName,
			"dedicated_account_name":   account.AccountName,
			"updated_at":               time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

// SaveCustomerCode records the gateway customer before the account exists.
func (r *UserRepository) SaveCustomerCode(ctx context.Context, userID uuid.UUID, code string) error {
	return r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ? AND gateway_customer_code IS NULL", userID).
		Updates(map[string]any{"gateway_customer_code": code, "updated_at": time.Now().UTC()}).Error
}

func (r *UserRepository) SaveRecipientCode(ctx context.Context, userID uuid.UUID, code string) error {
	return r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{"payout_recipient_code": code, "updated_at": time.Now().UTC()}).Error
}

type ProductRepository struct {
	db *gorm.DB
}

func NewProductRepository(db *gorm.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

func (r *ProductRepository) WithTx(tx *gorm.DB) *ProductRepository {
	if tx == nil {
		return r
	}
	return &ProductRepository{db: tx}
}

func (r *ProductRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	if err := r.db.WithContext(ctx).First(&product, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

// MarkSold flips sold only if the product is still available. A zero count
// means another transaction already owns it.
func (r *ProductRepository) MarkSold(ctx context.Context, productID, transactionID uuid.UUID, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ? AND sold = ?", productID, false).
		Updates(map[string]any{
			"sold":                true,
			"sold_at":             at.UTC(),
			"sold_transaction_id": transactionID,
			"updated_at":          time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

// Relist makes a product available again, only if it is owned by transactionID.
func (r *ProductRepository) Relist(ctx context.Context, productID, transactionID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ? AND sold = ? AND sold_transaction_id = ?", productID, true, transactionID).
		Updates(map[string]any{
			"sold":                false,
			"sold_at":             nil,
			"sold_transaction_id": nil,
			"updated_at":          time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}
