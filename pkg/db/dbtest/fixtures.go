package dbtest

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradeline-backend/pkg/db/models"
	"github.com/angelmondragon/tradeline-backend/pkg/enums"
)

// UserOption mutates a seeded user before insert.
type UserOption func(*models.User)

// WithBankDetails gives the user a payout bank account.
func WithBankDetails(code, number, name string) UserOption {
	return func(u *models.User) {
		u.BankCode = &code
		u.BankAccountNumber = &number
		u.BankAccountName = &name
	}
}

// WithDedicatedAccount gives the user a provisioned collection account.
func WithDedicatedAccount(customerCode, number, bank string) UserOption {
	return func(u *models.User) {
		u.GatewayCustomerCode = &customerCode
		u.DedicatedAccountNumber = &number
		u.DedicatedBankName = &bank
		name := "TRADELINE/" + u.FirstName
		u.DedicatedAccountName = &name
	}
}

func WithRole(role enums.UserRole) UserOption {
	return func(u *models.User) { u.Role = role }
}

func SeedUser(t testing.TB, db *gorm.DB, email string, opts ...UserOption) models.User {
	t.Helper()
	user := models.User{
		ID:        uuid.New(),
		Email:     email,
		FirstName: "Ada",
		LastName:  "Obi",
		Role:      enums.UserRoleUser,
	}
	for _, opt := range opts {
		opt(&user)
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

func SeedProduct(t testing.TB, db *gorm.DB, sellerID uuid.UUID, priceKobo int64) models.Product {
	t.Helper()
	product := models.Product{
		ID:        uuid.New(),
		SellerID:  sellerID,
		Title:     "Used iPhone 12",
		PriceKobo: priceKobo,
	}
	if err := db.Create(&product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return product
}

// SeedTransaction inserts a transaction in the given status on a dedicated
// account channel. createdAt defaults to now.
func SeedTransaction(t testing.TB, db *gorm.DB, buyer models.User, product models.Product, status enums.TransactionStatus, reference string, createdAt time.Time) models.Transaction {
	t.Helper()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	account := "9900000001"
	if buyer.DedicatedAccountNumber != nil {
		account = *buyer.DedicatedAccountNumber
	}
	tx := models.Transaction{
		ID:                   uuid.New(),
		PaymentReference:     reference,
		BuyerID:              buyer.ID,
		SellerID:             product.SellerID,
		ProductID:            product.ID,
		AmountKobo:           product.PriceKobo,
		Status:               status,
		ChannelType:          enums.ChannelTypeDedicatedAccount,
		ChannelKey:           "acct:" + account,
		ChannelAccountNumber: account,
		ChannelBankName:      "Wema Bank",
		ChannelAccountName:   "TRADELINE/" + buyer.FirstName,
		ChannelCustomerCode:  buyer.GatewayCustomerCode,
		CreatedAt:            createdAt.UTC(),
		UpdatedAt:            createdAt.UTC(),
	}
	if err := db.Create(&tx).Error; err != nil {
		t.Fatalf("seed transaction: %v", err)
	}
	return tx
}

// SetWalletBalance overwrites the singleton wallet.
func SetWalletBalance(t testing.TB, db *gorm.DB, available, reserved int64) {
	t.Helper()
	err := db.Model(&models.PlatformWallet{}).
		Where("id = ?", models.PlatformWalletID).
		Updates(map[string]any{"available_kobo": available, "reserved_kobo": reserved}).Error
	if err != nil {
		t.Fatalf("set wallet: %v", err)
	}
}
