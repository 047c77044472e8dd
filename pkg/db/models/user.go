package models

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tradeline-backend/pkg/enums"
)

// User is a marketplace participant. A user can buy and sell; gateway-side
// identifiers are cached here once provisioned.
type User struct {
	ID        uuid.UUID      `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Email     string         `gorm:"column:email;not null"`
	FirstName string         `gorm:"column:first_name;not null"`
	LastName  string         `gorm:"column:last_name;not null"`
	Phone     *string        `gorm:"column:phone"`
	Role      enums.UserRole `gorm:"column:role;type:user_role;not null;default:user"`

	GatewayCustomerCode    *string `gorm:"column:gateway_customer_code"`
	DedicatedAccountNumber *string `gorm:"column:dedicated_account_number"`
	DedicatedBankName      *string `gorm:"column:dedicated_bank_name"`
	DedicatedAccountName   *string `gorm:"column:dedicated_account_name"`

	BankCode            *string `gorm:"column:bank_code"`
	BankAccountNumber   *string `gorm:"column:bank_account_number"`
	BankAccountName     *string `gorm:"column:bank_account_name"`
	PayoutRecipientCode *string `gorm:"column:payout_recipient_code"`

	PushToken *string `gorm:"column:push_token"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// HasDedicatedAccount reports whether a collection account was provisioned.
func (u User) HasDedicatedAccount() bool {
	return u.DedicatedAccountNumber != nil && strings.TrimSpace(*u.DedicatedAccountNumber) != ""
}

// HasBankDetails reports whether a transfer recipient can be provisioned.
func (u User) HasBankDetails() bool {
	return u.BankCode != nil && *u.BankCode != "" &&
		u.BankAccountNumber != nil && *u.BankAccountNumber != ""
}
