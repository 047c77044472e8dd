package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tradeline-backend/pkg/enums"
)

// Transaction is the ledger row for one buyer paying for one product.
type Transaction struct {
	ID               uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	PaymentReference string                  `gorm:"column:payment_reference;not null;uniqueIndex"`
	BuyerID          uuid.UUID               `gorm:"column:buyer_id;type:uuid;not null"`
	SellerID         uuid.UUID               `gorm:"column:seller_id;type:uuid;not null"`
	ProductID        uuid.UUID               `gorm:"column:product_id;type:uuid;not null"`
	AmountKobo       int64                   `gorm:"column:amount_kobo;not null"`
	Status           enums.TransactionStatus `gorm:"column:status;type:transaction_status;not null"`

	ChannelType          enums.ChannelType `gorm:"column:channel_type;type:channel_type;not null"`
	ChannelKey           string            `gorm:"column:channel_key;not null"`
	ChannelAccountNumber string            `gorm:"column:channel_account_number;not null"`
	ChannelBankName      string            `gorm:"column:channel_bank_name;not null"`
	ChannelAccountName   string            `gorm:"column:channel_account_name;not null"`
	ChannelCustomerCode  *string           `gorm:"column:channel_customer_code"`

	GatewayReference *string `gorm:"column:gateway_reference"`
	GatewayFeeKobo   int64   `gorm:"column:gateway_fee_kobo;not null;default:0"`
	CommissionKobo   int64   `gorm:"column:commission_kobo;not null;default:0"`
	SellerShareKobo  int64   `gorm:"column:seller_share_kobo;not null;default:0"`

	TransferReference *string `gorm:"column:transfer_reference"`
	TransferCode      *string `gorm:"column:transfer_code"`
	OTPRequired       bool    `gorm:"column:otp_required;not null;default:false"`
	ReceiptURL        *string `gorm:"column:receipt_url"`

	PaidAt              *time.Time `gorm:"column:paid_at"`
	DeliveryConfirmedAt *time.Time `gorm:"column:delivery_confirmed_at"`
	CompletedAt         *time.Time `gorm:"column:completed_at"`
	CancelledAt         *time.Time `gorm:"column:cancelled_at"`
	RefundedAt          *time.Time `gorm:"column:refunded_at"`
	CreatedAt           time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TransactionTransition is the append-only audit row for an applied status
// change. (payment_reference, to_status) is unique.
type TransactionTransition struct {
	ID               uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TransactionID    uuid.UUID               `gorm:"column:transaction_id;type:uuid;not null"`
	PaymentReference string                  `gorm:"column:payment_reference;not null"`
	FromStatus       enums.TransactionStatus `gorm:"column:from_status;type:transaction_status;not null"`
	ToStatus         enums.TransactionStatus `gorm:"column:to_status;type:transaction_status;not null"`
	Actor            string                  `gorm:"column:actor;not null"`
	Note             *string                 `gorm:"column:note"`
	CreatedAt        time.Time               `gorm:"column:created_at;autoCreateTime"`
}
