package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tradeline-backend/pkg/enums"
)

// Escrow holds the split of a paid transaction until payout or refund.
type Escrow struct {
	ID              uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TransactionID   uuid.UUID          `gorm:"column:transaction_id;type:uuid;not null;uniqueIndex"`
	AmountKobo      int64              `gorm:"column:amount_kobo;not null"`
	CommissionKobo  int64              `gorm:"column:commission_kobo;not null"`
	SellerShareKobo int64              `gorm:"column:seller_share_kobo;not null"`
	Status          enums.EscrowStatus `gorm:"column:status;type:escrow_status;not null"`
	CreatedAt       time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
