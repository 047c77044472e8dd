package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tradeline-backend/pkg/enums"
)

// RefundRequest is a buyer's claim against a transaction, resolved by an admin.
type RefundRequest struct {
	ID             uuid.UUID                 `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TransactionID  uuid.UUID                 `gorm:"column:transaction_id;type:uuid;not null"`
	BuyerID        uuid.UUID                 `gorm:"column:buyer_id;type:uuid;not null"`
	Reason         string                    `gorm:"column:reason;not null"`
	Status         enums.RefundRequestStatus `gorm:"column:status;type:refund_request_status;not null"`
	ResolvedBy     *uuid.UUID                `gorm:"column:resolved_by;type:uuid"`
	ResolvedAt     *time.Time                `gorm:"column:resolved_at"`
	ResolutionNote *string                   `gorm:"column:resolution_note"`

	GrossKobo       int64                     `gorm:"column:gross_kobo;not null;default:0"`
	GatewayFeeKobo  int64                     `gorm:"column:gateway_fee_kobo;not null;default:0"`
	NetKobo         int64                     `gorm:"column:net_kobo;not null;default:0"`
	GatewayStatus   enums.GatewayRefundStatus `gorm:"column:gateway_status;type:gateway_refund_status;not null;default:not_required"`
	GatewayAttempts int                       `gorm:"column:gateway_attempts;not null;default:0"`
	LastError       *string                   `gorm:"column:last_error"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
