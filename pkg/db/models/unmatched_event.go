package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tradeline-backend/pkg/enums"
)

// UnmatchedEvent parks a gateway event that could not be tied to a pending
// transaction so an operator can resolve it by hand.
type UnmatchedEvent struct {
	ID                    uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	GatewayEventID        string                `gorm:"column:gateway_event_id;not null"`
	EventType             string                `gorm:"column:event_type;not null"`
	AmountKobo            int64                 `gorm:"column:amount_kobo;not null"`
	ChannelIdentifier     *string               `gorm:"column:channel_identifier"`
	Email                 *string               `gorm:"column:email"`
	ExtractedReference    *string               `gorm:"column:extracted_reference"`
	Reason                enums.UnmatchedReason `gorm:"column:reason;type:unmatched_reason;not null"`
	HighValue             bool                  `gorm:"column:high_value;not null;default:false"`
	Payload               json.RawMessage       `gorm:"column:payload;type:jsonb;not null"`
	ResolvedTransactionID *uuid.UUID            `gorm:"column:resolved_transaction_id;type:uuid"`
	ResolvedBy            *uuid.UUID            `gorm:"column:resolved_by;type:uuid"`
	ResolvedAt            *time.Time            `gorm:"column:resolved_at"`
	CreatedAt             time.Time             `gorm:"column:created_at;autoCreateTime"`
}
