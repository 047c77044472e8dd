package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tradeline-backend/pkg/enums"
)

// Notification is an in-app message for one user. The id is the outbox event
// id that produced it, so redelivery cannot store it twice.
type Notification struct {
	ID        uuid.UUID              `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID              `gorm:"type:uuid;not null;index:idx_notifications_user_created,priority:1" json:"-"`
	Type      enums.NotificationType `gorm:"type:notification_type;not null" json:"type"`
	Title     string                 `gorm:"not null" json:"title"`
	Message   string                 `gorm:"not null" json:"message"`
	Link      *string                `json:"link,omitempty"`
	ReadAt    *time.Time             `json:"read_at,omitempty"`
	CreatedAt time.Time              `gorm:"not null;index:idx_notifications_user_created,priority:2,sort:desc" json:"created_at"`
}
