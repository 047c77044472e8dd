package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tradeline-backend/pkg/enums"
)

// PlatformWalletID is the primary key of the singleton wallet row.
const PlatformWalletID = 1

// PlatformWallet tracks commission the platform holds or has earned.
type PlatformWallet struct {
	ID            int       `gorm:"column:id;primaryKey"`
	AvailableKobo int64     `gorm:"column:available_kobo;not null;default:0"`
	ReservedKobo  int64     `gorm:"column:reserved_kobo;not null;default:0"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// WalletEntry is an append-only ledger line backing every wallet mutation.
type WalletEntry struct {
	ID            uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	EntryType     enums.WalletEntryType `gorm:"column:entry_type;type:wallet_entry_type;not null"`
	AmountKobo    int64                 `gorm:"column:amount_kobo;not null"`
	Reference     string                `gorm:"column:reference;not null"`
	Purpose       string                `gorm:"column:purpose;not null"`
	TransactionID *uuid.UUID            `gorm:"column:transaction_id;type:uuid"`
	CreatedAt     time.Time             `gorm:"column:created_at;autoCreateTime"`
}
