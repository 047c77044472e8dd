package models

import (
	"time"

	"github.com/google/uuid"
)

// Product is a single listed item. Sold is flipped by a conditional update
// so at most one transaction ever owns it.
type Product struct {
	ID                uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SellerID          uuid.UUID  `gorm:"column:seller_id;type:uuid;not null"`
	Title             string     `gorm:"column:title;not null"`
	PriceKobo         int64      `gorm:"column:price_kobo;not null"`
	Sold              bool       `gorm:"column:sold;not null;default:false"`
	SoldAt            *time.Time `gorm:"column:sold_at"`
	SoldTransactionID *uuid.UUID `gorm:"column:sold_transaction_id;type:uuid"`
	CreatedAt         time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
