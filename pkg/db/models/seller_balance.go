package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SellerBalance holds the earnings counters this service maintains on behalf
// of the seller account. Only paired credit/reverse operations write it.
type SellerBalance struct {
	SellerID          uuid.UUID       `gorm:"column:seller_id;type:uuid;primaryKey"`
	PendingEarnings   decimal.Decimal `gorm:"column:pending_earnings;type:numeric(20,8);not null;default:0"`
	WithdrawnEarnings decimal.Decimal `gorm:"column:withdrawn_earnings;type:numeric(20,8);not null;default:0"`
	TotalEarnings     decimal.Decimal `gorm:"column:total_earnings;type:numeric(20,8);not null;default:0"`
	UpdatedAt         time.Time       `gorm:"column:updated_at"`
}

// BuyerStat holds the purchase counters of a registered buyer.
type BuyerStat struct {
	BuyerID        uuid.UUID       `gorm:"column:buyer_id;type:uuid;primaryKey"`
	TotalPurchases int             `gorm:"column:total_purchases;not null;default:0"`
	TotalSpent     decimal.Decimal `gorm:"column:total_spent;type:numeric(20,8);not null;default:0"`
	UpdatedAt      time.Time       `gorm:"column:updated_at"`
}
