package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/keymarket-backend/pkg/enums"
)

// LedgerEvent records an immutable earnings movement tied to an order.
type LedgerEvent struct {
	ID        uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	OrderID   uuid.UUID             `gorm:"column:order_id;type:uuid;not null"`
	SellerID  uuid.UUID             `gorm:"column:seller_id;type:uuid;not null"`
	BuyerID   *uuid.UUID            `gorm:"column:buyer_id;type:uuid"`
	Type      enums.LedgerEventType `gorm:"column:type;not null"`
	Amount    decimal.Decimal       `gorm:"column:amount;type:numeric(20,8);not null"`
	Metadata  json.RawMessage       `gorm:"column:metadata;type:jsonb"`
	CreatedAt time.Time             `gorm:"column:created_at;autoCreateTime"`
}

func (e *LedgerEvent) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
