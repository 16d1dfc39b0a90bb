package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/keymarket-backend/pkg/enums"
)

// PaymentAnomaly flags a payment event an operator has to look at.
type PaymentAnomaly struct {
	ID             uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	OrderID        *uuid.UUID               `gorm:"column:order_id;type:uuid"`
	Kind           enums.PaymentAnomalyKind `gorm:"column:kind;not null"`
	PaymentAddress string                   `gorm:"column:payment_address;not null"`
	TransactionID  string                   `gorm:"column:transaction_id;not null"`
	ExpectedAmount decimal.NullDecimal      `gorm:"column:expected_amount;type:numeric(20,8)"`
	ReceivedAmount decimal.Decimal          `gorm:"column:received_amount;type:numeric(20,8);not null"`
	Confirmations  int                      `gorm:"column:confirmations;not null;default:0"`
	Detail         string                   `gorm:"column:detail;not null"`
	ResolvedAt     *time.Time               `gorm:"column:resolved_at"`
	CreatedAt      time.Time                `gorm:"column:created_at;autoCreateTime"`
}

func (a *PaymentAnomaly) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
