package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/keymarket-backend/pkg/enums"
)

// ProductSnapshot is copied from the catalog when the order is created and
// never rewritten.
type ProductSnapshot struct {
	Name           string          `gorm:"column:name;not null"`
	Game           string          `gorm:"column:game;not null"`
	Price          decimal.Decimal `gorm:"column:price;type:numeric(20,8);not null"`
	Duration       string          `gorm:"column:duration;not null"`
	InstructionURL *string         `gorm:"column:instruction_url"`
	SupportContact *string         `gorm:"column:support_contact"`
}

// Order is one purchase attempt from intake to a terminal state.
type Order struct {
	ID          uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	OrderNumber string          `gorm:"column:order_number;not null;uniqueIndex"`
	BuyerID     *uuid.UUID      `gorm:"column:buyer_id;type:uuid"`
	BuyerEmail  string          `gorm:"column:buyer_email;not null"`
	SellerID    uuid.UUID       `gorm:"column:seller_id;type:uuid;not null"`
	ProductID   uuid.UUID       `gorm:"column:product_id;type:uuid;not null"`
	Product     ProductSnapshot `gorm:"embedded;embeddedPrefix:snapshot_"`

	Quantity       int             `gorm:"column:quantity;not null;default:1"`
	Total          decimal.Decimal `gorm:"column:total;type:numeric(20,8);not null"`
	CommissionRate decimal.Decimal `gorm:"column:commission_rate;type:numeric(5,4);not null"`
	Commission     decimal.Decimal `gorm:"column:commission;type:numeric(20,8);not null"`
	SellerEarnings decimal.Decimal `gorm:"column:seller_earnings;type:numeric(20,8);not null"`

	Status enums.OrderStatus `gorm:"column:status;not null"`

	PaymentMethod        enums.PaymentMethod `gorm:"column:payment_method;not null"`
	PaymentStatus        enums.PaymentStatus `gorm:"column:payment_status;not null"`
	PaymentCurrency      enums.Currency      `gorm:"column:payment_currency;not null"`
	PaymentAddress       *string             `gorm:"column:payment_address;uniqueIndex"`
	PaymentAmount        decimal.NullDecimal `gorm:"column:payment_amount;type:numeric(20,8)"`
	PaymentExpiresAt     time.Time           `gorm:"column:payment_expires_at;not null"`
	PaymentTxID          *string             `gorm:"column:payment_tx_id"`
	PaymentConfirmations int                 `gorm:"column:payment_confirmations;not null;default:0"`
	PaidAt               *time.Time          `gorm:"column:paid_at"`

	LicenseKeyID      *uuid.UUID `gorm:"column:license_key_id;type:uuid"`
	LicenseCode       *string    `gorm:"column:license_code"`
	DeliveredAt       *time.Time `gorm:"column:delivered_at"`
	FulfillmentFailed bool       `gorm:"column:fulfillment_failed;not null;default:false"`
	RefundedAt        *time.Time `gorm:"column:refunded_at"`
	RefundReason      *string    `gorm:"column:refund_reason"`

	DisputeOpen       bool       `gorm:"column:dispute_open;not null;default:false"`
	DisputeReason     *string    `gorm:"column:dispute_reason"`
	DisputeOpenedAt   *time.Time `gorm:"column:dispute_opened_at"`
	DisputeResolvedAt *time.Time `gorm:"column:dispute_resolved_at"`
	DisputeResolution *string    `gorm:"column:dispute_resolution"`
	DisputeNotes      *string    `gorm:"column:dispute_notes"`

	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// PaymentExpired reports whether the payment window closed at or before now.
func (o Order) PaymentExpired(now time.Time) bool {
	return !now.Before(o.PaymentExpiresAt)
}
