package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/keymarket-backend/pkg/enums"
)

// OrderCreatedEvent announces a new pending order awaiting payment.
type OrderCreatedEvent struct {
	OrderID          uuid.UUID       `json:"order_id"`
	OrderNumber      string          `json:"order_number"`
	ProductID        uuid.UUID       `json:"product_id"`
	SellerID         uuid.UUID       `json:"seller_id"`
	BuyerEmail       string          `json:"buyer_email"`
	Total            decimal.Decimal `json:"total"`
	PaymentExpiresAt time.Time       `json:"payment_expires_at"`
}

// OrderCompletedEvent carries everything the notifier needs to deliver a key.
type OrderCompletedEvent struct {
	OrderID        uuid.UUID       `json:"order_id"`
	OrderNumber    string          `json:"order_number"`
	ProductID      uuid.UUID       `json:"product_id"`
	SellerID       uuid.UUID       `json:"seller_id"`
	BuyerID        *uuid.UUID      `json:"buyer_id,omitempty"`
	BuyerEmail     string          `json:"buyer_email"`
	LicenseKeyID   uuid.UUID       `json:"license_key_id"`
	Total          decimal.Decimal `json:"total"`
	SellerEarnings decimal.Decimal `json:"seller_earnings"`
	TransactionID  string          `json:"transaction_id"`
	DeliveredAt    time.Time       `json:"delivered_at"`
}

type OrderFailedEvent struct {
	OrderID           uuid.UUID `json:"order_id"`
	OrderNumber       string    `json:"order_number"`
	BuyerEmail        string    `json:"buyer_email"`
	Reason            string    `json:"reason"`
	FulfillmentFailed bool      `json:"fulfillment_failed"`
}

// OrderExpiredEvent describes the payload when a pending order expires.
type OrderExpiredEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	BuyerEmail  string    `json:"buyer_email"`
	ExpiredAt   time.Time `json:"expired_at"`
}

// OrderRefundedEvent is emitted once per refund; LicenseKeyID is the key that
// went back to the pool, when one had been delivered.
type OrderRefundedEvent struct {
	OrderID      uuid.UUID       `json:"order_id"`
	OrderNumber  string          `json:"order_number"`
	SellerID     uuid.UUID       `json:"seller_id"`
	BuyerEmail   string          `json:"buyer_email"`
	Amount       decimal.Decimal `json:"amount"`
	Reason       string          `json:"reason"`
	LicenseKeyID *uuid.UUID      `json:"license_key_id,omitempty"`
	RefundedAt   time.Time       `json:"refunded_at"`
}

type DisputeOpenedEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	SellerID    uuid.UUID `json:"seller_id"`
	BuyerEmail  string    `json:"buyer_email"`
	Reason      string    `json:"reason"`
	OpenedAt    time.Time `json:"opened_at"`
}

type DisputeResolvedEvent struct {
	OrderID     uuid.UUID               `json:"order_id"`
	OrderNumber string                  `json:"order_number"`
	SellerID    uuid.UUID               `json:"seller_id"`
	BuyerEmail  string                  `json:"buyer_email"`
	Resolution  enums.DisputeResolution `json:"resolution"`
	Status      enums.OrderStatus       `json:"status"`
	Notes       string                  `json:"notes,omitempty"`
	ResolvedAt  time.Time               `json:"resolved_at"`
}

// PaymentAmountMismatchEvent flags a confirmed transaction whose amount does
// not match the order; the order itself is left pending.
type PaymentAmountMismatchEvent struct {
	AnomalyID      uuid.UUID       `json:"anomaly_id"`
	OrderID        uuid.UUID       `json:"order_id"`
	OrderNumber    string          `json:"order_number"`
	PaymentAddress string          `json:"payment_address"`
	TransactionID  string          `json:"transaction_id"`
	Expected       decimal.Decimal `json:"expected"`
	Received       decimal.Decimal `json:"received"`
}

// PaymentUnfulfillableEvent means the buyer paid and no key could be assigned.
type PaymentUnfulfillableEvent struct {
	AnomalyID     uuid.UUID       `json:"anomaly_id"`
	OrderID       uuid.UUID       `json:"order_id"`
	OrderNumber   string          `json:"order_number"`
	ProductID     uuid.UUID       `json:"product_id"`
	SellerID      uuid.UUID       `json:"seller_id"`
	BuyerEmail    string          `json:"buyer_email"`
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
}

type LicenseKeysExpiredEvent struct {
	ProductID uuid.UUID `json:"product_id"`
	SellerID  uuid.UUID `json:"seller_id"`
	Count     int64     `json:"count"`
	ExpiredAt time.Time `json:"expired_at"`
}

type OrderReviewWindowClosedEvent struct {
	OrderID     uuid.UUID  `json:"order_id"`
	OrderNumber string     `json:"order_number"`
	ProductID   uuid.UUID  `json:"product_id"`
	SellerID    uuid.UUID  `json:"seller_id"`
	BuyerID     *uuid.UUID `json:"buyer_id,omitempty"`
	DeliveredAt time.Time  `json:"delivered_at"`
}
