package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/keymarket-backend/pkg/db/models"
	"github.com/angelmondragon/keymarket-backend/pkg/enums"
)

type ProductView struct {
	Name           string          `json:"name"`
	Game           string          `json:"game"`
	Price          decimal.Decimal `json:"price"`
	Duration       string          `json:"duration"`
	InstructionURL *string         `json:"instructionUrl,omitempty"`
	SupportContact *string         `json:"supportContact,omitempty"`
}

type PaymentView struct {
	Method        enums.PaymentMethod `json:"method"`
	Status        enums.PaymentStatus `json:"status"`
	Currency      enums.Currency      `json:"currency"`
	Address       *string             `json:"address,omitempty"`
	Amount        decimal.NullDecimal `json:"amount"`
	ExpiresAt     time.Time           `json:"expiresAt"`
	TransactionID *string             `json:"transactionId,omitempty"`
	Confirmations int                 `json:"confirmations"`
	PaidAt        *time.Time          `json:"paidAt,omitempty"`
}

type DisputeView struct {
	Open       bool       `json:"open"`
	Reason     *string    `json:"reason,omitempty"`
	OpenedAt   *time.Time `json:"openedAt,omitempty"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
	Resolution *string    `json:"resolution,omitempty"`
	Notes      *string    `json:"notes,omitempty"`
}

// OrderView is the wire shape of an order. LicenseCode is only populated
// for the buyer and administrators.
type OrderView struct {
	ID             uuid.UUID         `json:"id"`
	OrderNumber    string            `json:"orderNumber"`
	Status         enums.OrderStatus `json:"status"`
	BuyerEmail     string            `json:"buyerEmail"`
	SellerID       uuid.UUID         `json:"sellerId"`
	ProductID      uuid.UUID         `json:"productId"`
	Product        ProductView       `json:"product"`
	Quantity       int               `json:"quantity"`
	Total          decimal.Decimal   `json:"total"`
	CommissionRate decimal.Decimal   `json:"commissionRate"`
	Commission     decimal.Decimal   `json:"commission"`
	SellerEarnings decimal.Decimal   `json:"sellerEarnings"`
	Payment        PaymentView       `json:"payment"`
	LicenseCode    *string           `json:"licenseCode,omitempty"`
	DeliveredAt    *time.Time        `json:"deliveredAt,omitempty"`
	RefundedAt     *time.Time        `json:"refundedAt,omitempty"`
	RefundReason   *string           `json:"refundReason,omitempty"`
	Dispute        *DisputeView      `json:"dispute,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// NewOrderView maps an order for the wire.
func NewOrderView(order *models.Order, revealCode bool) OrderView {
	view := OrderView{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		Status:      order.Status,
		BuyerEmail:  order.BuyerEmail,
		SellerID:    order.SellerID,
		ProductID:   order.ProductID,
		Product: ProductView{
			Name:           order.Product.Name,
			Game:           order.Product.Game,
			Price:          order.Product.Price,
			Duration:       order.Product.Duration,
			InstructionURL: order.Product.InstructionURL,
			SupportContact: order.Product.SupportContact,
		},
		Quantity:       order.Quantity,
		Total:          order.Total,
		CommissionRate: order.CommissionRate,
		Commission:     order.Commission,
		SellerEarnings: order.SellerEarnings,
		Payment: PaymentView{
			Method:        order.PaymentMethod,
			Status:        order.PaymentStatus,
			Currency:      order.PaymentCurrency,
			Address:       order.PaymentAddress,
			Amount:        order.PaymentAmount,
			ExpiresAt:     order.PaymentExpiresAt,
			TransactionID: order.PaymentTxID,
			Confirmations: order.PaymentConfirmations,
			PaidAt:        order.PaidAt,
		},
		DeliveredAt:  order.DeliveredAt,
		RefundedAt:   order.RefundedAt,
		RefundReason: order.RefundReason,
		CreatedAt:    order.CreatedAt,
		UpdatedAt:    order.UpdatedAt,
	}
	if revealCode {
		view.LicenseCode = order.LicenseCode
	}
	if order.DisputeOpen || order.DisputeOpenedAt != nil {
		view.Dispute = &DisputeView{
			Open:       order.DisputeOpen,
			Reason:     order.DisputeReason,
			OpenedAt:   order.DisputeOpenedAt,
			ResolvedAt: order.DisputeResolvedAt,
			Resolution: order.DisputeResolution,
			Notes:      order.DisputeNotes,
		}
	}
	return view
}

// NewOrderViews maps a page of orders for administrators.
func NewOrderViews(orders []models.Order) []OrderView {
	out := make([]OrderView, 0, len(orders))
	for i := range orders {
		out = append(out, NewOrderView(&orders[i], true))
	}
	return out
}
