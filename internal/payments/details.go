package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/keymarket-backend/pkg/enums"
)

// PaymentDetails is the buyer-facing view of an order's payment.
type PaymentDetails struct {
	OrderID       uuid.UUID           `json:"orderId"`
	OrderNumber   string              `json:"orderNumber"`
	Status        enums.OrderStatus   `json:"status"`
	PaymentStatus enums.PaymentStatus `json:"paymentStatus"`
	Method        enums.PaymentMethod `json:"paymentMethod"`
	Address       string              `json:"paymentAddress,omitempty"`
	Amount        decimal.Decimal     `json:"amount"`
	Currency      enums.Currency      `json:"currency"`
	ExpiresAt     time.Time           `json:"expiresAt"`
	PaymentURI    string              `json:"paymentUri,omitempty"`
	Confirmations int                 `json:"confirmations"`
	TransactionID *string             `json:"transactionId,omitempty"`
}

// PaymentDetails reads an order by id or number, expiring it first when its
// window has closed.
func (e *Engine) PaymentDetails(ctx context.Context, ref string) (*PaymentDetails, error) {
	order, err := e.ledger.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	if order, err = e.ledger.ExpireIfDue(ctx, order.ID); err != nil {
		return nil, err
	}

	req := requestFromOrder(order)
	details := &PaymentDetails{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		Method:        order.PaymentMethod,
		Address:       req.Address,
		Amount:        req.Amount,
		Currency:      req.Currency,
		ExpiresAt:     req.ExpiresAt,
		Confirmations: order.PaymentConfirmations,
		TransactionID: order.PaymentTxID,
	}
	if req.Address != "" {
		details.PaymentURI = fmt.Sprintf("%s:%s?amount=%s", e.paymentScheme, req.Address, req.Amount.String())
	}
	return details, nil
}
