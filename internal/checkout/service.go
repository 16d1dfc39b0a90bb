package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/keymarket-backend/internal/orders"
	"github.com/angelmondragon/keymarket-backend/internal/payments"
	"github.com/angelmondragon/keymarket-backend/pkg/db/models"
	"github.com/angelmondragon/keymarket-backend/pkg/enums"
	"github.com/angelmondragon/keymarket-backend/pkg/logger"
	"github.com/angelmondragon/keymarket-backend/pkg/outbox"
)

type orderCreator interface {
	Create(ctx context.Context, input orders.CreateInput) (*models.Order, error)
}

type paymentRequester interface {
	RequestPayment(ctx context.Context, orderID uuid.UUID) (*payments.PaymentRequest, error)
}

// Service executes purchase intake: the order is recorded first, then the
// deposit address is requested for it.
type Service interface {
	Purchase(ctx context.Context, input PurchaseInput) (*PurchaseResult, error)
}

// PurchaseInput is the allow-listed intake payload.
type PurchaseInput struct {
	ProductID uuid.UUID
	Email     string
	BuyerID   *uuid.UUID
	Actor     *outbox.ActorRef
}

// PurchaseResult is returned to the buyer to pay the order.
type PurchaseResult struct {
	OrderID        uuid.UUID       `json:"orderId"`
	OrderNumber    string          `json:"orderNumber"`
	PaymentAddress string          `json:"paymentAddress"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       enums.Currency  `json:"currency"`
	ExpiresAt      time.Time       `json:"expiresAt"`
}

type service struct {
	orders   orderCreator
	payments paymentRequester
	logg     *logger.Logger
}

// NewService builds the checkout service.
func NewService(orders orderCreator, payments paymentRequester, logg *logger.Logger) (Service, error) {
	if orders == nil {
		return nil, fmt.Errorf("order ledger required")
	}
	if payments == nil {
		return nil, fmt.Errorf("payment engine required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{orders: orders, payments: payments, logg: logg}, nil
}

func (s *service) Purchase(ctx context.Context, input PurchaseInput) (*PurchaseResult, error) {
	order, err := s.orders.Create(ctx, orders.CreateInput{
		ProductID:  input.ProductID,
		BuyerEmail: input.Email,
		BuyerID:    input.BuyerID,
		Actor:      input.Actor,
	})
	if err != nil {
		return nil, err
	}

	req, err := s.payments.RequestPayment(ctx, order.ID)
	if err != nil {
		// The order stays pending without an address and expires with the
		// rest of the unpaid orders.
		s.logg.Error(s.logg.WithOrderID(ctx, order.ID.String()), "payment request failed after order creation", err)
		return nil, err
	}

	return &PurchaseResult{
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		PaymentAddress: req.Address,
		Amount:         req.Amount,
		Currency:       req.Currency,
		ExpiresAt:      req.ExpiresAt,
	}, nil
}
