package orders

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/keymarket-backend/internal/catalog"
	"github.com/angelmondragon/keymarket-backend/pkg/db"
	"github.com/angelmondragon/keymarket-backend/pkg/db/models"
	"github.com/angelmondragon/keymarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/keymarket-backend/pkg/errors"
	"github.com/angelmondragon/keymarket-backend/pkg/outbox"
	"github.com/angelmondragon/keymarket-backend/pkg/outbox/payloads"
)

// CreateInput is a purchase intent. BuyerID is nil for guest checkout.
type CreateInput struct {
	ProductID  uuid.UUID
	BuyerEmail string
	BuyerID    *uuid.UUID
	Actor      *outbox.ActorRef
}

// Create records a pending order with the product and the money fields
// snapshotted from the catalog as they are now.
func (s *service) Create(ctx context.Context, input CreateInput) (*models.Order, error) {
	email := strings.ToLower(strings.TrimSpace(input.BuyerEmail))
	if err := s.validate.Var(email, "required,email,max=254"); err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "validation failed").
			WithDetails(map[string]string{"email": "must be a valid email"})
	}
	if input.ProductID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "validation failed").
			WithDetails(map[string]string{"productId": "is required"})
	}

	product, err := s.catalog.GetProduct(ctx, input.ProductID)
	if err != nil {
		return nil, err
	}
	if !product.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	if !product.Listable() {
		return nil, pkgerrors.New(pkgerrors.CodeUnavailable, "product is not available for purchase").
			WithDetails(map[string]any{"product_id": product.ID})
	}
	inStock, err := s.inventory.ReserveCheck(ctx, product.ID)
	if err != nil {
		return nil, err
	}
	if !inStock {
		return nil, pkgerrors.New(pkgerrors.CodeOutOfStock, "product is out of stock").
			WithDetails(map[string]any{"product_id": product.ID})
	}

	now := s.clock()
	order := s.buildOrder(product, email, input.BuyerID, now)

	for attempt := 1; ; attempt++ {
		order.ID = uuid.New()
		order.OrderNumber = s.newNumber()
		err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			if err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
				return err
			}
			return s.emit(ctx, tx, enums.EventOrderCreated, order, input.Actor, payloads.OrderCreatedEvent{
				OrderID:          order.ID,
				OrderNumber:      order.OrderNumber,
				ProductID:        order.ProductID,
				SellerID:         order.SellerID,
				BuyerEmail:       order.BuyerEmail,
				Total:            order.Total,
				PaymentExpiresAt: order.PaymentExpiresAt,
			}, now)
		})
		if err == nil {
			break
		}
		if db.IsUniqueViolation(err, orderNumberConstraint) && attempt < orderNumberAttempts {
			continue
		}
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
	}

	logCtx := s.logg.WithOrderID(ctx, order.ID.String())
	logCtx = s.logg.WithFields(logCtx, map[string]any{
		"order_number": order.OrderNumber,
		"product_id":   order.ProductID.String(),
		"total":        order.Total.String(),
	})
	s.logg.Info(logCtx, "order created")
	return order, nil
}

func (s *service) buildOrder(product *models.Product, email string, buyerID *uuid.UUID, now time.Time) *models.Order {
	quantity := 1
	total := product.Price.Mul(decimal.NewFromInt(int64(quantity)))
	rate := catalog.CommissionRate(product, s.settings.DefaultCommissionRate)
	commission := total.Mul(rate).Round(8)

	return &models.Order{
		BuyerID:    buyerID,
		BuyerEmail: email,
		SellerID:   product.SellerID,
		ProductID:  product.ID,
		Product: models.ProductSnapshot{
			Name:           product.Name,
			Game:           product.Game,
			Price:          product.Price,
			Duration:       product.Duration,
			InstructionURL: product.InstructionURL,
			SupportContact: product.SupportContact,
		},
		Quantity:         quantity,
		Total:            total,
		CommissionRate:   rate,
		Commission:       commission,
		SellerEarnings:   total.Sub(commission),
		Status:           enums.OrderStatusPending,
		PaymentMethod:    s.settings.PaymentMethod,
		PaymentStatus:    enums.PaymentStatusPending,
		PaymentCurrency:  s.settings.Currency,
		PaymentExpiresAt: now.Add(s.settings.PaymentWindow),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}
