package orders

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/keymarket-backend/pkg/db/models"
	"github.com/angelmondragon/keymarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/keymarket-backend/pkg/errors"
	"github.com/angelmondragon/keymarket-backend/pkg/outbox"
	"github.com/angelmondragon/keymarket-backend/pkg/outbox/payloads"
)

// PaymentRequestInput is what the gateway issued for an order.
type PaymentRequestInput struct {
	OrderID   uuid.UUID
	Address   string
	Amount    decimal.Decimal
	ExpiresAt time.Time
}

// AttachPaymentRequest stores the payment sub-record at most once. When the
// order already carries a request, the stored one is returned with false.
func (s *service) AttachPaymentRequest(ctx context.Context, input PaymentRequestInput) (*models.Order, bool, error) {
	var (
		order    *models.Order
		attached bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		order, attached, err = s.AttachPaymentRequestTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return order, attached, nil
}

// AttachPaymentRequestTx is AttachPaymentRequest inside a transaction that may
// already hold the order's row lock.
func (s *service) AttachPaymentRequestTx(ctx context.Context, tx *gorm.DB, input PaymentRequestInput) (*models.Order, bool, error) {
	if tx == nil {
		return nil, false, pkgerrors.New(pkgerrors.CodeInternal, "attach payment request requires a transaction")
	}
	address := strings.TrimSpace(input.Address)
	if input.OrderID == uuid.Nil || address == "" {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "order id and payment address are required")
	}
	if !input.Amount.IsPositive() {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "payment amount must be positive")
	}

	repo := s.repo.WithTx(tx)
	current, err := loadForUpdate(ctx, repo, input.OrderID)
	if err != nil {
		return nil, false, err
	}
	if current.PaymentAddress != nil {
		return current, false, nil
	}
	if current.Status != enums.OrderStatusPending || current.PaymentStatus != enums.PaymentStatusPending {
		return nil, false, stateConflict(current, "request payment for")
	}
	ok, err := repo.AttachPayment(ctx, current.ID, address, input.Amount, input.ExpiresAt)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store payment request")
	}
	if !ok {
		return nil, false, stateConflict(current, "request payment for")
	}
	current.PaymentAddress = &address
	current.PaymentAmount = decimal.NewNullDecimal(input.Amount)
	current.PaymentExpiresAt = input.ExpiresAt.UTC()
	return current, true, nil
}

// CompleteInput hands the ledger a key already claimed in the same
// transaction together with the settling transaction.
type CompleteInput struct {
	OrderID       uuid.UUID
	LicenseKey    *models.LicenseKey
	TransactionID string
	Confirmations int
	Actor         *outbox.ActorRef
}

// CompleteResult reports whether this call performed the transition. Applied
// is false when the order had already been completed.
type CompleteResult struct {
	Order   *models.Order
	Applied bool
}

func (s *service) Complete(ctx context.Context, input CompleteInput) (*CompleteResult, error) {
	var result *CompleteResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		result, err = s.CompleteTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CompleteTx moves a pending order to completed and applies the earnings,
// buyer and sales counters exactly once. Repeating it on a completed order
// returns that order unchanged.
func (s *service) CompleteTx(ctx context.Context, tx *gorm.DB, input CompleteInput) (*CompleteResult, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "complete requires a transaction")
	}
	repo := s.repo.WithTx(tx)
	order, err := loadForUpdate(ctx, repo, input.OrderID)
	if err != nil {
		return nil, err
	}

	switch order.Status {
	case enums.OrderStatusCompleted, enums.OrderStatusDisputed, enums.OrderStatusRefunded:
		return &CompleteResult{Order: order}, nil
	case enums.OrderStatusPending:
	default:
		return nil, stateConflict(order, "complete")
	}
	if input.LicenseKey == nil || input.LicenseKey.ID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "license key is required to complete an order")
	}
	if input.LicenseKey.ProductID != order.ProductID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "license key belongs to another product")
	}
	txID := strings.TrimSpace(input.TransactionID)
	if txID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id is required")
	}

	now := s.clock()
	ok, err := repo.Transition(ctx, order.ID, enums.OrderStatusPending, map[string]any{
		"status":                enums.OrderStatusCompleted,
		"payment_status":        enums.PaymentStatusPaid,
		"paid_at":               now,
		"payment_tx_id":         txID,
		"payment_confirmations": input.Confirmations,
		"license_key_id":        input.LicenseKey.ID,
		"license_code":          input.LicenseKey.Code,
		"delivered_at":          now,
		"updated_at":            now,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete order")
	}
	if !ok {
		return nil, stateConflict(order, "complete")
	}

	keyID := input.LicenseKey.ID
	code := input.LicenseKey.Code
	order.Status = enums.OrderStatusCompleted
	order.PaymentStatus = enums.PaymentStatusPaid
	order.PaidAt = &now
	order.PaymentTxID = &txID
	order.PaymentConfirmations = input.Confirmations
	order.LicenseKeyID = &keyID
	order.LicenseCode = &code
	order.DeliveredAt = &now
	order.UpdatedAt = now

	credited, err := s.earnings.CreditOrder(ctx, tx, order)
	if err != nil {
		return nil, err
	}
	if credited {
		if _, err := s.sales.WithTx(tx).AdjustSales(ctx, order.ProductID, 1); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count product sale")
		}
	}

	if err := s.emit(ctx, tx, enums.EventOrderCompleted, order, input.Actor, payloads.OrderCompletedEvent{
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		ProductID:      order.ProductID,
		SellerID:       order.SellerID,
		BuyerID:        order.BuyerID,
		BuyerEmail:     order.BuyerEmail,
		LicenseKeyID:   keyID,
		Total:          order.Total,
		SellerEarnings: order.SellerEarnings,
		TransactionID:  txID,
		DeliveredAt:    now,
	}, now); err != nil {
		return nil, err
	}

	logCtx := s.logg.WithOrderID(ctx, order.ID.String())
	logCtx = s.logg.WithFields(logCtx, map[string]any{
		"transaction_id": txID,
		"license_key_id": keyID.String(),
	})
	s.logg.Info(logCtx, "order completed")
	return &CompleteResult{Order: order, Applied: true}, nil
}

// FailInput describes a paid order that could not be fulfilled.
type FailInput struct {
	OrderID       uuid.UUID
	TransactionID string
	Confirmations int
	Reason        string
	Actor         *outbox.ActorRef
}

// FailUnfulfillableTx fails a pending order whose payment arrived after the
// key pool ran dry. Payment stays recorded as paid so an operator can refund
// it out of band.
func (s *service) FailUnfulfillableTx(ctx context.Context, tx *gorm.DB, input FailInput) (*models.Order, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "fail requires a transaction")
	}
	repo := s.repo.WithTx(tx)
	order, err := loadForUpdate(ctx, repo, input.OrderID)
	if err != nil {
		return nil, err
	}
	if order.Status != enums.OrderStatusPending {
		return nil, stateConflict(order, "fail")
	}

	now := s.clock()
	txID := strings.TrimSpace(input.TransactionID)
	updates := map[string]any{
		"status":                enums.OrderStatusFailed,
		"payment_status":        enums.PaymentStatusPaid,
		"paid_at":               now,
		"payment_confirmations": input.Confirmations,
		"fulfillment_failed":    true,
		"updated_at":            now,
	}
	if txID != "" {
		updates["payment_tx_id"] = txID
		order.PaymentTxID = &txID
	}
	ok, err := repo.Transition(ctx, order.ID, enums.OrderStatusPending, updates)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fail order")
	}
	if !ok {
		return nil, stateConflict(order, "fail")
	}
	order.Status = enums.OrderStatusFailed
	order.PaymentStatus = enums.PaymentStatusPaid
	order.PaidAt = &now
	order.PaymentConfirmations = input.Confirmations
	order.FulfillmentFailed = true
	order.UpdatedAt = now

	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		reason = "payment received but no license key was available"
	}
	if err := s.emit(ctx, tx, enums.EventOrderFailed, order, input.Actor, payloads.OrderFailedEvent{
		OrderID:           order.ID,
		OrderNumber:       order.OrderNumber,
		BuyerEmail:        order.BuyerEmail,
		Reason:            reason,
		FulfillmentFailed: true,
	}, now); err != nil {
		return nil, err
	}
	return order, nil
}
