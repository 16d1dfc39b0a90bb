package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/keymarket-backend/pkg/db/models"
	"github.com/angelmondragon/keymarket-backend/pkg/enums"
)

// Service records earnings movements. Balances are derived state; the ledger
// is the audit trail behind them.
type Service interface {
	WithTx(tx *gorm.DB) Service
	RecordEvent(ctx context.Context, input RecordLedgerEventInput) (*models.LedgerEvent, error)
	HasEvent(ctx context.Context, orderID uuid.UUID, eventType enums.LedgerEventType) (bool, error)
	OrderEvents(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEvent, error)
}

type service struct {
	repo Repository
}

// RecordLedgerEventInput captures the immutable data a ledger event requires.
type RecordLedgerEventInput struct {
	OrderID  uuid.UUID
	SellerID uuid.UUID
	BuyerID  *uuid.UUID
	Type     enums.LedgerEventType
	Amount   decimal.Decimal
	Metadata json.RawMessage
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	return &service{repo: s.repo.WithTx(tx)}
}

func (s *service) RecordEvent(ctx context.Context, input RecordLedgerEventInput) (*models.LedgerEvent, error) {
	if input.OrderID == uuid.Nil {
		return nil, fmt.Errorf("order id is required")
	}
	if input.SellerID == uuid.Nil {
		return nil, fmt.Errorf("seller id is required")
	}
	if !input.Type.IsValid() {
		return nil, fmt.Errorf("invalid ledger event type %q", input.Type)
	}
	if input.Amount.IsNegative() {
		return nil, fmt.Errorf("ledger amount must not be negative")
	}

	event := &models.LedgerEvent{
		OrderID:  input.OrderID,
		SellerID: input.SellerID,
		BuyerID:  input.BuyerID,
		Type:     input.Type,
		Amount:   input.Amount,
		Metadata: input.Metadata,
	}
	if err := s.repo.Create(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

func (s *service) HasEvent(ctx context.Context, orderID uuid.UUID, eventType enums.LedgerEventType) (bool, error) {
	if orderID == uuid.Nil {
		return false, fmt.Errorf("order id is required")
	}
	if !eventType.IsValid() {
		return false, fmt.Errorf("invalid ledger event type %q", eventType)
	}
	count, err := s.repo.CountByType(ctx, orderID, eventType)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *service) OrderEvents(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEvent, error) {
	return s.repo.ListByOrderID(ctx, orderID)
}
