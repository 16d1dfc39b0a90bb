package balances

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/keymarket-backend/internal/ledger"
	"github.com/angelmondragon/keymarket-backend/pkg/db/models"
	"github.com/angelmondragon/keymarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/keymarket-backend/pkg/errors"
	"github.com/angelmondragon/keymarket-backend/pkg/logger"
)

// Service applies and reverses the earnings an order contributes. Credits and
// reversals are paired through the ledger: a reversal without a prior credit,
// or a second credit for the same order, is a no-op.
type Service interface {
	CreditOrder(ctx context.Context, tx *gorm.DB, order *models.Order) (bool, error)
	ReverseOrder(ctx context.Context, tx *gorm.DB, order *models.Order) (bool, error)
	SellerBalance(ctx context.Context, sellerID uuid.UUID) (*models.SellerBalance, error)
	BuyerStats(ctx context.Context, buyerID uuid.UUID) (*models.BuyerStat, error)
}

type service struct {
	repo   Repository
	ledger ledger.Service
	logg   *logger.Logger
}

func NewService(repo Repository, ledgerSvc ledger.Service, logg *logger.Logger) (Service, error) {
	switch {
	case repo == nil:
		return nil, fmt.Errorf("balances repository required")
	case ledgerSvc == nil:
		return nil, fmt.Errorf("ledger service required")
	case logg == nil:
		return nil, fmt.Errorf("logger required")
	}
	return &service{repo: repo, ledger: ledgerSvc, logg: logg}, nil
}

type ledgerMetadata struct {
	OrderNumber string `json:"order_number"`
	Total       string `json:"total"`
	Commission  string `json:"commission"`
}

func (s *service) CreditOrder(ctx context.Context, tx *gorm.DB, order *models.Order) (bool, error) {
	if tx == nil || order == nil {
		return false, pkgerrors.New(pkgerrors.CodeInternal, "credit requires a transaction and an order")
	}
	ledgerTx := s.ledger.WithTx(tx)
	credited, err := ledgerTx.HasEvent(ctx, order.ID, enums.LedgerEventTypeEarningsCredited)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check earnings credit")
	}
	if credited {
		return false, nil
	}

	repo := s.repo.WithTx(tx)
	if err := repo.CreditSeller(ctx, order.SellerID, order.SellerEarnings); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "credit seller earnings")
	}
	if order.BuyerID != nil {
		if err := repo.CreditBuyer(ctx, *order.BuyerID, order.Total); err != nil {
			return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "credit buyer stats")
		}
	}
	if err := s.record(ctx, ledgerTx, order, enums.LedgerEventTypeEarningsCredited); err != nil {
		return false, err
	}
	return true, nil
}

func (s *service) ReverseOrder(ctx context.Context, tx *gorm.DB, order *models.Order) (bool, error) {
	if tx == nil || order == nil {
		return false, pkgerrors.New(pkgerrors.CodeInternal, "reversal requires a transaction and an order")
	}
	ledgerTx := s.ledger.WithTx(tx)
	credited, err := ledgerTx.HasEvent(ctx, order.ID, enums.LedgerEventTypeEarningsCredited)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check earnings credit")
	}
	reversed, err := ledgerTx.HasEvent(ctx, order.ID, enums.LedgerEventTypeEarningsReversed)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check earnings reversal")
	}
	if !credited || reversed {
		return false, nil
	}

	repo := s.repo.WithTx(tx)
	ok, err := repo.DebitSeller(ctx, order.SellerID, order.SellerEarnings)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reverse seller earnings")
	}
	if !ok {
		return false, pkgerrors.New(pkgerrors.CodeStateConflict, "seller pending earnings are below the reversal amount").
			WithDetails(map[string]any{
				"seller_id": order.SellerID,
				"amount":    order.SellerEarnings.String(),
			})
	}
	if order.BuyerID != nil {
		ok, err := repo.DebitBuyer(ctx, *order.BuyerID, order.Total)
		if err != nil {
			return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reverse buyer stats")
		}
		if !ok {
			warnCtx := s.logg.WithFields(ctx, map[string]any{
				"order_id": order.ID.String(),
				"buyer_id": order.BuyerID.String(),
			})
			s.logg.Warn(warnCtx, "buyer stats already below refunded order")
		}
	}
	if err := s.record(ctx, ledgerTx, order, enums.LedgerEventTypeEarningsReversed); err != nil {
		return false, err
	}
	return true, nil
}

func (s *service) record(ctx context.Context, ledgerTx ledger.Service, order *models.Order, eventType enums.LedgerEventType) error {
	metadata, err := json.Marshal(ledgerMetadata{
		OrderNumber: order.OrderNumber,
		Total:       order.Total.String(),
		Commission:  order.Commission.String(),
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode ledger metadata")
	}
	if _, err := ledgerTx.RecordEvent(ctx, ledger.RecordLedgerEventInput{
		OrderID:  order.ID,
		SellerID: order.SellerID,
		BuyerID:  order.BuyerID,
		Type:     eventType,
		Amount:   order.SellerEarnings,
		Metadata: metadata,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record ledger event")
	}
	return nil
}

// SellerBalance returns zero counters for a seller with no completed sales.
func (s *service) SellerBalance(ctx context.Context, sellerID uuid.UUID) (*models.SellerBalance, error) {
	balance, err := s.repo.FindSeller(ctx, sellerID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.SellerBalance{
			SellerID:          sellerID,
			PendingEarnings:   decimal.Zero,
			WithdrawnEarnings: decimal.Zero,
			TotalEarnings:     decimal.Zero,
		}, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load seller balance")
	}
	return balance, nil
}

func (s *service) BuyerStats(ctx context.Context, buyerID uuid.UUID) (*models.BuyerStat, error) {
	stat, err := s.repo.FindBuyer(ctx, buyerID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.BuyerStat{BuyerID: buyerID, TotalSpent: decimal.Zero}, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load buyer stats")
	}
	return stat, nil
}
