package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/keymarket-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/keymarket-backend/pkg/errors"
)

// Service is the read side of the catalog collaborator.
type Service interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
	GetSellerProduct(ctx context.Context, productID, sellerID uuid.UUID) (*models.Product, error)
}

type service struct {
	repo Repository
}

func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	product, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}
	return product, nil
}

// GetSellerProduct hides products of other sellers behind a 403.
func (s *service) GetSellerProduct(ctx context.Context, productID, sellerID uuid.UUID) (*models.Product, error) {
	product, err := s.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if product.SellerID != sellerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "product belongs to another seller")
	}
	return product, nil
}

// CommissionRate resolves the rate to snapshot onto a new order: the
// product's override when set, otherwise the platform default.
func CommissionRate(product *models.Product, fallback decimal.Decimal) decimal.Decimal {
	if product != nil && product.CommissionRate.Valid {
		return product.CommissionRate.Decimal
	}
	return fallback
}
