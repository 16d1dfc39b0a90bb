package catalog

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/keymarket-backend/pkg/db/dbtest"
	"github.com/angelmondragon/keymarket-backend/pkg/db/models"
	"github.com/angelmondragon/keymarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/keymarket-backend/pkg/errors"
)

func seedProduct(t *testing.T, conn *gorm.DB) *models.Product {
	t.Helper()
	p := &models.Product{
		SellerID:       uuid.New(),
		Name:           "Season Pass",
		Game:           "Rift Arena",
		Duration:       "30 days",
		Price:          decimal.RequireFromString("2"),
		IsActive:       true,
		ApprovalStatus: enums.ProductApprovalApproved,
		Status:         enums.ProductStatusActive,
	}
	require.NoError(t, conn.Create(p).Error)
	return p
}

func TestGetProductMapsNotFound(t *testing.T) {
	conn := dbtest.Open(t, t.Name())
	svc, err := NewService(NewRepository(conn))
	require.NoError(t, err)

	_, err = svc.GetProduct(context.Background(), uuid.New())
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = svc.GetProduct(context.Background(), uuid.Nil)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestGetSellerProductChecksOwnership(t *testing.T) {
	conn := dbtest.Open(t, t.Name())
	repo := NewRepository(conn)
	svc, err := NewService(repo)
	require.NoError(t, err)
	product := seedProduct(t, conn)

	got, err := svc.GetSellerProduct(context.Background(), product.ID, product.SellerID)
	require.NoError(t, err)
	require.Equal(t, product.ID, got.ID)

	_, err = svc.GetSellerProduct(context.Background(), product.ID, uuid.New())
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
}

func TestAdjustSalesNeverGoesNegative(t *testing.T) {
	conn := dbtest.Open(t, t.Name())
	repo := NewRepository(conn)
	product := seedProduct(t, conn)
	ctx := context.Background()

	ok, err := repo.AdjustSales(ctx, product.ID, 1)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.AdjustSales(ctx, product.ID, -2)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = repo.AdjustSales(ctx, product.ID, -1)
	require.NoError(t, err)
	require.True(t, ok)

	reloaded, err := repo.FindByID(ctx, product.ID)
	require.NoError(t, err)
	require.Zero(t, reloaded.TotalSales)
}

func TestCommissionRatePrefersProductOverride(t *testing.T) {
	fallback := decimal.RequireFromString("0.15")
	product := &models.Product{}
	require.True(t, CommissionRate(product, fallback).Equal(fallback))

	product.CommissionRate = decimal.NewNullDecimal(decimal.RequireFromString("0.1"))
	require.True(t, CommissionRate(product, fallback).Equal(decimal.RequireFromString("0.1")))
	require.True(t, CommissionRate(nil, fallback).Equal(fallback))
}
