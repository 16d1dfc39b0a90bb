package balances

import (
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/keymarket-backend/internal/ledger"
	"github.com/angelmondragon/keymarket-backend/pkg/db/dbtest"
	"github.com/angelmondragon/keymarket-backend/pkg/db/models"
	"github.com/angelmondragon/keymarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/keymarket-backend/pkg/errors"
	"github.com/angelmondragon/keymarket-backend/pkg/logger"
)

func newTestService(t *testing.T) (Service, *gorm.DB) {
	t.Helper()
	conn := dbtest.Open(t, t.Name())
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn))
	require.NoError(t, err)
	svc, err := NewService(NewRepository(conn), ledgerSvc, logger.New(logger.Options{Output: io.Discard}))
	require.NoError(t, err)
	return svc, conn
}

func completedOrder(buyerID *uuid.UUID) *models.Order {
	return &models.Order{
		ID:             uuid.New(),
		OrderNumber:    "ORD-0A1B2C3D",
		BuyerID:        buyerID,
		SellerID:       uuid.New(),
		Total:          decimal.RequireFromString("2"),
		Commission:     decimal.RequireFromString("0.3"),
		SellerEarnings: decimal.RequireFromString("1.7"),
		Status:         enums.OrderStatusCompleted,
	}
}

func inTx(t *testing.T, conn *gorm.DB, fn func(tx *gorm.DB) error) error {
	t.Helper()
	return conn.Transaction(fn)
}

func TestCreditOrderAppliesOnce(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	buyerID := uuid.New()
	order := completedOrder(&buyerID)

	for i := 0; i < 2; i++ {
		var applied bool
		err := inTx(t, conn, func(tx *gorm.DB) error {
			var err error
			applied, err = svc.CreditOrder(ctx, tx, order)
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, i == 0, applied)
	}

	balance, err := svc.SellerBalance(ctx, order.SellerID)
	require.NoError(t, err)
	assert.True(t, balance.PendingEarnings.Equal(decimal.RequireFromString("1.7")), balance.PendingEarnings.String())
	assert.True(t, balance.TotalEarnings.Equal(decimal.RequireFromString("1.7")))

	stats, err := svc.BuyerStats(ctx, buyerID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalPurchases)
	assert.True(t, stats.TotalSpent.Equal(decimal.RequireFromString("2")))
}

func TestCreditThenReverseRestoresBalance(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	buyerID := uuid.New()

	earlier := completedOrder(&buyerID)
	earlier.SellerEarnings = decimal.RequireFromString("1.25")
	order := completedOrder(&buyerID)
	order.SellerID = earlier.SellerID
	order.SellerEarnings = decimal.RequireFromString("0.5")

	require.NoError(t, inTx(t, conn, func(tx *gorm.DB) error {
		_, err := svc.CreditOrder(ctx, tx, earlier)
		return err
	}))
	before, err := svc.SellerBalance(ctx, order.SellerID)
	require.NoError(t, err)

	require.NoError(t, inTx(t, conn, func(tx *gorm.DB) error {
		if _, err := svc.CreditOrder(ctx, tx, order); err != nil {
			return err
		}
		reversed, err := svc.ReverseOrder(ctx, tx, order)
		require.True(t, reversed)
		return err
	}))

	after, err := svc.SellerBalance(ctx, order.SellerID)
	require.NoError(t, err)
	assert.True(t, before.PendingEarnings.Equal(after.PendingEarnings), "%s != %s", before.PendingEarnings, after.PendingEarnings)
	assert.True(t, before.TotalEarnings.Equal(after.TotalEarnings))

	stats, err := svc.BuyerStats(ctx, buyerID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalPurchases)
}

func TestReverseWithoutCreditIsNoop(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	order := completedOrder(nil)

	var reversed bool
	require.NoError(t, inTx(t, conn, func(tx *gorm.DB) error {
		var err error
		reversed, err = svc.ReverseOrder(ctx, tx, order)
		return err
	}))
	assert.False(t, reversed)

	balance, err := svc.SellerBalance(ctx, order.SellerID)
	require.NoError(t, err)
	assert.True(t, balance.PendingEarnings.IsZero())
}

func TestReverseTwiceDebitsOnce(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	order := completedOrder(nil)

	require.NoError(t, inTx(t, conn, func(tx *gorm.DB) error {
		_, err := svc.CreditOrder(ctx, tx, order)
		return err
	}))
	results := make([]bool, 0, 2)
	for i := 0; i < 2; i++ {
		require.NoError(t, inTx(t, conn, func(tx *gorm.DB) error {
			reversed, err := svc.ReverseOrder(ctx, tx, order)
			results = append(results, reversed)
			return err
		}))
	}
	assert.Equal(t, []bool{true, false}, results)

	var count int64
	require.NoError(t, conn.Model(&models.LedgerEvent{}).Where("order_id = ?", order.ID).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestReverseRejectsWhenEarningsWithdrawn(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	order := completedOrder(nil)

	require.NoError(t, inTx(t, conn, func(tx *gorm.DB) error {
		_, err := svc.CreditOrder(ctx, tx, order)
		return err
	}))
	require.NoError(t, conn.Model(&models.SellerBalance{}).
		Where("seller_id = ?", order.SellerID).
		Update("pending_earnings", decimal.RequireFromString("0.5")).Error)

	err := inTx(t, conn, func(tx *gorm.DB) error {
		_, err := svc.ReverseOrder(ctx, tx, order)
		return err
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	balance, err := svc.SellerBalance(ctx, order.SellerID)
	require.NoError(t, err)
	assert.True(t, balance.PendingEarnings.Equal(decimal.RequireFromString("0.5")))
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(nil, nil, nil)
	require.Error(t, err)
}
