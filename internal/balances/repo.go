package balances

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/keymarket-backend/pkg/db/models"
)

// Repository mutates the seller and buyer counters with single-statement
// arithmetic so concurrent completions never lose an update.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreditSeller(ctx context.Context, sellerID uuid.UUID, amount decimal.Decimal) error
	DebitSeller(ctx context.Context, sellerID uuid.UUID, amount decimal.Decimal) (bool, error)
	CreditBuyer(ctx context.Context, buyerID uuid.UUID, amount decimal.Decimal) error
	DebitBuyer(ctx context.Context, buyerID uuid.UUID, amount decimal.Decimal) (bool, error)
	FindSeller(ctx context.Context, sellerID uuid.UUID) (*models.SellerBalance, error)
	FindBuyer(ctx context.Context, buyerID uuid.UUID) (*models.BuyerStat, error)
}

type repository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db, now: time.Now}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx, now: r.now}
}

func (r *repository) CreditSeller(ctx context.Context, sellerID uuid.UUID, amount decimal.Decimal) error {
	now := r.now().UTC()
	row := models.SellerBalance{
		SellerID:          sellerID,
		PendingEarnings:   amount,
		WithdrawnEarnings: decimal.Zero,
		TotalEarnings:     amount,
		UpdatedAt:         now,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "seller_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"pending_earnings": gorm.Expr("seller_balances.pending_earnings + ?", amount),
				"total_earnings":   gorm.Expr("seller_balances.total_earnings + ?", amount),
				"updated_at":       now,
			}),
		}).
		Create(&row).Error
}

// DebitSeller reports false when the balance holds less than amount; the row
// is left untouched in that case.
func (r *repository) DebitSeller(ctx context.Context, sellerID uuid.UUID, amount decimal.Decimal) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.SellerBalance{}).
		Where("seller_id = ? AND pending_earnings >= ? AND total_earnings >= ?", sellerID, amount, amount).
		Updates(map[string]any{
			"pending_earnings": gorm.Expr("pending_earnings - ?", amount),
			"total_earnings":   gorm.Expr("total_earnings - ?", amount),
			"updated_at":       r.now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) CreditBuyer(ctx context.Context, buyerID uuid.UUID, amount decimal.Decimal) error {
	now := r.now().UTC()
	row := models.BuyerStat{
		BuyerID:        buyerID,
		TotalPurchases: 1,
		TotalSpent:     amount,
		UpdatedAt:      now,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "buyer_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"total_purchases": gorm.Expr("buyer_stats.total_purchases + 1"),
				"total_spent":     gorm.Expr("buyer_stats.total_spent + ?", amount),
				"updated_at":      now,
			}),
		}).
		Create(&row).Error
}

func (r *repository) DebitBuyer(ctx context.Context, buyerID uuid.UUID, amount decimal.Decimal) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.BuyerStat{}).
		Where("buyer_id = ? AND total_purchases >= 1 AND total_spent >= ?", buyerID, amount).
		Updates(map[string]any{
			"total_purchases": gorm.Expr("total_purchases - 1"),
			"total_spent":     gorm.Expr("total_spent - ?", amount),
			"updated_at":      r.now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) FindSeller(ctx context.Context, sellerID uuid.UUID) (*models.SellerBalance, error) {
	var balance models.SellerBalance
	if err := r.db.WithContext(ctx).Where("seller_id = ?", sellerID).First(&balance).Error; err != nil {
		return nil, err
	}
	return &balance, nil
}

func (r *repository) FindBuyer(ctx context.Context, buyerID uuid.UUID) (*models.BuyerStat, error) {
	var stat models.BuyerStat
	if err := r.db.WithContext(ctx).Where("buyer_id = ?", buyerID).First(&stat).Error; err != nil {
		return nil, err
	}
	return &stat, nil
}
