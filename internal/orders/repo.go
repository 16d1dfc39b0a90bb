package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/keymarket-backend/pkg/db/models"
	"github.com/angelmondragon/keymarket-backend/pkg/enums"
	"github.com/angelmondragon/keymarket-backend/pkg/pagination"
)

// Repository persists orders. Every state change goes through Transition,
// which only writes while the row is still in the expected state.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByNumber(ctx context.Context, number string) (*models.Order, error)
	FindForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByPaymentAddress(ctx context.Context, address string) (*models.Order, error)
	Transition(ctx context.Context, id uuid.UUID, from enums.OrderStatus, updates map[string]any) (bool, error)
	AttachPayment(ctx context.Context, id uuid.UUID, address string, amount decimal.Decimal, expiresAt time.Time) (bool, error)
	FindExpirable(ctx context.Context, asOf time.Time, limit int) ([]models.Order, error)
	ExpireByIDs(ctx context.Context, ids []uuid.UUID, asOf time.Time) (int64, error)
	FindDeliveredBetween(ctx context.Context, from, to time.Time, after *pagination.Cursor, limit int) ([]models.Order, error)
	ListDisputes(ctx context.Context, filter enums.DisputeFilter, cursor *pagination.Cursor, limit int) ([]models.Order, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByNumber(ctx context.Context, number string) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("order_number = ?", number).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// FindForUpdate row-locks the order for the rest of the transaction.
func (r *repository) FindForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByPaymentAddress(ctx context.Context, address string) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("payment_address = ?", address).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) Transition(ctx context.Context, id uuid.UUID, from enums.OrderStatus, updates map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// AttachPayment stores the payment request once; it reports false when the
// order already has an address or is no longer awaiting payment.
func (r *repository) AttachPayment(ctx context.Context, id uuid.UUID, address string, amount decimal.Decimal, expiresAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND payment_address IS NULL AND status = ? AND payment_status = ?", id, enums.OrderStatusPending, enums.PaymentStatusPending).
		Updates(map[string]any{
			"payment_address":    address,
			"payment_amount":     amount,
			"payment_expires_at": expiresAt.UTC(),
			"updated_at":         time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) FindExpirable(ctx context.Context, asOf time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("status = ? AND payment_status = ? AND payment_expires_at <= ?",
			enums.OrderStatusPending, enums.PaymentStatusPending, asOf.UTC()).
		Order("payment_expires_at ASC").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repository) ExpireByIDs(ctx context.Context, ids []uuid.UUID, asOf time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id IN ? AND status = ? AND payment_status = ?", ids, enums.OrderStatusPending, enums.PaymentStatusPending).
		Updates(map[string]any{
			"status":         enums.OrderStatusFailed,
			"payment_status": enums.PaymentStatusExpired,
			"updated_at":     asOf.UTC(),
		})
	return res.RowsAffected, res.Error
}

// FindDeliveredBetween returns completed orders delivered in [from, to),
// keyset-ordered by delivery time.
func (r *repository) FindDeliveredBetween(ctx context.Context, from, to time.Time, after *pagination.Cursor, limit int) ([]models.Order, error) {
	query := r.db.WithContext(ctx).
		Where("status = ? AND delivered_at >= ? AND delivered_at < ?", enums.OrderStatusCompleted, from.UTC(), to.UTC())
	if after != nil {
		query = query.Where("(delivered_at > ?) OR (delivered_at = ? AND id > ?)", after.At.UTC(), after.At.UTC(), after.ID)
	}

	var orders []models.Order
	if err := query.Order("delivered_at ASC").Order("id ASC").Limit(limit).Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repository) ListDisputes(ctx context.Context, filter enums.DisputeFilter, cursor *pagination.Cursor, limit int) ([]models.Order, error) {
	query := r.db.WithContext(ctx).Model(&models.Order{}).Where("dispute_opened_at IS NOT NULL")
	switch filter {
	case enums.DisputeFilterOpen:
		query = query.Where("dispute_open = ?", true)
	case enums.DisputeFilterResolved:
		query = query.Where("dispute_open = ? AND dispute_resolved_at IS NOT NULL", false)
	}
	if cursor != nil {
		query = query.Where("(dispute_opened_at < ?) OR (dispute_opened_at = ? AND id < ?)", cursor.At.UTC(), cursor.At.UTC(), cursor.ID)
	}

	var orders []models.Order
	if err := query.Order("dispute_opened_at DESC").Order("id DESC").Limit(limit).Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}
