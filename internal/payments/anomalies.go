package payments

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/keymarket-backend/pkg/db/models"
)

// AnomalyRepository stores payment events flagged for manual review.
type AnomalyRepository interface {
	WithTx(tx *gorm.DB) AnomalyRepository
	Create(ctx context.Context, anomaly *models.PaymentAnomaly) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.PaymentAnomaly, error)
}

type anomalyRepository struct {
	db *gorm.DB
}

func NewAnomalyRepository(db *gorm.DB) AnomalyRepository {
	return &anomalyRepository{db: db}
}

func (r *anomalyRepository) WithTx(tx *gorm.DB) AnomalyRepository {
	if tx == nil {
		return r
	}
	return &anomalyRepository{db: tx}
}

func (r *anomalyRepository) Create(ctx context.Context, anomaly *models.PaymentAnomaly) error {
	return r.db.WithContext(ctx).Create(anomaly).Error
}

func (r *anomalyRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.PaymentAnomaly, error) {
	var anomalies []models.PaymentAnomaly
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&anomalies).Error
	return anomalies, err
}
