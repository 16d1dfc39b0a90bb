package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/keymarket-backend/pkg/db/models"
)

// Repository persists license keys. Claiming is split into a candidate read
// and a conditional write so the caller can retry when another transaction
// claims the same row first.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CountAvailable(ctx context.Context, productID uuid.UUID, now time.Time) (int64, error)
	FindCandidate(ctx context.Context, productID uuid.UUID, now time.Time) (*models.LicenseKey, error)
	WaitForCandidate(ctx context.Context, productID uuid.UUID, now time.Time) (*models.LicenseKey, error)
	MarkUsed(ctx context.Context, keyID, orderID uuid.UUID, buyerID *uuid.UUID, now time.Time) (bool, error)
	MarkAvailable(ctx context.Context, keyID uuid.UUID) (bool, error)
	FindByID(ctx context.Context, keyID uuid.UUID) (*models.LicenseKey, error)
	InsertIgnoringDuplicates(ctx context.Context, keys []models.LicenseKey) (int64, error)
	FindExpired(ctx context.Context, now time.Time, limit int) ([]models.LicenseKey, error)
	Deactivate(ctx context.Context, keyIDs []uuid.UUID, note string) (int64, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) available(ctx context.Context, productID uuid.UUID, now time.Time) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&models.LicenseKey{}).
		Where("product_id = ? AND is_used = ? AND is_active = ?", productID, false, true).
		Where("(expires_at IS NULL OR expires_at > ?)", now.UTC())
}

func (r *repository) CountAvailable(ctx context.Context, productID uuid.UUID, now time.Time) (int64, error) {
	var count int64
	err := r.available(ctx, productID, now).Count(&count).Error
	return count, err
}

// FindCandidate returns gorm.ErrRecordNotFound when the pool is empty. Rows
// locked by concurrent claimers are skipped.
func (r *repository) FindCandidate(ctx context.Context, productID uuid.UUID, now time.Time) (*models.LicenseKey, error) {
	var key models.LicenseKey
	err := r.available(ctx, productID, now).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Order("created_at ASC").
		Limit(1).
		Take(&key).Error
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// WaitForCandidate blocks on rows held by other transactions instead of
// skipping them. A holder that commits its claim drops the row from the
// match; one that rolls back hands it over.
func (r *repository) WaitForCandidate(ctx context.Context, productID uuid.UUID, now time.Time) (*models.LicenseKey, error) {
	var key models.LicenseKey
	err := r.available(ctx, productID, now).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Order("created_at ASC").
		Limit(1).
		Take(&key).Error
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// MarkUsed flips the key to used only while it is still available and reports
// whether this call won it.
func (r *repository) MarkUsed(ctx context.Context, keyID, orderID uuid.UUID, buyerID *uuid.UUID, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.LicenseKey{}).
		Where("id = ? AND is_used = ? AND is_active = ?", keyID, false, true).
		Updates(map[string]any{
			"is_used":    true,
			"order_id":   orderID,
			"buyer_id":   buyerID,
			"used_at":    now.UTC(),
			"updated_at": now.UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkAvailable clears the usage links. It reports false when the key was not
// in use.
func (r *repository) MarkAvailable(ctx context.Context, keyID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.LicenseKey{}).
		Where("id = ? AND is_used = ?", keyID, true).
		Updates(map[string]any{
			"is_used":  false,
			"order_id": nil,
			"buyer_id": nil,
			"used_at":  nil,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) FindByID(ctx context.Context, keyID uuid.UUID) (*models.LicenseKey, error) {
	var key models.LicenseKey
	if err := r.db.WithContext(ctx).Where("id = ?", keyID).First(&key).Error; err != nil {
		return nil, err
	}
	return &key, nil
}

// InsertIgnoringDuplicates returns how many rows were inserted; codes that
// already exist are skipped rather than failing the batch.
func (r *repository) InsertIgnoringDuplicates(ctx context.Context, keys []models.LicenseKey) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&keys)
	return res.RowsAffected, res.Error
}

func (r *repository) FindExpired(ctx context.Context, now time.Time, limit int) ([]models.LicenseKey, error) {
	var keys []models.LicenseKey
	err := r.db.WithContext(ctx).
		Where("is_active = ? AND expires_at IS NOT NULL AND expires_at < ?", true, now.UTC()).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Order("expires_at ASC").
		Limit(limit).
		Find(&keys).Error
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (r *repository) Deactivate(ctx context.Context, keyIDs []uuid.UUID, note string) (int64, error) {
	if len(keyIDs) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Model(&models.LicenseKey{}).
		Where("id IN ? AND is_active = ?", keyIDs, true).
		Updates(map[string]any{
			"is_active": false,
			"notes":     note,
		})
	return res.RowsAffected, res.Error
}
