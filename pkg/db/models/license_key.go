package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LicenseKey is a single-use redeemable code. Rows are never deleted; expiry
// flips is_active off.
type LicenseKey struct {
	ID        uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	ProductID uuid.UUID  `gorm:"column:product_id;type:uuid;not null"`
	SellerID  uuid.UUID  `gorm:"column:seller_id;type:uuid;not null"`
	Code      string     `gorm:"column:code;not null;uniqueIndex"`
	IsUsed    bool       `gorm:"column:is_used;not null;default:false"`
	IsActive  bool       `gorm:"column:is_active;not null;default:true"`
	OrderID   *uuid.UUID `gorm:"column:order_id;type:uuid"`
	BuyerID   *uuid.UUID `gorm:"column:buyer_id;type:uuid"`
	UsedAt    *time.Time `gorm:"column:used_at"`
	ExpiresAt *time.Time `gorm:"column:expires_at"`
	Notes     *string    `gorm:"column:notes"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (k *LicenseKey) BeforeCreate(*gorm.DB) error {
	if k.ID == uuid.Nil {
		k.ID = uuid.New()
	}
	return nil
}

// Available reports whether the key can be handed to a buyer at now.
func (k LicenseKey) Available(now time.Time) bool {
	return k.IsActive && !k.IsUsed && (k.ExpiresAt == nil || k.ExpiresAt.After(now))
}
