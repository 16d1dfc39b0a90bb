package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/keymarket-backend/pkg/enums"
)

// Product is the catalog listing as seen by the order engine. The catalog
// owns every column except total_sales.
type Product struct {
	ID             uuid.UUID                   `gorm:"column:id;type:uuid;primaryKey"`
	SellerID       uuid.UUID                   `gorm:"column:seller_id;type:uuid;not null"`
	Name           string                      `gorm:"column:name;not null"`
	Game           string                      `gorm:"column:game;not null"`
	Duration       string                      `gorm:"column:duration;not null"`
	InstructionURL *string                     `gorm:"column:instruction_url"`
	SupportContact *string                     `gorm:"column:support_contact"`
	Price          decimal.Decimal             `gorm:"column:price;type:numeric(20,8);not null"`
	CommissionRate decimal.NullDecimal         `gorm:"column:commission_rate;type:numeric(5,4)"`
	IsActive       bool                        `gorm:"column:is_active;not null;default:true"`
	ApprovalStatus enums.ProductApprovalStatus `gorm:"column:approval_status;not null"`
	IsFrozen       bool                        `gorm:"column:is_frozen;not null;default:false"`
	Status         enums.ProductStatus         `gorm:"column:status;not null"`
	TotalSales     int                         `gorm:"column:total_sales;not null;default:0"`
	CreatedAt      time.Time                   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time                   `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Product) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// Listable is the catalog half of availability; stock is checked separately.
func (p Product) Listable() bool {
	return p.IsActive &&
		p.ApprovalStatus == enums.ProductApprovalApproved &&
		!p.IsFrozen &&
		p.Status != enums.ProductStatusDiscontinued
}
