package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Product represents a physical catalog listing. Weight is stored in grams,
// dimensions in whole centimeters, matching what the carrier API expects.
type Product struct {
	ID          uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	SKU         string          `gorm:"column:sku;not null;uniqueIndex"`
	Title       string          `gorm:"column:title;not null"`
	Description *string         `gorm:"column:description"`
	Price       decimal.Decimal `gorm:"column:price;type:numeric(10,2);not null"`
	WeightGrams decimal.Decimal `gorm:"column:weight_grams;type:numeric(10,2);not null"`
	LengthCm    int             `gorm:"column:length_cm;not null;default:1"`
	HeightCm    int             `gorm:"column:height_cm;not null;default:1"`
	WidthCm     int             `gorm:"column:width_cm;not null;default:1"`
	IsActive    bool            `gorm:"column:is_active;not null;default:true"`
	Inventory   *InventoryItem  `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Product) BeforeCreate(_ *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
