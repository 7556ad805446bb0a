package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// OrderItem is an immutable snapshot of a purchased product: price, weight
// and dimensions are copied from the catalog at order creation so later
// catalog edits never change a placed order.
type OrderItem struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OrderID   uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID uuid.UUID `gorm:"column:product_id;type:uuid;not null"`
	Name      string    `gorm:"column:name;not null"`

	Qty       int             `gorm:"column:qty;not null"`
	UnitPrice decimal.Decimal `gorm:"column:unit_price;type:numeric(10,2);not null"`

	WeightGrams decimal.Decimal `gorm:"column:weight_grams;type:numeric(10,2);not null"`
	LengthCm    int             `gorm:"column:length_cm;not null;default:1"`
	HeightCm    int             `gorm:"column:height_cm;not null;default:1"`
	WidthCm     int             `gorm:"column:width_cm;not null;default:1"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (i *OrderItem) BeforeCreate(_ *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

// LineTotal returns qty times the snapshotted unit price.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Qty)))
}
