package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/negomaq/storefront-backend/pkg/enums"
)

// Order is the customer-facing aggregate. TotalAmount is fixed at creation
// as the sum of line totals plus ShippingCost; later shipping-price
// reconciliation may adjust both together.
type Order struct {
	ID        uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	UserID    uuid.UUID         `gorm:"column:user_id;type:uuid;not null;index"`
	AddressID *uuid.UUID        `gorm:"column:address_id;type:uuid"`
	Status    enums.OrderStatus `gorm:"column:status;type:text;not null;default:'pending'"`

	TotalAmount  decimal.Decimal `gorm:"column:total_amount;type:numeric(10,2);not null"`
	ShippingCost decimal.Decimal `gorm:"column:shipping_cost;type:numeric(10,2);not null"`

	ShippingCarrier     *string `gorm:"column:shipping_carrier"`
	ShippingServiceID   *int    `gorm:"column:shipping_service_id"`
	ShippingServiceName *string `gorm:"column:shipping_service_name"`

	CarrierShipmentID *string `gorm:"column:carrier_shipment_id;index"`
	CarrierProtocol   *string `gorm:"column:carrier_protocol"`
	TrackingCode      *string `gorm:"column:tracking_code"`
	LabelURL          *string `gorm:"column:label_url"`

	Items        []OrderItem          `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Transactions []PaymentTransaction `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(_ *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}
