package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/negomaq/storefront-backend/pkg/enums"
)

// PaymentTransaction tracks one payment attempt against an order.
// ProviderPaymentID is the gateway's identifier and is backfilled on the
// first webhook when the gateway assigned it after checkout redirect.
type PaymentTransaction struct {
	ID      uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OrderID uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`

	Amount decimal.Decimal     `gorm:"column:amount;type:numeric(10,2);not null"`
	Method string              `gorm:"column:method;not null;default:'checkout_pro'"`
	Status enums.PaymentStatus `gorm:"column:status;type:text;not null;default:'pending'"`

	ProviderPaymentID    *string `gorm:"column:provider_payment_id;uniqueIndex"`
	ProviderPreferenceID *string `gorm:"column:provider_preference_id"`
	FailureReason        *string `gorm:"column:failure_reason"`

	RefundedAmount *decimal.Decimal `gorm:"column:refunded_amount;type:numeric(10,2)"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *PaymentTransaction) BeforeCreate(_ *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
