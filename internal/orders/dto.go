package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/negomaq/storefront-backend/pkg/db/models"
	"github.com/negomaq/storefront-backend/pkg/enums"
)

// CreateOrderInput carries everything needed to place an order.
type CreateOrderInput struct {
	UserID    uuid.UUID
	AddressID *uuid.UUID
	Items     []OrderItemInput
	Shipping  ShippingSelection
}

// OrderItemInput selects a product and quantity.
type OrderItemInput struct {
	ProductID uuid.UUID
	Qty       int
}

// ShippingSelection is the rated service chosen at checkout.
type ShippingSelection struct {
	Carrier     string
	ServiceID   int
	ServiceName string
	Cost        decimal.Decimal
}

// AdminStatusInput drives the back-office shipped/delivered updates.
type AdminStatusInput struct {
	OrderID      uuid.UUID
	Target       enums.OrderStatus
	TrackingCode *string
	ActorUserID  uuid.UUID
	ActorRole    enums.MemberRole
}

// Actor identifies who is asking for an order read.
type Actor struct {
	UserID uuid.UUID
	Role   enums.MemberRole
}

// OrderDTO is the API shape of an order aggregate.
type OrderDTO struct {
	ID        uuid.UUID         `json:"id"`
	UserID    uuid.UUID         `json:"user_id"`
	AddressID *uuid.UUID        `json:"address_id,omitempty"`
	Status    enums.OrderStatus `json:"status"`

	TotalAmount  decimal.Decimal `json:"total_amount"`
	ShippingCost decimal.Decimal `json:"shipping_cost"`

	ShippingCarrier     *string `json:"shipping_carrier,omitempty"`
	ShippingServiceID   *int    `json:"shipping_service_id,omitempty"`
	ShippingServiceName *string `json:"shipping_service_name,omitempty"`
	TrackingCode        *string `json:"tracking_code,omitempty"`
	LabelURL            *string `json:"label_url,omitempty"`

	Items        []OrderItemDTO   `json:"items"`
	Transactions []TransactionDTO `json:"transactions,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OrderItemDTO exposes one immutable order line.
type OrderItemDTO struct {
	ID        uuid.UUID       `json:"id"`
	ProductID uuid.UUID       `json:"product_id"`
	Name      string          `json:"name"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// TransactionDTO exposes one payment attempt.
type TransactionDTO struct {
	ID                uuid.UUID           `json:"id"`
	Amount            decimal.Decimal     `json:"amount"`
	Method            string              `json:"method"`
	Status            enums.PaymentStatus `json:"status"`
	ProviderPaymentID *string             `json:"provider_payment_id,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
}

func toOrderDTO(order *models.Order) *OrderDTO {
	dto := &OrderDTO{
		ID:                  order.ID,
		UserID:              order.UserID,
		AddressID:           order.AddressID,
		Status:              order.Status,
		TotalAmount:         order.TotalAmount,
		ShippingCost:        order.ShippingCost,
		ShippingCarrier:     order.ShippingCarrier,
		ShippingServiceID:   order.ShippingServiceID,
		ShippingServiceName: order.ShippingServiceName,
		TrackingCode:        order.TrackingCode,
		LabelURL:            order.LabelURL,
		Items:               make([]OrderItemDTO, 0, len(order.Items)),
		CreatedAt:           order.CreatedAt,
		UpdatedAt:           order.UpdatedAt,
	}
	for _, item := range order.Items {
		dto.Items = append(dto.Items, OrderItemDTO{
			ID:        item.ID,
			ProductID: item.ProductID,
			Name:      item.Name,
			Qty:       item.Qty,
			UnitPrice: item.UnitPrice,
			LineTotal: item.LineTotal(),
		})
	}
	for _, txn := range order.Transactions {
		dto.Transactions = append(dto.Transactions, TransactionDTO{
			ID:                txn.ID,
			Amount:            txn.Amount,
			Method:            txn.Method,
			Status:            txn.Status,
			ProviderPaymentID: txn.ProviderPaymentID,
			CreatedAt:         txn.CreatedAt,
		})
	}
	return dto
}
