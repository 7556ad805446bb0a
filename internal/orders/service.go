package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/negomaq/storefront-backend/internal/inventory"
	"github.com/negomaq/storefront-backend/pkg/db/models"
	"github.com/negomaq/storefront-backend/pkg/enums"
	pkgerrors "github.com/negomaq/storefront-backend/pkg/errors"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Notifier receives lifecycle events after the surrounding transaction commits.
// Implementations must not block or fail the caller.
type Notifier interface {
	OrderCreated(ctx context.Context, order *models.Order)
	OrderShipped(ctx context.Context, order *models.Order)
	OrderDelivered(ctx context.Context, order *models.Order)
}

// Service defines order placement, reads and back-office status updates.
type Service interface {
	Create(ctx context.Context, input CreateOrderInput) (*OrderDTO, error)
	Get(ctx context.Context, orderID uuid.UUID, actor Actor) (*OrderDTO, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]OrderDTO, error)
	AdminUpdateStatus(ctx context.Context, input AdminStatusInput) (*OrderDTO, error)
}

type service struct {
	repo     Repository
	tx       txRunner
	notifier Notifier
}

// NewService builds the orders service with the required dependencies.
func NewService(repo Repository, tx txRunner, notifier Notifier) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	return &service{repo: repo, tx: tx, notifier: notifier}, nil
}

// Create places an order: it reserves stock for every line, snapshots prices
// and physical dimensions, fixes the total and opens a pending payment
// transaction, all inside one database transaction.
func (s *service) Create(ctx context.Context, input CreateOrderInput) (*OrderDTO, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order requires at least one item")
	}
	for _, item := range input.Items {
		if item.Qty <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "item qty must be positive")
		}
	}
	if input.Shipping.Cost.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipping cost cannot be negative")
	}

	var created *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		if input.AddressID != nil {
			address, err := repo.FindAddress(ctx, *input.AddressID)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return pkgerrors.New(pkgerrors.CodeNotFound, "address not found")
				}
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load address")
			}
			if address.UserID != input.UserID {
				return pkgerrors.New(pkgerrors.CodeForbidden, "address does not belong to user")
			}
		}

		ids := make([]uuid.UUID, 0, len(input.Items))
		for _, item := range input.Items {
			ids = append(ids, item.ProductID)
		}
		products, err := repo.FindActiveProductsByIDs(ctx, ids)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load products")
		}
		byID := make(map[uuid.UUID]models.Product, len(products))
		for _, product := range products {
			byID[product.ID] = product
		}

		reservations := make([]inventory.ReservationRequest, 0, len(input.Items))
		items := make([]models.OrderItem, 0, len(input.Items))
		subtotal := decimal.Zero
		for _, item := range input.Items {
			product, ok := byID[item.ProductID]
			if !ok {
				return pkgerrors.New(pkgerrors.CodeNotFound, "product not found").
					WithDetails(map[string]any{"product_id": item.ProductID})
			}
			reservations = append(reservations, inventory.ReservationRequest{
				ProductID: product.ID,
				Qty:       item.Qty,
			})
			items = append(items, models.OrderItem{
				ProductID:   product.ID,
				Name:        product.Title,
				Qty:         item.Qty,
				UnitPrice:   product.Price,
				WeightGrams: product.WeightGrams,
				LengthCm:    product.LengthCm,
				HeightCm:    product.HeightCm,
				WidthCm:     product.WidthCm,
			})
			subtotal = subtotal.Add(product.Price.Mul(decimal.NewFromInt(int64(item.Qty))))
		}

		if err := inventory.Reserve(ctx, tx, reservations); err != nil {
			return err
		}

		total := subtotal.Add(input.Shipping.Cost).Round(2)
		order := &models.Order{
			UserID:       input.UserID,
			AddressID:    input.AddressID,
			Status:       enums.OrderStatusPending,
			TotalAmount:  total,
			ShippingCost: input.Shipping.Cost.Round(2),
		}
		if input.Shipping.Carrier != "" {
			carrier := input.Shipping.Carrier
			order.ShippingCarrier = &carrier
		}
		if input.Shipping.ServiceID > 0 {
			serviceID := input.Shipping.ServiceID
			order.ShippingServiceID = &serviceID
		}
		if input.Shipping.ServiceName != "" {
			serviceName := input.Shipping.ServiceName
			order.ShippingServiceName = &serviceName
		}

		if _, err := repo.CreateOrder(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}
		for i := range items {
			items[i].OrderID = order.ID
		}
		if err := repo.CreateOrderItems(ctx, items); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order items")
		}

		txn := &models.PaymentTransaction{
			OrderID: order.ID,
			Amount:  total,
			Status:  enums.PaymentStatusPending,
		}
		if _, err := repo.CreatePaymentTransaction(ctx, txn); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment transaction")
		}

		order.Items = items
		order.Transactions = []models.PaymentTransaction{*txn}
		created = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifier.OrderCreated(ctx, created)
	return toOrderDTO(created), nil
}

// Get returns the order, restricted to its owner unless the actor is an admin.
func (s *service) Get(ctx context.Context, orderID uuid.UUID, actor Actor) (*OrderDTO, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	order, err := s.repo.FindOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if actor.Role != enums.MemberRoleAdmin && order.UserID != actor.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to user")
	}
	return toOrderDTO(order), nil
}

// ListByUser returns the user's orders, newest first.
func (s *service) ListByUser(ctx context.Context, userID uuid.UUID) ([]OrderDTO, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}

	records, err := s.repo.FindOrdersByUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	dtos := make([]OrderDTO, 0, len(records))
	for i := range records {
		dtos = append(dtos, *toOrderDTO(&records[i]))
	}
	return dtos, nil
}

// AdminUpdateStatus moves an order to shipped or delivered. Other statuses
// belong to the payment reconciliation path and are rejected here.
func (s *service) AdminUpdateStatus(ctx context.Context, input AdminStatusInput) (*OrderDTO, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.ActorRole != enums.MemberRoleAdmin {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
	if input.Target != enums.OrderStatusShipped && input.Target != enums.OrderStatusDelivered {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "status must be shipped or delivered")
	}

	var updated *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindOrderForUpdate(ctx, input.OrderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}

		if order.Status == input.Target {
			updated = order
			return nil
		}
		if !canTransitionOrderStatus(order.Status, input.Target) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "status transition not allowed").
				WithDetails(map[string]string{
					"current": order.Status.String(),
					"target":  input.Target.String(),
				})
		}

		updates := map[string]any{"status": input.Target}
		if input.Target == enums.OrderStatusShipped && input.TrackingCode != nil {
			updates["tracking_code"] = *input.TrackingCode
			order.TrackingCode = input.TrackingCode
		}
		if err := repo.UpdateOrder(ctx, order.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
		}
		order.Status = input.Target
		updated = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	switch updated.Status {
	case enums.OrderStatusShipped:
		s.notifier.OrderShipped(ctx, updated)
	case enums.OrderStatusDelivered:
		s.notifier.OrderDelivered(ctx, updated)
	}
	return toOrderDTO(updated), nil
}

func canTransitionOrderStatus(current, target enums.OrderStatus) bool {
	switch target {
	case enums.OrderStatusShipped:
		return current == enums.OrderStatusPaid || current == enums.OrderStatusInSeparation
	case enums.OrderStatusDelivered:
		return current == enums.OrderStatusShipped
	default:
		return false
	}
}
