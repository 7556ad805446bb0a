package orders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/negomaq/storefront-backend/pkg/db/models"
)

// Repository is the persistence surface for orders and their owned rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error)
	CreateOrderItems(ctx context.Context, items []models.OrderItem) error
	CreatePaymentTransaction(ctx context.Context, txn *models.PaymentTransaction) (*models.PaymentTransaction, error)

	FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindOrderForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindOrdersByUser(ctx context.Context, userID uuid.UUID) ([]models.Order, error)
	FindOrderItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error)

	FindActiveProductsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Product, error)
	FindAddress(ctx context.Context, id uuid.UUID) (*models.Address, error)
	FindUser(ctx context.Context, id uuid.UUID) (*models.User, error)

	UpdateOrder(ctx context.Context, id uuid.UUID, updates map[string]any) error
}
