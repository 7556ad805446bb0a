package reconciliation

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	baserepo "github.com/negomaq/storefront-backend/internal/repo"
	"github.com/negomaq/storefront-backend/pkg/db/models"
)

// Repository is the persistence surface the engine needs. Lookups used for
// status application take row locks so concurrent webhook deliveries
// serialize on the same transaction and order.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	FindTransactionByProviderID(ctx context.Context, providerPaymentID string) (*models.PaymentTransaction, error)
	FindLatestTransactionForOrder(ctx context.Context, orderID uuid.UUID) (*models.PaymentTransaction, error)
	FindOrderForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindOrderItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error)

	UpdateTransaction(ctx context.Context, id uuid.UUID, updates map[string]any) error
	UpdateOrder(ctx context.Context, id uuid.UUID, updates map[string]any) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a reconciliation repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindTransactionByProviderID(ctx context.Context, providerPaymentID string) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	err := baserepo.ForUpdate(r.db.WithContext(ctx)).
		Where("provider_payment_id = ?", providerPaymentID).
		First(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) FindLatestTransactionForOrder(ctx context.Context, orderID uuid.UUID) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	err := baserepo.ForUpdate(r.db.WithContext(ctx)).
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		First(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) FindOrderForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := baserepo.ForUpdate(r.db.WithContext(ctx)).
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindOrderItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) UpdateTransaction(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.PaymentTransaction{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *repository) UpdateOrder(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Updates(updates).Error
}
