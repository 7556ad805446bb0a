package payments

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/negomaq/storefront-backend/pkg/db/models"
	"github.com/negomaq/storefront-backend/pkg/enums"
)

// Repository is the persistence surface for checkout and refund flows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	FindOrderWithItems(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindUser(ctx context.Context, id uuid.UUID) (*models.User, error)

	FindTransaction(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error)
	FindTransactionsByOrder(ctx context.Context, orderID uuid.UUID) ([]models.PaymentTransaction, error)
	FindLatestTransactionByStatus(ctx context.Context, orderID uuid.UUID, status enums.PaymentStatus) (*models.PaymentTransaction, error)

	UpdateTransaction(ctx context.Context, id uuid.UUID, updates map[string]any) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a payments repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindOrderWithItems(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repository) FindTransaction(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) FindTransactionsByOrder(ctx context.Context, orderID uuid.UUID) ([]models.PaymentTransaction, error) {
	var txns []models.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		Find(&txns).Error
	if err != nil {
		return nil, err
	}
	return txns, nil
}

func (r *repository) FindLatestTransactionByStatus(ctx context.Context, orderID uuid.UUID, status enums.PaymentStatus) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND status = ?", orderID, status).
		Order("created_at DESC").
		First(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) UpdateTransaction(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.PaymentTransaction{}).
		Where("id = ?", id).
		Updates(updates).Error
}
