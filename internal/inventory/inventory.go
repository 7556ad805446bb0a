package inventory

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/negomaq/storefront-backend/pkg/db/models"
	pkgerrors "github.com/negomaq/storefront-backend/pkg/errors"
)

// ReservationRequest asks to move qty units from available to reserved.
type ReservationRequest struct {
	ProductID uuid.UUID
	Qty       int
}

// Reserve moves stock from available to reserved for every request, all or
// nothing. Each product is updated with a single conditional UPDATE so
// concurrent reservations never oversell; the first product without enough
// stock fails the whole call and the caller's transaction rolls back the
// earlier decrements.
func Reserve(ctx context.Context, tx *gorm.DB, requests []ReservationRequest) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for inventory reservation")
	}
	if len(requests) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one reservation is required")
	}

	for _, req := range requests {
		if req.Qty <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "reservation qty must be positive").
				WithDetails(map[string]any{"product_id": req.ProductID, "qty": req.Qty})
		}

		res := tx.WithContext(ctx).Exec(`
			UPDATE inventory_items
			SET available_qty = available_qty - ?,
				reserved_qty = reserved_qty + ?,
				updated_at = CURRENT_TIMESTAMP
			WHERE product_id = ? AND available_qty >= ?
		`, req.Qty, req.Qty, req.ProductID, req.Qty)
		if res.Error != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "reserve inventory")
		}
		if res.RowsAffected == 0 {
			available, err := availableQty(ctx, tx, req.ProductID)
			if err != nil {
				return err
			}
			return pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock").
				WithDetails(map[string]any{
					"product_id": req.ProductID,
					"available":  available,
					"requested":  req.Qty,
				})
		}
	}
	return nil
}

// Release returns previously reserved units to the available pool. The
// reserved_qty guard makes the statement safe to repeat: a second release of
// the same units matches zero rows instead of going negative.
func Release(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for inventory release")
	}
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "release qty must be positive")
	}

	res := tx.WithContext(ctx).Exec(`
		UPDATE inventory_items
		SET available_qty = available_qty + ?,
			reserved_qty = reserved_qty - ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE product_id = ? AND reserved_qty >= ?
	`, qty, qty, productID, qty)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "release inventory")
	}
	return nil
}

func availableQty(ctx context.Context, tx *gorm.DB, productID uuid.UUID) (int, error) {
	var item models.InventoryItem
	err := tx.WithContext(ctx).First(&item, "product_id = ?", productID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, pkgerrors.New(pkgerrors.CodeNotFound, "inventory record not found").
			WithDetails(map[string]any{"product_id": productID})
	}
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load inventory record")
	}
	return item.AvailableQty, nil
}
