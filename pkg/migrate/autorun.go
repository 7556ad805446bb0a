package migrate

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/negomaq/storefront-backend/pkg/db/models"
	"github.com/negomaq/storefront-backend/pkg/logger"
)

// AutoMigrate syncs the schema for dev environments. Production schemas are
// managed out of band; this only runs behind the AutoMigrate feature flag.
func AutoMigrate(ctx context.Context, conn *gorm.DB, logg *logger.Logger) error {
	entities := []any{
		&models.User{},
		&models.Address{},
		&models.Product{},
		&models.InventoryItem{},
		&models.Order{},
		&models.OrderItem{},
		&models.PaymentTransaction{},
	}

	if err := conn.WithContext(ctx).AutoMigrate(entities...); err != nil {
		return fmt.Errorf("auto-migrating schema: %w", err)
	}
	if logg != nil {
		logg.Info(ctx, "schema auto-migration complete")
	}
	return nil
}
