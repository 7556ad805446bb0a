package orders

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/negomaq/storefront-backend/pkg/db/models"
	"github.com/negomaq/storefront-backend/pkg/enums"
	pkgerrors "github.com/negomaq/storefront-backend/pkg/errors"
)

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type fakeNotifier struct {
	created   []uuid.UUID
	shipped   []uuid.UUID
	delivered []uuid.UUID
}

func (f *fakeNotifier) OrderCreated(_ context.Context, order *models.Order) {
	f.created = append(f.created, order.ID)
}

func (f *fakeNotifier) OrderShipped(_ context.Context, order *models.Order) {
	f.shipped = append(f.shipped, order.ID)
}

func (f *fakeNotifier) OrderDelivered(_ context.Context, order *models.Order) {
	f.delivered = append(f.delivered, order.ID)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:orders_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Address{},
		&models.Product{},
		&models.InventoryItem{},
		&models.Order{},
		&models.OrderItem{},
		&models.PaymentTransaction{},
	))
	return db
}

func newTestService(t *testing.T, db *gorm.DB) (Service, *fakeNotifier) {
	t.Helper()
	notifier := &fakeNotifier{}
	svc, err := NewService(NewRepository(db), gormTxRunner{db: db}, notifier)
	require.NoError(t, err)
	return svc, notifier
}

func seedProduct(t *testing.T, db *gorm.DB, price string, available int) models.Product {
	t.Helper()
	product := models.Product{
		SKU:         "sku-" + uuid.NewString()[:8],
		Title:       "Produto " + uuid.NewString()[:4],
		Price:       decimal.RequireFromString(price),
		WeightGrams: decimal.NewFromInt(500),
		LengthCm:    20,
		HeightCm:    10,
		WidthCm:     15,
		IsActive:    true,
	}
	require.NoError(t, db.Create(&product).Error)
	require.NoError(t, db.Create(&models.InventoryItem{
		ProductID:    product.ID,
		AvailableQty: available,
	}).Error)
	return product
}

func seedUser(t *testing.T, db *gorm.DB) models.User {
	t.Helper()
	user := models.User{
		Email:        uuid.NewString()[:8] + "@example.com",
		PasswordHash: "x",
		FirstName:    "Maria",
		LastName:     "Silva",
		Role:         enums.MemberRoleCustomer,
	}
	require.NoError(t, db.Create(&user).Error)
	return user
}

func TestCreate_ReservesStockAndFixesTotal(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc, notifier := newTestService(t, db)
	user := seedUser(t, db)
	product := seedProduct(t, db, "49.90", 10)

	dto, err := svc.Create(context.Background(), CreateOrderInput{
		UserID: user.ID,
		Items:  []OrderItemInput{{ProductID: product.ID, Qty: 2}},
		Shipping: ShippingSelection{
			Carrier:     "Correios",
			ServiceID:   2,
			ServiceName: "SEDEX",
			Cost:        decimal.RequireFromString("25.10"),
		},
	})
	require.NoError(t, err)

	require.Equal(t, enums.OrderStatusPending, dto.Status)
	require.True(t, dto.TotalAmount.Equal(decimal.RequireFromString("124.90")),
		"expected 2*49.90+25.10, got %s", dto.TotalAmount)
	require.Len(t, dto.Items, 1)
	require.True(t, dto.Items[0].UnitPrice.Equal(product.Price))

	var inv models.InventoryItem
	require.NoError(t, db.First(&inv, "product_id = ?", product.ID).Error)
	require.Equal(t, 8, inv.AvailableQty)
	require.Equal(t, 2, inv.ReservedQty)

	var txn models.PaymentTransaction
	require.NoError(t, db.First(&txn, "order_id = ?", dto.ID).Error)
	require.Equal(t, enums.PaymentStatusPending, txn.Status)
	require.True(t, txn.Amount.Equal(dto.TotalAmount))

	require.Equal(t, []uuid.UUID{dto.ID}, notifier.created)
}

func TestCreate_InsufficientStockRollsBack(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc, notifier := newTestService(t, db)
	user := seedUser(t, db)
	productA := seedProduct(t, db, "10.00", 5)
	productB := seedProduct(t, db, "20.00", 1)

	_, err := svc.Create(context.Background(), CreateOrderInput{
		UserID: user.ID,
		Items: []OrderItemInput{
			{ProductID: productA.ID, Qty: 2},
			{ProductID: productB.ID, Qty: 3},
		},
		Shipping: ShippingSelection{ServiceName: "PAC", Cost: decimal.NewFromInt(10)},
	})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeInsufficientStock, typed.Code())

	var invA models.InventoryItem
	require.NoError(t, db.First(&invA, "product_id = ?", productA.ID).Error)
	require.Equal(t, 5, invA.AvailableQty)
	require.Equal(t, 0, invA.ReservedQty)

	var orderCount int64
	require.NoError(t, db.Model(&models.Order{}).Count(&orderCount).Error)
	require.Zero(t, orderCount)
	require.Empty(t, notifier.created)
}

func TestCreate_SnapshotsSurviveCatalogEdits(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc, _ := newTestService(t, db)
	user := seedUser(t, db)
	product := seedProduct(t, db, "30.00", 5)

	dto, err := svc.Create(context.Background(), CreateOrderInput{
		UserID:   user.ID,
		Items:    []OrderItemInput{{ProductID: product.ID, Qty: 1}},
		Shipping: ShippingSelection{ServiceName: "PAC", Cost: decimal.Zero},
	})
	require.NoError(t, err)

	require.NoError(t, db.Model(&models.Product{}).
		Where("id = ?", product.ID).
		Update("price", decimal.RequireFromString("99.00")).Error)

	reloaded, err := svc.Get(context.Background(), dto.ID, Actor{UserID: user.ID, Role: enums.MemberRoleCustomer})
	require.NoError(t, err)
	require.True(t, reloaded.Items[0].UnitPrice.Equal(decimal.RequireFromString("30.00")))
	require.True(t, reloaded.TotalAmount.Equal(decimal.RequireFromString("30.00")))
}

func TestGet_OwnershipEnforced(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc, _ := newTestService(t, db)
	owner := seedUser(t, db)
	stranger := seedUser(t, db)
	product := seedProduct(t, db, "15.00", 3)

	dto, err := svc.Create(context.Background(), CreateOrderInput{
		UserID:   owner.ID,
		Items:    []OrderItemInput{{ProductID: product.ID, Qty: 1}},
		Shipping: ShippingSelection{ServiceName: "PAC", Cost: decimal.Zero},
	})
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), dto.ID, Actor{UserID: stranger.ID, Role: enums.MemberRoleCustomer})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeForbidden, typed.Code())

	got, err := svc.Get(context.Background(), dto.ID, Actor{UserID: stranger.ID, Role: enums.MemberRoleAdmin})
	require.NoError(t, err)
	require.Equal(t, dto.ID, got.ID)
}

func TestAdminUpdateStatus_Transitions(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc, notifier := newTestService(t, db)
	user := seedUser(t, db)
	product := seedProduct(t, db, "15.00", 3)

	dto, err := svc.Create(context.Background(), CreateOrderInput{
		UserID:   user.ID,
		Items:    []OrderItemInput{{ProductID: product.ID, Qty: 1}},
		Shipping: ShippingSelection{ServiceName: "PAC", Cost: decimal.Zero},
	})
	require.NoError(t, err)
	admin := Actor{UserID: uuid.New(), Role: enums.MemberRoleAdmin}

	// Pending orders cannot ship.
	_, err = svc.AdminUpdateStatus(context.Background(), AdminStatusInput{
		OrderID:     dto.ID,
		Target:      enums.OrderStatusShipped,
		ActorUserID: admin.UserID,
		ActorRole:   admin.Role,
	})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeStateConflict, typed.Code())

	require.NoError(t, db.Model(&models.Order{}).
		Where("id = ?", dto.ID).
		Update("status", enums.OrderStatusPaid).Error)

	tracking := "BR123456789"
	shipped, err := svc.AdminUpdateStatus(context.Background(), AdminStatusInput{
		OrderID:      dto.ID,
		Target:       enums.OrderStatusShipped,
		TrackingCode: &tracking,
		ActorUserID:  admin.UserID,
		ActorRole:    admin.Role,
	})
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusShipped, shipped.Status)
	require.NotNil(t, shipped.TrackingCode)
	require.Equal(t, tracking, *shipped.TrackingCode)
	require.Equal(t, []uuid.UUID{dto.ID}, notifier.shipped)

	delivered, err := svc.AdminUpdateStatus(context.Background(), AdminStatusInput{
		OrderID:     dto.ID,
		Target:      enums.OrderStatusDelivered,
		ActorUserID: admin.UserID,
		ActorRole:   admin.Role,
	})
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusDelivered, delivered.Status)
	require.Equal(t, []uuid.UUID{dto.ID}, notifier.delivered)
}

func TestAdminUpdateStatus_RequiresAdmin(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc, _ := newTestService(t, db)

	_, err := svc.AdminUpdateStatus(context.Background(), AdminStatusInput{
		OrderID:     uuid.New(),
		Target:      enums.OrderStatusShipped,
		ActorUserID: uuid.New(),
		ActorRole:   enums.MemberRoleCustomer,
	})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeForbidden, typed.Code())
}

func TestCreate_AddressOwnershipEnforced(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc, _ := newTestService(t, db)
	user := seedUser(t, db)
	other := seedUser(t, db)
	product := seedProduct(t, db, "15.00", 3)

	address := models.Address{
		UserID:   other.ID,
		Street:   "Av. Paulista",
		Number:   "1000",
		District: "Bela Vista",
		City:     "Sao Paulo",
		State:    "SP",
		CEP:      "01310100",
	}
	require.NoError(t, db.Create(&address).Error)

	_, err := svc.Create(context.Background(), CreateOrderInput{
		UserID:    user.ID,
		AddressID: &address.ID,
		Items:     []OrderItemInput{{ProductID: product.ID, Qty: 1}},
		Shipping:  ShippingSelection{ServiceName: "PAC", Cost: decimal.Zero},
	})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeForbidden, typed.Code())
}
