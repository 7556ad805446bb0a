package payments

import (
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/negomaq/storefront-backend/internal/reconciliation"
	"github.com/negomaq/storefront-backend/pkg/config"
	"github.com/negomaq/storefront-backend/pkg/db/models"
	"github.com/negomaq/storefront-backend/pkg/enums"
	pkgerrors "github.com/negomaq/storefront-backend/pkg/errors"
	"github.com/negomaq/storefront-backend/pkg/logger"
	"github.com/negomaq/storefront-backend/pkg/mercadopago"
)

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type fakeGateway struct {
	lastPreference mercadopago.PreferenceRequest
	preference     *mercadopago.Preference
	preferenceErr  error

	lastRefundID     int64
	lastRefundAmount *decimal.Decimal
	refund           *mercadopago.Refund
	refundErr        error
}

func (f *fakeGateway) CreatePreference(_ context.Context, req mercadopago.PreferenceRequest) (*mercadopago.Preference, error) {
	f.lastPreference = req
	if f.preferenceErr != nil {
		return nil, f.preferenceErr
	}
	return f.preference, nil
}

func (f *fakeGateway) RefundPayment(_ context.Context, paymentID int64, amount *decimal.Decimal) (*mercadopago.Refund, error) {
	f.lastRefundID = paymentID
	f.lastRefundAmount = amount
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	return f.refund, nil
}

type noopSaga struct{}

func (noopSaga) Enqueue(uuid.UUID) bool { return true }

type noopNotifier struct{}

func (noopNotifier) OrderPaid(context.Context, *models.Order)      {}
func (noopNotifier) OrderCancelled(context.Context, *models.Order) {}

type fixture struct {
	db      *gorm.DB
	svc     Service
	gateway *fakeGateway
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := "file:payments_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Product{},
		&models.InventoryItem{},
		&models.Order{},
		&models.OrderItem{},
		&models.PaymentTransaction{},
	))

	log := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	engine, err := reconciliation.NewEngine(
		reconciliation.NewRepository(db),
		gormTxRunner{db: db},
		noopSaga{},
		noopNotifier{},
		log,
	)
	require.NoError(t, err)

	gw := &fakeGateway{}
	svc, err := NewService(
		NewRepository(db),
		gw,
		engine,
		config.AppConfig{
			PublicURL:   "https://api.negomaq.com.br",
			FrontendURL: "https://loja.negomaq.com.br/",
		},
		config.MercadoPagoConfig{WebhookPath: "/api/v1/webhooks/mercadopago"},
		log,
	)
	require.NoError(t, err)
	return &fixture{db: db, svc: svc, gateway: gw}
}

type seeded struct {
	user  models.User
	order models.Order
	txn   models.PaymentTransaction
}

func (f *fixture) seedOrder(t *testing.T, orderStatus enums.OrderStatus, txnStatus enums.PaymentStatus, providerPaymentID *string) seeded {
	t.Helper()
	user := models.User{
		Email:        uuid.NewString()[:8] + "@example.com",
		PasswordHash: "x",
		FirstName:    "Ana",
		LastName:     "Souza",
		Role:         enums.MemberRoleCustomer,
	}
	require.NoError(t, f.db.Create(&user).Error)

	productID := uuid.New()
	require.NoError(t, f.db.Create(&models.Product{
		ID:          productID,
		SKU:         "sku-" + uuid.NewString()[:8],
		Title:       "Produto",
		Price:       decimal.RequireFromString("49.90"),
		WeightGrams: decimal.NewFromInt(400),
		IsActive:    true,
	}).Error)
	require.NoError(t, f.db.Create(&models.InventoryItem{
		ProductID:    productID,
		AvailableQty: 5,
		ReservedQty:  2,
	}).Error)

	order := models.Order{
		UserID:       user.ID,
		Status:       orderStatus,
		TotalAmount:  decimal.RequireFromString("124.90"),
		ShippingCost: decimal.RequireFromString("25.10"),
	}
	require.NoError(t, f.db.Create(&order).Error)
	require.NoError(t, f.db.Create(&models.OrderItem{
		OrderID:     order.ID,
		ProductID:   productID,
		Name:        "Produto",
		Qty:         2,
		UnitPrice:   decimal.RequireFromString("49.90"),
		WeightGrams: decimal.NewFromInt(400),
	}).Error)

	txn := models.PaymentTransaction{
		OrderID:           order.ID,
		Amount:            order.TotalAmount,
		Status:            txnStatus,
		ProviderPaymentID: providerPaymentID,
	}
	require.NoError(t, f.db.Create(&txn).Error)

	return seeded{user: user, order: order, txn: txn}
}

func strPtr(s string) *string { return &s }

func TestCreateCheckout_BuildsPreference(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	s := f.seedOrder(t, enums.OrderStatusPending, enums.PaymentStatusPending, nil)
	f.gateway.preference = &mercadopago.Preference{
		ID:        "pref-1",
		InitPoint: "https://mp.example/init",
	}

	dto, err := f.svc.CreateCheckout(context.Background(), s.order.ID, Actor{UserID: s.user.ID, Role: enums.MemberRoleCustomer})
	require.NoError(t, err)
	require.Equal(t, "pref-1", dto.PreferenceID)
	require.Equal(t, "https://mp.example/init", dto.InitPoint)

	req := f.gateway.lastPreference
	require.Equal(t, s.order.ID.String(), req.ExternalReference)
	require.Equal(t, "https://api.negomaq.com.br/api/v1/webhooks/mercadopago", req.NotificationURL)
	require.Equal(t, "https://loja.negomaq.com.br/checkout/success", req.BackURLs.Success)
	require.Equal(t, "Ana Souza", req.Payer.Name)

	// One line per item plus the shipping line.
	require.Len(t, req.Items, 2)
	require.Equal(t, "Frete", req.Items[1].Title)
	require.True(t, req.Items[1].UnitPrice.Equal(decimal.RequireFromString("25.10")))

	var txn models.PaymentTransaction
	require.NoError(t, f.db.First(&txn, "id = ?", s.txn.ID).Error)
	require.NotNil(t, txn.ProviderPreferenceID)
	require.Equal(t, "pref-1", *txn.ProviderPreferenceID)
}

func TestCreateCheckout_RejectsNonPendingOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	s := f.seedOrder(t, enums.OrderStatusPaid, enums.PaymentStatusApproved, strPtr("1"))

	_, err := f.svc.CreateCheckout(context.Background(), s.order.ID, Actor{UserID: s.user.ID, Role: enums.MemberRoleCustomer})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeStateConflict, typed.Code())
}

func TestCreateCheckout_OwnershipEnforced(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	s := f.seedOrder(t, enums.OrderStatusPending, enums.PaymentStatusPending, nil)

	_, err := f.svc.CreateCheckout(context.Background(), s.order.ID, Actor{UserID: uuid.New(), Role: enums.MemberRoleCustomer})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeForbidden, typed.Code())
}

func TestRefund_FullRefundCancelsOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	s := f.seedOrder(t, enums.OrderStatusPaid, enums.PaymentStatusApproved, strPtr("987654"))
	f.gateway.refund = &mercadopago.Refund{
		ID:     1,
		Status: "approved",
		Amount: s.txn.Amount,
	}

	dto, err := f.svc.Refund(context.Background(), RefundInput{
		OrderID:   s.order.ID,
		ActorRole: enums.MemberRoleAdmin,
	})
	require.NoError(t, err)
	require.Equal(t, int64(987654), f.gateway.lastRefundID)
	require.Nil(t, f.gateway.lastRefundAmount)
	require.Equal(t, enums.PaymentStatusRefunded, dto.Status)
	require.NotNil(t, dto.RefundedAmount)
	require.True(t, dto.RefundedAmount.Equal(s.txn.Amount))

	var order models.Order
	require.NoError(t, f.db.First(&order, "id = ?", s.order.ID).Error)
	require.Equal(t, enums.OrderStatusCancelled, order.Status)

	// The engine returns the reserved units to the available pool.
	var inv models.InventoryItem
	require.NoError(t, f.db.First(&inv, "reserved_qty = ?", 0).Error)
	require.Equal(t, 7, inv.AvailableQty)
}

func TestRefund_RequiresAdmin(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.svc.Refund(context.Background(), RefundInput{
		OrderID:   uuid.New(),
		ActorRole: enums.MemberRoleCustomer,
	})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeForbidden, typed.Code())
}

func TestRefund_AmountCannotExceedPayment(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	s := f.seedOrder(t, enums.OrderStatusPaid, enums.PaymentStatusApproved, strPtr("111"))

	amount := decimal.RequireFromString("999.99")
	_, err := f.svc.Refund(context.Background(), RefundInput{
		OrderID:   s.order.ID,
		Amount:    &amount,
		ActorRole: enums.MemberRoleAdmin,
	})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeValidation, typed.Code())
}

func TestRefund_NoApprovedPayment(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	s := f.seedOrder(t, enums.OrderStatusPending, enums.PaymentStatusPending, nil)

	_, err := f.svc.Refund(context.Background(), RefundInput{
		OrderID:   s.order.ID,
		ActorRole: enums.MemberRoleAdmin,
	})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeStateConflict, typed.Code())
}

func TestListByOrder_OwnershipEnforced(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	s := f.seedOrder(t, enums.OrderStatusPending, enums.PaymentStatusPending, nil)

	txns, err := f.svc.ListByOrder(context.Background(), s.order.ID, Actor{UserID: s.user.ID, Role: enums.MemberRoleCustomer})
	require.NoError(t, err)
	require.Len(t, txns, 1)

	_, err = f.svc.ListByOrder(context.Background(), s.order.ID, Actor{UserID: uuid.New(), Role: enums.MemberRoleCustomer})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeForbidden, typed.Code())

	strangerAsAdmin, err := f.svc.ListByOrder(context.Background(), s.order.ID, Actor{UserID: uuid.New(), Role: enums.MemberRoleAdmin})
	require.NoError(t, err)
	require.Len(t, strangerAsAdmin, 1)
}
