package payments

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/negomaq/storefront-backend/internal/reconciliation"
	"github.com/negomaq/storefront-backend/pkg/config"
	"github.com/negomaq/storefront-backend/pkg/db/models"
	"github.com/negomaq/storefront-backend/pkg/enums"
	pkgerrors "github.com/negomaq/storefront-backend/pkg/errors"
	"github.com/negomaq/storefront-backend/pkg/logger"
	"github.com/negomaq/storefront-backend/pkg/mercadopago"
)

// gateway is the slice of the payment provider client this service uses.
type gateway interface {
	CreatePreference(ctx context.Context, req mercadopago.PreferenceRequest) (*mercadopago.Preference, error)
	RefundPayment(ctx context.Context, paymentID int64, amount *decimal.Decimal) (*mercadopago.Refund, error)
}

// Actor identifies who is calling a payment operation.
type Actor struct {
	UserID uuid.UUID
	Role   enums.MemberRole
}

// CheckoutDTO carries the provider redirect targets for an order.
type CheckoutDTO struct {
	OrderID          uuid.UUID `json:"order_id"`
	PreferenceID     string    `json:"preference_id"`
	InitPoint        string    `json:"init_point"`
	SandboxInitPoint string    `json:"sandbox_init_point,omitempty"`
}

// TransactionDTO exposes one payment attempt.
type TransactionDTO struct {
	ID                uuid.UUID           `json:"id"`
	OrderID           uuid.UUID           `json:"order_id"`
	Amount            decimal.Decimal     `json:"amount"`
	Method            string              `json:"method"`
	Status            enums.PaymentStatus `json:"status"`
	ProviderPaymentID *string             `json:"provider_payment_id,omitempty"`
	FailureReason     *string             `json:"failure_reason,omitempty"`
	RefundedAmount    *decimal.Decimal    `json:"refunded_amount,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
}

// RefundInput requests a provider refund for an order's approved payment.
// A nil Amount refunds the full value.
type RefundInput struct {
	OrderID   uuid.UUID
	Amount    *decimal.Decimal
	ActorRole enums.MemberRole
}

// Service drives checkout preference creation, refunds and payment reads.
type Service interface {
	CreateCheckout(ctx context.Context, orderID uuid.UUID, actor Actor) (*CheckoutDTO, error)
	Refund(ctx context.Context, input RefundInput) (*TransactionDTO, error)
	GetTransaction(ctx context.Context, id uuid.UUID, actor Actor) (*TransactionDTO, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID, actor Actor) ([]TransactionDTO, error)
}

type service struct {
	repo    Repository
	gateway gateway
	engine  reconciliation.Engine
	appCfg  config.AppConfig
	mpCfg   config.MercadoPagoConfig
	log     *logger.Logger
}

// NewService builds the payments service with the required dependencies.
func NewService(
	repo Repository,
	gw gateway,
	engine reconciliation.Engine,
	appCfg config.AppConfig,
	mpCfg config.MercadoPagoConfig,
	log *logger.Logger,
) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if gw == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if engine == nil {
		return nil, fmt.Errorf("reconciliation engine required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{repo: repo, gateway: gw, engine: engine, appCfg: appCfg, mpCfg: mpCfg, log: log}, nil
}

// CreateCheckout registers a Checkout Pro preference for the order and stores
// the preference ID on the pending transaction. Repeat calls create a fresh
// preference; the provider treats earlier ones as abandoned.
func (s *service) CreateCheckout(ctx context.Context, orderID uuid.UUID, actor Actor) (*CheckoutDTO, error) {
	order, err := s.loadOrderFor(ctx, orderID, actor)
	if err != nil {
		return nil, err
	}
	if order.Status != enums.OrderStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not awaiting payment").
			WithDetails(map[string]string{"status": order.Status.String()})
	}

	txn, err := s.repo.FindLatestTransactionByStatus(ctx, order.ID, enums.PaymentStatusPending)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order has no pending payment transaction")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pending transaction")
	}

	user, err := s.repo.FindUser(ctx, order.UserID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order owner")
	}

	items := make([]mercadopago.PreferenceItem, 0, len(order.Items)+1)
	for _, item := range order.Items {
		items = append(items, mercadopago.PreferenceItem{
			ID:         item.ProductID.String(),
			Title:      item.Name,
			Quantity:   item.Qty,
			UnitPrice:  item.UnitPrice,
			CurrencyID: "BRL",
		})
	}
	if order.ShippingCost.IsPositive() {
		items = append(items, mercadopago.PreferenceItem{
			ID:         "shipping",
			Title:      "Frete",
			Quantity:   1,
			UnitPrice:  order.ShippingCost,
			CurrencyID: "BRL",
		})
	}

	req := mercadopago.PreferenceRequest{
		Items: items,
		Payer: mercadopago.PreferencePayer{
			Name:  strings.TrimSpace(user.FirstName + " " + user.LastName),
			Email: user.Email,
		},
		ExternalReference: order.ID.String(),
		AutoReturn:        "approved",
	}
	if s.appCfg.FrontendURL != "" {
		base := strings.TrimRight(s.appCfg.FrontendURL, "/")
		req.BackURLs = mercadopago.BackURLs{
			Success: base + "/checkout/success",
			Pending: base + "/checkout/pending",
			Failure: base + "/checkout/failure",
		}
	}
	if s.appCfg.PublicURL != "" {
		req.NotificationURL = strings.TrimRight(s.appCfg.PublicURL, "/") + s.mpCfg.WebhookPath
	}

	pref, err := s.gateway.CreatePreference(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := s.repo.UpdateTransaction(ctx, txn.ID, map[string]any{"provider_preference_id": pref.ID}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store preference id")
	}

	lctx := s.log.WithOrderID(ctx, order.ID.String())
	s.log.Info(lctx, "checkout preference created")

	return &CheckoutDTO{
		OrderID:          order.ID,
		PreferenceID:     pref.ID,
		InitPoint:        pref.InitPoint,
		SandboxInitPoint: pref.SandboxInitPoint,
	}, nil
}

// Refund asks the provider to refund the order's approved payment, then
// routes the refunded state through the reconciliation engine so the order
// and inventory follow.
func (s *service) Refund(ctx context.Context, input RefundInput) (*TransactionDTO, error) {
	if input.ActorRole != enums.MemberRoleAdmin {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	txn, err := s.repo.FindLatestTransactionByStatus(ctx, input.OrderID, enums.PaymentStatusApproved)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order has no approved payment to refund")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load approved transaction")
	}
	if txn.ProviderPaymentID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "approved payment has no provider payment id")
	}
	providerID, err := strconv.ParseInt(*txn.ProviderPaymentID, 10, 64)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "stored provider payment id is not numeric")
	}
	if input.Amount != nil && input.Amount.GreaterThan(txn.Amount) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount exceeds payment amount").
			WithDetails(map[string]string{
				"requested": input.Amount.String(),
				"paid":      txn.Amount.String(),
			})
	}

	refund, err := s.gateway.RefundPayment(ctx, providerID, input.Amount)
	if err != nil {
		return nil, err
	}

	result, err := s.engine.ResolveAndApply(ctx, reconciliation.Input{
		ProviderPaymentID: *txn.ProviderPaymentID,
		OrderID:           input.OrderID,
		Status:            enums.PaymentStatusRefunded,
		Amount:            refund.Amount,
	})
	if err != nil {
		return nil, err
	}

	lctx := s.log.WithFields(ctx, map[string]any{
		"order_id":   input.OrderID.String(),
		"payment_id": *txn.ProviderPaymentID,
		"refund_id":  refund.ID,
	})
	s.log.Info(lctx, "payment refunded")

	updated, err := s.repo.FindTransaction(ctx, result.TransactionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload refunded transaction")
	}
	return toTransactionDTO(updated), nil
}

// GetTransaction returns one payment attempt, restricted to the owner of its
// order unless the actor is an admin.
func (s *service) GetTransaction(ctx context.Context, id uuid.UUID, actor Actor) (*TransactionDTO, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id required")
	}
	txn, err := s.repo.FindTransaction(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
	}
	if _, err := s.loadOrderFor(ctx, txn.OrderID, actor); err != nil {
		return nil, err
	}
	return toTransactionDTO(txn), nil
}

// ListByOrder returns the order's payment attempts, newest first.
func (s *service) ListByOrder(ctx context.Context, orderID uuid.UUID, actor Actor) ([]TransactionDTO, error) {
	if _, err := s.loadOrderFor(ctx, orderID, actor); err != nil {
		return nil, err
	}
	txns, err := s.repo.FindTransactionsByOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list transactions")
	}
	dtos := make([]TransactionDTO, 0, len(txns))
	for i := range txns {
		dtos = append(dtos, *toTransactionDTO(&txns[i]))
	}
	return dtos, nil
}

func (s *service) loadOrderFor(ctx context.Context, orderID uuid.UUID, actor Actor) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.FindOrderWithItems(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if actor.Role != enums.MemberRoleAdmin && order.UserID != actor.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to user")
	}
	return order, nil
}

func toTransactionDTO(txn *models.PaymentTransaction) *TransactionDTO {
	return &TransactionDTO{
		ID:                txn.ID,
		OrderID:           txn.OrderID,
		Amount:            txn.Amount,
		Method:            txn.Method,
		Status:            txn.Status,
		ProviderPaymentID: txn.ProviderPaymentID,
		FailureReason:     txn.FailureReason,
		RefundedAmount:    txn.RefundedAmount,
		CreatedAt:         txn.CreatedAt,
	}
}
