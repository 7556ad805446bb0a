package reconciliation

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
	"github.com/negomaq/storefront-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// SagaEnqueuer hands a paid order to the shipment pipeline. Enqueue must not
// block; a false return means the job was dropped and will be recovered by a
// later webhook replay or manual retry.
type SagaEnqueuer interface {
	Enqueue(orderID uuid.UUID) bool
}

// Notifier receives payment outcomes after the transaction commits.
// Implementations must not block or fail the caller.
type Notifier interface {
	OrderPaid(ctx context.Context, order *models.Order)
	OrderCancelled(ctx context.Context, order *models.Order)
}

// Input is one provider-confirmed payment state to reconcile.
type Input struct {
	// ProviderPaymentID resolves the transaction directly when the provider
	// ID was stored on a previous notification.
	ProviderPaymentID string

	// OrderID is the external reference fallback used for first-time
	// notifications, before the provider ID has been backfilled.
	OrderID uuid.UUID

	Status       enums.PaymentStatus
	StatusDetail string

	// Amount is the provider-reported transaction amount, recorded on
	// refunds. Zero means unknown.
	Amount decimal.Decimal
}

// Result reports what the engine did, including the prior statuses so
// callers can log the transition.
type Result struct {
	Applied bool

	OrderID       uuid.UUID
	TransactionID uuid.UUID

	PaymentPrior enums.PaymentStatus
	PaymentNew   enums.PaymentStatus
	OrderPrior   enums.OrderStatus
	OrderNew     enums.OrderStatus
}

// Engine applies provider payment states to the local transaction and order,
// atomically and idempotently. Replays of terminal states are acknowledged
// without effect.
type Engine interface {
	ResolveAndApply(ctx context.Context, input Input) (*Result, error)
}

type engine struct {
	repo     Repository
	tx       txRunner
	saga     SagaEnqueuer
	notifier Notifier
	log      *logger.Logger
}

// NewEngine builds the reconciliation engine with the required dependencies.
func NewEngine(repo Repository, tx txRunner, saga SagaEnqueuer, notifier Notifier, log *logger.Logger) (Engine, error) {
	if repo == nil {
		return nil, fmt.Errorf("reconciliation repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if saga == nil {
		return nil, fmt.Errorf("saga enqueuer required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &engine{repo: repo, tx: tx, saga: saga, notifier: notifier, log: log}, nil
}

func (e *engine) ResolveAndApply(ctx context.Context, input Input) (*Result, error) {
	if !input.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeUnrecognizedStatus, "payment status not recognized").
			WithDetails(map[string]string{"status": string(input.Status)})
	}
	if input.ProviderPaymentID == "" && input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "provider payment id or order id required")
	}

	result := &Result{}
	var (
		paidOrder      *models.Order
		cancelledOrder *models.Order
	)

	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := e.repo.WithTx(tx)

		txn, err := e.resolveTransaction(ctx, repo, input)
		if err != nil {
			return err
		}

		order, err := repo.FindOrderForUpdate(ctx, txn.OrderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order for payment")
		}

		result.OrderID = order.ID
		result.TransactionID = txn.ID
		result.PaymentPrior = txn.Status
		result.PaymentNew = txn.Status
		result.OrderPrior = order.Status
		result.OrderNew = order.Status

		if txn.Status == input.Status {
			return nil
		}
		if txn.Status.IsTerminal() {
			lctx := e.log.WithFields(ctx, map[string]any{
				"order_id":       order.ID.String(),
				"transaction_id": txn.ID.String(),
				"stored_status":  txn.Status.String(),
				"target_status":  input.Status.String(),
			})
			e.log.Warn(lctx, "ignoring payment update for terminal transaction")
			return nil
		}

		txnUpdates := map[string]any{"status": input.Status}
		if input.Status == enums.PaymentStatusRejected && input.StatusDetail != "" {
			txnUpdates["failure_reason"] = input.StatusDetail
		}
		if input.Status == enums.PaymentStatusRefunded {
			refunded := txn.Amount
			if input.Amount.IsPositive() {
				refunded = input.Amount
			}
			txnUpdates["refunded_amount"] = refunded
		}
		if err := repo.UpdateTransaction(ctx, txn.ID, txnUpdates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment transaction")
		}
		result.Applied = true
		result.PaymentNew = input.Status

		switch input.Status {
		case enums.PaymentStatusApproved:
			if order.Status == enums.OrderStatusPending {
				if err := repo.UpdateOrder(ctx, order.ID, map[string]any{"status": enums.OrderStatusPaid}); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order paid")
				}
				result.OrderNew = enums.OrderStatusPaid
				order.Status = enums.OrderStatusPaid
				paidOrder = order
			}

		case enums.PaymentStatusRejected:
			// Rejection cancels the order but does not touch reservations.
			if order.Status == enums.OrderStatusPending {
				if err := repo.UpdateOrder(ctx, order.ID, map[string]any{"status": enums.OrderStatusCancelled}); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel order")
				}
				result.OrderNew = enums.OrderStatusCancelled
				order.Status = enums.OrderStatusCancelled
				cancelledOrder = order
			}

		case enums.PaymentStatusRefunded, enums.PaymentStatusChargedBack:
			if order.Status != enums.OrderStatusCancelled {
				items, err := repo.FindOrderItems(ctx, order.ID)
				if err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order items for reversal")
				}
				for _, item := range items {
					if err := inventory.Release(ctx, tx, item.ProductID, item.Qty); err != nil {
						return err
					}
				}
				if err := repo.UpdateOrder(ctx, order.ID, map[string]any{"status": enums.OrderStatusCancelled}); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel order")
				}
				result.OrderNew = enums.OrderStatusCancelled
				order.Status = enums.OrderStatusCancelled
				cancelledOrder = order
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	lctx := e.log.WithFields(ctx, map[string]any{
		"order_id":       result.OrderID.String(),
		"transaction_id": result.TransactionID.String(),
		"payment_prior":  result.PaymentPrior.String(),
		"payment_new":    result.PaymentNew.String(),
		"order_prior":    result.OrderPrior.String(),
		"order_new":      result.OrderNew.String(),
	})
	if result.Applied {
		e.log.Info(lctx, "payment state reconciled")
	}

	if paidOrder != nil {
		e.notifier.OrderPaid(ctx, paidOrder)
		if paidOrder.CarrierShipmentID == nil {
			if !e.saga.Enqueue(paidOrder.ID) {
				e.log.Warn(lctx, "shipment queue full, order paid without shipment job")
			}
		}
	}
	if cancelledOrder != nil {
		e.notifier.OrderCancelled(ctx, cancelledOrder)
	}
	return result, nil
}

// resolveTransaction finds the payment row, preferring the stored provider
// ID and falling back to the order's latest transaction. The fallback
// backfills provider_payment_id so the next notification resolves directly.
func (e *engine) resolveTransaction(ctx context.Context, repo Repository, input Input) (*models.PaymentTransaction, error) {
	if input.ProviderPaymentID != "" {
		txn, err := repo.FindTransactionByProviderID(ctx, input.ProviderPaymentID)
		if err == nil {
			return txn, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve payment by provider id")
		}
	}

	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment transaction not found").
			WithDetails(map[string]string{"provider_payment_id": input.ProviderPaymentID})
	}

	txn, err := repo.FindLatestTransactionForOrder(ctx, input.OrderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment transaction not found").
				WithDetails(map[string]string{"order_id": input.OrderID.String()})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve payment by order")
	}

	if input.ProviderPaymentID != "" && txn.ProviderPaymentID == nil {
		if err := repo.UpdateTransaction(ctx, txn.ID, map[string]any{"provider_payment_id": input.ProviderPaymentID}); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "backfill provider payment id")
		}
		providerID := input.ProviderPaymentID
		txn.ProviderPaymentID = &providerID
	}
	return txn, nil
}
