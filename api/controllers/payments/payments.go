package payments

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/negomaq/storefront-backend/api/middleware"
	"github.com/negomaq/storefront-backend/api/responses"
	"github.com/negomaq/storefront-backend/api/validators"
	internalpayments "github.com/negomaq/storefront-backend/internal/payments"
	pkgerrors "github.com/negomaq/storefront-backend/pkg/errors"
	"github.com/negomaq/storefront-backend/pkg/logger"
)

// Checkout creates a payment preference for a pending order and returns the
// provider redirect targets.
func Checkout(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := parseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		checkout, err := svc.CreateCheckout(r.Context(), orderID, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, checkout)
	}
}

type refundRequest struct {
	Amount *decimal.Decimal `json:"amount"`
}

// AdminRefund refunds the order's approved payment. Omitting the amount
// refunds the full value.
func AdminRefund(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := parseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req refundRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if req.Amount != nil && !req.Amount.IsPositive() {
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive"))
			return
		}

		txn, err := svc.Refund(r.Context(), internalpayments.RefundInput{
			OrderID:   orderID,
			Amount:    req.Amount,
			ActorRole: actor.Role,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, txn)
	}
}

// ListByOrder returns the order's payment attempts.
func ListByOrder(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := parseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		txns, err := svc.ListByOrder(r.Context(), orderID, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, txns)
	}
}

// GetTransaction returns one payment attempt.
func GetTransaction(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		txnID, err := parseUUIDParam(r, "transactionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		txn, err := svc.GetTransaction(r.Context(), txnID, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, txn)
	}
}

func actorFromContext(r *http.Request) (internalpayments.Actor, error) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		return internalpayments.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	role, _ := middleware.RoleFromContext(r.Context())
	return internalpayments.Actor{UserID: userID, Role: role}, nil
}

func parseUUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, name+" is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+name)
	}
	return id, nil
}
