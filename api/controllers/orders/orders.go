package orders

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/negomaq/storefront-backend/api/middleware"
	"github.com/negomaq/storefront-backend/api/responses"
	"github.com/negomaq/storefront-backend/api/validators"
	internalorders "github.com/negomaq/storefront-backend/internal/orders"
	"github.com/negomaq/storefront-backend/pkg/enums"
	pkgerrors "github.com/negomaq/storefront-backend/pkg/errors"
	"github.com/negomaq/storefront-backend/pkg/logger"
)

type createItemRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Qty       int       `json:"qty" validate:"required,gt=0"`
}

type createShippingRequest struct {
	Carrier     string          `json:"carrier"`
	ServiceID   int             `json:"service_id"`
	ServiceName string          `json:"service_name"`
	Cost        decimal.Decimal `json:"cost"`
}

type createOrderRequest struct {
	AddressID *uuid.UUID            `json:"address_id"`
	Items     []createItemRequest   `json:"items" validate:"required,min=1,dive"`
	Shipping  createShippingRequest `json:"shipping"`
}

// Create places an order for the authenticated user.
func Create(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.UserIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}

		var req createOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := internalorders.CreateOrderInput{
			UserID:    userID,
			AddressID: req.AddressID,
			Shipping: internalorders.ShippingSelection{
				Carrier:     strings.TrimSpace(req.Shipping.Carrier),
				ServiceID:   req.Shipping.ServiceID,
				ServiceName: strings.TrimSpace(req.Shipping.ServiceName),
				Cost:        req.Shipping.Cost,
			},
		}
		for _, item := range req.Items {
			input.Items = append(input.Items, internalorders.OrderItemInput{
				ProductID: item.ProductID,
				Qty:       item.Qty,
			})
		}

		order, err := svc.Create(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, order)
	}
}

// List returns the authenticated user's orders.
func List(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.UserIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}

		list, err := svc.ListByUser(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// Detail returns one order, restricted to its owner unless the actor is an admin.
func Detail(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Get(r.Context(), orderID, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

type statusUpdateRequest struct {
	Status       string  `json:"status" validate:"required,oneof=shipped delivered"`
	TrackingCode *string `json:"tracking_code"`
}

// AdminUpdateStatus moves an order to shipped or delivered.
func AdminUpdateStatus(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req statusUpdateRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.AdminUpdateStatus(r.Context(), internalorders.AdminStatusInput{
			OrderID:      orderID,
			Target:       enums.OrderStatus(req.Status),
			TrackingCode: req.TrackingCode,
			ActorUserID:  actor.UserID,
			ActorRole:    actor.Role,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

func actorFromContext(r *http.Request) (internalorders.Actor, error) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		return internalorders.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	role, _ := middleware.RoleFromContext(r.Context())
	return internalorders.Actor{UserID: userID, Role: role}, nil
}

func parseOrderID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	orderID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id")
	}
	return orderID, nil
}
