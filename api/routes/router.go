package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/negomaq/storefront-backend/api/controllers"
	ordercontrollers "github.com/negomaq/storefront-backend/api/controllers/orders"
	paymentcontrollers "github.com/negomaq/storefront-backend/api/controllers/payments"
	shippingcontrollers "github.com/negomaq/storefront-backend/api/controllers/shipping"
	webhookcontrollers "github.com/negomaq/storefront-backend/api/controllers/webhooks"
	"github.com/negomaq/storefront-backend/api/middleware"
	"github.com/negomaq/storefront-backend/internal/orders"
	"github.com/negomaq/storefront-backend/internal/payments"
	"github.com/negomaq/storefront-backend/internal/shipments"
	internalwebhooks "github.com/negomaq/storefront-backend/internal/webhooks"
	"github.com/negomaq/storefront-backend/pkg/config"
	"github.com/negomaq/storefront-backend/pkg/db"
	"github.com/negomaq/storefront-backend/pkg/enums"
	"github.com/negomaq/storefront-backend/pkg/logger"
	"github.com/negomaq/storefront-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	cache redis.Pinger,
	idemStore redis.IdempotencyStore,
	ordersService orders.Service,
	paymentsService payments.Service,
	quoter *shipments.Quoter,
	webhookService *internalwebhooks.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, dbP, cache, logg))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/mercadopago", webhookcontrollers.MercadoPago(webhookService, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(idemStore, logg))

		r.Post("/shipping/quote", shippingcontrollers.Quote(quoter, logg))

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", ordercontrollers.Create(ordersService, logg))
			r.Get("/", ordercontrollers.List(ordersService, logg))
			r.Get("/{orderId}", ordercontrollers.Detail(ordersService, logg))
			r.Post("/{orderId}/checkout", paymentcontrollers.Checkout(paymentsService, logg))
			r.Get("/{orderId}/payments", paymentcontrollers.ListByOrder(paymentsService, logg))
		})
		r.Get("/payments/{transactionId}", paymentcontrollers.GetTransaction(paymentsService, logg))

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.MemberRoleAdmin))
			r.Patch("/orders/{orderId}/status", ordercontrollers.AdminUpdateStatus(ordersService, logg))
			r.Post("/orders/{orderId}/refund", paymentcontrollers.AdminRefund(paymentsService, logg))
		})
	})

	return r
}
