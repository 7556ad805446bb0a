package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/negomaq/storefront-backend/api/routes"
	"github.com/negomaq/storefront-backend/internal/notifications"
	"github.com/negomaq/storefront-backend/internal/orders"
	"github.com/negomaq/storefront-backend/internal/payments"
	"github.com/negomaq/storefront-backend/internal/reconciliation"
	"github.com/negomaq/storefront-backend/internal/shipments"
	internalwebhooks "github.com/negomaq/storefront-backend/internal/webhooks"
	"github.com/negomaq/storefront-backend/pkg/config"
	"github.com/negomaq/storefront-backend/pkg/db"
	"github.com/negomaq/storefront-backend/pkg/logger"
	"github.com/negomaq/storefront-backend/pkg/mail"
	"github.com/negomaq/storefront-backend/pkg/melhorenvio"
	"github.com/negomaq/storefront-backend/pkg/mercadopago"
	"github.com/negomaq/storefront-backend/pkg/migrate"
	"github.com/negomaq/storefront-backend/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if cfg.FeatureFlags.AutoMigrate {
		if err := migrate.AutoMigrate(context.Background(), dbClient.DB(), logg); err != nil {
			logg.Error(context.Background(), "failed to auto-migrate schema", err)
			os.Exit(1)
		}
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	mpClient, err := mercadopago.NewClient(cfg.MercadoPago)
	if err != nil {
		logg.Error(context.Background(), "failed to create mercado pago client", err)
		os.Exit(1)
	}
	meClient, err := melhorenvio.NewClient(cfg.MelhorEnvio)
	if err != nil {
		logg.Error(context.Background(), "failed to create melhor envio client", err)
		os.Exit(1)
	}

	var mailSender mail.Sender
	if cfg.Mail.APIKey != "" {
		mailClient, err := mail.NewClient(cfg.Mail)
		if err != nil {
			logg.Error(context.Background(), "failed to create mail client", err)
			os.Exit(1)
		}
		mailSender = mailClient
	} else {
		logg.Warn(context.Background(), "mail api key missing, lifecycle emails disabled")
	}

	ordersRepo := orders.NewRepository(dbClient.DB())
	emailer, err := notifications.NewEmailer(mailSender, ordersRepo, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create emailer", err)
		os.Exit(1)
	}

	ordersService, err := orders.NewService(ordersRepo, dbClient, emailer)
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	saga, err := shipments.NewSaga(
		shipments.NewRepository(dbClient.DB()),
		dbClient,
		meClient,
		cfg.MelhorEnvio,
		cfg.Shipments,
		logg,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create shipment saga", err)
		os.Exit(1)
	}
	dispatcher, err := shipments.NewDispatcher(saga, cfg.Shipments, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create shipment dispatcher", err)
		os.Exit(1)
	}

	engine, err := reconciliation.NewEngine(
		reconciliation.NewRepository(dbClient.DB()),
		dbClient,
		dispatcher,
		emailer,
		logg,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create reconciliation engine", err)
		os.Exit(1)
	}

	paymentsService, err := payments.NewService(
		payments.NewRepository(dbClient.DB()),
		mpClient,
		engine,
		cfg.App,
		cfg.MercadoPago,
		logg,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}

	quoter, err := shipments.NewQuoter(meClient, shipments.NewProductFinder(dbClient.DB()), cfg.MelhorEnvio)
	if err != nil {
		logg.Error(context.Background(), "failed to create shipping quoter", err)
		os.Exit(1)
	}

	webhookService, err := internalwebhooks.NewService(mpClient, engine, redisClient, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			redisClient,
			ordersService,
			paymentsService,
			quoter,
			webhookService,
		),
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-stopCtx.Done():
		logg.Info(ctx, "shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "error during server shutdown", err)
		}
	}

	// Drains queued shipment jobs before the process exits.
	if err := dispatcher.Close(); err != nil {
		logg.Error(ctx, "error closing shipment dispatcher", err)
	}
	logg.Info(ctx, "api server stopped")
}
