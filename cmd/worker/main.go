package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	checkoutsvc "github.com/ggmarket/ggmarket-backend/internal/checkout"
	"github.com/ggmarket/ggmarket-backend/internal/inventory"
	"github.com/ggmarket/ggmarket-backend/internal/jobs"
	"github.com/ggmarket/ggmarket-backend/internal/listings"
	"github.com/ggmarket/ggmarket-backend/internal/orders"
	"github.com/ggmarket/ggmarket-backend/internal/payments"
	"github.com/ggmarket/ggmarket-backend/internal/settlement"
	"github.com/ggmarket/ggmarket-backend/internal/users"
	pixwebhook "github.com/ggmarket/ggmarket-backend/internal/webhooks/pix"
	"github.com/ggmarket/ggmarket-backend/pkg/config"
	"github.com/ggmarket/ggmarket-backend/pkg/db"
	"github.com/ggmarket/ggmarket-backend/pkg/logger"
	"github.com/ggmarket/ggmarket-backend/pkg/metrics"
	"github.com/ggmarket/ggmarket-backend/pkg/migrate"
	"github.com/ggmarket/ggmarket-backend/pkg/notify"
	"github.com/ggmarket/ggmarket-backend/pkg/outbox"
	"github.com/ggmarket/ggmarket-backend/pkg/pix"
	"github.com/ggmarket/ggmarket-backend/pkg/pubsub"
	"github.com/ggmarket/ggmarket-backend/pkg/redis"
	"github.com/ggmarket/ggmarket-backend/pkg/scheduler"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "worker"

	logg = logger.New(logger.Options{
		ServiceName: "worker",
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

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
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

	pixClient, err := pix.NewClient(context.Background(), cfg.Pix, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap pix gateway", err)
		os.Exit(1)
	}

	jobScheduler, err := scheduler.New(redisClient, logg, cfg.Scheduler)
	if err != nil {
		logg.Error(context.Background(), "failed to create job scheduler", err)
		os.Exit(1)
	}

	var notifyService *notify.Service
	if cfg.GCP.ProjectID != "" {
		pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap pubsub", err)
			os.Exit(1)
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing pubsub", err)
			}
		}()
		notifyService, err = notify.NewService(pubsubClient.NotificationPublisher(), logg)
		if err != nil {
			logg.Error(context.Background(), "failed to create notify service", err)
			os.Exit(1)
		}
	} else {
		logg.Warn(context.Background(), "gcp project not configured, notifications disabled")
	}

	gormDB := dbClient.DB()
	outboxService := outbox.NewService(outbox.NewRepository(gormDB), logg)
	ordersRepo := orders.NewRepository(gormDB)

	ordersService, err := orders.NewService(orders.ServiceParams{
		Repo:   ordersRepo,
		DB:     dbClient,
		Outbox: outboxService,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	listingsService, err := listings.NewService(listings.ServiceParams{
		Repo:   listings.NewRepository(gormDB),
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create listings service", err)
		os.Exit(1)
	}

	inventoryService, err := inventory.NewService(inventory.ServiceParams{
		Repo:   inventory.NewRepository(gormDB),
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create inventory service", err)
		os.Exit(1)
	}

	paymentsService, err := payments.NewService(payments.ServiceParams{
		Repo:    payments.NewRepository(gormDB),
		DB:      dbClient,
		Orders:  ordersService,
		Gateway: pixClient,
		Logger:  logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}

	checkoutService, err := checkoutsvc.NewService(checkoutsvc.ServiceParams{
		DB:        dbClient,
		Orders:    ordersService,
		OrderRepo: ordersRepo,
		Listings:  listingsService,
		Inventory: inventoryService,
		Outbox:    outboxService,
		Scheduler: jobScheduler,
		Config:    cfg.Settlement,
		Logger:    logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	settlementService, err := settlement.NewService(settlement.ServiceParams{
		Repo:      settlement.NewRepository(gormDB),
		DB:        dbClient,
		OrderRepo: ordersRepo,
		Orders:    ordersService,
		Payments:  paymentsService,
		Users:     users.NewRepository(gormDB),
		Gateway:   pixClient,
		Outbox:    outboxService,
		Config:    cfg.Settlement,
		Logger:    logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create settlement service", err)
		os.Exit(1)
	}

	webhookService, err := pixwebhook.NewService(pixwebhook.ServiceParams{
		Repo:       pixwebhook.NewRepository(gormDB),
		DB:         dbClient,
		OrderRepo:  ordersRepo,
		Orders:     ordersService,
		Payments:   paymentsService,
		Settlement: settlementService,
		Checkout:   checkoutService,
		Scheduler:  jobScheduler,
		Notify:     notifyService,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook service", err)
		os.Exit(1)
	}

	handlers, err := jobs.NewHandlers(jobs.HandlersParams{
		DB:         dbClient,
		Orders:     ordersService,
		Payments:   paymentsService,
		Settlement: settlementService,
		Webhooks:   webhookService,
		Scheduler:  jobScheduler,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create job handlers", err)
		os.Exit(1)
	}

	dispatcher, err := jobs.NewDispatcher(jobs.DispatcherParams{
		Queue:    jobScheduler,
		Handlers: handlers.Map(),
		Config:   cfg.Scheduler,
		Metrics:  metrics.NewJobMetrics(prometheus.DefaultRegisterer),
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create dispatcher", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting queue worker")

	if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "queue worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "queue worker shutting down gracefully")
}
