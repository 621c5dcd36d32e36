package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ggmarket/ggmarket-backend/internal/cron"
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
	"github.com/ggmarket/ggmarket-backend/pkg/outbox"
	"github.com/ggmarket/ggmarket-backend/pkg/pix"
	"github.com/ggmarket/ggmarket-backend/pkg/redis"
	"github.com/ggmarket/ggmarket-backend/pkg/scheduler"
)

const lockKeyFormat = "gg:cron-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	gormDB := dbClient.DB()
	outboxRepo := outbox.NewRepository(gormDB)
	outboxService := outbox.NewService(outboxRepo, logg)
	ordersRepo := orders.NewRepository(gormDB)
	settlementRepo := settlement.NewRepository(gormDB)
	webhookRepo := pixwebhook.NewRepository(gormDB)

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

	settlementService, err := settlement.NewService(settlement.ServiceParams{
		Repo:      settlementRepo,
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

	orderExpiryJob, err := cron.NewOrderExpiryJob(cron.OrderExpiryJobParams{
		Logger:   logg,
		DB:       dbClient,
		Reader:   ordersRepo,
		Orders:   ordersService,
		Payments: paymentsService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create order expiry job", err)
		os.Exit(1)
	}

	payoutJob, err := cron.NewPayoutReconciliationJob(cron.PayoutReconciliationJobParams{
		Logger:     logg,
		Reader:     settlementRepo,
		Settlement: settlementService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payout reconciliation job", err)
		os.Exit(1)
	}

	webhookRetryJob, err := cron.NewWebhookRetryJob(cron.WebhookRetryJobParams{
		Logger:    logg,
		Reader:    webhookRepo,
		Scheduler: jobScheduler,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook retry job", err)
		os.Exit(1)
	}

	outboxRetentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outboxRepo,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry(orderExpiryJob, payoutJob, webhookRetryJob, outboxRetentionJob)
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
