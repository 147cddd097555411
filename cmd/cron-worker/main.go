package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/codevault-backend/internal/cron"
	"github.com/angelmondragon/codevault-backend/internal/inventory"
	"github.com/angelmondragon/codevault-backend/internal/ledger"
	"github.com/angelmondragon/codevault-backend/internal/orders"
	"github.com/angelmondragon/codevault-backend/internal/payments"
	"github.com/angelmondragon/codevault-backend/internal/reconciliation"
	"github.com/angelmondragon/codevault-backend/pkg/config"
	"github.com/angelmondragon/codevault-backend/pkg/db"
	"github.com/angelmondragon/codevault-backend/pkg/logger"
	"github.com/angelmondragon/codevault-backend/pkg/metrics"
	"github.com/angelmondragon/codevault-backend/pkg/migrate"
	"github.com/angelmondragon/codevault-backend/pkg/nowpayments"
	"github.com/angelmondragon/codevault-backend/pkg/outbox"
	"github.com/angelmondragon/codevault-backend/pkg/redis"
)

const serviceKind = "cron-worker"

func main() {
	job := flag.String("job", "", "run a single job once and exit")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: serviceKind})
	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = serviceKind
	logg = logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "serviceKind": cfg.Service.Kind})

	if err := run(ctx, cfg, logg, *job); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger, only string) error {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer closeQuietly(ctx, logg, "database", dbClient.Close)

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	defer closeQuietly(ctx, logg, "redis", redisClient.Close)

	registry, err := buildJobs(cfg, logg, dbClient, redisClient)
	if err != nil {
		return err
	}
	locker, err := cron.NewRedisLocker(redisClient, redisClient.LockKey(lockName(cfg.App.Env)), cfg.Cron.LockTTL)
	if err != nil {
		return fmt.Errorf("cron lock: %w", err)
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Locker:   locker,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		return fmt.Errorf("cron service: %w", err)
	}

	if only != "" {
		logg.Info(logg.WithField(ctx, "job", only), "running single cron job")
		return service.RunJob(ctx, only)
	}
	logg.Info(logg.WithField(ctx, "jobs", registry.Names()), "starting cron worker")
	return service.Run(ctx)
}

func buildJobs(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client) (*cron.Registry, error) {
	gateway, err := nowpayments.NewClient(cfg.NowPayments.APIKey,
		nowpayments.WithBaseURL(cfg.NowPayments.BaseURL),
		nowpayments.WithTimeout(cfg.NowPayments.Timeout),
		nowpayments.WithIPNSecret(cfg.NowPayments.IPNSecret),
	)
	if err != nil {
		return nil, fmt.Errorf("payment gateway client: %w", err)
	}

	paymentMetrics := metrics.NewPaymentMetrics(prometheus.DefaultRegisterer)
	outboxRepo := outbox.NewRepository(dbClient.DB())
	emitter := outbox.NewService(outboxRepo, logg)

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(dbClient.DB()), emitter, logg)
	if err != nil {
		return nil, fmt.Errorf("ledger service: %w", err)
	}
	inventorySvc, err := inventory.NewService(inventory.NewRepository(dbClient.DB()), logg)
	if err != nil {
		return nil, fmt.Errorf("inventory service: %w", err)
	}
	ordersSvc, err := orders.NewService(
		orders.NewRepository(dbClient.DB()),
		dbClient,
		ledgerSvc,
		inventorySvc,
		emitter,
		paymentMetrics,
		logg,
		orders.Options{ReferralRate: cfg.Checkout.ReferralRate},
	)
	if err != nil {
		return nil, fmt.Errorf("orders service: %w", err)
	}
	paymentsSvc, err := payments.NewService(gateway, dbClient, ledgerSvc, ordersSvc, logg, payments.OptionsFromConfig(cfg.NowPayments, cfg.App.PublicURL))
	if err != nil {
		return nil, fmt.Errorf("payments service: %w", err)
	}
	guard, err := reconciliation.NewIdempotencyGuard(redisClient, cfg.Webhook.IdempotencyTTL)
	if err != nil {
		return nil, fmt.Errorf("idempotency guard: %w", err)
	}
	reconciler, err := reconciliation.NewService(reconciliation.ServiceParams{
		Ledger:            ledgerSvc,
		Orders:            ordersSvc,
		Verifier:          gateway,
		TransactionRunner: dbClient,
		Guard:             guard,
		Metrics:           paymentMetrics,
		Logger:            logg,
		AmountEpsilon:     cfg.NowPayments.AmountEpsilon,
	})
	if err != nil {
		return nil, fmt.Errorf("reconciliation service: %w", err)
	}

	reconcileJob, err := cron.NewPaymentReconcileJob(cron.PaymentReconcileJobParams{
		Logger:     logg,
		Ledger:     ledgerSvc,
		Payments:   paymentsSvc,
		Reconciler: reconciler,
		StaleAfter: cfg.Cron.StalePaymentAge,
		BatchSize:  cfg.Cron.ReconcileBatch,
	})
	if err != nil {
		return nil, fmt.Errorf("payment reconcile job: %w", err)
	}
	expiryJob, err := cron.NewOrderExpiryJob(cron.OrderExpiryJobParams{
		Logger: logg,
		Orders: ordersSvc,
		TTL:    cfg.Checkout.PendingOrderTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("order expiry job: %w", err)
	}
	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:        logg,
		DB:            dbClient,
		Repository:    outboxRepo,
		RetentionDays: cfg.Outbox.RetentionDays,
		BatchSize:     cfg.Outbox.PurgeBatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("outbox retention job: %w", err)
	}
	return cron.NewRegistry(reconcileJob, expiryJob, retentionJob)
}

func closeQuietly(ctx context.Context, logg *logger.Logger, what string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(ctx, "error closing "+what, err)
	}
}

func lockName(env string) string {
	if env == "" {
		env = "local"
	}
	return "cron-worker:" + env
}
