// Package main is the entry point for the marketfront billing-event
// orchestrator.
//
// It loads configuration, connects the database pool and AWS clients, wires
// the webhook and ops handlers onto the HTTP chassis, and supervises the
// HTTP listener alongside the periodic slot-maintenance loop. Graceful
// shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"marketfront/internal/api/handlers"
	"marketfront/internal/billing"
	"marketfront/internal/config"
	"marketfront/internal/core"
	"marketfront/internal/db"
	"marketfront/internal/external"
	"marketfront/internal/metrics"
	"marketfront/internal/promo"
	"marketfront/internal/queue"
	"marketfront/internal/referral"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on
// error.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("marketfront billing orchestrator starting",
		"environment", cfg.Environment,
		"service", cfg.Service,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database pool.
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL.Unmask())
	if err != nil {
		return fmt.Errorf("parsing database URL: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	poolCfg.MinConns = int32(cfg.Database.MinConns)
	poolCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime

	pgPool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("connecting database pool: %w", err)
	}
	defer pgPool.Close()
	pool := db.NewPool(pgPool)

	// AWS clients.
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return fmt.Errorf("loading AWS configuration: %w", err)
	}

	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = &cfg.AWS.EndpointURL
		}
	})
	notifier := queue.NewNotifier(sqsClient, cfg.AWS.NotificationQueue, logger)

	var recorder metrics.Recorder = metrics.NoopRecorder{}
	if cfg.Observability.EnableMetrics {
		cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = &cfg.AWS.EndpointURL
			}
		})
		recorder = metrics.NewCloudWatchRecorder(cwClient, cfg.Observability.MetricNamespace, logger)
	}

	// Payment provider client and webhook verifier.
	stripeClient := external.NewStripeClient(&http.Client{Timeout: 10 * time.Second}, external.StripeClientConfig{
		SecretKey: cfg.Billing.StripeSecretKey.Unmask(),
		Logger:    logger,
	})
	verifier := &external.StripeVerifier{}

	// Repositories.
	ledger := db.NewEventLedgerRepo(pool)
	subRepo := db.NewSubscriptionRepo(pool, pool, logger)
	accountRepo := db.NewAccountRepo(pool, logger)
	slotRepo := db.NewSlotRepo(pool, pool, logger)
	referralRepo := db.NewReferralRepo(pool, logger)
	taskRepo := db.NewTaskRepo(pool, logger)

	// Domain services.
	tracker := referral.NewTracker(referralRepo, taskRepo, accountRepo, notifier, logger)
	lifecycle := billing.NewService(subRepo, accountRepo, tracker, notifier, stripeClient, logger)
	admission := promo.NewController(slotRepo, notifier, recorder, cfg.Promo.PromotionMaxActive, logger)

	// HTTP chassis and handlers.
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	webhookHandler := handlers.NewWebhookHandler(
		verifier,
		ledger,
		lifecycle,
		admission,
		recorder,
		handlers.WebhookHandlerConfig{
			Secret:            cfg.Billing.StripeWebhookSecret.Unmask(),
			MaxBodyBytes:      cfg.Webhook.MaxBodyBytes,
			ProcessingTimeout: cfg.Webhook.ProcessingTimeout,
		},
		logger,
	)
	webhookHandler.RegisterRoutes(srv.Router())

	opsHandler := handlers.NewOpsHandler(admission, cfg.Security.AdminAPIKey.Unmask(), logger)
	opsHandler.RegisterRoutes(srv.Router())

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info("http server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		return runMaintenanceLoop(groupCtx, admission, cfg.Promo.DrainInterval, logger)
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		logger.Info("shutting down")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return srv.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

// maintenanceRunner is the slot-maintenance surface of the admission
// controller.
type maintenanceRunner interface {
	RunMaintenance(ctx context.Context) error
}

// runMaintenanceLoop expires overdue slots and drains the admission queues
// on a fixed interval until the context is cancelled. Maintenance failures
// are logged and retried on the next tick; they never bring the process
// down.
func runMaintenanceLoop(ctx context.Context, runner maintenanceRunner, interval time.Duration, logger *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := runner.RunMaintenance(ctx); err != nil {
				logger.ErrorContext(ctx, "slot maintenance failed",
					"error", err.Error(),
				)
			}
		}
	}
}

// newLogger builds the process-wide JSON logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
