package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	appbilling "github.com/rentbill/backend/internal/application/billing"
	"github.com/rentbill/backend/internal/domain/billing"
	"github.com/rentbill/backend/internal/infrastructure/auth"
	"github.com/rentbill/backend/internal/infrastructure/cache"
	"github.com/rentbill/backend/internal/infrastructure/config"
	"github.com/rentbill/backend/internal/infrastructure/event"
	"github.com/rentbill/backend/internal/infrastructure/logger"
	"github.com/rentbill/backend/internal/infrastructure/notification"
	"github.com/rentbill/backend/internal/infrastructure/persistence"
	"github.com/rentbill/backend/internal/infrastructure/scheduler"
	"github.com/rentbill/backend/internal/infrastructure/telemetry"
	"github.com/rentbill/backend/internal/interfaces/http/handler"
	"github.com/rentbill/backend/internal/interfaces/http/middleware"
	"github.com/rentbill/backend/internal/interfaces/http/router"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting rent billing service",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	ctx := context.Background()

	// Telemetry
	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			log.Error("Error shutting down tracer provider", zap.Error(err))
		}
	}()

	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.MetricsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.MetricsInterval,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}
	defer func() {
		if err := meterProvider.Shutdown(context.Background()); err != nil {
			log.Error("Error shutting down meter provider", zap.Error(err))
		}
	}()

	billingMetrics, err := telemetry.NewBillingMetrics(telemetry.BillingMetricsConfig{
		Meter:  meterProvider.Meter("rentbill/billing"),
		Logger: log,
	})
	if err != nil {
		log.Fatal("Failed to create billing metrics", zap.Error(err))
	}

	// Create GORM logger backed by zap
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level))

	db, err := persistence.NewDatabase(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	dbTracing := telemetry.NewDBTracingPlugin(telemetry.DBTracingConfig{
		Enabled:         cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
		DBSystem:        "postgresql",
	}, log)
	if err := dbTracing.RegisterOtelGorm(db.DB); err != nil {
		log.Fatal("Failed to register database tracing", zap.Error(err))
	}

	sqlDB, err := db.DB.DB()
	if err != nil {
		log.Fatal("Failed to get sql.DB", zap.Error(err))
	}

	// Locks and idempotency keys
	backends, err := cache.NewFactory(cfg.Redis, cfg.Billing, cache.WithLogger(log)).Create(ctx)
	if err != nil {
		log.Fatal("Failed to create coordination backends", zap.Error(err))
	}
	defer func() {
		if err := backends.Close(); err != nil {
			log.Error("Error closing coordination backends", zap.Error(err))
		}
	}()

	// Repositories
	tenantRepo := persistence.NewGormTenantRepository(db.DB)
	invoiceRepo := persistence.NewGormInvoiceRepository(db.DB)
	paymentRepo := persistence.NewGormPaymentRepository(db.DB)
	utilityBilling := persistence.NewGormUtilityBilling(db.DB)
	txScope := persistence.NewGormTransactionScope(db.DB)

	// Event bus: billing events feed the audit log, once per event id
	eventBus := event.NewInMemoryEventBus(log)
	auditHandler := event.NewIdempotentHandler(
		notification.NewAuditLogHandler(log,
			billing.EventTypeInvoiceGenerated,
			billing.EventTypeInvoicePaid,
			billing.EventTypeInvoiceVoided,
			billing.EventTypePaymentRecorded,
			billing.EventTypePaymentAllocated,
			billing.EventTypePaymentStatusChanged,
		),
		backends.Idempotency,
		log,
		event.WithKeyPrefix("audit:"),
	)
	eventBus.Subscribe(auditHandler)
	log.Info("Event handlers registered", zap.Strings("audit_events", auditHandler.EventTypes()))

	retryPolicy := appbilling.RetryPolicy{
		MaxAttempts:     cfg.Billing.RetryMaxAttempts,
		InitialInterval: cfg.Billing.RetryInitialInterval,
		MaxInterval:     cfg.Billing.RetryMaxInterval,
	}

	// Application services
	allocator := appbilling.NewPaymentAllocator(appbilling.PaymentAllocatorConfig{
		PaymentRepo: paymentRepo,
		TxScope:     txScope,
		Strategy:    billing.NewFIFOAllocationStrategy(),
		Locker:      backends.Locker,
		Notifier:    notification.NewLogNotifier(log),
		Events:      eventBus,
		Metrics:     billingMetrics,
		Retry:       retryPolicy,
		Logger:      log,
	})
	generator := appbilling.NewInvoiceGenerator(appbilling.InvoiceGeneratorConfig{
		TenantRepo:    tenantRepo,
		InvoiceRepo:   invoiceRepo,
		TxScope:       txScope,
		Composer:      appbilling.NewLineItemComposer(utilityBilling, retryPolicy, log),
		Locker:        backends.Locker,
		Events:        eventBus,
		Metrics:       billingMetrics,
		InitialStatus: billing.InvoiceStatus(cfg.Billing.InitialStatus),
		Retry:         retryPolicy,
		Logger:        log,
	})
	billingService := appbilling.NewBillingService(appbilling.BillingServiceConfig{
		TenantRepo:  tenantRepo,
		InvoiceRepo: invoiceRepo,
		PaymentRepo: paymentRepo,
		TxScope:     txScope,
		Allocator:   allocator,
		Locker:      backends.Locker,
		Events:      eventBus,
		Retry:       retryPolicy,
		Logger:      log,
	})
	webhookService := appbilling.NewPaymentWebhookService(appbilling.PaymentWebhookServiceConfig{
		Service:          billingService,
		TenantRepo:       tenantRepo,
		PaymentRepo:      paymentRepo,
		Idempotency:      backends.Idempotency,
		WebhookSecret:    cfg.Stripe.WebhookSecret,
		CurrencyExponent: cfg.Stripe.CurrencyExponent,
		Logger:           log,
	})

	// Billing job scheduler. Manual async generation uses it even when the
	// cron trigger is disabled.
	billingScheduler := scheduler.NewScheduler(
		scheduler.SchedulerConfigFrom(cfg.Scheduler),
		scheduler.NewBillingJobExecutor(generator, billingService, log),
		log,
		scheduler.WithJobRecorder(scheduler.NewJobRunRepository(db.DB, log)),
	)
	if err := billingScheduler.Start(ctx); err != nil {
		log.Fatal("Failed to start billing scheduler", zap.Error(err))
	}
	defer func() {
		if err := billingScheduler.Stop(context.Background()); err != nil {
			log.Error("Error stopping billing scheduler", zap.Error(err))
		}
	}()

	if cfg.Scheduler.Enabled {
		cronCfg := scheduler.DefaultCronTriggerConfig()
		if cfg.Scheduler.GenerationCron != "" {
			cronCfg.GenerationCron = cfg.Scheduler.GenerationCron
		}
		if cfg.Scheduler.SweepCron != "" {
			cronCfg.SweepCron = cfg.Scheduler.SweepCron
		}
		trigger, err := scheduler.NewCronTrigger(cronCfg, billingScheduler, log)
		if err != nil {
			log.Fatal("Invalid scheduler cron expression", zap.Error(err))
		}
		if err := trigger.Start(ctx); err != nil {
			log.Fatal("Failed to start cron trigger", zap.Error(err))
		}
		defer func() {
			if err := trigger.Stop(context.Background()); err != nil {
				log.Error("Error stopping cron trigger", zap.Error(err))
			}
		}()
		log.Info("Billing cron trigger started",
			zap.String("generation_cron", cronCfg.GenerationCron),
			zap.String("sweep_cron", cronCfg.SweepCron),
			zap.Times("next_runs", trigger.NextRuns()),
		)
	}

	// Set Gin mode based on environment
	mode := gin.DebugMode
	if cfg.App.Env == "production" {
		mode = gin.ReleaseMode
	}

	// Setup validation
	if err := middleware.SetupValidator(); err != nil {
		log.Fatal("Failed to register validators", zap.Error(err))
	}

	engine := router.New(router.Config{
		Logger:      log,
		JWTService:  auth.NewJWTService(cfg.JWT),
		Billing:     handler.NewBillingHandler(billingService, generator, billingScheduler),
		Webhooks:    handler.NewPaymentWebhookHandler(webhookService),
		Health:      handler.NewHealthHandler(sqlDB),
		MaxBodySize: cfg.HTTP.MaxBodySize,
		Tracing: middleware.TracingConfig{
			ServiceName: cfg.Telemetry.ServiceName,
			Enabled:     cfg.Telemetry.Enabled,
		},
		Mode: mode,
	})

	// Create HTTP server with config
	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      engine,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	delivered, failed := eventBus.Stats()
	log.Info("Server exited gracefully",
		zap.Int64("events_delivered", delivered),
		zap.Int64("events_failed", failed),
	)
}
