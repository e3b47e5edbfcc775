package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	appref "github.com/erp/settlement/internal/application/refund"
	"github.com/erp/settlement/internal/domain/refund"
	"github.com/erp/settlement/internal/domain/shared"
	"github.com/erp/settlement/internal/infrastructure/cache"
	"github.com/erp/settlement/internal/infrastructure/config"
	"github.com/erp/settlement/internal/infrastructure/event"
	"github.com/erp/settlement/internal/infrastructure/logger"
	"github.com/erp/settlement/internal/infrastructure/notification"
	"github.com/erp/settlement/internal/infrastructure/payment"
	"github.com/erp/settlement/internal/infrastructure/persistence"
	"github.com/erp/settlement/internal/infrastructure/reference"
	"github.com/erp/settlement/internal/infrastructure/telemetry"
	"github.com/erp/settlement/internal/interfaces/http/handler"
	"github.com/erp/settlement/internal/interfaces/http/middleware"
	"github.com/erp/settlement/internal/interfaces/http/router"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

//	@title			Refund Settlement API
//	@version		1.0
//	@description	Refund requests, credit notes and gateway refunds for point-of-sale and online sales

//	@BasePath	/api/v1

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log := logger.New(logger.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Output:  cfg.Log.Output,
		Service: cfg.App.Name,
	})
	defer func() { _ = log.Sync() }()

	ctx := context.Background()
	telemetryCfg := telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		Insecure:          cfg.Telemetry.Insecure,
		MetricsEnabled:    cfg.Telemetry.MetricsEnabled,
		MetricsInterval:   cfg.Telemetry.MetricsInterval,
		LogsEnabled:       cfg.Telemetry.LogsEnabled,
	}

	logProvider, err := telemetry.NewLoggerProvider(ctx, telemetryCfg, log)
	if err != nil {
		log.Fatal("Failed to initialize log export", zap.Error(err))
	}
	log = logProvider.Bridge(log)

	log.Info("Starting refund settlement service",
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", version),
	)

	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetryCfg, log)
	if err != nil {
		log.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetryCfg, log)
	if err != nil {
		log.Fatal("Failed to initialize metrics", zap.Error(err))
	}

	db, err := persistence.NewDatabase(ctx, &cfg.Database, persistence.DatabaseOptions{
		Logger:        log.Named("gorm"),
		LogLevel:      logger.GormLogLevel(cfg.Log.Level),
		SlowThreshold: cfg.Telemetry.DBSlowQueryThresh,
	})
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := telemetry.RegisterDBTracing(db.DB, telemetry.DBTracingConfig{
		Enabled:         cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		LogFullSQL:      cfg.Telemetry.DBLogFullSQL,
		SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
		DBName:          cfg.Database.DBName,
	}, log); err != nil {
		log.Fatal("Failed to register database tracing", zap.Error(err))
	}
	log.Info("Database connected")

	gateways, err := newGatewayRegistry(cfg.Gateway, log)
	if err != nil {
		log.Fatal("Failed to configure payment gateways", zap.Error(err))
	}

	// Notifications
	bus := event.NewInMemoryEventBus(log.Named("events"), event.WithAsyncDispatch(cfg.Notification.AsyncWorkers))
	idempotencyStore, err := cache.NewIdempotencyStoreFactory(cache.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, cache.WithLogger(log)).CreateStore(ctx)
	if err != nil {
		log.Fatal("Failed to create idempotency store", zap.Error(err))
	}
	broker, err := subscribeNotifiers(bus, idempotencyStore, cfg.Notification, log)
	if err != nil {
		log.Fatal("Failed to configure notifications", zap.Error(err))
	}
	if err := bus.Start(ctx); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}

	refundMetrics, err := telemetry.NewRefundMetrics(meterProvider.Meter(telemetry.MeterName))
	if err != nil {
		log.Fatal("Failed to register refund metrics", zap.Error(err))
	}

	// Application services
	scope := persistence.NewGormRefundTransactionScope(db.DB)
	references := reference.NewGenerator()

	ledger := appref.NewCreditLedger(scope, references)
	ledger.SetMetrics(refundMetrics)
	ledger.SetLogger(log)

	tracker := appref.NewGatewayTracker(scope, gateways)
	tracker.SetMetrics(refundMetrics)
	tracker.SetLogger(log)

	refundService := appref.NewRefundService(scope, ledger, tracker, references)
	refundService.SetEventPublisher(bus)
	refundService.SetStatisticsCache(cache.NewStatisticsCache(cfg.Statistics.CacheTTL))
	refundService.SetMetrics(refundMetrics)
	refundService.SetLogger(log)

	var reconciler *appref.Reconciler
	if cfg.Reconciler.Enabled {
		reconciler = appref.NewReconciler(scope, refundService, gateways, appref.ReconcilerConfig{
			BatchSize:    cfg.Reconciler.BatchSize,
			PollInterval: cfg.Reconciler.PollInterval,
			StuckAfter:   cfg.Reconciler.StuckAfter,
		}, log.Named("reconciler"))
		if err := reconciler.Start(ctx); err != nil {
			log.Fatal("Failed to start reconciler", zap.Error(err))
		}
	}

	// HTTP
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		log.Fatal("Invalid trusted proxies", zap.Error(err))
	}

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowOrigins = cfg.HTTP.CORSOrigins
	tracingCfg := middleware.DefaultTracingConfig()
	tracingCfg.ServiceName = cfg.Telemetry.ServiceName
	tracingCfg.Enabled = tracerProvider.IsEnabled()

	engine.Use(
		logger.GinMiddleware(log),
		logger.Recovery(log),
		middleware.CORSWithConfig(corsCfg),
		middleware.Secure(),
		middleware.BodyLimit(cfg.HTTP.MaxBodySize),
		middleware.TracingWithConfig(tracingCfg),
		middleware.SpanErrorMarker(),
	)

	router.RegisterHealth(engine, handler.NewHealthHandler(db, tracker, gateways.Names(), version))
	router.NewRouter(engine, router.WithMiddleware(
		middleware.TenantMiddleware(),
		middleware.ActorMiddleware(),
		middleware.TracingAttributeInjector(),
	)).Register(router.SettlementRoutes(router.Handlers{
		Refund:            handler.NewRefundHandler(refundService),
		CreditNote:        handler.NewCreditNoteHandler(ledger),
		RefundTransaction: handler.NewRefundTransactionHandler(tracker),
	})...).Setup()

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting",
			zap.String("addr", srv.Addr),
			zap.Strings("gateways", gateways.Names()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if reconciler != nil {
		if err := reconciler.Stop(shutdownCtx); err != nil {
			log.Error("Reconciler did not stop cleanly", zap.Error(err))
		}
	}
	if err := bus.Stop(shutdownCtx); err != nil {
		log.Error("Event bus did not drain", zap.Error(err))
	}
	if broker != nil {
		if err := broker.Close(); err != nil {
			log.Error("Error closing RabbitMQ connection", zap.Error(err))
		}
	}
	if err := idempotencyStore.Close(); err != nil {
		log.Error("Error closing idempotency store", zap.Error(err))
	}
	if err := db.Close(); err != nil {
		log.Error("Error closing database", zap.Error(err))
	}
	if err := meterProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down meter provider", zap.Error(err))
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down tracer provider", zap.Error(err))
	}
	if err := logProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down log provider", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// newGatewayRegistry registers every configured payment gateway
func newGatewayRegistry(cfg config.GatewayConfig, log *zap.Logger) (*payment.Registry, error) {
	registry := payment.NewRegistry()
	if cfg.Razorpay.Enabled() {
		adapter, err := payment.NewRazorpayAdapter(payment.RazorpayConfig{
			KeyID:         cfg.Razorpay.KeyID,
			KeySecret:     cfg.Razorpay.KeySecret,
			BaseURL:       cfg.Razorpay.BaseURL,
			Timeout:       cfg.Razorpay.Timeout,
			MaxRetries:    cfg.Razorpay.MaxRetries,
			RetryInterval: cfg.Razorpay.RetryInterval,
			Speed:         cfg.Razorpay.Speed,
		}, log.Named("razorpay"))
		if err != nil {
			return nil, err
		}
		registry.Register(adapter)
	}
	if cfg.Sandbox.Enabled {
		log.Warn("Sandbox payment gateway enabled, refunds through it move no money")
		registry.Register(payment.NewSandboxGateway(cfg.Sandbox.SettleAfter))
	}
	return registry, nil
}

// subscribeNotifiers wires the refund notification sinks onto the bus. Each
// sink is deduplicated on its own. The returned connection is nil when no
// broker is configured.
func subscribeNotifiers(bus shared.EventBus, store shared.IdempotencyStore, cfg config.NotificationConfig, log *zap.Logger) (*notification.Connection, error) {
	idempotency := shared.IdempotencyConfig{TTL: cfg.IdempotencyTTL, Enabled: true}

	bus.Subscribe(event.NewIdempotentHandler("log", notification.NewLogNotifier(log), store, log,
		event.WithIdempotencyConfig(idempotency)), refund.NotificationEventTypes...)

	if cfg.AMQPURL == "" {
		return nil, nil
	}
	amqpCfg := notification.AMQPConfig{URL: cfg.AMQPURL, Exchange: cfg.Exchange, Queue: cfg.Queue}
	conn, err := notification.Dial(amqpCfg)
	if err != nil {
		return nil, err
	}
	notifier, err := notification.NewAMQPNotifier(conn.Channel, amqpCfg, event.NewEventSerializer(), log)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	bus.Subscribe(event.NewIdempotentHandler("amqp", notifier, store, log,
		event.WithIdempotencyConfig(idempotency)), refund.NotificationEventTypes...)
	log.Info("Refund notifications published to RabbitMQ",
		zap.String("exchange", cfg.Exchange),
		zap.String("queue", cfg.Queue),
	)
	return conn, nil
}
