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
	eventapp "github.com/vetclinic/backend/internal/application/event"
	ledgerapp "github.com/vetclinic/backend/internal/application/ledger"
	"github.com/vetclinic/backend/internal/domain/ledger"
	"github.com/vetclinic/backend/internal/infrastructure/audit"
	"github.com/vetclinic/backend/internal/infrastructure/auth"
	"github.com/vetclinic/backend/internal/infrastructure/cache"
	"github.com/vetclinic/backend/internal/infrastructure/config"
	"github.com/vetclinic/backend/internal/infrastructure/event"
	"github.com/vetclinic/backend/internal/infrastructure/logger"
	"github.com/vetclinic/backend/internal/infrastructure/persistence"
	"github.com/vetclinic/backend/internal/infrastructure/scheduler"
	"github.com/vetclinic/backend/internal/infrastructure/telemetry"
	"github.com/vetclinic/backend/internal/interfaces/http/handler"
	"github.com/vetclinic/backend/internal/interfaces/http/middleware"
	"github.com/vetclinic/backend/internal/interfaces/http/router"
	"go.uber.org/zap"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

//	@title			Veterinary Clinic Ledger API
//	@version		1.0
//	@description	Sales, purchases, treatments and payments with FIFO allocation and party balances

//	@host		localhost:8080
//	@BasePath	/api/v1

//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Bearer token authentication. Format: "Bearer {token}"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	baseLog, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = baseLog.Sync()
	}()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Telemetry: traces, metrics, logs and profiles all go to the collector
	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, baseLog)
	if err != nil {
		baseLog.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}

	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.MetricsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.MetricsExportInterval,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, baseLog)
	if err != nil {
		baseLog.Fatal("Failed to initialize meter provider", zap.Error(err))
	}

	loggerProvider, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.LogsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, baseLog)
	if err != nil {
		baseLog.Fatal("Failed to initialize logger provider", zap.Error(err))
	}
	log := loggerProvider.Bridge(baseLog, logger.ParseLevel(cfg.Log.Level))

	profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:         cfg.Telemetry.ProfilingEnabled,
		ServerAddress:   cfg.Telemetry.ProfilingServer,
		ApplicationName: cfg.Telemetry.ServiceName,
		Contention:      cfg.Telemetry.ProfilingContention,
	}, log)
	if err != nil {
		log.Warn("Profiler disabled", zap.Error(err))
	}
	if cfg.Telemetry.ProfilingEnabled && cfg.Telemetry.Enabled {
		tracerProvider.EnableSpanProfiles()
	}

	log.Info("Starting vet clinic ledger",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", version),
	)

	// Create GORM logger backed by zap
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level),
		logger.WithSlowThreshold(cfg.Telemetry.DBSlowQueryThresh))

	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	dbTracing := telemetry.DefaultDBTracingConfig()
	dbTracing.Enabled = cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled
	dbTracing.LogFullSQL = cfg.Telemetry.DBLogFullSQL
	if cfg.Telemetry.DBSlowQueryThresh > 0 {
		dbTracing.SlowQueryThresh = cfg.Telemetry.DBSlowQueryThresh
	}
	if err := telemetry.RegisterDBTracing(db.DB, dbTracing, log); err != nil {
		log.Warn("Database tracing disabled", zap.Error(err))
	}

	meter := meterProvider.Meter("vetclinic/ledger")
	dbMetrics, err := telemetry.NewDBMetrics(meter, db.DB)
	if err != nil {
		log.Warn("Database metrics disabled", zap.Error(err))
	}
	ledgerMetrics, err := telemetry.NewLedgerMetrics(meter)
	if err != nil {
		log.Warn("Ledger metrics disabled", zap.Error(err))
	}

	// Audit records are written asynchronously after commit
	auditCfg := audit.DefaultConfig()
	auditCfg.QueueSize = cfg.Audit.QueueSize
	auditCfg.BatchSize = cfg.Audit.BatchSize
	auditCfg.FlushInterval = cfg.Audit.FlushInterval
	auditRecorder := audit.NewAsyncRecorder(audit.NewGormSink(db.DB), auditCfg, log)

	// Repositories
	transactionRepo := persistence.NewGormTransactionRepository(db.DB)
	partyRepo := persistence.NewGormPartyRepository(db.DB)
	balanceRepo := persistence.NewGormBalanceEntryRepository(db.DB)
	allocationRepo := persistence.NewGormAllocationRepository(db.DB)
	outboxRepo := event.NewGormOutboxRepository(db.DB)
	scope := persistence.NewGormTransactionScope(db.DB,
		persistence.WithOutboxMaxRetries(cfg.Outbox.MaxRetries))

	codeCfg := ledger.DefaultCodeGeneratorConfig()
	if cfg.Ledger.CodeMaxAttempts > 0 {
		codeCfg.MaxAttempts = cfg.Ledger.CodeMaxAttempts
	}
	if cfg.Ledger.CodeInitialInterval > 0 {
		codeCfg.InitialInterval = cfg.Ledger.CodeInitialInterval
	}
	if cfg.Ledger.CodeMaxInterval > 0 {
		codeCfg.MaxInterval = cfg.Ledger.CodeMaxInterval
	}
	codes := ledger.NewCodeGenerator(transactionRepo, codeCfg)

	// Application services
	ledgerService := ledgerapp.NewService(scope, transactionRepo, partyRepo, balanceRepo, allocationRepo, codes, auditRecorder, log)
	ledgerService.SetMetrics(ledgerMetrics)
	reportService := ledgerapp.NewReportService(transactionRepo, partyRepo)
	reconciler := ledgerapp.NewReconciler(scope, partyRepo, auditRecorder, log)
	reconciler.SetMetrics(ledgerMetrics)
	outboxService := eventapp.NewOutboxService(outboxRepo, log)

	// Side effects (stock movements, follow-up reminders) leave through the outbox
	var outboxProcessor *event.OutboxProcessor
	if cfg.Outbox.ProcessorEnabled {
		sideEffects := ledgerapp.NewSideEffectHandler(
			persistence.NewGormInventory(db.DB),
			persistence.NewGormReminders(db.DB),
			log,
		)
		processorCfg := event.DefaultOutboxProcessorConfig()
		processorCfg.BatchSize = cfg.Outbox.BatchSize
		processorCfg.PollInterval = cfg.Outbox.PollInterval
		processorCfg.CleanupEnabled = cfg.Outbox.CleanupEnabled
		processorCfg.CleanupRetention = cfg.Outbox.CleanupRetention
		processorCfg.StaleAfter = cfg.Outbox.StaleAfter

		outboxProcessor = event.NewOutboxProcessor(outboxRepo, processorCfg, log)
		outboxProcessor.HandleAll(sideEffects.Topics())
		outboxProcessor.SetMetrics(ledgerMetrics)
		if err := outboxProcessor.Start(ctx); err != nil {
			log.Fatal("Failed to start outbox processor", zap.Error(err))
		}
	}

	// Periodic reconciliation repairs drifted party balances
	sched := scheduler.NewScheduler(log)
	if cfg.Reconciliation.Enabled {
		err := sched.Register(scheduler.TaskConfig{
			Name:          "ledger-reconciliation",
			Interval:      cfg.Reconciliation.Interval,
			Timeout:       cfg.Reconciliation.RunTimeout,
			RunOnStart:    cfg.Reconciliation.RunOnStart,
			RetryAttempts: 1,
			RetryDelay:    30 * time.Second,
		}, func(ctx context.Context) error {
			summary, err := reconciler.Run(ctx, ledgerapp.ReconcileOptions{})
			if err != nil {
				return err
			}
			log.Info("Reconciliation finished",
				zap.Int("fixed", summary.Fixed),
				zap.Int("unchanged", summary.Unchanged),
				zap.Int("errored", summary.Errored),
			)
			return nil
		})
		if err != nil {
			log.Fatal("Failed to register reconciliation task", zap.Error(err))
		}
	}
	if err := sched.Start(ctx); err != nil {
		log.Fatal("Failed to start scheduler", zap.Error(err))
	}

	// Idempotent replay of mutating requests, Redis backed when enabled
	idempotencyStore, err := cache.NewIdempotencyStoreFactory(cfg.Redis, cache.WithLogger(log)).CreateStore()
	if err != nil {
		log.Fatal("Failed to create idempotency store", zap.Error(err))
	}
	defer func() {
		if err := idempotencyStore.Close(); err != nil {
			log.Error("Error closing idempotency store", zap.Error(err))
		}
	}()

	jwtService := auth.NewJWTService(cfg.JWT)

	// Handlers
	ledgerHandler := handler.NewLedgerHandler(ledgerService, reportService, reconciler)
	systemHandler := handler.NewSystemHandler(cfg.App.Name, version)
	outboxHandler := handler.NewOutboxHandler(outboxService)

	// Set Gin mode based on environment
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		log.Fatal("Invalid trusted proxies", zap.Error(err))
	}

	corsCfg := middleware.DefaultCORSConfig()
	if len(cfg.HTTP.CORSAllowOrigins) > 0 {
		corsCfg.AllowOrigins = cfg.HTTP.CORSAllowOrigins
	}
	if len(cfg.HTTP.CORSAllowMethods) > 0 {
		corsCfg.AllowMethods = cfg.HTTP.CORSAllowMethods
	}
	if len(cfg.HTTP.CORSAllowHeaders) > 0 {
		corsCfg.AllowHeaders = cfg.HTTP.CORSAllowHeaders
	}

	// Middleware order: request id first so every later log line and span carries it
	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(middleware.TracingWithConfig(middleware.TracingConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Enabled:     cfg.Telemetry.Enabled,
	}))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.SecureWithConfig(middleware.SecurityConfig{
		HSTSEnabled: cfg.App.Env == "production",
		HSTSMaxAge:  31536000,
	}))
	engine.Use(middleware.CORSWithConfig(corsCfg))
	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))
	engine.Use(middleware.HTTPMetrics(meter))

	engine.GET("/health", healthHandler(db))

	apiMiddleware := []gin.HandlerFunc{
		middleware.JWTAuthMiddlewareWithConfig(middleware.JWTMiddlewareConfig{
			JWTService: jwtService,
			SkipPaths:  []string{"/api/v1/system/ping"},
			Logger:     log,
		}),
		middleware.TracingAttributeInjector(),
		middleware.SpanErrorMarker(),
	}
	if cfg.HTTP.RateLimitEnabled {
		limiterCfg := middleware.DefaultRateLimiterConfig()
		limiterCfg.RequestsPerSecond = cfg.HTTP.RateLimitRPS
		limiterCfg.BurstSize = cfg.HTTP.RateLimitBurst
		limiter := middleware.NewRateLimiter(limiterCfg)
		go limiter.Run(ctx)
		apiMiddleware = append(apiMiddleware, limiter.Middleware())
	}
	apiMiddleware = append(apiMiddleware, middleware.Idempotency(middleware.IdempotencyConfig{
		Store: idempotencyStore,
		TTL:   cfg.HTTP.IdempotencyTTL,
	}))

	r := router.NewRouter(engine, router.WithMiddleware(apiMiddleware...))
	r.Register(router.LedgerRoutes(ledgerHandler))
	r.Register(router.SystemRoutes(systemHandler, outboxHandler))
	r.Setup()

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	stop()

	if err := sched.Stop(shutdownCtx); err != nil {
		log.Error("Error stopping scheduler", zap.Error(err))
	}
	if outboxProcessor != nil {
		if err := outboxProcessor.Stop(shutdownCtx); err != nil {
			log.Error("Error stopping outbox processor", zap.Error(err))
		}
	}
	if err := auditRecorder.Close(shutdownCtx); err != nil {
		log.Error("Error flushing audit records", zap.Error(err))
	}
	if dbMetrics != nil {
		if err := dbMetrics.Stop(); err != nil {
			log.Error("Error stopping database metrics", zap.Error(err))
		}
	}
	if profiler != nil {
		if err := profiler.Stop(); err != nil {
			log.Error("Error stopping profiler", zap.Error(err))
		}
	}
	if err := meterProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down meter provider", zap.Error(err))
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down tracer provider", zap.Error(err))
	}
	if err := loggerProvider.Shutdown(shutdownCtx); err != nil {
		baseLog.Error("Error shutting down logger provider", zap.Error(err))
	}

	baseLog.Info("Server exited gracefully")
}

// healthHandler returns a handler for health check endpoints
func healthHandler(db *persistence.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqLog := logger.GetGinLogger(c)
		if err := db.Ping(); err != nil {
			reqLog.Warn("Health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"time":     time.Now().Format(time.RFC3339),
				"database": "error",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "healthy",
			"time":     time.Now().Format(time.RFC3339),
			"database": "ok",
		})
	}
}
