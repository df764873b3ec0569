package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log"
	"math/rand/v2"
	"net"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/biller/pkg/api"
	"github.com/platinummonkey/biller/pkg/async"
	"github.com/platinummonkey/biller/pkg/billing"
	"github.com/platinummonkey/biller/pkg/config"
	"github.com/platinummonkey/biller/pkg/external"
	"github.com/platinummonkey/biller/pkg/middleware"
	"github.com/platinummonkey/biller/pkg/observability"
	"github.com/platinummonkey/biller/pkg/reports"
	"github.com/platinummonkey/biller/pkg/scheduler"
	"github.com/platinummonkey/biller/pkg/storage"
	"github.com/platinummonkey/biller/pkg/storage/memory"
	"github.com/platinummonkey/biller/pkg/storage/postgres"
	"github.com/platinummonkey/biller/pkg/webhooks"
)

var (
	runOnce   = flag.Bool("run-once", false, "Run a single billing cycle and exit")
	seed      = flag.Bool("seed", false, "Seed the store with demo customers and invoices")
	customers = flag.Int("seed-customers", storage.DemoCustomers, "Number of demo customers to seed")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otelProviders, err := observability.InitOTel(ctx, cfg.Observability.OTel, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize OpenTelemetry")
	}

	store, db, redisClient, err := openStorage(ctx, cfg.Storage, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize storage")
	}

	if *seed || cfg.Storage.Type == storage.TypeMemory {
		demoCustomers, demoInvoices := storage.DemoData(rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())), *customers)
		if err := store.Seed(ctx, demoCustomers, demoInvoices); err != nil {
			logger.WithError(err).Fatal("Failed to seed storage")
		}
		logger.WithFields(logrus.Fields{
			"customers": len(demoCustomers),
			"invoices":  len(demoInvoices),
		}).Info("Seeded storage with demo data")
	}

	// Currency rates
	rates := external.NewRateTable(external.DefaultRates(), external.RateTableConfig{
		NetworkErrorRate: cfg.Providers.ConversionErrorRate,
	}, nil, logger)
	var background []<-chan struct{}
	if cfg.Providers.RatesFile != "" {
		if err := rates.Reload(cfg.Providers.RatesFile); err != nil {
			logger.WithError(err).Fatal("Failed to load currency rates")
		}
		if cfg.Providers.WatchRates {
			background = append(background, async.SafeGo(ctx, logger, 0, "rates watcher", func(ctx context.Context) error {
				return rates.Watch(ctx, cfg.Providers.RatesFile)
			}))
		}
	}
	payments := external.NewSimulatedPaymentProvider(store.Customers(), cfg.Providers.Payment, nil)

	// Metrics and run reports
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)
	otelMetrics, err := observability.NewOTelMetrics(nil)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create OpenTelemetry instruments")
	}

	checker := observability.NewHealthChecker(db, redisClient, cfg.Observability.OTel.ServiceVersion)
	if db == nil {
		checker.AddCheck("storage", true, store.HealthCheck)
	}
	reporters := []billing.Reporter{reports.NewLogReporter(logger), metrics, otelMetrics}
	if cfg.Reports.Dir != "" {
		archive, err := reports.NewFileArchive(cfg.Reports.Dir)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create report directory")
		}
		reporters = append(reporters, archive)
	}
	if cfg.Reports.S3Enabled {
		archive, err := reports.NewS3Archive(ctx, cfg.Reports.S3, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create S3 report archive")
		}
		reporters = append(reporters, archive)
		checker.AddCheck("report_archive", false, archive.HealthCheck)
	}

	if hooks := cfg.Reports.Webhooks(); len(hooks) > 0 {
		notifier, err := webhooks.NewNotifier(hooks, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create report webhook notifier")
		}
		reporters = append(reporters, notifier)
	}

	// Billing engine
	loc, err := cfg.Billing.Location()
	if err != nil {
		logger.WithError(err).Fatal("Invalid billing timezone")
	}
	sched := scheduler.New(logger, scheduler.WithLocation(loc))

	processor := billing.NewProcessor(
		payments,
		rates,
		store.Invoices(),
		store.Customers(),
		cfg.Billing.Processor,
		logger,
		billing.WithObserver(observability.Observers(metrics, otelMetrics)),
	)
	service := billing.NewService(processor, store.Invoices(), logger,
		billing.WithConcurrency(cfg.Billing.Concurrency),
		billing.WithReporters(reporters...),
		billing.WithRecurringTrigger(scheduler.NewBillingTrigger(sched, cfg.Billing.Trigger)),
	)

	if *runOnce {
		report, err := service.RunBillingCycle(billing.WithTrigger(ctx, billing.TriggerManual))
		closeStorage(store, logger)
		if shutdownErr := otelProviders.Shutdown(context.Background()); shutdownErr != nil {
			logger.WithError(shutdownErr).Warn("Failed to shutdown OpenTelemetry")
		}
		if err != nil {
			logger.WithError(err).Fatal("Billing run failed")
		}
		logger.WithFields(logrus.Fields{
			"run_id":    report.RunID,
			"total":     report.Total,
			"succeeded": report.Succeeded,
			"failed":    report.Failed,
		}).Info("Billing run completed")
		return
	}

	if cfg.Billing.ScheduleEnabled {
		if err := service.StartRecurring(ctx); err != nil {
			logger.WithError(err).Fatal("Failed to arm billing trigger")
		}
		sched.Start()
	}

	if db != nil {
		background = append(background, async.SafeGoNoError(ctx, logger, 0, "db stats collector", func(ctx context.Context) {
			metrics.CollectDBStats(ctx, db, 15*time.Second)
		}))
	}

	// API server
	var apiOpts []api.Option
	if cfg.Server.RateLimit > 0 {
		limitConfig := middleware.RateLimitConfig{
			RequestsPerWindow: cfg.Server.RateLimit,
			WindowDuration:    time.Minute,
			BurstSize:         cfg.Server.RateLimitBurst,
		}
		var limiter middleware.Limiter
		if redisClient != nil {
			limiter = middleware.NewDistributedRateLimiter(redisClient, limitConfig, "")
		} else {
			local := middleware.NewRateLimiter(limitConfig)
			background = append(background, async.SafeGoNoError(ctx, logger, 0, "rate limiter cleanup", local.RunCleanup))
			limiter = local
		}
		apiOpts = append(apiOpts, api.WithActionMiddleware(middleware.RateLimit(limiter)))
	}
	apiServer := api.NewServer(store.Invoices(), store.Customers(), service, logger, apiOpts...)
	if cfg.Observability.MetricsEnabled {
		apiServer.Router().Use(observability.HTTPMetricsMiddleware(metrics))
	}
	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      apiServer.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics server (separate port for k8s probes)
	healthRouter := mux.NewRouter()
	observability.RegisterHealthRoutes(healthRouter, checker)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthRouter, registry)
	}
	healthServer := &http.Server{
		Addr:        net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:     healthRouter,
		ReadTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)
	shutdown.RegisterServer(httpServer)
	shutdown.RegisterServer(healthServer)
	shutdown.RegisterShutdownFunc("storage", func(context.Context) error {
		return store.Close()
	})
	shutdown.RegisterShutdownFunc("opentelemetry", otelProviders.Shutdown)
	shutdown.RegisterShutdownFunc("background tasks", func(ctx context.Context) error {
		cancel()
		return async.Wait(ctx, background...)
	})
	shutdown.RegisterShutdownFunc("scheduler", sched.Stop)

	serve(httpServer, "API", logger)
	serve(healthServer, "health", logger)

	logger.WithFields(logrus.Fields{
		"addr":        httpServer.Addr,
		"health_addr": healthServer.Addr,
		"storage":     cfg.Storage.Type,
		"scheduled":   cfg.Billing.ScheduleEnabled,
	}).Info("Biller started")

	if err := shutdown.WaitForShutdown(context.Background()); err != nil {
		logger.WithError(err).Error("Shutdown completed with errors")
		return
	}
	logger.Info("Biller stopped")
}

// openStorage returns the configured backend. db and client are set for
// PostgreSQL so pool metrics and health checks can see them.
func openStorage(ctx context.Context, cfg storage.Config, logger logrus.FieldLogger) (storage.Storage, *sql.DB, *redis.Client, error) {
	switch cfg.Type {
	case storage.TypePostgres:
		store, err := postgres.Open(ctx, cfg, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Info("Using PostgreSQL storage")
		return store, store.DB(), store.Redis(), nil
	default:
		logger.Info("Using in-memory storage")
		return memory.New(), nil, nil, nil
	}
}

func serve(server *http.Server, name string, logger logrus.FieldLogger) {
	go func() {
		defer observability.RecoverPanic(logger, name+" server")
		logger.WithField("addr", server.Addr).Infof("Starting %s server", name)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatalf("%s server failed", name)
		}
	}()
}

func closeStorage(store storage.Storage, logger logrus.FieldLogger) {
	if err := store.Close(); err != nil {
		logger.WithError(err).Warn("Failed to close storage")
	}
}
