package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/authcheck/pkg/authcheck"
	"github.com/platinummonkey/authcheck/pkg/config"
	"github.com/platinummonkey/authcheck/pkg/observability"
	"github.com/platinummonkey/authcheck/pkg/orgs"
	"github.com/platinummonkey/authcheck/pkg/sso"
	"github.com/platinummonkey/authcheck/pkg/storage"
	"github.com/platinummonkey/authcheck/pkg/storage/postgres"
	"github.com/platinummonkey/authcheck/pkg/tasks"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

var (
	configFile  = flag.String("config", os.Getenv("AUTHCHECK_CONFIG_FILE"), "Path to a YAML configuration file")
	runOnce     = flag.Bool("run-once", false, "Run a single verification sweep, wait for its tasks and exit")
	showVersion = flag.Bool("version", false, "Print the version and exit")
)

const dbStatsInterval = 15 * time.Second

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *runOnce {
		cfg.Check.RunOnce = true
	}

	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout).
		WithFields(map[string]interface{}{"service": "authcheck", "version": version})

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("authcheck exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otelProviders, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		logger.WithError(err).Warn("Failed to initialize OpenTelemetry, continuing without it")
	}

	db, err := postgres.Open(ctx, cfg.Database.Connection())
	if err != nil {
		return err
	}

	if cfg.Database.AutoMigrate {
		applied, err := postgres.Migrate(ctx, db)
		if err != nil {
			db.Close()
			return err
		}
		logger.WithField("applied", applied).Info("Database migrations complete")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)

	validators, err := sso.NewRegistry(cfg.Check.ValidatorCacheSize)
	if err != nil {
		db.Close()
		return err
	}
	sso.RegisterDefaults(validators, &http.Client{
		Timeout:   cfg.Check.HTTPTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	})

	ssoStorage := sso.NewStorage(db)
	reconciler := authcheck.NewReconciler(ssoStorage, orgs.NewPostgresService(db), validators,
		authcheck.WithLogger(logger), authcheck.WithMetrics(metrics))

	taskMux := tasks.NewMux()
	reconciler.Register(taskMux)

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)
	g, gctx := errgroup.WithContext(ctx)

	queueOpts := []tasks.Option{tasks.WithLogger(logger), tasks.WithMetrics(metrics)}

	var (
		queue       tasks.Queue
		redisClient *redis.Client
		closeQueue  observability.ShutdownFunc
	)
	switch cfg.Queue.Backend {
	case config.QueueRedis:
		redisClient, err = storage.NewRedisClient(ctx, cfg.Queue.Redis())
		if err != nil {
			db.Close()
			return err
		}
		redisQueue := tasks.NewRedisQueue(redisClient, cfg.Queue.RedisKey, queueOpts...)
		queue = redisQueue

		consumerCtx, stopConsumers := context.WithCancel(gctx)
		consumersDone := make(chan struct{})
		if !cfg.Check.RunOnce {
			g.Go(func() error {
				defer close(consumersDone)
				err := redisQueue.Run(consumerCtx, taskMux, cfg.Queue.Workers, cfg.Queue.TaskTimeout)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		} else {
			close(consumersDone)
		}
		closeQueue = func(ctx context.Context) error {
			stopConsumers()
			select {
			case <-consumersDone:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

	default:
		memoryQueue := tasks.NewMemoryQueue(ctx, taskMux, cfg.Queue.Workers, cfg.Queue.TaskTimeout, queueOpts...)
		queue = memoryQueue
		closeQueue = func(ctx context.Context) error {
			timeout := cfg.Server.ShutdownTimeout
			if deadline, ok := ctx.Deadline(); ok {
				timeout = time.Until(deadline)
			}
			return memoryQueue.Close(timeout)
		}

		// Failures are logged where they happen; keep the pool's error
		// channel from filling up
		g.Go(func() error {
			for {
				select {
				case <-memoryQueue.Errors():
				case <-gctx.Done():
					return nil
				}
			}
		})
	}

	sweeper := authcheck.NewSweeper(ssoStorage, queue, cfg.Check.Interval,
		authcheck.WithLogger(logger), authcheck.WithMetrics(metrics))
	scheduler, err := authcheck.NewScheduler(sweeper, logger)
	if err != nil {
		db.Close()
		return err
	}

	if cfg.Check.RunOnce {
		return runSweepOnce(ctx, logger, scheduler, closeQueue, cfg.Server.ShutdownTimeout, func() {
			if redisClient != nil {
				redisClient.Close()
			}
			db.Close()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			observability.ShutdownOTel(shutdownCtx, otelProviders, logger)
		})
	}

	// Ops server: health probes and metrics
	router := mux.NewRouter()
	health := observability.NewHealthChecker(db, redisClient, version).
		WithSweepStatus(sweeper.LastSuccess, 2*sweeper.Interval())
	observability.RegisterHealthRoutes(router, health)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(router, registry)
	}
	opsServer := &http.Server{
		Addr:              ":" + cfg.Server.HealthPort,
		Handler:           otelhttp.NewHandler(router, "authcheck-ops"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.Infof("Ops server listening on :%s", cfg.Server.HealthPort)
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(dbStatsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				metrics.RecordDBStats(db.Stats())
			case <-gctx.Done():
				return nil
			}
		}
	})

	scheduler.Start()

	// Producers stop before consumers, consumers before their resources
	shutdown.Register("scheduler", scheduler.Stop)
	shutdown.Register("ops server", opsServer.Shutdown)
	shutdown.Register("task queue", closeQueue)
	if redisClient != nil {
		shutdown.Register("redis", func(ctx context.Context) error { return redisClient.Close() })
	}
	shutdown.Register("database", func(ctx context.Context) error { return db.Close() })
	shutdown.Register("opentelemetry", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})

	shutdownErr := shutdown.Wait(gctx)
	cancel()

	if err := g.Wait(); err != nil {
		return err
	}
	return shutdownErr
}

// runSweepOnce runs one sweep, waits for the in-process queue to drain and
// releases resources
func runSweepOnce(ctx context.Context, logger *observability.Logger, scheduler *authcheck.Scheduler, closeQueue observability.ShutdownFunc, timeout time.Duration, release func()) error {
	defer release()

	result, sweepErr := scheduler.RunOnce(ctx)
	if result != nil {
		logger.WithFields(map[string]interface{}{
			"claimed":  len(result.Claimed),
			"enqueued": result.Enqueued,
		}).Info("Verification sweep complete")
	}

	drainCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := closeQueue(drainCtx); err != nil {
		logger.WithError(err).Warn("Task queue did not drain before the timeout")
	}

	return sweepErr
}
