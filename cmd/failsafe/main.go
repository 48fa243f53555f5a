// cmd/failsafe/main.go
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/FairForge/failsafe/internal/api"
	"github.com/FairForge/failsafe/internal/backup"
	"github.com/FairForge/failsafe/internal/catalog"
	"github.com/FairForge/failsafe/internal/config"
	"github.com/FairForge/failsafe/internal/drivers"
	"github.com/FairForge/failsafe/internal/drtest"
	"github.com/FairForge/failsafe/internal/failover"
	"github.com/FairForge/failsafe/internal/health"
	"github.com/FairForge/failsafe/internal/replication"
)

func main() {
	configPath := flag.String("config", config.GetEnvOrDefault("FAILSAFE_CONFIG", ""), "path to config file")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	driver := buildDriver(cfg, logger)

	// health monitoring
	endpoints := make([]health.Endpoint, 0, len(cfg.Health.Endpoints))
	for _, ep := range cfg.Health.Endpoints {
		endpoints = append(endpoints, health.Endpoint{
			Name:       ep.Name,
			Address:    ep.Address,
			HealthPath: ep.HealthPath,
			Priority:   ep.Priority,
		})
	}
	monitor := health.NewMonitor(endpoints,
		health.WithInterval(cfg.Health.Interval.Std()),
		health.WithTimeout(cfg.Health.Timeout.Std()),
		health.WithLogger(logger),
	)

	// failover follows every probe cycle
	fo := failover.NewManager(
		failover.WithFailureThreshold(cfg.Failover.FailureThreshold),
		failover.WithLogger(logger),
	)
	monitor.OnCycle(fo.Evaluate)

	// backup engine
	strategy, err := backup.StrategyFor(backup.JobType(cfg.Backup.Strategy))
	if err != nil {
		logger.Fatal("invalid backup strategy", zap.Error(err))
	}
	engine, err := backup.NewEngine(driver, strategy, logger)
	if err != nil {
		logger.Fatal("failed to create backup engine", zap.Error(err))
	}

	// replication
	regions := make([]replication.Region, 0, len(cfg.Replication.Regions))
	for _, r := range cfg.Replication.Regions {
		regions = append(regions, replication.Region{
			Name:    r.Name,
			Address: r.Address,
			Primary: r.Primary,
		})
	}
	repl, err := replication.NewManager(regions, replication.NewMemoryFeed(),
		replication.WithLogger(logger),
		replication.WithPollRate(rate.Every(cfg.Replication.PollInterval.Std())),
	)
	if err != nil {
		logger.Fatal("failed to create replication manager", zap.Error(err))
	}

	// DR test harness
	harness, err := drtest.NewHarness(driver,
		drtest.WithTargets(drtest.Targets{RTO: cfg.DRTest.RTO.Std(), RPO: cfg.DRTest.RPO.Std()}),
		drtest.WithFailoverThreshold(cfg.Failover.FailureThreshold),
		drtest.WithLogger(logger),
	)
	if err != nil {
		logger.Fatal("failed to create dr test harness", zap.Error(err))
	}

	// optional catalog: completed jobs and test results are persisted by the
	// API handlers when a store is configured
	var cat api.Catalog
	if cfg.Catalog.DSN != "" {
		store, err := catalog.NewStore(cfg.Catalog.DSN, logger)
		if err != nil {
			logger.Fatal("failed to open catalog", zap.Error(err))
		}
		defer func() { _ = store.Close() }()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := store.CreateTables(ctx); err != nil {
			cancel()
			logger.Fatal("failed to prepare catalog schema", zap.Error(err))
		}
		cancel()
		cat = store
		logger.Info("catalog enabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if len(endpoints) > 0 {
		if err := monitor.Start(ctx); err != nil {
			logger.Fatal("failed to start health monitor", zap.Error(err))
		}
	}
	if len(regions) > 0 {
		repl.StartReplication()
	}

	server := api.NewServer(cfg, logger, monitor, fo, engine, repl, harness, cat)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down...")
		monitor.Stop()
		repl.StopReplication()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func buildDriver(cfg *config.Config, logger *zap.Logger) drivers.Driver {
	switch cfg.Storage.Type {
	case "local", "":
		if err := os.MkdirAll(cfg.Storage.BasePath, 0750); err != nil {
			logger.Fatal("failed to create storage directory", zap.Error(err))
		}
		logger.Info("using local storage", zap.String("path", cfg.Storage.BasePath))
		return drivers.NewLocalDriver(cfg.Storage.BasePath, logger)

	case "s3":
		accessKey := os.Getenv("FAILSAFE_S3_ACCESS_KEY")
		secretKey := os.Getenv("FAILSAFE_S3_SECRET_KEY")
		if accessKey == "" || secretKey == "" {
			logger.Fatal("FAILSAFE_S3_ACCESS_KEY and FAILSAFE_S3_SECRET_KEY required for s3 storage")
		}

		driver, err := drivers.NewS3Driver(drivers.S3Config{
			Endpoint:  cfg.Storage.Endpoint,
			Region:    cfg.Storage.Region,
			Bucket:    cfg.Storage.Bucket,
			Prefix:    cfg.Storage.Prefix,
			AccessKey: accessKey,
			SecretKey: secretKey,
		}, logger)
		if err != nil {
			logger.Fatal("failed to create s3 driver", zap.Error(err))
		}
		logger.Info("using s3 storage", zap.String("bucket", cfg.Storage.Bucket))
		return driver

	default:
		logger.Fatal("invalid storage type", zap.String("type", cfg.Storage.Type))
		return nil
	}
}
