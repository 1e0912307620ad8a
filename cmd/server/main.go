package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jscharber/convosense/internal/database"
	"github.com/jscharber/convosense/internal/realtime"
	"github.com/jscharber/convosense/internal/server"
	"github.com/jscharber/convosense/pkg/analysis"
	"github.com/jscharber/convosense/pkg/config"
	"github.com/jscharber/convosense/pkg/events"
	"github.com/jscharber/convosense/pkg/health"
	"github.com/jscharber/convosense/pkg/logger"
	"github.com/jscharber/convosense/pkg/metrics"
	"github.com/jscharber/convosense/pkg/retention"
	"github.com/jscharber/convosense/pkg/tracing"
)

const envPrefix = "CONVOSENSE"

var version = "1.0.0"

func main() {
	var (
		configFile     = flag.String("config", "", "Path to configuration file (yaml or json)")
		generateConfig = flag.String("generate-config", "", "Generate example configuration file at specified path")
		validateConfig = flag.Bool("validate-config", false, "Validate configuration and exit")
		listEnv        = flag.Bool("list-env", false, "Print the environment variables read and exit")
		host           = flag.String("host", "", "Server host")
		port           = flag.Int("port", 0, "Server port")
		dbDriver       = flag.String("db-driver", "", "Storage driver: memory, sqlite, postgres, mongo")
		logLevel       = flag.String("log-level", "", "Log level")
		showVersion    = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("convosense server v%s\n", version)
		return
	}

	loader := config.NewLoader(envPrefix)

	if *generateConfig != "" {
		if err := loader.WriteExample(*generateConfig, server.GetDefaultConfig()); err != nil {
			log.Fatalf("Failed to generate config file: %v", err)
		}
		fmt.Printf("Example configuration file generated at: %s\n", *generateConfig)
		return
	}

	cfg := server.GetDefaultConfig()
	if *listEnv {
		for _, name := range loader.EnvNames(cfg) {
			fmt.Println(name)
		}
		return
	}

	if err := config.ValidateConfigPath(*configFile); err != nil {
		log.Fatalf("Invalid config file: %v", err)
	}
	if err := loader.Load(*configFile, cfg); err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Command line flags win over file and environment.
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbDriver != "" {
		cfg.Database.Driver = *dbDriver
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	if err := cfg.Validate(); err != nil {
		if *validateConfig {
			fmt.Printf("Configuration validation failed:\n%v\n", err)
			os.Exit(1)
		}
		log.Fatalf("Invalid configuration: %v", err)
	}
	if *validateConfig {
		fmt.Println("Configuration validation passed successfully.")
		return
	}

	appLogger := logger.NewLogger(&logger.Config{
		Level:        logger.ParseLogLevel(cfg.Logging.Level),
		Format:       logger.ParseLogFormat(cfg.Logging.Format),
		Output:       os.Stdout,
		Service:      "convosense",
		Version:      version,
		EnableCaller: cfg.Logging.Level == "debug",
	})
	logger.SetDefault(appLogger)
	defer func() { _ = appLogger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, appLogger); err != nil {
		appLogger.WithField("error", err.Error()).Error("Server exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *server.Config, appLogger *logger.Logger) error {
	tracingService, err := tracing.NewTracingService(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracingService.Stop(stopCtx); err != nil {
			appLogger.WithField("error", err.Error()).Warn("Failed to flush traces")
		}
	}()

	registry := metrics.GetRegistry()
	serviceMetrics := metrics.NewServiceMetrics(registry)

	appLogger.WithField("driver", cfg.Database.Driver).Info("Opening conversation store")
	db, err := database.New(ctx, cfg.Database, appLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = db.Connect(connectCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	if migrator := db.Migrator(); migrator != nil && !cfg.Database.AutoMigrate {
		pending, err := migrator.GetPendingMigrations(ctx)
		if err != nil {
			return fmt.Errorf("failed to check migrations: %w", err)
		}
		if len(pending) > 0 {
			appLogger.WithField("pending_count", len(pending)).Error(
				"Pending migrations found; run cmd/migrate or set CONVOSENSE_DB_AUTO_MIGRATE=true")
			return fmt.Errorf("%d pending migrations", len(pending))
		}
	}

	analyzer, err := analysis.New(cfg.Analysis,
		analysis.WithLogger(appLogger),
		analysis.WithMetrics(serviceMetrics),
	)
	if err != nil {
		return fmt.Errorf("failed to create analyzer: %w", err)
	}

	hub := realtime.NewHub(cfg.Realtime, analyzer, tracingService, appLogger, serviceMetrics)

	bus := events.NewBus(cfg.Events.Bus, appLogger, serviceMetrics)
	bus.Subscribe("realtime", hub)

	var kafkaPublisher *events.KafkaPublisher
	if cfg.Events.Kafka.Enabled {
		kafkaPublisher, err = events.NewKafkaPublisher(cfg.Events.Kafka, tracingService)
		if err != nil {
			return fmt.Errorf("failed to create kafka publisher: %w", err)
		}
		defer kafkaPublisher.Close()
		bus.Subscribe("kafka", kafkaPublisher)
	}

	if err := bus.Start(); err != nil {
		return fmt.Errorf("failed to start event bus: %w", err)
	}
	defer bus.Stop()

	sweeper, err := retention.NewSweeper(cfg.Retention, db.Repository(), appLogger, serviceMetrics)
	if err != nil {
		return fmt.Errorf("failed to create retention sweeper: %w", err)
	}
	if err := sweeper.Start(); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Retention.Timeout)
		defer cancel()
		sweeper.Stop(stopCtx)
	}()

	checker := health.NewHealthChecker(5 * time.Second)
	checker.AddChecker(health.PingChecker("database", true, db.HealthCheck))
	checker.AddChecker(health.CapacityChecker("realtime", hub.ConnectionCount, hub.MaxConnections(), 0.9))
	if tracingService.Enabled() {
		checker.AddChecker(health.PingChecker("tracing", false, tracingService.HealthCheck))
	}
	if kafkaPublisher != nil {
		checker.AddChecker(health.PingChecker("kafka", false, kafkaPublisher.HealthCheck))
	}

	srv, err := server.New(cfg, server.Dependencies{
		Repository: db.Repository(),
		Analyzer:   analyzer,
		Publisher:  bus,
		Hub:        hub,
		Health:     checker,
		Registry:   registry,
		Metrics:    serviceMetrics,
		Tracing:    tracingService,
		Logger:     appLogger,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	appLogger.WithFields(map[string]interface{}{
		"address":        cfg.Server.GetAddress(),
		"api_prefix":     cfg.Server.APIPrefix,
		"realtime_path":  cfg.Realtime.Path,
		"driver":         cfg.Database.Driver,
		"match_mode":     string(analyzer.MatchMode()),
		"tracing":        tracingService.Enabled(),
		"kafka":          kafkaPublisher != nil,
		"retention":      cfg.Retention.Enabled,
		"rate_limit_rps": cfg.Server.RateLimitRPS,
	}).Info("convosense server configuration")

	return srv.Start(ctx)
}
