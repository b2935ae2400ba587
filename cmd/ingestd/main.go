package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	corecfg "github.com/wearlytics/telemetry-ingest/internal/core/config"
	"github.com/wearlytics/telemetry-ingest/internal/core/storage/postgres"
	"github.com/wearlytics/telemetry-ingest/internal/ingestion"
	"github.com/wearlytics/telemetry-ingest/internal/metrics"
	"github.com/wearlytics/telemetry-ingest/internal/migrations"
	"github.com/wearlytics/telemetry-ingest/internal/schema"
	"github.com/wearlytics/telemetry-ingest/internal/server"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (optional)")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config",
		"addr", fmtAddr(cfg.Server.Host, cfg.Server.Port),
		"schema_path", cfg.Schema.Path,
		"auto_migrate", cfg.Database.AutoMigrate)

	// 2. Compile the event schema. Missing or malformed documents keep the
	// service from entering the serving state.
	validator, err := schema.NewValidator(cfg.Schema.Path)
	if err != nil {
		slog.Error("Failed to load event schema", "error", err)
		os.Exit(1)
	}

	// 3. Initialize Storage (PostgreSQL)
	dbAdapter, err := postgres.NewAdapter(
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
	)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer dbAdapter.Close()

	// 3.1. Run Database Migrations, then prepare statements against the
	// migrated schema.
	if err := migrations.Run(dbAdapter.DB(), cfg.Database.AutoMigrate); err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}
	if err := dbAdapter.Prepare(); err != nil {
		slog.Error("Failed to prepare storage adapter", "error", err)
		os.Exit(1)
	}

	// 4. Metrics register lives for the process lifetime; counters reset on restart.
	register := metrics.NewRegister()

	// 5. Initialize Ingestion
	ingestionSvc := ingestion.NewService(validator, dbAdapter, register, cfg.Server.MaxBodySizeMB)

	// 6. Initialize Server
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), cfg.Server.Mode)
	ingestionSvc.RegisterRoutes(srv.Engine)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Signal handler triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	// HTTP server blocks until ctx is cancelled.
	if err := srv.Run(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	slog.Info("Shutdown complete")
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
