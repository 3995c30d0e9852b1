// Package main implements the eventlens server binary.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/arkilian/eventlens/internal/app"
	"github.com/arkilian/eventlens/internal/config"
	"github.com/arkilian/eventlens/internal/logging"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		dataDir     string
		httpAddr    string
		grpcAddr    string
		storeDriver string
		tenancy     bool
		showVersion bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for all data files")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP listen address")
	flag.StringVar(&grpcAddr, "grpc-addr", "", "gRPC listen address (enables gRPC)")
	flag.StringVar(&storeDriver, "store", "", "Event store driver: sqlite, memory")
	flag.BoolVar(&tenancy, "tenancy", false, "Require a project on every aggregation call")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "eventlens - event analytics aggregation and query service\n\n")
		fmt.Fprintf(os.Stderr, "Usage: eventlens [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  EVENTLENS_DATA_DIR          Base directory for data files\n")
		fmt.Fprintf(os.Stderr, "  EVENTLENS_HTTP_ADDR         HTTP listen address\n")
		fmt.Fprintf(os.Stderr, "  EVENTLENS_STORE_DRIVER      Event store driver (sqlite, memory)\n")
		fmt.Fprintf(os.Stderr, "  EVENTLENS_TENANCY_ENABLED   Require a project on aggregation calls\n")
		fmt.Fprintf(os.Stderr, "  EVENTLENS_CACHE_ENABLED     Enable the Redis aggregate cache\n")
		fmt.Fprintf(os.Stderr, "  EVENTLENS_EXPORT_STORAGE_TYPE  Export storage (local, s3)\n")
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("eventlens version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := loadConfig(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Flags take priority over file and environment.
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if httpAddr != "" {
		cfg.HTTP.Addr = httpAddr
	}
	if grpcAddr != "" {
		cfg.GRPC.Addr = grpcAddr
		cfg.GRPC.Enabled = true
	}
	if storeDriver != "" {
		cfg.Store.Driver = storeDriver
	}
	if tenancy {
		cfg.Tenancy.Enabled = true
	}

	logger := logging.Init(cfg.Logging.Format, logging.ParseLevel(cfg.Logging.Level))
	logger.Info("starting eventlens", "version", version, "commit", commit, "data_dir", cfg.DataDir)

	application, err := app.New(cfg, logger)
	if err != nil {
		fatal(logger, "failed to create application", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := application.Start(ctx); err != nil {
		fatal(logger, "failed to start application", err)
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := application.Stop(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

// loadConfig reads the optional file, then overlays the environment.
func loadConfig(path string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = config.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := config.LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}
