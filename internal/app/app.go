// Package app wires the eventlens components together and manages their lifecycle.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	grpcapi "github.com/arkilian/eventlens/internal/api/grpc"
	httpapi "github.com/arkilian/eventlens/internal/api/http"
	"github.com/arkilian/eventlens/internal/cache"
	"github.com/arkilian/eventlens/internal/config"
	"github.com/arkilian/eventlens/internal/export"
	"github.com/arkilian/eventlens/internal/logging"
	"github.com/arkilian/eventlens/internal/observability"
	"github.com/arkilian/eventlens/internal/query"
	"github.com/arkilian/eventlens/internal/query/aggregator"
	"github.com/arkilian/eventlens/internal/scope"
	"github.com/arkilian/eventlens/internal/server"
	"github.com/arkilian/eventlens/internal/storage"
	"github.com/arkilian/eventlens/internal/store"
	"github.com/arkilian/eventlens/internal/store/memory"
	"github.com/arkilian/eventlens/internal/store/sqlite"
)

// statsWindow is how long operation statistics are kept.
const statsWindow = 24 * time.Hour

// aggregateCache is a query cache that holds resources.
type aggregateCache interface {
	query.Cache
	io.Closer
}

// App owns every long-lived eventlens resource.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	store    store.Store
	cache    aggregateCache
	objects  storage.ObjectStorage
	registry *prometheus.Registry
	stats    *observability.OperationStats
	service  *query.Service
	shutdown *server.ShutdownManager

	httpServer   *server.GracefulHTTPServer
	httpListener net.Listener
	grpcServer   *grpc.Server
	grpcListener net.Listener
	grpcHealth   *health.Server

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

// New validates cfg and prepares an App. Nothing is opened until Start.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &App{cfg: cfg, logger: logger}, nil
}

// Start opens shared resources and starts the configured servers.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	if err := a.initSharedResources(ctx); err != nil {
		a.cleanup()
		return fmt.Errorf("failed to initialize shared resources: %w", err)
	}
	if err := a.startHTTP(); err != nil {
		a.cleanup()
		return fmt.Errorf("failed to start http server: %w", err)
	}
	if a.cfg.GRPC.Enabled {
		if err := a.startGRPC(); err != nil {
			a.cleanup()
			return fmt.Errorf("failed to start grpc server: %w", err)
		}
	}

	a.logger.Info("eventlens started",
		"http", a.HTTPAddr(),
		"grpc", a.GRPCAddr(),
		"store", a.cfg.Store.Driver,
		"tenancy", a.cfg.Tenancy.Enabled,
		"cache", a.cache != nil)
	return nil
}

// initSharedResources opens the store, cache, export storage, and metrics.
func (a *App) initSharedResources(ctx context.Context) error {
	var err error

	switch a.cfg.Store.Driver {
	case config.DriverSQLite:
		db, err := sqlite.Open(a.cfg.Store.Path, sqlite.Options{
			ReadPoolSize: a.cfg.Store.ReadPoolSize,
			BusyTimeout:  a.cfg.Store.BusyTimeout,
			Logger:       a.logger,
		})
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		a.store = db
	case config.DriverMemory:
		a.store = memory.New()
	default:
		return fmt.Errorf("unsupported store driver: %s", a.cfg.Store.Driver)
	}
	a.logger.Info("store opened", "driver", a.cfg.Store.Driver, "path", a.cfg.Store.Path)

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.stats = observability.NewOperationStats(statsWindow)
	metrics := observability.NewMetrics(a.registry, a.stats)

	opts := []query.Option{
		query.WithMetrics(metrics),
		query.WithLogger(a.logger),
	}

	if a.cfg.Cache.Enabled {
		switch a.cfg.Cache.Backend {
		case config.CacheMemory:
			a.cache = cache.NewLocalCache(a.cfg.Cache.KeyPrefix, a.cfg.Cache.TTL, a.cfg.Cache.MaxBytes)
		default:
			rc, err := cache.NewRedisCache(a.cfg.Cache)
			if err != nil {
				return fmt.Errorf("failed to connect to cache: %w", err)
			}
			a.cache = rc
		}
		opts = append(opts, query.WithCache(a.cache))
		a.logger.Info("aggregate cache enabled", "backend", a.cfg.Cache.Backend, "addr", a.cfg.Cache.Addr, "ttl", a.cfg.Cache.TTL)
	}

	a.objects, err = a.openObjectStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize export storage: %w", err)
	}
	exporter := export.New(a.store, a.objects, a.cfg.Export.KeyPrefix,
		export.WithTempDir(a.cfg.DataDir),
		export.WithLogger(a.logger))
	opts = append(opts, query.WithExporter(exporter))

	resolver := scope.NewResolver(a.store, a.cfg.Tenancy.Enabled)
	engine := aggregator.NewEngine(a.logger)
	a.service = query.NewService(a.store, resolver, engine, a.cfg.Query, opts...)

	a.shutdown = server.NewShutdownManager(server.ShutdownConfig{
		ShutdownTimeout: a.cfg.HTTP.ShutdownTimeout,
		DrainTimeout:    a.cfg.HTTP.ShutdownTimeout,
		Logger:          a.logger,
	})
	// Registered first so they close last.
	a.shutdown.RegisterCloser("store", a.store)
	if a.cache != nil {
		a.shutdown.RegisterCloser("cache", a.cache)
	}
	return nil
}

func (a *App) openObjectStorage(ctx context.Context) (storage.ObjectStorage, error) {
	switch a.cfg.Export.Type {
	case "local":
		a.logger.Info("export storage initialized", "type", "local", "path", a.cfg.Export.Path)
		return storage.NewLocalStorage(a.cfg.Export.Path)
	case "s3":
		s3Cfg := storage.DefaultS3Config()
		if a.cfg.Export.S3.Region != "" {
			s3Cfg.Region = a.cfg.Export.S3.Region
		}
		s3Cfg.Endpoint = a.cfg.Export.S3.Endpoint
		s3Cfg.UsePathStyle = a.cfg.Export.S3.UsePathStyle
		a.logger.Info("export storage initialized", "type", "s3",
			"bucket", a.cfg.Export.S3.Bucket, "region", s3Cfg.Region, "endpoint", s3Cfg.Endpoint)
		return storage.NewS3Storage(ctx, a.cfg.Export.S3.Bucket, s3Cfg)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", a.cfg.Export.Type)
	}
}

// startHTTP binds the HTTP listener and serves the API.
func (a *App) startHTTP() error {
	routerOpts := httpapi.RouterOptions{
		Health:     a.store.Ping,
		Stats:      a.stats,
		Middleware: []func(http.Handler) http.Handler{server.ShutdownMiddleware(a.shutdown)},
		Logger:     a.logger,
	}
	if a.cfg.Metrics.Enabled {
		routerOpts.Metrics = promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry})
	}

	l, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.HTTP.Addr, err)
	}
	a.httpListener = l
	a.httpServer = server.NewGracefulHTTPServer(&http.Server{
		Handler:      httpapi.NewRouter(a.service, routerOpts),
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}, a.shutdown)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.logger.Info("http server listening", "addr", l.Addr().String())
		if err := a.httpServer.Serve(l); err != nil {
			a.logger.Error("http server error", "error", err)
		}
	}()
	return nil
}

// startGRPC serves the events service and the standard health service.
func (a *App) startGRPC() error {
	a.grpcServer = grpc.NewServer()
	grpcapi.NewEventsServer(a.service, a.logger).Register(a.grpcServer)

	a.grpcHealth = health.NewServer()
	a.grpcHealth.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	a.grpcHealth.SetServingStatus(grpcapi.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(a.grpcServer, a.grpcHealth)

	l, err := net.Listen("tcp", a.cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on gRPC address: %w", err)
	}
	a.grpcListener = l

	a.shutdown.RegisterCloser("grpc", server.GRPCCloser(a.grpcServer, a.cfg.HTTP.ShutdownTimeout))

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.logger.Info("grpc server listening", "addr", l.Addr().String())
		if err := a.grpcServer.Serve(l); err != nil {
			a.logger.Error("grpc server error", "error", err)
		}
	}()
	return nil
}

// Stop drains in-flight requests, stops the servers, and closes resources.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	if a.grpcHealth != nil {
		a.grpcHealth.Shutdown()
	}
	err := a.shutdown.Shutdown(ctx, "stop requested")

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn("shutdown timeout, some servers may not have finished")
	}

	a.logger.Info("eventlens stopped")
	return err
}

// cleanup releases whatever initSharedResources managed to open.
func (a *App) cleanup() {
	if a.httpListener != nil {
		a.httpListener.Close()
	}
	if a.grpcServer != nil {
		a.grpcServer.Stop()
	}
	if a.cache != nil {
		a.cache.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
}

// Service returns the query façade; nil before Start.
func (a *App) Service() *query.Service { return a.service }

// HTTPAddr returns the bound HTTP address, or "" before Start.
func (a *App) HTTPAddr() string {
	if a.httpListener == nil {
		return ""
	}
	return a.httpListener.Addr().String()
}

// GRPCAddr returns the bound gRPC address, or "" when gRPC is disabled.
func (a *App) GRPCAddr() string {
	if a.grpcListener == nil {
		return ""
	}
	return a.grpcListener.Addr().String()
}
