// Package config provides unified configuration for the eventlens service.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "EVENTLENS_"

// Store drivers.
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Config holds the unified configuration for eventlens.
type Config struct {
	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir" env:"DATA_DIR"`

	HTTP    HTTPConfig    `json:"http" yaml:"http" envPrefix:"HTTP_"`
	GRPC    GRPCConfig    `json:"grpc" yaml:"grpc" envPrefix:"GRPC_"`
	Store   StoreConfig   `json:"store" yaml:"store" envPrefix:"STORE_"`
	Query   QueryConfig   `json:"query" yaml:"query" envPrefix:"QUERY_"`
	Tenancy TenancyConfig `json:"tenancy" yaml:"tenancy" envPrefix:"TENANCY_"`
	Cache   CacheConfig   `json:"cache" yaml:"cache" envPrefix:"CACHE_"`
	Export  ExportConfig  `json:"export" yaml:"export" envPrefix:"EXPORT_"`
	Logging LoggingConfig `json:"logging" yaml:"logging" envPrefix:"LOG_"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics" envPrefix:"METRICS_"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Addr string `json:"addr" yaml:"addr" env:"ADDR"`

	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout" env:"IDLE_TIMEOUT"`

	// ShutdownTimeout bounds how long in-flight requests may drain on stop
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// GRPCConfig holds gRPC health server configuration.
type GRPCConfig struct {
	Addr    string `json:"addr" yaml:"addr" env:"ADDR"`
	Enabled bool   `json:"enabled" yaml:"enabled" env:"ENABLED"`
}

// StoreConfig selects and tunes the event store.
type StoreConfig struct {
	// Driver is the store implementation: sqlite, memory
	Driver string `json:"driver" yaml:"driver" env:"DRIVER"`

	// Path is the SQLite database file (defaults to DataDir/events.db)
	Path string `json:"path" yaml:"path" env:"PATH"`

	// ReadPoolSize is the maximum number of SQLite read connections
	ReadPoolSize int `json:"read_pool_size" yaml:"read_pool_size" env:"READ_POOL_SIZE"`

	BusyTimeout time.Duration `json:"busy_timeout" yaml:"busy_timeout" env:"BUSY_TIMEOUT"`
}

// QueryConfig holds the pagination ceilings and defaults of the query façade.
type QueryConfig struct {
	DefaultPageSize   int `json:"default_page_size" yaml:"default_page_size" env:"DEFAULT_PAGE_SIZE"`
	MaxPageSize       int `json:"max_page_size" yaml:"max_page_size" env:"MAX_PAGE_SIZE"`
	DefaultTopN       int `json:"default_top_n" yaml:"default_top_n" env:"DEFAULT_TOP_N"`
	MaxTopN           int `json:"max_top_n" yaml:"max_top_n" env:"MAX_TOP_N"`
	DefaultRangeLimit int `json:"default_range_limit" yaml:"default_range_limit" env:"DEFAULT_RANGE_LIMIT"`

	// Timeout bounds a single façade call; zero disables it
	Timeout time.Duration `json:"timeout" yaml:"timeout" env:"TIMEOUT"`
}

// TenancyConfig controls project scoping.
type TenancyConfig struct {
	// Enabled requires every aggregation call to name a project
	Enabled bool `json:"enabled" yaml:"enabled" env:"ENABLED"`
}

// Cache backends.
const (
	CacheRedis  = "redis"
	CacheMemory = "memory"
)

// CacheConfig holds the aggregate cache configuration.
type CacheConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled" env:"ENABLED"`

	// Backend is the cache implementation: redis, memory
	Backend string `json:"backend" yaml:"backend" env:"BACKEND"`

	// MaxBytes bounds the memory backend
	MaxBytes int64 `json:"max_bytes" yaml:"max_bytes" env:"MAX_BYTES"`

	Addr      string        `json:"addr" yaml:"addr" env:"REDIS_ADDR"`
	Password  string        `json:"password" yaml:"password" env:"REDIS_PASSWORD"`
	DB        int           `json:"db" yaml:"db" env:"REDIS_DB"`
	TTL       time.Duration `json:"ttl" yaml:"ttl" env:"TTL"`
	KeyPrefix string        `json:"key_prefix" yaml:"key_prefix" env:"KEY_PREFIX"`
}

// ExportConfig holds object storage configuration for event exports.
type ExportConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type" env:"STORAGE_TYPE"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path" env:"STORAGE_PATH"`

	// KeyPrefix is prepended to every exported object path
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix" env:"KEY_PREFIX"`

	S3 S3Config `json:"s3" yaml:"s3" envPrefix:"S3_"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	Bucket string `json:"bucket" yaml:"bucket" env:"BUCKET"`
	Region string `json:"region" yaml:"region" env:"REGION"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint     string `json:"endpoint" yaml:"endpoint" env:"ENDPOINT"`
	UsePathStyle bool   `json:"use_path_style" yaml:"use_path_style" env:"USE_PATH_STYLE"`
}

// LoggingConfig holds log output configuration.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" env:"LEVEL"`
	Format string `json:"format" yaml:"format" env:"FORMAT"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled" env:"ENABLED"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/eventlens",
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		GRPC: GRPCConfig{
			Addr:    ":9090",
			Enabled: false,
		},
		Store: StoreConfig{
			Driver:       DriverSQLite,
			ReadPoolSize: 8,
			BusyTimeout:  5 * time.Second,
		},
		Query: QueryConfig{
			DefaultPageSize:   100,
			MaxPageSize:       1000,
			DefaultTopN:       10,
			MaxTopN:           100,
			DefaultRangeLimit: 1000,
			Timeout:           30 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:   false,
			Backend:   CacheRedis,
			MaxBytes:  64 << 20,
			Addr:      "localhost:6379",
			TTL:       time.Minute,
			KeyPrefix: "eventlens",
		},
		Export: ExportConfig{
			Type:      "local",
			KeyPrefix: "exports",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/eventlens"
	}
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(c.DataDir, "events.db")
	}
	if c.Export.Path == "" {
		c.Export.Path = filepath.Join(c.DataDir, "exports")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	switch c.Store.Driver {
	case DriverSQLite, DriverMemory:
	default:
		return fmt.Errorf("invalid store driver: %s (must be sqlite or memory)", c.Store.Driver)
	}
	if c.Store.Driver == DriverSQLite && c.Store.ReadPoolSize < 1 {
		return fmt.Errorf("store.read_pool_size must be at least 1, got %d", c.Store.ReadPoolSize)
	}

	q := c.Query
	if q.MaxPageSize < 1 || q.MaxTopN < 1 {
		return fmt.Errorf("query.max_page_size and query.max_top_n must be positive")
	}
	if q.DefaultPageSize < 0 || q.DefaultPageSize > q.MaxPageSize {
		return fmt.Errorf("query.default_page_size must be between 0 and %d, got %d", q.MaxPageSize, q.DefaultPageSize)
	}
	if q.DefaultTopN < 0 || q.DefaultTopN > q.MaxTopN {
		return fmt.Errorf("query.default_top_n must be between 0 and %d, got %d", q.MaxTopN, q.DefaultTopN)
	}
	if q.DefaultRangeLimit < 0 || q.DefaultRangeLimit > q.MaxPageSize {
		return fmt.Errorf("query.default_range_limit must be between 0 and %d, got %d", q.MaxPageSize, q.DefaultRangeLimit)
	}
	if q.Timeout < 0 {
		return fmt.Errorf("query.timeout must not be negative")
	}

	if c.Cache.Enabled {
		switch c.Cache.Backend {
		case CacheRedis:
			if c.Cache.Addr == "" {
				return fmt.Errorf("cache.addr is required for the redis cache")
			}
		case CacheMemory:
		default:
			return fmt.Errorf("invalid cache backend: %s (must be redis or memory)", c.Cache.Backend)
		}
	}

	if c.Export.Type != "local" && c.Export.Type != "s3" {
		return fmt.Errorf("invalid export storage type: %s (must be local or s3)", c.Export.Type)
	}
	if c.Export.Type == "s3" && c.Export.S3.Bucket == "" {
		return fmt.Errorf("export.s3.bucket is required when export storage type is s3")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid logging format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv overlays environment variables onto cfg.
// Variables use the EVENTLENS_ prefix, e.g. EVENTLENS_STORE_DRIVER.
// Unset variables leave the existing value untouched.
func LoadFromEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir}
	if c.Store.Driver == DriverSQLite {
		dirs = append(dirs, filepath.Dir(c.Store.Path))
	}
	if c.Export.Type == "local" {
		dirs = append(dirs, c.Export.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
