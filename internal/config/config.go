package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/orrn/printq/internal/core"
)

const EnvPrefix = "PRINTQ_"

type Config struct {
	Server   ServerConfig   `yaml:"server" envPrefix:"SERVER_"`
	Queue    QueueConfig    `yaml:"queue" envPrefix:"QUEUE_"`
	Printers PrintersConfig `yaml:"printers" envPrefix:"PRINTERS_"`
	Storage  StorageConfig  `yaml:"storage" envPrefix:"STORAGE_"`
	Webhooks WebhooksConfig `yaml:"webhooks" envPrefix:"WEBHOOKS_"`
	Slip     SlipConfig     `yaml:"slip" envPrefix:"SLIP_"`
	Logging  LoggingConfig  `yaml:"logging" envPrefix:"LOG_"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" env:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

type QueueConfig struct {
	MaxRetry      int           `yaml:"max_retry" env:"MAX_RETRY"`
	Capacity      int           `yaml:"queue_capacity" env:"CAPACITY"`
	OfferTimeout  time.Duration `yaml:"offer_timeout" env:"OFFER_TIMEOUT"`
	TickInterval  time.Duration `yaml:"tick_interval" env:"TICK_INTERVAL"`
	BackoffBase   time.Duration `yaml:"backoff_base" env:"BACKOFF_BASE"`
	JitterCeiling time.Duration `yaml:"jitter_ceiling" env:"JITTER_CEILING"`
	MaxBackoff    time.Duration `yaml:"max_backoff" env:"MAX_BACKOFF"`
	WorkerCount   int           `yaml:"worker_count" env:"WORKER_COUNT"`
	WorkerBacklog int           `yaml:"worker_backlog" env:"WORKER_BACKLOG"`
}

// PrintersConfig lists the raw TCP printers. A negative HealthCheckInterval
// turns the background status probe off.
type PrintersConfig struct {
	Default             string          `yaml:"default" env:"DEFAULT"`
	HealthCheckInterval time.Duration   `yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
	ConnectionTimeout   time.Duration   `yaml:"connection_timeout" env:"CONNECTION_TIMEOUT"`
	Devices             []PrinterDevice `yaml:"devices" envPrefix:"DEVICES_"`
}

// PrinterDevice is a raw TCP printer. Address is host or host:port; the port
// defaults to 9100.
type PrinterDevice struct {
	Name        string `yaml:"name" env:"NAME"`
	Address     string `yaml:"address" env:"ADDRESS"`
	Encoding    string `yaml:"encoding" env:"ENCODING"`
	StatusCheck bool   `yaml:"status_check" env:"STATUS_CHECK"`
}

// StorageConfig selects the task store. Finished tasks older than Retention
// are pruned every PruneInterval; a zero Retention keeps them forever.
type StorageConfig struct {
	Backend       string        `yaml:"backend" env:"BACKEND"`
	Path          string        `yaml:"path" env:"PATH"`
	Retention     time.Duration `yaml:"retention" env:"RETENTION"`
	PruneInterval time.Duration `yaml:"prune_interval" env:"PRUNE_INTERVAL"`
}

// SlipConfig controls the delivery slips rendered from order data.
type SlipConfig struct {
	Heading string `yaml:"heading" env:"HEADING"`
	Brand   string `yaml:"brand" env:"BRAND"`
}

type WebhooksConfig struct {
	Timeout     time.Duration     `yaml:"timeout" env:"TIMEOUT"`
	RetryCount  int               `yaml:"retry_count" env:"RETRY_COUNT"`
	RetryDelay  time.Duration     `yaml:"retry_delay" env:"RETRY_DELAY"`
	WorkerCount int               `yaml:"worker_count" env:"WORKER_COUNT"`
	QueueSize   int               `yaml:"queue_size" env:"QUEUE_SIZE"`
	Endpoints   []WebhookEndpoint `yaml:"endpoints" envPrefix:"ENDPOINTS_"`
}

type WebhookEndpoint struct {
	URL    string   `yaml:"url" env:"URL"`
	Secret string   `yaml:"secret" env:"SECRET"`
	Events []string `yaml:"events" env:"EVENTS" envSeparator:","`
}

type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
)

func defaults() *Config {
	q := core.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Queue: QueueConfig{
			MaxRetry:      q.MaxRetry,
			Capacity:      q.QueueCapacity,
			OfferTimeout:  q.OfferTimeout,
			TickInterval:  q.TickInterval,
			BackoffBase:   q.BackoffBase,
			JitterCeiling: q.JitterCeiling,
			MaxBackoff:    q.MaxBackoff,
			WorkerCount:   q.WorkerCount,
			WorkerBacklog: q.WorkerBacklog,
		},
		Printers: PrintersConfig{
			HealthCheckInterval: 30 * time.Second,
			ConnectionTimeout:   10 * time.Second,
		},
		Storage: StorageConfig{
			Backend:       BackendSQLite,
			Path:          "./data/printq.db",
			Retention:     30 * 24 * time.Hour,
			PruneInterval: 24 * time.Hour,
		},
		Webhooks: WebhooksConfig{
			Timeout:     10 * time.Second,
			RetryCount:  3,
			RetryDelay:  5 * time.Second,
			WorkerCount: 2,
			QueueSize:   100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaults()
}

// Load reads the YAML file at configPath on top of the defaults. A missing
// file is not an error.
func Load(configPath string) (*Config, error) {
	cfg := defaults()
	if configPath == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// LoadEnvFiles loads dotenv files into the process environment. Variables
// already set are kept, and missing files are skipped.
func LoadEnvFiles(paths ...string) error {
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", path, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from PRINTQ_* environment variables. Unset
// variables leave the current value untouched.
func (c *Config) ApplyEnv() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	return nil
}

// LoadWithEnv loads the YAML file, then the dotenv files, then applies the
// environment on top.
func LoadWithEnv(configPath string, envFiles ...string) (*Config, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := LoadEnvFiles(envFiles...); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Core converts the queue section to the scheduler configuration.
func (c *Config) Core() core.Config {
	return core.Config{
		MaxRetry:      c.Queue.MaxRetry,
		QueueCapacity: c.Queue.Capacity,
		OfferTimeout:  c.Queue.OfferTimeout,
		TickInterval:  c.Queue.TickInterval,
		BackoffBase:   c.Queue.BackoffBase,
		JitterCeiling: c.Queue.JitterCeiling,
		MaxBackoff:    c.Queue.MaxBackoff,
		WorkerCount:   c.Queue.WorkerCount,
		WorkerBacklog: c.Queue.WorkerBacklog,
	}
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("server read timeout must be non-negative")
	}

	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server write timeout must be non-negative")
	}

	if c.Queue.MaxRetry < 0 {
		return fmt.Errorf("max retry must be non-negative")
	}

	if c.Queue.Capacity < 1 {
		return fmt.Errorf("queue capacity must be at least 1")
	}

	if c.Queue.OfferTimeout < 0 {
		return fmt.Errorf("offer timeout must be non-negative")
	}

	if c.Queue.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive")
	}

	if c.Queue.BackoffBase < 0 || c.Queue.JitterCeiling < 0 || c.Queue.MaxBackoff < 0 {
		return fmt.Errorf("backoff durations must be non-negative")
	}

	if c.Queue.WorkerCount < 1 {
		return fmt.Errorf("worker count must be at least 1")
	}

	if c.Queue.WorkerBacklog < 1 {
		return fmt.Errorf("worker backlog must be at least 1")
	}

	if c.Printers.ConnectionTimeout < 0 {
		return fmt.Errorf("connection timeout must be non-negative")
	}

	names := make(map[string]bool, len(c.Printers.Devices))
	for i, d := range c.Printers.Devices {
		if d.Name == "" {
			return fmt.Errorf("printer %d: name is required", i)
		}
		if d.Address == "" {
			return fmt.Errorf("printer %s: address is required", d.Name)
		}
		if names[d.Name] {
			return fmt.Errorf("printer %s: duplicate name", d.Name)
		}
		names[d.Name] = true
	}

	if c.Printers.Default != "" && !names[c.Printers.Default] {
		return fmt.Errorf("default printer %s is not configured", c.Printers.Default)
	}

	switch c.Storage.Backend {
	case BackendSQLite, BackendBolt:
	default:
		return fmt.Errorf("invalid storage backend: %s (valid: sqlite, bolt)", c.Storage.Backend)
	}

	if c.Storage.Path == "" {
		return fmt.Errorf("storage path is required")
	}

	if c.Storage.Retention < 0 {
		return fmt.Errorf("storage retention must be non-negative")
	}

	if c.Storage.Retention > 0 && c.Storage.PruneInterval <= 0 {
		return fmt.Errorf("prune interval must be positive when retention is set")
	}

	if c.Webhooks.RetryCount < 0 {
		return fmt.Errorf("webhook retry count must be non-negative")
	}

	for i, ep := range c.Webhooks.Endpoints {
		if ep.URL == "" {
			return fmt.Errorf("webhook endpoint %d: url is required", i)
		}
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json":  true,
		"text":  true,
		"plain": true,
	}

	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, text, plain)", c.Logging.Format)
	}

	return nil
}
