package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/fieldperm/pkg/observability"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Checker       CheckerConfig       `yaml:"checker"`
	Scan          ScanConfig          `yaml:"scan"`
	Audit         AuditConfig         `yaml:"audit"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration for the health and metrics listener
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// RedisConfig holds the cache invalidation target. An empty URL disables it.
type RedisConfig struct {
	URL        string `yaml:"url"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	MaxRetries int    `yaml:"max_retries"`
	PoolSize   int    `yaml:"pool_size"`
}

// Enabled reports whether Redis invalidation is configured
func (r RedisConfig) Enabled() bool {
	return r.URL != ""
}

// CheckerConfig sizes the in-process permission check cache. A zero TTL disables it.
type CheckerConfig struct {
	CacheTTL  time.Duration `yaml:"cache_ttl"`
	CacheSize int           `yaml:"cache_size"`
}

// ScanConfig controls the scheduled drift scan run by serve
type ScanConfig struct {
	Schedule    string `yaml:"schedule"`
	Concurrency int    `yaml:"concurrency"`
}

// AuditConfig selects audit sinks
type AuditConfig struct {
	Database bool `yaml:"database"`
	Log      bool `yaml:"log"`
	// Retention is how long serve keeps database audit events. Zero keeps them forever.
	Retention time.Duration `yaml:"retention"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	MetricsEnabled bool `yaml:"metrics_enabled"`

	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"`
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// Level parses the configured log level
func (o ObservabilityConfig) Level() observability.LogLevel {
	level, err := observability.ParseLogLevel(o.LogLevel)
	if err != nil {
		return observability.InfoLevel
	}
	return level
}

// OTel converts the settings for observability.InitTracing
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "9090",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			MaxRetries: 3,
			PoolSize:   10,
		},
		Checker: CheckerConfig{
			CacheTTL:  30 * time.Second,
			CacheSize: 10000,
		},
		Scan: ScanConfig{
			Schedule:    "@every 1h",
			Concurrency: 8,
		},
		Audit: AuditConfig{
			Database:  true,
			Log:       true,
			Retention: 90 * 24 * time.Hour,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			LogFormat:          observability.FormatJSON,
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "fieldperm",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1,
		},
	}
}

// LoadConfig builds the configuration from defaults, the optional YAML file named
// by FIELDPERM_CONFIG_FILE, and FIELDPERM_* environment variables, in that order
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("FIELDPERM_CONFIG_FILE"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadFile overlays the YAML file at path onto c. Keys absent from the file keep their values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	s := &c.Server
	s.Host = getEnv("FIELDPERM_HOST", s.Host)
	s.Port = getEnv("FIELDPERM_PORT", s.Port)
	s.ReadTimeout = getEnvDuration("FIELDPERM_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("FIELDPERM_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("FIELDPERM_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("FIELDPERM_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)

	d := &c.Database
	d.URL = getEnv("FIELDPERM_DATABASE_URL", d.URL)
	d.MaxOpenConns = getEnvInt("FIELDPERM_DATABASE_MAX_OPEN_CONNS", d.MaxOpenConns)
	d.MaxIdleConns = getEnvInt("FIELDPERM_DATABASE_MAX_IDLE_CONNS", d.MaxIdleConns)
	d.ConnMaxLifetime = getEnvDuration("FIELDPERM_DATABASE_CONN_MAX_LIFETIME", d.ConnMaxLifetime)
	d.AutoMigrate = getEnvBool("FIELDPERM_DATABASE_AUTO_MIGRATE", d.AutoMigrate)

	r := &c.Redis
	r.URL = getEnv("FIELDPERM_REDIS_URL", r.URL)
	r.Password = getEnv("FIELDPERM_REDIS_PASSWORD", r.Password)
	r.DB = getEnvInt("FIELDPERM_REDIS_DB", r.DB)
	r.MaxRetries = getEnvInt("FIELDPERM_REDIS_MAX_RETRIES", r.MaxRetries)
	r.PoolSize = getEnvInt("FIELDPERM_REDIS_POOL_SIZE", r.PoolSize)

	c.Checker.CacheTTL = getEnvDuration("FIELDPERM_CHECKER_CACHE_TTL", c.Checker.CacheTTL)
	c.Checker.CacheSize = getEnvInt("FIELDPERM_CHECKER_CACHE_SIZE", c.Checker.CacheSize)

	c.Scan.Schedule = getEnv("FIELDPERM_SCAN_SCHEDULE", c.Scan.Schedule)
	c.Scan.Concurrency = getEnvInt("FIELDPERM_SCAN_CONCURRENCY", c.Scan.Concurrency)

	c.Audit.Database = getEnvBool("FIELDPERM_AUDIT_DATABASE", c.Audit.Database)
	c.Audit.Log = getEnvBool("FIELDPERM_AUDIT_LOG", c.Audit.Log)
	c.Audit.Retention = getEnvDuration("FIELDPERM_AUDIT_RETENTION", c.Audit.Retention)

	o := &c.Observability
	o.LogLevel = getEnv("FIELDPERM_LOG_LEVEL", o.LogLevel)
	o.LogFormat = getEnv("FIELDPERM_LOG_FORMAT", o.LogFormat)
	o.MetricsEnabled = getEnvBool("FIELDPERM_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("FIELDPERM_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("FIELDPERM_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("FIELDPERM_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("FIELDPERM_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("FIELDPERM_OTEL_INSECURE", o.OTelInsecure)
	o.OTelSampleRatio = getEnvFloat("FIELDPERM_OTEL_SAMPLE_RATIO", o.OTelSampleRatio)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if c.Database.URL != "" && !strings.HasPrefix(c.Database.URL, "postgres://") && !strings.HasPrefix(c.Database.URL, "postgresql://") {
		return fmt.Errorf("database URL must be a postgres:// URL")
	}
	if c.Database.MaxOpenConns < 0 || c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database connection limits must not be negative")
	}

	if c.Checker.CacheTTL < 0 {
		return fmt.Errorf("checker cache TTL must not be negative")
	}
	if c.Checker.CacheTTL > 0 && c.Checker.CacheSize <= 0 {
		return fmt.Errorf("checker cache size must be positive when the cache is enabled")
	}

	if c.Scan.Concurrency <= 0 {
		return fmt.Errorf("scan concurrency must be positive")
	}
	if c.Scan.Schedule != "" {
		if _, err := cron.ParseStandard(c.Scan.Schedule); err != nil {
			return fmt.Errorf("invalid scan schedule %q: %w", c.Scan.Schedule, err)
		}
	}

	if c.Audit.Retention < 0 {
		return fmt.Errorf("audit retention must not be negative")
	}

	if _, err := observability.ParseLogLevel(c.Observability.LogLevel); err != nil {
		return err
	}
	switch c.Observability.LogFormat {
	case observability.FormatJSON, observability.FormatText:
	default:
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Observability.LogFormat)
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
