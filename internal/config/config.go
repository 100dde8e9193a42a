// Package config provides configuration management for the user directory.
// Configuration can be loaded from YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/prn-tf/userdir/internal/store"
	"github.com/prn-tf/userdir/internal/store/encrypted"
)

// Config represents the complete application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Store      StoreConfig      `mapstructure:"store"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Lock       LockConfig       `mapstructure:"lock"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
	Calculator CalculatorConfig `mapstructure:"calculator"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodySize     int64         `mapstructure:"max_body_size"`
}

// Addr returns the listen address in host:port format.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StoreConfig selects and configures the snapshot store.
type StoreConfig struct {
	// Backend is one of store.Backends.
	Backend string `mapstructure:"backend"`

	// Key is the store key the directory snapshot lives under.
	Key string `mapstructure:"key"`

	// Dir is the base directory of the file backend.
	Dir string `mapstructure:"dir"`

	// RedisKeyPrefix is prepended to keys by the redis backend.
	RedisKeyPrefix string `mapstructure:"redis_key_prefix"`

	S3 S3Config `mapstructure:"s3"`

	// EncryptionKey is an optional hex-encoded 32-byte master key. When set,
	// snapshots are sealed with AES-256-GCM before they reach the backend.
	EncryptionKey string `mapstructure:"encryption_key"`
}

// GetEncryptionKey decodes EncryptionKey. It returns nil when encryption is off.
func (c StoreConfig) GetEncryptionKey() ([]byte, error) {
	if c.EncryptionKey == "" {
		return nil, nil
	}
	key, err := encrypted.ParseHexKey(c.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("store.encryption_key: %w", err)
	}
	return key, nil
}

// S3Config holds S3 backend settings.
type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
	Prefix          string `mapstructure:"prefix"`
}

// DatabaseConfig holds settings for the sqlite and postgres backends.
type DatabaseConfig struct {
	// PostgreSQL settings (used when store.backend is "postgres")
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`

	// SQLite settings (used when store.backend is "sqlite")
	Path            string `mapstructure:"path"`             // Path to SQLite database file
	JournalMode     string `mapstructure:"journal_mode"`     // WAL, DELETE, TRUNCATE, etc.
	BusyTimeout     int    `mapstructure:"busy_timeout"`     // Milliseconds to wait for locks
	CacheSize       int    `mapstructure:"cache_size"`       // Page cache size (negative = KB)
	SynchronousMode string `mapstructure:"synchronous_mode"` // NORMAL, FULL, OFF
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig holds Redis connection settings shared by the redis store
// and the redis locker.
type RedisConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// Addr returns the Redis address in host:port format.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Lock backends.
const (
	LockMemory = "memory"
	LockRedis  = "redis"
	LockNone   = "none"
)

// LockConfig controls how snapshot writes are serialized across processes.
type LockConfig struct {
	Backend    string        `mapstructure:"backend"`
	KeyPrefix  string        `mapstructure:"key_prefix"`
	TTL        time.Duration `mapstructure:"ttl"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	// Enabled determines if the metrics endpoint is served.
	Enabled bool `mapstructure:"enabled"`

	// Path is the URL path for the metrics endpoint.
	Path string `mapstructure:"path"`
}

// MonitorConfig holds activity monitor settings.
type MonitorConfig struct {
	// Enabled determines if the periodic activity sweep runs.
	Enabled bool `mapstructure:"enabled"`

	// Interval is how often to sweep.
	Interval time.Duration `mapstructure:"interval"`
}

// CalculatorConfig holds calculator settings.
type CalculatorConfig struct {
	// HistorySize bounds the number of remembered results per session.
	HistorySize int `mapstructure:"history_size"`

	// MaxSessions bounds the number of keypad sessions kept in memory.
	// The least recently used session is dropped to make room.
	MaxSessions int `mapstructure:"max_sessions"`

	// SessionTTL is how long an unused keypad session is kept. Zero keeps
	// sessions until they are evicted by MaxSessions.
	SessionTTL time.Duration `mapstructure:"session_ttl"`
}

// Load reads configuration from the specified file and environment variables.
// Environment variables take precedence over file values.
// Environment variables are prefixed with USERDIR_ and use _ as separator.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("USERDIR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/userdir")
	}

	// Config file is optional; defaults and env vars are enough.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.max_body_size", 1<<20) // 1MB

	// Store defaults
	v.SetDefault("store.backend", store.BackendFile)
	v.SetDefault("store.key", "usuariosDAO")
	v.SetDefault("store.dir", "./data/store")
	v.SetDefault("store.redis_key_prefix", "userdir:")
	v.SetDefault("store.encryption_key", "")
	v.SetDefault("store.s3.endpoint", "")
	v.SetDefault("store.s3.region", "us-east-1")
	v.SetDefault("store.s3.bucket", "")
	v.SetDefault("store.s3.access_key_id", "")
	v.SetDefault("store.s3.secret_access_key", "")
	v.SetDefault("store.s3.use_path_style", true)
	v.SetDefault("store.s3.prefix", "userdir")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "userdir")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "userdir")
	v.SetDefault("database.ssl_mode", "prefer")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.conn_max_idle_time", 5*time.Minute)
	v.SetDefault("database.path", "./data/userdir.db")
	v.SetDefault("database.journal_mode", "WAL")
	v.SetDefault("database.busy_timeout", 5000)
	v.SetDefault("database.cache_size", -2000)
	v.SetDefault("database.synchronous_mode", "NORMAL")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", 5*time.Second)

	// Lock defaults
	v.SetDefault("lock.backend", LockMemory)
	v.SetDefault("lock.key_prefix", "userdir:")
	v.SetDefault("lock.ttl", 10*time.Second)
	v.SetDefault("lock.max_retries", 50)
	v.SetDefault("lock.retry_delay", 20*time.Millisecond)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Monitor defaults
	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.interval", 1*time.Minute)

	// Calculator defaults
	v.SetDefault("calculator.history_size", 10)
	v.SetDefault("calculator.max_sessions", 1000)
	v.SetDefault("calculator.session_ttl", 30*time.Minute)
}

// Validate checks the configuration for required values and valid ranges.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	// Store
	if !slices.Contains(store.Backends, c.Store.Backend) {
		return fmt.Errorf("store.backend must be one of: %s", strings.Join(store.Backends, ", "))
	}
	if c.Store.Key == "" {
		return fmt.Errorf("store.key is required")
	}
	switch c.Store.Backend {
	case store.BackendFile:
		if c.Store.Dir == "" {
			return fmt.Errorf("store.dir is required for file backend")
		}
	case store.BackendSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite backend")
		}
	case store.BackendPostgres:
		if c.Database.Host == "" {
			return fmt.Errorf("database.host is required for postgres backend")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database.user is required for postgres backend")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database.database is required for postgres backend")
		}
	case store.BackendS3:
		if c.Store.S3.Bucket == "" {
			return fmt.Errorf("store.s3.bucket is required for s3 backend")
		}
		if c.Store.S3.Region == "" {
			return fmt.Errorf("store.s3.region is required for s3 backend")
		}
	}
	if _, err := c.Store.GetEncryptionKey(); err != nil {
		return err
	}

	// Lock
	switch c.Lock.Backend {
	case LockMemory, LockRedis, LockNone:
	default:
		return fmt.Errorf("lock.backend must be one of: memory, redis, none")
	}
	if c.Lock.TTL <= 0 {
		return fmt.Errorf("lock.ttl must be positive")
	}

	// Monitor
	if c.Monitor.Enabled && c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor.interval must be positive when the monitor is enabled")
	}

	// Calculator
	if c.Calculator.HistorySize < 1 {
		return fmt.Errorf("calculator.history_size must be at least 1")
	}
	if c.Calculator.MaxSessions < 1 {
		return fmt.Errorf("calculator.max_sessions must be at least 1")
	}
	if c.Calculator.SessionTTL < 0 {
		return fmt.Errorf("calculator.session_ttl must not be negative")
	}

	// Logging
	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error, fatal, panic")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console'")
	}

	return nil
}

// MustLoad loads configuration or panics on error.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}
