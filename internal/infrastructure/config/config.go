package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App          AppConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Log          LogConfig
	HTTP         HTTPConfig
	Telemetry    TelemetryConfig
	Gateway      GatewayConfig
	Notification NotificationConfig
	Reconciler   ReconcilerConfig
	Statistics   StatisticsConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings. An empty host disables Redis.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxHeaderBytes  int
	MaxBodySize     int64
	TrustedProxies  []string
	CORSOrigins     []string
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string
	Insecure          bool // Use insecure (non-TLS) connection (development only)
	MetricsEnabled    bool
	MetricsInterval   time.Duration
	LogsEnabled       bool // Also export zap logs over OTLP
	DBTraceEnabled    bool
	DBLogFullSQL      bool // Log full SQL statements (dev only)
	DBSlowQueryThresh time.Duration
}

// GatewayConfig configures the payment gateways refunds can be paid through
type GatewayConfig struct {
	Razorpay RazorpayConfig
	Sandbox  SandboxConfig
}

// RazorpayConfig holds the Razorpay API credentials. The gateway is
// registered only when a key id is set.
type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	BaseURL       string
	Timeout       time.Duration
	MaxRetries    uint64
	RetryInterval time.Duration
	Speed         string
}

// Enabled reports whether Razorpay credentials are configured
func (c RazorpayConfig) Enabled() bool {
	return c.KeyID != ""
}

// SandboxConfig configures the in-memory development gateway
type SandboxConfig struct {
	Enabled     bool
	SettleAfter time.Duration
}

// NotificationConfig configures where refund notifications are delivered
type NotificationConfig struct {
	AMQPURL        string // empty = log only
	Exchange       string
	Queue          string
	AsyncWorkers   int
	IdempotencyTTL time.Duration
}

// ReconcilerConfig configures the sweep of refund transactions stuck in processing
type ReconcilerConfig struct {
	Enabled      bool
	PollInterval time.Duration
	StuckAfter   time.Duration
	BatchSize    int
}

// StatisticsConfig configures the refund statistics cache
type StatisticsConfig struct {
	CacheTTL time.Duration
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with ERP_ prefix (e.g., ERP_GATEWAY_RAZORPAY_KEY_SECRET)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("ERP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:     v.GetDuration("http.read_timeout"),
			WriteTimeout:    v.GetDuration("http.write_timeout"),
			IdleTimeout:     v.GetDuration("http.idle_timeout"),
			ShutdownTimeout: v.GetDuration("http.shutdown_timeout"),
			MaxHeaderBytes:  v.GetInt("http.max_header_bytes"),
			MaxBodySize:     v.GetInt64("http.max_body_size"),
			TrustedProxies:  v.GetStringSlice("http.trusted_proxies"),
			CORSOrigins:     v.GetStringSlice("http.cors_origins"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsEnabled:    v.GetBool("telemetry.metrics_enabled"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:      v.GetBool("telemetry.db_log_full_sql"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
		},
		Gateway: GatewayConfig{
			Razorpay: RazorpayConfig{
				KeyID:         v.GetString("gateway.razorpay.key_id"),
				KeySecret:     v.GetString("gateway.razorpay.key_secret"),
				BaseURL:       v.GetString("gateway.razorpay.base_url"),
				Timeout:       v.GetDuration("gateway.razorpay.timeout"),
				MaxRetries:    v.GetUint64("gateway.razorpay.max_retries"),
				RetryInterval: v.GetDuration("gateway.razorpay.retry_interval"),
				Speed:         v.GetString("gateway.razorpay.speed"),
			},
			Sandbox: SandboxConfig{
				Enabled:     v.GetBool("gateway.sandbox.enabled"),
				SettleAfter: v.GetDuration("gateway.sandbox.settle_after"),
			},
		},
		Notification: NotificationConfig{
			AMQPURL:        v.GetString("notification.amqp_url"),
			Exchange:       v.GetString("notification.exchange"),
			Queue:          v.GetString("notification.queue"),
			AsyncWorkers:   v.GetInt("notification.async_workers"),
			IdempotencyTTL: v.GetDuration("notification.idempotency_ttl"),
		},
		Reconciler: ReconcilerConfig{
			Enabled:      v.GetBool("reconciler.enabled"),
			PollInterval: v.GetDuration("reconciler.poll_interval"),
			StuckAfter:   v.GetDuration("reconciler.stuck_after"),
			BatchSize:    v.GetInt("reconciler.batch_size"),
		},
		Statistics: StatisticsConfig{
			CacheTTL: v.GetDuration("statistics.cache_ttl"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers built-in defaults. Environment variables only
// override keys viper knows about, so every key is listed here.
func setDefaults(v *viper.Viper) {
	defaults := map[string]any{
		"app.name": "refund-settlement",
		"app.env":  "development",
		"app.port": "8080",

		"database.host":               "localhost",
		"database.port":               5432,
		"database.user":               "postgres",
		"database.password":           "",
		"database.dbname":             "settlement",
		"database.sslmode":            "disable",
		"database.max_open_conns":     25,
		"database.max_idle_conns":     5,
		"database.conn_max_lifetime":  60,
		"database.conn_max_idle_time": 30,

		"redis.host":     "",
		"redis.port":     6379,
		"redis.password": "",
		"redis.db":       0,

		"log.level":  "info",
		"log.format": "console",
		"log.output": "stdout",

		"http.read_timeout":     15 * time.Second,
		"http.write_timeout":    15 * time.Second,
		"http.idle_timeout":     60 * time.Second,
		"http.shutdown_timeout": 30 * time.Second,
		"http.max_header_bytes": 1 << 20,
		"http.max_body_size":    1 << 20,
		"http.trusted_proxies":  []string{},
		"http.cors_origins":     []string{},

		"telemetry.enabled":                 false,
		"telemetry.collector_endpoint":      "localhost:4317",
		"telemetry.sampling_ratio":          1.0,
		"telemetry.service_name":            "refund-settlement",
		"telemetry.insecure":                false,
		"telemetry.metrics_enabled":         false,
		"telemetry.metrics_interval":        60 * time.Second,
		"telemetry.logs_enabled":            false,
		"telemetry.db_trace_enabled":        false,
		"telemetry.db_log_full_sql":         false,
		"telemetry.db_slow_query_threshold": 200 * time.Millisecond,

		"gateway.razorpay.key_id":         "",
		"gateway.razorpay.key_secret":     "",
		"gateway.razorpay.base_url":       "",
		"gateway.razorpay.timeout":        30 * time.Second,
		"gateway.razorpay.max_retries":    3,
		"gateway.razorpay.retry_interval": 200 * time.Millisecond,
		"gateway.razorpay.speed":          "normal",
		"gateway.sandbox.enabled":         false,
		"gateway.sandbox.settle_after":    time.Duration(0),

		"notification.amqp_url":        "",
		"notification.exchange":        "",
		"notification.queue":           "refund.notifications",
		"notification.async_workers":   4,
		"notification.idempotency_ttl": 24 * time.Hour,

		"reconciler.enabled":       true,
		"reconciler.poll_interval": time.Minute,
		"reconciler.stuck_after":   10 * time.Minute,
		"reconciler.batch_size":    50,

		"statistics.cache_ttl": 30 * time.Second,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if c.Gateway.Razorpay.Enabled() && c.Gateway.Razorpay.KeySecret == "" {
		return fmt.Errorf("gateway.razorpay.key_secret is required when gateway.razorpay.key_id is set")
	}
	if c.Notification.AMQPURL != "" && c.Notification.Queue == "" && c.Notification.Exchange == "" {
		return fmt.Errorf("notification.queue or notification.exchange is required when notification.amqp_url is set")
	}
	if c.Reconciler.Enabled {
		if c.Reconciler.PollInterval <= 0 {
			return fmt.Errorf("reconciler.poll_interval must be positive")
		}
		if c.Reconciler.StuckAfter <= 0 {
			return fmt.Errorf("reconciler.stuck_after must be positive")
		}
	}

	if c.App.Env == "production" {
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Gateway.Sandbox.Enabled {
			return fmt.Errorf("gateway.sandbox.enabled must be false in production")
		}
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production to prevent sensitive data exposure in traces")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}
	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
