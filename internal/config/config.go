// Package config provides configuration loading for the relay service.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the relay service
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Klaviyo      KlaviyoConfig      `mapstructure:"klaviyo"`
	Dispatch     DispatchConfig     `mapstructure:"dispatch"`
	Analytics    AnalyticsConfig    `mapstructure:"analytics"`
	Retention    RetentionConfig    `mapstructure:"retention"`
	ProfileCache ProfileCacheConfig `mapstructure:"profile_cache"`
	NATS         NATSConfig         `mapstructure:"nats"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Postgres      PostgresConfig `mapstructure:"postgres"`
	MigrationsDir string         `mapstructure:"migrations_dir"`
}

// PostgresConfig holds PostgreSQL connection settings
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
}

// ConnString renders the settings as a postgres:// URL usable by pgx and migrate.
func (p PostgresConfig) ConnString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     fmt.Sprintf("%s:%d", p.Host, p.Port),
		Path:     "/" + p.Database,
		RawQuery: "sslmode=" + p.SSLMode,
	}
	return u.String()
}

// KlaviyoConfig holds the remote API client settings.
type KlaviyoConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	APIKey   string        `mapstructure:"api_key"`
	Revision string        `mapstructure:"revision"`
	Timeout  time.Duration `mapstructure:"timeout"`
	PageSize int           `mapstructure:"page_size"`
	MaxPages int           `mapstructure:"max_pages"`
	Retry    RetryConfig   `mapstructure:"retry"`
}

// RetryConfig controls the transient-failure retry policy.
type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	WaitStep   time.Duration `mapstructure:"wait_step"`
}

// DispatchConfig controls outbound event submission.
type DispatchConfig struct {
	// PerItemIsolation submits bulk items independently when true, and as one
	// transactional bulk job when false.
	PerItemIsolation bool `mapstructure:"per_item_isolation"`
}

// AnalyticsConfig controls the aggregation engine.
type AnalyticsConfig struct {
	MetricConcurrency int `mapstructure:"metric_concurrency"`
	FullScanMaxEvents int `mapstructure:"full_scan_max_events"`
}

// RetentionConfig controls the local log sweep.
type RetentionConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Days     int    `mapstructure:"days"`
	Schedule string `mapstructure:"schedule"`
}

// ProfileCacheConfig controls the optional shared email cache.
type ProfileCacheConfig struct {
	Redis RedisConfig   `mapstructure:"redis"`
	TTL   time.Duration `mapstructure:"ttl"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	URL     string `mapstructure:"url"`
	Enabled bool   `mapstructure:"enabled"`
}

// NATSConfig holds NATS message broker configuration
type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	Enabled       bool          `mapstructure:"enabled"`
	Subject       string        `mapstructure:"subject"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
// Environment variables use the RELAY prefix, e.g. RELAY_KLAVIYO_API_KEY.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/klaviyo-relay")
	}

	v.SetEnvPrefix("RELAY")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		// Only fail if a specific config path was given
		if configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.idle_timeout", "60s")

	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "relay")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.database", "klaviyo_relay")
	v.SetDefault("database.postgres.sslmode", "disable")
	v.SetDefault("database.migrations_dir", "migrations")

	v.SetDefault("klaviyo.base_url", "https://a.klaviyo.com/api/")
	v.SetDefault("klaviyo.api_key", "")
	v.SetDefault("klaviyo.revision", "2023-06-15")
	v.SetDefault("klaviyo.timeout", "5s")
	v.SetDefault("klaviyo.page_size", 100)
	v.SetDefault("klaviyo.max_pages", 1000)
	v.SetDefault("klaviyo.retry.max_retries", 3)
	v.SetDefault("klaviyo.retry.wait_step", "1s")

	v.SetDefault("dispatch.per_item_isolation", true)

	v.SetDefault("analytics.metric_concurrency", 1)
	v.SetDefault("analytics.full_scan_max_events", 0)

	v.SetDefault("retention.enabled", true)
	v.SetDefault("retention.days", 7)
	v.SetDefault("retention.schedule", "0 1 * * *")

	v.SetDefault("profile_cache.redis.enabled", false)
	v.SetDefault("profile_cache.redis.url", "redis://localhost:6379/0")
	v.SetDefault("profile_cache.ttl", "10m")

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.subject", "relay.events.dispatched")
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", "2s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks the settings a running relay cannot do without.
func (c *Config) Validate() error {
	var errs []error
	if c.Klaviyo.APIKey == "" {
		errs = append(errs, errors.New("klaviyo.api_key is required"))
	}
	if c.Klaviyo.BaseURL == "" {
		errs = append(errs, errors.New("klaviyo.base_url is required"))
	}
	if c.Klaviyo.PageSize < 1 || c.Klaviyo.PageSize > 100 {
		errs = append(errs, fmt.Errorf("klaviyo.page_size must be between 1 and 100, got %d", c.Klaviyo.PageSize))
	}
	if c.Klaviyo.Retry.MaxRetries < 0 {
		errs = append(errs, errors.New("klaviyo.retry.max_retries must not be negative"))
	}
	if c.Retention.Days < 0 {
		errs = append(errs, errors.New("retention.days must not be negative"))
	}
	if c.Analytics.MetricConcurrency < 1 {
		errs = append(errs, errors.New("analytics.metric_concurrency must be at least 1"))
	}
	return errors.Join(errs...)
}
