package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. BOOKING_DATABASE_HOST.
const EnvPrefix = "BOOKING"

type Config struct {
	Env           string              `mapstructure:"env" envconfig:"env"`
	Server        ServerConfig        `mapstructure:"server" envconfig:"server"`
	Database      DatabaseConfig      `mapstructure:"database" envconfig:"database"`
	Redis         RedisConfig         `mapstructure:"redis" envconfig:"redis"`
	Lock          LockConfig          `mapstructure:"lock" envconfig:"lock"`
	Generation    GenerationConfig    `mapstructure:"generation" envconfig:"generation"`
	Timezone      TimezoneConfig      `mapstructure:"timezone" envconfig:"timezone"`
	Messaging     MessagingConfig     `mapstructure:"messaging" envconfig:"messaging"`
	Outbox        OutboxConfig        `mapstructure:"outbox" envconfig:"outbox"`
	Notifications NotificationsConfig `mapstructure:"notifications" envconfig:"notifications"`
	SMTP          SMTPConfig          `mapstructure:"smtp" envconfig:"smtp"`
	RateLimit     RateLimitConfig     `mapstructure:"rate_limit" envconfig:"rate_limit"`
	JWT           JWTConfig           `mapstructure:"jwt" envconfig:"jwt"`
	Log           LogConfig           `mapstructure:"log" envconfig:"log"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port" envconfig:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" envconfig:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" envconfig:"write_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" envconfig:"request_timeout"`
}

type DatabaseConfig struct {
	// Driver selects the store: "postgres" or "memory".
	Driver          string        `mapstructure:"driver" envconfig:"driver"`
	Host            string        `mapstructure:"host" envconfig:"host"`
	Port            int           `mapstructure:"port" envconfig:"port"`
	User            string        `mapstructure:"user" envconfig:"user"`
	Password        string        `mapstructure:"password" envconfig:"password"`
	Name            string        `mapstructure:"name" envconfig:"name"`
	SSLMode         string        `mapstructure:"sslmode" envconfig:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" envconfig:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" envconfig:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" envconfig:"conn_max_lifetime"`
}

// DSN returns a lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// URL returns the postgres:// form golang-migrate expects.
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	URL          string        `mapstructure:"url" envconfig:"url"`
	MaxRetries   int           `mapstructure:"max_retries" envconfig:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff" envconfig:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size" envconfig:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns" envconfig:"min_idle_conns"`
}

type LockConfig struct {
	// Backend is "local" for a single instance or "redis" when several instances share a store.
	Backend       string        `mapstructure:"backend" envconfig:"backend"`
	Timeout       time.Duration `mapstructure:"timeout" envconfig:"timeout"`
	TTL           time.Duration `mapstructure:"ttl" envconfig:"ttl"`
	RetryInterval time.Duration `mapstructure:"retry_interval" envconfig:"retry_interval"`
}

type GenerationConfig struct {
	MaxSpanDays int `mapstructure:"max_span_days" envconfig:"max_span_days"`
}

type TimezoneConfig struct {
	Default string `mapstructure:"default" envconfig:"default"`
}

type MessagingConfig struct {
	// Backend is "redis" or "kafka".
	Backend      string   `mapstructure:"backend" envconfig:"backend"`
	Topic        string   `mapstructure:"topic" envconfig:"topic"`
	KafkaBrokers []string `mapstructure:"kafka_brokers" envconfig:"kafka_brokers"`
}

type OutboxConfig struct {
	BatchSize       int           `mapstructure:"batch_size" envconfig:"batch_size"`
	PollInterval    time.Duration `mapstructure:"poll_interval" envconfig:"poll_interval"`
	RetryAttempts   int           `mapstructure:"retry_attempts" envconfig:"retry_attempts"`
	RetryDelay      time.Duration `mapstructure:"retry_delay" envconfig:"retry_delay"`
	RetentionPeriod time.Duration `mapstructure:"retention_period" envconfig:"retention_period"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" envconfig:"cleanup_interval"`
	// HealthPort serves the worker's health and metrics endpoints.
	HealthPort      int           `mapstructure:"health_port" envconfig:"health_port"`
}

type NotificationsConfig struct {
	// Sink is "outbox", "broker" or "email".
	Sink      string `mapstructure:"sink" envconfig:"sink"`
	Workers   int    `mapstructure:"workers" envconfig:"workers"`
	QueueSize int    `mapstructure:"queue_size" envconfig:"queue_size"`
}

type SMTPConfig struct {
	Host            string `mapstructure:"host" envconfig:"host"`
	Port            int    `mapstructure:"port" envconfig:"port"`
	Username        string `mapstructure:"username" envconfig:"username"`
	Password        string `mapstructure:"password" envconfig:"password"`
	From            string `mapstructure:"from" envconfig:"from"`
	// RecipientFormat builds an address from a user id, e.g. "%s@mail.example.com".
	RecipientFormat string `mapstructure:"recipient_format" envconfig:"recipient_format"`
}

type RateLimitConfig struct {
	Enabled           bool          `mapstructure:"enabled" envconfig:"enabled"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" envconfig:"requests_per_second"`
	Burst             int           `mapstructure:"burst" envconfig:"burst"`
	TTL               time.Duration `mapstructure:"ttl" envconfig:"ttl"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret" envconfig:"secret"`
	ExpiryHours int    `mapstructure:"expiry_hours" envconfig:"expiry_hours"`
}

type LogConfig struct {
	Level string `mapstructure:"level" envconfig:"level"`
	JSON  bool   `mapstructure:"json" envconfig:"json"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.request_timeout", 10*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.name", "booking")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.retry_backoff", 100*time.Millisecond)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)

	v.SetDefault("lock.backend", "local")
	v.SetDefault("lock.timeout", 5*time.Second)
	v.SetDefault("lock.ttl", 30*time.Second)
	v.SetDefault("lock.retry_interval", 25*time.Millisecond)

	v.SetDefault("generation.max_span_days", 366)
	v.SetDefault("timezone.default", "UTC")

	v.SetDefault("messaging.backend", "redis")
	v.SetDefault("messaging.topic", "booking-events")

	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.poll_interval", 5*time.Second)
	v.SetDefault("outbox.retry_attempts", 5)
	v.SetDefault("outbox.retry_delay", 30*time.Second)
	v.SetDefault("outbox.retention_period", 7*24*time.Hour)
	v.SetDefault("outbox.cleanup_interval", time.Hour)
	v.SetDefault("outbox.health_port", 8081)

	v.SetDefault("notifications.sink", "outbox")
	v.SetDefault("notifications.workers", 4)
	v.SetDefault("notifications.queue_size", 1024)

	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.recipient_format", "%s@localhost")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_second", 10.0)
	v.SetDefault("rate_limit.burst", 20)
	v.SetDefault("rate_limit.ttl", 10*time.Minute)

	v.SetDefault("jwt.expiry_hours", 24)

	v.SetDefault("log.level", "info")
}

// LoadConfig reads config.yaml when present, applies defaults and then BOOKING_* overrides.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./config", "/app/config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch {
	case c.Lock.Timeout <= 0:
		return errors.New("lock.timeout must be positive")
	case c.Server.RequestTimeout <= 0:
		return errors.New("server.request_timeout must be positive")
	case c.Lock.Timeout >= c.Server.RequestTimeout:
		return fmt.Errorf("lock.timeout (%s) must be shorter than server.request_timeout (%s)",
			c.Lock.Timeout, c.Server.RequestTimeout)
	case c.Lock.RetryInterval <= 0:
		return errors.New("lock.retry_interval must be positive")
	case c.Generation.MaxSpanDays <= 0:
		return errors.New("generation.max_span_days must be positive")
	}

	switch c.Lock.Backend {
	case "local", "redis":
	default:
		return fmt.Errorf("unknown lock backend %q", c.Lock.Backend)
	}
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	switch c.Messaging.Backend {
	case "redis", "kafka":
	default:
		return fmt.Errorf("unknown messaging backend %q", c.Messaging.Backend)
	}
	if c.Messaging.Backend == "kafka" && len(c.Messaging.KafkaBrokers) == 0 {
		return errors.New("messaging.kafka_brokers is required for the kafka backend")
	}
	return nil
}
