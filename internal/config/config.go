package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	RabbitMQ   RabbitMQConfig
	Delivery   DeliveryConfig
	Batch      BatchConfig
	Scheduler  SchedulerConfig
	Completion CompletionConfig
	Env        string `env:"ENV" envDefault:"development"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port              string        `env:"PORT" envDefault:"8080"`
	WorkerMetricsPort string        `env:"WORKER_METRICS_PORT" envDefault:"9091"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port     string `env:"POSTGRES_PORT" envDefault:"5432"`
	User     string `env:"POSTGRES_USER" envDefault:"campaigns"`
	Password string `env:"POSTGRES_PASSWORD"`
	DBName   string `env:"POSTGRES_DB" envDefault:"campaigns_db"`
}

// RabbitMQConfig holds RabbitMQ configuration
type RabbitMQConfig struct {
	Host              string `env:"RABBITMQ_HOST" envDefault:"localhost"`
	Port              string `env:"RABBITMQ_PORT" envDefault:"5672"`
	User              string `env:"RABBITMQ_DEFAULT_USER" envDefault:"guest"`
	Password          string `env:"RABBITMQ_DEFAULT_PASS" envDefault:"guest"`
	ReceiptQueue      string `env:"RABBITMQ_RECEIPT_QUEUE" envDefault:"delivery_receipts"`
	NotificationQueue string `env:"RABBITMQ_NOTIFICATION_QUEUE" envDefault:"campaign_notifications"`
}

// DeliveryConfig controls the simulated vendor and phone normalization
type DeliveryConfig struct {
	CountryCode string        `env:"DELIVERY_COUNTRY_CODE" envDefault:"91"`
	MinDigits   int           `env:"DELIVERY_PHONE_MIN_DIGITS" envDefault:"12"`
	MaxDigits   int           `env:"DELIVERY_PHONE_MAX_DIGITS" envDefault:"13"`
	AckDelay    time.Duration `env:"DELIVERY_ACK_DELAY" envDefault:"5s"`
	SuccessRate float64       `env:"DELIVERY_SUCCESS_RATE" envDefault:"0.95"`
	MinLatency  time.Duration `env:"DELIVERY_MIN_LATENCY" envDefault:"50ms"`
	MaxLatency  time.Duration `env:"DELIVERY_MAX_LATENCY" envDefault:"200ms"`
}

// BatchConfig controls the delivery receipt batcher
type BatchConfig struct {
	Size          int           `env:"BATCH_SIZE" envDefault:"100"`
	FlushInterval time.Duration `env:"BATCH_FLUSH_INTERVAL" envDefault:"5s"`
}

// SchedulerConfig controls the scheduled campaign promoter
type SchedulerConfig struct {
	Interval time.Duration `env:"SCHEDULER_INTERVAL" envDefault:"60s"`
}

// CompletionConfig controls when running campaigns are completed
type CompletionConfig struct {
	GraceWindow   time.Duration `env:"COMPLETION_GRACE_WINDOW" envDefault:"10m"`
	SweepInterval time.Duration `env:"COMPLETION_SWEEP_INTERVAL" envDefault:"30s"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks required fields and value ranges
func (c *Config) Validate() error {
	if c.Database.Password == "" {
		return fmt.Errorf("POSTGRES_PASSWORD is required")
	}
	if c.Batch.Size <= 0 {
		return fmt.Errorf("BATCH_SIZE must be greater than 0")
	}
	if c.Batch.FlushInterval <= 0 {
		return fmt.Errorf("BATCH_FLUSH_INTERVAL must be positive")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("SCHEDULER_INTERVAL must be positive")
	}
	if c.Delivery.MinDigits <= 0 || c.Delivery.MaxDigits < c.Delivery.MinDigits {
		return fmt.Errorf("invalid phone digit range %d-%d", c.Delivery.MinDigits, c.Delivery.MaxDigits)
	}
	if c.Delivery.SuccessRate < 0 || c.Delivery.SuccessRate > 1 {
		return fmt.Errorf("DELIVERY_SUCCESS_RATE must be between 0 and 1")
	}
	return nil
}

// GetDatabaseDSN returns PostgreSQL connection string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
	)
}

// GetRabbitMQURL returns RabbitMQ connection URL
func (c *Config) GetRabbitMQURL() string {
	return fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		c.RabbitMQ.User,
		c.RabbitMQ.Password,
		c.RabbitMQ.Host,
		c.RabbitMQ.Port,
	)
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}
