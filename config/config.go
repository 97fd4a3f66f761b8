package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Port      string   `yaml:"port" env:"PORT" env-default:"8081"`
	JWTSecret string   `yaml:"jwt_secret" env:"JWT_SECRET" env-required:"true"`
	LogLevel  string   `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Database  Database `yaml:"database"`
	Redis     Redis    `yaml:"redis"`
	Kafka     Kafka    `yaml:"kafka"`
	Cache     Cache    `yaml:"cache"`
	Seckill   Seckill  `yaml:"seckill"`
	Worker    Worker   `yaml:"worker"`
	Breaker   Breaker  `yaml:"breaker"`
}

type Database struct {
	User         string `yaml:"user" env:"DB_USER" env-required:"true"`
	Password     string `yaml:"password" env:"DB_PASSWORD" env-required:"true"`
	DatabaseName string `yaml:"database_name" env:"DB_NAME" env-required:"true"`
	Host         string `yaml:"host" env:"DB_HOST" env-default:"localhost"`
	Port         string `yaml:"port" env:"DB_PORT" env-default:"5432"`
	SSLMode      string `yaml:"ssl_mode" env:"DB_SSL_MODE" env-default:"disable"`

	// Connection Pool Settings
	MaxOpenConns    int `yaml:"max_open_conns" env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	MaxIdleConns    int `yaml:"max_idle_conns" env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	ConnMaxLifetime int `yaml:"conn_max_lifetime_minutes" env:"DB_CONN_MAX_LIFETIME" env-default:"30"`
}

func (d *Database) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DatabaseName, d.SSLMode)
}

type Redis struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:"localhost"`
	Port     string `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD" env-default:""`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

func (r *Redis) GetRedisURL() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

type Kafka struct {
	Brokers           []string `yaml:"brokers" env:"KAFKA_BROKERS" env-default:"localhost:9092" env-separator:","`
	NotificationTopic string   `yaml:"notification_topic" env:"KAFKA_NOTIFICATION_TOPIC" env-default:"order-notifications"`
	ConsumerGroup     string   `yaml:"consumer_group" env:"KAFKA_CONSUMER_GROUP" env-default:"order-notifier"`
}

// Cache controls the shop read path.
type Cache struct {
	// Strategy is one of pass_through, mutex or logical_expire.
	Strategy       string        `yaml:"strategy" env:"CACHE_STRATEGY" env-default:"mutex"`
	ShopTTL        time.Duration `yaml:"shop_ttl" env:"CACHE_SHOP_TTL" env-default:"30m"`
	NullTTL        time.Duration `yaml:"null_ttl" env:"CACHE_NULL_TTL" env-default:"2m"`
	LockTTL        time.Duration `yaml:"lock_ttl" env:"CACHE_LOCK_TTL" env-default:"10s"`
	RetryBackoff   time.Duration `yaml:"retry_backoff" env:"CACHE_RETRY_BACKOFF" env-default:"50ms"`
	RebuildWorkers int           `yaml:"rebuild_workers" env:"CACHE_REBUILD_WORKERS" env-default:"10"`
}

type Seckill struct {
	Stream           string        `yaml:"stream" env:"SECKILL_STREAM" env-default:"stream.orders"`
	DeadLetterStream string        `yaml:"dead_letter_stream" env:"SECKILL_DLQ_STREAM" env-default:"stream.orders.dlq"`
	Group            string        `yaml:"group" env:"SECKILL_GROUP" env-default:"g1"`
	OrderLockTTL     time.Duration `yaml:"order_lock_ttl" env:"SECKILL_ORDER_LOCK_TTL" env-default:"10s"`
}

type Worker struct {
	Consumer        string        `yaml:"consumer" env:"WORKER_CONSUMER" env-default:""`
	MaxWorkers      int           `yaml:"max_workers" env:"WORKER_MAX_WORKERS" env-default:"1"`
	BlockTimeout    time.Duration `yaml:"block_timeout" env:"WORKER_BLOCK_TIMEOUT" env-default:"2s"`
	RetryBackoff    time.Duration `yaml:"retry_backoff" env:"WORKER_RETRY_BACKOFF" env-default:"20ms"`
	MaxBackoff      time.Duration `yaml:"max_backoff" env:"WORKER_MAX_BACKOFF" env-default:"10s"`
	MaxAttempts     int           `yaml:"max_attempts" env:"WORKER_MAX_ATTEMPTS" env-default:"5"`
	MetricsInterval time.Duration `yaml:"metrics_interval" env:"WORKER_METRICS_INTERVAL" env-default:"30s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"WORKER_SHUTDOWN_TIMEOUT" env-default:"30s"`
}

// Breaker configures the circuit breaker placed in front of Redis.
type Breaker struct {
	MaxRequests  uint32        `yaml:"max_requests" env:"BREAKER_MAX_REQUESTS" env-default:"1"`
	Interval     time.Duration `yaml:"interval" env:"BREAKER_INTERVAL" env-default:"10s"`
	Timeout      time.Duration `yaml:"timeout" env:"BREAKER_TIMEOUT" env-default:"30s"`
	MinRequests  uint32        `yaml:"min_requests" env:"BREAKER_MIN_REQUESTS" env-default:"5"`
	FailureRatio float64       `yaml:"failure_ratio" env:"BREAKER_FAILURE_RATIO" env-default:"0.5"`
}

func Initialise(configPath string, useEnv bool) (*Config, error) {
	cfg := &Config{}

	if useEnv {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment variables: %w", err)
		}
		return cfg, nil
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if err := cleanenv.ReadConfig(configPath, cfg); err != nil {
				return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
			}
			return cfg, nil
		}
	}

	// Fallback to environment variables
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment variables: %w", err)
	}

	return cfg, nil
}
