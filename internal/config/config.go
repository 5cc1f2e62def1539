package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full process configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Card      CardConfig      `mapstructure:"card"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Lock      LockConfig      `mapstructure:"lock"`
	Outbox    OutboxConfig    `mapstructure:"outbox"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	WorkerID        int64         `mapstructure:"worker_id"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig selects the gorm dialect. Only the block matching Driver is read.
type DatabaseConfig struct {
	Driver       string         `mapstructure:"driver"`
	MySQL        MySQLConfig    `mapstructure:"mysql"`
	Postgres     PostgresConfig `mapstructure:"postgres"`
	SQLite       SQLiteConfig   `mapstructure:"sqlite"`
	MaxOpenConns int            `mapstructure:"max_open_conns"`
	MaxIdleConns int            `mapstructure:"max_idle_conns"`
	LogSQL       bool           `mapstructure:"log_sql"`
}

type MySQLConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Enabled bool             `mapstructure:"enabled"`
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	LedgerEvents      string `mapstructure:"ledger_events"`
	StandingOrderRuns string `mapstructure:"standing_order_runs"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	AdminRole string `mapstructure:"admin_role"`
}

type CardConfig struct {
	TokenSecret          string        `mapstructure:"token_secret"`
	TokenTTL             time.Duration `mapstructure:"token_ttl"`
	DefaultSpendingLimit string        `mapstructure:"default_spending_limit"`
	SpendResetCron       string        `mapstructure:"spend_reset_cron"`
}

type SchedulerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Cron     string `mapstructure:"cron"`
	Workers  int    `mapstructure:"workers"`
	Timezone string `mapstructure:"timezone"`
}

// Location resolves the scheduler timezone, falling back to UTC.
func (c SchedulerConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type LockConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	MaxRetries    int           `mapstructure:"max_retries"`
}

type OutboxConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	BatchSize  int           `mapstructure:"batch_size"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// RateLimitConfig guards the public merchant endpoint. RPS <= 0 disables it.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.worker_id", 1)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.mysql.host", "127.0.0.1")
	v.SetDefault("database.mysql.port", 3306)
	v.SetDefault("database.mysql.user", "root")
	v.SetDefault("database.mysql.password", "")
	v.SetDefault("database.mysql.database", "retail_ledger")
	v.SetDefault("database.postgres.dsn", "")
	v.SetDefault("database.sqlite.path", "retail_ledger.db")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.enabled", true)
	v.SetDefault("kafka.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("kafka.topic.ledger_events", "ledger.entries")
	v.SetDefault("kafka.topic.standing_order_runs", "ledger.standing_order_runs")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.admin_role", "admin")

	v.SetDefault("card.token_secret", "")
	v.SetDefault("card.token_ttl", 5*time.Minute)
	v.SetDefault("card.default_spending_limit", "10000")
	v.SetDefault("card.spend_reset_cron", "0 0 1 * *")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.cron", "0 0 * * *")
	v.SetDefault("scheduler.workers", 1)
	v.SetDefault("scheduler.timezone", "UTC")

	v.SetDefault("lock.ttl", 30*time.Second)
	v.SetDefault("lock.retry_interval", 50*time.Millisecond)
	v.SetDefault("lock.max_retries", 100)

	v.SetDefault("outbox.interval", 500*time.Millisecond)
	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.max_retries", 5)

	v.SetDefault("rate_limit.rps", 20)
	v.SetDefault("rate_limit.burst", 40)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("database.log_sql", false)
}

// LoadConfig reads the YAML file at configPath and overlays LEDGER_* env vars
// (e.g. LEDGER_DATABASE_DRIVER=sqlite). A missing file leaves the defaults.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("read config %s: %w", configPath, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Card.TokenTTL <= 0 {
		return fmt.Errorf("card.token_ttl must be positive")
	}
	if c.Auth.JWTSecret != "" && c.Auth.JWTSecret == c.Card.TokenSecret {
		return fmt.Errorf("card.token_secret must differ from auth.jwt_secret")
	}
	if c.Scheduler.Workers < 1 {
		c.Scheduler.Workers = 1
	}
	return nil
}
