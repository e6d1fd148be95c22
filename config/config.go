package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Storage backends accepted by storage.backend.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	ShortLink ShortLinkConfig `mapstructure:"shortlink"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Sweeper   SweeperConfig   `mapstructure:"sweeper"`

	// PostgreSQL
	Postgres PostgresConfig `mapstructure:"postgres"`

	// Redis
	Redis RedisConfig `mapstructure:"redis"`

	// NATS
	NATS NATSConfig `mapstructure:"nats"`

	// Prometheus
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

type AppConfig struct {
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
}

type ServerConfig struct {
	Addr           string `mapstructure:"addr"`
	JWTSecret      string `mapstructure:"jwt_secret"`
	CursorSecret   string `mapstructure:"cursor_secret"`
	RateLimit      int    `mapstructure:"rate_limit"`
	RateLimitEvery string `mapstructure:"rate_limit_window"`
	AllowedOrigins string `mapstructure:"allowed_origins"`
}

type ShortLinkConfig struct {
	MaxRetries int    `mapstructure:"max_retries"`
	ExpireDays int    `mapstructure:"expire_days"`
	CodeLength int    `mapstructure:"code_length"`
	TableName  string `mapstructure:"table_name"`
}

type StorageConfig struct {
	Backend string `mapstructure:"backend"`
}

type SweeperConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

type PostgresConfig struct {
	Host              string `mapstructure:"host"`
	User              string `mapstructure:"user"`
	Password          string `mapstructure:"password"`
	Database          string `mapstructure:"database"`
	Port              int    `mapstructure:"port"`
	SSLMode           string `mapstructure:"sslmode"`
	MaxConns          int32  `mapstructure:"max_conns"`
	MinConns          int32  `mapstructure:"min_conns"`
	MaxConnLifetime   string `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   string `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod string `mapstructure:"health_check_period"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type NATSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

type PrometheusConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

func Load() (*Config, error) {
	// Load local .env for development (ignored when missing).
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()

	// Search for config/config.yaml (plus root for overrides).
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	return load(v)
}

// LoadFile reads configuration from an explicit file path.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	// Allow environment variables to override YAML entries.
	v.SetEnvPrefix("")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Preserve legacy env variable names.
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.rate_limit", 120)
	v.SetDefault("server.rate_limit_window", "1m")
	v.SetDefault("server.allowed_origins", "*")

	v.SetDefault("shortlink.max_retries", 5)
	v.SetDefault("shortlink.expire_days", 3)
	v.SetDefault("shortlink.code_length", 10)
	v.SetDefault("shortlink.table_name", "ShortLink")

	v.SetDefault("storage.backend", BackendMemory)

	v.SetDefault("sweeper.enabled", true)
	v.SetDefault("sweeper.schedule", "@every 1m")

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.sslmode", "disable")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)

	v.SetDefault("nats.host", "localhost")
	v.SetDefault("nats.port", 4222)

	v.SetDefault("prometheus.port", 9090)
}

func bindEnvVars(v *viper.Viper) {
	// App
	v.BindEnv("app.env", "APP_ENV")
	v.BindEnv("app.log_level", "LOG_LEVEL")
	v.BindEnv("app.log_file", "LOG_FILE")

	// Server
	v.BindEnv("server.addr", "SERVER_ADDR")
	v.BindEnv("server.jwt_secret", "JWT_SECRET")
	v.BindEnv("server.cursor_secret", "CURSOR_SECRET")

	// Short links
	v.BindEnv("shortlink.max_retries", "MAX_RETRIES")
	v.BindEnv("shortlink.expire_days", "SHORTLINK_EXPIRE_DURATION_BY_DAY")
	v.BindEnv("shortlink.code_length", "SHORTLINK_CODE_LENGTH")
	v.BindEnv("shortlink.table_name", "SHORTLINK_TABLE_NAME")

	// Storage
	v.BindEnv("storage.backend", "STORAGE_BACKEND")
	v.BindEnv("sweeper.schedule", "SWEEPER_SCHEDULE")

	// PostgreSQL
	v.BindEnv("postgres.host", "PG_HOST")
	v.BindEnv("postgres.user", "PG_USER")
	v.BindEnv("postgres.password", "PG_PASSWORD")
	v.BindEnv("postgres.database", "PG_DB")
	v.BindEnv("postgres.port", "PG_PORT")
	v.BindEnv("postgres.sslmode", "PG_SSLMODE")

	// Redis
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")

	// NATS
	v.BindEnv("nats.enabled", "NATS_ENABLED")
	v.BindEnv("nats.host", "NATS_HOST")
	v.BindEnv("nats.port", "NATS_PORT")
	v.BindEnv("nats.user", "NATS_USER")
	v.BindEnv("nats.password", "NATS_PASSWORD")

	// Prometheus
	v.BindEnv("prometheus.enabled", "PROM_ENABLED")
	v.BindEnv("prometheus.port", "PROM_PORT")
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	if c.ShortLink.MaxRetries <= 0 {
		return fmt.Errorf("config: shortlink.max_retries must be positive, got %d", c.ShortLink.MaxRetries)
	}
	if c.ShortLink.ExpireDays <= 0 {
		return fmt.Errorf("config: shortlink.expire_days must be positive, got %d", c.ShortLink.ExpireDays)
	}
	if c.ShortLink.CodeLength <= 0 {
		return fmt.Errorf("config: shortlink.code_length must be positive, got %d", c.ShortLink.CodeLength)
	}
	if c.ShortLink.TableName == "" {
		return errors.New("config: shortlink.table_name is required")
	}
	switch c.Storage.Backend {
	case BackendMemory, BackendPostgres, BackendRedis:
	default:
		return fmt.Errorf("config: unknown storage.backend %q", c.Storage.Backend)
	}
	if c.Sweeper.Enabled && c.Sweeper.Schedule == "" {
		return errors.New("config: sweeper.schedule is required when the sweeper is enabled")
	}
	return nil
}

// IsProduction reports whether the service runs with production logging.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.App.Env, "production")
}
