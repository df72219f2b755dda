// Package config loads the process configuration for the ETL monitoring
// platform from a YAML file overlaid with environment variables, in the
// same viper-based shape the teacher's internal/config uses.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full process configuration: everything needed to stand
// up C1-C12 before the config plan's own dynamic values take over.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	App      AppConfig      `mapstructure:"app"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Crypto   CryptoConfig   `mapstructure:"crypto"`
	Sources  SourcesConfig  `mapstructure:"sources"`
}

// ServerConfig holds the httpapi listener configuration.
type ServerConfig struct {
	Port                    int           `mapstructure:"port"`
	Host                    string        `mapstructure:"host"`
	ReadTimeout             time.Duration `mapstructure:"read_timeout"`
	WriteTimeout            time.Duration `mapstructure:"write_timeout"`
	IdleTimeout             time.Duration `mapstructure:"idle_timeout"`
	GracefulShutdownTimeout time.Duration `mapstructure:"graceful_shutdown_timeout"`
}

// DatabaseConfig holds the control-plane Postgres connection parameters,
// passed straight through to internal/database/postgres.PostgresConfig.
type DatabaseConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	Database          string        `mapstructure:"database"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
}

// RedisConfig backs both internal/eventbus.RedisBus and internal/leaderlock.
type RedisConfig struct {
	Addr           string        `mapstructure:"addr"`
	Password       string        `mapstructure:"password"`
	DB             int           `mapstructure:"db"`
	PoolSize       int           `mapstructure:"pool_size"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	LeaderLeaseTTL time.Duration `mapstructure:"leader_lease_ttl"`
}

// LogConfig configures pkg/logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// AppConfig holds process identity and scheduling bootstrap defaults
// (overridden at runtime by C10 once the config plan loads).
type AppConfig struct {
	Name                string `mapstructure:"name"`
	Environment         string `mapstructure:"environment"`
	ReplicaName         string `mapstructure:"replica_name"`
	PollingIntervalSecs int    `mapstructure:"polling_interval_seconds"`
	StaleThresholdHours int    `mapstructure:"stale_threshold_hours"`
}

// MetricsConfig configures the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// CryptoConfig supplies the AES-256 key internal/crypto.FieldCodec
// encrypts source-database credentials with. Must decode to exactly 32
// bytes.
type CryptoConfig struct {
	KeyBase64 string `mapstructure:"key_base64"`
}

// SourcesConfig tunes internal/sources' connection pool cache.
type SourcesConfig struct {
	MaxCachedPools  int           `mapstructure:"max_cached_pools"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
	RateLimitPerSec float64       `mapstructure:"rate_limit_per_sec"`
	RateLimitBurst  int           `mapstructure:"rate_limit_burst"`
}

// Load reads configPath (if non-empty) then overlays environment
// variables (server.port -> SERVER_PORT, etc.), applying defaults for
// anything unset.
func Load(configPath string) (*Config, error) {
	setDefaults()
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		viper.SetConfigFile(configPath)
		viper.SetConfigType("yaml")
		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.graceful_shutdown_timeout", "30s")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.database", "etlmonitor")
	viper.SetDefault("database.user", "etlmonitor")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_conns", 20)
	viper.SetDefault("database.min_conns", 2)
	viper.SetDefault("database.max_conn_lifetime", "1h")
	viper.SetDefault("database.max_conn_idle_time", "30m")
	viper.SetDefault("database.health_check_period", "30s")
	viper.SetDefault("database.connect_timeout", "10s")

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.dial_timeout", "5s")
	viper.SetDefault("redis.leader_lease_ttl", "1m")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("log.output", "stdout")

	viper.SetDefault("app.name", "etl-monitor")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.replica_name", "")
	viper.SetDefault("app.polling_interval_seconds", 1)
	viper.SetDefault("app.stale_threshold_hours", 2)

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	viper.SetDefault("crypto.key_base64", "")

	viper.SetDefault("sources.max_cached_pools", 32)
	viper.SetDefault("sources.idle_timeout", "5m")
	viper.SetDefault("sources.connect_timeout", "30s")
	viper.SetDefault("sources.query_timeout", "60s")
	viper.SetDefault("sources.rate_limit_per_sec", 20)
	viper.SetDefault("sources.rate_limit_burst", 40)
}

// Validate enforces the invariants Load callers depend on before
// any connection is attempted.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Database.Host == "" {
		return fmt.Errorf("database host cannot be empty")
	}
	if c.Database.Database == "" {
		return fmt.Errorf("database name cannot be empty")
	}
	if c.Log.Level == "" {
		return fmt.Errorf("log level cannot be empty")
	}
	if c.App.Name == "" {
		return fmt.Errorf("app name cannot be empty")
	}
	return nil
}
