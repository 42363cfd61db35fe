// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Push transports understood by the bootstrap layer.
const (
	TransportRedis = "redis"
	TransportMQTT  = "mqtt"
	TransportLocal = "local"
	TransportNone  = "none"
)

// Database drivers understood by database.Connect.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	Env      string `mapstructure:"APP_ENV"`
	Port     string `mapstructure:"PORT"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	DBDriver                 string `mapstructure:"DB_DRIVER"`
	DBHost                   string `mapstructure:"DB_HOST"`
	DBPort                   string `mapstructure:"DB_PORT"`
	DBUser                   string `mapstructure:"DB_USER"`
	DBPassword               string `mapstructure:"DB_PASSWORD"`
	DBName                   string `mapstructure:"DB_NAME"`
	DBSSLMode                string `mapstructure:"DB_SSLMODE"`
	DBSQLitePath             string `mapstructure:"DB_SQLITE_PATH"`
	DBMaxOpenConns           int    `mapstructure:"DB_MAX_OPEN_CONNS"`
	DBMaxIdleConns           int    `mapstructure:"DB_MAX_IDLE_CONNS"`
	DBConnMaxLifetimeMinutes int    `mapstructure:"DB_CONN_MAX_LIFETIME_MINUTES"`

	PushTransport   string `mapstructure:"PUSH_TRANSPORT"`
	RedisURL        string `mapstructure:"REDIS_URL"`
	MQTTBroker      string `mapstructure:"MQTT_BROKER"`
	MQTTUsername    string `mapstructure:"MQTT_USERNAME"`
	MQTTPassword    string `mapstructure:"MQTT_PASSWORD"`
	MQTTTopicPrefix string `mapstructure:"MQTT_TOPIC_PREFIX"`
	MQTTClientID    string `mapstructure:"MQTT_CLIENT_ID"`

	FeedQueryTimeoutSeconds int    `mapstructure:"FEED_QUERY_TIMEOUT_SECONDS"`
	SubmitTimeoutSeconds    int    `mapstructure:"SUBMIT_TIMEOUT_SECONDS"`
	MaxSessions             int    `mapstructure:"MAX_SESSIONS"`
	UserID                  string `mapstructure:"USER_ID"`

	TracingEnabled      bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter     string  `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint        string  `mapstructure:"OTLP_ENDPOINT"`
	TracingSamplerRatio float64 `mapstructure:"TRACING_SAMPLER_RATIO"`
}

// LoadConfig loads application configuration from .env, config files and environment variables.
func LoadConfig() (*Config, error) {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load()

	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// The base config file is optional.
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env != "" && env != "development" && env != "test" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
	}

	setDefaults()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	config.normalize()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("PORT", "8375")
	viper.SetDefault("LOG_LEVEL", "info")

	viper.SetDefault("DB_DRIVER", DriverPostgres)
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "user")
	viper.SetDefault("DB_PASSWORD", "password")
	viper.SetDefault("DB_NAME", "social_media")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("DB_SQLITE_PATH", "postsync.db")
	viper.SetDefault("DB_MAX_OPEN_CONNS", 25)
	viper.SetDefault("DB_MAX_IDLE_CONNS", 5)
	viper.SetDefault("DB_CONN_MAX_LIFETIME_MINUTES", 5)

	viper.SetDefault("PUSH_TRANSPORT", TransportRedis)
	viper.SetDefault("REDIS_URL", "localhost:6379")
	viper.SetDefault("MQTT_BROKER", "")
	viper.SetDefault("MQTT_USERNAME", "")
	viper.SetDefault("MQTT_PASSWORD", "")
	viper.SetDefault("MQTT_TOPIC_PREFIX", "postsync")
	viper.SetDefault("MQTT_CLIENT_ID", "")

	viper.SetDefault("FEED_QUERY_TIMEOUT_SECONDS", 10)
	viper.SetDefault("SUBMIT_TIMEOUT_SECONDS", 15)
	viper.SetDefault("MAX_SESSIONS", 1000)
	viper.SetDefault("USER_ID", "")

	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("OTLP_ENDPOINT", "localhost:4318")
	viper.SetDefault("TRACING_SAMPLER_RATIO", 1.0)
}

func (c *Config) normalize() {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	c.DBDriver = strings.ToLower(strings.TrimSpace(c.DBDriver))
	c.DBSSLMode = strings.ToLower(strings.TrimSpace(c.DBSSLMode))
	c.PushTransport = strings.ToLower(strings.TrimSpace(c.PushTransport))
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.UserID = strings.TrimSpace(c.UserID)
}

// IsProduction reports whether the production profile is active.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// FeedQueryTimeout is the per-query deadline used by feed managers.
func (c *Config) FeedQueryTimeout() time.Duration {
	return time.Duration(c.FeedQueryTimeoutSeconds) * time.Second
}

// SubmitTimeout is the per-insert deadline used by draft controllers.
func (c *Config) SubmitTimeout() time.Duration {
	return time.Duration(c.SubmitTimeoutSeconds) * time.Second
}

// Validate ensures that required configuration values are present and meet security standards.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.DBDriver)
	}

	switch c.PushTransport {
	case TransportRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required when PUSH_TRANSPORT is redis")
		}
	case TransportMQTT:
		if c.MQTTBroker == "" {
			return errors.New("MQTT_BROKER is required when PUSH_TRANSPORT is mqtt")
		}
	case TransportLocal, TransportNone:
	default:
		return fmt.Errorf("unknown PUSH_TRANSPORT %q", c.PushTransport)
	}

	if c.FeedQueryTimeoutSeconds <= 0 {
		return errors.New("FEED_QUERY_TIMEOUT_SECONDS must be positive")
	}
	if c.SubmitTimeoutSeconds <= 0 {
		return errors.New("SUBMIT_TIMEOUT_SECONDS must be positive")
	}
	if c.MaxSessions <= 0 {
		return errors.New("MAX_SESSIONS must be positive")
	}
	if c.DBConnMaxLifetimeMinutes <= 0 {
		return errors.New("DB_CONN_MAX_LIFETIME_MINUTES must be positive")
	}

	if c.IsProduction() && c.DBDriver == DriverPostgres {
		if c.DBPassword == "password" || c.DBPassword == "" {
			return errors.New("a strong DB_PASSWORD is required in production")
		}
		if c.DBSSLMode == "disable" || c.DBSSLMode == "" {
			return errors.New("DB_SSLMODE must not be disabled in production")
		}
	}
	if c.IsProduction() && c.PushTransport == TransportLocal {
		log.Println("WARNING: PUSH_TRANSPORT is 'local' in production. Other processes will not see live updates.")
	}

	return nil
}
