// Package config provides environment-aware configuration management for
// the coordinator binary: JSON/YAML file loading layered under environment
// variable overrides, following the teacher's nested ServerConfig/
// DatabaseConfig pattern.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	slruntime "github.com/botfleet/coordinator/internal/runtime"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Testing     Environment = "testing"
	Production  Environment = "production"
)

// ServerConfig holds the admin HTTP server's bind address.
type ServerConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

// DatabaseConfig holds Postgres connection settings. DSN, when set, takes
// precedence over the discrete Host/Port/User/Password/Name fields.
type DatabaseConfig struct {
	Driver          string `json:"driver" yaml:"driver"`
	DSN             string `json:"dsn" yaml:"dsn"`
	Host            string `json:"host" yaml:"host"`
	Port            int    `json:"port" yaml:"port"`
	User            string `json:"user" yaml:"user"`
	Password        string `json:"password" yaml:"password"`
	Name            string `json:"name" yaml:"name"`
	SSLMode         string `json:"sslmode" yaml:"sslmode"`
	MaxOpenConns    int    `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int    `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime int    `json:"conn_max_lifetime" yaml:"conn_max_lifetime"` // seconds
}

// ConnectionString renders the discrete fields as a lib/pq keyword/value DSN.
func (c DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// LoggingConfig controls pkg/logger's output.
type LoggingConfig struct {
	Level      string `json:"level" yaml:"level"`
	Format     string `json:"format" yaml:"format"`
	Output     string `json:"output" yaml:"output"`
	FilePrefix string `json:"file_prefix" yaml:"file_prefix"`
}

// SecurityConfig holds secrets that must never be logged.
type SecurityConfig struct {
	SecretEncryptionKey string `json:"secret_encryption_key" yaml:"secret_encryption_key"`
}

// AuthConfig holds the admin HTTP surface's bearer-token allowlist.
type AuthConfig struct {
	Tokens []string `json:"tokens" yaml:"tokens"`
}

// HeartbeatConfig drives internal/heartbeat.Watchdog.
type HeartbeatConfig struct {
	Interval      time.Duration `json:"interval" yaml:"interval"`
	DeadThreshold time.Duration `json:"dead_threshold" yaml:"dead_threshold"`
}

// CommandBusConfig holds a command timeout. cmd/coordinator does not pass it
// on: commandbus.Bus.Send takes its timeout per call and falls back to
// commandbus.DefaultTimeout.
type CommandBusConfig struct {
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// InferenceConfig drives internal/inference.Watchdog.
type InferenceConfig struct {
	Ports           map[string]int `json:"ports" yaml:"ports"`
	EndpointTimeout time.Duration  `json:"endpoint_timeout" yaml:"endpoint_timeout"`
	RebootThreshold int            `json:"reboot_threshold" yaml:"reboot_threshold"`
	FailedTimeout   time.Duration  `json:"failed_timeout" yaml:"failed_timeout"`
	TickInterval    time.Duration  `json:"tick_interval" yaml:"tick_interval"`
}

// RegistrationConfig holds a token lifetime. It is not passed to
// internal/registration.TokenService, which always uses registration.TokenTTL.
type RegistrationConfig struct {
	TokenTTL time.Duration `json:"token_ttl" yaml:"token_ttl"`
}

// BillingConfig holds the suspension grace period. cmd/coordinator uses it
// only to pace the billing sweep; internal/billing.Gate applies its own
// billing.GracePeriod constant.
type BillingConfig struct {
	GracePeriod time.Duration `json:"grace_period" yaml:"grace_period"`
}

// MetricsConfig holds Prometheus exposition settings. Nothing reads Enabled
// or Port: /metrics is always served on the main HTTP router.
type MetricsConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	Port    int  `json:"port" yaml:"port"`
}

// Config holds all application configuration.
type Config struct {
	Env Environment `json:"-" yaml:"-"`

	Server       ServerConfig       `json:"server" yaml:"server"`
	Database     DatabaseConfig     `json:"database" yaml:"database"`
	Logging      LoggingConfig      `json:"logging" yaml:"logging"`
	Security     SecurityConfig     `json:"security" yaml:"security"`
	Auth         AuthConfig         `json:"auth" yaml:"auth"`
	Heartbeat    HeartbeatConfig    `json:"heartbeat" yaml:"heartbeat"`
	CommandBus   CommandBusConfig   `json:"command_bus" yaml:"command_bus"`
	Inference    InferenceConfig    `json:"inference" yaml:"inference"`
	Registration RegistrationConfig `json:"registration" yaml:"registration"`
	Billing      BillingConfig      `json:"billing" yaml:"billing"`
	Metrics      MetricsConfig      `json:"metrics" yaml:"metrics"`
}

// New returns a Config populated with defaults and nothing else.
func New() *Config {
	return &Config{
		Env: Development,
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			FilePrefix: "service-layer",
		},
		Heartbeat: HeartbeatConfig{
			Interval:      30 * time.Second,
			DeadThreshold: 90 * time.Second,
		},
		CommandBus: CommandBusConfig{
			Timeout: 30 * time.Second,
		},
		Inference: InferenceConfig{
			Ports:           map[string]int{"llama": 8080, "chatterbox": 8081, "whisper": 8082, "qwen": 8083},
			EndpointTimeout: 5 * time.Second,
			RebootThreshold: 2,
			FailedTimeout:   10 * time.Minute,
			TickInterval:    30 * time.Second,
		},
		Registration: RegistrationConfig{
			TokenTTL: 15 * time.Minute,
		},
		Billing: BillingConfig{
			GracePeriod: 30 * 24 * time.Hour,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
		},
	}
}

// Load resolves configuration from (in increasing priority): New()'s
// defaults, an optional CONFIG_FILE (JSON or YAML, missing is not an
// error), a development .env file, then individual environment variables.
func Load() (*Config, error) {
	cfg := New()

	if envStr := strings.TrimSpace(os.Getenv("COORDINATOR_ENV")); envStr != "" {
		if parsed, ok := slruntime.ParseEnvironment(envStr); ok {
			cfg.Env = Environment(parsed)
		}
	}

	_ = godotenv.Load(fmt.Sprintf("config/%s.env", cfg.Env))

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		loaded, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// LoadConfig loads a JSON config file, applying environment variable
// overrides on top of its contents.
func LoadConfig(path string) (*Config, error) {
	cfg := New()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

// LoadFile loads a YAML config file. A missing file is not an error; New()'s
// defaults are returned instead.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides layers individual environment variables over whatever
// the config file (or New()'s defaults) already set.
func (c *Config) applyEnvOverrides() {
	c.Server.Host = getEnv("SERVER_HOST", c.Server.Host)
	c.Server.Port = getIntEnv("SERVER_PORT", c.Server.Port)

	c.Database.Host = getEnv("DATABASE_HOST", c.Database.Host)
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		c.Database.DSN = dsn
	}

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)

	if key := strings.TrimSpace(os.Getenv("SECRET_ENCRYPTION_KEY")); key != "" {
		c.Security.SecretEncryptionKey = key
	}
	if tokens := strings.TrimSpace(os.Getenv("API_TOKENS")); tokens != "" {
		c.Auth.Tokens = splitNonEmpty(tokens)
	}
}

// IsDevelopment returns true if running in development environment.
func (c *Config) IsDevelopment() bool { return c.Env == Development }

// IsTesting returns true if running in testing environment.
func (c *Config) IsTesting() bool { return c.Env == Testing }

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool { return c.Env == Production }

// Validate checks invariants that must hold before the coordinator starts
// serving traffic.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.IsProduction() {
		if c.Database.DSN == "" && c.Database.Host == "" {
			return fmt.Errorf("a database DSN or host is required in production")
		}
		if len(c.Auth.Tokens) == 0 {
			return fmt.Errorf("at least one admin API token is required in production")
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func splitNonEmpty(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
