package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

// Prefix namespaces every environment variable read by the service.
const Prefix = "PAYGUARD"

// Rate limiter modes.
const (
	RateLimitModeFixed  = "fixed"
	RateLimitModeBucket = "bucket"
)

// Config is the full runtime configuration, populated from PAYGUARD_* variables.
type Config struct {
	Addr      string `envconfig:"ADDR" default:":8080"`
	APIKey    string `envconfig:"API_KEY"`
	JWTSecret string `envconfig:"JWT_SECRET"`

	DatabaseURL string        `envconfig:"DATABASE_URL"`
	DBDriver    string        `envconfig:"DB_DRIVER" default:"pgx"`
	TxTimeout   time.Duration `envconfig:"TX_TIMEOUT" default:"5s"`

	Redis RedisConfig `envconfig:"REDIS"`

	KafkaBrokers   []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic     string   `envconfig:"KAFKA_TOPIC" default:"payment.decided"`
	EventRetention int      `envconfig:"EVENT_RETENTION" default:"10000"`

	RateLimitMax    int           `envconfig:"RATE_LIMIT_MAX" default:"5"`
	RateLimitWindow time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1s"`
	RateLimitMode   string        `envconfig:"RATE_LIMIT_MODE" default:"fixed"`

	ToolMaxAttempts   int           `envconfig:"TOOL_MAX_ATTEMPTS" default:"3"`
	ToolBackoffBase   time.Duration `envconfig:"TOOL_BACKOFF_BASE" default:"0s"`
	ToolBackoffMax    time.Duration `envconfig:"TOOL_BACKOFF_MAX" default:"200ms"`
	RequestTimeout    time.Duration `envconfig:"REQUEST_TIMEOUT" default:"5s"`
	RiskHighThreshold float64       `envconfig:"RISK_HIGH_THRESHOLD" default:"1000"`

	LatencyWindow int `envconfig:"LATENCY_WINDOW" default:"1000"`

	LogLevel        string   `envconfig:"LOG_LEVEL" default:"info"`
	LogRedactFields []string `envconfig:"LOG_REDACT_FIELDS"`
}

// RedisConfig holds connection settings for the shared limiter backend.
// An empty URL keeps rate limit state in process memory.
type RedisConfig struct {
	URL          string        `envconfig:"URL"`
	PoolSize     int           `envconfig:"POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"3s"`
}

// Defaults returns the configuration Load produces from an empty
// environment, for in-process wiring such as the evaluation harness.
func Defaults() Config {
	return Config{
		Addr:      ":8080",
		DBDriver:  "pgx",
		TxTimeout: 5 * time.Second,
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		KafkaTopic:        "payment.decided",
		EventRetention:    10000,
		RateLimitMax:      5,
		RateLimitWindow:   time.Second,
		RateLimitMode:     RateLimitModeFixed,
		ToolMaxAttempts:   3,
		ToolBackoffMax:    200 * time.Millisecond,
		RequestTimeout:    5 * time.Second,
		RiskHighThreshold: 1000,
		LatencyWindow:     1000,
		LogLevel:          "info",
	}
}

// FromEnv builds a Config from the process environment so main stays lean.
func FromEnv() (*Config, error) {
	return Load("")
}

// Load exports envFile (a .env or YAML file read by viper) into the process
// environment when given, falling back to ./.env if present, then decodes
// PAYGUARD_* variables and validates the result.
func Load(envFile string) (*Config, error) {
	envFile = strings.TrimSpace(envFile)
	if envFile != "" {
		if err := exportEnvironment(envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	} else if err := exportEnvironmentIfExists(".env"); err != nil {
		return nil, fmt.Errorf("failed to load default env file: %w", err)
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.APIKey == "" && c.JWTSecret == "" {
		errs = append(errs, errors.New("one of API_KEY or JWT_SECRET is required"))
	}
	if c.RateLimitMax <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_MAX must be positive"))
	}
	if c.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_WINDOW must be positive"))
	}
	switch c.RateLimitMode {
	case RateLimitModeFixed, RateLimitModeBucket:
	default:
		errs = append(errs, fmt.Errorf("RATE_LIMIT_MODE must be %q or %q", RateLimitModeFixed, RateLimitModeBucket))
	}
	if c.ToolMaxAttempts < 1 {
		errs = append(errs, errors.New("TOOL_MAX_ATTEMPTS must be at least 1"))
	}
	if c.ToolBackoffBase < 0 || c.ToolBackoffMax < 0 {
		errs = append(errs, errors.New("tool backoff durations must not be negative"))
	}
	if c.LatencyWindow <= 0 {
		errs = append(errs, errors.New("LATENCY_WINDOW must be positive"))
	}
	switch c.DBDriver {
	case "pgx", "postgres":
	default:
		errs = append(errs, errors.New(`DB_DRIVER must be "pgx" or "postgres"`))
	}
	return errors.Join(errs...)
}

func exportEnvironmentIfExists(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if info.IsDir() {
		return nil
	}
	return exportEnvironment(path)
}

func exportEnvironment(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return err
	}
	for k, val := range v.AllSettings() {
		key := strings.ToUpper(k)
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, fmt.Sprint(val)); err != nil {
			return err
		}
	}
	return nil
}
