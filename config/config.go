// Package config loads service configuration from defaults, an optional YAML
// file, .env files and the environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/zombar/matchscheduler/models"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration
type Config struct {
	Addr        string          `yaml:"addr"`
	CORSEnabled bool            `yaml:"cors_enabled"`
	LogLevel    string          `yaml:"log_level"`
	HistoryPath string          `yaml:"history_path"`
	Database    DatabaseConfig  `yaml:"database"`
	Engine      EngineConfig    `yaml:"engine"`
	Scheduler   SchedulerConfig `yaml:"scheduler"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`

	// Defaults fill fields missing from extraction requests
	Defaults models.ExtractionConfig `yaml:"defaults"`
}

// DatabaseConfig selects the player and schedule store
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// EngineConfig points at the match-retrieval engine
type EngineConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// SchedulerConfig configures the dispatch poll
type SchedulerConfig struct {
	PollSpec string `yaml:"poll_spec"`
}

// RateLimitConfig configures the limiter shared by enhanced operations
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Addr:        ":8080",
		CORSEnabled: true,
		LogLevel:    "info",
		HistoryPath: "extraction_history.json",
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "matchscheduler.db",
		},
		Engine: EngineConfig{
			URL:     "http://localhost:8000",
			Timeout: 10 * time.Minute,
		},
		Scheduler: SchedulerConfig{
			PollSpec: "@every 30s",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 20,
			Burst:             20,
		},
		Defaults: models.ExtractionConfig{
			QueueTypes:     []string{"ranked_solo"},
			MaxMatches:     100,
			DateRangeDays:  30,
			BatchSize:      20,
			RateLimitDelay: 1.0,
			ValidateData:   true,
			AutoRetry:      true,
			MaxRetries:     3,
		},
	}
}

// Load builds the configuration. path may be empty; a missing .env file is
// not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := loadEnvFile(); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	return cfg, cfg.Validate()
}

// loadEnvFile loads ENV_FILE when set, .env otherwise. Variables already in
// the environment win.
func loadEnvFile() error {
	file := ".env"
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		file = envFile
	}
	if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load env file %s: %w", file, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if port := os.Getenv("PORT"); port != "" {
		c.Addr = ":" + port
	}
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.HistoryPath, "HISTORY_PATH")
	setString(&c.Database.Driver, "DB_DRIVER")
	setString(&c.Database.DSN, "DB_DSN")
	setString(&c.Engine.URL, "ENGINE_URL")
	setString(&c.Scheduler.PollSpec, "SCHEDULER_POLL")

	if v := os.Getenv("CORS_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid CORS_ENABLED %q: %w", v, err)
		}
		c.CORSEnabled = b
	}
	if v := os.Getenv("ENGINE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid ENGINE_TIMEOUT %q: %w", v, err)
		}
		c.Engine.Timeout = d
	}
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid RATE_LIMIT_RPS %q: %w", v, err)
		}
		c.RateLimit.RequestsPerSecond = f
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid RATE_LIMIT_BURST %q: %w", v, err)
		}
		c.RateLimit.Burst = n
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate checks that required fields are present and values are sane
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database dsn is required")
	}
	if !strings.HasPrefix(c.Engine.URL, "http://") && !strings.HasPrefix(c.Engine.URL, "https://") {
		return fmt.Errorf("engine url must start with http:// or https://, got %q", c.Engine.URL)
	}
	if c.HistoryPath == "" {
		return errors.New("history_path is required")
	}
	if c.RateLimit.RequestsPerSecond <= 0 {
		return errors.New("rate_limit.requests_per_second must be > 0")
	}
	return nil
}
