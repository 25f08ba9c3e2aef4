// Package config provides configuration management for pride-mcp.
//
// Values are resolved in order: built-in defaults, an optional YAML file,
// a .env file in the working directory, then the process environment.
// Environment variables use the PRIDE_ prefix; the unprefixed names
// (GEMINI_API_KEY, SLACK_WEBHOOK_URL, DATABASE_PATH, ...) are accepted too.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	// EnvPrefix is the prefix of all environment variables.
	EnvPrefix = "PRIDE"

	// DefaultPort is the default HTTP port of the server.
	DefaultPort = 9000

	// DefaultConfigFile is looked up in the working directory when no path is given.
	DefaultConfigFile = "pride-mcp.yaml"
)

// Config holds the application configuration.
type Config struct {
	// Server
	Host        string   `yaml:"host" envconfig:"HOST"`
	LogLevel    string   `yaml:"log_level" envconfig:"LOG_LEVEL"`
	LogFormat   string   `yaml:"log_format" envconfig:"LOG_FORMAT"`
	Environment string   `yaml:"environment" envconfig:"ENVIRONMENT"`
	APIToken    string   `yaml:"api_token" envconfig:"API_TOKEN"`
	CORSOrigins []string `yaml:"cors_origins" envconfig:"CORS_ORIGINS"`
	Port        int      `yaml:"port" envconfig:"PORT"`
	RateLimit   float64  `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	RateBurst   int      `yaml:"rate_burst" envconfig:"RATE_BURST"`

	// Archive
	ArchiveBaseURL       string        `yaml:"archive_base_url" envconfig:"ARCHIVE_BASE_URL"`
	UserAgent            string        `yaml:"user_agent" envconfig:"USER_AGENT"`
	ArchiveTimeout       time.Duration `yaml:"archive_timeout" envconfig:"ARCHIVE_TIMEOUT"`
	ArchiveRetryAttempts int           `yaml:"archive_retry_attempts" envconfig:"ARCHIVE_RETRY_ATTEMPTS"`
	EnrichLimit          int           `yaml:"enrich_limit" envconfig:"ENRICH_LIMIT"`
	EnrichConcurrency    int           `yaml:"enrich_concurrency" envconfig:"ENRICH_CONCURRENCY"`
	FacetPageSize        int           `yaml:"facet_page_size" envconfig:"FACET_PAGE_SIZE"`

	// Telemetry store
	DatabasePath     string        `yaml:"database_path" envconfig:"DATABASE_PATH"`
	DatabaseDSN      string        `yaml:"database_dsn" envconfig:"DATABASE_DSN"`
	DatabaseMaxConns int           `yaml:"database_max_conns" envconfig:"DATABASE_MAX_CONNS"`
	RollupInterval   time.Duration `yaml:"rollup_interval" envconfig:"ROLLUP_INTERVAL"`

	// AI analysis
	AIProvider    string        `yaml:"ai_provider" envconfig:"AI_PROVIDER"`
	GeminiAPIKey  string        `yaml:"gemini_api_key" envconfig:"GEMINI_API_KEY"`
	GeminiModel   string        `yaml:"gemini_model" envconfig:"GEMINI_MODEL"`
	OpenAIAPIKey  string        `yaml:"openai_api_key" envconfig:"OPENAI_API_KEY"`
	OpenAIModel   string        `yaml:"openai_model" envconfig:"OPENAI_MODEL"`
	OpenAIBaseURL string        `yaml:"openai_base_url" envconfig:"OPENAI_BASE_URL"`
	AITimeout     time.Duration `yaml:"ai_timeout" envconfig:"AI_TIMEOUT"`
	AIEnabled     bool          `yaml:"ai_enabled" envconfig:"ENABLE_GEMINI"`

	// Slack
	SlackWebhookURL      string `yaml:"slack_webhook_url" envconfig:"SLACK_WEBHOOK_URL"`
	SlackChannel         string `yaml:"slack_channel" envconfig:"SLACK_CHANNEL"`
	SlackNotifyQuestions bool   `yaml:"slack_notify_questions" envconfig:"SLACK_NOTIFY_QUESTIONS"`
	SlackDailyReport     bool   `yaml:"slack_daily_report" envconfig:"SLACK_DAILY_REPORT"`

	// Error reporting
	SentryDSN string `yaml:"sentry_dsn" envconfig:"SENTRY_DSN"`
}

// DefaultCORSOrigins are the browser origins allowed to call the REST API.
var DefaultCORSOrigins = []string{
	"http://localhost:3000",
	"http://localhost:8501",
	"http://127.0.0.1:3000",
	"http://127.0.0.1:8501",
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Host:                 "127.0.0.1",
		Port:                 DefaultPort,
		LogLevel:             "info",
		LogFormat:            "console",
		Environment:          "development",
		CORSOrigins:          append([]string(nil), DefaultCORSOrigins...),
		RateLimit:            10,
		RateBurst:            20,
		ArchiveBaseURL:       "https://www.ebi.ac.uk/pride/ws/archive/v3",
		UserAgent:            "pride-mcp/1.0",
		ArchiveTimeout:       30 * time.Second,
		ArchiveRetryAttempts: 3,
		EnrichLimit:          10,
		EnrichConcurrency:    4,
		FacetPageSize:        100,
		DatabasePath:         "./data/pride_questions.db",
		DatabaseMaxConns:     4,
		RollupInterval:       time.Hour,
		AIProvider:           "gemini",
		GeminiModel:          "gemini-2.0-flash-exp",
		OpenAIModel:          "gpt-4o-mini",
		AITimeout:            60 * time.Second,
		AIEnabled:            true,
		SlackChannel:         "#general",
		SlackNotifyQuestions: true,
		SlackDailyReport:     true,
	}
}

// Load resolves the configuration. path may be empty, in which case
// DefaultConfigFile is used when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = os.Getenv(EnvPrefix + "_CONFIG")
		explicit = path != ""
	}
	if path == "" {
		path = DefaultConfigFile
	}
	if err := cfg.loadFile(path, explicit); err != nil {
		return nil, err
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be between 1 and 65535, got %d", c.Port))
	}
	if c.EnrichLimit < 1 {
		errs = append(errs, fmt.Errorf("enrich_limit must be positive, got %d", c.EnrichLimit))
	}
	if c.EnrichConcurrency < 1 {
		errs = append(errs, fmt.Errorf("enrich_concurrency must be positive, got %d", c.EnrichConcurrency))
	}
	if c.FacetPageSize < 1 {
		errs = append(errs, fmt.Errorf("facet_page_size must be positive, got %d", c.FacetPageSize))
	}
	switch strings.ToLower(c.LogFormat) {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be console or json, got %q", c.LogFormat))
	}
	switch strings.ToLower(c.AIProvider) {
	case "", "gemini", "openai":
	default:
		errs = append(errs, fmt.Errorf("ai_provider must be gemini or openai, got %q", c.AIProvider))
	}
	if c.DatabaseDSN == "" && c.DatabasePath == "" {
		errs = append(errs, errors.New("one of database_path or database_dsn is required"))
	}
	return errors.Join(errs...)
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// HasSlack reports whether a Slack webhook is configured.
func (c *Config) HasSlack() bool {
	return c.SlackWebhookURL != ""
}

// UsePostgres reports whether the telemetry store should use PostgreSQL.
func (c *Config) UsePostgres() bool {
	return strings.HasPrefix(c.DatabaseDSN, "postgres://") || strings.HasPrefix(c.DatabaseDSN, "postgresql://")
}

// Get returns the global configuration, loading it if necessary.
func Get() *Config {
	configOnce.Do(func() {
		cfg, err := Load("")
		if err != nil {
			cfg = Default()
		}
		configMu.Lock()
		globalConfig = cfg
		configMu.Unlock()
	})

	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}

// Set replaces the global configuration.
func Set(cfg *Config) {
	configOnce.Do(func() {})
	configMu.Lock()
	globalConfig = cfg
	configMu.Unlock()
}
