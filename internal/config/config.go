package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the static service configuration
type Config struct {
	HTTPAddr string        `yaml:"http_addr"`
	LogLevel string        `yaml:"log_level"`
	NATS     NATSConfig    `yaml:"nats"`
	Rules    RulesConfig   `yaml:"rules"`
	Dataset  DatasetConfig `yaml:"dataset"`
	// IncludeAliasDataset is the default for requests that do not say
	IncludeAliasDataset bool `yaml:"include_malpedia_dataset"`
	CacheSize           int  `yaml:"cache_size"`
}

// NATSConfig configures the request/result transport
type NATSConfig struct {
	Enabled        bool   `yaml:"enabled"`
	URL            string `yaml:"url"`
	RequestSubject string `yaml:"request_subject"`
	ResultSubject  string `yaml:"result_subject"`
	Queue          string `yaml:"queue"`
}

// RulesConfig points at the tagging, expansion and taxonomy files.
// An empty Dir uses the bundled files.
type RulesConfig struct {
	Dir string `yaml:"dir"`
}

// DatasetConfig configures the alias dataset. An empty Path uses the
// bundled dataset; UpdatesDir, when set, is searched first.
type DatasetConfig struct {
	Path       string `yaml:"path"`
	UpdatesDir string `yaml:"updates_dir"`
	Watch      bool   `yaml:"watch"`
	DebounceMs int    `yaml:"debounce_ms"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		HTTPAddr: ":8080",
		LogLevel: "info",
		NATS: NATSConfig{
			Enabled:        true,
			URL:            "nats://localhost:4222",
			RequestSubject: "avclass.requests",
			ResultSubject:  "avclass.results",
			Queue:          "avclass",
		},
		Dataset: DatasetConfig{
			DebounceMs: 1000,
		},
		IncludeAliasDataset: false,
		CacheSize:           4096,
	}
}

// Load reads the YAML file at path (if any) over the defaults, then applies
// AVCLASS_* environment overrides
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from the environment
func (c *Config) applyEnv() {
	c.HTTPAddr = getEnv("AVCLASS_HTTP_ADDR", c.HTTPAddr)
	c.LogLevel = getEnv("AVCLASS_LOG_LEVEL", c.LogLevel)
	c.NATS.Enabled = getEnvBool("AVCLASS_NATS_ENABLED", c.NATS.Enabled)
	c.NATS.URL = getEnv("AVCLASS_NATS_URL", c.NATS.URL)
	c.NATS.RequestSubject = getEnv("AVCLASS_REQUEST_SUBJECT", c.NATS.RequestSubject)
	c.NATS.ResultSubject = getEnv("AVCLASS_RESULT_SUBJECT", c.NATS.ResultSubject)
	c.NATS.Queue = getEnv("AVCLASS_QUEUE", c.NATS.Queue)
	c.Rules.Dir = getEnv("AVCLASS_RULES_DIR", c.Rules.Dir)
	c.Dataset.Path = getEnv("AVCLASS_DATASET_PATH", c.Dataset.Path)
	c.Dataset.UpdatesDir = getEnv("AVCLASS_UPDATES_DIR", c.Dataset.UpdatesDir)
	c.Dataset.Watch = getEnvBool("AVCLASS_WATCH_UPDATES", c.Dataset.Watch)
	c.Dataset.DebounceMs = getEnvInt("AVCLASS_DEBOUNCE_MS", c.Dataset.DebounceMs)
	c.IncludeAliasDataset = getEnvBool("AVCLASS_INCLUDE_MALPEDIA_DATASET", c.IncludeAliasDataset)
	c.CacheSize = getEnvInt("AVCLASS_CACHE_SIZE", c.CacheSize)
}

// Validate checks the configuration for values the service cannot run with
func (c *Config) Validate() error {
	var errs []string

	if c.HTTPAddr == "" {
		errs = append(errs, "http_addr is required")
	}
	if c.NATS.Enabled {
		if c.NATS.URL == "" {
			errs = append(errs, "nats.url is required when nats is enabled")
		}
		if c.NATS.RequestSubject == "" {
			errs = append(errs, "nats.request_subject is required when nats is enabled")
		}
		if c.NATS.ResultSubject == "" {
			errs = append(errs, "nats.result_subject is required when nats is enabled")
		}
	}
	if c.Dataset.Watch && c.Dataset.UpdatesDir == "" {
		errs = append(errs, "dataset.updates_dir is required when dataset.watch is set")
	}
	if c.Dataset.DebounceMs < 0 {
		errs = append(errs, "dataset.debounce_ms must not be negative")
	}
	if c.CacheSize < 0 {
		errs = append(errs, "cache_size must not be negative")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("unknown log_level %q", c.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as an integer with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets an environment variable as a boolean with a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
