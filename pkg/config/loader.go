package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Sentinel errors for configuration loading.
var (
	ErrInvalidYAML = errors.New("invalid YAML")
)

// Environment variable overrides, applied after the YAML layer.
// These match the names the original Python server used, so existing
// MCP client configurations keep working.
const (
	EnvAPIKey       = "DISCOVERY_API_KEY"
	EnvAPIURL       = "DISCOVERY_API_URL"
	EnvDashboardURL = "DISCOVERY_DASHBOARD_URL"
)

// Load reads configuration from the optional YAML file at path,
// layers it over the built-in defaults, applies environment overrides,
// and validates the result. An empty path or a missing file is not an
// error; defaults plus environment are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		fileCfg, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		if fileCfg != nil {
			// File values override defaults; zero values leave defaults intact.
			if err := mergo.Merge(cfg, fileCfg, mergo.WithOverride); err != nil {
				return nil, fmt.Errorf("merge config %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	slog.Info("Configuration loaded",
		"api_base_url", cfg.APIBaseURL,
		"dashboard_base_url", cfg.DashboardBaseURL,
		"api_key_set", cfg.APIKey != "",
		"http_enabled", cfg.HTTP.Enabled)

	return cfg, nil
}

func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("Config file not found, using defaults", "path", path)
			return nil, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	data = ExpandEnv(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvAPIKey); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv(EnvAPIURL); v != "" {
		cfg.APIBaseURL = v
	}
	if v := os.Getenv(EnvDashboardURL); v != "" {
		cfg.DashboardBaseURL = v
	}
}

// Validate checks the resolved configuration for values that would
// break at runtime. It does not require an API key: unauthenticated
// tools (list_plans, signup) work without one, and authenticated tools
// accept a per-call key.
func (c *Config) Validate() error {
	if err := validateBaseURL("api_base_url", c.APIBaseURL); err != nil {
		return err
	}
	if err := validateBaseURL("dashboard_base_url", c.DashboardBaseURL); err != nil {
		return err
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}

	if c.Client.MaxAttempts < 1 {
		return fmt.Errorf("client.max_attempts must be at least 1; got %d", c.Client.MaxAttempts)
	}
	if c.Client.RetryBackoffMin <= 0 || c.Client.RetryBackoffMax < c.Client.RetryBackoffMin {
		return fmt.Errorf("client retry backoff bounds are invalid: min=%s max=%s",
			c.Client.RetryBackoffMin, c.Client.RetryBackoffMax)
	}
	if c.Client.RequestTimeout <= 0 {
		return fmt.Errorf("client.request_timeout must be positive; got %s", c.Client.RequestTimeout)
	}
	if c.Jobs.AbandonedTTL <= 0 {
		return fmt.Errorf("jobs.abandoned_ttl must be positive; got %s", c.Jobs.AbandonedTTL)
	}
	if c.Account.SnapshotStaleness <= 0 {
		return fmt.Errorf("account.snapshot_staleness must be positive; got %s", c.Account.SnapshotStaleness)
	}
	if c.HTTP.Enabled && c.HTTP.Addr == "" {
		return errors.New("http.addr is required when http.enabled is true")
	}
	return nil
}

func validateBaseURL(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL; got %q", field, raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https; got %q", field, raw)
	}
	if strings.HasSuffix(raw, "/") {
		return fmt.Errorf("%s must not end with a trailing slash; got %q", field, raw)
	}
	return nil
}
