// Package config loads and validates discovery-mcp configuration.
//
// Configuration comes from three layers, lowest priority first:
// built-in defaults, an optional discovery.yaml file, and environment
// variables (DISCOVERY_API_KEY, DISCOVERY_API_URL,
// DISCOVERY_DASHBOARD_URL). YAML values may reference environment
// variables with {{.VAR}} template syntax.
package config

import "time"

// Config is the fully resolved configuration, ready for use.
type Config struct {
	// APIBaseURL is the Discovery Engine API service (plans, signup,
	// account, billing).
	APIBaseURL string `yaml:"api_base_url"`

	// DashboardBaseURL is the Discovery Dashboard service (uploads,
	// run submission, status, results).
	DashboardBaseURL string `yaml:"dashboard_base_url"`

	// APIKey is the default API key (disco_...). Tool calls may
	// override it per invocation; empty means callers must supply one.
	APIKey string `yaml:"api_key"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	Client  *ClientConfig  `yaml:"client"`
	Jobs    *JobsConfig    `yaml:"jobs"`
	Account *AccountConfig `yaml:"account"`
	HTTP    *HTTPConfig    `yaml:"http"`
}

// ClientConfig controls the HTTP transport client.
type ClientConfig struct {
	// RequestTimeout is the per-call deadline for API and dashboard requests.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// UploadTimeout is the deadline for dataset uploads to presigned URLs.
	// Uploads can legitimately take minutes for files near the size ceiling.
	UploadTimeout time.Duration `yaml:"upload_timeout"`

	// MaxAttempts is the total number of attempts for a request that
	// fails transiently (initial try included).
	MaxAttempts int `yaml:"max_attempts"`

	// RetryBackoffMin and RetryBackoffMax bound the jittered backoff
	// between attempts.
	RetryBackoffMin time.Duration `yaml:"retry_backoff_min"`
	RetryBackoffMax time.Duration `yaml:"retry_backoff_max"`
}

// JobsConfig controls the in-memory job registry.
type JobsConfig struct {
	// AbandonedTTL is how long a non-terminal job may go unpolled
	// before it is evicted from the registry. The remote run keeps
	// going; only the local handle is dropped.
	AbandonedTTL time.Duration `yaml:"abandoned_ttl"`

	// SweepInterval is how often the eviction sweep runs.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// AccountConfig controls the account snapshot cache.
type AccountConfig struct {
	// SnapshotStaleness is the maximum age of a cached account
	// snapshot before Snapshot() forces a refresh.
	SnapshotStaleness time.Duration `yaml:"snapshot_staleness"`
}

// HTTPConfig controls the optional Streamable HTTP transport mode.
// When disabled the server speaks MCP over stdio.
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns the built-in configuration. Values mirror the
// production deployment endpoints.
func Default() *Config {
	return &Config{
		APIBaseURL:       "https://leap-labs-production--discovery-api.modal.run",
		DashboardBaseURL: "https://disco.leap-labs.com",
		LogLevel:         "info",
		Client: &ClientConfig{
			RequestTimeout:  30 * time.Second,
			UploadTimeout:   5 * time.Minute,
			MaxAttempts:     3,
			RetryBackoffMin: 500 * time.Millisecond,
			RetryBackoffMax: 4 * time.Second,
		},
		Jobs: &JobsConfig{
			AbandonedTTL:  1 * time.Hour,
			SweepInterval: 5 * time.Minute,
		},
		Account: &AccountConfig{
			SnapshotStaleness: 1 * time.Minute,
		},
		HTTP: &HTTPConfig{
			Enabled: false,
			Addr:    ":8080",
		},
	}
}
