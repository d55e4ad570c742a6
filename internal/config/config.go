package config

import "time"

// Config holds runtime settings for the sync daemon.
//
// Durations are time.Duration values; the JSON loader also accepts strings
// like "5m".
type Config struct {
	// DatabasePath is the SQLite file backing the local replica.
	DatabasePath string
	// RemoteBaseURL is the base URL of the remote sync API.
	RemoteBaseURL string
	// AccountID selects which account's data this process manages.
	AccountID string
	// RemoteTimeout bounds each remote HTTP request.
	RemoteTimeout time.Duration
	// SyncBaseInterval is the scheduler's interval after a successful cycle.
	SyncBaseInterval time.Duration
	// SyncMaxInterval caps the backed-off interval after failures.
	SyncMaxInterval time.Duration
	// SyncFailureLimit disables automatic sync after this many consecutive
	// failures. A successful manual sync re-enables it.
	SyncFailureLimit int
	// TombstoneRetention is how long soft-deleted records are kept before
	// they are purged from both replicas.
	TombstoneRetention time.Duration
	// MetricsAddr is the listen address for the Prometheus /metrics endpoint.
	// Empty disables it.
	MetricsAddr string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.DatabasePath = "expense-tracker.db"
	c.RemoteBaseURL = "http://127.0.0.1:8080"
	c.AccountID = "default"
	c.RemoteTimeout = 30 * time.Second
	c.SyncBaseInterval = 5 * time.Minute
	c.SyncMaxInterval = 30 * time.Minute
	c.SyncFailureLimit = 5
	c.TombstoneRetention = 720 * time.Hour
	c.MetricsAddr = "127.0.0.1:9090"
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
