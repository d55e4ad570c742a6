package config

import (
	"encoding/json"
	"os"

	"github.com/dimyferdiana/expense-tracker-sub001/internal/flagx"
	"github.com/dimyferdiana/expense-tracker-sub001/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Intervals use
// timex.Duration so JSON may specify them as strings like "5m" or as integer
// nanoseconds.
type JsonConfig struct {
	DatabasePath       string         `json:"database_path"`
	RemoteBaseURL      string         `json:"remote_base_url"`
	AccountID          string         `json:"account_id"`
	RemoteTimeout      timex.Duration `json:"remote_timeout"`
	SyncBaseInterval   timex.Duration `json:"sync_base_interval"`
	SyncMaxInterval    timex.Duration `json:"sync_max_interval"`
	SyncFailureLimit   int            `json:"sync_failure_limit"`
	TombstoneRetention timex.Duration `json:"tombstone_retention"`
	MetricsAddr        string         `json:"metrics_addr"`
}

// parseJson overlays cfg with values from the JSON file named by the -c or
// -config flag. Missing flag means no JSON is loaded. Zero-valued JSON fields
// leave the existing value alone so defaults survive a partial file.
//
// Panics on read or unmarshal errors (caller should recover if desired).
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.DatabasePath != "" {
		cfg.DatabasePath = jc.DatabasePath
	}
	if jc.RemoteBaseURL != "" {
		cfg.RemoteBaseURL = jc.RemoteBaseURL
	}
	if jc.AccountID != "" {
		cfg.AccountID = jc.AccountID
	}
	if jc.RemoteTimeout.Duration != 0 {
		cfg.RemoteTimeout = jc.RemoteTimeout.Duration
	}
	if jc.SyncBaseInterval.Duration != 0 {
		cfg.SyncBaseInterval = jc.SyncBaseInterval.Duration
	}
	if jc.SyncMaxInterval.Duration != 0 {
		cfg.SyncMaxInterval = jc.SyncMaxInterval.Duration
	}
	if jc.SyncFailureLimit != 0 {
		cfg.SyncFailureLimit = jc.SyncFailureLimit
	}
	if jc.TombstoneRetention.Duration != 0 {
		cfg.TombstoneRetention = jc.TombstoneRetention.Duration
	}
	if jc.MetricsAddr != "" {
		cfg.MetricsAddr = jc.MetricsAddr
	}
}
