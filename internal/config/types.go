package config

// Config is the root configuration for postflowd.
//
// It is stored as JSON or YAML (see yaml.go); all duration fields are Go
// duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Jobs controls the recurring job scheduler (publish tick, recurrence
	// pass, analytics pass).
	Jobs JobsConfig `json:"jobs"`

	// Posts controls conflict detection for scheduled posts.
	Posts PostsConfig `json:"posts"`

	// Platforms configures per-platform adapter pacing.
	Platforms map[string]PlatformConfig `json:"platforms,omitempty"`

	Storage *StorageConfig `json:"storage,omitempty"`
	Metrics *MetricsConfig `json:"metrics,omitempty"`
	Pprof   *PprofConfig   `json:"pprof,omitempty"`
}

type LoggingConfig struct {
	Level   string            `json:"level"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// JobsConfig controls the job scheduler.
//
// Defaults (when fields are omitted/zero):
//   - timezone: local
//   - history_size: 100
//   - retry_backoff: "5s"
//   - max_retries: 3
type JobsConfig struct {
	Enabled     bool   `json:"enabled"`
	Timezone    string `json:"timezone,omitempty"` // IANA TZ, e.g. "Europe/Berlin"
	HistorySize int    `json:"history_size,omitempty"`

	// RetryBackoff is the fixed delay before a failed job run is retried.
	RetryBackoff string `json:"retry_backoff,omitempty"`

	// MaxRetries is the default retry budget for jobs that don't set their own.
	MaxRetries int `json:"max_retries,omitempty"`
}

// PostsConfig controls post conflict detection.
//
// DailyLimits overrides the built-in per-platform daily ceilings
// (facebook 25, instagram 25, twitter 300, whatsapp 1000). Platforms not
// listed keep their defaults.
type PostsConfig struct {
	ConflictWindow string         `json:"conflict_window,omitempty"` // default "5m"
	DailyLimits    map[string]int `json:"daily_limits,omitempty"`
}

// PlatformConfig configures one platform adapter.
type PlatformConfig struct {
	Enabled    bool `json:"enabled"`
	RatePerSec int  `json:"rate_per_sec,omitempty"` // adapter call pacing; 0 = default
}

// StorageConfig controls the optional archive store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./postflow.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// MetricsConfig controls the optional Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:9100"
}

// PprofConfig controls the optional pprof endpoint. Keep it on loopback.
type PprofConfig struct {
	Enabled              bool   `json:"enabled"`
	Addr                 string `json:"addr,omitempty"`   // default "127.0.0.1:6060"
	Prefix               string `json:"prefix,omitempty"` // default "/debug/pprof"
	MutexProfileFraction int    `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int    `json:"block_profile_rate,omitempty"`
}
