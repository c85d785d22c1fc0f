package config

// Config is the on-disk kioskd configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Ledger    LedgerConfig    `json:"ledger"`
	HTTP      HTTPConfig      `json:"http"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	Format  string      `json:"format,omitempty"` // "console" or "json"
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/kioskd.db" }
//
// Drivers: "memory" (no persistence), "file" (JSONL journal + snapshot,
// path is a file prefix), "sqlite" (path is the database file).
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// SchedulerConfig controls the recurring-task driver.
//
// Defaults (when fields are omitted/zero):
//   - tick: "60s"
//   - due_offset: "30m"
//   - miss_after: "0s" (overdue reaper disabled)
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// Tick accepts a Go duration ("60s"), "HH:MM", or a cron expression.
	Tick string `json:"tick,omitempty"`

	// Timezone used for cron-style ticks.
	Timezone string `json:"timezone,omitempty"`

	// DueOffset is added to the spawn time to produce an instance's due_at.
	DueOffset string `json:"due_offset,omitempty"`

	// MissAfter marks pending instances missed once due_at+miss_after has passed.
	MissAfter string `json:"miss_after,omitempty"`

	// PersistRotation stores the rotation cursor so restarts resume the order.
	PersistRotation *bool `json:"persist_rotation,omitempty"`
}

// LedgerConfig controls the append-only counters.
type LedgerConfig struct {
	// Default is the ledger name used when a request omits one.
	Default string `json:"default,omitempty"`
	// RetryMax bounds optimistic append retries on head conflicts.
	RetryMax int `json:"retry_max,omitempty"`
}

// HTTPConfig controls the management API.
//
// Security note: the API has no authentication of its own; bind to
// localhost or put it behind the kiosk's authenticating proxy.
type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8080"

	RatePerSec int `json:"rate_per_sec,omitempty"`
	Burst      int `json:"burst,omitempty"`

	// Pprof mounts the runtime profiler under /debug on the API listener.
	Pprof bool `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// Default returns the config used when no file is given.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Storage: StorageConfig{Driver: "memory"},
		Scheduler: SchedulerConfig{
			Enabled:   true,
			Tick:      "60s",
			DueOffset: "30m",
		},
		Ledger: LedgerConfig{Default: "cartons", RetryMax: 3},
		HTTP: HTTPConfig{
			Enabled:    true,
			Addr:       "127.0.0.1:8080",
			RatePerSec: 50,
			Burst:      100,
		},
	}
}
