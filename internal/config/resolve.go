package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Resolved holds the parsed, defaulted view of a Config. Components take
// these typed values instead of raw duration strings.
type Resolved struct {
	Scheduler SchedulerSettings
	HTTP      HTTPSettings
	Ledger    LedgerSettings
	Storage   StorageSettings
}

type SchedulerSettings struct {
	Enabled         bool
	Tick            string
	Timezone        string
	DueOffset       time.Duration
	MissAfter       time.Duration
	PersistRotation bool
}

type HTTPSettings struct {
	Enabled      bool
	Addr         string
	RatePerSec   int
	Burst        int
	Pprof        bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type LedgerSettings struct {
	Default  string
	RetryMax int
}

type StorageSettings struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration
}

const (
	DefaultTick      = "60s"
	DefaultDueOffset = 30 * time.Minute
	DefaultLedger    = "cartons"
	DefaultHTTPAddr  = "127.0.0.1:8080"
)

// Resolve validates cfg and fills defaults. All problems are reported
// together.
func Resolve(cfg *Config) (Resolved, error) {
	if cfg == nil {
		cfg = Default()
	}
	var (
		out  Resolved
		errs []error
	)
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Format)) {
	case "", "console", "json":
	default:
		add(fmt.Errorf("logging.format: want console or json, got %q", cfg.Logging.Format))
	}

	// storage
	out.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if out.Storage.Driver == "" {
		out.Storage.Driver = "memory"
	}
	out.Storage.Path = strings.TrimSpace(cfg.Storage.Path)
	switch out.Storage.Driver {
	case "memory":
	case "file", "sqlite":
		if out.Storage.Path == "" {
			add(fmt.Errorf("storage.path: required for driver %q", out.Storage.Driver))
		}
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	bt, err := duration("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	add(err)
	out.Storage.BusyTimeout = bt

	// scheduler
	sc := cfg.Scheduler
	out.Scheduler.Enabled = sc.Enabled
	out.Scheduler.Tick = strings.TrimSpace(sc.Tick)
	if out.Scheduler.Tick == "" {
		out.Scheduler.Tick = DefaultTick
	}
	out.Scheduler.Timezone = strings.TrimSpace(sc.Timezone)
	if out.Scheduler.Timezone != "" {
		if _, err := time.LoadLocation(out.Scheduler.Timezone); err != nil {
			add(fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	due, err := duration("scheduler.due_offset", sc.DueOffset, DefaultDueOffset)
	add(err)
	out.Scheduler.DueOffset = due
	miss, err := duration("scheduler.miss_after", sc.MissAfter, 0)
	add(err)
	out.Scheduler.MissAfter = miss
	out.Scheduler.PersistRotation = sc.PersistRotation == nil || *sc.PersistRotation

	// ledger
	out.Ledger.Default = strings.TrimSpace(cfg.Ledger.Default)
	if out.Ledger.Default == "" {
		out.Ledger.Default = DefaultLedger
	}
	out.Ledger.RetryMax = cfg.Ledger.RetryMax
	if out.Ledger.RetryMax <= 0 {
		out.Ledger.RetryMax = 3
	}

	// http
	h := cfg.HTTP
	out.HTTP.Enabled = h.Enabled
	out.HTTP.Addr = strings.TrimSpace(h.Addr)
	if out.HTTP.Addr == "" {
		out.HTTP.Addr = DefaultHTTPAddr
	}
	if h.RatePerSec < 0 || h.Burst < 0 {
		add(errors.New("http.rate_per_sec/http.burst: must be >= 0"))
	}
	out.HTTP.RatePerSec = h.RatePerSec
	out.HTTP.Pprof = h.Pprof
	out.HTTP.Burst = h.Burst
	if out.HTTP.RatePerSec > 0 && out.HTTP.Burst == 0 {
		out.HTTP.Burst = out.HTTP.RatePerSec
	}
	rt, err := duration("http.read_timeout", h.ReadTimeout, 10*time.Second)
	add(err)
	wt, err := duration("http.write_timeout", h.WriteTimeout, 10*time.Second)
	add(err)
	it, err := duration("http.idle_timeout", h.IdleTimeout, 60*time.Second)
	add(err)
	out.HTTP.ReadTimeout, out.HTTP.WriteTimeout, out.HTTP.IdleTimeout = rt, wt, it

	if len(errs) > 0 {
		return Resolved{}, errors.Join(errs...)
	}
	return out, nil
}

// duration parses a Go duration string for key. Empty and zero values
// yield def; negative values are rejected.
func duration(key, raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %w", key, err)
	case d < 0:
		return 0, fmt.Errorf("%s: %q is negative", key, raw)
	case d == 0:
		return def, nil
	}
	return d, nil
}
