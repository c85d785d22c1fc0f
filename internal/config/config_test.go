package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDecodeYAMLAndJSON(t *testing.T) {
	t.Parallel()

	yml := `
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./data/kioskd.db
scheduler:
  enabled: true
  tick: 30s
  miss_after: 2h
ledger:
  default: cartons
http:
  enabled: true
  addr: 127.0.0.1:9090
`
	cfg, err := Decode("kioskd.yaml", []byte(yml))
	if err != nil {
		t.Fatalf("Decode(yaml) error = %v", err)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Scheduler.Tick != "30s" || cfg.HTTP.Addr != "127.0.0.1:9090" {
		t.Fatalf("Decode(yaml) = %+v", cfg)
	}

	js := `{"logging":{"level":"warn"},"storage":{"driver":"memory"}}`
	cfg, err = Decode("kioskd.json", []byte(js))
	if err != nil {
		t.Fatalf("Decode(json) error = %v", err)
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("logging.level = %q, want warn", cfg.Logging.Level)
	}
}

func TestDecodeRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		file string
		data string
	}{
		{"unknown json key", "c.json", `{"logging":{"levle":"info"}}`},
		{"unknown yaml key", "c.yml", "schedular:\n  enabled: true\n"},
		{"trailing json", "c.json", `{} {}`},
		{"bad yaml", "c.yaml", "logging: [\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Decode(tc.file, []byte(tc.data)); err == nil {
				t.Fatalf("Decode(%q) error = nil, want error", tc.data)
			}
		})
	}
}

func TestResolveDefaults(t *testing.T) {
	t.Parallel()

	r, err := Resolve(&Config{})
	if err != nil {
		t.Fatalf("Resolve error = %v", err)
	}
	if r.Storage.Driver != "memory" {
		t.Fatalf("storage.driver = %q, want memory", r.Storage.Driver)
	}
	if r.Scheduler.Tick != DefaultTick {
		t.Fatalf("scheduler.tick = %q, want %q", r.Scheduler.Tick, DefaultTick)
	}
	if r.Scheduler.DueOffset != 30*time.Minute {
		t.Fatalf("scheduler.due_offset = %v, want 30m", r.Scheduler.DueOffset)
	}
	if r.Scheduler.MissAfter != 0 {
		t.Fatalf("scheduler.miss_after = %v, want 0", r.Scheduler.MissAfter)
	}
	if !r.Scheduler.PersistRotation {
		t.Fatalf("scheduler.persist_rotation = false, want true")
	}
	if r.Ledger.Default != "cartons" || r.Ledger.RetryMax != 3 {
		t.Fatalf("ledger = %+v", r.Ledger)
	}
	if r.HTTP.Addr != DefaultHTTPAddr {
		t.Fatalf("http.addr = %q", r.HTTP.Addr)
	}
}

func TestResolveReportsAllErrors(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Logging:   LoggingConfig{Format: "xml"},
		Storage:   StorageConfig{Driver: "sqlite"},
		Scheduler: SchedulerConfig{DueOffset: "soon", Timezone: "Mars/Olympus"},
		HTTP:      HTTPConfig{RatePerSec: -1, ReadTimeout: "-2s"},
	}
	_, err := Resolve(cfg)
	if err == nil {
		t.Fatalf("Resolve error = nil, want error")
	}
	for _, want := range []string{"logging.format", "storage.path", "scheduler.due_offset", "scheduler.timezone", "http.rate_per_sec", "http.read_timeout"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("Resolve error %q missing %q", err, want)
		}
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	oldCfg := Default()
	newCfg := Default()
	newCfg.Scheduler.Tick = "30s"
	newCfg.Logging.Level = "debug"

	changed, _, restart := SummarizeConfigChange(oldCfg, newCfg)
	if strings.Join(changed, ",") != "logging,scheduler" {
		t.Fatalf("changed = %v, want [logging scheduler]", changed)
	}
	if restart {
		t.Fatalf("restart = true, want false")
	}

	newCfg.Storage.Driver = "sqlite"
	_, _, restart = SummarizeConfigChange(oldCfg, newCfg)
	if !restart {
		t.Fatalf("restart = false after storage change, want true")
	}
}

func TestSourceRefreshPublishesChanges(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "kioskd.json")
	write := func(s string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(s), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
	}
	write(`{"logging":{"level":"info"}}`)

	m := NewSource(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load error = %v", err)
	}
	ch, cancel := m.Subscribe(1)
	defer cancel()

	ctx := context.Background()
	if m.refresh(ctx) {
		t.Fatalf("reload with unchanged content published")
	}

	write(`{"logging":{"level":"debug"}}`)
	if !m.refresh(ctx) {
		t.Fatalf("reload with changed content did not publish")
	}
	select {
	case cfg := <-ch:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("published level = %q, want debug", cfg.Logging.Level)
		}
	default:
		t.Fatalf("no config published")
	}

	m.SetValidator(func(context.Context, *Config) error { return os.ErrInvalid })
	write(`{"logging":{"level":"error"}}`)
	if m.refresh(ctx) {
		t.Fatalf("refresh published a config the validator rejected")
	}
	if got := m.Current().Logging.Level; got != "debug" {
		t.Fatalf("committed level = %q, want debug", got)
	}
}

func TestSubscribeKeepsNewestAndCancels(t *testing.T) {
	t.Parallel()

	s := NewSource("unused.json")
	ch, cancel := s.Subscribe(1)

	s.broadcast(&Config{Logging: LoggingConfig{Level: "info"}})
	s.broadcast(&Config{Logging: LoggingConfig{Level: "warn"}})
	if got := (<-ch).Logging.Level; got != "warn" {
		t.Fatalf("received level = %q, want newest (warn)", got)
	}

	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("channel still open after cancel")
	}
	s.broadcast(&Config{})
}
