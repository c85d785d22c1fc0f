package scheduler

import (
	"testing"
	"time"
)

func TestParseTickVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		kind     TickKind
		source   string
		duration time.Duration
	}{
		{name: "cron", raw: "*/5 * * * *", kind: TickCron, source: "cron"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", kind: TickCron, source: "cron"},
		{name: "descriptor", raw: "@every 30s", kind: TickCron, source: "cron"},
		{name: "duration", raw: "60s", kind: TickInterval, source: "duration", duration: time.Minute},
		{name: "prefixed interval", raw: "interval:45s", kind: TickInterval, source: "duration", duration: 45 * time.Second},
		{name: "every prefix", raw: "every:2m", kind: TickInterval, source: "duration", duration: 2 * time.Minute},
		{name: "hhmm", raw: "01:30", kind: TickInterval, source: "hhmm", duration: 90 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseTick(tt.raw)
			if err != nil {
				t.Fatalf("ParseTick(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Source != tt.source {
				t.Fatalf("Source = %s, want %s", got.Source, tt.source)
			}
			if tt.kind == TickInterval && got.Every != tt.duration {
				t.Fatalf("Every = %v, want %v", got.Every, tt.duration)
			}
			if _, err := got.Schedule(); err != nil {
				t.Fatalf("Schedule() error: %v", err)
			}
		})
	}
}

func TestParseTickInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-tick", "cron:", "61 * * * *", "500ms", "00:75"} {
		if _, err := ParseTick(raw); err == nil {
			t.Fatalf("ParseTick(%q) error = nil, want error", raw)
		}
	}
}
