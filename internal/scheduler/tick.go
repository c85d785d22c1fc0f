package scheduler

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// TickKind describes how a tick string is interpreted.
type TickKind int

const (
	TickCron TickKind = iota
	TickInterval
)

// Tick is a parsed driver tick.
//
// Supported forms:
//   - Interval duration: "60s", "5m"
//   - Interval HH:MM: "00:05" (5 minutes)
//   - Cron: "*/1 * * * *", "@every 30s", "@hourly"
//
// Optional prefixes "cron:" and "interval:"/"every:" force the kind.
type Tick struct {
	Kind   TickKind
	Cron   string
	Every  time.Duration
	Source string // "cron" | "duration" | "hhmm"
}

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// ParseTick parses and validates a tick string.
func ParseTick(raw string) (Tick, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Tick{}, fmt.Errorf("tick required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return cronTick(strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "interval:"):
		return intervalTick(strings.TrimSpace(s[len("interval:"):]))
	case strings.HasPrefix(low, "every:"):
		return intervalTick(strings.TrimSpace(s[len("every:"):]))
	}

	// whitespace or a leading '@' means cron
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return cronTick(s)
	}
	if t, err := intervalTick(s); err == nil {
		return t, nil
	}
	return Tick{}, fmt.Errorf(
		"invalid tick %q (use a duration like '60s', HH:MM like '00:05', or cron like '* * * * *')",
		raw,
	)
}

func cronTick(expr string) (Tick, error) {
	if expr == "" {
		return Tick{}, fmt.Errorf("cron expression required")
	}
	if _, err := cronParser.Parse(expr); err != nil {
		return Tick{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return Tick{Kind: TickCron, Cron: expr, Source: "cron"}, nil
}

func intervalTick(v string) (Tick, error) {
	if v == "" {
		return Tick{}, fmt.Errorf("interval required")
	}
	src := "duration"
	var (
		d   time.Duration
		err error
	)
	if reHHMM.MatchString(v) {
		src = "hhmm"
		d, err = parseHHMMDuration(v)
	} else {
		d, err = time.ParseDuration(v)
	}
	if err != nil {
		return Tick{}, fmt.Errorf("invalid interval %q: %w", v, err)
	}
	if d < time.Second {
		return Tick{}, fmt.Errorf("interval must be >= 1s")
	}
	return Tick{Kind: TickInterval, Every: d, Source: src}, nil
}

func parseHHMMDuration(v string) (time.Duration, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, fmt.Errorf("invalid HH:MM %q", v)
	}
	var hh int
	for i := 0; i < len(m[1]); i++ {
		hh = hh*10 + int(m[1][i]-'0')
	}
	mm := int(m[2][0]-'0')*10 + int(m[2][1]-'0')
	if mm > 59 {
		return 0, fmt.Errorf("invalid minutes in %q", v)
	}
	return time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute, nil
}

// Schedule returns the cron schedule for t.
func (t Tick) Schedule() (cron.Schedule, error) {
	if t.Kind == TickInterval {
		return cron.Every(t.Every), nil
	}
	return cronParser.Parse(t.Cron)
}

func (t Tick) String() string {
	if t.Kind == TickInterval {
		return "every " + t.Every.String()
	}
	return t.Cron
}
