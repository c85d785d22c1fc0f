package config

import (
	"strings"

	logx "kioskd/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections, structured
// attrs for logging, and whether any change needs a process restart to take
// effect (storage, ledger settings, or the http listener).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, bool) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)
	restart := false

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.String("logging.format", newCfg.Logging.Format),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		restart = true
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.String("storage.path", strings.TrimSpace(newCfg.Storage.Path)),
		)
	}

	os, ns := oldCfg.Scheduler, newCfg.Scheduler
	if os.Enabled != ns.Enabled ||
		strings.TrimSpace(os.Tick) != strings.TrimSpace(ns.Tick) ||
		strings.TrimSpace(os.Timezone) != strings.TrimSpace(ns.Timezone) ||
		strings.TrimSpace(os.DueOffset) != strings.TrimSpace(ns.DueOffset) ||
		strings.TrimSpace(os.MissAfter) != strings.TrimSpace(ns.MissAfter) ||
		boolOr(os.PersistRotation, true) != boolOr(ns.PersistRotation, true) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", ns.Enabled),
			logx.String("scheduler.tick", strings.TrimSpace(ns.Tick)),
			logx.String("scheduler.timezone", strings.TrimSpace(ns.Timezone)),
			logx.String("scheduler.miss_after", strings.TrimSpace(ns.MissAfter)),
		)
	}

	if oldCfg.Ledger != newCfg.Ledger {
		changed = append(changed, "ledger")
		restart = true
		attrs = append(attrs,
			logx.String("ledger.default", newCfg.Ledger.Default),
			logx.Int("ledger.retry_max", newCfg.Ledger.RetryMax),
		)
	}

	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		if oldCfg.HTTP.Enabled != newCfg.HTTP.Enabled ||
			strings.TrimSpace(oldCfg.HTTP.Addr) != strings.TrimSpace(newCfg.HTTP.Addr) {
			restart = true
		}
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", strings.TrimSpace(newCfg.HTTP.Addr)),
			logx.Int("http.rate_per_sec", newCfg.HTTP.RatePerSec),
		)
	}

	if len(changed) > 0 {
		attrs = append(attrs, logx.Bool("restart_required", restart))
	}
	return changed, attrs, restart
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
