package scheduler

import (
	"time"

	logx "kioskd/pkg/logx"
)

const templateWarnThrottle = 5 * time.Minute

// reportTemplateError logs a per-template failure at warn, at most once per
// throttle window per template; repeats go to debug.
func (d *Driver) reportTemplateError(templateID string, err error) {
	if err == nil {
		return
	}
	now := time.Now()
	d.warnMu.Lock()
	last := d.lastWarn[templateID]
	throttled := !last.IsZero() && now.Sub(last) < templateWarnThrottle
	if !throttled {
		d.lastWarn[templateID] = now
	}
	d.warnMu.Unlock()

	if throttled {
		d.log.Debug("template processing failed (repeat)", logx.String("template_id", templateID), logx.Err(err))
		return
	}
	d.log.Warn("template processing failed", logx.String("template_id", templateID), logx.Err(err))
}

func (d *Driver) clearTemplateError(templateID string) {
	d.warnMu.Lock()
	delete(d.lastWarn, templateID)
	d.warnMu.Unlock()
}
