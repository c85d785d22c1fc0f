package app

import (
	"context"
	"strings"

	"kioskd/internal/config"
	logx "kioskd/pkg/logx"
)

func (a *App) startReload() {
	sub, cancel := a.cfgSrc.Subscribe(8)
	a.sup.Go("config.reload", func(ctx context.Context) error {
		defer cancel()
		last := a.cfgSrc.Current()
		for {
			select {
			case <-ctx.Done():
				return nil
			case next, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts; only the newest config matters.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(ctx, last, next)
				last = next
			}
		}
	})
}

// applyConfig pushes a validated config to the live components. Storage
// and listener changes only take effect after a restart.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	res, err := ValidateConfig(next)
	if err != nil {
		a.log.Warn("reloaded config rejected; keeping previous", logx.Err(err))
		return
	}

	a.logs.Apply(mapLogConfig(next))

	wasEnabled := a.res.Scheduler.Enabled
	if err := a.driver.Apply(mapSchedulerConfig(res.Scheduler)); err != nil {
		a.log.Warn("scheduler config not applied", logx.Err(err))
	}
	a.tasks.SetDueOffset(res.Scheduler.DueOffset)
	switch {
	case wasEnabled && !res.Scheduler.Enabled:
		a.driver.Stop()
		a.log.Info("scheduler disabled via config")
	case !wasEnabled && res.Scheduler.Enabled:
		if err := a.driver.Start(ctx); err != nil {
			a.log.Warn("scheduler failed to start", logx.Err(err))
		} else {
			a.log.Info("scheduler enabled via config")
		}
	}

	if a.api != nil {
		a.api.SetRate(res.HTTP.RatePerSec, res.HTTP.Burst)
	}

	// Keep restart-only settings as they were until the process restarts.
	res.Storage = a.res.Storage
	res.HTTP.Enabled, res.HTTP.Addr = a.res.HTTP.Enabled, a.res.HTTP.Addr
	res.Ledger = a.res.Ledger
	a.res = res

	if restart {
		a.log.Warn("config change requires restart to take effect", logx.String("changed", strings.Join(sections, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
