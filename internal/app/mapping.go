package app

import (
	"context"

	"kioskd/internal/config"
	"kioskd/internal/scheduler"
	"kioskd/internal/storage"
	logx "kioskd/pkg/logx"
)

// ValidateConfig resolves cfg and checks the parts Resolve cannot, such as
// the scheduler tick syntax. It is also the hot-reload validator.
func ValidateConfig(cfg *config.Config) (config.Resolved, error) {
	res, err := config.Resolve(cfg)
	if err != nil {
		return res, err
	}
	if _, err := scheduler.ParseTick(res.Scheduler.Tick); err != nil {
		return res, err
	}
	return res, nil
}

func validator(_ context.Context, cfg *config.Config) error {
	_, err := ValidateConfig(cfg)
	return err
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		Format:  cfg.Logging.Format,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(s config.StorageSettings) storage.Config {
	return storage.Config{Driver: s.Driver, Path: s.Path, BusyTimeout: s.BusyTimeout}
}

func mapSchedulerConfig(s config.SchedulerSettings) scheduler.Config {
	return scheduler.Config{Tick: s.Tick, Timezone: s.Timezone, MissAfter: s.MissAfter}
}
