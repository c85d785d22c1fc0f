// Package app wires the kioskd components together and owns their
// lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"kioskd/internal/api"
	"kioskd/internal/audit"
	"kioskd/internal/clock"
	"kioskd/internal/config"
	"kioskd/internal/eventbus"
	"kioskd/internal/ledger"
	"kioskd/internal/rotation"
	"kioskd/internal/runtime/supervisor"
	"kioskd/internal/scheduler"
	"kioskd/internal/storage"
	"kioskd/internal/tasks"
	logx "kioskd/pkg/logx"
)

type Options struct {
	// ConfigPath is the JSON/YAML file to load and watch. Empty means
	// Config (or config.Default()) with no hot reload.
	ConfigPath string
	Config     *config.Config
	Clock      clock.Clock
}

type App struct {
	cfgSrc *config.Source
	res    config.Resolved
	clk    clock.Clock

	sup  *supervisor.Supervisor
	log  logx.Logger
	logs *logx.Service

	bus   eventbus.Bus
	store storage.Store

	rot       *rotation.Rotator
	tasks     *tasks.Manager
	templates *tasks.Templates
	ledger    *ledger.Engine
	driver    *scheduler.Driver
	api       *api.Server
}

func New(opts Options) (*App, error) {
	var (
		cfgSrc *config.Source
		cfg    = opts.Config
	)
	if strings.TrimSpace(opts.ConfigPath) != "" {
		cfgSrc = config.NewSource(opts.ConfigPath)
		c, err := cfgSrc.Load()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = c
	}
	if cfg == nil {
		cfg = config.Default()
	}
	res, err := ValidateConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.System()
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	appLog := log.With(logx.String("comp", "app"))

	store, err := storage.Open(mapStorageConfig(res.Storage), log)
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	appLog.Info("storage opened", logx.String("driver", res.Storage.Driver))

	bus := eventbus.New()
	rec := audit.NewRecorder(store, bus, clk, log)
	rot := rotation.New(store, rotation.Options{Persist: res.Scheduler.PersistRotation, Log: log})
	mgr := tasks.NewManager(store, rec, tasks.Options{DueOffset: res.Scheduler.DueOffset, Clock: clk, Log: log})
	eng := ledger.NewEngine(store, rec, ledger.Options{
		Default:  res.Ledger.Default,
		RetryMax: res.Ledger.RetryMax,
		Clock:    clk,
		Log:      log,
	})
	drv := scheduler.New(mapSchedulerConfig(res.Scheduler), store, mgr, rot, clk, log)

	a := &App{
		cfgSrc:    cfgSrc,
		res:       res,
		clk:       clk,
		log:       appLog,
		logs:      logSvc,
		bus:       bus,
		store:     store,
		rot:       rot,
		tasks:     mgr,
		templates: tasks.NewTemplates(store, clk),
		ledger:    eng,
		driver:    drv,
	}
	if res.HTTP.Enabled {
		a.api = api.NewServer(api.Deps{
			Directory: store,
			Templates: a.templates,
			Tasks:     mgr,
			Ledger:    eng,
			Scheduler: drv,
			Clock:     clk,
			Log:       log,
		}, res.HTTP)
	}
	return a, nil
}

func (a *App) Log() logx.Logger             { return a.log }
func (a *App) Store() storage.Store         { return a.store }
func (a *App) Tasks() *tasks.Manager        { return a.tasks }
func (a *App) Templates() *tasks.Templates  { return a.templates }
func (a *App) Ledger() *ledger.Engine       { return a.ledger }
func (a *App) Scheduler() *scheduler.Driver { return a.driver }
func (a *App) API() *api.Server             { return a.api }

// Done is closed when the app context is canceled by a fatal error or Stop.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// RunOnce loads the rotation cursor and executes a single scheduler pass.
func (a *App) RunOnce(ctx context.Context) (scheduler.PassResult, error) {
	if err := a.rot.Load(ctx); err != nil {
		return scheduler.PassResult{}, err
	}
	return a.driver.ForceRun(ctx)
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	if err := a.rot.Load(ctx); err != nil {
		return fmt.Errorf("load rotation cursor: %w", err)
	}

	a.startEventLog()

	if a.res.Scheduler.Enabled {
		if err := a.driver.Start(a.sup.Context()); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	} else {
		a.log.Info("scheduler disabled; passes run only on demand")
	}

	if a.api != nil {
		srv := a.api
		a.sup.Go("api", func(context.Context) error {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	if a.cfgSrc != nil {
		a.cfgSrc.SetLogger(a.log.With(logx.String("comp", "config")))
		a.cfgSrc.SetValidator(validator)
		a.startReload()
		a.sup.GoRestart("config.watch", a.cfgSrc.Watch, supervisor.WithRestartBackoff(time.Second, 30*time.Second))
	}

	a.log.Info("app started",
		logx.Bool("scheduler", a.res.Scheduler.Enabled),
		logx.Bool("http", a.api != nil),
		logx.String("ledger", a.res.Ledger.Default),
	)
	return nil
}

// Stop shuts components down in dependency order. Each step is bounded so
// one stuck component can't stall the rest.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("stopping")
	if a.sup != nil {
		a.sup.Cancel()
	}

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("scheduler", 5*time.Second, func(c context.Context) error {
		a.driver.Stop()
		return a.driver.Wait(c)
	})
	if a.api != nil {
		step("api", 5*time.Second, a.api.Shutdown)
	}
	if a.sup != nil {
		step("supervisor", 2*time.Second, a.sup.Wait)
	}
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	_ = a.logs.Close()
	return errors.Join(errs...)
}

// Close releases the store and log sinks for one-shot commands that never
// called Start.
func (a *App) Close() error {
	err := a.store.Close()
	_ = a.logs.Close()
	return err
}
