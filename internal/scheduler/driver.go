// Package scheduler drives recurring-task generation: on every tick it
// checks each active template, and spawns an instance for the next
// employee in rotation when a template is due.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"kioskd/internal/clock"
	"kioskd/internal/domain"
	"kioskd/internal/rotation"
	logx "kioskd/pkg/logx"
)

var ErrPassInProgress = errors.New("scheduler pass already in progress")

// Store is the slice of storage.Store the driver reads.
type Store interface {
	InstanceLister
	ListTemplates(ctx context.Context, activeOnly bool) ([]domain.TaskTemplate, error)
	ListEmployees(ctx context.Context) ([]domain.Employee, error)
}

// Spawner is implemented by tasks.Manager.
type Spawner interface {
	Spawn(ctx context.Context, tmpl domain.TaskTemplate, emp domain.Employee, now time.Time) (domain.TaskInstance, error)
	ReapOverdue(ctx context.Context, now time.Time, grace time.Duration) (int, error)
}

// Picker is implemented by rotation.Rotator.
type Picker interface {
	Next(ctx context.Context, pool []domain.Employee) (domain.Employee, error)
	Cursor() uint64
}

type Config struct {
	Tick     string
	Timezone string
	// MissAfter > 0 marks pending instances missed once due_at+MissAfter passed.
	MissAfter time.Duration
}

// TemplateError is one template's failure within a pass.
type TemplateError struct {
	TemplateID string `json:"template_id"`
	Err        string `json:"error"`
}

type PassResult struct {
	StartedAt time.Time       `json:"started_at"`
	Took      time.Duration   `json:"took"`
	Checked   int             `json:"checked"`
	Due       int             `json:"due"`
	Spawned   int             `json:"spawned"`
	Skipped   int             `json:"skipped"`
	Reaped    int             `json:"reaped"`
	Errors    []TemplateError `json:"errors,omitempty"`
}

type Status struct {
	Running        bool        `json:"running"`
	Busy           bool        `json:"busy"`
	Tick           string      `json:"tick"`
	RotationCursor uint64      `json:"rotation_cursor"`
	NextRunAt      *time.Time  `json:"next_run_at,omitempty"`
	LastPassAt     *time.Time  `json:"last_pass_at,omitempty"`
	LastResult     *PassResult `json:"last_result,omitempty"`
	Passes         uint64      `json:"passes"`
	SkippedTicks   uint64      `json:"skipped_ticks"`
}

type Driver struct {
	store   Store
	spawner Spawner
	picker  Picker
	due     DueDetector
	clk     clock.Clock
	log     logx.Logger

	mu      sync.Mutex
	cfg     Config
	c       *cron.Cron
	entry   cron.EntryID
	baseCtx context.Context

	// busy is the single-flight guard shared by ticks and ForceRun.
	busy atomic.Bool

	resMu   sync.Mutex
	last    *PassResult
	passes  uint64
	skipped uint64

	warnMu   sync.Mutex
	lastWarn map[string]time.Time
}

func New(cfg Config, store Store, spawner Spawner, picker Picker, clk clock.Clock, log logx.Logger) *Driver {
	if clk == nil {
		clk = clock.System()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Driver{
		store:    store,
		spawner:  spawner,
		picker:   picker,
		due:      NewDueDetector(store),
		clk:      clk,
		log:      log.With(logx.String("comp", "scheduler")),
		cfg:      cfg,
		lastWarn: map[string]time.Time{},
	}
}

// Start begins periodic passes and runs one immediately in the background.
// Calling Start on a running driver is a no-op.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.c != nil {
		return nil
	}
	d.baseCtx = context.WithoutCancel(ctx)
	if err := d.startCronLocked(); err != nil {
		return err
	}

	go d.tick()
	d.log.Info("scheduler started", logx.String("tick", d.cfg.Tick))
	return nil
}

func (d *Driver) startCronLocked() error {
	tick, err := ParseTick(d.cfg.Tick)
	if err != nil {
		return err
	}
	sched, err := tick.Schedule()
	if err != nil {
		return err
	}
	loc := time.Local
	if tz := strings.TrimSpace(d.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("scheduler timezone: %w", err)
		}
		loc = l
	}
	c := cron.New(cron.WithParser(cronParser), cron.WithLocation(loc))
	d.entry = c.Schedule(sched, cron.FuncJob(d.tick))
	c.Start()
	d.c = c
	return nil
}

// Stop halts future ticks. A pass already running is left to finish; use
// Wait to block on it.
func (d *Driver) Stop() {
	d.mu.Lock()
	c := d.c
	d.c = nil
	d.mu.Unlock()
	if c != nil {
		c.Stop()
		d.log.Info("scheduler stopped")
	}
}

// Wait blocks until no pass is running or ctx is done.
func (d *Driver) Wait(ctx context.Context) error {
	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()
	for d.busy.Load() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

// Apply swaps the config. A running driver with a changed tick or timezone
// restarts its trigger; no extra pass is run.
func (d *Driver) Apply(cfg Config) error {
	if _, err := ParseTick(cfg.Tick); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	old := d.cfg
	d.cfg = cfg
	if d.c == nil || (old.Tick == cfg.Tick && old.Timezone == cfg.Timezone) {
		return nil
	}
	d.c.Stop()
	d.c = nil
	if err := d.startCronLocked(); err != nil {
		d.cfg = old
		if rerr := d.startCronLocked(); rerr != nil {
			d.log.Error("scheduler trigger restore failed; driver has no trigger",
				logx.String("tick", old.Tick), logx.Err(rerr))
		}
		return err
	}
	d.log.Info("scheduler tick changed", logx.String("tick", cfg.Tick))
	return nil
}

func (d *Driver) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.c != nil
}

func (d *Driver) Status() Status {
	d.mu.Lock()
	st := Status{
		Running: d.c != nil,
		Tick:    d.cfg.Tick,
	}
	if d.c != nil {
		if next := d.c.Entry(d.entry).Next; !next.IsZero() {
			st.NextRunAt = &next
		}
	}
	d.mu.Unlock()

	st.Busy = d.busy.Load()
	if d.picker != nil {
		st.RotationCursor = d.picker.Cursor()
	}

	d.resMu.Lock()
	if d.last != nil {
		res := *d.last
		st.LastResult = &res
		at := res.StartedAt
		st.LastPassAt = &at
	}
	st.Passes = d.passes
	st.SkippedTicks = d.skipped
	d.resMu.Unlock()
	return st
}

// ForceRun executes one pass synchronously. It works whether or not the
// driver is started, and fails with ErrPassInProgress rather than queueing.
func (d *Driver) ForceRun(ctx context.Context) (PassResult, error) {
	if !d.busy.CompareAndSwap(false, true) {
		return PassResult{}, ErrPassInProgress
	}
	defer d.busy.Store(false)
	return d.pass(ctx)
}

func (d *Driver) tick() {
	if !d.busy.CompareAndSwap(false, true) {
		d.resMu.Lock()
		d.skipped++
		d.resMu.Unlock()
		d.log.Debug("tick skipped; previous pass still running")
		return
	}
	defer d.busy.Store(false)

	d.mu.Lock()
	ctx := d.baseCtx
	d.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := d.pass(ctx); err != nil {
		d.log.Error("scheduler pass failed", logx.Err(err))
	}
}

// pass must be called with busy held.
func (d *Driver) pass(ctx context.Context) (PassResult, error) {
	now := d.clk.Now()
	started := time.Now()
	res := PassResult{StartedAt: now}
	defer func() {
		res.Took = time.Since(started)
		d.resMu.Lock()
		r := res
		d.last = &r
		d.passes++
		d.resMu.Unlock()
	}()

	templates, err := d.store.ListTemplates(ctx, true)
	if err != nil {
		return res, fmt.Errorf("list templates: %w", err)
	}
	employees, err := d.store.ListEmployees(ctx)
	if err != nil {
		return res, fmt.Errorf("list employees: %w", err)
	}
	pool := rotation.EligiblePool(employees)

	sort.Slice(templates, func(i, j int) bool { return templates[i].ID < templates[j].ID })
	d.mu.Lock()
	missAfter := d.cfg.MissAfter
	d.mu.Unlock()

	emptyWarned := false
	for _, tmpl := range templates {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.Checked++
		outcome, err := d.processTemplate(ctx, tmpl, pool, now)
		switch outcome {
		case outcomeSpawned:
			res.Due++
			res.Spawned++
		case outcomeNoPool:
			res.Due++
			res.Skipped++
			if !emptyWarned {
				d.log.Warn("due templates skipped; no eligible employees")
				emptyWarned = true
			}
		}
		if err != nil {
			res.Errors = append(res.Errors, TemplateError{TemplateID: tmpl.ID, Err: err.Error()})
			d.reportTemplateError(tmpl.ID, err)
		} else {
			d.clearTemplateError(tmpl.ID)
		}
	}

	if missAfter > 0 {
		n, err := d.spawner.ReapOverdue(ctx, now, missAfter)
		res.Reaped = n
		if err != nil {
			d.log.Warn("overdue reaper failed", logx.Err(err))
		}
	}

	if res.Spawned > 0 || len(res.Errors) > 0 {
		d.log.Info("scheduler pass finished",
			logx.Int("checked", res.Checked),
			logx.Int("spawned", res.Spawned),
			logx.Int("errors", len(res.Errors)),
		)
	}
	return res, nil
}

type outcome int

const (
	outcomeNotDue outcome = iota
	outcomeSpawned
	outcomeNoPool
	outcomeFailed
)

// processTemplate isolates one template: errors and panics stay here.
func (d *Driver) processTemplate(ctx context.Context, tmpl domain.TaskTemplate, pool []domain.Employee, now time.Time) (out outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("panic processing template",
				logx.String("template_id", tmpl.ID),
				logx.Any("panic", r),
				logx.Stack(logx.StackTrace(0)),
			)
			out, err = outcomeFailed, fmt.Errorf("panic: %v", r)
		}
	}()

	due, err := d.due.IsDue(ctx, tmpl, now)
	if err != nil {
		return outcomeFailed, err
	}
	if !due {
		return outcomeNotDue, nil
	}
	if len(pool) == 0 {
		return outcomeNoPool, nil
	}
	emp, err := d.picker.Next(ctx, pool)
	if err != nil {
		return outcomeFailed, err
	}
	in, err := d.spawner.Spawn(ctx, tmpl, emp, now)
	if err != nil {
		if errors.Is(err, domain.ErrPartial) {
			// instance exists; only its audit event is missing
			return outcomeSpawned, err
		}
		return outcomeFailed, err
	}
	d.log.Debug("task spawned",
		logx.String("template_id", tmpl.ID),
		logx.String("task_id", in.ID),
		logx.String("assigned_to", emp.ID),
	)
	return outcomeSpawned, nil
}
