// Package tasks owns the task-instance lifecycle: spawning from templates,
// ad-hoc special tasks, and the pending/help/done/missed state machine.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"kioskd/internal/audit"
	"kioskd/internal/clock"
	"kioskd/internal/domain"
	"kioskd/internal/storage"
	logx "kioskd/pkg/logx"
)

const DefaultDueOffset = 30 * time.Minute

// Store is the slice of storage.Store the manager uses.
type Store interface {
	GetEmployee(ctx context.Context, id string) (domain.Employee, error)
	CreateInstance(ctx context.Context, in domain.TaskInstance) error
	GetInstance(ctx context.Context, id string) (domain.TaskInstance, error)
	ListInstances(ctx context.Context, f storage.InstanceFilter) ([]domain.TaskInstance, error)
	UpdateInstance(ctx context.Context, in domain.TaskInstance, expect domain.Status) error
}

type Options struct {
	DueOffset time.Duration
	Clock     clock.Clock
	Log       logx.Logger
}

type Manager struct {
	store Store
	rec   *audit.Recorder
	clk   clock.Clock
	log   logx.Logger

	// dueOffset holds a time.Duration; reloads swap it while passes run.
	dueOffset atomic.Int64
}

func NewManager(store Store, rec *audit.Recorder, opts Options) *Manager {
	m := &Manager{
		store: store,
		rec:   rec,
		clk:   opts.Clock,
		log:   opts.Log,
	}
	if m.clk == nil {
		m.clk = clock.System()
	}
	if m.log.IsZero() {
		m.log = logx.Nop()
	}
	m.log = m.log.With(logx.String("comp", "tasks"))
	m.dueOffset.Store(int64(DefaultDueOffset))
	m.SetDueOffset(opts.DueOffset)
	return m
}

// SetDueOffset applies a reloaded config.
func (m *Manager) SetDueOffset(d time.Duration) {
	if d > 0 {
		m.dueOffset.Store(int64(d))
	}
}

// DueOffset is the offset currently added to spawn times.
func (m *Manager) DueOffset() time.Duration { return time.Duration(m.dueOffset.Load()) }

// Spawn creates a pending instance of tmpl for emp, due DueOffset after now.
func (m *Manager) Spawn(ctx context.Context, tmpl domain.TaskTemplate, emp domain.Employee, now time.Time) (domain.TaskInstance, error) {
	in := domain.TaskInstance{
		ID:            domain.NewID("tsk"),
		SourceType:    domain.SourceRegular,
		SourceID:      tmpl.ID,
		AssignedTo:    emp.ID,
		Status:        domain.StatusPending,
		TitleSnapshot: tmpl.Title,
		DueAt:         now.Add(m.DueOffset()),
		CreatedAt:     now,
	}
	if err := m.store.CreateInstance(ctx, in); err != nil {
		return domain.TaskInstance{}, fmt.Errorf("spawn %s: %w", tmpl.ID, err)
	}
	_, err := m.rec.Record(ctx, "task spawn", domain.EventTaskSpawned, instanceDetail(in, map[string]any{
		"assigned_name": emp.Name,
	}))
	return in, err
}

// SpecialTask is a one-off assignment made by a manager.
type SpecialTask struct {
	Title      string     `json:"title"`
	AssignedTo string     `json:"assigned_to"`
	DueAt      *time.Time `json:"due_at,omitempty"`
	Notes      string     `json:"notes,omitempty"`
}

func (m *Manager) CreateSpecial(ctx context.Context, req SpecialTask) (domain.TaskInstance, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return domain.TaskInstance{}, domain.Invalid("title", "must not be empty")
	}
	emp, err := m.assignee(ctx, req.AssignedTo)
	if err != nil {
		return domain.TaskInstance{}, err
	}

	now := m.clk.Now()
	due := now.Add(m.DueOffset())
	if req.DueAt != nil && !req.DueAt.IsZero() {
		due = *req.DueAt
	}
	in := domain.TaskInstance{
		ID:            domain.NewID("tsk"),
		SourceType:    domain.SourceSpecial,
		SourceID:      domain.NewID("spc"),
		AssignedTo:    emp.ID,
		Status:        domain.StatusPending,
		TitleSnapshot: title,
		DueAt:         due,
		CreatedAt:     now,
		Notes:         strings.TrimSpace(req.Notes),
	}
	if err := m.store.CreateInstance(ctx, in); err != nil {
		return domain.TaskInstance{}, fmt.Errorf("create special task: %w", err)
	}
	_, err = m.rec.Record(ctx, "special task", domain.EventTaskSpecial, instanceDetail(in, nil))
	return in, err
}

// Transition moves an instance to status to. Moves outside the transition
// table, including any move out of done or missed, fail with
// ErrInvalidTransition. The returned instance reflects the stored state
// even when the audit event could not be written (*domain.PartialError).
func (m *Manager) Transition(ctx context.Context, id string, to domain.Status, notes string) (domain.TaskInstance, error) {
	if !to.Valid() {
		return domain.TaskInstance{}, domain.Invalid("status", fmt.Sprintf("unknown status %q", to))
	}
	cur, err := m.store.GetInstance(ctx, id)
	if err != nil {
		return domain.TaskInstance{}, err
	}
	evType, ok := domain.TransitionEvent(cur.Status, to)
	if !ok {
		return cur, fmt.Errorf("task %s: %s -> %s: %w", id, cur.Status, to, domain.ErrInvalidTransition)
	}

	next := cur
	next.Status = to
	if n := strings.TrimSpace(notes); n != "" {
		next.Notes = n
	}
	if to == domain.StatusDone {
		t := m.clk.Now()
		next.CompletedAt = &t
	}

	if err := m.store.UpdateInstance(ctx, next, cur.Status); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// Someone else moved it first.
			return cur, fmt.Errorf("task %s: %s -> %s: %w (%v)", id, cur.Status, to, domain.ErrInvalidTransition, err)
		}
		return cur, err
	}

	m.log.Debug("task transitioned",
		logx.String("task_id", id),
		logx.String("from", string(cur.Status)),
		logx.String("to", string(to)),
	)
	_, err = m.rec.Record(ctx, "task transition", evType, instanceDetail(next, map[string]any{
		"from": string(cur.Status),
		"to":   string(to),
	}))
	return next, err
}

// Reassign hands an open instance to another active employee.
func (m *Manager) Reassign(ctx context.Context, id, employeeID string) (domain.TaskInstance, error) {
	cur, err := m.store.GetInstance(ctx, id)
	if err != nil {
		return domain.TaskInstance{}, err
	}
	if !cur.Status.Open() {
		return cur, fmt.Errorf("task %s is %s: %w", id, cur.Status, domain.ErrInvalidTransition)
	}
	emp, err := m.assignee(ctx, employeeID)
	if err != nil {
		return cur, err
	}
	if emp.ID == cur.AssignedTo {
		return cur, nil
	}

	next := cur
	next.AssignedTo = emp.ID
	if err := m.store.UpdateInstance(ctx, next, cur.Status); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return cur, fmt.Errorf("task %s changed during reassign: %w", id, domain.ErrInvalidTransition)
		}
		return cur, err
	}
	_, err = m.rec.Record(ctx, "task reassign", domain.EventTaskReassigned, instanceDetail(next, map[string]any{
		"previous": cur.AssignedTo,
	}))
	return next, err
}

func (m *Manager) Get(ctx context.Context, id string) (domain.TaskInstance, error) {
	return m.store.GetInstance(ctx, id)
}

func (m *Manager) List(ctx context.Context, f storage.InstanceFilter) ([]domain.TaskInstance, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, domain.Invalid("status", fmt.Sprintf("unknown status %q", f.Status))
	}
	return m.store.ListInstances(ctx, f)
}

// ReapOverdue marks pending instances missed once DueAt+grace is at or
// before now. Instances in help are left for a supervisor. Returns how many
// were marked.
func (m *Manager) ReapOverdue(ctx context.Context, now time.Time, grace time.Duration) (int, error) {
	overdue, err := m.store.ListInstances(ctx, storage.InstanceFilter{
		Status:    domain.StatusPending,
		DueBefore: now.Add(-grace),
	})
	if err != nil {
		return 0, fmt.Errorf("list overdue: %w", err)
	}
	var (
		n    int
		errs []error
	)
	for _, in := range overdue {
		_, err := m.Transition(ctx, in.ID, domain.StatusMissed, "")
		switch {
		case err == nil:
			n++
		case errors.Is(err, domain.ErrPartial):
			n++
			errs = append(errs, err)
		case errors.Is(err, domain.ErrInvalidTransition):
			// finished or escalated meanwhile
		default:
			errs = append(errs, err)
		}
	}
	if n > 0 {
		m.log.Info("overdue tasks marked missed", logx.Int("count", n))
	}
	return n, errors.Join(errs...)
}

func (m *Manager) assignee(ctx context.Context, id string) (domain.Employee, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Employee{}, domain.Invalid("assigned_to", "must not be empty")
	}
	emp, err := m.store.GetEmployee(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Employee{}, domain.Invalid("assigned_to", fmt.Sprintf("unknown employee %q", id))
	}
	if err != nil {
		return domain.Employee{}, err
	}
	if !emp.Active {
		return domain.Employee{}, domain.Invalid("assigned_to", fmt.Sprintf("employee %q is inactive", id))
	}
	return emp, nil
}

func instanceDetail(in domain.TaskInstance, extra map[string]any) map[string]any {
	d := map[string]any{
		"task_id":     in.ID,
		"title":       in.TitleSnapshot,
		"assigned_to": in.AssignedTo,
		"source_type": string(in.SourceType),
		"source_id":   in.SourceID,
		"status":      string(in.Status),
		"due_at":      in.DueAt,
	}
	if in.Notes != "" {
		d["notes"] = in.Notes
	}
	for k, v := range extra {
		d[k] = v
	}
	return d
}
