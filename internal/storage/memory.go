package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"kioskd/internal/domain"
)

// mutation is the unit of change for the in-memory state. The file driver
// journals the same records and replays them on open.
type mutation struct {
	Op        string               `json:"op"`
	Employee  *domain.Employee     `json:"employee,omitempty"`
	Template  *domain.TaskTemplate `json:"template,omitempty"`
	Instance  *domain.TaskInstance `json:"instance,omitempty"`
	Entry     *domain.LedgerEntry  `json:"entry,omitempty"`
	Event     *domain.Event        `json:"event,omitempty"`
	ID        string               `json:"id,omitempty"`
	Expect    domain.Status        `json:"expect,omitempty"`
	ExpectSeq int64                `json:"expect_seq,omitempty"`
	Key       string               `json:"key,omitempty"`
	Value     string               `json:"value,omitempty"`
}

const (
	opPutEmployee    = "employee.put"
	opPutTemplate    = "template.put"
	opDeleteTemplate = "template.delete"
	opCreateInstance = "instance.create"
	opUpdateInstance = "instance.update"
	opAppendEntry    = "ledger.append"
	opPopEntry       = "ledger.pop"
	opAppendEvent    = "event.append"
	opPutState       = "state.put"
)

// memState is the serializable content of a memStore (file snapshots).
type memState struct {
	Employees map[string]domain.Employee      `json:"employees"`
	Templates map[string]domain.TaskTemplate  `json:"templates"`
	Instances []domain.TaskInstance           `json:"instances"`
	Ledgers   map[string][]domain.LedgerEntry `json:"ledgers"`
	Events    []domain.Event                  `json:"events"`
	State     map[string]string               `json:"state"`
}

type memStore struct {
	mu sync.RWMutex

	employees map[string]domain.Employee
	templates map[string]domain.TaskTemplate
	instances map[string]domain.TaskInstance
	instOrder []string // insertion order
	ledgers   map[string][]domain.LedgerEntry
	events    []domain.Event
	state     map[string]string

	// onCommit runs under mu once a mutation passed its checks and before
	// memory changes. An error aborts the mutation.
	onCommit func(m *mutation) error
	// afterCommit runs under mu after memory changed.
	afterCommit func()
}

func newMemory() *memStore {
	return &memStore{
		employees: map[string]domain.Employee{},
		templates: map[string]domain.TaskTemplate{},
		instances: map[string]domain.TaskInstance{},
		ledgers:   map[string][]domain.LedgerEntry{},
		state:     map[string]string{},
	}
}

// apply validates m, hands it to onCommit and only then changes memory,
// so a failed journal write leaves no trace of the mutation.
func (s *memStore) apply(m *mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(m); err != nil {
		return err
	}
	if s.onCommit != nil {
		if err := s.onCommit(m); err != nil {
			return err
		}
	}
	s.mutateLocked(m)
	if s.afterCommit != nil {
		s.afterCommit()
	}
	return nil
}

// applyLocked is check plus mutate, used for journal replay.
func (s *memStore) applyLocked(m *mutation) error {
	if err := s.checkLocked(m); err != nil {
		return err
	}
	s.mutateLocked(m)
	return nil
}

// checkLocked reports whether m can apply to the current state. For a pop
// it also fills m.Entry with the entry that will be removed.
func (s *memStore) checkLocked(m *mutation) error {
	switch m.Op {
	case opPutEmployee, opPutTemplate, opAppendEvent, opPutState:
	case opDeleteTemplate:
		if _, ok := s.templates[m.ID]; !ok {
			return fmt.Errorf("template %s: %w", m.ID, ErrNotFound)
		}
	case opCreateInstance:
		if _, ok := s.instances[m.Instance.ID]; ok {
			return fmt.Errorf("instance %s: %w", m.Instance.ID, ErrConflict)
		}
	case opUpdateInstance:
		cur, ok := s.instances[m.Instance.ID]
		if !ok {
			return fmt.Errorf("instance %s: %w", m.Instance.ID, ErrNotFound)
		}
		if cur.Status != m.Expect {
			return fmt.Errorf("instance %s is %s, expected %s: %w", m.Instance.ID, cur.Status, m.Expect, ErrConflict)
		}
	case opAppendEntry:
		entries := s.ledgers[m.Entry.Ledger]
		var head int64
		if n := len(entries); n > 0 {
			head = entries[n-1].Seq
		}
		if m.Entry.Seq != head+1 {
			return fmt.Errorf("ledger %s head is %d, append wants %d: %w", m.Entry.Ledger, head, m.Entry.Seq, ErrConflict)
		}
	case opPopEntry:
		entries := s.ledgers[m.ID]
		n := len(entries)
		if n == 0 {
			return fmt.Errorf("ledger %s is empty: %w", m.ID, ErrNotFound)
		}
		last := entries[n-1]
		if last.Seq != m.ExpectSeq {
			return fmt.Errorf("ledger %s head is %d, expected %d: %w", m.ID, last.Seq, m.ExpectSeq, ErrConflict)
		}
		m.Entry = &last
	default:
		return fmt.Errorf("unknown mutation %q", m.Op)
	}
	return nil
}

func (s *memStore) mutateLocked(m *mutation) {
	switch m.Op {
	case opPutEmployee:
		s.employees[m.Employee.ID] = *m.Employee
	case opPutTemplate:
		s.templates[m.Template.ID] = *m.Template
	case opDeleteTemplate:
		delete(s.templates, m.ID)
	case opCreateInstance:
		s.instances[m.Instance.ID] = *m.Instance
		s.instOrder = append(s.instOrder, m.Instance.ID)
	case opUpdateInstance:
		s.instances[m.Instance.ID] = *m.Instance
	case opAppendEntry:
		s.ledgers[m.Entry.Ledger] = append(s.ledgers[m.Entry.Ledger], *m.Entry)
	case opPopEntry:
		entries := s.ledgers[m.ID]
		s.ledgers[m.ID] = entries[:len(entries)-1]
	case opAppendEvent:
		s.events = append(s.events, *m.Event)
	case opPutState:
		s.state[m.Key] = m.Value
	}
}

func (s *memStore) snapshotLocked() memState {
	st := memState{
		Employees: s.employees,
		Templates: s.templates,
		Instances: make([]domain.TaskInstance, 0, len(s.instOrder)),
		Ledgers:   s.ledgers,
		Events:    s.events,
		State:     s.state,
	}
	for _, id := range s.instOrder {
		st.Instances = append(st.Instances, s.instances[id])
	}
	return st
}

func (s *memStore) restoreLocked(st memState) {
	if st.Employees != nil {
		s.employees = st.Employees
	}
	if st.Templates != nil {
		s.templates = st.Templates
	}
	if st.Ledgers != nil {
		s.ledgers = st.Ledgers
	}
	if st.State != nil {
		s.state = st.State
	}
	s.events = st.Events
	s.instances = make(map[string]domain.TaskInstance, len(st.Instances))
	s.instOrder = s.instOrder[:0]
	for _, in := range st.Instances {
		s.instances[in.ID] = in
		s.instOrder = append(s.instOrder, in.ID)
	}
}

func (s *memStore) Close() error { return nil }

// ---- employees ----

func (s *memStore) ListEmployees(ctx context.Context) ([]domain.Employee, error) {
	s.mu.RLock()
	out := make([]domain.Employee, 0, len(s.employees))
	for _, e := range s.employees {
		out = append(out, e)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *memStore) GetEmployee(ctx context.Context, id string) (domain.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.employees[id]
	if !ok {
		return domain.Employee{}, fmt.Errorf("employee %s: %w", id, ErrNotFound)
	}
	return e, nil
}

func (s *memStore) PutEmployee(ctx context.Context, e domain.Employee) error {
	if strings.TrimSpace(e.ID) == "" {
		return domain.Invalid("id", "must not be empty")
	}
	return s.apply(&mutation{Op: opPutEmployee, Employee: &e})
}

// ---- templates ----

func (s *memStore) ListTemplates(ctx context.Context, activeOnly bool) ([]domain.TaskTemplate, error) {
	s.mu.RLock()
	out := make([]domain.TaskTemplate, 0, len(s.templates))
	for _, t := range s.templates {
		if activeOnly && !t.Active {
			continue
		}
		out = append(out, t)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) GetTemplate(ctx context.Context, id string) (domain.TaskTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[id]
	if !ok {
		return domain.TaskTemplate{}, fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	return t, nil
}

func (s *memStore) PutTemplate(ctx context.Context, t domain.TaskTemplate) error {
	if strings.TrimSpace(t.ID) == "" {
		return domain.Invalid("id", "must not be empty")
	}
	return s.apply(&mutation{Op: opPutTemplate, Template: &t})
}

func (s *memStore) DeleteTemplate(ctx context.Context, id string) error {
	return s.apply(&mutation{Op: opDeleteTemplate, ID: id})
}

// ---- instances ----

func (s *memStore) CreateInstance(ctx context.Context, in domain.TaskInstance) error {
	if strings.TrimSpace(in.ID) == "" {
		return domain.Invalid("id", "must not be empty")
	}
	return s.apply(&mutation{Op: opCreateInstance, Instance: &in})
}

func (s *memStore) GetInstance(ctx context.Context, id string) (domain.TaskInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	in, ok := s.instances[id]
	if !ok {
		return domain.TaskInstance{}, fmt.Errorf("instance %s: %w", id, ErrNotFound)
	}
	return in, nil
}

func (s *memStore) ListInstances(ctx context.Context, f InstanceFilter) ([]domain.TaskInstance, error) {
	s.mu.RLock()
	out := make([]domain.TaskInstance, 0)
	for i := len(s.instOrder) - 1; i >= 0; i-- {
		in := s.instances[s.instOrder[i]]
		if f.match(in) {
			out = append(out, in)
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *memStore) UpdateInstance(ctx context.Context, in domain.TaskInstance, expect domain.Status) error {
	return s.apply(&mutation{Op: opUpdateInstance, Instance: &in, Expect: expect})
}

// ---- ledger ----

func (s *memStore) LatestLedgerEntry(ctx context.Context, ledger string) (domain.LedgerEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.ledgers[ledger]
	if len(entries) == 0 {
		return domain.LedgerEntry{}, false, nil
	}
	return entries[len(entries)-1], true, nil
}

func (s *memStore) ListLedgerEntries(ctx context.Context, ledger string, limit int) ([]domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.ledgers[ledger]
	n := len(entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]domain.LedgerEntry, 0, n)
	for i := len(entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}

func (s *memStore) AppendLedgerEntry(ctx context.Context, e domain.LedgerEntry) error {
	if strings.TrimSpace(e.Ledger) == "" {
		return domain.Invalid("ledger", "must not be empty")
	}
	return s.apply(&mutation{Op: opAppendEntry, Entry: &e})
}

func (s *memStore) DeleteLatestLedgerEntry(ctx context.Context, ledger string, expectSeq int64) (domain.LedgerEntry, error) {
	m := &mutation{Op: opPopEntry, ID: ledger, ExpectSeq: expectSeq}
	if err := s.apply(m); err != nil {
		return domain.LedgerEntry{}, err
	}
	return *m.Entry, nil
}

// ---- events ----

func (s *memStore) AppendEvent(ctx context.Context, ev domain.Event) error {
	return s.apply(&mutation{Op: opAppendEvent, Event: &ev})
}

func (s *memStore) ListEvents(ctx context.Context, f EventFilter) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Event, 0)
	for i := len(s.events) - 1; i >= 0; i-- {
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
		if f.match(s.events[i]) {
			out = append(out, s.events[i])
		}
	}
	return out, nil
}

// ---- state ----

func (s *memStore) PutState(ctx context.Context, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.Invalid("key", "must not be empty")
	}
	return s.apply(&mutation{Op: opPutState, Key: key, Value: value})
}

func (s *memStore) GetState(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.state[strings.TrimSpace(key)]
	return v, ok, nil
}
