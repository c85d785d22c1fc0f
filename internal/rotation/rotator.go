// Package rotation hands out recurring tasks round-robin across the
// eligible employees.
package rotation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"kioskd/internal/domain"
	logx "kioskd/pkg/logx"
)

// CursorKey is the state key the cursor is persisted under.
const CursorKey = "rotation.cursor"

var ErrEmptyPool = errors.New("no eligible employees")

// StateStore is the slice of storage.Store the rotator needs.
type StateStore interface {
	GetState(ctx context.Context, key string) (string, bool, error)
	PutState(ctx context.Context, key, value string) error
}

type Options struct {
	// Persist stores the cursor after every assignment so restarts resume
	// the order. With Persist off the cursor restarts at 0.
	Persist bool
	Log     logx.Logger
}

// Rotator returns pool[cursor mod len(pool)] and advances the cursor.
// The cursor is shared across all templates.
type Rotator struct {
	mu      sync.Mutex
	store   StateStore
	persist bool
	log     logx.Logger

	loaded bool
	cursor uint64
}

func New(store StateStore, opts Options) *Rotator {
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Rotator{
		store:   store,
		persist: opts.Persist && store != nil,
		log:     log.With(logx.String("comp", "rotation")),
	}
}

// EligiblePool keeps active non-admin employees in their given order.
func EligiblePool(all []domain.Employee) []domain.Employee {
	out := make([]domain.Employee, 0, len(all))
	for _, e := range all {
		if e.Eligible() {
			out = append(out, e)
		}
	}
	return out
}

// Load reads the persisted cursor. Next calls it lazily.
func (r *Rotator) Load(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadLocked(ctx)
}

func (r *Rotator) loadLocked(ctx context.Context) error {
	if r.loaded || !r.persist {
		r.loaded = true
		return nil
	}
	raw, ok, err := r.store.GetState(ctx, CursorKey)
	if err != nil {
		return fmt.Errorf("load rotation cursor: %w", err)
	}
	if ok {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			r.log.Warn("stored rotation cursor unreadable; starting at 0", logx.String("raw", raw))
		} else {
			r.cursor = v
		}
	}
	r.loaded = true
	return nil
}

// Next picks the employee for one assignment.
func (r *Rotator) Next(ctx context.Context, pool []domain.Employee) (domain.Employee, error) {
	if len(pool) == 0 {
		return domain.Employee{}, ErrEmptyPool
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.loadLocked(ctx); err != nil {
		// Keep rotating from memory; fairness across restarts is best effort.
		r.log.Warn("rotation cursor load failed", logx.Err(err))
		r.loaded = true
	}

	n := uint64(len(pool))
	picked := pool[r.cursor%n]
	r.cursor++
	if r.cursor >= n*1000 {
		r.cursor %= n
	}

	if r.persist {
		if err := r.store.PutState(ctx, CursorKey, strconv.FormatUint(r.cursor, 10)); err != nil {
			r.log.Warn("rotation cursor persist failed", logx.Err(err), logx.Uint64("cursor", r.cursor))
		}
	}
	return picked, nil
}

func (r *Rotator) Cursor() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor
}
