package storage

import (
	"errors"
	"time"

	"kioskd/internal/domain"
)

var ErrDisabled = errors.New("storage disabled")

// Re-exported so callers that only deal with storage don't need domain.
var (
	ErrNotFound = domain.ErrNotFound
	ErrConflict = domain.ErrConflict
)

// Config configures storage.
//
// Driver values:
//   - "memory": in-process only
//   - "file": jsonl journal + snapshot under the Path prefix
//   - "sqlite": SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// InstanceFilter narrows ListInstances. Zero fields match everything.
// Results are newest first (CreatedAt desc).
type InstanceFilter struct {
	AssignedTo string
	Status     domain.Status
	SourceType domain.SourceType
	SourceID   string
	// DueBefore keeps instances with DueAt <= DueBefore.
	DueBefore time.Time
	Limit     int
}

func (f InstanceFilter) match(in domain.TaskInstance) bool {
	if f.AssignedTo != "" && in.AssignedTo != f.AssignedTo {
		return false
	}
	if f.Status != "" && in.Status != f.Status {
		return false
	}
	if f.SourceType != "" && in.SourceType != f.SourceType {
		return false
	}
	if f.SourceID != "" && in.SourceID != f.SourceID {
		return false
	}
	if !f.DueBefore.IsZero() && in.DueAt.After(f.DueBefore) {
		return false
	}
	return true
}

// EventFilter narrows ListEvents. Results are newest first.
type EventFilter struct {
	Type  string
	Since time.Time
	Limit int
}

func (f EventFilter) match(ev domain.Event) bool {
	if f.Type != "" && ev.Type != f.Type {
		return false
	}
	if !f.Since.IsZero() && ev.TS.Before(f.Since) {
		return false
	}
	return true
}
