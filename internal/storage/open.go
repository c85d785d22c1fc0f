package storage

import (
	"context"
	"errors"
	"strings"

	"kioskd/internal/domain"
	logx "kioskd/pkg/logx"
)

// Store is the persistence API used by the rotation, task, ledger and
// scheduler packages. Implementations are safe for concurrent use.
type Store interface {
	// Employees are listed in a stable order (created_at, then id).
	ListEmployees(ctx context.Context) ([]domain.Employee, error)
	GetEmployee(ctx context.Context, id string) (domain.Employee, error)
	PutEmployee(ctx context.Context, e domain.Employee) error

	ListTemplates(ctx context.Context, activeOnly bool) ([]domain.TaskTemplate, error)
	GetTemplate(ctx context.Context, id string) (domain.TaskTemplate, error)
	PutTemplate(ctx context.Context, t domain.TaskTemplate) error
	DeleteTemplate(ctx context.Context, id string) error

	CreateInstance(ctx context.Context, in domain.TaskInstance) error
	GetInstance(ctx context.Context, id string) (domain.TaskInstance, error)
	ListInstances(ctx context.Context, f InstanceFilter) ([]domain.TaskInstance, error)
	// UpdateInstance replaces the instance if its stored status is still
	// expect. Otherwise ErrConflict (or ErrNotFound).
	UpdateInstance(ctx context.Context, in domain.TaskInstance, expect domain.Status) error

	// LatestLedgerEntry returns the head entry; ok is false for an empty ledger.
	LatestLedgerEntry(ctx context.Context, ledger string) (e domain.LedgerEntry, ok bool, err error)
	// ListLedgerEntries is newest first; limit <= 0 means all.
	ListLedgerEntries(ctx context.Context, ledger string, limit int) ([]domain.LedgerEntry, error)
	// AppendLedgerEntry requires e.Seq == head.Seq+1 (1 for an empty
	// ledger), else ErrConflict.
	AppendLedgerEntry(ctx context.Context, e domain.LedgerEntry) error
	// DeleteLatestLedgerEntry removes the head if its Seq is expectSeq.
	// Empty ledger: ErrNotFound. Moved head: ErrConflict.
	DeleteLatestLedgerEntry(ctx context.Context, ledger string, expectSeq int64) (domain.LedgerEntry, error)

	AppendEvent(ctx context.Context, ev domain.Event) error
	ListEvents(ctx context.Context, f EventFilter) ([]domain.Event, error)

	PutState(ctx context.Context, key, value string) error
	GetState(ctx context.Context, key string) (value string, ok bool, err error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "", "memory":
		return newMemory(), nil
	case "none":
		return nil, ErrDisabled
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(context.Background(), cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
