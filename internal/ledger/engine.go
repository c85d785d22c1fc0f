// Package ledger keeps append-only counters of physical stock (cartons by
// default) with a running total and single-step undo.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"kioskd/internal/audit"
	"kioskd/internal/clock"
	"kioskd/internal/domain"
	logx "kioskd/pkg/logx"
)

// Store is the slice of storage.Store the engine needs.
type Store interface {
	LatestLedgerEntry(ctx context.Context, ledger string) (domain.LedgerEntry, bool, error)
	ListLedgerEntries(ctx context.Context, ledger string, limit int) ([]domain.LedgerEntry, error)
	AppendLedgerEntry(ctx context.Context, e domain.LedgerEntry) error
	DeleteLatestLedgerEntry(ctx context.Context, ledger string, expectSeq int64) (domain.LedgerEntry, error)
}

type Options struct {
	// Default ledger name for requests that leave it empty.
	Default string
	// RetryMax bounds re-reads after a head conflict from another writer.
	RetryMax int
	Clock    clock.Clock
	Log      logx.Logger
}

// Engine serializes writes per ledger in-process and relies on the store's
// head check for writers outside this process.
type Engine struct {
	store Store
	rec   *audit.Recorder
	clk   clock.Clock
	log   logx.Logger

	def      string
	retryMax int

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewEngine(store Store, rec *audit.Recorder, opts Options) *Engine {
	e := &Engine{
		store:    store,
		rec:      rec,
		clk:      opts.Clock,
		log:      opts.Log,
		def:      strings.TrimSpace(opts.Default),
		retryMax: opts.RetryMax,
		locks:    map[string]*sync.Mutex{},
	}
	if e.clk == nil {
		e.clk = clock.System()
	}
	if e.log.IsZero() {
		e.log = logx.Nop()
	}
	e.log = e.log.With(logx.String("comp", "ledger"))
	if e.def == "" {
		e.def = "cartons"
	}
	if e.retryMax <= 0 {
		e.retryMax = 3
	}
	return e
}

func (e *Engine) Default() string { return e.def }

func (e *Engine) name(ledger string) string {
	if l := strings.TrimSpace(ledger); l != "" {
		return l
	}
	return e.def
}

func (e *Engine) lock(ledger string) func() {
	e.locksMu.Lock()
	mu, ok := e.locks[ledger]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[ledger] = mu
	}
	e.locksMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

type AdjustRequest struct {
	Ledger   string        `json:"ledger,omitempty"`
	Action   domain.Action `json:"action"`
	Amount   *int64        `json:"amount,omitempty"`
	Employee string        `json:"employee"`
	Note     string        `json:"note,omitempty"`
}

// Adjust appends one entry. A remove larger than the current total fails
// with *domain.InsufficientError and writes nothing.
func (e *Engine) Adjust(ctx context.Context, req AdjustRequest) (domain.LedgerEntry, error) {
	ledger := e.name(req.Ledger)
	if strings.TrimSpace(req.Employee) == "" {
		return domain.LedgerEntry{}, domain.Invalid("employee", "must not be empty")
	}

	unlock := e.lock(ledger)
	defer unlock()

	var (
		entry domain.LedgerEntry
		err   error
	)
	for attempt := 0; attempt <= e.retryMax; attempt++ {
		entry, err = e.appendOnce(ctx, ledger, req)
		if !errors.Is(err, domain.ErrConflict) {
			break
		}
		e.log.Debug("ledger head moved; retrying", logx.String("ledger", ledger), logx.Int("attempt", attempt+1))
	}
	if err != nil {
		return domain.LedgerEntry{}, err
	}

	e.log.Info("ledger adjusted",
		logx.String("ledger", ledger),
		logx.String("action", string(entry.Action)),
		logx.Int64("delta", entry.Delta),
		logx.Int64("total", entry.TotalAfter),
		logx.String("employee", entry.Employee),
	)
	_, err = e.rec.Record(ctx, "ledger adjust", domain.EventLedgerAdjust, entryDetail(entry))
	return entry, err
}

func (e *Engine) appendOnce(ctx context.Context, ledger string, req AdjustRequest) (domain.LedgerEntry, error) {
	head, _, err := e.store.LatestLedgerEntry(ctx, ledger)
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("read %s total: %w", ledger, err)
	}
	delta, recorded, err := ComputeDelta(req.Action, req.Amount, head.TotalAfter)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	entry := domain.LedgerEntry{
		ID:         domain.NewID("led"),
		Ledger:     ledger,
		Seq:        head.Seq + 1,
		Employee:   strings.TrimSpace(req.Employee),
		Action:     req.Action,
		Amount:     recorded,
		Delta:      delta,
		TotalAfter: head.TotalAfter + delta,
		Note:       strings.TrimSpace(req.Note),
		Timestamp:  e.clk.Now(),
	}
	if err := e.store.AppendLedgerEntry(ctx, entry); err != nil {
		return domain.LedgerEntry{}, err
	}
	return entry, nil
}

// UndoLast removes the most recent entry and returns the new total. An
// undo cannot itself be undone; a second call removes the next entry.
func (e *Engine) UndoLast(ctx context.Context, ledger string) (int64, error) {
	ledger = e.name(ledger)

	unlock := e.lock(ledger)
	defer unlock()

	var (
		removed domain.LedgerEntry
		err     error
	)
	for attempt := 0; attempt <= e.retryMax; attempt++ {
		head, ok, rerr := e.store.LatestLedgerEntry(ctx, ledger)
		if rerr != nil {
			return 0, fmt.Errorf("read %s head: %w", ledger, rerr)
		}
		if !ok {
			return 0, fmt.Errorf("ledger %s: %w", ledger, domain.ErrNothingToUndo)
		}
		removed, err = e.store.DeleteLatestLedgerEntry(ctx, ledger, head.Seq)
		if errors.Is(err, domain.ErrNotFound) {
			return 0, fmt.Errorf("ledger %s: %w", ledger, domain.ErrNothingToUndo)
		}
		if !errors.Is(err, domain.ErrConflict) {
			break
		}
	}
	if err != nil {
		return 0, err
	}

	total := removed.TotalAfter - removed.Delta
	e.log.Info("ledger entry undone",
		logx.String("ledger", ledger),
		logx.String("entry_id", removed.ID),
		logx.Int64("total", total),
	)
	detail := entryDetail(removed)
	detail["new_total"] = total
	_, err = e.rec.Record(ctx, "ledger undo", domain.EventLedgerUndo, detail)
	return total, err
}

// Total is the head entry's running total, 0 for an empty ledger.
func (e *Engine) Total(ctx context.Context, ledger string) (int64, error) {
	head, _, err := e.store.LatestLedgerEntry(ctx, e.name(ledger))
	if err != nil {
		return 0, err
	}
	return head.TotalAfter, nil
}

// History is newest first; limit <= 0 returns everything.
func (e *Engine) History(ctx context.Context, ledger string, limit int) ([]domain.LedgerEntry, error) {
	return e.store.ListLedgerEntries(ctx, e.name(ledger), limit)
}

func entryDetail(en domain.LedgerEntry) map[string]any {
	return map[string]any{
		"ledger":      en.Ledger,
		"entry_id":    en.ID,
		"seq":         en.Seq,
		"action":      string(en.Action),
		"amount":      en.Amount,
		"delta":       en.Delta,
		"total_after": en.TotalAfter,
		"employee":    en.Employee,
		"note":        en.Note,
	}
}
