package ledger

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"kioskd/internal/audit"
	"kioskd/internal/clock"
	"kioskd/internal/domain"
	"kioskd/internal/storage"
	logx "kioskd/pkg/logx"
)

func amt(v int64) *int64 { return &v }

func newEngine(t *testing.T, st storage.Store) *Engine {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	return NewEngine(st, audit.NewRecorder(st, nil, clk, logx.Nop()), Options{Clock: clk})
}

func memStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "memory"}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open error = %v", err)
	}
	return st
}

func TestComputeDelta(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		action   domain.Action
		amount   *int64
		current  int64
		delta    int64
		recorded int64
		wantErr  error
	}{
		{"add", domain.ActionAdd, amt(5), 3, 5, 5, nil},
		{"remove", domain.ActionRemove, amt(3), 3, -3, 3, nil},
		{"remove too many", domain.ActionRemove, amt(4), 3, 0, 0, domain.ErrValidation},
		{"set up", domain.ActionSet, amt(10), 4, 6, 10, nil},
		{"set down", domain.ActionSet, amt(1), 4, -3, 1, nil},
		{"reset", domain.ActionReset, nil, 9, -9, 0, nil},
		{"reset ignores amount", domain.ActionReset, amt(4), 9, -9, 0, nil},
		{"add missing amount", domain.ActionAdd, nil, 0, 0, 0, domain.ErrValidation},
		{"negative amount", domain.ActionSet, amt(-1), 0, 0, 0, domain.ErrValidation},
		{"unknown action", domain.Action("double"), amt(1), 0, 0, 0, domain.ErrValidation},
		{"add up to max", domain.ActionAdd, amt(math.MaxInt64 - 2), 2, math.MaxInt64 - 2, math.MaxInt64 - 2, nil},
		{"add overflow", domain.ActionAdd, amt(1), math.MaxInt64, 0, 0, domain.ErrValidation},
		{"set max", domain.ActionSet, amt(math.MaxInt64), 0, math.MaxInt64, math.MaxInt64, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			delta, recorded, err := ComputeDelta(tc.action, tc.amount, tc.current)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("error = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("error = %v", err)
			}
			if delta != tc.delta || recorded != tc.recorded {
				t.Fatalf("ComputeDelta = (%d, %d), want (%d, %d)", delta, recorded, tc.delta, tc.recorded)
			}
		})
	}
}

func TestComputeDeltaChecksActionFirst(t *testing.T) {
	t.Parallel()
	_, _, err := ComputeDelta(domain.Action("double"), nil, 0)
	var ve *domain.ValidationError
	if !errors.As(err, &ve) || ve.Field != "action" {
		t.Fatalf("error = %v, want validation error on action", err)
	}
}

func TestAddOverflowRejected(t *testing.T) {
	t.Parallel()
	e := newEngine(t, memStore(t))
	ctx := context.Background()

	if _, err := e.Adjust(ctx, AdjustRequest{Action: domain.ActionAdd, Amount: amt(math.MaxInt64), Employee: "emp_a"}); err != nil {
		t.Fatalf("Adjust(add max) error = %v", err)
	}
	_, err := e.Adjust(ctx, AdjustRequest{Action: domain.ActionAdd, Amount: amt(1), Employee: "emp_a"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Adjust(add past max) error = %v, want ErrValidation", err)
	}
	total, err := e.Total(ctx, "")
	if err != nil || total != math.MaxInt64 {
		t.Fatalf("Total = %d, %v, want MaxInt64", total, err)
	}
}

func TestConservation(t *testing.T) {
	t.Parallel()
	st := memStore(t)
	e := newEngine(t, st)
	ctx := context.Background()

	rng := rand.New(rand.NewSource(7))
	actions := []domain.Action{domain.ActionAdd, domain.ActionRemove, domain.ActionSet, domain.ActionReset}
	for i := 0; i < 200; i++ {
		req := AdjustRequest{Action: actions[rng.Intn(len(actions))], Amount: amt(int64(rng.Intn(20))), Employee: "emp_a"}
		if _, err := e.Adjust(ctx, req); err != nil && !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("Adjust error = %v", err)
		}
		if rng.Intn(10) == 0 {
			if _, err := e.UndoLast(ctx, ""); err != nil && !errors.Is(err, domain.ErrNothingToUndo) {
				t.Fatalf("UndoLast error = %v", err)
			}
		}
	}

	hist, err := e.History(ctx, "", 0)
	if err != nil {
		t.Fatalf("History error = %v", err)
	}
	var prev, sum int64
	for i := len(hist) - 1; i >= 0; i-- {
		en := hist[i]
		if en.TotalAfter != prev+en.Delta {
			t.Fatalf("entry %d: total_after %d != %d + %d", en.Seq, en.TotalAfter, prev, en.Delta)
		}
		if en.TotalAfter < 0 {
			t.Fatalf("entry %d: negative total %d", en.Seq, en.TotalAfter)
		}
		prev = en.TotalAfter
		sum += en.Delta
	}
	total, _ := e.Total(ctx, "")
	if total != sum {
		t.Fatalf("Total = %d, sum of deltas = %d", total, sum)
	}
}

func TestUndoInverts(t *testing.T) {
	t.Parallel()
	st := memStore(t)
	e := newEngine(t, st)
	ctx := context.Background()

	_, _ = e.Adjust(ctx, AdjustRequest{Action: domain.ActionAdd, Amount: amt(12), Employee: "emp_a"})
	before, _ := e.Total(ctx, "")
	for _, req := range []AdjustRequest{
		{Action: domain.ActionAdd, Amount: amt(3), Employee: "emp_a"},
		{Action: domain.ActionRemove, Amount: amt(5), Employee: "emp_a"},
		{Action: domain.ActionSet, Amount: amt(40), Employee: "emp_a"},
		{Action: domain.ActionReset, Employee: "emp_a"},
	} {
		if _, err := e.Adjust(ctx, req); err != nil {
			t.Fatalf("Adjust(%s) error = %v", req.Action, err)
		}
		got, err := e.UndoLast(ctx, "")
		if err != nil {
			t.Fatalf("UndoLast error = %v", err)
		}
		if got != before {
			t.Fatalf("after undo of %s total = %d, want %d", req.Action, got, before)
		}
	}

	evs, _ := st.ListEvents(ctx, storage.EventFilter{Type: domain.EventLedgerUndo})
	if len(evs) != 4 {
		t.Fatalf("undo events = %d, want 4", len(evs))
	}
}

func TestRemoveGuard(t *testing.T) {
	t.Parallel()
	st := memStore(t)
	e := newEngine(t, st)
	ctx := context.Background()

	_, _ = e.Adjust(ctx, AdjustRequest{Action: domain.ActionAdd, Amount: amt(3), Employee: "emp_a"})
	_, err := e.Adjust(ctx, AdjustRequest{Action: domain.ActionRemove, Amount: amt(4), Employee: "emp_a"})
	var ie *domain.InsufficientError
	if !errors.As(err, &ie) || ie.Available != 3 {
		t.Fatalf("error = %v, want InsufficientError(available 3)", err)
	}
	hist, _ := e.History(ctx, "", 0)
	if len(hist) != 1 {
		t.Fatalf("entries = %d, want 1 (nothing appended)", len(hist))
	}
}

func TestResetRecordsNegativeTotal(t *testing.T) {
	t.Parallel()
	st := memStore(t)
	e := newEngine(t, st)
	ctx := context.Background()

	_, _ = e.Adjust(ctx, AdjustRequest{Action: domain.ActionAdd, Amount: amt(9), Employee: "emp_a"})
	en, err := e.Adjust(ctx, AdjustRequest{Action: domain.ActionReset, Employee: "emp_b", Note: "end of day"})
	if err != nil {
		t.Fatalf("Adjust(reset) error = %v", err)
	}
	if en.Delta != -9 || en.TotalAfter != 0 || en.Amount != 0 {
		t.Fatalf("reset entry = %+v", en)
	}
}

func TestUndoEmpty(t *testing.T) {
	t.Parallel()
	e := newEngine(t, memStore(t))
	if _, err := e.UndoLast(context.Background(), ""); !errors.Is(err, domain.ErrNothingToUndo) {
		t.Fatalf("UndoLast(empty) error = %v, want ErrNothingToUndo", err)
	}
}

func TestLedgersAreIndependent(t *testing.T) {
	t.Parallel()
	e := newEngine(t, memStore(t))
	ctx := context.Background()

	_, _ = e.Adjust(ctx, AdjustRequest{Action: domain.ActionAdd, Amount: amt(5), Employee: "emp_a"})
	_, _ = e.Adjust(ctx, AdjustRequest{Ledger: "pallets", Action: domain.ActionAdd, Amount: amt(2), Employee: "emp_a"})

	if got, _ := e.Total(ctx, "cartons"); got != 5 {
		t.Fatalf("cartons total = %d, want 5", got)
	}
	if got, _ := e.Total(ctx, "pallets"); got != 2 {
		t.Fatalf("pallets total = %d, want 2", got)
	}
}

func TestConcurrentAdjust(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"memory", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			cfg := storage.Config{Driver: driver}
			if driver == "sqlite" {
				cfg.Path = filepath.Join(t.TempDir(), "ledger.db")
			}
			st, err := storage.Open(cfg, logx.Nop())
			if err != nil {
				t.Fatalf("storage.Open error = %v", err)
			}
			defer st.Close()
			e := newEngine(t, st)

			const n = 100
			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := e.Adjust(context.Background(), AdjustRequest{Action: domain.ActionAdd, Amount: amt(1), Employee: "emp_a"}); err != nil {
						t.Errorf("Adjust error = %v", err)
					}
				}()
			}
			wg.Wait()
			if got, _ := e.Total(context.Background(), ""); got != n {
				t.Fatalf("Total = %d, want %d", got, n)
			}
		})
	}
}

// racingStore simulates another process appending between our read and write.
type racingStore struct {
	storage.Store
	once sync.Once
}

func (r *racingStore) AppendLedgerEntry(ctx context.Context, e domain.LedgerEntry) error {
	r.once.Do(func() {
		_ = r.Store.AppendLedgerEntry(ctx, domain.LedgerEntry{
			ID: "led_other", Ledger: e.Ledger, Seq: e.Seq, Employee: "other", Action: domain.ActionAdd,
			Amount: 10, Delta: 10, TotalAfter: e.TotalAfter - e.Delta + 10, Timestamp: e.Timestamp,
		})
	})
	return r.Store.AppendLedgerEntry(ctx, e)
}

func TestAdjustRetriesOnHeadConflict(t *testing.T) {
	t.Parallel()
	st := &racingStore{Store: memStore(t)}
	e := newEngine(t, st)
	ctx := context.Background()

	en, err := e.Adjust(ctx, AdjustRequest{Action: domain.ActionAdd, Amount: amt(1), Employee: "emp_a"})
	if err != nil {
		t.Fatalf("Adjust error = %v", err)
	}
	if en.Seq != 2 || en.TotalAfter != 11 {
		t.Fatalf("entry = %+v, want seq 2 total 11", en)
	}
}

type failingEvents struct{}

func (failingEvents) AppendEvent(context.Context, domain.Event) error { return errors.New("disk full") }

func TestAdjustEventFailureIsPartial(t *testing.T) {
	t.Parallel()
	st := memStore(t)
	e := NewEngine(st, audit.NewRecorder(failingEvents{}, nil, nil, logx.Nop()), Options{})

	en, err := e.Adjust(context.Background(), AdjustRequest{Action: domain.ActionAdd, Amount: amt(2), Employee: "emp_a"})
	if !errors.Is(err, domain.ErrPartial) {
		t.Fatalf("error = %v, want ErrPartial", err)
	}
	if en.TotalAfter != 2 {
		t.Fatalf("entry = %+v, want stored entry returned", en)
	}
	if got, _ := e.Total(context.Background(), ""); got != 2 {
		t.Fatalf("Total = %d, want 2", got)
	}
}

func TestAdjustRequiresEmployee(t *testing.T) {
	t.Parallel()
	e := newEngine(t, memStore(t))
	if _, err := e.Adjust(context.Background(), AdjustRequest{Action: domain.ActionAdd, Amount: amt(1)}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
}
