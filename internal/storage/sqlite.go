package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"kioskd/internal/domain"
	logx "kioskd/pkg/logx"
)

//go:embed migrations.sql
var migrationsSQL string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; one connection also makes the
	// head checks below race-free within this process.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, q := range pragmas {
		if _, err := db.ExecContext(ctx, q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", q, err)
		}
	}

	st := &sqliteStore{db: db, log: log}
	if _, err := db.ExecContext(ctx, migrationsSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	var res sql.Result
	err := retryOnBusy(ctx, 5, func() error {
		var err error
		res, err = s.db.ExecContext(ctx, q, args...)
		return err
	})
	return res, err
}

// withTx runs fn in a transaction, retrying the whole transaction on BUSY.
func (s *sqliteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	return retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

// ---- employees ----

const employeeCols = `id, name, role, active, created_at`

func scanEmployee(sc interface{ Scan(...any) error }) (domain.Employee, error) {
	var (
		e       domain.Employee
		role    string
		active  int
		created int64
	)
	if err := sc.Scan(&e.ID, &e.Name, &role, &active, &created); err != nil {
		return domain.Employee{}, err
	}
	e.Role = domain.Role(role)
	e.Active = active != 0
	e.CreatedAt = fromNanos(created)
	return e, nil
}

func (s *sqliteStore) ListEmployees(ctx context.Context) ([]domain.Employee, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+employeeCols+` FROM employees ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetEmployee(ctx context.Context, id string) (domain.Employee, error) {
	e, err := scanEmployee(s.db.QueryRowContext(ctx, `SELECT `+employeeCols+` FROM employees WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Employee{}, fmt.Errorf("employee %s: %w", id, ErrNotFound)
	}
	return e, err
}

func (s *sqliteStore) PutEmployee(ctx context.Context, e domain.Employee) error {
	if strings.TrimSpace(e.ID) == "" {
		return domain.Invalid("id", "must not be empty")
	}
	_, err := s.exec(ctx,
		`INSERT INTO employees(id, name, role, active, created_at) VALUES(?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, role=excluded.role, active=excluded.active`,
		e.ID, e.Name, string(e.Role), boolInt(e.Active), e.CreatedAt.UnixNano(),
	)
	return err
}

// ---- templates ----

const templateCols = `id, title, frequency_minutes, category, active, created_at, updated_at`

func scanTemplate(sc interface{ Scan(...any) error }) (domain.TaskTemplate, error) {
	var (
		t                domain.TaskTemplate
		active           int
		created, updated int64
	)
	if err := sc.Scan(&t.ID, &t.Title, &t.FrequencyMinutes, &t.Category, &active, &created, &updated); err != nil {
		return domain.TaskTemplate{}, err
	}
	t.Active = active != 0
	t.CreatedAt = fromNanos(created)
	t.UpdatedAt = fromNanos(updated)
	return t, nil
}

func (s *sqliteStore) ListTemplates(ctx context.Context, activeOnly bool) ([]domain.TaskTemplate, error) {
	q := `SELECT ` + templateCols + ` FROM task_templates`
	if activeOnly {
		q += ` WHERE active = 1`
	}
	q += ` ORDER BY id`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.TaskTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetTemplate(ctx context.Context, id string) (domain.TaskTemplate, error) {
	t, err := scanTemplate(s.db.QueryRowContext(ctx, `SELECT `+templateCols+` FROM task_templates WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TaskTemplate{}, fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	return t, err
}

func (s *sqliteStore) PutTemplate(ctx context.Context, t domain.TaskTemplate) error {
	if strings.TrimSpace(t.ID) == "" {
		return domain.Invalid("id", "must not be empty")
	}
	_, err := s.exec(ctx,
		`INSERT INTO task_templates(`+templateCols+`) VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET title=excluded.title, frequency_minutes=excluded.frequency_minutes,
		   category=excluded.category, active=excluded.active, updated_at=excluded.updated_at`,
		t.ID, t.Title, t.FrequencyMinutes, t.Category, boolInt(t.Active), t.CreatedAt.UnixNano(), t.UpdatedAt.UnixNano(),
	)
	return err
}

func (s *sqliteStore) DeleteTemplate(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM task_templates WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	return nil
}

// ---- instances ----

const instanceCols = `id, source_type, source_id, assigned_to, status, title_snapshot, due_at, created_at, completed_at, notes`

func scanInstance(sc interface{ Scan(...any) error }) (domain.TaskInstance, error) {
	var (
		in              domain.TaskInstance
		srcType, status string
		due, created    int64
		completed       sql.NullInt64
	)
	if err := sc.Scan(&in.ID, &srcType, &in.SourceID, &in.AssignedTo, &status, &in.TitleSnapshot,
		&due, &created, &completed, &in.Notes); err != nil {
		return domain.TaskInstance{}, err
	}
	in.SourceType = domain.SourceType(srcType)
	in.Status = domain.Status(status)
	in.DueAt = fromNanos(due)
	in.CreatedAt = fromNanos(created)
	if completed.Valid {
		t := fromNanos(completed.Int64)
		in.CompletedAt = &t
	}
	return in, nil
}

func (s *sqliteStore) CreateInstance(ctx context.Context, in domain.TaskInstance) error {
	if strings.TrimSpace(in.ID) == "" {
		return domain.Invalid("id", "must not be empty")
	}
	_, err := s.exec(ctx,
		`INSERT INTO task_instances(`+instanceCols+`) VALUES(?,?,?,?,?,?,?,?,?,?)`,
		in.ID, string(in.SourceType), in.SourceID, in.AssignedTo, string(in.Status), in.TitleSnapshot,
		in.DueAt.UnixNano(), in.CreatedAt.UnixNano(), nullTime(in.CompletedAt), in.Notes,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("instance %s: %w", in.ID, ErrConflict)
	}
	return err
}

func (s *sqliteStore) GetInstance(ctx context.Context, id string) (domain.TaskInstance, error) {
	in, err := scanInstance(s.db.QueryRowContext(ctx, `SELECT `+instanceCols+` FROM task_instances WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TaskInstance{}, fmt.Errorf("instance %s: %w", id, ErrNotFound)
	}
	return in, err
}

func (s *sqliteStore) ListInstances(ctx context.Context, f InstanceFilter) ([]domain.TaskInstance, error) {
	var (
		where []string
		args  []any
	)
	if f.AssignedTo != "" {
		where = append(where, "assigned_to = ?")
		args = append(args, f.AssignedTo)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.SourceType != "" {
		where = append(where, "source_type = ?")
		args = append(args, string(f.SourceType))
	}
	if f.SourceID != "" {
		where = append(where, "source_id = ?")
		args = append(args, f.SourceID)
	}
	if !f.DueBefore.IsZero() {
		where = append(where, "due_at <= ?")
		args = append(args, f.DueBefore.UnixNano())
	}
	q := `SELECT ` + instanceCols + ` FROM task_instances`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, rowid DESC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.TaskInstance
	for rows.Next() {
		in, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateInstance(ctx context.Context, in domain.TaskInstance, expect domain.Status) error {
	res, err := s.exec(ctx,
		`UPDATE task_instances SET assigned_to = ?, status = ?, due_at = ?, completed_at = ?, notes = ?
		 WHERE id = ? AND status = ?`,
		in.AssignedTo, string(in.Status), in.DueAt.UnixNano(), nullTime(in.CompletedAt), in.Notes,
		in.ID, string(expect),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	cur, err := s.GetInstance(ctx, in.ID)
	if err != nil {
		return err
	}
	return fmt.Errorf("instance %s is %s, expected %s: %w", in.ID, cur.Status, expect, ErrConflict)
}

// ---- ledger ----

const entryCols = `id, ledger, seq, employee, action, amount, delta, total_after, note, ts`

func scanEntry(sc interface{ Scan(...any) error }) (domain.LedgerEntry, error) {
	var (
		e      domain.LedgerEntry
		action string
		ts     int64
	)
	if err := sc.Scan(&e.ID, &e.Ledger, &e.Seq, &e.Employee, &action, &e.Amount, &e.Delta, &e.TotalAfter, &e.Note, &ts); err != nil {
		return domain.LedgerEntry{}, err
	}
	e.Action = domain.Action(action)
	e.Timestamp = fromNanos(ts)
	return e, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, q string, args ...any) *sql.Row
}

func latestEntry(ctx context.Context, q queryer, ledger string) (domain.LedgerEntry, bool, error) {
	e, err := scanEntry(q.QueryRowContext(ctx,
		`SELECT `+entryCols+` FROM ledger_entries WHERE ledger = ? ORDER BY seq DESC LIMIT 1`, ledger))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.LedgerEntry{}, false, nil
	}
	if err != nil {
		return domain.LedgerEntry{}, false, err
	}
	return e, true, nil
}

func (s *sqliteStore) LatestLedgerEntry(ctx context.Context, ledger string) (domain.LedgerEntry, bool, error) {
	return latestEntry(ctx, s.db, ledger)
}

func (s *sqliteStore) ListLedgerEntries(ctx context.Context, ledger string, limit int) ([]domain.LedgerEntry, error) {
	q := `SELECT ` + entryCols + ` FROM ledger_entries WHERE ledger = ? ORDER BY seq DESC`
	args := []any{ledger}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendLedgerEntry(ctx context.Context, e domain.LedgerEntry) error {
	if strings.TrimSpace(e.Ledger) == "" {
		return domain.Invalid("ledger", "must not be empty")
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		head, _, err := latestEntry(ctx, tx, e.Ledger)
		if err != nil {
			return err
		}
		if e.Seq != head.Seq+1 {
			return fmt.Errorf("ledger %s head is %d, append wants %d: %w", e.Ledger, head.Seq, e.Seq, ErrConflict)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO ledger_entries(`+entryCols+`) VALUES(?,?,?,?,?,?,?,?,?,?)`,
			e.ID, e.Ledger, e.Seq, e.Employee, string(e.Action), e.Amount, e.Delta, e.TotalAfter, e.Note, e.Timestamp.UnixNano(),
		)
		return err
	})
	if isUniqueViolation(err) {
		return fmt.Errorf("ledger %s seq %d taken: %w", e.Ledger, e.Seq, ErrConflict)
	}
	return err
}

func (s *sqliteStore) DeleteLatestLedgerEntry(ctx context.Context, ledger string, expectSeq int64) (domain.LedgerEntry, error) {
	var removed domain.LedgerEntry
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		head, ok, err := latestEntry(ctx, tx, ledger)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("ledger %s is empty: %w", ledger, ErrNotFound)
		}
		if head.Seq != expectSeq {
			return fmt.Errorf("ledger %s head is %d, expected %d: %w", ledger, head.Seq, expectSeq, ErrConflict)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM ledger_entries WHERE id = ?`, head.ID); err != nil {
			return err
		}
		removed = head
		return nil
	})
	return removed, err
}

// ---- events ----

func (s *sqliteStore) AppendEvent(ctx context.Context, ev domain.Event) error {
	var detail any
	if len(ev.Detail) > 0 {
		b, err := json.Marshal(ev.Detail)
		if err != nil {
			return fmt.Errorf("encode event detail: %w", err)
		}
		detail = string(b)
	}
	_, err := s.exec(ctx, `INSERT INTO events(id, type, detail, ts) VALUES(?,?,?,?)`,
		ev.ID, ev.Type, detail, ev.TS.UnixNano())
	return err
}

func (s *sqliteStore) ListEvents(ctx context.Context, f EventFilter) ([]domain.Event, error) {
	var (
		where []string
		args  []any
	)
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, f.Type)
	}
	if !f.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, f.Since.UnixNano())
	}
	q := `SELECT id, type, detail, ts FROM events`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY ts DESC, rowid DESC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		var (
			ev     domain.Event
			detail sql.NullString
			ts     int64
		)
		if err := rows.Scan(&ev.ID, &ev.Type, &detail, &ts); err != nil {
			return nil, err
		}
		if detail.Valid && detail.String != "" {
			if err := json.Unmarshal([]byte(detail.String), &ev.Detail); err != nil {
				s.log.Debug("event detail undecodable", logx.String("id", ev.ID), logx.Err(err))
			}
		}
		ev.TS = fromNanos(ts)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ---- state ----

func (s *sqliteStore) PutState(ctx context.Context, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.Invalid("key", "must not be empty")
	}
	_, err := s.exec(ctx,
		`INSERT INTO kv_state(key, value) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value,
	)
	return err
}

func (s *sqliteStore) GetState(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_state WHERE key = ?`, strings.TrimSpace(key)).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }
