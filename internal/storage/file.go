package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	logx "kioskd/pkg/logx"
)

// fileStore is the memory driver made durable without a database.
//
// Files:
//   - <prefix>.snapshot.json  (full state, rewritten on compaction)
//   - <prefix>.journal.jsonl  (append-only mutation log since the snapshot)
//
// Open loads the snapshot and replays the journal. Every compactEvery
// journaled writes the state is snapshotted and the journal truncated.
type fileStore struct {
	*memStore

	log logx.Logger

	snapshotPath string
	journal      *os.File
	enc          *json.Encoder

	writes       int
	compactEvery int
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		memStore:     newMemory(),
		log:          log,
		snapshotPath: prefix + ".snapshot.json",
		compactEvery: 1000,
	}
	journalPath := prefix + ".journal.jsonl"

	if err := s.loadSnapshot(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	replayed, skipped, err := s.replay(journalPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("replay journal: %w", err)
	}
	if skipped > 0 {
		log.Warn("journal records skipped during replay", logx.Int("skipped", skipped), logx.String("path", journalPath))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s.journal = jf
	s.enc = json.NewEncoder(jf)
	s.writes = replayed
	s.memStore.onCommit = s.journalLocked
	s.memStore.afterCommit = s.maybeCompactLocked

	log.Debug("file store opened", logx.String("prefix", prefix), logx.Int("replayed", replayed))
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.journal.Close()
	s.journal = nil
	s.onCommit = func(*mutation) error { return errors.New("file store closed") }
	return err
}

// journalLocked runs with memStore.mu held, before memory changes.
func (s *fileStore) journalLocked(m *mutation) error {
	if s.journal == nil {
		return errors.New("journal closed")
	}
	if err := s.enc.Encode(m); err != nil {
		// Drop any torn record: the snapshot excludes m and the journal is
		// truncated.
		if cerr := s.compactLocked(); cerr != nil {
			s.log.Error("journal write and compaction failed", logx.Err(err), logx.Any("compact_err", cerr))
		}
		return fmt.Errorf("journal write: %w", err)
	}
	return nil
}

// maybeCompactLocked runs with memStore.mu held, after memory changed.
func (s *fileStore) maybeCompactLocked() {
	s.writes++
	if s.writes%s.compactEvery != 0 {
		return
	}
	if err := s.compactLocked(); err != nil {
		s.log.Warn("journal compact failed", logx.Err(err))
	}
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.snapshotLocked()); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, io.SeekEnd)
	return err
}

func (s *fileStore) loadSnapshot() error {
	f, err := os.Open(s.snapshotPath)
	if err != nil {
		return err
	}
	defer f.Close()
	var st memState
	if err := json.NewDecoder(f).Decode(&st); err != nil {
		return err
	}
	s.mu.Lock()
	s.restoreLocked(st)
	s.mu.Unlock()
	return nil
}

func (s *fileStore) replay(path string) (applied, skipped int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	s.mu.Lock()
	defer s.mu.Unlock()
	for sc.Scan() {
		var m mutation
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			// torn tail write
			skipped++
			continue
		}
		if err := s.applyLocked(&m); err != nil {
			skipped++
			continue
		}
		applied++
	}
	return applied, skipped, sc.Err()
}
