// Package storage persists kioskd's employees, task templates and
// instances, ledger entries, audit events and small runtime state (such as
// the rotation cursor).
//
// Drivers:
//   - memory: maps guarded by a RWMutex, nothing survives a restart
//   - file: the memory driver plus a JSONL journal and periodic snapshot
//   - sqlite: modernc.org/sqlite database file
//
// Writes that must not race (instance status changes, ledger appends and
// removals) are compare-and-set: callers pass what they expect the current
// state to be and get ErrConflict when it moved.
package storage
