package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleEmployee Role = "employee"
	RoleManager  Role = "manager"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleEmployee, RoleManager, RoleAdmin:
		return true
	}
	return false
}

type Employee struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Eligible reports whether the employee takes part in task rotation.
func (e Employee) Eligible() bool { return e.Active && e.Role != RoleAdmin }

// TaskTemplate is a recurring chore definition.
type TaskTemplate struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	FrequencyMinutes int       `json:"frequency_minutes"`
	Category         string    `json:"category,omitempty"`
	Active           bool      `json:"active"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (t TaskTemplate) Frequency() time.Duration {
	return time.Duration(t.FrequencyMinutes) * time.Minute
}

func (t TaskTemplate) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return Invalid("title", "must not be empty")
	}
	if t.FrequencyMinutes <= 0 {
		return Invalid("frequency_minutes", "must be > 0")
	}
	return nil
}

type SourceType string

const (
	SourceRegular SourceType = "regular"
	SourceSpecial SourceType = "special"
)

func (s SourceType) Valid() bool { return s == SourceRegular || s == SourceSpecial }

// TaskInstance is one concrete assignment of a chore to an employee.
// Instances are never deleted.
type TaskInstance struct {
	ID            string     `json:"id"`
	SourceType    SourceType `json:"source_type"`
	SourceID      string     `json:"source_id"`
	AssignedTo    string     `json:"assigned_to"`
	Status        Status     `json:"status"`
	TitleSnapshot string     `json:"title_snapshot"`
	DueAt         time.Time  `json:"due_at"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	Notes         string     `json:"notes,omitempty"`
}

// LedgerEntry is one immutable adjustment of a counted resource.
// TotalAfter of entry i equals TotalAfter of entry i-1 plus Delta.
type LedgerEntry struct {
	ID         string    `json:"id"`
	Ledger     string    `json:"ledger"`
	Seq        int64     `json:"seq"`
	Employee   string    `json:"employee"`
	Action     Action    `json:"action"`
	Amount     int64     `json:"amount"`
	Delta      int64     `json:"delta"`
	TotalAfter int64     `json:"total_after"`
	Note       string    `json:"note,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Event types written to the audit log.
const (
	EventTaskSpawned    = "task:spawned"
	EventTaskSpecial    = "task:special"
	EventTaskDone       = "task:done"
	EventTaskMissed     = "task:missed"
	EventHelpRequest    = "help:request"
	EventHelpResolved   = "help:resolved"
	EventTaskReassigned = "task:reassigned"
	EventLedgerAdjust   = "ledger:adjust"
	EventLedgerUndo     = "ledger:undo"
)

type Event struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Detail map[string]any `json:"detail,omitempty"`
	TS     time.Time      `json:"ts"`
}

// NewID returns a prefixed random identifier carrying a full UUIDv4,
// e.g. "tsk_1b4e28ba2fa1411d9f8a2b6a0c3e4d5f".
func NewID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
