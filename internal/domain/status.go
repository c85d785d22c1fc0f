package domain

import "strings"

// Status is a task instance state. Valid values are the four constants.
type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	StatusMissed  Status = "missed"
	StatusHelp    Status = "help"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusDone, StatusMissed, StatusHelp:
		return true
	}
	return false
}

// Terminal statuses accept no further transitions.
func (s Status) Terminal() bool { return s == StatusDone || s == StatusMissed }

// Open statuses still need someone's attention.
func (s Status) Open() bool { return s == StatusPending || s == StatusHelp }

func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", Invalid("status", "unknown status "+quote(raw))
	}
	return s, nil
}

// transitions lists the allowed moves out of each status, with the audit
// event each move emits. help is a sub-state of pending: a supervisor either
// returns it to pending or closes it.
var transitions = map[Status]map[Status]string{
	StatusPending: {
		StatusDone:   EventTaskDone,
		StatusMissed: EventTaskMissed,
		StatusHelp:   EventHelpRequest,
	},
	StatusHelp: {
		StatusPending: EventHelpResolved,
		StatusDone:    EventTaskDone,
		StatusMissed:  EventTaskMissed,
	},
}

// TransitionEvent returns the event type for from->to, or false when the
// move is not allowed.
func TransitionEvent(from, to Status) (string, bool) {
	ev, ok := transitions[from][to]
	return ev, ok
}

func CanTransition(from, to Status) bool {
	_, ok := TransitionEvent(from, to)
	return ok
}

type Action string

const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
	ActionSet    Action = "set"
	ActionReset  Action = "reset"
)

func ParseAction(raw string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(raw)))
	switch a {
	case ActionAdd, ActionRemove, ActionSet, ActionReset:
		return a, nil
	}
	return "", Invalid("action", "unknown action "+quote(raw))
}

func quote(s string) string { return `"` + s + `"` }
