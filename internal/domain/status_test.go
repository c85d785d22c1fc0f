package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestTransitionTable(t *testing.T) {
	t.Parallel()

	all := []Status{StatusPending, StatusDone, StatusMissed, StatusHelp}
	allowed := map[[2]Status]string{
		{StatusPending, StatusDone}:   EventTaskDone,
		{StatusPending, StatusMissed}: EventTaskMissed,
		{StatusPending, StatusHelp}:   EventHelpRequest,
		{StatusHelp, StatusPending}:   EventHelpResolved,
		{StatusHelp, StatusDone}:      EventTaskDone,
		{StatusHelp, StatusMissed}:    EventTaskMissed,
	}
	for _, from := range all {
		for _, to := range all {
			ev, ok := TransitionEvent(from, to)
			want, wantOK := allowed[[2]Status{from, to}]
			if ok != wantOK || ev != want {
				t.Fatalf("TransitionEvent(%s, %s) = (%q, %v), want (%q, %v)", from, to, ev, ok, want, wantOK)
			}
		}
	}
	for _, s := range []Status{StatusDone, StatusMissed} {
		if !s.Terminal() {
			t.Fatalf("%s.Terminal() = false", s)
		}
	}
}

func TestParseStatusAndAction(t *testing.T) {
	t.Parallel()

	if s, err := ParseStatus(" Done "); err != nil || s != StatusDone {
		t.Fatalf("ParseStatus(Done) = (%q, %v)", s, err)
	}
	if _, err := ParseStatus("finished"); !errors.Is(err, ErrValidation) {
		t.Fatalf("ParseStatus(finished) error = %v, want ErrValidation", err)
	}
	if a, err := ParseAction("RESET"); err != nil || a != ActionReset {
		t.Fatalf("ParseAction(RESET) = (%q, %v)", a, err)
	}
	if _, err := ParseAction("double"); !errors.Is(err, ErrValidation) {
		t.Fatalf("ParseAction(double) error = %v, want ErrValidation", err)
	}
}

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	ins := fmt.Errorf("adjust: %w", &InsufficientError{Requested: 5, Available: 2})
	if !errors.Is(ins, ErrValidation) {
		t.Fatalf("InsufficientError is not ErrValidation")
	}
	var ie *InsufficientError
	if !errors.As(ins, &ie) || ie.Available != 2 {
		t.Fatalf("errors.As(InsufficientError) = %v", ie)
	}

	cause := errors.New("disk full")
	p := &PartialError{Op: "ledger adjust", Err: cause}
	if !errors.Is(p, ErrPartial) || !errors.Is(p, cause) {
		t.Fatalf("PartialError does not match ErrPartial and its cause")
	}
	if errors.Is(p, ErrNotFound) {
		t.Fatalf("PartialError matches ErrNotFound")
	}
}

func TestTemplateValidate(t *testing.T) {
	t.Parallel()

	if err := (TaskTemplate{Title: "Restock", FrequencyMinutes: 60}).Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	var ve *ValidationError
	err := (TaskTemplate{Title: "Restock"}).Validate()
	if !errors.As(err, &ve) || ve.Field != "frequency_minutes" {
		t.Fatalf("Validate() = %v, want frequency_minutes error", err)
	}
}

func TestNewIDCarriesFullUUID(t *testing.T) {
	t.Parallel()
	id := NewID("tsk")
	if !strings.HasPrefix(id, "tsk_") || len(id) != len("tsk_")+32 {
		t.Fatalf("NewID = %q, want tsk_ + 32 hex chars", id)
	}
	if NewID("tsk") == id {
		t.Fatalf("NewID repeated %q", id)
	}
}
