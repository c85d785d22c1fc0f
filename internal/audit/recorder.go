// Package audit writes domain events to the append-only event log and,
// once stored, fans them out on the in-process bus.
package audit

import (
	"context"
	"fmt"

	"kioskd/internal/clock"
	"kioskd/internal/domain"
	"kioskd/internal/eventbus"
	logx "kioskd/pkg/logx"
)

type EventStore interface {
	AppendEvent(ctx context.Context, ev domain.Event) error
}

type Recorder struct {
	store EventStore
	bus   eventbus.Bus
	clk   clock.Clock
	log   logx.Logger
}

func NewRecorder(store EventStore, bus eventbus.Bus, clk clock.Clock, log logx.Logger) *Recorder {
	if bus == nil {
		bus = eventbus.Nop{}
	}
	if clk == nil {
		clk = clock.System()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{store: store, bus: bus, clk: clk, log: log.With(logx.String("comp", "audit"))}
}

// Record persists one event. The returned error is already wrapped as a
// *domain.PartialError naming op, since callers record after their own
// mutation succeeded.
func (r *Recorder) Record(ctx context.Context, op, typ string, detail map[string]any) (domain.Event, error) {
	ev := domain.Event{
		ID:     domain.NewID("evt"),
		Type:   typ,
		Detail: detail,
		TS:     r.clk.Now(),
	}
	if err := r.store.AppendEvent(ctx, ev); err != nil {
		r.log.Error("event not persisted", logx.String("op", op), logx.String("type", typ), logx.Err(err))
		return ev, &domain.PartialError{Op: op, Err: fmt.Errorf("append %s event: %w", typ, err)}
	}
	r.bus.Publish(ev)
	return ev, nil
}
