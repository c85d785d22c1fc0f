package app

import (
	"context"

	"kioskd/internal/domain"
	logx "kioskd/pkg/logx"
)

// startEventLog logs every committed event. Help requests are raised to
// warn so an operator tailing the log sees them.
func (a *App) startEventLog() {
	events, unsub := a.bus.Subscribe(128)
	log := a.log.With(logx.String("comp", "events"))
	a.sup.Go("eventbus.log", func(ctx context.Context) error {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-events:
				if !ok {
					return nil
				}
				fields := []logx.Field{
					logx.String("type", ev.Type),
					logx.String("event_id", ev.ID),
					logx.Time("ts", ev.TS),
				}
				if ev.Type == domain.EventHelpRequest {
					if id, ok := ev.Detail["task_id"].(string); ok {
						fields = append(fields, logx.String("task_id", id))
					}
					if who, ok := ev.Detail["assigned_to"].(string); ok {
						fields = append(fields, logx.String("employee", who))
					}
					log.Warn("help requested", fields...)
					continue
				}
				log.Debug("event", fields...)
			}
		}
	})
}
