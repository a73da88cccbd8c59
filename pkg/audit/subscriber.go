package audit

import (
	"context"
	"log/slog"

	"github.com/mepuka/recursive-llm-sub001/pkg/rlmevent"
	"github.com/mepuka/recursive-llm-sub001/pkg/runtime"
)

// Subscribe drains a completion's event bus into store until the bus
// closes (terminal event processed and the subscriber unsubscribed) or ctx
// is cancelled. Runs in its own goroutine, started alongside each
// completion's scheduler by pkg/rlm — a slow or failing audit write only logs, it never
// blocks or fails the completion itself.
func Subscribe(ctx context.Context, bus *runtime.Bus, store Store, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	events, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := store.RecordEvent(ctx, ev); err != nil {
				log.Warn("audit: failed to record event", "error", err, "event_type", ev.EventType())
			}
		case <-ctx.Done():
			return
		}
	}
}
