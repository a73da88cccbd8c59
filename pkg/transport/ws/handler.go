// Package ws streams one completion's events to a single WebSocket client.
//
// Grounded on tarsy/pkg/events/manager.go's ConnectionManager: the
// write-timeout-bounded JSON send and the "copy/snapshot, then send without
// holding a lock" discipline are kept, but the channel-subscription
// registry (many connections, many pub/sub channels, PG LISTEN/NOTIFY
// catchup) is dropped — spec.md's stream() is a single-channel, single-
// subscriber affair: one completion, one caller, no catchup or replay
// (consistent with the Non-goal against persisting/replaying transcripts).
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/websocket"

	"github.com/mepuka/recursive-llm-sub001/pkg/rlmevent"
)

// Handler writes a completion's event stream to one WebSocket connection.
type Handler struct {
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

// NewHandler constructs a Handler. A zero WriteTimeout defaults to 10s.
func NewHandler(writeTimeout time.Duration, log *slog.Logger) *Handler {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{WriteTimeout: writeTimeout, Logger: log}
}

// wireEvent is the JSON shape sent over the wire: the event's Type alongside
// its own JSON-marshaled fields, so a client can dispatch on "type" without
// needing this package's Go types.
type wireEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Serve drains events onto conn until events closes, conn errors, or ctx is
// cancelled. It always closes conn before returning.
func (h *Handler) Serve(ctx context.Context, conn *websocket.Conn, events <-chan rlmevent.Event) {
	defer conn.Close(websocket.StatusNormalClosure, "completion finished")

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := h.send(ctx, conn, ev); err != nil {
				h.Logger.Warn("ws: failed to send event, closing connection", "error", err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (h *Handler) send(ctx context.Context, conn *websocket.Conn, ev rlmevent.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("ws: marshal event: %w", err)
	}
	body, err := json.Marshal(wireEvent{Type: string(ev.EventType()), Data: data})
	if err != nil {
		return fmt.Errorf("ws: marshal envelope: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, h.WriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, body)
}
