// Package audit implements the Execution Audit Store SPEC_FULL.md §4 adds:
// a durable, observability-only record of every event a completion's bus
// publishes and budget snapshots. It is never read back into a completion — spec.md's
// Non-goals explicitly exclude caching LLM responses or replaying
// transcripts, and this store honors that by being write-only from the
// scheduler's perspective.
//
// Grounded on tarsy/pkg/database/client.go's connection-pool construction
// and migration-on-startup sequencing, with ent's generated query builder
// replaced by direct jackc/pgx/v5 SQL (see DESIGN.md's dropped-deps note:
// no entc-generated client exists in the retrieval pack).
package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mepuka/recursive-llm-sub001/pkg/budget"
	"github.com/mepuka/recursive-llm-sub001/pkg/rlmevent"
)

// Store persists completion-level observability data. Implementations must
// tolerate being called concurrently by many completions' schedulers.
type Store interface {
	RecordEvent(ctx context.Context, ev rlmevent.Event) error
	RecordBudgetSnapshot(ctx context.Context, completionID string, snap budget.State) error
	Close()
}

// PGStore is the PostgreSQL-backed Store.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore runs pending migrations and opens a connection pool sized per
// cfg. Call Close when the audit store is no longer needed.
func NewPGStore(ctx context.Context, cfg Config) (*PGStore, error) {
	if err := runMigrations(cfg); err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("audit: parse pool config: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("audit: open connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: ping: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

// eventFields extracts the columns every rlmevent.Event shares, via a type
// switch rather than a shared struct field — CallID/Depth aren't part of
// the Event interface itself (SchedulerWarning has no Depth).
func eventFields(ev rlmevent.Event) (callID string, depth int) {
	switch e := ev.(type) {
	case rlmevent.CallStarted:
		return e.CallID, e.Depth
	case rlmevent.IterationStarted:
		return e.CallID, e.Depth
	case rlmevent.ModelResponse:
		return e.CallID, e.Depth
	case rlmevent.CodeExecutionStarted:
		return e.CallID, e.Depth
	case rlmevent.CodeExecutionCompleted:
		return e.CallID, e.Depth
	case rlmevent.BridgeCallReceived:
		return e.CallID, e.Depth
	case rlmevent.CallFinalized:
		return e.CallID, e.Depth
	case rlmevent.CallFailed:
		return e.CallID, e.Depth
	case rlmevent.SchedulerWarning:
		return e.CallID, 0
	default:
		return "", 0
	}
}

// RecordEvent persists one event as a JSONB row. Called from Subscribe's
// own bus-subscriber goroutine (started per completion by pkg/rlm), never
// from the scheduler's dispatch loop directly, so a slow audit write never stalls
// command processing.
func (s *PGStore) RecordEvent(ctx context.Context, ev rlmevent.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("audit: marshal event: %w", err)
	}
	callID, depth := eventFields(ev)

	_, err = s.pool.Exec(ctx,
		`INSERT INTO audit_events (completion_id, call_id, depth, event_type, payload) VALUES ($1, $2, $3, $4, $5)`,
		ev.CompletionIDValue(), callID, depth, string(ev.EventType()), payload,
	)
	if err != nil {
		return fmt.Errorf("audit: insert event: %w", err)
	}
	return nil
}

// RecordBudgetSnapshot persists a point-in-time budget reading.
func (s *PGStore) RecordBudgetSnapshot(ctx context.Context, completionID string, snap budget.State) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_budget_snapshots (completion_id, iterations_remaining, llm_calls_remaining, token_budget_remaining) VALUES ($1, $2, $3, $4)`,
		completionID, snap.IterationsRemaining, snap.LLMCallsRemaining, snap.TokenBudgetRemaining,
	)
	if err != nil {
		return fmt.Errorf("audit: insert budget snapshot: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PGStore) Close() {
	s.pool.Close()
}

// NoopStore discards everything. Used when no audit database is configured
// — the audit store is optional, per SPEC_FULL.md §4.
type NoopStore struct{}

func (NoopStore) RecordEvent(context.Context, rlmevent.Event) error                { return nil }
func (NoopStore) RecordBudgetSnapshot(context.Context, string, budget.State) error { return nil }
func (NoopStore) Close()                                                          {}
