package audit

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mepuka/recursive-llm-sub001/pkg/budget"
	"github.com/mepuka/recursive-llm-sub001/pkg/rlmevent"
)

// newTestStore starts a real PostgreSQL container, runs the embedded
// migrations against it, and returns a connected PGStore.
//
// Grounded on tarsy/pkg/database/client_test.go's newTestClient: spin up
// postgres.Run, wait for readiness, connect, tear down in t.Cleanup —
// generalized from ent-driven schema creation to pkg/audit's own
// golang-migrate-over-embedded-SQL migration run.
func newTestStore(t *testing.T) *PGStore {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("rlm_audit_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	mappedPort, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)
	port, err := strconv.Atoi(mappedPort.Port())
	require.NoError(t, err)

	cfg := Config{
		Host:     host,
		Port:     port,
		User:     "test",
		Password: "test",
		Database: "rlm_audit_test",
		SSLMode:  "disable",
		MaxConns: 5,
		MinConns: 1,
	}

	store, err := NewPGStore(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func TestRecordEventPersistsARow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.RecordEvent(ctx, rlmevent.CallStarted{CompletionID: "c1", CallID: "call-1", Depth: 0})
	require.NoError(t, err)

	var count int
	row := store.pool.QueryRow(ctx, `SELECT count(*) FROM audit_events WHERE completion_id = $1`, "c1")
	require.NoError(t, row.Scan(&count))
	require.Equal(t, 1, count)
}

func TestRecordBudgetSnapshotPersistsARow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tokens := 100
	err := store.RecordBudgetSnapshot(ctx, "c1", budget.State{
		IterationsRemaining:  5,
		LLMCallsRemaining:    3,
		TokenBudgetRemaining: &tokens,
	})
	require.NoError(t, err)

	var iterationsRemaining int
	row := store.pool.QueryRow(ctx, `SELECT iterations_remaining FROM audit_budget_snapshots WHERE completion_id = $1`, "c1")
	require.NoError(t, row.Scan(&iterationsRemaining))
	require.Equal(t, 5, iterationsRemaining)
}

func TestNoopStoreNeverErrors(t *testing.T) {
	var s NoopStore
	ctx := context.Background()
	require.NoError(t, s.RecordEvent(ctx, rlmevent.CallStarted{CompletionID: "c1"}))
	require.NoError(t, s.RecordBudgetSnapshot(ctx, "c1", budget.State{}))
	s.Close()
}
