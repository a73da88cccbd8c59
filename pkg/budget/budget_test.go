package budget

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mepuka/recursive-llm-sub001/pkg/rlmerr"
)

func TestReserveIterationExhausts(t *testing.T) {
	m := New(Config{MaxIterations: 2, MaxLLMCalls: 10})

	require.NoError(t, m.ReserveIteration("call-1"))
	require.NoError(t, m.ReserveIteration("call-1"))

	err := m.ReserveIteration("call-1")
	require.Error(t, err)
	var exhausted *rlmerr.BudgetExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, rlmerr.ResourceIterations, exhausted.Resource)

	// a failed reservation must not mutate state further
	snap := m.Snapshot()
	assert.Equal(t, 0, snap.IterationsRemaining)
}

func TestReserveLLMCallExhausts(t *testing.T) {
	m := New(Config{MaxIterations: 10, MaxLLMCalls: 1})

	require.NoError(t, m.ReserveLLMCall("call-1"))
	err := m.ReserveLLMCall("call-1")
	require.Error(t, err)
	var exhausted *rlmerr.BudgetExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, rlmerr.ResourceLLMCalls, exhausted.Resource)
}

func TestRecordTokensClampsAtZero(t *testing.T) {
	limit := 10
	m := New(Config{MaxIterations: 1, MaxLLMCalls: 1, MaxTotalTokens: &limit})

	assert.False(t, m.TokensExhausted())

	spent := 15
	m.RecordTokens("call-1", &spent)

	assert.True(t, m.TokensExhausted())
	snap := m.Snapshot()
	require.NotNil(t, snap.TokenBudgetRemaining)
	assert.Equal(t, 0, *snap.TokenBudgetRemaining)
}

func TestReserveLLMCallFailsOnceTokenBudgetExhausted(t *testing.T) {
	limit := 10
	m := New(Config{MaxIterations: 10, MaxLLMCalls: 10, MaxTotalTokens: &limit})

	spent := 10
	m.RecordTokens("call-1", &spent)
	require.True(t, m.TokensExhausted())

	err := m.ReserveLLMCall("call-1")
	require.Error(t, err)
	var exhausted *rlmerr.BudgetExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, rlmerr.ResourceTokens, exhausted.Resource)

	// LLMCallsRemaining must not have been decremented by the failed call
	assert.Equal(t, 10, m.Snapshot().LLMCallsRemaining)
}

func TestReserveIterationFailsOnceTokenBudgetExhausted(t *testing.T) {
	limit := 10
	m := New(Config{MaxIterations: 10, MaxLLMCalls: 10, MaxTotalTokens: &limit})

	spent := 10
	m.RecordTokens("call-1", &spent)

	err := m.ReserveIteration("call-1")
	require.Error(t, err)
	var exhausted *rlmerr.BudgetExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, rlmerr.ResourceTokens, exhausted.Resource)
}

func TestRecordTokensNoBudgetConfiguredIsNoop(t *testing.T) {
	m := New(Config{MaxIterations: 1, MaxLLMCalls: 1})
	n := 100
	m.RecordTokens("call-1", &n)
	assert.False(t, m.TokensExhausted())
	assert.Nil(t, m.Snapshot().TokenBudgetRemaining)
}

func TestSnapshotIsACopyNotAnAlias(t *testing.T) {
	limit := 5
	m := New(Config{MaxIterations: 1, MaxLLMCalls: 1, MaxTotalTokens: &limit})

	snap := m.Snapshot()
	*snap.TokenBudgetRemaining = 999

	assert.Equal(t, 5, *m.Snapshot().TokenBudgetRemaining)
}

func TestWithLLMPermitBoundsConcurrency(t *testing.T) {
	m := New(Config{MaxIterations: 100, MaxLLMCalls: 100, Concurrency: 2})

	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.WithLLMPermit(context.Background(), func() error {
				mu.Lock()
				inFlight++
				if inFlight > maxInFlight {
					maxInFlight = inFlight
				}
				mu.Unlock()

				mu.Lock()
				inFlight--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, maxInFlight, 2)
}

func TestWithLLMPermitRespectsContextCancellation(t *testing.T) {
	m := New(Config{MaxIterations: 1, MaxLLMCalls: 1, Concurrency: 1})

	release := make(chan struct{})
	go func() {
		_ = m.WithLLMPermit(context.Background(), func() error {
			<-release
			return nil
		})
	}()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.WithLLMPermit(ctx, func() error {
		t.Fatal("effect must not run once ctx is already cancelled")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	close(release)
}

func TestReserveDepthFailsOverMaxDepth(t *testing.T) {
	require.NoError(t, ReserveDepth(3, 5, "call-1"))
	require.NoError(t, ReserveDepth(5, 5, "call-1"))

	err := ReserveDepth(6, 5, "call-1")
	require.Error(t, err)
	var exhausted *rlmerr.BudgetExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, rlmerr.ResourceDepth, exhausted.Resource)
}
