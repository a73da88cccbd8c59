// Package budget implements the spec's Budget Manager: a single BudgetState
// cell per completion tree, shared by every call in the tree, with atomic
// reservation operations and a counting semaphore for LLM concurrency.
//
// Grounded on tarsy/pkg/queue/worker.go's capacity check (count active
// sessions, compare against a configured ceiling before claiming) turned
// into an in-memory atomic reservation instead of a DB COUNT(*) query.
package budget

import (
	"context"
	"sync"

	"github.com/mepuka/recursive-llm-sub001/pkg/rlmerr"
)

// State is a snapshot of the remaining budget. TokenBudgetRemaining is nil
// when no token budget was configured.
type State struct {
	IterationsRemaining int
	LLMCallsRemaining   int
	TokenBudgetRemaining *int
}

// Manager owns one BudgetState cell and one LLM concurrency permit for an
// entire completion tree. All methods are safe for concurrent use by the
// scheduler and any forked fiber.
type Manager struct {
	mu    sync.Mutex
	state State

	permit chan struct{} // counting semaphore; buffered to `concurrency`
}

// Config seeds the initial budget and concurrency limit.
type Config struct {
	MaxIterations  int
	MaxLLMCalls    int
	MaxTotalTokens *int // nil = unlimited
	Concurrency    int  // default 4, see pkg/config
}

// New creates a budget manager seeded from cfg.
func New(cfg Config) *Manager {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	var tokens *int
	if cfg.MaxTotalTokens != nil {
		v := *cfg.MaxTotalTokens
		tokens = &v
	}
	return &Manager{
		state: State{
			IterationsRemaining:  cfg.MaxIterations,
			LLMCallsRemaining:    cfg.MaxLLMCalls,
			TokenBudgetRemaining: tokens,
		},
		permit: make(chan struct{}, concurrency),
	}
}

// Snapshot returns a copy of the current budget state.
func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state
	if s.TokenBudgetRemaining != nil {
		v := *s.TokenBudgetRemaining
		s.TokenBudgetRemaining = &v
	}
	return s
}

// ReserveLLMCall decrements llmCallsRemaining by one, failing without
// mutation if it is already zero (invariant 2 in spec.md §3).
func (m *Manager) ReserveLLMCall(callID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.TokenBudgetRemaining != nil && *m.state.TokenBudgetRemaining <= 0 {
		return &rlmerr.BudgetExhaustedError{Resource: rlmerr.ResourceTokens, Remaining: 0, CallID: callID}
	}
	if m.state.LLMCallsRemaining <= 0 {
		return &rlmerr.BudgetExhaustedError{Resource: rlmerr.ResourceLLMCalls, Remaining: 0, CallID: callID}
	}
	m.state.LLMCallsRemaining--
	return nil
}

// ReserveIteration decrements iterationsRemaining by one, same semantics as
// ReserveLLMCall.
func (m *Manager) ReserveIteration(callID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.TokenBudgetRemaining != nil && *m.state.TokenBudgetRemaining <= 0 {
		return &rlmerr.BudgetExhaustedError{Resource: rlmerr.ResourceTokens, Remaining: 0, CallID: callID}
	}
	if m.state.IterationsRemaining <= 0 {
		return &rlmerr.BudgetExhaustedError{Resource: rlmerr.ResourceIterations, Remaining: 0, CallID: callID}
	}
	m.state.IterationsRemaining--
	return nil
}

// RecordTokens decrements the token budget by n, if a token budget is set
// and n is known (non-nil). Once the remaining count drops to zero or below,
// the budget is considered exhausted: it is clamped at zero so later
// reservations fail deterministically instead of drifting negative.
func (m *Manager) RecordTokens(callID string, n *int) {
	if n == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.TokenBudgetRemaining == nil {
		return
	}
	remaining := *m.state.TokenBudgetRemaining - *n
	if remaining < 0 {
		remaining = 0
	}
	m.state.TokenBudgetRemaining = &remaining
}

// TokensExhausted reports whether a configured token budget has hit zero.
func (m *Manager) TokensExhausted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.TokenBudgetRemaining != nil && *m.state.TokenBudgetRemaining <= 0
}

// WithLLMPermit acquires the concurrency permit for the duration of effect,
// blocking until a slot is free or ctx is cancelled.
func (m *Manager) WithLLMPermit(ctx context.Context, effect func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case m.permit <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-m.permit }()
	return effect()
}

// ReserveDepth validates depth against maxDepth without mutating any cell
// (invariant 3 in spec.md §3: fails before sandbox creation).
func ReserveDepth(depth, maxDepth int, callID string) error {
	if depth > maxDepth {
		return &rlmerr.BudgetExhaustedError{Resource: rlmerr.ResourceDepth, Remaining: 0, CallID: callID}
	}
	return nil
}
