package runtime

import (
	"fmt"
	"sync"

	"github.com/mepuka/recursive-llm-sub001/pkg/bridge"
	"github.com/mepuka/recursive-llm-sub001/pkg/budget"
	"github.com/mepuka/recursive-llm-sub001/pkg/callctx"
	"github.com/mepuka/recursive-llm-sub001/pkg/command"
)

// State is the per-completion shared state described in spec.md's Runtime
// State component: a command queue, event bus, budget cell, bridge-pending
// map, and call registry, all addressed by one CompletionID.
//
// Grounded on tarsy/pkg/queue/pool.go's per-pool shared state (activeSessions
// map + semaphore + logger bundled behind one struct, constructed once per
// pool lifetime) generalized to "one State per completion".
type State struct {
	CompletionID string

	Bus      *Bus
	Budget   *budget.Manager
	Bridge   *bridge.Store
	Registry *callctx.Registry

	mu     sync.Mutex
	queue  chan command.Command
	closed bool
}

// NewState constructs a completion's shared state. queueCapacity bounds the
// command queue's buffer; a full queue blocks its enqueuer, which is by
// design a backpressure signal rather than an error condition.
func NewState(completionID string, budgetMgr *budget.Manager, eventBufferCapacity, queueCapacity int) *State {
	if queueCapacity <= 0 {
		queueCapacity = 1024
	}
	return &State{
		CompletionID: completionID,
		Bus:          NewBus(eventBufferCapacity),
		Budget:       budgetMgr,
		Bridge:       bridge.New(),
		Registry:     callctx.NewRegistry(),
		queue:        make(chan command.Command, queueCapacity),
	}
}

// Enqueue adds cmd to the command queue. Returns an error if the queue has
// already been closed (completion shutdown in progress) — callers treat this
// as a SchedulerWarning{QUEUE_CLOSED}, never as a reason to panic.
func (s *State) Enqueue(cmd command.Command) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return fmt.Errorf("runtime: command queue closed")
	}
	s.queue <- cmd
	return nil
}

// Commands exposes the queue for the scheduler's single consumer.
func (s *State) Commands() <-chan command.Command { return s.queue }

// Close shuts the queue down: no further Enqueue succeeds, and the channel
// is closed so the scheduler's range loop exits once drained. Safe to call
// more than once.
func (s *State) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.queue)
}
