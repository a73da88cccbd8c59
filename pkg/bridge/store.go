// Package bridge implements the spec's Bridge Store: a registry of
// outstanding sandbox->host bridge requests, keyed by BridgeRequestId, each
// mapped to a suspended consumer that resolves or fails exactly once.
//
// Grounded on tarsy/pkg/queue/pool.go's activeSessions cancel-registry idiom
// (a mutex-protected map from id to a completion callback) and
// tarsy/pkg/mcp/client.go's per-key locking discipline.
package bridge

import (
	"sync"

	"github.com/mepuka/recursive-llm-sub001/pkg/rlmerr"
)

// Consumer is resolved or failed exactly once by the store.
type Consumer struct {
	Resolve func(value any)
	Reject  func(err error)
}

// Store is linearizable with respect to its internal map: register, resolve,
// fail, and remove all take the same mutex.
type Store struct {
	mu      sync.Mutex
	pending map[string]Consumer
}

// New creates an empty bridge store.
func New() *Store {
	return &Store{pending: make(map[string]Consumer)}
}

// Register adds a suspended consumer under id. Overwriting an existing id is
// a programmer error in callers (ids are freshly generated per bridge call)
// but is allowed rather than panicking, matching the store's "last write
// wins" simplicity.
func (s *Store) Register(id string, c Consumer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[id] = c
}

// Resolve completes the pending consumer for id with value. Returns false if
// no consumer was registered (idempotent: a second Resolve/Fail after the
// first is a no-op, satisfying spec.md §8's round-trip property).
func (s *Store) Resolve(id string, value any) bool {
	c, ok := s.take(id)
	if !ok {
		return false
	}
	c.Resolve(value)
	return true
}

// Fail completes the pending consumer for id with err. Same idempotence as
// Resolve.
func (s *Store) Fail(id string, err error) bool {
	c, ok := s.take(id)
	if !ok {
		return false
	}
	c.Reject(err)
	return true
}

// Remove cancels a registration without resolving or failing it — used when
// the originating call tears down before a reply ever arrives and the
// caller has already handled completion another way.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, id)
}

// FailAll drains the store, failing every pending consumer with a
// SandboxError{reason}. Used on call-scope teardown and completion shutdown.
func (s *Store) FailAll(reason string) {
	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[string]Consumer)
	s.mu.Unlock()

	err := &rlmerr.SandboxError{Message: reason}
	for _, c := range pending {
		c.Reject(err)
	}
}

// Len reports the number of pending bridge requests (used by tests asserting
// the post-condition that bridgePending is empty after complete() returns).
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Store) take(id string) (Consumer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	return c, ok
}
