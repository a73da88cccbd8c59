package callctx

import (
	"sync"

	"github.com/mepuka/recursive-llm-sub001/pkg/rlmerr"
)

// Registry maps CallID to its live Context (spec.md §4.6 invariant: a call is
// live iff it is registered iff its scope is open). One Registry per
// completion; the root call and every recursive sub-call it spawns share it.
type Registry struct {
	mu    sync.RWMutex
	calls map[string]*Context
}

// NewRegistry creates an empty call registry.
func NewRegistry() *Registry {
	return &Registry{calls: make(map[string]*Context)}
}

// Register adds cc under its CallID. Registering a CallID already present
// replaces the previous entry without closing its scope — callers never
// re-register a live call, so this only matters for tests that reuse ids.
func (r *Registry) Register(cc *Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[cc.CallID] = cc
}

// Get returns the live Context for callID, or a CallStateMissingError if the
// call is not registered (already finalized, failed, or never started).
func (r *Registry) Get(callID string) (*Context, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cc, ok := r.calls[callID]
	if !ok {
		return nil, &rlmerr.CallStateMissingError{CallID: callID}
	}
	return cc, nil
}

// Unregister removes callID from the registry and closes its scope, tearing
// down its sandbox and any other attached resources. A no-op if callID is
// already absent.
func (r *Registry) Unregister(callID string) {
	r.mu.Lock()
	cc, ok := r.calls[callID]
	if ok {
		delete(r.calls, callID)
	}
	r.mu.Unlock()

	if ok && cc.Scope != nil {
		cc.Scope.Close()
	}
}

// Len reports the number of live calls (used by tests asserting the
// post-condition that the registry is empty after a completion finishes).
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.calls)
}

// Snapshot returns the CallIDs currently registered, for diagnostics and
// shutdown sweeps (e.g. FailAll-style teardown of every live call in a
// completion whose root call failed).
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.calls))
	for id := range r.calls {
		ids = append(ids, id)
	}
	return ids
}
