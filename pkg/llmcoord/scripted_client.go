package llmcoord

import (
	"context"
	"fmt"
	"sync"

	"github.com/mepuka/recursive-llm-sub001/pkg/llm"
)

// ScriptEntry defines a single scripted response for ScriptedClient.
type ScriptEntry struct {
	Response llm.Response
	Err      error

	BlockUntilCancelled bool            // Generate blocks until ctx is cancelled, then returns Err (or ctx.Err())
	WaitCh              <-chan struct{} // Generate blocks until this closes, then returns normally
	OnBlock             chan<- struct{} // notified when Generate enters a blocking path
}

// ScriptedClient is a deterministic llm.Client test fake: each Generate call
// consumes the next ScriptEntry routed by Request.Model, falling back to a
// shared sequential script for calls whose model has no dedicated route.
//
// Grounded on tarsy/test/e2e/mock_llm.go's ScriptedLLMClient, trimmed from
// streaming-chunk + agent-name-routing dispatch (no analog here — this
// runtime has exactly two model roles, primary and sub, addressed by
// Request.Model) down to synchronous Generate + model-keyed routing.
type ScriptedClient struct {
	mu         sync.Mutex
	sequential []ScriptEntry
	seqIndex   int
	routes     map[string][]ScriptEntry
	routeIndex map[string]int
	captured   []llm.Request
}

// NewScriptedClient constructs an empty ScriptedClient.
func NewScriptedClient() *ScriptedClient {
	return &ScriptedClient{
		routes:     make(map[string][]ScriptEntry),
		routeIndex: make(map[string]int),
	}
}

// AddSequential queues an entry consumed in order by calls whose model has no
// dedicated route via AddRouted.
func (c *ScriptedClient) AddSequential(entry ScriptEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sequential = append(c.sequential, entry)
}

// AddRouted queues an entry consumed in order only by calls whose
// Request.Model equals model.
func (c *ScriptedClient) AddRouted(model string, entry ScriptEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.routes[model] = append(c.routes[model], entry)
}

// CallCount returns the number of Generate calls received so far.
func (c *ScriptedClient) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.captured)
}

// CapturedRequests returns every request Generate has received, in order.
func (c *ScriptedClient) CapturedRequests() []llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]llm.Request, len(c.captured))
	copy(out, c.captured)
	return out
}

// Generate implements llm.Client.
func (c *ScriptedClient) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	c.mu.Lock()
	c.captured = append(c.captured, req)
	entry, err := c.nextEntry(req)
	c.mu.Unlock()
	if err != nil {
		return llm.Response{}, err
	}

	if entry.BlockUntilCancelled {
		if entry.OnBlock != nil {
			entry.OnBlock <- struct{}{}
		}
		<-ctx.Done()
		if entry.Err != nil {
			return llm.Response{}, entry.Err
		}
		return llm.Response{}, ctx.Err()
	}

	if entry.WaitCh != nil {
		if entry.OnBlock != nil {
			entry.OnBlock <- struct{}{}
		}
		select {
		case <-entry.WaitCh:
		case <-ctx.Done():
			return llm.Response{}, ctx.Err()
		}
	}

	if entry.Err != nil {
		return llm.Response{}, entry.Err
	}
	return entry.Response, nil
}

// nextEntry selects the next entry using model-routed, then sequential,
// dispatch. Must be called with c.mu held.
func (c *ScriptedClient) nextEntry(req llm.Request) (ScriptEntry, error) {
	if entries, ok := c.routes[req.Model]; ok {
		idx := c.routeIndex[req.Model]
		if idx < len(entries) {
			c.routeIndex[req.Model] = idx + 1
			return entries[idx], nil
		}
	}

	if c.seqIndex < len(c.sequential) {
		entry := c.sequential[c.seqIndex]
		c.seqIndex++
		return entry, nil
	}

	return ScriptEntry{}, fmt.Errorf("llmcoord: ScriptedClient has no more entries (model=%q, sequential=%d/%d)",
		req.Model, c.seqIndex, len(c.sequential))
}
