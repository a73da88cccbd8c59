package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mepuka/recursive-llm-sub001/pkg/bridge"
	"github.com/mepuka/recursive-llm-sub001/pkg/callctx"
	"github.com/mepuka/recursive-llm-sub001/pkg/command"
	"github.com/mepuka/recursive-llm-sub001/pkg/rlmerr"
	"github.com/mepuka/recursive-llm-sub001/pkg/rlmevent"
)

// bridgeHandlerFor returns the host.BridgeHandler installed on callID's
// sandbox. It runs on the sandbox's own per-call-bridge goroutine (spawned
// by the host adapter's read loop, never the scheduler goroutine), so it is
// free to block for as long as a recursive call subtree takes to resolve —
// registering a consumer in the bridge store and enqueuing HandleBridgeCall
// is how that blocking wait is wired back into the single-consumer
// scheduler (spec.md §4.4, §4.7).
func (s *Scheduler) bridgeHandlerFor(callID string) func(ctx context.Context, method string, args any) (any, error) {
	return func(ctx context.Context, method string, args any) (any, error) {
		id := fmt.Sprintf("%s/bridge-%d", callID, time.Now().UnixNano())
		resultCh := make(chan bridgeOutcome, 1)

		s.state.Bridge.Register(id, bridge.Consumer{
			Resolve: func(value any) { resultCh <- bridgeOutcome{value: value} },
			Reject:  func(err error) { resultCh <- bridgeOutcome{err: err} },
		})

		if err := s.state.Enqueue(command.HandleBridgeCall{
			CallID: callID, BridgeRequestID: id, Method: method, Args: args,
		}); err != nil {
			s.state.Bridge.Remove(id)
			return nil, err
		}

		select {
		case outcome := <-resultCh:
			return outcome.value, outcome.err
		case <-ctx.Done():
			s.state.Bridge.Remove(id)
			return nil, ctx.Err()
		}
	}
}

type bridgeOutcome struct {
	value any
	err   error
}

// handleBridgeCall implements spec.md §4.7 HandleBridgeCall: publish
// BridgeCallReceived, then route by method to a recursive llm_query,
// a fanned-out llm_query_batched, or a registered tool.
func (s *Scheduler) handleBridgeCall(ctx context.Context, c command.HandleBridgeCall) {
	cc, ok := s.getCall(c.CallID, command.TagHandleBridgeCall)
	if !ok {
		s.resolveBridge(c.BridgeRequestID, "", nil, &rlmerr.CallStateMissingError{CallID: c.CallID})
		return
	}

	s.state.Bus.Publish(rlmevent.BridgeCallReceived{
		CompletionID: s.state.CompletionID, CallID: c.CallID, Depth: cc.Depth, Method: c.Method,
	})

	switch {
	case c.Method == "llm_query":
		s.startLLMQueryChild(cc, c.BridgeRequestID, c.Args)
	case c.Method == "llm_query_batched":
		s.startLLMQueryBatch(cc, c.BridgeRequestID, c.Args)
	case strings.HasPrefix(c.Method, "tool:"):
		s.dispatchTool(ctx, cc, c.BridgeRequestID, strings.TrimPrefix(c.Method, "tool:"), c.Args)
	default:
		s.resolveBridge(c.BridgeRequestID, "", nil, fmt.Errorf("scheduler: unknown bridge method %q", c.Method))
	}
}

// decodeLLMQueryArgs accepts both the wire shape the VM's jsLLMQuery sends
// (map[string]any{"query": ..., "context": ...}) and the bare query string
// older callers/tests still pass directly.
func decodeLLMQueryArgs(args any) (query, queryContext string) {
	switch v := args.(type) {
	case map[string]any:
		query, _ = v["query"].(string)
		queryContext, _ = v["context"].(string)
	case string:
		query = v
	}
	return query, queryContext
}

// decodeLLMQueryBatchArgs accepts both the VM's map[string]any{"queries":
// ..., "contexts": ...} shape and the bare []any of query strings older
// callers/tests still pass directly.
func decodeLLMQueryBatchArgs(args any) (queries, contexts []string) {
	var rawQueries, rawContexts []any
	switch v := args.(type) {
	case map[string]any:
		rawQueries, _ = v["queries"].([]any)
		rawContexts, _ = v["contexts"].([]any)
	case []any:
		rawQueries = v
	}

	queries = make([]string, len(rawQueries))
	for i, q := range rawQueries {
		queries[i], _ = q.(string)
	}
	contexts = make([]string, len(rawQueries))
	for i, c := range rawContexts {
		if i >= len(contexts) {
			break
		}
		contexts[i], _ = c.(string)
	}
	return queries, contexts
}

func (s *Scheduler) startLLMQueryChild(parent *callctx.Context, bridgeRequestID string, args any) {
	query, queryContext := decodeLLMQueryArgs(args)
	childID := s.nextCallID(parent.CallID + ".q")
	s.callOptions[childID] = CallOptions{Tools: parent.Tools}
	s.enqueue(command.StartCall{
		CallID: childID, Depth: parent.Depth + 1, Query: query, Context: queryContext,
		ParentCallID: parent.CallID, ParentBridgeRequestID: bridgeRequestID,
	})
}

func (s *Scheduler) startLLMQueryBatch(parent *callctx.Context, bridgeRequestID string, args any) {
	queries, contexts := decodeLLMQueryBatchArgs(args)

	if len(queries) == 0 {
		s.resolveBridge(bridgeRequestID, "", []any{}, nil)
		return
	}

	s.batches[bridgeRequestID] = &pendingBatch{
		results:   make([]any, len(queries)),
		remaining: len(queries),
	}

	for i, query := range queries {
		childID := s.nextCallID(parent.CallID + ".qb")
		s.batchChildIndex[childID] = i
		s.callOptions[childID] = CallOptions{Tools: parent.Tools}
		s.enqueue(command.StartCall{
			CallID: childID, Depth: parent.Depth + 1, Query: query, Context: contexts[i],
			ParentCallID: parent.CallID, ParentBridgeRequestID: bridgeRequestID,
		})
	}
}

func (s *Scheduler) dispatchTool(ctx context.Context, cc *callctx.Context, bridgeRequestID, toolName string, args any) {
	if s.deps.Tools == nil {
		s.resolveBridge(bridgeRequestID, "", nil, &rlmerr.SandboxError{Message: "no tools configured for this completion"})
		return
	}

	var def callctx.ToolDefinition
	found := false
	for _, t := range cc.Tools {
		if t.Name == toolName {
			def = t
			found = true
			break
		}
	}
	if !found {
		s.resolveBridge(bridgeRequestID, "", nil, &rlmerr.SandboxError{Message: fmt.Sprintf("tool %q not available to this call", toolName)})
		return
	}

	positional, _ := args.([]any)
	namedArgs := make(map[string]any, len(def.ParameterNames))
	for i, name := range def.ParameterNames {
		if i < len(positional) {
			namedArgs[name] = positional[i]
		}
	}

	timeout := time.Duration(def.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = s.cfg.ToolTimeout
	}

	go func() {
		toolCtx, cancel := context.WithTimeout(cc.Scope.Context(), timeout)
		defer cancel()
		result, err := s.deps.Tools.Execute(toolCtx, toolName, namedArgs)
		s.resolveBridgeDirect(bridgeRequestID, result, err)
	}()
}

// resolveBridgeDirect resolves or fails the bridge store with no batch
// bookkeeping. Tool dispatch never participates in an llm_query_batched
// aggregation, so this is the only path safe to call from the tool
// dispatch goroutine above rather than the scheduler goroutine — it
// touches nothing but bridge.Store, which has its own internal mutex.
func (s *Scheduler) resolveBridgeDirect(bridgeRequestID string, value any, err error) {
	if bridgeRequestID == "" {
		return
	}
	if err != nil {
		s.state.Bridge.Fail(bridgeRequestID, err)
		return
	}
	s.state.Bridge.Resolve(bridgeRequestID, value)
}

// resolveBridge delivers a call's terminal result to whatever is awaiting
// it on bridgeRequestID, aggregating llm_query_batched members as needed.
// Only ever called from the scheduler's own goroutine (StartCall's
// depth-cap rejection, Finalize, FailCall), since it mutates the batches
// and callOptions maps without its own locking.
func (s *Scheduler) resolveBridge(bridgeRequestID, childCallID string, value any, err error) {
	if bridgeRequestID == "" {
		return
	}
	delete(s.callOptions, childCallID)

	batch, isBatched := s.batches[bridgeRequestID]
	if !isBatched {
		if err != nil {
			s.state.Bridge.Fail(bridgeRequestID, err)
			return
		}
		s.state.Bridge.Resolve(bridgeRequestID, value)
		return
	}

	if batch.done {
		return
	}
	if err != nil {
		batch.done = true
		delete(s.batches, bridgeRequestID)
		s.state.Bridge.Fail(bridgeRequestID, err)
		return
	}

	idx, ok := s.batchChildIndex[childCallID]
	delete(s.batchChildIndex, childCallID)
	if ok {
		batch.results[idx] = value
	}
	batch.remaining--
	if batch.remaining <= 0 {
		batch.done = true
		delete(s.batches, bridgeRequestID)
		s.state.Bridge.Resolve(bridgeRequestID, batch.results)
	}
}
