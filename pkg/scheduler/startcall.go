package scheduler

import (
	"context"
	"fmt"

	"github.com/mepuka/recursive-llm-sub001/pkg/budget"
	"github.com/mepuka/recursive-llm-sub001/pkg/callctx"
	"github.com/mepuka/recursive-llm-sub001/pkg/command"
	"github.com/mepuka/recursive-llm-sub001/pkg/rlmevent"
	"github.com/mepuka/recursive-llm-sub001/pkg/sandbox/host"
)

// handleStartCall implements spec.md §4.7 StartCall: depth-cap check,
// scope/sandbox allocation, CallContext registration, CallStarted
// publication, and the first GenerateStep enqueue.
func (s *Scheduler) handleStartCall(ctx context.Context, c command.StartCall) {
	if err := budget.ReserveDepth(c.Depth, s.cfg.MaxDepth, c.CallID); err != nil {
		s.state.Bus.Publish(rlmevent.CallFailed{
			CompletionID: s.state.CompletionID, CallID: c.CallID, Depth: c.Depth, Error: err,
		})
		s.resolveBridge(c.ParentBridgeRequestID, c.CallID, nil, err)
		return
	}

	opts := s.callOptions[c.CallID]

	// A sub-call's scope derives from its parent's scope, not from the
	// completion-wide ctx directly: closing the parent (FailCall, Finalize,
	// or the parent's own ancestor closing) must recursively tear down every
	// descendant's sandbox. Only the root call (ParentCallID == "") derives
	// straight from ctx.
	parentCtx := ctx
	var parentScope *callctx.Scope
	if c.ParentCallID != "" {
		if parentCC, err := s.state.Registry.Get(c.ParentCallID); err == nil {
			parentCtx = parentCC.Scope.Context()
			parentScope = parentCC.Scope
		}
	}

	scope := callctx.NewScope(parentCtx)
	if parentScope != nil {
		parentScope.OnClose(scope.Close)
	}
	cc := callctx.NewContext(c.CallID, c.Depth, c.Query, c.Context, scope)
	cc.ParentBridgeRequestID = c.ParentBridgeRequestID
	cc.Tools = opts.Tools
	cc.OutputJSONSchema = opts.OutputJSONSchema

	toolNames := make([]string, len(opts.Tools))
	for i, t := range opts.Tools {
		toolNames[i] = t.Name
	}

	sandboxCfg := s.deps.SandboxHostConfig
	sandboxCfg.WorkerPath = s.cfg.SandboxWorkerPath
	instance, err := host.Spawn(scope.Context(), sandboxCfg, c.CallID, c.Depth, toolNames, s.bridgeHandlerFor(c.CallID))
	if err != nil {
		scope.Close()
		s.state.Bus.Publish(rlmevent.CallFailed{
			CompletionID: s.state.CompletionID, CallID: c.CallID, Depth: c.Depth,
			Error: fmt.Errorf("scheduler: spawn sandbox: %w", err),
		})
		s.resolveBridge(c.ParentBridgeRequestID, c.CallID, nil, err)
		return
	}
	cc.Sandbox = instance
	s.sandboxes[c.CallID] = instance
	scope.OnClose(func() {
		instance.Shutdown(context.Background())
		delete(s.sandboxes, c.CallID)
	})

	if err := instance.SetVariable(scope.Context(), "context", c.Context); err != nil {
		wrapped := fmt.Errorf("scheduler: seed context variable: %w", err)
		scope.Close()
		s.state.Bus.Publish(rlmevent.CallFailed{
			CompletionID: s.state.CompletionID, CallID: c.CallID, Depth: c.Depth, Error: wrapped,
		})
		s.resolveBridge(c.ParentBridgeRequestID, c.CallID, nil, wrapped)
		return
	}

	s.state.Registry.Register(cc)
	s.state.Bus.Publish(rlmevent.CallStarted{CompletionID: s.state.CompletionID, CallID: c.CallID, Depth: c.Depth})
	s.enqueue(command.GenerateStep{CallID: c.CallID})
}
