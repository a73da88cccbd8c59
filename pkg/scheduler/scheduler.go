// Package scheduler implements the single-consumer reactor of spec.md §4.7:
// the sole reader of a completion's command queue, applying each command to
// produce state transitions and forking the asynchronous fibers (model
// calls, sandbox executions, child call subtrees, bridge dispatches) that
// eventually re-enqueue the next command.
//
// Grounded on tarsy/pkg/queue/worker.go's run() loop (select over
// stop/ctx/work, one goroutine draining a channel) generalized from "one
// worker processing sessions" to "one scheduler processing commands", and
// on tarsy/pkg/agent/controller/iterating.go's per-iteration body (budget
// check, build prompt, call model, dispatch tool calls, append transcript)
// which GenerateStep/ExecuteCode/HandleBridgeCall jointly restructure as
// explicit, individually re-enqueueable commands.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/mepuka/recursive-llm-sub001/pkg/callctx"
	"github.com/mepuka/recursive-llm-sub001/pkg/command"
	"github.com/mepuka/recursive-llm-sub001/pkg/llmcoord"
	"github.com/mepuka/recursive-llm-sub001/pkg/outputschema"
	"github.com/mepuka/recursive-llm-sub001/pkg/prompt"
	"github.com/mepuka/recursive-llm-sub001/pkg/rlmevent"
	"github.com/mepuka/recursive-llm-sub001/pkg/runtime"
	"github.com/mepuka/recursive-llm-sub001/pkg/sandbox/host"
	"github.com/mepuka/recursive-llm-sub001/pkg/toolbridge"
)

// Config bundles the tunables spec.md §6 enumerates under "Configuration".
type Config struct {
	MaxDepth                int
	MaxExecutionOutputChars int
	SandboxWorkerPath       string
	ToolTimeout             time.Duration

	PrimaryModel string
	SubModel     string
	SubLLMDelegation struct {
		Enabled        bool
		DepthThreshold int
	}
}

func (c Config) withDefaults() Config {
	if c.MaxExecutionOutputChars <= 0 {
		c.MaxExecutionOutputChars = 8000
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = 30 * time.Second
	}
	return c
}

// Deps are the external collaborators the scheduler consumes, matching
// spec.md §6's "external collaborator interfaces the core consumes".
type Deps struct {
	Primary *llmcoord.Coordinator
	Sub     *llmcoord.Coordinator // nil if SubLLMDelegation.Enabled is false

	Prompt *prompt.Builder
	Tools  *toolbridge.Bridge // nil if no tools configured

	SandboxHostConfig host.Config
}

// CallOptions configures one call's bridge-facing surface: what tools it
// may invoke and what shape its final answer must take.
type CallOptions struct {
	Tools            []callctx.ToolDefinition
	OutputJSONSchema string
}

// pendingBatch aggregates the N children of one llm_query_batched call.
// Touched only from the scheduler's own goroutine — no locking needed.
type pendingBatch struct {
	results []any
	remaining int
	done    bool
	failed  error
}

// Scheduler is one completion's reactor: it owns the runtime State and
// drains its command queue until closed.
type Scheduler struct {
	cfg   Config
	deps  Deps
	state *runtime.State
	log   *slog.Logger

	// callOptions carries the non-spec-entity bits (tools, schema) attached
	// to a call at StartCall time, keyed by CallID, cleaned up at
	// Finalize/FailCall alongside the call's registry entry.
	callOptions map[string]CallOptions
	// sandboxes maps CallID to its live host.Instance, so ExecuteCode and
	// HandleBridgeCall's tool dispatch can reach it without widening
	// callctx.Context's Sandbox field's narrow interface.
	sandboxes map[string]*host.Instance
	// batches aggregates llm_query_batched children, keyed by the shared
	// bridgeRequestId their Finalize/FailCall commands report against.
	batches map[string]*pendingBatch
	// batchChildIndex maps a batched child's own CallID to its index in the
	// parent batch, so Finalize/FailCall can place its answer correctly.
	batchChildIndex map[string]int

	callSeq int
}

// New constructs a Scheduler bound to state. Call Run in its own goroutine.
func New(cfg Config, deps Deps, state *runtime.State, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		cfg:             cfg.withDefaults(),
		deps:            deps,
		state:           state,
		log:             log,
		callOptions:     make(map[string]CallOptions),
		sandboxes:       make(map[string]*host.Instance),
		batches:         make(map[string]*pendingBatch),
		batchChildIndex: make(map[string]int),
	}
}

// StartRoot enqueues the root call's StartCall command. opts configures the
// root call's tools and output schema.
func (s *Scheduler) StartRoot(query, context string, opts CallOptions) (callID string, err error) {
	callID = s.nextCallID("root")
	s.callOptions[callID] = opts
	if err := s.state.Enqueue(command.StartCall{CallID: callID, Depth: 0, Query: query, Context: context}); err != nil {
		return "", err
	}
	return callID, nil
}

func (s *Scheduler) nextCallID(prefix string) string {
	s.callSeq++
	return prefix + "-" + itoa(s.callSeq)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Run drains the command queue until it is closed, dispatching each command
// by tag. Stale commands (referencing a call no longer registered) emit
// SchedulerWarning{STALE_COMMAND_DROPPED} and are dropped — per spec.md
// §4.7, this never causes the scheduler to exit.
func (s *Scheduler) Run(ctx context.Context) {
	for cmd := range s.state.Commands() {
		select {
		case <-ctx.Done():
			s.publishWarning(rlmevent.WarnQueueClosed, "scheduler: context cancelled", "", "")
			return
		default:
		}
		s.dispatch(ctx, cmd)
	}
}

func (s *Scheduler) dispatch(ctx context.Context, cmd command.Command) {
	switch c := cmd.(type) {
	case command.StartCall:
		s.handleStartCall(ctx, c)
	case command.GenerateStep:
		s.handleGenerateStep(ctx, c)
	case command.ExecuteCode:
		s.handleExecuteCode(ctx, c)
	case command.CodeExecuted:
		s.handleCodeExecuted(ctx, c)
	case command.HandleBridgeCall:
		s.handleBridgeCall(ctx, c)
	case command.Finalize:
		s.handleFinalize(ctx, c)
	case command.FailCall:
		s.handleFailCall(ctx, c)
	default:
		s.log.Warn("scheduler: unknown command", "type", c)
	}
}

func (s *Scheduler) publishWarning(code rlmevent.WarningCode, message, callID, commandTag string) {
	s.state.Bus.Publish(rlmevent.SchedulerWarning{
		CompletionID: s.state.CompletionID,
		Code:         code,
		Message:      message,
		CallID:       callID,
		CommandTag:   commandTag,
	})
}

// enqueue wraps state.Enqueue, turning a closed-queue error into a warning
// rather than a panic — the scheduler itself may be mid-shutdown.
func (s *Scheduler) enqueue(cmd command.Command) {
	if err := s.state.Enqueue(cmd); err != nil {
		s.publishWarning(rlmevent.WarnQueueClosed, err.Error(), "", string(cmd.CommandTag()))
	}
}

func (s *Scheduler) getCall(callID string, tag command.Tag) (*callctx.Context, bool) {
	cc, err := s.state.Registry.Get(callID)
	if err != nil {
		s.publishWarning(rlmevent.WarnStaleCommandDropped, err.Error(), callID, string(tag))
		return nil, false
	}
	return cc, true
}

// outputSchemaFor parses a call's configured schema, caching nothing since
// schemas are small and calls are created once.
func outputSchemaFor(cc *callctx.Context) (*outputschema.Schema, error) {
	return outputschema.ParseSchema(cc.OutputJSONSchema)
}
