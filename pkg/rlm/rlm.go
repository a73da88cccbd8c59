// Package rlm is the public API of spec.md §6: complete() and stream(),
// each building a fresh per-completion runtime container (budget, bridge
// store, call registry, scheduler) and tearing it down deterministically
// when the root call finalizes or fails.
//
// Grounded on tarsy/pkg/agent/orchestrator/runner.go's Run() entry point
// (construct per-run dependencies, drive the controller to completion,
// return the final answer) generalized to "one runtime container per
// complete()/stream() invocation" instead of one orchestrator run.
package rlm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mepuka/recursive-llm-sub001/pkg/audit"
	"github.com/mepuka/recursive-llm-sub001/pkg/budget"
	"github.com/mepuka/recursive-llm-sub001/pkg/callctx"
	"github.com/mepuka/recursive-llm-sub001/pkg/llm"
	"github.com/mepuka/recursive-llm-sub001/pkg/llmcoord"
	"github.com/mepuka/recursive-llm-sub001/pkg/prompt"
	"github.com/mepuka/recursive-llm-sub001/pkg/rlmevent"
	"github.com/mepuka/recursive-llm-sub001/pkg/runtime"
	"github.com/mepuka/recursive-llm-sub001/pkg/sandbox/host"
	"github.com/mepuka/recursive-llm-sub001/pkg/scheduler"
	"github.com/mepuka/recursive-llm-sub001/pkg/toolbridge"
)

// Config bundles the long-lived collaborators a Runtime wires into every
// completion it runs: model clients, the sandbox worker binary, and tool
// access. Budgets and bridge tables are NOT here — spec.md §9's "Global
// mutable state" pitfall requires each complete()/stream() to build its own,
// torn down with the completion's scope.
type Config struct {
	PrimaryClient llm.Client
	SubClient     llm.Client // nil disables sub-model delegation regardless of Scheduler.SubLLMDelegation

	Retry llmcoord.RetryConfig

	Tools *toolbridge.Bridge // nil if no MCP tools are configured

	Scheduler scheduler.Config
	Sandbox   host.Config

	Budget budget.Config

	// Audit persists every bus event for observability (SPEC_FULL.md §4).
	// nil disables auditing entirely — complete()/stream() never depend on
	// it for correctness.
	Audit audit.Store

	EventBufferCapacity int // default 4096, see pkg/runtime
	QueueCapacity       int // default 1024, see pkg/runtime

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Audit == nil {
		c.Audit = audit.NoopStore{}
	}
	return c
}

// Runtime is a reusable factory for completions. It holds no per-call
// mutable state, so one Runtime may run many concurrent complete()/stream()
// calls safely.
type Runtime struct {
	cfg    Config
	prompt *prompt.Builder
	log    *slog.Logger
}

// New constructs a Runtime. cfg.PrimaryClient is required; every other field
// has a documented default.
func New(cfg Config) (*Runtime, error) {
	cfg = cfg.withDefaults()
	if cfg.PrimaryClient == nil {
		return nil, fmt.Errorf("rlm: Config.PrimaryClient is required")
	}
	return &Runtime{
		cfg:    cfg,
		prompt: prompt.NewBuilder(),
		log:    cfg.Logger,
	}, nil
}

// Options configures one completion, mirroring spec.md §6's
// complete({query, context, depth?}).
type Options struct {
	Query   string
	Context string
	Depth   int // 0 for a top-level call; only advanced callers set this

	Tools            []callctx.ToolDefinition
	OutputJSONSchema string
}

// completion is the fresh runtime container spec.md §9 requires per call:
// its own budget manager, bridge store, call registry, and scheduler, torn
// down when the root call finalizes or fails.
type completion struct {
	id    string
	state *runtime.State
	sched *scheduler.Scheduler

	cancel context.CancelFunc
	done   chan struct{}
}

func (r *Runtime) newCompletion(parent context.Context) (*completion, context.Context) {
	ctx, cancel := context.WithCancel(parent)

	budgetMgr := budget.New(r.cfg.Budget)
	state := runtime.NewState(uuid.NewString(), budgetMgr, r.cfg.EventBufferCapacity, r.cfg.QueueCapacity)

	primary := llmcoord.New(r.cfg.PrimaryClient, budgetMgr, r.cfg.Retry)
	var sub *llmcoord.Coordinator
	if r.cfg.SubClient != nil {
		sub = llmcoord.New(r.cfg.SubClient, budgetMgr, r.cfg.Retry)
	}

	sched := scheduler.New(r.cfg.Scheduler, scheduler.Deps{
		Primary:           primary,
		Sub:               sub,
		Prompt:            r.prompt,
		Tools:             r.cfg.Tools,
		SandboxHostConfig: r.cfg.Sandbox,
	}, state, r.log)

	return &completion{
		id:     state.CompletionID,
		state:  state,
		sched:  sched,
		cancel: cancel,
		done:   make(chan struct{}),
	}, ctx
}

// run starts the scheduler and the root call, and arranges for the
// completion's resources to tear down once the scheduler loop exits.
func (r *Runtime) run(ctx context.Context, opts Options) (*completion, <-chan rlmevent.Event, func(), error) {
	comp, ctx := r.newCompletion(ctx)
	events, unsubscribe := comp.state.Bus.Subscribe()

	auditCtx, auditCancel := context.WithCancel(context.Background())
	go audit.Subscribe(auditCtx, comp.state.Bus, r.cfg.Audit, r.log)

	go func() {
		comp.sched.Run(ctx)
		close(comp.done)
	}()

	callID, err := comp.sched.StartRoot(opts.Query, opts.Context, scheduler.CallOptions{
		Tools:            opts.Tools,
		OutputJSONSchema: opts.OutputJSONSchema,
	})
	if err != nil {
		comp.cancel()
		auditCancel()
		unsubscribe()
		return nil, nil, nil, fmt.Errorf("rlm: start root call: %w", err)
	}
	r.log.Debug("rlm: completion started", "completionId", comp.id, "rootCallId", callID)

	teardown := func() {
		comp.cancel()
		<-comp.done
		// Cancelling comp.cancel() stops the scheduler loop but does not by
		// itself close any call's scope — a call cancelled mid-flight (early
		// return above, or the caller's own ctx expiring) is swept here so
		// its sandbox subprocess is never leaked.
		for _, callID := range comp.state.Registry.Snapshot() {
			comp.state.Registry.Unregister(callID)
		}
		comp.state.Bridge.FailAll("completion scope closed")
		if err := r.cfg.Audit.RecordBudgetSnapshot(context.Background(), comp.id, comp.state.Budget.Snapshot()); err != nil {
			r.log.Warn("rlm: failed to record final budget snapshot", "error", err, "completionId", comp.id)
		}
		comp.state.Close()
		unsubscribe()
		auditCancel()
		comp.state.Bus.Close()
	}
	return comp, events, teardown, nil
}

// Complete runs query to completion and returns the root call's final
// answer, or the error it failed with (spec.md §6: "run to completion;
// return root answer or fail").
func (r *Runtime) Complete(ctx context.Context, opts Options) (string, error) {
	comp, events, teardown, err := r.run(ctx, opts)
	if err != nil {
		return "", err
	}
	defer teardown()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return "", fmt.Errorf("rlm: completion %s: event bus closed before root call finalized", comp.id)
			}
			switch e := ev.(type) {
			case rlmevent.CallFinalized:
				if e.Depth == 0 {
					return e.Answer, nil
				}
			case rlmevent.CallFailed:
				if e.Depth == 0 {
					return "", e.Error
				}
			}
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// Stream runs query and returns a channel of every event published on the
// completion bus (spec.md §6: "stream events from the completion bus,
// finite, terminating when root finalizes or fails"). The returned channel
// is closed, and the completion's resources torn down, once the root call
// reaches a terminal state or ctx is cancelled.
func (r *Runtime) Stream(ctx context.Context, opts Options) (<-chan rlmevent.Event, error) {
	comp, events, teardown, err := r.run(ctx, opts)
	if err != nil {
		return nil, err
	}

	out := make(chan rlmevent.Event, 1)
	go func() {
		defer close(out)
		defer teardown()
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
				switch e := ev.(type) {
				case rlmevent.CallFinalized:
					if e.Depth == 0 {
						return
					}
				case rlmevent.CallFailed:
					if e.Depth == 0 {
						return
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// ShutdownGrace is the default grace period a caller may use for Sandbox
// shutdown; the authoritative default lives on host.Config, and cmd/rlmd
// takes its value from the loaded config rather than from this constant.
const ShutdownGrace = 2 * time.Second
