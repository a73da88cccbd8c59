// Package host implements the Sandbox Host Adapter (spec.md §4.2): the
// parent-process side of a sandbox, spawning a rlm-sandbox-worker
// subprocess, speaking the framed protocol defined in pkg/sandbox/protocol
// over its stdin/stdout, and routing the worker's BridgeCall frames out to
// whatever the caller supplied as a BridgeHandler (normally the scheduler).
//
// Grounded on tarsy/pkg/mcp/client.go: subprocess/session lifecycle behind a
// mutex-protected map, timeout-bounded initialization, and a logger attached
// per instance — generalized from "one client, many MCP server sessions" to
// "one instance, one worker subprocess".
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mepuka/recursive-llm-sub001/pkg/sandbox/protocol"
)

// BridgeHandler answers a bridge call raised by sandboxed code. Implemented
// by the scheduler; returning an error fails the call's model or tool
// invocation without tearing down the sandbox.
type BridgeHandler func(ctx context.Context, method string, args any) (any, error)

// Config controls subprocess construction and lifecycle.
type Config struct {
	WorkerPath     string // path to the rlm-sandbox-worker binary
	MaxOutputBytes int
	MaxFrameBytes  int // spec.md §4.2 maxFrameBytes; 0 uses protocol.DefaultMaxFrameBytes
	SandboxMode    protocol.SandboxMode
	InitTimeout    time.Duration
	ShutdownGrace  time.Duration
	Logger         *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.InitTimeout <= 0 {
		c.InitTimeout = 5 * time.Second
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 2 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.MaxFrameBytes <= 0 || c.MaxFrameBytes > protocol.HardMaxFrameBytes {
		c.MaxFrameBytes = protocol.DefaultMaxFrameBytes
	}
	if c.SandboxMode == "" {
		c.SandboxMode = protocol.SandboxModePermissive
	}
	return c
}

// pendingCall correlates one outstanding host->worker request with the
// goroutine awaiting its reply.
type pendingCall struct {
	replyCh chan frameReply
}

type frameReply struct {
	env protocol.Envelope
	err error
}

// Instance is one running sandbox subprocess. It satisfies callctx.Sandbox
// structurally (Execute/SetVariable/GetVariable/ListVariables/Shutdown).
type Instance struct {
	cfg    Config
	callID string
	depth  int
	log    *slog.Logger

	// ctx is the context the call's scope was spawned under (spec.md §5/§9:
	// a call's bridge dispatch must observe its own scope's cancellation,
	// not run forever against context.Background()).
	ctx context.Context

	cmd    *exec.Cmd
	writer *protocol.Writer
	reader *protocol.Reader

	bridge BridgeHandler

	mu      sync.Mutex
	pending map[string]*pendingCall
	seq     atomic.Uint64

	readErrCh chan error
	closed    atomic.Bool
}

// Spawn starts a new worker subprocess for callID, sends its Init frame, and
// waits for WorkerReady (bounded by cfg.InitTimeout). toolNames lists the
// tool bridge methods the worker is permitted to invoke. ctx is retained on
// the Instance and handed to every BridgeHandler invocation, so cancelling
// the call's own scope interrupts any bridge call in flight.
func Spawn(ctx context.Context, cfg Config, callID string, depth int, toolNames []string, bridge BridgeHandler) (*Instance, error) {
	cfg = cfg.withDefaults()
	if cfg.WorkerPath == "" {
		return nil, fmt.Errorf("host: WorkerPath is required")
	}

	cmd := exec.CommandContext(ctx, cfg.WorkerPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("host: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("host: stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("host: start worker: %w", err)
	}

	inst := &Instance{
		cfg:       cfg,
		callID:    callID,
		depth:     depth,
		log:       cfg.Logger.With("callId", callID),
		ctx:       ctx,
		cmd:       cmd,
		writer:    protocol.NewWriter(stdin, cfg.MaxFrameBytes),
		reader:    protocol.NewReader(stdout, cfg.MaxFrameBytes),
		bridge:    bridge,
		pending:   make(map[string]*pendingCall),
		readErrCh: make(chan error, 1),
	}

	go inst.readLoop()

	initCtx, cancel := context.WithTimeout(ctx, cfg.InitTimeout)
	defer cancel()
	if err := inst.sendInit(initCtx, toolNames); err != nil {
		inst.Shutdown(ctx)
		return nil, err
	}
	return inst, nil
}

func (inst *Instance) sendInit(ctx context.Context, toolNames []string) error {
	reply, err := inst.roundTrip(ctx, protocol.KindInit, protocol.Init{
		CallID:         inst.callID,
		Depth:          inst.depth,
		SandboxMode:    inst.cfg.SandboxMode,
		MaxFrameBytes:  inst.cfg.MaxFrameBytes,
		MaxOutputBytes: inst.cfg.MaxOutputBytes,
		ToolNames:      toolNames,
	})
	if err != nil {
		return fmt.Errorf("host: init worker: %w", err)
	}
	if reply.Kind == protocol.KindWorkerFatal {
		var fatal protocol.WorkerFatal
		_ = protocol.Decode(reply, &fatal)
		return fmt.Errorf("host: worker failed to initialize: %s", fatal.Message)
	}
	return nil
}

// readLoop is the instance's single reader goroutine: every reply frame
// (correlated by ID) is routed to the pending call awaiting it; every
// BridgeCall frame is dispatched to the BridgeHandler on its own goroutine
// so a slow bridge call never blocks subsequent frames from being read.
func (inst *Instance) readLoop() {
	for {
		env, err := inst.reader.ReadEnvelope()
		if err != nil {
			inst.readErrCh <- err
			inst.failAllPending(err)
			return
		}

		if env.Kind == protocol.KindBridgeCall {
			go inst.handleBridgeCall(env)
			continue
		}

		inst.mu.Lock()
		pending, ok := inst.pending[env.ID]
		if ok {
			delete(inst.pending, env.ID)
		}
		inst.mu.Unlock()

		if !ok {
			inst.log.Warn("host: reply frame for unknown id", "kind", env.Kind, "id", env.ID)
			continue
		}
		pending.replyCh <- frameReply{env: env}
	}
}

func (inst *Instance) handleBridgeCall(env protocol.Envelope) {
	var call protocol.BridgeCall
	if err := protocol.Decode(env, &call); err != nil {
		_ = protocol.WriteEnvelope(inst.writer, protocol.KindBridgeFailed, env.ID, protocol.BridgeFailed{Message: err.Error()})
		return
	}

	value, err := inst.bridge(inst.ctx, call.Method, call.Args)
	if err != nil {
		_ = protocol.WriteEnvelope(inst.writer, protocol.KindBridgeFailed, env.ID, protocol.BridgeFailed{Message: err.Error()})
		return
	}
	if writeErr := protocol.WriteEnvelope(inst.writer, protocol.KindBridgeResult, env.ID, protocol.BridgeResult{Value: value}); writeErr != nil {
		msg := writeErr.Error()
		if errors.Is(writeErr, protocol.ErrFrameTooLarge) {
			msg = "Response exceeds max frame size"
		}
		_ = protocol.WriteEnvelope(inst.writer, protocol.KindBridgeFailed, env.ID, protocol.BridgeFailed{Message: msg})
	}
}

func (inst *Instance) failAllPending(reason error) {
	inst.mu.Lock()
	pending := inst.pending
	inst.pending = make(map[string]*pendingCall)
	inst.mu.Unlock()

	for _, p := range pending {
		p.replyCh <- frameReply{err: reason}
	}
}

// roundTrip sends one frame and blocks for its correlated reply or ctx
// cancellation, whichever comes first.
func (inst *Instance) roundTrip(ctx context.Context, kind protocol.Kind, payload any) (protocol.Envelope, error) {
	id := fmt.Sprintf("%s-%d", inst.callID, inst.seq.Add(1))
	pending := &pendingCall{replyCh: make(chan frameReply, 1)}

	inst.mu.Lock()
	inst.pending[id] = pending
	inst.mu.Unlock()

	if err := protocol.WriteEnvelope(inst.writer, kind, id, payload); err != nil {
		inst.mu.Lock()
		delete(inst.pending, id)
		inst.mu.Unlock()
		return protocol.Envelope{}, fmt.Errorf("host: write %s: %w", kind, err)
	}

	select {
	case reply := <-pending.replyCh:
		return reply.env, reply.err
	case <-ctx.Done():
		inst.mu.Lock()
		delete(inst.pending, id)
		inst.mu.Unlock()
		return protocol.Envelope{}, ctx.Err()
	}
}
