package worker

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mepuka/recursive-llm-sub001/pkg/sandbox/protocol"
)

// pendingBridge tracks one in-flight llm_query/tool call awaiting a
// BridgeResult/BridgeFailed frame from the host.
type pendingBridge struct {
	resultCh chan bridgeReply
}

type bridgeReply struct {
	value any
	err   error
}

// Loop owns the framed stdin/stdout conversation with the host adapter. It
// is the worker subprocess's entire reason for existing: read one frame,
// dispatch it, write the reply, repeat.
type Loop struct {
	log    *slog.Logger
	reader *protocol.Reader
	writer *protocol.Writer

	vm *VM

	mu         sync.Mutex
	bridgeSeq  atomic.Uint64
	bridgeMap  map[string]*pendingBridge
	previewLim int
}

// NewLoop constructs a Loop reading init/exec/var/bridge-reply frames from r
// and writing result/bridge-call frames to w. The VM is constructed lazily,
// on receipt of the Init frame, since toolNames and maxOutputBytes come from
// that message.
func NewLoop(r io.Reader, w io.Writer, log *slog.Logger) *Loop {
	if log == nil {
		log = slog.Default()
	}
	return &Loop{
		log:        log,
		reader:     protocol.NewReader(r, protocol.DefaultMaxFrameBytes),
		writer:     protocol.NewWriter(w, protocol.DefaultMaxFrameBytes),
		bridgeMap:  make(map[string]*pendingBridge),
		previewLim: 200,
	}
}

// Run blocks until the stream closes (host shut down the subprocess) or a
// Shutdown frame arrives. Returns nil on either clean exit path.
//
// Exec requests run on their own goroutine rather than inline in the read
// loop: a running Exec may block on a bridge call (llm_query, a tool
// invocation) whose reply is itself the next frame on the wire — if Exec ran
// inline, the read loop would never get back around to read that reply, and
// the call would deadlock forever. Frame kinds besides exec are cheap and
// handled inline.
func (l *Loop) Run() error {
	for {
		env, err := l.reader.ReadEnvelope()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("worker: read frame: %w", err)
		}

		switch env.Kind {
		case protocol.KindInit:
			l.handleInit(env)
		case protocol.KindExecRequest:
			go l.handleExec(env)
		case protocol.KindSetVarRequest:
			l.handleSetVar(env)
		case protocol.KindGetVarRequest:
			l.handleGetVar(env)
		case protocol.KindListVarsRequest:
			l.handleListVars(env)
		case protocol.KindBridgeResult:
			l.handleBridgeReply(env, false)
		case protocol.KindBridgeFailed:
			l.handleBridgeReply(env, true)
		case protocol.KindShutdown:
			return nil
		default:
			l.log.Warn("worker: unknown frame kind", "kind", env.Kind)
		}
	}
}

func (l *Loop) handleInit(env protocol.Envelope) {
	var init protocol.Init
	if err := protocol.Decode(env, &init); err != nil {
		l.writeFatal(err)
		return
	}
	if init.MaxFrameBytes > 0 {
		l.writer.SetMaxFrameBytes(init.MaxFrameBytes)
		l.reader.SetMaxFrameBytes(init.MaxFrameBytes)
	}
	mode := ModePermissive
	if init.SandboxMode == protocol.SandboxModeStrict {
		mode = ModeStrict
	}
	vm, err := New(l.bridgeCall, init.ToolNames, init.MaxOutputBytes, mode)
	if err != nil {
		l.writeFatal(err)
		return
	}
	l.vm = vm
	l.writeFrame(protocol.KindWorkerReady, env.ID, protocol.WorkerReady{})
}

// writeFrame writes kind/id/payload, substituting a truncated ExecError for
// any frame that would exceed the configured maxFrameBytes (spec.md §4.2:
// an oversized response is never sent as-is).
func (l *Loop) writeFrame(kind protocol.Kind, id string, payload any) {
	if err := protocol.WriteEnvelope(l.writer, kind, id, payload); err != nil {
		if errors.Is(err, protocol.ErrFrameTooLarge) {
			_ = protocol.WriteEnvelope(l.writer, protocol.KindExecError, id, protocol.ExecError{
				Message:   "Response exceeds max frame size",
				Truncated: true,
			})
			return
		}
		l.log.Warn("worker: write frame", "kind", kind, "error", err)
	}
}

func (l *Loop) handleExec(env protocol.Envelope) {
	var req protocol.ExecRequest
	if err := protocol.Decode(env, &req); err != nil {
		l.writeFrame(protocol.KindExecError, env.ID, protocol.ExecError{Message: err.Error()})
		return
	}
	out, err := l.vm.Exec(req.Code)
	if err != nil {
		l.writeFrame(protocol.KindExecError, env.ID, protocol.ExecError{
			Message:   err.Error(),
			Truncated: errors.Is(err, errOutputTruncated),
		})
		return
	}
	l.writeFrame(protocol.KindExecResult, env.ID, protocol.ExecResult{Output: out})
}

func (l *Loop) handleSetVar(env protocol.Envelope) {
	var req protocol.SetVarRequest
	if err := protocol.Decode(env, &req); err != nil {
		l.writeFrame(protocol.KindSetVarError, env.ID, protocol.SetVarError{Message: err.Error()})
		return
	}
	if err := l.vm.SetVariable(req.Name, req.Value); err != nil {
		l.writeFrame(protocol.KindSetVarError, env.ID, protocol.SetVarError{Name: req.Name, Message: err.Error()})
		return
	}
	l.writeFrame(protocol.KindSetVarAck, env.ID, protocol.SetVarAck{Name: req.Name})
}

func (l *Loop) handleGetVar(env protocol.Envelope) {
	var req protocol.GetVarRequest
	if err := protocol.Decode(env, &req); err != nil {
		l.writeFrame(protocol.KindGetVarResult, env.ID, protocol.GetVarResult{Name: req.Name, Found: false})
		return
	}
	value, found, err := l.vm.GetVariable(req.Name)
	if err != nil {
		l.writeFrame(protocol.KindGetVarResult, env.ID, protocol.GetVarResult{Name: req.Name, Found: false})
		return
	}
	l.writeFrame(protocol.KindGetVarResult, env.ID, protocol.GetVarResult{Name: req.Name, Value: value, Found: found})
}

func (l *Loop) handleListVars(env protocol.Envelope) {
	descs := l.vm.ListVariables(l.previewLim)
	infos := make([]protocol.VariableInfo, len(descs))
	for i, d := range descs {
		infos[i] = protocol.VariableInfo{Name: d.Name, Type: d.Type, Size: d.Size, Preview: d.Preview}
	}
	l.writeFrame(protocol.KindListVarsResult, env.ID, protocol.ListVarsResult{Variables: infos})
}

func (l *Loop) handleBridgeReply(env protocol.Envelope, failed bool) {
	l.mu.Lock()
	pending, ok := l.bridgeMap[env.ID]
	if ok {
		delete(l.bridgeMap, env.ID)
	}
	l.mu.Unlock()
	if !ok {
		l.log.Warn("worker: bridge reply for unknown id", "id", env.ID)
		return
	}

	if failed {
		var payload protocol.BridgeFailed
		_ = protocol.Decode(env, &payload)
		pending.resultCh <- bridgeReply{err: errors.New(payload.Message)}
		return
	}
	var payload protocol.BridgeResult
	_ = protocol.Decode(env, &payload)
	pending.resultCh <- bridgeReply{value: payload.Value}
}

// bridgeCall implements BridgeFunc: it emits a BridgeCall frame with a
// freshly minted id and blocks until handleBridgeReply delivers the answer
// on a dedicated channel.
func (l *Loop) bridgeCall(method string, args any) (any, error) {
	id := fmt.Sprintf("bridge-%d", l.bridgeSeq.Add(1))
	pending := &pendingBridge{resultCh: make(chan bridgeReply, 1)}

	l.mu.Lock()
	l.bridgeMap[id] = pending
	l.mu.Unlock()

	if err := protocol.WriteEnvelope(l.writer, protocol.KindBridgeCall, id, protocol.BridgeCall{Method: method, Args: args}); err != nil {
		l.mu.Lock()
		delete(l.bridgeMap, id)
		l.mu.Unlock()
		if errors.Is(err, protocol.ErrFrameTooLarge) {
			return nil, errors.New("BridgeCall exceeds max frame size")
		}
		return nil, fmt.Errorf("worker: write bridge call: %w", err)
	}

	reply := <-pending.resultCh
	return reply.value, reply.err
}

func (l *Loop) writeFatal(err error) {
	_ = protocol.WriteEnvelope(l.writer, protocol.KindWorkerFatal, "", protocol.WorkerFatal{Message: err.Error()})
}
