package host

import (
	"context"
	"fmt"
	"time"

	"github.com/mepuka/recursive-llm-sub001/pkg/callctx"
	"github.com/mepuka/recursive-llm-sub001/pkg/rlmerr"
	"github.com/mepuka/recursive-llm-sub001/pkg/sandbox/protocol"
)

// Execute runs code in the worker and returns its accumulated print()
// output. Satisfies callctx.Sandbox.
func (inst *Instance) Execute(ctx context.Context, code string) (string, error) {
	reply, err := inst.roundTrip(ctx, protocol.KindExecRequest, protocol.ExecRequest{Code: code})
	if err != nil {
		return "", &rlmerr.SandboxError{Message: fmt.Sprintf("exec round-trip: %v", err)}
	}
	switch reply.Kind {
	case protocol.KindExecResult:
		var result protocol.ExecResult
		_ = protocol.Decode(reply, &result)
		return result.Output, nil
	case protocol.KindExecError:
		var execErr protocol.ExecError
		_ = protocol.Decode(reply, &execErr)
		return "", &rlmerr.SandboxError{Message: execErr.Message}
	default:
		return "", &rlmerr.SandboxError{Message: fmt.Sprintf("unexpected reply kind %s", reply.Kind)}
	}
}

// SetVariable injects value into the sandbox's variable map. Satisfies
// callctx.Sandbox.
func (inst *Instance) SetVariable(ctx context.Context, name string, value any) error {
	reply, err := inst.roundTrip(ctx, protocol.KindSetVarRequest, protocol.SetVarRequest{Name: name, Value: value})
	if err != nil {
		return &rlmerr.SandboxError{Message: fmt.Sprintf("setVariable round-trip: %v", err)}
	}
	if reply.Kind == protocol.KindSetVarError {
		var errPayload protocol.SetVarError
		_ = protocol.Decode(reply, &errPayload)
		return &rlmerr.SandboxError{Message: errPayload.Message}
	}
	return nil
}

// GetVariable reads a sandbox variable. Satisfies callctx.Sandbox.
func (inst *Instance) GetVariable(ctx context.Context, name string) (any, error) {
	reply, err := inst.roundTrip(ctx, protocol.KindGetVarRequest, protocol.GetVarRequest{Name: name})
	if err != nil {
		return nil, &rlmerr.SandboxError{Message: fmt.Sprintf("getVariable round-trip: %v", err)}
	}
	var result protocol.GetVarResult
	_ = protocol.Decode(reply, &result)
	if !result.Found {
		return nil, nil
	}
	return result.Value, nil
}

// ListVariables describes every sandbox variable currently set. Satisfies
// callctx.Sandbox.
func (inst *Instance) ListVariables(ctx context.Context) ([]callctx.VariableInfo, error) {
	reply, err := inst.roundTrip(ctx, protocol.KindListVarsRequest, protocol.ListVarsRequest{})
	if err != nil {
		return nil, &rlmerr.SandboxError{Message: fmt.Sprintf("listVariables round-trip: %v", err)}
	}
	var result protocol.ListVarsResult
	_ = protocol.Decode(reply, &result)

	out := make([]callctx.VariableInfo, len(result.Variables))
	for i, v := range result.Variables {
		out[i] = callctx.VariableInfo{Name: v.Name, Type: v.Type, Size: v.Size, Preview: v.Preview}
	}
	return out, nil
}

// Shutdown asks the worker to exit cleanly within the configured grace
// period, then kills it if it hasn't. Satisfies callctx.Sandbox. Safe to
// call more than once.
func (inst *Instance) Shutdown(ctx context.Context) {
	if !inst.closed.CompareAndSwap(false, true) {
		return
	}

	_ = protocol.WriteEnvelope(inst.writer, protocol.KindShutdown, "", protocol.Shutdown{})

	done := make(chan struct{})
	go func() {
		_ = inst.cmd.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(inst.cfg.ShutdownGrace):
		inst.log.Warn("host: worker did not exit within grace period, killing")
		if inst.cmd.Process != nil {
			_ = inst.cmd.Process.Kill()
		}
		<-done
	case <-ctx.Done():
		if inst.cmd.Process != nil {
			_ = inst.cmd.Process.Kill()
		}
		<-done
	}

	inst.failAllPending(&rlmerr.SandboxError{Message: "sandbox shut down"})
}
