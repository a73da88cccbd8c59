// Package protocol defines the wire messages exchanged between the sandbox
// host adapter and the sandbox worker subprocess (spec.md §4.2), plus the
// length-prefixed framing used to send them over the worker's stdin/stdout
// pipes.
//
// Grounded on tarsy/pkg/mcp/transport.go's stdio transport (subprocess with
// piped stdin/stdout, one JSON value per line) generalized from
// line-delimited JSON-RPC to length-prefixed JSON envelopes — the spec's
// payloads can contain large strings (execution output, variable previews)
// that are unsafe to newline-delimit without escaping guarantees, so framing
// carries an explicit byte length instead.
package protocol

import "encoding/json"

// Kind tags every envelope with which concrete payload it carries.
type Kind string

const (
	// Host -> worker
	KindInit             Kind = "init"
	KindExecRequest      Kind = "exec_request"
	KindSetVarRequest    Kind = "set_var_request"
	KindGetVarRequest    Kind = "get_var_request"
	KindListVarsRequest  Kind = "list_vars_request"
	KindBridgeResult     Kind = "bridge_result"
	KindBridgeFailed     Kind = "bridge_failed"
	KindShutdown         Kind = "shutdown"

	// Worker -> host
	KindExecResult      Kind = "exec_result"
	KindExecError       Kind = "exec_error"
	KindSetVarAck       Kind = "set_var_ack"
	KindSetVarError     Kind = "set_var_error"
	KindGetVarResult    Kind = "get_var_result"
	KindListVarsResult  Kind = "list_vars_result"
	KindBridgeCall      Kind = "bridge_call"
	KindWorkerReady     Kind = "worker_ready"
	KindWorkerFatal     Kind = "worker_fatal"
)

// Envelope is the outer frame. Payload is re-marshaled/unmarshaled by callers
// once Kind tells them which concrete type to use — mirrors
// tarsy/pkg/agent/llm_client.go's two-stage decode (peek the type, then
// decode the typed body).
type Envelope struct {
	Kind    Kind            `json:"kind"`
	ID      string          `json:"id,omitempty"` // correlates request/response pairs
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SandboxMode selects how restrictive the worker's execution environment is
// (spec.md §4.2 "Strict mode"). Permissive is the default: the bridge and
// the full set of VM globals are reachable. Strict disables the bridge
// entirely and strips every global except a small allowlist.
type SandboxMode string

const (
	SandboxModePermissive SandboxMode = "permissive"
	SandboxModeStrict     SandboxMode = "strict"
)

// Init is sent once, before any exec request, to configure the worker.
type Init struct {
	CallID         string      `json:"callId"`
	Depth          int         `json:"depth"`
	SandboxMode    SandboxMode `json:"sandboxMode"`
	MaxFrameBytes  int         `json:"maxFrameBytes"`
	MaxOutputBytes int         `json:"maxOutputBytes"`
	ToolNames      []string    `json:"toolNames"`
}

// ExecRequest asks the worker to run code against its persistent VM state.
type ExecRequest struct {
	Code string `json:"code"`
}

// ExecResult is the successful reply to ExecRequest.
type ExecResult struct {
	Output string `json:"output"` // concatenated print() calls
}

// ExecError is the failed reply to ExecRequest (syntax error, runtime
// exception, blocklist violation, or output truncation).
type ExecError struct {
	Message   string `json:"message"`
	Truncated bool   `json:"truncated"`
}

// SetVarRequest injects a host-side value into the sandbox's __vars map.
type SetVarRequest struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

type SetVarAck struct {
	Name string `json:"name"`
}

type SetVarError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

type GetVarRequest struct {
	Name string `json:"name"`
}

type GetVarResult struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
	Found bool   `json:"found"`
}

type ListVarsRequest struct{}

type VariableInfo struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Size    *int   `json:"size,omitempty"`
	Preview string `json:"preview"`
}

type ListVarsResult struct {
	Variables []VariableInfo `json:"variables"`
}

// BridgeCall is emitted by the worker when sandboxed code invokes
// llm_query, llm_query_batched, or a tool — and is the payload of a
// KindBridgeCall envelope, carrying the worker-assigned BridgeRequestId in
// the envelope's ID field (the host echoes it on its reply).
type BridgeCall struct {
	Method string `json:"method"` // "llm_query" | "llm_query_batched" | "tool:<name>"
	Args   any    `json:"args"`
}

// BridgeResult delivers a successful bridge reply back into the worker,
// unblocking the goroutine-local call that issued BridgeCall.
type BridgeResult struct {
	Value any `json:"value"`
}

// BridgeFailed delivers a failed bridge reply.
type BridgeFailed struct {
	Message string `json:"message"`
}

// WorkerReady is the worker's first message after processing Init.
type WorkerReady struct{}

// WorkerFatal reports an unrecoverable worker error (VM construction
// failure, panic recovery at the top level) after which the host should
// treat the sandbox as dead and restart or fail the call.
type WorkerFatal struct {
	Message string `json:"message"`
}

// Shutdown asks the worker to exit cleanly within its grace period.
type Shutdown struct{}
