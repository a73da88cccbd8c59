package callctx

import (
	"context"
	"sync"
)

// Sandbox is the subset of the Sandbox Host Adapter's SandboxInstance
// interface that a CallContext needs to hold a reference to. The concrete
// type lives in pkg/sandbox/host; declaring the narrow interface here avoids
// an import cycle (sandbox/host never needs to import callctx).
type Sandbox interface {
	Execute(ctx context.Context, code string) (string, error)
	SetVariable(ctx context.Context, name string, value any) error
	GetVariable(ctx context.Context, name string) (any, error)
	ListVariables(ctx context.Context) ([]VariableInfo, error)
	Shutdown(ctx context.Context)
}

// VariableInfo describes one entry in a sandbox's variable map, as returned
// by ListVariables (spec.md §4.2 ListVarsResult).
type VariableInfo struct {
	Name    string
	Type    string
	Size    *int
	Preview string
}

// ToolDefinition is the subset of a registered tool a CallContext needs for
// prompting and bridge dispatch.
type ToolDefinition struct {
	Name                string
	ParameterNames      []string
	ParametersJSONSchema string
	ReturnsJSONSchema    string
	TimeoutMS            int
}

// TranscriptEntry is one {assistantResponse, executionOutput?} pair. Entries
// are append-only within a call; the most recent entry's ExecutionOutput may
// be attached in-place before the next model turn (spec.md §3).
type TranscriptEntry struct {
	AssistantResponse string
	ExecutionOutput   *string
}

// Context is the per-call mutable record described in spec.md §3. All
// mutation goes through the scheduler goroutine that owns this call, except
// for fields explicitly documented as concurrency-safe (Transcript access
// via the AppendTranscript/AttachExecutionOutput/Transcript helpers).
type Context struct {
	CallID   string
	Depth    int
	Query    string
	Input    string // the "context" string passed to this call

	Scope   *Scope
	Sandbox Sandbox

	ParentBridgeRequestID string // empty for the root call
	Tools                 []ToolDefinition
	OutputJSONSchema      string // empty if none configured

	Iteration int

	mu         sync.Mutex
	transcript []TranscriptEntry
}

// NewContext creates a call context. scope and sandbox are attached by the
// caller (the scheduler's StartCall handler) once both are constructed.
func NewContext(callID string, depth int, query, input string, scope *Scope) *Context {
	return &Context{
		CallID: callID,
		Depth:  depth,
		Query:  query,
		Input:  input,
		Scope:  scope,
	}
}

// AppendTranscript appends a new entry with no execution output yet.
func (c *Context) AppendTranscript(assistantResponse string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transcript = append(c.transcript, TranscriptEntry{AssistantResponse: assistantResponse})
}

// AttachExecutionOutput sets ExecutionOutput on the most recent transcript
// entry (spec.md §3: "the most recent entry may have its executionOutput
// attached in-place before the next model turn").
func (c *Context) AttachExecutionOutput(output string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.transcript) == 0 {
		return
	}
	c.transcript[len(c.transcript)-1].ExecutionOutput = &output
}

// Transcript returns a snapshot copy of the transcript so far.
func (c *Context) Transcript() []TranscriptEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TranscriptEntry, len(c.transcript))
	copy(out, c.transcript)
	return out
}
