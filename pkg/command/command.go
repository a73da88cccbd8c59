// Package command defines the scheduler's tagged-union Command type
// (spec.md §4.7): the single-writer queue's sole payload type. Every state
// transition the scheduler makes starts from consuming one of these.
//
// Grounded on tarsy/pkg/agent/llm_client.go's Chunk/chunkType() tagged-union
// idiom, applied to scheduler commands instead of streaming chunks.
package command

// Tag identifies which concrete Command a value holds.
type Tag string

const (
	TagStartCall        Tag = "StartCall"
	TagGenerateStep      Tag = "GenerateStep"
	TagExecuteCode       Tag = "ExecuteCode"
	TagCodeExecuted      Tag = "CodeExecuted"
	TagHandleBridgeCall  Tag = "HandleBridgeCall"
	TagFinalize          Tag = "Finalize"
	TagFailCall          Tag = "FailCall"
)

// Command is the tagged union consumed by the scheduler's single reader.
type Command interface {
	CommandTag() Tag
}

// StartCall creates a new call (root or recursive sub-call).
type StartCall struct {
	CallID                string
	Depth                 int
	Query                 string
	Context               string
	ParentCallID          string // empty for the root call
	ParentBridgeRequestID string // empty for the root call
}

func (StartCall) CommandTag() Tag { return TagStartCall }

// GenerateStep drives one model turn of an existing call.
type GenerateStep struct {
	CallID string
}

func (GenerateStep) CommandTag() Tag { return TagGenerateStep }

// ExecuteCode runs a fenced code block extracted from the model's reply.
type ExecuteCode struct {
	CallID string
	Code   string
}

func (ExecuteCode) CommandTag() Tag { return TagExecuteCode }

// CodeExecuted carries a completed sandbox execution's output back to the
// scheduler goroutine.
type CodeExecuted struct {
	CallID string
	Output string
	Err    error // non-nil if sandbox.execute failed
}

func (CodeExecuted) CommandTag() Tag { return TagCodeExecuted }

// HandleBridgeCall is raised when sandboxed code invokes llm_query,
// llm_query_batched, or a tool.
type HandleBridgeCall struct {
	CallID          string
	BridgeRequestID string
	Method          string
	Args            any
}

func (HandleBridgeCall) CommandTag() Tag { return TagHandleBridgeCall }

// Finalize terminates a call successfully with answer.
type Finalize struct {
	CallID string
	Answer string
}

func (Finalize) CommandTag() Tag { return TagFinalize }

// FailCall terminates a call with a terminal error.
type FailCall struct {
	CallID string
	Err    error
}

func (FailCall) CommandTag() Tag { return TagFailCall }
