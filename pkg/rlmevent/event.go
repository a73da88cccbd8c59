// Package rlmevent defines the tagged union of events published on a
// completion's event bus (spec.md §6). Every event carries CompletionID;
// most carry CallID and Depth.
//
// Grounded on tarsy/pkg/agent/llm_client.go's Chunk/chunkType() tagged-union
// idiom, generalized from "streaming chunk" to "scheduler event".
package rlmevent

// Type identifies which concrete event a value holds.
type Type string

const (
	TypeCallStarted            Type = "CallStarted"
	TypeIterationStarted       Type = "IterationStarted"
	TypeModelResponse          Type = "ModelResponse"
	TypeCodeExecutionStarted   Type = "CodeExecutionStarted"
	TypeCodeExecutionCompleted Type = "CodeExecutionCompleted"
	TypeBridgeCallReceived     Type = "BridgeCallReceived"
	TypeCallFinalized          Type = "CallFinalized"
	TypeCallFailed             Type = "CallFailed"
	TypeSchedulerWarning       Type = "SchedulerWarning"
)

// WarningCode enumerates the non-fatal scheduler warning codes.
type WarningCode string

const (
	WarnStaleCommandDropped WarningCode = "STALE_COMMAND_DROPPED"
	WarnQueueClosed         WarningCode = "QUEUE_CLOSED"
	WarnCallScopeCleanup    WarningCode = "CALL_SCOPE_CLEANUP"
)

// Event is the tagged union of everything published on the bus.
type Event interface {
	EventType() Type
	CompletionIDValue() string
}

// Usage mirrors the external LanguageModelClient's usage reporting.
type Usage struct {
	InputTokens       *int
	OutputTokens      *int
	TotalTokens       *int
	ReasoningTokens   *int
	CachedInputTokens *int
}

type CallStarted struct {
	CompletionID string
	CallID       string
	Depth        int
}

func (e CallStarted) EventType() Type          { return TypeCallStarted }
func (e CallStarted) CompletionIDValue() string { return e.CompletionID }

type IterationStarted struct {
	CompletionID        string
	CallID              string
	Depth               int
	Iteration           int
	IterationsRemaining int
}

func (e IterationStarted) EventType() Type          { return TypeIterationStarted }
func (e IterationStarted) CompletionIDValue() string { return e.CompletionID }

type ModelResponse struct {
	CompletionID string
	CallID       string
	Depth        int
	Text         string
	Usage        *Usage
}

func (e ModelResponse) EventType() Type          { return TypeModelResponse }
func (e ModelResponse) CompletionIDValue() string { return e.CompletionID }

type CodeExecutionStarted struct {
	CompletionID string
	CallID       string
	Depth        int
	Code         string
}

func (e CodeExecutionStarted) EventType() Type          { return TypeCodeExecutionStarted }
func (e CodeExecutionStarted) CompletionIDValue() string { return e.CompletionID }

type CodeExecutionCompleted struct {
	CompletionID string
	CallID       string
	Depth        int
	Output       string
}

func (e CodeExecutionCompleted) EventType() Type          { return TypeCodeExecutionCompleted }
func (e CodeExecutionCompleted) CompletionIDValue() string { return e.CompletionID }

type BridgeCallReceived struct {
	CompletionID string
	CallID       string
	Depth        int
	Method       string
}

func (e BridgeCallReceived) EventType() Type          { return TypeBridgeCallReceived }
func (e BridgeCallReceived) CompletionIDValue() string { return e.CompletionID }

type CallFinalized struct {
	CompletionID string
	CallID       string
	Depth        int
	Answer       string
}

func (e CallFinalized) EventType() Type          { return TypeCallFinalized }
func (e CallFinalized) CompletionIDValue() string { return e.CompletionID }

type CallFailed struct {
	CompletionID string
	CallID       string
	Depth        int
	Error        error
}

func (e CallFailed) EventType() Type          { return TypeCallFailed }
func (e CallFailed) CompletionIDValue() string { return e.CompletionID }

type SchedulerWarning struct {
	CompletionID string
	Code         WarningCode
	Message      string
	CallID       string
	CommandTag   string
}

func (e SchedulerWarning) EventType() Type          { return TypeSchedulerWarning }
func (e SchedulerWarning) CompletionIDValue() string { return e.CompletionID }
