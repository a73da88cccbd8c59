// Package rlmerr defines the error taxonomy shared across the runtime: the
// scheduler, budget manager, bridge store, and sandbox all fail into one of
// these types so callers can classify failures with errors.As instead of
// string matching.
package rlmerr

import "fmt"

// BudgetResource names the budget dimension a reservation failed against.
type BudgetResource string

const (
	ResourceIterations BudgetResource = "iterations"
	ResourceLLMCalls   BudgetResource = "llmCalls"
	ResourceTokens     BudgetResource = "tokens"
	ResourceDepth      BudgetResource = "depth"
)

// BudgetExhaustedError is returned when a reservation would push a budget
// cell negative (or, for depth, when depth exceeds maxDepth). Terminal for
// the call that triggered it.
type BudgetExhaustedError struct {
	Resource  BudgetResource
	Remaining int
	CallID    string
}

func (e *BudgetExhaustedError) Error() string {
	return fmt.Sprintf("budget exhausted: resource=%s remaining=%d call=%s", e.Resource, e.Remaining, e.CallID)
}

// ModelCallError wraps a failure from the LanguageModelClient. Retryable is
// set by the provider adapter; the core treats it as an opaque hint.
type ModelCallError struct {
	Provider  string
	Model     string
	Operation string
	Retryable bool
	Message   string
	Cause     error
}

func (e *ModelCallError) Error() string {
	return fmt.Sprintf("model call failed: provider=%s model=%s op=%s retryable=%t: %s",
		e.Provider, e.Model, e.Operation, e.Retryable, e.Message)
}

func (e *ModelCallError) Unwrap() error { return e.Cause }

// SandboxError wraps a worker or bridge failure. Terminal for the call
// unless the failure is caught by the executing code (bridge errors surface
// to sandboxed code as thrown/rejected values).
type SandboxError struct {
	Message string
}

func (e *SandboxError) Error() string { return "sandbox error: " + e.Message }

// NoFinalAnswerError is returned when iterations are exhausted without the
// model ever emitting FINAL(...).
type NoFinalAnswerError struct {
	MaxIterations int
	CallID        string
}

func (e *NoFinalAnswerError) Error() string {
	return fmt.Sprintf("no final answer after %d iterations for call %s", e.MaxIterations, e.CallID)
}

// OutputValidationError is returned when the output-extraction pass fails to
// coerce the transcript's final text to the call's outputJsonSchema.
type OutputValidationError struct {
	Message string
	Raw     string
}

func (e *OutputValidationError) Error() string {
	return "output validation failed: " + e.Message
}

// CallStateMissingError indicates a command referenced a CallId no longer in
// the registry. Always wrapped in a SchedulerWarning by the scheduler; never
// surfaced as a terminal failure of another call.
type CallStateMissingError struct {
	CallID string
}

func (e *CallStateMissingError) Error() string {
	return "call state missing: " + e.CallID
}

// UnknownRlmError is the catch-all wrapper for errors that don't fit the
// taxonomy above.
type UnknownRlmError struct {
	Message string
	Cause   error
}

func (e *UnknownRlmError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *UnknownRlmError) Unwrap() error { return e.Cause }
