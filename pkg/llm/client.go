// Package llm defines the LanguageModelClient external collaborator
// (spec.md §6) and a reference HTTP+JSON implementation of it.
//
// Grounded on tarsy/pkg/agent/llm_client.go's chunk/usage vocabulary
// (StreamChunk with Content/IsThinking/IsComplete/IsFinal/Error, usage
// accounting surfaced per call) kept as the *shape* of what a model call
// returns. Transport is HTTP+JSON via net/http (stdlib) rather than the
// teacher's gRPC: the teacher's pb package is generated from a .proto file
// not present in the retrieval pack, and hand-authoring wire-compatible
// .pb.go code was judged unreliable — see SPEC_FULL.md's dropped-deps note.
package llm

import (
	"context"
)

// Message is one turn of conversation sent to the model, mirroring
// tarsy/pkg/session's Role vocabulary.
type Message struct {
	Role    Role
	Content string
}

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Usage reports token accounting for a single generation, mirrored onto
// rlmevent.Usage by callers that publish ModelResponse events.
type Usage struct {
	InputTokens       *int
	OutputTokens      *int
	TotalTokens       *int
	ReasoningTokens   *int
	CachedInputTokens *int
}

// Request parameterizes one generation call. Temperature and MaxTokens are
// pointers so "unset" is distinguishable from "explicitly zero", matching
// tarsy/pkg/llm/client.go's GEMINI_TEMPERATURE/GEMINI_MAX_TOKENS handling.
type Request struct {
	Model       string
	Messages    []Message
	Temperature *float32
	MaxTokens   *int
}

// Response is a completed, non-streaming generation.
type Response struct {
	Text  string
	Usage Usage
}

// Client is the interface the scheduler and LLM call coordinator depend on.
// Any concrete backend (HTTP+JSON reference adapter, a future native SDK
// client) implements this directly — no streaming chunk channel is exposed
// at this layer because the runtime's own event bus is the system's single
// streaming surface (spec.md §6); Generate returns once, synchronously.
type Client interface {
	Generate(ctx context.Context, req Request) (Response, error)
}
