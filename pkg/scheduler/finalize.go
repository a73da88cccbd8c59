package scheduler

import (
	"context"

	"github.com/mepuka/recursive-llm-sub001/pkg/callctx"
	"github.com/mepuka/recursive-llm-sub001/pkg/command"
	"github.com/mepuka/recursive-llm-sub001/pkg/llm"
	"github.com/mepuka/recursive-llm-sub001/pkg/outputschema"
	"github.com/mepuka/recursive-llm-sub001/pkg/rlmevent"
)

// handleFinalize implements spec.md §4.7 Finalize: an optional
// output-extraction pass coercing the answer to outputJsonSchema, publishing
// CallFinalized, delivering the answer to the parent bridge if any, and
// tearing the call down.
func (s *Scheduler) handleFinalize(ctx context.Context, c command.Finalize) {
	cc, ok := s.getCall(c.CallID, command.TagFinalize)
	if !ok {
		return
	}

	answer := c.Answer
	schema, err := outputSchemaFor(cc)
	if err == nil && schema != nil {
		if _, validateErr := outputschema.ParseAndValidate(answer, schema); validateErr != nil {
			if extracted, ok := s.tryExtract(ctx, cc, answer); ok {
				answer = extracted
			}
		}
	}

	s.state.Bus.Publish(rlmevent.CallFinalized{
		CompletionID: s.state.CompletionID, CallID: c.CallID, Depth: cc.Depth, Answer: answer,
	})

	parentBridgeRequestID := cc.ParentBridgeRequestID
	s.state.Registry.Unregister(c.CallID)
	s.resolveBridge(parentBridgeRequestID, c.CallID, answer, nil)
}

// tryExtract asks the model to reformat answer to validate against the
// call's outputJsonSchema, once. On failure it returns the original answer
// unchanged — Finalize still publishes CallFinalized rather than failing
// the call outright, per spec.md §4.7's "optionally run an
// output-extraction pass" (extraction is a best-effort repair, not a hard
// requirement).
func (s *Scheduler) tryExtract(ctx context.Context, cc *callctx.Context, answer string) (string, bool) {
	system, user := s.deps.Prompt.BuildExtractPrompt(answer, cc.OutputJSONSchema)
	resp, err := s.deps.Primary.Generate(ctx, cc.CallID, llm.Request{
		Model: s.cfg.PrimaryModel,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: system},
			{Role: llm.RoleUser, Content: user},
		},
	})
	if err != nil {
		return "", false
	}
	schema, err := outputschema.ParseSchema(cc.OutputJSONSchema)
	if err != nil {
		return "", false
	}
	if _, err := outputschema.ParseAndValidate(resp.Text, schema); err != nil {
		return "", false
	}
	return resp.Text, true
}

// handleFailCall implements spec.md §4.7 FailCall: publish CallFailed,
// deliver BridgeFailed to the parent if any, and tear the call down.
func (s *Scheduler) handleFailCall(ctx context.Context, c command.FailCall) {
	cc, ok := s.getCall(c.CallID, command.TagFailCall)
	if !ok {
		return
	}

	s.state.Bus.Publish(rlmevent.CallFailed{
		CompletionID: s.state.CompletionID, CallID: c.CallID, Depth: cc.Depth, Error: c.Err,
	})

	parentBridgeRequestID := cc.ParentBridgeRequestID
	s.state.Registry.Unregister(c.CallID)
	s.resolveBridge(parentBridgeRequestID, c.CallID, nil, c.Err)
}
