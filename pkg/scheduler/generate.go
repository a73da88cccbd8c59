package scheduler

import (
	"context"
	"regexp"

	"github.com/mepuka/recursive-llm-sub001/pkg/command"
	"github.com/mepuka/recursive-llm-sub001/pkg/llm"
	"github.com/mepuka/recursive-llm-sub001/pkg/rlmerr"
	"github.com/mepuka/recursive-llm-sub001/pkg/rlmevent"
)

// finalPattern matches a literal FINAL("...") / FINAL('...') / FINAL(`...`)
// anywhere in the model's reply (spec.md §4.7 GenerateStep 6a).
var finalPattern = regexp.MustCompile("(?s)FINAL\\(\\s*(?:\"((?:[^\"\\\\]|\\\\.)*)\"|'((?:[^'\\\\]|\\\\.)*)'|`([^`]*)`)\\s*\\)")

// codeBlockPattern matches a fenced code block, optionally tagged with a
// language (spec.md §4.7 GenerateStep 6b).
var codeBlockPattern = regexp.MustCompile("(?s)```[a-zA-Z0-9_+-]*\\n(.*?)\\n```")

// handleGenerateStep implements spec.md §4.7 GenerateStep: reserve an
// iteration, build the prompt, invoke the LLM Call Coordinator, append the
// reply to the transcript, and route to Finalize/ExecuteCode/another
// GenerateStep/FailCall by priority.
func (s *Scheduler) handleGenerateStep(ctx context.Context, c command.GenerateStep) {
	cc, ok := s.getCall(c.CallID, command.TagGenerateStep)
	if !ok {
		return
	}

	if err := s.state.Budget.ReserveIteration(c.CallID); err != nil {
		s.enqueue(command.FailCall{CallID: c.CallID, Err: err})
		return
	}
	iterationsRemaining := s.state.Budget.Snapshot().IterationsRemaining
	cc.Iteration++

	s.state.Bus.Publish(rlmevent.IterationStarted{
		CompletionID: s.state.CompletionID, CallID: c.CallID, Depth: cc.Depth,
		Iteration: cc.Iteration, IterationsRemaining: iterationsRemaining,
	})

	coord := s.deps.Primary
	model := s.cfg.PrimaryModel
	if s.cfg.SubLLMDelegation.Enabled && cc.Depth >= s.cfg.SubLLMDelegation.DepthThreshold && s.deps.Sub != nil {
		coord = s.deps.Sub
		model = s.cfg.SubModel
	}

	system, user := s.deps.Prompt.BuildReplPrompt(cc)
	resp, err := coord.Generate(ctx, c.CallID, llm.Request{
		Model: model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: system},
			{Role: llm.RoleUser, Content: user},
		},
	})
	if err != nil {
		s.enqueue(command.FailCall{CallID: c.CallID, Err: err})
		return
	}

	s.state.Bus.Publish(rlmevent.ModelResponse{
		CompletionID: s.state.CompletionID, CallID: c.CallID, Depth: cc.Depth,
		Text: resp.Text, Usage: toEventUsage(resp.Usage),
	})
	cc.AppendTranscript(resp.Text)

	if answer, ok := extractFinal(resp.Text); ok {
		s.enqueue(command.Finalize{CallID: c.CallID, Answer: answer})
		return
	}
	if code, ok := extractCode(resp.Text); ok {
		s.enqueue(command.ExecuteCode{CallID: c.CallID, Code: code})
		return
	}
	if iterationsRemaining > 0 {
		s.enqueue(command.GenerateStep{CallID: c.CallID})
		return
	}
	s.enqueue(command.FailCall{CallID: c.CallID, Err: &rlmerr.NoFinalAnswerError{CallID: c.CallID, MaxIterations: cc.Iteration}})
}

func extractFinal(text string) (string, bool) {
	m := finalPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	for _, group := range m[1:] {
		if group != "" {
			return group, true
		}
	}
	// matched an explicitly empty FINAL("") / FINAL('') / FINAL(``)
	return "", true
}

func extractCode(text string) (string, bool) {
	m := codeBlockPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func toEventUsage(u llm.Usage) *rlmevent.Usage {
	return &rlmevent.Usage{
		InputTokens:       u.InputTokens,
		OutputTokens:      u.OutputTokens,
		TotalTokens:       u.TotalTokens,
		ReasoningTokens:   u.ReasoningTokens,
		CachedInputTokens: u.CachedInputTokens,
	}
}
