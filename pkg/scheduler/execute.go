package scheduler

import (
	"context"

	"github.com/mepuka/recursive-llm-sub001/pkg/command"
	"github.com/mepuka/recursive-llm-sub001/pkg/rlmevent"
)

// handleExecuteCode implements spec.md §4.7 ExecuteCode: publish
// CodeExecutionStarted and fork a fiber awaiting sandbox.execute, which
// re-enters the queue as CodeExecuted on completion (success or failure —
// a sandbox error is reported to the model, not escalated to FailCall,
// since the model may recover by writing different code).
func (s *Scheduler) handleExecuteCode(ctx context.Context, c command.ExecuteCode) {
	cc, ok := s.getCall(c.CallID, command.TagExecuteCode)
	if !ok {
		return
	}

	s.state.Bus.Publish(rlmevent.CodeExecutionStarted{
		CompletionID: s.state.CompletionID, CallID: c.CallID, Depth: cc.Depth, Code: c.Code,
	})

	go func() {
		output, err := cc.Sandbox.Execute(cc.Scope.Context(), c.Code)
		s.enqueue(command.CodeExecuted{CallID: c.CallID, Output: output, Err: err})
	}()
}

// handleCodeExecuted implements spec.md §4.7 CodeExecuted: truncate the
// output, attach it to the transcript, publish CodeExecutionCompleted, and
// resume the loop with another GenerateStep.
func (s *Scheduler) handleCodeExecuted(ctx context.Context, c command.CodeExecuted) {
	cc, ok := s.getCall(c.CallID, command.TagCodeExecuted)
	if !ok {
		return
	}

	output := c.Output
	if c.Err != nil {
		output = "error: " + c.Err.Error()
	}
	output = truncateOutput(output, s.cfg.MaxExecutionOutputChars)

	cc.AttachExecutionOutput(output)
	s.state.Bus.Publish(rlmevent.CodeExecutionCompleted{
		CompletionID: s.state.CompletionID, CallID: c.CallID, Depth: cc.Depth, Output: output,
	})
	s.enqueue(command.GenerateStep{CallID: c.CallID})
}

func truncateOutput(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return s[:limit] + "…(truncated)"
}
