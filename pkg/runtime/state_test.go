package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mepuka/recursive-llm-sub001/pkg/budget"
	"github.com/mepuka/recursive-llm-sub001/pkg/command"
)

func TestNewStateBundlesFreshCollaborators(t *testing.T) {
	s := NewState("completion-1", budget.New(budget.Config{MaxIterations: 1, MaxLLMCalls: 1}), 4, 4)

	assert.Equal(t, "completion-1", s.CompletionID)
	assert.Equal(t, 0, s.Registry.Len())
	assert.Equal(t, 0, s.Bridge.Len())
}

func TestEnqueueThenCommandsRoundTrips(t *testing.T) {
	s := NewState("completion-1", budget.New(budget.Config{MaxIterations: 1, MaxLLMCalls: 1}), 4, 4)

	cmd := command.StartCall{CallID: "call-1", Depth: 0, Query: "q"}
	require.NoError(t, s.Enqueue(cmd))

	got := <-s.Commands()
	assert.Equal(t, cmd, got)
}

func TestEnqueueAfterCloseReturnsError(t *testing.T) {
	s := NewState("completion-1", budget.New(budget.Config{MaxIterations: 1, MaxLLMCalls: 1}), 4, 4)

	s.Close()
	s.Close() // idempotent

	err := s.Enqueue(command.StartCall{CallID: "call-1"})
	assert.Error(t, err)

	_, ok := <-s.Commands()
	assert.False(t, ok)
}
