package callctx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mepuka/recursive-llm-sub001/pkg/rlmerr"
)

func TestGetMissingCallReturnsCallStateMissingError(t *testing.T) {
	r := NewRegistry()

	_, err := r.Get("nonexistent")
	require.Error(t, err)
	var missing *rlmerr.CallStateMissingError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "nonexistent", missing.CallID)
}

func TestRegisterThenGetRoundTrips(t *testing.T) {
	r := NewRegistry()
	cc := NewContext("call-1", 0, "query", "input", NewScope(nil))

	r.Register(cc)
	got, err := r.Get("call-1")
	require.NoError(t, err)
	assert.Same(t, cc, got)
	assert.Equal(t, 1, r.Len())
}

func TestUnregisterClosesScopeAndRemovesEntry(t *testing.T) {
	r := NewRegistry()
	scope := NewScope(nil)
	cc := NewContext("call-1", 0, "query", "input", scope)
	r.Register(cc)

	r.Unregister("call-1")

	assert.Equal(t, 0, r.Len())
	assert.True(t, scope.Closed())

	_, err := r.Get("call-1")
	assert.Error(t, err)
}

func TestUnregisterMissingCallIsNoop(t *testing.T) {
	r := NewRegistry()
	assert.NotPanics(t, func() { r.Unregister("nonexistent") })
}

func TestSnapshotListsAllLiveCallIDs(t *testing.T) {
	r := NewRegistry()
	r.Register(NewContext("call-1", 0, "q", "i", NewScope(nil)))
	r.Register(NewContext("call-2", 1, "q", "i", NewScope(nil)))

	ids := r.Snapshot()
	assert.ElementsMatch(t, []string{"call-1", "call-2"}, ids)
}

func TestAppendAndAttachExecutionOutput(t *testing.T) {
	cc := NewContext("call-1", 0, "q", "i", NewScope(nil))

	cc.AppendTranscript("first response")
	cc.AttachExecutionOutput("execution result")
	cc.AppendTranscript("second response")

	transcript := cc.Transcript()
	require.Len(t, transcript, 2)
	require.NotNil(t, transcript[0].ExecutionOutput)
	assert.Equal(t, "execution result", *transcript[0].ExecutionOutput)
	assert.Nil(t, transcript[1].ExecutionOutput)
}

func TestAttachExecutionOutputOnEmptyTranscriptIsNoop(t *testing.T) {
	cc := NewContext("call-1", 0, "q", "i", NewScope(nil))
	assert.NotPanics(t, func() { cc.AttachExecutionOutput("orphaned") })
	assert.Empty(t, cc.Transcript())
}
