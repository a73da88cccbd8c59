package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteThenReadEnvelopeRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 0)

	require.NoError(t, WriteEnvelope(w, KindExecRequest, "req-1", ExecRequest{Code: "print(1)"}))

	r := NewReader(&buf, 0)
	env, err := r.ReadEnvelope()
	require.NoError(t, err)
	assert.Equal(t, KindExecRequest, env.Kind)
	assert.Equal(t, "req-1", env.ID)

	var req ExecRequest
	require.NoError(t, Decode(env, &req))
	assert.Equal(t, "print(1)", req.Code)
}

func TestReadEnvelopeRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 0)
	require.NoError(t, WriteEnvelope(w, KindExecResult, "req-1", ExecResult{Output: "some output"}))

	r := NewReader(&buf, 4) // smaller than the actual frame
	_, err := r.ReadEnvelope()
	require.Error(t, err)
}

func TestReadEnvelopeMultipleFramesInOrder(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 0)
	require.NoError(t, WriteEnvelope(w, KindExecRequest, "req-1", ExecRequest{Code: "a"}))
	require.NoError(t, WriteEnvelope(w, KindExecRequest, "req-2", ExecRequest{Code: "b"}))

	r := NewReader(&buf, 0)

	env1, err := r.ReadEnvelope()
	require.NoError(t, err)
	assert.Equal(t, "req-1", env1.ID)

	env2, err := r.ReadEnvelope()
	require.NoError(t, err)
	assert.Equal(t, "req-2", env2.ID)
}

func TestDecodeEmptyPayloadIsNoop(t *testing.T) {
	env := Envelope{Kind: KindWorkerReady, ID: "req-1"}
	var ready WorkerReady
	assert.NoError(t, Decode(env, &ready))
}

func TestReadEnvelopeEOFOnEmptyStream(t *testing.T) {
	r := NewReader(bytes.NewReader(nil), 0)
	_, err := r.ReadEnvelope()
	assert.Error(t, err)
}

func TestWriteEnvelopeAcceptsFrameAtExactlyMaxFrameBytes(t *testing.T) {
	var buf bytes.Buffer
	// Find the exact envelope size for this payload shape, then set the
	// writer's ceiling to precisely that.
	probe := NewWriter(&buf, HardMaxFrameBytes)
	require.NoError(t, WriteEnvelope(probe, KindExecRequest, "req-1", ExecRequest{Code: "x"}))
	size := buf.Len() - 4

	buf.Reset()
	w := NewWriter(&buf, size)
	assert.NoError(t, WriteEnvelope(w, KindExecRequest, "req-1", ExecRequest{Code: "x"}))
}

func TestWriteEnvelopeRejectsFrameOneByteOverMaxFrameBytes(t *testing.T) {
	var buf bytes.Buffer
	probe := NewWriter(&buf, HardMaxFrameBytes)
	require.NoError(t, WriteEnvelope(probe, KindExecRequest, "req-1", ExecRequest{Code: "x"}))
	size := buf.Len() - 4

	buf.Reset()
	w := NewWriter(&buf, size-1)
	err := WriteEnvelope(w, KindExecRequest, "req-1", ExecRequest{Code: "x"})
	require.ErrorIs(t, err, ErrFrameTooLarge)
	assert.Equal(t, 0, buf.Len(), "an oversized frame must not write any bytes")
}
