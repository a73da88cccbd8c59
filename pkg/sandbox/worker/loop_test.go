package worker

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mepuka/recursive-llm-sub001/pkg/sandbox/protocol"
)

// loopHarness drives a Loop over an in-memory pipe pair, playing the host
// side of the protocol so Loop.Run can be exercised without a real
// subprocess.
type loopHarness struct {
	toWorker   *protocol.Writer
	fromWorker *protocol.Reader
	closeWrite func() error
	done       chan error
}

func newLoopHarness(t *testing.T) *loopHarness {
	t.Helper()
	hostReadFromWorker, workerWritesToHost := io.Pipe()
	workerReadsFromHost, hostWritesToWorker := io.Pipe()

	loop := NewLoop(workerReadsFromHost, workerWritesToHost, nil)
	done := make(chan error, 1)
	go func() { done <- loop.Run() }()

	h := &loopHarness{
		toWorker:   protocol.NewWriter(hostWritesToWorker, 0),
		fromWorker: protocol.NewReader(hostReadFromWorker, 0),
		closeWrite: hostWritesToWorker.Close,
		done:       done,
	}
	t.Cleanup(func() { _ = h.closeWrite() })
	return h
}

func (h *loopHarness) send(t *testing.T, kind protocol.Kind, id string, payload any) {
	t.Helper()
	require.NoError(t, protocol.WriteEnvelope(h.toWorker, kind, id, payload))
}

func (h *loopHarness) recv(t *testing.T) protocol.Envelope {
	t.Helper()
	env, err := h.fromWorker.ReadEnvelope()
	require.NoError(t, err)
	return env
}

func TestLoopInitThenExecRoundTrips(t *testing.T) {
	h := newLoopHarness(t)

	h.send(t, protocol.KindInit, "i1", protocol.Init{CallID: "call-1", MaxOutputBytes: 0})
	ready := h.recv(t)
	require.Equal(t, protocol.KindWorkerReady, ready.Kind)
	require.Equal(t, "i1", ready.ID)

	h.send(t, protocol.KindExecRequest, "e1", protocol.ExecRequest{Code: `print("hi")`})
	result := h.recv(t)
	require.Equal(t, protocol.KindExecResult, result.Kind)
	var payload protocol.ExecResult
	require.NoError(t, protocol.Decode(result, &payload))
	require.Equal(t, "hi\n", payload.Output)
}

func TestLoopSetVarThenGetVarRoundTrips(t *testing.T) {
	h := newLoopHarness(t)
	h.send(t, protocol.KindInit, "i1", protocol.Init{CallID: "call-1"})
	require.Equal(t, protocol.KindWorkerReady, h.recv(t).Kind)

	h.send(t, protocol.KindSetVarRequest, "s1", protocol.SetVarRequest{Name: "x", Value: float64(7)})
	ack := h.recv(t)
	require.Equal(t, protocol.KindSetVarAck, ack.Kind)

	h.send(t, protocol.KindGetVarRequest, "g1", protocol.GetVarRequest{Name: "x"})
	got := h.recv(t)
	require.Equal(t, protocol.KindGetVarResult, got.Kind)
	var payload protocol.GetVarResult
	require.NoError(t, protocol.Decode(got, &payload))
	require.True(t, payload.Found)
	require.EqualValues(t, 7, payload.Value)
}

func TestLoopBridgeCallWaitsForHostReply(t *testing.T) {
	h := newLoopHarness(t)
	h.send(t, protocol.KindInit, "i1", protocol.Init{CallID: "call-1"})
	require.Equal(t, protocol.KindWorkerReady, h.recv(t).Kind)

	h.send(t, protocol.KindExecRequest, "e1", protocol.ExecRequest{Code: `print(llm_query("q"))`})

	bridgeCall := h.recv(t)
	require.Equal(t, protocol.KindBridgeCall, bridgeCall.Kind)
	var call protocol.BridgeCall
	require.NoError(t, protocol.Decode(bridgeCall, &call))
	require.Equal(t, "llm_query", call.Method)

	h.send(t, protocol.KindBridgeResult, bridgeCall.ID, protocol.BridgeResult{Value: "42"})

	result := h.recv(t)
	require.Equal(t, protocol.KindExecResult, result.Kind)
	var payload protocol.ExecResult
	require.NoError(t, protocol.Decode(result, &payload))
	require.Equal(t, "42\n", payload.Output)
}

func TestLoopShutdownEndsRunCleanly(t *testing.T) {
	h := newLoopHarness(t)
	h.send(t, protocol.KindInit, "i1", protocol.Init{CallID: "call-1"})
	require.Equal(t, protocol.KindWorkerReady, h.recv(t).Kind)

	h.send(t, protocol.KindShutdown, "sd1", protocol.Shutdown{})

	select {
	case err := <-h.done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Shutdown frame")
	}
}
