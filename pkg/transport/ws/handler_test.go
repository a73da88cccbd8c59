package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mepuka/recursive-llm-sub001/pkg/rlmevent"
)

func startTestServer(t *testing.T, h *Handler, events <-chan rlmevent.Event) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			t.Logf("accept error: %v", err)
			return
		}
		h.Serve(r.Context(), conn, events)
	}))
	t.Cleanup(server.Close)
	return server
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + server.URL[len("http"):]
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func TestServeWritesEventsAsJSONEnvelopes(t *testing.T) {
	events := make(chan rlmevent.Event, 2)
	events <- rlmevent.CallStarted{CompletionID: "c1", CallID: "call-1", Depth: 0}
	events <- rlmevent.CallFinalized{CompletionID: "c1", CallID: "call-1", Depth: 0, Answer: "42"}
	close(events)

	server := startTestServer(t, NewHandler(time.Second, nil), events)
	conn := dial(t, server)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, body, err := conn.Read(ctx)
	require.NoError(t, err)
	var first wireEvent
	require.NoError(t, json.Unmarshal(body, &first))
	assert.Equal(t, string(rlmevent.TypeCallStarted), first.Type)

	_, body, err = conn.Read(ctx)
	require.NoError(t, err)
	var second wireEvent
	require.NoError(t, json.Unmarshal(body, &second))
	assert.Equal(t, string(rlmevent.TypeCallFinalized), second.Type)

	var finalized rlmevent.CallFinalized
	require.NoError(t, json.Unmarshal(second.Data, &finalized))
	assert.Equal(t, "42", finalized.Answer)

	// the source channel closed, so the server must close the connection
	_, _, err = conn.Read(ctx)
	assert.Error(t, err)
}

func TestServeSendsNothingUntilAnEventArrives(t *testing.T) {
	events := make(chan rlmevent.Event, 1)
	server := startTestServer(t, NewHandler(time.Second, nil), events)
	conn := dial(t, server)

	shortCtx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, _, err := conn.Read(shortCtx)
	assert.Error(t, err, "no event was published yet, so Read must time out rather than return something")

	events <- rlmevent.CallStarted{CompletionID: "c1", CallID: "call-1"}
	longCtx, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_, body, err := conn.Read(longCtx)
	require.NoError(t, err)
	var ev wireEvent
	require.NoError(t, json.Unmarshal(body, &ev))
	assert.Equal(t, string(rlmevent.TypeCallStarted), ev.Type)
}
