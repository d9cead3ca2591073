package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"energyflow/internal/model"
)

// fakeController records the commands clients send.
type fakeController struct {
	mu       sync.Mutex
	snapshot *model.Snapshot
	live     bool
	triggers int
}

func (f *fakeController) Snapshot() (model.Snapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snapshot == nil {
		return model.Snapshot{}, false
	}
	return *f.snapshot, true
}

func (f *fakeController) Live() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live
}

func (f *fakeController) SetLive(live bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.live = live
}

func (f *fakeController) Trigger() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers++
}

func (f *fakeController) triggerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.triggers
}

// dialHandler sets up a test server with the handler and returns a WS connection.
func dialHandler(t *testing.T, handler *Handler) (*websocket.Conn, func()) {
	t.Helper()
	server := httptest.NewServer(handler)
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn, func() {
		conn.Close()
		server.Close()
	}
}

// readJSON reads the next JSON message from the connection.
func readJSON(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(msg, &env))
	return env
}

// sendJSON sends a JSON message on the connection.
func sendJSON(t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	data, err := NewEnvelope(msgType, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func TestHandler_InitialMessages(t *testing.T) {
	snap := testSnapshot()
	ctrl := &fakeController{snapshot: &snap, live: true}
	conn, cleanup := dialHandler(t, NewHandler(NewHub(nil, nil), ctrl))
	defer cleanup()

	env := readJSON(t, conn)
	assert.Equal(t, TypeFlowsState, env.Type)
	var state FlowsStatePayload
	require.NoError(t, json.Unmarshal(env.Payload, &state))
	assert.True(t, state.Live)

	env = readJSON(t, conn)
	assert.Equal(t, TypeSnapshotUpdate, env.Type)
	var p SnapshotPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.InDelta(t, 1500.0, p.Flows.SolarToHome, 0.001)
}

func TestHandler_NoSnapshotYet(t *testing.T) {
	ctrl := &fakeController{}
	conn, cleanup := dialHandler(t, NewHandler(NewHub(nil, nil), ctrl))
	defer cleanup()

	env := readJSON(t, conn)
	assert.Equal(t, TypeFlowsState, env.Type)

	conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "no snapshot should be sent before the first pass")
}

func TestHandler_Refresh(t *testing.T) {
	ctrl := &fakeController{}
	conn, cleanup := dialHandler(t, NewHandler(NewHub(nil, nil), ctrl))
	defer cleanup()
	readJSON(t, conn)

	sendJSON(t, conn, TypeFlowsRefresh, nil)

	assert.Eventually(t, func() bool { return ctrl.triggerCount() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_SetLive(t *testing.T) {
	ctrl := &fakeController{live: true}
	conn, cleanup := dialHandler(t, NewHandler(NewHub(nil, nil), ctrl))
	defer cleanup()
	readJSON(t, conn)

	sendJSON(t, conn, TypeFlowsSetLive, SetLivePayload{Live: false})

	env := readJSON(t, conn)
	assert.Equal(t, TypeFlowsState, env.Type)
	var state FlowsStatePayload
	require.NoError(t, json.Unmarshal(env.Payload, &state))
	assert.False(t, state.Live)
	assert.False(t, ctrl.Live())
	assert.Eventually(t, func() bool { return ctrl.triggerCount() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_RejectsBadMessages(t *testing.T) {
	ctrl := &fakeController{live: true}
	conn, cleanup := dialHandler(t, NewHandler(NewHub(nil, nil), ctrl))
	defer cleanup()
	readJSON(t, conn)

	for _, tc := range []struct {
		msg  string
		want string
	}{
		{`not json`, "invalid message"},
		{`{"type":"flows:unknown"}`, `unknown message type "flows:unknown"`},
		{`{"type":"flows:set_live","payload":"yes"}`, "invalid flows:set_live payload"},
	} {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(tc.msg)))
		env := readJSON(t, conn)
		assert.Equal(t, TypeError, env.Type, tc.msg)
		var p ErrorPayload
		require.NoError(t, json.Unmarshal(env.Payload, &p))
		assert.Contains(t, p.Message, tc.want)
	}

	sendJSON(t, conn, TypeFlowsRefresh, nil)
	assert.Eventually(t, func() bool { return ctrl.triggerCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, ctrl.Live())
}

func TestHandler_SetLiveBroadcastsToOthers(t *testing.T) {
	ctrl := &fakeController{live: true}
	hub := NewHub(nil, nil)
	server := httptest.NewServer(NewHandler(hub, ctrl))
	defer server.Close()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	a, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer a.Close()
	b, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer b.Close()
	readJSON(t, a)
	readJSON(t, b)
	assert.Eventually(t, func() bool { return hub.ClientCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	sendJSON(t, a, TypeFlowsSetLive, SetLivePayload{Live: false})

	env := readJSON(t, b)
	assert.Equal(t, TypeFlowsState, env.Type)
	var state FlowsStatePayload
	require.NoError(t, json.Unmarshal(env.Payload, &state))
	assert.False(t, state.Live)
}

func TestHandler_UnregistersOnClose(t *testing.T) {
	hub := NewHub(nil, nil)
	conn, cleanup := dialHandler(t, NewHandler(hub, &fakeController{}))
	defer cleanup()
	readJSON(t, conn)
	assert.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
