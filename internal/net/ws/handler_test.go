package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"dreamtable/server/internal/artifact"
	"dreamtable/server/internal/genjob"
	"dreamtable/server/internal/hub"
	"dreamtable/server/internal/table"
)

type idleBackend struct{}

func (idleBackend) Submit(ctx context.Context, prompt string) (string, error) {
	return "job-1", nil
}

func (idleBackend) Poll(ctx context.Context, jobID string) (genjob.Status, []genjob.ArtifactRef, error) {
	return genjob.StatusRunning, nil, nil
}

func (idleBackend) Fetch(ctx context.Context, ref genjob.ArtifactRef) ([]byte, error) {
	return nil, nil
}

func newServer(t *testing.T) (*hub.Hub, *httptest.Server) {
	t.Helper()
	cache, err := artifact.NewCache(t.TempDir())
	require.NoError(t, err)
	jobs := genjob.NewManager(idleBackend{}, cache, genjob.DefaultConfig(), zaptest.NewLogger(t))
	h := hub.New(table.NewStore(), cache, jobs, zaptest.NewLogger(t))

	handler := NewHandler(h, HandlerConfig{Logger: zaptest.NewLogger(t)})
	srv := httptest.NewServer(http.HandlerFunc(handler.Handle))
	t.Cleanup(srv.Close)
	return h, srv
}

func websocketURL(t *testing.T, base string) string {
	t.Helper()
	parsed, err := url.Parse(base)
	require.NoError(t, err)
	parsed.Scheme = strings.Replace(parsed.Scheme, "http", "ws", 1)
	return parsed.String()
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(websocketURL(t, srv.URL), nil)
	if resp != nil {
		t.Cleanup(func() { resp.Body.Close() })
	}
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(payload, &msg))
	return msg
}

func TestConnectReceivesSnapshotFirst(t *testing.T) {
	h, srv := newServer(t)
	_ = h

	conn := dial(t, srv)

	msg := readMessage(t, conn)
	assert.Equal(t, "init", msg["type"])
	assert.Empty(t, msg["cards"])
}

func TestCommandsFlowBetweenConnections(t *testing.T) {
	_, srv := newServer(t)

	first := dial(t, srv)
	readMessage(t, first) // init

	second := dial(t, srv)
	readMessage(t, second) // init

	require.NoError(t, first.WriteJSON(map[string]any{
		"action": "createCard", "x": 10.0, "y": 20.0,
	}))

	msg := readMessage(t, second)
	assert.Equal(t, "newCard", msg["type"])
	assert.Equal(t, 10.0, msg["x"])
	assert.Equal(t, 20.0, msg["y"])
}

func TestMalformedFrameKeepsSessionAlive(t *testing.T) {
	_, srv := newServer(t)

	first := dial(t, srv)
	readMessage(t, first)

	second := dial(t, srv)
	readMessage(t, second)

	require.NoError(t, first.WriteMessage(websocket.TextMessage, []byte("{broken")))
	require.NoError(t, first.WriteJSON(map[string]any{
		"action": "createCard", "x": 1.0, "y": 2.0,
	}))

	msg := readMessage(t, second)
	assert.Equal(t, "newCard", msg["type"], "the read loop survives malformed frames")
}

func TestDisconnectRemovesConnection(t *testing.T) {
	h, srv := newServer(t)

	conn := dial(t, srv)
	readMessage(t, conn)
	require.Eventually(t, func() bool {
		return h.DiagnosticsSnapshot().Connections == 1
	}, time.Second, time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool {
		return h.DiagnosticsSnapshot().Connections == 0
	}, time.Second, time.Millisecond)
}
