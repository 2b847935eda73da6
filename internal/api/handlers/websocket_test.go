package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/certsweep/internal/results"
	"github.com/anstrom/certsweep/internal/sweep"
	"github.com/anstrom/certsweep/internal/targets"
)

type gaugeRecorder struct {
	last atomic.Int64
}

func (g *gaugeRecorder) SetWebSocketClients(count int) { g.last.Store(int64(count)) }

func dialHub(t *testing.T, h *WebSocketHandler) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) WebSocketMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg WebSocketMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestWebSocketHandler_StreamsSweepEvents(t *testing.T) {
	gauge := &gaugeRecorder{}
	h := NewWebSocketHandler(createTestLogger(), nil, gauge, []string{"*"})
	t.Cleanup(h.Shutdown)

	conn := dialHub(t, h)
	require.Eventually(t, func() bool { return h.ConnectedClients() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return gauge.last.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	h.PublishProgress("s1", sweep.Progress{Completed: 3, Total: 10})
	h.PublishResult("s1", results.EnrichedResult{Address: "192.0.2.10", Port: 443, Classified: true})
	h.PublishTerminal(sweep.Summary{SessionID: "s1", Status: sweep.StatusCompleted, ClassifiedCount: 1,
		Completed: 10, Total: 10, ElapsedMs: 42})

	msg := readMessage(t, conn)
	assert.Equal(t, EventProgress, msg.Type)
	data := msg.Data.(map[string]interface{})
	assert.Equal(t, "s1", data["session_id"])
	assert.EqualValues(t, 3, data["completed"])
	assert.EqualValues(t, 10, data["total"])

	msg = readMessage(t, conn)
	assert.Equal(t, EventResult, msg.Type)
	data = msg.Data.(map[string]interface{})
	assert.Equal(t, "192.0.2.10", data["address"])
	assert.Equal(t, true, data["classified"])

	msg = readMessage(t, conn)
	assert.Equal(t, EventTerminal, msg.Type)
	data = msg.Data.(map[string]interface{})
	assert.Equal(t, "completed", data["status"])
	assert.EqualValues(t, 1, data["classified_count"])
	assert.EqualValues(t, 42, data["elapsed_ms"])
}

func TestWebSocketHandler_ClientDisconnect(t *testing.T) {
	h := NewWebSocketHandler(createTestLogger(), nil, nil, nil)
	t.Cleanup(h.Shutdown)

	conn := dialHub(t, h)
	require.Eventually(t, func() bool { return h.ConnectedClients() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return h.ConnectedClients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketHandler_Shutdown(t *testing.T) {
	h := NewWebSocketHandler(createTestLogger(), nil, nil, nil)
	conn := dialHub(t, h)
	require.Eventually(t, func() bool { return h.ConnectedClients() == 1 }, 2*time.Second, 10*time.Millisecond)

	h.Shutdown()
	h.Shutdown()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	require.Eventually(t, func() bool { return h.ConnectedClients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://ops.example.net"})

	req := httptest.NewRequest("GET", "/ws", nil)
	assert.True(t, check(req), "no origin header")

	req.Header.Set("Origin", "https://ops.example.net")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, check(req))

	assert.True(t, originChecker([]string{"*"})(req))
}

func TestWebSocketHandler_FullSweepFitsClientBuffer(t *testing.T) {
	h := NewWebSocketHandler(createTestLogger(), nil, nil, []string{"*"})
	t.Cleanup(h.Shutdown)

	conn := dialHub(t, h)
	require.Eventually(t, func() bool { return h.ConnectedClients() == 1 }, 2*time.Second, 10*time.Millisecond)

	// Every address of the largest range is probed and classified.
	total := targets.MaxTargets
	for i := 1; i <= total; i++ {
		h.PublishProgress("s1", sweep.Progress{Completed: i, Total: total})
		h.PublishResult("s1", results.EnrichedResult{Address: "10.0.0.1", Port: 443, Classified: true})
	}
	h.PublishTerminal(sweep.Summary{SessionID: "s1", Status: sweep.StatusCompleted,
		ClassifiedCount: total, Completed: total, Total: total})

	counts := map[string]int{}
	for i := 0; i < 2*total+1; i++ {
		counts[readMessage(t, conn).Type]++
	}
	assert.Equal(t, total, counts[EventProgress])
	assert.Equal(t, total, counts[EventResult])
	assert.Equal(t, 1, counts[EventTerminal])
	assert.Equal(t, 1, h.ConnectedClients())
}
