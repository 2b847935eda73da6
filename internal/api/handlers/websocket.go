package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/anstrom/certsweep/internal/api/middleware"
	"github.com/anstrom/certsweep/internal/logging"
	"github.com/anstrom/certsweep/internal/metrics"
	"github.com/anstrom/certsweep/internal/results"
	"github.com/anstrom/certsweep/internal/services"
	"github.com/anstrom/certsweep/internal/sweep"
	"github.com/anstrom/certsweep/internal/targets"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriodRatio = 0.9
	pingPeriod      = time.Duration(float64(pongWait) * pingPeriodRatio) // must be < pongWait
	maxMessageSize  = 512
	broadcastBuffer = 1024

	// One event per probed target and per hit, plus the terminal event.
	clientBuffer = 2*targets.MaxTargets + 1
)

// Event types on the stream.
const (
	EventProgress = "progress"
	EventResult   = "result"
	EventTerminal = "terminal"
)

// WebSocketMessage is one stream event.
type WebSocketMessage struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// ProgressEvent is the data of a progress message.
type ProgressEvent struct {
	SessionID string `json:"session_id"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
}

// ResultEvent is the data of a result message.
type ResultEvent struct {
	SessionID string `json:"session_id"`
	results.EnrichedResult
}

// ClientGauge receives the connected client count.
type ClientGauge interface {
	SetWebSocketClients(count int)
}

type client struct {
	conn      *websocket.Conn
	send      chan []byte
	requestID string
}

// WebSocketHandler fans sweep events out to connected clients. It implements
// services.Publisher; publishing never blocks the sweep.
type WebSocketHandler struct {
	logger   *logging.Logger
	metrics  metrics.MetricsRegistry
	gauge    ClientGauge
	upgrader websocket.Upgrader

	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	shutdown   chan struct{}
	closeOnce  sync.Once

	mutex       sync.RWMutex
	clientCount int
}

var _ services.Publisher = (*WebSocketHandler)(nil)

// NewWebSocketHandler creates the hub and starts its loop. gauge may be nil.
func NewWebSocketHandler(logger *logging.Logger, metricsRegistry metrics.MetricsRegistry,
	gauge ClientGauge, allowedOrigins []string) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:  logger.WithFields("handler", "websocket"),
		metrics: metricsRegistry,
		gauge:   gauge,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan *client),
		unregister: make(chan *client),
		shutdown:   make(chan struct{}),
	}

	go h.run()
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, origin := range allowed {
		set[origin] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set["*"] || set[origin]
	}
}

// ServeWS upgrades the connection and streams events until the peer leaves.
func (h *WebSocketHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", "request_id", requestID, "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientBuffer), requestID: requestID}
	select {
	case h.register <- c:
	case <-h.shutdown:
		_ = conn.Close()
		return
	}
	h.logger.Info("WebSocket client connected", "request_id", requestID, "remote_addr", r.RemoteAddr)

	go h.writePump(c)
	h.readPump(c)
}

// run owns the client set.
func (h *WebSocketHandler) run() {
	for {
		select {
		case <-h.shutdown:
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.setClientCount(0)
			h.logger.Debug("WebSocket hub shutting down")
			return

		case c := <-h.register:
			h.clients[c] = true
			h.setClientCount(len(h.clients))

		case c := <-h.unregister:
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
				h.setClientCount(len(h.clients))
			}

		case message := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					h.logger.Warn("Slow WebSocket client dropped", "request_id", c.requestID)
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.setClientCount(len(h.clients))
		}
	}
}

func (h *WebSocketHandler) setClientCount(n int) {
	h.mutex.Lock()
	changed := h.clientCount != n
	h.clientCount = n
	h.mutex.Unlock()

	if changed && h.gauge != nil {
		h.gauge.SetWebSocketClients(n)
	}
}

// readPump discards client messages and detects disconnects.
func (h *WebSocketHandler) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.shutdown:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("WebSocket unexpected close", "request_id", c.requestID, "error", err)
			}
			return
		}
	}
}

// writePump is the only writer on the connection.
func (h *WebSocketHandler) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Debug("Write failed, closing connection", "request_id", c.requestID, "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *WebSocketHandler) publish(eventType string, data interface{}) error {
	payload, err := json.Marshal(WebSocketMessage{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", eventType, err)
	}

	select {
	case h.broadcast <- payload:
	case <-h.shutdown:
		return fmt.Errorf("websocket hub is shut down")
	default:
		h.logger.Warn("Broadcast channel full, dropping message", "type", eventType)
		return fmt.Errorf("broadcast channel full")
	}

	if h.metrics != nil {
		h.metrics.Counter("websocket_messages_sent_total", metrics.Labels{"type": eventType})
	}
	return nil
}

// PublishProgress implements services.Publisher.
func (h *WebSocketHandler) PublishProgress(sessionID string, progress sweep.Progress) {
	_ = h.publish(EventProgress, ProgressEvent{
		SessionID: sessionID,
		Completed: progress.Completed,
		Total:     progress.Total,
	})
}

// PublishResult implements services.Publisher.
func (h *WebSocketHandler) PublishResult(sessionID string, result results.EnrichedResult) {
	_ = h.publish(EventResult, ResultEvent{SessionID: sessionID, EnrichedResult: result})
}

// PublishTerminal implements services.Publisher.
func (h *WebSocketHandler) PublishTerminal(summary sweep.Summary) {
	_ = h.publish(EventTerminal, summary)
}

// ConnectedClients returns the number of connected clients.
func (h *WebSocketHandler) ConnectedClients() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.clientCount
}

// Shutdown stops the hub and closes every client. Safe to call twice.
func (h *WebSocketHandler) Shutdown() {
	h.closeOnce.Do(func() { close(h.shutdown) })
}
