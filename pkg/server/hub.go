package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/autonlab/auviewer/pkg/config"
	"github.com/autonlab/auviewer/pkg/logging"
	"github.com/autonlab/auviewer/pkg/processing"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// no Origin header means a non-browser client
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
	ReadBufferSize:  config.WSReadBufferSize,
	WriteBufferSize: config.WSWriteBufferSize,
}

// Event types sent to progress subscribers
const (
	EventFileProcessed = "file_processed"
	EventFileFailed    = "file_failed"
)

// ProgressEvent reports one processed file.
type ProgressEvent struct {
	Type       string   `json:"type"`
	Timestamp  int64    `json:"timestamp"`
	File       string   `json:"file"`
	Skipped    bool     `json:"skipped,omitempty"`
	Series     int      `json:"series"`
	Levels     int      `json:"levels"`
	Failed     []string `json:"failed_series,omitempty"`
	DurationMS int64    `json:"duration_ms"`
	Error      string   `json:"error,omitempty"`
}

// NewProgressEvent converts a processing result into an event.
func NewProgressEvent(res processing.Result) ProgressEvent {
	ev := ProgressEvent{
		Type:       EventFileProcessed,
		Timestamp:  time.Now().Unix(),
		File:       res.File,
		Skipped:    res.Skipped,
		Series:     res.Series,
		Levels:     res.Levels,
		Failed:     res.Failed,
		DurationMS: res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		ev.Type = EventFileFailed
		ev.Error = res.Err.Error()
	}
	return ev
}

// ProgressHub fans processing events out to websocket clients.
type ProgressHub struct {
	clients    map[*websocket.Conn]bool
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan []byte
	logger     *zap.Logger

	mu sync.RWMutex
}

// NewProgressHub creates a hub. Run must be started before clients connect.
func NewProgressHub(logger *zap.Logger) *ProgressHub {
	return &ProgressHub{
		clients:    make(map[*websocket.Conn]bool),
		register:   make(chan *websocket.Conn, config.WSChannelBuffer),
		unregister: make(chan *websocket.Conn, config.WSChannelBuffer),
		broadcast:  make(chan []byte, config.WSBroadcastBuffer),
		logger:     logging.OrNop(logger),
	}
}

// Run serves registrations and broadcasts until ctx is done.
func (h *ProgressHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			return
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("websocket client connected", zap.Int("clients", count))
		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("websocket client disconnected", zap.Int("clients", count))
		case message := <-h.broadcast:
			h.mu.RLock()
			var failed []*websocket.Conn
			for conn := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					h.logger.Debug("websocket write failed", zap.Error(err))
					failed = append(failed, conn)
				}
			}
			h.mu.RUnlock()

			// unregister outside the read lock; the channel is drained by this loop
			for _, conn := range failed {
				h.mu.Lock()
				delete(h.clients, conn)
				h.mu.Unlock()
				conn.Close()
			}
		}
	}
}

// Broadcast queues data for every client. Messages are dropped when the queue is full.
func (h *ProgressHub) Broadcast(data interface{}) error {
	message, err := json.Marshal(data)
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast queue full, dropping message")
	}
	return nil
}

// Publish broadcasts a processing result. It matches processing.Pool.OnResult.
func (h *ProgressHub) Publish(res processing.Result) {
	if !h.HasClients() {
		return
	}
	if err := h.Broadcast(NewProgressEvent(res)); err != nil {
		h.logger.Warn("failed to broadcast progress", zap.String("file", res.File), zap.Error(err))
	}
}

// HasClients returns true if any websocket client is connected
func (h *ProgressHub) HasClients() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients) > 0
}

// HandleWebSocket upgrades the request and keeps the connection alive with pings.
func (h *ProgressHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	h.register <- conn

	ctx, cancel := context.WithCancel(r.Context())
	defer func() {
		cancel()
		select {
		case h.unregister <- conn:
		default:
			conn.Close()
		}
	}()

	go func() {
		ticker := time.NewTicker(config.WSPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(config.WSWriteDeadline)); err != nil {
					return
				}
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
		return nil
	})

	// clients only send control frames; reading detects the close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("websocket closed", zap.Error(err))
			}
			return
		}
	}
}
