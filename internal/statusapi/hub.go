package statusapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	broadcastBuffer = 32
	writeTimeout    = 5 * time.Second
)

// MessageType identifies a streamed message.
type MessageType string

const (
	// MessageTypeReport carries a finished sync pass report.
	MessageTypeReport MessageType = "sync_report"

	// MessageTypeStatistics carries the current statistics, sent on connect.
	MessageTypeStatistics MessageType = "statistics"
)

// Message is the envelope written to WebSocket clients.
type Message struct {
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Type      MessageType     `json:"type"`
}

// hub fans messages out to connected WebSocket clients.
type hub struct {
	broadcast chan Message
	ctx       context.Context
	cancel    context.CancelFunc
	logger    *slog.Logger
	now       func() time.Time
	wg        sync.WaitGroup

	mu      sync.RWMutex
	clients map[*websocket.Conn]struct{}
}

func newHub(logger *slog.Logger, now func() time.Time) *hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &hub{
		broadcast: make(chan Message, broadcastBuffer),
		cancel:    cancel,
		clients:   make(map[*websocket.Conn]struct{}),
		ctx:       ctx,
		logger:    logger,
		now:       now,
	}

	h.wg.Add(1)
	go h.loop()

	return h
}

// publish queues v for every client. Messages are dropped when the buffer is full.
func (h *hub) publish(typ MessageType, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("failed to marshal message", "type", typ, "error", err)
		return
	}

	msg := Message{Data: data, Timestamp: h.now(), Type: typ}

	select {
	case h.broadcast <- msg:
	case <-h.ctx.Done():
	default:
		h.logger.Warn("broadcast buffer full, dropping message", "type", typ)
	}
}

// add registers conn and sends it first. It reports whether the client is
// still connected.
func (h *hub) add(conn *websocket.Conn, first Message) bool {
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug("report client connected", "clients", count)

	if err := write(h.ctx, conn, first); err != nil {
		h.logger.Debug("failed to send initial message", "error", err)
		h.remove(conn)
		return false
	}
	return true
}

// count returns the number of connected clients.
func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}

// close disconnects every client and stops the loop.
func (h *hub) close() {
	h.cancel()

	h.mu.Lock()
	for conn := range h.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(h.clients, conn)
	}
	h.mu.Unlock()

	h.wg.Wait()
}

// drain reads from conn until it closes, then removes it.
func (h *hub) drain(conn *websocket.Conn) {
	defer h.remove(conn)

	for {
		if _, _, err := conn.Read(h.ctx); err != nil {
			return
		}
	}
}

func (h *hub) loop() {
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			return
		case msg := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*websocket.Conn, 0, len(h.clients))
			for conn := range h.clients {
				clients = append(clients, conn)
			}
			h.mu.RUnlock()

			for _, conn := range clients {
				if err := write(h.ctx, conn, msg); err != nil {
					h.logger.Debug("failed to send to client", "error", err)
					h.remove(conn)
				}
			}
		}
	}
}

func (h *hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	_, ok := h.clients[conn]
	delete(h.clients, conn)
	count := len(h.clients)
	h.mu.Unlock()

	if ok {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		h.logger.Debug("report client disconnected", "clients", count)
	}
}

func write(ctx context.Context, conn *websocket.Conn, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	return conn.Write(ctx, websocket.MessageText, data)
}
