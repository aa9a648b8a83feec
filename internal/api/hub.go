package api

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/orrn/printq/internal/core"
)

const (
	DestinationPrint        = "/app/print"
	DestinationHeartbeat    = "/app/heartbeat"
	TopicPrintStatus        = "/topic/print-status"
	TopicHeartbeat          = "/topic/heartbeat"
	TopicPrinterStatus      = "/topic/printer-status"
	TopicErrors             = "/topic/errors"
	defaultClientBufferSize = 64
)

// Message is an outbound WebSocket frame.
type Message struct {
	Destination string `json:"destination"`
	Payload     any    `json:"payload"`
}

// StatusUpdate is pushed on every task transition.
type StatusUpdate struct {
	TaskID     string `json:"taskId"`
	Status     string `json:"status"`
	RetryCount int    `json:"retryCount"`
	Timestamp  int64  `json:"timestamp"`
}

type client struct {
	send      chan []byte
	closeOnce sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.send) })
}

// Hub fans task status updates out to connected WebSocket clients. A client
// whose buffer is full is dropped instead of blocking the broadcast.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*client]struct{}
	bufferSize int
	closed     bool
	logger     *slog.Logger
}

var _ core.Notifier = (*Hub)(nil)

func NewHub(bufferSize int, logger *slog.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = defaultClientBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*client]struct{}),
		bufferSize: bufferSize,
		logger:     logger.With("component", "ws_hub"),
	}
}

func (h *Hub) register() *client {
	c := &client{send: make(chan []byte, h.bufferSize)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		c.close()
		return c
	}
	h.clients[c] = struct{}{}
	return c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	c.close()
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Broadcast(destination string, payload any) {
	data, err := json.Marshal(Message{Destination: destination, Payload: payload})
	if err != nil {
		h.logger.With("destination", destination).With("err", err).Error("failed to encode message")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("dropping slow websocket client")
			go h.unregister(c)
		}
	}
}

// sendTo queues a message for a single client. It reports false when the
// client's buffer is full.
func (h *Hub) sendTo(c *client, destination string, payload any) bool {
	data, err := json.Marshal(Message{Destination: destination, Payload: payload})
	if err != nil {
		h.logger.With("destination", destination).With("err", err).Error("failed to encode message")
		return false
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (h *Hub) Notify(ev core.Event) {
	h.Broadcast(TopicPrintStatus, StatusUpdate{
		TaskID:     ev.Task.ID,
		Status:     string(ev.Task.Status),
		RetryCount: ev.Task.RetryCount,
		Timestamp:  ev.At.UnixMilli(),
	})
}

type PrinterStatusUpdate struct {
	Printer        string `json:"printer"`
	PreviousStatus string `json:"previousStatus"`
	Status         string `json:"status"`
}

// PrinterStatusChanged has the printer.StatusListener signature.
func (h *Hub) PrinterStatusChanged(name, oldStatus, newStatus string) {
	h.Broadcast(TopicPrinterStatus, PrinterStatusUpdate{
		Printer:        name,
		PreviousStatus: oldStatus,
		Status:         newStatus,
	})
}

// Close disconnects every client. Later broadcasts are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for c := range h.clients {
		c.close()
	}
	clear(h.clients)
}
