package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/orrn/printq/internal/api/handlers"
	"github.com/orrn/printq/internal/core"
	"github.com/orrn/printq/internal/format"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// Frame is an inbound WebSocket message. Print requests carry either raw
// content or a list of orders in data.
type Frame struct {
	Destination string          `json:"destination"`
	Content     string          `json:"content,omitempty"`
	PrinterName string          `json:"printerName,omitempty"`
	Priority    string          `json:"priority,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

type PrintReply struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	TaskID  string `json:"taskId,omitempty"`
}

type Heartbeat struct {
	Timestamp int64 `json:"timestamp"`
}

type WSHandler struct {
	hub       *Hub
	scheduler handlers.TaskScheduler
	slips     *format.SlipGenerator
	upgrader  websocket.Upgrader
	logger    *slog.Logger
	now       func() time.Time
}

func NewWSHandler(hub *Hub, scheduler handlers.TaskScheduler, slips *format.SlipGenerator, logger *slog.Logger) *WSHandler {
	if slips == nil {
		slips = format.NewSlipGenerator()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		hub:       hub,
		scheduler: scheduler,
		slips:     slips,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger.With("component", "ws"),
		now:    time.Now,
	}
}

func (h *WSHandler) Serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.With("err", err).Warn("websocket upgrade failed")
		return
	}

	cl := h.hub.register()
	h.logger.With("remote", conn.RemoteAddr().String()).Debug("websocket client connected")

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(conn, cl)
	}()

	h.readPump(c, conn, cl)
	h.hub.unregister(cl)
	<-done
	h.logger.With("remote", conn.RemoteAddr().String()).Debug("websocket client disconnected")
}

func (h *WSHandler) readPump(c *gin.Context, conn *websocket.Conn, cl *client) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.With("err", err).Warn("websocket read failed")
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.hub.sendTo(cl, TopicErrors, PrintReply{Message: "invalid frame: " + err.Error()})
			continue
		}
		h.dispatch(c, cl, &frame)
	}
}

func (h *WSHandler) dispatch(c *gin.Context, cl *client, frame *Frame) {
	switch frame.Destination {
	case DestinationPrint:
		for _, reply := range h.print(c, frame) {
			h.hub.sendTo(cl, TopicPrintStatus, reply)
		}
	case DestinationHeartbeat:
		h.hub.sendTo(cl, TopicHeartbeat, Heartbeat{Timestamp: h.now().UnixMilli()})
	default:
		h.hub.sendTo(cl, TopicErrors, PrintReply{Message: "unknown destination: " + frame.Destination})
	}
}

// print queues the frame's content, or one delivery slip per order, and
// returns one reply per queued task.
func (h *WSHandler) print(c *gin.Context, frame *Frame) []PrintReply {
	priority, err := core.ParsePriority(frame.Priority)
	if err != nil {
		return []PrintReply{{Message: err.Error()}}
	}

	var payloads []string
	data := bytes.TrimSpace(frame.Data)
	switch {
	case len(data) > 0 && !bytes.Equal(data, []byte("null")):
		orders, err := format.ParseOrders(data)
		if err != nil {
			return []PrintReply{{Message: err.Error()}}
		}
		payloads = h.slips.GenerateAll(orders)
	case frame.Content != "":
		payloads = []string{frame.Content}
	default:
		return []PrintReply{{Message: "content is required"}}
	}

	replies := make([]PrintReply, 0, len(payloads))
	for _, payload := range payloads {
		task := core.NewTask(payload, frame.PrinterName)
		task.Priority = priority

		id, err := h.scheduler.AddTask(c.Request.Context(), task)
		if err != nil {
			replies = append(replies, PrintReply{Message: submitMessage(err), TaskID: task.ID})
			continue
		}
		replies = append(replies, PrintReply{Success: true, Message: "print task queued", TaskID: id})
	}
	return replies
}

func submitMessage(err error) string {
	switch {
	case errors.Is(err, core.ErrQueueFull):
		return "print queue is full, try again later"
	case errors.Is(err, core.ErrSubmissionInterrupted):
		return "task submission interrupted"
	default:
		return "failed to queue task: " + err.Error()
	}
}

func (h *WSHandler) writePump(conn *websocket.Conn, cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-cl.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
