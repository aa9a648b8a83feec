package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orrn/printq/internal/core"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHub_NotifyBroadcastsStatus(t *testing.T) {
	hub := NewHub(4, quietLogger())
	a, b := hub.register(), hub.register()
	require.Equal(t, 2, hub.Clients())

	at := time.UnixMilli(1717228800123)
	hub.Notify(core.Event{
		Kind: core.EventRetrying,
		Task: core.TaskSnapshot{ID: "t1", Status: core.TaskStatusFailed, RetryCount: 1},
		At:   at,
	})

	for _, c := range []*client{a, b} {
		var msg struct {
			Destination string       `json:"destination"`
			Payload     StatusUpdate `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(<-c.send, &msg))
		assert.Equal(t, TopicPrintStatus, msg.Destination)
		assert.Equal(t, StatusUpdate{TaskID: "t1", Status: "FAILED", RetryCount: 1, Timestamp: 1717228800123}, msg.Payload)
	}
}

func TestHub_DropsSlowClient(t *testing.T) {
	hub := NewHub(1, quietLogger())
	slow := hub.register()

	hub.Broadcast(TopicHeartbeat, Heartbeat{Timestamp: 1})
	hub.Broadcast(TopicHeartbeat, Heartbeat{Timestamp: 2})

	require.Eventually(t, func() bool { return hub.Clients() == 0 }, time.Second, 5*time.Millisecond)

	<-slow.send
	_, open := <-slow.send
	assert.False(t, open)
	assert.False(t, hub.sendTo(slow, TopicHeartbeat, nil))
}

func TestHub_Close(t *testing.T) {
	hub := NewHub(0, nil)
	c := hub.register()
	hub.Close()
	hub.Close()

	_, open := <-c.send
	assert.False(t, open)
	assert.Equal(t, 0, hub.Clients())

	hub.Broadcast(TopicHeartbeat, Heartbeat{})
	late := hub.register()
	_, open = <-late.send
	assert.False(t, open)
}

func TestHub_PrinterStatusChanged(t *testing.T) {
	hub := NewHub(2, quietLogger())
	c := hub.register()

	hub.PrinterStatusChanged("kitchen", "online", "offline")

	var msg struct {
		Destination string              `json:"destination"`
		Payload     PrinterStatusUpdate `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(<-c.send, &msg))
	assert.Equal(t, TopicPrinterStatus, msg.Destination)
	assert.Equal(t, PrinterStatusUpdate{Printer: "kitchen", PreviousStatus: "online", Status: "offline"}, msg.Payload)
}
