package webhook

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orrn/printq/internal/config"
	"github.com/orrn/printq/internal/core"
)

type received struct {
	event     string
	signature string
	body      []byte
}

type receiver struct {
	mu       sync.Mutex
	requests []received
	calls    atomic.Int32
	status   func(call int32) int
}

func newReceiver(t *testing.T, status func(call int32) int) (*receiver, *httptest.Server) {
	t.Helper()
	r := &receiver{status: status}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		call := r.calls.Add(1)
		body, _ := io.ReadAll(req.Body)
		r.mu.Lock()
		r.requests = append(r.requests, received{
			event:     req.Header.Get(EventHeader),
			signature: req.Header.Get(SignatureHeader),
			body:      body,
		})
		r.mu.Unlock()
		code := http.StatusOK
		if r.status != nil {
			code = r.status(call)
		}
		w.WriteHeader(code)
	}))
	t.Cleanup(srv.Close)
	return r, srv
}

func (r *receiver) all() []received {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]received(nil), r.requests...)
}

func newTestSender(t *testing.T, cfg config.WebhooksConfig) *Sender {
	t.Helper()
	cfg.RetryDelay = time.Millisecond
	s := NewSender(cfg, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	s.Start()
	t.Cleanup(s.Stop)
	return s
}

func failedEvent() core.Event {
	return core.Event{
		Kind: core.EventFailed,
		Task: core.TaskSnapshot{
			ID:         "task-1",
			Target:     "kitchen",
			Status:     core.TaskStatusFailed,
			RetryCount: 3,
			LastError:  "paper jam",
		},
	}
}

func TestSender_DeliversSignedEvent(t *testing.T) {
	r, srv := newReceiver(t, nil)
	s := newTestSender(t, config.WebhooksConfig{
		Endpoints: []config.WebhookEndpoint{{URL: srv.URL, Secret: "s3cret"}},
	})

	s.Notify(failedEvent())

	require.Eventually(t, func() bool { return len(r.all()) == 1 }, time.Second, 5*time.Millisecond)
	got := r.all()[0]
	assert.Equal(t, string(EventTaskFailed), got.event)
	assert.Equal(t, Sign(got.body, "s3cret"), got.signature)

	var payload struct {
		Event string        `json:"event"`
		Data  TaskEventData `json:"data"`
	}
	require.NoError(t, json.Unmarshal(got.body, &payload))
	assert.Equal(t, "task_failed", payload.Event)
	assert.Equal(t, TaskEventData{
		TaskID:       "task-1",
		Printer:      "kitchen",
		Status:       "FAILED",
		RetryCount:   3,
		ErrorMessage: "paper jam",
	}, payload.Data)
}

func TestSender_FiltersByEvent(t *testing.T) {
	failedOnly, failedSrv := newReceiver(t, nil)
	everything, allSrv := newReceiver(t, nil)
	s := newTestSender(t, config.WebhooksConfig{
		Endpoints: []config.WebhookEndpoint{
			{URL: failedSrv.URL, Events: []string{"task_failed"}},
			{URL: allSrv.URL},
		},
	})

	s.Notify(core.Event{Kind: core.EventStarted, Task: core.TaskSnapshot{ID: "ignored"}})
	s.Notify(core.Event{Kind: core.EventCompleted, Task: core.TaskSnapshot{ID: "done"}})
	s.Notify(core.Event{Kind: core.EventRetrying, Task: core.TaskSnapshot{ID: "again"}, RetryDelay: 2 * time.Second})
	s.PrinterStatusChanged("kitchen", "online", "offline")
	s.Notify(failedEvent())

	require.Eventually(t, func() bool {
		return len(everything.all()) == 4 && len(failedOnly.all()) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, "task_failed", failedOnly.all()[0].event)
	assert.Empty(t, failedOnly.all()[0].signature)

	events := map[string]bool{}
	for _, req := range everything.all() {
		events[req.event] = true
	}
	assert.Equal(t, map[string]bool{
		"task_completed":         true,
		"task_retrying":          true,
		"task_failed":            true,
		"printer_status_changed": true,
	}, events)
}

func TestSender_RetriesServerErrors(t *testing.T) {
	r, srv := newReceiver(t, func(call int32) int {
		if call < 3 {
			return http.StatusBadGateway
		}
		return http.StatusOK
	})
	s := newTestSender(t, config.WebhooksConfig{
		RetryCount: 3,
		Endpoints:  []config.WebhookEndpoint{{URL: srv.URL}},
	})

	s.Notify(failedEvent())

	require.Eventually(t, func() bool { return r.calls.Load() == 3 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 3, r.calls.Load())
}

func TestSender_DoesNotRetryClientErrors(t *testing.T) {
	r, srv := newReceiver(t, func(int32) int { return http.StatusUnauthorized })
	s := newTestSender(t, config.WebhooksConfig{
		RetryCount: 5,
		Endpoints:  []config.WebhookEndpoint{{URL: srv.URL}},
	})

	s.Notify(failedEvent())

	require.Eventually(t, func() bool { return r.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, r.calls.Load())
}

func TestSender_DropsWhenQueueFull(t *testing.T) {
	s := NewSender(config.WebhooksConfig{
		QueueSize: 1,
		Endpoints: []config.WebhookEndpoint{{URL: "http://127.0.0.1:0"}},
	}, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	s.Notify(failedEvent())
	s.Notify(failedEvent())
	assert.Len(t, s.queue, 1)

	s.Stop()
	s.Notify(failedEvent())
	assert.Len(t, s.queue, 1)
}

func TestIsClientError(t *testing.T) {
	assert.True(t, isClientError(&statusError{code: 404}))
	assert.False(t, isClientError(&statusError{code: 503}))
	assert.False(t, isClientError(io.EOF))
}
