package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/orrn/printq/internal/config"
	"github.com/orrn/printq/internal/core"
)

type Event string

const (
	EventTaskCompleted        Event = "task_completed"
	EventTaskFailed           Event = "task_failed"
	EventTaskRetrying         Event = "task_retrying"
	EventPrinterStatusChanged Event = "printer_status_changed"
)

const (
	SignatureHeader = "X-Webhook-Signature"
	EventHeader     = "X-Webhook-Event"
)

var (
	ErrSenderStopped   = errors.New("webhook sender stopped")
	ErrUnknownEndpoint = errors.New("webhook endpoint not found")
)

const eventTest = "test"

type Payload struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

type TaskEventData struct {
	TaskID       string `json:"task_id"`
	Printer      string `json:"printer"`
	Status       string `json:"status"`
	RetryCount   int    `json:"retry_count"`
	ErrorMessage string `json:"error_message,omitempty"`
	RetryInMs    int64  `json:"retry_in_ms,omitempty"`
}

type PrinterStatusData struct {
	PrinterName    string `json:"printer_name"`
	PreviousStatus string `json:"previous_status"`
	NewStatus      string `json:"new_status"`
}

type delivery struct {
	endpoint config.WebhookEndpoint
	payload  *Payload
	attempt  int
}

// statusError is a non-2xx answer from an endpoint.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("http error: %d", e.code)
}

func isClientError(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.code >= 400 && se.code < 500
}

type Option func(*Sender)

func WithLogger(l *slog.Logger) Option {
	return func(s *Sender) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(s *Sender) {
		if c != nil {
			s.httpClient = c
		}
	}
}

// Sender delivers task and printer events to the configured endpoints. It
// implements core.Notifier; delivery happens on a bounded worker queue.
type Sender struct {
	endpoints   []config.WebhookEndpoint
	httpClient  *http.Client
	retryCount  int
	retryDelay  time.Duration
	workerCount int
	queue       chan *delivery
	logger      *slog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	wg       sync.WaitGroup
	now      func() time.Time
}

var _ core.Notifier = (*Sender)(nil)

func NewSender(cfg config.WebhooksConfig, opts ...Option) *Sender {
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Sender{
		endpoints:   cfg.Endpoints,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		retryCount:  cfg.RetryCount,
		retryDelay:  cfg.RetryDelay,
		workerCount: cfg.WorkerCount,
		queue:       make(chan *delivery, cfg.QueueSize),
		logger:      slog.Default(),
		ctx:         ctx,
		cancel:      cancel,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "webhook")
	return s
}

func (s *Sender) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

// Stop abandons queued deliveries and waits for in-flight ones to return.
func (s *Sender) Stop() {
	s.stopOnce.Do(s.cancel)
	s.wg.Wait()
}

// Notify maps a task transition to a webhook event. Transitions without a
// webhook event are ignored.
func (s *Sender) Notify(ev core.Event) {
	var event Event
	switch ev.Kind {
	case core.EventCompleted:
		event = EventTaskCompleted
	case core.EventFailed:
		event = EventTaskFailed
	case core.EventRetrying:
		event = EventTaskRetrying
	default:
		return
	}

	s.enqueue(event, &TaskEventData{
		TaskID:       ev.Task.ID,
		Printer:      ev.Task.Target,
		Status:       string(ev.Task.Status),
		RetryCount:   ev.Task.RetryCount,
		ErrorMessage: ev.Task.LastError,
		RetryInMs:    ev.RetryDelay.Milliseconds(),
	})
}

// PrinterStatusChanged has the printer.StatusListener signature.
func (s *Sender) PrinterStatusChanged(name, oldStatus, newStatus string) {
	s.enqueue(EventPrinterStatusChanged, &PrinterStatusData{
		PrinterName:    name,
		PreviousStatus: oldStatus,
		NewStatus:      newStatus,
	})
}

func (s *Sender) enqueue(event Event, data any) {
	if s.ctx.Err() != nil {
		return
	}
	for _, endpoint := range s.endpoints {
		if !subscribed(endpoint, event) {
			continue
		}
		d := &delivery{
			endpoint: endpoint,
			payload: &Payload{
				Event:     string(event),
				Timestamp: s.now(),
				Data:      data,
			},
		}

		select {
		case s.queue <- d:
		default:
			s.logger.With("url", endpoint.URL).With("event", event).Warn("queue full, dropping webhook")
		}
	}
}

// subscribed reports whether the endpoint wants event. An empty list
// subscribes to everything.
func subscribed(endpoint config.WebhookEndpoint, event Event) bool {
	return len(endpoint.Events) == 0 || slices.Contains(endpoint.Events, string(event))
}

func (s *Sender) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case d := <-s.queue:
			if err := s.sendWithRetry(d); err != nil {
				s.logger.With("worker", id).
					With("url", d.endpoint.URL).
					With("event", d.payload.Event).
					With("attempts", d.attempt).
					With("err", err).
					Error("failed to deliver webhook")
			}
		}
	}
}

func (s *Sender) sendWithRetry(d *delivery) error {
	body, err := json.Marshal(d.payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	var lastErr error
	for d.attempt < s.retryCount {
		d.attempt++

		err := s.sendRequest(s.ctx, d.endpoint, d.payload.Event, body)
		if err == nil {
			return nil
		}
		lastErr = err

		if isClientError(err) {
			return err
		}

		if d.attempt < s.retryCount {
			backoff := s.retryDelay * time.Duration(1<<(d.attempt-1))
			s.logger.With("url", d.endpoint.URL).
				With("attempt", d.attempt).
				With("backoff", backoff).
				With("err", err).
				Debug("retrying webhook")

			select {
			case <-s.ctx.Done():
				return ErrSenderStopped
			case <-time.After(backoff):
			}
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (s *Sender) sendRequest(ctx context.Context, endpoint config.WebhookEndpoint, event string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, event)
	if endpoint.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(body, endpoint.Secret))
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &statusError{code: resp.StatusCode}
	}
	return nil
}

// Endpoints returns a copy of the configured endpoints.
func (s *Sender) Endpoints() []config.WebhookEndpoint {
	return slices.Clone(s.endpoints)
}

// SendTest posts a signed test event to endpoint i synchronously, without
// retries.
func (s *Sender) SendTest(ctx context.Context, i int) error {
	if i < 0 || i >= len(s.endpoints) {
		return fmt.Errorf("%w: %d", ErrUnknownEndpoint, i)
	}
	endpoint := s.endpoints[i]

	body, err := json.Marshal(&Payload{
		Event:     eventTest,
		Timestamp: s.now(),
		Data:      map[string]any{"test": true, "message": "Test webhook from printq"},
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return s.sendRequest(ctx, endpoint, eventTest, body)
}

// Sign returns the hex HMAC-SHA256 of body, as sent in X-Webhook-Signature.
func Sign(body []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
