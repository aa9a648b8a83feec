package printer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"golang.org/x/text/encoding"

	"github.com/orrn/printq/internal/config"
	"github.com/orrn/printq/internal/core"
)

var (
	ErrPrinterNotFound    = errors.New("printer not found")
	ErrNoDefaultPrinter   = errors.New("no default printer configured")
	ErrPrinterPaused      = errors.New("printer is paused")
	ErrConnectionFailed   = errors.New("connection failed")
	ErrInvalidStatus      = errors.New("invalid status response")
	ErrPrinterCannotPrint = errors.New("printer cannot print in current state")
)

const (
	defaultTCPPort          = "9100"
	defaultReadWriteTimeout = 10 * time.Second
	defaultHealthInterval   = 30 * time.Second
)

// Printer is the observed state of a configured device.
type Printer struct {
	Name        string     `json:"name"`
	Address     string     `json:"address"`
	Encoding    string     `json:"encoding,omitempty"`
	StatusCheck bool       `json:"status_check"`
	Default     bool       `json:"default"`
	Status      string     `json:"status"`
	Paused      bool       `json:"paused"`
	LastSeenAt  *time.Time `json:"last_seen_at,omitempty"`
	TotalPrints int64      `json:"total_prints"`
}

// StatusListener is called when a printer's status string changes.
type StatusListener func(name, oldStatus, newStatus string)

type Option func(*Manager)

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithStatusListener(fn StatusListener) Option {
	return func(m *Manager) { m.onChange = fn }
}

// Manager talks raw TCP to the configured printers and implements
// core.PrinterGateway. Jobs for the same printer are serialized.
type Manager struct {
	config      config.PrintersConfig
	printers    map[string]*Printer
	encoders    map[string]encoding.Encoding
	locks       map[string]*sync.Mutex
	connections map[string]net.Conn
	defaultName string
	mu          sync.RWMutex
	logger      *slog.Logger
	onChange    StatusListener
	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

var _ core.PrinterGateway = (*Manager)(nil)

func NewManager(cfg config.PrintersConfig, opts ...Option) (*Manager, error) {
	m := &Manager{
		config:      cfg,
		printers:    make(map[string]*Printer),
		encoders:    make(map[string]encoding.Encoding),
		locks:       make(map[string]*sync.Mutex),
		connections: make(map[string]net.Conn),
		logger:      slog.Default(),
		stopCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "printer")

	for _, d := range cfg.Devices {
		if _, exists := m.printers[d.Name]; exists {
			return nil, fmt.Errorf("printer %s: duplicate name", d.Name)
		}
		enc, err := lookupEncoding(d.Encoding)
		if err != nil {
			return nil, fmt.Errorf("printer %s: %w", d.Name, err)
		}
		m.printers[d.Name] = &Printer{
			Name:        d.Name,
			Address:     normalizeAddress(d.Address),
			Encoding:    d.Encoding,
			StatusCheck: d.StatusCheck,
			Status:      StatusUnknown,
		}
		m.encoders[d.Name] = enc
		m.locks[d.Name] = &sync.Mutex{}
	}

	m.defaultName = cfg.Default
	if m.defaultName == "" && len(cfg.Devices) > 0 {
		m.defaultName = cfg.Devices[0].Name
	}
	if m.defaultName != "" {
		p, ok := m.printers[m.defaultName]
		if !ok {
			return nil, fmt.Errorf("default printer %s: %w", m.defaultName, ErrPrinterNotFound)
		}
		p.Default = true
	}

	return m, nil
}

func normalizeAddress(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, defaultTCPPort)
}

// Start launches the periodic health check. A negative interval disables it.
func (m *Manager) Start() {
	if m.config.HealthCheckInterval < 0 {
		return
	}
	m.wg.Add(1)
	go m.healthCheckLoop()
}

func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()

	m.mu.Lock()
	for name, conn := range m.connections {
		if conn != nil {
			conn.Close()
		}
		delete(m.connections, name)
	}
	m.mu.Unlock()
}

// Resolve maps a task target to a configured printer name. An empty target
// selects the default printer.
func (m *Manager) Resolve(target string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if target == core.DefaultPrinter {
		if m.defaultName == "" {
			return "", ErrNoDefaultPrinter
		}
		return m.defaultName, nil
	}
	if _, ok := m.printers[target]; !ok {
		return "", fmt.Errorf("%w: %s", ErrPrinterNotFound, target)
	}
	return target, nil
}

func (m *Manager) GetPrinter(name string) (Printer, error) {
	resolved, err := m.Resolve(name)
	if err != nil {
		return Printer{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyPrinter(m.printers[resolved]), nil
}

func (m *Manager) ListPrinters() []Printer {
	m.mu.RLock()
	defer m.mu.RUnlock()

	printers := make([]Printer, 0, len(m.printers))
	for _, p := range m.printers {
		printers = append(printers, copyPrinter(p))
	}
	sort.Slice(printers, func(i, j int) bool { return printers[i].Name < printers[j].Name })
	return printers
}

func copyPrinter(p *Printer) Printer {
	c := *p
	if p.LastSeenAt != nil {
		t := *p.LastSeenAt
		c.LastSeenAt = &t
	}
	return c
}

// Execute sends the task payload to its target printer.
func (m *Manager) Execute(ctx context.Context, task *core.Task) error {
	name, err := m.Resolve(task.Target)
	if err != nil {
		return core.NewPrinterUnavailable(task.Target, err)
	}

	lock := m.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	m.mu.RLock()
	p := m.printers[name]
	paused, statusCheck := p.Paused, p.StatusCheck
	enc := m.encoders[name]
	m.mu.RUnlock()

	if paused {
		return core.NewPrinterUnavailable(name, ErrPrinterPaused)
	}

	if statusCheck {
		status, err := m.probe(ctx, name)
		if err != nil {
			return core.NewPrinterUnavailable(name, err)
		}
		if !status.CanPrint {
			return core.NewPrinterUnavailable(name, fmt.Errorf("%w: %s", ErrPrinterCannotPrint, status.PrinterState))
		}
	}

	data, err := encodePayload(enc, task.Payload)
	if err != nil {
		return core.NewExecutionFailed(name, err)
	}

	if err := m.send(ctx, name, data); err != nil {
		return core.NewPrinterUnavailable(name, err)
	}

	m.mu.Lock()
	p.TotalPrints++
	m.mu.Unlock()
	m.logger.With("printer", name).With("bytes", len(data)).Debug("payload sent")
	return nil
}

// CheckStatus queries the printer's state. Printers without status support
// are reported online when a connection can be established.
func (m *Manager) CheckStatus(ctx context.Context, name string) (*PrinterStatus, error) {
	resolved, err := m.Resolve(name)
	if err != nil {
		return nil, err
	}

	lock := m.lockFor(resolved)
	lock.Lock()
	defer lock.Unlock()

	m.mu.RLock()
	statusCheck := m.printers[resolved].StatusCheck
	m.mu.RUnlock()

	if statusCheck {
		return m.probe(ctx, resolved)
	}

	if _, err := m.connect(ctx, resolved); err != nil {
		m.updatePrinterStatus(resolved, StatusOffline)
		return &PrinterStatus{LastChecked: time.Now()}, err
	}
	m.updatePrinterStatus(resolved, StatusOnline)
	return &PrinterStatus{
		IsOnline:     true,
		CanPrint:     true,
		PrinterState: StatusUnknown,
		LastChecked:  time.Now(),
	}, nil
}

func (m *Manager) Pause(name string) error {
	return m.setPaused(name, true)
}

func (m *Manager) Resume(name string) error {
	return m.setPaused(name, false)
}

func (m *Manager) setPaused(name string, paused bool) error {
	resolved, err := m.Resolve(name)
	if err != nil {
		return err
	}

	m.mu.Lock()
	p := m.printers[resolved]
	p.Paused = paused
	m.mu.Unlock()

	if paused {
		m.updatePrinterStatus(resolved, StatusPaused)
	} else {
		m.updatePrinterStatus(resolved, StatusUnknown)
	}
	return nil
}

func (m *Manager) lockFor(name string) *sync.Mutex {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.locks[name]
}

func (m *Manager) timeout() time.Duration {
	if m.config.ConnectionTimeout > 0 {
		return m.config.ConnectionTimeout
	}
	return defaultReadWriteTimeout
}

func (m *Manager) deadline(ctx context.Context) time.Time {
	deadline := time.Now().Add(m.timeout())
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		return d
	}
	return deadline
}

func (m *Manager) connect(ctx context.Context, name string) (net.Conn, error) {
	m.mu.RLock()
	if conn, exists := m.connections[name]; exists && conn != nil {
		m.mu.RUnlock()
		return conn, nil
	}
	address := m.printers[name].Address
	m.mu.RUnlock()

	dialer := net.Dialer{Timeout: m.timeout()}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	m.mu.Lock()
	m.connections[name] = conn
	m.mu.Unlock()

	return conn, nil
}

func (m *Manager) disconnect(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if conn, exists := m.connections[name]; exists {
		if conn != nil {
			conn.Close()
		}
		delete(m.connections, name)
	}
}

// write sends data over the cached connection, reconnecting once if the
// cached connection turned out to be dead.
func (m *Manager) write(ctx context.Context, name string, data []byte) (net.Conn, error) {
	conn, err := m.connect(ctx, name)
	if err != nil {
		return nil, err
	}
	deadline := m.deadline(ctx)
	_ = conn.SetDeadline(deadline)

	if _, err := conn.Write(data); err == nil {
		return conn, nil
	}

	m.disconnect(name)
	conn, err = m.connect(ctx, name)
	if err != nil {
		return nil, err
	}
	_ = conn.SetDeadline(deadline)
	if _, err := conn.Write(data); err != nil {
		m.disconnect(name)
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return conn, nil
}

func (m *Manager) send(ctx context.Context, name string, data []byte) error {
	if _, err := m.write(ctx, name, data); err != nil {
		m.updatePrinterStatus(name, StatusOffline)
		return err
	}
	m.touch(name)
	return nil
}

func (m *Manager) probe(ctx context.Context, name string) (*PrinterStatus, error) {
	offline := &PrinterStatus{LastChecked: time.Now()}

	conn, err := m.write(ctx, name, []byte(statusCommand))
	if err != nil {
		m.updatePrinterStatus(name, StatusOffline)
		return offline, err
	}

	response := make([]byte, statusResponseLength)
	if _, err := io.ReadFull(conn, response); err != nil {
		m.disconnect(name)
		if errors.Is(err, io.ErrUnexpectedEOF) {
			m.updatePrinterStatus(name, StatusError)
			return offline, ErrInvalidStatus
		}
		m.updatePrinterStatus(name, StatusOffline)
		return offline, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	status := parseStatus(response)
	status.LastChecked = time.Now()
	m.updatePrinterStatus(name, statusString(status))
	return status, nil
}

func (m *Manager) touch(name string) {
	m.mu.Lock()
	p := m.printers[name]
	now := time.Now()
	p.LastSeenAt = &now
	old := p.Status
	if !p.StatusCheck && !p.Paused {
		p.Status = StatusOnline
	}
	newStatus := p.Status
	m.mu.Unlock()

	m.statusChanged(name, old, newStatus)
}

func (m *Manager) updatePrinterStatus(name, status string) {
	m.mu.Lock()
	p, exists := m.printers[name]
	if !exists {
		m.mu.Unlock()
		return
	}
	if p.Paused && status != StatusOffline {
		status = StatusPaused
	}
	old := p.Status
	p.Status = status
	if status != StatusOffline {
		now := time.Now()
		p.LastSeenAt = &now
	}
	m.mu.Unlock()

	m.statusChanged(name, old, status)
}

func (m *Manager) statusChanged(name, old, status string) {
	if old == status {
		return
	}
	m.logger.With("printer", name).With("from", old).With("to", status).Info("printer status changed")
	if m.onChange != nil {
		m.onChange(name, old, status)
	}
}

func (m *Manager) CheckAllStatuses(ctx context.Context) {
	m.mu.RLock()
	names := make([]string, 0, len(m.printers))
	for name := range m.printers {
		names = append(names, name)
	}
	m.mu.RUnlock()

	for _, name := range names {
		if _, err := m.CheckStatus(ctx, name); err != nil {
			m.logger.With("printer", name).With("err", err).Debug("health check failed")
		}
	}
}

func (m *Manager) healthCheckLoop() {
	defer m.wg.Done()

	interval := m.config.HealthCheckInterval
	if interval == 0 {
		interval = defaultHealthInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-m.stopCh
		cancel()
	}()

	m.CheckAllStatuses(ctx)

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.CheckAllStatuses(ctx)
		}
	}
}
