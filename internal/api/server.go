package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printq/internal/api/handlers"
	"github.com/orrn/printq/internal/api/middleware"
	"github.com/orrn/printq/internal/config"
	"github.com/orrn/printq/internal/format"
)

const defaultShutdownTimeout = 10 * time.Second

// Printers is the printer surface the API needs.
type Printers interface {
	handlers.PrinterService
	handlers.PrinterResolver
}

// Deps are the collaborators behind the routes. Counters, Hub, Webhooks and
// Archive are optional.
type Deps struct {
	Scheduler handlers.TaskScheduler
	Tasks     handlers.TaskReader
	Printers  Printers
	Metrics   handlers.MetricsSource
	Counters  handlers.CounterReader
	Hub       *Hub
	Slips     *format.SlipGenerator
	Webhooks  handlers.WebhookService
	Archive   handlers.ArchiveService
}

type Server struct {
	engine          *gin.Engine
	srv             *http.Server
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

func NewServer(cfg config.ServerConfig, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "api")

	engine := gin.New()
	engine.Use(middleware.Recovery(logger), middleware.RequestLogger(logger))

	engine.GET("/healthz", handlers.Health)

	apiGroup := engine.Group("/api")
	handlers.RegisterTaskRoutes(apiGroup, handlers.NewTaskHandler(deps.Scheduler, deps.Tasks, deps.Printers, deps.Slips))
	handlers.RegisterPrinterRoutes(apiGroup, handlers.NewPrinterHandler(deps.Printers))
	handlers.RegisterMetricsRoutes(apiGroup, handlers.NewMetricsHandler(deps.Metrics, deps.Counters))
	if deps.Webhooks != nil {
		handlers.RegisterWebhookRoutes(apiGroup, handlers.NewWebhookHandler(deps.Webhooks))
	}
	if deps.Archive != nil {
		handlers.RegisterArchiveRoutes(apiGroup, handlers.NewArchiveHandler(deps.Archive))
	}

	if deps.Hub != nil {
		ws := NewWSHandler(deps.Hub, deps.Scheduler, deps.Slips, logger)
		engine.GET("/ws/print", ws.Serve)
	}

	shutdownTimeout := cfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}

	return &Server{
		engine: engine,
		srv: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      engine,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		shutdownTimeout: shutdownTimeout,
		logger:          logger,
	}
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.srv.Addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(ln) }()
	s.logger.With("addr", ln.Addr().String()).Info("http server listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}
