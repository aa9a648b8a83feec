package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printq/internal/api"
	"github.com/orrn/printq/internal/api/handlers"
	"github.com/orrn/printq/internal/archive"
	"github.com/orrn/printq/internal/config"
	"github.com/orrn/printq/internal/core"
	"github.com/orrn/printq/internal/format"
	"github.com/orrn/printq/internal/logger"
	"github.com/orrn/printq/internal/metrics"
	"github.com/orrn/printq/internal/printer"
	"github.com/orrn/printq/internal/store"
	"github.com/orrn/printq/internal/store/sqlite"
	"github.com/orrn/printq/internal/webhook"
)

func main() {
	configPath := flag.String("config", "printq.yaml", "path to the YAML config file")
	envFile := flag.String("env-file", ".env", "optional dotenv file")
	flag.Parse()

	if err := run(*configPath, *envFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, envFile string) error {
	cfg, err := config.LoadWithEnv(configPath, envFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log, err := logger.FromConfig(cfg.Logging.Level, cfg.Logging.Format, os.Stdout)
	if err != nil {
		return err
	}
	gin.SetMode(gin.ReleaseMode)

	backend, err := store.Open(cfg.Storage, log)
	if err != nil {
		return fmt.Errorf("failed to open task store: %w", err)
	}
	defer backend.Close()

	hub := api.NewHub(0, log)
	defer hub.Close()

	sender := webhook.NewSender(cfg.Webhooks, webhook.WithLogger(log))
	sender.Start()
	defer sender.Stop()

	printers, err := printer.NewManager(cfg.Printers,
		printer.WithLogger(log),
		printer.WithStatusListener(func(name, oldStatus, newStatus string) {
			hub.PrinterStatusChanged(name, oldStatus, newStatus)
			sender.PrinterStatusChanged(name, oldStatus, newStatus)
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to configure printers: %w", err)
	}
	printers.Start()
	defer printers.Stop()

	metricOpts := []metrics.Option{metrics.WithLogger(log)}
	if name, err := printers.Resolve(core.DefaultPrinter); err == nil {
		metricOpts = append(metricOpts, metrics.WithDefaultPrinter(name))
	}
	var counters handlers.CounterReader
	if s, ok := backend.(*sqlite.Store); ok {
		metricOpts = append(metricOpts, metrics.WithSink(s))
		counters = s
	}
	collector := metrics.New(metricOpts...)

	scheduler := core.NewScheduler(cfg.Core(), printers,
		core.WithPersistence(backend),
		core.WithMetrics(collector),
		core.WithNotifier(core.Notifiers{hub, sender}),
		core.WithLogger(log),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	defer scheduler.Stop()

	archiver := archive.NewArchiver(backend, cfg.Storage, archive.WithLogger(log))
	archiver.Start()
	defer archiver.Stop()

	slips := format.NewSlipGenerator(format.WithHeading(cfg.Slip.Heading), format.WithBrand(cfg.Slip.Brand))
	server := api.NewServer(cfg.Server, api.Deps{
		Scheduler: scheduler,
		Tasks:     backend,
		Printers:  printers,
		Metrics:   collector,
		Counters:  counters,
		Hub:       hub,
		Slips:     slips,
		Webhooks:  sender,
		Archive:   archiver,
	}, log)

	log.With("config", configPath).With("storage", cfg.Storage.Backend).Info("printq starting")
	if err := server.Run(ctx); err != nil {
		return err
	}
	log.Info("printq stopped")
	return nil
}
