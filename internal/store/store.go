package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/orrn/printq/internal/config"
	"github.com/orrn/printq/internal/core"
	"github.com/orrn/printq/internal/store/bolt"
	"github.com/orrn/printq/internal/store/sqlite"
)

// Backend is a task store usable by the scheduler, the API and the pruner.
type Backend interface {
	core.Persistence
	Get(ctx context.Context, id string) (*core.TaskSnapshot, error)
	PruneFinished(ctx context.Context, before time.Time) (int64, error)
	Close() error
}

var (
	_ Backend = (*sqlite.Store)(nil)
	_ Backend = (*bolt.Store)(nil)
)

// Open returns the backend selected by cfg.Backend.
func Open(cfg config.StorageConfig, logger *slog.Logger) (Backend, error) {
	switch cfg.Backend {
	case config.BackendSQLite, "":
		s, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendBolt:
		s, err := bolt.Open(&bolt.Opts{Path: cfg.Path, Logger: logger})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}
