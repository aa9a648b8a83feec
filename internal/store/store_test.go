package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orrn/printq/internal/config"
	"github.com/orrn/printq/internal/core"
)

func TestOpen_Backends(t *testing.T) {
	for _, backend := range []string{config.BackendSQLite, config.BackendBolt} {
		t.Run(backend, func(t *testing.T) {
			s, err := Open(config.StorageConfig{
				Backend: backend,
				Path:    filepath.Join(t.TempDir(), "printq.db"),
			}, nil)
			require.NoError(t, err)
			defer s.Close()

			ctx := context.Background()
			task := core.NewTask("slip", core.DefaultPrinter)
			snap := task.Snapshot()
			snap.CreatedAt = time.Now().UTC()

			require.NoError(t, s.Save(ctx, snap))
			pending, err := s.LoadPending(ctx)
			require.NoError(t, err)
			require.Len(t, pending, 1)
			assert.Equal(t, task.ID, pending[0].ID)

			require.NoError(t, s.MarkCompleted(ctx, task.ID))
			got, err := s.Get(ctx, task.ID)
			require.NoError(t, err)
			assert.Equal(t, core.TaskStatusCompleted, got.Status)
		})
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(config.StorageConfig{Backend: "redis", Path: "x"}, nil)
	assert.Error(t, err)
}
