package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orrn/printq/internal/core"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "printq.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func snapshot(id string, created time.Time) core.TaskSnapshot {
	return core.TaskSnapshot{
		ID:        id,
		Payload:   "slip " + id,
		Target:    "kitchen",
		Priority:  core.PriorityHigh,
		Status:    core.TaskStatusPending,
		CreatedAt: created,
	}
}

func TestOpen_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "printq.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	var n int
	require.NoError(t, s.DB().QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&n))
	assert.Equal(t, 2, n)
}

func TestStore_SaveAndLoadPending(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.Save(ctx, snapshot("b", base.Add(time.Minute))))
	require.NoError(t, s.Save(ctx, snapshot("a", base)))

	retry := snapshot("b", base.Add(time.Minute))
	retry.Status = core.TaskStatusFailed
	retry.RetryCount = 2
	retry.LastError = "offline"
	require.NoError(t, s.Save(ctx, retry))

	pending, err := s.LoadPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	assert.Equal(t, "a", pending[0].ID)
	assert.Equal(t, "b", pending[1].ID)
	assert.Equal(t, 2, pending[1].RetryCount)
	assert.Equal(t, "offline", pending[1].LastError)
	assert.Equal(t, core.PriorityHigh, pending[0].Priority)
	assert.True(t, base.Equal(pending[0].CreatedAt))
}

func TestStore_TerminalTasksLeavePending(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.Save(ctx, snapshot("done", now)))
	require.NoError(t, s.Save(ctx, snapshot("broken", now)))
	require.NoError(t, s.Save(ctx, snapshot("open", now)))

	require.NoError(t, s.MarkCompleted(ctx, "done"))
	require.NoError(t, s.MarkFailed(ctx, "broken", "paper out"))

	pending, err := s.LoadPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "open", pending[0].ID)

	rec, err := s.GetRecord(ctx, "broken")
	require.NoError(t, err)
	assert.Equal(t, core.TaskStatusFailed, rec.Status)
	assert.Equal(t, "paper out", rec.LastError)
	require.NotNil(t, rec.FinishedAt)

	snap, err := s.Get(ctx, "done")
	require.NoError(t, err)
	assert.Equal(t, core.TaskStatusCompleted, snap.Status)

	require.NoError(t, s.Save(ctx, snapshot("done", now)))
	snap, err = s.Get(ctx, "done")
	require.NoError(t, err)
	assert.Equal(t, core.TaskStatusCompleted, snap.Status, "finished rows are not reopened")

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[core.TaskStatusCompleted])
	assert.Equal(t, 1, counts[core.TaskStatusFailed])
	assert.Equal(t, 1, counts[core.TaskStatusPending])
}

func TestStore_NotFound(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	require.ErrorIs(t, err, core.ErrTaskNotFound)
	require.ErrorIs(t, s.MarkCompleted(ctx, "missing"), core.ErrTaskNotFound)
	require.NoError(t, s.Delete(ctx, "missing"))
}

func TestStore_ListTasks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"t1", "t2", "t3"} {
		require.NoError(t, s.Save(ctx, snapshot(id, base.Add(time.Duration(i)*time.Minute))))
	}
	require.NoError(t, s.MarkCompleted(ctx, "t2"))

	all, err := s.ListTasks(ctx, TaskFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "t3", all[0].ID)

	done, err := s.ListTasks(ctx, TaskFilter{Status: core.TaskStatusCompleted})
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, "t2", done[0].ID)

	page, err := s.ListTasks(ctx, TaskFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "t2", page[0].ID)
}

func TestStore_PruneFinished(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now.Add(-48 * time.Hour) }

	require.NoError(t, s.Save(ctx, snapshot("old", now)))
	require.NoError(t, s.MarkCompleted(ctx, "old"))
	require.NoError(t, s.Save(ctx, snapshot("open", now)))

	n, err := s.PruneFinished(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = s.Get(ctx, "old")
	require.ErrorIs(t, err, core.ErrTaskNotFound)
	_, err = s.Get(ctx, "open")
	require.NoError(t, err)
}

func TestStore_DailyCounters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	day := time.Date(2024, 6, 1, 15, 0, 0, 0, time.UTC)

	require.NoError(t, s.IncrementDaily(ctx, "kitchen", day, true))
	require.NoError(t, s.IncrementDaily(ctx, "kitchen", day, true))
	require.NoError(t, s.IncrementDaily(ctx, "kitchen", day, false))
	require.NoError(t, s.IncrementDaily(ctx, "bar", day.AddDate(0, 0, 1), true))

	counters, err := s.GetCounters(ctx, "kitchen", day, day)
	require.NoError(t, err)
	require.Len(t, counters, 1)
	assert.EqualValues(t, 2, counters[0].Succeeded)
	assert.EqualValues(t, 1, counters[0].Failed)
	assert.Equal(t, "2024-06-01", counters[0].Date.Format(dateLayout))

	all, err := s.GetCounters(ctx, "", day, day.AddDate(0, 0, 7))
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
