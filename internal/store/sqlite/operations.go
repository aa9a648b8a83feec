package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/orrn/printq/internal/core"
)

const dateLayout = "2006-01-02"

func (s *Store) Save(ctx context.Context, snap core.TaskSnapshot) error {
	_, err := s.db.ExecContext(ctx, UpsertTask,
		snap.ID, snap.Payload, snap.Target, string(snap.Priority), string(snap.Status),
		snap.RetryCount, snap.LastError, snap.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	return nil
}

// LoadPending returns every unfinished task, oldest first.
func (s *Store) LoadPending(ctx context.Context) ([]core.TaskSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, ListOpenTasks)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending tasks: %w", err)
	}
	defer rows.Close()

	records, err := scanTasks(rows)
	if err != nil {
		return nil, err
	}

	snaps := make([]core.TaskSnapshot, 0, len(records))
	for _, r := range records {
		snaps = append(snaps, r.TaskSnapshot)
	}
	return snaps, nil
}

func (s *Store) MarkCompleted(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, CompleteTask, s.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark task completed: %w", err)
	}
	return expectOneRow(result, id)
}

func (s *Store) MarkFailed(ctx context.Context, id string, reason string) error {
	result, err := s.db.ExecContext(ctx, FailTask, reason, s.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark task failed: %w", err)
	}
	return expectOneRow(result, id)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, DeleteTask, id); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*core.TaskSnapshot, error) {
	r, err := s.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	return &r.TaskSnapshot, nil
}

func (s *Store) GetRecord(ctx context.Context, id string) (*TaskRecord, error) {
	r, err := scanTask(s.db.QueryRowContext(ctx, GetTaskByID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("task %s: %w", id, core.ErrTaskNotFound)
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return r, nil
}

func (s *Store) ListTasks(ctx context.Context, filter TaskFilter) ([]*TaskRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	var (
		rows *sql.Rows
		err  error
	)
	if filter.Status != "" {
		rows, err = s.db.QueryContext(ctx, ListTasksByStatus, string(filter.Status), limit, filter.Offset)
	} else {
		rows, err = s.db.QueryContext(ctx, ListTasks, limit, filter.Offset)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

func (s *Store) CountByStatus(ctx context.Context) (map[core.TaskStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, CountTasksByStatus)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}
	defer rows.Close()

	counts := make(map[core.TaskStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan task count: %w", err)
		}
		counts[core.TaskStatus(status)] = n
	}
	return counts, rows.Err()
}

// PruneFinished deletes finished tasks older than before.
func (s *Store) PruneFinished(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, PruneFinishedTasks, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune tasks: %w", err)
	}
	return result.RowsAffected()
}

// IncrementDaily bumps the per-printer counter for the day of date.
func (s *Store) IncrementDaily(ctx context.Context, printer string, date time.Time, succeeded bool) error {
	query := IncrementFailed
	if succeeded {
		query = IncrementSucceeded
	}
	if _, err := s.db.ExecContext(ctx, query, printer, date.Format(dateLayout)); err != nil {
		return fmt.Errorf("failed to increment daily counter: %w", err)
	}
	return nil
}

// GetCounters returns daily counters between from and to inclusive. An empty
// printer returns every printer.
func (s *Store) GetCounters(ctx context.Context, printer string, from, to time.Time) ([]*PrintCounter, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if printer == "" {
		rows, err = s.db.QueryContext(ctx, GetAllCountersByDateRange, from.Format(dateLayout), to.Format(dateLayout))
	} else {
		rows, err = s.db.QueryContext(ctx, GetCountersByDateRange, printer, from.Format(dateLayout), to.Format(dateLayout))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get counters: %w", err)
	}
	defer rows.Close()

	var counters []*PrintCounter
	for rows.Next() {
		c := &PrintCounter{}
		var dateStr string
		if err := rows.Scan(&c.ID, &c.Printer, &dateStr, &c.Succeeded, &c.Failed); err != nil {
			return nil, fmt.Errorf("failed to scan counter: %w", err)
		}
		c.Date, _ = time.Parse(dateLayout, strings.TrimSpace(dateStr))
		counters = append(counters, c)
	}
	return counters, rows.Err()
}

func scanTasks(rows *sql.Rows) ([]*TaskRecord, error) {
	var records []*TaskRecord
	for rows.Next() {
		r, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func expectOneRow(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("task %s: %w", id, core.ErrTaskNotFound)
	}
	return nil
}
