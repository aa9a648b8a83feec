package sqlite

import (
	"database/sql"
	"time"

	"github.com/orrn/printq/internal/core"
)

// TaskRecord is a row of print_tasks. Finished rows keep their final status
// for lookups until they are pruned.
type TaskRecord struct {
	core.TaskSnapshot
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

type PrintCounter struct {
	ID        int64     `json:"id"`
	Printer   string    `json:"printer"`
	Date      time.Time `json:"date"`
	Succeeded int64     `json:"succeeded"`
	Failed    int64     `json:"failed"`
}

type TaskFilter struct {
	Status core.TaskStatus
	Limit  int
	Offset int
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*TaskRecord, error) {
	r := &TaskRecord{}
	var finishedAt sql.NullTime
	err := row.Scan(
		&r.ID, &r.Payload, &r.Target, &r.Priority, &r.Status, &r.RetryCount,
		&r.LastError, &r.CreatedAt, &r.UpdatedAt, &finishedAt)
	if err != nil {
		return nil, err
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		r.FinishedAt = &t
	}
	return r, nil
}
