package sqlite

const (
	UpsertTask = `
		INSERT INTO print_tasks (id, payload, target, priority, status, retry_count, error_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			retry_count = excluded.retry_count,
			error_message = excluded.error_message,
			updated_at = CURRENT_TIMESTAMP
		WHERE print_tasks.finished_at IS NULL
	`

	GetTaskByID = `
		SELECT id, payload, target, priority, status, retry_count, error_message, created_at, updated_at, finished_at
		FROM print_tasks WHERE id = ?
	`

	ListOpenTasks = `
		SELECT id, payload, target, priority, status, retry_count, error_message, created_at, updated_at, finished_at
		FROM print_tasks WHERE finished_at IS NULL ORDER BY created_at ASC
	`

	ListTasksByStatus = `
		SELECT id, payload, target, priority, status, retry_count, error_message, created_at, updated_at, finished_at
		FROM print_tasks WHERE status = ? ORDER BY created_at DESC LIMIT ? OFFSET ?
	`

	ListTasks = `
		SELECT id, payload, target, priority, status, retry_count, error_message, created_at, updated_at, finished_at
		FROM print_tasks ORDER BY created_at DESC LIMIT ? OFFSET ?
	`

	CompleteTask = `
		UPDATE print_tasks SET status = 'COMPLETED', updated_at = CURRENT_TIMESTAMP, finished_at = ?
		WHERE id = ? AND finished_at IS NULL
	`

	FailTask = `
		UPDATE print_tasks SET status = 'FAILED', error_message = ?, updated_at = CURRENT_TIMESTAMP, finished_at = ?
		WHERE id = ? AND finished_at IS NULL
	`

	DeleteTask = `DELETE FROM print_tasks WHERE id = ?`

	PruneFinishedTasks = `DELETE FROM print_tasks WHERE finished_at IS NOT NULL AND finished_at < ?`

	CountTasksByStatus = `SELECT status, COUNT(*) FROM print_tasks GROUP BY status`
)

const (
	IncrementSucceeded = `
		INSERT INTO print_counters (printer, date, succeeded, failed)
		VALUES (?, ?, 1, 0)
		ON CONFLICT(printer, date) DO UPDATE SET succeeded = succeeded + 1
	`

	IncrementFailed = `
		INSERT INTO print_counters (printer, date, succeeded, failed)
		VALUES (?, ?, 0, 1)
		ON CONFLICT(printer, date) DO UPDATE SET failed = failed + 1
	`

	GetCountersByDateRange = `
		SELECT id, printer, date, succeeded, failed
		FROM print_counters WHERE printer = ? AND date >= ? AND date <= ? ORDER BY date ASC
	`

	GetAllCountersByDateRange = `
		SELECT id, printer, date, succeeded, failed
		FROM print_counters WHERE date >= ? AND date <= ? ORDER BY date ASC, printer ASC
	`
)
