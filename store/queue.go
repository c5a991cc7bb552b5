package store

import (
	"database/sql"
	"errors"
)

// Queue task statuses.
const (
	TaskPending    = "pending"
	TaskProcessing = "processing"
	TaskCompleted  = "completed"
	TaskFailed     = "failed"
)

// The unit of deferred work. Key is the application-chosen dedup key:
// at most one task per key may be processing at a time, and a pending
// task with the same key absorbs later enqueues.
type QueueTask struct {
	ID                  int64  `db:"id"`
	TaskType            string `db:"task_type"`
	Payload             []byte `db:"payload"`
	Key                 string `db:"key"`
	Status              string `db:"status"`
	RetryCount          int    `db:"retry_count"`
	MaxRetries          int    `db:"max_retries"`
	NextRetryAt         uint64 `db:"next_retry_at"`
	CreatedAt           uint64 `db:"created_at"`
	ProcessingStartedAt uint64 `db:"processing_started_at"`
	ProcessedAt         uint64 `db:"processed_at"`
	Error               string `db:"error"`
}

type QueueStats struct {
	Pending    int
	Processing int
	Completed  int
	Failed     int
	Total      int
}

// AddQueueTask inserts the task and returns its autoincremented id.
func (s *Store) AddQueueTask(t *QueueTask) (int64, error) {
	var id int64
	if err := s.db.Run("add queue task", func() error {
		res, err := s.db.Tx.NamedExec(`
INSERT INTO action_queue (task_type, payload, key, status, retry_count, max_retries, next_retry_at, created_at, processing_started_at, processed_at, error)
VALUES (:task_type, :payload, :key, :status, :retry_count, :max_retries, :next_retry_at, :created_at, :processing_started_at, :processed_at, :error)`, t)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	}); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) GetQueueTask(id int64) (*QueueTask, error) {
	t := &QueueTask{}
	if err := s.db.RunReadOnly("get queue task", func() error {
		return s.db.Tx.Get(t, "SELECT * FROM action_queue WHERE id = ?", id)
	}); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return t, nil
}

// GetPendingTasksByKey returns pending tasks carrying the dedup key,
// oldest first.
func (s *Store) GetPendingTasksByKey(key string) ([]*QueueTask, error) {
	var tasks []*QueueTask
	if err := s.db.RunReadOnly("get pending tasks by key", func() error {
		return s.db.Tx.Select(&tasks, "SELECT * FROM action_queue WHERE key = ? AND status = ? ORDER BY id ASC", key, TaskPending)
	}); err != nil {
		return nil, err
	}
	return tasks, nil
}

// HasProcessingTaskWithKey reports whether an attempt for the dedup
// key is already in flight.
func (s *Store) HasProcessingTaskWithKey(key string) (bool, error) {
	var count int
	if err := s.db.RunReadOnly("has processing task with key", func() error {
		return s.db.Tx.Get(&count, "SELECT count(*) FROM action_queue WHERE key = ? AND status = ?", key, TaskProcessing)
	}); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Store) UpdateQueueTask(t *QueueTask) error {
	return s.db.Run("update queue task", func() error {
		_, err := s.db.Tx.NamedExec(`
UPDATE action_queue SET
	task_type = :task_type,
	payload = :payload,
	key = :key,
	status = :status,
	retry_count = :retry_count,
	max_retries = :max_retries,
	next_retry_at = :next_retry_at,
	processing_started_at = :processing_started_at,
	processed_at = :processed_at,
	error = :error
WHERE id = :id`, t)
		return err
	})
}

// CoalesceQueueTask replaces a pending task's payload in place. The
// status guard makes it safe against the drain loop claiming the task
// concurrently: if the row is no longer pending nothing is written and
// false comes back, so the caller treats the enqueue as absorbed by
// the attempt in flight.
func (s *Store) CoalesceQueueTask(id int64, taskType string, payload []byte) (bool, error) {
	var coalesced bool
	if err := s.db.Run("coalesce queue task", func() error {
		res, err := s.db.Tx.Exec(
			"UPDATE action_queue SET task_type = ?, payload = ? WHERE id = ? AND status = ?",
			taskType, payload, id, TaskPending)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		coalesced = n > 0
		return err
	}); err != nil {
		return false, err
	}
	return coalesced, nil
}

func (s *Store) DeleteQueueTask(id int64) error {
	return s.db.Run("delete queue task", func() error {
		_, err := s.db.Tx.Exec("DELETE FROM action_queue WHERE id = ?", id)
		return err
	})
}

// GetQueueTasksByStatus returns up to limit tasks in the given status,
// oldest first.
func (s *Store) GetQueueTasksByStatus(status string, limit int) ([]*QueueTask, error) {
	if limit <= 0 {
		limit = 100
	}
	var tasks []*QueueTask
	if err := s.db.RunReadOnly("get queue tasks by status", func() error {
		return s.db.Tx.Select(&tasks, "SELECT * FROM action_queue WHERE status = ? ORDER BY id ASC LIMIT ?", status, limit)
	}); err != nil {
		return nil, err
	}
	return tasks, nil
}

// GetReadyQueueTasks returns up to limit pending tasks whose retry
// time has arrived, oldest first.
func (s *Store) GetReadyQueueTasks(limit int) ([]*QueueTask, error) {
	if limit <= 0 {
		limit = 10
	}
	now := s.clock.CurrentTimeMs()
	var tasks []*QueueTask
	if err := s.db.RunReadOnly("get ready queue tasks", func() error {
		return s.db.Tx.Select(&tasks, "SELECT * FROM action_queue WHERE status = ? AND next_retry_at <= ? ORDER BY id ASC LIMIT ?", TaskPending, now, limit)
	}); err != nil {
		return nil, err
	}
	return tasks, nil
}

// CountQueueTasks returns the total row count across all statuses.
func (s *Store) CountQueueTasks() (int, error) {
	var count int
	if err := s.db.RunReadOnly("count queue tasks", func() error {
		return s.db.Tx.Get(&count, "SELECT count(*) FROM action_queue")
	}); err != nil {
		return 0, err
	}
	return count, nil
}

// ageCutoff clamps now-age to zero. An unclamped underflow produces a
// uint64 with the high bit set, which the sqlite driver rejects as a
// bound value.
func ageCutoff(now, ageMs uint64) uint64 {
	if ageMs > now {
		return 0
	}
	return now - ageMs
}

// PruneCompletedTasks garbage-collects completed tasks whose processed
// time is past the age threshold. Pending, processing and failed tasks
// are never touched here.
func (s *Store) PruneCompletedTasks(olderThanMs uint64) (int64, error) {
	cutoff := ageCutoff(s.clock.CurrentTimeMs(), olderThanMs)
	var pruned int64
	if err := s.db.Run("prune completed tasks", func() error {
		res, err := s.db.Tx.Exec("DELETE FROM action_queue WHERE status = ? AND processed_at > 0 AND processed_at < ?", TaskCompleted, cutoff)
		if err != nil {
			return err
		}
		pruned, err = res.RowsAffected()
		return err
	}); err != nil {
		return 0, err
	}
	return pruned, nil
}

// PruneFailedTasks garbage-collects failed tasks past the age
// threshold. Separate from PruneCompletedTasks so the failed backlog
// stays inspectable longer if configured that way.
func (s *Store) PruneFailedTasks(olderThanMs uint64) (int64, error) {
	cutoff := ageCutoff(s.clock.CurrentTimeMs(), olderThanMs)
	var pruned int64
	if err := s.db.Run("prune failed tasks", func() error {
		res, err := s.db.Tx.Exec("DELETE FROM action_queue WHERE status = ? AND processed_at > 0 AND processed_at < ?", TaskFailed, cutoff)
		if err != nil {
			return err
		}
		pruned, err = res.RowsAffected()
		return err
	}); err != nil {
		return 0, err
	}
	return pruned, nil
}

// ResetStuckProcessingTasks returns crash-abandoned tasks to pending.
// Only processing tasks whose claim is older than the timeout are
// reset, so a genuinely in-flight task is never double-processed. Each
// reset increments the retry count and clears the claim timestamp.
// Runs once at process start.
func (s *Store) ResetStuckProcessingTasks(stuckTimeoutMs uint64) (int64, error) {
	cutoff := ageCutoff(s.clock.CurrentTimeMs(), stuckTimeoutMs)
	var reset int64
	if err := s.db.Run("reset stuck processing tasks", func() error {
		res, err := s.db.Tx.Exec(`
UPDATE action_queue SET
	status = ?,
	retry_count = retry_count + 1,
	processing_started_at = 0
WHERE status = ? AND processing_started_at > 0 AND processing_started_at < ?`,
			TaskPending, TaskProcessing, cutoff)
		if err != nil {
			return err
		}
		reset, err = res.RowsAffected()
		return err
	}); err != nil {
		return 0, err
	}
	return reset, nil
}

// GetQueueStats counts tasks per status. Consumed by UI-adjacent
// observers; gates no queue logic.
func (s *Store) GetQueueStats() (*QueueStats, error) {
	stats := &QueueStats{}
	if err := s.db.RunReadOnly("get queue stats", func() error {
		rows := []struct {
			Status string `db:"status"`
			Count  int    `db:"count"`
		}{}
		if err := s.db.Tx.Select(&rows, "SELECT status, count(*) as count FROM action_queue GROUP BY status"); err != nil {
			return err
		}
		for _, r := range rows {
			switch r.Status {
			case TaskPending:
				stats.Pending = r.Count
			case TaskProcessing:
				stats.Processing = r.Count
			case TaskCompleted:
				stats.Completed = r.Count
			case TaskFailed:
				stats.Failed = r.Count
			}
			stats.Total += r.Count
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return stats, nil
}
