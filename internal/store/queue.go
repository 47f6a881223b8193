package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Queue entry statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// Priority bounds for inference queue entries.
const (
	MinPriority = 1
	MaxPriority = 10
)

// QueueEntry is one unit of deferred re-inference work for a node.
type QueueEntry struct {
	ID         int64
	NodeID     int64
	Priority   int
	BatchID    string
	Status     string
	RetryCount int
	MaxRetries int
	QueuedAt   int64
	UpdatedAt  int64
}

// Enqueue inserts a pending entry for a node, or raises the priority of an
// existing pending/processing entry to max(old, new) and refreshes its
// batch id. There is never more than one live entry per node.
func (db *DB) Enqueue(nodeID int64, priority int, batchID string, maxRetries int) (*QueueEntry, error) {
	if nodeID == 0 {
		return nil, validationf("queue node id is required")
	}
	if priority < MinPriority || priority > MaxPriority {
		return nil, validationf("priority %d out of range [%d,%d]", priority, MinPriority, MaxPriority)
	}
	if batchID == "" {
		return nil, validationf("batch id is required")
	}
	if maxRetries < 0 {
		return nil, validationf("max retries must be non-negative")
	}

	now := time.Now().UnixMilli()
	var entry QueueEntry

	err := db.withTx(func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRow("SELECT COUNT(*) FROM nodes WHERE id = ?", nodeID).Scan(&exists); err != nil {
			return fmt.Errorf("check node: %w", err)
		}
		if exists == 0 {
			return notFoundf("node %d", nodeID)
		}

		err := tx.QueryRow(`
			SELECT id, priority FROM inference_queue
			WHERE node_id = ? AND status IN (?, ?)
		`, nodeID, StatusPending, StatusProcessing).Scan(&entry.ID, &entry.Priority)

		switch {
		case err == sql.ErrNoRows:
			result, err := tx.Exec(`
				INSERT INTO inference_queue (node_id, priority, batch_id, status, retry_count, max_retries, queued_at, updated_at)
				VALUES (?, ?, ?, ?, 0, ?, ?, ?)
			`, nodeID, priority, batchID, StatusPending, maxRetries, now, now)
			if err != nil {
				return fmt.Errorf("enqueue: %w", err)
			}
			id, err := result.LastInsertId()
			if err != nil {
				return fmt.Errorf("enqueue insert id: %w", err)
			}
			entry = QueueEntry{
				ID: id, NodeID: nodeID, Priority: priority, BatchID: batchID,
				Status: StatusPending, MaxRetries: maxRetries, QueuedAt: now, UpdatedAt: now,
			}
			return nil

		case err != nil:
			return fmt.Errorf("check queue entry: %w", err)

		default:
			// Dedup invariant: raise priority, never duplicate.
			newPriority := entry.Priority
			if priority > newPriority {
				newPriority = priority
			}
			if _, err := tx.Exec(`
				UPDATE inference_queue SET priority = ?, batch_id = ?, updated_at = ? WHERE id = ?
			`, newPriority, batchID, now, entry.ID); err != nil {
				return fmt.Errorf("raise queue priority: %w", err)
			}
			entry.NodeID = nodeID
			entry.Priority = newPriority
			entry.BatchID = batchID
			entry.UpdatedAt = now
			return nil
		}
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// DequeueBatch returns up to limit pending entries ordered by
// (priority desc, queued_at asc) and marks them processing.
func (db *DB) DequeueBatch(limit int) ([]QueueEntry, error) {
	if limit <= 0 {
		return nil, validationf("limit must be positive")
	}

	now := time.Now().UnixMilli()
	var entries []QueueEntry

	err := db.withTx(func(tx *sql.Tx) error {
		rows, err := tx.Query(`
			SELECT id, node_id, priority, batch_id, status, retry_count, max_retries, queued_at, updated_at
			FROM inference_queue
			WHERE status = ?
			ORDER BY priority DESC, queued_at ASC, id ASC
			LIMIT ?
		`, StatusPending, limit)
		if err != nil {
			return fmt.Errorf("dequeue query: %w", err)
		}
		defer rows.Close()

		entries, err = scanQueueEntries(rows)
		if err != nil {
			return err
		}

		for i := range entries {
			if _, err := tx.Exec(`
				UPDATE inference_queue SET status = ?, updated_at = ? WHERE id = ?
			`, StatusProcessing, now, entries[i].ID); err != nil {
				return fmt.Errorf("mark processing: %w", err)
			}
			entries[i].Status = StatusProcessing
			entries[i].UpdatedAt = now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// MarkCompleted marks a processing entry as completed.
func (db *DB) MarkCompleted(entryID int64) error {
	return db.setQueueStatus(entryID, StatusCompleted)
}

// MarkFailed records a failed processing attempt. The entry is requeued as
// pending while retry_count < max_retries, then marked failed permanently.
// Returns whether the entry will be retried.
func (db *DB) MarkFailed(entryID int64) (retrying bool, err error) {
	now := time.Now().UnixMilli()
	err = db.withTx(func(tx *sql.Tx) error {
		var retryCount, maxRetries int
		err := tx.QueryRow(`
			SELECT retry_count, max_retries FROM inference_queue WHERE id = ?
		`, entryID).Scan(&retryCount, &maxRetries)
		if err == sql.ErrNoRows {
			return notFoundf("queue entry %d", entryID)
		}
		if err != nil {
			return fmt.Errorf("get queue entry: %w", err)
		}

		retryCount++
		status := StatusFailed
		if retryCount < maxRetries {
			status = StatusPending
			retrying = true
		}

		if _, err := tx.Exec(`
			UPDATE inference_queue SET status = ?, retry_count = ?, updated_at = ? WHERE id = ?
		`, status, retryCount, now, entryID); err != nil {
			return fmt.Errorf("mark failed: %w", err)
		}
		return nil
	})
	return retrying, err
}

// Requeue returns a processing entry to pending without counting a retry.
// Used when a run's budget expires before the entry was attempted.
func (db *DB) Requeue(entryID int64) error {
	return db.setQueueStatus(entryID, StatusPending)
}

// CancelBatch cancels all pending entries of a batch. Processing entries
// finish; cancellation is advisory, not preemptive.
func (db *DB) CancelBatch(batchID string) (int, error) {
	now := time.Now().UnixMilli()
	result, err := db.Exec(`
		UPDATE inference_queue SET status = ?, updated_at = ?
		WHERE batch_id = ? AND status = ?
	`, StatusCancelled, now, batchID, StatusPending)
	if err != nil {
		return 0, fmt.Errorf("cancel batch: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// QueueDepth returns the number of pending entries.
func (db *DB) QueueDepth() (int, error) {
	var depth int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM inference_queue WHERE status = ?
	`, StatusPending).Scan(&depth)
	return depth, err
}

// GetQueueEntry returns a queue entry by id, or ErrNotFound.
func (db *DB) GetQueueEntry(id int64) (*QueueEntry, error) {
	row := db.QueryRow(`
		SELECT id, node_id, priority, batch_id, status, retry_count, max_retries, queued_at, updated_at
		FROM inference_queue WHERE id = ?
	`, id)

	var e QueueEntry
	err := row.Scan(&e.ID, &e.NodeID, &e.Priority, &e.BatchID, &e.Status,
		&e.RetryCount, &e.MaxRetries, &e.QueuedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, notFoundf("queue entry %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get queue entry: %w", err)
	}
	return &e, nil
}

func (db *DB) setQueueStatus(entryID int64, status string) error {
	now := time.Now().UnixMilli()
	result, err := db.Exec(`
		UPDATE inference_queue SET status = ?, updated_at = ? WHERE id = ?
	`, status, now, entryID)
	if err != nil {
		return fmt.Errorf("set queue status: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return notFoundf("queue entry %d", entryID)
	}
	return nil
}

func scanQueueEntries(rows *sql.Rows) ([]QueueEntry, error) {
	var entries []QueueEntry
	for rows.Next() {
		var e QueueEntry
		if err := rows.Scan(&e.ID, &e.NodeID, &e.Priority, &e.BatchID, &e.Status,
			&e.RetryCount, &e.MaxRetries, &e.QueuedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
