package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Conflict retry ceiling and initial backoff for busy/locked transactions.
// Validation and not-found errors are never retried.
const (
	maxTxAttempts  = 4
	initialBackoff = 25 * time.Millisecond
)

// withTx runs fn inside a transaction sized to a single logical change.
// SQLite busy/locked errors are retried with exponential backoff up to
// maxTxAttempts, then surfaced as ErrConflict.
func (db *DB) withTx(fn func(tx *sql.Tx) error) error {
	backoff := initialBackoff
	var lastErr error

	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err := db.runTx(fn)
		if err == nil {
			return nil
		}
		if !isBusy(err) {
			return err
		}
		lastErr = err
		if attempt < maxTxAttempts {
			time.Sleep(backoff)
			backoff *= 2
		}
	}

	return fmt.Errorf("%w: %v", ErrConflict, lastErr)
}

func (db *DB) runTx(fn func(tx *sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// isBusy reports whether err is a SQLite busy/locked conflict.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED")
}

// orderedPair returns the two ids in ascending order. Multi-entity
// operations acquire rows in this order to avoid deadlock cycles.
func orderedPair(a, b int64) (int64, int64) {
	if a <= b {
		return a, b
	}
	return b, a
}
