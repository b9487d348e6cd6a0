package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/marcus/inv/internal/models"
)

const (
	defaultRetryCeiling = 5
	retryBaseDelay      = 30 * time.Second
	retryMaxDelay       = 30 * time.Minute
)

// EnqueueOutbox appends a pending outbox entry inside the caller's transaction.
// It must run in the same transaction as the entity mutation it captures, so
// that a rolled-back mutation never leaves a stray queue entry (and vice versa).
func EnqueueOutbox(tx *sql.Tx, entityType, entityID string, op models.Operation, payload []byte) error {
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	now := time.Now().UTC()
	_, err := tx.Exec(`
		INSERT INTO outbox (entity_type, entity_id, op, payload, created_at, retry_count, status, next_attempt_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)
	`, entityType, entityID, op, string(payload), now, models.OutboxPending, now)
	if err != nil {
		return fmt.Errorf("enqueue outbox %s/%s: %w", entityType, entityID, err)
	}
	return nil
}

// NextBatch returns up to maxItems pending entries eligible for dispatch,
// ordered by id (enqueue order). Per-entity FIFO is preserved: when an
// entity's oldest entry is still backing off, its newer entries are held
// back too, so a Create is never delivered after its own Delete.
func (db *DB) NextBatch(maxItems int) ([]models.OutboxEntry, error) {
	rows, err := db.conn.Query(`
		SELECT id, entity_type, entity_id, op, payload, created_at, retry_count, status, COALESCE(last_error,''), next_attempt_at
		FROM outbox
		WHERE status IN (?, ?)
		ORDER BY id ASC
	`, models.OutboxPending, models.OutboxFailed)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	now := time.Now().UTC()
	blocked := make(map[string]bool)
	var batch []models.OutboxEntry

	for rows.Next() {
		entry, err := scanOutboxEntry(rows)
		if err != nil {
			return nil, err
		}

		key := entry.EntityType + "/" + entry.EntityID
		if blocked[key] {
			continue
		}
		if entry.NextAttemptAt.After(now) {
			// Backing off: hold this entity's later entries as well.
			blocked[key] = true
			continue
		}
		if len(batch) < maxItems {
			batch = append(batch, entry)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return batch, nil
}

func scanOutboxEntry(rows *sql.Rows) (models.OutboxEntry, error) {
	var e models.OutboxEntry
	var payload string
	if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.Op, &payload,
		&e.CreatedAt, &e.RetryCount, &e.Status, &e.LastError, &e.NextAttemptAt); err != nil {
		return e, fmt.Errorf("scan outbox row: %w", err)
	}
	e.Payload = []byte(payload)
	return e, nil
}

// MarkInFlight transitions an entry from pending/failed to in_flight.
// Returns an error if the entry is not in a dispatchable state, which
// prevents double-submission of the same entry.
func (db *DB) MarkInFlight(id int64) error {
	return db.withWriteLock(func() error {
		res, err := db.conn.Exec(`
			UPDATE outbox SET status = ? WHERE id = ? AND status IN (?, ?)
		`, models.OutboxInFlight, id, models.OutboxPending, models.OutboxFailed)
		if err != nil {
			return fmt.Errorf("mark in_flight %d: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("outbox entry %d not dispatchable", id)
		}
		return nil
	})
}

// MarkSucceeded removes an entry after confirmed remote acceptance.
func (db *DB) MarkSucceeded(id int64) error {
	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(`DELETE FROM outbox WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("mark succeeded %d: %w", id, err)
		}
		return nil
	})
}

// MarkFailed records a delivery failure: increments retry_count, schedules the
// next attempt with capped exponential backoff, and dead-letters the entry once
// retry_count exceeds the ceiling. Returns true when the entry was dead-lettered.
func (db *DB) MarkFailed(id int64, reason string) (bool, error) {
	var dead bool
	err := db.withWriteLock(func() error {
		var retryCount int
		err := db.conn.QueryRow(`SELECT retry_count FROM outbox WHERE id = ?`, id).Scan(&retryCount)
		if err == sql.ErrNoRows {
			return fmt.Errorf("outbox entry %d not found", id)
		}
		if err != nil {
			return err
		}

		retryCount++
		if retryCount > db.retryCeiling() {
			dead = true
			_, err = db.conn.Exec(`
				UPDATE outbox SET status = ?, retry_count = ?, last_error = ? WHERE id = ?
			`, models.OutboxDead, retryCount, reason, id)
			if err != nil {
				return fmt.Errorf("dead-letter %d: %w", id, err)
			}
			return nil
		}

		next := time.Now().UTC().Add(backoffDelay(retryCount))
		_, err = db.conn.Exec(`
			UPDATE outbox SET status = ?, retry_count = ?, last_error = ?, next_attempt_at = ? WHERE id = ?
		`, models.OutboxFailed, retryCount, reason, next, id)
		if err != nil {
			return fmt.Errorf("mark failed %d: %w", id, err)
		}
		return nil
	})
	return dead, err
}

// DeadLetterEntry moves an entry straight to the dead-letter state, skipping
// the remaining retry budget. Used for permanent failures where retrying can
// never succeed.
func (db *DB) DeadLetterEntry(id int64, reason string) error {
	return db.withWriteLock(func() error {
		res, err := db.conn.Exec(`
			UPDATE outbox SET status = ?, last_error = ? WHERE id = ?
		`, models.OutboxDead, reason, id)
		if err != nil {
			return fmt.Errorf("dead-letter %d: %w", id, err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return fmt.Errorf("outbox entry %d not found", id)
		}
		return nil
	})
}

// DropEntry removes an entry without remote confirmation (conflict policy:
// the remote side won and the local mutation is being discarded).
func (db *DB) DropEntry(id int64) error {
	return db.MarkSucceeded(id)
}

// RevertInFlight returns all in_flight entries to pending. Called on cycle
// cancellation and on startup, so a crash mid-dispatch never strands an entry.
func (db *DB) RevertInFlight() (int64, error) {
	var reverted int64
	err := db.withWriteLock(func() error {
		res, err := db.conn.Exec(`
			UPDATE outbox SET status = ? WHERE status = ?
		`, models.OutboxPending, models.OutboxInFlight)
		if err != nil {
			return fmt.Errorf("revert in_flight: %w", err)
		}
		reverted, _ = res.RowsAffected()
		return nil
	})
	return reverted, err
}

// HasPendingEntry reports whether the entity has an unacknowledged local
// mutation (pending, backing off, or in flight). The reconciler uses this to
// defer remote overwrites of unsent local edits.
func (db *DB) HasPendingEntry(entityType, entityID string) (bool, error) {
	return hasPendingEntry(db.conn, entityType, entityID)
}

// HasPendingEntryTx is HasPendingEntry within an existing transaction.
func HasPendingEntryTx(tx *sql.Tx, entityType, entityID string) (bool, error) {
	return hasPendingEntry(tx, entityType, entityID)
}

type querier interface {
	QueryRow(query string, args ...any) *sql.Row
}

func hasPendingEntry(q querier, entityType, entityID string) (bool, error) {
	var count int
	err := q.QueryRow(`
		SELECT COUNT(*) FROM outbox
		WHERE entity_type = ? AND entity_id = ? AND status IN (?, ?, ?)
	`, entityType, entityID, models.OutboxPending, models.OutboxFailed, models.OutboxInFlight).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("count pending %s/%s: %w", entityType, entityID, err)
	}
	return count > 0, nil
}

// DeadLetteredEntries returns entries removed from automatic retry, oldest first.
func (db *DB) DeadLetteredEntries() ([]models.OutboxEntry, error) {
	rows, err := db.conn.Query(`
		SELECT id, entity_type, entity_id, op, payload, created_at, retry_count, status, COALESCE(last_error,''), next_attempt_at
		FROM outbox WHERE status = ? ORDER BY id ASC
	`, models.OutboxDead)
	if err != nil {
		return nil, fmt.Errorf("query dead-lettered: %w", err)
	}
	defer rows.Close()

	var entries []models.OutboxEntry
	for rows.Next() {
		e, err := scanOutboxEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RequeueDeadLettered puts a dead-lettered entry back into rotation with a
// fresh retry budget. Operator action, never automatic.
func (db *DB) RequeueDeadLettered(id int64) error {
	return db.withWriteLock(func() error {
		res, err := db.conn.Exec(`
			UPDATE outbox SET status = ?, retry_count = 0, last_error = '', next_attempt_at = ?
			WHERE id = ? AND status = ?
		`, models.OutboxPending, time.Now().UTC(), id, models.OutboxDead)
		if err != nil {
			return fmt.Errorf("requeue %d: %w", id, err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return fmt.Errorf("outbox entry %d is not dead-lettered", id)
		}
		return nil
	})
}

// CountPendingOutbox returns the number of entries still awaiting delivery.
func (db *DB) CountPendingOutbox() (int64, error) {
	var count int64
	err := db.conn.QueryRow(`
		SELECT COUNT(*) FROM outbox WHERE status IN (?, ?, ?)
	`, models.OutboxPending, models.OutboxFailed, models.OutboxInFlight).Scan(&count)
	return count, err
}

func (db *DB) retryCeiling() int {
	if db.RetryCeiling > 0 {
		return db.RetryCeiling
	}
	return defaultRetryCeiling
}

// backoffDelay computes the capped exponential delay before retry n (1-based).
func backoffDelay(retryCount int) time.Duration {
	delay := retryBaseDelay
	for i := 1; i < retryCount; i++ {
		delay *= 2
		if delay >= retryMaxDelay {
			return retryMaxDelay
		}
	}
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}
