package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/marcus/inv/internal/models"
)

// EnsureSyncState creates the sync state row on first run. An existing row is
// left untouched.
func (db *DB) EnsureSyncState(deviceID string) error {
	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(`
			INSERT OR IGNORE INTO sync_state (device_id, sync_cursor) VALUES (?, '')
		`, deviceID)
		return err
	})
}

// GetSyncState returns the current sync state, or nil if the device has never
// been initialized for sync.
func (db *DB) GetSyncState() (*models.SyncState, error) {
	var s models.SyncState
	var lastSync sql.NullTime

	err := db.conn.QueryRow(`
		SELECT device_id, sync_cursor, last_sync_at FROM sync_state LIMIT 1
	`).Scan(&s.DeviceID, &s.SyncCursor, &lastSync)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if lastSync.Valid {
		s.LastSyncAt = &lastSync.Time
	}
	return &s, nil
}

// AdvanceCursorTx advances the sync cursor and last-sync time inside the
// caller's transaction, so a partially applied pull batch never moves the
// cursor. The cursor only moves forward; an empty new cursor is a bug.
func AdvanceCursorTx(tx *sql.Tx, cursor string) error {
	if cursor == "" {
		return fmt.Errorf("refusing to advance to empty cursor")
	}
	_, err := tx.Exec(`UPDATE sync_state SET sync_cursor = ?, last_sync_at = ?`, cursor, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	return nil
}

// TouchLastSync records that a cycle completed, without moving the cursor.
func (db *DB) TouchLastSync() error {
	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(`UPDATE sync_state SET last_sync_at = ?`, time.Now().UTC())
		return err
	})
}

// ResetCursor rewinds the sync cursor to the beginning. Explicit operator
// action for a full resync; never called by the engine itself.
func (db *DB) ResetCursor() error {
	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(`UPDATE sync_state SET sync_cursor = ''`)
		return err
	})
}
