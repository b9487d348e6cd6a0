package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/marcus/inv/internal/models"
)

// AddHistory appends a history record to an asset and captures it in the outbox.
func (db *DB) AddHistory(h *models.AssetHistory) error {
	return db.withWriteLock(func() error {
		h.AssetID = NormalizeAssetID(h.AssetID)
		if h.ID == "" {
			h.ID = uuid.NewString()
		}
		if h.OccurredAt.IsZero() {
			h.OccurredAt = time.Now().UTC()
		}

		return db.inTx(func(tx *sql.Tx) error {
			var exists int
			err := tx.QueryRow(`SELECT COUNT(*) FROM assets WHERE id = ? AND deleted_at IS NULL`, h.AssetID).Scan(&exists)
			if err != nil {
				return err
			}
			if exists == 0 {
				return fmt.Errorf("asset not found: %s", h.AssetID)
			}

			_, err = tx.Exec(`
				INSERT INTO asset_history (id, asset_id, event, actor, note, occurred_at)
				VALUES (?, ?, ?, ?, ?, ?)
			`, h.ID, h.AssetID, h.Event, h.Actor, h.Note, h.OccurredAt)
			if err != nil {
				return err
			}
			return enqueueSnapshot(tx, models.EntityHistory, h.ID, models.OpCreate, h)
		})
	})
}

// GetHistory retrieves history records for an asset in chronological order.
func (db *DB) GetHistory(assetID string, limit int) ([]models.AssetHistory, error) {
	assetID = NormalizeAssetID(assetID)
	query := `SELECT id, asset_id, event, actor, note, occurred_at
	          FROM asset_history WHERE asset_id = ? ORDER BY occurred_at`
	args := []interface{}{assetID}

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.AssetHistory
	for rows.Next() {
		var h models.AssetHistory
		if err := rows.Scan(&h.ID, &h.AssetID, &h.Event, &h.Actor, &h.Note, &h.OccurredAt); err != nil {
			return nil, err
		}
		records = append(records, h)
	}
	return records, rows.Err()
}
