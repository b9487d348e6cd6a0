package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/marcus/inv/internal/models"
)

// CreateAsset creates a new asset and captures the mutation in the outbox.
// Both writes happen in one transaction: killing the process mid-write leaves
// either both the asset and its outbox entry, or neither.
func (db *DB) CreateAsset(asset *models.Asset) error {
	return db.withWriteLock(func() error {
		id, err := generateID()
		if err != nil {
			return err
		}
		asset.ID = id

		if asset.Status == "" {
			asset.Status = models.StatusAvailable
		}
		if !models.ValidStatus(asset.Status) {
			return fmt.Errorf("invalid status: %s", asset.Status)
		}

		now := time.Now().UTC()
		asset.CreatedAt = now
		asset.UpdatedAt = now
		asset.Version = 1

		return db.inTx(func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				INSERT INTO assets (id, name, description, category, status, location, assignee, serial, version, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, asset.ID, asset.Name, asset.Description, asset.Category, asset.Status,
				asset.Location, asset.Assignee, asset.Serial, asset.Version, asset.CreatedAt, asset.UpdatedAt)
			if err != nil {
				return err
			}
			return enqueueSnapshot(tx, models.EntityAsset, asset.ID, models.OpCreate, asset)
		})
	})
}

// UpdateAsset updates an asset and captures the mutation in the outbox.
func (db *DB) UpdateAsset(asset *models.Asset) error {
	return db.withWriteLock(func() error {
		if !models.ValidStatus(asset.Status) {
			return fmt.Errorf("invalid status: %s", asset.Status)
		}
		asset.UpdatedAt = time.Now().UTC()

		return db.inTx(func(tx *sql.Tx) error {
			res, err := tx.Exec(`
				UPDATE assets SET name = ?, description = ?, category = ?, status = ?,
				                  location = ?, assignee = ?, serial = ?, updated_at = ?, deleted_at = ?
				WHERE id = ?
			`, asset.Name, asset.Description, asset.Category, asset.Status,
				asset.Location, asset.Assignee, asset.Serial, asset.UpdatedAt, asset.DeletedAt, asset.ID)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			if n == 0 {
				return fmt.Errorf("asset not found: %s", asset.ID)
			}
			return enqueueSnapshot(tx, models.EntityAsset, asset.ID, models.OpUpdate, asset)
		})
	})
}

// DeleteAsset soft-deletes an asset and captures a delete operation.
func (db *DB) DeleteAsset(id string) error {
	id = NormalizeAssetID(id)
	return db.withWriteLock(func() error {
		now := time.Now().UTC()
		return db.inTx(func(tx *sql.Tx) error {
			res, err := tx.Exec(`UPDATE assets SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`, now, now, id)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			if n == 0 {
				return fmt.Errorf("asset not found: %s", id)
			}
			return EnqueueOutbox(tx, models.EntityAsset, id, models.OpDelete, nil)
		})
	})
}

// RemoveAssetLocal hard-deletes a local asset row without capturing an outbox
// entry. Used when the remote authority reports the asset gone and the local
// copy is being discarded.
func (db *DB) RemoveAssetLocal(id string) error {
	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(`DELETE FROM assets WHERE id = ?`, NormalizeAssetID(id))
		return err
	})
}

// GetAsset retrieves an asset by ID.
// Accepts bare IDs without the as- prefix (e.g., "abc123" becomes "as-abc123").
func (db *DB) GetAsset(id string) (*models.Asset, error) {
	id = NormalizeAssetID(id)
	var asset models.Asset
	var deletedAt sql.NullTime

	err := db.conn.QueryRow(`
		SELECT id, name, description, category, status, location, assignee, serial, version, created_at, updated_at, deleted_at
		FROM assets WHERE id = ?
	`, id).Scan(
		&asset.ID, &asset.Name, &asset.Description, &asset.Category, &asset.Status,
		&asset.Location, &asset.Assignee, &asset.Serial, &asset.Version,
		&asset.CreatedAt, &asset.UpdatedAt, &deletedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("asset not found: %s", id)
	}
	if err != nil {
		return nil, err
	}

	if deletedAt.Valid {
		asset.DeletedAt = &deletedAt.Time
	}
	return &asset, nil
}

// ListAssetsOptions contains filter options for listing assets
type ListAssetsOptions struct {
	Status         []models.Status
	Category       string
	Assignee       string
	Search         string
	IncludeDeleted bool
	Limit          int
}

// ListAssets returns assets matching the filter, newest first.
func (db *DB) ListAssets(opts ListAssetsOptions) ([]models.Asset, error) {
	query := `SELECT id, name, description, category, status, location, assignee, serial, version, created_at, updated_at, deleted_at
	          FROM assets WHERE 1=1`
	var args []interface{}

	if !opts.IncludeDeleted {
		query += " AND deleted_at IS NULL"
	}

	if len(opts.Status) > 0 {
		placeholders := make([]string, len(opts.Status))
		for i, s := range opts.Status {
			placeholders[i] = "?"
			args = append(args, s)
		}
		query += fmt.Sprintf(" AND status IN (%s)", strings.Join(placeholders, ","))
	}

	if opts.Category != "" {
		query += " AND category = ?"
		args = append(args, opts.Category)
	}

	if opts.Assignee != "" {
		query += " AND assignee = ?"
		args = append(args, opts.Assignee)
	}

	if opts.Search != "" {
		query += " AND (id LIKE ? OR name LIKE ? OR serial LIKE ?)"
		pattern := "%" + opts.Search + "%"
		args = append(args, pattern, pattern, pattern)
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []models.Asset
	for rows.Next() {
		var asset models.Asset
		var deletedAt sql.NullTime
		if err := rows.Scan(
			&asset.ID, &asset.Name, &asset.Description, &asset.Category, &asset.Status,
			&asset.Location, &asset.Assignee, &asset.Serial, &asset.Version,
			&asset.CreatedAt, &asset.UpdatedAt, &deletedAt,
		); err != nil {
			return nil, err
		}
		if deletedAt.Valid {
			asset.DeletedAt = &deletedAt.Time
		}
		assets = append(assets, asset)
	}

	return assets, rows.Err()
}

// inTx runs fn inside a transaction, rolling back on error.
func (db *DB) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// enqueueSnapshot serializes the entity and appends it to the outbox.
// The payload is a snapshot at capture time, immutable after this point.
func enqueueSnapshot(tx *sql.Tx, entityType, entityID string, op models.Operation, entity any) error {
	payload, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("marshal snapshot %s/%s: %w", entityType, entityID, err)
	}
	return EnqueueOutbox(tx, entityType, entityID, op, payload)
}
