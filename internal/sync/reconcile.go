package sync

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/marcus/inv/internal/db"
	"github.com/marcus/inv/internal/models"
	"github.com/marcus/inv/internal/remote"
)

// applyResult is the outcome of applying one delta batch.
type applyResult struct {
	applied  int
	deferred int
	failed   int
}

// dirty reports whether the batch left anything unapplied. A dirty batch must
// not advance the sync cursor, so the skipped records come back next pull.
func (r applyResult) dirty() bool {
	return r.deferred > 0 || r.failed > 0
}

// applyBatch applies remote delta records inside the caller's transaction.
// Remote state wins, with one exception: a record whose entity still has an
// unsent local mutation is deferred, so the local edit gets its chance to
// push before being overwritten. Individual record failures are logged and
// skipped rather than aborting the batch.
func applyBatch(tx *sql.Tx, records []remote.DeltaRecord) (applyResult, error) {
	var res applyResult
	for _, rec := range records {
		pending, err := db.HasPendingEntryTx(tx, rec.EntityType, rec.EntityID)
		if err != nil {
			return res, err
		}
		if pending {
			slog.Debug("deferring remote record behind local edit",
				"entity_type", rec.EntityType, "entity_id", rec.EntityID)
			res.deferred++
			continue
		}

		if err := applyRecord(tx, rec); err != nil {
			slog.Warn("failed to apply remote record",
				"entity_type", rec.EntityType, "entity_id", rec.EntityID, "err", err)
			res.failed++
			continue
		}
		res.applied++
	}
	return res, nil
}

func applyRecord(tx *sql.Tx, rec remote.DeltaRecord) error {
	switch rec.EntityType {
	case models.EntityAsset:
		if rec.Deleted {
			_, err := tx.Exec(`DELETE FROM assets WHERE id = ?`, rec.EntityID)
			return err
		}
		return upsertAsset(tx, rec.Data)
	case models.EntityHistory:
		if rec.Deleted {
			_, err := tx.Exec(`DELETE FROM asset_history WHERE id = ?`, rec.EntityID)
			return err
		}
		return upsertHistory(tx, rec.Data)
	default:
		return fmt.Errorf("unknown entity type: %s", rec.EntityType)
	}
}

// upsertAsset overwrites the local asset row with the remote record.
func upsertAsset(tx *sql.Tx, data json.RawMessage) error {
	var a models.Asset
	if err := json.Unmarshal(data, &a); err != nil {
		return fmt.Errorf("decode asset: %w", err)
	}
	if a.ID == "" {
		return fmt.Errorf("asset record missing id")
	}

	_, err := tx.Exec(`
		INSERT INTO assets (id, name, description, category, status, location, assignee, serial, version, created_at, updated_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, description = excluded.description,
			category = excluded.category, status = excluded.status,
			location = excluded.location, assignee = excluded.assignee,
			serial = excluded.serial, version = excluded.version,
			created_at = excluded.created_at, updated_at = excluded.updated_at,
			deleted_at = excluded.deleted_at
	`, a.ID, a.Name, a.Description, a.Category, a.Status,
		a.Location, a.Assignee, a.Serial, a.Version,
		a.CreatedAt, a.UpdatedAt, a.DeletedAt)
	return err
}

// upsertHistory inserts a remote history record. History is append-only, so a
// record already present is left alone.
func upsertHistory(tx *sql.Tx, data json.RawMessage) error {
	var h models.AssetHistory
	if err := json.Unmarshal(data, &h); err != nil {
		return fmt.Errorf("decode history: %w", err)
	}
	if h.ID == "" {
		return fmt.Errorf("history record missing id")
	}

	_, err := tx.Exec(`
		INSERT OR IGNORE INTO asset_history (id, asset_id, event, actor, note, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, h.ID, h.AssetID, h.Event, h.Actor, h.Note, h.OccurredAt)
	return err
}
