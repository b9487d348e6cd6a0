package sync

import (
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/marcus/inv/internal/models"
	"github.com/marcus/inv/internal/remote"
)

func setupReconcileDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	schema := `
	CREATE TABLE assets (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'available',
		location TEXT NOT NULL DEFAULT '',
		assignee TEXT NOT NULL DEFAULT '',
		serial TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		deleted_at TIMESTAMP
	);
	CREATE TABLE asset_history (
		id TEXT PRIMARY KEY,
		asset_id TEXT NOT NULL,
		event TEXT NOT NULL,
		actor TEXT NOT NULL DEFAULT '',
		note TEXT NOT NULL DEFAULT '',
		occurred_at TIMESTAMP NOT NULL
	);
	CREATE TABLE outbox (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		op TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		last_error TEXT,
		next_attempt_at TIMESTAMP
	);`
	if _, err := conn.Exec(schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func assetRecord(t *testing.T, a models.Asset) remote.DeltaRecord {
	t.Helper()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.CreatedAt
	}
	data, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("marshal asset: %v", err)
	}
	return remote.DeltaRecord{
		EntityType: models.EntityAsset,
		EntityID:   a.ID,
		Data:       data,
		Version:    a.Version,
	}
}

func assetName(t *testing.T, conn *sql.DB, id string) (string, bool) {
	t.Helper()
	var name string
	err := conn.QueryRow(`SELECT name FROM assets WHERE id = ?`, id).Scan(&name)
	if err == sql.ErrNoRows {
		return "", false
	}
	if err != nil {
		t.Fatalf("query asset: %v", err)
	}
	return name, true
}

func applyInTx(t *testing.T, conn *sql.DB, records []remote.DeltaRecord) applyResult {
	t.Helper()
	tx, err := conn.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	res, err := applyBatch(tx, records)
	if err != nil {
		tx.Rollback()
		t.Fatalf("apply: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return res
}

func TestApplyBatchUpsertsRemoteState(t *testing.T) {
	conn := setupReconcileDB(t)

	res := applyInTx(t, conn, []remote.DeltaRecord{
		assetRecord(t, models.Asset{ID: "as-1", Name: "Laptop", Status: models.StatusAvailable, Version: 1}),
	})
	if res.applied != 1 || res.dirty() {
		t.Fatalf("result: %+v", res)
	}
	if name, ok := assetName(t, conn, "as-1"); !ok || name != "Laptop" {
		t.Fatalf("asset: %q %v", name, ok)
	}

	// Remote wins: a newer remote version overwrites whatever is local.
	res = applyInTx(t, conn, []remote.DeltaRecord{
		assetRecord(t, models.Asset{ID: "as-1", Name: "Laptop (renamed)", Status: models.StatusInUse, Version: 2}),
	})
	if res.applied != 1 {
		t.Fatalf("result: %+v", res)
	}
	if name, _ := assetName(t, conn, "as-1"); name != "Laptop (renamed)" {
		t.Errorf("name: got %q, want overwritten", name)
	}
}

func TestApplyBatchDeletesTombstones(t *testing.T) {
	conn := setupReconcileDB(t)

	applyInTx(t, conn, []remote.DeltaRecord{
		assetRecord(t, models.Asset{ID: "as-1", Name: "Laptop", Status: models.StatusAvailable, Version: 1}),
	})

	res := applyInTx(t, conn, []remote.DeltaRecord{
		{EntityType: models.EntityAsset, EntityID: "as-1", Deleted: true},
	})
	if res.applied != 1 {
		t.Fatalf("result: %+v", res)
	}
	if _, ok := assetName(t, conn, "as-1"); ok {
		t.Error("tombstoned asset should be removed")
	}

	// Tombstone for an asset we never had is still a clean apply.
	res = applyInTx(t, conn, []remote.DeltaRecord{
		{EntityType: models.EntityAsset, EntityID: "as-unknown", Deleted: true},
	})
	if res.applied != 1 || res.dirty() {
		t.Errorf("unknown tombstone: %+v", res)
	}
}

func TestApplyBatchDefersBehindPendingEdits(t *testing.T) {
	conn := setupReconcileDB(t)

	applyInTx(t, conn, []remote.DeltaRecord{
		assetRecord(t, models.Asset{ID: "as-1", Name: "Local edit", Status: models.StatusAvailable, Version: 1}),
	})

	// Simulate an unsent local mutation for as-1.
	if _, err := conn.Exec(`
		INSERT INTO outbox (entity_type, entity_id, op, payload, created_at, status, next_attempt_at)
		VALUES (?, 'as-1', 'update', '{}', ?, 'pending', ?)
	`, models.EntityAsset, time.Now().UTC(), time.Now().UTC()); err != nil {
		t.Fatalf("insert outbox: %v", err)
	}

	res := applyInTx(t, conn, []remote.DeltaRecord{
		assetRecord(t, models.Asset{ID: "as-1", Name: "Remote edit", Version: 3}),
		assetRecord(t, models.Asset{ID: "as-2", Name: "Other", Version: 1}),
	})

	if res.deferred != 1 || res.applied != 1 {
		t.Fatalf("result: %+v", res)
	}
	if !res.dirty() {
		t.Error("batch with deferrals must be dirty")
	}
	if name, _ := assetName(t, conn, "as-1"); name != "Local edit" {
		t.Errorf("deferred asset overwritten: %q", name)
	}
	if name, ok := assetName(t, conn, "as-2"); !ok || name != "Other" {
		t.Errorf("clean record not applied: %q %v", name, ok)
	}
}

func TestApplyBatchSkipsMalformedRecords(t *testing.T) {
	conn := setupReconcileDB(t)

	res := applyInTx(t, conn, []remote.DeltaRecord{
		{EntityType: models.EntityAsset, EntityID: "as-bad", Data: json.RawMessage(`{not json`)},
		assetRecord(t, models.Asset{ID: "as-ok", Name: "Fine", Version: 1}),
		{EntityType: "mystery", EntityID: "m-1", Data: json.RawMessage(`{}`)},
	})

	if res.failed != 2 || res.applied != 1 {
		t.Fatalf("result: %+v", res)
	}
	if !res.dirty() {
		t.Error("batch with failures must be dirty")
	}
	if _, ok := assetName(t, conn, "as-ok"); !ok {
		t.Error("valid record should still apply")
	}
}

func TestApplyBatchHistoryAppendOnly(t *testing.T) {
	conn := setupReconcileDB(t)

	h := models.AssetHistory{ID: "h-1", AssetID: "as-1", Event: models.EventCheckout, Actor: "ana", OccurredAt: time.Now().UTC()}
	data, _ := json.Marshal(h)
	rec := remote.DeltaRecord{EntityType: models.EntityHistory, EntityID: h.ID, Data: data}

	res := applyInTx(t, conn, []remote.DeltaRecord{rec})
	if res.applied != 1 {
		t.Fatalf("result: %+v", res)
	}

	// Re-delivery of the same record is a no-op, not a duplicate.
	res = applyInTx(t, conn, []remote.DeltaRecord{rec})
	if res.applied != 1 || res.dirty() {
		t.Fatalf("re-apply: %+v", res)
	}
	var n int
	conn.QueryRow(`SELECT COUNT(*) FROM asset_history WHERE id = 'h-1'`).Scan(&n)
	if n != 1 {
		t.Errorf("history rows: got %d, want 1", n)
	}
}
