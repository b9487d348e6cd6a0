package db

import (
	"testing"

	"github.com/marcus/inv/internal/models"
)

func setupDB(t *testing.T) *DB {
	t.Helper()
	db, err := Initialize(t.TempDir())
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func countOutbox(t *testing.T, db *DB) int {
	t.Helper()
	var n int
	if err := db.Conn().QueryRow(`SELECT COUNT(*) FROM outbox`).Scan(&n); err != nil {
		t.Fatalf("count outbox: %v", err)
	}
	return n
}

func outboxStatus(t *testing.T, db *DB, id int64) models.OutboxStatus {
	t.Helper()
	var s models.OutboxStatus
	if err := db.Conn().QueryRow(`SELECT status FROM outbox WHERE id = ?`, id).Scan(&s); err != nil {
		t.Fatalf("get status: %v", err)
	}
	return s
}

func TestEnqueueRollsBackWithMutation(t *testing.T) {
	db := setupDB(t)

	tx, err := db.Conn().Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := tx.Exec(`INSERT INTO assets (id, name, status, version, created_at, updated_at)
		VALUES ('as-feed1', 'Laptop', 'available', 1, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`); err != nil {
		t.Fatalf("insert asset: %v", err)
	}
	if err := EnqueueOutbox(tx, models.EntityAsset, "as-feed1", models.OpCreate, []byte(`{}`)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	tx.Rollback()

	if n := countOutbox(t, db); n != 0 {
		t.Errorf("outbox entries after rollback: got %d, want 0", n)
	}
	if _, err := db.GetAsset("as-feed1"); err == nil {
		t.Error("asset should not exist after rollback")
	}
}

func TestNextBatchHoldsEntityBehindBackoff(t *testing.T) {
	db := setupDB(t)

	a := &models.Asset{Name: "Laptop"}
	if err := db.CreateAsset(a); err != nil {
		t.Fatalf("create a: %v", err)
	}
	a.Location = "shelf 3"
	if err := db.UpdateAsset(a); err != nil {
		t.Fatalf("update a: %v", err)
	}

	b := &models.Asset{Name: "Monitor"}
	if err := db.CreateAsset(b); err != nil {
		t.Fatalf("create b: %v", err)
	}

	batch, err := db.NextBatch(10)
	if err != nil {
		t.Fatalf("next batch: %v", err)
	}
	if len(batch) != 3 {
		t.Fatalf("batch size: got %d, want 3", len(batch))
	}
	// Enqueue order preserved.
	if batch[0].Op != models.OpCreate || batch[0].EntityID != a.ID {
		t.Errorf("first entry should be create of %s, got %s of %s", a.ID, batch[0].Op, batch[0].EntityID)
	}

	// Fail the head of entity a: its update must be held back too,
	// while b stays eligible.
	if _, err := db.MarkFailed(batch[0].ID, "connection refused"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	batch, err = db.NextBatch(10)
	if err != nil {
		t.Fatalf("next batch: %v", err)
	}
	if len(batch) != 1 {
		t.Fatalf("batch size after backoff: got %d, want 1", len(batch))
	}
	if batch[0].EntityID != b.ID {
		t.Errorf("eligible entry: got %s, want %s", batch[0].EntityID, b.ID)
	}
}

func TestMarkFailedDeadLettersAtCeiling(t *testing.T) {
	db := setupDB(t)

	a := &models.Asset{Name: "Laptop"}
	if err := db.CreateAsset(a); err != nil {
		t.Fatalf("create: %v", err)
	}
	batch, err := db.NextBatch(1)
	if err != nil || len(batch) != 1 {
		t.Fatalf("next batch: %v (%d entries)", err, len(batch))
	}
	id := batch[0].ID

	for i := 1; i <= 5; i++ {
		dead, err := db.MarkFailed(id, "timeout")
		if err != nil {
			t.Fatalf("mark failed %d: %v", i, err)
		}
		if dead {
			t.Fatalf("dead-lettered after %d failures, ceiling is 5", i)
		}
	}

	dead, err := db.MarkFailed(id, "timeout")
	if err != nil {
		t.Fatalf("mark failed 6: %v", err)
	}
	if !dead {
		t.Fatal("entry should be dead-lettered after exceeding the ceiling")
	}
	if s := outboxStatus(t, db, id); s != models.OutboxDead {
		t.Errorf("status: got %s, want %s", s, models.OutboxDead)
	}

	// Dead entries never come back in a batch.
	batch, err = db.NextBatch(10)
	if err != nil {
		t.Fatalf("next batch: %v", err)
	}
	if len(batch) != 0 {
		t.Errorf("dead entry still in batch: %d entries", len(batch))
	}

	deadEntries, err := db.DeadLetteredEntries()
	if err != nil {
		t.Fatalf("dead entries: %v", err)
	}
	if len(deadEntries) != 1 || deadEntries[0].LastError != "timeout" {
		t.Fatalf("dead entries: got %+v", deadEntries)
	}

	// Requeue gives it a fresh retry budget.
	if err := db.RequeueDeadLettered(id); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if s := outboxStatus(t, db, id); s != models.OutboxPending {
		t.Errorf("status after requeue: got %s, want %s", s, models.OutboxPending)
	}
}

func TestMarkInFlightNotDispatchableTwice(t *testing.T) {
	db := setupDB(t)

	a := &models.Asset{Name: "Laptop"}
	if err := db.CreateAsset(a); err != nil {
		t.Fatalf("create: %v", err)
	}
	batch, _ := db.NextBatch(1)
	id := batch[0].ID

	if err := db.MarkInFlight(id); err != nil {
		t.Fatalf("first mark in-flight: %v", err)
	}
	if err := db.MarkInFlight(id); err == nil {
		t.Fatal("second mark in-flight should fail")
	}
}

func TestRevertInFlight(t *testing.T) {
	db := setupDB(t)

	a := &models.Asset{Name: "Laptop"}
	if err := db.CreateAsset(a); err != nil {
		t.Fatalf("create: %v", err)
	}
	batch, _ := db.NextBatch(1)
	if err := db.MarkInFlight(batch[0].ID); err != nil {
		t.Fatalf("mark in-flight: %v", err)
	}

	n, err := db.RevertInFlight()
	if err != nil {
		t.Fatalf("revert: %v", err)
	}
	if n != 1 {
		t.Errorf("reverted: got %d, want 1", n)
	}
	if s := outboxStatus(t, db, batch[0].ID); s != models.OutboxPending {
		t.Errorf("status: got %s, want %s", s, models.OutboxPending)
	}
}

func TestHasPendingEntryCoversInFlight(t *testing.T) {
	db := setupDB(t)

	a := &models.Asset{Name: "Laptop"}
	if err := db.CreateAsset(a); err != nil {
		t.Fatalf("create: %v", err)
	}

	pending, err := db.HasPendingEntry(models.EntityAsset, a.ID)
	if err != nil || !pending {
		t.Fatalf("pending entry expected: %v %v", pending, err)
	}

	batch, _ := db.NextBatch(1)
	db.MarkInFlight(batch[0].ID)

	pending, err = db.HasPendingEntry(models.EntityAsset, a.ID)
	if err != nil || !pending {
		t.Fatalf("in-flight entry should still count as pending: %v %v", pending, err)
	}

	db.MarkSucceeded(batch[0].ID)
	pending, err = db.HasPendingEntry(models.EntityAsset, a.ID)
	if err != nil || pending {
		t.Fatalf("no entries expected after success: %v %v", pending, err)
	}
}

func TestDeadLetterEntryDirect(t *testing.T) {
	db := setupDB(t)

	a := &models.Asset{Name: "Laptop"}
	if err := db.CreateAsset(a); err != nil {
		t.Fatalf("create: %v", err)
	}
	batch, _ := db.NextBatch(1)

	if err := db.DeadLetterEntry(batch[0].ID, "entity deleted on server"); err != nil {
		t.Fatalf("dead-letter: %v", err)
	}
	if s := outboxStatus(t, db, batch[0].ID); s != models.OutboxDead {
		t.Errorf("status: got %s, want %s", s, models.OutboxDead)
	}
}

func TestBackoffDelayCapped(t *testing.T) {
	if d := backoffDelay(1); d != retryBaseDelay {
		t.Errorf("first retry delay: got %s, want %s", d, retryBaseDelay)
	}
	if d1, d2 := backoffDelay(2), backoffDelay(3); d2 <= d1 {
		t.Errorf("delay should grow: %s then %s", d1, d2)
	}
	if d := backoffDelay(50); d != retryMaxDelay {
		t.Errorf("delay should cap at %s, got %s", retryMaxDelay, d)
	}
}
