package cmd

import (
	"testing"

	"github.com/marcus/inv/internal/db"
	"github.com/marcus/inv/internal/models"
)

// setupWorkspace points the CLI at a fresh directory with an initialized
// database. HOME is redirected so config writes stay inside the test.
func setupWorkspace(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("INV_AUTO_SYNC", "0")
	baseDir = t.TempDir()

	if err := initCmd.RunE(initCmd, nil); err != nil {
		t.Fatalf("init: %v", err)
	}
}

func TestAddUpdateDeleteWorkflow(t *testing.T) {
	setupWorkspace(t)

	if err := addCmd.RunE(addCmd, []string{"ThinkPad X1"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	database, err := db.Open(baseDir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer database.Close()

	assets, err := database.ListAssets(db.ListAssetsOptions{})
	if err != nil || len(assets) != 1 {
		t.Fatalf("list: %d assets (%v)", len(assets), err)
	}
	id := assets[0].ID

	updateStatus = string(models.StatusInUse)
	updateCmd.Flags().Set("status", updateStatus)
	if err := updateCmd.RunE(updateCmd, []string{id}); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := database.GetAsset(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.StatusInUse {
		t.Errorf("status: got %s, want %s", got.Status, models.StatusInUse)
	}

	if err := deleteCmd.RunE(deleteCmd, []string{id}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err = database.GetAsset(id)
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if got.DeletedAt == nil {
		t.Error("asset should be soft-deleted")
	}

	// Every mutation queued an outbox entry while offline.
	pending, err := database.CountPendingOutbox()
	if err != nil {
		t.Fatalf("count pending: %v", err)
	}
	if pending != 3 {
		t.Errorf("pending entries: got %d, want 3", pending)
	}
}

func TestInitIsIdempotent(t *testing.T) {
	setupWorkspace(t)

	// Second init warns but does not fail or wipe the database.
	if err := initCmd.RunE(initCmd, nil); err != nil {
		t.Fatalf("second init: %v", err)
	}

	database, err := db.Open(baseDir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	database.Close()
}
