package cmd

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/marcus/inv/internal/config"
	"github.com/marcus/inv/internal/db"
)

// AutoSyncEnabled returns true if auto-sync after mutations is enabled.
// Checks INV_AUTO_SYNC env var; defaults to true when authenticated.
func AutoSyncEnabled() bool {
	if v := os.Getenv("INV_AUTO_SYNC"); v != "" {
		return v == "1" || v == "true"
	}
	return true
}

// maybeAutoSync runs a quick sync cycle after a mutating command completes.
// Runs synchronously but with a short timeout. Errors are logged, not surfaced.
func maybeAutoSync() {
	if !AutoSyncEnabled() {
		return
	}
	if !config.IsAuthenticated() {
		return
	}

	database, err := db.Open(getBaseDir())
	if err != nil {
		slog.Debug("autosync: open db", "err", err)
		return
	}
	defer database.Close()

	coord, err := buildCoordinator(database, nil)
	if err != nil {
		slog.Debug("autosync: build coordinator", "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res := coord.SyncNow(ctx)
	if res.Err != nil {
		slog.Debug("autosync", "err", res.Err)
	}
}
