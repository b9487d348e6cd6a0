package cmd

import (
	"fmt"
	"strconv"

	"github.com/marcus/inv/internal/auth"
	"github.com/marcus/inv/internal/config"
	"github.com/marcus/inv/internal/db"
	"github.com/marcus/inv/internal/output"
	"github.com/marcus/inv/internal/remote"
	invsync "github.com/marcus/inv/internal/sync"
	"github.com/spf13/cobra"
)

var (
	syncPushOnly bool
	syncPullOnly bool
	syncStatus   bool
	syncReset    bool
	syncDead     bool
	syncRequeue  string
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	Short:   "Synchronize with the inventory server",
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		switch {
		case syncStatus:
			return showSyncStatus(database)
		case syncReset:
			if err := database.ResetCursor(); err != nil {
				output.Error("reset cursor: %v", err)
				return err
			}
			output.Success("Sync cursor reset; next sync pulls the full dataset")
			return nil
		case syncDead:
			return showDeadLettered(database)
		case syncRequeue != "":
			id, err := strconv.ParseInt(syncRequeue, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid entry id: %s", syncRequeue)
			}
			if err := database.RequeueDeadLettered(id); err != nil {
				output.Error("%v", err)
				return err
			}
			output.Success("Entry %d requeued", id)
			return nil
		}

		if !config.IsAuthenticated() {
			err := fmt.Errorf("not logged in: run 'inv login' first")
			output.Error("%v", err)
			return err
		}

		coord, err := buildCoordinator(database, func(o *invsync.Options) {
			o.PushOnly = syncPushOnly
			o.PullOnly = syncPullOnly
		})
		if err != nil {
			output.Error("%v", err)
			return err
		}

		res := coord.SyncNow(cmd.Context())
		printCycleResult(res)
		if res.Err != nil {
			return res.Err
		}
		return nil
	},
}

// buildCoordinator wires the remote client, credential guard, and coordinator
// from the stored configuration. mod may tweak the options; nil leaves defaults.
func buildCoordinator(database *db.DB, mod func(*invsync.Options)) (*invsync.Coordinator, error) {
	deviceID, err := config.GetDeviceID()
	if err != nil {
		return nil, fmt.Errorf("get device id: %w", err)
	}
	if err := database.EnsureSyncState(deviceID); err != nil {
		return nil, fmt.Errorf("ensure sync state: %w", err)
	}

	client := remote.New(config.GetServerURL(), deviceID)
	guard, err := auth.NewGuard(auth.FileStore{}, client, func() {
		output.Warning("Session expired; run 'inv login' to sign in again")
	})
	if err != nil {
		return nil, err
	}

	opts := invsync.Options{
		BatchSize:         config.GetSyncBatchSize(),
		OnUpdateOfDeleted: config.GetUpdateOfDeletedPolicy(),
	}
	if mod != nil {
		mod(&opts)
	}
	return invsync.NewCoordinator(database, client, guard, opts), nil
}

func printCycleResult(res invsync.CycleResult) {
	switch {
	case res.Coalesced:
		fmt.Println("Sync already in progress.")
		return
	case res.Offline:
		output.Warning("Server unreachable; changes remain queued locally")
		return
	case res.Unauthenticated:
		output.Warning("Sign-in required; run 'inv login'")
		return
	case res.Err != nil:
		output.Error("sync: %v", res.Err)
		return
	}

	if res.Pushed > 0 {
		fmt.Printf("Pushed %d change(s)\n", res.Pushed)
	}
	if res.Dropped > 0 {
		fmt.Printf("Discarded %d local change(s) superseded by the server\n", res.Dropped)
	}
	if res.PushFailed > 0 {
		output.Warning("%d change(s) failed and will retry", res.PushFailed)
	}
	if res.DeadLettered > 0 {
		output.Warning("%d change(s) dead-lettered; see 'inv sync --dead'", res.DeadLettered)
	}
	if res.Applied > 0 {
		fmt.Printf("Applied %d remote change(s)\n", res.Applied)
	}
	if res.Deferred > 0 {
		fmt.Printf("Deferred %d remote change(s) behind local edits\n", res.Deferred)
	}
	if res.Clean() && res.Pushed == 0 && res.Applied == 0 {
		output.Success("Already up to date")
	} else if res.Clean() {
		output.Success("Sync complete")
	}
}

func showSyncStatus(database *db.DB) error {
	state, err := database.GetSyncState()
	if err != nil {
		return err
	}
	if state == nil {
		fmt.Println("Sync not initialized; run 'inv init'.")
		return nil
	}

	pending, err := database.CountPendingOutbox()
	if err != nil {
		return err
	}
	dead, err := database.DeadLetteredEntries()
	if err != nil {
		return err
	}

	fmt.Printf("Device:  %s\n", state.DeviceID)
	if state.LastSyncAt != nil {
		fmt.Printf("Synced:  %s\n", output.FormatTimeAgo(*state.LastSyncAt))
	} else {
		fmt.Println("Synced:  never")
	}
	if state.SyncCursor == "" {
		fmt.Println("Cursor:  (initial; next sync pulls everything)")
	} else {
		fmt.Printf("Cursor:  %s\n", state.SyncCursor)
	}
	fmt.Printf("Pending: %d\n", pending)
	if len(dead) > 0 {
		output.Warning("Dead-lettered: %d (see 'inv sync --dead')", len(dead))
	}
	if !config.IsAuthenticated() {
		output.Warning("Not logged in; run 'inv login'")
	}
	return nil
}

func showDeadLettered(database *db.DB) error {
	entries, err := database.DeadLetteredEntries()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No dead-lettered entries.")
		return nil
	}

	for _, e := range entries {
		fmt.Printf("#%d  %s %s/%s  (%d attempts)\n", e.ID, e.Op, e.EntityType, e.EntityID, e.RetryCount)
		if e.LastError != "" {
			fmt.Printf("    last error: %s\n", e.LastError)
		}
	}
	fmt.Println("\nRequeue with 'inv sync --requeue <id>'.")
	return nil
}

func init() {
	syncCmd.Flags().BoolVar(&syncPushOnly, "push", false, "Push local changes only")
	syncCmd.Flags().BoolVar(&syncPullOnly, "pull", false, "Pull remote changes only")
	syncCmd.Flags().BoolVar(&syncStatus, "status", false, "Show sync state without syncing")
	syncCmd.Flags().BoolVar(&syncReset, "reset", false, "Reset the sync cursor for a full resync")
	syncCmd.Flags().BoolVar(&syncDead, "dead", false, "List dead-lettered outbox entries")
	syncCmd.Flags().StringVar(&syncRequeue, "requeue", "", "Requeue a dead-lettered entry by id")
	rootCmd.AddCommand(syncCmd)
}
