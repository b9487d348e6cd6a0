package cmd

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/marcus/inv/internal/config"
	"github.com/marcus/inv/internal/db"
	"github.com/marcus/inv/internal/output"
	invsync "github.com/marcus/inv/internal/sync"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Short:   "Sync continuously in the foreground",
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !config.IsAuthenticated() {
			err := fmt.Errorf("not logged in: run 'inv login' first")
			output.Error("%v", err)
			return err
		}

		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		coord, err := buildCoordinator(database, func(o *invsync.Options) {
			o.OnResult = printCycleResult
		})
		if err != nil {
			output.Error("%v", err)
			return err
		}

		interval := config.GetSyncInterval()
		fmt.Printf("Syncing every %s. Ctrl-C to stop.\n", interval)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// Probe more often than the sync interval so queued changes drain
		// shortly after the network comes back.
		probe := 30 * time.Second
		if interval < probe {
			probe = interval
		}
		go coord.WatchConnectivity(ctx, probe)

		coord.Run(ctx, interval)
		fmt.Println("\nStopped.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
