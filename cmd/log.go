package cmd

import (
	"fmt"

	"github.com/marcus/inv/internal/db"
	"github.com/marcus/inv/internal/models"
	"github.com/marcus/inv/internal/output"
	"github.com/spf13/cobra"
)

var (
	logEvent string
	logActor string
)

var logCmd = &cobra.Command{
	Use:     "log <id> [note]",
	Short:   "Record a history event on an asset",
	GroupID: "core",
	Args:    cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		event := models.HistoryEvent(logEvent)
		switch event {
		case models.EventCheckout, models.EventCheckin, models.EventMaintenance, models.EventNote:
		default:
			err := fmt.Errorf("invalid event: %s (checkout, checkin, maintenance, note)", logEvent)
			output.Error("%v", err)
			return err
		}

		h := &models.AssetHistory{
			AssetID: args[0],
			Event:   event,
			Actor:   logActor,
		}
		if len(args) > 1 {
			h.Note = args[1]
		}

		if err := database.AddHistory(h); err != nil {
			output.Error("add history: %v", err)
			return err
		}

		output.Success("Logged %s on %s", h.Event, h.AssetID)
		maybeAutoSync()
		return nil
	},
}

func init() {
	logCmd.Flags().StringVarP(&logEvent, "event", "e", "note", "Event type (checkout, checkin, maintenance, note)")
	logCmd.Flags().StringVarP(&logActor, "actor", "a", "", "Person performing the event")
	rootCmd.AddCommand(logCmd)
}
