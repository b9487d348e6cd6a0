package cmd

import (
	"github.com/marcus/inv/internal/db"
	"github.com/marcus/inv/internal/output"
	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:     "delete <id>",
	Short:   "Delete an asset",
	Aliases: []string{"rm"},
	GroupID: "core",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		id := db.NormalizeAssetID(args[0])
		if err := database.DeleteAsset(id); err != nil {
			output.Error("delete asset: %v", err)
			return err
		}

		output.Success("Deleted %s", id)
		maybeAutoSync()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}
