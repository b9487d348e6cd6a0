package cmd

import (
	"fmt"

	"github.com/marcus/inv/internal/db"
	"github.com/marcus/inv/internal/output"
	"github.com/spf13/cobra"
)

var showJSON bool

var showCmd = &cobra.Command{
	Use:     "show <id>",
	Short:   "Show an asset and its history",
	Aliases: []string{"s"},
	GroupID: "core",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		asset, err := database.GetAsset(args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}

		if showJSON {
			return output.JSON(asset)
		}

		history, err := database.GetHistory(asset.ID, 0)
		if err != nil {
			output.Error("load history: %v", err)
			return err
		}

		fmt.Print(output.FormatAssetLong(asset, history))
		return nil
	},
}

func init() {
	showCmd.Flags().BoolVar(&showJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(showCmd)
}
