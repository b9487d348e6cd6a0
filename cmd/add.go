package cmd

import (
	"fmt"

	"github.com/marcus/inv/internal/db"
	"github.com/marcus/inv/internal/models"
	"github.com/marcus/inv/internal/output"
	"github.com/spf13/cobra"
)

var (
	addDescription string
	addCategory    string
	addStatus      string
	addLocation    string
	addAssignee    string
	addSerial      string
)

var addCmd = &cobra.Command{
	Use:     "add <name>",
	Short:   "Add a new asset",
	Aliases: []string{"a"},
	GroupID: "core",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		asset := &models.Asset{
			Name:        args[0],
			Description: addDescription,
			Category:    addCategory,
			Status:      models.Status(addStatus),
			Location:    addLocation,
			Assignee:    addAssignee,
			Serial:      addSerial,
		}

		if err := database.CreateAsset(asset); err != nil {
			output.Error("create asset: %v", err)
			return err
		}

		fmt.Println(output.FormatAssetShort(asset))
		maybeAutoSync()
		return nil
	},
}

func init() {
	addCmd.Flags().StringVarP(&addDescription, "desc", "d", "", "Description")
	addCmd.Flags().StringVarP(&addCategory, "category", "c", "", "Category (laptop, monitor, ...)")
	addCmd.Flags().StringVarP(&addStatus, "status", "s", "", "Status (available, in_use, maintenance, retired)")
	addCmd.Flags().StringVarP(&addLocation, "location", "l", "", "Physical location")
	addCmd.Flags().StringVarP(&addAssignee, "assignee", "a", "", "Person the asset is assigned to")
	addCmd.Flags().StringVar(&addSerial, "serial", "", "Serial number")
	rootCmd.AddCommand(addCmd)
}
