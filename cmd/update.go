package cmd

import (
	"fmt"

	"github.com/marcus/inv/internal/db"
	"github.com/marcus/inv/internal/models"
	"github.com/marcus/inv/internal/output"
	"github.com/spf13/cobra"
)

var (
	updateName        string
	updateDescription string
	updateCategory    string
	updateStatus      string
	updateLocation    string
	updateAssignee    string
	updateSerial      string
)

var updateCmd = &cobra.Command{
	Use:     "update <id>",
	Short:   "Update an asset",
	Aliases: []string{"u"},
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
		if asset.DeletedAt != nil {
			err := fmt.Errorf("asset is deleted: %s", asset.ID)
			output.Error("%v", err)
			return err
		}

		// Only fields whose flags were set change.
		if cmd.Flags().Changed("name") {
			asset.Name = updateName
		}
		if cmd.Flags().Changed("desc") {
			asset.Description = updateDescription
		}
		if cmd.Flags().Changed("category") {
			asset.Category = updateCategory
		}
		if cmd.Flags().Changed("status") {
			asset.Status = models.Status(updateStatus)
		}
		if cmd.Flags().Changed("location") {
			asset.Location = updateLocation
		}
		if cmd.Flags().Changed("assignee") {
			asset.Assignee = updateAssignee
		}
		if cmd.Flags().Changed("serial") {
			asset.Serial = updateSerial
		}

		if err := database.UpdateAsset(asset); err != nil {
			output.Error("update asset: %v", err)
			return err
		}

		fmt.Println(output.FormatAssetShort(asset))
		maybeAutoSync()
		return nil
	},
}

func init() {
	updateCmd.Flags().StringVarP(&updateName, "name", "n", "", "Name")
	updateCmd.Flags().StringVarP(&updateDescription, "desc", "d", "", "Description")
	updateCmd.Flags().StringVarP(&updateCategory, "category", "c", "", "Category")
	updateCmd.Flags().StringVarP(&updateStatus, "status", "s", "", "Status (available, in_use, maintenance, retired)")
	updateCmd.Flags().StringVarP(&updateLocation, "location", "l", "", "Physical location")
	updateCmd.Flags().StringVarP(&updateAssignee, "assignee", "a", "", "Person the asset is assigned to")
	updateCmd.Flags().StringVar(&updateSerial, "serial", "", "Serial number")
	rootCmd.AddCommand(updateCmd)
}
