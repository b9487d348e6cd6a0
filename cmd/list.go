package cmd

import (
	"fmt"

	"github.com/marcus/inv/internal/db"
	"github.com/marcus/inv/internal/models"
	"github.com/marcus/inv/internal/output"
	"github.com/spf13/cobra"
)

var (
	listStatus   []string
	listCategory string
	listAssignee string
	listSearch   string
	listAll      bool
	listLimit    int
	listJSON     bool
)

var listCmd = &cobra.Command{
	Use:     "list",
	Short:   "List assets",
	Aliases: []string{"ls"},
	GroupID: "core",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		opts := db.ListAssetsOptions{
			Category:       listCategory,
			Assignee:       listAssignee,
			Search:         listSearch,
			IncludeDeleted: listAll,
			Limit:          listLimit,
		}
		for _, s := range listStatus {
			status := models.Status(s)
			if !models.ValidStatus(status) {
				err := fmt.Errorf("invalid status: %s", s)
				output.Error("%v", err)
				return err
			}
			opts.Status = append(opts.Status, status)
		}

		assets, err := database.ListAssets(opts)
		if err != nil {
			output.Error("list assets: %v", err)
			return err
		}

		if listJSON {
			if assets == nil {
				assets = []models.Asset{}
			}
			return output.JSON(assets)
		}

		if len(assets) == 0 {
			fmt.Println("No assets found.")
			return nil
		}
		for i := range assets {
			fmt.Println(output.FormatAssetShort(&assets[i]))
		}
		return nil
	},
}

func init() {
	listCmd.Flags().StringSliceVarP(&listStatus, "status", "s", nil, "Filter by status (repeatable)")
	listCmd.Flags().StringVarP(&listCategory, "category", "c", "", "Filter by category")
	listCmd.Flags().StringVarP(&listAssignee, "assignee", "a", "", "Filter by assignee")
	listCmd.Flags().StringVar(&listSearch, "search", "", "Search id, name, and serial")
	listCmd.Flags().BoolVar(&listAll, "all", false, "Include deleted assets")
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 0, "Limit the number of results")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(listCmd)
}
