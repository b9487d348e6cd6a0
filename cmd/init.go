package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/marcus/inv/internal/config"
	"github.com/marcus/inv/internal/db"
	"github.com/marcus/inv/internal/output"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:     "init",
	Short:   "Initialize a new inventory",
	Long:    `Creates the local .inv directory and SQLite database.`,
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		baseDir := getBaseDir()

		if _, err := os.Stat(filepath.Join(baseDir, ".inv")); err == nil {
			output.Warning(".inv/ already exists")
			return nil
		}

		database, err := db.Initialize(baseDir)
		if err != nil {
			output.Error("failed to initialize database: %v", err)
			return err
		}
		defer database.Close()

		deviceID, err := config.GetDeviceID()
		if err != nil {
			output.Error("failed to assign device id: %v", err)
			return err
		}
		if err := database.EnsureSyncState(deviceID); err != nil {
			output.Error("failed to initialize sync state: %v", err)
			return err
		}

		fmt.Println("INITIALIZED .inv/")
		fmt.Printf("Device: %s\n", deviceID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
