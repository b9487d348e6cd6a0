package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/marcus/inv/internal/config"
	"github.com/marcus/inv/internal/output"
	"github.com/marcus/inv/internal/remote"
	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:     "login",
	Short:   "Log in to the inventory server",
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		serverURL := config.GetServerURL()
		deviceID, err := config.GetDeviceID()
		if err != nil {
			return fmt.Errorf("get device id: %w", err)
		}
		client := remote.New(serverURL, deviceID)

		reader := bufio.NewReader(os.Stdin)

		fmt.Print("Email: ")
		email, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read email: %w", err)
		}
		email = strings.TrimSpace(email)
		if email == "" {
			return fmt.Errorf("email required")
		}

		fmt.Print("Password: ")
		password, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimSpace(password)
		if password == "" {
			return fmt.Errorf("password required")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		pair, err := client.Login(ctx, email, password)
		if err != nil {
			output.Error("login: %v", err)
			return err
		}

		creds := &config.AuthCredentials{
			AccessToken:     pair.AccessToken,
			AccessExpiresAt: pair.ExpiresAt,
			RefreshToken:    pair.RefreshToken,
			Email:           email,
			ServerURL:       serverURL,
		}
		if err := config.SaveAuth(creds); err != nil {
			output.Error("save credentials: %v", err)
			return err
		}

		output.Success("Logged in as %s", email)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:     "logout",
	Short:   "Log out from the inventory server",
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := config.LoadAuth()
		if err != nil {
			output.Error("load auth: %v", err)
			return err
		}
		if creds == nil {
			fmt.Println("Not logged in.")
			return nil
		}

		// Best-effort server-side revocation; local logout proceeds regardless.
		deviceID, derr := config.GetDeviceID()
		if derr == nil {
			client := remote.New(config.GetServerURL(), deviceID)
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			if err := client.Logout(ctx, creds.AccessToken); err != nil {
				output.Warning("server-side logout failed: %v", err)
			}
		}

		if err := config.ClearAuth(); err != nil {
			output.Error("logout: %v", err)
			return err
		}
		fmt.Println("Logged out.")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:     "whoami",
	Short:   "Show authentication status",
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := config.LoadAuth()
		if err != nil {
			output.Error("load auth: %v", err)
			return err
		}

		if creds == nil || creds.RefreshToken == "" {
			fmt.Println("Not logged in.")
			return nil
		}

		fmt.Printf("Email:  %s\n", creds.Email)
		fmt.Printf("Server: %s\n", creds.ServerURL)
		if expiry, err := time.Parse(time.RFC3339, creds.AccessExpiresAt); err == nil {
			if time.Now().After(expiry) {
				fmt.Println("Token:  expired (will refresh on next sync)")
			} else {
				fmt.Printf("Token:  valid until %s\n", expiry.Local().Format("2006-01-02 15:04"))
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
}
