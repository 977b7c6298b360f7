package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/michaelayoade/fieldsync/internal/output"
	"github.com/michaelayoade/fieldsync/internal/syncconfig"
)

var authCmd = &cobra.Command{
	Use:     "auth",
	Short:   "Manage server credentials",
	GroupID: "system",
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store the API key and server URL",
	RunE: func(cmd *cobra.Command, args []string) error {
		apiKey, _ := cmd.Flags().GetString("api-key")
		if apiKey == "" {
			err := fmt.Errorf("--api-key is required")
			output.Error("%v", err)
			return err
		}
		serverURL, _ := cmd.Flags().GetString("server")

		creds, err := syncconfig.LoadAuth()
		if err != nil {
			creds = &syncconfig.AuthCredentials{}
		}
		creds.APIKey = apiKey
		if serverURL != "" {
			creds.ServerURL = serverURL
		}

		if err := syncconfig.SaveAuth(creds); err != nil {
			output.Error("save credentials: %v", err)
			return err
		}

		output.Success("Logged in (server %s)", syncconfig.GetServerURL())
		return nil
	},
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Clear the stored API key",
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := syncconfig.LoadAuth()
		if err != nil {
			output.Info("Not logged in")
			return nil
		}
		creds.APIKey = ""
		if err := syncconfig.SaveAuth(creds); err != nil {
			output.Error("save credentials: %v", err)
			return err
		}
		output.Success("Logged out")
		return nil
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show authentication state",
	RunE: func(cmd *cobra.Command, args []string) error {
		deviceID, _ := syncconfig.GetDeviceID()
		fmt.Printf("Server: %s\n", syncconfig.GetServerURL())
		fmt.Printf("Device: %s\n", deviceID)
		if syncconfig.GetAPIKey() == "" {
			output.Warning("no API key stored (run: fieldsync auth login)")
		} else {
			output.Success("API key stored")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authStatusCmd)

	authLoginCmd.Flags().String("api-key", "", "API key for the sync server")
	authLoginCmd.Flags().String("server", "", "Server base URL")
}
