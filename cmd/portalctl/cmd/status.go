package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current session state",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, cleanup, err := buildManager()
		if err != nil {
			return err
		}
		defer cleanup()

		mgr.Start(cmd.Context())

		if !mgr.IsAuthenticated() {
			fmt.Println("Not authenticated")
			return nil
		}

		user, _ := mgr.CurrentUser()
		fmt.Printf("Authenticated as %s\n", user.Email)
		if user.ExpiresAt > 0 {
			fmt.Printf("Token expires:  %s\n", time.Unix(user.ExpiresAt, 0).Format(time.RFC1123))
		}
		if role, ok := mgr.PrimaryRole(); ok {
			fmt.Printf("Active role:    %s\n", role)
		}
		return nil
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh the session tokens now",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, cleanup, err := buildManager()
		if err != nil {
			return err
		}
		defer cleanup()

		mgr.Start(cmd.Context())

		if err := mgr.ManualRefresh(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("Session refreshed")
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the session locally and on the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, cleanup, err := buildManager()
		if err != nil {
			return err
		}
		defer cleanup()

		mgr.Logout(cmd.Context())
		fmt.Println("Logged out")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(logoutCmd)
}
