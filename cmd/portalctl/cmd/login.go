package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login <email>",
	Short: "Request a magic login link for an email address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, cleanup, err := buildManager()
		if err != nil {
			return err
		}
		defer cleanup()

		if err := mgr.Login(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Magic link requested for %s. Check your inbox, then run:\n", args[0])
		fmt.Printf("  portalctl verify <token> %s\n", args[0])
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify <token> <email>",
	Short: "Exchange a magic-link token for a session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, cleanup, err := buildManager()
		if err != nil {
			return err
		}
		defer cleanup()

		if err := mgr.Verify(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}

		fmt.Printf("Logged in as %s\n", args[1])
		if role, ok := mgr.PrimaryRole(); ok {
			fmt.Printf("Active role: %s\n", role)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(verifyCmd)
}
