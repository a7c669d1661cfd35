package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rosterhq/portal-session/roles"
)

var selectRole string

var rolesCmd = &cobra.Command{
	Use:   "roles",
	Short: "List available roles, optionally switching the active one",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, cleanup, err := buildManager()
		if err != nil {
			return err
		}
		defer cleanup()

		mgr.Start(cmd.Context())

		if !mgr.IsAuthenticated() {
			return fmt.Errorf("not authenticated")
		}

		if selectRole != "" {
			if err := mgr.SelectRole(roles.Role(selectRole)); err != nil {
				return err
			}
		}

		active, _ := mgr.PrimaryRole()
		for _, role := range mgr.AvailableRoles() {
			marker := " "
			if role == active {
				marker = "*"
			}
			fmt.Printf("%s %s\n", marker, role)
		}
		return nil
	},
}

func init() {
	rolesCmd.Flags().StringVar(&selectRole, "select", "", "switch the active role")
	rootCmd.AddCommand(rolesCmd)
}
