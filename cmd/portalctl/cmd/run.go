package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/common-nighthawk/go-figure"
	"github.com/spf13/cobra"

	"github.com/rosterhq/portal-session/session/bus"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Keep the session manager running in the foreground",
	Long: `Starts the session manager and keeps the refresh scheduler and
periodic revalidation alive, printing every authentication state change
until interrupted. Useful for soak-testing a deployment's auth service.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		displayAppname("portalctl")

		mgr, cleanup, err := buildManager()
		if err != nil {
			return err
		}
		defer cleanup()

		unsubscribe := mgr.Subscribe(func(event bus.Event) {
			if event.State == bus.Authenticated {
				fmt.Printf("-> %s (%s) cause=%s\n", event.State, event.Email, event.Cause)
			} else {
				fmt.Printf("-> %s cause=%s\n", event.State, event.Cause)
			}
		})
		defer unsubscribe()

		mgr.Start(cmd.Context())

		waitForStopSignal()
		return nil
	},
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}

func init() {
	rootCmd.AddCommand(runCmd)
}
