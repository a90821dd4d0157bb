package cmd

import (
	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run the password expiry sweep once",
	Long: `sweep flags passwords past their maximum age and sends the expiry
warnings due today, then exits after the notification queue drains.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		a.Dispatcher.Start()
		res, err := a.Sweeper.RunOnce(cmd.Context())
		a.Dispatcher.Stop()
		if err != nil {
			return err
		}
		return printJSON(cmd, res)
	},
}
