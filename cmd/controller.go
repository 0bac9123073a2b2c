package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/kilianp07/vda5050/app"
)

var controllerCmd = &cobra.Command{
	Use:   "controller",
	Short: "Observe every agent of the configured interface",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runService(func(ctx context.Context, svc *app.Service) error {
			return svc.RunController(ctx)
		})
	},
}

func init() {
	rootCmd.AddCommand(controllerCmd)
}
