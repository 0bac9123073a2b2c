package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/kilianp07/vda5050/app"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Simulate vehicles speaking the agent side of the protocol",
	Long: `Connects one agent client per simulated vehicle. Each vehicle publishes
ONLINE, its factsheet and a periodic state, and drives the orders it receives.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runService(func(ctx context.Context, svc *app.Service) error {
			return svc.RunAgents(ctx)
		})
	},
}

func init() {
	rootCmd.AddCommand(agentCmd)
}
