package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilianp07/vda5050/app"
	"github.com/kilianp07/vda5050/config"
	"github.com/kilianp07/vda5050/infra/logger"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:          "vda5050",
	Short:        "VDA5050 agent simulator and fleet observer",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "configuration file, empty for environment only")
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

// runService loads the configuration, builds the service and runs fn until
// SIGINT or SIGTERM.
func runService(fn func(context.Context, *app.Service) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	svc, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.New("main").Errorf("service close: %v", err)
		}
	}()
	return fn(ctx, svc)
}
