package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gatehouse-proxy/gatehouse/src/config"
	"github.com/gatehouse-proxy/gatehouse/src/di"
)

const defaultConfigPath = "gatehouse.toml"

var rootCmd = &cobra.Command{
	Use:          "gatehouse [config-file]",
	Short:        "Guarding reverse proxy for a single upstream origin",
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := defaultConfigPath
		if len(args) == 1 {
			path = args[0]
		}

		cfg, err := config.Load(path)
		if err != nil {
			return err
		}

		app := &di.App{Config: cfg}
		defer app.Close()

		ctx, stop := signal.NotifyContext(
			context.Background(),
			os.Interrupt,
			syscall.SIGTERM,
		)
		defer stop()

		return app.Server().Run(ctx)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
