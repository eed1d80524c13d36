package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/x-08/agentcloud/app"
	"github.com/x-08/agentcloud/config"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:           "vector-db-proxy",
		Short:         "Stream ingestion proxy in front of the vector database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); environment variables override it")

	root.AddCommand(newServeCmd(&cfgFile), newVersionCmd())
	return root
}

func newServeCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the stream consumer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return err
			}
			logger := cfg.Log.NewLogger(os.Stderr)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			proxy, err := app.New(ctx, cfg, logger)
			if err != nil {
				logger.Error("Startup failed", "error", err)
				return err
			}
			defer func() {
				if err := proxy.Close(); err != nil {
					logger.Error("Shutdown failed", "error", err)
				}
			}()

			if err := proxy.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("Proxy stopped", "error", err)
				return err
			}
			logger.Info("Proxy shut down")
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
