package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/infrastructure/server"
)

var port string

// serveCmd runs the host process
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the smartspace host",
	Long: `Run the host: the session manager, target pipeline, builtin providers,
plugin manifests and the diagnostics API. Shuts down gracefully on SIGINT
or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if port != "" {
			cfg.Server.Port = port
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv, err := server.New(ctx, cfg)
		if err != nil {
			return err
		}
		defer srv.Close()

		return srv.Run(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&port, "port", "p", "", "Diagnostics API port (overrides PORT)")
	rootCmd.AddCommand(serveCmd)
}
