package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/infrastructure/server"
)

var socketPath string

// bridgeCmd runs the privileged bridge process
var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Run the privileged bridge",
	Long: `Run the privileged bridge on a unix socket. Start it with shell or root
rights; the host connects to it to manage the system smartspace service,
read crash logs and observe running apps.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if socketPath != "" {
			cfg.Bridge.SocketPath = socketPath
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return server.RunBridge(ctx, cfg)
	},
}

func init() {
	bridgeCmd.Flags().StringVar(&socketPath, "socket", "", "Unix socket to listen on (overrides BRIDGE_SOCKET)")
	rootCmd.AddCommand(bridgeCmd)
}
