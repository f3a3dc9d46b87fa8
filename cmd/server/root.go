package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/config"
)

var (
	configPath string
	debug      bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "smartspacer",
	Short: "Smartspace plugin host and privileged bridge",
	Long: `Smartspacer aggregates targets and complications from plugin apps into
the smartspace shown by the launcher and lockscreen.

Two processes make up a deployment:
  smartspacer serve     the host: sessions, plugins, diagnostics API
  smartspacer bridge    the privileged bridge, run with shell or root rights

Configuration comes from the environment (see internal/config) and,
with --config, a TOML file applied on top of it.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "TOML config file applied over the environment")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug mode (session dumps, debug logging)")
}

// loadConfig reads the environment, the optional config file and the flags
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if debug {
		cfg.Debug = true
		cfg.Logging.Level = "debug"
		cfg.Logging.Development = true
	}
	return cfg, nil
}
