// Package config provides 12-factor configuration for the smartspacer host and bridge.
//
// Configuration is loaded from environment variables with defaults, and can be
// overlaid with a TOML file passed on the command line.
//
// Configuration Sections:
//   - Server: diagnostics HTTP listener
//   - Bridge: privileged bridge socket and timeouts
//   - Session: multiplexer behaviour (own package, update interval, debounce)
//   - Pipeline: provider timeouts and merge limits
//   - Supervisor: crash threshold and window
//   - Storage, Plugins, Logging, RateLimit
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("bridge socket %s\n", cfg.Bridge.SocketPath)
package config
