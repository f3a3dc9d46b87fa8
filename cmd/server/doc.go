// Package main is the entry point of the Smartspacer host and bridge.
//
// Usage:
//
//	# Host, reading the environment and a config file
//	smartspacer serve --config smartspacer.toml
//
//	# Privileged bridge, started through adb shell or su
//	smartspacer bridge --socket /data/local/tmp/smartspacer-bridge.sock
//
//	# Debug mode: session dumps on /sessions, colored debug logs
//	smartspacer serve --debug
//
// Signals:
//   - SIGINT, SIGTERM: graceful shutdown
package main
