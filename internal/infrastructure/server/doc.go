// Package server wires the two Smartspacer processes.
//
// The host (New, Run) owns the store, the target pipeline, the session
// manager, the builtin providers, plugin manifests, backups and the crash
// supervisor, and serves the diagnostics API:
//   - gin with recovery, tracing, metrics, CORS and per-IP rate limiting
//   - websocket target streams on /stream/:surface
//   - prometheus metrics on /metrics
//
// RunBridge runs the privileged bridge on its unix socket. It is started
// separately with shell or root rights and is reached by the host through
// bridge.Repository.
//
// Example Usage:
//
//	srv, err := server.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer srv.Close()
//	return srv.Run(ctx)
package server
