/*
Package bridge implements the privileged shell bridge: a process running as
shell or root that performs the system operations the host app cannot, and
the host side client that talks to it.

# Processes

The bridge process wraps a Platform in a Service and serves it over a unix
socket with Server. The host connects through a Repository, which hides every
transport failure behind a neutral result (false, empty, nil, closed channel).

	svc := bridge.NewService(bridge.Deps{
		Platform:  bridge.NewShellPlatform(ctx, runner),
		Runner:    runner,
		Processes: bridge.NewCpusetProcessSource(),
		Crashes:   &bridge.LogcatCrashSource{},
		Logger:    logger,
	})
	err := bridge.NewServer(svc, logger).Serve(ctx, cfg.Bridge.SocketPath)

	repo := bridge.NewRepository(cfg.Bridge.SocketPath, cfg.Bridge.RunTimeout, logger)
	if repo.IsRoot(ctx) { ... }

# Observers

There is one observer per kind (process, task, crash). Registering a new one
ends the previous stream. The task observer receives the last known list on
registration; the crash listener only sees new storms.

# Crash storms

A package crashing DefaultCrashThreshold times within DefaultCrashWindow is
reported once per crash past the threshold. Crashes of the on-device
intelligence package are reported immediately as ASIStopped. Crashes caused by
the bridge's own force-stops are ignored for a short period.
*/
package bridge
