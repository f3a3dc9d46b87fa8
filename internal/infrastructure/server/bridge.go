package server

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/bridge"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/config"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/infrastructure/monitoring"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/infrastructure/tracing"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/logging"
)

const taskPollInterval = 2 * time.Second

// RunBridge runs the privileged bridge on the configured socket until ctx
// ends or the host asks it to exit. The service's platform sources run for
// as long as the socket is served.
func RunBridge(ctx context.Context, cfg *config.Config) error {
	logger := logging.NewFromLevel(cfg.Logging.Level, cfg.Logging.Development)
	defer func() { _ = logger.Sync() }()

	tracer := tracing.New("smartspacer-bridge", logger)
	defer tracer.Close()

	runner := bridge.NewExecRunner()
	svc := bridge.NewService(bridge.Deps{
		Platform:  bridge.NewShellPlatform(ctx, runner),
		Runner:    runner,
		Processes: bridge.NewCpusetProcessSource(),
		Tasks:     &bridge.RecentsTaskSource{Runner: runner, Interval: taskPollInterval},
		Crashes:   &bridge.LogcatCrashSource{},
		Window:    bridge.NewCrashWindow(cfg.Supervisor.CrashThreshold, cfg.Supervisor.CrashWindow),
		Logger:    logger,
		Metrics:   monitoring.NewMetrics(),
		Exit: func(code int) {
			logger.Info("Bridge exiting on request", zap.Int("code", code))
			_ = logger.Sync()
			os.Exit(code)
		},
	})
	defer svc.Destroy()
	svc.GrantHostAccess(ctx, cfg.Session.PackageName)

	srv := bridge.NewServer(svc, logger, bridge.WithTracer(tracer))
	logger.Info("Starting bridge",
		zap.String("socket", cfg.Bridge.SocketPath),
		zap.Int("uid", os.Getuid()))

	return srv.Serve(ctx, cfg.Bridge.SocketPath)
}
