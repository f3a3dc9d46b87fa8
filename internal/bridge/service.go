package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/infrastructure/monitoring"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/logging"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/shared/types"
)

const (
	// crashSuppression covers the crashes caused by our own force-stops
	crashSuppression = 500 * time.Millisecond
	// shortcutSettleDelay surrounds a shortcut launch while background starts are allowed
	shortcutSettleDelay = 250 * time.Millisecond
)

// Deps are the collaborators of a Service. Sources may be nil.
type Deps struct {
	Platform  Platform
	Runner    CommandRunner
	PIDs      PIDResolver
	Processes ProcessSource
	Tasks     TaskSource
	Crashes   CrashSource
	Window    *CrashWindow
	Logger    *logging.Logger
	Metrics   *monitoring.Metrics
	// Exit terminates the process; defaults to a no-op so tests stay alive
	Exit func(code int)
}

// Service is the privileged side of the bridge
type Service struct {
	platform  Platform
	runner    CommandRunner
	pids      PIDResolver
	processes ProcessSource
	tasks     TaskSource
	crashes   CrashSource
	window    *CrashWindow
	logger    *logging.Logger
	metrics   *monitoring.Metrics
	exit      func(int)
	sleep     func(ctx context.Context, d time.Duration) error

	suppressCrash atomic.Bool
	suppressGen   atomic.Uint64

	processObserver slot[string]
	taskObserver    slot[[]string]
	crashListener   slot[CrashEvent]

	appPredictor    *predictor
	widgetPredictor *predictor

	scopeMu sync.Mutex
	cancel  context.CancelFunc
}

// NewService creates a bridge service
func NewService(deps Deps) *Service {
	if deps.Window == nil {
		deps.Window = NewCrashWindow(DefaultCrashThreshold, DefaultCrashWindow)
	}
	if deps.PIDs == nil {
		deps.PIDs = ProcResolver{}
	}
	if deps.Exit == nil {
		deps.Exit = func(int) {}
	}
	logger := deps.Logger.Component("bridge")

	s := &Service{
		platform:  deps.Platform,
		runner:    deps.Runner,
		pids:      deps.PIDs,
		processes: deps.Processes,
		tasks:     deps.Tasks,
		crashes:   deps.Crashes,
		window:    deps.Window,
		logger:    logger,
		metrics:   deps.Metrics,
		exit:      deps.Exit,
		sleep:     sleepContext,
	}
	s.taskObserver.replay = true
	s.appPredictor = newPredictor(PredictionSpec{Kind: PredictorApp, UISurface: "home", Count: 10}, deps.Platform, logger)
	s.widgetPredictor = newPredictor(PredictionSpec{Kind: PredictorWidget, UISurface: "widgets", Count: 20}, deps.Platform, logger)
	return s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run consumes the platform sources until ctx ends or Destroy is called
func (s *Service) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.scopeMu.Lock()
	s.cancel = cancel
	s.scopeMu.Unlock()
	defer cancel()

	var wg sync.WaitGroup
	if s.processes != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ev := range s.processes.Events(ctx) {
				s.onProcessEvent(ev)
			}
		}()
	}
	if s.tasks != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for packages := range s.tasks.Events(ctx) {
				s.taskObserver.deliver(packages)
			}
		}()
	}
	if s.crashes != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for pkg := range s.crashes.Events(ctx) {
				s.onPackageCrashed(pkg)
			}
		}()
	}
	<-ctx.Done()
	wg.Wait()
}

// Ping always answers true; a dead bridge cannot answer at all
func (s *Service) Ping() bool { return true }

// IsRoot reports whether the bridge runs as root
func (s *Service) IsRoot() bool { return s.platform.IsRoot() }

// SetSmartspaceService binds component as the temporary smartspace service
func (s *Service) SetSmartspaceService(ctx context.Context, req ServiceRequest) error {
	if req.Component == "" {
		return fmt.Errorf("component is required")
	}
	if _, err := s.runner.Run(ctx, setTemporaryServiceCommand(req.UserID, req.Component)); err != nil {
		return err
	}
	s.killPackages(ctx, req.KillSystemUI, req.KillPackages)
	return nil
}

// ClearSmartspaceService restores the system smartspace service
func (s *Service) ClearSmartspaceService(ctx context.Context, req ServiceRequest) error {
	if _, err := s.runner.Run(ctx, clearTemporaryServiceCommand(req.UserID)); err != nil {
		return err
	}
	s.killPackages(ctx, req.KillSystemUI, req.KillPackages)
	return nil
}

// killPackages restarts the surfaces holding stale sessions. Crashes are
// ignored while this runs since they are our own doing.
func (s *Service) killPackages(ctx context.Context, systemUI bool, packages []string) {
	gen := s.suppressGen.Add(1)
	s.suppressCrash.Store(true)
	time.AfterFunc(crashSuppression, func() {
		if s.suppressGen.Load() == gen {
			s.suppressCrash.Store(false)
		}
	})

	if systemUI {
		command := crashCommand(s.platform.KeyguardPackage())
		if s.platform.IsRoot() {
			command = killSystemUIRootCommand
		}
		if _, err := s.runner.Run(ctx, command); err != nil {
			s.logger.Warn("Failed to restart system UI", zap.Error(err))
		}
	}
	for _, pkg := range packages {
		if _, err := s.runner.Run(ctx, forceStopCommand(pkg)); err != nil {
			s.logger.Warn("Failed to force stop package", zap.String("package", pkg), zap.Error(err))
		}
	}
}

// CreateSmartspaceSession proxies to the system smartspace manager
func (s *Service) CreateSmartspaceSession(ctx context.Context, cfg types.SessionConfig) error {
	return s.platform.CreateSmartspaceSession(ctx, cfg)
}

// DestroySmartspaceSession proxies to the system smartspace manager
func (s *Service) DestroySmartspaceSession(ctx context.Context, sessionID string) error {
	return s.platform.DestroySmartspaceSession(ctx, sessionID)
}

// RunAppPredictions replaces the app prediction session and streams its
// results to send until ctx ends or the session is replaced.
func (s *Service) RunAppPredictions(ctx context.Context, send func([]Prediction) error) error {
	return s.appPredictor.run(ctx, nil, send)
}

// RunWidgetPredictions is RunAppPredictions for widgets
func (s *Service) RunWidgetPredictions(ctx context.Context, extras map[string]any, send func([]Prediction) error) error {
	return s.widgetPredictor.run(ctx, extras, send)
}

// DestroyAppPredictorSession ends the app prediction session
func (s *Service) DestroyAppPredictorSession() { s.appPredictor.destroy() }

// DestroyWidgetPredictorSession ends the widget prediction session
func (s *Service) DestroyWidgetPredictorSession() { s.widgetPredictor.destroy() }

// ObserveProcesses installs send as the foreground process observer
func (s *Service) ObserveProcesses(ctx context.Context, send func(string) error) {
	ctx, detach := s.processObserver.attach(ctx, send)
	defer detach()
	<-ctx.Done()
}

// ObserveTasks installs send as the recent task observer. The last known
// task list is replayed immediately.
func (s *Service) ObserveTasks(ctx context.Context, send func([]string) error) {
	ctx, detach := s.taskObserver.attach(ctx, send)
	defer detach()
	<-ctx.Done()
}

// ObserveCrashes installs send as the crash listener
func (s *Service) ObserveCrashes(ctx context.Context, send func(CrashEvent) error) {
	ctx, detach := s.crashListener.attach(ctx, send)
	defer detach()
	<-ctx.Done()
}

func (s *Service) onProcessEvent(ev ProcessEvent) {
	if !ev.Foreground {
		return
	}
	name, err := s.pids.ProcessName(ev.PID)
	if err != nil {
		return
	}
	s.processObserver.deliver(packageOfProcess(name))
}

func (s *Service) onPackageCrashed(pkg string) {
	if s.suppressCrash.Load() {
		return
	}
	if pkg == ASIPackage {
		s.crashListener.deliver(CrashEvent{Package: pkg, ASIStopped: true})
		return
	}
	if !s.window.Record(pkg) {
		return
	}
	s.logger.Error("Crash storm detected", zap.String("package", pkg), zap.Int("crashes", s.window.Count(pkg)))
	s.metrics.RecordCrash(pkg)
	s.crashListener.deliver(CrashEvent{Package: pkg})
}

// ToggleTorch flips the flashlight
func (s *Service) ToggleTorch(ctx context.Context) error {
	return s.platform.ToggleTorch(ctx)
}

// GetShortcuts returns launcher shortcuts matching query
func (s *Service) GetShortcuts(ctx context.Context, query ShortcutQuery) ([]Shortcut, error) {
	return s.platform.Shortcuts(ctx, query)
}

// GetAppShortcutIcon returns the icon of a shortcut. The shortcut may have
// gone away since it was listed, in which case nil is returned.
func (s *Service) GetAppShortcutIcon(ctx context.Context, pkg, id string) []byte {
	icon, err := s.platform.ShortcutIcon(ctx, pkg, id)
	if err != nil {
		s.logger.Debug("Shortcut icon unavailable", zap.String("package", pkg), zap.String("id", id), zap.Error(err))
		return nil
	}
	return icon
}

// StartShortcut launches a shortcut. Background starts are enabled around the
// launch with settle delays on both sides, then switched off again.
func (s *Service) StartShortcut(ctx context.Context, pkg, id string) error {
	if _, err := s.runner.Run(ctx, backgroundStartsCommand(true)); err != nil {
		return err
	}
	defer func() {
		// The flag is global; reset it even when the caller has gone.
		if _, err := s.runner.Run(context.WithoutCancel(ctx), backgroundStartsCommand(false)); err != nil {
			s.logger.Warn("Failed to reset background starts", zap.Error(err))
		}
	}()

	if err := s.sleep(ctx, shortcutSettleDelay); err != nil {
		return err
	}
	startErr := s.platform.StartShortcut(ctx, pkg, id)
	if err := s.sleep(ctx, shortcutSettleDelay); err != nil && startErr == nil {
		return err
	}
	return startErr
}

// GrantRestrictedSettings lets pkg use restricted settings such as the notification listener
func (s *Service) GrantRestrictedSettings(ctx context.Context, pkg string) error {
	_, err := s.runner.Run(ctx, appOpsAllowCommand(pkg, "ACCESS_RESTRICTED_SETTINGS"))
	return err
}

// SetPowerExemption exempts pkg from background power restrictions
func (s *Service) SetPowerExemption(ctx context.Context, pkg string) error {
	_, err := s.runner.Run(ctx, appOpsAllowCommand(pkg, "SYSTEM_EXEMPT_FROM_POWER_RESTRICTIONS"))
	return err
}

// GrantHostAccess gives the host package restricted settings access and the
// power exemption. Failures are logged; older releases lack either op.
func (s *Service) GrantHostAccess(ctx context.Context, pkg string) {
	if err := s.GrantRestrictedSettings(ctx, pkg); err != nil {
		s.logger.Warn("Failed to grant restricted settings", zap.String("package", pkg), zap.Error(err))
	}
	if err := s.SetPowerExemption(ctx, pkg); err != nil {
		s.logger.Warn("Failed to set power exemption", zap.String("package", pkg), zap.Error(err))
	}
}

// EnableBluetooth turns bluetooth on
func (s *Service) EnableBluetooth(ctx context.Context) error {
	_, err := s.runner.Run(ctx, enableBluetoothCommand)
	return err
}

// GetSavedWiFiNetworks lists the networks saved on the device
func (s *Service) GetSavedWiFiNetworks(ctx context.Context) ([]WiFiNetwork, error) {
	out, err := s.runner.Run(ctx, listWiFiNetworksCommand)
	if err != nil {
		return nil, err
	}
	return parseWiFiNetworks(out), nil
}

// GetUserName returns the display name of a user
func (s *Service) GetUserName(ctx context.Context, userID int) (string, error) {
	return s.platform.UserName(ctx, userID)
}

// Destroy cancels all work and terminates the process
func (s *Service) Destroy() {
	s.scopeMu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.scopeMu.Unlock()

	s.processObserver.clear()
	s.taskObserver.clear()
	s.crashListener.clear()
	s.appPredictor.destroy()
	s.widgetPredictor.destroy()

	s.logger.Info("Bridge destroyed")
	s.exit(0)
}

// isAlreadyDestroyed reports whether err only says the session is gone
func isAlreadyDestroyed(err error) bool {
	return errors.Is(err, ErrAlreadyDestroyed)
}
