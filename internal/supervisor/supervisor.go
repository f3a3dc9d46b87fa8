package supervisor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/bridge"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/infrastructure/monitoring"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/logging"
)

const (
	// DefaultResubscribeDelay is how long Run waits before reopening a crash
	// stream the bridge closed
	DefaultResubscribeDelay = 5 * time.Second

	// DefaultReconnectBackoff limits how often an ASI stop is forwarded
	DefaultReconnectBackoff = time.Minute
)

// Bridge is the part of the privileged bridge the supervisor needs
type Bridge interface {
	CrashEvents(ctx context.Context) <-chan bridge.CrashEvent
	ResetServiceIfAvailable(ctx context.Context, req bridge.ServiceRequest) bool
}

// Deps are the collaborators of a Supervisor
type Deps struct {
	Bridge      Bridge
	Broadcaster Broadcaster
	Signer      *Signer

	// WatchPackages returns the packages whose crash storms trigger safe mode
	WatchPackages func() []string

	// DefaultComponent returns the system smartspace component to restore,
	// empty to clear the service instead
	DefaultComponent func(ctx context.Context) string
	UserID           int
	KillPackages     []string

	// OnASIStopped is told when the system intelligence package stopped
	OnASIStopped func(ctx context.Context)

	// Exit ends the process; os.Exit when nil
	Exit func(code int)

	ReconnectBackoff time.Duration
	Logger           *logging.Logger
	Metrics          *monitoring.Metrics
}

// Supervisor watches crash storms of the packages that render the host's
// smartspace and puts the host into safe mode when one of them keeps crashing.
type Supervisor struct {
	bridge           Bridge
	broadcaster      Broadcaster
	signer           *Signer
	watchPackages    func() []string
	defaultComponent func(ctx context.Context) string
	userID           int
	killPackages     []string
	onASIStopped     func(ctx context.Context)
	exit             func(code int)
	logger           *logging.Logger
	metrics          *monitoring.Metrics
	now              func() time.Time
	resubscribe      time.Duration

	asi  *rate.Limiter
	once sync.Once
}

// New creates a supervisor
func New(deps Deps) *Supervisor {
	backoff := deps.ReconnectBackoff
	if backoff <= 0 {
		backoff = DefaultReconnectBackoff
	}
	s := &Supervisor{
		bridge:           deps.Bridge,
		broadcaster:      deps.Broadcaster,
		signer:           deps.Signer,
		watchPackages:    deps.WatchPackages,
		defaultComponent: deps.DefaultComponent,
		userID:           deps.UserID,
		killPackages:     deps.KillPackages,
		onASIStopped:     deps.OnASIStopped,
		exit:             deps.Exit,
		logger:           deps.Logger.Component("supervisor"),
		metrics:          deps.Metrics,
		now:              time.Now,
		resubscribe:      DefaultResubscribeDelay,
		asi:              rate.NewLimiter(rate.Every(backoff), 1),
	}
	if s.exit == nil {
		s.exit = exitProcess
	}
	if s.broadcaster == nil {
		s.broadcaster = LogBroadcaster{Logger: deps.Logger}
	}
	return s
}

// Run consumes crash events until ctx is done. A stream closed by a dying
// bridge is reopened after a delay.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		events := s.bridge.CrashEvents(ctx)
		for event := range events {
			s.Handle(ctx, event)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.resubscribe):
		}
	}
}

// Handle processes one crash event
func (s *Supervisor) Handle(ctx context.Context, event bridge.CrashEvent) {
	if event.ASIStopped {
		if !s.asi.Allow() {
			s.logger.Debug("Ignoring repeated ASI stop")
			return
		}
		s.logger.Info("System intelligence stopped")
		if s.onASIStopped != nil {
			s.onASIStopped(ctx)
		}
		return
	}

	if !s.watched(event.Package) {
		s.logger.Debug("Ignoring crash of unwatched package", zap.String("package", event.Package))
		return
	}
	s.TriggerSafeMode(ctx, event.Package)
}

func (s *Supervisor) watched(pkg string) bool {
	if s.watchPackages == nil {
		return false
	}
	for _, watched := range s.watchPackages() {
		if watched == pkg {
			return true
		}
	}
	return false
}

// TriggerSafeMode restores the system smartspace service, tells the safe-mode
// receiver which package crashed and exits. Only the first call has any effect.
func (s *Supervisor) TriggerSafeMode(ctx context.Context, crashedPackage string) {
	s.once.Do(func() {
		s.metrics.IncSafeMode()
		s.logger.Error("Entering safe mode", zap.String("crashed_package", crashedPackage))

		req := bridge.ServiceRequest{
			UserID:       s.userID,
			KillSystemUI: true,
			KillPackages: s.killPackages,
		}
		if s.defaultComponent != nil {
			req.Component = s.defaultComponent(ctx)
		}
		if !s.bridge.ResetServiceIfAvailable(ctx, req) {
			s.logger.Warn("Could not reset the smartspace service")
		}

		issuedAt := s.now()
		notice := Notice{CrashedPackage: crashedPackage, IssuedAt: issuedAt}
		if s.signer != nil {
			notice.Token = s.signer.Token(crashedPackage, issuedAt)
		}
		if err := s.broadcaster.Broadcast(ctx, notice); err != nil {
			s.logger.Warn("Failed to broadcast safe mode", zap.Error(err))
		}

		_ = s.logger.Sync()
		s.exit(0)
	})
}
