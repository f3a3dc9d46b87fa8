package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apihttp "github.com/KieronQuinn/Smartspacer-sub002/internal/api/http"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/api/middleware"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/api/ws"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/backup"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/bridge"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/config"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/domain/notifications"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/domain/registry"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/domain/session"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/infrastructure/monitoring"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/infrastructure/tracing"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/logging"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/pipeline"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/providers/builtin"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/providers/sdk"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/shared/types"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/shared/utils"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/store"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/supervisor"
)

const (
	shutdownTimeout = 10 * time.Second
	pruneInterval   = time.Hour
	dismissalTTL    = 30 * 24 * time.Hour
)

// Server wires the host process together
type Server struct {
	cfg     *config.Config
	logger  *logging.Logger
	metrics *monitoring.Metrics
	tracer  *tracing.Tracer

	store         *store.Store
	bridge        *bridge.Repository
	bus           *sdk.ChangeBus
	pipeline      *pipeline.Pipeline
	sessions      *session.Manager
	supervisor    *supervisor.Supervisor
	builtins      *builtin.Host
	calendar      *builtin.MemoryEvents
	plugins       *registry.Manager
	repository    *registry.Repository
	backups       *backup.Manager
	notifications *notifications.Dispatcher

	router *gin.Engine
	http   *http.Server
}

// New creates the host. A missing bridge or plugin directory degrades the
// host instead of failing it.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	logger := logging.NewFromLevel(cfg.Logging.Level, cfg.Logging.Development)
	logger.Info("Initializing Smartspacer host",
		zap.String("package", cfg.Session.PackageName),
		zap.String("port", cfg.Server.Port),
		zap.Bool("bridge", cfg.Bridge.Enabled),
		zap.Bool("debug", cfg.Debug),
	)

	st, err := store.Open(ctx, cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		metrics: monitoring.NewMetrics(),
		tracer:  tracing.New("smartspacer", logger),
		store:   st,
		bus:     sdk.NewChangeBus(),
	}
	host := cfg.Session.PackageName
	instances := pipeline.NewRegistry()

	pipelineDeps := pipeline.Deps{
		Registry:   instances,
		Bus:        s.bus,
		Dismissals: st,
		Logger:     logger,
		Metrics:    s.metrics,
	}
	if cfg.Bridge.Enabled {
		s.bridge = bridge.NewRepository(cfg.Bridge.SocketPath, cfg.Bridge.RunTimeout, logger,
			bridge.WithCallTimeout(cfg.Bridge.CallTimeout),
			bridge.WithMetrics(s.metrics),
		)
		pipelineDeps.Torch = s.bridge
	}
	s.pipeline = pipeline.New(cfg.Pipeline, host, pipelineDeps)

	sessionDeps := session.Deps{
		Source:           s.pipeline,
		Sink:             s.deliver,
		DefaultComponent: s.systemComponent,
		OnFeedbackLoop:   s.restoreSystemService,
		Logger:           logger,
		Metrics:          s.metrics,
	}
	if s.bridge != nil {
		sessionDeps.Bridge = s.bridge
	}
	s.sessions = session.NewManager(host, session.SettingsFromConfig(cfg.Session), cfg.Debug, sessionDeps)

	s.notifications = notifications.New(instances, st, host, logger, s.metrics)
	s.builtins = builtin.NewHost(host, instances, st, logger)
	s.provideBuiltins(host)
	if _, err := s.builtins.Restore(ctx); err != nil {
		logger.Warn("Failed to restore builtin instances", zap.Error(err))
	}

	s.plugins = registry.NewManager(cfg.Plugins.ManifestDir, instances, st, registry.RemoteDialer(host), logger)
	if err := s.plugins.Load(ctx); err != nil {
		logger.Warn("Failed to load plugin manifests", zap.String("dir", cfg.Plugins.ManifestDir), zap.Error(err))
	}
	if cfg.Plugins.RepositoryURL != "" {
		s.repository = registry.NewRepository(cfg.Plugins.RepositoryURL)
	}
	s.backups = backup.NewManager(instances, cfg.Storage.BackupDir, logger)

	if s.bridge != nil {
		sup, err := s.newSupervisor()
		if err != nil {
			s.Close()
			return nil, err
		}
		s.supervisor = sup
	}

	s.router = s.newRouter()
	s.http = &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Host initialized", zap.Any("registry", instances.Stats()))
	return s, nil
}

func (s *Server) provideBuiltins(host string) {
	blank := builtin.NewBlankTarget(host, s.store, s.bus)
	s.builtins.Provide(builtin.AuthorityBlank, blank.Endpoint())

	var calendar *builtin.CalendarTarget
	s.calendar = builtin.NewMemoryEvents(func() {
		calendar.EventsChanged(s.builtins.InstanceIDs(builtin.AuthorityCalendar)...)
	})
	calendar = builtin.NewCalendarTarget(host, s.store, s.bus, s.calendar)
	s.builtins.Provide(builtin.AuthorityCalendar, calendar.Endpoint())

	mirror := builtin.NewNotificationTarget(host, s.store, s.bus, s.notifications.Dismiss)
	s.builtins.Provide(builtin.AuthorityNotification, mirror.Endpoint())
}

func (s *Server) newSupervisor() (*supervisor.Supervisor, error) {
	cfg := s.cfg.Supervisor

	// without a configured secret the signer falls back to a per-process key
	signer, err := supervisor.NewSigner(cfg.SafeModeSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create safe mode signer: %w", err)
	}
	deps := supervisor.Deps{
		Bridge:           s.bridge,
		Signer:           signer,
		WatchPackages:    func() []string { return cfg.WatchPackages },
		DefaultComponent: s.systemComponent,
		UserID:           s.cfg.Bridge.UserID,
		KillPackages:     cfg.WatchPackages,
		OnASIStopped:     func(context.Context) { s.sessions.ForceReload() },
		ReconnectBackoff: cfg.ReconnectBackoff,
		Logger:           s.logger,
		Metrics:          s.metrics,
	}
	if cfg.ReceiverURL != "" {
		deps.Broadcaster = supervisor.NewHTTPBroadcaster(cfg.ReceiverURL)
	}
	return supervisor.New(deps), nil
}

func (s *Server) newRouter() *gin.Engine {
	if !s.cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(s.tracer))
	router.Use(monitoring.Middleware(s.metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	router.Use(middleware.BodyLimit(utils.MaxJSONSize, "/restore"))
	if s.cfg.RateLimit.Enabled {
		s.logger.Info("Rate limiting enabled",
			zap.Int("rps", s.cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", s.cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitFromConfig(s.cfg.RateLimit)))
	}

	deps := apihttp.Deps{
		Sessions:      s.sessions,
		Pipeline:      s.pipeline,
		Store:         s.store,
		Bus:           s.bus,
		Backups:       s.backups,
		Plugins:       s.plugins,
		Repository:    s.repository,
		Notifications: s.notifications,
		Builtins:      s.builtins,
		Calendar:      s.calendar,
		Logger:        s.logger,
		Debug:         s.cfg.Debug,
	}
	if s.bridge != nil {
		deps.Bridge = s.bridge
	}
	apihttp.NewHandlers(deps).Register(router)

	router.GET("/stream/:surface", ws.NewHandler(s.sessions, s.logger).HandleStream)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})))
	return router
}

// Handler returns the HTTP handler, for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx ends, then shuts the HTTP server down gracefully
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if s.supervisor != nil {
		g.Go(func() error {
			if err := s.supervisor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	if s.cfg.Plugins.Watch {
		g.Go(func() error {
			err := s.plugins.Watch(ctx, registry.DefaultReloadDelay, func() {
				s.notifications.Replay(ctx)
				s.sessions.ForceReload()
			})
			if err != nil {
				// the host keeps working with the manifests it loaded
				s.logger.Warn("Plugin watcher stopped", zap.Error(err))
			}
			return nil
		})
	}
	g.Go(func() error {
		s.pruneDismissals(ctx)
		return nil
	})
	if s.bridge != nil {
		g.Go(func() error {
			err := s.sessions.WatchForeground(ctx, s.bridge, session.DefaultForegroundResubscribe)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		s.logger.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (s *Server) pruneDismissals(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		n, err := s.store.PruneDismissals(ctx, time.Now().Add(-dismissalTTL))
		switch {
		case err != nil && ctx.Err() == nil:
			s.logger.Warn("Failed to prune dismissals", zap.Error(err))
		case n > 0:
			s.logger.Debug("Pruned dismissals", zap.Int64("count", n))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// deliver is where emissions leave the host; streams subscribe on their own
func (s *Server) deliver(ctx context.Context, sessionID string, targets []types.Target) {
	s.logger.Debug("Session emitted",
		zap.String("session", sessionID),
		zap.Int("targets", len(targets)))
}

func (s *Server) systemComponent(context.Context) string {
	return s.cfg.Session.SystemComponent
}

// restoreSystemService hands the smartspace back to the OEM service after the
// host was asked to render itself
func (s *Server) restoreSystemService() {
	if s.bridge == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Bridge.RunTimeout)
		defer cancel()
		ok := s.bridge.ResetServiceIfAvailable(ctx, bridge.ServiceRequest{
			Component: s.cfg.Session.SystemComponent,
			UserID:    s.cfg.Bridge.UserID,
		})
		if !ok {
			s.logger.Warn("Could not restore the system smartspace service")
		}
	}()
}

// Close releases everything New acquired
func (s *Server) Close() error {
	s.logger.Info("Closing host")

	s.sessions.Close()
	s.pipeline.Close()
	s.plugins.Close()
	s.tracer.Close()

	err := s.store.Close()
	if err != nil {
		s.logger.Error("Failed to close store", zap.Error(err))
	}
	_ = s.logger.Sync()
	return err
}
