package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/config"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/infrastructure/monitoring"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/logging"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/pipeline"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/shared/types"
)

var (
	// ErrFeedbackLoop is returned when the host is asked to render its own smartspace
	ErrFeedbackLoop = errors.New("session: refusing session created by the host itself")

	// ErrUnknownSession is returned for ids that are in none of the session maps
	ErrUnknownSession = errors.New("session: unknown session")

	// ErrDumpDisabled is returned by Dump outside debug mode
	ErrDumpDisabled = errors.New("session: dump is only available in debug mode")
)

// Source produces the pages a session renders
type Source interface {
	Merge(ctx context.Context, opts pipeline.Options) []pipeline.Page
	Subscribe() (<-chan struct{}, func())
	Dismiss(ctx context.Context, targetID string) (bool, error)
	Click(ctx context.Context, targetID, actionID string) bool
	RequestUpdate(pages []pipeline.Page) map[string][]string
	Visibility() *pipeline.Visibility
}

// Bridge destroys sessions on the system side
type Bridge interface {
	DestroySmartspaceSession(ctx context.Context, sessionID string) bool
}

// Sink hands target lists to the OS-facing side
type Sink func(ctx context.Context, sessionID string, targets []types.Target)

// Settings controls how sessions render and refresh
type Settings struct {
	UpdateInterval time.Duration
	Debounce       time.Duration
	HideSensitive  types.HideSensitive
	Split          bool

	// OverMusic reports whether the lockscreen is showing media controls.
	// Defaults to the state set through Manager.SetMediaPlaying.
	OverMusic func() bool

	// PeriodicKinds lists the session kinds that refresh on UpdateInterval
	PeriodicKinds []types.SessionKind
}

// SettingsFromConfig builds session settings from the loaded configuration
func SettingsFromConfig(cfg config.SessionConfig) Settings {
	return Settings{
		UpdateInterval: cfg.UpdateInterval,
		Debounce:       cfg.TargetDebounce,
		HideSensitive:  types.ParseHideSensitive(cfg.HideSensitive),
		Split:          cfg.SplitLockscreen,
		PeriodicKinds:  []types.SessionKind{types.SessionKindNormal},
	}
}

func (s Settings) periodic(kind types.SessionKind) bool {
	if s.UpdateInterval <= 0 {
		return false
	}
	for _, k := range s.PeriodicKinds {
		if k == kind {
			return true
		}
	}
	return false
}

func (s Settings) withDefaults() Settings {
	if s.Debounce <= 0 {
		s.Debounce = 50 * time.Millisecond
	}
	return s
}

// Deps are the collaborators of a Manager
type Deps struct {
	Source Source
	Bridge Bridge
	Sink   Sink

	// DefaultComponent returns the system's default smartspace component,
	// empty when there is none
	DefaultComponent func(ctx context.Context) string

	// OnFeedbackLoop is signalled when the host is asked to render itself
	// while a default component exists
	OnFeedbackLoop func()

	Logger  *logging.Logger
	Metrics *monitoring.Metrics
}

// Manager multiplexes OS smartspace sessions over the pipeline. Normal, media
// and hub sessions live in separate maps and never affect each other.
type Manager struct {
	hostPackage string
	settings    Settings
	debug       bool

	source           Source
	bridge           Bridge
	sink             Sink
	defaultComponent func(ctx context.Context) string
	onFeedbackLoop   func()
	logger           *logging.Logger
	metrics          *monitoring.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.RWMutex
	sessions    map[types.SessionKind]map[string]*Session
	lastTargets map[string][]types.Target
	seq         uint64

	pruneMu sync.Mutex

	subMu       sync.Mutex
	subscribers map[string]map[uint64]chan []types.Target
	nextSub     uint64

	fgMu       sync.Mutex
	foreground string
	media      atomic.Bool
}

// NewManager creates a session manager
func NewManager(hostPackage string, settings Settings, debug bool, deps Deps) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		hostPackage:      hostPackage,
		settings:         settings.withDefaults(),
		debug:            debug,
		source:           deps.Source,
		bridge:           deps.Bridge,
		sink:             deps.Sink,
		defaultComponent: deps.DefaultComponent,
		onFeedbackLoop:   deps.OnFeedbackLoop,
		logger:           deps.Logger.Component("session"),
		metrics:          deps.Metrics,
		ctx:              ctx,
		cancel:           cancel,
		sessions:         make(map[types.SessionKind]map[string]*Session, len(types.SessionKinds)),
		lastTargets:      make(map[string][]types.Target),
		subscribers:      make(map[string]map[uint64]chan []types.Target),
	}
	for _, kind := range types.SessionKinds {
		m.sessions[kind] = make(map[string]*Session)
	}
	if m.settings.OverMusic == nil {
		m.settings.OverMusic = m.media.Load
	}
	return m
}

// OnCreateSession starts a session for the OS. Sessions requested by the host
// package itself are never added: the host would otherwise render its own
// output in a loop.
func (m *Manager) OnCreateSession(ctx context.Context, cfg types.SessionConfig, sessionID string) error {
	if cfg.PackageName == m.hostPackage {
		m.OnDestroySession(ctx, sessionID)
		if m.defaultComponent != nil && m.defaultComponent(ctx) != "" {
			m.metrics.IncFeedbackLoops()
			m.logger.Warn("Smartspace session requested by the host, falling back to the default component",
				zap.String("session", sessionID))
			if m.onFeedbackLoop != nil {
				m.onFeedbackLoop()
			}
		}
		return ErrFeedbackLoop
	}

	kind := cfg.Surface.Kind()
	s := newSession(m.ctx, sessionID, cfg, m.source, m.settings, m.onUpdate, m.logger)

	m.mu.Lock()
	m.seq++
	s.seq = m.seq
	previous := m.sessions[kind][sessionID]
	m.sessions[kind][sessionID] = s
	count := len(m.sessions[kind])
	m.mu.Unlock()

	if previous != nil {
		previous.destroy()
	}
	m.metrics.SetSessionsActive(kind.String(), count)
	m.logger.Info("Session created",
		zap.String("session", sessionID),
		zap.String("package", cfg.PackageName),
		zap.String("surface", cfg.Surface.String()))

	s.start()
	m.Prune(ctx)
	return nil
}

// OnDestroySession tears down a normal session. Media and hub sessions are
// only ever removed by pruning.
func (m *Manager) OnDestroySession(ctx context.Context, sessionID string) {
	m.mu.Lock()
	s, ok := m.sessions[types.SessionKindNormal][sessionID]
	if ok {
		delete(m.sessions[types.SessionKindNormal], sessionID)
	}
	delete(m.lastTargets, sessionID)
	count := len(m.sessions[types.SessionKindNormal])
	m.mu.Unlock()

	if !ok {
		return
	}
	s.destroy()
	m.closeSubscribers(sessionID)
	m.metrics.SetSessionsActive(types.SessionKindNormal.String(), count)
	m.logger.Info("Session destroyed", zap.String("session", sessionID))
}

// OnDestroy is called when the OS tears down a session it owns
func (m *Manager) OnDestroy(ctx context.Context, sessionID string) {
	m.OnDestroySession(ctx, sessionID)
}

// Prune keeps only the newest session per owner in every map and destroys
// the rest, locally and on the system side.
func (m *Manager) Prune(ctx context.Context) {
	m.pruneMu.Lock()
	defer m.pruneMu.Unlock()

	for _, kind := range types.SessionKinds {
		victims := m.collectStale(kind)
		if len(victims) == 0 {
			continue
		}
		for _, s := range victims {
			s.destroy()
			if m.bridge != nil {
				m.bridge.DestroySmartspaceSession(ctx, s.id)
			}
			m.closeSubscribers(s.id)
			m.logger.Info("Pruned stale session",
				zap.String("session", s.id),
				zap.String("kind", kind.String()))
		}
		m.metrics.IncSessionsPruned(kind.String(), len(victims))
		m.metrics.SetSessionsActive(kind.String(), m.count(kind))
	}
}

// collectStale removes every session but the newest of each owner from the
// map of the given kind and returns the removed sessions
func (m *Manager) collectStale(kind types.SessionKind) []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	groups := make(map[string][]*Session)
	for _, s := range m.sessions[kind] {
		groups[s.owner()] = append(groups[s.owner()], s)
	}

	var victims []*Session
	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool { return group[i].newer(group[j]) })
		for _, s := range group[1:] {
			delete(m.sessions[kind], s.id)
			delete(m.lastTargets, s.id)
			victims = append(victims, s)
		}
	}
	sort.Slice(victims, func(i, j int) bool { return victims[i].seq < victims[j].seq })
	return victims
}

func (m *Manager) count(kind types.SessionKind) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions[kind])
}

// lookup finds a session, checking normal, media and hub in that order
func (m *Manager) lookup(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, kind := range types.SessionKinds {
		if s, ok := m.sessions[kind][sessionID]; ok {
			return s, true
		}
	}
	return nil, false
}

func (m *Manager) contains(s *Session) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[s.kind][s.id] == s
}

// Get returns a live session
func (m *Manager) Get(sessionID string) (*Session, bool) {
	return m.lookup(sessionID)
}

// NotifyEvent forwards a UI event to a session
func (m *Manager) NotifyEvent(ctx context.Context, sessionID string, event types.SessionEvent) error {
	s, ok := m.lookup(sessionID)
	if !ok {
		return ErrUnknownSession
	}
	return s.Notify(ctx, event)
}

// RequestUpdate asks the providers behind a session to refresh
func (m *Manager) RequestUpdate(ctx context.Context, sessionID string) error {
	s, ok := m.lookup(sessionID)
	if !ok {
		return ErrUnknownSession
	}
	s.RequestUpdate()
	return nil
}

// ForceReload re-runs the pipeline for every normal session
func (m *Manager) ForceReload() {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions[types.SessionKindNormal]))
	for _, s := range m.sessions[types.SessionKindNormal] {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		s.Reload()
	}
}

// onUpdate delivers a session's emission. Emissions of sessions that were
// removed in the meantime are dropped.
func (m *Manager) onUpdate(ctx context.Context, s *Session, targets []types.Target) {
	if !m.contains(s) {
		return
	}
	// the emitting session may itself be pruned, so the bridge call must not
	// use its context
	m.Prune(m.ctx)
	if !m.contains(s) {
		return
	}

	if m.debug && s.kind == types.SessionKindNormal {
		m.mu.Lock()
		m.lastTargets[s.id] = targets
		m.mu.Unlock()
	}

	if m.sink != nil {
		m.sink(ctx, s.id, targets)
	}
	m.metrics.RecordEmission(s.config.Surface.String(), len(targets))
	m.publish(s.id, targets)
}

// Subscribe streams the emissions of one session. The channel keeps only the
// latest list when the reader falls behind and is closed with the session.
func (m *Manager) Subscribe(sessionID string) (<-chan []types.Target, func()) {
	ch := make(chan []types.Target, 1)

	m.subMu.Lock()
	m.nextSub++
	key := m.nextSub
	if m.subscribers[sessionID] == nil {
		m.subscribers[sessionID] = make(map[uint64]chan []types.Target)
	}
	m.subscribers[sessionID][key] = ch
	m.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subMu.Lock()
			defer m.subMu.Unlock()
			if subs, ok := m.subscribers[sessionID]; ok {
				if _, ok := subs[key]; ok {
					delete(subs, key)
					close(ch)
				}
			}
		})
	}
}

func (m *Manager) publish(sessionID string, targets []types.Target) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subscribers[sessionID] {
		select {
		case <-ch:
		default:
		}
		ch <- targets
	}
}

func (m *Manager) closeSubscribers(sessionID string) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subscribers[sessionID] {
		close(ch)
	}
	delete(m.subscribers, sessionID)
}

// Info describes a live session
type Info struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Surface   string    `json:"surface"`
	Package   string    `json:"package"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

// List returns every live session, oldest first
func (m *Manager) List() []Info {
	m.mu.RLock()
	var sessions []*Session
	for _, kind := range types.SessionKinds {
		for _, s := range m.sessions[kind] {
			sessions = append(sessions, s)
		}
	}
	m.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].seq < sessions[j].seq })
	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, Info{
			ID:        s.id,
			Kind:      s.kind.String(),
			Surface:   s.config.Surface.String(),
			Package:   s.config.PackageName,
			State:     s.State().String(),
			CreatedAt: s.createdAt,
		})
	}
	return infos
}

// Stats returns session counts per kind
func (m *Manager) Stats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := make(map[string]interface{}, len(types.SessionKinds)+1)
	total := 0
	for _, kind := range types.SessionKinds {
		stats[kind.String()] = len(m.sessions[kind])
		total += len(m.sessions[kind])
	}
	stats["total_sessions"] = total
	return stats
}

// Dump writes the session maps and the last delivered targets
func (m *Manager) Dump(w io.Writer) error {
	if !m.debug {
		return ErrDumpDisabled
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, kind := range types.SessionKinds {
		ids := make([]string, 0, len(m.sessions[kind]))
		for sessionID := range m.sessions[kind] {
			ids = append(ids, sessionID)
		}
		sort.Strings(ids)
		if _, err := fmt.Fprintf(w, "%s sessions (%d): %v\n", kind, len(ids), ids); err != nil {
			return err
		}
	}

	ids := make([]string, 0, len(m.lastTargets))
	for sessionID := range m.lastTargets {
		ids = append(ids, sessionID)
	}
	sort.Strings(ids)
	for _, sessionID := range ids {
		targets := m.lastTargets[sessionID]
		if _, err := fmt.Fprintf(w, "last targets for %s (%d):\n", sessionID, len(targets)); err != nil {
			return err
		}
		for _, target := range targets {
			if _, err := fmt.Fprintf(w, "  %s feature=%d\n", target.ID, target.FeatureType); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close destroys every session and waits for their loops to exit
func (m *Manager) Close() {
	m.mu.Lock()
	var sessions []*Session
	for _, kind := range types.SessionKinds {
		for sessionID, s := range m.sessions[kind] {
			sessions = append(sessions, s)
			delete(m.sessions[kind], sessionID)
		}
	}
	m.mu.Unlock()

	m.cancel()
	for _, s := range sessions {
		s.destroy()
		m.closeSubscribers(s.id)
		s.Wait()
	}
}
