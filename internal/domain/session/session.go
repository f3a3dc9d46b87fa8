package session

import (
	"context"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/logging"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/pipeline"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/shared/id"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/shared/types"
)

// State is the lifecycle state of a session
type State int

const (
	StateCreated State = iota
	StateResumed
	StatePaused
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateResumed:
		return "resumed"
	case StatePaused:
		return "paused"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// deliverFunc receives every emission of a session, in order
type deliverFunc func(ctx context.Context, s *Session, targets []types.Target)

// Session renders the merged pipeline output for one OS session
type Session struct {
	id        string
	kind      types.SessionKind
	config    types.SessionConfig
	createdAt time.Time
	seq       uint64

	source   Source
	settings Settings
	deliver  deliverFunc
	logger   *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	reload chan struct{}

	mu      sync.Mutex
	state   State
	resumes int
	pages   []pipeline.Page
	last    []types.Target
	emitted bool
}

func newSession(parent context.Context, sessionID string, cfg types.SessionConfig, source Source, settings Settings, deliver deliverFunc, logger *logging.Logger) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		id:        sessionID,
		kind:      cfg.Surface.Kind(),
		config:    cfg,
		createdAt: time.Now(),
		source:    source,
		settings:  settings,
		deliver:   deliver,
		logger:    logger.With(zap.String("session", sessionID), zap.String("surface", cfg.Surface.String())),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		reload:    make(chan struct{}, 1),
	}
}

// ID returns the OS session id
func (s *Session) ID() string { return s.id }

// Kind returns the session map the session lives in
func (s *Session) Kind() types.SessionKind { return s.kind }

// Config returns the configuration the session was created with
func (s *Session) Config() types.SessionConfig { return s.config }

// CreatedAt returns the creation time used to pick the newest session of an owner
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// State returns the lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Last returns the most recent emission
func (s *Session) Last() []types.Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// owner groups sessions created by the same client
func (s *Session) owner() string {
	return id.SessionID(s.id).Owner()
}

// newer reports whether s was created after other
func (s *Session) newer(other *Session) bool {
	if !s.createdAt.Equal(other.createdAt) {
		return s.createdAt.After(other.createdAt)
	}
	return s.seq > other.seq
}

func (s *Session) start() {
	go s.run()
}

func (s *Session) run() {
	defer close(s.done)

	changes, unsubscribe := s.source.Subscribe()
	defer unsubscribe()

	var tick <-chan time.Time
	if s.settings.periodic(s.kind) {
		ticker := time.NewTicker(s.settings.UpdateInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	// the first emission goes out after one debounce period too
	debounce := time.NewTimer(s.settings.Debounce)
	defer debounce.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-changes:
			resetTimer(debounce, s.settings.Debounce)
		case <-s.reload:
			s.mu.Lock()
			s.emitted = false
			s.mu.Unlock()
			resetTimer(debounce, s.settings.Debounce)
		case <-debounce.C:
			s.emit()
		case <-tick:
			s.RequestUpdate()
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// emit merges, trims and delivers unless nothing changed since the last emission
func (s *Session) emit() {
	pages := s.source.Merge(s.ctx, s.options())
	if n := s.config.TargetCount; n > 0 && len(pages) > n {
		pages = pages[:n]
	}
	targets := make([]types.Target, 0, len(pages))
	for _, page := range pages {
		targets = append(targets, page.Target)
	}

	s.mu.Lock()
	s.pages = pages
	if s.emitted && sameTargets(s.last, targets) {
		s.mu.Unlock()
		return
	}
	s.last = targets
	s.emitted = true
	s.mu.Unlock()

	if s.ctx.Err() != nil {
		return
	}
	s.deliver(s.ctx, s, targets)
}

func (s *Session) options() pipeline.Options {
	opts := pipeline.Options{
		Surface:       s.config.Surface,
		HideSensitive: s.settings.HideSensitive,
		Split:         s.settings.Split,
	}
	if s.settings.OverMusic != nil {
		opts.OverMusic = s.settings.OverMusic()
	}
	return opts
}

// sameTargets compares two emissions. Blank targets get a fresh id on every
// merge, so their ids are ignored.
func sameTargets(a, b []types.Target) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		left, right := a[i], b[i]
		if id.IsBlankTarget(left.ID) && id.IsBlankTarget(right.ID) {
			left.ID, right.ID = "", ""
		}
		if !reflect.DeepEqual(left, right) {
			return false
		}
	}
	return true
}

// Notify applies a UI event reported by the OS
func (s *Session) Notify(ctx context.Context, event types.SessionEvent) error {
	switch event.Type {
	case types.EventSurfaceShown:
		s.Resume()
	case types.EventSurfaceHidden:
		s.Pause()
	case types.EventTargetInteraction:
		s.source.Click(ctx, event.TargetID, event.ActionID)
	case types.EventTargetDismiss:
		if _, err := s.source.Dismiss(ctx, event.TargetID); err != nil {
			return err
		}
	default:
		s.logger.Debug("Ignoring session event", zap.String("type", string(event.Type)))
	}
	return nil
}

// Resume marks the session visible. Every resume after the first asks the
// pipeline for fresh data.
func (s *Session) Resume() {
	s.mu.Lock()
	if s.state == StateResumed || s.state == StateDestroyed {
		s.mu.Unlock()
		return
	}
	s.state = StateResumed
	s.resumes++
	again := s.resumes > 1
	s.mu.Unlock()

	s.source.Visibility().Set(s.id, true)
	if again {
		s.RequestUpdate()
	}
}

// Pause marks a resumed session hidden
func (s *Session) Pause() {
	s.mu.Lock()
	if s.state != StateResumed {
		s.mu.Unlock()
		return
	}
	s.state = StatePaused
	s.mu.Unlock()

	s.source.Visibility().Set(s.id, false)
}

// RequestUpdate asks the providers behind the current pages to refresh
func (s *Session) RequestUpdate() {
	s.mu.Lock()
	pages := s.pages
	s.mu.Unlock()

	if due := s.source.RequestUpdate(pages); len(due) > 0 {
		s.logger.Debug("Requested provider updates", zap.Int("packages", len(due)))
	}
}

// Reload re-runs the pipeline and re-emits even when nothing changed
func (s *Session) Reload() {
	select {
	case s.reload <- struct{}{}:
	default:
	}
}

// destroy stops the session. It does not wait for an in-flight emission,
// which is dropped once the context is canceled.
func (s *Session) destroy() {
	s.mu.Lock()
	if s.state == StateDestroyed {
		s.mu.Unlock()
		return
	}
	s.state = StateDestroyed
	s.mu.Unlock()

	s.cancel()
	s.source.Visibility().Remove(s.id)
}

// Wait blocks until the session's loop has exited
func (s *Session) Wait() {
	<-s.done
}
