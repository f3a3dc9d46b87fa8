package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/shared/types"
)

// DefaultForegroundResubscribe is how long WatchForeground waits before
// reopening a stream the bridge closed
const DefaultForegroundResubscribe = 5 * time.Second

// ForegroundSource streams the package of each app that enters the foreground
type ForegroundSource interface {
	ProcessEvents(ctx context.Context) <-chan string
}

// WatchForeground feeds foreground changes into the sessions until ctx ends
func (m *Manager) WatchForeground(ctx context.Context, src ForegroundSource, resubscribe time.Duration) error {
	if resubscribe <= 0 {
		resubscribe = DefaultForegroundResubscribe
	}
	for {
		for pkg := range src.ProcessEvents(ctx) {
			m.OnForegroundPackage(pkg)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(resubscribe):
		}
	}
}

// OnForegroundPackage applies a foreground change to the homescreen sessions.
// Sessions owned by the foreground launcher are resumed, which refreshes their
// providers; those of the launcher that left the foreground are paused.
func (m *Manager) OnForegroundPackage(pkg string) {
	m.fgMu.Lock()
	previous := m.foreground
	m.foreground = pkg
	m.fgMu.Unlock()
	if pkg == previous {
		return
	}

	m.mu.RLock()
	var resume, pause []*Session
	for _, s := range m.sessions[types.SessionKindNormal] {
		if s.config.Surface != types.SurfaceHomescreen {
			continue
		}
		switch s.config.PackageName {
		case pkg:
			resume = append(resume, s)
		case previous:
			pause = append(pause, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range pause {
		s.Pause()
	}
	for _, s := range resume {
		s.Resume()
	}
	if len(resume)+len(pause) > 0 {
		m.logger.Debug("Foreground changed",
			zap.String("package", pkg),
			zap.Int("resumed", len(resume)),
			zap.Int("paused", len(pause)))
	}
}

// Foreground returns the last package reported in the foreground
func (m *Manager) Foreground() string {
	m.fgMu.Lock()
	defer m.fgMu.Unlock()
	return m.foreground
}

// SetMediaPlaying records whether media controls are showing. A change
// re-renders every normal session so over-music settings apply at once.
func (m *Manager) SetMediaPlaying(playing bool) {
	if m.media.Swap(playing) == playing {
		return
	}
	m.logger.Info("Media playback changed", zap.Bool("playing", playing))
	m.ForceReload()
}

// MediaPlaying reports the state last set with SetMediaPlaying
func (m *Manager) MediaPlaying() bool {
	return m.media.Load()
}
