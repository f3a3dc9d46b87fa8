package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/shared/types"
)

const launcher = "com.google.android.apps.nexuslauncher"

type chanForeground chan string

func (c chanForeground) ProcessEvents(context.Context) <-chan string { return c }

func TestForegroundDrivesHomeSessions(t *testing.T) {
	h := newHarness(t, false)
	h.create(t, "home", types.SurfaceHomescreen)
	require.NoError(t, h.manager.OnCreateSession(context.Background(), types.SessionConfig{
		PackageName: "com.android.systemui",
		Surface:     types.SurfaceLockscreen,
	}, "lock"))

	h.manager.OnForegroundPackage(launcher)
	home, ok := h.manager.Get("home")
	require.True(t, ok)
	assert.Equal(t, StateResumed, home.State())
	assert.True(t, h.source.visibility.Visible())

	h.manager.OnForegroundPackage("com.example.browser")
	assert.Equal(t, StatePaused, home.State())
	assert.False(t, h.source.visibility.Visible())

	h.manager.OnForegroundPackage(launcher)
	assert.Equal(t, 1, h.source.updateCount(), "returning to the launcher refreshes providers")

	lock, ok := h.manager.Get("lock")
	require.True(t, ok)
	assert.Equal(t, StateCreated, lock.State(), "lockscreen sessions follow surface events only")
}

func TestWatchForegroundConsumesStream(t *testing.T) {
	h := newHarness(t, false)
	events := make(chanForeground, 1)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.manager.WatchForeground(ctx, events, time.Millisecond) }()

	events <- launcher
	assert.Eventually(t, func() bool { return h.manager.Foreground() == launcher }, time.Second, 5*time.Millisecond)

	cancel()
	close(events)
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestMediaPlayingAppliesOverMusic(t *testing.T) {
	h := newHarness(t, false, types.Target{ID: "t1"})
	h.create(t, "lock", types.SurfaceLockscreen)
	h.next(t)
	assert.False(t, h.source.mergedOverMusic())

	h.manager.SetMediaPlaying(true)
	assert.True(t, h.manager.MediaPlaying())
	h.next(t)
	assert.True(t, h.source.mergedOverMusic())

	h.manager.SetMediaPlaying(true)
	h.quiet(t)
}
