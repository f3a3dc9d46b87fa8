package bridge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type stepClock struct {
	t time.Time
}

func (c *stepClock) now() time.Time { return c.t }

func (c *stepClock) at(offset time.Duration) {
	c.t = time.Unix(1_700_000_000, 0).Add(offset)
}

func newTestWindow() (*CrashWindow, *stepClock) {
	clock := &stepClock{}
	clock.at(0)
	w := NewCrashWindow(DefaultCrashThreshold, DefaultCrashWindow)
	w.now = clock.now
	return w, clock
}

func TestCrashWindowTriggersWithinWindow(t *testing.T) {
	w, clock := newTestWindow()

	offsets := []time.Duration{0, 2 * time.Second, 4 * time.Second, 6 * time.Second}
	for _, off := range offsets {
		clock.at(off)
		assert.False(t, w.Record("com.example"))
	}

	clock.at(9 * time.Second)
	assert.True(t, w.Record("com.example"))
	assert.Equal(t, 5, w.Count("com.example"))
}

func TestCrashWindowPurgesOldCrashes(t *testing.T) {
	w, clock := newTestWindow()

	for i := 0; i < 4; i++ {
		clock.at(time.Duration(i) * 100 * time.Millisecond)
		assert.False(t, w.Record("com.example"))
	}

	clock.at(11 * time.Second)
	assert.False(t, w.Record("com.example"))
	assert.Equal(t, 1, w.Count("com.example"))
}

func TestCrashWindowIsPerPackage(t *testing.T) {
	w, _ := newTestWindow()

	for i := 0; i < 4; i++ {
		w.Record("a")
		w.Record("b")
	}
	assert.True(t, w.Record("a"))
	assert.Equal(t, 4, w.Count("b"))
}

func TestCrashWindowDefaults(t *testing.T) {
	w := NewCrashWindow(0, 0)
	assert.Equal(t, DefaultCrashThreshold, w.threshold)
	assert.Equal(t, DefaultCrashWindow, w.window)
}
