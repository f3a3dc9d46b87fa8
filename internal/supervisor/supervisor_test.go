package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/bridge"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/logging"
)

type fakeBridge struct {
	mu     sync.Mutex
	events chan bridge.CrashEvent
	resets []bridge.ServiceRequest
}

func (b *fakeBridge) CrashEvents(ctx context.Context) <-chan bridge.CrashEvent {
	return b.events
}

func (b *fakeBridge) ResetServiceIfAvailable(ctx context.Context, req bridge.ServiceRequest) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resets = append(b.resets, req)
	return false
}

type fakeBroadcaster struct {
	mu      sync.Mutex
	notices []Notice
	err     error
}

func (b *fakeBroadcaster) Broadcast(ctx context.Context, notice Notice) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notices = append(b.notices, notice)
	return b.err
}

type harness struct {
	supervisor  *Supervisor
	bridge      *fakeBridge
	broadcaster *fakeBroadcaster
	signer      *Signer
	exits       []int
	asiStops    int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	signer, err := NewSigner("secret")
	require.NoError(t, err)

	h := &harness{
		bridge:      &fakeBridge{events: make(chan bridge.CrashEvent, 8)},
		broadcaster: &fakeBroadcaster{},
		signer:      signer,
	}
	h.supervisor = New(Deps{
		Bridge:           h.bridge,
		Broadcaster:      h.broadcaster,
		Signer:           signer,
		WatchPackages:    func() []string { return []string{"com.android.systemui"} },
		DefaultComponent: func(context.Context) string { return "com.google.android.as/.Smartspace" },
		KillPackages:     []string{"com.google.android.apps.nexuslauncher"},
		OnASIStopped:     func(context.Context) { h.asiStops++ },
		Exit:             func(code int) { h.exits = append(h.exits, code) },
		Logger:           logging.NewNop(),
	})
	return h
}

func TestSafeModeTriggersOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.supervisor.Handle(ctx, bridge.CrashEvent{Package: "com.android.systemui"})
	h.supervisor.Handle(ctx, bridge.CrashEvent{Package: "com.android.systemui"})

	assert.Equal(t, []int{0}, h.exits)
	require.Len(t, h.bridge.resets, 1)
	assert.Equal(t, "com.google.android.as/.Smartspace", h.bridge.resets[0].Component)
	assert.True(t, h.bridge.resets[0].KillSystemUI)

	require.Len(t, h.broadcaster.notices, 1)
	notice := h.broadcaster.notices[0]
	assert.Equal(t, "com.android.systemui", notice.CrashedPackage)
	assert.True(t, h.signer.Verify(notice.CrashedPackage, notice.IssuedAt, notice.Token))
}

func TestUnwatchedCrashIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.supervisor.Handle(context.Background(), bridge.CrashEvent{Package: "com.example.other"})

	assert.Empty(t, h.exits)
	assert.Empty(t, h.broadcaster.notices)
}

func TestBroadcastFailureStillExits(t *testing.T) {
	h := newHarness(t)
	h.broadcaster.err = errors.New("receiver gone")

	h.supervisor.TriggerSafeMode(context.Background(), "com.android.systemui")
	assert.Equal(t, []int{0}, h.exits)
}

func TestASIStopIsForwardedWithoutSafeMode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.supervisor.Handle(ctx, bridge.CrashEvent{Package: "com.google.android.as", ASIStopped: true})
	h.supervisor.Handle(ctx, bridge.CrashEvent{Package: "com.google.android.as", ASIStopped: true})

	assert.Equal(t, 1, h.asiStops, "repeated stops are rate limited")
	assert.Empty(t, h.exits)
}

func TestRunStopsWithContext(t *testing.T) {
	h := newHarness(t)
	h.supervisor.resubscribe = time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.supervisor.Run(ctx) }()

	h.bridge.events <- bridge.CrashEvent{Package: "com.example.other"}
	cancel()
	close(h.bridge.events)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestSignerRejectsForeignTokens(t *testing.T) {
	ours, err := NewSigner("one")
	require.NoError(t, err)
	theirs, err := NewSigner("two")
	require.NoError(t, err)

	at := time.Unix(1_700_000_000, 0)
	token := theirs.Token("pkg", at)
	assert.False(t, ours.Verify("pkg", at, token))
	assert.True(t, theirs.Verify("pkg", at, token))
	assert.False(t, theirs.Verify("pkg", at.Add(time.Second), token))
}
