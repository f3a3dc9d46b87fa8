package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/logging"
)

func newTestService(platform *fakePlatform, runner *fakeRunner) *Service {
	svc := NewService(Deps{
		Platform: platform,
		Runner:   runner,
		Logger:   logging.NewNop(),
	})
	svc.sleep = func(context.Context, time.Duration) error { return nil }
	return svc
}

func TestSetSmartspaceServiceKillsTargets(t *testing.T) {
	tests := []struct {
		name     string
		root     bool
		expected []string
	}{
		{
			name: "shell crashes keyguard",
			root: false,
			expected: []string{
				"cmd smartspace set temporary-service 0 com.app/.Service 30000",
				"am crash com.android.systemui",
				"am force-stop com.launcher",
			},
		},
		{
			name: "root kills systemui",
			root: true,
			expected: []string{
				"cmd smartspace set temporary-service 0 com.app/.Service 30000",
				"pkill systemui",
				"am force-stop com.launcher",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{}
			svc := newTestService(&fakePlatform{root: tt.root}, runner)

			err := svc.SetSmartspaceService(context.Background(), ServiceRequest{
				Component:    "com.app/.Service",
				KillSystemUI: true,
				KillPackages: []string{"com.launcher"},
			})
			require.NoError(t, err)
			assert.Equal(t, tt.expected, runner.history())
		})
	}
}

func TestSetSmartspaceServiceRequiresComponent(t *testing.T) {
	svc := newTestService(&fakePlatform{}, &fakeRunner{})
	assert.Error(t, svc.SetSmartspaceService(context.Background(), ServiceRequest{}))
}

func TestClearSmartspaceService(t *testing.T) {
	runner := &fakeRunner{}
	svc := newTestService(&fakePlatform{}, runner)

	require.NoError(t, svc.ClearSmartspaceService(context.Background(), ServiceRequest{UserID: 10}))
	assert.Equal(t, []string{"cmd smartspace set temporary-service 10"}, runner.history())
}

func TestKilledPackagesDoNotCountAsCrashes(t *testing.T) {
	svc := newTestService(&fakePlatform{}, &fakeRunner{})
	var events []CrashEvent
	_, detach := svc.crashListener.attach(context.Background(), func(ev CrashEvent) error {
		events = append(events, ev)
		return nil
	})
	defer detach()

	svc.killPackages(context.Background(), false, []string{"com.launcher"})
	for i := 0; i < DefaultCrashThreshold; i++ {
		svc.onPackageCrashed("com.launcher")
	}
	assert.Empty(t, events)
	assert.Equal(t, 0, svc.window.Count("com.launcher"))

	assert.Eventually(t, func() bool { return !svc.suppressCrash.Load() }, time.Second, 10*time.Millisecond)
}

func TestCrashStormReported(t *testing.T) {
	svc := newTestService(&fakePlatform{}, &fakeRunner{})
	var events []CrashEvent
	_, detach := svc.crashListener.attach(context.Background(), func(ev CrashEvent) error {
		events = append(events, ev)
		return nil
	})
	defer detach()

	for i := 0; i < DefaultCrashThreshold-1; i++ {
		svc.onPackageCrashed("com.plugin")
	}
	assert.Empty(t, events)

	svc.onPackageCrashed("com.plugin")
	assert.Equal(t, []CrashEvent{{Package: "com.plugin"}}, events)
}

func TestASICrashReportedImmediately(t *testing.T) {
	svc := newTestService(&fakePlatform{}, &fakeRunner{})
	var events []CrashEvent
	_, detach := svc.crashListener.attach(context.Background(), func(ev CrashEvent) error {
		events = append(events, ev)
		return nil
	})
	defer detach()

	svc.onPackageCrashed(ASIPackage)
	assert.Equal(t, []CrashEvent{{Package: ASIPackage, ASIStopped: true}}, events)
	assert.Equal(t, 0, svc.window.Count(ASIPackage))
}

func TestRunForwardsSources(t *testing.T) {
	processes := make(chanProcesses, 4)
	tasks := make(chanTasks, 1)
	svc := NewService(Deps{
		Platform:  &fakePlatform{},
		Runner:    &fakeRunner{},
		PIDs:      staticPIDs{7: "com.example:ui"},
		Processes: processes,
		Tasks:     tasks,
		Logger:    logging.NewNop(),
	})

	foreground := make(chan string, 4)
	_, detach := svc.processObserver.attach(context.Background(), func(pkg string) error {
		foreground <- pkg
		return nil
	})
	defer detach()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	processes <- ProcessEvent{PID: 99, Foreground: true}
	processes <- ProcessEvent{PID: 7, Foreground: false}
	processes <- ProcessEvent{PID: 7, Foreground: true}
	tasks <- []string{"com.mail"}

	select {
	case pkg := <-foreground:
		assert.Equal(t, "com.example", pkg)
	case <-time.After(time.Second):
		t.Fatal("no foreground event")
	}

	// The task list is replayed to a late observer.
	assert.Eventually(t, func() bool {
		var got []string
		_, d := svc.taskObserver.attach(context.Background(), func(v []string) error {
			got = v
			return nil
		})
		d()
		return len(got) == 1 && got[0] == "com.mail"
	}, time.Second, 10*time.Millisecond)

	cancel()
	close(processes)
	close(tasks)
	<-done
}

func TestStartShortcutTogglesBackgroundStarts(t *testing.T) {
	runner := &fakeRunner{}
	platform := &fakePlatform{}
	svc := newTestService(platform, runner)

	var sleeps []time.Duration
	svc.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	platform.onStart = func() {
		assert.Equal(t, []string{backgroundStartsCommand(true)}, runner.history())
	}

	require.NoError(t, svc.StartShortcut(context.Background(), "com.app", "compose"))
	assert.Equal(t, []string{"com.app/compose"}, platform.started)
	assert.Equal(t, []time.Duration{shortcutSettleDelay, shortcutSettleDelay}, sleeps)
	assert.Equal(t, []string{backgroundStartsCommand(true), backgroundStartsCommand(false)}, runner.history())
}

func TestGetAppShortcutIconSwallowsErrors(t *testing.T) {
	svc := newTestService(&fakePlatform{iconErr: ErrUnsupported}, &fakeRunner{})
	assert.Nil(t, svc.GetAppShortcutIcon(context.Background(), "com.app", "gone"))
}

func TestPredictionSessionReplaced(t *testing.T) {
	platform := &fakePlatform{}
	svc := newTestService(platform, &fakeRunner{})

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	defer cancelFirst()
	first := make(chan []Prediction, 1)
	firstDone := make(chan error, 1)
	go func() {
		firstDone <- svc.RunAppPredictions(firstCtx, func(p []Prediction) error {
			first <- p
			return nil
		})
	}()
	require.Eventually(t, func() bool { return platform.lastDeliver() != nil }, time.Second, 5*time.Millisecond)

	platform.lastDeliver()([]Prediction{{Package: "com.a", Rank: 1}})
	assert.Equal(t, []Prediction{{Package: "com.a", Rank: 1}}, <-first)

	secondCtx, cancelSecond := context.WithCancel(context.Background())
	defer cancelSecond()
	go func() {
		_ = svc.RunAppPredictions(secondCtx, func([]Prediction) error { return nil })
	}()

	select {
	case err := <-firstDone:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("first stream not ended by replacement")
	}
	require.Eventually(t, func() bool {
		platform.mu.Lock()
		defer platform.mu.Unlock()
		return len(platform.specs) == 2
	}, time.Second, 5*time.Millisecond)

	platform.mu.Lock()
	defer platform.mu.Unlock()
	require.Len(t, platform.specs, 2)
	assert.Equal(t, "home", platform.specs[0].UISurface)
	assert.Equal(t, 10, platform.specs[0].Count)
	assert.Equal(t, 1, platform.predSess[0].destroyed)
}

func TestWidgetPredictionsCarryExtras(t *testing.T) {
	platform := &fakePlatform{}
	svc := newTestService(platform, &fakeRunner{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		_ = svc.RunWidgetPredictions(ctx, map[string]any{"added": "a,b"}, func([]Prediction) error { return nil })
		close(done)
	}()
	require.Eventually(t, func() bool { return platform.lastDeliver() != nil }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	platform.mu.Lock()
	defer platform.mu.Unlock()
	spec := platform.specs[0]
	assert.Equal(t, PredictorWidget, spec.Kind)
	assert.Equal(t, "widgets", spec.UISurface)
	assert.Equal(t, 20, spec.Count)
	assert.Equal(t, "a,b", spec.Extras["added"])
	assert.Equal(t, 1, platform.predSess[0].destroyed)
}

func TestProxyContentProviderReleases(t *testing.T) {
	released := 0
	platform := &fakePlatform{provider: &fakeProvider{mime: "image/png", data: []byte("data"), released: &released}}
	svc := newTestService(platform, &fakeRunner{})
	ctx := context.Background()

	mime, err := svc.ProxyContentProviderGetType(ctx, "content://com.plugin.images/icon/1")
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)
	assert.Equal(t, "com.plugin.images", platform.authority)

	data, err := svc.ProxyContentProviderOpenFile(ctx, "content://com.plugin.images/icon/1", "")
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), data)
	assert.Equal(t, 2, released)

	_, err = svc.ProxyContentProviderGetType(ctx, "https://example.com")
	assert.Error(t, err)
}

func TestStreamTypesComeFromProvider(t *testing.T) {
	released := 0
	provider := &fakeProvider{
		streams:  []string{"image/webp", "image/png", "text/plain"},
		data:     []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"),
		released: &released,
	}
	svc := newTestService(&fakePlatform{provider: provider}, &fakeRunner{})
	ctx := context.Background()

	mimes, err := svc.ProxyContentProviderGetStreamTypes(ctx, "content://com.plugin.images/icon/1", "image/*")
	require.NoError(t, err)
	assert.Equal(t, []string{"image/webp", "image/png"}, mimes)
	assert.Zero(t, provider.opened, "declared types need no read")
	assert.Equal(t, 1, released)

	provider.streams = nil
	mimes, err = svc.ProxyContentProviderGetStreamTypes(ctx, "content://com.plugin.images/icon/1", "image/*")
	require.NoError(t, err)
	assert.Equal(t, []string{"image/png"}, mimes, "undeclared content is sniffed")
	assert.Equal(t, 1, provider.opened)
	assert.Equal(t, 2, released)
}

const savedNetworksOutput = `Network Id   SSID                             Security type
0            Home                             wpa2-psk
1            Cafe Guest Wifi                  open
12           "Quoted"                         wpa3-sae
`

func TestGetSavedWiFiNetworks(t *testing.T) {
	runner := &fakeRunner{out: map[string]string{"cmd wifi list-networks": savedNetworksOutput}}
	svc := newTestService(&fakePlatform{}, runner)

	networks, err := svc.GetSavedWiFiNetworks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []WiFiNetwork{
		{NetworkID: 0, SSID: "Home", Security: "wpa2-psk"},
		{NetworkID: 1, SSID: "Cafe Guest Wifi", Security: "open"},
		{NetworkID: 12, SSID: "Quoted", Security: "wpa3-sae"},
	}, networks)

	empty := newTestService(&fakePlatform{}, &fakeRunner{out: map[string]string{"cmd wifi list-networks": "No networks\n"}})
	networks, err = empty.GetSavedWiFiNetworks(context.Background())
	require.NoError(t, err)
	assert.Empty(t, networks)
}

func TestGrantHostAccessRunsBothOps(t *testing.T) {
	restricted := "cmd appops set com.host ACCESS_RESTRICTED_SETTINGS allow"
	power := "cmd appops set com.host SYSTEM_EXEMPT_FROM_POWER_RESTRICTIONS allow"
	runner := &fakeRunner{fail: map[string]error{restricted: ErrUnsupported}}
	svc := newTestService(&fakePlatform{}, runner)

	svc.GrantHostAccess(context.Background(), "com.host")
	assert.Equal(t, []string{restricted, power}, runner.history(), "a failed grant does not stop the next")
}

func TestDestroyExits(t *testing.T) {
	exitCode := -1
	svc := NewService(Deps{
		Platform: &fakePlatform{},
		Runner:   &fakeRunner{},
		Logger:   logging.NewNop(),
		Exit:     func(code int) { exitCode = code },
	})
	ctx, detach := svc.processObserver.attach(context.Background(), func(string) error { return nil })
	defer detach()

	svc.Destroy()
	assert.Equal(t, 0, exitCode)
	assert.Error(t, ctx.Err())
}
