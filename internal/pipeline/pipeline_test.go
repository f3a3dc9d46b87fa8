package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/providers/sdk"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/shared/types"
)

func TestMergeOrdersByProviderAndDismissRemoves(t *testing.T) {
	ctx := context.Background()
	a := &fakeTargets{didDismiss: true, targets: []types.Target{{ID: "a1", FeatureType: types.FeatureCalendar, CanBeDismissed: true}}}
	b := &fakeTargets{targets: []types.Target{{ID: "b1", FeatureType: types.FeatureWeather}}}

	registry := NewRegistry()
	register(t, registry,
		targetInstance("A", "com.example.a", 10, a),
		targetInstance("B", "com.example.b", 5, b))
	p := newTestPipeline(t, Deps{Registry: registry, Dismissals: newMemDismissals()})

	targets := p.Targets(ctx, homeOptions())
	require.Len(t, targets, 2)
	assert.Equal(t, "a1", StripUniqueness(targets[0].ID))
	assert.Equal(t, "b1", StripUniqueness(targets[1].ID))

	ok, err := p.Dismiss(ctx, targets[0].ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"a1"}, a.dismissed)
	assert.Empty(t, b.dismissed, "only the owning provider is asked")

	targets = p.Targets(ctx, homeOptions())
	require.Len(t, targets, 1)
	assert.Equal(t, "b1", StripUniqueness(targets[0].ID))
}

func TestRefusedDismissKeepsTarget(t *testing.T) {
	ctx := context.Background()
	a := &fakeTargets{didDismiss: false, targets: []types.Target{{ID: "a1", FeatureType: types.FeatureCalendar}}}
	registry := NewRegistry()
	register(t, registry, targetInstance("A", "com.example.a", 0, a))
	p := newTestPipeline(t, Deps{Registry: registry, Dismissals: newMemDismissals()})

	targets := p.Targets(ctx, homeOptions())
	require.Len(t, targets, 1)

	ok, err := p.Dismiss(ctx, targets[0].ID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, p.Targets(ctx, homeOptions()), 1)
}

func TestDismissUnknownTarget(t *testing.T) {
	p := newTestPipeline(t, Deps{})
	_, err := p.Dismiss(context.Background(), "smartspacer_com.example_nope")
	assert.ErrorIs(t, err, ErrUnknownTarget)
}

func TestDismissedAlternativeIDIsFiltered(t *testing.T) {
	ctx := context.Background()
	a := &fakeTargets{didDismiss: true, targets: []types.Target{{ID: "event_1", AlternativeID: "event"}}}
	registry := NewRegistry()
	register(t, registry, targetInstance("A", "com.example.a", 0, a))
	dismissals := newMemDismissals()
	p := newTestPipeline(t, Deps{Registry: registry, Dismissals: dismissals})

	targets := p.Targets(ctx, homeOptions())
	require.Len(t, targets, 1)
	_, err := p.Dismiss(ctx, targets[0].ID)
	require.NoError(t, err)

	// the provider re-issues the event under a new id
	a.set(types.Target{ID: "event_2", AlternativeID: "event"})
	p.Invalidate("A")
	assert.Empty(t, p.Targets(ctx, homeOptions()))
}

func TestFailingProviderIsSkipped(t *testing.T) {
	ctx := context.Background()
	broken := &fakeTargets{err: errProviderGone}
	slow := &fakeTargets{delay: time.Second, targets: []types.Target{{ID: "slow"}}}
	good := &fakeTargets{targets: []types.Target{{ID: "good"}}}

	registry := NewRegistry()
	register(t, registry,
		targetInstance("broken", "com.example.broken", 3, broken),
		targetInstance("slow", "com.example.slow", 2, slow),
		targetInstance("good", "com.example.good", 1, good))
	p := newTestPipeline(t, Deps{Registry: registry})

	targets := p.Targets(ctx, homeOptions())
	require.Len(t, targets, 1)
	assert.Equal(t, "good", StripUniqueness(targets[0].ID))
}

func TestCancelledCallerDoesNotEmptySharedFetch(t *testing.T) {
	slow := &fakeTargets{delay: 100 * time.Millisecond, targets: []types.Target{{ID: "s1"}}}
	registry := NewRegistry()
	register(t, registry, targetInstance("S", "com.example.slow", 0, slow))
	p := newTestPipeline(t, Deps{Registry: registry})

	// a session torn down mid-merge
	dying, cancel := context.WithCancel(context.Background())
	done := make(chan []types.Target, 1)
	go func() { done <- p.Targets(dying, homeOptions()) }()
	require.Eventually(t, func() bool { return slow.callCount() == 1 }, time.Second, time.Millisecond)

	live := make(chan []types.Target, 1)
	go func() { live <- p.Targets(context.Background(), homeOptions()) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	assert.Empty(t, <-done)
	assert.Equal(t, []string{"s1"}, stripAll(<-live))
	assert.Equal(t, 1, slow.callCount(), "both callers share one fetch")
}

func TestResultsAreCachedUntilChange(t *testing.T) {
	ctx := context.Background()
	a := &fakeTargets{targets: []types.Target{{ID: "a1"}}}
	b := &fakeTargets{targets: []types.Target{{ID: "b1"}}}
	bus := sdk.NewChangeBus()

	registry := NewRegistry()
	instanceA := targetInstance("A", "com.example.a", 1, a)
	register(t, registry, instanceA, targetInstance("B", "com.example.b", 0, b))
	p := newTestPipeline(t, Deps{Registry: registry, Bus: bus})
	changes, cancel := p.Subscribe()
	defer cancel()

	p.Targets(ctx, homeOptions())
	p.Targets(ctx, homeOptions())
	assert.Equal(t, 1, a.callCount())
	assert.Equal(t, 1, b.callCount())

	// drain the signals raised by registration
	for len(changes) > 0 {
		<-changes
	}

	a.set(types.Target{ID: "a2"})
	bus.NotifyChange(instanceA.URI())

	select {
	case <-changes:
	case <-time.After(time.Second):
		t.Fatal("change was not signalled")
	}
	assert.Eventually(t, func() bool {
		targets := p.Targets(ctx, homeOptions())
		return len(targets) == 2 && StripUniqueness(targets[0].ID) == "a2"
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, b.callCount(), "unrelated providers stay cached")
}

func TestRequirementsGateInstance(t *testing.T) {
	ctx := context.Background()
	a := &fakeTargets{targets: []types.Target{{ID: "a1"}}}
	req := &fakeRequirement{met: false}
	bus := sdk.NewChangeBus()

	instance := targetInstance("A", "com.example.a", 0, a)
	instance.AllRequirements = []Requirement{{
		ID:        "wifi",
		Authority: "com.example.requirement",
		Endpoint:  requirementEndpoint(req),
	}}
	registry := NewRegistry()
	register(t, registry, instance)
	p := newTestPipeline(t, Deps{Registry: registry, Bus: bus})

	assert.Empty(t, p.Targets(ctx, homeOptions()))

	req.setMet(true)
	bus.NotifyChange(sdk.ChangeURI("com.example.requirement", "wifi"))
	assert.Eventually(t, func() bool {
		return len(p.Targets(ctx, homeOptions())) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestInvertedAnyRequirement(t *testing.T) {
	ctx := context.Background()
	a := &fakeTargets{targets: []types.Target{{ID: "a1"}}}
	instance := targetInstance("A", "com.example.a", 0, a)
	instance.AnyRequirements = []Requirement{
		{ID: "r1", Authority: "req", Endpoint: requirementEndpoint(&fakeRequirement{met: true})},
		{ID: "r2", Authority: "req", Invert: true, Endpoint: requirementEndpoint(&fakeRequirement{met: false})},
	}
	registry := NewRegistry()
	register(t, registry, instance)
	p := newTestPipeline(t, Deps{Registry: registry})

	assert.Len(t, p.Targets(ctx, homeOptions()), 1)
}

func TestFailedRequirementCountsAsUnmet(t *testing.T) {
	ctx := context.Background()
	a := &fakeTargets{targets: []types.Target{{ID: "a1"}}}
	instance := targetInstance("A", "com.example.a", 0, a)
	instance.AllRequirements = []Requirement{
		{ID: "r1", Authority: "req", Invert: true, Endpoint: requirementEndpoint(&fakeRequirement{err: errProviderGone})},
	}
	registry := NewRegistry()
	register(t, registry, instance)
	p := newTestPipeline(t, Deps{Registry: registry})

	assert.Empty(t, p.Targets(ctx, homeOptions()))
}

func TestComplicationsFillWeatherTarget(t *testing.T) {
	ctx := context.Background()
	weather := &fakeTargets{targets: []types.Target{{
		ID:          "weather",
		FeatureType: types.FeatureWeather,
		Header:      &types.Action{ID: "h", Title: "Mon 1 Jan"},
	}}}
	actions := &fakeActions{actions: []types.Action{
		{ID: "battery", Title: "Battery", Subtitle: "80%"},
		{ID: "steps", Title: "Steps", Subtitle: "1000"},
		{ID: "alarm", Title: "Alarm", Subtitle: "7:00"},
	}}

	registry := NewRegistry()
	register(t, registry,
		targetInstance("W", "com.example.weather", 1, weather),
		actionInstance("C", "com.example.complications", actions))
	p := newTestPipeline(t, Deps{Registry: registry})

	pages := p.Merge(ctx, homeOptions())
	require.Len(t, pages, 2)

	first := pages[0].Target
	assert.Equal(t, "Mon 1 Jan", first.Header.Title, "header keeps the target title")
	assert.Equal(t, "80%", first.Header.Subtitle)
	assert.Equal(t, "1000", first.Base.Subtitle)
	assert.Equal(t, "smartspacer_com.example.complications_battery", first.Header.ID)
	assert.Len(t, pages[0].Actions, 2)

	blank := pages[1]
	assert.True(t, blank.Blank())
	assert.Equal(t, "7:00", blank.Target.Header.Subtitle)
	assert.Equal(t, types.FeatureWeather, blank.Target.FeatureType)
	assert.False(t, blank.Target.CanBeDismissed)
}

func TestSurfaceSettingsAndLimits(t *testing.T) {
	ctx := context.Background()
	home := &fakeTargets{targets: []types.Target{
		{ID: "everywhere"},
		{ID: "lock_only", LimitToSurfaces: []types.Surface{types.SurfaceLockscreen}},
	}}
	instance := targetInstance("A", "com.example.a", 0, home)
	instance.Config.ShowOverMusic = false
	registry := NewRegistry()
	register(t, registry, instance)
	p := newTestPipeline(t, Deps{Registry: registry})

	assert.Equal(t, []string{"everywhere"}, stripAll(p.Targets(ctx, homeOptions())))
	assert.Equal(t, []string{"everywhere", "lock_only"}, stripAll(p.Targets(ctx, Options{Surface: types.SurfaceLockscreen})))
	assert.Empty(t, p.Targets(ctx, Options{Surface: types.SurfaceLockscreen, OverMusic: true}))
}

func TestSingleInstanceFeaturesAndPrimaryCap(t *testing.T) {
	ctx := context.Background()
	a := &fakeTargets{targets: []types.Target{
		{ID: "torch1", FeatureType: types.FeatureFlashlight},
		{ID: "torch2", FeatureType: types.FeatureFlashlight},
		{ID: "cal", FeatureType: types.FeatureCalendar},
		{ID: "cal", FeatureType: types.FeatureCalendar},
		{ID: "tips", FeatureType: types.FeatureTips},
	}}
	registry := NewRegistry()
	register(t, registry, targetInstance("A", "com.example.a", 0, a))
	p := newTestPipeline(t, Deps{Registry: registry})

	assert.Equal(t, []string{"torch1", "cal", "tips"}, stripAll(p.Targets(ctx, homeOptions())))

	p.maxPrimary = 2
	assert.Equal(t, []string{"torch1", "cal"}, stripAll(p.Targets(ctx, homeOptions())))
}

func TestPrimaryCapCountsOnlyEmittedTargets(t *testing.T) {
	ctx := context.Background()
	a := &fakeTargets{targets: []types.Target{
		{ID: "bare1", HideIfNoComplications: true},
		{ID: "bare2", HideIfNoComplications: true},
		{ID: "cal", FeatureType: types.FeatureCalendar},
		{ID: "tips", FeatureType: types.FeatureTips},
	}}
	registry := NewRegistry()
	register(t, registry, targetInstance("A", "com.example.a", 0, a))
	p := newTestPipeline(t, Deps{Registry: registry})
	p.maxPrimary = 2

	assert.Equal(t, []string{"cal", "tips"}, stripAll(p.Targets(ctx, homeOptions())))
}

func TestHubHidesSensitiveTargetsLikeLockscreen(t *testing.T) {
	ctx := context.Background()
	a := &fakeTargets{targets: []types.Target{sensitiveTarget(), {ID: "open", FeatureType: types.FeatureTips}}}
	registry := NewRegistry()
	register(t, registry, targetInstance("A", "com.example.a", 0, a))
	p := newTestPipeline(t, Deps{Registry: registry})

	hub := Options{Surface: types.SurfaceGlanceableHub, HideSensitive: types.HideSensitiveTarget}
	assert.Equal(t, []string{"open"}, stripAll(p.Targets(ctx, hub)))

	hub.HideSensitive = types.HideSensitiveContents
	targets := p.Targets(ctx, hub)
	require.Len(t, targets, 2)
	assert.Equal(t, ContentHidden, targets[0].Header.Title)

	home := Options{Surface: types.SurfaceHomescreen, HideSensitive: types.HideSensitiveTarget}
	assert.Equal(t, []string{"s", "open"}, stripAll(p.Targets(ctx, home)))
}

func TestDismissResolvesOwnerWithoutFetching(t *testing.T) {
	ctx := context.Background()
	a := &fakeTargets{didDismiss: true, targets: []types.Target{{ID: "a1", FeatureType: types.FeatureCalendar}}}
	b := &fakeTargets{targets: []types.Target{{ID: "b1", FeatureType: types.FeatureWeather}}}
	registry := NewRegistry()
	register(t, registry,
		targetInstance("A", "com.example.a", 10, a),
		targetInstance("B", "com.example.b", 5, b))
	p := newTestPipeline(t, Deps{Registry: registry, Dismissals: newMemDismissals()})

	require.Len(t, p.Targets(ctx, homeOptions()), 2)
	p.Invalidate("B")
	before := b.callCount()

	// the raw id is not in the emitted owner table, so only held results can answer
	ok, err := p.Dismiss(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"a1"}, a.dismissed)
	assert.Equal(t, before, b.callCount(), "other providers are not asked for targets")
}

func TestClickTogglesTorchForAmbientFlashlight(t *testing.T) {
	torch := &fakeTorch{}
	p := newTestPipeline(t, Deps{Torch: torch})

	assert.True(t, p.Click(context.Background(), "ambient_light_1", "FLASHLIGHT"))
	assert.False(t, p.Click(context.Background(), "ambient_light_1", "OTHER"))
	assert.False(t, p.Click(context.Background(), "calendar", "FLASHLIGHT"))
	assert.Equal(t, 1, torch.toggles)
}

func TestRequestUpdateRefreshesDueInstances(t *testing.T) {
	ctx := context.Background()
	periodic := &fakeTargets{period: 1, targets: []types.Target{{ID: "p"}}}
	never := &fakeTargets{targets: []types.Target{{ID: "n"}}}
	always := &fakeTargets{period: 1, always: true, targets: []types.Target{{ID: "hidden"}}}
	always.targets[0].LimitToSurfaces = []types.Surface{types.SurfaceLockscreen}

	registry := NewRegistry()
	register(t, registry,
		targetInstance("periodic", "com.example.p", 2, periodic),
		targetInstance("never", "com.example.n", 1, never),
		targetInstance("always", "com.example.a", 0, always))
	p := newTestPipeline(t, Deps{Registry: registry})
	now := time.Unix(1_700_000_000, 0)
	p.scheduler.now = func() time.Time { return now }

	pages := p.Merge(ctx, homeOptions())

	// hidden: only the refresh-if-not-visible instance is considered
	due := p.RequestUpdate(pages)
	assert.Equal(t, map[string][]string{"com.example.a": {"always"}}, due)

	p.Visibility().Set("session", true)
	due = p.RequestUpdate(pages)
	assert.Equal(t, map[string][]string{"com.example.p": {"periodic"}}, due)

	now = now.Add(56 * time.Second)
	due = p.RequestUpdate(pages)
	assert.Equal(t, map[string][]string{
		"com.example.p": {"periodic"},
		"com.example.a": {"always"},
	}, due, "a one minute period is due 5s early")

	p.Merge(ctx, homeOptions())
	assert.Equal(t, 1, never.callCount())
	assert.Equal(t, 2, periodic.callCount())
}

func stripAll(targets []types.Target) []string {
	out := ids(targets)
	for i := range out {
		out[i] = StripUniqueness(out[i])
	}
	return out
}
