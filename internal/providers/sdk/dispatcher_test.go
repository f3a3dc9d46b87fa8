package sdk

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/shared/types"
)

const testHost = "com.kieronquinn.app.smartspacer"

type fakeTargets struct {
	targets    []types.Target
	dismissed  []string
	didDismiss bool
	removed    []string
	backup     Backup
	restored   *Backup
}

func (f *fakeTargets) GetTargets(context.Context, string) ([]types.Target, error) {
	return f.targets, nil
}

func (f *fakeTargets) GetConfig(context.Context, string) (Config, error) {
	return Config{Label: "Fake", Compatibility: Compatible, RefreshPeriodMinutes: 5}, nil
}

func (f *fakeTargets) OnDismiss(_ context.Context, _ string, targetID string) (bool, error) {
	f.dismissed = append(f.dismissed, targetID)
	return f.didDismiss, nil
}

func (f *fakeTargets) OnRemoved(_ context.Context, smartspacerID string) error {
	f.removed = append(f.removed, smartspacerID)
	return nil
}

func (f *fakeTargets) CreateBackup(context.Context, string) (Backup, error) {
	return f.backup, nil
}

func (f *fakeTargets) RestoreBackup(_ context.Context, _ string, b Backup) (bool, error) {
	f.restored = &b
	return b.Data != "", nil
}

func TestDispatcherRejectsForeignCaller(t *testing.T) {
	d := NewDispatcher(testHost)
	called := false
	d.Handle(MethodGetTargets, func(context.Context, string, Bundle) (Bundle, error) {
		called = true
		return nil, nil
	})

	for _, caller := range []string{"", "com.evil.app"} {
		_, err := d.Dispatch(context.Background(), caller, MethodGetTargets, "", nil)
		assert.ErrorIs(t, err, ErrSecurity)
	}
	assert.False(t, called)
}

func TestDispatcherChecksCallerBeforeMethod(t *testing.T) {
	d := NewDispatcher(testHost)

	_, err := d.Dispatch(context.Background(), "com.evil.app", "no_such_method", "", nil)
	assert.ErrorIs(t, err, ErrSecurity)

	_, err = d.Dispatch(context.Background(), testHost, "no_such_method", "", nil)
	assert.ErrorIs(t, err, ErrUnknownMethod)
}

func TestDispatcherNeverReturnsNilBundle(t *testing.T) {
	d := NewDispatcher(testHost)
	d.Handle("noop", func(context.Context, string, Bundle) (Bundle, error) { return nil, nil })

	result, err := d.Dispatch(context.Background(), testHost, "noop", "", nil)
	require.NoError(t, err)
	assert.NotNil(t, result)
}

func TestServeTargetsMethods(t *testing.T) {
	d := NewDispatcher(testHost)
	ServeTargets(d, &fakeTargets{})

	assert.Equal(t, []string{
		MethodBackup,
		MethodDismiss,
		MethodGetTargets,
		MethodGetTargetsConfig,
		MethodOnRemoved,
		MethodRestore,
	}, d.Methods())
}

func TestTargetClientRoundTrip(t *testing.T) {
	provider := &fakeTargets{
		targets: []types.Target{
			{ID: "a1", FeatureType: types.FeatureCalendar, Header: &types.Action{ID: "h", Title: "Standup"}},
		},
		didDismiss: true,
		backup:     Backup{Data: `{"k":1}`, Name: "Fake"},
	}
	d := NewDispatcher(testHost)
	ServeTargets(d, provider)
	client := NewTargetClient(d.Endpoint(testHost))
	ctx := context.Background()

	targets, err := client.GetTargets(ctx, "instance-1")
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, "a1", targets[0].ID)
	assert.Equal(t, types.FeatureCalendar, targets[0].FeatureType)
	assert.Equal(t, "Standup", targets[0].Header.Title)

	cfg, err := client.GetConfig(ctx, "instance-1")
	require.NoError(t, err)
	assert.Equal(t, "Fake", cfg.Label)
	assert.Equal(t, 5, cfg.RefreshPeriodMinutes)

	ok, err := client.Dismiss(ctx, "instance-1", "a1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"a1"}, provider.dismissed)

	require.NoError(t, client.OnRemoved(ctx, "instance-1"))
	assert.Equal(t, []string{"instance-1"}, provider.removed)

	backup, err := client.Backup(ctx, "instance-1")
	require.NoError(t, err)
	require.NotNil(t, backup)
	assert.Equal(t, provider.backup, *backup)

	restored, err := client.Restore(ctx, "instance-2", *backup)
	require.NoError(t, err)
	assert.True(t, restored)
	assert.Equal(t, provider.backup, *provider.restored)
}

func TestTargetClientForeignCallerGetsSecurityError(t *testing.T) {
	d := NewDispatcher(testHost)
	ServeTargets(d, &fakeTargets{})

	_, err := NewTargetClient(d.Endpoint("com.evil.app")).GetTargets(context.Background(), "x")
	assert.ErrorIs(t, err, ErrSecurity)
}

type staticEndpoint struct {
	result Bundle
	err    error
	calls  []string
}

func (s *staticEndpoint) Call(_ context.Context, method, _ string, _ Bundle) (Bundle, error) {
	s.calls = append(s.calls, method)
	return s.result, s.err
}

func TestDismissDefaultsToTrueWithoutResult(t *testing.T) {
	client := NewTargetClient(&staticEndpoint{result: nil})

	ok, err := client.Dismiss(context.Background(), "id", "t")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDismissHonoursFalse(t *testing.T) {
	client := NewTargetClient(&staticEndpoint{result: Bundle{KeyDidDismiss: false}})

	ok, err := client.Dismiss(context.Background(), "id", "t")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClientErrorsAreWrapped(t *testing.T) {
	boom := errors.New("provider died")
	client := NewComplicationClient(&staticEndpoint{err: boom})

	_, err := client.GetActions(context.Background(), "id")
	assert.ErrorIs(t, err, boom)

	cfg, err := client.GetConfig(context.Background(), "id")
	assert.ErrorIs(t, err, boom)
	assert.False(t, cfg.Compatibility.Compatible)
}

func TestEmptyConfigIsUnavailable(t *testing.T) {
	client := NewRequirementClient(&staticEndpoint{result: Bundle{}})

	cfg, err := client.GetConfig(context.Background(), "id")
	require.NoError(t, err)
	assert.Equal(t, UnavailableConfig(), cfg)

	met, err := client.IsMet(context.Background(), "id")
	require.NoError(t, err)
	assert.False(t, met)
}

func TestRestoreWithoutSuccessFlagFails(t *testing.T) {
	client := NewTargetClient(&staticEndpoint{result: Bundle{}})

	ok, err := client.Restore(context.Background(), "id", Backup{Data: "x"})
	require.NoError(t, err)
	assert.False(t, ok)
}
