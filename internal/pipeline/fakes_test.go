package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/config"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/logging"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/providers/sdk"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/shared/types"
)

const testHost = "com.kieronquinn.app.smartspacer"

type fakeTargets struct {
	mu         sync.Mutex
	targets    []types.Target
	err        error
	delay      time.Duration
	calls      int
	dismissed  []string
	didDismiss bool
	period     int
	always     bool
}

func (f *fakeTargets) GetTargets(ctx context.Context, _ string) ([]types.Target, error) {
	f.mu.Lock()
	f.calls++
	targets, err, delay := f.targets, f.err, f.delay
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return targets, err
}

func (f *fakeTargets) GetConfig(context.Context, string) (sdk.Config, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return sdk.Config{
		Label:                "Fake",
		Compatibility:        sdk.Compatible,
		RefreshPeriodMinutes: f.period,
		RefreshIfNotVisible:  f.always,
	}, nil
}

func (f *fakeTargets) OnDismiss(_ context.Context, _ string, targetID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dismissed = append(f.dismissed, targetID)
	return f.didDismiss, nil
}

func (f *fakeTargets) set(targets ...types.Target) {
	f.mu.Lock()
	f.targets = targets
	f.mu.Unlock()
}

func (f *fakeTargets) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeActions struct {
	actions []types.Action
}

func (f *fakeActions) GetActions(context.Context, string) ([]types.Action, error) {
	return f.actions, nil
}

func (f *fakeActions) GetConfig(context.Context, string) (sdk.Config, error) {
	return sdk.Config{Label: "Complication", Compatibility: sdk.Compatible}, nil
}

type fakeRequirement struct {
	mu  sync.Mutex
	met bool
	err error
}

func (f *fakeRequirement) IsRequirementMet(context.Context, string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.met, f.err
}

func (f *fakeRequirement) GetConfig(context.Context, string) (sdk.Config, error) {
	return sdk.Config{Label: "Requirement", Compatibility: sdk.Compatible}, nil
}

func (f *fakeRequirement) setMet(met bool) {
	f.mu.Lock()
	f.met = met
	f.mu.Unlock()
}

type memDismissals struct {
	mu  sync.Mutex
	set map[string]map[string]struct{}
}

func newMemDismissals() *memDismissals {
	return &memDismissals{set: make(map[string]map[string]struct{})}
}

func (m *memDismissals) Dismissed(_ context.Context, instanceID string) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]struct{}, len(m.set[instanceID]))
	for k := range m.set[instanceID] {
		out[k] = struct{}{}
	}
	return out, nil
}

func (m *memDismissals) AddDismissal(_ context.Context, instanceID, targetID, alternativeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.set[instanceID] == nil {
		m.set[instanceID] = make(map[string]struct{})
	}
	m.set[instanceID][targetID] = struct{}{}
	if alternativeID != "" {
		m.set[instanceID][alternativeID] = struct{}{}
	}
	return nil
}

type fakeTorch struct {
	toggles int
}

func (f *fakeTorch) ToggleTorch(context.Context) bool {
	f.toggles++
	return true
}

var errProviderGone = errors.New("provider has gone")

func targetEndpoint(p sdk.TargetProvider) sdk.Endpoint {
	d := sdk.NewDispatcher(testHost)
	sdk.ServeTargets(d, p)
	return d.Endpoint(testHost)
}

func actionEndpoint(p sdk.ComplicationProvider) sdk.Endpoint {
	d := sdk.NewDispatcher(testHost)
	sdk.ServeComplications(d, p)
	return d.Endpoint(testHost)
}

func requirementEndpoint(p sdk.RequirementProvider) sdk.Endpoint {
	d := sdk.NewDispatcher(testHost)
	sdk.ServeRequirements(d, p)
	return d.Endpoint(testHost)
}

func targetInstance(id, pkg string, priority int, p sdk.TargetProvider) *Instance {
	return &Instance{
		ID:        id,
		Role:      RoleTarget,
		Authority: pkg + ".target",
		Package:   pkg,
		Priority:  priority,
		Config:    types.DefaultInstanceConfig(),
		Endpoint:  targetEndpoint(p),
	}
}

func actionInstance(id, pkg string, p sdk.ComplicationProvider) *Instance {
	return &Instance{
		ID:        id,
		Role:      RoleComplication,
		Authority: pkg + ".complication",
		Package:   pkg,
		Config:    types.DefaultInstanceConfig(),
		Endpoint:  actionEndpoint(p),
	}
}

func newTestPipeline(t *testing.T, deps Deps) *Pipeline {
	t.Helper()
	if deps.Registry == nil {
		deps.Registry = NewRegistry()
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	cfg := config.PipelineConfig{ProviderTimeout: 200 * time.Millisecond, RefreshBuffer: 5 * time.Second}
	p := New(cfg, testHost, deps)
	t.Cleanup(p.Close)
	return p
}

func register(t *testing.T, r *Registry, instances ...*Instance) {
	t.Helper()
	for _, instance := range instances {
		require.NoError(t, r.Register(instance))
	}
}

func ids(targets []types.Target) []string {
	out := make([]string, 0, len(targets))
	for _, target := range targets {
		out = append(out, target.ID)
	}
	return out
}

func homeOptions() Options {
	return Options{Surface: types.SurfaceHomescreen}
}
