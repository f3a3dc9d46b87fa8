package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/logging"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/pipeline"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/providers/sdk"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/store"
)

const weatherManifest = `
package: com.example.weather
address: unix:///tmp/weather.sock
permissions:
  notifications: true
providers:
  - id: weather-target
    authority: com.example.weather.target
    priority: 2
    config:
      show_on_lock: false
    requirements:
      all:
        - authority: com.example.weather.requirement
  - authority: com.example.weather.complication
    role: complication
`

type fakeEndpoint struct {
	address string
	closed  atomic.Bool

	mu    sync.Mutex
	calls []string
}

func (e *fakeEndpoint) Call(ctx context.Context, method, arg string, extras sdk.Bundle) (sdk.Bundle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, method+":"+extras.String(sdk.KeySmartspacerID))
	return sdk.Bundle{}, nil
}

func (e *fakeEndpoint) Close() error {
	e.closed.Store(true)
	return nil
}

type dialer struct {
	mu        sync.Mutex
	endpoints []*fakeEndpoint
}

func (d *dialer) dial(address string) (Endpoint, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e := &fakeEndpoint{address: address}
	d.endpoints = append(d.endpoints, e)
	return e, nil
}

func (d *dialer) last() *fakeEndpoint {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.endpoints[len(d.endpoints)-1]
}

func writeManifest(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestManager(t *testing.T) (*Manager, *pipeline.Registry, *store.Store, *dialer) {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	d := &dialer{}
	r := pipeline.NewRegistry()
	return NewManager(t.TempDir(), r, st, d.dial, logging.NewNop()), r, st, d
}

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest([]byte(weatherManifest))
	require.NoError(t, err)

	require.Len(t, m.Providers, 2)
	target := m.Providers[0]
	assert.Equal(t, "weather-target", target.ID)
	assert.Equal(t, pipeline.RoleTarget, target.Role)
	assert.False(t, target.InstanceConfig().ShowOnLockScreen)
	assert.True(t, target.InstanceConfig().ShowOnHomeScreen)
	require.Len(t, target.Requirements.All, 1)
	assert.NotEmpty(t, target.Requirements.All[0].ID)

	complication := m.Providers[1]
	assert.Equal(t, pipeline.RoleComplication, complication.Role)
	assert.Equal(t, derivedID("com.example.weather", "com.example.weather.complication"), complication.ID)
}

func TestParseManifestRejectsInvalid(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
	}{
		{"no package", "address: x\nproviders:\n  - authority: com.example.a\n"},
		{"bad package", "package: p\naddress: x\nproviders:\n  - authority: com.example.a\n"},
		{"no address", "package: com.example.p\nproviders:\n  - authority: com.example.a\n"},
		{"no providers", "package: com.example.p\naddress: x\n"},
		{"bad authority", "package: com.example.p\naddress: x\nproviders:\n  - authority: a\n"},
		{"bad role", "package: com.example.p\naddress: x\nproviders:\n  - authority: com.example.a\n    role: widget\n"},
		{"duplicate", "package: com.example.p\naddress: x\nproviders:\n  - authority: com.example.a\n  - authority: com.example.a\n"},
		{"unknown key", "package: com.example.p\naddress: x\ncolour: red\nproviders:\n  - authority: com.example.a\n"},
		{"not yaml", "package: [p\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest([]byte(tt.manifest))
			assert.Error(t, err)
		})
	}
}

func TestLoadRegistersProviders(t *testing.T) {
	ctx := context.Background()
	m, r, st, d := newTestManager(t)
	writeManifest(t, m.Dir(), "weather/plugin.yaml", weatherManifest)
	writeManifest(t, m.Dir(), "README.md", "not a manifest")

	require.NoError(t, m.Load(ctx))

	inst, ok := r.Get("weather-target")
	require.True(t, ok)
	assert.Equal(t, "com.example.weather", inst.Package)
	assert.Equal(t, 2, inst.Priority)
	assert.False(t, inst.Config.ShowOnLockScreen)
	require.Len(t, inst.AllRequirements, 1)
	assert.Len(t, r.List(pipeline.RoleComplication), 1)
	assert.Equal(t, "unix:///tmp/weather.sock", d.last().address)

	g, err := st.Grant(ctx, "com.example.weather")
	require.NoError(t, err)
	assert.True(t, g.Smartspace)
	assert.True(t, g.Notifications)

	saved, err := st.Instance(ctx, "weather-target")
	require.NoError(t, err)
	assert.Equal(t, "target", saved.Kind)

	// an unchanged manifest is not re-dialed
	require.NoError(t, m.Load(ctx))
	assert.Len(t, d.endpoints, 1)
}

func TestLoadKeepsStoredSettings(t *testing.T) {
	ctx := context.Background()
	m, r, st, _ := newTestManager(t)
	writeManifest(t, m.Dir(), "weather.yaml", weatherManifest)
	require.NoError(t, m.Load(ctx))

	inst, _ := r.Get("weather-target")
	cfg := inst.Config
	cfg.ShowOverMusic = true
	require.NoError(t, st.UpdateInstanceConfig(ctx, "weather-target", cfg))

	m.Close()
	_, ok := r.Get("weather-target")
	assert.False(t, ok)

	require.NoError(t, m.Load(ctx))
	inst, ok = r.Get("weather-target")
	require.True(t, ok)
	assert.True(t, inst.Config.ShowOverMusic)
}

func TestRemovedManifestUninstalls(t *testing.T) {
	ctx := context.Background()
	m, r, st, d := newTestManager(t)
	path := writeManifest(t, m.Dir(), "weather.yaml", weatherManifest)
	require.NoError(t, m.Load(ctx))
	endpoint := d.last()

	require.NoError(t, os.Remove(path))
	require.NoError(t, m.Load(ctx))

	assert.Empty(t, r.List(""))
	assert.True(t, endpoint.closed.Load())
	assert.Contains(t, endpoint.calls, sdk.MethodOnRemoved+":weather-target")

	_, err := st.Instance(ctx, "weather-target")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.Grant(ctx, "com.example.weather")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdatedManifestDropsRemovedProviders(t *testing.T) {
	ctx := context.Background()
	m, r, st, _ := newTestManager(t)
	writeManifest(t, m.Dir(), "weather.yaml", weatherManifest)
	require.NoError(t, m.Load(ctx))

	writeManifest(t, m.Dir(), "weather.yaml", `
package: com.example.weather
address: unix:///tmp/weather.sock
providers:
  - id: weather-target
    authority: com.example.weather.target
`)
	require.NoError(t, m.Load(ctx))

	assert.Len(t, r.List(""), 1)
	_, err := st.Instance(ctx, "weather-target")
	assert.NoError(t, err)
	_, err = st.Instance(ctx, derivedID("com.example.weather", "com.example.weather.complication"))
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.Grant(ctx, "com.example.weather")
	assert.NoError(t, err)
}

func TestBrokenManifestKeepsPreviousVersion(t *testing.T) {
	ctx := context.Background()
	m, r, _, _ := newTestManager(t)
	writeManifest(t, m.Dir(), "weather.yaml", weatherManifest)
	require.NoError(t, m.Load(ctx))

	writeManifest(t, m.Dir(), "weather.yaml", "package: [broken\n")
	assert.Error(t, m.Load(ctx))
	_, ok := r.Get("weather-target")
	assert.True(t, ok)
}

func TestLoadMissingDirectory(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "missing"), pipeline.NewRegistry(), nil, (&dialer{}).dial, logging.NewNop())
	assert.NoError(t, m.Load(context.Background()))
	assert.Empty(t, m.Manifests())
}

func TestWatchReloadsOnChange(t *testing.T) {
	m, r, _, _ := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan struct{}, 8)
	done := make(chan error, 1)
	go func() {
		done <- m.Watch(ctx, 20*time.Millisecond, func() { reloaded <- struct{}{} })
	}()

	// give the watcher time to register the directory
	time.Sleep(100 * time.Millisecond)
	writeManifest(t, m.Dir(), "weather.yaml", weatherManifest)

	deadline := time.After(5 * time.Second)
	for {
		if _, ok := r.Get("weather-target"); ok {
			break
		}
		select {
		case <-reloaded:
		case <-deadline:
			t.Fatal("manifest was not reloaded")
		}
	}

	cancel()
	assert.NoError(t, <-done)
}

func TestRepository(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"plugins":[
			{"package":"b.plugin","name":"Bravo","description":"weather cards","tags":["weather"]},
			{"package":"a.plugin","name":"alpha","author":"someone"},
			{"package":"","name":"invalid"},
			{"package":"c.plugin","name":"Charlie","recommended":true}
		]}`))
	}))
	defer srv.Close()

	repo := NewRepository(srv.URL)
	plugins, err := repo.Plugins(context.Background())
	require.NoError(t, err)
	require.Len(t, plugins, 3)
	assert.Equal(t, "c.plugin", plugins[0].Package)
	assert.Equal(t, "a.plugin", plugins[1].Package)

	found, err := repo.Search(context.Background(), "WEATHER")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "b.plugin", found[0].Package)
	assert.EqualValues(t, 1, hits.Load())

	repo.Invalidate()
	_, err = repo.Plugins(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, hits.Load())
}

func TestRepositoryServesStaleCopyOnFailure(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"plugins":[{"package":"a.plugin","name":"A"}]}`))
	}))
	defer srv.Close()

	repo := NewRepository(srv.URL)
	_, err := repo.Plugins(context.Background())
	require.NoError(t, err)

	fail.Store(true)
	repo.fetchedAt = time.Time{}
	plugins, err := repo.Plugins(context.Background())
	assert.Error(t, err)
	assert.Len(t, plugins, 1)
}
