package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/logging"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/pipeline"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/providers/sdk"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/store"
)

// ManifestPattern matches manifest files below the plugin directory
const ManifestPattern = "**/*.{yaml,yml}"

const removeTimeout = 2 * time.Second

// Endpoint is a connection to a plugin process
type Endpoint interface {
	sdk.Endpoint
	io.Closer
}

// Dialer connects to the plugin listening at address
type Dialer func(address string) (Endpoint, error)

// RemoteDialer dials plugins over gRPC, calling as hostPackage
func RemoteDialer(hostPackage string) Dialer {
	return func(address string) (Endpoint, error) {
		return sdk.DialRemote(address, hostPackage)
	}
}

// Store persists instance settings and grants across restarts
type Store interface {
	Instance(ctx context.Context, id string) (store.Instance, error)
	SaveInstance(ctx context.Context, inst store.Instance) error
	DeleteInstance(ctx context.Context, id string) error
	PackageInstances(ctx context.Context, pkg string) (int, error)
	Grant(ctx context.Context, pkg string) (store.Grant, error)
	SaveGrant(ctx context.Context, g store.Grant) error
	DeleteGrant(ctx context.Context, pkg string) error
}

type loaded struct {
	raw       string
	manifest  *Manifest
	endpoint  Endpoint
	instances []string
}

// Manager keeps the pipeline registry in sync with the manifests in a directory
type Manager struct {
	dir      string
	registry *pipeline.Registry
	store    Store
	dial     Dialer
	logger   *logging.Logger

	mu     sync.Mutex
	loaded map[string]*loaded
}

// NewManager creates a manifest manager. store may be nil.
func NewManager(dir string, registry *pipeline.Registry, st Store, dial Dialer, logger *logging.Logger) *Manager {
	return &Manager{
		dir:      dir,
		registry: registry,
		store:    st,
		dial:     dial,
		logger:   logger.Component("plugins"),
		loaded:   make(map[string]*loaded),
	}
}

// Dir returns the watched manifest directory
func (m *Manager) Dir() string {
	return m.dir
}

// Load scans the manifest directory and applies what changed since the last
// scan. A broken manifest is reported and skipped; its providers stay
// registered from the previous good version.
func (m *Manager) Load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	paths, err := m.scan()
	if err != nil {
		return err
	}

	var errs []error
	present := make(map[string]struct{}, len(paths))
	for _, path := range paths {
		present[path] = struct{}{}

		data, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		if prev, ok := m.loaded[path]; ok && prev.raw == string(data) {
			continue
		}
		manifest, err := ParseManifest(data)
		if err != nil {
			m.logger.Warn("Skipping invalid manifest", zap.String("path", path), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}

		if prev, ok := m.loaded[path]; ok {
			m.remove(ctx, path, prev, droppedBy(prev.manifest, manifest))
		}
		entry, err := m.add(ctx, manifest, string(data))
		if err != nil {
			m.logger.Warn("Failed to add plugin", zap.String("package", manifest.Package), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		m.loaded[path] = entry
		m.logger.Info("Plugin loaded",
			zap.String("package", manifest.Package),
			zap.Int("providers", len(entry.instances)))
	}

	for path, entry := range m.loaded {
		if _, ok := present[path]; !ok {
			m.remove(ctx, path, entry, all)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) scan() ([]string, error) {
	if _, err := os.Stat(m.dir); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	paths, err := doublestar.FilepathGlob(filepath.Join(m.dir, ManifestPattern))
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", m.dir, err)
	}
	sort.Strings(paths)
	return paths, nil
}

func (m *Manager) add(ctx context.Context, manifest *Manifest, raw string) (*loaded, error) {
	endpoint, err := m.dial(manifest.Address)
	if err != nil {
		return nil, err
	}
	m.grant(ctx, manifest)

	entry := &loaded{raw: raw, manifest: manifest, endpoint: endpoint}
	for _, spec := range manifest.Providers {
		inst := &pipeline.Instance{
			ID:              spec.ID,
			Role:            spec.Role,
			Authority:       spec.Authority,
			Package:         manifest.Package,
			Priority:        spec.Priority,
			Position:        len(m.registry.List(spec.Role)),
			Config:          spec.InstanceConfig(),
			Endpoint:        endpoint,
			AnyRequirements: requirements(spec.Requirements.Any, endpoint),
			AllRequirements: requirements(spec.Requirements.All, endpoint),
		}
		m.restore(ctx, inst)
		if err := m.registry.Register(inst); err != nil {
			m.logger.Warn("Failed to register provider", zap.String("instance", inst.ID), zap.Error(err))
			continue
		}
		entry.instances = append(entry.instances, inst.ID)
	}
	return entry, nil
}

func requirements(specs []RequirementSpec, endpoint sdk.Endpoint) []pipeline.Requirement {
	if len(specs) == 0 {
		return nil
	}
	out := make([]pipeline.Requirement, 0, len(specs))
	for _, s := range specs {
		out = append(out, pipeline.Requirement{
			ID:        s.ID,
			Authority: s.Authority,
			Invert:    s.Invert,
			Endpoint:  endpoint,
		})
	}
	return out
}

// grant records the plugin's permissions the first time it is added
func (m *Manager) grant(ctx context.Context, manifest *Manifest) {
	if m.store == nil {
		return
	}
	_, err := m.store.Grant(ctx, manifest.Package)
	if err == nil {
		return
	}
	if !errors.Is(err, store.ErrNotFound) {
		m.logger.Warn("Failed to read grant", zap.String("package", manifest.Package), zap.Error(err))
		return
	}
	g := store.Grant{
		Package:       manifest.Package,
		Smartspace:    true,
		Widget:        manifest.Permissions.Widget,
		Notifications: manifest.Permissions.Notifications,
		OEMSmartspace: manifest.Permissions.OEMSmartspace,
	}
	if err := m.store.SaveGrant(ctx, g); err != nil {
		m.logger.Warn("Failed to save grant", zap.String("package", manifest.Package), zap.Error(err))
	}
}

// restore applies stored settings to a known instance and persists a new one
func (m *Manager) restore(ctx context.Context, inst *pipeline.Instance) {
	if m.store == nil {
		return
	}
	saved, err := m.store.Instance(ctx, inst.ID)
	switch {
	case err == nil:
		inst.Config = saved.Config
		inst.Position = saved.Position
	case errors.Is(err, store.ErrNotFound):
		err = m.store.SaveInstance(ctx, store.Instance{
			ID:        inst.ID,
			Kind:      string(inst.Role),
			Authority: inst.Authority,
			Package:   inst.Package,
			Config:    inst.Config,
			Position:  inst.Position,
			Priority:  inst.Priority,
		})
		if err != nil {
			m.logger.Warn("Failed to save instance", zap.String("instance", inst.ID), zap.Error(err))
		}
	default:
		m.logger.Warn("Failed to read instance", zap.String("instance", inst.ID), zap.Error(err))
	}
}

func all(string) bool  { return true }
func none(string) bool { return false }

// droppedBy reports the providers of prev that next no longer declares
func droppedBy(prev, next *Manifest) func(string) bool {
	if prev.Package != next.Package {
		return all
	}
	kept := make(map[string]struct{}, len(next.Providers))
	for _, p := range next.Providers {
		kept[p.ID] = struct{}{}
	}
	return func(instanceID string) bool {
		_, ok := kept[instanceID]
		return !ok
	}
}

// remove unregisters the providers of a manifest. Uninstalled providers also
// lose their stored settings, and the plugin its grant once nothing else
// uses it.
func (m *Manager) remove(ctx context.Context, path string, entry *loaded, uninstalled func(instanceID string) bool) {
	var uninstall bool
	for _, instanceID := range entry.instances {
		m.registry.Unregister(instanceID)
		if !uninstalled(instanceID) {
			continue
		}
		uninstall = true
		callCtx, cancel := context.WithTimeout(ctx, removeTimeout)
		if err := sdk.NewTargetClient(entry.endpoint).OnRemoved(callCtx, instanceID); err != nil {
			m.logger.Debug("Provider did not acknowledge removal", zap.String("instance", instanceID), zap.Error(err))
		}
		cancel()
		if m.store != nil {
			if err := m.store.DeleteInstance(ctx, instanceID); err != nil {
				m.logger.Warn("Failed to delete instance", zap.String("instance", instanceID), zap.Error(err))
			}
		}
	}
	if uninstall && m.store != nil {
		pkg := entry.manifest.Package
		if n, err := m.store.PackageInstances(ctx, pkg); err == nil && n == 0 {
			if err := m.store.DeleteGrant(ctx, pkg); err != nil {
				m.logger.Warn("Failed to delete grant", zap.String("package", pkg), zap.Error(err))
			}
		}
	}
	if err := entry.endpoint.Close(); err != nil {
		m.logger.Debug("Failed to close plugin connection", zap.String("path", path), zap.Error(err))
	}
	delete(m.loaded, path)
	m.logger.Info("Plugin unloaded", zap.String("package", entry.manifest.Package), zap.Bool("uninstalled", uninstall))
}

// Manifests returns the loaded manifests ordered by package
func (m *Manager) Manifests() []*Manifest {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Manifest, 0, len(m.loaded))
	for _, entry := range m.loaded {
		out = append(out, entry.manifest)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Package < out[j].Package })
	return out
}

// Close unregisters every plugin and closes its connection without
// touching stored settings
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for path, entry := range m.loaded {
		m.remove(context.Background(), path, entry, none)
	}
}
