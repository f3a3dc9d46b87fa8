package builtin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/logging"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/pipeline"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/providers/sdk"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/shared/id"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/shared/types"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/store"
)

var (
	// ErrUnknownAuthority is returned when no builtin provider serves an authority
	ErrUnknownAuthority = errors.New("builtin: unknown authority")

	// ErrNotBuiltin is returned when removing an instance the host did not add
	ErrNotBuiltin = errors.New("builtin: not a builtin instance")
)

// InstanceStore persists the instances of builtin providers
type InstanceStore interface {
	Instances(ctx context.Context, kind string) ([]store.Instance, error)
	SaveInstance(ctx context.Context, inst store.Instance) error
	DeleteInstance(ctx context.Context, id string) error
}

// Host adds, restores and removes instances of the builtin providers
type Host struct {
	hostPackage string
	registry    *pipeline.Registry
	store       InstanceStore
	logger      *logging.Logger

	mu        sync.RWMutex
	endpoints map[string]sdk.Endpoint
}

// NewHost creates a host with no providers
func NewHost(hostPackage string, registry *pipeline.Registry, st InstanceStore, logger *logging.Logger) *Host {
	return &Host{
		hostPackage: hostPackage,
		registry:    registry,
		store:       st,
		logger:      logger.Component("builtin"),
		endpoints:   make(map[string]sdk.Endpoint),
	}
}

// Provide serves authority through endpoint
func (h *Host) Provide(authority string, endpoint sdk.Endpoint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.endpoints[authority] = endpoint
}

// Authorities lists the served authorities, sorted
func (h *Host) Authorities() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.endpoints))
	for authority := range h.endpoints {
		out = append(out, authority)
	}
	sort.Strings(out)
	return out
}

func (h *Host) endpoint(authority string) (sdk.Endpoint, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.endpoints[authority]
	return e, ok
}

// InstanceIDs returns the registered instances of one authority
func (h *Host) InstanceIDs(authority string) []string {
	var ids []string
	for _, inst := range h.registry.List(pipeline.RoleTarget) {
		if inst.Authority == authority {
			ids = append(ids, inst.ID)
		}
	}
	return ids
}

// Restore registers every stored instance of a served authority
func (h *Host) Restore(ctx context.Context) (int, error) {
	saved, err := h.store.Instances(ctx, string(pipeline.RoleTarget))
	if err != nil {
		return 0, fmt.Errorf("failed to list instances: %w", err)
	}

	restored := 0
	for _, inst := range saved {
		endpoint, ok := h.endpoint(inst.Authority)
		if !ok || inst.Package != h.hostPackage {
			continue
		}
		err := h.registry.Register(&pipeline.Instance{
			ID:        inst.ID,
			Role:      pipeline.RoleTarget,
			Authority: inst.Authority,
			Package:   inst.Package,
			Priority:  inst.Priority,
			Position:  inst.Position,
			Config:    inst.Config,
			Endpoint:  endpoint,
		})
		if err != nil {
			h.logger.Warn("Failed to restore instance", zap.String("instance", inst.ID), zap.Error(err))
			continue
		}
		restored++
	}
	h.logger.Info("Restored builtin instances", zap.Int("count", restored))
	return restored, nil
}

// Add creates a new instance of a builtin provider at the end of the list
func (h *Host) Add(ctx context.Context, authority string) (*pipeline.Instance, error) {
	endpoint, ok := h.endpoint(authority)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAuthority, authority)
	}

	inst := &pipeline.Instance{
		ID:        id.NewInstanceID().String(),
		Role:      pipeline.RoleTarget,
		Authority: authority,
		Package:   h.hostPackage,
		Position:  len(h.registry.List(pipeline.RoleTarget)),
		Config:    types.DefaultInstanceConfig(),
		Endpoint:  endpoint,
	}
	err := h.store.SaveInstance(ctx, store.Instance{
		ID:        inst.ID,
		Kind:      string(inst.Role),
		Authority: inst.Authority,
		Package:   inst.Package,
		Config:    inst.Config,
		Position:  inst.Position,
	})
	if err != nil {
		return nil, err
	}
	if err := h.registry.Register(inst); err != nil {
		return nil, err
	}
	h.logger.Info("Added builtin instance", zap.String("instance", inst.ID), zap.String("authority", authority))
	return inst, nil
}

// Remove tells the provider the instance is gone and forgets it
func (h *Host) Remove(ctx context.Context, instanceID string) error {
	inst, ok := h.registry.Get(instanceID)
	if !ok {
		return store.ErrNotFound
	}
	if _, served := h.endpoint(inst.Authority); !served || inst.Package != h.hostPackage {
		return ErrNotBuiltin
	}

	if err := sdk.NewTargetClient(inst.Endpoint).OnRemoved(ctx, inst.ID); err != nil {
		h.logger.Warn("Provider failed to clean up instance", zap.String("instance", inst.ID), zap.Error(err))
	}
	if err := h.store.DeleteInstance(ctx, inst.ID); err != nil {
		return err
	}
	h.registry.Unregister(inst.ID)
	return nil
}
