package pipeline

import (
	"fmt"
	"sort"
	"sync"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/providers/sdk"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/shared/types"
)

// Role is what an instance contributes to the merge
type Role string

const (
	RoleTarget       Role = "target"
	RoleComplication Role = "complication"
)

// Requirement gates an instance on a requirement provider
type Requirement struct {
	ID        string
	Authority string
	Invert    bool
	Endpoint  sdk.Endpoint
}

// URI is the change URI the requirement provider notifies
func (r Requirement) URI() string {
	return sdk.ChangeURI(r.Authority, r.ID)
}

// Instance is one added target or complication
type Instance struct {
	ID              string
	Role            Role
	Authority       string
	Package         string
	Priority        int
	Position        int
	Config          types.InstanceConfig
	Endpoint        sdk.Endpoint
	AnyRequirements []Requirement
	AllRequirements []Requirement
}

// URI is the change URI the instance's provider notifies
func (i *Instance) URI() string {
	return sdk.ChangeURI(i.Authority, i.ID)
}

// Registry holds the added instances
type Registry struct {
	instances sync.Map

	mu        sync.RWMutex
	listeners []func()
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{}
}

// OnChange registers fn to run after every Register or Unregister
func (r *Registry) OnChange(fn func()) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

func (r *Registry) changed() {
	r.mu.RLock()
	listeners := append([]func(){}, r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		fn()
	}
}

// Register adds or replaces an instance
func (r *Registry) Register(instance *Instance) error {
	if instance.ID == "" {
		return fmt.Errorf("instance ID cannot be empty")
	}
	if instance.Endpoint == nil {
		return fmt.Errorf("instance %s has no endpoint", instance.ID)
	}
	switch instance.Role {
	case RoleTarget, RoleComplication:
	default:
		return fmt.Errorf("instance %s has unknown role %q", instance.ID, instance.Role)
	}

	r.instances.Store(instance.ID, instance)
	r.changed()
	return nil
}

// Unregister removes an instance
func (r *Registry) Unregister(instanceID string) {
	if _, ok := r.instances.LoadAndDelete(instanceID); ok {
		r.changed()
	}
}

// Get retrieves an instance by ID
func (r *Registry) Get(instanceID string) (*Instance, bool) {
	val, ok := r.instances.Load(instanceID)
	if !ok {
		return nil, false
	}
	return val.(*Instance), true
}

// List returns the instances of a role in merge order: priority descending,
// then position, then id. An empty role lists every instance.
func (r *Registry) List(role Role) []*Instance {
	var instances []*Instance
	r.instances.Range(func(_, value any) bool {
		instance := value.(*Instance)
		if role == "" || instance.Role == role {
			instances = append(instances, instance)
		}
		return true
	})

	sort.SliceStable(instances, func(i, j int) bool {
		a, b := instances[i], instances[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		return a.ID < b.ID
	})
	return instances
}

// Stats returns registry statistics
func (r *Registry) Stats() map[string]any {
	var total int
	roles := make(map[string]int)
	packages := make(map[string]struct{})

	r.instances.Range(func(_, value any) bool {
		instance := value.(*Instance)
		total++
		roles[string(instance.Role)]++
		packages[instance.Package] = struct{}{}
		return true
	})

	return map[string]any{
		"total_instances": total,
		"roles":           roles,
		"packages":        len(packages),
	}
}
