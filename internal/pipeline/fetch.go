package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/infrastructure/monitoring"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/logging"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/providers/sdk"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/shared/types"
)

const (
	DefaultProviderTimeout = 2 * time.Second
	defaultFetchLimit      = 8
)

// Batch is what one instance contributed to a fetch
type Batch struct {
	Instance *Instance
	Targets  []types.Target
	Actions  []types.Action
}

// Fetcher queries instances concurrently and caches their results until the
// provider notifies a change
type Fetcher struct {
	registry *Registry
	bus      *sdk.ChangeBus
	timeout  time.Duration
	limit    int
	logger   *logging.Logger
	metrics  *monitoring.Metrics

	group singleflight.Group

	mu       sync.Mutex
	cache    map[string]Batch
	gens     map[string]uint64
	configs  map[string]sdk.Config
	watchers map[string]watcher
	subs     map[int]chan struct{}
	nextSub  int
}

type watcher struct {
	instance *Instance
	cancel   func()
}

// NewFetcher creates a fetcher over the registry. A nil bus disables change
// observation; results are then only refreshed through Invalidate.
func NewFetcher(registry *Registry, bus *sdk.ChangeBus, timeout time.Duration, logger *logging.Logger, metrics *monitoring.Metrics) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultProviderTimeout
	}
	f := &Fetcher{
		registry: registry,
		bus:      bus,
		timeout:  timeout,
		limit:    defaultFetchLimit,
		logger:   logger.Component("pipeline.fetch"),
		metrics:  metrics,
		cache:    make(map[string]Batch),
		gens:     make(map[string]uint64),
		configs:  make(map[string]sdk.Config),
		watchers: make(map[string]watcher),
		subs:     make(map[int]chan struct{}),
	}
	registry.OnChange(f.sync)
	f.sync()
	return f
}

// Snapshot returns one batch per registered instance in merge order. Failing
// instances contribute an empty batch.
func (f *Fetcher) Snapshot(ctx context.Context) []Batch {
	instances := f.registry.List("")
	batches := make([]Batch, len(instances))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.limit)
	for i, instance := range instances {
		g.Go(func() error {
			batches[i] = f.load(gctx, instance)
			return nil
		})
	}
	_ = g.Wait()
	return batches
}

// Cached returns the batches already held for registered instances without
// contacting any provider
func (f *Fetcher) Cached() []Batch {
	instances := f.registry.List("")
	f.mu.Lock()
	defer f.mu.Unlock()
	batches := make([]Batch, 0, len(instances))
	for _, instance := range instances {
		if batch, ok := f.cache[instance.ID]; ok && batch.Instance == instance {
			batches = append(batches, batch)
		}
	}
	return batches
}

// Config returns the provider config cached for an instance
func (f *Fetcher) Config(instanceID string) (sdk.Config, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	config, ok := f.configs[instanceID]
	return config, ok
}

// Invalidate drops the cached result of one instance and wakes subscribers
func (f *Fetcher) Invalidate(instanceIDs ...string) {
	f.mu.Lock()
	for _, instanceID := range instanceIDs {
		delete(f.cache, instanceID)
		f.gens[instanceID]++
	}
	f.mu.Unlock()
	f.notify()
}

// Subscribe returns a channel that is signalled whenever cached results change.
// Signals coalesce: a slow reader sees at most one pending signal.
func (f *Fetcher) Subscribe() (<-chan struct{}, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextSub
	f.nextSub++
	ch := make(chan struct{}, 1)
	f.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
		})
	}
}

// Close releases every change observer
func (f *Fetcher) Close() {
	f.mu.Lock()
	watchers := f.watchers
	f.watchers = make(map[string]watcher)
	f.mu.Unlock()
	for _, w := range watchers {
		w.cancel()
	}
}

func (f *Fetcher) notify() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// sync aligns observers and cache entries with the registry
func (f *Fetcher) sync() {
	current := make(map[string]*Instance)
	for _, instance := range f.registry.List("") {
		current[instance.ID] = instance
	}

	var stale []func()
	f.mu.Lock()
	for id, w := range f.watchers {
		if instance, ok := current[id]; ok && instance == w.instance {
			continue
		}
		stale = append(stale, w.cancel)
		delete(f.watchers, id)
		delete(f.cache, id)
		delete(f.configs, id)
		f.gens[id]++
	}
	for id, instance := range current {
		if _, ok := f.watchers[id]; ok {
			continue
		}
		f.watchers[id] = watcher{instance: instance, cancel: f.watch(instance)}
	}
	f.mu.Unlock()

	for _, cancel := range stale {
		cancel()
	}
	f.notify()
}

func (f *Fetcher) watch(instance *Instance) func() {
	if f.bus == nil {
		return func() {}
	}
	uris := []string{instance.URI()}
	for _, r := range instance.AnyRequirements {
		uris = append(uris, r.URI())
	}
	for _, r := range instance.AllRequirements {
		uris = append(uris, r.URI())
	}

	cancels := make([]func(), 0, len(uris))
	for _, uri := range uris {
		ch, cancel := f.bus.Observe(uri)
		cancels = append(cancels, cancel)
		go func() {
			for range ch {
				f.Invalidate(instance.ID)
			}
		}()
	}
	return func() {
		for _, cancel := range cancels {
			cancel()
		}
	}
}

func (f *Fetcher) load(ctx context.Context, instance *Instance) Batch {
	f.mu.Lock()
	if batch, ok := f.cache[instance.ID]; ok && batch.Instance == instance {
		f.mu.Unlock()
		return batch
	}
	gen := f.gens[instance.ID]
	f.mu.Unlock()

	// the shared call outlives any single caller; each caller only waits on
	// its own ctx
	shared := context.WithoutCancel(ctx)
	ch := f.group.DoChan(instance.ID, func() (any, error) {
		batch, ok := f.fetch(shared, instance)
		if ok {
			f.mu.Lock()
			if f.gens[instance.ID] == gen {
				f.cache[instance.ID] = batch
			}
			f.mu.Unlock()
		}
		return batch, nil
	})
	select {
	case res := <-ch:
		return res.Val.(Batch)
	case <-ctx.Done():
		return Batch{Instance: instance}
	}
}

// fetch queries one instance. Failed fetches are not cached so the next
// snapshot retries them.
func (f *Fetcher) fetch(ctx context.Context, instance *Instance) (Batch, bool) {
	batch := Batch{Instance: instance}
	f.loadConfig(ctx, instance)

	if !f.requirementsMet(ctx, instance) {
		return batch, true
	}

	callCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	var err error
	switch instance.Role {
	case RoleTarget:
		timer := monitoring.NewProviderTimer(f.metrics, instance.Authority, sdk.MethodGetTargets)
		batch.Targets, err = sdk.NewTargetClient(instance.Endpoint).GetTargets(callCtx, instance.ID)
		timer.Stop(monitoring.StatusOf(err))
		if err != nil {
			f.failed(instance, sdk.MethodGetTargets, err)
			return Batch{Instance: instance}, false
		}
	case RoleComplication:
		timer := monitoring.NewProviderTimer(f.metrics, instance.Authority, sdk.MethodGetActions)
		batch.Actions, err = sdk.NewComplicationClient(instance.Endpoint).GetActions(callCtx, instance.ID)
		timer.Stop(monitoring.StatusOf(err))
		if err != nil {
			f.failed(instance, sdk.MethodGetActions, err)
			return Batch{Instance: instance}, false
		}
	}
	return batch, true
}

// loadConfig refreshes the provider config alongside every fetch. A failed
// call keeps the previous config.
func (f *Fetcher) loadConfig(ctx context.Context, instance *Instance) {
	method := sdk.MethodGetTargetsConfig
	get := sdk.NewTargetClient(instance.Endpoint).GetConfig
	if instance.Role == RoleComplication {
		method = sdk.MethodGetActionsConfig
		get = sdk.NewComplicationClient(instance.Endpoint).GetConfig
	}

	callCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	config, err := get(callCtx, instance.ID)
	if err != nil {
		f.failed(instance, method, err)
		return
	}

	f.mu.Lock()
	if w, ok := f.watchers[instance.ID]; ok && w.instance == instance {
		f.configs[instance.ID] = config
	}
	f.mu.Unlock()
}

// requirementsMet is true when at least one "any" requirement holds (or there
// are none) and every "all" requirement holds
func (f *Fetcher) requirementsMet(ctx context.Context, instance *Instance) bool {
	if len(instance.AnyRequirements) > 0 {
		met := false
		for _, r := range instance.AnyRequirements {
			if f.requirementMet(ctx, instance, r) {
				met = true
				break
			}
		}
		if !met {
			return false
		}
	}
	for _, r := range instance.AllRequirements {
		if !f.requirementMet(ctx, instance, r) {
			return false
		}
	}
	return true
}

// requirementMet treats an unanswered check as not met
func (f *Fetcher) requirementMet(ctx context.Context, instance *Instance, r Requirement) bool {
	if r.Endpoint == nil {
		return false
	}
	callCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	timer := monitoring.NewProviderTimer(f.metrics, r.Authority, sdk.MethodGetRequirement)
	met, err := sdk.NewRequirementClient(r.Endpoint).IsMet(callCtx, r.ID)
	timer.Stop(monitoring.StatusOf(err))
	if err != nil {
		f.logger.Warn("Requirement check failed",
			zap.String("instance", instance.ID),
			zap.String("requirement", r.ID),
			zap.Error(err))
		f.metrics.RecordProviderError(r.Authority, sdk.MethodGetRequirement, errorReason(err))
		return false
	}
	return met != r.Invert
}

func (f *Fetcher) failed(instance *Instance, method string, err error) {
	f.logger.Warn("Provider call failed",
		zap.String("instance", instance.ID),
		zap.String("authority", instance.Authority),
		zap.String("method", method),
		zap.Error(err))
	f.metrics.RecordProviderError(instance.Authority, method, errorReason(err))
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, sdk.ErrUnknownMethod):
		return "unknown_method"
	case errors.Is(err, sdk.ErrSecurity):
		return "security"
	default:
		return "error"
	}
}
