package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/config"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/infrastructure/monitoring"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/logging"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/providers/sdk"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/shared/types"
)

// ErrUnknownTarget is returned when no instance owns a dismissed target
var ErrUnknownTarget = errors.New("no provider owns this target")

const (
	flashlightTargetPrefix = "ambient_light"
	flashlightActionID     = "FLASHLIGHT"
)

// DismissalStore persists the targets each instance has had dismissed
type DismissalStore interface {
	Dismissed(ctx context.Context, instanceID string) (map[string]struct{}, error)
	AddDismissal(ctx context.Context, instanceID, targetID, alternativeID string) error
}

// Torch toggles the device flashlight
type Torch interface {
	ToggleTorch(ctx context.Context) bool
}

// Deps are the collaborators of a Pipeline. Everything but the registry is optional.
type Deps struct {
	Registry   *Registry
	Bus        *sdk.ChangeBus
	Dismissals DismissalStore
	Torch      Torch
	Logger     *logging.Logger
	Metrics    *monitoring.Metrics
}

// Pipeline turns the registered instances into merged target lists
type Pipeline struct {
	registry   *Registry
	fetcher    *Fetcher
	scheduler  *UpdateScheduler
	visibility *Visibility
	dismissals DismissalStore
	torch      Torch
	logger     *logging.Logger
	metrics    *monitoring.Metrics

	hostPackage string
	maxPrimary  int

	mu     sync.Mutex
	owners map[types.Surface]map[string]owned
}

// owned is the source of one emitted target
type owned struct {
	instance      *Instance
	rawID         string
	alternativeID string
}

// New creates a pipeline
func New(cfg config.PipelineConfig, hostPackage string, deps Deps) *Pipeline {
	logger := deps.Logger.Component("pipeline")
	p := &Pipeline{
		registry:    deps.Registry,
		fetcher:     NewFetcher(deps.Registry, deps.Bus, cfg.ProviderTimeout, deps.Logger, deps.Metrics),
		scheduler:   NewUpdateScheduler(cfg.RefreshBuffer),
		dismissals:  deps.Dismissals,
		torch:       deps.Torch,
		logger:      logger,
		metrics:     deps.Metrics,
		hostPackage: hostPackage,
		maxPrimary:  cfg.MaxPrimaryTargets,
		owners:      make(map[types.Surface]map[string]owned),
	}
	p.visibility = NewVisibility(func(visible bool) {
		logger.Debug("Smartspace visibility changed", zap.Bool("visible", visible))
	})
	deps.Registry.OnChange(p.forgetRemoved)
	return p
}

// Registry returns the instance registry
func (p *Pipeline) Registry() *Registry { return p.registry }

// Visibility returns the session visibility tracker
func (p *Pipeline) Visibility() *Visibility { return p.visibility }

// Subscribe signals whenever a provider's results may have changed
func (p *Pipeline) Subscribe() (<-chan struct{}, func()) {
	return p.fetcher.Subscribe()
}

// Invalidate forces the next merge to refetch the given instances
func (p *Pipeline) Invalidate(instanceIDs ...string) {
	p.fetcher.Invalidate(instanceIDs...)
}

// Close releases provider observers
func (p *Pipeline) Close() {
	p.fetcher.Close()
}

// Merge produces the ordered pages for one surface
func (p *Pipeline) Merge(ctx context.Context, opts Options) []Page {
	batches := p.fetcher.Snapshot(ctx)
	state := newFilterState()

	var targets []sourcedTarget
	var actions []sourcedAction
	for _, batch := range batches {
		instance := batch.Instance
		if !shownOn(instance.Config, opts) {
			continue
		}
		switch instance.Role {
		case RoleTarget:
			set := p.dismissedSet(ctx, instance)
			for _, target := range batch.Targets {
				shown := applySensitivity(target, opts.HideSensitive, configSurface(opts.Surface))
				if shown == nil {
					continue
				}
				if !types.AllowedOn(shown.LimitToSurfaces, opts.Surface) {
					continue
				}
				if dismissed(set, *shown) {
					continue
				}
				if !state.admit(UniqueID(instance.Package, p.hostPackage, shown.ID), *shown) {
					continue
				}
				targets = append(targets, sourcedTarget{target: *shown, source: instance})
			}
		case RoleComplication:
			for i := range batch.Actions {
				action := &batch.Actions[i]
				if !types.AllowedOn(action.LimitToSurfaces, opts.Surface) {
					continue
				}
				actions = append(actions, sourcedAction{action: action, source: instance})
			}
		}
	}

	split := opts.Split && opts.Surface == types.SurfaceLockscreen
	pages := newMerger(p.hostPackage, split, p.maxPrimary).merge(targets, actions)
	p.remember(opts.Surface, pages, targets)
	return pages
}

// Targets merges and returns just the targets
func (p *Pipeline) Targets(ctx context.Context, opts Options) []types.Target {
	pages := p.Merge(ctx, opts)
	targets := make([]types.Target, 0, len(pages))
	for _, page := range pages {
		targets = append(targets, page.Target)
	}
	return targets
}

func (p *Pipeline) dismissedSet(ctx context.Context, instance *Instance) map[string]struct{} {
	if p.dismissals == nil {
		return nil
	}
	set, err := p.dismissals.Dismissed(ctx, instance.ID)
	if err != nil {
		p.logger.Warn("Failed to load dismissals", zap.String("instance", instance.ID), zap.Error(err))
		return nil
	}
	return set
}

func (p *Pipeline) remember(surface types.Surface, pages []Page, sources []sourcedTarget) {
	alternatives := make(map[*Instance]map[string]string)
	for _, st := range sources {
		if st.target.AlternativeID == "" {
			continue
		}
		if alternatives[st.source] == nil {
			alternatives[st.source] = make(map[string]string)
		}
		alternatives[st.source][st.target.ID] = st.target.AlternativeID
	}

	owners := make(map[string]owned, len(pages))
	for _, page := range pages {
		if page.Blank() {
			continue
		}
		raw := page.Target.ID
		if pkg := page.Source.Package; pkg != "" && pkg != p.hostPackage {
			raw = strings.TrimPrefix(raw, UniquenessPrefix+pkg+"_")
		}
		owners[page.Target.ID] = owned{
			instance:      page.Source,
			rawID:         raw,
			alternativeID: alternatives[page.Source][raw],
		}
	}

	p.mu.Lock()
	p.owners[surface] = owners
	p.mu.Unlock()
}

func (p *Pipeline) forgetRemoved() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, owners := range p.owners {
		for targetID, o := range owners {
			if current, ok := p.registry.Get(o.instance.ID); !ok || current != o.instance {
				delete(owners, targetID)
			}
		}
	}
}

// owner finds the instance that produced an emitted target. Only results
// already held are consulted; a dismissal never triggers a provider fetch.
func (p *Pipeline) owner(targetID string) (owned, bool) {
	p.mu.Lock()
	for _, owners := range p.owners {
		if o, ok := owners[targetID]; ok {
			p.mu.Unlock()
			return o, true
		}
	}
	p.mu.Unlock()

	raw := StripUniqueness(targetID)
	for _, batch := range p.fetcher.Cached() {
		for _, target := range batch.Targets {
			if target.ID == raw || target.ID == targetID {
				return owned{instance: batch.Instance, rawID: target.ID, alternativeID: target.AlternativeID}, true
			}
		}
	}
	return owned{}, false
}

// Dismiss routes a dismissal to the provider that produced the target. A
// provider refusing the dismissal is not an error: the target stays and false
// is returned.
func (p *Pipeline) Dismiss(ctx context.Context, targetID string) (bool, error) {
	o, ok := p.owner(targetID)
	if !ok {
		p.metrics.RecordDismissal("unknown")
		return false, ErrUnknownTarget
	}

	callCtx, cancel := context.WithTimeout(ctx, p.fetcher.timeout)
	defer cancel()
	timer := monitoring.NewProviderTimer(p.metrics, o.instance.Authority, sdk.MethodDismiss)
	didDismiss, err := sdk.NewTargetClient(o.instance.Endpoint).Dismiss(callCtx, o.instance.ID, o.rawID)
	timer.Stop(monitoring.StatusOf(err))
	if err != nil {
		p.metrics.RecordDismissal("error")
		p.metrics.RecordProviderError(o.instance.Authority, sdk.MethodDismiss, errorReason(err))
		return false, err
	}
	if !didDismiss {
		p.metrics.RecordDismissal("refused")
		p.logger.Info("Provider refused dismissal",
			zap.String("instance", o.instance.ID),
			zap.String("target", o.rawID))
		return false, nil
	}

	if p.dismissals != nil {
		if err := p.dismissals.AddDismissal(ctx, o.instance.ID, o.rawID, o.alternativeID); err != nil {
			p.logger.Warn("Failed to persist dismissal", zap.String("target", o.rawID), zap.Error(err))
		}
	}
	p.metrics.RecordDismissal("dismissed")
	p.fetcher.Invalidate(o.instance.ID)
	return true, nil
}

// Click handles target interactions the host owns. Only the flashlight action
// of ambient light targets is handled; it reports whether the click was consumed.
func (p *Pipeline) Click(ctx context.Context, targetID, actionID string) bool {
	if !strings.HasPrefix(targetID, flashlightTargetPrefix) || actionID != flashlightActionID {
		return false
	}
	if p.torch != nil {
		p.torch.ToggleTorch(ctx)
	}
	return true
}

// RequestUpdate refreshes the instances behind the given pages whose refresh
// period has elapsed, plus instances that refresh while hidden. While no
// session is visible only the latter are considered. It returns the refreshed
// instance ids grouped by package.
func (p *Pipeline) RequestUpdate(pages []Page) map[string][]string {
	var candidates []Candidate
	add := func(instance *Instance) {
		providerConfig, ok := p.fetcher.Config(instance.ID)
		if !ok {
			return
		}
		candidates = append(candidates, Candidate{
			InstanceID: instance.ID,
			Package:    instance.Package,
			Period:     time.Duration(providerConfig.RefreshPeriodMinutes) * time.Minute,
		})
	}

	if p.visibility.Visible() {
		for _, page := range pages {
			if page.Source != nil {
				add(page.Source)
			}
			for _, instance := range page.Actions {
				add(instance)
			}
		}
	}
	for _, instance := range p.registry.List("") {
		if providerConfig, ok := p.fetcher.Config(instance.ID); ok && providerConfig.RefreshIfNotVisible {
			add(instance)
		}
	}

	due := p.scheduler.Due(candidates)
	for pkg, ids := range due {
		p.logger.Debug("Refreshing instances", zap.String("package", pkg), zap.Strings("instances", ids))
		p.fetcher.Invalidate(ids...)
	}
	return due
}
