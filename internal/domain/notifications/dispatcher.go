package notifications

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/infrastructure/monitoring"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/logging"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/pipeline"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/providers/sdk"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/store"
)

const (
	// DefaultCallTimeout bounds one OnNotificationsChanged call
	DefaultCallTimeout = 5 * time.Second

	maxConcurrent = 8
)

// ErrUnknownNotification is returned when dismissing a notification that is not active
var ErrUnknownNotification = errors.New("notifications: unknown notification")

// Grants looks up what a plugin package may do
type Grants interface {
	Grant(ctx context.Context, pkg string) (store.Grant, error)
}

// Result reports one forward
type Result struct {
	InstanceID string `json:"instance_id"`
	Authority  string `json:"authority"`
	Delivered  int    `json:"delivered"`
	Error      string `json:"error,omitempty"`
}

// Dispatcher forwards the active notifications to the instances whose provider
// declares a notification listener
type Dispatcher struct {
	registry    *pipeline.Registry
	grants      Grants
	hostPackage string
	timeout     time.Duration
	logger      *logging.Logger
	metrics     *monitoring.Metrics

	mu   sync.RWMutex
	last []sdk.Notification
}

// New creates a dispatcher
func New(registry *pipeline.Registry, grants Grants, hostPackage string, logger *logging.Logger, metrics *monitoring.Metrics) *Dispatcher {
	return &Dispatcher{
		registry:    registry,
		grants:      grants,
		hostPackage: hostPackage,
		timeout:     DefaultCallTimeout,
		logger:      logger.Component("notifications"),
		metrics:     metrics,
	}
}

// Active returns the notifications of the last dispatch
func (d *Dispatcher) Active() []sdk.Notification {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.last
}

// Dispatch sends the full list of active notifications to every listening
// instance. Packages without the notification grant are skipped.
func (d *Dispatcher) Dispatch(ctx context.Context, active []sdk.Notification) []Result {
	d.mu.Lock()
	d.last = active
	d.mu.Unlock()

	instances := d.registry.List("")
	results := make([]*Result, len(instances))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)
	for i, instance := range instances {
		if !d.allowed(gctx, instance.Package) {
			continue
		}
		g.Go(func() error {
			results[i] = d.forward(gctx, instance, active)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]Result, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

// Dismiss drops a notification from the active list and tells the listeners.
// Notifications are matched by key, or by package and id when the key is empty.
func (d *Dispatcher) Dismiss(ctx context.Context, n sdk.Notification) error {
	d.mu.RLock()
	remaining := make([]sdk.Notification, 0, len(d.last))
	found := false
	for _, active := range d.last {
		if sameNotification(active, n) {
			found = true
			continue
		}
		remaining = append(remaining, active)
	}
	d.mu.RUnlock()

	if !found {
		return fmt.Errorf("%w: %s", ErrUnknownNotification, n.Key)
	}
	d.Dispatch(ctx, remaining)
	return nil
}

func sameNotification(a, b sdk.Notification) bool {
	if a.Key != "" || b.Key != "" {
		return a.Key == b.Key
	}
	return a.PackageName == b.PackageName && a.ID == b.ID
}

// Replay resends the last dispatched list, used after the instance set changed
func (d *Dispatcher) Replay(ctx context.Context) []Result {
	return d.Dispatch(ctx, d.Active())
}

func (d *Dispatcher) allowed(ctx context.Context, pkg string) bool {
	if pkg == d.hostPackage {
		return true
	}
	grant, err := d.grants.Grant(ctx, pkg)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			d.logger.Warn("Failed to read grant", zap.String("package", pkg), zap.Error(err))
		}
		return false
	}
	return grant.Notifications
}

// forward returns nil for instances that do not listen for notifications
func (d *Dispatcher) forward(ctx context.Context, instance *pipeline.Instance, active []sdk.Notification) *Result {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var (
		cfg sdk.Config
		err error
	)
	switch instance.Role {
	case pipeline.RoleComplication:
		cfg, err = sdk.NewComplicationClient(instance.Endpoint).GetConfig(ctx, instance.ID)
	default:
		cfg, err = sdk.NewTargetClient(instance.Endpoint).GetConfig(ctx, instance.ID)
	}
	if err != nil || cfg.NotificationProvider == "" {
		return nil
	}

	timer := monitoring.NewProviderTimer(d.metrics, instance.Authority, sdk.MethodOnNotificationsChanged)
	err = sdk.NewNotificationClient(instance.Endpoint).OnNotificationsChanged(ctx, instance.ID, active)
	timer.Stop(monitoring.StatusOf(err))

	result := &Result{InstanceID: instance.ID, Authority: instance.Authority}
	if err != nil {
		d.logger.Warn("Failed to forward notifications",
			zap.String("instance", instance.ID),
			zap.String("authority", instance.Authority),
			zap.Error(err))
		result.Error = err.Error()
		return result
	}
	result.Delivered = len(active)
	return result
}
