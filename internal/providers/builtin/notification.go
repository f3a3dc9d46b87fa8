package builtin

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/providers/sdk"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/shared/types"
)

const notificationIDPrefix = "notification_"

// NotificationData is the per-instance setting of a notification target
type NotificationData struct {
	PackageName string   `json:"package_name,omitempty"`
	HasChannels bool     `json:"has_channels"`
	Channels    []string `json:"channels"`
}

// NotificationDismisser cancels a posted notification
type NotificationDismisser func(ctx context.Context, notification sdk.Notification) error

// NotificationTarget mirrors the notifications of one app as targets
type NotificationTarget struct {
	base
	policy  *bluemonday.Policy
	dismiss NotificationDismisser

	mu       sync.RWMutex
	mirrored map[string][]sdk.Notification
}

// NewNotificationTarget creates the notification target provider
func NewNotificationTarget(hostPackage string, store DataStore, bus *sdk.ChangeBus, dismiss NotificationDismisser) *NotificationTarget {
	return &NotificationTarget{
		base: base{
			authority:   AuthorityNotification,
			kind:        KindNotification,
			hostPackage: hostPackage,
			store:       store,
			bus:         bus,
		},
		policy:   bluemonday.StrictPolicy(),
		dismiss:  dismiss,
		mirrored: make(map[string][]sdk.Notification),
	}
}

// Endpoint serves the target and notification roles to the host
func (p *NotificationTarget) Endpoint() sdk.Endpoint {
	d := sdk.NewDispatcher(p.hostPackage)
	sdk.ServeTargets(d, p)
	sdk.ServeNotifications(d, p)
	return d.Endpoint(p.hostPackage)
}

func (p *NotificationTarget) data(ctx context.Context, smartspacerID string) (NotificationData, bool, error) {
	var data NotificationData
	ok, err := p.load(ctx, smartspacerID, &data)
	return data, ok, err
}

// OnNotificationsChanged mirrors the notifications posted by the configured app
func (p *NotificationTarget) OnNotificationsChanged(ctx context.Context, smartspacerID string, notifications []sdk.Notification) error {
	data, _, err := p.data(ctx, smartspacerID)
	if err != nil {
		return err
	}
	kept := make([]sdk.Notification, 0, len(notifications))
	for _, n := range notifications {
		if data.PackageName == "" || n.PackageName == data.PackageName {
			kept = append(kept, n)
		}
	}

	p.mu.Lock()
	p.mirrored[smartspacerID] = kept
	p.mu.Unlock()
	p.notifyChange(smartspacerID)
	return nil
}

func (p *NotificationTarget) notifications(smartspacerID string) []sdk.Notification {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.mirrored[smartspacerID]
}

func (p *NotificationTarget) GetTargets(ctx context.Context, smartspacerID string) ([]types.Target, error) {
	data, ok, err := p.data(ctx, smartspacerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []types.Target{}, nil
	}

	notifications := p.notifications(smartspacerID)
	targets := make([]types.Target, 0, len(notifications))
	for _, n := range notifications {
		targets = append(targets, p.toTarget(n))
	}
	// every notification comes from the same app, so its shortcuts only go on the last card
	if data.PackageName != "" && len(targets) > 0 {
		last := &targets[len(targets)-1]
		last.Expanded = map[string]any{"app_shortcuts": []any{data.PackageName}}
	}
	return targets, nil
}

func (p *NotificationTarget) toTarget(n sdk.Notification) types.Target {
	id := notificationIDPrefix + strconv.Itoa(n.ID)
	subtitle := p.sanitize(n.Text)
	if subtitle == "" {
		subtitle = n.PackageName
	}
	return types.Target{
		ID:          id,
		FeatureType: types.FeatureUndefined,
		Component:   p.component(".ui.activities.MainActivity"),
		Header: &types.Action{
			ID:       id,
			Title:    p.sanitize(n.Title),
			Subtitle: subtitle,
			Icon:     &types.Icon{URI: "package://" + n.PackageName, ShouldTint: true},
			Extras:   map[string]any{"notification_key": n.Key},
		},
		CanBeDismissed: true,
	}
}

func (p *NotificationTarget) sanitize(text string) string {
	return strings.TrimSpace(p.policy.Sanitize(text))
}

func (p *NotificationTarget) GetConfig(ctx context.Context, smartspacerID string) (sdk.Config, error) {
	description := "Shows notifications from an app"
	if smartspacerID != "" {
		if data, ok, err := p.data(ctx, smartspacerID); err == nil && ok && data.PackageName != "" {
			description = "Shows notifications from " + data.PackageName
			if n := len(data.Channels); data.HasChannels && n > 0 {
				description += " (" + strconv.Itoa(n) + " channels)"
			}
		}
	}
	return sdk.Config{
		Label:                   "Notifications",
		Description:             description,
		Compatibility:           sdk.Compatible,
		ConfigActivity:          p.component(".ui.activities.configuration.ConfigurationActivity"),
		NotificationProvider:    p.hostPackage + ".notifications.notification",
		AllowAddingMoreThanOnce: true,
	}, nil
}

// OnDismiss cancels the notification behind a target. Targets whose
// notification is already gone are not handled.
func (p *NotificationTarget) OnDismiss(ctx context.Context, smartspacerID, targetID string) (bool, error) {
	raw, err := strconv.Atoi(strings.TrimPrefix(targetID, notificationIDPrefix))
	if err != nil {
		return false, nil
	}
	for _, n := range p.notifications(smartspacerID) {
		if n.ID != raw {
			continue
		}
		if p.dismiss != nil {
			if err := p.dismiss(ctx, n); err != nil {
				return false, err
			}
		}
		return true, nil
	}
	return false, nil
}

// Update replaces the settings of an instance
func (p *NotificationTarget) Update(ctx context.Context, smartspacerID string, data NotificationData) error {
	return p.save(ctx, smartspacerID, data)
}

func (p *NotificationTarget) OnRemoved(ctx context.Context, smartspacerID string) error {
	p.mu.Lock()
	delete(p.mirrored, smartspacerID)
	p.mu.Unlock()
	return p.store.DeleteTargetData(ctx, smartspacerID)
}

func (p *NotificationTarget) CreateBackup(ctx context.Context, smartspacerID string) (sdk.Backup, error) {
	data, ok, err := p.data(ctx, smartspacerID)
	if err != nil || !ok {
		return sdk.Backup{}, err
	}
	return p.encodeBackup(data, "Notifications from "+data.PackageName)
}

func (p *NotificationTarget) RestoreBackup(ctx context.Context, smartspacerID string, backup sdk.Backup) (bool, error) {
	var data NotificationData
	if !decodeBackup(backup, &data) {
		return false, nil
	}
	if err := p.save(ctx, smartspacerID, data); err != nil {
		return false, err
	}
	return true, nil
}
