package sdk

import (
	"context"
	"fmt"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/shared/types"
)

// TargetProvider supplies targets for its instances
type TargetProvider interface {
	GetTargets(ctx context.Context, smartspacerID string) ([]types.Target, error)
	GetConfig(ctx context.Context, smartspacerID string) (Config, error)
	OnDismiss(ctx context.Context, smartspacerID, targetID string) (bool, error)
}

// ComplicationProvider supplies complications for its instances
type ComplicationProvider interface {
	GetActions(ctx context.Context, smartspacerID string) ([]types.Action, error)
	GetConfig(ctx context.Context, smartspacerID string) (Config, error)
}

// RequirementProvider decides whether a target or complication may show
type RequirementProvider interface {
	IsRequirementMet(ctx context.Context, smartspacerID string) (bool, error)
	GetConfig(ctx context.Context, smartspacerID string) (Config, error)
}

// WidgetProvider receives the views of a widget hosted on its behalf
type WidgetProvider interface {
	OnWidgetChanged(ctx context.Context, smartspacerID string, views Bundle) error
	GetWidgetInfo(ctx context.Context, smartspacerID string) (Bundle, error)
	GetConfig(ctx context.Context, smartspacerID string) (Config, error)
}

// NotificationProvider receives the notifications of the packages it listens to
type NotificationProvider interface {
	OnNotificationsChanged(ctx context.Context, smartspacerID string, notifications []Notification) error
	GetConfig(ctx context.Context, smartspacerID string) (Config, error)
}

// BroadcastProvider receives broadcasts matching its intent filters
type BroadcastProvider interface {
	OnReceive(ctx context.Context, smartspacerID string, intent Bundle) error
	IntentFilters(ctx context.Context, smartspacerID string) ([]string, error)
}

// Remover is implemented by providers that clean up when an instance is removed
type Remover interface {
	OnRemoved(ctx context.Context, smartspacerID string) error
}

// Backupable is implemented by providers that can back up instance settings
type Backupable interface {
	CreateBackup(ctx context.Context, smartspacerID string) (Backup, error)
	RestoreBackup(ctx context.Context, smartspacerID string, backup Backup) (bool, error)
}

// ServeTargets registers the target role on d
func ServeTargets(d *Dispatcher, p TargetProvider) {
	d.Handle(MethodGetTargets, func(ctx context.Context, _ string, extras Bundle) (Bundle, error) {
		targets, err := p.GetTargets(ctx, extras.String(KeySmartspacerID))
		if err != nil {
			return nil, err
		}
		list, err := EncodeTargets(targets)
		if err != nil {
			return nil, err
		}
		return Bundle{KeyTargets: list}, nil
	})
	d.Handle(MethodGetTargetsConfig, configHandler(p.GetConfig))
	d.Handle(MethodDismiss, func(ctx context.Context, _ string, extras Bundle) (Bundle, error) {
		ok, err := p.OnDismiss(ctx, extras.String(KeySmartspacerID), extras.String(KeyTargetID))
		if err != nil {
			return nil, err
		}
		return Bundle{KeyDidDismiss: ok}, nil
	})
	serveInstance(d, p)
}

// ServeComplications registers the complication role on d
func ServeComplications(d *Dispatcher, p ComplicationProvider) {
	d.Handle(MethodGetActions, func(ctx context.Context, _ string, extras Bundle) (Bundle, error) {
		actions, err := p.GetActions(ctx, extras.String(KeySmartspacerID))
		if err != nil {
			return nil, err
		}
		list, err := EncodeActions(actions)
		if err != nil {
			return nil, err
		}
		return Bundle{KeyActions: list}, nil
	})
	d.Handle(MethodGetActionsConfig, configHandler(p.GetConfig))
	serveInstance(d, p)
}

// ServeRequirements registers the requirement role on d
func ServeRequirements(d *Dispatcher, p RequirementProvider) {
	d.Handle(MethodGetRequirement, func(ctx context.Context, _ string, extras Bundle) (Bundle, error) {
		met, err := p.IsRequirementMet(ctx, extras.String(KeySmartspacerID))
		if err != nil {
			return nil, err
		}
		return Bundle{KeyRequirementMet: met}, nil
	})
	d.Handle(MethodGetRequirementConfig, configHandler(p.GetConfig))
	serveInstance(d, p)
}

// ServeWidgets registers the widget role on d
func ServeWidgets(d *Dispatcher, p WidgetProvider) {
	d.Handle(MethodOnWidgetChanged, func(ctx context.Context, _ string, extras Bundle) (Bundle, error) {
		return nil, p.OnWidgetChanged(ctx, extras.String(KeySmartspacerID), extras.Bundle(KeyViews))
	})
	d.Handle(MethodGetWidgetInfo, func(ctx context.Context, _ string, extras Bundle) (Bundle, error) {
		info, err := p.GetWidgetInfo(ctx, extras.String(KeySmartspacerID))
		if err != nil {
			return nil, err
		}
		return Bundle{KeyWidgetInfo: info}, nil
	})
	d.Handle(MethodGetWidgetConfig, configHandler(p.GetConfig))
	serveInstance(d, p)
}

// ServeNotifications registers the notification role on d
func ServeNotifications(d *Dispatcher, p NotificationProvider) {
	d.Handle(MethodOnNotificationsChanged, func(ctx context.Context, _ string, extras Bundle) (Bundle, error) {
		notifications, err := DecodeNotifications(extras.List(KeyNotifications))
		if err != nil {
			return nil, err
		}
		return nil, p.OnNotificationsChanged(ctx, extras.String(KeySmartspacerID), notifications)
	})
	d.Handle(MethodGetNotificationConfig, configHandler(p.GetConfig))
}

// ServeBroadcasts registers the broadcast role on d
func ServeBroadcasts(d *Dispatcher, p BroadcastProvider) {
	d.Handle(MethodOnReceive, func(ctx context.Context, _ string, extras Bundle) (Bundle, error) {
		return nil, p.OnReceive(ctx, extras.String(KeySmartspacerID), extras.Bundle(KeyIntent))
	})
	d.Handle(MethodGetBroadcastConfig, func(ctx context.Context, _ string, extras Bundle) (Bundle, error) {
		filters, err := p.IntentFilters(ctx, extras.String(KeySmartspacerID))
		if err != nil {
			return nil, err
		}
		return Bundle{KeyIntentFilters: filters}, nil
	})
}

func configHandler(get func(context.Context, string) (Config, error)) HandlerFunc {
	return func(ctx context.Context, _ string, extras Bundle) (Bundle, error) {
		cfg, err := get(ctx, extras.String(KeySmartspacerID))
		if err != nil {
			return nil, err
		}
		return cfg.ToBundle(), nil
	}
}

func serveInstance(d *Dispatcher, p any) {
	if r, ok := p.(Remover); ok {
		d.Handle(MethodOnRemoved, func(ctx context.Context, _ string, extras Bundle) (Bundle, error) {
			return nil, r.OnRemoved(ctx, extras.String(KeySmartspacerID))
		})
	}
	if b, ok := p.(Backupable); ok {
		d.Handle(MethodBackup, func(ctx context.Context, _ string, extras Bundle) (Bundle, error) {
			backup, err := b.CreateBackup(ctx, extras.String(KeySmartspacerID))
			if err != nil {
				return nil, err
			}
			return Bundle{KeyBackup: backup.ToBundle()}, nil
		})
		d.Handle(MethodRestore, func(ctx context.Context, _ string, extras Bundle) (Bundle, error) {
			raw := extras.Bundle(KeyBackup)
			if raw == nil {
				return nil, fmt.Errorf("restore: missing %s", KeyBackup)
			}
			ok, err := b.RestoreBackup(ctx, extras.String(KeySmartspacerID), BackupFromBundle(raw))
			if err != nil {
				return nil, err
			}
			return Bundle{KeySuccess: ok}, nil
		})
	}
}
