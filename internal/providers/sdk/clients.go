package sdk

import (
	"context"
	"fmt"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/shared/types"
)

// instanceClient holds the calls every instance-backed role shares
type instanceClient struct {
	Endpoint Endpoint
}

func (c instanceClient) call(ctx context.Context, method string, extras Bundle) (Bundle, error) {
	result, err := c.Endpoint.Call(ctx, method, "", extras)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if result == nil {
		result = Bundle{}
	}
	return result, nil
}

func (c instanceClient) config(ctx context.Context, method, smartspacerID string) (Config, error) {
	result, err := c.call(ctx, method, Bundle{KeySmartspacerID: smartspacerID})
	if err != nil {
		return UnavailableConfig(), err
	}
	if len(result) == 0 {
		return UnavailableConfig(), nil
	}
	return ConfigFromBundle(result), nil
}

// OnRemoved tells the provider an instance was removed
func (c instanceClient) OnRemoved(ctx context.Context, smartspacerID string) error {
	_, err := c.call(ctx, MethodOnRemoved, Bundle{KeySmartspacerID: smartspacerID})
	return err
}

// Backup asks the provider for an instance backup. A nil backup means the
// provider has nothing to save.
func (c instanceClient) Backup(ctx context.Context, smartspacerID string) (*Backup, error) {
	result, err := c.call(ctx, MethodBackup, Bundle{KeySmartspacerID: smartspacerID})
	if err != nil {
		return nil, err
	}
	raw := result.Bundle(KeyBackup)
	if raw == nil {
		return nil, nil
	}
	backup := BackupFromBundle(raw)
	return &backup, nil
}

// Restore hands a backup back to the provider. A missing success flag is a failure.
func (c instanceClient) Restore(ctx context.Context, smartspacerID string, backup Backup) (bool, error) {
	result, err := c.call(ctx, MethodRestore, Bundle{
		KeySmartspacerID: smartspacerID,
		KeyBackup:        backup.ToBundle(),
	})
	if err != nil {
		return false, err
	}
	return result.Bool(KeySuccess, false), nil
}

// TargetClient calls a target provider
type TargetClient struct{ instanceClient }

// NewTargetClient wraps an endpoint
func NewTargetClient(e Endpoint) TargetClient {
	return TargetClient{instanceClient{Endpoint: e}}
}

// GetTargets returns the current targets of an instance
func (c TargetClient) GetTargets(ctx context.Context, smartspacerID string) ([]types.Target, error) {
	result, err := c.call(ctx, MethodGetTargets, Bundle{KeySmartspacerID: smartspacerID})
	if err != nil {
		return nil, err
	}
	return DecodeTargets(result.List(KeyTargets))
}

// GetConfig returns the provider's config for an instance
func (c TargetClient) GetConfig(ctx context.Context, smartspacerID string) (Config, error) {
	return c.config(ctx, MethodGetTargetsConfig, smartspacerID)
}

// Dismiss asks the provider to dismiss a target. Providers that do not
// answer with a result are assumed to have dismissed it.
func (c TargetClient) Dismiss(ctx context.Context, smartspacerID, targetID string) (bool, error) {
	result, err := c.call(ctx, MethodDismiss, Bundle{
		KeySmartspacerID: smartspacerID,
		KeyTargetID:      targetID,
	})
	if err != nil {
		return false, err
	}
	return result.Bool(KeyDidDismiss, true), nil
}

// ComplicationClient calls a complication provider
type ComplicationClient struct{ instanceClient }

// NewComplicationClient wraps an endpoint
func NewComplicationClient(e Endpoint) ComplicationClient {
	return ComplicationClient{instanceClient{Endpoint: e}}
}

// GetActions returns the current complications of an instance
func (c ComplicationClient) GetActions(ctx context.Context, smartspacerID string) ([]types.Action, error) {
	result, err := c.call(ctx, MethodGetActions, Bundle{KeySmartspacerID: smartspacerID})
	if err != nil {
		return nil, err
	}
	return DecodeActions(result.List(KeyActions))
}

// GetConfig returns the provider's config for an instance
func (c ComplicationClient) GetConfig(ctx context.Context, smartspacerID string) (Config, error) {
	return c.config(ctx, MethodGetActionsConfig, smartspacerID)
}

// RequirementClient calls a requirement provider
type RequirementClient struct{ instanceClient }

// NewRequirementClient wraps an endpoint
func NewRequirementClient(e Endpoint) RequirementClient {
	return RequirementClient{instanceClient{Endpoint: e}}
}

// IsMet reports whether the requirement holds. No answer means not met.
func (c RequirementClient) IsMet(ctx context.Context, smartspacerID string) (bool, error) {
	result, err := c.call(ctx, MethodGetRequirement, Bundle{KeySmartspacerID: smartspacerID})
	if err != nil {
		return false, err
	}
	return result.Bool(KeyRequirementMet, false), nil
}

// GetConfig returns the provider's config for an instance
func (c RequirementClient) GetConfig(ctx context.Context, smartspacerID string) (Config, error) {
	return c.config(ctx, MethodGetRequirementConfig, smartspacerID)
}

// WidgetClient calls a widget provider
type WidgetClient struct{ instanceClient }

// NewWidgetClient wraps an endpoint
func NewWidgetClient(e Endpoint) WidgetClient {
	return WidgetClient{instanceClient{Endpoint: e}}
}

// OnWidgetChanged forwards the latest views of a hosted widget
func (c WidgetClient) OnWidgetChanged(ctx context.Context, smartspacerID string, views Bundle) error {
	_, err := c.call(ctx, MethodOnWidgetChanged, Bundle{
		KeySmartspacerID: smartspacerID,
		KeyViews:         views,
	})
	return err
}

// GetWidgetInfo returns which widget the provider wants hosted
func (c WidgetClient) GetWidgetInfo(ctx context.Context, smartspacerID string) (Bundle, error) {
	result, err := c.call(ctx, MethodGetWidgetInfo, Bundle{KeySmartspacerID: smartspacerID})
	if err != nil {
		return nil, err
	}
	return result.Bundle(KeyWidgetInfo), nil
}

// GetConfig returns the provider's config for an instance
func (c WidgetClient) GetConfig(ctx context.Context, smartspacerID string) (Config, error) {
	return c.config(ctx, MethodGetWidgetConfig, smartspacerID)
}

// NotificationClient calls a notification provider
type NotificationClient struct{ instanceClient }

// NewNotificationClient wraps an endpoint
func NewNotificationClient(e Endpoint) NotificationClient {
	return NotificationClient{instanceClient{Endpoint: e}}
}

// OnNotificationsChanged forwards the active notifications
func (c NotificationClient) OnNotificationsChanged(ctx context.Context, smartspacerID string, notifications []Notification) error {
	list, err := EncodeNotifications(notifications)
	if err != nil {
		return err
	}
	_, err = c.call(ctx, MethodOnNotificationsChanged, Bundle{
		KeySmartspacerID: smartspacerID,
		KeyNotifications: list,
	})
	return err
}

// GetConfig returns the provider's config for an instance
func (c NotificationClient) GetConfig(ctx context.Context, smartspacerID string) (Config, error) {
	return c.config(ctx, MethodGetNotificationConfig, smartspacerID)
}

// BroadcastClient calls a broadcast provider
type BroadcastClient struct{ instanceClient }

// NewBroadcastClient wraps an endpoint
func NewBroadcastClient(e Endpoint) BroadcastClient {
	return BroadcastClient{instanceClient{Endpoint: e}}
}

// OnReceive forwards a broadcast
func (c BroadcastClient) OnReceive(ctx context.Context, smartspacerID string, intent Bundle) error {
	_, err := c.call(ctx, MethodOnReceive, Bundle{
		KeySmartspacerID: smartspacerID,
		KeyIntent:        intent,
	})
	return err
}

// IntentFilters returns the actions the provider wants to receive
func (c BroadcastClient) IntentFilters(ctx context.Context, smartspacerID string) ([]string, error) {
	result, err := c.call(ctx, MethodGetBroadcastConfig, Bundle{KeySmartspacerID: smartspacerID})
	if err != nil {
		return nil, err
	}
	return result.Strings(KeyIntentFilters), nil
}
