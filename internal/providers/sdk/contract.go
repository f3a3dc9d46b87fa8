package sdk

// Target provider methods and keys
const (
	MethodGetTargets       = "get_targets"
	MethodGetTargetsConfig = "get_targets_config"
	MethodDismiss          = "dismiss"

	KeyTargets    = "targets"
	KeyTargetID   = "target_id"
	KeyDidDismiss = "did_dismiss"
)

// Complication provider methods and keys
const (
	MethodGetActions       = "get_actions"
	MethodGetActionsConfig = "get_actions_config"

	KeyActions  = "actions"
	KeyActionID = "action_id"
)

// Requirement provider methods and keys
const (
	MethodGetRequirement       = "get_requirement"
	MethodGetRequirementConfig = "get_requirement_config"

	KeyRequirementMet = "requirement_met"
)

// Widget provider methods and keys
const (
	MethodOnWidgetChanged    = "on_widget_changed"
	MethodOnViewDataChanged  = "on_view_data_changed"
	MethodOnAdapterConnected = "on_adapter_connected"
	MethodGetWidgetInfo      = "get_widget_info"
	MethodGetWidgetConfig    = "get_widget_config"
	MethodGetAppWidgetID     = "get_app_widget_id"
	MethodClickView          = "click_view"

	KeySmartspaceID = "smartspace_id"
	KeyWidgetInfo   = "widget_info"
	KeyViews        = "views"
	KeyAppWidgetID  = "app_widget_id"
	KeyViewID       = "view_id"
)

// Notification provider methods and keys
const (
	MethodOnNotificationsChanged = "on_notifications_changed"
	MethodGetNotificationConfig  = "get_notification_config"
	MethodDismissNotification    = "dismiss_notification"

	KeyNotifications     = "notifications"
	KeyIsListenerEnabled = "is_listener_enabled"
	KeyNotificationKey   = "notification_key"
)

// Broadcast provider methods and keys
const (
	MethodOnReceive          = "on_receive"
	MethodGetBroadcastConfig = "get_broadcast_config"

	KeyIntent        = "intent"
	KeyIntentFilters = "intent_filters"
)

// Bitmap and proxy provider methods and keys
const (
	MethodGetBitmap = "get_bitmap"
	MethodProxyCall = "proxy_call"

	KeyBitmap    = "bitmap"
	KeyURI       = "uri"
	KeyProxyArgs = "proxy_args"
)

// Methods and keys shared by every instance-backed role
const (
	MethodOnRemoved = "on_removed"
	MethodBackup    = "backup"
	MethodRestore   = "restore"

	KeySmartspacerID = "smartspacer_id"
	KeyBackup        = "backup"
	KeySuccess       = "success"
	KeyConfig        = "config"
)
