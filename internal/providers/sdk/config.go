package sdk

// Config keys
const (
	configLabel                   = "label"
	configDescription             = "description"
	configIcon                    = "icon"
	configCompatibilityState      = "compatibility_state"
	configCompatible              = "compatible"
	configIncompatibleReason      = "reason"
	configActivity                = "config_activity"
	configSetupActivity           = "setup_activity"
	configRefreshPeriodMinutes    = "refresh_period_minutes"
	configRefreshIfNotVisible     = "refresh_if_not_visible"
	configWidgetProvider          = "widget_provider"
	configNotificationProvider    = "notification_provider"
	configBroadcastProvider       = "broadcast_provider"
	configAllowAddingMoreThanOnce = "allow_adding_more_than_once"
)

// Compatibility tells the host whether a provider can run on this device
type Compatibility struct {
	Compatible bool
	Reason     string
}

// Compatible is the state of a provider with no restrictions
var Compatible = Compatibility{Compatible: true}

// Incompatible returns a state carrying the reason shown to the user
func Incompatible(reason string) Compatibility {
	return Compatibility{Compatible: false, Reason: reason}
}

// Config is the description a provider returns for one instance
type Config struct {
	Label                   string
	Description             string
	Icon                    string
	Compatibility           Compatibility
	ConfigActivity          string
	SetupActivity           string
	RefreshPeriodMinutes    int
	RefreshIfNotVisible     bool
	WidgetProvider          string
	NotificationProvider    string
	BroadcastProvider       string
	AllowAddingMoreThanOnce bool
}

// UnavailableConfig is used when a provider does not answer its config call
func UnavailableConfig() Config {
	return Config{
		Label:         "Unavailable",
		Description:   "This plugin is not available",
		Compatibility: Incompatible("This plugin is not available"),
	}
}

// ToBundle encodes the config for the wire
func (c Config) ToBundle() Bundle {
	b := Bundle{
		configLabel:       c.Label,
		configDescription: c.Description,
		configCompatibilityState: Bundle{
			configCompatible:         c.Compatibility.Compatible,
			configIncompatibleReason: c.Compatibility.Reason,
		},
		configRefreshPeriodMinutes:    c.RefreshPeriodMinutes,
		configRefreshIfNotVisible:     c.RefreshIfNotVisible,
		configAllowAddingMoreThanOnce: c.AllowAddingMoreThanOnce,
	}
	putIfSet(b, configIcon, c.Icon)
	putIfSet(b, configActivity, c.ConfigActivity)
	putIfSet(b, configSetupActivity, c.SetupActivity)
	putIfSet(b, configWidgetProvider, c.WidgetProvider)
	putIfSet(b, configNotificationProvider, c.NotificationProvider)
	putIfSet(b, configBroadcastProvider, c.BroadcastProvider)
	return b
}

// ConfigFromBundle decodes a config. A missing compatibility state means compatible.
func ConfigFromBundle(b Bundle) Config {
	compatibility := Compatible
	if state := b.Bundle(configCompatibilityState); state != nil {
		compatibility = Compatibility{
			Compatible: state.Bool(configCompatible, true),
			Reason:     state.String(configIncompatibleReason),
		}
	}
	return Config{
		Label:                   b.String(configLabel),
		Description:             b.String(configDescription),
		Icon:                    b.String(configIcon),
		Compatibility:           compatibility,
		ConfigActivity:          b.String(configActivity),
		SetupActivity:           b.String(configSetupActivity),
		RefreshPeriodMinutes:    b.Int(configRefreshPeriodMinutes, 0),
		RefreshIfNotVisible:     b.Bool(configRefreshIfNotVisible, false),
		WidgetProvider:          b.String(configWidgetProvider),
		NotificationProvider:    b.String(configNotificationProvider),
		BroadcastProvider:       b.String(configBroadcastProvider),
		AllowAddingMoreThanOnce: b.Bool(configAllowAddingMoreThanOnce, false),
	}
}

func putIfSet(b Bundle, key, value string) {
	if value != "" {
		b[key] = value
	}
}
