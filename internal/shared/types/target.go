package types

import "maps"

// FeatureType mirrors the platform smartspace feature constants
type FeatureType int

const (
	FeatureUndefined FeatureType = iota
	FeatureWeather
	FeatureCalendar
	FeatureCommuteTime
	FeatureFlight
	FeatureTips
	FeatureReminder
	FeatureAlarm
	FeatureOnboarding
	FeatureSports
	FeatureWeatherAlert
	FeatureConsent
	FeatureStockTicker
	FeatureShoppingList
	FeatureLoyaltyCard
	FeatureMedia
	FeatureBedtimeRoutine
	FeatureFitnessTracking
	FeatureEtaMonitoring
	FeatureMissedCall
	FeaturePackageTracking
	FeatureTimer
	FeatureStopwatch
	FeatureUpcomingAlarm
	FeatureGasStationPayment
	FeaturePairedDeviceState
	FeatureDrivingMode
	FeatureSleepSummary
	FeatureFlashlight
	FeatureTimeToLeave
	FeatureDoorbell
	FeatureMediaResume
	FeatureCrossDeviceTimer
	FeatureSevereWeatherAlert
	FeatureHolidayAlarm
	FeatureSafetyCheck
	FeatureMediaHeadsUp
	FeatureStepCounting
	FeatureEarthquakeAlert
	FeatureStepDate
	FeatureBlazeBuildProgress
	FeatureEarthquakeOccurred
)

// Icon references an image by URI
type Icon struct {
	URI                string `json:"uri"`
	ShouldTint         bool   `json:"should_tint,omitempty"`
	ContentDescription string `json:"content_description,omitempty"`
}

// SubItem is one text+icon slot of a target template
type SubItem struct {
	Text      string `json:"text"`
	Icon      *Icon  `json:"icon,omitempty"`
	TapAction string `json:"tap_action,omitempty"`
}

// Empty reports whether the item carries no text
func (s *SubItem) Empty() bool {
	return s == nil || s.Text == ""
}

// Action is a header action, base action or complication
type Action struct {
	ID              string         `json:"id"`
	Title           string         `json:"title"`
	Subtitle        string         `json:"subtitle,omitempty"`
	Icon            *Icon          `json:"icon,omitempty"`
	Intent          string         `json:"intent,omitempty"`
	Extras          map[string]any `json:"extras,omitempty"`
	SubItem         *SubItem       `json:"sub_item,omitempty"`
	LimitToSurfaces []Surface      `json:"limit_to_surfaces,omitempty"`
}

// Template carries the templated slots of a target
type Template struct {
	PrimaryItem              *SubItem `json:"primary_item,omitempty"`
	SubtitleItem             *SubItem `json:"subtitle_item,omitempty"`
	SubtitleSupplementalItem *SubItem `json:"subtitle_supplemental_item,omitempty"`
}

// Target is one card. Targets are treated as immutable once built: filters
// and mergers work on clones.
type Target struct {
	ID                      string         `json:"id"`
	FeatureType             FeatureType    `json:"feature_type"`
	Component               string         `json:"component"`
	Header                  *Action        `json:"header_action,omitempty"`
	Base                    *Action        `json:"base_action,omitempty"`
	Template                *Template      `json:"template,omitempty"`
	CanBeDismissed          bool           `json:"can_be_dismissed"`
	CanTakeTwoComplications bool           `json:"can_take_two_complications,omitempty"`
	HideIfNoComplications   bool           `json:"hide_if_no_complications,omitempty"`
	IsSensitive             bool           `json:"is_sensitive,omitempty"`
	LimitToSurfaces         []Surface      `json:"limit_to_surfaces,omitempty"`
	AlternativeID           string         `json:"alternative_id,omitempty"`
	Expanded                map[string]any `json:"expanded,omitempty"`
}

// Clone returns a deep copy of the action
func (a *Action) Clone() *Action {
	if a == nil {
		return nil
	}
	c := *a
	c.Icon = a.Icon.clone()
	c.SubItem = a.SubItem.Clone()
	c.Extras = maps.Clone(a.Extras)
	c.LimitToSurfaces = append([]Surface(nil), a.LimitToSurfaces...)
	return &c
}

// Clone returns a deep copy of the sub item
func (s *SubItem) Clone() *SubItem {
	if s == nil {
		return nil
	}
	c := *s
	c.Icon = s.Icon.clone()
	return &c
}

func (i *Icon) clone() *Icon {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}

// Clone returns a deep copy of the template
func (t *Template) Clone() *Template {
	if t == nil {
		return nil
	}
	return &Template{
		PrimaryItem:              t.PrimaryItem.Clone(),
		SubtitleItem:             t.SubtitleItem.Clone(),
		SubtitleSupplementalItem: t.SubtitleSupplementalItem.Clone(),
	}
}

// Clone returns a deep copy of the target
func (t Target) Clone() Target {
	c := t
	c.Header = t.Header.Clone()
	c.Base = t.Base.Clone()
	c.Template = t.Template.Clone()
	c.LimitToSurfaces = append([]Surface(nil), t.LimitToSurfaces...)
	c.Expanded = maps.Clone(t.Expanded)
	return c
}

// HasNoActions reports whether no complication text made it onto the target
func (t Target) HasNoActions() bool {
	if t.Header != nil && t.Header.Subtitle != "" {
		return false
	}
	if t.Base != nil && t.Base.Subtitle != "" {
		return false
	}
	if t.Template != nil {
		if !t.Template.SubtitleItem.Empty() || !t.Template.SubtitleSupplementalItem.Empty() {
			return false
		}
	}
	return true
}

// AllowedOn reports whether a developer surface limit permits the surface.
// An empty limit allows every surface.
func AllowedOn(limits []Surface, surface Surface) bool {
	if len(limits) == 0 {
		return true
	}
	for _, s := range limits {
		if s == surface {
			return true
		}
	}
	return false
}

// InstanceConfig holds the per-instance user settings of an added target or complication
type InstanceConfig struct {
	ShowOnHomeScreen        bool `json:"show_on_home"`
	ShowOnLockScreen        bool `json:"show_on_lock"`
	ShowOnExpanded          bool `json:"show_on_expanded"`
	ShowOverMusic           bool `json:"show_over_music"`
	ExpandedShowWhenLocked  bool `json:"expanded_show_when_locked"`
	DisableSubComplications bool `json:"disable_sub_complications"`
}

// DefaultInstanceConfig is applied to newly added instances
func DefaultInstanceConfig() InstanceConfig {
	return InstanceConfig{
		ShowOnHomeScreen:       true,
		ShowOnLockScreen:       true,
		ShowOnExpanded:         true,
		ShowOverMusic:          false,
		ExpandedShowWhenLocked: true,
	}
}
