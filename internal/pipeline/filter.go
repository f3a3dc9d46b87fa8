package pipeline

import (
	"github.com/KieronQuinn/Smartspacer-sub002/internal/shared/types"
)

// ContentHidden replaces the title of sensitive targets on the lockscreen
const ContentHidden = "Content hidden"

// Options selects what a merge renders for
type Options struct {
	Surface types.Surface

	// Expanded renders for the expanded (full screen) smartspace
	Expanded bool

	// OverMusic is set while the lockscreen shows media controls
	OverMusic bool

	HideSensitive types.HideSensitive

	// Split leads lockscreen pages with a complication-only page
	Split bool
}

// configSurface maps the media and hub surfaces onto the settings they share
// with home and lock
func configSurface(surface types.Surface) types.Surface {
	switch surface {
	case types.SurfaceMediaDataManager:
		return types.SurfaceHomescreen
	case types.SurfaceGlanceableHub:
		return types.SurfaceLockscreen
	default:
		return surface
	}
}

// shownOn applies the user's per-instance surface settings
func shownOn(config types.InstanceConfig, opts Options) bool {
	surface := configSurface(opts.Surface)
	if opts.Expanded {
		switch surface {
		case types.SurfaceHomescreen:
			return config.ShowOnExpanded
		case types.SurfaceLockscreen:
			return config.ShowOnExpanded && config.ExpandedShowWhenLocked
		default:
			return false
		}
	}
	switch surface {
	case types.SurfaceHomescreen:
		return config.ShowOnHomeScreen
	case types.SurfaceLockscreen:
		if opts.OverMusic {
			return config.ShowOverMusic
		}
		return config.ShowOnLockScreen
	default:
		return false
	}
}

// applySensitivity hides sensitive lockscreen targets. A nil result drops the target.
func applySensitivity(target types.Target, mode types.HideSensitive, surface types.Surface) *types.Target {
	if surface != types.SurfaceLockscreen || !target.IsSensitive {
		return &target
	}
	switch mode {
	case types.HideSensitiveDisabled:
		return &target
	case types.HideSensitiveContents:
	default:
		return nil
	}

	hidden := target.Clone()
	if hidden.FeatureType != types.FeatureWeather {
		hidden.FeatureType = types.FeatureUndefined
	}
	if hidden.Header != nil {
		hidden.Header.Title = ContentHidden
		if hidden.Header.Icon != nil {
			hidden.Header.Icon.ContentDescription = ContentHidden
		}
	}
	if hidden.Template != nil && hidden.Template.PrimaryItem != nil && hidden.Template.PrimaryItem.Text != "" {
		hidden.Template.PrimaryItem.Text = ContentHidden
	}
	return &hidden
}

// singleInstanceFeatures may only appear once per merged list
var singleInstanceFeatures = map[types.FeatureType]bool{
	types.FeatureDoorbell:   true,
	types.FeatureFlashlight: true,
}

// filterState carries the per-pass dedup and collision bookkeeping
type filterState struct {
	seenIDs    map[string]struct{}
	seenSingle map[types.FeatureType]struct{}
}

func newFilterState() *filterState {
	return &filterState{
		seenIDs:    make(map[string]struct{}),
		seenSingle: make(map[types.FeatureType]struct{}),
	}
}

// admit applies dedup by unique id and single-instance features. The primary
// cap is applied by the merger, after targets without complications are dropped.
func (s *filterState) admit(uniqueID string, target types.Target) bool {
	if _, ok := s.seenIDs[uniqueID]; ok {
		return false
	}
	if singleInstanceFeatures[target.FeatureType] {
		if _, ok := s.seenSingle[target.FeatureType]; ok {
			return false
		}
	}
	s.seenIDs[uniqueID] = struct{}{}
	if singleInstanceFeatures[target.FeatureType] {
		s.seenSingle[target.FeatureType] = struct{}{}
	}
	return true
}

// dismissed reports whether a target is in its provider's dismissed set
func dismissed(set map[string]struct{}, target types.Target) bool {
	if len(set) == 0 {
		return false
	}
	if _, ok := set[target.ID]; ok {
		return true
	}
	if target.AlternativeID != "" {
		if _, ok := set[target.AlternativeID]; ok {
			return true
		}
	}
	return false
}
