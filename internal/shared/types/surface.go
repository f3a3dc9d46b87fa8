package types

import "strings"

// Surface is the UI context a session renders into
type Surface string

const (
	SurfaceHomescreen       Surface = "HOMESCREEN"
	SurfaceLockscreen       Surface = "LOCKSCREEN"
	SurfaceMediaDataManager Surface = "MEDIA_DATA_MANAGER"
	SurfaceGlanceableHub    Surface = "GLANCEABLE_HUB"
	SurfaceUnknown          Surface = "UNKNOWN"
)

// ParseSurface maps a surface name to a Surface, case-insensitively.
// The short forms "home" and "lock" are accepted for the diagnostics API.
func ParseSurface(name string) Surface {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "HOMESCREEN", "HOME":
		return SurfaceHomescreen
	case "LOCKSCREEN", "LOCK":
		return SurfaceLockscreen
	case "MEDIA_DATA_MANAGER", "MEDIA":
		return SurfaceMediaDataManager
	case "GLANCEABLE_HUB", "HUB":
		return SurfaceGlanceableHub
	default:
		return SurfaceUnknown
	}
}

// Kind returns the session track a surface is handled by
func (s Surface) Kind() SessionKind {
	switch s {
	case SurfaceMediaDataManager:
		return SessionKindMedia
	case SurfaceGlanceableHub:
		return SessionKindHub
	default:
		return SessionKindNormal
	}
}

func (s Surface) String() string { return string(s) }

// SessionKind selects one of the isolated session maps. The declaration order
// is the lookup order used when routing events.
type SessionKind int

const (
	SessionKindNormal SessionKind = iota
	SessionKindMedia
	SessionKindHub
)

// SessionKinds lists every kind in lookup order
var SessionKinds = []SessionKind{SessionKindNormal, SessionKindMedia, SessionKindHub}

func (k SessionKind) String() string {
	switch k {
	case SessionKindNormal:
		return "normal"
	case SessionKindMedia:
		return "media"
	case SessionKindHub:
		return "hub"
	default:
		return "unknown"
	}
}

// SessionConfig is what the OS hands over when it creates a session
type SessionConfig struct {
	PackageName string         `json:"package_name"`
	Surface     Surface        `json:"surface"`
	TargetCount int            `json:"target_count"`
	UserID      int            `json:"user_id"`
	Extras      map[string]any `json:"extras,omitempty"`
}

// SessionEvent is a UI event reported for a session
type SessionEvent struct {
	Type     EventType `json:"type"`
	TargetID string    `json:"target_id,omitempty"`
	ActionID string    `json:"action_id,omitempty"`
}

// EventType enumerates the session events the OS reports
type EventType string

const (
	EventSurfaceShown      EventType = "UI_SURFACE_SHOWN"
	EventSurfaceHidden     EventType = "UI_SURFACE_HIDDEN"
	EventTargetInteraction EventType = "TARGET_INTERACTION"
	EventTargetDismiss     EventType = "TARGET_DISMISS"
)

// HideSensitive controls how sensitive targets are handled on the lockscreen
type HideSensitive string

const (
	HideSensitiveDisabled HideSensitive = "disabled"
	HideSensitiveContents HideSensitive = "hide_contents"
	HideSensitiveTarget   HideSensitive = "hide_target"
)

// ParseHideSensitive falls back to HideSensitiveDisabled for unknown values
func ParseHideSensitive(value string) HideSensitive {
	switch HideSensitive(strings.ToLower(strings.TrimSpace(value))) {
	case HideSensitiveContents:
		return HideSensitiveContents
	case HideSensitiveTarget:
		return HideSensitiveTarget
	default:
		return HideSensitiveDisabled
	}
}
