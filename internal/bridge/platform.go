package bridge

import (
	"context"
	"errors"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/shared/types"
)

var (
	// ErrUnsupported is returned by platform operations the bridge process cannot reach
	ErrUnsupported = errors.New("operation not supported by this platform")
	// ErrAlreadyDestroyed is returned when a prediction session was destroyed twice
	ErrAlreadyDestroyed = errors.New("session already destroyed")
)

// ASIPackage is the on-device intelligence package whose crashes stop system smartspace
const ASIPackage = "com.google.android.as"

// SystemUIPackage hosts the keyguard on stock builds
const SystemUIPackage = "com.android.systemui"

// PredictorKind selects the app or widget prediction track
type PredictorKind int

const (
	PredictorApp PredictorKind = iota
	PredictorWidget
)

func (k PredictorKind) String() string {
	if k == PredictorWidget {
		return "widget"
	}
	return "app"
}

// PredictionSpec describes a prediction session to create
type PredictionSpec struct {
	Kind      PredictorKind
	UISurface string
	Count     int
	Extras    map[string]any
}

// Prediction is one predicted app or widget
type Prediction struct {
	Package    string `json:"package"`
	Class      string `json:"class,omitempty"`
	ShortcutID string `json:"shortcut_id,omitempty"`
	Rank       int    `json:"rank"`
}

// PredictionSession is a live platform prediction session
type PredictionSession interface {
	Destroy() error
}

// ShortcutQuery selects launcher shortcuts
type ShortcutQuery struct {
	Package     string   `json:"package,omitempty"`
	ShortcutIDs []string `json:"shortcut_ids,omitempty"`
	Flags       int      `json:"flags,omitempty"`
}

// Shortcut is a launcher shortcut
type Shortcut struct {
	Package    string `json:"package"`
	ID         string `json:"id"`
	ShortLabel string `json:"short_label"`
	LongLabel  string `json:"long_label,omitempty"`
}

// WiFiNetwork is a network saved in the device's WiFi configuration
type WiFiNetwork struct {
	NetworkID int    `json:"network_id"`
	SSID      string `json:"ssid"`
	Security  string `json:"security,omitempty"`
}

// CrashEvent is delivered to the crash listener
type CrashEvent struct {
	Package    string `json:"package"`
	ASIStopped bool   `json:"asi_stopped,omitempty"`
}

// ServiceRequest sets or clears the temporary smartspace service
type ServiceRequest struct {
	Component    string   `json:"component,omitempty"`
	UserID       int      `json:"user_id"`
	KillSystemUI bool     `json:"kill_system_ui"`
	KillPackages []string `json:"kill_packages,omitempty"`
}

// ContentProvider is an acquired provider reference. Release must always be called.
type ContentProvider interface {
	GetType(ctx context.Context, uri string) (string, error)
	OpenFile(ctx context.Context, uri, mode string) ([]byte, error)
	// GetStreamTypes lists the types the provider declares for uri that match filter
	GetStreamTypes(ctx context.Context, uri, filter string) ([]string, error)
	Release()
}

// Platform is the system access available to the privileged process
type Platform interface {
	IsRoot() bool
	KeyguardPackage() string
	UserName(ctx context.Context, userID int) (string, error)
	CreateSmartspaceSession(ctx context.Context, cfg types.SessionConfig) error
	DestroySmartspaceSession(ctx context.Context, sessionID string) error
	CreatePredictionSession(ctx context.Context, spec PredictionSpec, deliver func([]Prediction)) (PredictionSession, error)
	ToggleTorch(ctx context.Context) error
	Shortcuts(ctx context.Context, query ShortcutQuery) ([]Shortcut, error)
	ShortcutIcon(ctx context.Context, pkg, id string) ([]byte, error)
	StartShortcut(ctx context.Context, pkg, id string) error
	AcquireProvider(ctx context.Context, authority string) (ContentProvider, error)
}

// CommandRunner executes shell commands with the bridge's privileges
type CommandRunner interface {
	Run(ctx context.Context, command string) (string, error)
}

// ProcessEvent reports a process entering or leaving the foreground
type ProcessEvent struct {
	PID        int
	Foreground bool
}

// ProcessSource emits foreground changes
type ProcessSource interface {
	Events(ctx context.Context) <-chan ProcessEvent
}

// PIDResolver maps a pid to its process name
type PIDResolver interface {
	ProcessName(pid int) (string, error)
}

// TaskSource emits the package list of the recent tasks whenever it changes
type TaskSource interface {
	Events(ctx context.Context) <-chan []string
}

// CrashSource emits the package name of every crashing app
type CrashSource interface {
	Events(ctx context.Context) <-chan string
}
