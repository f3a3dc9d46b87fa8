package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/backup"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/bridge"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/domain/notifications"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/domain/registry"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/domain/session"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/logging"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/pipeline"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/providers/builtin"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/providers/sdk"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/shared/types"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/shared/utils"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/store"
)

// Version is reported by the root and health endpoints
const Version = "1.0.0"

// Bridge is the privileged bridge as seen by the API. Every call degrades to
// a neutral result when no bridge process is reachable.
type Bridge interface {
	Available(ctx context.Context) bool
	IsRoot(ctx context.Context) bool

	GetShortcuts(ctx context.Context, query bridge.ShortcutQuery) []bridge.Shortcut
	GetAppShortcutIcon(ctx context.Context, pkg, id string) []byte
	StartShortcut(ctx context.Context, pkg, id string) bool

	ProxyContentProviderGetType(ctx context.Context, uri string) string
	ProxyContentProviderOpenFile(ctx context.Context, uri, mode string) []byte
	ProxyContentProviderGetStreamTypes(ctx context.Context, uri, filter string) []string

	GetSavedWiFiNetworks(ctx context.Context) []bridge.WiFiNetwork
	TaskEvents(ctx context.Context) <-chan []string
	AppPredictions(ctx context.Context) <-chan []bridge.Prediction
	WidgetPredictions(ctx context.Context, extras map[string]any) <-chan []bridge.Prediction
}

// Store is the persisted state the API reads and edits
type Store interface {
	Ping(ctx context.Context) error
	Grants(ctx context.Context) ([]store.Grant, error)
	Grant(ctx context.Context, pkg string) (store.Grant, error)
	SaveGrant(ctx context.Context, g store.Grant) error
	Instances(ctx context.Context, kind string) ([]store.Instance, error)
	UpdateInstanceConfig(ctx context.Context, id string, cfg types.InstanceConfig) error
}

// Deps are the components served by the API. Bridge, Backups, Plugins,
// Repository, Notifications, Builtins and Calendar may be nil.
type Deps struct {
	Sessions      *session.Manager
	Pipeline      *pipeline.Pipeline
	Store         Store
	Bridge        Bridge
	Bus           *sdk.ChangeBus
	Backups       *backup.Manager
	Plugins       *registry.Manager
	Repository    *registry.Repository
	Notifications *notifications.Dispatcher
	Builtins      *builtin.Host
	Calendar      *builtin.MemoryEvents
	Logger        *logging.Logger
	Debug         bool
}

// Handlers contains all HTTP handlers
type Handlers struct {
	sessions      *session.Manager
	pipeline      *pipeline.Pipeline
	store         Store
	bridge        Bridge
	bus           *sdk.ChangeBus
	backups       *backup.Manager
	plugins       *registry.Manager
	repository    *registry.Repository
	notifications *notifications.Dispatcher
	builtins      *builtin.Host
	calendar      *builtin.MemoryEvents
	logger        *logging.Logger
	debug         bool
	started       time.Time
}

// NewHandlers creates a new handler set
func NewHandlers(deps Deps) *Handlers {
	return &Handlers{
		sessions:      deps.Sessions,
		pipeline:      deps.Pipeline,
		store:         deps.Store,
		bridge:        deps.Bridge,
		bus:           deps.Bus,
		backups:       deps.Backups,
		plugins:       deps.Plugins,
		repository:    deps.Repository,
		notifications: deps.Notifications,
		builtins:      deps.Builtins,
		calendar:      deps.Calendar,
		logger:        deps.Logger.Component("api"),
		debug:         deps.Debug,
		started:       time.Now(),
	}
}

// Root handles the liveness check
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "smartspacer",
		"version": Version,
	})
}

// Health reports the state of every component
func (h *Handlers) Health(c *gin.Context) {
	ctx := c.Request.Context()

	status := "healthy"
	storage := gin.H{"connected": true}
	if err := h.store.Ping(ctx); err != nil {
		status = "degraded"
		storage = gin.H{"connected": false, "error": err.Error()}
	}

	bridgeState := gin.H{"enabled": h.bridge != nil}
	if h.bridge != nil {
		bridgeState["available"] = h.bridge.Available(ctx)
		bridgeState["root"] = h.bridge.IsRoot(ctx)
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   status,
		"version":  Version,
		"uptime":   time.Since(h.started).Round(time.Second).String(),
		"sessions": h.sessions.Stats(),
		"registry": h.pipeline.Registry().Stats(),
		"storage":  storage,
		"bridge":   bridgeState,
	})
}

// ListSessions dumps the session maps. Only available in debug mode.
func (h *Handlers) ListSessions(c *gin.Context) {
	var dump bytes.Buffer
	if err := h.sessions.Dump(&dump); err != nil {
		if errors.Is(err, session.ErrDumpDisabled) {
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions": h.sessions.List(),
		"stats":    h.sessions.Stats(),
		"dump":     dump.String(),
	})
}

type createSessionRequest struct {
	SessionID   string `json:"session_id" binding:"required"`
	PackageName string `json:"package_name" binding:"required"`
	Surface     string `json:"surface" binding:"required"`
	TargetCount int    `json:"target_count"`
	UserID      int    `json:"user_id"`
}

// CreateSession opens a session on behalf of the OS
func (h *Handlers) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	if err := utils.ValidateID(req.SessionID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	surface := types.ParseSurface(req.Surface)
	if surface == types.SurfaceUnknown {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown surface " + req.Surface})
		return
	}

	cfg := types.SessionConfig{
		PackageName: req.PackageName,
		Surface:     surface,
		TargetCount: req.TargetCount,
		UserID:      req.UserID,
	}
	if err := h.sessions.OnCreateSession(c.Request.Context(), cfg, req.SessionID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"success":    true,
		"session_id": req.SessionID,
		"kind":       surface.Kind().String(),
	})
}

// DestroySession closes a session. Unknown ids are ignored.
func (h *Handlers) DestroySession(c *gin.Context) {
	sessionID := c.Param("id")
	h.sessions.OnDestroySession(c.Request.Context(), sessionID)
	c.JSON(http.StatusOK, gin.H{"success": true, "session_id": sessionID})
}

// SessionEvent forwards a UI event to a session
func (h *Handlers) SessionEvent(c *gin.Context) {
	sessionID := c.Param("id")

	var event types.SessionEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	if event.Type == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "event type is required"})
		return
	}

	if err := h.sessions.NotifyEvent(c.Request.Context(), sessionID, event); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"session_id": sessionID,
	})
}

// RequestSessionUpdate asks the providers behind a session to refresh
func (h *Handlers) RequestSessionUpdate(c *gin.Context) {
	sessionID := c.Param("id")
	if err := h.sessions.RequestUpdate(c.Request.Context(), sessionID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "session_id": sessionID})
}

// ReloadSessions re-emits every session
func (h *Handlers) ReloadSessions(c *gin.Context) {
	h.sessions.ForceReload()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// errBadRequest marks errors caused by the request body
var errBadRequest = errors.New("invalid request")

func bindJSON(raw []byte, v any) error {
	if err := sonic.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// respondError maps domain errors to status codes
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrUnknownSession),
		errors.Is(err, pipeline.ErrUnknownTarget),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, backup.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, backup.ErrInvalidName),
		errors.Is(err, builtin.ErrUnknownAuthority),
		errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	case errors.Is(err, builtin.ErrNotBuiltin), errors.Is(err, session.ErrFeedbackLoop):
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{
		"success": false,
		"error":   err.Error(),
	})
}
