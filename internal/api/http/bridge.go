package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/bridge"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/shared/utils"
)

// streamWait bounds how long a snapshot endpoint waits for a bridge stream's
// first emission
const streamWait = 5 * time.Second

// requireBridge rejects bridge routes when the host runs without one
func (h *Handlers) requireBridge(c *gin.Context) {
	if h.bridge == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error":   "bridge is not enabled",
		})
		return
	}
	c.Next()
}

// ListShortcuts lists launcher shortcuts, optionally of one package
func (h *Handlers) ListShortcuts(c *gin.Context) {
	query := bridge.ShortcutQuery{
		Package:     c.Query("package"),
		ShortcutIDs: c.QueryArray("id"),
	}
	if query.Package != "" {
		if err := utils.ValidatePackageName(query.Package); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	shortcuts := h.bridge.GetShortcuts(c.Request.Context(), query)
	c.JSON(http.StatusOK, gin.H{
		"shortcuts": shortcuts,
		"count":     len(shortcuts),
	})
}

// ShortcutIcon returns the raw icon of a shortcut
func (h *Handlers) ShortcutIcon(c *gin.Context) {
	icon := h.bridge.GetAppShortcutIcon(c.Request.Context(), c.Param("package"), c.Param("id"))
	if len(icon) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "icon not available"})
		return
	}
	c.Data(http.StatusOK, mimetype.Detect(icon).String(), icon)
}

// StartShortcut launches a shortcut through the bridge
func (h *Handlers) StartShortcut(c *gin.Context) {
	pkg, id := c.Param("package"), c.Param("id")
	if !h.bridge.StartShortcut(c.Request.Context(), pkg, id) {
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": "shortcut could not be started"})
		return
	}
	h.logger.Info("Shortcut started", zap.String("package", pkg), zap.String("id", id))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func contentURI(c *gin.Context) (string, bool) {
	uri := c.Query("uri")
	if !strings.HasPrefix(uri, "content://") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "uri must be a content uri"})
		return "", false
	}
	return uri, true
}

// ContentType returns the mime type a content provider reports
func (h *Handlers) ContentType(c *gin.Context) {
	uri, ok := contentURI(c)
	if !ok {
		return
	}
	mime := h.bridge.ProxyContentProviderGetType(c.Request.Context(), uri)
	c.JSON(http.StatusOK, gin.H{"uri": uri, "type": mime})
}

// ContentStreamTypes lists the stream types of a content uri matching filter
func (h *Handlers) ContentStreamTypes(c *gin.Context) {
	uri, ok := contentURI(c)
	if !ok {
		return
	}
	filter := c.DefaultQuery("filter", "*/*")
	mimes := h.bridge.ProxyContentProviderGetStreamTypes(c.Request.Context(), uri, filter)
	if mimes == nil {
		mimes = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"uri": uri, "filter": filter, "types": mimes})
}

// ContentFile streams the content of a uri read through the bridge
func (h *Handlers) ContentFile(c *gin.Context) {
	uri, ok := contentURI(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	data := h.bridge.ProxyContentProviderOpenFile(ctx, uri, "r")
	if data == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "content not available"})
		return
	}
	mime := h.bridge.ProxyContentProviderGetType(ctx, uri)
	if mime == "" {
		mime = mimetype.Detect(data).String()
	}
	c.Data(http.StatusOK, mime, data)
}

// SavedWiFiNetworks lists the WiFi networks saved on the device
func (h *Handlers) SavedWiFiNetworks(c *gin.Context) {
	networks := h.bridge.GetSavedWiFiNetworks(c.Request.Context())
	if networks == nil {
		networks = []bridge.WiFiNetwork{}
	}
	c.JSON(http.StatusOK, gin.H{
		"networks": networks,
		"count":    len(networks),
	})
}

// RecentTasks returns the packages of the current recent tasks
func (h *Handlers) RecentTasks(c *gin.Context) {
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	packages, ok := firstOf(ctx, h.bridge.TaskEvents(ctx), streamWait)
	if !ok {
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "no task snapshot from the bridge"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"packages": packages, "count": len(packages)})
}

// Predictions returns one round of app or widget predictions. Query
// parameters are passed to the widget predictor as extras.
func (h *Handlers) Predictions(c *gin.Context) {
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	var updates <-chan []bridge.Prediction
	switch c.Param("kind") {
	case "apps":
		updates = h.bridge.AppPredictions(ctx)
	case "widgets":
		extras := make(map[string]any)
		for key, values := range c.Request.URL.Query() {
			extras[key] = strings.Join(values, ",")
		}
		updates = h.bridge.WidgetPredictions(ctx, extras)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be apps or widgets"})
		return
	}

	predictions, ok := firstOf(ctx, updates, streamWait)
	if !ok {
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "no predictions from the bridge"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"predictions": predictions, "count": len(predictions)})
}

// firstOf waits for the first value of ch. It fails when ch closes, ctx ends
// or wait elapses.
func firstOf[T any](ctx context.Context, ch <-chan T, wait time.Duration) (T, bool) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case v, ok := <-ch:
		return v, ok
	case <-ctx.Done():
	case <-timer.C:
	}
	var zero T
	return zero, false
}

// GetMedia reports the media playback state sessions render with
func (h *Handlers) GetMedia(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"playing":    h.sessions.MediaPlaying(),
		"foreground": h.sessions.Foreground(),
	})
}

// SetMedia records whether media controls are showing on the lockscreen.
// Instances that hide over music are dropped while it is true.
func (h *Handlers) SetMedia(c *gin.Context) {
	var req struct {
		Playing *bool `json:"playing" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	h.sessions.SetMediaPlaying(*req.Playing)
	c.JSON(http.StatusOK, gin.H{"success": true, "playing": *req.Playing})
}
