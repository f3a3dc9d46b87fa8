package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/providers/sdk"
)

// ListPlugins lists the loaded plugin manifests
func (h *Handlers) ListPlugins(c *gin.Context) {
	if h.plugins == nil {
		c.JSON(http.StatusOK, gin.H{"plugins": []any{}, "count": 0})
		return
	}
	manifests := h.plugins.Manifests()
	c.JSON(http.StatusOK, gin.H{
		"plugins": manifests,
		"count":   len(manifests),
		"dir":     h.plugins.Dir(),
	})
}

// ReloadPlugins rescans the manifest directory
func (h *Handlers) ReloadPlugins(c *gin.Context) {
	if h.plugins == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "plugins are not configured"})
		return
	}
	ctx := c.Request.Context()
	if err := h.plugins.Load(ctx); err != nil {
		// broken manifests keep their previous version, the rest still loaded
		h.logger.Warn("Plugin reload finished with errors", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{
			"success": false,
			"error":   err.Error(),
			"count":   len(h.plugins.Manifests()),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "count": len(h.plugins.Manifests())})
}

// SearchRepository searches the remote plugin index. A stale index is served
// when the refresh fails.
func (h *Handlers) SearchRepository(c *gin.Context) {
	if h.repository == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "plugin repository is not configured"})
		return
	}

	plugins, err := h.repository.Search(c.Request.Context(), c.Query("q"))
	if err != nil && plugins == nil {
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": err.Error()})
		return
	}
	resp := gin.H{"plugins": plugins, "count": len(plugins)}
	if err != nil {
		resp["stale"] = true
		resp["error"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// PostNotifications replaces the active notification list
func (h *Handlers) PostNotifications(c *gin.Context) {
	if h.notifications == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "notifications are not configured"})
		return
	}

	var req struct {
		Notifications []sdk.Notification `json:"notifications"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	if req.Notifications == nil {
		req.Notifications = []sdk.Notification{}
	}

	results := h.notifications.Dispatch(c.Request.Context(), req.Notifications)
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"active":    len(req.Notifications),
		"forwarded": results,
	})
}

// ListNotifications returns the last dispatched notification list
func (h *Handlers) ListNotifications(c *gin.Context) {
	if h.notifications == nil {
		c.JSON(http.StatusOK, gin.H{"notifications": []any{}, "count": 0})
		return
	}
	active := h.notifications.Active()
	c.JSON(http.StatusOK, gin.H{"notifications": active, "count": len(active)})
}
