package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/pipeline"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/shared/types"
)

// targetQuery are the render options accepted by ListTargets
type targetQuery struct {
	Expanded      bool   `form:"expanded"`
	OverMusic     bool   `form:"over_music"`
	Split         bool   `form:"split"`
	HideSensitive string `form:"hide_sensitive"`
}

// ListTargets runs the pipeline for one surface without a session
func (h *Handlers) ListTargets(c *gin.Context) {
	surface := types.ParseSurface(c.Param("surface"))
	if surface == types.SurfaceUnknown {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown surface " + c.Param("surface")})
		return
	}

	var q targetQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query: " + err.Error()})
		return
	}

	targets := h.pipeline.Targets(c.Request.Context(), pipeline.Options{
		Surface:       surface,
		Expanded:      q.Expanded,
		OverMusic:     q.OverMusic,
		Split:         q.Split,
		HideSensitive: types.ParseHideSensitive(q.HideSensitive),
	})
	c.JSON(http.StatusOK, gin.H{
		"surface": surface,
		"targets": targets,
		"count":   len(targets),
	})
}

// DismissTarget routes a dismissal to the provider that owns the target
func (h *Handlers) DismissTarget(c *gin.Context) {
	targetID := c.Param("id")

	dismissed, err := h.pipeline.Dismiss(c.Request.Context(), targetID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"target_id": targetID,
		"dismissed": dismissed,
	})
}

// ClickTarget reports an interaction with a target action
func (h *Handlers) ClickTarget(c *gin.Context) {
	targetID := c.Param("id")

	var req struct {
		ActionID string `json:"action_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	handled := h.pipeline.Click(c.Request.Context(), targetID, req.ActionID)
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"target_id": targetID,
		"handled":   handled,
	})
}

// NotifyChange signals that a provider's data changed
func (h *Handlers) NotifyChange(c *gin.Context) {
	var req struct {
		URI string `json:"uri" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	h.bus.NotifyChange(req.URI)
	c.JSON(http.StatusOK, gin.H{"success": true, "uri": req.URI})
}
