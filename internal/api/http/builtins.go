package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/providers/builtin"
)

type addInstanceRequest struct {
	Authority string `json:"authority" binding:"required"`
}

type calendarEventsRequest struct {
	Events []builtin.Event `json:"events"`
}

// AddInstance adds an instance of a builtin provider
func (h *Handlers) AddInstance(c *gin.Context) {
	if h.builtins == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "builtin providers are not configured"})
		return
	}

	var req addInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	inst, err := h.builtins.Add(c.Request.Context(), req.Authority)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"success":   true,
		"id":        inst.ID,
		"authority": inst.Authority,
		"position":  inst.Position,
	})
}

// RemoveInstance removes an instance of a builtin provider. Plugin
// instances follow their manifest and cannot be removed here.
func (h *Handlers) RemoveInstance(c *gin.Context) {
	if h.builtins == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "builtin providers are not configured"})
		return
	}

	instanceID := c.Param("id")
	if err := h.builtins.Remove(c.Request.Context(), instanceID); err != nil {
		respondError(c, err)
		return
	}
	h.logger.Info("Instance removed", zap.String("instance", instanceID))
	c.JSON(http.StatusOK, gin.H{"success": true, "id": instanceID})
}

// ListAuthorities lists the builtin providers instances can be added for
func (h *Handlers) ListAuthorities(c *gin.Context) {
	var authorities []string
	if h.builtins != nil {
		authorities = h.builtins.Authorities()
	}
	c.JSON(http.StatusOK, gin.H{"authorities": authorities, "count": len(authorities)})
}

// SetCalendarEvents replaces the events the calendar target shows
func (h *Handlers) SetCalendarEvents(c *gin.Context) {
	if h.calendar == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "calendar is not configured"})
		return
	}

	var req calendarEventsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	h.calendar.Set(req.Events)
	c.JSON(http.StatusOK, gin.H{"success": true, "count": len(req.Events)})
}
