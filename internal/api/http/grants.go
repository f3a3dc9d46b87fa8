package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/domain/registry"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/shared/utils"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/store"
)

// ListGrants lists what each plugin package has been allowed to do
func (h *Handlers) ListGrants(c *gin.Context) {
	grants, err := h.store.Grants(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"grants": grants,
		"count":  len(grants),
	})
}

// UpdateGrant replaces the grant of a package. A grant that allows nothing is
// removed.
func (h *Handlers) UpdateGrant(c *gin.Context) {
	pkg := c.Param("package")
	if err := utils.ValidatePackageName(pkg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var grant store.Grant
	if err := c.ShouldBindJSON(&grant); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	grant.Package = pkg

	ctx := c.Request.Context()
	if err := h.store.SaveGrant(ctx, grant); err != nil {
		respondError(c, err)
		return
	}
	h.logger.Info("Grant updated",
		zap.String("package", pkg),
		zap.Bool("notifications", grant.Notifications),
		zap.Bool("smartspace", grant.Smartspace))

	// a newly granted listener should see the current notifications
	if grant.Notifications && h.notifications != nil {
		h.notifications.Replay(ctx)
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "grant": grant})
}

// ListInstances lists the persisted instances, optionally of one kind
func (h *Handlers) ListInstances(c *gin.Context) {
	instances, err := h.store.Instances(c.Request.Context(), c.Query("kind"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"instances": instances,
		"count":     len(instances),
	})
}

// UpdateInstanceConfig edits the settings of one instance. Only the fields
// present in the body change.
func (h *Handlers) UpdateInstanceConfig(c *gin.Context) {
	instanceID := c.Param("id")

	var patch registry.ConfigSpec
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	live, ok := h.pipeline.Registry().Get(instanceID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "unknown instance " + instanceID})
		return
	}

	updated := *live
	updated.Config = patch.Apply(live.Config)
	ctx := c.Request.Context()
	if err := h.store.UpdateInstanceConfig(ctx, instanceID, updated.Config); err != nil {
		respondError(c, err)
		return
	}
	if err := h.pipeline.Registry().Register(&updated); err != nil {
		respondError(c, err)
		return
	}
	h.pipeline.Invalidate(instanceID)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"id":      instanceID,
		"config":  updated.Config,
	})
}
