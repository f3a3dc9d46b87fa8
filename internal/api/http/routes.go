package http

import "github.com/gin-gonic/gin"

// Register mounts every handler on r
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)

	// Sessions
	r.GET("/sessions", h.ListSessions)
	r.POST("/sessions", h.CreateSession)
	r.DELETE("/sessions/:id", h.DestroySession)
	r.POST("/sessions/reload", h.ReloadSessions)
	r.POST("/sessions/:id/events", h.SessionEvent)
	r.POST("/sessions/:id/update", h.RequestSessionUpdate)
	r.GET("/media", h.GetMedia)
	r.PUT("/media", h.SetMedia)

	// Targets
	r.GET("/targets/:surface", h.ListTargets)
	r.POST("/targets/:id/dismiss", h.DismissTarget)
	r.POST("/targets/:id/click", h.ClickTarget)
	r.POST("/changes", h.NotifyChange)

	// Grants and instances
	r.GET("/grants", h.ListGrants)
	r.PUT("/grants/:package", h.UpdateGrant)
	r.GET("/instances", h.ListInstances)
	r.PATCH("/instances/:id/config", h.UpdateInstanceConfig)

	// Builtin providers
	r.GET("/builtin", h.ListAuthorities)
	r.POST("/instances", h.AddInstance)
	r.DELETE("/instances/:id", h.RemoveInstance)
	r.PUT("/calendar/events", h.SetCalendarEvents)

	// Backups
	r.POST("/backup", h.CreateBackup)
	r.GET("/backups", h.ListBackups)
	r.POST("/restore", h.RestoreBackup)

	// Plugins
	r.GET("/plugins", h.ListPlugins)
	r.POST("/plugins/reload", h.ReloadPlugins)
	r.GET("/plugins/repository", h.SearchRepository)

	// Notifications
	r.GET("/notifications", h.ListNotifications)
	r.POST("/notifications", h.PostNotifications)

	// Bridge
	b := r.Group("/bridge", h.requireBridge)
	b.GET("/shortcuts", h.ListShortcuts)
	b.GET("/shortcuts/:package/:id/icon", h.ShortcutIcon)
	b.POST("/shortcuts/:package/:id/start", h.StartShortcut)
	b.GET("/content/type", h.ContentType)
	b.GET("/content/stream-types", h.ContentStreamTypes)
	b.GET("/content/file", h.ContentFile)
	b.GET("/wifi/networks", h.SavedWiFiNetworks)
	b.GET("/tasks", h.RecentTasks)
	b.GET("/predictions/:kind", h.Predictions)
}
