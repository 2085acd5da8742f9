package http

import "github.com/gin-gonic/gin"

// RegisterRoutes mounts every dashboard route. stream serves the view
// WebSocket and may be nil.
func RegisterRoutes(router gin.IRouter, h *Handlers, stream gin.HandlerFunc) {
	router.GET("/", h.Root)
	router.GET("/health", h.Health)

	// Metrics endpoints
	router.GET("/metrics", h.Metrics)
	router.GET("/metrics/json", h.MetricsJSON)

	// Session endpoints
	router.POST("/sessions", h.OpenSession)
	router.DELETE("/sessions/:sid", h.CloseSession)

	api := router.Group("/api", h.RequireSession)
	api.GET("/live", h.Live)

	// Views
	api.GET("/views", h.ListViews)
	api.POST("/views", h.OpenView)
	api.POST("/views/refresh", h.RefreshAll)
	api.GET("/views/:id", h.GetView)
	api.POST("/views/:id/refresh", h.RefreshView)
	api.DELETE("/views/:id", h.CloseView)
	if stream != nil {
		api.GET("/views/:id/stream", stream)
	}

	// Packages
	api.GET("/packages", h.ListPackages)
	api.POST("/packages", h.CreatePackage)
	api.GET("/packages/:id", h.GetPackage)
	api.PATCH("/packages/:id", h.UpdatePackage)
	api.DELETE("/packages/:id", h.DeletePackage)

	// Couriers
	api.GET("/couriers", h.ListCouriers)
	api.POST("/couriers", h.CreateCourier)
	api.GET("/couriers/:id", h.GetCourier)
	api.PATCH("/couriers/:id", h.UpdateCourier)
	api.DELETE("/couriers/:id", h.DeleteCourier)

	api.POST("/status-updates", h.SendStatusUpdate)
}
