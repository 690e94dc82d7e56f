package server

import (
	"github.com/labstack/echo/v4"

	"github.com/graphloom/backend/internal/server/middleware"
	"github.com/graphloom/backend/internal/server/routes"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api", middleware.ScopeMiddleware)

	// Extraction review routes
	apiRoutes.POST("/extraction-review/stage", routes.StageExtractionHandler)
	apiRoutes.GET("/extraction-review/:stage_id", routes.GetStageHandler)
	apiRoutes.PUT("/extraction-review/:stage_id", routes.UpdateStageHandler)
	apiRoutes.DELETE("/extraction-review/:stage_id", routes.DiscardStageHandler)
	apiRoutes.POST("/extraction-review/:stage_id/commit", routes.CommitStageHandler)

	// Sync routes
	apiRoutes.POST("/sync/trigger", routes.TriggerSyncHandler)
	apiRoutes.GET("/sync/status", routes.GetSyncStatusHandler)
	apiRoutes.POST("/sync/:run_id/cancel", routes.CancelSyncHandler)
	apiRoutes.POST("/sync/remove-orphans", routes.RemoveOrphansHandler)

	// Trust routes
	apiRoutes.GET("/entities/:canonical_id/trust", routes.GetEntityTrustHandler)
	apiRoutes.POST("/entities/:canonical_id/promote", routes.PromoteEntityHandler)
	apiRoutes.POST("/entities/:canonical_id/dispute", routes.DisputeEntityHandler)
	apiRoutes.POST("/entities/:canonical_id/clear-dispute", routes.ClearDisputeHandler)
	apiRoutes.POST("/trust/recalculate", routes.RecalculateTrustHandler)
}
