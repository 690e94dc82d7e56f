package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/graphloom/backend/internal/server/middleware"
	"github.com/graphloom/backend/pkg/logger"
)

// RemoveOrphansHandler runs orphan reconciliation synchronously: projection
// entities with no source record in the triplestore are deleted and the
// count returned. Cheap enough to run inline, unlike a full sync.
func RemoveOrphansHandler(c echo.Context) error {
	type orphansResponse struct {
		Message string `json:"message"`
		Removed int    `json:"removed"`
	}

	cc := c.(*middleware.AppContext)
	ctx := c.Request().Context()

	removed, err := cc.App.Syncer.RemoveOrphans(ctx, cc.Scope)
	if err != nil {
		logger.Error("Failed to remove orphans", "scope", cc.Scope.Key(), "err", err)
		return c.JSON(http.StatusInternalServerError, orphansResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, orphansResponse{
		Message: "Orphan reconciliation complete",
		Removed: removed,
	})
}
