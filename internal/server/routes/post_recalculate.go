package routes

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/graphloom/backend/internal/queue"
	"github.com/graphloom/backend/internal/server/middleware"
	"github.com/graphloom/backend/pkg/logger"
)

// RecalculateTrustHandler enqueues a workspace-wide trust recompute. Runs on
// the worker because workspace size is unbounded.
func RecalculateTrustHandler(c echo.Context) error {
	type recalculateResponse struct {
		Message string `json:"message"`
	}

	cc := c.(*middleware.AppContext)

	msg := queue.TrustJobMsg{
		TenantID:    cc.Scope.TenantID,
		WorkspaceID: cc.Scope.WorkspaceID,
		Operation:   queue.TrustOpRecalculateWorkspace,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, recalculateResponse{
			Message: "Internal server error",
		})
	}

	if err := queue.PublishFIFO(cc.App.Queue, queue.TrustQueue, body); err != nil {
		logger.Error("Failed to publish trust job", "scope", cc.Scope.Key(), "err", err)
		return c.JSON(http.StatusInternalServerError, recalculateResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusAccepted, recalculateResponse{
		Message: "Workspace trust recompute queued",
	})
}
