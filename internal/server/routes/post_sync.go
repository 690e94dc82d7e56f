package routes

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/graphloom/backend/internal/queue"
	"github.com/graphloom/backend/internal/server/middleware"
	"github.com/graphloom/backend/pkg/logger"
	"github.com/graphloom/backend/pkg/syncer"
)

// TriggerSyncHandler enqueues a synchronizer run for the scope. The run
// executes on the worker; a run already in flight for the scope is a 409.
func TriggerSyncHandler(c echo.Context) error {
	type triggerBody struct {
		Mode   string `json:"mode"`
		Target string `json:"type"`
	}

	type triggerResponse struct {
		Message string `json:"message"`
		Mode    string `json:"mode,omitempty"`
		Target  string `json:"target,omitempty"`
	}

	data := new(triggerBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, triggerResponse{
			Message: "Invalid request body",
		})
	}

	mode, err := syncer.ParseMode(data.Mode)
	if err != nil {
		return c.JSON(http.StatusBadRequest, triggerResponse{
			Message: err.Error(),
		})
	}
	target, err := syncer.ParseTarget(data.Target)
	if err != nil {
		return c.JSON(http.StatusBadRequest, triggerResponse{
			Message: err.Error(),
		})
	}

	cc := c.(*middleware.AppContext)
	ctx := c.Request().Context()

	// Reject duplicates up front instead of letting the worker drop them.
	latest, err := cc.App.Runs.Latest(ctx, cc.Scope)
	if err == nil && latest.Status == syncer.StatusRunning {
		return c.JSON(http.StatusConflict, triggerResponse{
			Message: "Sync already running for this workspace",
		})
	}

	msg := queue.SyncJobMsg{
		TenantID:    cc.Scope.TenantID,
		WorkspaceID: cc.Scope.WorkspaceID,
		Mode:        string(mode),
		Target:      string(target),
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, triggerResponse{
			Message: "Internal server error",
		})
	}

	if err := queue.PublishFIFO(cc.App.Queue, queue.SyncQueue, body); err != nil {
		logger.Error("Failed to publish sync job", "scope", cc.Scope.Key(), "err", err)
		return c.JSON(http.StatusInternalServerError, triggerResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusAccepted, triggerResponse{
		Message: "Sync queued",
		Mode:    string(mode),
		Target:  string(target),
	})
}
