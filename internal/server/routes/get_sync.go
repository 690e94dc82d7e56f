package routes

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/graphloom/backend/internal/server/middleware"
	"github.com/graphloom/backend/pkg/logger"
	"github.com/graphloom/backend/pkg/syncer"
)

// GetSyncStatusHandler returns the scope's most recent sync run. Callers
// poll this instead of holding a connection open for the whole run.
func GetSyncStatusHandler(c echo.Context) error {
	type statusResponse struct {
		Message string      `json:"message"`
		Run     *syncer.Run `json:"run,omitempty"`
	}

	cc := c.(*middleware.AppContext)
	ctx := c.Request().Context()

	run, err := cc.App.Runs.Latest(ctx, cc.Scope)
	if err != nil {
		if errors.Is(err, syncer.ErrRunNotFound) {
			return c.JSON(http.StatusOK, statusResponse{
				Message: "No sync runs for this workspace",
			})
		}
		logger.Error("Failed to get sync status", "scope", cc.Scope.Key(), "err", err)
		return c.JSON(http.StatusInternalServerError, statusResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, statusResponse{
		Message: "OK",
		Run:     run,
	})
}

// CancelSyncHandler flags a running sync for cancellation. The synchronizer
// stops at the next coarse step boundary.
func CancelSyncHandler(c echo.Context) error {
	type cancelParams struct {
		RunID string `param:"run_id" validate:"required"`
	}

	type cancelResponse struct {
		Message string `json:"message"`
	}

	params := new(cancelParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, cancelResponse{
			Message: "Invalid request",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, cancelResponse{
			Message: "Invalid request",
		})
	}

	cc := c.(*middleware.AppContext)
	ctx := c.Request().Context()

	if err := cc.App.Runs.RequestCancel(ctx, params.RunID); err != nil {
		if errors.Is(err, syncer.ErrRunNotFound) {
			return c.JSON(http.StatusNotFound, cancelResponse{
				Message: "No running sync with that ID",
			})
		}
		logger.Error("Failed to cancel sync run", "run_id", params.RunID, "err", err)
		return c.JSON(http.StatusInternalServerError, cancelResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, cancelResponse{
		Message: "Cancellation requested",
	})
}
