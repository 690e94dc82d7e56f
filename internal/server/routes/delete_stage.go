package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/graphloom/backend/internal/server/middleware"
	"github.com/graphloom/backend/pkg/logger"
)

// DiscardStageHandler deletes a staged extraction without committing it.
func DiscardStageHandler(c echo.Context) error {
	type discardParams struct {
		StageID string `param:"stage_id" validate:"required"`
	}

	type discardResponse struct {
		Message string `json:"message"`
	}

	params := new(discardParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, discardResponse{
			Message: "Invalid request",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, discardResponse{
			Message: "Invalid request",
		})
	}

	cc := c.(*middleware.AppContext)
	ctx := c.Request().Context()

	if err := cc.App.Staging.Delete(ctx, cc.Scope, params.StageID); err != nil {
		logger.Error("Failed to discard staged extraction", "stage_id", params.StageID, "err", err)
		return c.JSON(http.StatusInternalServerError, discardResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, discardResponse{
		Message: "Stage discarded",
	})
}
