package routes

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/graphloom/backend/internal/server/middleware"
	"github.com/graphloom/backend/pkg/common"
	"github.com/graphloom/backend/pkg/logger"
	"github.com/graphloom/backend/pkg/staging"
)

// GetStageHandler returns a staged extraction for review.
func GetStageHandler(c echo.Context) error {
	type getStageParams struct {
		StageID string `param:"stage_id" validate:"required"`
	}

	type getStageResponse struct {
		Message string                   `json:"message"`
		Stage   *common.StagedExtraction `json:"stage,omitempty"`
	}

	params := new(getStageParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, getStageResponse{
			Message: "Invalid request",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, getStageResponse{
			Message: "Invalid request",
		})
	}

	cc := c.(*middleware.AppContext)
	ctx := c.Request().Context()

	rec, err := cc.App.Staging.Get(ctx, cc.Scope, params.StageID)
	if err != nil {
		if errors.Is(err, staging.ErrStageNotFound) {
			return c.JSON(http.StatusNotFound, getStageResponse{
				Message: "Stage not found",
			})
		}
		logger.Error("Failed to get staged extraction", "stage_id", params.StageID, "err", err)
		return c.JSON(http.StatusInternalServerError, getStageResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, getStageResponse{
		Message: "OK",
		Stage:   rec,
	})
}
