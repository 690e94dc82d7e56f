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

// UpdateStageHandler overwrites a staged extraction with reviewer edits. The
// stage keeps its identity and scope; only the reviewed content changes.
func UpdateStageHandler(c echo.Context) error {
	type updateStageBody struct {
		StageID       string                      `param:"stage_id" validate:"required"`
		Entities      []common.StagedEntity       `json:"entities" validate:"required,min=1,dive"`
		Relationships []common.StagedRelationship `json:"relationships"`
	}

	type updateStageResponse struct {
		Message string `json:"message"`
	}

	data := new(updateStageBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, updateStageResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, updateStageResponse{
			Message: "Invalid request body",
		})
	}

	cc := c.(*middleware.AppContext)
	ctx := c.Request().Context()

	rec, err := cc.App.Staging.Get(ctx, cc.Scope, data.StageID)
	if err != nil {
		if errors.Is(err, staging.ErrStageNotFound) {
			return c.JSON(http.StatusNotFound, updateStageResponse{
				Message: "Stage not found",
			})
		}
		logger.Error("Failed to get staged extraction", "stage_id", data.StageID, "err", err)
		return c.JSON(http.StatusInternalServerError, updateStageResponse{
			Message: "Internal server error",
		})
	}

	rec.Entities = data.Entities
	rec.Relationships = data.Relationships

	if err := cc.App.Staging.Set(ctx, rec, staging.DefaultTTL); err != nil {
		logger.Error("Failed to update staged extraction", "stage_id", data.StageID, "err", err)
		return c.JSON(http.StatusInternalServerError, updateStageResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, updateStageResponse{
		Message: "Stage updated",
	})
}
