package routes

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/graphloom/backend/internal/server/middleware"
	"github.com/graphloom/backend/pkg/commit"
	"github.com/graphloom/backend/pkg/logger"
	"github.com/graphloom/backend/pkg/staging"
)

// CommitStageHandler runs the dual-write commit pipeline for a staged
// extraction. On a partial commit the property graph holds the batch but the
// triplestore write failed; the response carries the partial stats and the
// next sync pass reconciles the stores.
func CommitStageHandler(c echo.Context) error {
	type commitParams struct {
		StageID string `param:"stage_id" validate:"required"`
	}

	type commitResponse struct {
		Message string         `json:"message"`
		Partial bool           `json:"partial,omitempty"`
		Result  *commit.Result `json:"result,omitempty"`
	}

	params := new(commitParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, commitResponse{
			Message: "Invalid request",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, commitResponse{
			Message: "Invalid request",
		})
	}

	cc := c.(*middleware.AppContext)
	ctx := c.Request().Context()

	result, err := cc.App.Commits.Commit(ctx, cc.Scope, params.StageID)
	if err != nil {
		switch {
		case errors.Is(err, staging.ErrStageNotFound):
			return c.JSON(http.StatusNotFound, commitResponse{
				Message: "Stage not found",
			})
		case errors.Is(err, commit.ErrNoEntities):
			return c.JSON(http.StatusBadRequest, commitResponse{
				Message: "Staged extraction has no entities",
			})
		case errors.Is(err, commit.ErrPartialCommit):
			logger.Error("Partial commit", "stage_id", params.StageID, "err", err)
			return c.JSON(http.StatusInternalServerError, commitResponse{
				Message: "Commit partially applied; awaiting sync reconciliation",
				Partial: true,
				Result:  &result,
			})
		default:
			logger.Error("Failed to commit stage", "stage_id", params.StageID, "err", err)
			return c.JSON(http.StatusInternalServerError, commitResponse{
				Message: "Internal server error",
				Result:  &result,
			})
		}
	}

	return c.JSON(http.StatusOK, commitResponse{
		Message: "Committed",
		Result:  &result,
	})
}
