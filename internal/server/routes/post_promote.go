package routes

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/graphloom/backend/internal/server/middleware"
	"github.com/graphloom/backend/pkg/logger"
	"github.com/graphloom/backend/pkg/trust"
)

// PromoteEntityHandler promotes an entity to FACT by explicit human action.
func PromoteEntityHandler(c echo.Context) error {
	type promoteBody struct {
		CanonicalID string `param:"canonical_id" validate:"required"`
		Actor       string `json:"actor" validate:"required"`
		Note        string `json:"note"`
	}

	type promoteResponse struct {
		Message string       `json:"message"`
		State   *trust.State `json:"state,omitempty"`
	}

	data := new(promoteBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, promoteResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, promoteResponse{
			Message: "Invalid request body",
		})
	}

	cc := c.(*middleware.AppContext)
	ctx := c.Request().Context()

	state, err := cc.App.Trust.PromoteToFact(ctx, cc.Scope, data.CanonicalID, data.Actor, data.Note)
	if err != nil {
		if errors.Is(err, trust.ErrEntityNotFound) {
			return c.JSON(http.StatusNotFound, promoteResponse{
				Message: "Entity not found",
			})
		}
		logger.Error("Failed to promote entity", "canonical_id", data.CanonicalID, "err", err)
		return c.JSON(http.StatusInternalServerError, promoteResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, promoteResponse{
		Message: "Entity promoted to FACT",
		State:   state,
	})
}
