package routes

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/graphloom/backend/internal/server/middleware"
	"github.com/graphloom/backend/pkg/logger"
	"github.com/graphloom/backend/pkg/trust"
)

// GetEntityTrustHandler returns an entity's trust state and its verification
// audit trail.
func GetEntityTrustHandler(c echo.Context) error {
	type trustParams struct {
		CanonicalID string `param:"canonical_id" validate:"required"`
	}

	type trustResponse struct {
		Message string                    `json:"message"`
		State   *trust.State              `json:"state,omitempty"`
		History []trust.VerificationEvent `json:"history,omitempty"`
	}

	params := new(trustParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, trustResponse{
			Message: "Invalid request",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, trustResponse{
			Message: "Invalid request",
		})
	}

	cc := c.(*middleware.AppContext)
	ctx := c.Request().Context()

	state, err := cc.App.Trust.GetEntityTrust(ctx, cc.Scope, params.CanonicalID)
	if err != nil {
		if errors.Is(err, trust.ErrEntityNotFound) {
			return c.JSON(http.StatusNotFound, trustResponse{
				Message: "Entity not found",
			})
		}
		logger.Error("Failed to get entity trust", "canonical_id", params.CanonicalID, "err", err)
		return c.JSON(http.StatusInternalServerError, trustResponse{
			Message: "Internal server error",
		})
	}

	history, err := cc.App.Trust.History(ctx, cc.Scope, params.CanonicalID)
	if err != nil {
		logger.Error("Failed to get trust history", "canonical_id", params.CanonicalID, "err", err)
		return c.JSON(http.StatusInternalServerError, trustResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, trustResponse{
		Message: "OK",
		State:   state,
		History: history,
	})
}
