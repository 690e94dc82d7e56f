package routes

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/graphloom/backend/internal/server/middleware"
	"github.com/graphloom/backend/pkg/logger"
	"github.com/graphloom/backend/pkg/trust"
)

// DisputeEntityHandler marks an entity as DISPUTED. A reason is mandatory:
// disputes are audited human judgements, not automated state.
func DisputeEntityHandler(c echo.Context) error {
	type disputeBody struct {
		CanonicalID string `param:"canonical_id" validate:"required"`
		Actor       string `json:"actor" validate:"required"`
		Reason      string `json:"reason" validate:"required"`
	}

	type disputeResponse struct {
		Message string       `json:"message"`
		State   *trust.State `json:"state,omitempty"`
	}

	data := new(disputeBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, disputeResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, disputeResponse{
			Message: "Invalid request body",
		})
	}

	cc := c.(*middleware.AppContext)
	ctx := c.Request().Context()

	state, err := cc.App.Trust.MarkDisputed(ctx, cc.Scope, data.CanonicalID, data.Actor, data.Reason)
	if err != nil {
		if errors.Is(err, trust.ErrEntityNotFound) {
			return c.JSON(http.StatusNotFound, disputeResponse{
				Message: "Entity not found",
			})
		}
		logger.Error("Failed to dispute entity", "canonical_id", data.CanonicalID, "err", err)
		return c.JSON(http.StatusInternalServerError, disputeResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, disputeResponse{
		Message: "Entity marked as disputed",
		State:   state,
	})
}

// ClearDisputeHandler clears a dispute by explicit re-review; the claim
// status is re-derived from the current trust score.
func ClearDisputeHandler(c echo.Context) error {
	type clearBody struct {
		CanonicalID string `param:"canonical_id" validate:"required"`
		Actor       string `json:"actor" validate:"required"`
		Note        string `json:"note"`
	}

	type clearResponse struct {
		Message string       `json:"message"`
		State   *trust.State `json:"state,omitempty"`
	}

	data := new(clearBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, clearResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, clearResponse{
			Message: "Invalid request body",
		})
	}

	cc := c.(*middleware.AppContext)
	ctx := c.Request().Context()

	state, err := cc.App.Trust.ClearDispute(ctx, cc.Scope, data.CanonicalID, data.Actor, data.Note)
	if err != nil {
		if errors.Is(err, trust.ErrEntityNotFound) {
			return c.JSON(http.StatusNotFound, clearResponse{
				Message: "Entity not found",
			})
		}
		logger.Error("Failed to clear dispute", "canonical_id", data.CanonicalID, "err", err)
		return c.JSON(http.StatusInternalServerError, clearResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, clearResponse{
		Message: "Dispute cleared",
		State:   state,
	})
}
