package routes

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/graphloom/backend/internal/server/middleware"
	"github.com/graphloom/backend/pkg/common"
	"github.com/graphloom/backend/pkg/logger"
	"github.com/graphloom/backend/pkg/staging"
)

// StageExtractionHandler stores a completed extraction for human review.
func StageExtractionHandler(c echo.Context) error {
	type stageBody struct {
		DocumentID      string                      `json:"document_id" validate:"required"`
		ExtractionRunID string                      `json:"extraction_run_id"`
		SourceType      string                      `json:"source_type"`
		Entities        []common.StagedEntity       `json:"entities" validate:"required,min=1,dive"`
		Relationships   []common.StagedRelationship `json:"relationships"`
		TTLHours        int                         `json:"ttl_hours"`
	}

	type stageResponse struct {
		Message string `json:"message"`
		StageID string `json:"stage_id,omitempty"`
	}

	data := new(stageBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, stageResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, stageResponse{
			Message: "Invalid request body",
		})
	}

	cc := c.(*middleware.AppContext)
	ctx := c.Request().Context()

	stageID, err := gonanoid.New()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, stageResponse{
			Message: "Internal server error",
		})
	}

	rec := &common.StagedExtraction{
		StageID:         stageID,
		TenantID:        cc.Scope.TenantID,
		WorkspaceID:     cc.Scope.WorkspaceID,
		DocumentID:      data.DocumentID,
		ExtractionRunID: data.ExtractionRunID,
		SourceType:      common.SourceType(data.SourceType),
		Entities:        data.Entities,
		Relationships:   data.Relationships,
		CreatedAt:       time.Now().UTC(),
	}

	ttl := staging.DefaultTTL
	if data.TTLHours > 0 {
		ttl = time.Duration(data.TTLHours) * time.Hour
	}

	if err := cc.App.Staging.Set(ctx, rec, ttl); err != nil {
		logger.Error("Failed to stage extraction", "err", err)
		return c.JSON(http.StatusInternalServerError, stageResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, stageResponse{
		Message: "Extraction staged for review",
		StageID: stageID,
	})
}
