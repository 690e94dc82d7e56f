package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"

	"github.com/graphloom/backend/internal/server/middleware"
	"github.com/graphloom/backend/pkg/commit"
	"github.com/graphloom/backend/pkg/common"
	"github.com/graphloom/backend/pkg/store"
)

type testValidator struct {
	validator *validator.Validate
}

func (v *testValidator) Validate(i any) error {
	return v.validator.Struct(i)
}

type stubStaging struct {
	rec *common.StagedExtraction
}

func (s *stubStaging) Get(_ context.Context, _ common.Scope, _ string) (*common.StagedExtraction, error) {
	return s.rec, nil
}

func (s *stubStaging) Set(_ context.Context, _ *common.StagedExtraction, _ time.Duration) error {
	return nil
}

func (s *stubStaging) Delete(_ context.Context, _ common.Scope, _ string) error { return nil }

// downGraph refuses every write, simulating an unreachable property graph.
type downGraph struct{}

func (downGraph) UpsertNodes(context.Context, common.Scope, []store.NodeUpsert) ([]string, error) {
	return nil, errors.New("graph down")
}
func (downGraph) UpsertEdges(context.Context, common.Scope, []store.EdgeUpsert) error {
	return errors.New("graph down")
}
func (downGraph) UpsertAssertions(context.Context, common.Scope, []common.Assertion) error {
	return errors.New("graph down")
}
func (downGraph) AddEvidence(context.Context, common.Scope, []common.EvidenceLink) error {
	return errors.New("graph down")
}
func (downGraph) ListCanonicalIDs(context.Context, common.Scope) ([]string, error) {
	return nil, errors.New("graph down")
}
func (downGraph) DeleteNodes(context.Context, common.Scope, []string) (int, error) {
	return 0, errors.New("graph down")
}
func (downGraph) ClearScope(context.Context, common.Scope) error {
	return errors.New("graph down")
}
func (downGraph) UpdateTrust(context.Context, common.Scope, string, float64, common.ClaimStatus) error {
	return errors.New("graph down")
}

type noopTriples struct{}

func (noopTriples) InsertTriples(context.Context, common.Scope, []store.Triple) error { return nil }
func (noopTriples) ClearGraph(context.Context, common.Scope) error                    { return nil }
func (noopTriples) ListCanonicalIDs(context.Context, common.Scope) ([]string, error) {
	return nil, nil
}
func (noopTriples) ListEntities(context.Context, common.Scope, *time.Time) ([]store.EntityRecord, error) {
	return nil, nil
}
func (noopTriples) ListRelationships(context.Context, common.Scope, *time.Time) ([]store.RelationshipRecord, error) {
	return nil, nil
}
func (noopTriples) ListEvidence(context.Context, common.Scope, *time.Time) ([]common.EvidenceLink, error) {
	return nil, nil
}

func TestCommitStageHandlerAlwaysReturnsStats(t *testing.T) {
	staged := &common.StagedExtraction{
		StageID:     "stage-1",
		TenantID:    "t1",
		WorkspaceID: "w1",
		DocumentID:  "doc-1",
		SourceType:  common.SourceTypeOfficialDocument,
		Entities: []common.StagedEntity{
			{Type: "Company", Label: "Acme Corp", Confidence: 0.95},
		},
	}
	pipeline := commit.NewPipeline(&stubStaging{rec: staged}, downGraph{}, noopTriples{}, nil)

	e := echo.New()
	e.Validator = &testValidator{validator: validator.New()}
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("stage_id")
	c.SetParamValues("stage-1")
	cc := &middleware.AppContext{
		Context: c,
		App:     &middleware.App{Commits: pipeline},
		Scope:   common.Scope{TenantID: "t1", WorkspaceID: "w1"},
	}

	if err := CommitStageHandler(cc); err != nil {
		t.Fatalf("CommitStageHandler: %v", err)
	}
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if _, ok := body["result"]; !ok {
		t.Fatalf("error response must carry the stats object, got %s", rec.Body.String())
	}
}
