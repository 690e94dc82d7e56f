package commit

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/graphloom/backend/pkg/common"
	"github.com/graphloom/backend/pkg/event"
	"github.com/graphloom/backend/pkg/identity"
	"github.com/graphloom/backend/pkg/staging"
	"github.com/graphloom/backend/pkg/store"
)

type fakeStaging struct {
	records map[string]*common.StagedExtraction
	deleted []string
}

func newFakeStaging() *fakeStaging {
	return &fakeStaging{records: make(map[string]*common.StagedExtraction)}
}

func (f *fakeStaging) Get(_ context.Context, scope common.Scope, stageID string) (*common.StagedExtraction, error) {
	rec, ok := f.records[staging.Key(scope, stageID)]
	if !ok {
		return nil, staging.ErrStageNotFound
	}
	return rec, nil
}

func (f *fakeStaging) Set(_ context.Context, rec *common.StagedExtraction, _ time.Duration) error {
	f.records[staging.Key(rec.Scope(), rec.StageID)] = rec
	return nil
}

func (f *fakeStaging) Delete(_ context.Context, scope common.Scope, stageID string) error {
	delete(f.records, staging.Key(scope, stageID))
	f.deleted = append(f.deleted, stageID)
	return nil
}

type fakeGraph struct {
	nodes      map[string]store.NodeUpsert
	edges      []store.EdgeUpsert
	assertions map[string]common.Assertion
	evidence   map[string]common.EvidenceLink
	failNodes  bool
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{
		nodes:      make(map[string]store.NodeUpsert),
		assertions: make(map[string]common.Assertion),
		evidence:   make(map[string]common.EvidenceLink),
	}
}

func (f *fakeGraph) UpsertNodes(_ context.Context, _ common.Scope, nodes []store.NodeUpsert) ([]string, error) {
	if f.failNodes {
		return nil, errors.New("graph down")
	}
	for _, n := range nodes {
		f.nodes[n.CanonicalID] = n
	}
	return nil, nil
}

func (f *fakeGraph) UpsertEdges(_ context.Context, _ common.Scope, edges []store.EdgeUpsert) error {
	f.edges = append(f.edges, edges...)
	return nil
}

func (f *fakeGraph) UpsertAssertions(_ context.Context, _ common.Scope, assertions []common.Assertion) error {
	for _, a := range assertions {
		f.assertions[a.AssertionID] = a
	}
	return nil
}

func (f *fakeGraph) AddEvidence(_ context.Context, _ common.Scope, links []common.EvidenceLink) error {
	for _, l := range links {
		f.evidence[l.TargetID+":"+l.TextHash] = l
	}
	return nil
}

func (f *fakeGraph) ListCanonicalIDs(_ context.Context, _ common.Scope) ([]string, error) {
	ids := make([]string, 0, len(f.nodes))
	for id := range f.nodes {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeGraph) DeleteNodes(_ context.Context, _ common.Scope, ids []string) (int, error) {
	n := 0
	for _, id := range ids {
		if _, ok := f.nodes[id]; ok {
			delete(f.nodes, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeGraph) ClearScope(_ context.Context, _ common.Scope) error {
	f.nodes = make(map[string]store.NodeUpsert)
	f.edges = nil
	f.assertions = make(map[string]common.Assertion)
	f.evidence = make(map[string]common.EvidenceLink)
	return nil
}

func (f *fakeGraph) UpdateTrust(_ context.Context, _ common.Scope, _ string, _ float64, _ common.ClaimStatus) error {
	return nil
}

type fakeTriples struct {
	triples []store.Triple
	fail    bool
}

func (f *fakeTriples) InsertTriples(_ context.Context, _ common.Scope, triples []store.Triple) error {
	if f.fail {
		return errors.New("triplestore down")
	}
	f.triples = append(f.triples, triples...)
	return nil
}

func (f *fakeTriples) ClearGraph(_ context.Context, _ common.Scope) error {
	f.triples = nil
	return nil
}

func (f *fakeTriples) ListCanonicalIDs(_ context.Context, _ common.Scope) ([]string, error) {
	return nil, nil
}

func (f *fakeTriples) ListEntities(_ context.Context, _ common.Scope, _ *time.Time) ([]store.EntityRecord, error) {
	return nil, nil
}

func (f *fakeTriples) ListRelationships(_ context.Context, _ common.Scope, _ *time.Time) ([]store.RelationshipRecord, error) {
	return nil, nil
}

func (f *fakeTriples) ListEvidence(_ context.Context, _ common.Scope, _ *time.Time) ([]common.EvidenceLink, error) {
	return nil, nil
}

func stagedFixture() *common.StagedExtraction {
	return &common.StagedExtraction{
		StageID:     "stage-1",
		TenantID:    "t1",
		WorkspaceID: "w1",
		DocumentID:  "doc-1",
		SourceType:  common.SourceTypeOfficialDocument,
		Entities: []common.StagedEntity{
			{Type: "Company", Label: "Acme Corp", Confidence: 0.95, Evidence: "Acme Corp was founded in 1990.", ChunkID: "c1"},
			{Type: "Person", Label: "Jane Smith", Confidence: 0.9},
		},
		Relationships: []common.StagedRelationship{
			{SourceLabel: "Jane Smith", TargetLabel: "Acme Corp", Predicate: "works for", Confidence: 0.85, Evidence: "Jane Smith is the CEO of Acme Corp.", ChunkID: "c2"},
		},
	}
}

func TestBuildBatchStats(t *testing.T) {
	b, skipped, err := BuildBatch(stagedFixture())
	if err != nil {
		t.Fatalf("BuildBatch: %v", err)
	}
	if len(skipped) != 0 {
		t.Fatalf("expected no skipped relationships, got %v", skipped)
	}

	stats := b.Stats()
	if stats.Nodes != 2 || stats.Edges != 1 || stats.Assertions != 1 || stats.EvidenceLinks != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestBuildBatchNoEntities(t *testing.T) {
	staged := stagedFixture()
	staged.Entities = nil

	if _, _, err := BuildBatch(staged); !errors.Is(err, ErrNoEntities) {
		t.Fatalf("expected ErrNoEntities, got %v", err)
	}
}

func TestBuildBatchSkipsDanglingRelationships(t *testing.T) {
	staged := stagedFixture()
	staged.Relationships = append(staged.Relationships,
		common.StagedRelationship{SourceLabel: "Jane Smith", TargetLabel: "Ghost Inc", Predicate: "advises"},
		common.StagedRelationship{SourceLabel: "Nobody", TargetLabel: "Acme Corp", Predicate: "owns"},
	)

	b, skipped, err := BuildBatch(staged)
	if err != nil {
		t.Fatalf("BuildBatch: %v", err)
	}
	if len(skipped) != 2 {
		t.Fatalf("expected 2 skipped relationships, got %v", skipped)
	}
	if stats := b.Stats(); stats.Edges != 1 || stats.Assertions != 1 {
		t.Fatalf("dangling relationships leaked into batch: %+v", stats)
	}
}

func TestBuildBatchDefaultsConfidence(t *testing.T) {
	staged := stagedFixture()
	staged.Entities[1].Confidence = 0

	b, _, err := BuildBatch(staged)
	if err != nil {
		t.Fatalf("BuildBatch: %v", err)
	}
	for _, e := range b.Events() {
		node, ok := e.(event.UpsertNodeEvent)
		if !ok {
			continue
		}
		if node.DisplayName == "Jane Smith" && node.Confidence != 1.0 {
			t.Fatalf("expected default confidence 1.0, got %v", node.Confidence)
		}
	}
}

func TestCommitEndToEnd(t *testing.T) {
	stages := newFakeStaging()
	graph := newFakeGraph()
	triples := &fakeTriples{}
	staged := stagedFixture()
	scope := staged.Scope()
	_ = stages.Set(context.Background(), staged, 0)

	p := NewPipeline(stages, graph, triples, nil)
	res, err := p.Commit(context.Background(), scope, "stage-1")
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if res.Entities != 2 || res.Relationships != 1 || res.Assertions != 1 || res.EvidenceLinks != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.TriplesWritten == 0 || res.TriplesWritten != len(triples.triples) {
		t.Fatalf("expected triples written, got %d (store has %d)", res.TriplesWritten, len(triples.triples))
	}

	acmeID := identity.Resolve("Company", "Acme Corp")
	node, ok := graph.nodes[acmeID]
	if !ok {
		t.Fatalf("Acme node missing from property graph (id %s)", acmeID)
	}
	if node.ClaimStatus != common.ClaimStatusFact {
		t.Fatalf("human-reviewed commit should land as FACT, got %s", node.ClaimStatus)
	}
	if len(graph.edges) != 1 {
		t.Fatalf("expected 1 edge, got %d", len(graph.edges))
	}
	if len(graph.assertions) != 1 {
		t.Fatalf("expected 1 assertion, got %d", len(graph.assertions))
	}

	// Stage is consumed on success.
	if _, err := stages.Get(context.Background(), scope, "stage-1"); !errors.Is(err, staging.ErrStageNotFound) {
		t.Fatalf("stage should be deleted after commit, got %v", err)
	}
}

func TestCommitStageNotFound(t *testing.T) {
	p := NewPipeline(newFakeStaging(), newFakeGraph(), &fakeTriples{}, nil)

	_, err := p.Commit(context.Background(), common.Scope{TenantID: "t1", WorkspaceID: "w1"}, "missing")
	if !errors.Is(err, staging.ErrStageNotFound) {
		t.Fatalf("expected ErrStageNotFound, got %v", err)
	}
}

func TestCommitPropertyGraphFailure(t *testing.T) {
	stages := newFakeStaging()
	graph := newFakeGraph()
	graph.failNodes = true
	triples := &fakeTriples{}
	staged := stagedFixture()
	_ = stages.Set(context.Background(), staged, 0)

	p := NewPipeline(stages, graph, triples, nil)
	_, err := p.Commit(context.Background(), staged.Scope(), "stage-1")
	if !errors.Is(err, ErrStoreWriteFailed) {
		t.Fatalf("expected ErrStoreWriteFailed, got %v", err)
	}
	if len(triples.triples) != 0 {
		t.Fatal("triplestore must not be written when the property graph write fails")
	}
	if len(stages.deleted) != 0 {
		t.Fatal("stage must survive a failed commit")
	}
}

func TestCommitPartial(t *testing.T) {
	stages := newFakeStaging()
	graph := newFakeGraph()
	triples := &fakeTriples{fail: true}
	staged := stagedFixture()
	scope := staged.Scope()
	_ = stages.Set(context.Background(), staged, 0)

	p := NewPipeline(stages, graph, triples, nil)
	res, err := p.Commit(context.Background(), scope, "stage-1")
	if !errors.Is(err, ErrPartialCommit) {
		t.Fatalf("expected ErrPartialCommit, got %v", err)
	}

	// Partial stats are reported so the caller can surface what landed.
	if res.Entities != 2 || res.Relationships != 1 {
		t.Fatalf("partial result should carry batch stats, got %+v", res)
	}
	if len(graph.nodes) != 2 {
		t.Fatalf("property graph should hold the batch, got %d nodes", len(graph.nodes))
	}
	// Stage survives so the commit can be retried once the store recovers.
	if _, err := stages.Get(context.Background(), scope, "stage-1"); err != nil {
		t.Fatalf("stage should survive a partial commit, got %v", err)
	}
}

func TestCommitIdempotentAssertions(t *testing.T) {
	stages := newFakeStaging()
	graph := newFakeGraph()
	triples := &fakeTriples{}
	p := NewPipeline(stages, graph, triples, nil)

	for i := 0; i < 2; i++ {
		staged := stagedFixture()
		_ = stages.Set(context.Background(), staged, 0)
		if _, err := p.Commit(context.Background(), staged.Scope(), "stage-1"); err != nil {
			t.Fatalf("commit %d: %v", i+1, err)
		}
	}

	// Deterministic assertion IDs collapse the replay onto the same record.
	if len(graph.assertions) != 1 {
		t.Fatalf("expected 1 assertion after re-commit, got %d", len(graph.assertions))
	}
	for id := range graph.assertions {
		if !strings.HasPrefix(id, "as-") {
			t.Fatalf("assertion ID missing as- prefix: %s", id)
		}
	}
	if len(graph.evidence) != 2 {
		t.Fatalf("evidence should dedupe by text hash, got %d", len(graph.evidence))
	}
}
