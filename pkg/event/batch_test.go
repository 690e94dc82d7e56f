package event

import (
	"testing"
	"time"

	"github.com/graphloom/backend/pkg/common"
)

func newTestBatch() *Batch {
	return NewBatch("t1", "w1", "run-1", common.SourceTypeUserUpload, "doc-1")
}

func nodeEvent(b *Batch, id string) UpsertNodeEvent {
	return UpsertNodeEvent{
		Metadata:    b.Meta(),
		CanonicalID: id,
		ClassName:   "thing",
		DisplayName: id,
		Confidence:  0.9,
		ClaimStatus: common.ClaimStatusClaim,
		Active:      true,
	}
}

func edgeEvent(b *Batch, from, to string) UpsertEdgeEvent {
	return UpsertEdgeEvent{
		Metadata:         b.Meta(),
		RelationshipType: "RELATES_TO",
		FromCanonicalID:  from,
		ToCanonicalID:    to,
		Confidence:       0.8,
		ClaimStatus:      common.ClaimStatusClaim,
		ExtractedAt:      time.Now(),
	}
}

func TestBatchStatsMatchEventCounts(t *testing.T) {
	b := newTestBatch()

	for _, id := range []string{"a", "b", "c"} {
		if err := b.Add(nodeEvent(b, id)); err != nil {
			t.Fatalf("Add(node %s) error: %v", id, err)
		}
	}
	if err := b.Add(edgeEvent(b, "a", "b")); err != nil {
		t.Fatalf("Add(edge) error: %v", err)
	}
	if err := b.Add(edgeEvent(b, "b", "c")); err != nil {
		t.Fatalf("Add(edge) error: %v", err)
	}

	assertion := common.Assertion{
		AssertionID:        "as-1",
		SubjectCanonicalID: "a",
		Predicate:          "RELATES_TO",
		ObjectCanonicalID:  "b",
		Confidence:         0.8,
		ClaimStatus:        common.ClaimStatusClaim,
		Method:             common.MethodLLMExtraction,
		DocumentID:         "doc-1",
	}
	if err := b.Add(UpsertAssertionEvent{Metadata: b.Meta(), Assertion: assertion}); err != nil {
		t.Fatalf("Add(assertion) error: %v", err)
	}

	evidence := common.EvidenceLink{
		TargetType: common.EvidenceTargetAssertion,
		TargetID:   "as-1",
		DocumentID: "doc-1",
		Quote:      "a relates to b",
		TextHash:   "abc123",
		Confidence: 0.8,
		Method:     common.MethodLLMExtraction,
	}
	if err := b.Add(EvidenceLinkEvent{Metadata: b.Meta(), Evidence: evidence}); err != nil {
		t.Fatalf("Add(evidence) error: %v", err)
	}

	want := Stats{Nodes: 3, Edges: 2, Assertions: 1, EvidenceLinks: 1}
	if got := b.Stats(); got != want {
		t.Errorf("Stats() = %+v, want %+v", got, want)
	}
	if len(b.Events()) != 7 {
		t.Errorf("len(Events()) = %d, want 7", len(b.Events()))
	}
}

func TestBatchRejectsUnknownEndpoints(t *testing.T) {
	b := newTestBatch()
	if err := b.Add(nodeEvent(b, "a")); err != nil {
		t.Fatalf("Add(node) error: %v", err)
	}

	if err := b.Add(edgeEvent(b, "a", "ghost")); err == nil {
		t.Error("Add(edge to unknown node) should fail")
	}
	if err := b.Add(edgeEvent(b, "ghost", "a")); err == nil {
		t.Error("Add(edge from unknown node) should fail")
	}

	// Stats must not count rejected events.
	if got := b.Stats(); got.Edges != 0 {
		t.Errorf("Stats().Edges = %d after rejected adds, want 0", got.Edges)
	}
}

func TestBatchAllowExisting(t *testing.T) {
	b := newTestBatch()
	if err := b.Add(nodeEvent(b, "a")); err != nil {
		t.Fatalf("Add(node) error: %v", err)
	}

	b.AllowExisting("already-in-store")
	if err := b.Add(edgeEvent(b, "a", "already-in-store")); err != nil {
		t.Errorf("Add(edge to pre-existing node) error: %v", err)
	}
}

func TestBatchRejectsEvidenceForUnknownTarget(t *testing.T) {
	b := newTestBatch()
	evidence := common.EvidenceLink{
		TargetType: common.EvidenceTargetNode,
		TargetID:   "nobody",
		Quote:      "quote",
		TextHash:   "h",
	}
	if err := b.Add(EvidenceLinkEvent{Metadata: b.Meta(), Evidence: evidence}); err == nil {
		t.Error("Add(evidence for unknown target) should fail")
	}
}

func TestClaimStatusMaxNeverDowngrades(t *testing.T) {
	tests := []struct {
		name string
		a, b common.ClaimStatus
		want common.ClaimStatus
	}{
		{"fact beats claim", common.ClaimStatusFact, common.ClaimStatusClaim, common.ClaimStatusFact},
		{"claim then fact", common.ClaimStatusClaim, common.ClaimStatusFact, common.ClaimStatusFact},
		{"verified beats claim", common.ClaimStatusVerified, common.ClaimStatusClaim, common.ClaimStatusVerified},
		{"disputed sticks", common.ClaimStatusDisputed, common.ClaimStatusFact, common.ClaimStatusDisputed},
		{"equal stays", common.ClaimStatusFact, common.ClaimStatusFact, common.ClaimStatusFact},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Max(tt.b); got != tt.want {
				t.Errorf("%s.Max(%s) = %s, want %s", tt.a, tt.b, got, tt.want)
			}
		})
	}
}
