package sparql

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/graphloom/backend/pkg/common"
	"github.com/graphloom/backend/pkg/store"
)

func TestEntityTriplesSanitizesAttributeKeys(t *testing.T) {
	now := time.Now().UTC()
	triples := EntityTriples(store.NodeUpsert{
		CanonicalID: "company-abc123",
		ClassName:   "company",
		DisplayName: "Acme Corp",
		ClaimStatus: common.ClaimStatusFact,
		Confidence:  1.0,
		Attributes: map[string]string{
			"founded in": "1999",
			"HQ-City":    "Berlin",
		},
	}, now)

	found := map[string]string{}
	for _, tr := range triples {
		if strings.HasPrefix(tr.Predicate, PredAttribute) {
			found[strings.TrimPrefix(tr.Predicate, PredAttribute)] = tr.Object
		}
		if strings.ContainsAny(tr.Predicate, " <>\"{}|\\^`") {
			t.Errorf("predicate %q contains characters forbidden in an IRI", tr.Predicate)
		}
	}

	if found["founded_in"] != "1999" {
		t.Errorf("expected attr_founded_in = 1999, got %v", found)
	}
	if found["hq_city"] != "Berlin" {
		t.Errorf("expected attr_hq_city = Berlin, got %v", found)
	}
}

func TestInsertTriplesUpdateBodyHasNoRawAttributeKeys(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL, time.Second)
	scope := common.Scope{TenantID: "t1", WorkspaceID: "w1"}
	triples := EntityTriples(store.NodeUpsert{
		CanonicalID: "company-abc123",
		ClassName:   "company",
		DisplayName: "Acme Corp",
		ClaimStatus: common.ClaimStatusFact,
		Attributes:  map[string]string{"founded in": "1999"},
	}, time.Now().UTC())

	if err := c.InsertTriples(context.Background(), scope, triples); err != nil {
		t.Fatalf("InsertTriples: %v", err)
	}

	if strings.Contains(body, "attr_founded in") {
		t.Fatalf("update body carries a spaced predicate IRI:\n%s", body)
	}
	if !strings.Contains(body, "<"+PredAttribute+"founded_in>") {
		t.Fatalf("expected sanitized attribute predicate in update body:\n%s", body)
	}
}

func TestEvidenceTriplesRoundTripFields(t *testing.T) {
	now := time.Now().UTC()
	link := common.EvidenceLink{
		TargetType: common.EvidenceTargetNode,
		TargetID:   "company-abc123",
		Quote:      "Founded in 1999.",
		TextHash:   "deadbeef",
		DocumentID: "doc-1",
		Confidence: 0.9,
		Method:     common.MethodHumanReview,
	}

	byPred := map[string]string{}
	for _, tr := range EvidenceTriples(link, now) {
		byPred[tr.Predicate] = tr.Object
	}

	// The synchronizer re-projects evidence from these literals; they must
	// all be present on the resource.
	if byPred[PredTargetID] != link.TargetID {
		t.Errorf("missing target ID literal: %v", byPred)
	}
	if byPred[PredTextHash] != link.TextHash {
		t.Errorf("missing text hash literal: %v", byPred)
	}
	if byPred[PredUpdatedAt] == "" {
		t.Error("evidence triples carry no update timestamp")
	}
}
