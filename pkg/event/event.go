// Package event defines the typed graph-event model consumed by the dual
// write. Events form a closed union; both store writers switch exhaustively
// over the kinds, so adding a kind forces a review of both writers.
package event

import (
	"time"

	"github.com/graphloom/backend/pkg/common"
)

// Kind discriminates the event union.
type Kind string

const (
	KindUpsertNode      Kind = "upsert_node"
	KindUpsertEdge      Kind = "upsert_edge"
	KindUpsertAssertion Kind = "upsert_assertion"
	KindEvidenceLink    Kind = "evidence_link"
)

// Event is the closed union of graph events. Only the four event types in
// this package implement it.
type Event interface {
	Kind() Kind
	Meta() Metadata
}

// Metadata carries the scoping and traceability fields every event has.
type Metadata struct {
	TenantID        string            `json:"tenant_id"`
	WorkspaceID     string            `json:"workspace_id"`
	ExtractionRunID string            `json:"extraction_run_id"`
	SourceType      common.SourceType `json:"source_type"`
	SourceID        string            `json:"source_id"`
}

// UpsertNodeEvent creates or updates a canonical entity node. Upserts are
// idempotent: attributes merge, confidence takes the max, and claim status
// never downgrades on replay.
type UpsertNodeEvent struct {
	Metadata
	CanonicalID  string             `json:"canonical_id"`
	ClassName    string             `json:"class_name"`
	DisplayName  string             `json:"display_name"`
	IdentityKeys []string           `json:"identity_keys,omitempty"`
	Attributes   map[string]string  `json:"attributes,omitempty"`
	Confidence   float64            `json:"confidence"`
	ClaimStatus  common.ClaimStatus `json:"claim_status"`
	Active       bool               `json:"active"`
	SourceDocIDs []string           `json:"source_doc_ids,omitempty"`
}

func (e UpsertNodeEvent) Kind() Kind     { return KindUpsertNode }
func (e UpsertNodeEvent) Meta() Metadata { return e.Metadata }

// UpsertEdgeEvent creates or updates the direct traversal edge between two
// canonical entities. Duplicate edges for the same (from, to, type) merge
// rather than multiply.
type UpsertEdgeEvent struct {
	Metadata
	RelationshipType string             `json:"relationship_type"`
	FromCanonicalID  string             `json:"from_canonical_id"`
	ToCanonicalID    string             `json:"to_canonical_id"`
	Confidence       float64            `json:"confidence"`
	ClaimStatus      common.ClaimStatus `json:"claim_status"`
	ExtractedAt      time.Time          `json:"extracted_at"`
}

func (e UpsertEdgeEvent) Kind() Kind     { return KindUpsertEdge }
func (e UpsertEdgeEvent) Meta() Metadata { return e.Metadata }

// UpsertAssertionEvent creates or updates a reified assertion, keyed by its
// deterministic assertion ID. Re-committing identical evidence is a no-op
// beyond a timestamp refresh.
type UpsertAssertionEvent struct {
	Metadata
	Assertion common.Assertion `json:"assertion"`
}

func (e UpsertAssertionEvent) Kind() Kind     { return KindUpsertAssertion }
func (e UpsertAssertionEvent) Meta() Metadata { return e.Metadata }

// EvidenceLinkEvent appends a provenance record to a node or assertion.
// Links are deduplicated by text hash per target at the store boundary.
type EvidenceLinkEvent struct {
	Metadata
	Evidence common.EvidenceLink `json:"evidence"`
}

func (e EvidenceLinkEvent) Kind() Kind     { return KindEvidenceLink }
func (e EvidenceLinkEvent) Meta() Metadata { return e.Metadata }
