// Package store defines the contracts the commit pipeline and synchronizer
// need from the two graph stores. The triplestore is authoritative; the
// property graph is a projection of it for fast traversal. Only the commit
// pipeline and the synchronizer write through these interfaces.
package store

import (
	"context"
	"time"

	"github.com/graphloom/backend/pkg/common"
)

// Triple is one RDF statement destined for the scope's named graph.
type Triple struct {
	Subject   string
	Predicate string
	Object    string
	// Literal marks Object as a literal value rather than an IRI.
	Literal bool
	// Datatype optionally types a literal (xsd IRI), e.g. xsd:double.
	Datatype string
}

// EntityRecord is an entity read back out of the triplestore during
// re-projection.
type EntityRecord struct {
	CanonicalID  string
	ClassName    string
	DisplayName  string
	Attributes   map[string]string
	ClaimStatus  common.ClaimStatus
	Confidence   float64
	SourceDocIDs []string
	UpdatedAt    time.Time
}

// RelationshipRecord is a reified assertion read back out of the triplestore
// during re-projection.
type RelationshipRecord struct {
	AssertionID        string
	SubjectCanonicalID string
	Predicate          string
	ObjectCanonicalID  string
	Confidence         float64
	ClaimStatus        common.ClaimStatus
	Method             string
	DocumentID         string
	UpdatedAt          time.Time
}

// TripleStore is the SPARQL-facing contract: UPDATE (insert, clear) and
// SELECT over the named graph derived from the scope.
type TripleStore interface {
	InsertTriples(ctx context.Context, scope common.Scope, triples []Triple) error
	ClearGraph(ctx context.Context, scope common.Scope) error
	ListCanonicalIDs(ctx context.Context, scope common.Scope) ([]string, error)
	ListEntities(ctx context.Context, scope common.Scope, modifiedSince *time.Time) ([]EntityRecord, error)
	ListRelationships(ctx context.Context, scope common.Scope, modifiedSince *time.Time) ([]RelationshipRecord, error)
	ListEvidence(ctx context.Context, scope common.Scope, modifiedSince *time.Time) ([]common.EvidenceLink, error)
}

// NodeUpsert is one canonical-entity upsert row for the property graph.
type NodeUpsert struct {
	CanonicalID  string
	ClassName    string
	DisplayName  string
	Attributes   map[string]string
	Confidence   float64
	ClaimStatus  common.ClaimStatus
	Active       bool
	SourceDocIDs []string
}

// EdgeUpsert is one direct traversal-edge upsert row.
type EdgeUpsert struct {
	RelationshipType string
	FromCanonicalID  string
	ToCanonicalID    string
	Confidence       float64
	ClaimStatus      common.ClaimStatus
	ExtractedAt      time.Time
}

// PropertyGraph is the property-graph-facing contract. All upserts have
// MERGE semantics keyed by deterministic IDs, so retries are always safe.
type PropertyGraph interface {
	UpsertNodes(ctx context.Context, scope common.Scope, nodes []NodeUpsert) (classClashes []string, err error)
	UpsertEdges(ctx context.Context, scope common.Scope, edges []EdgeUpsert) error
	UpsertAssertions(ctx context.Context, scope common.Scope, assertions []common.Assertion) error
	AddEvidence(ctx context.Context, scope common.Scope, links []common.EvidenceLink) error
	ListCanonicalIDs(ctx context.Context, scope common.Scope) ([]string, error)
	DeleteNodes(ctx context.Context, scope common.Scope, canonicalIDs []string) (int, error)
	ClearScope(ctx context.Context, scope common.Scope) error
	UpdateTrust(ctx context.Context, scope common.Scope, canonicalID string, score float64, status common.ClaimStatus) error
}
