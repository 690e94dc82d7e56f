package common

import "time"

// ClaimStatus is the lifecycle state of a fact in the knowledge graph.
// It reflects how trustworthy/verified a canonical entity or assertion is.
type ClaimStatus string

const (
	// ClaimStatusClaim is the initial, unverified state.
	ClaimStatusClaim ClaimStatus = "CLAIM"
	// ClaimStatusVerified is reached automatically when the trust score
	// crosses the verification threshold.
	ClaimStatusVerified ClaimStatus = "VERIFIED"
	// ClaimStatusFact is reached at the fact threshold or by explicit
	// human promotion.
	ClaimStatusFact ClaimStatus = "FACT"
	// ClaimStatusDisputed is set by explicit human action and is only
	// cleared by explicit re-review, never by recomputation.
	ClaimStatusDisputed ClaimStatus = "DISPUTED"
)

// rank orders claim statuses for upsert merging. Replays never downgrade.
func (s ClaimStatus) rank() int {
	switch s {
	case ClaimStatusClaim:
		return 0
	case ClaimStatusVerified:
		return 1
	case ClaimStatusFact:
		return 2
	case ClaimStatusDisputed:
		return 3
	}
	return -1
}

// Max returns the higher-ranked of two claim statuses.
func (s ClaimStatus) Max(other ClaimStatus) ClaimStatus {
	if other.rank() > s.rank() {
		return other
	}
	return s
}

// Valid reports whether s is one of the known claim statuses.
func (s ClaimStatus) Valid() bool {
	return s.rank() >= 0
}

// SourceType identifies where an extraction came from. It drives the
// source-authority weighting in the trust engine.
type SourceType string

const (
	SourceTypeOfficialDocument SourceType = "official_document"
	SourceTypeDatabase         SourceType = "database"
	SourceTypeAPI              SourceType = "api"
	SourceTypeUserUpload       SourceType = "user_upload"
	SourceTypeWebScrape        SourceType = "web_scrape"
)

// Scope identifies the tenant/workspace a graph operation acts on. The
// triplestore named graph and the property-graph projection are both
// partitioned by scope.
type Scope struct {
	TenantID    string `json:"tenant_id"`
	WorkspaceID string `json:"workspace_id"`
}

// Key returns the scope in "tenant/workspace" form, used for lock keys and
// staging key prefixes.
func (s Scope) Key() string {
	return s.TenantID + "/" + s.WorkspaceID
}

// CanonicalEntity is the deduplicated identity of a real-world thing within a
// scope. Repeated extractions of the same (class, label) converge onto one
// canonical entity instead of duplicating it.
type CanonicalEntity struct {
	CanonicalID  string            `json:"canonical_id"`
	ClassName    string            `json:"class_name"`
	DisplayName  string            `json:"display_name"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	ClaimStatus  ClaimStatus       `json:"claim_status"`
	TrustScore   float64           `json:"trust_score"`
	SourceDocIDs []string          `json:"source_doc_ids,omitempty"`
}

// Assertion is a reified relationship: subject-predicate-object promoted to a
// first-class record so it can carry its own confidence, evidence, and claim
// status independent of the direct traversal edge between the same endpoints.
type Assertion struct {
	AssertionID        string      `json:"assertion_id"`
	SubjectCanonicalID string      `json:"subject_canonical_id"`
	Predicate          string      `json:"predicate"`
	ObjectCanonicalID  string      `json:"object_canonical_id"`
	Confidence         float64     `json:"confidence"`
	ClaimStatus        ClaimStatus `json:"claim_status"`
	Method             string      `json:"method"`
	DocumentID         string      `json:"document_id"`
}

// EvidenceTargetType says whether an evidence link points at a node or at a
// reified assertion.
type EvidenceTargetType string

const (
	EvidenceTargetNode      EvidenceTargetType = "node"
	EvidenceTargetAssertion EvidenceTargetType = "assertion"
)

// EvidenceLink ties a node or assertion to the textual evidence that produced
// it. Links are append-only and deduplicated by TextHash per target.
type EvidenceLink struct {
	TargetType EvidenceTargetType `json:"target_type"`
	TargetID   string             `json:"target_id"`
	ChunkID    string             `json:"chunk_id,omitempty"`
	DocumentID string             `json:"document_id"`
	Quote      string             `json:"quote"`
	TextHash   string             `json:"text_hash"`
	Confidence float64            `json:"confidence"`
	Method     string             `json:"method"`
}

// Extraction methods recorded on assertions and evidence links.
const (
	MethodLLMExtraction = "llm_extraction"
	MethodHumanReview   = "human_review"
)

// StagedEntity is one reviewable entity inside a staged extraction.
type StagedEntity struct {
	Type       string            `json:"type"`
	Label      string            `json:"label"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Confidence float64           `json:"confidence"`
	Evidence   string            `json:"evidence,omitempty"`
	ChunkID    string            `json:"chunk_id,omitempty"`
}

// StagedRelationship is one reviewable relationship inside a staged
// extraction. Endpoints are referenced by label; the commit pipeline resolves
// them against the staged entity set.
type StagedRelationship struct {
	SourceLabel string  `json:"source_label"`
	TargetLabel string  `json:"target_label"`
	Predicate   string  `json:"predicate"`
	Confidence  float64 `json:"confidence"`
	Evidence    string  `json:"evidence,omitempty"`
	ChunkID     string  `json:"chunk_id,omitempty"`
}

// StagedExtraction is the time-boxed, human-reviewable holding record between
// extraction and commit. It lives in the staging store under a TTL until the
// commit pipeline consumes it.
type StagedExtraction struct {
	StageID         string               `json:"stage_id"`
	TenantID        string               `json:"tenant_id"`
	WorkspaceID     string               `json:"workspace_id"`
	DocumentID      string               `json:"document_id"`
	ExtractionRunID string               `json:"extraction_run_id"`
	SourceType      SourceType           `json:"source_type"`
	Entities        []StagedEntity       `json:"entities"`
	Relationships   []StagedRelationship `json:"relationships"`
	CreatedAt       time.Time            `json:"created_at"`
}

// Scope returns the tenant/workspace scope of the staged extraction.
func (s *StagedExtraction) Scope() Scope {
	return Scope{TenantID: s.TenantID, WorkspaceID: s.WorkspaceID}
}

// Observation is one extraction sighting of a canonical entity, recorded in
// the bounded trust history window.
type Observation struct {
	Confidence  float64    `json:"confidence"`
	SourceType  SourceType `json:"source_type"`
	ExtractedAt time.Time  `json:"extracted_at"`
}
