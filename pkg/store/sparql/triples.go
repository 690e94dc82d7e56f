package sparql

import (
	"strconv"
	"time"

	"github.com/graphloom/backend/pkg/common"
	"github.com/graphloom/backend/pkg/identity"
	"github.com/graphloom/backend/pkg/store"
)

// Ontology predicates and classes used by the commit pipeline and read back
// by the synchronizer. Both sides must stay symmetric.
const (
	ClassEntity    = NSOntology + "Entity"
	ClassAssertion = NSOntology + "Assertion"
	ClassEvidence  = NSOntology + "Evidence"

	PredCanonicalID    = NSOntology + "canonicalId"
	PredClassName      = NSOntology + "className"
	PredClaimStatus    = NSOntology + "claimStatus"
	PredConfidence     = NSOntology + "confidence"
	PredSourceDocument = NSOntology + "sourceDocument"
	PredUpdatedAt      = NSOntology + "updatedAt"
	PredAttribute      = NSOntology + "attr_"
	PredRelation       = NSOntology + "rel_"

	PredAssertionID = NSOntology + "assertionId"
	PredSubject     = NSOntology + "subject"
	PredPredicate   = NSOntology + "predicate"
	PredObject      = NSOntology + "object"
	PredMethod      = NSOntology + "method"

	PredTarget     = NSOntology + "target"
	PredTargetID   = NSOntology + "targetId"
	PredTargetType = NSOntology + "targetType"
	PredQuote      = NSOntology + "quote"
	PredTextHash   = NSOntology + "textHash"
	PredChunkID    = NSOntology + "chunkId"
)

// EntityTriples maps a canonical-entity upsert to its RDF statements: type,
// class, label, canonical ID, claim status, confidence, source-document
// annotations, attributes, and an update timestamp.
func EntityTriples(n store.NodeUpsert, now time.Time) []store.Triple {
	s := EntityIRI(n.CanonicalID)
	triples := []store.Triple{
		{Subject: s, Predicate: RDFType, Object: ClassEntity},
		{Subject: s, Predicate: RDFType, Object: NSOntology + "class/" + n.ClassName},
		{Subject: s, Predicate: PredCanonicalID, Object: n.CanonicalID, Literal: true},
		{Subject: s, Predicate: PredClassName, Object: n.ClassName, Literal: true},
		{Subject: s, Predicate: RDFSLabel, Object: n.DisplayName, Literal: true},
		{Subject: s, Predicate: PredClaimStatus, Object: string(n.ClaimStatus), Literal: true},
		{Subject: s, Predicate: PredConfidence, Object: formatFloat(n.Confidence), Literal: true, Datatype: XSDDouble},
		{Subject: s, Predicate: PredUpdatedAt, Object: now.UTC().Format(time.RFC3339), Literal: true, Datatype: XSDDateTime},
	}
	for _, doc := range n.SourceDocIDs {
		triples = append(triples, store.Triple{Subject: s, Predicate: PredSourceDocument, Object: doc, Literal: true})
	}
	for k, v := range n.Attributes {
		triples = append(triples, store.Triple{Subject: s, Predicate: PredAttribute + identity.SanitizeClassName(k), Object: v, Literal: true})
	}
	return triples
}

// EdgeTriples maps a direct edge to a single object-property triple between
// the two entity resources. The predicate is folded into an IRI-safe local
// name; the human-readable form lives on the assertion resource.
func EdgeTriples(e store.EdgeUpsert) []store.Triple {
	return []store.Triple{{
		Subject:   EntityIRI(e.FromCanonicalID),
		Predicate: PredRelation + identity.SanitizeClassName(e.RelationshipType),
		Object:    EntityIRI(e.ToCanonicalID),
	}}
}

// AssertionTriples maps a reified assertion to its RDF statements. The
// assertion resource carries its own confidence, status, method, and source
// document independent of the direct edge.
func AssertionTriples(a common.Assertion, now time.Time) []store.Triple {
	s := AssertionIRI(a.AssertionID)
	return []store.Triple{
		{Subject: s, Predicate: RDFType, Object: ClassAssertion},
		{Subject: s, Predicate: PredAssertionID, Object: a.AssertionID, Literal: true},
		{Subject: s, Predicate: PredSubject, Object: EntityIRI(a.SubjectCanonicalID)},
		{Subject: s, Predicate: PredPredicate, Object: a.Predicate, Literal: true},
		{Subject: s, Predicate: PredObject, Object: EntityIRI(a.ObjectCanonicalID)},
		{Subject: s, Predicate: PredConfidence, Object: formatFloat(a.Confidence), Literal: true, Datatype: XSDDouble},
		{Subject: s, Predicate: PredClaimStatus, Object: string(a.ClaimStatus), Literal: true},
		{Subject: s, Predicate: PredMethod, Object: a.Method, Literal: true},
		{Subject: s, Predicate: PredSourceDocument, Object: a.DocumentID, Literal: true},
		{Subject: s, Predicate: PredUpdatedAt, Object: now.UTC().Format(time.RFC3339), Literal: true, Datatype: XSDDateTime},
	}
}

// EvidenceTriples maps an evidence link to its RDF statements. The resource
// IRI embeds target and text hash, so identical quotes dedupe naturally. The
// target is stored both as a resource link and as a plain ID literal; the
// synchronizer reads the literal back when re-projecting evidence.
func EvidenceTriples(l common.EvidenceLink, now time.Time) []store.Triple {
	s := EvidenceIRI(l.TargetID, l.TextHash)
	target := EntityIRI(l.TargetID)
	if l.TargetType == common.EvidenceTargetAssertion {
		target = AssertionIRI(l.TargetID)
	}
	triples := []store.Triple{
		{Subject: s, Predicate: RDFType, Object: ClassEvidence},
		{Subject: s, Predicate: PredTarget, Object: target},
		{Subject: s, Predicate: PredTargetID, Object: l.TargetID, Literal: true},
		{Subject: s, Predicate: PredTargetType, Object: string(l.TargetType), Literal: true},
		{Subject: s, Predicate: PredQuote, Object: l.Quote, Literal: true},
		{Subject: s, Predicate: PredTextHash, Object: l.TextHash, Literal: true},
		{Subject: s, Predicate: PredSourceDocument, Object: l.DocumentID, Literal: true},
		{Subject: s, Predicate: PredConfidence, Object: formatFloat(l.Confidence), Literal: true, Datatype: XSDDouble},
		{Subject: s, Predicate: PredMethod, Object: l.Method, Literal: true},
		{Subject: s, Predicate: PredUpdatedAt, Object: now.UTC().Format(time.RFC3339), Literal: true, Datatype: XSDDateTime},
	}
	if l.ChunkID != "" {
		triples = append(triples, store.Triple{Subject: s, Predicate: PredChunkID, Object: l.ChunkID, Literal: true})
	}
	return triples
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
