package sparql

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/graphloom/backend/pkg/common"
	"github.com/graphloom/backend/pkg/store"
)

// ListCanonicalIDs returns every canonical entity ID present in the scope's
// named graph. The synchronizer diffs this set against the property graph to
// find orphans.
func (c *Client) ListCanonicalIDs(ctx context.Context, scope common.Scope) ([]string, error) {
	q := fmt.Sprintf(`SELECT DISTINCT ?id WHERE { GRAPH <%s> { ?s <%s> ?id . ?s a <%s> } }`,
		GraphIRI(scope), PredCanonicalID, ClassEntity)

	res, err := c.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list canonical IDs: %w", err)
	}

	ids := make([]string, 0, len(res.Results.Bindings))
	for _, b := range res.Results.Bindings {
		if v, ok := b["id"]; ok && v.Value != "" {
			ids = append(ids, v.Value)
		}
	}
	return ids, nil
}

// ListEntities streams the canonical entities of a scope out of the
// triplestore. With modifiedSince set, only entities updated at or after the
// cursor are returned (incremental sync); nil returns everything (full sync).
func (c *Client) ListEntities(ctx context.Context, scope common.Scope, modifiedSince *time.Time) ([]store.EntityRecord, error) {
	var b strings.Builder
	fmt.Fprintf(&b, `SELECT ?id (SAMPLE(?class) AS ?cls) (SAMPLE(?label) AS ?lbl) (SAMPLE(?status) AS ?st) (MAX(?conf) AS ?cf) (MAX(?updated) AS ?upd) (GROUP_CONCAT(DISTINCT ?doc;separator="|") AS ?docs)
WHERE { GRAPH <%s> {
  ?s a <%s> ;
     <%s> ?id ;
     <%s> ?class .
  OPTIONAL { ?s <%s> ?label }
  OPTIONAL { ?s <%s> ?status }
  OPTIONAL { ?s <%s> ?conf }
  OPTIONAL { ?s <%s> ?updated }
  OPTIONAL { ?s <%s> ?doc }
} }
GROUP BY ?id`,
		GraphIRI(scope), ClassEntity, PredCanonicalID, PredClassName,
		RDFSLabel, PredClaimStatus, PredConfidence, PredUpdatedAt, PredSourceDocument)
	if modifiedSince != nil {
		fmt.Fprintf(&b, "\nHAVING (MAX(?updated) >= \"%s\"^^<%s>)", modifiedSince.UTC().Format(time.RFC3339), XSDDateTime)
	}

	res, err := c.query(ctx, b.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}

	records := make([]store.EntityRecord, 0, len(res.Results.Bindings))
	for _, row := range res.Results.Bindings {
		rec := store.EntityRecord{
			CanonicalID: row["id"].Value,
			ClassName:   row["cls"].Value,
			DisplayName: row["lbl"].Value,
			ClaimStatus: common.ClaimStatus(row["st"].Value),
			Confidence:  parseFloat(row["cf"].Value),
			UpdatedAt:   parseTime(row["upd"].Value),
		}
		if docs := row["docs"].Value; docs != "" {
			rec.SourceDocIDs = strings.Split(docs, "|")
		}
		if rec.CanonicalID == "" {
			continue
		}
		if !rec.ClaimStatus.Valid() {
			rec.ClaimStatus = common.ClaimStatusClaim
		}
		records = append(records, rec)
	}

	if err := c.hydrateAttributes(ctx, scope, records); err != nil {
		return nil, err
	}
	return records, nil
}

// hydrateAttributes reads every attr_ predicate in the scope and folds the
// values into the matching entity records, so re-projection carries the same
// attributes the commit wrote.
func (c *Client) hydrateAttributes(ctx context.Context, scope common.Scope, records []store.EntityRecord) error {
	if len(records) == 0 {
		return nil
	}

	q := fmt.Sprintf(`SELECT ?id ?p ?v
WHERE { GRAPH <%s> {
  ?s a <%s> ;
     <%s> ?id ;
     ?p ?v .
  FILTER(STRSTARTS(STR(?p), "%s"))
} }`, GraphIRI(scope), ClassEntity, PredCanonicalID, PredAttribute)

	res, err := c.query(ctx, q)
	if err != nil {
		return fmt.Errorf("failed to list entity attributes: %w", err)
	}

	attrs := make(map[string]map[string]string)
	for _, row := range res.Results.Bindings {
		id := row["id"].Value
		key := strings.TrimPrefix(row["p"].Value, PredAttribute)
		if id == "" || key == "" {
			continue
		}
		if attrs[id] == nil {
			attrs[id] = make(map[string]string)
		}
		attrs[id][key] = row["v"].Value
	}

	for i := range records {
		records[i].Attributes = attrs[records[i].CanonicalID]
	}
	return nil
}

// ListRelationships streams the reified assertions of a scope, which carry
// everything the synchronizer needs to rebuild both the assertion nodes and
// the direct traversal edges in the property graph.
func (c *Client) ListRelationships(ctx context.Context, scope common.Scope, modifiedSince *time.Time) ([]store.RelationshipRecord, error) {
	var b strings.Builder
	fmt.Fprintf(&b, `SELECT ?aid (SAMPLE(?subjId) AS ?sid) (SAMPLE(?pred) AS ?p) (SAMPLE(?objId) AS ?oid) (SAMPLE(?status) AS ?st) (MAX(?conf) AS ?cf) (SAMPLE(?method) AS ?m) (SAMPLE(?doc) AS ?d) (MAX(?updated) AS ?upd)
WHERE { GRAPH <%s> {
  ?a a <%s> ;
     <%s> ?aid ;
     <%s> ?subj ;
     <%s> ?pred ;
     <%s> ?obj .
  ?subj <%s> ?subjId .
  ?obj <%s> ?objId .
  OPTIONAL { ?a <%s> ?status }
  OPTIONAL { ?a <%s> ?conf }
  OPTIONAL { ?a <%s> ?method }
  OPTIONAL { ?a <%s> ?doc }
  OPTIONAL { ?a <%s> ?updated }
} }
GROUP BY ?aid`,
		GraphIRI(scope), ClassAssertion, PredAssertionID, PredSubject, PredPredicate, PredObject,
		PredCanonicalID, PredCanonicalID,
		PredClaimStatus, PredConfidence, PredMethod, PredSourceDocument, PredUpdatedAt)
	if modifiedSince != nil {
		fmt.Fprintf(&b, "\nHAVING (MAX(?updated) >= \"%s\"^^<%s>)", modifiedSince.UTC().Format(time.RFC3339), XSDDateTime)
	}

	res, err := c.query(ctx, b.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list relationships: %w", err)
	}

	records := make([]store.RelationshipRecord, 0, len(res.Results.Bindings))
	for _, row := range res.Results.Bindings {
		rec := store.RelationshipRecord{
			AssertionID:        row["aid"].Value,
			SubjectCanonicalID: row["sid"].Value,
			Predicate:          row["p"].Value,
			ObjectCanonicalID:  row["oid"].Value,
			ClaimStatus:        common.ClaimStatus(row["st"].Value),
			Confidence:         parseFloat(row["cf"].Value),
			Method:             row["m"].Value,
			DocumentID:         row["d"].Value,
			UpdatedAt:          parseTime(row["upd"].Value),
		}
		if rec.AssertionID == "" || rec.SubjectCanonicalID == "" || rec.ObjectCanonicalID == "" {
			continue
		}
		if !rec.ClaimStatus.Valid() {
			rec.ClaimStatus = common.ClaimStatusClaim
		}
		records = append(records, rec)
	}
	return records, nil
}

// ListEvidence streams the evidence links of a scope so the synchronizer can
// re-project provenance after a full rebuild. With modifiedSince set, only
// links written at or after the cursor are returned.
func (c *Client) ListEvidence(ctx context.Context, scope common.Scope, modifiedSince *time.Time) ([]common.EvidenceLink, error) {
	var b strings.Builder
	fmt.Fprintf(&b, `SELECT ?hash ?tid (SAMPLE(?ttype) AS ?tt) (SAMPLE(?quote) AS ?q) (SAMPLE(?doc) AS ?d) (MAX(?conf) AS ?cf) (SAMPLE(?method) AS ?m) (SAMPLE(?chunk) AS ?ch) (MAX(?updated) AS ?upd)
WHERE { GRAPH <%s> {
  ?e a <%s> ;
     <%s> ?hash ;
     <%s> ?tid ;
     <%s> ?ttype .
  OPTIONAL { ?e <%s> ?quote }
  OPTIONAL { ?e <%s> ?doc }
  OPTIONAL { ?e <%s> ?conf }
  OPTIONAL { ?e <%s> ?method }
  OPTIONAL { ?e <%s> ?chunk }
  OPTIONAL { ?e <%s> ?updated }
} }
GROUP BY ?hash ?tid`,
		GraphIRI(scope), ClassEvidence, PredTextHash, PredTargetID, PredTargetType,
		PredQuote, PredSourceDocument, PredConfidence, PredMethod, PredChunkID, PredUpdatedAt)
	if modifiedSince != nil {
		fmt.Fprintf(&b, "\nHAVING (MAX(?updated) >= \"%s\"^^<%s>)", modifiedSince.UTC().Format(time.RFC3339), XSDDateTime)
	}

	res, err := c.query(ctx, b.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list evidence: %w", err)
	}

	links := make([]common.EvidenceLink, 0, len(res.Results.Bindings))
	for _, row := range res.Results.Bindings {
		link := common.EvidenceLink{
			TextHash:   row["hash"].Value,
			TargetID:   row["tid"].Value,
			TargetType: common.EvidenceTargetType(row["tt"].Value),
			Quote:      row["q"].Value,
			DocumentID: row["d"].Value,
			Confidence: parseFloat(row["cf"].Value),
			Method:     row["m"].Value,
			ChunkID:    row["ch"].Value,
		}
		if link.TextHash == "" || link.TargetID == "" {
			continue
		}
		if link.TargetType != common.EvidenceTargetAssertion {
			link.TargetType = common.EvidenceTargetNode
		}
		links = append(links, link)
	}
	return links, nil
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
