package neo4j

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/graphloom/backend/pkg/common"
	"github.com/graphloom/backend/pkg/identity"
	"github.com/graphloom/backend/pkg/store"
)

const upsertNodesCypher = `
UNWIND $rows AS row
MERGE (n:Entity {tenant_id: $tenant_id, workspace_id: $workspace_id, canonical_id: row.canonical_id})
WITH n, row,
     CASE WHEN n.class_name IS NOT NULL AND n.class_name <> row.class_name THEN row.canonical_id END AS clash,
     CASE WHEN n.confidence IS NULL OR row.confidence > n.confidence THEN row.confidence ELSE n.confidence END AS new_conf,
     CASE WHEN n.claim_rank IS NULL OR row.claim_rank > n.claim_rank THEN row.claim_rank ELSE n.claim_rank END AS new_rank,
     CASE WHEN n.claim_rank IS NULL OR row.claim_rank > n.claim_rank THEN row.claim_status ELSE n.claim_status END AS new_status
SET n.class_name = row.class_name,
    n.display_name = row.display_name,
    n.active = row.active,
    n.confidence = new_conf,
    n.claim_rank = new_rank,
    n.claim_status = new_status,
    n.source_doc_ids = [x IN coalesce(n.source_doc_ids, []) WHERE NOT x IN row.source_doc_ids] + row.source_doc_ids,
    n.updated_at = $now
SET n += row.attributes
RETURN [c IN collect(clash) WHERE c IS NOT NULL] AS clashes
`

// UpsertNodes merges a batch of canonical entities into the projection.
// Attributes merge, confidence takes the max, claim status never downgrades.
// The returned IDs are canonical IDs whose stored class differed from the
// incoming one; callers treat those as data-quality warnings, not failures.
func (s *Store) UpsertNodes(ctx context.Context, scope common.Scope, nodes []store.NodeUpsert) ([]string, error) {
	if len(nodes) == 0 {
		return nil, nil
	}

	rows := make([]map[string]any, 0, len(nodes))
	for _, n := range nodes {
		// Attribute keys fold to the same identifier-safe form the triplestore
		// uses in its attr_ predicates, so both stores stay symmetric.
		attrs := make(map[string]any, len(n.Attributes))
		for k, v := range n.Attributes {
			attrs["attr_"+identity.SanitizeClassName(k)] = v
		}
		docs := n.SourceDocIDs
		if docs == nil {
			docs = []string{}
		}
		rows = append(rows, map[string]any{
			"canonical_id":   n.CanonicalID,
			"class_name":     n.ClassName,
			"display_name":   n.DisplayName,
			"active":         n.Active,
			"confidence":     n.Confidence,
			"claim_status":   string(n.ClaimStatus),
			"claim_rank":     claimRank(n.ClaimStatus),
			"source_doc_ids": docs,
			"attributes":     attrs,
		})
	}

	records, err := s.write(ctx, upsertNodesCypher, map[string]any{
		"tenant_id":    scope.TenantID,
		"workspace_id": scope.WorkspaceID,
		"rows":         rows,
		"now":          time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert nodes: %w", err)
	}

	var clashes []string
	for _, rec := range records {
		raw, ok := rec.Get("clashes")
		if !ok {
			continue
		}
		list, ok := raw.([]any)
		if !ok {
			continue
		}
		for _, v := range list {
			if id, ok := v.(string); ok {
				clashes = append(clashes, id)
			}
		}
	}
	return clashes, nil
}

// UpsertEdges merges direct traversal edges. The relationship type cannot be
// parameterized in Cypher, so edges are grouped by type and written one
// statement per type. Duplicate edges for the same endpoints merge.
func (s *Store) UpsertEdges(ctx context.Context, scope common.Scope, edges []store.EdgeUpsert) error {
	if len(edges) == 0 {
		return nil
	}

	byType := make(map[string][]map[string]any)
	for _, e := range edges {
		relType := sanitizeRelType(e.RelationshipType)
		byType[relType] = append(byType[relType], map[string]any{
			"from_id":      e.FromCanonicalID,
			"to_id":        e.ToCanonicalID,
			"confidence":   e.Confidence,
			"claim_status": string(e.ClaimStatus),
			"claim_rank":   claimRank(e.ClaimStatus),
			"extracted_at": e.ExtractedAt.UTC().Format(time.RFC3339Nano),
		})
	}

	for relType, rows := range byType {
		cypher := fmt.Sprintf(`
UNWIND $rows AS row
MATCH (a:Entity {tenant_id: $tenant_id, workspace_id: $workspace_id, canonical_id: row.from_id})
MATCH (b:Entity {tenant_id: $tenant_id, workspace_id: $workspace_id, canonical_id: row.to_id})
MERGE (a)-[e:%s]->(b)
WITH e, row,
     CASE WHEN e.confidence IS NULL OR row.confidence > e.confidence THEN row.confidence ELSE e.confidence END AS new_conf,
     CASE WHEN e.claim_rank IS NULL OR row.claim_rank > e.claim_rank THEN row.claim_rank ELSE e.claim_rank END AS new_rank,
     CASE WHEN e.claim_rank IS NULL OR row.claim_rank > e.claim_rank THEN row.claim_status ELSE e.claim_status END AS new_status
SET e.confidence = new_conf,
    e.claim_rank = new_rank,
    e.claim_status = new_status,
    e.extracted_at = row.extracted_at,
    e.updated_at = $now
`, relType)

		if _, err := s.write(ctx, cypher, map[string]any{
			"tenant_id":    scope.TenantID,
			"workspace_id": scope.WorkspaceID,
			"rows":         rows,
			"now":          time.Now().UTC().Format(time.RFC3339Nano),
		}); err != nil {
			return fmt.Errorf("failed to upsert %s edges: %w", relType, err)
		}
	}
	return nil
}

const upsertAssertionsCypher = `
UNWIND $rows AS row
MATCH (subj:Entity {tenant_id: $tenant_id, workspace_id: $workspace_id, canonical_id: row.subject_id})
MATCH (obj:Entity {tenant_id: $tenant_id, workspace_id: $workspace_id, canonical_id: row.object_id})
MERGE (a:Assertion {tenant_id: $tenant_id, workspace_id: $workspace_id, assertion_id: row.assertion_id})
WITH a, subj, obj, row,
     CASE WHEN a.confidence IS NULL OR row.confidence > a.confidence THEN row.confidence ELSE a.confidence END AS new_conf,
     CASE WHEN a.claim_rank IS NULL OR row.claim_rank > a.claim_rank THEN row.claim_rank ELSE a.claim_rank END AS new_rank,
     CASE WHEN a.claim_rank IS NULL OR row.claim_rank > a.claim_rank THEN row.claim_status ELSE a.claim_status END AS new_status
SET a.predicate = row.predicate,
    a.confidence = new_conf,
    a.claim_rank = new_rank,
    a.claim_status = new_status,
    a.method = row.method,
    a.document_id = row.document_id,
    a.updated_at = $now
MERGE (a)-[:SUBJECT]->(subj)
MERGE (a)-[:OBJECT]->(obj)
`

// UpsertAssertions merges reified assertions, keyed by their deterministic
// assertion IDs. Re-committing an identical assertion only refreshes its
// timestamp.
func (s *Store) UpsertAssertions(ctx context.Context, scope common.Scope, assertions []common.Assertion) error {
	if len(assertions) == 0 {
		return nil
	}

	rows := make([]map[string]any, 0, len(assertions))
	for _, a := range assertions {
		rows = append(rows, map[string]any{
			"assertion_id": a.AssertionID,
			"subject_id":   a.SubjectCanonicalID,
			"predicate":    a.Predicate,
			"object_id":    a.ObjectCanonicalID,
			"confidence":   a.Confidence,
			"claim_status": string(a.ClaimStatus),
			"claim_rank":   claimRank(a.ClaimStatus),
			"method":       a.Method,
			"document_id":  a.DocumentID,
		})
	}

	if _, err := s.write(ctx, upsertAssertionsCypher, map[string]any{
		"tenant_id":    scope.TenantID,
		"workspace_id": scope.WorkspaceID,
		"rows":         rows,
		"now":          time.Now().UTC().Format(time.RFC3339Nano),
	}); err != nil {
		return fmt.Errorf("failed to upsert assertions: %w", err)
	}
	return nil
}

// AddEvidence appends evidence links. Links are MERGEd on (target, text hash),
// so re-committing the same quote for the same target is a no-op.
func (s *Store) AddEvidence(ctx context.Context, scope common.Scope, links []common.EvidenceLink) error {
	if len(links) == 0 {
		return nil
	}

	var nodeRows, assertionRows []map[string]any
	for _, l := range links {
		row := map[string]any{
			"target_id":   l.TargetID,
			"text_hash":   l.TextHash,
			"chunk_id":    l.ChunkID,
			"document_id": l.DocumentID,
			"quote":       l.Quote,
			"confidence":  l.Confidence,
			"method":      l.Method,
		}
		if l.TargetType == common.EvidenceTargetAssertion {
			assertionRows = append(assertionRows, row)
		} else {
			nodeRows = append(nodeRows, row)
		}
	}

	evidenceCypher := `
UNWIND $rows AS row
MATCH (t:%s {tenant_id: $tenant_id, workspace_id: $workspace_id, %s: row.target_id})
MERGE (ev:Evidence {tenant_id: $tenant_id, workspace_id: $workspace_id, target_id: row.target_id, text_hash: row.text_hash})
ON CREATE SET ev.chunk_id = row.chunk_id,
              ev.document_id = row.document_id,
              ev.quote = row.quote,
              ev.confidence = row.confidence,
              ev.method = row.method,
              ev.created_at = $now
MERGE (ev)-[:SUPPORTS]->(t)
`

	run := func(rows []map[string]any, label, key string) error {
		if len(rows) == 0 {
			return nil
		}
		_, err := s.write(ctx, fmt.Sprintf(evidenceCypher, label, key), map[string]any{
			"tenant_id":    scope.TenantID,
			"workspace_id": scope.WorkspaceID,
			"rows":         rows,
			"now":          time.Now().UTC().Format(time.RFC3339Nano),
		})
		return err
	}

	if err := run(nodeRows, "Entity", "canonical_id"); err != nil {
		return fmt.Errorf("failed to add node evidence: %w", err)
	}
	if err := run(assertionRows, "Assertion", "assertion_id"); err != nil {
		return fmt.Errorf("failed to add assertion evidence: %w", err)
	}
	return nil
}

// sanitizeRelType reduces a predicate to a Cypher-safe relationship type:
// uppercase letters, digits, and underscores.
func sanitizeRelType(predicate string) string {
	var b strings.Builder
	b.Grow(len(predicate))
	lastUnderscore := false
	for _, r := range strings.TrimSpace(predicate) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToUpper(r))
			lastUnderscore = false
		case !lastUnderscore && b.Len() > 0:
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	s := strings.TrimSuffix(b.String(), "_")
	if s == "" {
		return "RELATES_TO"
	}
	return s
}
