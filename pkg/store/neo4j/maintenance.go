package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/graphloom/backend/pkg/common"
)

// ListCanonicalIDs returns every canonical entity ID in the scope's
// projection. The synchronizer diffs this against the triplestore to find
// orphans.
func (s *Store) ListCanonicalIDs(ctx context.Context, scope common.Scope) ([]string, error) {
	records, err := s.read(ctx, `
MATCH (n:Entity {tenant_id: $tenant_id, workspace_id: $workspace_id})
RETURN n.canonical_id AS id
`, map[string]any{
		"tenant_id":    scope.TenantID,
		"workspace_id": scope.WorkspaceID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list canonical IDs: %w", err)
	}

	ids := make([]string, 0, len(records))
	for _, rec := range records {
		if raw, ok := rec.Get("id"); ok {
			if id, ok := raw.(string); ok && id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

const deleteNodesCypher = `
UNWIND $ids AS id
MATCH (n:Entity {tenant_id: $tenant_id, workspace_id: $workspace_id, canonical_id: id})
OPTIONAL MATCH (a:Assertion)-[:SUBJECT|OBJECT]->(n)
OPTIONAL MATCH (ev:Evidence)-[:SUPPORTS]->(n)
OPTIONAL MATCH (aev:Evidence)-[:SUPPORTS]->(a)
DETACH DELETE aev, ev, a
WITH DISTINCT n
DETACH DELETE n
RETURN count(n) AS deleted
`

// DeleteNodes removes entities and their edges, assertions, and evidence from
// the projection. Used for orphan removal: nodes with no corresponding source
// record in the triplestore.
func (s *Store) DeleteNodes(ctx context.Context, scope common.Scope, canonicalIDs []string) (int, error) {
	if len(canonicalIDs) == 0 {
		return 0, nil
	}

	records, err := s.write(ctx, deleteNodesCypher, map[string]any{
		"tenant_id":    scope.TenantID,
		"workspace_id": scope.WorkspaceID,
		"ids":          canonicalIDs,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete nodes: %w", err)
	}

	for _, rec := range records {
		if raw, ok := rec.Get("deleted"); ok {
			if n, ok := raw.(int64); ok {
				return int(n), nil
			}
		}
	}
	return 0, nil
}

// ClearScope drops the scope's entire projection: entities, assertions, and
// evidence. Used by the full rebuild before re-projecting from the
// triplestore.
func (s *Store) ClearScope(ctx context.Context, scope common.Scope) error {
	_, err := s.write(ctx, `
MATCH (n {tenant_id: $tenant_id, workspace_id: $workspace_id})
WHERE n:Entity OR n:Assertion OR n:Evidence
DETACH DELETE n
`, map[string]any{
		"tenant_id":    scope.TenantID,
		"workspace_id": scope.WorkspaceID,
	})
	if err != nil {
		return fmt.Errorf("failed to clear scope projection: %w", err)
	}
	return nil
}

// UpdateTrust persists a derived trust score and claim status onto an entity
// node. Only the trust engine calls this.
func (s *Store) UpdateTrust(ctx context.Context, scope common.Scope, canonicalID string, score float64, status common.ClaimStatus) error {
	_, err := s.write(ctx, `
MATCH (n:Entity {tenant_id: $tenant_id, workspace_id: $workspace_id, canonical_id: $canonical_id})
SET n.trust_score = $score,
    n.claim_status = $status,
    n.claim_rank = $rank,
    n.updated_at = $now
`, map[string]any{
		"tenant_id":    scope.TenantID,
		"workspace_id": scope.WorkspaceID,
		"canonical_id": canonicalID,
		"score":        score,
		"status":       string(status),
		"rank":         claimRank(status),
		"now":          time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("failed to update trust: %w", err)
	}
	return nil
}
