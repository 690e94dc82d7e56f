// Package commit turns a human-reviewed staged extraction into durable graph
// state in both stores. The property graph is written first; if the
// triplestore write then fails, the projection is transiently ahead of the
// authoritative store. That window is explicit: the commit reports partial
// stats and the next synchronizer pass reconciles it.
package commit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/graphloom/backend/internal/util"
	"github.com/graphloom/backend/pkg/common"
	"github.com/graphloom/backend/pkg/event"
	"github.com/graphloom/backend/pkg/identity"
	"github.com/graphloom/backend/pkg/logger"
	"github.com/graphloom/backend/pkg/staging"
	"github.com/graphloom/backend/pkg/store"
	"github.com/graphloom/backend/pkg/store/sparql"
)

var (
	// ErrNoEntities means the staged record holds nothing to commit.
	ErrNoEntities = errors.New("staged extraction has no entities")
	// ErrStoreWriteFailed means the first (property graph) write failed;
	// no graph state was changed that the synchronizer cannot re-derive.
	ErrStoreWriteFailed = errors.New("store write failed")
	// ErrPartialCommit means the property graph was updated but the
	// triplestore write failed. The projection is ahead of the
	// authoritative store until the next sync pass.
	ErrPartialCommit = errors.New("partial commit: property graph updated, triplestore write failed")
)

const storeWriteRetries = 3

// Result reports what was written, even on partial failure, so callers can
// show "N of M committed" instead of an opaque error.
type Result struct {
	Entities             int      `json:"entities"`
	Relationships        int      `json:"relationships"`
	Assertions           int      `json:"assertions"`
	EvidenceLinks        int      `json:"evidence_links"`
	TriplesWritten       int      `json:"triples_written"`
	SkippedRelationships []string `json:"skipped_relationships,omitempty"`
}

// TrustUpdater receives an observation per committed canonical entity and
// recomputes its aggregate score. Wired to the trust engine; nil disables it.
type TrustUpdater interface {
	RecordExtraction(ctx context.Context, scope common.Scope, canonicalID string, obs common.Observation) error
	RecalculateEntity(ctx context.Context, scope common.Scope, canonicalID string) error
}

// Pipeline performs the dual write for staged extractions.
type Pipeline struct {
	stages  staging.Store
	graph   store.PropertyGraph
	triples store.TripleStore
	trust   TrustUpdater
}

// NewPipeline wires the commit pipeline. trust may be nil.
func NewPipeline(stages staging.Store, graph store.PropertyGraph, triples store.TripleStore, trust TrustUpdater) *Pipeline {
	return &Pipeline{
		stages:  stages,
		graph:   graph,
		triples: triples,
		trust:   trust,
	}
}

// BuildBatch resolves canonical IDs for a staged extraction and assembles the
// event batch. Relationships whose endpoint labels are absent from the
// reviewed entity set are skipped (returned, logged), not fatal: that is a
// recoverable per-item condition, not a batch failure.
func BuildBatch(staged *common.StagedExtraction) (*event.Batch, []string, error) {
	if len(staged.Entities) == 0 {
		return nil, nil, ErrNoEntities
	}

	runID := staged.ExtractionRunID
	if runID == "" {
		runID = uuid.NewString()
	}
	sourceType := staged.SourceType
	if sourceType == "" {
		sourceType = common.SourceTypeUserUpload
	}

	b := event.NewBatch(staged.TenantID, staged.WorkspaceID, runID, sourceType, staged.DocumentID)
	meta := b.Meta()

	// Step 1: entities. Human review implies verified, so nodes commit as
	// FACT with confidence defaulting to 1.0 when the reviewer left it unset.
	entityIDs := make(map[string]string, len(staged.Entities))
	for _, ent := range staged.Entities {
		canonicalID := identity.Resolve(ent.Type, ent.Label)
		entityIDs[ent.Label] = canonicalID

		confidence := ent.Confidence
		if confidence <= 0 {
			confidence = 1.0
		}

		nodeEvent := event.UpsertNodeEvent{
			Metadata:     meta,
			CanonicalID:  canonicalID,
			ClassName:    identity.SanitizeClassName(ent.Type),
			DisplayName:  ent.Label,
			IdentityKeys: []string{ent.Label},
			Attributes:   ent.Attributes,
			Confidence:   confidence,
			ClaimStatus:  common.ClaimStatusFact,
			Active:       true,
			SourceDocIDs: []string{staged.DocumentID},
		}
		if err := b.Add(nodeEvent); err != nil {
			return nil, nil, fmt.Errorf("failed to add node event: %w", err)
		}

		if ent.Evidence != "" {
			link := common.EvidenceLink{
				TargetType: common.EvidenceTargetNode,
				TargetID:   canonicalID,
				ChunkID:    ent.ChunkID,
				DocumentID: staged.DocumentID,
				Quote:      ent.Evidence,
				TextHash:   identity.TextHash(ent.Evidence),
				Confidence: confidence,
				Method:     common.MethodHumanReview,
			}
			if err := b.Add(event.EvidenceLinkEvent{Metadata: meta, Evidence: link}); err != nil {
				return nil, nil, fmt.Errorf("failed to add node evidence event: %w", err)
			}
		}
	}

	// Step 2: relationships. Each produces a direct traversal edge and a
	// reified assertion with a deterministic ID, so re-commits are idempotent.
	var skipped []string
	now := time.Now().UTC()
	for _, rel := range staged.Relationships {
		fromID, okFrom := entityIDs[rel.SourceLabel]
		toID, okTo := entityIDs[rel.TargetLabel]
		if !okFrom || !okTo {
			skipped = append(skipped, fmt.Sprintf("%s -[%s]-> %s", rel.SourceLabel, rel.Predicate, rel.TargetLabel))
			logger.Warn("[Commit] Skipping relationship with unknown endpoint",
				"predicate", rel.Predicate, "source", rel.SourceLabel, "target", rel.TargetLabel)
			continue
		}

		confidence := rel.Confidence
		if confidence <= 0 {
			confidence = 1.0
		}

		edgeEvent := event.UpsertEdgeEvent{
			Metadata:         meta,
			RelationshipType: rel.Predicate,
			FromCanonicalID:  fromID,
			ToCanonicalID:    toID,
			Confidence:       confidence,
			ClaimStatus:      common.ClaimStatusFact,
			ExtractedAt:      now,
		}
		if err := b.Add(edgeEvent); err != nil {
			return nil, nil, fmt.Errorf("failed to add edge event: %w", err)
		}

		var positions []string
		if rel.ChunkID != "" {
			positions = append(positions, rel.ChunkID)
		}
		assertion := common.Assertion{
			AssertionID:        identity.AssertionID(fromID, rel.Predicate, toID, staged.DocumentID, positions...),
			SubjectCanonicalID: fromID,
			Predicate:          rel.Predicate,
			ObjectCanonicalID:  toID,
			Confidence:         confidence,
			ClaimStatus:        common.ClaimStatusFact,
			Method:             common.MethodHumanReview,
			DocumentID:         staged.DocumentID,
		}
		if err := b.Add(event.UpsertAssertionEvent{Metadata: meta, Assertion: assertion}); err != nil {
			return nil, nil, fmt.Errorf("failed to add assertion event: %w", err)
		}

		if rel.Evidence != "" {
			link := common.EvidenceLink{
				TargetType: common.EvidenceTargetAssertion,
				TargetID:   assertion.AssertionID,
				ChunkID:    rel.ChunkID,
				DocumentID: staged.DocumentID,
				Quote:      rel.Evidence,
				TextHash:   identity.TextHash(rel.Evidence),
				Confidence: confidence,
				Method:     common.MethodHumanReview,
			}
			if err := b.Add(event.EvidenceLinkEvent{Metadata: meta, Evidence: link}); err != nil {
				return nil, nil, fmt.Errorf("failed to add assertion evidence event: %w", err)
			}
		}
	}

	return b, skipped, nil
}

// Commit loads a staged extraction, performs the dual write, deletes the
// stage on success, and updates trust for every committed entity. The staged
// record being consumed on success is the idempotency guard against
// concurrent commits of the same stage: the loser gets ErrStageNotFound.
func (p *Pipeline) Commit(ctx context.Context, scope common.Scope, stageID string) (Result, error) {
	staged, err := p.stages.Get(ctx, scope, stageID)
	if err != nil {
		return Result{}, err
	}

	batch, skipped, err := BuildBatch(staged)
	if err != nil {
		return Result{}, err
	}

	stats := batch.Stats()
	result := Result{
		Entities:             stats.Nodes,
		Relationships:        stats.Edges,
		Assertions:           stats.Assertions,
		EvidenceLinks:        stats.EvidenceLinks,
		SkippedRelationships: skipped,
	}

	logger.Info("[Commit] Writing batch",
		"stage_id", stageID, "scope", scope.Key(),
		"entities", stats.Nodes, "relationships", stats.Edges, "assertions", stats.Assertions)

	// Property graph first. Upserts are keyed on deterministic IDs, so a
	// partially applied batch is safe to retry.
	if err := p.writePropertyGraph(ctx, scope, batch); err != nil {
		return result, fmt.Errorf("%w: %v", ErrStoreWriteFailed, err)
	}

	triples, err := buildTriples(batch)
	if err != nil {
		return result, err
	}
	err = util.RetryErrWithBackoff(ctx, storeWriteRetries, 250*time.Millisecond, func(ctx context.Context) error {
		return p.triples.InsertTriples(ctx, scope, triples)
	})
	if err != nil {
		logger.Error("[Commit] Triplestore write failed after property graph succeeded; awaiting sync reconciliation",
			"stage_id", stageID, "scope", scope.Key(), "err", err)
		return result, fmt.Errorf("%w: %v", ErrPartialCommit, err)
	}
	result.TriplesWritten = len(triples)

	if err := p.stages.Delete(ctx, scope, stageID); err != nil {
		// Both writes landed; a leftover stage only risks a redundant,
		// idempotent re-commit. Log and report success.
		logger.Warn("[Commit] Failed to delete staged record after commit", "stage_id", stageID, "err", err)
	}

	p.updateTrust(ctx, scope, batch)

	logger.Info("[Commit] Batch committed",
		"stage_id", stageID, "scope", scope.Key(), "triples", result.TriplesWritten)

	return result, nil
}

// writePropertyGraph groups the batch's events and applies them through the
// property-graph adapter. The type switch is exhaustive over the event union;
// a new event kind fails loudly here until both writers handle it.
func (p *Pipeline) writePropertyGraph(ctx context.Context, scope common.Scope, batch *event.Batch) error {
	var nodes []store.NodeUpsert
	var edges []store.EdgeUpsert
	var assertions []common.Assertion
	var links []common.EvidenceLink

	for _, e := range batch.Events() {
		switch ev := e.(type) {
		case event.UpsertNodeEvent:
			nodes = append(nodes, store.NodeUpsert{
				CanonicalID:  ev.CanonicalID,
				ClassName:    ev.ClassName,
				DisplayName:  ev.DisplayName,
				Attributes:   ev.Attributes,
				Confidence:   ev.Confidence,
				ClaimStatus:  ev.ClaimStatus,
				Active:       ev.Active,
				SourceDocIDs: ev.SourceDocIDs,
			})
		case event.UpsertEdgeEvent:
			edges = append(edges, store.EdgeUpsert{
				RelationshipType: ev.RelationshipType,
				FromCanonicalID:  ev.FromCanonicalID,
				ToCanonicalID:    ev.ToCanonicalID,
				Confidence:       ev.Confidence,
				ClaimStatus:      ev.ClaimStatus,
				ExtractedAt:      ev.ExtractedAt,
			})
		case event.UpsertAssertionEvent:
			assertions = append(assertions, ev.Assertion)
		case event.EvidenceLinkEvent:
			links = append(links, ev.Evidence)
		default:
			return fmt.Errorf("unhandled event kind %q in property graph writer", e.Kind())
		}
	}

	err := util.RetryErrWithBackoff(ctx, storeWriteRetries, 250*time.Millisecond, func(ctx context.Context) error {
		clashes, err := p.graph.UpsertNodes(ctx, scope, nodes)
		if err != nil {
			return err
		}
		for _, id := range clashes {
			logger.Warn("[Commit] Canonical ID resolved to a different entity class than stored",
				"canonical_id", id, "scope", scope.Key())
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert nodes: %w", err)
	}

	err = util.RetryErrWithBackoff(ctx, storeWriteRetries, 250*time.Millisecond, func(ctx context.Context) error {
		return p.graph.UpsertEdges(ctx, scope, edges)
	})
	if err != nil {
		return fmt.Errorf("failed to upsert edges: %w", err)
	}

	err = util.RetryErrWithBackoff(ctx, storeWriteRetries, 250*time.Millisecond, func(ctx context.Context) error {
		return p.graph.UpsertAssertions(ctx, scope, assertions)
	})
	if err != nil {
		return fmt.Errorf("failed to upsert assertions: %w", err)
	}

	err = util.RetryErrWithBackoff(ctx, storeWriteRetries, 250*time.Millisecond, func(ctx context.Context) error {
		return p.graph.AddEvidence(ctx, scope, links)
	})
	if err != nil {
		return fmt.Errorf("failed to add evidence: %w", err)
	}

	return nil
}

// buildTriples maps the batch's events to RDF statements for the scope's
// named graph. Kept exhaustive in lockstep with writePropertyGraph.
func buildTriples(batch *event.Batch) ([]store.Triple, error) {
	now := time.Now().UTC()
	var triples []store.Triple

	for _, e := range batch.Events() {
		switch ev := e.(type) {
		case event.UpsertNodeEvent:
			triples = append(triples, sparql.EntityTriples(store.NodeUpsert{
				CanonicalID:  ev.CanonicalID,
				ClassName:    ev.ClassName,
				DisplayName:  ev.DisplayName,
				Attributes:   ev.Attributes,
				Confidence:   ev.Confidence,
				ClaimStatus:  ev.ClaimStatus,
				Active:       ev.Active,
				SourceDocIDs: ev.SourceDocIDs,
			}, now)...)
		case event.UpsertEdgeEvent:
			triples = append(triples, sparql.EdgeTriples(store.EdgeUpsert{
				RelationshipType: ev.RelationshipType,
				FromCanonicalID:  ev.FromCanonicalID,
				ToCanonicalID:    ev.ToCanonicalID,
			})...)
		case event.UpsertAssertionEvent:
			triples = append(triples, sparql.AssertionTriples(ev.Assertion, now)...)
		case event.EvidenceLinkEvent:
			triples = append(triples, sparql.EvidenceTriples(ev.Evidence, now)...)
		default:
			return nil, fmt.Errorf("unhandled event kind %q in triple builder", e.Kind())
		}
	}
	return triples, nil
}

func (p *Pipeline) updateTrust(ctx context.Context, scope common.Scope, batch *event.Batch) {
	if p.trust == nil {
		return
	}

	now := time.Now().UTC()
	for _, e := range batch.Events() {
		nodeEvent, ok := e.(event.UpsertNodeEvent)
		if !ok {
			continue
		}
		obs := common.Observation{
			Confidence:  nodeEvent.Confidence,
			SourceType:  nodeEvent.SourceType,
			ExtractedAt: now,
		}
		if err := p.trust.RecordExtraction(ctx, scope, nodeEvent.CanonicalID, obs); err != nil {
			logger.Warn("[Commit] Failed to record trust observation", "canonical_id", nodeEvent.CanonicalID, "err", err)
			continue
		}
		if err := p.trust.RecalculateEntity(ctx, scope, nodeEvent.CanonicalID); err != nil {
			logger.Warn("[Commit] Failed to recalculate trust", "canonical_id", nodeEvent.CanonicalID, "err", err)
		}
	}
}
