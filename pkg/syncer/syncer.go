// Package syncer re-derives the property-graph projection from the
// authoritative triplestore: full rebuilds, incremental catch-up, and orphan
// removal. Runs are tracked in sync_runs and mutually excluded per scope via
// a lease lock, so two processes can never sync the same workspace at once.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/graphloom/backend/pkg/common"
	"github.com/graphloom/backend/pkg/leaselock"
	"github.com/graphloom/backend/pkg/logger"
	"github.com/graphloom/backend/pkg/store"
)

// ErrSyncInProgress means another sync run holds the scope's lease.
var ErrSyncInProgress = errors.New("sync already running for scope")

// Mode selects how much of the projection is rebuilt.
type Mode string

const (
	// ModeFull clears the scope's projection and rebuilds it entirely.
	ModeFull Mode = "full"
	// ModeIncremental applies only triples modified since the last
	// successful run. No clear step, so untouched nodes stay as they are.
	ModeIncremental Mode = "incremental"
)

// Target selects which layer of the graph is synced.
type Target string

const (
	TargetAll Target = "all"
	// TargetSchema syncs the terminological layer: entity nodes with their
	// classes, labels, and claim statuses.
	TargetSchema Target = "schema"
	// TargetInstances syncs the assertional layer: edges and reified
	// assertions between already-projected entities.
	TargetInstances Target = "instances"
)

// ParseMode validates a mode string, defaulting empty to incremental.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeFull, ModeIncremental:
		return Mode(s), nil
	case "":
		return ModeIncremental, nil
	}
	return "", fmt.Errorf("unknown sync mode %q", s)
}

// ParseTarget validates a target string, defaulting empty to all.
func ParseTarget(s string) (Target, error) {
	switch Target(s) {
	case TargetAll, TargetSchema, TargetInstances:
		return Target(s), nil
	case "":
		return TargetAll, nil
	}
	return "", fmt.Errorf("unknown sync target %q", s)
}

// Locker is the slice of the lease-lock client the synchronizer needs.
type Locker interface {
	WithLease(ctx context.Context, key string, opts leaselock.Options, fn func(ctx context.Context) error) error
}

// Stats counts what a run wrote.
type Stats struct {
	Entities       int `json:"entities"`
	Relationships  int `json:"relationships"`
	EvidenceLinks  int `json:"evidence_links"`
	OrphansRemoved int `json:"orphans_removed"`
}

const (
	upsertPageSize = 500
	upsertWorkers  = 4
)

// Synchronizer streams the triplestore's content back through the projection
// upsert semantics.
type Synchronizer struct {
	triples store.TripleStore
	graph   store.PropertyGraph
	runs    RunStore
	locks   Locker

	// LeaseTTL bounds how long a crashed run blocks the scope.
	LeaseTTL time.Duration
}

// New wires a synchronizer.
func New(triples store.TripleStore, graph store.PropertyGraph, runs RunStore, locks Locker) *Synchronizer {
	return &Synchronizer{
		triples:  triples,
		graph:    graph,
		runs:     runs,
		locks:    locks,
		LeaseTTL: 10 * time.Minute,
	}
}

func lockKey(scope common.Scope) string {
	return "sync:" + scope.Key()
}

// Run executes one sync run under the scope's lease. A second run for the
// same scope while one is in flight returns ErrSyncInProgress immediately,
// without recording a run row.
func (s *Synchronizer) Run(ctx context.Context, scope common.Scope, mode Mode, target Target) (*Run, error) {
	var run *Run

	err := s.locks.WithLease(ctx, lockKey(scope), leaselock.Options{TTL: s.LeaseTTL}, func(ctx context.Context) error {
		var err error
		run, err = s.runs.Create(ctx, scope, string(mode), string(target))
		if err != nil {
			return fmt.Errorf("failed to create sync run: %w", err)
		}
		return s.execute(ctx, scope, mode, target, run)
	})
	if errors.Is(err, leaselock.ErrBusy) {
		return nil, ErrSyncInProgress
	}
	if run == nil {
		return nil, err
	}
	if err != nil {
		_ = s.runs.Fail(context.WithoutCancel(ctx), run.ID, err.Error())
		if failed, getErr := s.runs.Get(context.WithoutCancel(ctx), run.ID); getErr == nil {
			return failed, err
		}
		return run, err
	}
	return s.runs.Get(ctx, run.ID)
}

// execute performs the run's coarse steps, checking the cancel flag between
// each. Failure leaves the projection in its partial state; incremental
// re-runs are safe because every write is an idempotent upsert.
func (s *Synchronizer) execute(ctx context.Context, scope common.Scope, mode Mode, target Target, run *Run) error {
	var stats Stats

	cursor, err := s.cursor(ctx, scope, mode)
	if err != nil {
		return err
	}

	if err := s.runs.Progress(ctx, run.ID, 5, "starting", stats); err != nil {
		return err
	}

	if mode == ModeFull && target == TargetAll {
		if err := s.graph.ClearScope(ctx, scope); err != nil {
			return fmt.Errorf("failed to clear projection: %w", err)
		}
		if err := s.runs.Progress(ctx, run.ID, 10, "projection cleared", stats); err != nil {
			return err
		}
	}

	if err := s.checkCancelled(ctx, run.ID); err != nil {
		return err
	}

	if target == TargetAll || target == TargetSchema {
		n, err := s.syncEntities(ctx, scope, cursor)
		if err != nil {
			return err
		}
		stats.Entities = n
		if err := s.runs.Progress(ctx, run.ID, 50, "schema synced", stats); err != nil {
			return err
		}
	}

	if err := s.checkCancelled(ctx, run.ID); err != nil {
		return err
	}

	if target == TargetAll || target == TargetInstances {
		n, err := s.syncRelationships(ctx, scope, cursor)
		if err != nil {
			return err
		}
		stats.Relationships = n
		ev, err := s.syncEvidence(ctx, scope, cursor)
		if err != nil {
			return err
		}
		stats.EvidenceLinks = ev
		if err := s.runs.Progress(ctx, run.ID, 80, "data synced", stats); err != nil {
			return err
		}
	}

	if err := s.checkCancelled(ctx, run.ID); err != nil {
		return err
	}

	if target == TargetAll {
		removed, err := s.RemoveOrphans(ctx, scope)
		if err != nil {
			return err
		}
		stats.OrphansRemoved = removed
		if err := s.runs.Progress(ctx, run.ID, 95, "orphans checked", stats); err != nil {
			return err
		}
	}

	logger.Info("[Sync] Run completed", "run_id", run.ID, "scope", scope.Key(),
		"entities", stats.Entities, "relationships", stats.Relationships, "orphans_removed", stats.OrphansRemoved)

	return s.runs.Complete(ctx, run.ID, stats)
}

// cursor returns the modified-since cursor for incremental runs: the start
// time of the scope's last completed run, or nil for a first run or full mode.
func (s *Synchronizer) cursor(ctx context.Context, scope common.Scope, mode Mode) (*time.Time, error) {
	if mode != ModeIncremental {
		return nil, nil
	}
	last, err := s.runs.LastCompleted(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to load sync cursor: %w", err)
	}
	if last == nil {
		return nil, nil
	}
	t := last.StartedAt
	return &t, nil
}

func (s *Synchronizer) checkCancelled(ctx context.Context, runID string) error {
	cancelled, err := s.runs.CancelRequested(ctx, runID)
	if err != nil {
		return err
	}
	if cancelled {
		return errors.New("cancelled by request")
	}
	return ctx.Err()
}

func (s *Synchronizer) syncEntities(ctx context.Context, scope common.Scope, modifiedSince *time.Time) (int, error) {
	entities, err := s.triples.ListEntities(ctx, scope, modifiedSince)
	if err != nil {
		return 0, fmt.Errorf("failed to list entities from triplestore: %w", err)
	}

	nodes := make([]store.NodeUpsert, 0, len(entities))
	for _, e := range entities {
		nodes = append(nodes, store.NodeUpsert{
			CanonicalID:  e.CanonicalID,
			ClassName:    e.ClassName,
			DisplayName:  e.DisplayName,
			Attributes:   e.Attributes,
			Confidence:   e.Confidence,
			ClaimStatus:  e.ClaimStatus,
			Active:       true,
			SourceDocIDs: e.SourceDocIDs,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(upsertWorkers)
	for start := 0; start < len(nodes); start += upsertPageSize {
		page := nodes[start:min(start+upsertPageSize, len(nodes))]
		g.Go(func() error {
			clashes, err := s.graph.UpsertNodes(gctx, scope, page)
			if err != nil {
				return fmt.Errorf("failed to project entity page: %w", err)
			}
			for _, id := range clashes {
				logger.Warn("[Sync] Entity class differs between stores", "canonical_id", id, "scope", scope.Key())
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(nodes), nil
}

func (s *Synchronizer) syncRelationships(ctx context.Context, scope common.Scope, modifiedSince *time.Time) (int, error) {
	relationships, err := s.triples.ListRelationships(ctx, scope, modifiedSince)
	if err != nil {
		return 0, fmt.Errorf("failed to list relationships from triplestore: %w", err)
	}

	edges := make([]store.EdgeUpsert, 0, len(relationships))
	assertions := make([]common.Assertion, 0, len(relationships))
	for _, r := range relationships {
		edges = append(edges, store.EdgeUpsert{
			RelationshipType: r.Predicate,
			FromCanonicalID:  r.SubjectCanonicalID,
			ToCanonicalID:    r.ObjectCanonicalID,
			Confidence:       r.Confidence,
			ClaimStatus:      r.ClaimStatus,
			ExtractedAt:      r.UpdatedAt,
		})
		assertions = append(assertions, common.Assertion{
			AssertionID:        r.AssertionID,
			SubjectCanonicalID: r.SubjectCanonicalID,
			Predicate:          r.Predicate,
			ObjectCanonicalID:  r.ObjectCanonicalID,
			Confidence:         r.Confidence,
			ClaimStatus:        r.ClaimStatus,
			Method:             r.Method,
			DocumentID:         r.DocumentID,
		})
	}

	if err := s.graph.UpsertEdges(ctx, scope, edges); err != nil {
		return 0, fmt.Errorf("failed to project edges: %w", err)
	}
	if err := s.graph.UpsertAssertions(ctx, scope, assertions); err != nil {
		return 0, fmt.Errorf("failed to project assertions: %w", err)
	}
	return len(relationships), nil
}

// syncEvidence re-projects evidence links. A full rebuild clears Evidence
// nodes along with everything else, so provenance has to be streamed back the
// same way entities and assertions are.
func (s *Synchronizer) syncEvidence(ctx context.Context, scope common.Scope, modifiedSince *time.Time) (int, error) {
	links, err := s.triples.ListEvidence(ctx, scope, modifiedSince)
	if err != nil {
		return 0, fmt.Errorf("failed to list evidence from triplestore: %w", err)
	}
	if err := s.graph.AddEvidence(ctx, scope, links); err != nil {
		return 0, fmt.Errorf("failed to project evidence: %w", err)
	}
	return len(links), nil
}

// RemoveOrphans deletes projection entities whose canonical IDs no longer
// exist in the triplestore. This repairs the partial-commit window and
// triplestore-side deletions made outside the pipeline.
func (s *Synchronizer) RemoveOrphans(ctx context.Context, scope common.Scope) (int, error) {
	sourceIDs, err := s.triples.ListCanonicalIDs(ctx, scope)
	if err != nil {
		return 0, fmt.Errorf("failed to list triplestore IDs: %w", err)
	}
	projectedIDs, err := s.graph.ListCanonicalIDs(ctx, scope)
	if err != nil {
		return 0, fmt.Errorf("failed to list projection IDs: %w", err)
	}

	source := make(map[string]struct{}, len(sourceIDs))
	for _, id := range sourceIDs {
		source[id] = struct{}{}
	}

	var orphans []string
	for _, id := range projectedIDs {
		if _, ok := source[id]; !ok {
			orphans = append(orphans, id)
		}
	}
	if len(orphans) == 0 {
		return 0, nil
	}

	deleted, err := s.graph.DeleteNodes(ctx, scope, orphans)
	if err != nil {
		return 0, fmt.Errorf("failed to delete orphans: %w", err)
	}
	logger.Info("[Sync] Removed orphaned projection entities", "scope", scope.Key(), "count", deleted)
	return deleted, nil
}
