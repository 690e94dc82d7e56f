// Package trust derives a trust score and claim status for each canonical
// entity from its bounded history of extraction observations. Scores promote
// claims to VERIFIED and FACT automatically; DISPUTED is set and cleared only
// by explicit human action.
package trust

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/graphloom/backend/pkg/common"
	"github.com/graphloom/backend/pkg/logger"
	"github.com/graphloom/backend/pkg/store"
)

// ErrEntityNotFound means no trust state exists for the canonical ID.
var ErrEntityNotFound = errors.New("entity has no trust state")

// Verification event types recorded in the append-only audit trail.
const (
	EventPromoted       = "promoted_to_fact"
	EventDisputed       = "marked_disputed"
	EventDisputeCleared = "dispute_cleared"
)

// State is the persisted trust state of one canonical entity.
type State struct {
	CanonicalID string             `json:"canonical_id"`
	TrustScore  float64            `json:"trust_score"`
	ClaimStatus common.ClaimStatus `json:"claim_status"`
	Disputed    bool               `json:"disputed"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// VerificationEvent is one audit-trail entry for a manual status change.
type VerificationEvent struct {
	CanonicalID string    `json:"canonical_id"`
	EventType   string    `json:"event_type"`
	Actor       string    `json:"actor"`
	Note        string    `json:"note,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// HistoryStore persists observations, trust state, and verification events.
// Observation history is bounded per entity; the store evicts oldest first.
type HistoryStore interface {
	AppendObservation(ctx context.Context, scope common.Scope, canonicalID string, obs common.Observation) error
	ListObservations(ctx context.Context, scope common.Scope, canonicalID string) ([]common.Observation, error)

	GetState(ctx context.Context, scope common.Scope, canonicalID string) (*State, error)
	SaveState(ctx context.Context, scope common.Scope, state *State) error
	ListStates(ctx context.Context, scope common.Scope, afterCanonicalID string, limit int) ([]State, error)

	AppendVerification(ctx context.Context, scope common.Scope, ev VerificationEvent) error
	ListVerifications(ctx context.Context, scope common.Scope, canonicalID string) ([]VerificationEvent, error)
}

// Config tunes scoring and promotion.
type Config struct {
	// SourceAuthority weights observations by where they came from.
	SourceAuthority map[common.SourceType]float64
	// DefaultAuthority applies to unknown source types.
	DefaultAuthority float64

	// VerifyThreshold promotes CLAIM to VERIFIED.
	VerifyThreshold float64
	// FactThreshold promotes VERIFIED to FACT.
	FactThreshold float64

	// DecayHalfLife discounts old observations; zero disables decay.
	DecayHalfLife time.Duration
}

// DefaultConfig returns the standard authority table and thresholds.
func DefaultConfig() Config {
	return Config{
		SourceAuthority: map[common.SourceType]float64{
			common.SourceTypeOfficialDocument: 1.0,
			common.SourceTypeDatabase:         0.9,
			common.SourceTypeAPI:              0.8,
			common.SourceTypeUserUpload:       0.6,
			common.SourceTypeWebScrape:        0.4,
		},
		DefaultAuthority: 0.5,
		VerifyThreshold:  0.8,
		FactThreshold:    0.95,
	}
}

// Engine computes and persists trust, pushing derived scores into the
// property-graph projection.
type Engine struct {
	cfg   Config
	store HistoryStore
	graph store.PropertyGraph
	now   func() time.Time
}

// NewEngine wires the trust engine. graph may be nil in tests.
func NewEngine(cfg Config, store HistoryStore, graph store.PropertyGraph) *Engine {
	if cfg.VerifyThreshold <= 0 {
		cfg.VerifyThreshold = 0.8
	}
	if cfg.FactThreshold <= 0 {
		cfg.FactThreshold = 0.95
	}
	if cfg.DefaultAuthority <= 0 {
		cfg.DefaultAuthority = 0.5
	}
	return &Engine{cfg: cfg, store: store, graph: graph, now: time.Now}
}

func (e *Engine) authority(src common.SourceType) float64 {
	if a, ok := e.cfg.SourceAuthority[src]; ok {
		return a
	}
	return e.cfg.DefaultAuthority
}

// Score computes the authority-weighted average of confidence over the
// observation window: sum of decay * confidence * authority, divided by the
// sum of authorities. With decay enabled, an observation one half-life old
// contributes half as much as a fresh one.
func (e *Engine) Score(observations []common.Observation, now time.Time) float64 {
	if len(observations) == 0 {
		return 0
	}

	var weighted, authSum float64
	for _, obs := range observations {
		decay := 1.0
		if e.cfg.DecayHalfLife > 0 {
			age := now.Sub(obs.ExtractedAt)
			if age < 0 {
				age = 0
			}
			decay = math.Pow(0.5, age.Hours()/e.cfg.DecayHalfLife.Hours())
		}
		auth := e.authority(obs.SourceType)
		weighted += decay * obs.Confidence * auth
		authSum += auth
	}
	if authSum == 0 {
		return 0
	}
	return weighted / authSum
}

// statusForScore derives the automatic claim status from a score.
func (e *Engine) statusForScore(score float64) common.ClaimStatus {
	switch {
	case score >= e.cfg.FactThreshold:
		return common.ClaimStatusFact
	case score >= e.cfg.VerifyThreshold:
		return common.ClaimStatusVerified
	default:
		return common.ClaimStatusClaim
	}
}

// RecordExtraction appends one observation to the entity's bounded history
// and initializes trust state on first sight.
func (e *Engine) RecordExtraction(ctx context.Context, scope common.Scope, canonicalID string, obs common.Observation) error {
	if obs.ExtractedAt.IsZero() {
		obs.ExtractedAt = e.now().UTC()
	}
	if err := e.store.AppendObservation(ctx, scope, canonicalID, obs); err != nil {
		return fmt.Errorf("failed to append observation: %w", err)
	}

	state, err := e.store.GetState(ctx, scope, canonicalID)
	if err != nil && !errors.Is(err, ErrEntityNotFound) {
		return err
	}
	if state == nil {
		state = &State{CanonicalID: canonicalID, ClaimStatus: common.ClaimStatusClaim}
		state.UpdatedAt = e.now().UTC()
		if err := e.store.SaveState(ctx, scope, state); err != nil {
			return fmt.Errorf("failed to init trust state: %w", err)
		}
	}
	return nil
}

// RecalculateEntity recomputes the entity's score from its observation window
// and applies status transitions. Status never downgrades automatically, and
// a disputed entity stays DISPUTED regardless of score.
func (e *Engine) RecalculateEntity(ctx context.Context, scope common.Scope, canonicalID string) error {
	state, err := e.store.GetState(ctx, scope, canonicalID)
	if err != nil {
		return err
	}

	observations, err := e.store.ListObservations(ctx, scope, canonicalID)
	if err != nil {
		return fmt.Errorf("failed to list observations: %w", err)
	}

	state.TrustScore = e.Score(observations, e.now().UTC())
	if !state.Disputed {
		state.ClaimStatus = state.ClaimStatus.Max(e.statusForScore(state.TrustScore))
	}
	state.UpdatedAt = e.now().UTC()

	if err := e.store.SaveState(ctx, scope, state); err != nil {
		return fmt.Errorf("failed to save trust state: %w", err)
	}
	return e.pushToGraph(ctx, scope, state)
}

// GetEntityTrust returns the current trust state for an entity.
func (e *Engine) GetEntityTrust(ctx context.Context, scope common.Scope, canonicalID string) (*State, error) {
	return e.store.GetState(ctx, scope, canonicalID)
}

// History returns the verification audit trail for an entity.
func (e *Engine) History(ctx context.Context, scope common.Scope, canonicalID string) ([]VerificationEvent, error) {
	return e.store.ListVerifications(ctx, scope, canonicalID)
}

// PromoteToFact manually promotes an entity to FACT and clears any dispute.
// The promotion is a floor: later recomputation never drops it back down.
func (e *Engine) PromoteToFact(ctx context.Context, scope common.Scope, canonicalID, actor, note string) (*State, error) {
	return e.applyVerification(ctx, scope, canonicalID, EventPromoted, actor, note, func(state *State) {
		state.ClaimStatus = common.ClaimStatusFact
		state.Disputed = false
	})
}

// MarkDisputed flags an entity as DISPUTED. Recomputation will not clear it.
func (e *Engine) MarkDisputed(ctx context.Context, scope common.Scope, canonicalID, actor, note string) (*State, error) {
	return e.applyVerification(ctx, scope, canonicalID, EventDisputed, actor, note, func(state *State) {
		state.ClaimStatus = common.ClaimStatusDisputed
		state.Disputed = true
	})
}

// ClearDispute removes the dispute flag and returns the entity to CLAIM.
// The re-review starts the lifecycle over; later observations re-promote it
// through recomputation.
func (e *Engine) ClearDispute(ctx context.Context, scope common.Scope, canonicalID, actor, note string) (*State, error) {
	return e.applyVerification(ctx, scope, canonicalID, EventDisputeCleared, actor, note, func(state *State) {
		state.Disputed = false
		state.ClaimStatus = common.ClaimStatusClaim
	})
}

func (e *Engine) applyVerification(ctx context.Context, scope common.Scope, canonicalID, eventType, actor, note string, mutate func(*State)) (*State, error) {
	state, err := e.store.GetState(ctx, scope, canonicalID)
	if err != nil {
		return nil, err
	}

	mutate(state)
	state.UpdatedAt = e.now().UTC()

	if err := e.store.SaveState(ctx, scope, state); err != nil {
		return nil, fmt.Errorf("failed to save trust state: %w", err)
	}
	if err := e.store.AppendVerification(ctx, scope, VerificationEvent{
		CanonicalID: canonicalID,
		EventType:   eventType,
		Actor:       actor,
		Note:        note,
		CreatedAt:   state.UpdatedAt,
	}); err != nil {
		return nil, fmt.Errorf("failed to append verification event: %w", err)
	}
	if err := e.pushToGraph(ctx, scope, state); err != nil {
		return nil, err
	}
	return state, nil
}

const recalculateBatchSize = 500

// RecalculateWorkspace recomputes trust for every entity in the scope, in
// bounded pages so large workspaces never load all state at once. Returns the
// number of entities recalculated.
func (e *Engine) RecalculateWorkspace(ctx context.Context, scope common.Scope) (int, error) {
	total := 0
	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		states, err := e.store.ListStates(ctx, scope, cursor, recalculateBatchSize)
		if err != nil {
			return total, fmt.Errorf("failed to list trust states: %w", err)
		}
		if len(states) == 0 {
			return total, nil
		}

		for _, st := range states {
			if err := e.RecalculateEntity(ctx, scope, st.CanonicalID); err != nil {
				logger.Warn("[Trust] Recalculation failed for entity", "canonical_id", st.CanonicalID, "err", err)
				continue
			}
			total++
		}
		cursor = states[len(states)-1].CanonicalID
	}
}

func (e *Engine) pushToGraph(ctx context.Context, scope common.Scope, state *State) error {
	if e.graph == nil {
		return nil
	}
	if err := e.graph.UpdateTrust(ctx, scope, state.CanonicalID, state.TrustScore, state.ClaimStatus); err != nil {
		return fmt.Errorf("failed to push trust to projection: %w", err)
	}
	return nil
}
