package trust

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/graphloom/backend/pkg/common"
)

// maxObservations bounds the per-entity history window. Older observations
// are evicted on insert, so recalculation cost stays flat per entity.
const maxObservations = 100

// PostgresStore implements HistoryStore on pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// AppendObservation inserts one observation and trims the entity's window to
// the newest maxObservations rows in the same transaction.
func (s *PostgresStore) AppendObservation(ctx context.Context, scope common.Scope, canonicalID string, obs common.Observation) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin observation tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	_, err = tx.Exec(ctx, `
		INSERT INTO extraction_observations (tenant_id, workspace_id, canonical_id, confidence, source_type, extracted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, scope.TenantID, scope.WorkspaceID, canonicalID, obs.Confidence, string(obs.SourceType), obs.ExtractedAt)
	if err != nil {
		return fmt.Errorf("failed to insert observation: %w", err)
	}

	_, err = tx.Exec(ctx, `
		DELETE FROM extraction_observations
		WHERE id IN (
			SELECT id FROM extraction_observations
			WHERE tenant_id = $1 AND workspace_id = $2 AND canonical_id = $3
			ORDER BY extracted_at DESC, id DESC
			OFFSET $4
		)
	`, scope.TenantID, scope.WorkspaceID, canonicalID, maxObservations)
	if err != nil {
		return fmt.Errorf("failed to trim observation window: %w", err)
	}

	return tx.Commit(ctx)
}

// ListObservations returns the entity's observation window, newest first.
func (s *PostgresStore) ListObservations(ctx context.Context, scope common.Scope, canonicalID string) ([]common.Observation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT confidence, source_type, extracted_at
		FROM extraction_observations
		WHERE tenant_id = $1 AND workspace_id = $2 AND canonical_id = $3
		ORDER BY extracted_at DESC, id DESC
	`, scope.TenantID, scope.WorkspaceID, canonicalID)
	if err != nil {
		return nil, fmt.Errorf("failed to query observations: %w", err)
	}
	defer rows.Close()

	var observations []common.Observation
	for rows.Next() {
		var obs common.Observation
		var sourceType string
		if err := rows.Scan(&obs.Confidence, &sourceType, &obs.ExtractedAt); err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		obs.SourceType = common.SourceType(sourceType)
		observations = append(observations, obs)
	}
	return observations, rows.Err()
}

// GetState fetches an entity's trust state or ErrEntityNotFound.
func (s *PostgresStore) GetState(ctx context.Context, scope common.Scope, canonicalID string) (*State, error) {
	var state State
	var status string
	err := s.pool.QueryRow(ctx, `
		SELECT canonical_id, trust_score, claim_status, disputed, updated_at
		FROM entity_trust
		WHERE tenant_id = $1 AND workspace_id = $2 AND canonical_id = $3
	`, scope.TenantID, scope.WorkspaceID, canonicalID).
		Scan(&state.CanonicalID, &state.TrustScore, &status, &state.Disputed, &state.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntityNotFound
		}
		return nil, fmt.Errorf("failed to get trust state: %w", err)
	}
	state.ClaimStatus = common.ClaimStatus(status)
	return &state, nil
}

// SaveState upserts an entity's trust state.
func (s *PostgresStore) SaveState(ctx context.Context, scope common.Scope, state *State) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO entity_trust (tenant_id, workspace_id, canonical_id, trust_score, claim_status, disputed, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, workspace_id, canonical_id) DO UPDATE
		SET trust_score  = EXCLUDED.trust_score,
		    claim_status = EXCLUDED.claim_status,
		    disputed     = EXCLUDED.disputed,
		    updated_at   = EXCLUDED.updated_at
	`, scope.TenantID, scope.WorkspaceID, state.CanonicalID, state.TrustScore, string(state.ClaimStatus), state.Disputed, state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save trust state: %w", err)
	}
	return nil
}

// ListStates pages trust states ordered by canonical ID, for bounded
// workspace-wide recalculation.
func (s *PostgresStore) ListStates(ctx context.Context, scope common.Scope, afterCanonicalID string, limit int) ([]State, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT canonical_id, trust_score, claim_status, disputed, updated_at
		FROM entity_trust
		WHERE tenant_id = $1 AND workspace_id = $2 AND canonical_id > $3
		ORDER BY canonical_id
		LIMIT $4
	`, scope.TenantID, scope.WorkspaceID, afterCanonicalID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trust states: %w", err)
	}
	defer rows.Close()

	var states []State
	for rows.Next() {
		var state State
		var status string
		if err := rows.Scan(&state.CanonicalID, &state.TrustScore, &status, &state.Disputed, &state.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trust state: %w", err)
		}
		state.ClaimStatus = common.ClaimStatus(status)
		states = append(states, state)
	}
	return states, rows.Err()
}

// AppendVerification records one audit-trail entry.
func (s *PostgresStore) AppendVerification(ctx context.Context, scope common.Scope, ev VerificationEvent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO verification_events (tenant_id, workspace_id, canonical_id, event_type, actor, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, scope.TenantID, scope.WorkspaceID, ev.CanonicalID, ev.EventType, ev.Actor, ev.Note, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert verification event: %w", err)
	}
	return nil
}

// ListVerifications returns the audit trail for an entity, newest first.
func (s *PostgresStore) ListVerifications(ctx context.Context, scope common.Scope, canonicalID string) ([]VerificationEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT canonical_id, event_type, actor, note, created_at
		FROM verification_events
		WHERE tenant_id = $1 AND workspace_id = $2 AND canonical_id = $3
		ORDER BY created_at DESC, id DESC
	`, scope.TenantID, scope.WorkspaceID, canonicalID)
	if err != nil {
		return nil, fmt.Errorf("failed to query verification events: %w", err)
	}
	defer rows.Close()

	var events []VerificationEvent
	for rows.Next() {
		var ev VerificationEvent
		if err := rows.Scan(&ev.CanonicalID, &ev.EventType, &ev.Actor, &ev.Note, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan verification event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
