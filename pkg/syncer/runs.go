package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/graphloom/backend/pkg/common"
)

// ErrRunNotFound means no sync run exists for the ID or scope.
var ErrRunNotFound = errors.New("sync run not found")

// Run statuses. A run moves running -> completed or running -> failed; there
// is no resumption of a failed run, only a new one.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Run is one tracked synchronizer execution, polled by status callers.
type Run struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenant_id"`
	WorkspaceID string     `json:"workspace_id"`
	Mode        string     `json:"mode"`
	Target      string     `json:"target"`
	Status      string     `json:"status"`
	Progress    int        `json:"progress"`
	Message     string     `json:"message"`
	Stats       Stats      `json:"stats"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// RunStore persists sync runs.
type RunStore interface {
	Create(ctx context.Context, scope common.Scope, mode, target string) (*Run, error)
	Get(ctx context.Context, runID string) (*Run, error)
	Latest(ctx context.Context, scope common.Scope) (*Run, error)
	LastCompleted(ctx context.Context, scope common.Scope) (*Run, error)
	Progress(ctx context.Context, runID string, progress int, message string, stats Stats) error
	Complete(ctx context.Context, runID string, stats Stats) error
	Fail(ctx context.Context, runID string, errMsg string) error
	RequestCancel(ctx context.Context, runID string) error
	CancelRequested(ctx context.Context, runID string) (bool, error)
}

// PostgresRunStore implements RunStore on the sync_runs table.
type PostgresRunStore struct {
	pool *pgxpool.Pool
}

// NewPostgresRunStore wraps an existing pool.
func NewPostgresRunStore(pool *pgxpool.Pool) *PostgresRunStore {
	return &PostgresRunStore{pool: pool}
}

const runColumns = `id, tenant_id, workspace_id, mode, target, status, progress, message,
	entities_synced, relationships_synced, evidence_synced, orphans_removed, error, started_at, finished_at`

func scanRun(row pgx.Row) (*Run, error) {
	var run Run
	var errMsg *string
	err := row.Scan(&run.ID, &run.TenantID, &run.WorkspaceID, &run.Mode, &run.Target,
		&run.Status, &run.Progress, &run.Message,
		&run.Stats.Entities, &run.Stats.Relationships, &run.Stats.EvidenceLinks, &run.Stats.OrphansRemoved,
		&errMsg, &run.StartedAt, &run.FinishedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to scan sync run: %w", err)
	}
	if errMsg != nil {
		run.Error = *errMsg
	}
	return &run, nil
}

// Create inserts a new running row and returns it.
func (s *PostgresRunStore) Create(ctx context.Context, scope common.Scope, mode, target string) (*Run, error) {
	id, err := gonanoid.New()
	if err != nil {
		return nil, err
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO sync_runs (id, tenant_id, workspace_id, mode, target, status, progress, message, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, 'starting', now())
		RETURNING `+runColumns,
		id, scope.TenantID, scope.WorkspaceID, mode, target, StatusRunning)
	return scanRun(row)
}

// Get fetches a run by ID.
func (s *PostgresRunStore) Get(ctx context.Context, runID string) (*Run, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM sync_runs WHERE id = $1`, runID)
	return scanRun(row)
}

// Latest returns the scope's most recently started run.
func (s *PostgresRunStore) Latest(ctx context.Context, scope common.Scope) (*Run, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+runColumns+`
		FROM sync_runs
		WHERE tenant_id = $1 AND workspace_id = $2
		ORDER BY started_at DESC
		LIMIT 1
	`, scope.TenantID, scope.WorkspaceID)
	return scanRun(row)
}

// LastCompleted returns the scope's most recent completed run, or nil if
// there is none. Its start time is the incremental cursor.
func (s *PostgresRunStore) LastCompleted(ctx context.Context, scope common.Scope) (*Run, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+runColumns+`
		FROM sync_runs
		WHERE tenant_id = $1 AND workspace_id = $2 AND status = $3
		ORDER BY started_at DESC
		LIMIT 1
	`, scope.TenantID, scope.WorkspaceID, StatusCompleted)
	run, err := scanRun(row)
	if errors.Is(err, ErrRunNotFound) {
		return nil, nil
	}
	return run, err
}

// Progress updates the run's coarse milestone.
func (s *PostgresRunStore) Progress(ctx context.Context, runID string, progress int, message string, stats Stats) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sync_runs
		SET progress = $2, message = $3,
		    entities_synced = $4, relationships_synced = $5, evidence_synced = $6, orphans_removed = $7
		WHERE id = $1
	`, runID, progress, message, stats.Entities, stats.Relationships, stats.EvidenceLinks, stats.OrphansRemoved)
	if err != nil {
		return fmt.Errorf("failed to update sync progress: %w", err)
	}
	return nil
}

// Complete marks the run completed at 100%.
func (s *PostgresRunStore) Complete(ctx context.Context, runID string, stats Stats) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sync_runs
		SET status = $2, progress = 100, message = 'completed',
		    entities_synced = $3, relationships_synced = $4, evidence_synced = $5, orphans_removed = $6,
		    finished_at = now()
		WHERE id = $1
	`, runID, StatusCompleted, stats.Entities, stats.Relationships, stats.EvidenceLinks, stats.OrphansRemoved)
	if err != nil {
		return fmt.Errorf("failed to complete sync run: %w", err)
	}
	return nil
}

// Fail marks the run failed with an error message.
func (s *PostgresRunStore) Fail(ctx context.Context, runID string, errMsg string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sync_runs
		SET status = $2, error = $3, finished_at = now()
		WHERE id = $1
	`, runID, StatusFailed, errMsg)
	if err != nil {
		return fmt.Errorf("failed to mark sync run failed: %w", err)
	}
	return nil
}

// RequestCancel flags a running run; the synchronizer checks the flag between
// coarse steps.
func (s *PostgresRunStore) RequestCancel(ctx context.Context, runID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sync_runs SET cancel_requested = TRUE
		WHERE id = $1 AND status = $2
	`, runID, StatusRunning)
	if err != nil {
		return fmt.Errorf("failed to request sync cancel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

// CancelRequested reads the run's cancel flag.
func (s *PostgresRunStore) CancelRequested(ctx context.Context, runID string) (bool, error) {
	var cancelled bool
	err := s.pool.QueryRow(ctx, `SELECT cancel_requested FROM sync_runs WHERE id = $1`, runID).Scan(&cancelled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrRunNotFound
		}
		return false, fmt.Errorf("failed to read cancel flag: %w", err)
	}
	return cancelled, nil
}
