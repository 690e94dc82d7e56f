package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/graphloom/backend/pkg/common"
	"github.com/graphloom/backend/pkg/logger"
	"github.com/graphloom/backend/pkg/syncer"
	"github.com/graphloom/backend/pkg/trust"
)

// ProcessSyncMessage runs one synchronizer pass. A busy scope is not an
// error: the in-flight run already covers the scope, so the message is
// dropped instead of retried.
func ProcessSyncMessage(ctx context.Context, s *syncer.Synchronizer, body string) error {
	var msg SyncJobMsg
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return fmt.Errorf("failed to unmarshal sync message: %w", err)
	}
	if msg.TenantID == "" || msg.WorkspaceID == "" {
		return errors.New("sync message missing tenant or workspace")
	}

	mode, err := syncer.ParseMode(msg.Mode)
	if err != nil {
		return err
	}
	target, err := syncer.ParseTarget(msg.Target)
	if err != nil {
		return err
	}

	scope := common.Scope{TenantID: msg.TenantID, WorkspaceID: msg.WorkspaceID}
	run, err := s.Run(ctx, scope, mode, target)
	if errors.Is(err, syncer.ErrSyncInProgress) {
		logger.Info("[Queue] Sync already running, dropping message", "scope", scope.Key())
		return nil
	}
	if err != nil {
		return err
	}

	logger.Info("[Queue] Sync run finished", "run_id", run.ID, "scope", scope.Key(), "status", run.Status)
	return nil
}

// ProcessTrustMessage recomputes trust for one entity or a whole workspace.
func ProcessTrustMessage(ctx context.Context, engine *trust.Engine, body string) error {
	var msg TrustJobMsg
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return fmt.Errorf("failed to unmarshal trust message: %w", err)
	}
	if msg.TenantID == "" || msg.WorkspaceID == "" {
		return errors.New("trust message missing tenant or workspace")
	}

	scope := common.Scope{TenantID: msg.TenantID, WorkspaceID: msg.WorkspaceID}

	switch msg.Operation {
	case TrustOpRecalculateEntity:
		if msg.CanonicalID == "" {
			return errors.New("trust message missing canonical_id")
		}
		if err := engine.RecalculateEntity(ctx, scope, msg.CanonicalID); err != nil {
			if errors.Is(err, trust.ErrEntityNotFound) {
				logger.Warn("[Queue] Trust recompute for unknown entity, dropping", "canonical_id", msg.CanonicalID)
				return nil
			}
			return err
		}
		return nil
	case TrustOpRecalculateWorkspace:
		n, err := engine.RecalculateWorkspace(ctx, scope)
		if err != nil {
			return err
		}
		logger.Info("[Queue] Workspace trust recalculated", "scope", scope.Key(), "entities", n)
		return nil
	default:
		return fmt.Errorf("unknown trust operation %q", msg.Operation)
	}
}
