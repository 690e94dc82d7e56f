package queue

// SyncJobMsg asks the worker to run one synchronizer pass for a scope.
type SyncJobMsg struct {
	TenantID    string `json:"tenant_id"`
	WorkspaceID string `json:"workspace_id"`
	Mode        string `json:"mode"`
	Target      string `json:"target"`
}

// Trust job operations.
const (
	TrustOpRecalculateEntity    = "recalculate_entity"
	TrustOpRecalculateWorkspace = "recalculate_workspace"
)

// TrustJobMsg asks the worker to recompute trust for one entity or a whole
// workspace.
type TrustJobMsg struct {
	TenantID    string `json:"tenant_id"`
	WorkspaceID string `json:"workspace_id"`
	Operation   string `json:"operation"`
	CanonicalID string `json:"canonical_id,omitempty"`
}
