// Package neo4j implements the property-graph adapter. The projection is
// partitioned by tenant/workspace properties on every node, and all upserts
// use MERGE keyed by deterministic IDs so partial retries are always safe.
package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/graphloom/backend/pkg/common"
	"github.com/graphloom/backend/pkg/logger"
)

// Store is the Neo4j-backed property-graph store.
type Store struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewStoreParams configures the Neo4j connection.
type NewStoreParams struct {
	URI      string
	User     string
	Password string
	Database string
	Timeout  time.Duration
}

// NewStore connects to Neo4j, verifies connectivity, and bootstraps the
// schema helpers (best-effort; index creation may fail for restricted users).
func NewStore(ctx context.Context, params NewStoreParams) (*Store, error) {
	if params.Timeout <= 0 {
		params.Timeout = 10 * time.Second
	}
	if params.User == "" {
		params.User = "neo4j"
	}

	driver, err := neo4j.NewDriverWithContext(params.URI, neo4j.BasicAuth(params.User, params.Password, ""), func(cfg *neo4j.Config) {
		cfg.SocketConnectTimeout = params.Timeout
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init neo4j driver: %w", err)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, params.Timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to verify neo4j connectivity: %w", err)
	}

	s := &Store{driver: driver, database: params.Database}
	s.ensureSchema(ctx)
	return s, nil
}

// Close releases the underlying driver.
func (s *Store) Close(ctx context.Context) error {
	if s == nil || s.driver == nil {
		return nil
	}
	return s.driver.Close(ctx)
}

func (s *Store) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: s.database,
	})
}

func (s *Store) ensureSchema(ctx context.Context) {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	statements := []string{
		`CREATE CONSTRAINT entity_scope_canonical IF NOT EXISTS FOR (n:Entity) REQUIRE (n.tenant_id, n.workspace_id, n.canonical_id) IS UNIQUE`,
		`CREATE CONSTRAINT assertion_scope_id IF NOT EXISTS FOR (n:Assertion) REQUIRE (n.tenant_id, n.workspace_id, n.assertion_id) IS UNIQUE`,
		`CREATE INDEX entity_class_idx IF NOT EXISTS FOR (n:Entity) ON (n.class_name)`,
		`CREATE INDEX evidence_target_idx IF NOT EXISTS FOR (n:Evidence) ON (n.target_id, n.text_hash)`,
	}
	for _, stmt := range statements {
		res, err := session.Run(ctx, stmt, nil)
		if err != nil {
			logger.Warn("[Neo4j] Schema init failed (continuing)", "err", err)
			continue
		}
		_, _ = res.Consume(ctx)
	}
}

func claimRank(s common.ClaimStatus) int64 {
	switch s {
	case common.ClaimStatusClaim:
		return 0
	case common.ClaimStatusVerified:
		return 1
	case common.ClaimStatusFact:
		return 2
	case common.ClaimStatusDisputed:
		return 3
	}
	return 0
}

func (s *Store) write(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	out, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, err
	}
	records, _ := out.([]*neo4j.Record)
	return records, nil
}

func (s *Store) read(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, err
	}
	records, _ := out.([]*neo4j.Record)
	return records, nil
}
