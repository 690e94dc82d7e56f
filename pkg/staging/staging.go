// Package staging holds extraction results in a time-boxed, human-reviewable
// holding area between extraction and commit. Records expire via TTL; the
// commit pipeline is the sole deleter on success.
package staging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/graphloom/backend/pkg/common"
)

// ErrStageNotFound is returned when a stage ID does not exist or has expired.
var ErrStageNotFound = errors.New("staged extraction not found")

// DefaultTTL bounds how long a staged extraction waits for review.
const DefaultTTL = 72 * time.Hour

// Store is the staging-store contract. TTL is advisory: records may disappear
// at any time, and callers must treat a missing stage as ErrStageNotFound.
type Store interface {
	Get(ctx context.Context, scope common.Scope, stageID string) (*common.StagedExtraction, error)
	Set(ctx context.Context, rec *common.StagedExtraction, ttl time.Duration) error
	Delete(ctx context.Context, scope common.Scope, stageID string) error
}

// RedisStore implements Store on a Redis key-value store with expiry.
type RedisStore struct {
	rdb *goredis.Client
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(rdb *goredis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// NewRedisClient connects to Redis and verifies connectivity.
func NewRedisClient(ctx context.Context, addr string) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// Key builds the staging key for a stage within a scope.
func Key(scope common.Scope, stageID string) string {
	return "stage:" + scope.TenantID + ":" + scope.WorkspaceID + ":" + stageID
}

// Get fetches a staged extraction, returning ErrStageNotFound for missing or
// expired records.
func (s *RedisStore) Get(ctx context.Context, scope common.Scope, stageID string) (*common.StagedExtraction, error) {
	raw, err := s.rdb.Get(ctx, Key(scope, stageID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, ErrStageNotFound
		}
		return nil, fmt.Errorf("failed to get staged extraction: %w", err)
	}

	var rec common.StagedExtraction
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal staged extraction: %w", err)
	}
	return &rec, nil
}

// Set writes a staged extraction under its scope key with the given TTL.
func (s *RedisStore) Set(ctx context.Context, rec *common.StagedExtraction, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal staged extraction: %w", err)
	}

	if err := s.rdb.Set(ctx, Key(rec.Scope(), rec.StageID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set staged extraction: %w", err)
	}
	return nil
}

// Delete removes a staged extraction. Deleting a missing record is not an error.
func (s *RedisStore) Delete(ctx context.Context, scope common.Scope, stageID string) error {
	if err := s.rdb.Del(ctx, Key(scope, stageID)).Err(); err != nil {
		return fmt.Errorf("failed to delete staged extraction: %w", err)
	}
	return nil
}
