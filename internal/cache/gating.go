// Package cache publishes gating-table snapshots to redis so parallel
// instrument workers, or separate processes, read a consistent copy.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantfold/confluence/internal/domain/confluence"
)

const gatingKey = "confluence:gating"

// GatingStore keeps the latest published gating snapshot.
type GatingStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewGatingStore wraps an existing redis client. A zero ttl means
// snapshots never expire.
func NewGatingStore(client *redis.Client, ttl time.Duration) *GatingStore {
	return &GatingStore{client: client, ttl: ttl}
}

// Publish stores the snapshot, replacing any previous generation.
func (s *GatingStore) Publish(ctx context.Context, table *confluence.GatingTable) error {
	payload, err := json.Marshal(table)
	if err != nil {
		return fmt.Errorf("encode gating table: %w", err)
	}
	if err := s.client.Set(ctx, gatingKey, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("publish gating table v%d: %w", table.Version, err)
	}
	return nil
}

// Latest fetches the most recently published snapshot, or nil when none
// has been published yet.
func (s *GatingStore) Latest(ctx context.Context) (*confluence.GatingTable, error) {
	payload, err := s.client.Get(ctx, gatingKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch gating table: %w", err)
	}
	var table confluence.GatingTable
	if err := json.Unmarshal(payload, &table); err != nil {
		return nil, fmt.Errorf("decode gating table: %w", err)
	}
	if table.Disabled == nil {
		table.Disabled = map[string]bool{}
	}
	return &table, nil
}
