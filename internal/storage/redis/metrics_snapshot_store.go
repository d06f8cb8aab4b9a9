// Package redis mirrors model metric snapshots into Redis so several
// pipeline processes can share the latest evaluation results.
package redis

import (
	"context"
	"fmt"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"security-risk-lab/internal/domain"
	"security-risk-lab/internal/storage"
)

const defaultPrefix = "risklab:metrics"

// MetricsSnapshotStore implements storage.MetricsSnapshotStore on Redis hashes.
// Each model is one hash; a set indexes the known model names.
type MetricsSnapshotStore struct {
	client goredis.UniversalClient
	prefix string
}

// NewMetricsSnapshotStore creates a store using client. An empty prefix
// selects "risklab:metrics".
func NewMetricsSnapshotStore(client goredis.UniversalClient, prefix string) *MetricsSnapshotStore {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &MetricsSnapshotStore{client: client, prefix: prefix}
}

// NewClient connects to addr and verifies the connection.
func NewClient(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Compile-time interface check.
var _ storage.MetricsSnapshotStore = (*MetricsSnapshotStore)(nil)

func (s *MetricsSnapshotStore) modelKey(model string) string {
	return s.prefix + ":model:" + model
}

func (s *MetricsSnapshotStore) indexKey() string {
	return s.prefix + ":models"
}

// Save replaces the stored snapshot of model.
func (s *MetricsSnapshotStore) Save(ctx context.Context, model string, snapshot domain.MetricsSnapshot) error {
	if model == "" {
		return storage.ErrInvalidInput
	}

	fields := make(map[string]any, len(snapshot))
	for k, v := range snapshot {
		fields[k] = strconv.FormatFloat(v, 'g', -1, 64)
	}

	_, err := s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		key := s.modelKey(model)
		p.Del(ctx, key)
		if len(fields) > 0 {
			p.HSet(ctx, key, fields)
		}
		p.SAdd(ctx, s.indexKey(), model)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save model metrics: %w", err)
	}
	return nil
}

// Load returns the stored snapshot of model. Returns ErrNotFound if none.
func (s *MetricsSnapshotStore) Load(ctx context.Context, model string) (domain.MetricsSnapshot, error) {
	known, err := s.client.SIsMember(ctx, s.indexKey(), model).Result()
	if err != nil {
		return nil, fmt.Errorf("check model index: %w", err)
	}
	if !known {
		return nil, storage.ErrNotFound
	}

	raw, err := s.client.HGetAll(ctx, s.modelKey(model)).Result()
	if err != nil {
		return nil, fmt.Errorf("load model metrics: %w", err)
	}
	return parseSnapshot(raw)
}

// LoadAll returns every stored snapshot keyed by model name.
func (s *MetricsSnapshotStore) LoadAll(ctx context.Context) (map[string]domain.MetricsSnapshot, error) {
	models, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}

	out := make(map[string]domain.MetricsSnapshot, len(models))
	for _, model := range models {
		raw, err := s.client.HGetAll(ctx, s.modelKey(model)).Result()
		if err != nil {
			return nil, fmt.Errorf("load model metrics %s: %w", model, err)
		}
		snap, err := parseSnapshot(raw)
		if err != nil {
			return nil, err
		}
		out[model] = snap
	}
	return out, nil
}

func parseSnapshot(raw map[string]string) (domain.MetricsSnapshot, error) {
	snap := make(domain.MetricsSnapshot, len(raw))
	for k, v := range raw {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("parse metric %s: %w", k, err)
		}
		snap[k] = f
	}
	return snap, nil
}
