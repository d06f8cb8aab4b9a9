package postgres

import (
	"context"
	"fmt"

	"security-risk-lab/internal/domain"
	"security-risk-lab/internal/storage"
)

// MetricsSnapshotStore implements storage.MetricsSnapshotStore using PostgreSQL.
type MetricsSnapshotStore struct {
	pool *Pool
}

// NewMetricsSnapshotStore creates a new MetricsSnapshotStore.
func NewMetricsSnapshotStore(pool *Pool) *MetricsSnapshotStore {
	return &MetricsSnapshotStore{pool: pool}
}

// Compile-time interface check.
var _ storage.MetricsSnapshotStore = (*MetricsSnapshotStore)(nil)

// Save replaces the stored snapshot of model.
func (s *MetricsSnapshotStore) Save(ctx context.Context, model string, snapshot domain.MetricsSnapshot) error {
	if model == "" {
		return storage.ErrInvalidInput
	}
	query := `
		INSERT INTO model_metrics (model_name, metrics, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (model_name) DO UPDATE
		SET metrics = EXCLUDED.metrics, updated_at = EXCLUDED.updated_at
	`
	if _, err := s.pool.Exec(ctx, query, model, snapshot.Clone()); err != nil {
		return fmt.Errorf("save model metrics: %w", err)
	}
	return nil
}

// Load returns the stored snapshot of model. Returns ErrNotFound if none.
func (s *MetricsSnapshotStore) Load(ctx context.Context, model string) (domain.MetricsSnapshot, error) {
	var snap domain.MetricsSnapshot
	err := s.pool.QueryRow(ctx, `SELECT metrics FROM model_metrics WHERE model_name = $1`, model).Scan(&snap)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("load model metrics: %w", err)
	}
	return snap, nil
}

// LoadAll returns every stored snapshot keyed by model name.
func (s *MetricsSnapshotStore) LoadAll(ctx context.Context) (map[string]domain.MetricsSnapshot, error) {
	rows, err := s.pool.Query(ctx, `SELECT model_name, metrics FROM model_metrics ORDER BY model_name`)
	if err != nil {
		return nil, fmt.Errorf("load all model metrics: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.MetricsSnapshot)
	for rows.Next() {
		var (
			name string
			snap domain.MetricsSnapshot
		)
		if err := rows.Scan(&name, &snap); err != nil {
			return nil, fmt.Errorf("scan model metrics row: %w", err)
		}
		out[name] = snap
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate model metrics rows: %w", err)
	}
	return out, nil
}
