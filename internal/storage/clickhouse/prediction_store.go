package clickhouse

import (
	"context"
	"fmt"
	"time"

	"security-risk-lab/internal/domain"
	"security-risk-lab/internal/storage"
)

// PredictionStore implements storage.PredictionStore using ClickHouse.
type PredictionStore struct {
	conn *Conn
}

// NewPredictionStore creates a new PredictionStore.
func NewPredictionStore(conn *Conn) *PredictionStore {
	return &PredictionStore{conn: conn}
}

// Compile-time interface check.
var _ storage.PredictionStore = (*PredictionStore)(nil)

// InsertBulk adds multiple records in one batch. Fails entire batch on duplicate id.
func (s *PredictionStore) InsertBulk(ctx context.Context, records []*domain.PredictionRecord) error {
	if len(records) == 0 {
		return nil
	}

	// MergeTree does not enforce keys; check intra-batch and existing ids here.
	ids := make([]string, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		if r == nil || r.ID == "" || r.ModelName == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := seen[r.ID]; exists {
			return storage.ErrDuplicateKey
		}
		seen[r.ID] = struct{}{}
		ids = append(ids, r.ID)
	}

	var existing uint64
	if err := s.conn.QueryRow(ctx, `SELECT count() FROM prediction_logs WHERE id IN ?`, ids).Scan(&existing); err != nil {
		return fmt.Errorf("check existing predictions: %w", err)
	}
	if existing > 0 {
		return storage.ErrDuplicateKey
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO prediction_logs (
			id, model_name, input_ref, score, confidence, label, created_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range records {
		err = batch.Append(
			r.ID, r.ModelName, r.InputRef,
			r.Score, r.Confidence, r.Label,
			r.CreatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByModel retrieves predictions of a model within [start, end] (inclusive).
func (s *PredictionStore) GetByModel(ctx context.Context, model string, start, end time.Time) ([]*domain.PredictionRecord, error) {
	query := `
		SELECT id, model_name, input_ref, score, confidence, label, created_at
		FROM prediction_logs
		WHERE model_name = ? AND created_at >= ? AND created_at <= ?
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.conn.Query(ctx, query, model, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("query predictions by model: %w", err)
	}
	defer rows.Close()

	return scanPredictions(rows)
}

func scanPredictions(rows chRows) ([]*domain.PredictionRecord, error) {
	var records []*domain.PredictionRecord

	for rows.Next() {
		var r domain.PredictionRecord
		err := rows.Scan(
			&r.ID, &r.ModelName, &r.InputRef,
			&r.Score, &r.Confidence, &r.Label,
			&r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan prediction row: %w", err)
		}
		r.CreatedAt = r.CreatedAt.UTC()
		records = append(records, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prediction rows: %w", err)
	}
	return records, nil
}
