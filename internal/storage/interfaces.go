package storage

import (
	"context"
	"time"

	"security-risk-lab/internal/domain"
)

// AssessmentStore provides access to risk_assessments storage.
type AssessmentStore interface {
	// Insert adds a new assessment. Returns ErrDuplicateKey if id exists.
	Insert(ctx context.Context, a *domain.RiskAssessment) error

	// GetByID retrieves an assessment by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.RiskAssessment, error)

	// GetByEventID retrieves all assessments of an event, ordered by created_at ASC.
	GetByEventID(ctx context.Context, eventID string) ([]*domain.RiskAssessment, error)

	// GetByTimeRange retrieves assessments created within [start, end] (inclusive),
	// ordered by created_at ASC, id ASC.
	GetByTimeRange(ctx context.Context, start, end time.Time) ([]*domain.RiskAssessment, error)
}

// PredictionStore provides access to prediction_logs storage.
type PredictionStore interface {
	// InsertBulk adds multiple prediction records. Fails entire batch on any duplicate id.
	InsertBulk(ctx context.Context, records []*domain.PredictionRecord) error

	// GetByModel retrieves predictions of a model within [start, end] (inclusive),
	// ordered by created_at ASC, id ASC.
	GetByModel(ctx context.Context, model string, start, end time.Time) ([]*domain.PredictionRecord, error)
}

// MetricsSnapshotStore persists the latest metrics snapshot per model.
// Unlike the append-only stores, Save replaces the stored snapshot.
type MetricsSnapshotStore interface {
	// Save replaces the stored snapshot of model.
	Save(ctx context.Context, model string, snapshot domain.MetricsSnapshot) error

	// Load returns the stored snapshot of model. Returns ErrNotFound if none.
	Load(ctx context.Context, model string) (domain.MetricsSnapshot, error)

	// LoadAll returns every stored snapshot keyed by model name.
	LoadAll(ctx context.Context) (map[string]domain.MetricsSnapshot, error)
}

// Checkpoint records how far an event source has been consumed.
type Checkpoint struct {
	Source    string    // source identifier, e.g. file path or feed url
	Offset    int64     // events consumed so far
	UpdatedAt time.Time // UTC
}

// CheckpointStore persists source checkpoints so a restarted pipeline
// resumes without re-scoring events.
type CheckpointStore interface {
	// GetCheckpoint returns the checkpoint of source. Returns ErrNotFound if none saved.
	GetCheckpoint(ctx context.Context, source string) (*Checkpoint, error)

	// SetCheckpoint saves the checkpoint, replacing any previous one.
	SetCheckpoint(ctx context.Context, cp *Checkpoint) error
}
