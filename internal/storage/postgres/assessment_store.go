package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"security-risk-lab/internal/domain"
	"security-risk-lab/internal/storage"
)

// AssessmentStore implements storage.AssessmentStore using PostgreSQL.
type AssessmentStore struct {
	pool *Pool
}

// NewAssessmentStore creates a new AssessmentStore.
func NewAssessmentStore(pool *Pool) *AssessmentStore {
	return &AssessmentStore{pool: pool}
}

// Compile-time interface check.
var _ storage.AssessmentStore = (*AssessmentStore)(nil)

const assessmentColumns = `
	id, event_id, combined_risk_score, confidence, risk_tier,
	component_scores, recommendations, model_metrics, created_at
`

// Insert adds a new assessment. Returns ErrDuplicateKey if id exists.
func (s *AssessmentStore) Insert(ctx context.Context, a *domain.RiskAssessment) error {
	if a == nil || a.ID == "" {
		return storage.ErrInvalidInput
	}

	components := a.ComponentScores
	if components == nil {
		components = map[string]domain.ModelScore{}
	}
	recs := a.Recommendations
	if recs == nil {
		recs = []string{}
	}

	query := `INSERT INTO risk_assessments (` + assessmentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.pool.Exec(ctx, query,
		a.ID, a.EventID, a.CombinedRiskScore, a.Confidence, string(a.RiskTier),
		components, recs, a.ModelMetrics, a.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert risk assessment: %w", err)
	}
	return nil
}

// GetByID retrieves an assessment by its ID. Returns ErrNotFound if not exists.
func (s *AssessmentStore) GetByID(ctx context.Context, id string) (*domain.RiskAssessment, error) {
	query := `SELECT ` + assessmentColumns + ` FROM risk_assessments WHERE id = $1`

	a, err := scanAssessment(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get risk assessment by id: %w", err)
	}
	return a, nil
}

// GetByEventID retrieves all assessments of an event, ordered by created_at ASC.
func (s *AssessmentStore) GetByEventID(ctx context.Context, eventID string) ([]*domain.RiskAssessment, error) {
	query := `SELECT ` + assessmentColumns + `
		FROM risk_assessments
		WHERE event_id = $1
		ORDER BY created_at ASC, id ASC`

	rows, err := s.pool.Query(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("get risk assessments by event id: %w", err)
	}
	defer rows.Close()

	return scanAssessments(rows)
}

// GetByTimeRange retrieves assessments created within [start, end] (inclusive).
func (s *AssessmentStore) GetByTimeRange(ctx context.Context, start, end time.Time) ([]*domain.RiskAssessment, error) {
	query := `SELECT ` + assessmentColumns + `
		FROM risk_assessments
		WHERE created_at >= $1 AND created_at <= $2
		ORDER BY created_at ASC, id ASC`

	rows, err := s.pool.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("get risk assessments by time range: %w", err)
	}
	defer rows.Close()

	return scanAssessments(rows)
}

func scanAssessment(row pgx.Row) (*domain.RiskAssessment, error) {
	var (
		a    domain.RiskAssessment
		tier string
	)
	err := row.Scan(
		&a.ID, &a.EventID, &a.CombinedRiskScore, &a.Confidence, &tier,
		&a.ComponentScores, &a.Recommendations, &a.ModelMetrics, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.RiskTier = domain.RiskTier(tier)
	a.CreatedAt = a.CreatedAt.UTC()
	return &a, nil
}

func scanAssessments(rows pgx.Rows) ([]*domain.RiskAssessment, error) {
	var result []*domain.RiskAssessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan risk assessment row: %w", err)
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate risk assessment rows: %w", err)
	}
	return result, nil
}
