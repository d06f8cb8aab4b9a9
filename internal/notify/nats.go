// Package notify publishes alerts for high-risk assessments.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"security-risk-lab/internal/domain"
	"security-risk-lab/internal/idhash"
)

// DefaultSubject is the subject prefix alerts are published under; the
// lowercase tier is appended, e.g. risklab.alerts.critical.
const DefaultSubject = "risklab.alerts"

// Publisher delivers alerts for assessments.
type Publisher interface {
	Publish(ctx context.Context, a *domain.RiskAssessment) error
}

// NopPublisher drops every alert.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, *domain.RiskAssessment) error { return nil }

// ShouldAlert reports whether an assessment's tier warrants an alert.
func ShouldAlert(a *domain.RiskAssessment) bool {
	return a != nil && (a.RiskTier == domain.TierCritical || a.RiskTier == domain.TierHigh)
}

// Alert is the published payload.
type Alert struct {
	AssessmentID    string          `json:"assessment_id"`
	EventID         string          `json:"event_id,omitempty"`
	EventRef        string          `json:"event_ref,omitempty"`
	RiskTier        domain.RiskTier `json:"risk_tier"`
	Score           float64         `json:"combined_risk_score"`
	Confidence      float64         `json:"confidence"`
	Recommendations []string        `json:"recommendations"`
	CreatedAt       time.Time       `json:"created_at"`
}

// natsConn is the subset of *nats.Conn the publisher needs.
type natsConn interface {
	PublishMsg(msg *nats.Msg) error
	Flush() error
	Close()
}

// NATSPublisher publishes HIGH and CRITICAL assessments to NATS.
type NATSPublisher struct {
	conn    natsConn
	subject string
	logger  *zap.Logger
}

// Connect dials NATS with reconnect-forever settings.
func Connect(url string, logger *zap.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("security-risk-lab"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.Timeout(10*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("disconnected from NATS", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected to NATS", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.Error("NATS error", zap.Error(err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// NewNATSPublisher wraps an established connection. An empty subject uses
// DefaultSubject.
func NewNATSPublisher(conn natsConn, subject string, logger *zap.Logger) *NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSPublisher{conn: conn, subject: subject, logger: logger.Named("notify")}
}

// Subject returns the subject an assessment of tier is published to.
func (p *NATSPublisher) Subject(tier domain.RiskTier) string {
	return p.subject + "." + strings.ToLower(string(tier))
}

// Publish implements Publisher. Assessments below HIGH are ignored.
func (p *NATSPublisher) Publish(ctx context.Context, a *domain.RiskAssessment) error {
	if !ShouldAlert(a) {
		return nil
	}

	alert := Alert{
		AssessmentID:    a.ID,
		EventID:         a.EventID,
		RiskTier:        a.RiskTier,
		Score:           a.CombinedRiskScore,
		Confidence:      a.Confidence,
		Recommendations: a.Recommendations,
		CreatedAt:       a.CreatedAt,
	}
	if a.EventID != "" {
		alert.EventRef = idhash.ShortRef(a.EventID)
	}
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	subject := p.Subject(a.RiskTier)
	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set("Risk-Tier", string(a.RiskTier))
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(msg.Header))

	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish alert %s: %w", a.ID, err)
	}

	p.logger.Debug("published alert",
		zap.String("subject", subject),
		zap.String("assessment_id", a.ID),
		zap.String("event_ref", alert.EventRef),
	)
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	err := p.conn.Flush()
	p.conn.Close()
	if err != nil {
		return fmt.Errorf("flush NATS: %w", err)
	}
	return nil
}
