// Package postgres stores risk assessments, model metric snapshots and
// source checkpoints in PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"security-risk-lab/internal/observability"
)

// Pool wraps pgxpool.Pool for dependency injection.
type Pool struct {
	*pgxpool.Pool
}

type poolConfig struct {
	maxConns int32
	metrics  *observability.Metrics
}

// Option configures NewPool.
type Option func(*poolConfig)

// WithMaxConns caps the pool size. Zero keeps the pgx default.
func WithMaxConns(n int32) Option {
	return func(c *poolConfig) { c.maxConns = n }
}

// WithMetrics records every query in DBQueryDuration and DBQueryErrors.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *poolConfig) { c.metrics = m }
}

// NewPool connects and pings.
func NewPool(ctx context.Context, dsn string, opts ...Option) (*Pool, error) {
	var pc poolConfig
	for _, opt := range opts {
		opt(&pc)
	}

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if pc.maxConns > 0 {
		config.MaxConns = pc.maxConns
	}
	if pc.metrics != nil {
		config.ConnConfig.Tracer = &queryTracer{metrics: pc.metrics}
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

type queryStartKey struct{}

type queryStart struct {
	at        time.Time
	operation string
}

// queryTracer implements pgx.QueryTracer.
type queryTracer struct {
	metrics *observability.Metrics
}

func (t *queryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryStartKey{}, queryStart{at: time.Now(), operation: operationOf(data.SQL)})
}

func (t *queryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	start, ok := ctx.Value(queryStartKey{}).(queryStart)
	if !ok {
		return
	}
	err := data.Err
	if isNotFoundError(err) {
		err = nil
	}
	t.metrics.RecordDBQuery("postgres", start.operation, time.Since(start.at).Seconds(), err)
}

// operationOf returns the lower-cased leading SQL keyword, e.g. "select".
func operationOf(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "unknown"
	}
	return strings.ToLower(fields[0])
}

const pgErrUniqueViolation = "23505"

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation
}

func isNotFoundError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
