// Package app assembles the service graph from configuration. Both binaries
// build through here so storage, telemetry and alerting are wired the same way.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"security-risk-lab/internal/analysis"
	"security-risk-lab/internal/config"
	"security-risk-lab/internal/features"
	"security-risk-lab/internal/fusion"
	"security-risk-lab/internal/metrics"
	"security-risk-lab/internal/models"
	"security-risk-lab/internal/notify"
	"security-risk-lab/internal/observability"
	"security-risk-lab/internal/storage"
	chstore "security-risk-lab/internal/storage/clickhouse"
	"security-risk-lab/internal/storage/memory"
	"security-risk-lab/internal/storage/migrations"
	pgstore "security-risk-lab/internal/storage/postgres"
	redisstore "security-risk-lab/internal/storage/redis"
	"security-risk-lab/internal/telemetry"
	"security-risk-lab/internal/verification"
)

// Stores holds the persistence backends selected by configuration.
type Stores struct {
	Assessments storage.AssessmentStore
	Predictions storage.PredictionStore
	Snapshots   storage.MetricsSnapshotStore
	Checkpoints storage.CheckpointStore
}

// App is a fully wired service.
type App struct {
	Config     *config.Config
	Logger     *zap.Logger
	Registry   *prometheus.Registry
	Metrics    *observability.Metrics
	Stores     Stores
	Store      *metrics.Store
	Aggregator *metrics.Aggregator
	Sink       *telemetry.AsyncSink
	Service    *analysis.Service
	Verifier   *verification.FusionVerifier

	closers []func(context.Context) error
}

// Build connects every backend named in cfg and assembles the service.
// On error, anything already opened is closed.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: reg,
		Metrics:  observability.NewMetricsWith(reg, ""),
		Store:    metrics.NewStore(),
	}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	shutdownTracer, err := observability.InitTracer(ctx, cfg.Tracing.ServiceName, cfg.Tracing.OTLPEndpoint, logger)
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	a.onClose(shutdownTracer)

	if err := a.openStores(ctx); err != nil {
		return nil, err
	}

	a.Aggregator = metrics.NewAggregator(a.Stores.Predictions, a.Stores.Snapshots, a.Store)
	restored, err := a.Aggregator.Restore(ctx)
	if err != nil {
		return nil, fmt.Errorf("restore model metrics: %w", err)
	}
	if restored > 0 {
		logger.Info("restored model metrics", zap.Int("models", restored))
	}

	a.Sink = telemetry.NewAsyncSink(telemetry.AsyncOptions{
		Predictions: a.Stores.Predictions,
		Assessments: a.Stores.Assessments,
		Snapshots:   a.Stores.Snapshots,
		QueueSize:   cfg.Telemetry.QueueSize,
		Logger:      logger,
		Metrics:     a.Metrics,
	})
	a.onClose(a.Sink.Close)

	publisher, err := a.openPublisher()
	if err != nil {
		return nil, err
	}

	threat, anomaly, embedder, err := buildScorers(ctx, cfg)
	if err != nil {
		return nil, err
	}

	codecCfg := cfg.Features.Codec()
	codecCfg.Logger = logger
	codec, err := features.NewCodec(codecCfg)
	if err != nil {
		return nil, err
	}
	fuser, err := fusion.NewFuser(cfg.Fusion)
	if err != nil {
		return nil, err
	}
	a.Verifier = verification.NewFusionVerifier(a.Stores.Assessments, fuser)

	a.Service, err = analysis.New(analysis.Options{
		Codec:        codec,
		Threat:       threat,
		Anomaly:      anomaly,
		Embedder:     embedder,
		Fuser:        fuser,
		MetricsStore: a.Store,
		Sink:         a.Sink,
		Publisher:    publisher,
		BatchSize:    cfg.Stream.BatchSize,
		Workers:      cfg.Stream.Workers,
		StreamMode:   cfg.Stream.Mode(),
		Logger:       logger,
		Metrics:      a.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Close releases everything Build opened, last opened first.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// openStores selects backends: postgres holds assessments, snapshots and
// checkpoints; clickhouse holds prediction logs; redis, when set, replaces
// the snapshot store. Anything unset falls back to memory.
func (a *App) openStores(ctx context.Context) error {
	cfg := a.Config.Storage
	a.Stores = Stores{
		Assessments: memory.NewAssessmentStore(),
		Predictions: memory.NewPredictionStore(),
		Snapshots:   memory.NewMetricsSnapshotStore(),
		Checkpoints: memory.NewCheckpointStore(),
	}

	if cfg.Backend == config.BackendPostgres {
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN, pgstore.WithMetrics(a.Metrics))
		if err != nil {
			return err
		}
		a.onClose(func(context.Context) error { pool.Close(); return nil })

		applied, err := migrations.RunPostgresMigrations(ctx, pool)
		if err != nil {
			return fmt.Errorf("postgres migrations: %w", err)
		}
		if len(applied) > 0 {
			a.Logger.Info("applied postgres migrations", zap.Strings("files", applied))
		}

		a.Stores.Assessments = pgstore.NewAssessmentStore(pool)
		a.Stores.Snapshots = pgstore.NewMetricsSnapshotStore(pool)
		a.Stores.Checkpoints = pgstore.NewCheckpointStore(pool)
	}

	if cfg.ClickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN, chstore.WithMetrics(a.Metrics))
		if err != nil {
			return fmt.Errorf("clickhouse migrations: %w", err)
		}
		a.onClose(func(context.Context) error { return conn.Close() })
		a.Stores.Predictions = chstore.NewPredictionStore(conn)
	}

	if cfg.RedisAddr != "" {
		client, err := redisstore.NewClient(ctx, cfg.RedisAddr, "", 0)
		if err != nil {
			return err
		}
		a.onClose(func(context.Context) error { return client.Close() })
		a.Stores.Snapshots = redisstore.NewMetricsSnapshotStore(client, "")
	}

	a.Logger.Info("storage ready",
		zap.String("backend", cfg.Backend),
		zap.Bool("clickhouse", cfg.ClickhouseDSN != ""),
		zap.Bool("redis", cfg.RedisAddr != ""),
	)
	return nil
}

func (a *App) openPublisher() (notify.Publisher, error) {
	if a.Config.NATS.URL == "" {
		return notify.NopPublisher{}, nil
	}
	nc, err := notify.Connect(a.Config.NATS.URL, a.Logger)
	if err != nil {
		return nil, err
	}
	p := notify.NewNATSPublisher(nc, a.Config.NATS.Subject, a.Logger)
	a.onClose(func(context.Context) error { return p.Close() })
	return p, nil
}

// buildScorers returns the threat and anomaly scorers. A remote URL swaps
// the built-in threat scorer for the remote model service.
func buildScorers(ctx context.Context, cfg *config.Config) (models.Scorer, models.Scorer, models.Embedder, error) {
	emb, err := models.NewHashingEmbedder(cfg.Models.EmbeddingDim)
	if err != nil {
		return nil, nil, nil, err
	}
	anomaly := models.NewAnomalyScorer()

	if cfg.Models.RemoteURL != "" {
		client := &http.Client{
			Timeout:   cfg.Models.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
		remote := models.NewRemoteScorer(models.NameThreat, cfg.Models.RemoteURL, models.WithHTTPClient(client))
		return remote, anomaly, emb, nil
	}

	threat, err := models.NewThreatScorer(ctx, emb)
	if err != nil {
		return nil, nil, nil, err
	}
	return threat, anomaly, emb, nil
}
