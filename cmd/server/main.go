// Package main runs the risk scoring service: the HTTP API plus, when a feed
// is configured, continuous scoring of a live WebSocket event stream.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"security-risk-lab/internal/analysis"
	"security-risk-lab/internal/api"
	"security-risk-lab/internal/app"
	"security-risk-lab/internal/config"
	"security-risk-lab/internal/idhash"
	"security-risk-lab/internal/ingestion"
	"security-risk-lab/internal/logging"
)

var (
	cfgFile      string
	baselineFile string
	v            = config.New()
)

var rootCmd = &cobra.Command{
	Use:   "risklab-server",
	Short: "Security event risk scoring service",
	Long: `Serves the analysis API and scores events from an optional live feed.

Configuration is read from defaults, an optional YAML file (--config) and
RISKLAB_* environment variables, in increasing order of precedence.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&cfgFile, "config", "", "config file (YAML)")
	flags.StringVar(&baselineFile, "baseline", "", "JSONL file of baseline events used to fit the feature codec at startup")
	flags.String("addr", "", "HTTP listen address (overrides http.addr)")
	flags.String("log-level", "", "log level (overrides log.level)")
	flags.String("ws-url", "", "live event feed URL (overrides ingest.ws_url)")

	v.BindPFlag("http.addr", flags.Lookup("addr"))
	v.BindPFlag("log.level", flags.Lookup("log-level"))
	v.BindPFlag("ingest.ws_url", flags.Lookup("ws-url"))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build service: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			logger.Warn("shutdown incomplete", zap.Error(err))
		}
	}()

	if baselineFile != "" {
		if err := fitBaseline(ctx, a, baselineFile); err != nil {
			return err
		}
	} else if cfg.Stream.Mode() == analysis.SharedCodec {
		logger.Warn("no baseline given; single-event analysis returns 409 until the codec is fitted")
	}

	srv := api.NewServer(a.Service,
		api.WithLogger(logger),
		api.WithMetrics(a.Metrics, a.Registry),
		api.WithSummarizer(a.Aggregator),
		api.WithVerifier(a.Verifier),
		api.WithServiceName(cfg.Tracing.ServiceName),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(ctx, cfg.HTTP.Addr)
	})
	if cfg.Ingest.WSURL != "" {
		g.Go(func() error {
			return consumeFeed(ctx, a, cfg.Ingest.WSURL)
		})
	}

	logger.Info("server started",
		zap.String("addr", cfg.HTTP.Addr),
		zap.String("stream_mode", cfg.Stream.Mode().String()),
		zap.String("storage", cfg.Storage.Backend),
	)
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func fitBaseline(ctx context.Context, a *app.App, path string) error {
	src := ingestion.NewJSONLFileSource(path, ingestion.JSONLOptions{Logger: a.Logger, Metrics: a.Metrics})
	events, err := ingestion.Collect(ctx, src)
	if err != nil {
		return fmt.Errorf("read baseline: %w", err)
	}
	if err := a.Service.Fit(ctx, events); err != nil {
		return fmt.Errorf("fit baseline %s: %w", path, err)
	}
	return nil
}

// consumeFeed scores the live feed until ctx is cancelled. Batch failures
// are logged; alerting and persistence happen inside the service.
func consumeFeed(ctx context.Context, a *app.App, url string) error {
	logger := a.Logger.Named("feed")
	src := ingestion.NewWSSource(url, nil, a.Logger, a.Metrics)
	events, err := src.Stream(ctx)
	if err != nil {
		return fmt.Errorf("connect feed: %w", err)
	}

	for res := range a.Service.ProcessStream(ctx, events) {
		if res.Err != nil {
			logger.Warn("batch failed",
				zap.Int("batch", res.Index),
				zap.Int("events", len(res.Events)),
				zap.Error(res.Err),
			)
			continue
		}
		for i, asm := range res.Assessments {
			if asm == nil {
				logger.Warn("event not scored", zap.Int("batch", res.Index), zap.Error(res.EventErrors[i]))
				continue
			}
			logger.Debug("scored",
				zap.String("event", idhash.ShortRef(asm.EventID)),
				zap.String("tier", string(asm.RiskTier)),
				zap.Float64("score", asm.CombinedRiskScore),
			)
		}
	}
	return ctx.Err()
}
