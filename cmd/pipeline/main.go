// Package main scores a JSONL file of security events in batches and writes
// a run report. Progress is checkpointed per input file, so an interrupted
// run resumes where it stopped.
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

	"security-risk-lab/internal/analysis"
	"security-risk-lab/internal/app"
	"security-risk-lab/internal/config"
	"security-risk-lab/internal/domain"
	"security-risk-lab/internal/ingestion"
	"security-risk-lab/internal/logging"
	"security-risk-lab/internal/reporting"
	"security-risk-lab/internal/storage"
)

var (
	cfgFile      string
	inputFile    string
	baselineFile string
	outputDir    string
	topN         int
	fresh        bool
	v            = config.New()
)

var rootCmd = &cobra.Command{
	Use:   "risklab-pipeline",
	Short: "Score a JSONL event file and write a risk report",
	Long: `Reads one JSON event per line, scores the events in batches and writes
REPORT.md and assessments.csv to the output directory.

With the default refit-per-batch mode every batch fits its own feature
codec. With stream.refit_per_batch=false the codec is fitted once from
--baseline and shared by all batches.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&cfgFile, "config", "", "config file (YAML)")
	flags.StringVarP(&inputFile, "input", "i", "", "JSONL events file (required)")
	flags.StringVar(&baselineFile, "baseline", "", "JSONL baseline used to fit the shared codec")
	flags.StringVarP(&outputDir, "output-dir", "o", "output", "directory for the report files")
	flags.IntVar(&topN, "top", reporting.DefaultTopN, "highest-scoring assessments listed in the report")
	flags.BoolVar(&fresh, "fresh", false, "ignore the saved checkpoint and score the whole file")
	flags.Int("batch-size", 0, "events per batch (overrides stream.batch_size)")
	flags.Int("workers", 0, "concurrent batches (overrides stream.workers)")
	rootCmd.MarkFlagRequired("input")

	// Unset flags fall through to config, env and the registered defaults.
	v.BindPFlag("stream.batch_size", flags.Lookup("batch-size"))
	v.BindPFlag("stream.workers", flags.Lookup("workers"))
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

	mode := cfg.Stream.Mode()
	if mode == analysis.SharedCodec {
		if baselineFile == "" {
			return domain.NewConfigError("pipeline", "--baseline is required when stream.refit_per_batch is false")
		}
		baseline, err := ingestion.Collect(ctx, ingestion.NewJSONLFileSource(baselineFile, ingestion.JSONLOptions{Logger: logger}))
		if err != nil {
			return fmt.Errorf("read baseline: %w", err)
		}
		if err := a.Service.Fit(ctx, baseline); err != nil {
			return fmt.Errorf("fit baseline: %w", err)
		}
	}

	if fresh {
		if err := a.Stores.Checkpoints.SetCheckpoint(ctx, &storage.Checkpoint{Source: inputFile, UpdatedAt: time.Now().UTC()}); err != nil {
			return fmt.Errorf("reset checkpoint: %w", err)
		}
	}
	tracker, err := ingestion.NewTracker(ctx, a.Stores.Checkpoints, inputFile)
	if err != nil {
		return err
	}
	resumeAt := tracker.Offset()
	if resumeAt > 0 {
		logger.Info("resuming from checkpoint", zap.String("input", inputFile), zap.Int64("offset", resumeAt))
	}

	src := ingestion.NewJSONLFileSource(inputFile, ingestion.JSONLOptions{
		Skip:    resumeAt,
		Logger:  logger,
		Metrics: a.Metrics,
	})
	events, err := src.Stream(ctx)
	if err != nil {
		return err
	}

	start := time.Now()
	collector := reporting.NewCollector()
	for res := range a.Service.ProcessStream(ctx, events) {
		collector.Add(res)
		if res.Err != nil {
			logger.Warn("batch failed", zap.Int("batch", res.Index), zap.Error(res.Err))
		}
		if err := tracker.Complete(ctx, res.Index, len(res.Events)); err != nil {
			logger.Warn("checkpoint not saved", zap.Error(err))
		}
	}

	interrupted := ctx.Err() != nil
	if !interrupted {
		// Malformed lines never reach a batch; cover them once the file is done.
		if err := a.Stores.Checkpoints.SetCheckpoint(ctx, &storage.Checkpoint{
			Source:    inputFile,
			Offset:    src.Offset(),
			UpdatedAt: time.Now().UTC(),
		}); err != nil {
			logger.Warn("final checkpoint not saved", zap.Error(err))
		}
	}

	snapshots := make(map[string]domain.MetricsSnapshot)
	for _, model := range a.Service.Models() {
		snapshots[model] = a.Service.ModelMetrics(model)
	}
	report := collector.Report(inputFile, mode.String(), snapshots, topN)

	paths, err := reporting.WriteDir(outputDir, report, collector.Rows())
	if err != nil {
		return err
	}

	logger.Info("pipeline finished",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("batches", report.Summary.Batches),
		zap.Int("failed_batches", report.Summary.FailedBatches),
		zap.Int("assessed", report.Summary.Assessed),
		zap.Int64("rejected_lines", src.Rejected()),
		zap.Strings("files", paths),
		zap.Bool("interrupted", interrupted),
	)
	if interrupted {
		return errors.New("interrupted; rerun to resume from the last checkpoint")
	}
	return nil
}
