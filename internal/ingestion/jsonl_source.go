package ingestion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"go.uber.org/zap"

	"security-risk-lab/internal/domain"
	"security-risk-lab/internal/observability"
)

// maxLineBytes bounds a single JSONL record.
const maxLineBytes = 1 << 20

// JSONLOptions configures a JSONLSource.
type JSONLOptions struct {
	Skip    int64 // lines to skip before emitting, e.g. a saved checkpoint offset
	Logger  *zap.Logger
	Metrics *observability.Metrics
}

// JSONLSource reads one JSON event object per line. Blank lines are ignored.
// Lines that do not decode are logged, counted and skipped.
type JSONLSource struct {
	name    string
	open    func() (io.ReadCloser, error)
	skip    int64
	logger  *zap.Logger
	metrics *observability.Metrics

	offset   atomic.Int64
	rejected atomic.Int64
}

// NewJSONLFileSource reads events from the file at path.
func NewJSONLFileSource(path string, opts JSONLOptions) *JSONLSource {
	return newJSONLSource(path, func() (io.ReadCloser, error) { return os.Open(path) }, opts)
}

// NewJSONLSource reads events from r. The source can be streamed once.
func NewJSONLSource(name string, r io.Reader, opts JSONLOptions) *JSONLSource {
	return newJSONLSource(name, func() (io.ReadCloser, error) { return io.NopCloser(r), nil }, opts)
}

func newJSONLSource(name string, open func() (io.ReadCloser, error), opts JSONLOptions) *JSONLSource {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JSONLSource{
		name:    name,
		open:    open,
		skip:    opts.Skip,
		logger:  logger.Named("jsonl").With(zap.String("source", name)),
		metrics: opts.Metrics,
	}
}

// Name implements Source.
func (s *JSONLSource) Name() string { return s.name }

// Offset returns the number of non-blank lines consumed so far, skipped
// lines included.
func (s *JSONLSource) Offset() int64 { return s.offset.Load() }

// Rejected returns the number of lines that failed to decode.
func (s *JSONLSource) Rejected() int64 { return s.rejected.Load() }

// Stream implements Source.
func (s *JSONLSource) Stream(ctx context.Context) (<-chan domain.RawEvent, error) {
	rc, err := s.open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.name, err)
	}

	out := make(chan domain.RawEvent, 100)
	go func() {
		defer close(out)
		defer rc.Close()

		scanner := bufio.NewScanner(rc)
		scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

		line := 0
		for scanner.Scan() {
			line++
			raw := scanner.Bytes()
			if len(bytes.TrimSpace(raw)) == 0 {
				continue
			}

			n := s.offset.Add(1)
			if n <= s.skip {
				continue
			}

			var ev domain.RawEvent
			if err := json.Unmarshal(raw, &ev); err != nil {
				s.rejected.Add(1)
				if s.metrics != nil {
					s.metrics.EventsRejected.WithLabelValues(string(domain.KindValidation)).Inc()
				}
				s.logger.Warn("skipping malformed line", zap.Int("line", line), zap.Error(err))
				continue
			}
			if s.metrics != nil {
				s.metrics.EventsIngested.WithLabelValues(s.name).Inc()
			}

			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			if s.metrics != nil {
				s.metrics.IngestionErrors.WithLabelValues(s.name).Inc()
			}
			s.logger.Error("read failed", zap.Int("line", line), zap.Error(err))
		}
	}()

	return out, nil
}
