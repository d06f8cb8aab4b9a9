// Package stream groups an unbounded event stream into fixed-size batches
// and processes them on a bounded worker pool.
package stream

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"security-risk-lab/internal/domain"
	"security-risk-lab/internal/observability"
)

const (
	DefaultBatchSize = 32
	DefaultWorkers   = 4
)

// ProcessFunc handles one batch. The batcher fills Index, Events and the
// timing fields of the returned result; a non-nil error becomes result.Err.
type ProcessFunc func(ctx context.Context, events []domain.RawEvent) (*domain.BatchResult, error)

// Batcher dispatches batches of events to a bounded worker pool.
type Batcher struct {
	process   ProcessFunc
	batchSize int
	workers   int
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

// Option configures a Batcher.
type Option func(*Batcher)

// WithBatchSize sets the number of events per batch. Values below 1 are ignored.
func WithBatchSize(n int) Option {
	return func(b *Batcher) {
		if n > 0 {
			b.batchSize = n
		}
	}
}

// WithWorkers sets the maximum number of batches processed concurrently.
// Values below 1 are ignored.
func WithWorkers(n int) Option {
	return func(b *Batcher) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Batcher) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *observability.Metrics) Option {
	return func(b *Batcher) {
		b.metrics = m
	}
}

// NewBatcher creates a batcher around process.
func NewBatcher(process ProcessFunc, opts ...Option) *Batcher {
	b := &Batcher{
		process:   process,
		batchSize: DefaultBatchSize,
		workers:   DefaultWorkers,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.Named("stream")
	return b
}

// BatchSize returns the configured batch size.
func (b *Batcher) BatchSize() int { return b.batchSize }

// Workers returns the configured pool size.
func (b *Batcher) Workers() int { return b.workers }

// Run consumes events until the channel closes or ctx is cancelled and
// returns results in completion order, so a later batch may be delivered
// before an earlier one. A trailing partial batch is flushed when events
// closes.
//
// Receiving from events never waits for a free worker: full batches are
// queued and a separate loop feeds the queue into the pool, so a sender
// blocks only for the channel hand-off. The queue is unbounded, so memory
// grows while the sender outpaces the workers.
//
// After cancellation no new batch is started and queued batches are
// dropped; batches already running complete and are delivered. The
// returned channel is closed once all workers have finished, so callers
// must drain it.
func (b *Batcher) Run(ctx context.Context, events <-chan domain.RawEvent) <-chan domain.BatchResult {
	out := make(chan domain.BatchResult, b.workers)
	jobs := make(chan job)

	go b.accept(ctx, events, jobs)

	go func() {
		defer close(out)

		var g errgroup.Group
		g.SetLimit(b.workers)

		dispatched := 0
		for j := range jobs {
			if ctx.Err() != nil {
				b.skip(j)
				continue
			}
			dispatched++
			g.Go(func() error {
				if ctx.Err() != nil {
					b.skip(j)
					return nil
				}
				out <- b.runBatch(ctx, j.index, j.events)
				return nil
			})
		}

		_ = g.Wait()
		b.logger.Debug("stream drained", zap.Int("batches", dispatched))
	}()

	return out
}

type job struct {
	index  int
	events []domain.RawEvent
}

// accept groups events into batches and hands them to jobs in index order,
// holding any that the dispatcher has not yet taken. jobs is closed when
// events is exhausted and the queue is empty, or on cancellation.
func (b *Batcher) accept(ctx context.Context, events <-chan domain.RawEvent, jobs chan<- job) {
	defer close(jobs)

	var (
		queue   []job
		index   int
		pending = make([]domain.RawEvent, 0, b.batchSize)
	)
	enqueue := func() {
		queue = append(queue, job{index: index, events: pending})
		index++
		pending = make([]domain.RawEvent, 0, b.batchSize)
	}

	for events != nil || len(queue) > 0 {
		var (
			ready chan<- job
			head  job
		)
		if len(queue) > 0 {
			ready = jobs
			head = queue[0]
		}

		select {
		case <-ctx.Done():
			for _, j := range queue {
				b.skip(j)
			}
			return
		case ev, ok := <-events:
			if !ok {
				if len(pending) > 0 {
					enqueue()
				}
				events = nil
				continue
			}
			pending = append(pending, ev)
			if len(pending) == b.batchSize {
				enqueue()
			}
		case ready <- head:
			queue[0] = job{}
			queue = queue[1:]
		}
	}
}

func (b *Batcher) skip(j job) {
	b.logger.Debug("skipping batch after cancellation",
		zap.Int("batch", j.index),
		zap.Int("events", len(j.events)),
	)
}

// RunSlice processes a finite slice and returns all results ordered by batch index.
func (b *Batcher) RunSlice(ctx context.Context, events []domain.RawEvent) []domain.BatchResult {
	in := make(chan domain.RawEvent)
	go func() {
		defer close(in)
		for _, ev := range events {
			select {
			case in <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	var results []domain.BatchResult
	for res := range b.Run(ctx, in) {
		results = append(results, res)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })
	return results
}

func (b *Batcher) runBatch(ctx context.Context, index int, events []domain.RawEvent) (res domain.BatchResult) {
	started := b.now()
	if b.metrics != nil {
		b.metrics.BatchesInFlight.Inc()
		defer b.metrics.BatchesInFlight.Dec()
	}

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("batch panicked",
				zap.Int("batch", index),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			res = domain.BatchResult{Err: fmt.Errorf("batch %d panicked: %v", index, r)}
		}
		res.Index = index
		res.Events = events
		res.StartedAt = started
		res.CompletedAt = b.now()
		b.metrics.RecordBatch(len(events), res.CompletedAt.Sub(started).Seconds(), res.Err)
		if res.Err != nil {
			b.logger.Warn("batch failed",
				zap.Int("batch", index),
				zap.Int("events", len(events)),
				zap.Error(res.Err),
			)
		}
	}()

	out, err := b.process(ctx, events)
	if out != nil {
		res = *out
	}
	if err != nil {
		res.Err = err
	}
	return res
}
