// Package ingestion reads raw security events from files and live feeds.
package ingestion

import (
	"context"
	"sync"

	"security-risk-lab/internal/domain"
)

// Source produces raw events. The returned channel is closed when the source
// is exhausted or ctx is cancelled.
type Source interface {
	Name() string
	Stream(ctx context.Context) (<-chan domain.RawEvent, error)
}

// Merge fans several event channels into one. The result closes after every
// input has closed or ctx is cancelled. Order across inputs is arrival order.
func Merge(ctx context.Context, inputs ...<-chan domain.RawEvent) <-chan domain.RawEvent {
	out := make(chan domain.RawEvent, 100)
	var wg sync.WaitGroup
	for _, in := range inputs {
		wg.Add(1)
		go func(in <-chan domain.RawEvent) {
			defer wg.Done()
			for ev := range in {
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}(in)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

// Collect drains src into a slice. It returns ctx.Err() if ctx is cancelled
// before the source is exhausted.
func Collect(ctx context.Context, src Source) ([]domain.RawEvent, error) {
	ch, err := src.Stream(ctx)
	if err != nil {
		return nil, err
	}
	var out []domain.RawEvent
	for ev := range ch {
		out = append(out, ev)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
