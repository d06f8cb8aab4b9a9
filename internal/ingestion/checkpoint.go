package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"security-risk-lab/internal/storage"
)

// Tracker turns out-of-order batch completions into a safe resume offset.
// Batches are registered in submission order with their size; the saved
// offset only advances over a contiguous prefix of completed batches, so a
// restart never skips an event whose batch had not finished.
type Tracker struct {
	store  storage.CheckpointStore
	source string
	now    func() time.Time

	mu        sync.Mutex
	base      int64        // events covered by folded batches
	sizes     map[int]int  // batch index -> event count
	completed map[int]bool // finished batches not yet folded into base
	next      int          // next batch index to fold

	saveMu sync.Mutex
	saved  int64
}

// NewTracker creates a tracker for source, resuming from its saved checkpoint.
func NewTracker(ctx context.Context, store storage.CheckpointStore, source string) (*Tracker, error) {
	t := &Tracker{
		store:     store,
		source:    source,
		now:       time.Now,
		sizes:     make(map[int]int),
		completed: make(map[int]bool),
	}
	cp, err := store.GetCheckpoint(ctx, source)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("load checkpoint %s: %w", source, err)
	default:
		t.base = cp.Offset
		t.saved = cp.Offset
	}
	return t, nil
}

// Offset returns the resume offset as of the last fold.
func (t *Tracker) Offset() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.base
}

// Complete records that batch index with size events finished and saves the
// checkpoint when the contiguous prefix grew. Indices count from 0 for this
// tracker and must be unique.
func (t *Tracker) Complete(ctx context.Context, index, size int) error {
	t.mu.Lock()
	t.sizes[index] = size
	t.completed[index] = true
	advanced := false
	for t.completed[t.next] {
		t.base += int64(t.sizes[t.next])
		delete(t.completed, t.next)
		delete(t.sizes, t.next)
		t.next++
		advanced = true
	}
	offset := t.base
	t.mu.Unlock()

	if !advanced {
		return nil
	}

	t.saveMu.Lock()
	defer t.saveMu.Unlock()
	if offset <= t.saved {
		return nil
	}
	if err := t.store.SetCheckpoint(ctx, &storage.Checkpoint{
		Source:    t.source,
		Offset:    offset,
		UpdatedAt: t.now().UTC(),
	}); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", t.source, err)
	}
	t.saved = offset
	return nil
}
