// Package buffer stages incoming samples until a full batch can be detached.
package buffer

import (
	"fmt"
	"sync"
	"time"

	"github.com/abelbrown/ecgmon/internal/model"
	"github.com/google/uuid"
)

// DefaultBatchSize is the number of samples per dispatched batch.
const DefaultBatchSize = 50

// Buffer is an append-only staging area that owns the "batch full" decision.
// Goroutine-safe. Offer is the single-step path; Append and DrainFull are the
// two-step form and never lose or duplicate samples when interleaved, because
// DrainFull only ever takes exactly size samples from the head.
type Buffer struct {
	mu    sync.Mutex
	size  int
	items []model.Sample
	seq   uint64 // last assigned batch sequence
}

// New creates a buffer that reports full at size samples.
func New(size int) (*Buffer, error) {
	if size < 1 {
		return nil, fmt.Errorf("batch size must be at least 1, got %d", size)
	}
	return &Buffer{
		size:  size,
		items: make([]model.Sample, 0, size),
	}, nil
}

// Append adds s to the tail and reports whether a full batch is staged.
func (b *Buffer) Append(s model.Sample) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, s)
	return len(b.items) >= b.size
}

// DrainFull detaches the oldest size samples as a batch.
// Returns false if fewer than size samples are staged.
func (b *Buffer) DrainFull() (model.Batch, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.detachLocked()
}

// Offer appends s and, if that filled the buffer, detaches the batch in the
// same critical section. Exactly one caller observes each batch.
func (b *Buffer) Offer(s model.Sample) (model.Batch, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, s)
	return b.detachLocked()
}

func (b *Buffer) detachLocked() (model.Batch, bool) {
	if len(b.items) < b.size {
		return model.Batch{}, false
	}

	samples := make([]model.Sample, b.size)
	copy(samples, b.items[:b.size])

	// Shift any overflow (two-step callers only) to the front and reuse the array.
	rest := copy(b.items, b.items[b.size:])
	clear(b.items[rest:])
	b.items = b.items[:rest]

	b.seq++
	return model.Batch{
		ID:         uuid.New().String(),
		Seq:        b.seq,
		Samples:    samples,
		DetachedAt: time.Now().UTC(),
	}, true
}

// Len returns the number of staged samples.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Size returns the batch size.
func (b *Buffer) Size() int {
	return b.size
}

// Snapshot returns a copy of the staged samples, oldest first.
func (b *Buffer) Snapshot() []model.Sample {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == 0 {
		return nil
	}
	out := make([]model.Sample, len(b.items))
	copy(out, b.items)
	return out
}
