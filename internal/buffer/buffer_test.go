package buffer

import (
	"sync"
	"testing"

	"github.com/abelbrown/ecgmon/internal/model"
)

func mustNew(t *testing.T, size int) *Buffer {
	t.Helper()
	b, err := New(size)
	if err != nil {
		t.Fatalf("New(%d): %v", size, err)
	}
	return b
}

func TestNewRejectsBadSize(t *testing.T) {
	if _, err := New(0); err == nil {
		t.Error("expected error for size 0")
	}
	if _, err := New(-3); err == nil {
		t.Error("expected error for negative size")
	}
}

func TestOfferDetachesAtThreshold(t *testing.T) {
	b := mustNew(t, DefaultBatchSize)

	for i := 0; i < 49; i++ {
		if _, full := b.Offer(model.Sample{Timestamp: int64(i), Value: int64(i)}); full {
			t.Fatalf("batch detached early at sample %d", i)
		}
	}
	if b.Len() != 49 {
		t.Fatalf("expected 49 staged, got %d", b.Len())
	}

	batch, full := b.Offer(model.Sample{Timestamp: 49, Value: 49})
	if !full {
		t.Fatal("expected 50th sample to detach a batch")
	}
	if b.Len() != 0 {
		t.Errorf("expected empty buffer after detach, got %d", b.Len())
	}
	if batch.Len() != DefaultBatchSize {
		t.Fatalf("expected %d samples, got %d", DefaultBatchSize, batch.Len())
	}
	for i, s := range batch.Samples {
		if s.Value != int64(i) {
			t.Errorf("batch[%d].Value=%d, want %d", i, s.Value, i)
		}
	}
	if batch.Seq != 1 {
		t.Errorf("Seq=%d, want 1", batch.Seq)
	}
	if batch.ID == "" {
		t.Error("batch ID should be set")
	}
}

func TestBatchDoesNotAliasBuffer(t *testing.T) {
	b := mustNew(t, 2)
	b.Offer(model.Sample{Value: 1})
	batch, _ := b.Offer(model.Sample{Value: 2})

	b.Offer(model.Sample{Value: 99})
	if batch.Samples[0].Value != 1 {
		t.Errorf("batch was aliased: got %d, want 1", batch.Samples[0].Value)
	}
}

func TestAppendAndDrainFull(t *testing.T) {
	b := mustNew(t, 3)

	if _, ok := b.DrainFull(); ok {
		t.Fatal("DrainFull on empty buffer should fail")
	}

	b.Append(model.Sample{Value: 1})
	b.Append(model.Sample{Value: 2})
	if !b.Append(model.Sample{Value: 3}) {
		t.Fatal("third Append should report full")
	}
	// An interleaved append before the drain stays staged.
	if !b.Append(model.Sample{Value: 4}) {
		t.Fatal("Append past threshold should still report full")
	}

	batch, ok := b.DrainFull()
	if !ok {
		t.Fatal("DrainFull should detach")
	}
	if got := batch.Samples[2].Value; got != 3 {
		t.Errorf("last sample = %d, want 3", got)
	}
	if _, ok := b.DrainFull(); ok {
		t.Error("second DrainFull should fail with one staged sample")
	}
	snap := b.Snapshot()
	if len(snap) != 1 || snap[0].Value != 4 {
		t.Errorf("expected [4] staged, got %v", snap)
	}
}

func TestSequenceIncreases(t *testing.T) {
	b := mustNew(t, 1)
	for i := 1; i <= 5; i++ {
		batch, ok := b.Offer(model.Sample{Value: int64(i)})
		if !ok {
			t.Fatalf("size-1 buffer should detach every sample")
		}
		if batch.Seq != uint64(i) {
			t.Errorf("Seq=%d, want %d", batch.Seq, i)
		}
	}
}

func TestConcurrentOffer(t *testing.T) {
	const (
		producers = 8
		perWorker = 25 // 200 total
	)
	b := mustNew(t, DefaultBatchSize)

	var (
		mu      sync.Mutex
		batches []model.Batch
		wg      sync.WaitGroup
	)

	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				v := int64(p*perWorker + j)
				if batch, full := b.Offer(model.Sample{Timestamp: v, Value: v}); full {
					mu.Lock()
					batches = append(batches, batch)
					mu.Unlock()
				}
			}
		}(p)
	}
	wg.Wait()

	if len(batches) != 4 {
		t.Fatalf("expected 4 batches, got %d", len(batches))
	}

	seen := make(map[int64]bool)
	for _, batch := range batches {
		if batch.Len() != DefaultBatchSize {
			t.Errorf("batch %d has %d samples", batch.Seq, batch.Len())
		}
		for _, s := range batch.Samples {
			if seen[s.Value] {
				t.Errorf("sample %d appeared twice", s.Value)
			}
			seen[s.Value] = true
		}
	}
	if len(seen) != producers*perWorker {
		t.Errorf("expected %d distinct samples, got %d", producers*perWorker, len(seen))
	}
	if b.Len() != 0 {
		t.Errorf("expected empty buffer, got %d", b.Len())
	}
}
