package model

import "time"

// Batch is a fixed-length run of samples detached from the live buffer.
// Samples is owned by the batch; nothing else holds a reference to it.
type Batch struct {
	ID         string
	Seq        uint64 // 1-based, in detach order
	Samples    []Sample
	DetachedAt time.Time
}

// Len returns the number of samples in the batch.
func (b Batch) Len() int {
	return len(b.Samples)
}

// Span returns the first and last sample timestamps.
func (b Batch) Span() (first, last int64) {
	if len(b.Samples) == 0 {
		return 0, 0
	}
	return b.Samples[0].Timestamp, b.Samples[len(b.Samples)-1].Timestamp
}
