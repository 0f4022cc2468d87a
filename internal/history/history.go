// Package history keeps a bounded log of completed batch summaries.
package history

import (
	"context"
	"sync"
	"time"
)

// DefaultRetention caps how many entries are kept.
const DefaultRetention = 100

// DefaultWindow is how many entries readers see.
const DefaultWindow = 5

// Entry is one completed summary.
type Entry struct {
	BatchID     string        `json:"batch_id"`
	Seq         uint64        `json:"seq"`
	Text        string        `json:"text"`
	Provider    string        `json:"provider,omitempty"`
	Model       string        `json:"model,omitempty"`
	Samples     int           `json:"samples"`
	CompletedAt time.Time     `json:"completed_at"`
	Took        time.Duration `json:"took_ns"`
}

// History is a fixed-size circular log of entries in completion order.
// Goroutine-safe for concurrent Append and Recent.
type History struct {
	mu    sync.Mutex
	buf   []Entry
	size  int
	head  int    // next write position
	count int    // valid entries (0..size)
	total uint64 // entries ever appended
}

// New creates a history retaining at most retention entries.
func New(retention int) *History {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &History{
		buf:  make([]Entry, retention),
		size: retention,
	}
}

// Append adds e, evicting the oldest entry when full.
func (h *History) Append(e Entry) {
	h.mu.Lock()
	h.appendLocked(e)
	h.mu.Unlock()
}

// AppendContext adds e unless ctx is already done, checked under the same
// lock as the write. It returns ctx.Err() when e was dropped.
func (h *History) AppendContext(ctx context.Context, e Entry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	h.appendLocked(e)
	return nil
}

func (h *History) appendLocked(e Entry) {
	h.buf[h.head] = e
	h.head = (h.head + 1) % h.size
	if h.count < h.size {
		h.count++
	}
	h.total++
}

// Recent returns up to k entries, newest first. Returns nil if k <= 0 or empty.
func (h *History) Recent(k int) []Entry {
	if k <= 0 {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return nil
	}
	if k > h.count {
		k = h.count
	}

	out := make([]Entry, k)
	for i := 0; i < k; i++ {
		idx := (h.head - 1 - i + h.size) % h.size
		out[i] = h.buf[idx]
	}
	return out
}

// Texts returns the summary text of up to k entries, newest first.
func (h *History) Texts(k int) []string {
	entries := h.Recent(k)
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Text
	}
	return out
}

// Len returns the number of retained entries.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Cap returns the retention limit.
func (h *History) Cap() int {
	return h.size
}

// Total returns how many entries have ever been appended.
func (h *History) Total() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}
