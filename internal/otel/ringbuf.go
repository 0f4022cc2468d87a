package otel

import (
	"slices"
	"strings"
	"sync"
)

// DefaultRingSize is how far back /debug/events can look.
const DefaultRingSize = 512

// Filter selects events from a RingBuffer. Zero fields match everything.
type Filter struct {
	Kind     string // kind prefix, so "analysis" matches every analysis.* event
	BatchID  string
	Seq      uint64
	MinLevel Level
}

func (f Filter) match(e *Event) bool {
	if f.Kind != "" && !strings.HasPrefix(string(e.Kind), f.Kind) {
		return false
	}
	if f.BatchID != "" && e.BatchID != f.BatchID {
		return false
	}
	if f.Seq != 0 && e.Seq != f.Seq {
		return false
	}
	if f.MinLevel != "" && e.Level.rank() < f.MinLevel.rank() {
		return false
	}
	return true
}

// rank orders levels by severity. Unknown levels rank with debug.
func (l Level) rank() int {
	switch l {
	case LevelInfo:
		return 1
	case LevelWarn:
		return 2
	case LevelError:
		return 3
	default:
		return 0
	}
}

// RingBuffer keeps the most recent events in memory.
// Goroutine-safe for concurrent Push and Query.
type RingBuffer struct {
	mu     sync.Mutex
	buf    []Event
	pushed uint64 // events ever pushed; the next slot is pushed % len(buf)
}

// NewRingBuffer creates a ring holding at most size events.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &RingBuffer{buf: make([]Event, size)}
}

// Push records e, overwriting the oldest event when full.
func (r *RingBuffer) Push(e Event) {
	r.mu.Lock()
	r.buf[r.pushed%uint64(len(r.buf))] = e
	r.pushed++
	r.mu.Unlock()
}

// Query returns up to n of the newest events matching f, oldest first.
// Returns nil if n <= 0 or nothing matches.
func (r *RingBuffer) Query(f Filter, n int) []Event {
	if n <= 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	size := uint64(len(r.buf))
	held := min(r.pushed, size)

	var out []Event
	for i := uint64(1); i <= held && len(out) < n; i++ {
		e := &r.buf[(r.pushed-i)%size]
		if f.match(e) {
			out = append(out, *e)
		}
	}
	slices.Reverse(out)
	return out
}

// Pushed returns how many events have ever been recorded, including evicted ones.
func (r *RingBuffer) Pushed() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pushed
}
