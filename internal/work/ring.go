package work

import "sync"

// ring holds the most recent completed items.
type ring struct {
	mu    sync.Mutex
	items []Item
	head  int
	count int
}

func newRing(size int) *ring {
	if size < 1 {
		size = 1
	}
	return &ring{items: make([]Item, size)}
}

func (r *ring) push(item Item) {
	r.mu.Lock()
	r.items[r.head] = item
	r.head = (r.head + 1) % len(r.items)
	if r.count < len(r.items) {
		r.count++
	}
	r.mu.Unlock()
}

// recent returns up to n items, newest first.
func (r *ring) recent(n int) []Item {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n <= 0 || n > r.count {
		n = r.count
	}
	out := make([]Item, n)
	for i := 0; i < n; i++ {
		idx := (r.head - 1 - i + len(r.items)) % len(r.items)
		out[i] = r.items[idx]
	}
	return out
}
