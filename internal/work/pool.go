package work

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/abelbrown/ecgmon/internal/logging"
)

var (
	// ErrPoolClosed is returned by Submit after Shutdown.
	ErrPoolClosed = errors.New("work pool closed")

	// ErrNotStarted is returned by Submit before Start.
	ErrNotStarted = errors.New("work pool not started")
)

// DefaultHistory is how many completed items Recent can return.
const DefaultHistory = 100

// Pool runs submitted functions on their own goroutines, optionally capping
// how many run at once, and joins them at shutdown. Submit never blocks.
type Pool struct {
	mu      sync.Mutex
	started bool
	closed  bool
	active  map[string]*Item

	slots     chan struct{} // nil when unlimited
	limit     int
	completed *ring

	totalCreated   atomic.Int64
	totalCompleted atomic.Int64
	totalFailed    atomic.Int64
	totalCanceled  atomic.Int64
	nextID         atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool creates a pool allowing at most maxInFlight concurrent tasks.
// maxInFlight <= 0 means unlimited.
func NewPool(maxInFlight int) *Pool {
	p := &Pool{
		active:    make(map[string]*Item),
		completed: newRing(DefaultHistory),
	}
	if maxInFlight > 0 {
		p.limit = maxInFlight
		p.slots = make(chan struct{}, maxInFlight)
	}
	return p
}

// Start binds the pool to ctx. Tasks receive a context derived from it.
// Calling Start twice is a no-op.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.started = true
	logging.Info("Work pool started", "limit", p.limit)
}

// Submit schedules fn and returns the item ID without waiting for it to run.
func (p *Pool) Submit(desc string, fn func(ctx context.Context) error) (string, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return "", ErrPoolClosed
	}
	if !p.started {
		p.mu.Unlock()
		return "", ErrNotStarted
	}

	item := &Item{
		ID:          fmt.Sprintf("w%d", p.nextID.Add(1)),
		Description: desc,
		Status:      StatusPending,
		CreatedAt:   time.Now(),
	}
	p.active[item.ID] = item
	p.totalCreated.Add(1)
	// Add under the lock so Shutdown's Wait cannot race a late Submit.
	p.wg.Add(1)
	p.mu.Unlock()

	logTransition(*item)
	go p.execute(item, fn)
	return item.ID, nil
}

func (p *Pool) execute(item *Item, fn func(ctx context.Context) error) {
	defer p.wg.Done()

	if p.slots != nil {
		select {
		case p.slots <- struct{}{}:
			defer func() { <-p.slots }()
		case <-p.ctx.Done():
			p.finish(item, p.ctx.Err())
			return
		}
	}

	p.mu.Lock()
	item.Status = StatusActive
	item.StartedAt = time.Now()
	snapshot := *item
	p.mu.Unlock()
	logTransition(snapshot)

	p.finish(item, p.run(item, fn))
}

func (p *Pool) run(item *Item, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Work panicked", "id", item.ID, "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if fn == nil {
		return errors.New("no work function")
	}
	return fn(p.ctx)
}

func (p *Pool) finish(item *Item, err error) {
	p.mu.Lock()
	item.FinishedAt = time.Now()
	switch {
	case err == nil:
		item.Status = StatusComplete
		p.totalCompleted.Add(1)
	case p.ctx.Err() != nil && errors.Is(err, context.Canceled):
		item.Status = StatusCanceled
		item.Err = err.Error()
		p.totalCanceled.Add(1)
	default:
		item.Status = StatusFailed
		item.Err = err.Error()
		p.totalFailed.Add(1)
	}
	delete(p.active, item.ID)
	snapshot := *item
	p.mu.Unlock()

	p.completed.push(snapshot)
	logTransition(snapshot)
}

// Shutdown stops accepting work and waits for running tasks. If ctx expires
// first, the task context is canceled and Shutdown still waits for the tasks
// to return before reporting ctx's error.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	started := p.started
	p.mu.Unlock()

	if !started {
		return nil
	}

	logging.Info("Work pool stopping", "active", p.Stats().Active)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		logging.Warn("Work pool shutdown deadline reached, canceling tasks")
		p.cancel()
		<-done
	}
	p.cancel()

	s := p.Stats()
	logging.Info("Work pool stopped",
		"created", s.TotalCreated,
		"completed", s.TotalCompleted,
		"failed", s.TotalFailed,
		"canceled", s.TotalCanceled)
	return err
}

// Stats returns current statistics.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	var active, pending int
	for _, item := range p.active {
		if item.Status == StatusActive {
			active++
		} else {
			pending++
		}
	}
	p.mu.Unlock()

	return Stats{
		TotalCreated:   p.totalCreated.Load(),
		TotalCompleted: p.totalCompleted.Load(),
		TotalFailed:    p.totalFailed.Load(),
		TotalCanceled:  p.totalCanceled.Load(),
		Active:         active,
		Pending:        pending,
		Limit:          p.limit,
	}
}

// InFlight returns the number of submitted tasks that have not finished.
func (p *Pool) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// Recent returns up to n completed items, newest first. n <= 0 returns all
// retained items.
func (p *Pool) Recent(n int) []Item {
	return p.completed.recent(n)
}
