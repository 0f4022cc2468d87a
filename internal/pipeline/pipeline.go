// Package pipeline ties ingest to analysis: samples are validated, recorded as
// the latest value and buffered; every full batch is handed to a Summarizer on
// a tracked goroutine and the result lands in a bounded history.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/abelbrown/ecgmon/internal/brain"
	"github.com/abelbrown/ecgmon/internal/buffer"
	"github.com/abelbrown/ecgmon/internal/history"
	"github.com/abelbrown/ecgmon/internal/latest"
	"github.com/abelbrown/ecgmon/internal/logging"
	"github.com/abelbrown/ecgmon/internal/model"
	"github.com/abelbrown/ecgmon/internal/otel"
	"github.com/abelbrown/ecgmon/internal/work"
)

// ErrClosed is returned by Ingest after Shutdown.
var ErrClosed = errors.New("pipeline closed")

const comp = "pipeline"

// Config sizes a Pipeline.
type Config struct {
	BatchSize       int           // samples per analysis batch
	Window          int           // entries returned by Recent
	Retention       int           // entries kept in history
	DispatchTimeout time.Duration // overall budget for one analysis
	MaxInFlight     int           // concurrent analyses, 0 = unlimited
	Limits          model.Limits
}

// DefaultConfig returns the standard sizing: batches of 50, the 5 newest of
// 100 retained summaries visible, 10s per analysis.
func DefaultConfig() Config {
	return Config{
		BatchSize:       buffer.DefaultBatchSize,
		Window:          history.DefaultWindow,
		Retention:       history.DefaultRetention,
		DispatchTimeout: brain.DefaultTimeout,
		Limits:          model.DefaultLimits(),
	}
}

// Sink receives every completed history entry. Publish errors are logged and
// never affect history.
type Sink interface {
	Publish(ctx context.Context, e history.Entry) error
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithEvents attaches a structured event log.
func WithEvents(l *otel.Logger) Option {
	return func(p *Pipeline) { p.events = l }
}

// WithSink adds a result sink. May be given more than once.
func WithSink(s Sink) Option {
	return func(p *Pipeline) {
		if s != nil {
			p.sinks = append(p.sinks, s)
		}
	}
}

// Stats is a point-in-time view of pipeline counters.
type Stats struct {
	Accepted     uint64     `json:"accepted"`
	Rejected     uint64     `json:"rejected"`
	Batches      uint64     `json:"batches"`
	Succeeded    uint64     `json:"analyses_succeeded"`
	Failed       uint64     `json:"analyses_failed"`
	InFlight     int        `json:"in_flight"`
	Buffered     int        `json:"buffered"`
	History      int        `json:"history"`
	HistoryTotal uint64     `json:"history_total"`
	Work         work.Stats `json:"work"`
}

// Pipeline owns the buffer, history and latest view for one sample stream.
type Pipeline struct {
	cfg    Config
	client brain.Summarizer

	buf    *buffer.Buffer
	hist   *history.History
	latest latest.View
	pool   *work.Pool

	events *otel.Logger
	sinks  []Sink

	// closeMu is held shared across Offer+Submit so Shutdown cannot close the
	// pool between a batch detaching and its dispatch being tracked.
	closeMu sync.RWMutex
	closed  bool

	accepted  atomic.Uint64
	rejected  atomic.Uint64
	batches   atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64
}

// New creates a running Pipeline. client must not be nil.
func New(cfg Config, client brain.Summarizer, opts ...Option) (*Pipeline, error) {
	if client == nil {
		return nil, errors.New("pipeline: nil summarizer")
	}
	def := DefaultConfig()
	if cfg.BatchSize == 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = def.DispatchTimeout
	}
	if cfg.Limits == (model.Limits{}) {
		cfg.Limits = def.Limits
	}
	if cfg.Limits.ValueMin > cfg.Limits.ValueMax {
		return nil, fmt.Errorf("pipeline: value min %d exceeds max %d", cfg.Limits.ValueMin, cfg.Limits.ValueMax)
	}

	buf, err := buffer.New(cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	p := &Pipeline{
		cfg:    cfg,
		client: client,
		buf:    buf,
		hist:   history.New(cfg.Retention),
		pool:   work.NewPool(cfg.MaxInFlight),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.pool.Start(context.Background())

	logging.Info("Pipeline started",
		"batch_size", cfg.BatchSize,
		"window", cfg.Window,
		"retention", cfg.Retention,
		"dispatch_timeout", cfg.DispatchTimeout,
		"max_inflight", cfg.MaxInFlight)
	return p, nil
}

// Ingest validates s, records it as the latest sample and buffers it. When
// the buffer fills, the batch is dispatched for analysis and Ingest returns
// without waiting for it. Invalid samples return *model.IngestError and leave
// all state untouched. After Shutdown it returns ErrClosed without looking at s.
func (p *Pipeline) Ingest(ctx context.Context, s model.Sample) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	if err := p.cfg.Limits.Validate(s); err != nil {
		p.rejected.Add(1)
		p.events.Emit(otel.Event{Level: otel.LevelWarn, Kind: otel.KindIngestReject, Comp: comp, Err: err.Error()})
		return err
	}

	p.latest.Set(s)
	p.accepted.Add(1)

	batch, full := p.buf.Offer(s)
	if !full {
		return nil
	}

	p.batches.Add(1)
	p.events.Batch(otel.KindBatchDetach, otel.LevelInfo, batch.ID, batch.Seq, batch.Len())
	first, last := batch.Span()
	logging.Debug("Batch detached", "batch", batch.ID, "seq", batch.Seq, "first", first, "last", last)

	if _, err := p.pool.Submit(fmt.Sprintf("analyze batch %d", batch.Seq), p.dispatch(batch)); err != nil {
		// Only possible if the pool was shut down underneath us
		p.failed.Add(1)
		logging.Error("Batch dispatch rejected", "batch", batch.ID, "error", err)
	}
	return nil
}

// dispatch returns the work function that analyzes batch.
func (p *Pipeline) dispatch(batch model.Batch) func(ctx context.Context) error {
	return func(poolCtx context.Context) error {
		ctx, cancel := context.WithTimeout(poolCtx, p.cfg.DispatchTimeout)
		defer cancel()

		p.events.Batch(otel.KindAnalysisStart, otel.LevelInfo, batch.ID, batch.Seq, batch.Len())
		start := time.Now()

		res, err := p.client.Summarize(ctx, batch)
		took := time.Since(start)

		var entry history.Entry
		if err == nil {
			entry = history.Entry{
				BatchID:     batch.ID,
				Seq:         batch.Seq,
				Text:        res.Text,
				Provider:    res.Provider,
				Model:       res.Model,
				Samples:     batch.Len(),
				CompletedAt: time.Now().UTC(),
				Took:        took,
			}
			// Late success after cancel or timeout is discarded
			err = p.hist.AppendContext(ctx, entry)
		}
		if err != nil {
			p.failed.Add(1)
			logging.Warn("Analysis failed", "batch", batch.ID, "seq", batch.Seq, "took", took, "error", err)
			p.events.Emit(otel.Event{
				Level:   otel.LevelError,
				Kind:    otel.KindAnalysisError,
				Comp:    comp,
				BatchID: batch.ID,
				Seq:     batch.Seq,
				Dur:     took,
				Err:     err.Error(),
			})
			return fmt.Errorf("analyze batch %d: %w", batch.Seq, err)
		}

		p.succeeded.Add(1)

		logging.Info("Analysis complete", "batch", batch.ID, "seq", batch.Seq, "provider", res.Provider, "took", took)
		p.events.Emit(otel.Event{
			Level:    otel.LevelInfo,
			Kind:     otel.KindAnalysisComplete,
			Comp:     comp,
			BatchID:  batch.ID,
			Seq:      batch.Seq,
			Dur:      took,
			Count:    batch.Len(),
			Provider: res.Provider,
		})

		p.publish(poolCtx, entry)
		return nil
	}
}

func (p *Pipeline) publish(ctx context.Context, entry history.Entry) {
	for _, s := range p.sinks {
		if err := s.Publish(ctx, entry); err != nil {
			logging.Error("Sink publish failed", "batch", entry.BatchID, "error", err)
			p.events.Emit(otel.Event{
				Level:   otel.LevelError,
				Kind:    otel.KindSinkError,
				Comp:    comp,
				BatchID: entry.BatchID,
				Seq:     entry.Seq,
				Err:     err.Error(),
			})
		}
	}
}

// Latest returns the most recently accepted sample.
func (p *Pipeline) Latest() (model.Sample, bool) {
	return p.latest.Get()
}

// Recent returns up to Window summaries, newest first.
func (p *Pipeline) Recent() []history.Entry {
	return p.hist.Recent(p.cfg.Window)
}

// RecentN returns up to k retained summaries, newest first.
func (p *Pipeline) RecentN(k int) []history.Entry {
	return p.hist.Recent(k)
}

// RecentWork returns up to n finished dispatches, newest first.
func (p *Pipeline) RecentWork(n int) []work.Item {
	return p.pool.Recent(n)
}

// Window returns the number of entries Recent returns at most.
func (p *Pipeline) Window() int {
	return p.cfg.Window
}

// Stats returns current counters.
func (p *Pipeline) Stats() Stats {
	ws := p.pool.Stats()
	return Stats{
		Accepted:     p.accepted.Load(),
		Rejected:     p.rejected.Load(),
		Batches:      p.batches.Load(),
		Succeeded:    p.succeeded.Load(),
		Failed:       p.failed.Load(),
		InFlight:     ws.Active + ws.Pending,
		Buffered:     p.buf.Len(),
		History:      p.hist.Len(),
		HistoryTotal: p.hist.Total(),
		Work:         ws,
	}
}

// Shutdown stops accepting samples and waits for in-flight analyses. If ctx
// expires first they are canceled. A canceled analysis reaches history only if
// its result was recorded before the cancel landed. Samples still buffered
// below a full batch are discarded.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return nil
	}
	p.closed = true
	p.closeMu.Unlock()

	err := p.pool.Shutdown(ctx)

	s := p.Stats()
	logging.Info("Pipeline stopped",
		"accepted", s.Accepted,
		"batches", s.Batches,
		"succeeded", s.Succeeded,
		"failed", s.Failed,
		"discarded", s.Buffered)
	p.events.Info(otel.KindShutdown, comp, fmt.Sprintf("stopped with %d buffered samples discarded", s.Buffered))

	if err != nil {
		return fmt.Errorf("pipeline shutdown: %w", err)
	}
	return nil
}
