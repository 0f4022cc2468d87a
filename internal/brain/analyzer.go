// Package brain turns sample batches into natural-language summaries via an
// external text-completion service.
package brain

import (
	"context"
	"fmt"
	"time"

	"github.com/abelbrown/ecgmon/internal/logging"
	"github.com/abelbrown/ecgmon/internal/model"
	"golang.org/x/time/rate"
)

// Summarizer produces a summary for one batch. Implementations must honor
// ctx and return an error rather than a partial result.
type Summarizer interface {
	Summarize(ctx context.Context, batch model.Batch) (Result, error)
}

// Result is a completed summary.
type Result struct {
	Text     string
	Provider string
	Model    string
}

// AnalyzerConfig tunes Analyzer.
type AnalyzerConfig struct {
	Timeout       time.Duration // per attempt; default DefaultTimeout
	Retries       int           // extra attempts after the first
	Backoff       time.Duration // first retry delay, doubled each time
	RatePerSecond float64       // 0 means unlimited
	Burst         int
	MaxTokens     int
}

const (
	DefaultTimeout = 10 * time.Second
	DefaultBackoff = 500 * time.Millisecond
)

// Compile-time interface satisfaction check
var _ Summarizer = (*Analyzer)(nil)

// Analyzer summarizes batches with a single Provider.
type Analyzer struct {
	provider Provider
	cfg      AnalyzerConfig
	limiter  *rate.Limiter
}

// NewAnalyzer creates an Analyzer. A nil provider makes every call fail
// with ErrNoProvider.
func NewAnalyzer(p Provider, cfg AnalyzerConfig) *Analyzer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	return &Analyzer{provider: p, cfg: cfg, limiter: limiter}
}

// Summarize sends the batch to the provider, retrying transient failures up
// to cfg.Retries times. Each attempt gets its own cfg.Timeout deadline.
func (a *Analyzer) Summarize(ctx context.Context, batch model.Batch) (Result, error) {
	if a.provider == nil || !a.provider.Available() {
		return Result{}, ErrNoProvider
	}

	req := BuildPrompt(batch)
	req.MaxTokens = a.cfg.MaxTokens

	backoff := a.cfg.Backoff
	var lastErr error
	for attempt := 0; attempt <= a.cfg.Retries; attempt++ {
		if err := a.limiter.Wait(ctx); err != nil {
			return Result{}, &TransportError{Provider: a.provider.Name(), Err: fmt.Errorf("rate limiter: %w", err)}
		}

		resp, err := a.attempt(ctx, req)
		if err == nil {
			return Result{Text: resp.Content, Provider: a.provider.Name(), Model: resp.Model}, nil
		}
		lastErr = err

		if ctx.Err() != nil || !Retryable(err) || attempt == a.cfg.Retries {
			break
		}

		logging.Warn("Analysis attempt failed, retrying",
			"provider", a.provider.Name(),
			"batch", batch.ID,
			"attempt", attempt+1,
			"backoff", backoff,
			"error", err)

		select {
		case <-ctx.Done():
			return Result{}, &TransportError{Provider: a.provider.Name(), Err: ctx.Err()}
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return Result{}, lastErr
}

func (a *Analyzer) attempt(ctx context.Context, req Request) (Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()
	return a.provider.Generate(callCtx, req)
}

// ProviderName returns the underlying provider's name, or "" if none.
func (a *Analyzer) ProviderName() string {
	if a.provider == nil {
		return ""
	}
	return a.provider.Name()
}

// Budget returns the longest a Summarize call can take when every attempt
// runs to its timeout: all attempts plus the backoff waits between them.
// Rate-limiter waits are not included.
func (a *Analyzer) Budget() time.Duration {
	total := a.cfg.Timeout * time.Duration(a.cfg.Retries+1)
	backoff := a.cfg.Backoff
	for i := 0; i < a.cfg.Retries; i++ {
		total += backoff
		backoff *= 2
	}
	return total
}
