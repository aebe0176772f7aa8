package transport

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ExecutorConfig holds the per-scan defaults applied to every request.
type ExecutorConfig struct {
	Threads    int
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
}

// RequestOptions overrides executor defaults for one call. Zero values fall back to
// the executor configuration.
type RequestOptions struct {
	Method     string
	Header     http.Header
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
	NoRetry    bool
	DirectOnly bool
}

// Executor is the single gateway for outbound HTTP in a scan. It rate limits per
// origin, retries transport errors with a linear delay and resolves through the
// relay-aware Resolver.
type Executor struct {
	resolver *Resolver
	limiter  *OriginLimiter
	metrics  *Metrics
	config   ExecutorConfig
	logger   *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor wires an executor around resolver.
func NewExecutor(resolver *Resolver, cfg ExecutorConfig, metrics *Metrics, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if cfg.Threads <= 0 {
		cfg.Threads = 1
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	return &Executor{
		resolver: resolver,
		limiter:  NewOriginLimiter(cfg.Threads),
		metrics:  metrics,
		config:   cfg,
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// Config returns the executor defaults.
func (e *Executor) Config() ExecutorConfig {
	return e.config
}

// Metrics exposes the executor's call records.
func (e *Executor) Metrics() *Metrics {
	return e.metrics
}

// Execute fetches rawURL. Only transport errors are retried; any HTTP response, whatever
// its status, is returned as-is. Cancellation of ctx yields ErrAborted immediately and
// never consumes a retry.
func (e *Executor) Execute(ctx context.Context, rawURL string, opts RequestOptions) (*Response, error) {
	opts = e.withDefaults(opts)
	origin := Origin(rawURL)
	start := time.Now()
	rec := CallRecord{URL: rawURL, Origin: origin, Start: start}

	resp, attempts, err := e.run(ctx, rawURL, origin, opts)
	rec.Attempts = attempts
	rec.Duration = time.Since(start)
	if resp != nil {
		rec.Status = resp.StatusCode
		rec.UsedRelay = resp.Meta.UsedRelay
	}
	if err != nil {
		rec.Err = err.Error()
		rec.Aborted = IsAborted(err)
	}
	e.metrics.Observe(rec)
	return resp, err
}

func (e *Executor) run(ctx context.Context, rawURL, origin string, opts RequestOptions) (*Response, int, error) {
	maxRetries := opts.Retries
	if opts.NoRetry {
		maxRetries = 0
	}

	var lastErr error
	attempt := 0
	for {
		if ctx.Err() != nil {
			return nil, attempt, abortError(ctx)
		}
		if err := e.limiter.Wait(ctx, origin); err != nil {
			if ctx.Err() != nil {
				return nil, attempt, abortError(ctx)
			}
			return nil, attempt, err
		}

		attempt++
		resp, _, err := e.resolver.Resolve(ctx, rawURL, ResolveOptions{
			Method:     opts.Method,
			Header:     opts.Header,
			Timeout:    opts.Timeout,
			DirectOnly: opts.DirectOnly,
		})
		if err == nil {
			return resp, attempt, nil
		}
		if IsAborted(err) {
			return nil, attempt, err
		}
		lastErr = err

		if attempt > maxRetries {
			break
		}
		delay := opts.RetryDelay * time.Duration(attempt)
		e.logger.Debug("retrying request",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		if err := e.sleep(ctx, delay); err != nil {
			return nil, attempt, abortError(ctx)
		}
	}

	return nil, attempt, &RequestError{URL: rawURL, Attempts: attempt, Err: lastErr}
}

func (e *Executor) withDefaults(opts RequestOptions) RequestOptions {
	if opts.Timeout <= 0 {
		opts.Timeout = e.config.Timeout
	}
	if opts.Retries <= 0 {
		opts.Retries = e.config.Retries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = e.config.RetryDelay
	}
	return opts
}

// IsTransportFailure reports whether err is a non-abort transport failure.
func IsTransportFailure(err error) bool {
	if err == nil || IsAborted(err) {
		return false
	}
	var reqErr *RequestError
	var resErr *ResolveError
	return errors.As(err, &reqErr) || errors.As(err, &resErr)
}
