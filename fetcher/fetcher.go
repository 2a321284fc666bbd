// Package fetcher issues single logical HTTP GETs with a bounded retry
// budget and exponential backoff, classifying every outcome as success,
// retryable, or fatal.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/aluiziolira/go-scrape-games/config"
	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// OutcomeKind buckets the result of one logical fetch.
type OutcomeKind int

const (
	// OutcomeSuccess means a 2xx response with a body.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeRetryable means transient failure; the retry budget is exhausted.
	OutcomeRetryable
	// OutcomeFatal means the resource does not exist; no retry was attempted.
	OutcomeFatal
)

// FetchOutcome is the classified result of one logical fetch.
type FetchOutcome struct {
	Kind       OutcomeKind
	Body       []byte
	StatusCode int
	Err        error
}

// Metrics receives per-attempt telemetry. A nil Metrics disables reporting.
type Metrics interface {
	IncRequest(phase string)
	ObserveDuration(d time.Duration)
	IncRetries()
	IncError(errorType string)
}

// Client performs rate-limited, semaphore-bounded HTTP fetches. The
// semaphore is shared across all callers so the in-flight bound is global;
// it is acquired per physical attempt and released once that attempt's
// outcome is known.
type Client struct {
	cfg     *config.Config
	http    *resty.Client
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	metrics Metrics

	requestCount int64
	retryCount   int64
}

// NewClient builds a fetch client around a shared in-flight semaphore.
func NewClient(cfg *config.Config, sem *semaphore.Weighted, metrics Metrics) *Client {
	httpClient := resty.New().
		SetHeader("User-Agent", cfg.UserAgent).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(5))

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.MaxConcurrency)
	}

	return &Client{
		cfg:     cfg,
		http:    httpClient,
		sem:     sem,
		limiter: limiter,
		metrics: metrics,
	}
}

// SetTransport swaps the underlying HTTP transport. Used by tests.
func (c *Client) SetTransport(rt http.RoundTripper) {
	c.http.SetTransport(rt)
}

// Fetch performs one logical fetch of url: up to MaxRetries+1 physical
// attempts with exponential backoff between them. Fatal outcomes
// short-circuit the budget.
func (c *Client) Fetch(ctx context.Context, url string) FetchOutcome {
	budget := c.cfg.MaxRetries + 1
	var last FetchOutcome

	for attempt := 1; attempt <= budget; attempt++ {
		if attempt > 1 {
			atomic.AddInt64(&c.retryCount, 1)
			if c.metrics != nil {
				c.metrics.IncRetries()
			}
			if err := c.wait(ctx, c.backoff(attempt-1)); err != nil {
				return FetchOutcome{Kind: OutcomeRetryable, Err: err}
			}
		}

		last = c.attempt(ctx, url)
		if last.Kind != OutcomeRetryable {
			return last
		}
		if ctx.Err() != nil {
			return last
		}
		slog.Debug("retryable fetch failure",
			slog.String("url", url),
			slog.Int("attempt", attempt),
			slog.Int("status", last.StatusCode),
			slog.Any("error", last.Err),
		)
	}

	return last
}

// Requests returns the number of physical attempts issued so far.
func (c *Client) Requests() int64 {
	return atomic.LoadInt64(&c.requestCount)
}

// Retries returns the number of retry attempts issued so far.
func (c *Client) Retries() int64 {
	return atomic.LoadInt64(&c.retryCount)
}

func (c *Client) attempt(ctx context.Context, url string) FetchOutcome {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return FetchOutcome{Kind: OutcomeRetryable, Err: err}
		}
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return FetchOutcome{Kind: OutcomeRetryable, Err: err}
	}
	defer c.sem.Release(1)

	atomic.AddInt64(&c.requestCount, 1)
	if c.metrics != nil {
		c.metrics.IncRequest("started")
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.http.R().SetContext(attemptCtx).Get(url)
	if c.metrics != nil {
		c.metrics.ObserveDuration(time.Since(start))
	}

	status := 0
	var body []byte
	if resp != nil {
		status = resp.StatusCode()
		body = resp.Body()
	}

	kind, classified := classify(status, err)
	if classified != nil && c.metrics != nil {
		c.metrics.IncError(ErrorLabel(classified))
	}

	return FetchOutcome{Kind: kind, Body: body, StatusCode: status, Err: classified}
}

// backoff returns the base delay before the attempt-th retry, following the
// exponential schedule capped at RetryBackoffMax. Jitter is added by the
// caller, not here, so the schedule stays testable.
func (c *Client) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := c.cfg.RetryBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if max := c.cfg.RetryBackoffMax; max > 0 && delay > max {
		delay = max
	}
	return delay
}

// wait sleeps for delay plus up to 25% random jitter, or until ctx is done.
// The jitter keeps concurrently failing requests from retrying in lockstep.
func (c *Client) wait(ctx context.Context, delay time.Duration) error {
	if jitter := int64(delay / 4); jitter > 0 {
		delay += time.Duration(rand.Int63n(jitter))
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func classify(statusCode int, err error) (OutcomeKind, error) {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return OutcomeRetryable, ErrTimeout{Err: err}
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return OutcomeRetryable, ErrTimeout{Err: err}
		}
		var opErr *net.OpError
		if errors.As(err, &opErr) {
			return OutcomeRetryable, ErrConnection{Err: err}
		}
		return OutcomeRetryable, ErrConnection{Err: err}
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return OutcomeSuccess, nil
	case statusCode == http.StatusForbidden:
		return OutcomeRetryable, ErrForbidden{Err: fmt.Errorf("http status %d", statusCode)}
	case statusCode == http.StatusTooManyRequests:
		return OutcomeRetryable, ErrRateLimited{Err: fmt.Errorf("http status %d", statusCode)}
	case statusCode >= 500:
		return OutcomeRetryable, ErrServer{Err: fmt.Errorf("http status %d", statusCode)}
	case statusCode == http.StatusNotFound || statusCode == http.StatusGone:
		return OutcomeFatal, ErrNotFound{Err: fmt.Errorf("http status %d", statusCode)}
	default:
		return OutcomeFatal, fmt.Errorf("http status %d", statusCode)
	}
}
