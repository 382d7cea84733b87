package platform

import (
	"context"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/accelfs/license-broker/configs"
)

// RetryObserver receives a diagnostic callback before each retry. It runs on
// its own goroutine and must never influence the outcome of the fetch.
type RetryObserver func(attempt int, resp *http.Response, err error)

// RetryPolicy wraps an attempt function with bounded exponential backoff.
// Transport errors and responses whose status is in the retryable set are
// retried; everything else is returned to the caller as-is.
type RetryPolicy struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
	OnRetry      RetryObserver

	retryable map[int]struct{}

	// injectable for tests so retry behavior is verifiable without real delay
	sleep     func(ctx context.Context, d time.Duration) error
	randFloat func() float64
}

// NewRetryPolicy builds a policy from config.
func NewRetryPolicy(cfg configs.RetryConfig) *RetryPolicy {
	retryable := make(map[int]struct{}, len(cfg.RetryableStatuses))
	for _, code := range cfg.RetryableStatuses {
		retryable[code] = struct{}{}
	}
	return &RetryPolicy{
		MaxAttempts:  cfg.MaxAttempts,
		BaseDelay:    cfg.BaseDelay,
		MaxDelay:     cfg.MaxDelay,
		JitterFactor: cfg.JitterFactor,
		retryable:    retryable,
		sleep:        sleepContext,
		randFloat:    rand.Float64,
	}
}

// Retryable reports whether an attempt outcome warrants another attempt.
func (p *RetryPolicy) Retryable(resp *http.Response, err error) bool {
	if err != nil {
		return true
	}
	_, ok := p.retryable[resp.StatusCode]
	return ok
}

// Do runs attempt until it returns a terminal outcome or the attempt budget
// is exhausted, in which case the last response or error is returned. The
// body of every retried response is drained and closed; the final response
// is handed to the caller unread.
func (p *RetryPolicy) Do(ctx context.Context, attempt func(ctx context.Context) (*http.Response, error)) (*http.Response, error) {
	var (
		resp *http.Response
		err  error
	)
	for n := 1; ; n++ {
		resp, err = attempt(ctx)
		if !p.Retryable(resp, err) || n >= p.MaxAttempts {
			return resp, err
		}
		if resp != nil {
			// release the connection back to the pool before retrying
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}
		if cb := p.OnRetry; cb != nil {
			go cb(n, resp, err)
		}
		retriesTotal.Inc()
		if serr := p.sleep(ctx, p.delay(n)); serr != nil {
			return nil, serr
		}
	}
}

// delay computes the jittered backoff before retry n (1-based).
func (p *RetryPolicy) delay(n int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	if f := p.JitterFactor; f > 0 {
		// spread the delay across [d*(1-f), d*(1+f)]
		d = time.Duration(float64(d) * (1 - f + 2*f*p.randFloat()))
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
