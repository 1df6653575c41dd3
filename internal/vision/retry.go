package vision

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"
)

const (
	maxAttempts   = 3
	baseDelay     = 1 * time.Second
	maxJitter     = 500 * time.Millisecond
	maxRetryDelay = 30 * time.Second
)

// Attempt describes a single provider call, successful or not.
type Attempt struct {
	Provider  string
	Operation string
	Attempt   int
	Elapsed   time.Duration
	Kind      Kind
	Err       error
}

// Observer receives one event per provider attempt.
type Observer interface {
	ObserveAttempt(a Attempt)
}

// slogObserver is the default Observer; it logs every attempt.
type slogObserver struct{}

func (slogObserver) ObserveAttempt(a Attempt) {
	if a.Err == nil {
		slog.Debug("provider call succeeded",
			"provider", a.Provider,
			"operation", a.Operation,
			"attempt", a.Attempt,
			"elapsed", a.Elapsed,
		)
		return
	}
	slog.Warn("provider call failed",
		"provider", a.Provider,
		"operation", a.Operation,
		"attempt", a.Attempt,
		"elapsed", a.Elapsed,
		"kind", a.Kind.String(),
		"error", a.Err,
	)
}

// retrier runs provider calls with bounded retries. Rate-limit responses
// honor the provider's retry hint; everything else backs off exponentially
// with jitter. Backoff sleeps abort as soon as the context is cancelled.
type retrier struct {
	provider string
	observer Observer
	sleep    func(ctx context.Context, d time.Duration) error
}

func newRetrier(provider string, observer Observer) *retrier {
	if observer == nil {
		observer = slogObserver{}
	}
	return &retrier{
		provider: provider,
		observer: observer,
		sleep:    sleepContext,
	}
}

// Do invokes fn up to maxAttempts times. The error of the final attempt is
// returned as-is so callers can inspect its classification.
func (r *retrier) Do(ctx context.Context, operation string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		start := time.Now()
		err := fn(ctx)
		r.observer.ObserveAttempt(Attempt{
			Provider:  r.provider,
			Operation: operation,
			Attempt:   attempt,
			Elapsed:   time.Since(start),
			Kind:      KindOf(err),
			Err:       err,
		})
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return transportError("request cancelled", ctx.Err())
		}
		lastErr = err
		if attempt == maxAttempts {
			break
		}
		if serr := r.sleep(ctx, retryDelay(err, attempt)); serr != nil {
			return transportError("request cancelled during backoff", serr)
		}
	}
	return lastErr
}

// retryDelay picks the wait before the next attempt. A rate-limit hint from
// the provider wins, capped at maxRetryDelay; otherwise the schedule is
// 2^attempt seconds plus up to 500ms of jitter.
func retryDelay(err error, attempt int) time.Duration {
	var pe *Error
	if errors.As(err, &pe) && pe.Kind == KindRateLimited && pe.RetryAfter > 0 {
		if pe.RetryAfter > maxRetryDelay {
			return maxRetryDelay
		}
		return pe.RetryAfter
	}
	return time.Duration(1<<attempt)*baseDelay + rand.N(maxJitter)
}

// sleepContext waits for d or until ctx is cancelled, whichever comes first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
