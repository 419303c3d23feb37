// Package backoff implements the retry policies used around every network
// step of the transfer engine: exponential delay with optional jitter, and
// per-call-site retry ceilings keyed on the error taxonomy.
package backoff

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strconv"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"

	"github.com/BotCoder254/remocloud-sub000/errdefs"
)

// jitterFraction is the maximum relative perturbation applied to a delay.
const jitterFraction = 0.25

// Policy is a value type describing the retry behavior of one call site.
type Policy struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps the computed delay.
	MaxDelay time.Duration
	// Factor is the exponential growth factor.
	Factor float64
	// Jitter perturbs each delay by up to ±25% to desynchronize concurrent
	// retriers.
	Jitter bool
	// RetryableKinds is the set of error kinds this call site retries.
	RetryableKinds map[errdefs.Kind]bool
}

func transientKinds() map[errdefs.Kind]bool {
	return map[errdefs.Kind]bool{
		errdefs.KindNetwork:     true,
		errdefs.KindTimeout:     true,
		errdefs.KindService:     true,
		errdefs.KindRateLimited: true,
	}
}

// UploadAPIPolicy governs upload-session API calls (initiate, complete,
// duplicate check, cancel).
func UploadAPIPolicy() Policy {
	return Policy{
		MaxRetries:     3,
		BaseDelay:      time.Second,
		MaxDelay:       10 * time.Second,
		Factor:         2,
		Jitter:         true,
		RetryableKinds: transientKinds(),
	}
}

// DirectTransferPolicy governs the raw PUT against a signed URL. Expired URLs
// are not in the retryable set: the orchestrator handles those by restarting
// the initiate phase with a fresh URL instead of re-PUTting a dead one.
func DirectTransferPolicy() Policy {
	return Policy{
		MaxRetries:     3,
		BaseDelay:      time.Second,
		MaxDelay:       10 * time.Second,
		Factor:         2,
		Jitter:         true,
		RetryableKinds: transientKinds(),
	}
}

// TransformPolicy governs image-transform URL requests, which are cheaper to
// give up on than uploads.
func TransformPolicy() Policy {
	return Policy{
		MaxRetries:     2,
		BaseDelay:      2 * time.Second,
		MaxDelay:       10 * time.Second,
		Factor:         2,
		Jitter:         true,
		RetryableKinds: transientKinds(),
	}
}

// SignedURLPolicy governs signed-URL fetches for the download cache.
func SignedURLPolicy() Policy {
	return Policy{
		MaxRetries:     3,
		BaseDelay:      time.Second,
		MaxDelay:       10 * time.Second,
		Factor:         2,
		Jitter:         true,
		RetryableKinds: transientKinds(),
	}
}

// ShouldRetry reports whether another attempt is allowed after a failure of
// the given kind. attempt is zero-based: attempt 0 is the first retry
// decision, made after the initial try. Rate-limited failures are retried at
// most once regardless of the policy ceiling.
func ShouldRetry(kind errdefs.Kind, attempt int, p Policy) bool {
	if attempt >= p.MaxRetries {
		return false
	}
	if !p.RetryableKinds[kind] {
		return false
	}
	if kind == errdefs.KindRateLimited && attempt >= 1 {
		return false
	}
	return true
}

// DelayFor computes the delay before the retry following the given zero-based
// attempt. The result is always within [0, MaxDelay], jitter included.
func DelayFor(attempt int, p Policy) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(p.Factor, float64(attempt))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter {
		delay += delay * jitterFraction * (2*rand.Float64() - 1)
	}
	if delay < 0 {
		delay = 0
	}
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay)
}

// Retry runs op until it succeeds, the policy is exhausted, or the error is
// not retryable for this call site. The last error is returned as-is, never
// swallowed. A server retry-after hint on rate-limited errors overrides the
// computed delay.
func Retry(ctx context.Context, logger log.Logger, p Policy, op func() error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}

		kind := errdefs.KindOf(lastErr)
		if !ShouldRetry(kind, attempt, p) {
			return lastErr
		}

		delay := DelayFor(attempt, p)
		if hint, ok := retryAfterHint(lastErr); ok {
			delay = hint
		}
		logger.Warnf("Attempt %d failed (%s), retrying in %s: %s", attempt+1, kind, delay.Round(time.Millisecond), lastErr)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func retryAfterHint(err error) (time.Duration, bool) {
	if errdefs.KindOf(err) != errdefs.KindRateLimited {
		return 0, false
	}
	var structured *errdefs.Error
	if !errors.As(err, &structured) || structured.Details == nil {
		return 0, false
	}
	seconds, convErr := strconv.Atoi(structured.Details[errdefs.RetryAfterDetail])
	if convErr != nil || seconds < 0 {
		return 0, false
	}
	return time.Duration(seconds) * time.Second, true
}
