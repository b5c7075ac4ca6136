package openai

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	llm "github.com/agentforge/runtime/internal/infrastructure/llm"
)

// httpStatusError carries the status and headers of a non-2xx response so
// the retrier can classify it and honor Retry-After.
type httpStatusError struct {
	status  int
	body    string
	headers http.Header
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("provider returned %d: %s", e.status, e.body)
}

// retrier implements spec §4.4's retry policy: a declared list of
// retryable HTTP status codes, Retry-After honoring, else jittered
// exponential backoff, with cancellation taking precedence over any sleep.
// Grounded on the deleted internal/domain/service/llm_caller.go's
// callLLMWithRetry backoff shape, reimplemented around explicit status
// codes instead of string-matched error classification, and wrapped around
// a CircuitBreaker (internal/infrastructure/llm/circuit_breaker.go).
type retrier struct {
	maxAttempts  int
	baseBackoff  time.Duration
	maxBackoff   time.Duration
	jitterRatio  float64
	retryableSet map[int]bool
	breaker      *llm.CircuitBreaker
}

func newRetrier(cfg llm.ProviderConfig) *retrier {
	max := cfg.RetryMax
	if max <= 0 {
		max = 3
	}
	base := time.Duration(cfg.RetryBackoffMS) * time.Millisecond
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	maxBackoff := time.Duration(cfg.RetryMaxBackoffMS) * time.Millisecond
	if maxBackoff <= 0 {
		maxBackoff = 8 * time.Second
	}
	jitter := cfg.RetryJitterRatio
	if jitter <= 0 {
		jitter = 0.2
	}
	codes := cfg.RetryStatusCodes
	if len(codes) == 0 {
		codes = []int{429, 500, 502, 503, 504}
	}
	set := make(map[int]bool, len(codes))
	for _, c := range codes {
		set[c] = true
	}

	recovery := time.Duration(cfg.CircuitBreakerRecovery) * time.Second
	return &retrier{
		maxAttempts:  max,
		baseBackoff:  base,
		maxBackoff:   maxBackoff,
		jitterRatio:  jitter,
		retryableSet: set,
		breaker:      llm.NewCircuitBreaker(cfg.CircuitBreakerThreshold, recovery),
	}
}

// do runs attempt until it succeeds, exhausts retries, or ctx is canceled.
// attempt returns the HTTP status observed (0 if the request never reached
// the server) and an error; a nil error means success.
func (r *retrier) do(ctx context.Context, logger *zap.Logger, attempt func() (status int, err error)) error {
	if !r.breaker.Allow() {
		return fmt.Errorf("circuit breaker open: provider unavailable")
	}

	var lastErr error
	for i := 0; i <= r.maxAttempts; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		status, err := attempt()
		if err == nil {
			r.breaker.RecordSuccess()
			return nil
		}
		lastErr = err

		statusErr, isHTTP := err.(*httpStatusError)
		retryable := isHTTP && r.retryableSet[statusErr.status]
		if !isHTTP {
			// network-level error: treat as retryable unless context canceled.
			retryable = ctx.Err() == nil
		}
		if !retryable || i == r.maxAttempts {
			r.breaker.RecordFailure()
			return err
		}

		wait := r.nextBackoff(i, statusErr)
		logger.Warn("provider call failed, retrying",
			zap.Int("attempt", i+1), zap.Int("status", status), zap.Duration("wait", wait), zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	r.breaker.RecordFailure()
	return lastErr
}

func (r *retrier) nextBackoff(attempt int, statusErr *httpStatusError) time.Duration {
	if statusErr != nil {
		if retryAfter, ok := parseRetryAfter(statusErr.headers.Get("Retry-After")); ok {
			return retryAfter
		}
	}
	base := float64(r.baseBackoff) * float64(int64(1)<<uint(attempt))
	if base > float64(r.maxBackoff) {
		base = float64(r.maxBackoff)
	}
	jitter := base * r.jitterRatio * (rand.Float64()*2 - 1)
	d := time.Duration(base + jitter)
	if d < 0 {
		d = 0
	}
	return d
}

// parseRetryAfter accepts either a delay in seconds or an HTTP-date.
func parseRetryAfter(header string) (time.Duration, bool) {
	if header == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second, true
	}
	if when, err := http.ParseTime(header); err == nil {
		d := time.Until(when)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}
