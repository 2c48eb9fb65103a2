package collaborator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITER - outbound token bucket shared by all collaborator endpoints
// ══════════════════════════════════════════════════════════════════════════════

// RateLimiter keeps the orchestrator under the collaborators' request quota.
// It wraps a token bucket and additionally honours Retry-After pauses
// reported by a collaborator.
type RateLimiter struct {
	limiter     *rate.Limiter
	waitTimeout time.Duration
	now         func() time.Time

	mu          sync.Mutex
	pausedUntil time.Time
	hits        int
}

// RateLimiterConfig contains configuration for the rate limiter.
type RateLimiterConfig struct {
	// RequestsPerSecond is the sustained request rate. Zero disables limiting.
	RequestsPerSecond float64

	// BurstSize is the maximum number of requests that can be made in a burst
	BurstSize int

	// WaitTimeout is the maximum time to wait for a token
	WaitTimeout time.Duration

	// DefaultRetryAfter is used when a 429 carries no Retry-After header
	DefaultRetryAfter time.Duration
}

// DefaultRateLimiterConfig returns defaults suitable for the content services.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 20,
		BurstSize:         5,
		WaitTimeout:       10 * time.Second,
		DefaultRetryAfter: 30 * time.Second,
	}
}

// NewRateLimiter creates a new RateLimiter with the given configuration.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	limit := rate.Limit(config.RequestsPerSecond)
	if config.RequestsPerSecond <= 0 {
		limit = rate.Inf
	}
	burst := config.BurstSize
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiter:     rate.NewLimiter(limit, burst),
		waitTimeout: config.WaitTimeout,
		now:         time.Now,
	}
}

// RateLimitError is returned when a request cannot be sent within the quota.
type RateLimitError struct {
	// RetryAfter is the suggested time to wait before retrying
	RetryAfter time.Duration

	Message string
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return e.Message
}

// Is implements errors.Is interface.
func (e *RateLimitError) Is(target error) bool {
	_, ok := target.(*RateLimitError)
	return ok
}

// ErrRateLimitExceeded matches any *RateLimitError via errors.Is.
var ErrRateLimitExceeded = &RateLimitError{Message: "rate limit exceeded"}

// Allow blocks until a token is available, the wait timeout passes or ctx is
// done. During a Retry-After pause it fails immediately.
func (rl *RateLimiter) Allow(ctx context.Context) error {
	if wait := rl.pauseRemaining(); wait > 0 {
		return &RateLimitError{
			RetryAfter: wait,
			Message:    "collaborator asked to back off, retry after " + wait.Round(time.Second).String(),
		}
	}

	waitCtx := ctx
	if rl.waitTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, rl.waitTimeout)
		defer cancel()
	}

	if err := rl.limiter.Wait(waitCtx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &RateLimitError{
			RetryAfter: rl.waitTimeout,
			Message:    fmt.Sprintf("timeout waiting for rate limit: %v", err),
		}
	}
	return nil
}

// TryAllow attempts to get permission for a request without blocking.
func (rl *RateLimiter) TryAllow() bool {
	if rl.pauseRemaining() > 0 {
		return false
	}
	return rl.limiter.Allow()
}

// RecordRateLimitHit pauses outbound requests for retryAfter.
func (rl *RateLimiter) RecordRateLimitHit(retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	until := rl.now().Add(retryAfter)
	if until.After(rl.pausedUntil) {
		rl.pausedUntil = until
	}
	rl.hits++
}

// Reset clears any pause.
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.pausedUntil = time.Time{}
	rl.hits = 0
}

func (rl *RateLimiter) pauseRemaining() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.pausedUntil.IsZero() {
		return 0
	}
	return rl.pausedUntil.Sub(rl.now())
}

// RateLimiterStatus is a snapshot for health reporting.
type RateLimiterStatus struct {
	Limit       float64
	Burst       int
	PausedUntil time.Time
	Hits        int
}

// Status returns the current status of the rate limiter.
func (rl *RateLimiter) Status() RateLimiterStatus {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return RateLimiterStatus{
		Limit:       float64(rl.limiter.Limit()),
		Burst:       rl.limiter.Burst(),
		PausedUntil: rl.pausedUntil,
		Hits:        rl.hits,
	}
}

func isRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimitExceeded)
}
