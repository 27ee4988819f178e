package feed

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// RateLimiter paces outbound feed requests with a local token bucket and
// honours Retry-After from 429/503 responses. It is safe for concurrent use.
type RateLimiter struct {
	mu sync.Mutex

	// local is the token-bucket limiter used for outbound request pacing.
	local *rate.Limiter

	// backoffUntil is the time until which requests wait because the feed
	// asked us to back off.
	backoffUntil time.Time

	logger *logrus.Entry
}

// NewRateLimiter creates a RateLimiter with the given requests-per-second and burst.
// A zero or negative rps disables local rate limiting (unlimited).
func NewRateLimiter(rps int, burst int, logger *logrus.Entry) *RateLimiter {
	var limiter *rate.Limiter
	if rps <= 0 {
		limiter = rate.NewLimiter(rate.Inf, 0)
	} else {
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return &RateLimiter{
		local:  limiter,
		logger: logger,
	}
}

// Wait blocks until one more request is allowed, honouring any Retry-After
// backoff first. It returns ctx.Err() if the context ends while waiting.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	rl.mu.Lock()
	backoff := rl.backoffUntil
	rl.mu.Unlock()

	if !backoff.IsZero() && time.Now().Before(backoff) {
		delay := time.Until(backoff)
		rl.logger.WithField("delay", delay.Round(time.Millisecond)).
			Debug("rate limiter: waiting for Retry-After backoff")
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return rl.local.Wait(ctx)
}

// UpdateFromHeaders records a Retry-After delay given in seconds.
func (rl *RateLimiter) UpdateFromHeaders(headers http.Header) {
	ra := headers.Get("Retry-After")
	if ra == "" {
		return
	}
	sec, err := strconv.Atoi(ra)
	if err != nil || sec <= 0 {
		return
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	until := time.Now().Add(time.Duration(sec) * time.Second)
	if until.After(rl.backoffUntil) {
		rl.backoffUntil = until
		rl.logger.WithField("retry_after_sec", sec).
			Warn("rate limiter: feed asked to back off")
	}
}

// BackoffUntil returns the end of the current Retry-After backoff, or the
// zero time when none was requested.
func (rl *RateLimiter) BackoffUntil() time.Time {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.backoffUntil
}
