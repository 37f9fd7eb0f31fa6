package auth

import (
	"context"
	"log/slog"
	"net/netip"
	"time"

	"github.com/XL4Y3R/XL4Net-sub000/internal/constants"
)

// RateLimiter throttles logins per source address based on recent failed
// attempts. It is deliberately fail-open: if the attempt store is
// unreachable the login proceeds, because locking every player out during
// a database incident is worse than briefly losing throttling.
type RateLimiter struct {
	attempts  AttemptRepository
	window    time.Duration
	threshold int
}

// NewRateLimiter builds a limiter over the attempt store. Non-positive
// window or threshold fall back to the defaults.
func NewRateLimiter(attempts AttemptRepository, window time.Duration, threshold int) *RateLimiter {
	if window <= 0 {
		window = constants.RateLimitWindow
	}
	if threshold <= 0 {
		threshold = constants.RateLimitThreshold
	}
	return &RateLimiter{attempts: attempts, window: window, threshold: threshold}
}

// Allow reports whether a login from source may proceed. When denied it
// returns how long until the oldest in-window failure ages out.
func (l *RateLimiter) Allow(ctx context.Context, source netip.Addr) (bool, time.Duration) {
	now := time.Now()
	since := now.Add(-l.window)

	failures, err := l.attempts.CountFailuresSince(ctx, source, since)
	if err != nil {
		slog.Error("counting login failures, allowing request", "source", source, "error", err)
		return true, 0
	}
	if failures < l.threshold {
		return true, 0
	}

	oldest, err := l.attempts.OldestFailureSince(ctx, source, since)
	if err != nil {
		slog.Error("finding oldest login failure, allowing request", "source", source, "error", err)
		return true, 0
	}
	retryAfter := oldest.Add(l.window).Sub(now)
	if retryAfter < 0 {
		retryAfter = 0
	}
	slog.Warn("login rate limited",
		"source", source,
		"failures", failures,
		"retry_after", retryAfter.Round(time.Second))
	return false, retryAfter
}
