// Package ratelimit tracks the GitHub API request budget and gates outgoing
// requests. It monitors the X-RateLimit-Remaining and X-RateLimit-Reset
// headers and suspends callers before the budget is exhausted.
package ratelimit

import (
	"time"
)

// DefaultThreshold is the remaining-request floor below which requests wait
// for the window reset.
const DefaultThreshold = 10

// defaultRemaining is assumed until the first response reports real numbers.
// GitHub grants 5000 requests per hour to authenticated clients.
const defaultRemaining = 5000

// State is the rate limit bookkeeping derived from response metadata.
// Updates are last-writer-wins; the state is an advisory throttling hint,
// not a correctness-critical ledger.
type State struct {
	// Remaining is the number of requests left in the current window.
	// Never negative: observed values are clamped at update time.
	Remaining int

	// ResetAt is when the window resets. A ResetAt in the past means the
	// limit has already reset.
	ResetAt time.Time

	// LastUpdate is when this state was last refreshed from headers.
	LastUpdate time.Time
}

// ShouldWait reports whether a request should be suspended until ResetAt:
// the budget is below threshold and the reset is still in the future.
func (s State) ShouldWait(threshold int) bool {
	return s.Remaining < threshold && time.Now().Before(s.ResetAt)
}

// TimeUntilReset returns the duration until the window resets, or 0 if the
// reset time has already passed.
func (s State) TimeUntilReset() time.Duration {
	d := time.Until(s.ResetAt)
	if d < 0 {
		return 0
	}
	return d
}

// IsStale returns true if the state is older than maxAge and should be
// refreshed from headers or the shared mirror.
func (s State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}
