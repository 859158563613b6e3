package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for rate limit tracking.
var (
	rateLimitRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gh_rate_limit_remaining",
		Help: "Requests remaining in the current GitHub rate limit window",
	})

	rateLimitWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gh_rate_limit_waits_total",
		Help: "Total number of requests suspended waiting for the rate limit window",
	})

	rateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gh_rate_limit_wait_seconds",
		Help:    "Duration of rate limit waits in seconds",
		Buckets: []float64{0.5, 1, 5, 15, 60, 300, 900, 3600},
	})
)

// Limiter tracks the remaining request budget and suspends callers when the
// budget falls below the threshold. State updates are last-writer-wins.
type Limiter struct {
	mu        sync.Mutex
	state     State
	threshold int
	mirror    *Mirror
	logger    zerolog.Logger
}

// NewLimiter creates a limiter with the given remaining-request threshold.
// A threshold of 0 or less falls back to DefaultThreshold.
func NewLimiter(threshold int, logger zerolog.Logger) *Limiter {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Limiter{
		state:     State{Remaining: defaultRemaining},
		threshold: threshold,
		logger:    logger,
	}
}

// NewDefaultLimiter creates a limiter with default settings and the global
// logger.
func NewDefaultLimiter() *Limiter {
	return NewLimiter(DefaultThreshold, log.With().Str("component", "ratelimit").Logger())
}

// AttachMirror wires an optional shared-state mirror. The mirror is loaded
// once, best effort, so a fresh process inherits the budget observed by its
// siblings.
func (l *Limiter) AttachMirror(ctx context.Context, m *Mirror) {
	l.mu.Lock()
	l.mirror = m
	l.mu.Unlock()

	if state, ok, err := m.Load(ctx); err != nil {
		l.logger.Warn().Err(err).Msg("Failed to load shared rate limit state")
	} else if ok {
		l.mu.Lock()
		l.state = state
		l.mu.Unlock()
		l.logger.Debug().
			Int("remaining", state.Remaining).
			Time("reset_at", state.ResetAt).
			Msg("Loaded shared rate limit state")
	}
}

// State returns a snapshot of the current rate limit state.
func (l *Limiter) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// UpdateFromHeaders overwrites the state from X-RateLimit-Remaining and
// X-RateLimit-Reset. Malformed or missing headers leave the prior state
// unchanged and never raise. Negative remaining values clamp to 0.
func (l *Limiter) UpdateFromHeaders(ctx context.Context, headers http.Header) {
	remainStr := headers.Get("X-RateLimit-Remaining")
	if remainStr == "" {
		return
	}
	remaining, err := strconv.Atoi(remainStr)
	if err != nil {
		return
	}
	if remaining < 0 {
		remaining = 0
	}

	resetAt := time.Time{}
	if resetStr := headers.Get("X-RateLimit-Reset"); resetStr != "" {
		if resetUnix, err := strconv.ParseInt(resetStr, 10, 64); err == nil {
			resetAt = time.Unix(resetUnix, 0)
		}
	}

	l.mu.Lock()
	l.state.Remaining = remaining
	if !resetAt.IsZero() {
		l.state.ResetAt = resetAt
	}
	l.state.LastUpdate = time.Now()
	state := l.state
	mirror := l.mirror
	l.mu.Unlock()

	rateLimitRemaining.Set(float64(remaining))

	l.logger.Debug().
		Int("remaining", remaining).
		Time("reset_at", state.ResetAt).
		Msg("Rate limit state updated")

	if mirror != nil {
		if err := mirror.Publish(ctx, state); err != nil {
			l.logger.Warn().Err(err).Msg("Failed to publish shared rate limit state")
		}
	}
}

// Wait suspends the caller until the rate limit window resets if the budget
// is below the threshold. It returns true if it waited. The wait is
// cancellable through ctx.
func (l *Limiter) Wait(ctx context.Context) (bool, error) {
	state := l.State()
	if !state.ShouldWait(l.threshold) {
		return false, nil
	}

	wait := state.TimeUntilReset()
	l.logger.Warn().
		Int("remaining", state.Remaining).
		Dur("wait", wait).
		Msg("Rate limit budget low - throttling request")

	rateLimitWaitsTotal.Inc()
	rateLimitWaitSeconds.Observe(wait.Seconds())

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-time.After(wait):
		return true, nil
	}
}

// Threshold returns the configured remaining-request floor.
func (l *Limiter) Threshold() int {
	return l.threshold
}
