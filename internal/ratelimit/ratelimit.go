// Package ratelimit implements the Rate Limiter (C4): multi-window sliding
// window accounting (minute/hour/day) plus a burst pool, per tenant and per
// outbound provider.
//
// Grounded on original_source/src/cache/rate_limiter.py (tier table, window
// set, burst allowance, fail-open-on-store-failure behavior, retry-after
// calculation), re-expressed over internal/store's Postgres-backed counters
// instead of the original's direct database calls.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/Onegaishimas/bin2nlp/internal/obslog"
	"github.com/Onegaishimas/bin2nlp/internal/obsmetrics"
	"github.com/Onegaishimas/bin2nlp/internal/store"
	"github.com/Onegaishimas/bin2nlp/internal/types"
)

// Counters is the subset of the metadata store the limiter depends on.
type Counters interface {
	FetchRateCounter(ctx context.Context, identifier string, window types.RateLimitWindow) (int64, error)
	UpsertRateCounter(ctx context.Context, identifier string, window types.RateLimitWindow, delta int64) error
	OldestCounterAge(ctx context.Context, identifier string, window types.RateLimitWindow) (time.Duration, error)
	ResetRateCounters(ctx context.Context, identifier string) error
	CleanupExpiredRateCounters(ctx context.Context) (int64, error)
}

var _ Counters = (*store.Store)(nil)

// Limiter admits or rejects requests of integer cost for an identifier
// under a configured tier.
type Limiter struct {
	counters Counters
	tiers    map[types.RateTier]types.TierLimits
}

// Decision is the outcome of a Check call.
type Decision struct {
	Allowed    bool
	Used       int64
	Limit      int64
	Remaining  int64
	RetryAfter time.Duration
	FailedOpen bool
}

// windows enforced in parallel, per §4.4.
var windows = []types.RateLimitWindow{types.WindowMinute, types.WindowHour, types.WindowDay}

// New constructs a Limiter. tierTable must not be nil; pass
// types.DefaultTierTable to use the default values, or an
// operator-configured override (tiers and values are configuration, never
// hard-coded elsewhere).
func New(counters Counters, tierTable map[types.RateTier]types.TierLimits) *Limiter {
	return &Limiter{counters: counters, tiers: tierTable}
}

// Check implements the admission algorithm of §4.4: each of the
// minute/hour/day windows is checked; a minute-window near-miss may still be
// admitted from the burst pool; any hour/day excess is a hard reject.
func (l *Limiter) Check(ctx context.Context, identifier string, tier types.RateTier, cost int64) (Decision, error) {
	limits, ok := l.tiers[tier]
	if !ok {
		return Decision{}, fmt.Errorf("ratelimit: unknown tier %q", tier)
	}

	usage := make(map[types.RateLimitWindow]int64, len(windows))
	for _, w := range windows {
		used, err := l.counters.FetchRateCounter(ctx, identifier, w)
		if err != nil {
			// Fail open: admit and log, a deliberate availability-over-strict
			// -accuracy trade-off per §4.4.
			obsmetrics.RateLimitFailOpenTotal.Inc()
			logFailOpen(identifier, tier, err)
			return Decision{Allowed: true, FailedOpen: true}, nil
		}
		usage[w] = used
	}

	hourExceeded := usage[types.WindowHour]+cost > limits.PerHour
	dayExceeded := usage[types.WindowDay]+cost > limits.PerDay
	if hourExceeded || dayExceeded {
		window := types.WindowHour
		limit := limits.PerHour
		if dayExceeded {
			window = types.WindowDay
			limit = limits.PerDay
		}
		retryAfter, err := l.retryAfter(ctx, identifier, window)
		if err != nil {
			obsmetrics.RateLimitFailOpenTotal.Inc()
			return Decision{Allowed: true, FailedOpen: true}, nil
		}
		obsmetrics.RateLimitDecisions.WithLabelValues(string(tier), "reject").Inc()
		return Decision{Allowed: false, Used: usage[window], Limit: limit, RetryAfter: retryAfter}, nil
	}

	minuteExceeded := usage[types.WindowMinute]+cost > limits.PerMinute
	if !minuteExceeded {
		if err := l.admit(ctx, identifier, cost); err != nil {
			return Decision{}, err
		}
		obsmetrics.RateLimitDecisions.WithLabelValues(string(tier), "admit").Inc()
		return Decision{Allowed: true, Used: usage[types.WindowMinute] + cost, Limit: limits.PerMinute, Remaining: limits.PerMinute - usage[types.WindowMinute] - cost}, nil
	}

	// Minute window would be exceeded: fall back to the burst pool.
	burstUsed, err := l.counters.FetchRateCounter(ctx, identifier, types.WindowBurst)
	if err != nil {
		obsmetrics.RateLimitFailOpenTotal.Inc()
		logFailOpen(identifier, tier, err)
		return Decision{Allowed: true, FailedOpen: true}, nil
	}
	if burstUsed+cost <= limits.BurstCapacity {
		if err := l.admit(ctx, identifier, cost); err != nil {
			return Decision{}, err
		}
		if err := l.counters.UpsertRateCounter(ctx, identifier, types.WindowBurst, cost); err != nil {
			return Decision{}, err
		}
		obsmetrics.RateLimitDecisions.WithLabelValues(string(tier), "admit_burst").Inc()
		return Decision{Allowed: true, Used: usage[types.WindowMinute] + cost, Limit: limits.PerMinute, Remaining: limits.BurstCapacity - burstUsed - cost}, nil
	}

	retryAfter, err := l.retryAfter(ctx, identifier, types.WindowMinute)
	if err != nil {
		obsmetrics.RateLimitFailOpenTotal.Inc()
		return Decision{Allowed: true, FailedOpen: true}, nil
	}
	obsmetrics.RateLimitDecisions.WithLabelValues(string(tier), "reject").Inc()
	return Decision{Allowed: false, Used: usage[types.WindowMinute], Limit: limits.PerMinute, RetryAfter: retryAfter}, nil
}

func (l *Limiter) admit(ctx context.Context, identifier string, cost int64) error {
	for _, w := range windows {
		if err := l.counters.UpsertRateCounter(ctx, identifier, w, cost); err != nil {
			return err
		}
	}
	return nil
}

// retryAfter computes time until the oldest counter in the failing window
// ages out, floored at 1 second per §4.4.
func (l *Limiter) retryAfter(ctx context.Context, identifier string, window types.RateLimitWindow) (time.Duration, error) {
	age, err := l.counters.OldestCounterAge(ctx, identifier, window)
	if err != nil {
		return 0, err
	}
	size := types.WindowDuration[window]
	remaining := size - age
	if remaining < time.Second {
		remaining = time.Second
	}
	return remaining, nil
}

func logFailOpen(identifier string, tier types.RateTier, err error) {
	obslog.WithComponent("ratelimit").Warn().
		Err(err).
		Str("identifier", identifier).
		Str("tier", string(tier)).
		Msg("rate limit store unavailable, failing open")
}

// Reset clears all counters for identifier.
func (l *Limiter) Reset(ctx context.Context, identifier string) error {
	return l.counters.ResetRateCounters(ctx, identifier)
}

// CleanupExpired purges counter rows older than 24h.
func (l *Limiter) CleanupExpired(ctx context.Context) (int64, error) {
	return l.counters.CleanupExpiredRateCounters(ctx)
}

// WindowStatus describes one window's admission state for Status.
type WindowStatus struct {
	Limit     int64
	Used      int64
	Remaining int64
	ResetAt   time.Time
}

// Status reports {window -> (limit, used, remaining, reset_at)} for an
// identifier/tier, per §4.4's supporting operation.
func (l *Limiter) Status(ctx context.Context, identifier string, tier types.RateTier) (map[types.RateLimitWindow]WindowStatus, error) {
	limits, ok := l.tiers[tier]
	if !ok {
		return nil, fmt.Errorf("ratelimit: unknown tier %q", tier)
	}
	out := make(map[types.RateLimitWindow]WindowStatus, len(windows))
	limitOf := map[types.RateLimitWindow]int64{
		types.WindowMinute: limits.PerMinute,
		types.WindowHour:   limits.PerHour,
		types.WindowDay:     limits.PerDay,
	}
	for _, w := range windows {
		used, err := l.counters.FetchRateCounter(ctx, identifier, w)
		if err != nil {
			return nil, err
		}
		age, err := l.counters.OldestCounterAge(ctx, identifier, w)
		if err != nil {
			return nil, err
		}
		size := types.WindowDuration[w]
		remaining := limitOf[w] - used
		if remaining < 0 {
			remaining = 0
		}
		out[w] = WindowStatus{
			Limit:     limitOf[w],
			Used:      used,
			Remaining: remaining,
			ResetAt:   time.Now().UTC().Add(size - age),
		}
	}
	return out, nil
}
