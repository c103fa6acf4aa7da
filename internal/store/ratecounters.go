package store

import (
	"context"
	"time"

	"github.com/Onegaishimas/bin2nlp/internal/types"
)

// UpsertRateCounter inserts a new accounting row recording delta admitted
// cost for (identifier, window) at the current instant. Rows are append-only
// per admitted request; FetchRateCounter sums the live window.
func (s *Store) UpsertRateCounter(ctx context.Context, identifier string, window types.RateLimitWindow, delta int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rate_limit_counters (identifier, window_label, count, window_start)
		VALUES ($1, $2, $3, $4)
	`, identifier, window, delta, time.Now().UTC())
	return storageErr("upsert rate counter", err)
}

// FetchRateCounter sums admitted cost for (identifier, window) over rows no
// older than the window's duration.
func (s *Store) FetchRateCounter(ctx context.Context, identifier string, window types.RateLimitWindow) (int64, error) {
	size, ok := types.WindowDuration[window]
	if !ok {
		size = time.Minute
	}
	cutoff := time.Now().UTC().Add(-size)
	var used int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(count), 0) FROM rate_limit_counters
		WHERE identifier = $1 AND window_label = $2 AND window_start >= $3
	`, identifier, window, cutoff).Scan(&used)
	if err != nil {
		return 0, storageErr("fetch rate counter", err)
	}
	return used, nil
}

// OldestCounterAge returns how long ago the oldest still-live counter row
// for (identifier, window) started, used to compute retry-after.
func (s *Store) OldestCounterAge(ctx context.Context, identifier string, window types.RateLimitWindow) (time.Duration, error) {
	size := types.WindowDuration[window]
	cutoff := time.Now().UTC().Add(-size)
	var oldest time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT MIN(window_start) FROM rate_limit_counters
		WHERE identifier = $1 AND window_label = $2 AND window_start >= $3
	`, identifier, window, cutoff).Scan(&oldest)
	if err != nil {
		return 0, storageErr("oldest counter age", err)
	}
	if oldest.IsZero() {
		return 0, nil
	}
	return time.Since(oldest), nil
}

// ResetRateCounters clears all counter rows for an identifier.
func (s *Store) ResetRateCounters(ctx context.Context, identifier string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM rate_limit_counters WHERE identifier = $1`, identifier)
	return storageErr("reset rate counters", err)
}

// CleanupExpiredRateCounters purges rows older than 24h, per the entity
// invariant in §3.
func (s *Store) CleanupExpiredRateCounters(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	tag, err := s.pool.Exec(ctx, `DELETE FROM rate_limit_counters WHERE window_start < $1`, cutoff)
	if err != nil {
		return 0, storageErr("cleanup expired rate counters", err)
	}
	return tag.RowsAffected(), nil
}
