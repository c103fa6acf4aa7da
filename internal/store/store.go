// Package store implements the Metadata Store (C1): transactional CRUD over
// jobs, cache index rows, rate-limit counters, worker leases, provider
// credentials, and sessions, backed by PostgreSQL. The atomic dequeue is the
// one operation that must be a single statement; every other multi-row
// write executes inside one transaction, except ReapStaleLeases, which runs
// one FailJob transaction per reclaimed job.
//
// Grounded on pkg/storage/boltdb.go's method-per-entity shape and
// per-operation transaction wrapping, re-expressed over pgx transactions
// instead of BoltDB buckets since C1 is relational-only (SPEC_FULL.md §9).
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Onegaishimas/bin2nlp/internal/bin2nlperr"
	"github.com/Onegaishimas/bin2nlp/internal/obslog"
)

// Store is the pgx-backed metadata store.
type Store struct {
	pool *pgxpool.Pool
}

// New opens a connection pool against dsn and verifies connectivity.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Pool exposes the underlying pool for health checks.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// withTx runs fn inside a single transaction, committing on success and
// rolling back on error or panic. This is the transactional-wrapping
// analogue of BoltStore's db.Update(func(tx) error) shape.
func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return bin2nlperr.Wrap(bin2nlperr.Storage, "store", "begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return bin2nlperr.Wrap(bin2nlperr.Storage, "store", "commit transaction", err)
	}
	return nil
}

// Ping round-trips against the pool, used by the health checker.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

var storeLog = obslog.WithComponent("store")

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return bin2nlperr.Wrap(bin2nlperr.Storage, "store", op, err)
}
