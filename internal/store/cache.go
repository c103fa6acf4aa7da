package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Onegaishimas/bin2nlp/internal/types"
)

// InsertCacheIndex inserts a CacheEntry row and its tag index entries inside
// a single transaction, per §4.5.
func (s *Store) InsertCacheIndex(ctx context.Context, entry *types.CacheEntry) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO cache_entries (
				cache_key, file_fingerprint, config_fingerprint, blob_ref,
				schema_version, created_at, expires_at, access_count
			) VALUES ($1,$2,$3,$4,$5,$6,$7,0)
			ON CONFLICT (cache_key) DO UPDATE SET
				blob_ref = EXCLUDED.blob_ref,
				schema_version = EXCLUDED.schema_version,
				created_at = EXCLUDED.created_at,
				expires_at = EXCLUDED.expires_at
		`, entry.CacheKey, entry.FileFingerprint, entry.ConfigFingerprint, entry.BlobRef,
			entry.SchemaVersion, entry.CreatedAt, entry.ExpiresAt)
		if err != nil {
			return storageErr("insert cache entry", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM cache_tags WHERE cache_key = $1`, entry.CacheKey); err != nil {
			return storageErr("clear cache tags", err)
		}
		for _, tag := range entry.Tags {
			if _, err := tx.Exec(ctx, `INSERT INTO cache_tags (cache_key, tag) VALUES ($1,$2)`, entry.CacheKey, tag); err != nil {
				return storageErr("insert cache tag", err)
			}
		}
		return nil
	})
}

// LookupCacheIndex fetches a CacheEntry by key, or nil if absent/expired.
// An expired entry is lazily reclaimed and reported as absent.
func (s *Store) LookupCacheIndex(ctx context.Context, key string) (*types.CacheEntry, error) {
	var e types.CacheEntry
	err := s.pool.QueryRow(ctx, `
		SELECT cache_key, file_fingerprint, config_fingerprint, blob_ref,
			schema_version, created_at, expires_at, access_count
		FROM cache_entries WHERE cache_key = $1
	`, key).Scan(&e.CacheKey, &e.FileFingerprint, &e.ConfigFingerprint, &e.BlobRef,
		&e.SchemaVersion, &e.CreatedAt, &e.ExpiresAt, &e.AccessCount)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("lookup cache entry", err)
	}
	if e.IsExpired(time.Now().UTC()) {
		_ = s.DeleteCacheByKey(ctx, key)
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT tag FROM cache_tags WHERE cache_key = $1`, key)
	if err != nil {
		return nil, storageErr("lookup cache tags", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, storageErr("scan cache tag", err)
		}
		e.Tags = append(e.Tags, tag)
	}
	return &e, nil
}

// TouchCacheAccess increments the access counter in place. Failures are
// logged but never fatal, per §4.5.
func (s *Store) TouchCacheAccess(ctx context.Context, key string) {
	if _, err := s.pool.Exec(ctx, `UPDATE cache_entries SET access_count = access_count + 1 WHERE cache_key = $1`, key); err != nil {
		storeLog.Warn().Err(err).Str("cache_key", key).Msg("cache access counter update failed")
	}
}

// DeleteCacheByKey removes a single entry and its tags.
func (s *Store) DeleteCacheByKey(ctx context.Context, key string) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM cache_tags WHERE cache_key = $1`, key); err != nil {
			return storageErr("delete cache tags", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM cache_entries WHERE cache_key = $1`, key); err != nil {
			return storageErr("delete cache entry", err)
		}
		return nil
	})
}

// DeleteCacheByFile removes every entry derived from fileFingerprint.
func (s *Store) DeleteCacheByFile(ctx context.Context, fileFingerprint string) (int64, error) {
	var count int64
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT cache_key FROM cache_entries WHERE file_fingerprint = $1`, fileFingerprint)
		if err != nil {
			return storageErr("select cache by file", err)
		}
		var keys []string
		for rows.Next() {
			var k string
			if err := rows.Scan(&k); err != nil {
				rows.Close()
				return storageErr("scan cache key", err)
			}
			keys = append(keys, k)
		}
		rows.Close()
		for _, k := range keys {
			if _, err := tx.Exec(ctx, `DELETE FROM cache_tags WHERE cache_key = $1`, k); err != nil {
				return storageErr("delete cache tags by file", err)
			}
			if _, err := tx.Exec(ctx, `DELETE FROM cache_entries WHERE cache_key = $1`, k); err != nil {
				return storageErr("delete cache entry by file", err)
			}
		}
		count = int64(len(keys))
		return nil
	})
	return count, err
}

// DeleteCacheByTag removes exactly the entries tagged tag.
func (s *Store) DeleteCacheByTag(ctx context.Context, tag string) (int64, error) {
	var count int64
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT cache_key FROM cache_tags WHERE tag = $1`, tag)
		if err != nil {
			return storageErr("select cache by tag", err)
		}
		var keys []string
		for rows.Next() {
			var k string
			if err := rows.Scan(&k); err != nil {
				rows.Close()
				return storageErr("scan cache key", err)
			}
			keys = append(keys, k)
		}
		rows.Close()
		for _, k := range keys {
			if _, err := tx.Exec(ctx, `DELETE FROM cache_tags WHERE cache_key = $1`, k); err != nil {
				return storageErr("delete cache tags by tag", err)
			}
			if _, err := tx.Exec(ctx, `DELETE FROM cache_entries WHERE cache_key = $1`, k); err != nil {
				return storageErr("delete cache entry by tag", err)
			}
		}
		count = int64(len(keys))
		return nil
	})
	return count, err
}
