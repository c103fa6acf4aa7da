// Package resultcache implements the Result Cache (C5): fingerprint-keyed
// lookup of prior translation results with TTL policies driven by analysis
// depth, and tag/file-scoped invalidation.
//
// Grounded on original_source/src/cache/result_cache.py: cache key pattern
// "result:{file_hash}:{config_hash}", the depth-based TTL multiplier table,
// and tag-based invalidation, re-expressed over internal/store (index rows)
// and internal/blobstore (result document bytes) instead of the original's
// single file-storage backend.
package resultcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Onegaishimas/bin2nlp/internal/bin2nlperr"
	"github.com/Onegaishimas/bin2nlp/internal/obsmetrics"
	"github.com/Onegaishimas/bin2nlp/internal/types"
)

// SchemaVersion tags cache entries for forward-compatible invalidation: a
// mismatch on read invalidates the entry, per §4.5.
const SchemaVersion = "1.0"

// maxComposedKeyLength bounds the literal cache key before falling back to
// a hashed form, per §4.5.
const maxComposedKeyLength = 200

// DefaultBaseTTL is the base TTL at `standard` depth (24h default per §4.5).
const DefaultBaseTTL = 24 * time.Hour

var depthMultiplier = map[types.AnalysisDepth]float64{
	types.DepthBasic:         0.5,
	types.DepthStandard:      1.0,
	types.DepthComprehensive: 2.0,
	types.DepthDeep:          3.0,
}

// Index is the subset of the metadata store the cache depends on for its
// key index (not the payload bytes, which live in blobstore).
type Index interface {
	InsertCacheIndex(ctx context.Context, entry *types.CacheEntry) error
	LookupCacheIndex(ctx context.Context, key string) (*types.CacheEntry, error)
	TouchCacheAccess(ctx context.Context, key string)
	DeleteCacheByKey(ctx context.Context, key string) error
	DeleteCacheByFile(ctx context.Context, fileFingerprint string) (int64, error)
	DeleteCacheByTag(ctx context.Context, tag string) (int64, error)
}

// Blobs is the subset of the blob store the cache depends on for payload
// bytes.
type Blobs interface {
	Put(key string, data []byte, ttl time.Duration) error
	Get(key string) ([]byte, bool, error)
	Delete(key string) error
}

// Stats holds best-effort counters, per §4.5 ("incremented best-effort").
type Stats struct {
	Hits         int64
	Misses       int64
	Sets         int64
	Deletes      int64
	Errors       int64
}

// Cache is the fingerprint-keyed result cache.
type Cache struct {
	index   Index
	blobs   Blobs
	baseTTL time.Duration
	group   singleflight.Group

	hits, misses, sets, deletes, errs atomic.Int64
}

// New constructs a Cache. baseTTL of zero uses DefaultBaseTTL.
func New(index Index, blobs Blobs, baseTTL time.Duration) *Cache {
	if baseTTL <= 0 {
		baseTTL = DefaultBaseTTL
	}
	return &Cache{index: index, blobs: blobs, baseTTL: baseTTL}
}

// Key derives the cache key for (fileFingerprint, config) per §4.5:
// fingerprint_config = hash(sorted recognized keys); cache_key =
// "result:" + truncate(file_fingerprint,16) + ":" + fingerprint_config;
// oversized composed keys are replaced with a hashed form.
func Key(fileFingerprint string, config types.JobConfig) string {
	configFingerprint := ConfigFingerprint(config)
	truncated := fileFingerprint
	if len(truncated) > 16 {
		truncated = truncated[:16]
	}
	composed := "result:" + truncated + ":" + configFingerprint
	if len(composed) > maxComposedKeyLength {
		return "result:hash:" + hashString(composed)
	}
	return composed
}

// ConfigFingerprint hashes the sorted, normalized recognized keys of a
// JobConfig; unrecognized keys never reach this point (internal/types'
// RecognizedKeys is the closure boundary).
func ConfigFingerprint(config types.JobConfig) string {
	recognized := config.RecognizedKeys()
	keys := make([]string, 0, len(recognized))
	for k := range recognized {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(recognized[k])
		sb.WriteByte(';')
	}
	return hashString(sb.String())
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// TTLFor returns the TTL for depth, applying the multiplier table to the
// cache's configured base TTL.
func (c *Cache) TTLFor(depth types.AnalysisDepth) time.Duration {
	mult, ok := depthMultiplier[depth]
	if !ok {
		mult = 1.0
	}
	return time.Duration(float64(c.baseTTL) * mult)
}

// Lookup returns the cached result document bytes for (fileFingerprint,
// config), or (nil, false) on miss. A schema-version mismatch invalidates
// the entry and is treated as a miss.
func (c *Cache) Lookup(ctx context.Context, fileFingerprint string, config types.JobConfig) ([]byte, bool, error) {
	key := Key(fileFingerprint, config)
	entry, err := c.index.LookupCacheIndex(ctx, key)
	if err != nil {
		c.errs.Add(1)
		return nil, false, err
	}
	if entry == nil {
		c.misses.Add(1)
		obsmetrics.CacheMissesTotal.Inc()
		return nil, false, nil
	}
	if entry.SchemaVersion != SchemaVersion {
		_ = c.index.DeleteCacheByKey(ctx, key)
		c.misses.Add(1)
		obsmetrics.CacheMissesTotal.Inc()
		return nil, false, nil
	}

	data, ok, err := c.blobs.Get(entry.BlobRef)
	if err != nil {
		c.errs.Add(1)
		return nil, false, err
	}
	if !ok {
		// Index/blob drift: the entry's payload already expired from the
		// blob store's own TTL sweep. Treat as a miss and drop the index row.
		_ = c.index.DeleteCacheByKey(ctx, key)
		c.misses.Add(1)
		obsmetrics.CacheMissesTotal.Inc()
		return nil, false, nil
	}

	c.index.TouchCacheAccess(ctx, key)
	c.hits.Add(1)
	obsmetrics.CacheHitsTotal.Inc()
	return data, true, nil
}

// Set writes result bytes for (fileFingerprint, config) tagged with
// depth/provider/extract tags, per §4.5.
func (c *Cache) Set(ctx context.Context, fileFingerprint string, config types.JobConfig, data []byte, extractedArtifacts []string) error {
	key := Key(fileFingerprint, config)
	ttl := c.TTLFor(config.AnalysisDepth)
	now := time.Now().UTC()

	if err := c.blobs.Put(key, data, ttl); err != nil {
		c.errs.Add(1)
		return bin2nlperr.Wrap(bin2nlperr.Storage, "resultcache", "write result blob", err)
	}

	tags := []string{fmt.Sprintf("depth:%s", config.AnalysisDepth)}
	if config.ProviderID != "" {
		tags = append(tags, fmt.Sprintf("provider:%s", config.ProviderID))
	}
	for _, artifact := range extractedArtifacts {
		tags = append(tags, fmt.Sprintf("extract:%s", artifact))
	}

	entry := &types.CacheEntry{
		CacheKey:          key,
		FileFingerprint:   fileFingerprint,
		ConfigFingerprint: ConfigFingerprint(config),
		BlobRef:           key,
		SchemaVersion:     SchemaVersion,
		Tags:              tags,
		CreatedAt:         now,
		ExpiresAt:         now.Add(ttl),
	}
	if err := c.index.InsertCacheIndex(ctx, entry); err != nil {
		c.errs.Add(1)
		return err
	}
	c.sets.Add(1)
	obsmetrics.CacheSetsTotal.Inc()
	return nil
}

// SingleflightLookupOrCompute coalesces concurrent cache misses for the
// same key into a single compute call, preventing a cache-stampede on a hot
// fingerprint. compute returns the result bytes and the artifact kinds
// extracted, used to derive tags on the subsequent Set.
func (c *Cache) SingleflightLookupOrCompute(ctx context.Context, fileFingerprint string, config types.JobConfig, compute func() ([]byte, []string, error)) ([]byte, bool, error) {
	if data, ok, err := c.Lookup(ctx, fileFingerprint, config); err != nil || ok {
		return data, ok, err
	}
	key := Key(fileFingerprint, config)
	v, err, _ := c.group.Do(key, func() (any, error) {
		if data, ok, lookupErr := c.Lookup(ctx, fileFingerprint, config); lookupErr == nil && ok {
			return data, nil
		}
		data, artifacts, computeErr := compute()
		if computeErr != nil {
			return nil, computeErr
		}
		if setErr := c.Set(ctx, fileFingerprint, config, data, artifacts); setErr != nil {
			return nil, setErr
		}
		return data, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.([]byte), true, nil
}

// InvalidateByKey removes a single entry by its cache key.
func (c *Cache) InvalidateByKey(ctx context.Context, key string) error {
	if err := c.index.DeleteCacheByKey(ctx, key); err != nil {
		c.errs.Add(1)
		return err
	}
	_ = c.blobs.Delete(key)
	c.deletes.Add(1)
	obsmetrics.CacheInvalidationsTotal.WithLabelValues("key").Inc()
	return nil
}

// InvalidateByFile removes every entry derived from fileFingerprint.
func (c *Cache) InvalidateByFile(ctx context.Context, fileFingerprint string) (int64, error) {
	n, err := c.index.DeleteCacheByFile(ctx, fileFingerprint)
	if err != nil {
		c.errs.Add(1)
		return 0, err
	}
	c.deletes.Add(n)
	obsmetrics.CacheInvalidationsTotal.WithLabelValues("file").Add(float64(n))
	return n, nil
}

// InvalidateByTag removes exactly the entries tagged tag.
func (c *Cache) InvalidateByTag(ctx context.Context, tag string) (int64, error) {
	n, err := c.index.DeleteCacheByTag(ctx, tag)
	if err != nil {
		c.errs.Add(1)
		return 0, err
	}
	c.deletes.Add(n)
	obsmetrics.CacheInvalidationsTotal.WithLabelValues("tag").Add(float64(n))
	return n, nil
}

// StatsSnapshot returns the cache's best-effort counters.
func (c *Cache) StatsSnapshot() Stats {
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Sets:    c.sets.Load(),
		Deletes: c.deletes.Load(),
		Errors:  c.errs.Load(),
	}
}
