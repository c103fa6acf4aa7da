// Package blobstore implements the Blob Store (C2): a content-addressed
// key/value store over the local filesystem for uploaded binaries, cached
// result documents, and large intermediate payloads.
//
// Layout follows §4.2/§6's byte-level description, written with the same
// tempfile-then-rename atomic-commit discipline used elsewhere in this
// codebase for on-disk state.
package blobstore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Onegaishimas/bin2nlp/internal/bin2nlperr"
	"github.com/Onegaishimas/bin2nlp/internal/obslog"
)

// MaxKeyLength bounds keys rejected before any I/O, per §4.2.
const MaxKeyLength = 1024

// Meta is the JSON sidecar written beside every payload.
type Meta struct {
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Key       string    `json:"key"`
}

// Store is a content-addressed filesystem blob store.
type Store struct {
	basePath string
	locksMu  sync.Mutex
	locks    map[string]*sync.Mutex
}

// New constructs a Store rooted at basePath, creating the directory if
// necessary.
func New(basePath string) (*Store, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: create base path: %w", err)
	}
	return &Store{
		basePath: basePath,
		locks:    make(map[string]*sync.Mutex),
	}, nil
}

func (s *Store) lockFor(hash string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	m, ok := s.locks[hash]
	if !ok {
		m = &sync.Mutex{}
		s.locks[hash] = m
	}
	return m
}

// hashKey derives the SHA-256 hex digest and the two-level shard path for a
// logical key, per the layout in §6: <base>/<hash[0:2]>/<hash[2:4]>/<hash>.json.
func (s *Store) hashKey(key string) (hash string, dir string, payloadPath string, metaPath string, lockPath string) {
	sum := sha256.Sum256([]byte(key))
	hash = hex.EncodeToString(sum[:])
	dir = filepath.Join(s.basePath, hash[0:2], hash[2:4])
	payloadPath = filepath.Join(dir, hash+".json")
	metaPath = filepath.Join(dir, hash+".meta")
	lockPath = filepath.Join(dir, hash+".lock")
	return
}

// Put writes bytes under key with the given TTL (zero TTL means "never
// expires" — represented internally as a far-future expiry). Writes are
// atomic via write-to-tempfile-then-rename, and take the key's advisory
// file lock for the duration of the write.
func (s *Store) Put(key string, data []byte, ttl time.Duration) error {
	if len(key) > MaxKeyLength {
		return bin2nlperr.New(bin2nlperr.Validation, "blobstore", "key exceeds maximum length").
			WithDetail("max_length", MaxKeyLength)
	}
	hash, dir, payloadPath, metaPath, lockPath := s.hashKey(key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return bin2nlperr.Wrap(bin2nlperr.Storage, "blobstore", "create shard directory", err)
	}

	mu := s.lockFor(hash)
	mu.Lock()
	defer mu.Unlock()

	unlock, err := acquireFileLock(lockPath)
	if err != nil {
		return bin2nlperr.Wrap(bin2nlperr.Storage, "blobstore", "acquire advisory lock", err)
	}
	defer unlock()

	now := time.Now().UTC()
	expiresAt := now.Add(ttl)
	if ttl <= 0 {
		expiresAt = now.AddDate(100, 0, 0)
	}

	if err := writeAtomic(payloadPath, data); err != nil {
		return bin2nlperr.Wrap(bin2nlperr.Storage, "blobstore", "write payload", err)
	}

	meta := Meta{CreatedAt: now, ExpiresAt: expiresAt, Key: key}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return bin2nlperr.Wrap(bin2nlperr.Internal, "blobstore", "marshal meta", err)
	}
	if err := writeAtomic(metaPath, metaBytes); err != nil {
		return bin2nlperr.Wrap(bin2nlperr.Storage, "blobstore", "write meta", err)
	}
	return nil
}

// Get reads the bytes stored under key. Readers do not take the advisory
// lock. An absent or expired pair is reported as (nil, false); an expired
// pair is scheduled for lazy deletion.
func (s *Store) Get(key string) ([]byte, bool, error) {
	_, _, payloadPath, metaPath, _ := s.hashKey(key)

	metaBytes, err := os.ReadFile(metaPath)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, bin2nlperr.Wrap(bin2nlperr.Storage, "blobstore", "read meta", err)
	}
	var meta Meta
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, false, bin2nlperr.Wrap(bin2nlperr.Internal, "blobstore", "unmarshal meta", err)
	}
	if !time.Now().UTC().Before(meta.ExpiresAt) {
		go s.deleteLazy(key)
		return nil, false, nil
	}

	data, err := os.ReadFile(payloadPath)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, bin2nlperr.Wrap(bin2nlperr.Storage, "blobstore", "read payload", err)
	}
	return data, true, nil
}

func (s *Store) deleteLazy(key string) {
	if err := s.Delete(key); err != nil {
		obslog.WithComponent("blobstore").Warn().Err(err).Str("key", key).Msg("lazy delete of expired blob failed")
	}
}

// Delete removes the payload, meta, and lock files for key.
func (s *Store) Delete(key string) error {
	hash, _, payloadPath, metaPath, lockPath := s.hashKey(key)
	mu := s.lockFor(hash)
	mu.Lock()
	defer mu.Unlock()

	unlock, err := acquireFileLock(lockPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // shard directory absent: nothing was ever stored
		}
		return bin2nlperr.Wrap(bin2nlperr.Storage, "blobstore", "acquire advisory lock", err)
	}
	defer unlock()

	var firstErr error
	for _, p := range []string{payloadPath, metaPath, lockPath} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return bin2nlperr.Wrap(bin2nlperr.Storage, "blobstore", "delete blob", firstErr)
	}
	return nil
}

// List returns the logical keys of every live blob whose key has the given
// prefix. This walks sidecar metadata, which is the only place the logical
// key survives the hash.
func (s *Store) List(prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".meta") {
			return nil
		}
		metaBytes, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		var meta Meta
		if jsonErr := json.Unmarshal(metaBytes, &meta); jsonErr != nil {
			return nil
		}
		if !time.Now().UTC().Before(meta.ExpiresAt) {
			return nil
		}
		if strings.HasPrefix(meta.Key, prefix) {
			keys = append(keys, meta.Key)
		}
		return nil
	})
	if err != nil {
		return nil, bin2nlperr.Wrap(bin2nlperr.Storage, "blobstore", "list", err)
	}
	return keys, nil
}
