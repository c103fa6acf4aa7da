// Package httpapi implements the HTTP ingress layer (C0): job submission,
// status polling, cancellation, the admin surface, and the /healthz and
// /metrics endpoints. It is the one package that every other component's
// interface is narrowed down to, using small capability-shaped dependency
// interfaces rather than concrete types.
package httpapi

import (
	"context"
	"time"

	"github.com/Onegaishimas/bin2nlp/internal/health"
	"github.com/Onegaishimas/bin2nlp/internal/ratelimit"
	"github.com/Onegaishimas/bin2nlp/internal/resultcache"
	"github.com/Onegaishimas/bin2nlp/internal/store"
	"github.com/Onegaishimas/bin2nlp/internal/types"
)

// Sessions is the subset of C9 the ingress layer authenticates requests and
// manages admin credentials against.
type Sessions interface {
	Authenticate(ctx context.Context, id string) (*types.Session, error)
	Create(ctx context.Context, tenantID, label string, tier types.RateTier) (*types.Session, error)
	Revoke(ctx context.Context, id string) error
}

// Limiter is the subset of C4 the submit handler admits requests against.
type Limiter interface {
	Check(ctx context.Context, identifier string, tier types.RateTier, cost int64) (ratelimit.Decision, error)
	Status(ctx context.Context, identifier string, tier types.RateTier) (map[types.RateLimitWindow]ratelimit.WindowStatus, error)
}

// Blobs is the subset of C2 the submit and status handlers read/write
// uploaded input and fetch result documents through.
type Blobs interface {
	Put(key string, data []byte, ttl time.Duration) error
	Get(key string) ([]byte, bool, error)
	Delete(key string) error
}

// Queue is the subset of C6 the ingress layer drives.
type Queue interface {
	Enqueue(ctx context.Context, job *types.Job) error
	InsertCompleted(ctx context.Context, job *types.Job, resultRef string) error
	Get(ctx context.Context, jobID string) (*types.Job, error)
	Cancel(ctx context.Context, jobID string) error
	Stats(ctx context.Context) (*store.QueueStats, error)
}

// Cache is the subset of C5 the submit handler probes for a short-circuit
// hit and the admin surface drives for invalidation.
type Cache interface {
	Lookup(ctx context.Context, fileFingerprint string, config types.JobConfig) ([]byte, bool, error)
	InvalidateByKey(ctx context.Context, key string) error
	InvalidateByFile(ctx context.Context, fileFingerprint string) (int64, error)
	InvalidateByTag(ctx context.Context, tag string) (int64, error)
	StatsSnapshot() resultcache.Stats
}

// DeadLetters is the subset of C1 the admin surface lists for operator
// inspection.
type DeadLetters interface {
	ListDeadLetters(ctx context.Context, limit int) ([]store.DeadLetterEntry, error)
}

// Encryptor seals a submission-time provider_api_key override so the jobs
// row never stores it in the clear; see C3.
type Encryptor interface {
	Encrypt(plaintext []byte) ([]byte, error)
}

// Credentials is the subset of C3's ProviderCredential CRUD the admin
// surface exposes for managing tenant-scoped provider credentials.
type Credentials interface {
	InsertCredential(ctx context.Context, c *types.ProviderCredential) error
	ListCredentials(ctx context.Context, tenantID string) ([]*types.ProviderCredential, error)
	DeactivateCredential(ctx context.Context, tenantID, id string) error
}

// Deps bundles every collaborator the ingress layer needs. Every field is a
// narrow interface rather than a concrete package type, so handler tests can
// substitute fakes without a database or filesystem.
type Deps struct {
	Sessions    Sessions
	Limiter     Limiter
	Blobs       Blobs
	Queue       Queue
	Cache       Cache
	DeadLetters DeadLetters
	Health      *health.Aggregator
	Vault       Encryptor
	Credentials Credentials

	DefaultIngressTier types.RateTier
	MaxFileSizeBytes   int64
}
