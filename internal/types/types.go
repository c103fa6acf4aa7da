// Package types holds the core entity definitions shared across the service.
package types

import (
	"time"
)

// Job is a single unit of decompile-and-translate work.
type Job struct {
	ID                 string
	Status             JobStatus
	Priority           JobPriority
	FileFingerprint    string // SHA-256 of the uploaded bytes
	BlobRef            string // input blob key
	Filename           string
	Config             JobConfig
	Progress           int // [0,100]
	Stage              string
	WorkerID           string // set iff Status == JobStatusProcessing
	TenantID           string
	CallbackURL        string
	CorrelationID      string
	RetryCount         int
	ProcessingSeconds  float64
	ResultBlobRef      string
	ErrorMessage       string
	Metadata           map[string]string
	CreatedAt          time.Time
	StartedAt          time.Time
	UpdatedAt          time.Time
	CompletedAt        time.Time
}

// JobStatus is the lifecycle state of a Job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// JobPriority selects the lane a Job is queued in.
type JobPriority string

const (
	PriorityUrgent JobPriority = "urgent"
	PriorityHigh   JobPriority = "high"
	PriorityNormal JobPriority = "normal"
	PriorityLow    JobPriority = "low"
)

// Priorities is the lane order, highest first.
var Priorities = []JobPriority{PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow}

// AnalysisDepth selects how thoroughly Stage A decompiles the binary.
type AnalysisDepth string

const (
	DepthBasic         AnalysisDepth = "basic"
	DepthStandard      AnalysisDepth = "standard"
	DepthComprehensive AnalysisDepth = "comprehensive"
	DepthDeep          AnalysisDepth = "deep"
)

// TranslationDetail selects how much of the decompilation Stage B narrates.
type TranslationDetail string

const (
	DetailBasic    TranslationDetail = "basic"
	DetailStandard TranslationDetail = "standard"
	DetailDetailed TranslationDetail = "detailed"
)

// JobConfig is the closed set of recognized submission parameters.
// Unrecognized keys supplied by a caller are logged and discarded before
// this struct is populated; see internal/resultcache for the cache-key
// normalizer that depends on that closure.
type JobConfig struct {
	AnalysisDepth     AnalysisDepth
	TranslationDetail TranslationDetail
	ProviderID        string
	ProviderModel     string
	ProviderEndpoint  string
	// ProviderAPIKeyCiphertext holds an optional per-submission provider_api_key
	// override (§6), sealed by the credential vault (C3) at submission time so
	// the jobs row never carries the plaintext; the pipeline executor is the
	// only place it is decrypted, once per job, when binding to a provider
	// (§4.3, §5).
	ProviderAPIKeyCiphertext []byte
}

// RecognizedKeys returns the normalized (key, value) pairs used to derive
// the cache's configuration fingerprint, as an unordered map (the
// fingerprint sorts the keys). analysis_depth and translation_detail are
// always present; provider_id and provider_model are omitted when unset.
func (c JobConfig) RecognizedKeys() map[string]string {
	m := map[string]string{
		"analysis_depth":     string(c.AnalysisDepth),
		"translation_detail": string(c.TranslationDetail),
	}
	if c.ProviderID != "" {
		m["provider_id"] = c.ProviderID
	}
	if c.ProviderModel != "" {
		m["provider_model"] = c.ProviderModel
	}
	return m
}

// CacheEntry is a materialized prior result.
type CacheEntry struct {
	CacheKey        string
	FileFingerprint string
	ConfigFingerprint string
	BlobRef         string
	SchemaVersion   string
	Tags            []string
	AccessCount     int64
	CreatedAt       time.Time
	ExpiresAt       time.Time
}

// IsExpired reports whether the entry has aged out as of now.
func (c CacheEntry) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// RateLimitWindow names one of the enforced accounting windows.
type RateLimitWindow string

const (
	WindowMinute RateLimitWindow = "minute"
	WindowHour   RateLimitWindow = "hour"
	WindowDay    RateLimitWindow = "day"
	WindowBurst  RateLimitWindow = "burst"
)

// WindowDuration maps a window label to its wall-clock size. Burst shares
// the minute window's clock but has its own capacity, per §4.4.
var WindowDuration = map[RateLimitWindow]time.Duration{
	WindowMinute: time.Minute,
	WindowHour:   time.Hour,
	WindowDay:    24 * time.Hour,
	WindowBurst:  time.Minute,
}

// RateLimitCounter is one per-identifier, per-window accounting row.
type RateLimitCounter struct {
	Identifier  string
	Window      RateLimitWindow
	Count       int64
	WindowStart time.Time
}

// RateTier names a configured admission tier.
type RateTier string

const (
	TierBasic      RateTier = "basic"
	TierStandard   RateTier = "standard"
	TierPremium    RateTier = "premium"
	TierEnterprise RateTier = "enterprise"
	TierLLM        RateTier = "llm"
)

// TierLimits is the per-window admission ceiling plus burst capacity for a tier.
type TierLimits struct {
	PerMinute      int64
	PerHour        int64
	PerDay         int64
	BurstCapacity  int64
}

// DefaultTierTable is the default tier table (§4.4); configuration may
// override it, but implementations must not hard-code these values elsewhere.
var DefaultTierTable = map[RateTier]TierLimits{
	TierBasic:      {PerMinute: 10, PerHour: 600, PerDay: 600, BurstCapacity: 5},
	TierStandard:   {PerMinute: 60, PerHour: 3600, PerDay: 3600, BurstCapacity: 20},
	TierPremium:    {PerMinute: 300, PerHour: 18000, PerDay: 18000, BurstCapacity: 50},
	TierEnterprise: {PerMinute: 1000, PerHour: 60000, PerDay: 60000, BurstCapacity: 100},
	// TierLLM gates outbound-provider cost (requests and estimated tokens,
	// checked as two independent identifier tuples per (tenant, provider)).
	// Generous defaults; operators are expected to tune per provider pricing.
	TierLLM: {PerMinute: 20000, PerHour: 500000, PerDay: 5000000, BurstCapacity: 5000},
}

// WorkerLease associates a worker with the job it currently holds.
type WorkerLease struct {
	JobID     string
	WorkerID  string
	StartedAt time.Time
}

// ProviderKind names a recognized LLM backend.
type ProviderKind string

const (
	ProviderOpenAI    ProviderKind = "openai"
	ProviderAnthropic ProviderKind = "anthropic"
	ProviderGemini    ProviderKind = "gemini"
	ProviderOllama    ProviderKind = "ollama"
)

// RequiresEndpoint reports whether this provider kind is self-hosted and
// therefore requires an explicit endpoint URL.
func (k ProviderKind) RequiresEndpoint() bool {
	return k == ProviderOllama
}

// ProviderCredential is a tenant-scoped record of how to reach an LLM provider.
type ProviderCredential struct {
	ID              string
	TenantID        string
	DisplayName     string
	Kind            ProviderKind
	EncryptedKey    []byte
	Endpoint        string
	ConfigJSON      string
	Active          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// BlobObject describes a stored payload's sidecar metadata (not the bytes).
type BlobObject struct {
	Key       string
	Hash      string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Session is a short-lived operator/API-client credential, distinct from a
// job's tenant identity. Supplemented from the original implementation's
// session bookkeeping; see SPEC_FULL.md.
type Session struct {
	ID        string
	TenantID  string
	Label     string
	Tier      RateTier // ingress admission tier for requests made under this session
	Revoked   bool
	CreatedAt time.Time
	LastSeen  time.Time
}
