package httpapi

import "github.com/Onegaishimas/bin2nlp/internal/types"

// submitRequest is the JSON body of POST /v1/jobs. The binary payload
// itself travels as a base64 field rather than multipart, matching the
// original implementation's JSON-only upload contract and the JSON ingress
// the rest of this surface uses.
type submitRequest struct {
	Filename          string            `json:"filename" validate:"required,max=255"`
	ContentBase64     string            `json:"content_base64" validate:"required"`
	AnalysisDepth     string            `json:"analysis_depth" validate:"omitempty,oneof=basic standard comprehensive deep"`
	TranslationDetail string            `json:"translation_detail" validate:"omitempty,oneof=basic standard detailed"`
	Priority          string            `json:"priority" validate:"omitempty,oneof=urgent high normal low"`
	ProviderID        string            `json:"provider_id" validate:"omitempty,max=64"`
	ProviderModel     string            `json:"provider_model" validate:"omitempty,max=128"`
	ProviderEndpoint  string            `json:"provider_endpoint" validate:"omitempty,url"`
	ProviderAPIKey    string            `json:"provider_api_key" validate:"omitempty,max=512"`
	CallbackURL       string            `json:"callback_url" validate:"omitempty,url"`
	CorrelationID     string            `json:"correlation_id" validate:"omitempty,max=128"`
	Metadata          map[string]string `json:"metadata" validate:"omitempty,max=32"`
}

// submitResponse is returned on successful submission, whether the job was
// actually enqueued or short-circuited by a cache hit.
type submitResponse struct {
	DecompilationID string `json:"decompilation_id"`
	Status          string `json:"status"`
	CacheHit        bool   `json:"cache_hit"`
}

// jobStatusResponse is returned by GET /v1/jobs/{id}.
type jobStatusResponse struct {
	DecompilationID   string            `json:"decompilation_id"`
	Status            string            `json:"status"`
	Priority          string            `json:"priority"`
	Progress          int               `json:"progress"`
	Stage             string            `json:"stage,omitempty"`
	ErrorMessage      string            `json:"error_message,omitempty"`
	ProcessingSeconds float64           `json:"processing_seconds,omitempty"`
	CorrelationID     string            `json:"correlation_id,omitempty"`
	CreatedAt         string            `json:"created_at"`
	UpdatedAt         string            `json:"updated_at"`
	Result            interface{}       `json:"result,omitempty"`
}

// errorResponse is the uniform error envelope for every non-2xx response,
// shaped after bin2nlperr.Error's public fields — Details is surfaced so
// callers see structured context, but cause chains never cross the wire.
type errorResponse struct {
	Class         string         `json:"class"`
	Message       string         `json:"message"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	RetryAfter    int            `json:"retry_after,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}

// rateLimitStatusResponse reports §4.4's per-window admission state.
type rateLimitStatusResponse struct {
	Tier    string                    `json:"tier"`
	Windows map[string]windowStatusDTO `json:"windows"`
}

type windowStatusDTO struct {
	Limit     int64  `json:"limit"`
	Used      int64  `json:"used"`
	Remaining int64  `json:"remaining"`
	ResetAt   string `json:"reset_at"`
}

// queueStatsResponse mirrors store.QueueStats for the admin surface.
type queueStatsResponse struct {
	PendingByLane map[string]int64 `json:"pending_by_lane"`
	Processing    int64            `json:"processing"`
	DeadLetters   int64            `json:"dead_letters"`
	Completed     int64            `json:"completed"`
	Failed        int64            `json:"failed"`
}

// cacheStatsResponse mirrors resultcache.Stats.
type cacheStatsResponse struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Sets    int64 `json:"sets"`
	Deletes int64 `json:"deletes"`
	Errors  int64 `json:"errors"`
}

// deadLetterDTO is one row of the admin dead-letter listing.
type deadLetterDTO struct {
	JobID     string `json:"job_id"`
	TenantID  string `json:"tenant_id"`
	Reason    string `json:"reason"`
	CreatedAt string `json:"created_at"`
}

// invalidateRequest is the JSON body of POST /v1/admin/cache/invalidate.
// Exactly one of Key, FileFingerprint, or Tag must be set.
type invalidateRequest struct {
	Key             string `json:"key" validate:"required_without_all=FileFingerprint Tag"`
	FileFingerprint string `json:"file_fingerprint" validate:"required_without_all=Key Tag"`
	Tag             string `json:"tag" validate:"required_without_all=Key FileFingerprint"`
}

// createSessionRequest is the JSON body of POST /v1/admin/sessions.
type createSessionRequest struct {
	TenantID string `json:"tenant_id" validate:"required,max=128"`
	Label    string `json:"label" validate:"omitempty,max=255"`
	Tier     string `json:"tier" validate:"omitempty,oneof=basic standard premium enterprise"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
	TenantID  string `json:"tenant_id"`
	Tier      string `json:"tier"`
}

// createCredentialRequest is the JSON body of POST /v1/admin/credentials.
// The plaintext APIKey is sealed by the vault before it ever reaches the
// store; it never appears in a response.
type createCredentialRequest struct {
	TenantID    string `json:"tenant_id" validate:"required,max=128"`
	DisplayName string `json:"display_name" validate:"omitempty,max=255"`
	Kind        string `json:"kind" validate:"required,oneof=openai anthropic gemini ollama"`
	APIKey      string `json:"api_key" validate:"required,max=512"`
	Endpoint    string `json:"endpoint" validate:"omitempty,url"`
}

// credentialResponse never carries EncryptedKey or any plaintext key
// material, per §8's "plaintext credentials never appear in status
// responses, logs, or cache documents".
type credentialResponse struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenant_id"`
	DisplayName string `json:"display_name,omitempty"`
	Kind        string `json:"kind"`
	Endpoint    string `json:"endpoint,omitempty"`
	Active      bool   `json:"active"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func depthOrDefault(s string) types.AnalysisDepth {
	if s == "" {
		return types.DepthStandard
	}
	return types.AnalysisDepth(s)
}

func detailOrDefault(s string) types.TranslationDetail {
	if s == "" {
		return types.DetailStandard
	}
	return types.TranslationDetail(s)
}

func priorityOrDefault(s string) types.JobPriority {
	if s == "" {
		return types.PriorityNormal
	}
	return types.JobPriority(s)
}
