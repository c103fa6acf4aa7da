package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Onegaishimas/bin2nlp/internal/bin2nlperr"
	"github.com/Onegaishimas/bin2nlp/internal/types"
)

// handleListDeadLetters implements GET /v1/admin/dead-letters.
func (s *Server) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	rows, err := s.deps.DeadLetters.ListDeadLetters(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]deadLetterDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, deadLetterDTO{
			JobID:     row.JobID,
			TenantID:  row.TenantID,
			Reason:    row.Reason,
			CreatedAt: row.CreatedAt.Format(rfc3339),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleInvalidateCache implements POST /v1/admin/cache/invalidate.
func (s *Server) handleInvalidateCache(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, validationError("httpapi", err))
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, validationError("httpapi", err))
		return
	}

	var (
		n   int64
		err error
	)
	switch {
	case req.Key != "":
		err = s.deps.Cache.InvalidateByKey(r.Context(), req.Key)
		n = 1
	case req.FileFingerprint != "":
		n, err = s.deps.Cache.InvalidateByFile(r.Context(), req.FileFingerprint)
	case req.Tag != "":
		n, err = s.deps.Cache.InvalidateByTag(r.Context(), req.Tag)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"invalidated": n})
}

// handleCacheStats implements GET /v1/admin/cache/stats.
func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats := s.deps.Cache.StatsSnapshot()
	writeJSON(w, http.StatusOK, cacheStatsResponse{
		Hits:    stats.Hits,
		Misses:  stats.Misses,
		Sets:    stats.Sets,
		Deletes: stats.Deletes,
		Errors:  stats.Errors,
	})
}

// handleQueueStats implements GET /v1/admin/queue/stats.
func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Queue.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	byLane := make(map[string]int64, len(stats.PendingByLane))
	for lane, n := range stats.PendingByLane {
		byLane[string(lane)] = n
	}
	writeJSON(w, http.StatusOK, queueStatsResponse{
		PendingByLane: byLane,
		Processing:    stats.Processing,
		DeadLetters:   stats.DeadLetters,
		Completed:     stats.Completed,
		Failed:        stats.Failed,
	})
}

// handleRateLimitStatus implements GET /v1/admin/rate-limit/status?tenant_id=...&tier=...
func (s *Server) handleRateLimitStatus(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		writeError(w, bin2nlperr.New(bin2nlperr.Validation, "httpapi", "tenant_id query parameter is required"))
		return
	}
	tier := types.RateTier(r.URL.Query().Get("tier"))
	if tier == "" {
		tier = s.deps.DefaultIngressTier
	}
	windows, err := s.deps.Limiter.Status(r.Context(), "tenant:"+tenantID, tier)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make(map[string]windowStatusDTO, len(windows))
	for w2, status := range windows {
		out[string(w2)] = windowStatusDTO{
			Limit:     status.Limit,
			Used:      status.Used,
			Remaining: status.Remaining,
			ResetAt:   status.ResetAt.Format(rfc3339),
		}
	}
	writeJSON(w, http.StatusOK, rateLimitStatusResponse{Tier: string(tier), Windows: out})
}

// handleCreateSession implements POST /v1/admin/sessions.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, validationError("httpapi", err))
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, validationError("httpapi", err))
		return
	}
	tier := types.RateTier(req.Tier)
	if tier == "" {
		tier = types.TierStandard
	}
	sess, err := s.deps.Sessions.Create(r.Context(), req.TenantID, req.Label, tier)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createSessionResponse{SessionID: sess.ID, TenantID: sess.TenantID, Tier: string(sess.Tier)})
}

// handleRevokeSession implements DELETE /v1/admin/sessions/{sessionID}.
func (s *Server) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := s.deps.Sessions.Revoke(r.Context(), sessionID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// handleCreateCredential implements POST /v1/admin/credentials: seals the
// submitted API key through C3 and persists the tenant-scoped record the
// pipeline executor's provider resolution later looks up by (tenant, kind).
func (s *Server) handleCreateCredential(w http.ResponseWriter, r *http.Request) {
	var req createCredentialRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, validationError("httpapi", err))
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, validationError("httpapi", err))
		return
	}
	if s.deps.Vault == nil {
		writeError(w, bin2nlperr.New(bin2nlperr.Internal, "httpapi", "credential vault not configured"))
		return
	}
	ciphertext, err := s.deps.Vault.Encrypt([]byte(req.APIKey))
	if err != nil {
		writeError(w, bin2nlperr.Wrap(bin2nlperr.Internal, "httpapi", "failed to seal api_key", err))
		return
	}

	now := time.Now().UTC()
	cred := &types.ProviderCredential{
		ID:           uuid.NewString(),
		TenantID:     req.TenantID,
		DisplayName:  req.DisplayName,
		Kind:         types.ProviderKind(req.Kind),
		EncryptedKey: ciphertext,
		Endpoint:     req.Endpoint,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.deps.Credentials.InsertCredential(r.Context(), cred); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, credentialToDTO(cred))
}

// handleListCredentials implements GET /v1/admin/credentials?tenant_id=...
func (s *Server) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		writeError(w, bin2nlperr.New(bin2nlperr.Validation, "httpapi", "tenant_id query parameter is required"))
		return
	}
	creds, err := s.deps.Credentials.ListCredentials(r.Context(), tenantID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]credentialResponse, 0, len(creds))
	for _, c := range creds {
		out = append(out, credentialToDTO(c))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleDeactivateCredential implements
// DELETE /v1/admin/credentials/{credentialID}?tenant_id=...
func (s *Server) handleDeactivateCredential(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		writeError(w, bin2nlperr.New(bin2nlperr.Validation, "httpapi", "tenant_id query parameter is required"))
		return
	}
	credentialID := chi.URLParam(r, "credentialID")
	if err := s.deps.Credentials.DeactivateCredential(r.Context(), tenantID, credentialID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func credentialToDTO(c *types.ProviderCredential) credentialResponse {
	return credentialResponse{
		ID:          c.ID,
		TenantID:    c.TenantID,
		DisplayName: c.DisplayName,
		Kind:        string(c.Kind),
		Endpoint:    c.Endpoint,
		Active:      c.Active,
		CreatedAt:   c.CreatedAt.Format(rfc3339),
		UpdatedAt:   c.UpdatedAt.Format(rfc3339),
	}
}

const rfc3339 = "2006-01-02T15:04:05Z07:00"
