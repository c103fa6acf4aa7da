package httpapi

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Onegaishimas/bin2nlp/internal/bin2nlperr"
	"github.com/Onegaishimas/bin2nlp/internal/resultcache"
	"github.com/Onegaishimas/bin2nlp/internal/types"
)

// handleSubmit implements POST /v1/jobs: admission (C4), fingerprinting,
// a result-cache probe (C5), and either a short-circuited completed job or
// a freshly enqueued one (C6), per §2's request lifecycle.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFrom(r.Context())

	var req submitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, validationError("httpapi", err))
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, validationError("httpapi", err))
		return
	}

	content, err := base64.StdEncoding.DecodeString(req.ContentBase64)
	if err != nil {
		writeError(w, bin2nlperr.Wrap(bin2nlperr.Validation, "httpapi", "content_base64 is not valid base64", err))
		return
	}
	if int64(len(content)) > s.deps.MaxFileSizeBytes {
		writeError(w, bin2nlperr.New(bin2nlperr.Validation, "httpapi", "file exceeds maximum size").
			WithDetail("max_bytes", s.deps.MaxFileSizeBytes).WithDetail("got_bytes", len(content)))
		return
	}

	tier := sess.Tier
	if tier == "" {
		tier = s.deps.DefaultIngressTier
	}
	decision, err := s.deps.Limiter.Check(r.Context(), "tenant:"+sess.TenantID, tier, 1)
	if err != nil {
		writeError(w, err)
		return
	}
	if !decision.Allowed {
		rlErr := bin2nlperr.New(bin2nlperr.RateLimited, "httpapi", "rate limit exceeded").
			WithDetail("limit", decision.Limit).WithDetail("used", decision.Used)
		rlErr.RetryAfter = int(decision.RetryAfter.Seconds())
		writeError(w, rlErr)
		return
	}

	config := types.JobConfig{
		AnalysisDepth:     depthOrDefault(req.AnalysisDepth),
		TranslationDetail: detailOrDefault(req.TranslationDetail),
		ProviderID:        req.ProviderID,
		ProviderModel:     req.ProviderModel,
		ProviderEndpoint:  req.ProviderEndpoint,
	}
	if req.ProviderAPIKey != "" {
		if s.deps.Vault == nil {
			writeError(w, bin2nlperr.New(bin2nlperr.Internal, "httpapi", "credential vault not configured"))
			return
		}
		ciphertext, err := s.deps.Vault.Encrypt([]byte(req.ProviderAPIKey))
		if err != nil {
			writeError(w, bin2nlperr.Wrap(bin2nlperr.Internal, "httpapi", "failed to seal provider_api_key", err))
			return
		}
		config.ProviderAPIKeyCiphertext = ciphertext
	}
	fingerprint := sha256Hex(content)
	jobID := uuid.NewString()
	now := time.Now().UTC()

	if _, ok, err := s.deps.Cache.Lookup(r.Context(), fingerprint, config); err == nil && ok {
		job := &types.Job{
			ID:              jobID,
			Priority:        priorityOrDefault(req.Priority),
			FileFingerprint: fingerprint,
			Filename:        req.Filename,
			Config:          config,
			TenantID:        sess.TenantID,
			CallbackURL:     req.CallbackURL,
			CorrelationID:   req.CorrelationID,
			Metadata:        req.Metadata,
			CreatedAt:       now,
		}
		resultRef := resultcache.Key(fingerprint, config)
		if err := s.deps.Queue.InsertCompleted(r.Context(), job, resultRef); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, submitResponse{DecompilationID: jobID, Status: string(types.JobStatusCompleted), CacheHit: true})
		return
	}

	blobKey := "input/" + jobID
	if err := s.deps.Blobs.Put(blobKey, content, 0); err != nil {
		writeError(w, err)
		return
	}

	job := &types.Job{
		ID:              jobID,
		Priority:        priorityOrDefault(req.Priority),
		FileFingerprint: fingerprint,
		BlobRef:         blobKey,
		Filename:        req.Filename,
		Config:          config,
		TenantID:        sess.TenantID,
		CallbackURL:     req.CallbackURL,
		CorrelationID:   req.CorrelationID,
		Metadata:        req.Metadata,
		CreatedAt:       now,
	}
	if err := s.deps.Queue.Enqueue(r.Context(), job); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, submitResponse{DecompilationID: jobID, Status: string(types.JobStatusPending), CacheHit: false})
}

// handleStatus implements GET /v1/jobs/{jobID}: tenant-scoped status
// polling, attaching the result document once the job has completed.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFrom(r.Context())
	jobID := chi.URLParam(r, "jobID")

	job, err := s.deps.Queue.Get(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	if job == nil || job.TenantID != sess.TenantID {
		writeError(w, bin2nlperr.New(bin2nlperr.Validation, "httpapi", "job not found"))
		return
	}

	resp := jobStatusResponse{
		DecompilationID:   job.ID,
		Status:            string(job.Status),
		Priority:          string(job.Priority),
		Progress:          job.Progress,
		Stage:             job.Stage,
		ErrorMessage:      job.ErrorMessage,
		ProcessingSeconds: job.ProcessingSeconds,
		CorrelationID:     job.CorrelationID,
		CreatedAt:         job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:         job.UpdatedAt.Format(time.RFC3339),
	}
	if job.Status == types.JobStatusCompleted && job.ResultBlobRef != "" {
		if data, ok, err := s.deps.Blobs.Get(job.ResultBlobRef); err == nil && ok {
			var result any
			if jsonErr := json.Unmarshal(data, &result); jsonErr == nil {
				resp.Result = result
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCancel implements POST /v1/jobs/{jobID}/cancel.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFrom(r.Context())
	jobID := chi.URLParam(r, "jobID")

	job, err := s.deps.Queue.Get(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	if job == nil || job.TenantID != sess.TenantID {
		writeError(w, bin2nlperr.New(bin2nlperr.Validation, "httpapi", "job not found"))
		return
	}
	if err := s.deps.Queue.Cancel(r.Context(), jobID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"decompilation_id": jobID, "status": string(types.JobStatusCancelled)})
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
