// Package executor implements the Pipeline Executor (C7): it drives one
// leased job through Stage A (decompilation) and Stage B (translation),
// reporting progress, honoring cooperative cancellation, and tolerating
// per-artifact provider failures.
//
// Grounded on pkg/worker/worker.go's executeContainer() shape (pull →
// prepare → create → start → monitor, each step failing the task and
// returning early on error, with periodic cancellation checks against
// shared desired-state) generalized from "run one container" to "decompile
// then translate one binary".
package executor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Onegaishimas/bin2nlp/internal/bin2nlperr"
	"github.com/Onegaishimas/bin2nlp/internal/decompiler"
	"github.com/Onegaishimas/bin2nlp/internal/llmprovider"
	"github.com/Onegaishimas/bin2nlp/internal/obslog"
	"github.com/Onegaishimas/bin2nlp/internal/obsmetrics"
	"github.com/Onegaishimas/bin2nlp/internal/queue"
	"github.com/Onegaishimas/bin2nlp/internal/ratelimit"
	"github.com/Onegaishimas/bin2nlp/internal/resultcache"
	"github.com/Onegaishimas/bin2nlp/internal/types"
)

// Blobs is the subset of the blob store the executor depends on: reading
// the uploaded binary and writing the merged result document.
type Blobs interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, data []byte, ttl time.Duration) error
}

// Providers resolves the LLM provider for a job's requested kind.
type Providers interface {
	Get(kind types.ProviderKind) (llmprovider.Provider, bool)
}

// Cache is the subset of the result cache the executor writes through on
// completion, per §2's "completed results are written to C2 and indexed by
// C5 for future hits" — the submission-time hit check lives in the ingress
// layer (C0), which has no visibility into a job's eventual result; only the
// executor knows when that result exists.
type Cache interface {
	Set(ctx context.Context, fileFingerprint string, config types.JobConfig, data []byte, extractedArtifacts []string) error
}

// ArtifactResult records the outcome of translating one artifact
// (function, import, or string); Ref carries the artifact's address
// (functions, strings) or source library (imports) through to the final
// document shape.
type ArtifactResult struct {
	Kind string
	Name string
	Ref  string
	Text string
	Err  string
}

// FunctionTranslation is one entry of llm_translations.functions, per §6.
type FunctionTranslation struct {
	Name            string `json:"name"`
	Address         string `json:"address"`
	NaturalLanguage string `json:"natural_language"`
	Purpose         string `json:"purpose,omitempty"`
	Parameters      string `json:"parameters,omitempty"`
	ReturnValue     string `json:"return_value,omitempty"`
}

// ImportTranslation is one entry of llm_translations.imports, per §6.
type ImportTranslation struct {
	Library  string `json:"library"`
	Function string `json:"function"`
	Purpose  string `json:"purpose"`
}

// StringTranslation is one entry of llm_translations.strings, per §6.
type StringTranslation struct {
	Content string `json:"content"`
	Address string `json:"address"`
	Purpose string `json:"purpose"`
}

// LLMTranslations is Stage B's contribution to the result document, present
// only when a provider was resolved and translated at least one artifact.
type LLMTranslations struct {
	Functions      []FunctionTranslation `json:"functions,omitempty"`
	Imports        []ImportTranslation   `json:"imports,omitempty"`
	Strings        []StringTranslation   `json:"strings,omitempty"`
	OverallSummary string                `json:"overall_summary,omitempty"`
}

// ArtifactDiagnostic records one artifact that failed translation, per §7's
// "per-artifact diagnostic entries" requirement for partial successes.
type ArtifactDiagnostic struct {
	Kind  string `json:"kind"`
	Name  string `json:"name"`
	Error string `json:"error"`
}

// ResultDocument is the merged Stage A + Stage B output committed to the
// blob store and referenced from the job row, shaped to §6's "Result
// document schema (cached and returned)".
type ResultDocument struct {
	Success         bool                 `json:"success"`
	FunctionCount   int                  `json:"function_count"`
	ImportCount     int                  `json:"import_count"`
	StringCount     int                  `json:"string_count"`
	DurationSeconds float64              `json:"duration_seconds"`
	DecompilationID string               `json:"decompilation_id"`
	Salvaged        bool                 `json:"salvaged,omitempty"`
	LLMTranslations *LLMTranslations     `json:"llm_translations,omitempty"`
	Diagnostics     []ArtifactDiagnostic `json:"diagnostics,omitempty"`
}

// buildResultDocument reshapes Stage A's document plus Stage B's (possibly
// nil, when no provider was resolved) accumulated artifacts into the wire
// schema. decompilationID is the job id: stable across a cache hit so a
// repeated submission of the same (file, config) pair observes the same
// decompilation_id whether served fresh or from cache (§8 scenario 1).
func buildResultDocument(job *types.Job, doc *decompiler.Document, stage *stageBResult, salvaged bool) *ResultDocument {
	result := &ResultDocument{
		Success:         true,
		FunctionCount:   len(doc.Functions),
		ImportCount:     len(doc.Imports),
		StringCount:     len(doc.Strings),
		DecompilationID: job.ID,
		Salvaged:        salvaged,
	}
	if stage == nil {
		return result
	}

	var diagnostics []ArtifactDiagnostic
	var functions []FunctionTranslation
	for _, ar := range stage.Functions {
		if ar.Err != "" {
			diagnostics = append(diagnostics, ArtifactDiagnostic{Kind: ar.Kind, Name: ar.Name, Error: ar.Err})
			continue
		}
		functions = append(functions, FunctionTranslation{Name: ar.Name, Address: ar.Ref, NaturalLanguage: ar.Text})
	}
	var imports []ImportTranslation
	for _, ar := range stage.Imports {
		if ar.Err != "" {
			diagnostics = append(diagnostics, ArtifactDiagnostic{Kind: ar.Kind, Name: ar.Name, Error: ar.Err})
			continue
		}
		imports = append(imports, ImportTranslation{Library: ar.Ref, Function: ar.Name, Purpose: ar.Text})
	}
	var strings []StringTranslation
	for _, ar := range stage.Strings {
		if ar.Err != "" {
			diagnostics = append(diagnostics, ArtifactDiagnostic{Kind: ar.Kind, Name: ar.Name, Error: ar.Err})
			continue
		}
		strings = append(strings, StringTranslation{Content: ar.Name, Address: ar.Ref, Purpose: ar.Text})
	}

	result.LLMTranslations = &LLMTranslations{
		Functions:      functions,
		Imports:        imports,
		Strings:        strings,
		OverallSummary: stage.Summary,
	}
	result.Diagnostics = diagnostics
	return result
}

// ResultTTL is how long a completed job's merged document lives in the
// blob store before the sweep reclaims it.
const ResultTTL = 7 * 24 * time.Hour

// Executor drives jobs end to end.
type Executor struct {
	decompiler  decompiler.Decompiler
	providers   Providers
	credentials Credentials
	vault       Decryptor
	limiter     *ratelimit.Limiter
	blobs       Blobs
	cache       Cache
	queue       *queue.Queue
	binDir      string // scratch directory the decompiler reads input files from

	// newProvider builds a per-job Provider from a resolved Config (tenant
	// credential or inline override). A field rather than a direct call to
	// llmprovider.New so tests can substitute a fake without reaching a real
	// backend.
	newProvider func(ctx context.Context, cfg llmprovider.Config) (llmprovider.Provider, error)
}

// New constructs an Executor. binDir is a scratch directory the Decompiler
// implementation reads input files from (the sandboxed implementation bind
// mounts from here; the exec implementation passes the path directly). cache
// may be nil, in which case results are stored under the job id only and
// never indexed for future cache hits — used by tests that don't exercise
// the cache-population path. credentials and vault may both be nil, in which
// case provider resolution falls back to the deployment-wide registry only
// (see resolveProvider).
func New(dec decompiler.Decompiler, providers Providers, credentials Credentials, vault Decryptor, limiter *ratelimit.Limiter, blobs Blobs, cache Cache, q *queue.Queue, binDir string) *Executor {
	return &Executor{
		decompiler:  dec,
		providers:   providers,
		credentials: credentials,
		vault:       vault,
		limiter:     limiter,
		blobs:       blobs,
		cache:       cache,
		queue:       q,
		binDir:      binDir,
		newProvider: llmprovider.New,
	}
}

// errCancelled is returned internally when cooperative cancellation fires
// mid-pipeline; Run translates it into a job cancellation rather than a
// failure.
var errCancelled = bin2nlperr.New(bin2nlperr.Validation, "executor", "job cancelled")

// Run executes job to completion (or cancellation, or failure) and reports
// the outcome through q. It never panics on a per-artifact provider error;
// those are recorded in the result document and the job still succeeds if
// at least one artifact translated.
func (e *Executor) Run(ctx context.Context, job *types.Job) error {
	timer := obsmetrics.NewTimer()
	log := obslog.WithComponent("executor")
	log.Info().Str("job_id", job.ID).Str("depth", string(job.Config.AnalysisDepth)).Msg("executor starting job")

	if err := e.queue.UpdateProgress(ctx, job.ID, job.WorkerID, 10, "decompiling"); err != nil {
		return err
	}

	binPath, err := e.stageInput(job)
	if err != nil {
		return e.fail(ctx, job, "failed to stage input: "+err.Error())
	}

	stageATimer := obsmetrics.NewTimer()
	doc, err := e.decompiler.Analyze(ctx, binPath, decompiler.MapAnalysisDepth(string(job.Config.AnalysisDepth)))
	stageATimer.ObserveDurationVec(obsmetrics.PipelineStageDuration, "decompile")
	if err != nil {
		return e.fail(ctx, job, "decompilation failed: "+err.Error())
	}

	provider, hasProvider, err := e.resolveProvider(ctx, job)
	if err != nil {
		return e.fail(ctx, job, "failed to resolve provider: "+err.Error())
	}

	// No provider resolved (the job named no provider kind; a named kind
	// that nothing serves already failed above): finalize as a decompilation-only
	// result, per §8 scenario 1 — Stage B is simply skipped, this is not
	// an error.
	if !hasProvider {
		if err := e.queue.UpdateProgress(ctx, job.ID, job.WorkerID, 95, "finalizing"); err != nil {
			return err
		}
		result := buildResultDocument(job, doc, nil, false)
		return e.finish(ctx, job, timer, result, false)
	}

	if err := e.queue.UpdateProgress(ctx, job.ID, job.WorkerID, 70, "translating"); err != nil {
		return err
	}

	stage, salvaged, err := e.translate(ctx, job, doc, provider)
	if err != nil {
		if err == errCancelled {
			return e.cancel(ctx, job, buildResultDocument(job, doc, stage, true))
		}
		return e.fail(ctx, job, err.Error())
	}

	if err := e.queue.UpdateProgress(ctx, job.ID, job.WorkerID, 95, "finalizing"); err != nil {
		return err
	}

	result := buildResultDocument(job, doc, stage, salvaged)
	return e.finish(ctx, job, timer, result, salvaged)
}

// finish marshals, stores, and reports completion for a finalized result
// document shared by both the decompile-only and translated paths.
func (e *Executor) finish(ctx context.Context, job *types.Job, timer *obsmetrics.Timer, result *ResultDocument, salvaged bool) error {
	log := obslog.WithComponent("executor")
	elapsed := timer.Duration().Seconds()
	result.DurationSeconds = elapsed

	payload, err := json.Marshal(result)
	if err != nil {
		return e.fail(ctx, job, "failed to marshal result: "+err.Error())
	}

	resultKey, err := e.storeResult(ctx, job, payload, result)
	if err != nil {
		return e.fail(ctx, job, "failed to store result: "+err.Error())
	}

	if err := e.queue.Complete(ctx, job.ID, job.WorkerID, resultKey, elapsed); err != nil {
		return err
	}
	timer.ObserveDurationVec(obsmetrics.PipelineStageDuration, "total")
	if salvaged {
		obsmetrics.SalvagedJobsTotal.Inc()
		log.Warn().Str("job_id", job.ID).Msg("job completed from salvage (partial artifacts)")
	}
	log.Info().Str("job_id", job.ID).Float64("seconds", elapsed).Msg("executor finished job")
	return nil
}

// storeResult commits the final result document, writing through the
// result cache when one is configured so the same (fingerprint, config)
// pair is served without re-running the pipeline next time.
func (e *Executor) storeResult(ctx context.Context, job *types.Job, payload []byte, result *ResultDocument) (string, error) {
	if e.cache == nil || job.FileFingerprint == "" {
		resultKey := "result/" + job.ID
		if err := e.blobs.Put(resultKey, payload, ResultTTL); err != nil {
			return "", err
		}
		return resultKey, nil
	}

	var artifacts []string
	if result.LLMTranslations != nil {
		if len(result.LLMTranslations.Functions) > 0 {
			artifacts = append(artifacts, "functions")
		}
		if len(result.LLMTranslations.Imports) > 0 {
			artifacts = append(artifacts, "imports")
		}
		if len(result.LLMTranslations.Strings) > 0 {
			artifacts = append(artifacts, "strings")
		}
	}
	if err := e.cache.Set(ctx, job.FileFingerprint, job.Config, payload, artifacts); err != nil {
		return "", err
	}
	return resultcache.Key(job.FileFingerprint, job.Config), nil
}

func (e *Executor) stageInput(job *types.Job) (string, error) {
	data, ok, err := e.blobs.Get(job.BlobRef)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", bin2nlperr.New(bin2nlperr.Storage, "executor", "input blob missing: "+job.BlobRef)
	}
	return writeScratchFile(e.binDir, job.ID, data)
}

func (e *Executor) fail(ctx context.Context, job *types.Job, reason string) error {
	log := obslog.WithComponent("executor")
	log.Error().Str("job_id", job.ID).Str("reason", reason).Msg("job failed")
	_, err := e.queue.Fail(ctx, job, job.WorkerID, reason)
	return err
}

func (e *Executor) cancel(ctx context.Context, job *types.Job, partial *ResultDocument) error {
	log := obslog.WithComponent("executor")
	log.Info().Str("job_id", job.ID).Msg("job cancelled, salvaging partial result")
	if partial != nil && partial.LLMTranslations != nil &&
		(len(partial.LLMTranslations.Functions) > 0 || len(partial.LLMTranslations.Imports) > 0 || len(partial.LLMTranslations.Strings) > 0) {
		payload, err := json.Marshal(partial)
		if err == nil {
			_ = e.blobs.Put("result/"+job.ID+".partial", payload, ResultTTL)
		}
	}
	return e.queue.Cancel(ctx, job.ID)
}
