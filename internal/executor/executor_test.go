package executor

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/Onegaishimas/bin2nlp/internal/decompiler"
	"github.com/Onegaishimas/bin2nlp/internal/llmprovider"
	"github.com/Onegaishimas/bin2nlp/internal/queue"
	"github.com/Onegaishimas/bin2nlp/internal/ratelimit"
	"github.com/Onegaishimas/bin2nlp/internal/store"
	"github.com/Onegaishimas/bin2nlp/internal/types"
)

type fakeDecompiler struct {
	doc *decompiler.Document
	err error
}

func (f *fakeDecompiler) Analyze(ctx context.Context, path string, depth decompiler.Depth) (*decompiler.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.doc, nil
}

type fakeProvider struct {
	kind       types.ProviderKind
	failEvery  int // 0 = never fail
	generation int
}

func (f *fakeProvider) Kind() types.ProviderKind { return f.kind }
func (f *fakeProvider) EstimateTokens(prompt string) int { return len(prompt)/4 + 1 }
func (f *fakeProvider) Generate(ctx context.Context, prompt string, maxTokens int) (llmprovider.Completion, error) {
	f.generation++
	if f.failEvery > 0 && f.generation%f.failEvery == 0 {
		return llmprovider.Completion{}, errGenerate
	}
	return llmprovider.Completion{Text: "translated: " + prompt}, nil
}

var errGenerate = &genErr{}

type genErr struct{}

func (e *genErr) Error() string { return "provider failure" }

type fakeProviders struct {
	p llmprovider.Provider
}

func (f *fakeProviders) Get(kind types.ProviderKind) (llmprovider.Provider, bool) {
	if f.p == nil {
		return nil, false
	}
	return f.p, true
}

type fakeCounters struct{}

func (fakeCounters) FetchRateCounter(ctx context.Context, identifier string, window types.RateLimitWindow) (int64, error) {
	return 0, nil
}
func (fakeCounters) UpsertRateCounter(ctx context.Context, identifier string, window types.RateLimitWindow, delta int64) error {
	return nil
}
func (fakeCounters) OldestCounterAge(ctx context.Context, identifier string, window types.RateLimitWindow) (time.Duration, error) {
	return 0, nil
}
func (fakeCounters) ResetRateCounters(ctx context.Context, identifier string) error { return nil }
func (fakeCounters) CleanupExpiredRateCounters(ctx context.Context) (int64, error) { return 0, nil }

type fakeBackend struct {
	jobs map[string]*types.Job
}

func newFakeBackend(job *types.Job) *fakeBackend {
	return &fakeBackend{jobs: map[string]*types.Job{job.ID: job}}
}

func (b *fakeBackend) InsertJob(ctx context.Context, job *types.Job) error { return nil }
func (b *fakeBackend) AtomicLeaseNext(ctx context.Context, workerID string) (*types.Job, error) {
	return nil, nil
}
func (b *fakeBackend) GetJob(ctx context.Context, jobID string) (*types.Job, error) {
	return b.jobs[jobID], nil
}
func (b *fakeBackend) UpdateProgress(ctx context.Context, jobID, workerID string, progress int, stage string) error {
	return nil
}
func (b *fakeBackend) FinalizeJob(ctx context.Context, jobID, workerID string, status types.JobStatus, resultRef, errMsg string, processingSeconds float64) error {
	j := b.jobs[jobID]
	j.Status = status
	j.ResultBlobRef = resultRef
	j.ErrorMessage = errMsg
	return nil
}
func (b *fakeBackend) FailJob(ctx context.Context, jobID, workerID, reason string, maxRetries int, backoffDelay time.Duration) (bool, error) {
	j := b.jobs[jobID]
	j.Status = types.JobStatusFailed
	j.ErrorMessage = reason
	return false, nil
}
func (b *fakeBackend) CancelJob(ctx context.Context, jobID string) error {
	b.jobs[jobID].Status = types.JobStatusCancelled
	return nil
}
func (b *fakeBackend) IsCancelled(ctx context.Context, jobID string) (bool, error) {
	return b.jobs[jobID].Status == types.JobStatusCancelled, nil
}
func (b *fakeBackend) ReapStaleLeases(ctx context.Context, cutoff time.Time, maxRetries int) (int, error) {
	return 0, nil
}

type fakeBlobs struct {
	input map[string][]byte
	store map[string][]byte
}

func (b *fakeBlobs) Get(key string) ([]byte, bool, error) {
	d, ok := b.input[key]
	return d, ok, nil
}
func (b *fakeBlobs) Put(key string, data []byte, ttl time.Duration) error {
	if b.store == nil {
		b.store = map[string][]byte{}
	}
	b.store[key] = data
	return nil
}

func newTestExecutor(t *testing.T, job *types.Job, dec *fakeDecompiler, provider *fakeProvider) (*Executor, *fakeBlobs, *fakeBackend) {
	t.Helper()
	backend := newFakeBackend(job)
	q := queue.New(testBackendAdapter{backend})
	limiter := ratelimit.New(fakeCounters{}, types.DefaultTierTable)
	blobs := &fakeBlobs{input: map[string][]byte{job.BlobRef: []byte("fake binary bytes")}}
	providers := &fakeProviders{p: provider}
	dir := t.TempDir()
	return New(dec, providers, nil, nil, limiter, blobs, nil, q, dir), blobs, backend
}

// testBackendAdapter narrows fakeBackend (which lacks QueueStats) up to
// queue.Backend for tests that never call Stats.
type testBackendAdapter struct {
	*fakeBackend
}

func (testBackendAdapter) QueueStats(ctx context.Context) (*store.QueueStats, error) {
	return nil, nil
}

func sampleDoc() *decompiler.Document {
	return &decompiler.Document{
		File: decompiler.FileMetadata{Format: "ELF", Architecture: "x86_64", SizeBytes: 4096},
		Functions: []decompiler.Function{
			{Name: "main", EntryAddress: "0x1000", Pseudocode: "int main() { return 0; }"},
			{Name: "helper", EntryAddress: "0x1040", Disassembly: "push rbp; mov rbp, rsp"},
		},
		Imports: []decompiler.Import{
			{Library: "libc.so.6", Symbol: "printf", BindAddress: "0x2000"},
		},
		Strings: []decompiler.StringLiteral{
			{Content: "hello world", Address: "0x3000", Encoding: "ascii"},
		},
	}
}

func sampleJob() *types.Job {
	return &types.Job{
		ID:       "job-1",
		WorkerID: "worker-1",
		TenantID: "tenant-1",
		Priority: types.PriorityNormal,
		BlobRef:  "blob-1",
		Config: types.JobConfig{
			AnalysisDepth:     types.DepthStandard,
			TranslationDetail: types.DetailDetailed,
			ProviderID:        string(types.ProviderAnthropic),
		},
	}
}

func TestRunCompletesSuccessfully(t *testing.T) {
	job := sampleJob()
	exec, blobs, backend := newTestExecutor(t, job, &fakeDecompiler{doc: sampleDoc()}, &fakeProvider{kind: types.ProviderAnthropic})

	if err := exec.Run(context.Background(), job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if backend.jobs[job.ID].Status != types.JobStatusCompleted {
		t.Fatalf("expected job completed, got %s", backend.jobs[job.ID].Status)
	}
	resultKey := backend.jobs[job.ID].ResultBlobRef
	if resultKey == "" {
		t.Fatalf("expected a result blob reference")
	}
	if _, ok := blobs.store[resultKey]; !ok {
		t.Fatalf("expected result payload stored under %s", resultKey)
	}
}

func TestRunToleratesPerArtifactFailure(t *testing.T) {
	job := sampleJob()
	// Fail every call: forces every artifact to record an error, but since
	// there's more than one artifact this still leaves the job with zero
	// successes on a "fail always" provider, so use failEvery=2 instead to
	// exercise partial success.
	exec, _, backend := newTestExecutor(t, job, &fakeDecompiler{doc: sampleDoc()}, &fakeProvider{kind: types.ProviderAnthropic, failEvery: 2})

	if err := exec.Run(context.Background(), job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if backend.jobs[job.ID].Status != types.JobStatusCompleted {
		t.Fatalf("expected job completed despite partial artifact failures, got %s", backend.jobs[job.ID].Status)
	}
}

func TestRunFailsWhenAllArtifactsFail(t *testing.T) {
	job := sampleJob()
	job.Config.TranslationDetail = types.DetailBasic
	doc := &decompiler.Document{
		File:      decompiler.FileMetadata{Format: "ELF"},
		Functions: []decompiler.Function{{Name: "only", EntryAddress: "0x1000"}},
	}
	exec, _, backend := newTestExecutor(t, job, &fakeDecompiler{doc: doc}, &fakeProvider{kind: types.ProviderAnthropic, failEvery: 1})

	if err := exec.Run(context.Background(), job); err != nil {
		t.Fatalf("Run should report failure through the queue, not as a hard error: %v", err)
	}
	if backend.jobs[job.ID].Status != types.JobStatusFailed {
		t.Fatalf("expected job failed, got %s", backend.jobs[job.ID].Status)
	}
}

func TestRunFailsWhenDecompilationErrors(t *testing.T) {
	job := sampleJob()
	exec, _, backend := newTestExecutor(t, job, &fakeDecompiler{err: errGenerate}, &fakeProvider{kind: types.ProviderAnthropic})

	if err := exec.Run(context.Background(), job); err != nil {
		t.Fatalf("unexpected hard error: %v", err)
	}
	if backend.jobs[job.ID].Status != types.JobStatusFailed {
		t.Fatalf("expected job failed, got %s", backend.jobs[job.ID].Status)
	}
}

type fakeCache struct {
	sets int
	key  string
}

func (f *fakeCache) Set(ctx context.Context, fileFingerprint string, config types.JobConfig, data []byte, extractedArtifacts []string) error {
	f.sets++
	f.key = fileFingerprint + ":" + string(config.AnalysisDepth)
	return nil
}

func TestRunWritesThroughResultCacheWhenConfigured(t *testing.T) {
	job := sampleJob()
	job.FileFingerprint = "fingerprint-1"
	backend := newFakeBackend(job)
	q := queue.New(testBackendAdapter{backend})
	limiter := ratelimit.New(fakeCounters{}, types.DefaultTierTable)
	blobs := &fakeBlobs{input: map[string][]byte{job.BlobRef: []byte("fake binary bytes")}}
	providers := &fakeProviders{p: &fakeProvider{kind: types.ProviderAnthropic}}
	cache := &fakeCache{}
	exec := New(&fakeDecompiler{doc: sampleDoc()}, providers, nil, nil, limiter, blobs, cache, q, t.TempDir())

	if err := exec.Run(context.Background(), job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cache.sets != 1 {
		t.Fatalf("expected exactly one cache write, got %d", cache.sets)
	}
	if backend.jobs[job.ID].ResultBlobRef == "" {
		t.Fatalf("expected a cache-derived result blob reference")
	}
}

// fakeCredentials stubs the tenant credential lookup used by provider
// resolution's second tier.
type fakeCredentials struct {
	cred *types.ProviderCredential
}

func (f *fakeCredentials) GetCredentialByKind(ctx context.Context, tenantID string, kind types.ProviderKind) (*types.ProviderCredential, error) {
	if f.cred == nil || f.cred.TenantID != tenantID || f.cred.Kind != kind {
		return nil, nil
	}
	return f.cred, nil
}

// fakeVault stubs Decryptor: it just strips a fixed prefix so tests can
// assert on the round trip without pulling in the real AES-GCM vault.
type fakeVault struct{}

func (fakeVault) Decrypt(ciphertext []byte) ([]byte, error) {
	return []byte(strings.TrimPrefix(string(ciphertext), "sealed:")), nil
}

func TestRunCompletesDecompileOnlyWhenNoProviderResolved(t *testing.T) {
	job := sampleJob()
	job.Config.ProviderID = ""
	backend := newFakeBackend(job)
	q := queue.New(testBackendAdapter{backend})
	limiter := ratelimit.New(fakeCounters{}, types.DefaultTierTable)
	blobs := &fakeBlobs{input: map[string][]byte{job.BlobRef: []byte("fake binary bytes")}}
	providers := &fakeProviders{} // no provider registered
	exec := New(&fakeDecompiler{doc: sampleDoc()}, providers, nil, nil, limiter, blobs, nil, q, t.TempDir())

	if err := exec.Run(context.Background(), job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if backend.jobs[job.ID].Status != types.JobStatusCompleted {
		t.Fatalf("expected job completed without a provider, got %s", backend.jobs[job.ID].Status)
	}
	resultKey := backend.jobs[job.ID].ResultBlobRef
	payload, ok := blobs.store[resultKey]
	if !ok {
		t.Fatalf("expected a result payload stored under %s", resultKey)
	}
	var result ResultDocument
	if err := json.Unmarshal(payload, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if !result.Success || result.FunctionCount != len(sampleDoc().Functions) {
		t.Fatalf("unexpected decompile-only result: %+v", result)
	}
	if result.LLMTranslations != nil {
		t.Fatalf("expected no llm_translations field, got %+v", result.LLMTranslations)
	}
}

func TestRunResolvesProviderFromTenantCredential(t *testing.T) {
	job := sampleJob()
	job.Config.ProviderID = string(types.ProviderAnthropic)
	backend := newFakeBackend(job)
	q := queue.New(testBackendAdapter{backend})
	limiter := ratelimit.New(fakeCounters{}, types.DefaultTierTable)
	blobs := &fakeBlobs{input: map[string][]byte{job.BlobRef: []byte("fake binary bytes")}}
	providers := &fakeProviders{} // deployment registry has nothing for this kind
	creds := &fakeCredentials{cred: &types.ProviderCredential{
		TenantID:     job.TenantID,
		Kind:         types.ProviderAnthropic,
		EncryptedKey: []byte("sealed:tenant-key"),
		Active:       true,
	}}
	exec := New(&fakeDecompiler{doc: sampleDoc()}, providers, creds, fakeVault{}, limiter, blobs, nil, q, t.TempDir())
	exec.newProvider = func(ctx context.Context, cfg llmprovider.Config) (llmprovider.Provider, error) {
		if cfg.APIKey != "tenant-key" {
			t.Fatalf("expected decrypted tenant key, got %q", cfg.APIKey)
		}
		return &fakeProvider{kind: cfg.Kind}, nil
	}

	if err := exec.Run(context.Background(), job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if backend.jobs[job.ID].Status != types.JobStatusCompleted {
		t.Fatalf("expected job completed, got %s", backend.jobs[job.ID].Status)
	}
}

func TestRunResolvesProviderFromInlineOverride(t *testing.T) {
	job := sampleJob()
	job.Config.ProviderID = string(types.ProviderAnthropic)
	job.Config.ProviderAPIKeyCiphertext = []byte("sealed:inline-key")
	backend := newFakeBackend(job)
	q := queue.New(testBackendAdapter{backend})
	limiter := ratelimit.New(fakeCounters{}, types.DefaultTierTable)
	blobs := &fakeBlobs{input: map[string][]byte{job.BlobRef: []byte("fake binary bytes")}}
	providers := &fakeProviders{}
	creds := &fakeCredentials{cred: &types.ProviderCredential{ // a stored tenant credential exists but must not win over the inline override
		TenantID:     job.TenantID,
		Kind:         types.ProviderAnthropic,
		EncryptedKey: []byte("sealed:tenant-key"),
		Active:       true,
	}}
	exec := New(&fakeDecompiler{doc: sampleDoc()}, providers, creds, fakeVault{}, limiter, blobs, nil, q, t.TempDir())
	exec.newProvider = func(ctx context.Context, cfg llmprovider.Config) (llmprovider.Provider, error) {
		if cfg.APIKey != "inline-key" {
			t.Fatalf("expected decrypted inline key, got %q", cfg.APIKey)
		}
		return &fakeProvider{kind: cfg.Kind}, nil
	}

	if err := exec.Run(context.Background(), job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if backend.jobs[job.ID].Status != types.JobStatusCompleted {
		t.Fatalf("expected job completed, got %s", backend.jobs[job.ID].Status)
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	job := sampleJob()
	exec, _, backend := newTestExecutor(t, job, &fakeDecompiler{doc: sampleDoc()}, &fakeProvider{kind: types.ProviderAnthropic})

	// Mark the job cancelled before Run starts translating; Stage A still
	// runs (it is not itself a suspension point the executor polls mid-way),
	// but the first artifact-loop check should observe cancellation.
	backend.jobs[job.ID].Status = types.JobStatusCancelled

	if err := exec.Run(context.Background(), job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if backend.jobs[job.ID].Status != types.JobStatusCancelled {
		t.Fatalf("expected job to remain cancelled, got %s", backend.jobs[job.ID].Status)
	}
}
