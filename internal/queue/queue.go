// Package queue implements the Job Queue (C6): four priority lanes with
// atomic dequeue, retry/backoff, dead-lettering, cancellation, and stats.
//
// Grounded on original_source/src/cache/job_queue.py (lane priorities,
// dequeue/complete/fail/cancel operation names, dead-letter log) re-expressed
// over internal/store's atomic SQL dequeue instead of the original's
// Redis+Lua implementation — SPEC_FULL.md §9 resolves this Open Question to
// the relational-only path.
package queue

import (
	"context"
	"time"

	"github.com/Onegaishimas/bin2nlp/internal/obsmetrics"
	"github.com/Onegaishimas/bin2nlp/internal/store"
	"github.com/Onegaishimas/bin2nlp/internal/types"
)

// MaxRetries is the retry budget before a job is dead-lettered, per §4.6.
const MaxRetries = 3

// MaxBackoff caps the exponential back-off delay at 30s, per §4.6.
const MaxBackoff = 30 * time.Second

// Backend is the subset of the metadata store the queue depends on.
type Backend interface {
	InsertJob(ctx context.Context, job *types.Job) error
	AtomicLeaseNext(ctx context.Context, workerID string) (*types.Job, error)
	GetJob(ctx context.Context, jobID string) (*types.Job, error)
	UpdateProgress(ctx context.Context, jobID, workerID string, progress int, stage string) error
	FinalizeJob(ctx context.Context, jobID, workerID string, status types.JobStatus, resultRef, errMsg string, processingSeconds float64) error
	FailJob(ctx context.Context, jobID, workerID, reason string, maxRetries int, backoffDelay time.Duration) (bool, error)
	CancelJob(ctx context.Context, jobID string) error
	IsCancelled(ctx context.Context, jobID string) (bool, error)
	ReapStaleLeases(ctx context.Context, cutoff time.Time, maxRetries int) (int, error)
	QueueStats(ctx context.Context) (*store.QueueStats, error)
}

var _ Backend = (*store.Store)(nil)

// Queue is the priority-ordered job queue.
type Queue struct {
	backend Backend
}

// New constructs a Queue over backend.
func New(backend Backend) *Queue {
	return &Queue{backend: backend}
}

// Enqueue inserts a new pending job.
func (q *Queue) Enqueue(ctx context.Context, job *types.Job) error {
	job.Status = types.JobStatusPending
	if err := q.backend.InsertJob(ctx, job); err != nil {
		return err
	}
	obsmetrics.QueueDepth.WithLabelValues(string(job.Priority)).Inc()
	return nil
}

// InsertCompleted records a job that never needs leasing or execution
// because ingress already satisfied it from the result cache (§2's "enters
// C6 after rate-limit check in C4 and cache-hit check in C5" — a hit short
// circuits C6/C7 entirely, but the job row still exists so status polling
// behaves identically to an executed job).
func (q *Queue) InsertCompleted(ctx context.Context, job *types.Job, resultRef string) error {
	now := time.Now().UTC()
	job.Status = types.JobStatusCompleted
	job.Progress = 100
	job.Stage = "cache_hit"
	job.ResultBlobRef = resultRef
	job.StartedAt = now
	job.CompletedAt = now
	if err := q.backend.InsertJob(ctx, job); err != nil {
		return err
	}
	obsmetrics.JobsTotal.WithLabelValues("completed_cache_hit").Inc()
	return nil
}

// Dequeue atomically leases the next job for workerID, or returns (nil,
// nil) when no job is available.
func (q *Queue) Dequeue(ctx context.Context, workerID string) (*types.Job, error) {
	timer := obsmetrics.NewTimer()
	defer timer.ObserveDuration(obsmetrics.DequeueLatency)

	job, err := q.backend.AtomicLeaseNext(ctx, workerID)
	if err != nil || job == nil {
		return job, err
	}
	obsmetrics.QueueDepth.WithLabelValues(string(job.Priority)).Dec()
	return job, nil
}

// UpdateProgress forwards a clamped, lease-checked progress update.
func (q *Queue) UpdateProgress(ctx context.Context, jobID, workerID string, progress int, stage string) error {
	return q.backend.UpdateProgress(ctx, jobID, workerID, progress, stage)
}

// Complete finalizes a job as completed (optionally salvaged) with its
// result blob reference.
func (q *Queue) Complete(ctx context.Context, jobID, workerID, resultRef string, processingSeconds float64) error {
	if err := q.backend.FinalizeJob(ctx, jobID, workerID, types.JobStatusCompleted, resultRef, "", processingSeconds); err != nil {
		return err
	}
	obsmetrics.JobsTotal.WithLabelValues("completed").Inc()
	return nil
}

// Fail re-enters the job at pending with exponential back-off if the retry
// budget remains, otherwise dead-letters it. delay = min(2^attempt, 30s),
// per §4.6/§8.
func (q *Queue) Fail(ctx context.Context, job *types.Job, workerID, reason string) (requeued bool, err error) {
	attempt := job.RetryCount + 1
	delay := backoffDelay(attempt)
	requeued, err = q.backend.FailJob(ctx, job.ID, workerID, reason, MaxRetries, delay)
	if err != nil {
		return false, err
	}
	if requeued {
		obsmetrics.QueueDepth.WithLabelValues(string(job.Priority)).Inc()
	} else {
		obsmetrics.JobsTotal.WithLabelValues("failed").Inc()
		obsmetrics.DeadLetterTotal.Inc()
	}
	return requeued, nil
}

func backoffDelay(attempt int) time.Duration {
	d := time.Duration(1) << uint(attempt)
	d *= time.Second
	if d > MaxBackoff {
		d = MaxBackoff
	}
	return d
}

// Cancel targets a pending or processing job.
func (q *Queue) Cancel(ctx context.Context, jobID string) error {
	return q.backend.CancelJob(ctx, jobID)
}

// IsCancelled is polled by the executor at suspension points.
func (q *Queue) IsCancelled(ctx context.Context, jobID string) (bool, error) {
	return q.backend.IsCancelled(ctx, jobID)
}

// Get fetches a job by id.
func (q *Queue) Get(ctx context.Context, jobID string) (*types.Job, error) {
	return q.backend.GetJob(ctx, jobID)
}

// ReapStaleLeases returns stale processing jobs to pending/dead-letter.
func (q *Queue) ReapStaleLeases(ctx context.Context, staleTimeout time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-staleTimeout)
	n, err := q.backend.ReapStaleLeases(ctx, cutoff, MaxRetries)
	if err == nil && n > 0 {
		obsmetrics.LeaseReapTotal.Add(float64(n))
	}
	return n, err
}

// Stats reports per-lane pending depth, processing count, dead-letter size,
// and rolling completed/failed counters.
func (q *Queue) Stats(ctx context.Context) (*store.QueueStats, error) {
	return q.backend.QueueStats(ctx)
}
