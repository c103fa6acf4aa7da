package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Onegaishimas/bin2nlp/internal/bin2nlperr"
	"github.com/Onegaishimas/bin2nlp/internal/types"
)

// InsertJob writes a new job row in pending status.
func (s *Store) InsertJob(ctx context.Context, job *types.Job) error {
	cfg, err := json.Marshal(job.Config)
	if err != nil {
		return storageErr("marshal job config", err)
	}
	meta, err := json.Marshal(job.Metadata)
	if err != nil {
		return storageErr("marshal job metadata", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO jobs (
			id, status, priority, file_fingerprint, blob_ref, filename, config,
			progress, stage, tenant_id, callback_url, correlation_id, retry_count,
			processing_seconds, metadata, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$16)
	`,
		job.ID, job.Status, job.Priority, job.FileFingerprint, job.BlobRef, job.Filename,
		cfg, job.Progress, job.Stage, job.TenantID, job.CallbackURL, job.CorrelationID,
		job.RetryCount, job.ProcessingSeconds, meta, time.Now().UTC(),
	)
	return storageErr("insert job", err)
}

// AtomicLeaseNext selects the oldest pending job in the highest non-empty
// priority lane, transitions it to processing with workerID stamped, and
// returns it in a single round trip using SELECT ... FOR UPDATE SKIP LOCKED
// inside a CTE so concurrent callers never observe the same job. Returns
// (nil, nil) when the queue is empty.
func (s *Store) AtomicLeaseNext(ctx context.Context, workerID string) (*types.Job, error) {
	const q = `
		WITH next AS (
			SELECT id FROM jobs
			WHERE status = 'pending' AND (available_at IS NULL OR available_at <= $2)
			ORDER BY
				CASE priority
					WHEN 'urgent' THEN 0
					WHEN 'high'   THEN 1
					WHEN 'normal' THEN 2
					WHEN 'low'    THEN 3
				END,
				created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE jobs SET
			status = 'processing',
			worker_id = $1,
			started_at = $2,
			updated_at = $2
		WHERE id = (SELECT id FROM next)
		RETURNING
			id, status, priority, file_fingerprint, blob_ref, filename, config,
			progress, stage, worker_id, tenant_id, callback_url, correlation_id,
			retry_count, processing_seconds, result_blob_ref, error_message,
			metadata, created_at, started_at, updated_at, completed_at
	`
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx, q, workerID, now)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("atomic lease next", err)
	}
	return job, nil
}

// GetJob fetches a single job by id.
func (s *Store) GetJob(ctx context.Context, jobID string) (*types.Job, error) {
	const q = `
		SELECT id, status, priority, file_fingerprint, blob_ref, filename, config,
			progress, stage, worker_id, tenant_id, callback_url, correlation_id,
			retry_count, processing_seconds, result_blob_ref, error_message,
			metadata, created_at, started_at, updated_at, completed_at
		FROM jobs WHERE id = $1
	`
	job, err := scanJob(s.pool.QueryRow(ctx, q, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, bin2nlperr.New(bin2nlperr.Validation, "store", "job not found").WithDetail("job_id", jobID)
	}
	if err != nil {
		return nil, storageErr("get job", err)
	}
	return job, nil
}

// UpdateProgress applies a monotonic progress/stage update. The store
// rejects updates from a worker that no longer holds the lease, which is
// how out-of-order updates from a reaped worker are discarded (§5).
func (s *Store) UpdateProgress(ctx context.Context, jobID, workerID string, progress int, stage string) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET
			progress = GREATEST(progress, $3),
			stage = $4,
			updated_at = $5
		WHERE id = $1 AND worker_id = $2 AND status = 'processing'
	`, jobID, workerID, progress, stage, time.Now().UTC())
	if err != nil {
		return storageErr("update progress", err)
	}
	if tag.RowsAffected() == 0 {
		return bin2nlperr.New(bin2nlperr.Validation, "store", "progress update rejected: lease no longer held").
			WithDetail("job_id", jobID).WithDetail("worker_id", workerID)
	}
	return nil
}

// FinalizeJob commits the terminal outcome of a leased job in one statement.
func (s *Store) FinalizeJob(ctx context.Context, jobID, workerID string, status types.JobStatus, resultRef, errMsg string, processingSeconds float64) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET
			status = $3,
			progress = CASE WHEN $3 = 'completed' THEN 100 ELSE progress END,
			worker_id = NULL,
			result_blob_ref = $4,
			error_message = $5,
			processing_seconds = processing_seconds + $6,
			completed_at = $7,
			updated_at = $7
		WHERE id = $1 AND worker_id = $2 AND status = 'processing'
	`, jobID, workerID, status, resultRef, errMsg, processingSeconds, now)
	if err != nil {
		return storageErr("finalize job", err)
	}
	if tag.RowsAffected() == 0 {
		return bin2nlperr.New(bin2nlperr.Validation, "store", "finalize rejected: lease no longer held").
			WithDetail("job_id", jobID)
	}
	return nil
}

// FailJob implements the retry/dead-letter re-entry path: if retryCount is
// below maxRetries, the job returns to pending with the worker cleared and
// scheduled after backoffDelay via an available_at gate; otherwise it is
// dead-lettered as terminal failed and appended to the dead-letter log.
func (s *Store) FailJob(ctx context.Context, jobID, workerID, reason string, maxRetries int, backoffDelay time.Duration) (requeued bool, err error) {
	err = s.withTx(ctx, func(tx pgx.Tx) error {
		var retryCount int
		var tenantID string
		scanErr := tx.QueryRow(ctx, `SELECT retry_count, tenant_id FROM jobs WHERE id = $1 FOR UPDATE`, jobID).Scan(&retryCount, &tenantID)
		if scanErr != nil {
			return storageErr("fail job: load", scanErr)
		}
		now := time.Now().UTC()
		if retryCount < maxRetries {
			availableAt := now.Add(backoffDelay)
			_, execErr := tx.Exec(ctx, `
				UPDATE jobs SET
					status = 'pending', worker_id = NULL, retry_count = retry_count + 1,
					error_message = $2, available_at = $3, updated_at = $4
				WHERE id = $1
			`, jobID, reason, availableAt, now)
			if execErr != nil {
				return storageErr("fail job: requeue", execErr)
			}
			requeued = true
			return nil
		}
		_, execErr := tx.Exec(ctx, `
			UPDATE jobs SET status = 'failed', worker_id = NULL, error_message = $2, completed_at = $3, updated_at = $3
			WHERE id = $1
		`, jobID, reason, now)
		if execErr != nil {
			return storageErr("fail job: dead-letter status", execErr)
		}
		_, execErr = tx.Exec(ctx, `
			INSERT INTO dead_letters (job_id, tenant_id, reason, created_at) VALUES ($1,$2,$3,$4)
		`, jobID, tenantID, reason, now)
		if execErr != nil {
			return storageErr("fail job: dead-letter insert", execErr)
		}
		requeued = false
		return nil
	})
	return requeued, err
}

// CancelJob targets a pending or processing row. A cancellation on a leased
// job is observed by the executor at its next suspension point.
func (s *Store) CancelJob(ctx context.Context, jobID string) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = 'cancelled', updated_at = $2, completed_at = $2
		WHERE id = $1 AND status IN ('pending', 'processing')
	`, jobID, now)
	if err != nil {
		return storageErr("cancel job", err)
	}
	if tag.RowsAffected() == 0 {
		return bin2nlperr.New(bin2nlperr.Validation, "store", "job cannot be cancelled from its current status").
			WithDetail("job_id", jobID)
	}
	return nil
}

// IsCancelled reports whether a job's current status is cancelled, used by
// the executor's cooperative cancellation poll.
func (s *Store) IsCancelled(ctx context.Context, jobID string) (bool, error) {
	var status types.JobStatus
	err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, jobID).Scan(&status)
	if err != nil {
		return false, storageErr("check cancelled", err)
	}
	return status == types.JobStatusCancelled, nil
}

// ReapStaleLeases reclaims processing rows whose started_at predates cutoff,
// routing each through FailJob so retry/dead-letter logic is reused.
func (s *Store) ReapStaleLeases(ctx context.Context, cutoff time.Time, maxRetries int) (int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, worker_id FROM jobs WHERE status = 'processing' AND started_at < $1
	`, cutoff)
	if err != nil {
		return 0, storageErr("reap stale leases: select", err)
	}
	type stale struct{ id, worker string }
	var staleJobs []stale
	for rows.Next() {
		var st stale
		if err := rows.Scan(&st.id, &st.worker); err != nil {
			rows.Close()
			return 0, storageErr("reap stale leases: scan", err)
		}
		staleJobs = append(staleJobs, st)
	}
	rows.Close()

	count := 0
	for _, st := range staleJobs {
		if _, err := s.FailJob(ctx, st.id, st.worker, "stale lease", maxRetries, 0); err != nil {
			storeLog.Warn().Err(err).Str("job_id", st.id).Msg("failed to reap stale lease")
			continue
		}
		count++
	}
	return count, nil
}

// QueueStats reports per-lane pending depth, processing count, dead-letter
// size, and rolling completed/failed counters.
type QueueStats struct {
	PendingByLane map[types.JobPriority]int64
	Processing    int64
	DeadLetters   int64
	Completed     int64
	Failed        int64
}

func (s *Store) QueueStats(ctx context.Context) (*QueueStats, error) {
	stats := &QueueStats{PendingByLane: map[types.JobPriority]int64{}}
	rows, err := s.pool.Query(ctx, `SELECT priority, count(*) FROM jobs WHERE status = 'pending' GROUP BY priority`)
	if err != nil {
		return nil, storageErr("queue stats: pending", err)
	}
	for rows.Next() {
		var p types.JobPriority
		var c int64
		if err := rows.Scan(&p, &c); err != nil {
			rows.Close()
			return nil, storageErr("queue stats: scan pending", err)
		}
		stats.PendingByLane[p] = c
	}
	rows.Close()

	err = s.pool.QueryRow(ctx, `SELECT count(*) FROM jobs WHERE status = 'processing'`).Scan(&stats.Processing)
	if err != nil {
		return nil, storageErr("queue stats: processing", err)
	}
	err = s.pool.QueryRow(ctx, `SELECT count(*) FROM dead_letters`).Scan(&stats.DeadLetters)
	if err != nil {
		return nil, storageErr("queue stats: dead letters", err)
	}
	err = s.pool.QueryRow(ctx, `SELECT count(*) FROM jobs WHERE status = 'completed'`).Scan(&stats.Completed)
	if err != nil {
		return nil, storageErr("queue stats: completed", err)
	}
	err = s.pool.QueryRow(ctx, `SELECT count(*) FROM jobs WHERE status = 'failed'`).Scan(&stats.Failed)
	if err != nil {
		return nil, storageErr("queue stats: failed", err)
	}
	return stats, nil
}

func scanJob(row pgx.Row) (*types.Job, error) {
	var j types.Job
	var cfg, meta []byte
	var workerID, resultRef, errMsg *string
	var startedAt, completedAt *time.Time
	err := row.Scan(
		&j.ID, &j.Status, &j.Priority, &j.FileFingerprint, &j.BlobRef, &j.Filename, &cfg,
		&j.Progress, &j.Stage, &workerID, &j.TenantID, &j.CallbackURL, &j.CorrelationID,
		&j.RetryCount, &j.ProcessingSeconds, &resultRef, &errMsg,
		&meta, &j.CreatedAt, &startedAt, &j.UpdatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	if workerID != nil {
		j.WorkerID = *workerID
	}
	if resultRef != nil {
		j.ResultBlobRef = *resultRef
	}
	if errMsg != nil {
		j.ErrorMessage = *errMsg
	}
	if startedAt != nil {
		j.StartedAt = *startedAt
	}
	if completedAt != nil {
		j.CompletedAt = *completedAt
	}
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &j.Config); err != nil {
			return nil, err
		}
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &j.Metadata); err != nil {
			return nil, err
		}
	}
	return &j, nil
}
