package queue

import (
	"context"
	"testing"
	"time"

	"github.com/Onegaishimas/bin2nlp/internal/store"
	"github.com/Onegaishimas/bin2nlp/internal/types"
)

type fakeBackend struct {
	jobs map[string]*types.Job
}

func newFakeBackend() *fakeBackend { return &fakeBackend{jobs: map[string]*types.Job{}} }

func (f *fakeBackend) InsertJob(_ context.Context, job *types.Job) error {
	cp := *job
	f.jobs[job.ID] = &cp
	return nil
}

func (f *fakeBackend) AtomicLeaseNext(_ context.Context, workerID string) (*types.Job, error) {
	best := (*types.Job)(nil)
	for _, p := range types.Priorities {
		var oldest *types.Job
		for _, j := range f.jobs {
			if j.Status != types.JobStatusPending || j.Priority != p {
				continue
			}
			if oldest == nil || j.CreatedAt.Before(oldest.CreatedAt) {
				oldest = j
			}
		}
		if oldest != nil {
			best = oldest
			break
		}
	}
	if best == nil {
		return nil, nil
	}
	best.Status = types.JobStatusProcessing
	best.WorkerID = workerID
	best.StartedAt = time.Now().UTC()
	cp := *best
	return &cp, nil
}

func (f *fakeBackend) GetJob(_ context.Context, jobID string) (*types.Job, error) {
	return f.jobs[jobID], nil
}

func (f *fakeBackend) UpdateProgress(_ context.Context, jobID, workerID string, progress int, stage string) error {
	j := f.jobs[jobID]
	if j.WorkerID != workerID {
		return errRejected
	}
	if progress > j.Progress {
		j.Progress = progress
	}
	j.Stage = stage
	return nil
}

func (f *fakeBackend) FinalizeJob(_ context.Context, jobID, workerID string, status types.JobStatus, resultRef, errMsg string, processingSeconds float64) error {
	j := f.jobs[jobID]
	j.Status = status
	j.WorkerID = ""
	j.ResultBlobRef = resultRef
	j.ErrorMessage = errMsg
	return nil
}

func (f *fakeBackend) FailJob(_ context.Context, jobID, workerID, reason string, maxRetries int, backoffDelay time.Duration) (bool, error) {
	j := f.jobs[jobID]
	if j.RetryCount < maxRetries {
		j.Status = types.JobStatusPending
		j.WorkerID = ""
		j.RetryCount++
		return true, nil
	}
	j.Status = types.JobStatusFailed
	j.WorkerID = ""
	return false, nil
}

func (f *fakeBackend) CancelJob(_ context.Context, jobID string) error {
	j := f.jobs[jobID]
	if j.Status != types.JobStatusPending && j.Status != types.JobStatusProcessing {
		return errRejected
	}
	j.Status = types.JobStatusCancelled
	return nil
}

func (f *fakeBackend) IsCancelled(_ context.Context, jobID string) (bool, error) {
	return f.jobs[jobID].Status == types.JobStatusCancelled, nil
}

func (f *fakeBackend) ReapStaleLeases(_ context.Context, cutoff time.Time, maxRetries int) (int, error) {
	n := 0
	for _, j := range f.jobs {
		if j.Status == types.JobStatusProcessing && j.StartedAt.Before(cutoff) {
			j.Status = types.JobStatusPending
			j.WorkerID = ""
			j.RetryCount++
			n++
		}
	}
	return n, nil
}

func (f *fakeBackend) QueueStats(_ context.Context) (*store.QueueStats, error) {
	stats := &store.QueueStats{PendingByLane: map[types.JobPriority]int64{}}
	for _, j := range f.jobs {
		switch j.Status {
		case types.JobStatusPending:
			stats.PendingByLane[j.Priority]++
		case types.JobStatusProcessing:
			stats.Processing++
		case types.JobStatusCompleted:
			stats.Completed++
		case types.JobStatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

type rejectedErr string

func (e rejectedErr) Error() string { return string(e) }

const errRejected = rejectedErr("rejected")

func TestDequeuePrefersHigherPriority(t *testing.T) {
	backend := newFakeBackend()
	q := New(backend)
	now := time.Now().UTC()
	_ = q.Enqueue(context.Background(), &types.Job{ID: "low-1", Priority: types.PriorityLow, CreatedAt: now})
	_ = q.Enqueue(context.Background(), &types.Job{ID: "urgent-1", Priority: types.PriorityUrgent, CreatedAt: now.Add(time.Second)})

	job, err := q.Dequeue(context.Background(), "worker-1")
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if job.ID != "urgent-1" {
		t.Fatalf("expected urgent-1 first, got %s", job.ID)
	}
}

func TestDequeueEmptyReturnsNil(t *testing.T) {
	q := New(newFakeBackend())
	job, err := q.Dequeue(context.Background(), "worker-1")
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if job != nil {
		t.Fatal("expected nil job on empty queue")
	}
}

func TestFailRequeuesUnderRetryBudget(t *testing.T) {
	backend := newFakeBackend()
	q := New(backend)
	job := &types.Job{ID: "j1", Priority: types.PriorityNormal, CreatedAt: time.Now().UTC()}
	_ = q.Enqueue(context.Background(), job)
	leased, _ := q.Dequeue(context.Background(), "w1")

	requeued, err := q.Fail(context.Background(), leased, "w1", "transient")
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if !requeued {
		t.Fatal("expected requeue under retry budget")
	}
	if backend.jobs["j1"].Status != types.JobStatusPending {
		t.Fatalf("expected pending, got %s", backend.jobs["j1"].Status)
	}
}

func TestFailDeadLettersAfterBudgetExhausted(t *testing.T) {
	backend := newFakeBackend()
	q := New(backend)
	job := &types.Job{ID: "j1", Priority: types.PriorityNormal, CreatedAt: time.Now().UTC(), RetryCount: MaxRetries}
	backend.jobs["j1"] = job

	requeued, err := q.Fail(context.Background(), job, "w1", "final")
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if requeued {
		t.Fatal("expected dead-letter, not requeue")
	}
	if backend.jobs["j1"].Status != types.JobStatusFailed {
		t.Fatalf("expected failed, got %s", backend.jobs["j1"].Status)
	}
}

func TestBackoffDelayCapsAt30Seconds(t *testing.T) {
	if d := backoffDelay(10); d != MaxBackoff {
		t.Fatalf("expected cap at %v, got %v", MaxBackoff, d)
	}
	if d := backoffDelay(1); d != 2*time.Second {
		t.Fatalf("expected 2s, got %v", d)
	}
}

func TestCancelPendingJob(t *testing.T) {
	backend := newFakeBackend()
	q := New(backend)
	job := &types.Job{ID: "j1", Priority: types.PriorityNormal, CreatedAt: time.Now().UTC()}
	_ = q.Enqueue(context.Background(), job)
	if err := q.Cancel(context.Background(), "j1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	cancelled, err := q.IsCancelled(context.Background(), "j1")
	if err != nil || !cancelled {
		t.Fatalf("expected cancelled: %v %v", cancelled, err)
	}
}

func TestReapStaleLeasesReturnsJobsToPending(t *testing.T) {
	backend := newFakeBackend()
	q := New(backend)
	job := &types.Job{ID: "j1", Priority: types.PriorityNormal, Status: types.JobStatusProcessing, StartedAt: time.Now().UTC().Add(-2 * time.Hour)}
	backend.jobs["j1"] = job

	n, err := q.ReapStaleLeases(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("ReapStaleLeases: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 reaped, got %d", n)
	}
	if backend.jobs["j1"].Status != types.JobStatusPending {
		t.Fatalf("expected pending, got %s", backend.jobs["j1"].Status)
	}
}
