// Package supervisor implements the Recovery Supervisor (C8): it wraps
// each pipeline-executor invocation with a per-operation timeout and grace
// period, classifies the outcome against the §4.8 policy table, and runs
// the periodic stale-lease reaping cycle.
//
// The timeout/grace/classify loop is grounded on the original
// AnalysisRecoveryManager.execute_with_recovery (timeout context, warning
// at a threshold ratio, graceful-cancellation grace period, per-exception
// recovery strategy dispatch). The reaping loop is grounded on
// pkg/reconciler/reconciler.go's run()/reconcile() ticker structure.
package supervisor

import (
	"context"
	"time"

	"github.com/Onegaishimas/bin2nlp/internal/executor"
	"github.com/Onegaishimas/bin2nlp/internal/obslog"
	"github.com/Onegaishimas/bin2nlp/internal/obsmetrics"
	"github.com/Onegaishimas/bin2nlp/internal/queue"
	"github.com/Onegaishimas/bin2nlp/internal/types"
)

var (
	_ Runner = (*executor.Executor)(nil)
	_ Queue  = (*queue.Queue)(nil)
)

// DefaultTimeout is the per-operation budget absent an override, per §4.8.
const DefaultTimeout = 300 * time.Second

// MaxTimeout caps how far a timeout may be extended on retry.
const MaxTimeout = 1200 * time.Second

// DefaultGrace is how long the supervisor waits for a timed-out executor
// to release its resources after cancellation is requested.
const DefaultGrace = 5 * time.Second

// WarningThreshold is the fraction of the budget at which a warning is
// logged, mirroring the original's warning_threshold default of 0.8.
const WarningThreshold = 0.8

// DefaultStaleLeaseTimeout is the age at which a processing lease is
// considered abandoned and forcibly reaped.
const DefaultStaleLeaseTimeout = 3600 * time.Second

// maxTimeoutExtensions bounds how many times a single job may retry after
// a timeout before the supervisor gives up and relies on salvage/abort.
const maxTimeoutExtensions = 2

// Runner executes one leased job; normally *executor.Executor, narrowed to
// an interface so the supervisor can be tested without containerd/LLM deps.
type Runner interface {
	Run(ctx context.Context, job *types.Job) error
}

// Queue is the subset of queue.Queue the supervisor drives directly,
// independent of whatever the Runner itself already does through its own
// queue reference.
type Queue interface {
	Cancel(ctx context.Context, jobID string) error
	Fail(ctx context.Context, job *types.Job, workerID, reason string) (bool, error)
	ReapStaleLeases(ctx context.Context, staleTimeout time.Duration) (int, error)
}

// Config tunes the supervisor's timeout/grace/reap behavior.
type Config struct {
	Timeout          time.Duration
	MaxTimeout       time.Duration
	Grace            time.Duration
	StaleLeaseTimeout time.Duration
	ReapInterval     time.Duration
}

// DefaultConfig returns the §4.8 defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:           DefaultTimeout,
		MaxTimeout:        MaxTimeout,
		Grace:             DefaultGrace,
		StaleLeaseTimeout: DefaultStaleLeaseTimeout,
		ReapInterval:      30 * time.Second,
	}
}

// Supervisor wraps a Runner with timeout enforcement, classification, and
// background lease reaping.
type Supervisor struct {
	runner Runner
	queue  Queue
	cfg    Config
	stopCh chan struct{}
}

// New constructs a Supervisor.
func New(runner Runner, q Queue, cfg Config) *Supervisor {
	return &Supervisor{runner: runner, queue: q, cfg: cfg, stopCh: make(chan struct{})}
}

// Supervise runs job to completion under timeout/grace enforcement,
// retrying in-process on a retry-policy classification: a Timeout up to
// maxTimeoutExtensions times, each with an extended budget, and a Generic
// failure once, before accepting whatever the final attempt produced.
func (s *Supervisor) Supervise(ctx context.Context, job *types.Job) error {
	log := obslog.WithComponent("supervisor")
	timeout := s.cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	var lastErr error
	for attempt := 0; attempt <= maxTimeoutExtensions; attempt++ {
		timer := obsmetrics.NewTimer()
		err := s.runOnce(ctx, job, timeout)
		timer.ObserveDurationVec(obsmetrics.PipelineStageDuration, "supervised_attempt")

		if err == nil {
			return nil
		}
		lastErr = err

		classification := Classify(err, err == errDeadline)
		obsmetrics.FailureClassifications.WithLabelValues(string(classification.Class), string(classification.Severity)).Inc()

		genericRetried := classification.Class == ClassGeneric && attempt >= 1
		if classification.Policy != PolicyRetry || attempt == maxTimeoutExtensions || genericRetried {
			log.Error().Str("job_id", job.ID).Str("class", string(classification.Class)).
				Str("policy", string(classification.Policy)).Msg("supervised job not retried further")
			return lastErr
		}

		if classification.Class == ClassTimeout {
			next := timeout * 3 / 2
			budgetCap := s.cfg.MaxTimeout
			if budgetCap <= 0 {
				budgetCap = MaxTimeout
			}
			if next > budgetCap {
				next = budgetCap
			}
			log.Warn().Str("job_id", job.ID).Dur("old_timeout", timeout).Dur("new_timeout", next).
				Msg("extending timeout and retrying")
			timeout = next
		}
	}
	return lastErr
}

// errDeadline is a sentinel distinguishing "the supervisor's own deadline
// tripped" from an error bubbling up out of the runner itself.
var errDeadline = &deadlineErr{}

type deadlineErr struct{}

func (e *deadlineErr) Error() string { return "supervisor: operation deadline exceeded" }

// runOnce executes one attempt with the given timeout, enforcing the grace
// period and a warning log at WarningThreshold.
func (s *Supervisor) runOnce(parent context.Context, job *types.Job, timeout time.Duration) error {
	log := obslog.WithComponent("supervisor")
	subCtx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.runner.Run(subCtx, job)
	}()

	warnTimer := time.NewTimer(time.Duration(float64(timeout) * WarningThreshold))
	defer warnTimer.Stop()

	for {
		select {
		case err := <-done:
			return err
		case <-warnTimer.C:
			log.Warn().Str("job_id", job.ID).Dur("budget", timeout).Msg("job approaching timeout budget")
		case <-subCtx.Done():
			return s.handleDeadline(parent, job, done)
		}
	}
}

// handleDeadline is invoked once the per-attempt context is exceeded. It
// requests cancellation through the queue so the runner observes it at its
// next cooperative checkpoint, then waits up to the grace period.
func (s *Supervisor) handleDeadline(parent context.Context, job *types.Job, done <-chan error) error {
	log := obslog.WithComponent("supervisor")
	log.Warn().Str("job_id", job.ID).Msg("job timed out, requesting cancellation and waiting grace period")

	cancelCtx, cancel := context.WithTimeout(parent, 2*time.Second)
	if err := s.queue.Cancel(cancelCtx, job.ID); err != nil {
		log.Error().Str("job_id", job.ID).Err(err).Msg("failed to request cooperative cancellation")
	}
	cancel()

	grace := s.cfg.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}
	select {
	case err := <-done:
		if err != nil {
			return err
		}
		return errDeadline
	case <-time.After(grace):
		log.Error().Str("job_id", job.ID).Msg("runner did not release resources within grace period, forcing failure")
		failCtx, failCancel := context.WithTimeout(parent, 5*time.Second)
		defer failCancel()
		if _, ferr := s.queue.Fail(failCtx, job, job.WorkerID, "timeout exceeded grace period"); ferr != nil {
			log.Error().Str("job_id", job.ID).Err(ferr).Msg("failed to force-fail timed-out job")
		}
		return errDeadline
	}
}

// StartReaping launches the periodic stale-lease reaping loop. It blocks
// until ctx is cancelled or Stop is called.
func (s *Supervisor) StartReaping(ctx context.Context) {
	log := obslog.WithComponent("supervisor")
	interval := s.cfg.ReapInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Dur("interval", interval).Msg("lease reaper started")
	for {
		select {
		case <-ticker.C:
			s.reapCycle(ctx)
		case <-ctx.Done():
			log.Info().Msg("lease reaper stopped")
			return
		case <-s.stopCh:
			log.Info().Msg("lease reaper stopped")
			return
		}
	}
}

// Stop ends a running StartReaping loop.
func (s *Supervisor) Stop() {
	close(s.stopCh)
}

func (s *Supervisor) reapCycle(ctx context.Context) {
	log := obslog.WithComponent("supervisor")
	timer := obsmetrics.NewTimer()
	defer timer.ObserveDuration(obsmetrics.SupervisorCycleDuration)

	staleTimeout := s.cfg.StaleLeaseTimeout
	if staleTimeout <= 0 {
		staleTimeout = DefaultStaleLeaseTimeout
	}
	n, err := s.queue.ReapStaleLeases(ctx, staleTimeout)
	if err != nil {
		log.Error().Err(err).Msg("lease reap cycle failed")
		return
	}
	if n > 0 {
		log.Info().Int("count", n).Msg("reaped stale leases")
	}
}
