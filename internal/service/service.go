// Package service is the top-level assembly point: it constructs every
// component (C1-C9) from a loaded Config, wires their dependency interfaces
// together, and runs the worker pool plus the background tasks (lease
// reaping, blob sweep, rate-counter cleanup) under one errgroup.
//
// Grounded on pkg/manager/manager.go's role as "one struct wires everything,
// exposes lifecycle methods" — the raft/grpc/DNS/ingress machinery that
// dominates that file has no counterpart here, but the shape (a Config,
// a constructor that builds every collaborator, Start/Shutdown methods)
// is carried over directly.
package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Onegaishimas/bin2nlp/internal/blobstore"
	"github.com/Onegaishimas/bin2nlp/internal/config"
	"github.com/Onegaishimas/bin2nlp/internal/decompiler"
	"github.com/Onegaishimas/bin2nlp/internal/executor"
	"github.com/Onegaishimas/bin2nlp/internal/health"
	"github.com/Onegaishimas/bin2nlp/internal/httpapi"
	"github.com/Onegaishimas/bin2nlp/internal/llmprovider"
	"github.com/Onegaishimas/bin2nlp/internal/obslog"
	"github.com/Onegaishimas/bin2nlp/internal/queue"
	"github.com/Onegaishimas/bin2nlp/internal/ratelimit"
	"github.com/Onegaishimas/bin2nlp/internal/resultcache"
	"github.com/Onegaishimas/bin2nlp/internal/session"
	"github.com/Onegaishimas/bin2nlp/internal/store"
	"github.com/Onegaishimas/bin2nlp/internal/supervisor"
	"github.com/Onegaishimas/bin2nlp/internal/vault"
)

// Service owns every component's lifetime and the background goroutines
// that drive the pipeline end to end.
type Service struct {
	cfg *config.Config

	store      *store.Store
	blobs      *blobstore.Store
	vault      *vault.Vault
	limiter    *ratelimit.Limiter
	cache      *resultcache.Cache
	queue      *queue.Queue
	decomp     decompiler.Decompiler
	providers  *llmprovider.Registry
	exec       *executor.Executor
	supervisor *supervisor.Supervisor
	sessions   *session.Manager
	health     *health.Aggregator
	api        *httpapi.Server

	cancel context.CancelFunc
}

// New constructs every component from cfg, failing fast if a core
// collaborator cannot be built (e.g. the metadata store is unreachable). A
// provider whose configuration is incomplete or fails to build is logged
// and left out of the registry; New does not fail for it.
func New(ctx context.Context, cfg *config.Config) (*Service, error) {
	st, err := store.New(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("service: metadata store: %w", err)
	}

	blobs, err := blobstore.New(cfg.BlobBasePath)
	if err != nil {
		return nil, fmt.Errorf("service: blob store: %w", err)
	}

	var vlt *vault.Vault
	if len(cfg.VaultKey) == 32 {
		vlt, err = vault.New(cfg.VaultKey)
	} else {
		vlt, err = vault.NewFromPassphrase(cfg.DatabaseDSN)
	}
	if err != nil {
		return nil, fmt.Errorf("service: credential vault: %w", err)
	}

	limiter := ratelimit.New(st, cfg.TierTable)
	cache := resultcache.New(st, blobs, resultcache.DefaultBaseTTL)
	q := queue.New(st)
	sessions := session.New(st, session.DefaultIdleTimeout)

	dec, err := buildDecompiler(cfg)
	if err != nil {
		return nil, fmt.Errorf("service: decompiler: %w", err)
	}

	providerCfgs := buildProviderConfigs(cfg)
	registry, provErrs := llmprovider.NewRegistry(ctx, providerCfgs)
	for _, perr := range provErrs {
		obslog.WithComponent("service").Warn().Err(perr).Msg("provider not configured, continuing without it")
	}

	exec := executor.New(dec, registry, st, vlt, limiter, blobs, cache, q, cfg.ScratchDir)

	supCfg := supervisor.DefaultConfig()
	supCfg.Timeout = cfg.DefaultOperationTimeout
	supCfg.MaxTimeout = cfg.MaxOperationTimeout
	supCfg.Grace = cfg.CancelGracePeriod
	supCfg.StaleLeaseTimeout = cfg.StaleLeaseTimeout
	sup := supervisor.New(exec, q, supCfg)

	healthAgg := health.NewAggregator(map[string]health.Checker{
		"store": health.NewStoreChecker(st),
		"blob":  health.NewBlobChecker(blobs),
	}, 5*time.Second)

	deadLetterLister := st
	api := httpapi.New(httpapi.Deps{
		Sessions:           sessions,
		Limiter:            limiter,
		Blobs:              blobs,
		Queue:              q,
		Cache:              cache,
		DeadLetters:        deadLetterLister,
		Health:             healthAgg,
		Vault:              vlt,
		Credentials:        st,
		DefaultIngressTier: cfg.DefaultIngressTier,
		MaxFileSizeBytes:   cfg.MaxFileSizeBytes,
	})

	return &Service{
		cfg:        cfg,
		store:      st,
		blobs:      blobs,
		vault:      vlt,
		limiter:    limiter,
		cache:      cache,
		queue:      q,
		decomp:     dec,
		providers:  registry,
		exec:       exec,
		supervisor: sup,
		sessions:   sessions,
		health:     healthAgg,
		api:        api,
	}, nil
}

func buildDecompiler(cfg *config.Config) (decompiler.Decompiler, error) {
	switch cfg.DecompilerMode {
	case "sandbox":
		return decompiler.NewSandboxDecompiler(
			cfg.ContainerdSocketPath, cfg.DecompilerImage, cfg.ScratchDir,
			cfg.DecompilerCPULimit, cfg.DecompilerMemLimitBytes,
		)
	default:
		return decompiler.NewExecDecompiler(cfg.DecompilerBinaryPath), nil
	}
}

// buildProviderConfigs derives one llmprovider.Config per enabled provider
// kind from per-kind environment variables. These seed the deployment-wide
// registry, the lowest-priority tier of the executor's provider resolution:
// a job's own inline provider_api_key override, then a tenant's stored C3
// credential, are both tried first (see internal/executor/provider_resolve.go).
func buildProviderConfigs(cfg *config.Config) []llmprovider.Config {
	out := make([]llmprovider.Config, 0, len(cfg.EnabledProviders))
	for _, kind := range cfg.EnabledProviders {
		envPrefix := "BIN2NLP_" + strings.ToUpper(string(kind))
		pc := llmprovider.Config{
			Kind:     kind,
			APIKey:   os.Getenv(envPrefix + "_API_KEY"),
			Endpoint: os.Getenv(envPrefix + "_ENDPOINT"),
			Model:    os.Getenv(envPrefix + "_MODEL"),
			Timeout:  cfg.DefaultOperationTimeout,
		}
		if err := pc.Validate(); err != nil {
			obslog.WithComponent("service").Warn().Err(err).Str("kind", string(kind)).
				Msg("skipping provider: configuration incomplete")
			continue
		}
		out = append(out, pc)
	}
	return out
}

// Handler exposes the HTTP ingress layer for a caller-owned http.Server.
func (s *Service) Handler() *httpapi.Server { return s.api }

// Run starts the worker pool and every background task, blocking until ctx
// is cancelled or a component returns a fatal error.
func (s *Service) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < s.cfg.MaxWorkerConcurrency; i++ {
		workerID := fmt.Sprintf("worker-%d", i)
		g.Go(func() error {
			s.runWorkerLoop(ctx, workerID)
			return nil
		})
	}

	g.Go(func() error {
		s.supervisor.StartReaping(ctx)
		return nil
	})

	g.Go(func() error {
		s.blobs.RunSweepLoop(ctx, s.cfg.BlobSweepInterval)
		return nil
	})

	g.Go(func() error {
		s.runRateCounterCleanupLoop(ctx)
		return nil
	})

	return g.Wait()
}

// Shutdown stops the background tasks and releases the store's connection
// pool. It does not stop any http.Server built around Handler(); the caller
// owns that lifecycle.
func (s *Service) Shutdown() {
	if s.cancel != nil {
		s.cancel()
	}
	s.supervisor.Stop()
	s.store.Close()
}

// runWorkerLoop repeatedly leases the next job and supervises it to
// completion, backing off briefly when the queue is empty. Grounded on the
// poll-lease-execute shape implied by queue.Dequeue/Queue.Backend's
// AtomicLeaseNext contract (no push notification exists; C6 is polled).
func (s *Service) runWorkerLoop(ctx context.Context, workerID string) {
	log := obslog.WithComponent("service").With().Str("worker_id", workerID).Logger()
	const idleBackoff = 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := s.queue.Dequeue(ctx, workerID)
		if err != nil {
			log.Error().Err(err).Msg("dequeue failed")
			sleepOrDone(ctx, idleBackoff)
			continue
		}
		if job == nil {
			sleepOrDone(ctx, idleBackoff)
			continue
		}

		if err := s.supervisor.Supervise(ctx, job); err != nil {
			log.Error().Str("job_id", job.ID).Err(err).Msg("job did not complete successfully")
		}
	}
}

// runRateCounterCleanupLoop periodically purges aged-out rate-limit
// counter rows, mirroring the cadence of the blob sweep and lease reap
// loops above.
func (s *Service) runRateCounterCleanupLoop(ctx context.Context) {
	log := obslog.WithComponent("service")
	interval := s.cfg.RateCounterCleanupInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.limiter.CleanupExpired(ctx)
			if err != nil {
				log.Error().Err(err).Msg("rate counter cleanup failed")
				continue
			}
			if n > 0 {
				log.Info().Int64("purged", n).Msg("rate counter cleanup reclaimed expired rows")
			}
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
