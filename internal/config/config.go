// Package config loads the service's closed configuration record from the
// environment. Per SPEC_FULL.md's AMBIENT STACK, configuration is a fixed
// field set validated once at startup rather than an open dict read
// piecemeal through the codebase.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Onegaishimas/bin2nlp/internal/types"
)

// Config is the full closed configuration record enumerated in SPEC_FULL.md §6.
type Config struct {
	// Metadata store
	DatabaseDSN string

	// Blob store
	BlobBasePath   string
	MaxFileSizeBytes int64
	BlobSweepInterval time.Duration

	// Timeouts
	DefaultOperationTimeout time.Duration
	MaxOperationTimeout     time.Duration
	StaleLeaseTimeout       time.Duration
	CancelGracePeriod       time.Duration

	// Rate limiting
	TierTable            map[types.RateTier]types.TierLimits
	RateCounterCleanupInterval time.Duration

	// Workers
	MaxWorkerConcurrency int
	ScratchDir           string

	// Stage A decompiler (§4.7)
	DecompilerMode            string // "exec" or "sandbox"
	DecompilerBinaryPath      string
	ContainerdSocketPath      string
	DecompilerImage           string
	DecompilerCPULimit        float64
	DecompilerMemLimitBytes   int64

	// Credential vault
	VaultKey []byte

	// Providers
	EnabledProviders []types.ProviderKind

	// HTTP ingress
	ListenAddress      string
	DefaultIngressTier types.RateTier

	// Logging
	LogLevel  string
	LogJSON   bool
}

// Load reads Config from the process environment, applying defaults and
// then validating. It fails fast: a misconfigured service should not start
// accepting connections.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseDSN:                getEnv("BIN2NLP_DATABASE_DSN", ""),
		BlobBasePath:               getEnv("BIN2NLP_BLOB_BASE_PATH", "./data/blobs"),
		MaxFileSizeBytes:           getEnvInt64("BIN2NLP_MAX_FILE_SIZE_BYTES", 50*1024*1024),
		BlobSweepInterval:          getEnvDuration("BIN2NLP_BLOB_SWEEP_INTERVAL", 5*time.Minute),
		DefaultOperationTimeout:    getEnvDuration("BIN2NLP_DEFAULT_OPERATION_TIMEOUT", 300*time.Second),
		MaxOperationTimeout:        getEnvDuration("BIN2NLP_MAX_OPERATION_TIMEOUT", 1200*time.Second),
		StaleLeaseTimeout:          getEnvDuration("BIN2NLP_STALE_LEASE_TIMEOUT", 3600*time.Second),
		CancelGracePeriod:          getEnvDuration("BIN2NLP_CANCEL_GRACE_PERIOD", 5*time.Second),
		TierTable:                  types.DefaultTierTable,
		RateCounterCleanupInterval: getEnvDuration("BIN2NLP_RATE_COUNTER_CLEANUP_INTERVAL", time.Hour),
		MaxWorkerConcurrency:       getEnvInt("BIN2NLP_MAX_WORKER_CONCURRENCY", 8),
		ScratchDir:                 getEnv("BIN2NLP_SCRATCH_DIR", "./data/scratch"),
		DecompilerMode:             getEnv("BIN2NLP_DECOMPILER_MODE", "exec"),
		DecompilerBinaryPath:       getEnv("BIN2NLP_DECOMPILER_BINARY_PATH", "/usr/local/bin/bin2nlp-analyze"),
		ContainerdSocketPath:       getEnv("BIN2NLP_CONTAINERD_SOCKET", "/run/containerd/containerd.sock"),
		DecompilerImage:            getEnv("BIN2NLP_DECOMPILER_IMAGE", "bin2nlp/decompiler:latest"),
		DecompilerCPULimit:         getEnvFloat("BIN2NLP_DECOMPILER_CPU_LIMIT", 2.0),
		DecompilerMemLimitBytes:    getEnvInt64("BIN2NLP_DECOMPILER_MEM_LIMIT_BYTES", 2*1024*1024*1024),
		ListenAddress:              getEnv("BIN2NLP_LISTEN_ADDRESS", ":8080"),
		DefaultIngressTier:         types.RateTier(getEnv("BIN2NLP_DEFAULT_INGRESS_TIER", string(types.TierStandard))),
		LogLevel:                   getEnv("BIN2NLP_LOG_LEVEL", "info"),
		LogJSON:                    getEnvBool("BIN2NLP_LOG_JSON", true),
	}

	if keyHex := getEnv("BIN2NLP_VAULT_KEY", ""); keyHex != "" {
		cfg.VaultKey = []byte(keyHex)
	}

	for _, kind := range strings.Split(getEnv("BIN2NLP_ENABLED_PROVIDERS", "anthropic,openai"), ",") {
		kind = strings.TrimSpace(kind)
		if kind == "" {
			continue
		}
		cfg.EnabledProviders = append(cfg.EnabledProviders, types.ProviderKind(kind))
	}

	if path := getEnv("BIN2NLP_TIER_CONFIG_FILE", ""); path != "" {
		if err := cfg.loadTierOverlay(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// tierOverlayFile is the on-disk shape of an optional YAML file overlaying
// the tier table (§4.4/§6: "rate-limit tier values and burst capacities"
// are operator controls). Grounded on cmd/warren/apply.go's
// yaml.Unmarshal-into-tagged-struct pattern for reading operator-supplied
// resource manifests; here the "resource" is the tier table rather than a
// cluster spec.
type tierOverlayFile struct {
	Tiers map[types.RateTier]struct {
		PerMinute     int64 `yaml:"perMinute"`
		PerHour       int64 `yaml:"perHour"`
		PerDay        int64 `yaml:"perDay"`
		BurstCapacity int64 `yaml:"burstCapacity"`
	} `yaml:"tiers"`
}

// loadTierOverlay reads a YAML file of tier overrides and merges it over
// the default tier table. Only tiers present in the file are replaced;
// unmentioned tiers keep their default limits. This is the one piece of
// configuration structured enough (a nested map, not a flat scalar) to
// warrant a file instead of an environment variable; everything else in
// Config stays env-driven per §6.
func (c *Config) loadTierOverlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read tier overlay %q: %w", path, err)
	}
	var overlay tierOverlayFile
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("config: parse tier overlay %q: %w", path, err)
	}
	table := make(map[types.RateTier]types.TierLimits, len(c.TierTable))
	for tier, limits := range c.TierTable {
		table[tier] = limits
	}
	for tier, limits := range overlay.Tiers {
		table[tier] = types.TierLimits{
			PerMinute:     limits.PerMinute,
			PerHour:       limits.PerHour,
			PerDay:        limits.PerDay,
			BurstCapacity: limits.BurstCapacity,
		}
	}
	c.TierTable = table
	return nil
}

// Validate fails fast on configuration that would otherwise surface as a
// confusing runtime error on first request. Grounded on the original
// implementation's config_validation.py startup checks.
func (c *Config) Validate() error {
	if c.DatabaseDSN == "" {
		return fmt.Errorf("config: BIN2NLP_DATABASE_DSN is required")
	}
	if c.MaxFileSizeBytes <= 0 {
		return fmt.Errorf("config: max file size must be positive")
	}
	if c.DefaultOperationTimeout <= 0 || c.MaxOperationTimeout <= 0 {
		return fmt.Errorf("config: operation timeouts must be positive")
	}
	if c.DefaultOperationTimeout > c.MaxOperationTimeout {
		return fmt.Errorf("config: default operation timeout exceeds the configured cap")
	}
	if c.MaxWorkerConcurrency <= 0 {
		return fmt.Errorf("config: max worker concurrency must be positive")
	}
	switch c.DecompilerMode {
	case "exec", "sandbox":
	default:
		return fmt.Errorf("config: unknown decompiler mode %q", c.DecompilerMode)
	}
	if _, ok := c.TierTable[c.DefaultIngressTier]; !ok {
		return fmt.Errorf("config: unknown default ingress tier %q", c.DefaultIngressTier)
	}
	if len(c.VaultKey) != 0 && len(c.VaultKey) != 32 {
		return fmt.Errorf("config: vault key must be exactly 32 bytes when set, got %d", len(c.VaultKey))
	}
	for _, kind := range c.EnabledProviders {
		switch kind {
		case types.ProviderOpenAI, types.ProviderAnthropic, types.ProviderGemini, types.ProviderOllama:
		default:
			return fmt.Errorf("config: unknown provider kind %q", kind)
		}
	}
	return nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt64(key string, def int64) int64 {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
