package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Onegaishimas/bin2nlp/internal/types"
)

func setEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		t.Setenv(k, v)
	}
}

func TestLoadDefaults(t *testing.T) {
	setEnv(t, map[string]string{
		"BIN2NLP_DATABASE_DSN": "postgres://localhost/bin2nlp",
	})
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "./data/blobs", cfg.BlobBasePath)
	assert.Equal(t, int64(50*1024*1024), cfg.MaxFileSizeBytes)
	assert.Equal(t, types.DefaultTierTable[types.TierStandard], cfg.TierTable[types.TierStandard])
	assert.Equal(t, "exec", cfg.DecompilerMode)
}

func TestLoadMissingDSNFails(t *testing.T) {
	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsInvertedTimeouts(t *testing.T) {
	setEnv(t, map[string]string{
		"BIN2NLP_DATABASE_DSN":              "postgres://localhost/bin2nlp",
		"BIN2NLP_DEFAULT_OPERATION_TIMEOUT": "2000s",
		"BIN2NLP_MAX_OPERATION_TIMEOUT":     "1200s",
	})
	_, err := Load()
	assert.ErrorContains(t, err, "exceeds the configured cap")
}

func TestLoadRejectsUnknownDecompilerMode(t *testing.T) {
	setEnv(t, map[string]string{
		"BIN2NLP_DATABASE_DSN":    "postgres://localhost/bin2nlp",
		"BIN2NLP_DECOMPILER_MODE": "bogus",
	})
	_, err := Load()
	assert.ErrorContains(t, err, "unknown decompiler mode")
}

func TestLoadRejectsShortVaultKey(t *testing.T) {
	setEnv(t, map[string]string{
		"BIN2NLP_DATABASE_DSN": "postgres://localhost/bin2nlp",
		"BIN2NLP_VAULT_KEY":    "too-short",
	})
	_, err := Load()
	assert.ErrorContains(t, err, "vault key must be exactly 32 bytes")
}

func TestTierOverlayReplacesOnlyNamedTiers(t *testing.T) {
	dir := t.TempDir()
	overlayPath := filepath.Join(dir, "tiers.yaml")
	yamlBody := "tiers:\n  basic:\n    perMinute: 5\n    perHour: 100\n    perDay: 100\n    burstCapacity: 2\n"
	require.NoError(t, os.WriteFile(overlayPath, []byte(yamlBody), 0o600))

	setEnv(t, map[string]string{
		"BIN2NLP_DATABASE_DSN":     "postgres://localhost/bin2nlp",
		"BIN2NLP_TIER_CONFIG_FILE": overlayPath,
	})
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, int64(5), cfg.TierTable[types.TierBasic].PerMinute)
	assert.Equal(t, int64(2), cfg.TierTable[types.TierBasic].BurstCapacity)
	// Tiers absent from the overlay keep their defaults.
	assert.Equal(t, types.DefaultTierTable[types.TierStandard], cfg.TierTable[types.TierStandard])
}

func TestTierOverlayMissingFileFails(t *testing.T) {
	setEnv(t, map[string]string{
		"BIN2NLP_DATABASE_DSN":     "postgres://localhost/bin2nlp",
		"BIN2NLP_TIER_CONFIG_FILE": "/nonexistent/tiers.yaml",
	})
	_, err := Load()
	assert.ErrorContains(t, err, "read tier overlay")
}
