package blobstore

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Onegaishimas/bin2nlp/internal/obslog"
	"github.com/Onegaishimas/bin2nlp/internal/obsmetrics"
)

// Sweep walks the tree once and reclaims every expired payload/meta/lock
// triple, returning the count reclaimed.
func (s *Store) Sweep() (int, error) {
	reclaimed := 0
	log := obslog.WithComponent("blobstore")
	now := time.Now().UTC()

	err := filepath.WalkDir(s.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".meta") {
			return nil
		}
		metaBytes, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		var meta Meta
		if jsonErr := json.Unmarshal(metaBytes, &meta); jsonErr != nil {
			return nil
		}
		if now.Before(meta.ExpiresAt) {
			return nil
		}
		if delErr := s.Delete(meta.Key); delErr != nil {
			log.Warn().Err(delErr).Str("key", meta.Key).Msg("sweep failed to reclaim expired blob")
			return nil
		}
		reclaimed++
		return nil
	})
	if err != nil {
		return reclaimed, err
	}
	obsmetrics.BlobSweepReclaimedTotal.Add(float64(reclaimed))
	return reclaimed, nil
}

// RunSweepLoop runs Sweep on a ticker until ctx is cancelled. Intended to be
// run as one of the service's background tasks (§5).
func (s *Store) RunSweepLoop(ctx context.Context, interval time.Duration) {
	log := obslog.WithComponent("blobstore")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Sweep()
			if err != nil {
				log.Error().Err(err).Msg("blob sweep cycle failed")
				continue
			}
			if n > 0 {
				log.Info().Int("reclaimed", n).Msg("blob sweep reclaimed expired pairs")
			}
		}
	}
}
