package executor

import (
	"os"
	"path/filepath"
)

// writeScratchFile materializes data under dir/<jobID>.bin so the
// decompiler implementations, which operate on filesystem paths, have
// something to bind-mount or exec against. Callers are responsible for
// cleanup; Analyze implementations do not mutate the input.
func writeScratchFile(dir, jobID string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, jobID+".bin")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
