package decompiler

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"

	"github.com/Onegaishimas/bin2nlp/internal/bin2nlperr"
)

// ExecDecompiler shells out to a locally installed analysis binary instead
// of a sandbox container — used in development and single-tenant
// deployments where container isolation is unnecessary. It is swapped for
// SandboxDecompiler by changing wiring, not code (§9's capability-set
// replacement for subclass polymorphism applies here too).
type ExecDecompiler struct {
	BinaryPath string
}

// NewExecDecompiler wraps the analysis tool at binaryPath.
func NewExecDecompiler(binaryPath string) *ExecDecompiler {
	return &ExecDecompiler{BinaryPath: binaryPath}
}

// Analyze runs `<BinaryPath> --depth=<depth> --format=json <path>` and
// parses its stdout as a Document.
func (d *ExecDecompiler) Analyze(ctx context.Context, path string, depth Depth) (*Document, error) {
	cmd := exec.CommandContext(ctx, d.BinaryPath, "--depth="+string(depth), "--format=json", path)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, bin2nlperr.Wrap(bin2nlperr.Timeout, "decompiler", "analysis deadline exceeded", ctx.Err())
		}
		return nil, bin2nlperr.Wrap(bin2nlperr.Processing, "decompiler", "analysis subprocess failed", err).
			WithDetail("stderr", stderr.String())
	}

	var doc Document
	if err := json.Unmarshal(stdout.Bytes(), &doc); err != nil {
		return nil, bin2nlperr.Wrap(bin2nlperr.FormatUnsupported, "decompiler", "parse analysis output", err)
	}
	return &doc, nil
}
