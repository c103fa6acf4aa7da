package decompiler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/Onegaishimas/bin2nlp/internal/bin2nlperr"
	"github.com/Onegaishimas/bin2nlp/internal/obslog"
)

const sandboxNamespace = "bin2nlp"

// SandboxDecompiler runs one fixed decompiler image per invocation inside a
// containerd sandbox, with CPU/memory limits and a bind-mounted
// input/output directory. The uploaded binary is untrusted, so no network
// access or extra mounts are granted beyond the working directory.
type SandboxDecompiler struct {
	client    *containerd.Client
	image     string
	cpuLimit  float64 // cores
	memLimitBytes int64
	workDir   string
}

// NewSandboxDecompiler connects to containerd at socketPath and configures
// the fixed analysis image.
func NewSandboxDecompiler(socketPath, image, workDir string, cpuLimit float64, memLimitBytes int64) (*SandboxDecompiler, error) {
	if socketPath == "" {
		socketPath = "/run/containerd/containerd.sock"
	}
	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("decompiler: connect to containerd: %w", err)
	}
	return &SandboxDecompiler{client: client, image: image, cpuLimit: cpuLimit, memLimitBytes: memLimitBytes, workDir: workDir}, nil
}

// Close releases the containerd client.
func (d *SandboxDecompiler) Close() error {
	if d.client != nil {
		return d.client.Close()
	}
	return nil
}

// Analyze pulls the fixed image (if not cached), runs it against path with
// the requested depth, and parses its JSON result document from the
// mounted output directory.
func (d *SandboxDecompiler) Analyze(ctx context.Context, path string, depth Depth) (*Document, error) {
	ctx = namespaces.WithNamespace(ctx, sandboxNamespace)
	log := obslog.WithComponent("decompiler")

	image, err := d.client.GetImage(ctx, d.image)
	if err != nil {
		image, err = d.client.Pull(ctx, d.image, containerd.WithPullUnpack)
		if err != nil {
			return nil, bin2nlperr.Wrap(bin2nlperr.ProviderUnavailable, "decompiler", "pull analysis image", err)
		}
	}

	jobDir, err := os.MkdirTemp(d.workDir, "job-*")
	if err != nil {
		return nil, bin2nlperr.Wrap(bin2nlperr.Storage, "decompiler", "create job work dir", err)
	}
	defer os.RemoveAll(jobDir)

	outputPath := filepath.Join(jobDir, "result.json")
	containerID := fmt.Sprintf("decomp-%d", time.Now().UnixNano())

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv([]string{"ANALYSIS_DEPTH=" + string(depth)}),
		oci.WithMounts([]specs.Mount{
			{Source: path, Destination: "/input/binary", Type: "bind", Options: []string{"ro", "bind"}},
			{Source: jobDir, Destination: "/output", Type: "bind", Options: []string{"bind"}},
		}),
	}
	if d.cpuLimit > 0 {
		opts = append(opts, oci.WithCPUCFS(int64(d.cpuLimit*100000), 100000))
	}
	if d.memLimitBytes > 0 {
		opts = append(opts, oci.WithMemoryLimit(uint64(d.memLimitBytes)))
	}

	container, err := d.client.NewContainer(ctx, containerID,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(containerID+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return nil, bin2nlperr.Wrap(bin2nlperr.Processing, "decompiler", "create sandbox container", err)
	}
	defer container.Delete(context.Background(), containerd.WithSnapshotCleanup)

	task, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		return nil, bin2nlperr.Wrap(bin2nlperr.Processing, "decompiler", "create sandbox task", err)
	}
	defer task.Delete(context.Background())

	statusC, err := task.Wait(ctx)
	if err != nil {
		return nil, bin2nlperr.Wrap(bin2nlperr.Processing, "decompiler", "wait on sandbox task", err)
	}
	if err := task.Start(ctx); err != nil {
		return nil, bin2nlperr.Wrap(bin2nlperr.Processing, "decompiler", "start sandbox task", err)
	}

	select {
	case status := <-statusC:
		if status.ExitCode() != 0 {
			return nil, bin2nlperr.New(bin2nlperr.FormatUnsupported, "decompiler", "analysis process exited non-zero").
				WithDetail("exit_code", status.ExitCode())
		}
	case <-ctx.Done():
		_ = task.Kill(context.Background(), syscall.SIGKILL)
		return nil, bin2nlperr.Wrap(bin2nlperr.Timeout, "decompiler", "analysis deadline exceeded", ctx.Err())
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, bin2nlperr.Wrap(bin2nlperr.Processing, "decompiler", "read analysis output", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, bin2nlperr.Wrap(bin2nlperr.FormatUnsupported, "decompiler", "parse analysis output", err)
	}
	log.Debug().Int("functions", len(doc.Functions)).Msg("decompilation complete")
	return &doc, nil
}
