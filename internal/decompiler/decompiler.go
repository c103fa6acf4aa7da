// Package decompiler implements the Stage A collaborator boundary: an
// interface over the external binary-analysis tool (out of scope per §1),
// plus a sandboxed containerd implementation and an exec-based dev
// implementation.
//
// Grounded on pkg/runtime/containerd.go's PullImage/CreateContainer/
// StartContainer/StopContainer lifecycle (oci.SpecOpts resource limits,
// task Wait/Kill-with-grace-period shutdown), repurposed from general
// workload execution to one fixed decompiler image run once per job
// against an untrusted uploaded binary.
package decompiler

import (
	"context"
	"time"
)

// Depth is the collaborator's own depth dial, distinct from
// types.AnalysisDepth — the pipeline executor maps one onto the other
// per §4.7 (basic→shallow, standard→default, comprehensive→full).
type Depth string

const (
	DepthShallow Depth = "shallow"
	DepthDefault Depth = "default"
	DepthFull    Depth = "full"
)

// MapAnalysisDepth implements the Stage A depth mapping of §4.7.
func MapAnalysisDepth(d string) Depth {
	switch d {
	case "basic":
		return DepthShallow
	case "comprehensive", "deep":
		return DepthFull
	default:
		return DepthDefault
	}
}

// Function describes one decompiled function.
type Function struct {
	Name          string   `json:"name"`
	EntryAddress  string   `json:"entry_address"`
	Size          int64    `json:"size"`
	Disassembly   string   `json:"disassembly"`
	Pseudocode    string   `json:"pseudocode"`
	CallTargets   []string `json:"call_targets"`
}

// Import describes one imported symbol.
type Import struct {
	Library     string `json:"library"`
	Symbol      string `json:"symbol"`
	BindAddress string `json:"bind_address"`
}

// StringLiteral describes one extracted string literal.
type StringLiteral struct {
	Content  string `json:"content"`
	Address  string `json:"address"`
	Encoding string `json:"encoding"`
}

// FileMetadata describes the analyzed binary itself.
type FileMetadata struct {
	Format       string `json:"format"`
	Architecture string `json:"architecture"`
	EntryPoint   string `json:"entry_point"`
	SizeBytes    int64  `json:"size_bytes"`
}

// Document is Stage A's structured output, per §4.7.
type Document struct {
	Functions []Function      `json:"functions"`
	Imports   []Import        `json:"imports"`
	Strings   []StringLiteral `json:"strings"`
	File      FileMetadata    `json:"file"`
}

// Decompiler is the capability the pipeline executor drives for Stage A.
// The concrete analysis tool is out of scope (§1); implementations wrap
// whatever collaborator is deployed.
type Decompiler interface {
	// Analyze runs the collaborator against the binary at path with the
	// requested depth, returning a structured Document. Implementations
	// must honor ctx's deadline and return promptly on cancellation.
	Analyze(ctx context.Context, path string, depth Depth) (*Document, error)
}

// Options holds timing settings for a Decompiler. No constructor in this
// package (NewExecDecompiler, NewSandboxDecompiler) takes an Options value,
// so StartupGrace is not applied: an analysis is bounded by ctx alone.
type Options struct {
	// StartupGrace is an allowance for the collaborator's process/container
	// startup cost.
	StartupGrace time.Duration
}
