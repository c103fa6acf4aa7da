package executor

import (
	"context"
	"fmt"

	"github.com/Onegaishimas/bin2nlp/internal/decompiler"
	"github.com/Onegaishimas/bin2nlp/internal/llmprovider"
	"github.com/Onegaishimas/bin2nlp/internal/obsmetrics"
	"github.com/Onegaishimas/bin2nlp/internal/types"
)

// maxCompletionTokens bounds a single artifact's translation, generous
// enough for a function's worth of prose without an unbounded cost per call.
const maxCompletionTokens = 600

// stageBResult accumulates Stage B's per-artifact outcomes before
// buildResultDocument reshapes them into the wire schema.
type stageBResult struct {
	Functions      []ArtifactResult
	Imports        []ArtifactResult
	Strings        []ArtifactResult
	Summary        string
	FailedCount    int
	SucceededCount int
}

// translate runs Stage B over doc per job.Config.TranslationDetail,
// consulting the rate limiter before every outbound call and polling
// cancellation between artifacts. It returns the merged result (possibly
// partial on cancellation) and whether the result is salvaged: true when a
// cancellation (including a supervisor timeout, which cancels through the
// queue) cut Stage B short, or when some artifacts failed translation while
// at least one succeeded.
func (e *Executor) translate(ctx context.Context, job *types.Job, doc *decompiler.Document, provider llmprovider.Provider) (*stageBResult, bool, error) {
	result := &stageBResult{}
	limiterID := job.TenantID + ":" + string(provider.Kind())

	total := len(doc.Functions)
	if job.Config.TranslationDetail != types.DetailBasic {
		total += len(doc.Imports)
	}
	if job.Config.TranslationDetail == types.DetailDetailed {
		total += len(doc.Strings)
	}
	if total == 0 {
		total = 1
	}
	done := 0
	reportProgress := func() error {
		done++
		pct := 70 + (done*20)/total
		if pct > 90 {
			pct = 90
		}
		return e.queue.UpdateProgress(ctx, job.ID, job.WorkerID, pct, "translating")
	}

	for _, fn := range doc.Functions {
		if cancelled, err := e.checkCancelled(ctx, job.ID); err != nil {
			return result, false, err
		} else if cancelled {
			return result, true, errCancelled
		}
		ar := e.translateOne(ctx, "function", fn.Name, fn.EntryAddress, functionPrompt(fn), limiterID, job.Config.AnalysisDepth, provider)
		result.Functions = append(result.Functions, ar)
		if ar.Err == "" {
			result.SucceededCount++
		} else {
			result.FailedCount++
		}
		if err := reportProgress(); err != nil {
			return result, false, err
		}
	}

	if job.Config.TranslationDetail != types.DetailBasic {
		for _, imp := range doc.Imports {
			if cancelled, err := e.checkCancelled(ctx, job.ID); err != nil {
				return result, false, err
			} else if cancelled {
				return result, true, errCancelled
			}
			ar := e.translateOne(ctx, "import", imp.Symbol, imp.Library, importPrompt(imp), limiterID, job.Config.AnalysisDepth, provider)
			result.Imports = append(result.Imports, ar)
			if ar.Err == "" {
				result.SucceededCount++
			} else {
				result.FailedCount++
			}
			if err := reportProgress(); err != nil {
				return result, false, err
			}
		}
	}

	if job.Config.TranslationDetail == types.DetailDetailed {
		for _, s := range doc.Strings {
			if cancelled, err := e.checkCancelled(ctx, job.ID); err != nil {
				return result, false, err
			} else if cancelled {
				return result, true, errCancelled
			}
			ar := e.translateOne(ctx, "string", s.Content, s.Address, stringPrompt(s), limiterID, job.Config.AnalysisDepth, provider)
			result.Strings = append(result.Strings, ar)
			if ar.Err == "" {
				result.SucceededCount++
			} else {
				result.FailedCount++
			}
			if err := reportProgress(); err != nil {
				return result, false, err
			}
		}

		if summary, err := e.summarize(ctx, job, doc, limiterID, provider); err == nil {
			result.Summary = summary
		}
	}

	if result.SucceededCount == 0 {
		return result, false, fmt.Errorf("all %d artifacts failed translation", result.FailedCount)
	}
	return result, result.FailedCount > 0, nil
}

func (e *Executor) checkCancelled(ctx context.Context, jobID string) (bool, error) {
	return e.queue.IsCancelled(ctx, jobID)
}

func (e *Executor) translateOne(ctx context.Context, kind, name, ref, prompt, limiterID string, depth types.AnalysisDepth, provider llmprovider.Provider) ArtifactResult {
	estimated := int64(provider.EstimateTokens(prompt) + maxCompletionTokens)
	decision, err := e.limiter.Check(ctx, limiterID, types.TierLLM, estimated)
	if err != nil {
		return ArtifactResult{Kind: kind, Name: name, Ref: ref, Err: "rate limiter error: " + err.Error()}
	}
	if !decision.Allowed {
		obsmetrics.ArtifactTranslationsTotal.WithLabelValues(kind, "rate_limited").Inc()
		return ArtifactResult{Kind: kind, Name: name, Ref: ref, Err: fmt.Sprintf("rate limited, retry after %s", decision.RetryAfter)}
	}

	timer := obsmetrics.NewTimer()
	completion, err := provider.Generate(ctx, prompt, maxCompletionTokens)
	timer.ObserveDurationVec(obsmetrics.LLMCallDuration, string(provider.Kind()))
	if err != nil {
		obsmetrics.ArtifactTranslationsTotal.WithLabelValues(kind, "error").Inc()
		return ArtifactResult{Kind: kind, Name: name, Ref: ref, Err: err.Error()}
	}
	obsmetrics.ArtifactTranslationsTotal.WithLabelValues(kind, "ok").Inc()
	return ArtifactResult{Kind: kind, Name: name, Ref: ref, Text: completion.Text}
}

func (e *Executor) summarize(ctx context.Context, job *types.Job, doc *decompiler.Document, limiterID string, provider llmprovider.Provider) (string, error) {
	prompt := summaryPrompt(doc)
	estimated := int64(provider.EstimateTokens(prompt) + maxCompletionTokens)
	decision, err := e.limiter.Check(ctx, limiterID, types.TierLLM, estimated)
	if err != nil {
		return "", err
	}
	if !decision.Allowed {
		return "", fmt.Errorf("rate limited")
	}
	completion, err := provider.Generate(ctx, prompt, maxCompletionTokens)
	if err != nil {
		return "", err
	}
	return completion.Text, nil
}

func functionPrompt(fn decompiler.Function) string {
	return fmt.Sprintf("Explain in plain English what the following decompiled function does.\nName: %s\nEntry: %s\n\n%s",
		fn.Name, fn.EntryAddress, firstNonEmpty(fn.Pseudocode, fn.Disassembly))
}

func importPrompt(imp decompiler.Import) string {
	return fmt.Sprintf("Briefly explain the purpose of the imported symbol %q from library %q in the context of a native binary.", imp.Symbol, imp.Library)
}

func stringPrompt(s decompiler.StringLiteral) string {
	return fmt.Sprintf("Briefly explain the likely significance of this string literal found in a binary: %q", s.Content)
}

func summaryPrompt(doc *decompiler.Document) string {
	return fmt.Sprintf("Given a binary with %d functions, %d imports, and %d strings (format %s, architecture %s), write a short overall summary of what the program likely does.",
		len(doc.Functions), len(doc.Imports), len(doc.Strings), doc.File.Format, doc.File.Architecture)
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
