package supervisor

import (
	"context"
	"errors"

	"github.com/Onegaishimas/bin2nlp/internal/bin2nlperr"
)

// FailureClass is the supervisor's own internal failure taxonomy, distinct
// from bin2nlperr.Class: it drives retry/restart/salvage/abort policy
// rather than HTTP status mapping.
//
// Grounded directly on the original AnalysisRecoveryManager's
// _recovery_strategies dispatch table and ErrorSeverity enum.
type FailureClass string

const (
	ClassTimeout         FailureClass = "timeout"
	ClassFormatError     FailureClass = "format_error"
	ClassConnectionError FailureClass = "connection_error"
	ClassMemoryError     FailureClass = "memory_error"
	ClassProcessError    FailureClass = "process_error"
	ClassGeneric         FailureClass = "generic"
)

// Severity mirrors the original's ErrorSeverity enum, used only for
// diagnostics; it does not affect policy.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Policy is the recovery action the supervisor takes for a classified
// failure, per §4.8's table.
type Policy string

const (
	PolicyRetry    Policy = "retry"
	PolicyRestart  Policy = "restart"
	PolicySalvage  Policy = "salvage"
	PolicyAbort    Policy = "abort"
)

// Classification is the result of classifying one failed executor
// invocation.
type Classification struct {
	Class    FailureClass
	Severity Severity
	Policy   Policy
}

// Classify maps err (and whether the operation's own deadline was exceeded)
// onto the §4.8 classification table. ctxDeadlineExceeded is passed in
// rather than re-derived so the caller's own grace-period bookkeeping stays
// authoritative about what counts as a timeout.
func Classify(err error, ctxDeadlineExceeded bool) Classification {
	if ctxDeadlineExceeded || errors.Is(err, context.DeadlineExceeded) {
		return Classification{Class: ClassTimeout, Severity: SeverityMedium, Policy: PolicyRetry}
	}

	class := bin2nlperr.ClassOf(err)
	switch class {
	case bin2nlperr.FormatUnsupported:
		return Classification{Class: ClassFormatError, Severity: SeverityMedium, Policy: PolicyAbort}
	case bin2nlperr.ProviderUnavailable:
		return Classification{Class: ClassConnectionError, Severity: SeverityHigh, Policy: PolicyRestart}
	case bin2nlperr.Storage:
		return Classification{Class: ClassMemoryError, Severity: SeverityCritical, Policy: PolicySalvage}
	case bin2nlperr.Processing:
		return Classification{Class: ClassProcessError, Severity: SeverityHigh, Policy: PolicyRestart}
	case bin2nlperr.Timeout:
		return Classification{Class: ClassTimeout, Severity: SeverityMedium, Policy: PolicyRetry}
	default:
		return Classification{Class: ClassGeneric, Severity: SeverityLow, Policy: PolicyRetry}
	}
}
