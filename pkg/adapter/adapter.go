package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/scangate/scangate/pkg/types"
)

// Kind is the adapter variant family.
type Kind string

const (
	KindLint           Kind = "lint"
	KindFilesystemVuln Kind = "filesystem-vuln"
	KindDependencyVuln Kind = "dependency-vuln"
	KindQualityServer  Kind = "quality-server"
)

// Adapter wraps one external scanner: it builds the native invocation,
// enforces the context deadline, captures the output, and parses it into
// normalized findings. Run never returns an error; every failure mode is
// captured in the ScanResult so a failure is never silent.
type Adapter interface {
	// ID returns the stable scanner id.
	ID() string
	// Kind returns the adapter variant family.
	Kind() Kind
	// Run executes the scanner against the target path. The target is
	// read-only for the adapter.
	Run(ctx context.Context, target string) types.ScanResult
}

// Settings is the declarative per-scanner configuration record handed to an
// adapter at construction.
type Settings struct {
	// Args are extra native arguments appended to the built invocation.
	Args []string
	// SeverityOverrides overrides entries of the adapter's default
	// native-to-unified severity mapping. Values were validated at config
	// load time.
	SeverityOverrides map[string]string

	// Quality-server fields.
	URL        string
	ProjectKey string
	Token      string
}

// InvocationError means the scanner binary or service could not be invoked at
// all. Transient invocation errors (e.g. a transport error to a remote
// service) are retried by the orchestrator; others are not.
type InvocationError struct {
	Scanner   string
	Err       error
	Transient bool
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("scanner %s invocation failed: %v", e.Scanner, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

// ParseError means the scanner ran but produced output the adapter could not
// parse. Never retried; the result keeps any findings parsed before the error.
type ParseError struct {
	Scanner string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("scanner %s output unparseable: %v", e.Scanner, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// contextResult converts a context termination into the matching ScanResult:
// a deadline (per-adapter or global timeout) yields TIMED_OUT with whatever
// partial findings were captured; a cancellation (fail-fast) yields SKIPPED.
func contextResult(ctx context.Context, id string, exitCode int,
	start time.Time, partial []types.Finding) types.ScanResult {
	status := types.StatusSkipped
	detail := "cancelled before completion"
	if ctx.Err() == context.DeadlineExceeded {
		status = types.StatusTimedOut
		detail = "timed out"
	}
	return types.ScanResult{
		ScannerID:   id,
		Status:      status,
		ExitCode:    exitCode,
		Duration:    time.Since(start),
		Findings:    partial,
		ErrorDetail: detail,
		Err:         ctx.Err(),
	}
}

// failedResult builds a FAILED ScanResult carrying the classification error
// and any partial findings.
func failedResult(id string, exitCode int, start time.Time,
	partial []types.Finding, err error) types.ScanResult {
	return types.ScanResult{
		ScannerID:   id,
		Status:      types.StatusFailed,
		ExitCode:    exitCode,
		Duration:    time.Since(start),
		Findings:    partial,
		ErrorDetail: err.Error(),
		Err:         err,
	}
}

// succeededResult builds a SUCCEEDED ScanResult. Findings preserve the
// scanner's native output order.
func succeededResult(id string, exitCode int, start time.Time,
	findings []types.Finding) types.ScanResult {
	return types.ScanResult{
		ScannerID: id,
		Status:    types.StatusSucceeded,
		ExitCode:  exitCode,
		Duration:  time.Since(start),
		Findings:  findings,
	}
}

// firstLine trims scanner stderr down to its first line for diagnostics.
func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}

// SkippedResult builds the placeholder result for an adapter that never ran.
func SkippedResult(id, detail string) types.ScanResult {
	return types.ScanResult{
		ScannerID:   id,
		Status:      types.StatusSkipped,
		ExitCode:    -1,
		ErrorDetail: detail,
	}
}
