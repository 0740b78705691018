// Package verdict applies the severity-gating policy and assembles the final
// pass/fail decision for a pipeline run.
package verdict

import (
	"sort"
	"time"

	"github.com/scangate/scangate/pkg/dedup"
	"github.com/scangate/scangate/pkg/types"
)

// Exit codes consumed by the CLI wrapper.
const (
	// ExitPassed means the gate held.
	ExitPassed = 0
	// ExitGateBreached means findings at or above the gating severity exist.
	ExitGateBreached = 1
	// ExitOrchestrationError means the pipeline itself broke: a required
	// scanner could not run to completion, so the findings set cannot be
	// trusted. It takes precedence over ExitGateBreached.
	ExitOrchestrationError = 2
)

// Policy is the gating configuration.
type Policy struct {
	// Threshold fails the run when any dedup group's representative
	// severity is at or above it.
	Threshold types.Severity
	// Required lists scanners whose status must be SUCCEEDED for the run to
	// pass, independent of findings.
	Required []string
}

// Build produces the immutable Verdict for one run. The input is consumed,
// never mutated; the group ordering (severity descending, fingerprint
// ascending) is reproducible across runs on unchanged input.
func Build(norm dedup.Result, results []types.ScanResult, policy Policy) *types.Verdict {
	required := make(map[string]bool, len(policy.Required))
	for _, id := range policy.Required {
		required[id] = true
	}

	sorted := make([]types.ScanResult, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ScannerID < sorted[j].ScannerID
	})

	severityTotals := make(map[string]int, len(types.Severities))
	for _, sev := range types.Severities {
		severityTotals[sev.String()] = 0
	}
	scannerTotals := make(map[string]int, len(sorted))
	for _, res := range sorted {
		scannerTotals[res.ScannerID] = len(res.Findings)
	}

	gateBreached := false
	for _, group := range norm.Groups {
		severityTotals[group.Severity.String()]++
		if group.Severity >= policy.Threshold {
			gateBreached = true
		}
	}
	for _, f := range norm.Ungrouped {
		severityTotals[f.Severity.String()]++
		if f.Severity >= policy.Threshold {
			gateBreached = true
		}
	}

	// A required scanner must be present in the results AND have succeeded.
	// One that was never invoked at all cannot vouch for the target either.
	requiredFailed := false
	succeeded := make(map[string]bool, len(sorted))
	for _, res := range sorted {
		succeeded[res.ScannerID] = res.Status == types.StatusSucceeded
	}
	for id := range required {
		if !succeeded[id] {
			requiredFailed = true
		}
	}

	return &types.Verdict{
		Passed:         !gateBreached && !requiredFailed,
		GatingSeverity: policy.Threshold,
		Groups:         norm.Groups,
		Ungrouped:      norm.Ungrouped,
		Results:        sorted,
		SeverityTotals: severityTotals,
		ScannerTotals:  scannerTotals,
		RequiredFailed: requiredFailed,
		CreatedAt:      time.Now().UTC(),
	}
}

// ExitCode maps a verdict onto the process exit contract: 0 passed, 1 the
// findings breached the gate, 2 the pipeline itself broke. Callers use the
// distinction to tell "the code is insecure" from "the scan is unreliable".
func ExitCode(v *types.Verdict) int {
	if v.RequiredFailed {
		return ExitOrchestrationError
	}
	if !v.Passed {
		return ExitGateBreached
	}
	return ExitPassed
}
