package types

import "time"

// DedupGroup is a set of Findings sharing a fingerprint. Immutable once built.
// Severity is the representative severity: the maximum across the group.
type DedupGroup struct {
	Fingerprint string    `json:"fingerprint"`
	Severity    Severity  `json:"severity"`
	Scanners    []string  `json:"scanners"`
	Findings    []Finding `json:"findings"`
}

// Verdict is the final decision for one pipeline run. Immutable; this is the
// artifact handed to reporting collaborators.
type Verdict struct {
	Passed         bool         `json:"passed"`
	GatingSeverity Severity     `json:"gating_severity"`
	// Groups is sorted by severity descending, then fingerprint ascending.
	Groups []DedupGroup `json:"groups"`
	// Ungrouped holds findings with neither a location nor a package
	// coordinate; they cannot be safely deduplicated and are surfaced
	// individually.
	Ungrouped []Finding `json:"ungrouped,omitempty"`
	// Results is ordered by scanner_id and always lists every configured
	// adapter, including failed ones.
	Results        []ScanResult     `json:"results"`
	SeverityTotals map[string]int   `json:"severity_totals"`
	ScannerTotals  map[string]int   `json:"scanner_totals"`
	RequiredFailed bool             `json:"required_failed"`
	CreatedAt      time.Time        `json:"created_at"`
}
