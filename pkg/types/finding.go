package types

import (
	"encoding/json"
	"time"
)

// Location identifies where in the scanned tree a finding was reported.
// Line numbers are 1-based; zero means the scanner did not report one.
type Location struct {
	FilePath  string `json:"file_path"`
	StartLine int    `json:"start_line,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`
}

// PackageCoordinate identifies a dependency-level finding when no file
// location applies.
type PackageCoordinate struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Ecosystem string `json:"ecosystem,omitempty"`
}

// Finding is one normalized reported issue. Every Finding belongs to exactly
// one producing scanner at creation; after dedup a group carries the set of
// contributing scanners.
type Finding struct {
	ScannerID string             `json:"scanner_id"`
	RuleID    string             `json:"rule_id"`
	// Category is the cross-scanner rule category (a CWE or vulnerability id
	// where the tool reports one, the native rule id otherwise). It feeds
	// the fingerprint; RuleID does not.
	Category string             `json:"category"`
	Severity Severity           `json:"severity"`
	Location *Location          `json:"location,omitempty"`
	Package  *PackageCoordinate `json:"package,omitempty"`
	Message  string             `json:"message"`
	// Fingerprint is the stable dedup key, derived from the category and the
	// normalized location or package coordinate. Set during normalization.
	Fingerprint string `json:"fingerprint,omitempty"`
	// Raw is an opaque copy of the scanner's native record, retained for
	// audit. Never used for comparison.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// ScanStatus is the terminal status of one adapter execution.
type ScanStatus string

const (
	StatusSucceeded ScanStatus = "SUCCEEDED"
	StatusFailed    ScanStatus = "FAILED"
	StatusTimedOut  ScanStatus = "TIMED_OUT"
	StatusSkipped   ScanStatus = "SKIPPED"
)

// ScanResult is the record of one adapter's execution. A FAILED result may
// still carry partial findings when the adapter parsed some output before
// erroring.
type ScanResult struct {
	ScannerID string        `json:"scanner_id"`
	Status    ScanStatus    `json:"status"`
	ExitCode  int           `json:"exit_code"`
	Duration  time.Duration `json:"duration_ns"`
	Findings  []Finding     `json:"findings,omitempty"`
	// ErrorDetail is the human-readable diagnostic for FAILED and TIMED_OUT
	// results.
	ErrorDetail string `json:"error_detail,omitempty"`
	// Err is the underlying error, kept for classification (retry decisions).
	Err error `json:"-"`
}
