package model

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/scangate/scangate/pkg/types"
)

func TestJSONStringArrayRoundTrip(t *testing.T) {
	arr := JSONStringArray{"bandit", "trivy"}
	val, err := arr.Value()
	if err != nil {
		t.Fatalf("Value() error = %v", err)
	}

	var out JSONStringArray
	if err := out.Scan(val); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if diff := cmp.Diff(arr, out); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestJSONStringArrayEmptyValue(t *testing.T) {
	val, err := JSONStringArray(nil).Value()
	if err != nil {
		t.Fatalf("Value() error = %v", err)
	}
	if val != nil {
		t.Errorf("Value() = %v, want nil for empty array", val)
	}

	var out JSONStringArray
	if err := out.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) error = %v", err)
	}
	if out != nil {
		t.Errorf("Scan(nil) = %v, want nil", out)
	}
}

func TestJSONStringArrayScanString(t *testing.T) {
	var out JSONStringArray
	if err := out.Scan(`["a","b"]`); err != nil {
		t.Fatalf("Scan(string) error = %v", err)
	}
	if len(out) != 2 || out[0] != "a" || out[1] != "b" {
		t.Errorf("Scan(string) = %v, want [a b]", out)
	}
}

func TestJSONStringArrayScanBadType(t *testing.T) {
	var out JSONStringArray
	if err := out.Scan(42); err == nil {
		t.Error("Scan(int) should error")
	}
}

func TestRunFromVerdict(t *testing.T) {
	v := &types.Verdict{
		Passed:         true,
		GatingSeverity: types.SeverityCritical,
		Groups: []types.DedupGroup{
			{
				Fingerprint: "deadbeefdeadbeefdeadbeefdeadbeef",
				Severity:    types.SeverityMedium,
				Scanners:    []string{"osv-scanner"},
				Findings: []types.Finding{
					{
						ScannerID: "osv-scanner",
						RuleID:    "GHSA-vvvv-wwww-xxxx",
						Category:  "CVE-2023-12345",
						Severity:  types.SeverityMedium,
						Package:   &types.PackageCoordinate{Name: "requests", Version: "2.25.0"},
						Message:   "requests vulnerable to header injection.",
					},
				},
			},
		},
		Results: []types.ScanResult{
			{ScannerID: "osv-scanner", Status: types.StatusSucceeded, Duration: 1500 * time.Millisecond},
		},
		CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}

	run := RunFromVerdict("./src", v)
	if !run.Passed || run.GatingSeverity != "CRITICAL" {
		t.Errorf("run = %+v", run)
	}
	if len(run.Scans) != 1 || run.Scans[0].DurationMS != 1500 {
		t.Errorf("Scans = %+v", run.Scans)
	}
	if len(run.Findings) != 1 {
		t.Fatalf("len(Findings) = %d, want 1", len(run.Findings))
	}
	f := run.Findings[0]
	if f.PackageName != "requests" || f.PackageVersion != "2.25.0" {
		t.Errorf("package = %s@%s", f.PackageName, f.PackageVersion)
	}
	if f.FilePath != "" || f.StartLine != 0 {
		t.Errorf("location should be empty for package findings, got %s:%d", f.FilePath, f.StartLine)
	}
}
