package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/scangate/scangate/pkg/types"
)

// TestNewRootCmd tests the newRootCmd function.
func TestNewRootCmd(t *testing.T) {
	cmd := newRootCmd()

	if diff := cmp.Diff("scangate", cmd.Use); diff != "" {
		t.Errorf("cmd.Use mismatch (-want +got):\n%s", diff)
	}

	flags := []string{"config", "target", "output-format", "output-file", "store-db"}
	for _, flag := range flags {
		f := cmd.PersistentFlags().Lookup(flag)
		if f == nil {
			t.Errorf("flag %s should be defined", flag)
		}
	}
}

// TestPreRunE_EmptyConfigFlag tests the preRunE function with an empty config flag.
func TestPreRunE_EmptyConfigFlag(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", ""})

	err := cmd.Execute()
	if err == nil {
		t.Errorf("expected an error but got nil")
	} else if diff := cmp.Diff("config is required and cannot be empty", err.Error()); diff != "" {
		t.Errorf("error message mismatch (-want +got):\n%s", diff)
	}
}

// TestPreRunE_InvalidFlag tests the preRunE function with an invalid flag.
func TestPreRunE_InvalidFlag(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--invalid-flag", "value"})

	err := cmd.Execute()
	if err == nil {
		t.Errorf("expected an error but got nil")
	} else if diff := cmp.Diff("unknown flag: --invalid-flag", err.Error()); diff != "" {
		t.Errorf("error message mismatch (-want +got):\n%s", diff)
	}
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scangate.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

// TestRunScan_AllScannersDisabled runs the full command with every scanner
// disabled: the verdict must pass and still list each one as skipped.
func TestRunScan_AllScannersDisabled(t *testing.T) {
	configPath := writeConfig(t, `
target: .
gating:
  threshold: HIGH
scanners:
  bandit:
    enabled: false
  trivy:
    enabled: false
  osv-scanner:
    enabled: false
`)
	outputFile := filepath.Join(t.TempDir(), "verdict.json")

	cmd := newRootCmd()
	cmd.SetArgs([]string{
		"--config", configPath,
		"--output-format", "json",
		"--output-file", outputFile,
	})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	data, err := os.ReadFile(outputFile)
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	var v types.Verdict
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("failed to decode verdict: %v", err)
	}

	if !v.Passed {
		t.Error("Passed = false, want true with no findings")
	}
	if len(v.Results) != 3 {
		t.Fatalf("len(Results) = %d, want 3", len(v.Results))
	}
	for _, res := range v.Results {
		if res.Status != types.StatusSkipped {
			t.Errorf("scanner %s status = %s, want SKIPPED", res.ScannerID, res.Status)
		}
	}
}

// TestRunScan_UnknownScanner rejects a config naming a scanner this build
// does not know.
func TestRunScan_UnknownScanner(t *testing.T) {
	configPath := writeConfig(t, `
target: .
scanners:
  nmap: {}
`)

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", configPath})

	err := cmd.Execute()
	if err == nil {
		t.Fatal("expected an error but got nil")
	}
	if !strings.Contains(err.Error(), `unknown scanner id "nmap"`) {
		t.Errorf("error = %q, want unknown scanner id", err.Error())
	}
}

// TestRunScan_RequiredScannerNotConfigured rejects a config that requires a
// scanner the run can never invoke: the run must not pass by omission.
func TestRunScan_RequiredScannerNotConfigured(t *testing.T) {
	configPath := writeConfig(t, `
target: .
gating:
  threshold: HIGH
  required:
    - sonarqube
scanners:
  bandit:
    enabled: false
  trivy:
    enabled: false
  osv-scanner:
    enabled: false
`)

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", configPath})

	err := cmd.Execute()
	if err == nil {
		t.Fatal("expected an error but got nil")
	}
	if !strings.Contains(err.Error(), `required scanner "sonarqube" has no runnable configuration`) {
		t.Errorf("error = %q, want required-scanner rejection", err.Error())
	}
}

// TestRunScan_MissingConfigFile surfaces the read failure.
func TestRunScan_MissingConfigFile(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "nope.yaml")})

	if err := cmd.Execute(); err == nil {
		t.Error("expected an error but got nil")
	}
}

// TestRunScan_TargetFlagOverride lets the flag replace the configured target.
func TestRunScan_TargetFlagOverride(t *testing.T) {
	configPath := writeConfig(t, `
scanners:
  bandit:
    enabled: false
  trivy:
    enabled: false
  osv-scanner:
    enabled: false
`)
	outputFile := filepath.Join(t.TempDir(), "verdict.json")

	cmd := newRootCmd()
	cmd.SetArgs([]string{
		"--config", configPath,
		"--target", ".",
		"--output-format", "json",
		"--output-file", outputFile,
	})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
}

// TestRunScan_StoreDB persists the run to a sqlite file next to the report.
func TestRunScan_StoreDB(t *testing.T) {
	configPath := writeConfig(t, `
target: .
scanners:
  bandit:
    enabled: false
  trivy:
    enabled: false
  osv-scanner:
    enabled: false
`)
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "runs.db")

	cmd := newRootCmd()
	cmd.SetArgs([]string{
		"--config", configPath,
		"--output-format", "json",
		"--output-file", filepath.Join(dir, "verdict.json"),
		"--store-db", dbPath,
	})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("run database was not created: %v", err)
	}
}

// TestRunScan_UnsupportedFormat rejects formats the report package cannot render.
func TestRunScan_UnsupportedFormat(t *testing.T) {
	configPath := writeConfig(t, `
target: .
scanners:
  bandit:
    enabled: false
  trivy:
    enabled: false
  osv-scanner:
    enabled: false
`)

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", configPath, "--output-format", "xml"})

	err := cmd.Execute()
	if err == nil {
		t.Fatal("expected an error but got nil")
	}
	if diff := cmp.Diff("unsupported output format: xml", err.Error()); diff != "" {
		t.Errorf("error message mismatch (-want +got):\n%s", diff)
	}
}

// TestVersionCmd prints the build version and nothing else.
func TestVersionCmd(t *testing.T) {
	old := Version
	Version = "v1.2.3-test"
	defer func() { Version = old }()

	var out strings.Builder
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if diff := cmp.Diff("v1.2.3-test\n", out.String()); diff != "" {
		t.Errorf("version output mismatch (-want +got):\n%s", diff)
	}
}

func TestVerdictFailure(t *testing.T) {
	v := &types.Verdict{RequiredFailed: true}
	if got := verdictFailure(v); got != "required scanner did not complete" {
		t.Errorf("verdictFailure() = %q", got)
	}

	v = &types.Verdict{GatingSeverity: types.SeverityHigh}
	if got := verdictFailure(v); got != "findings at or above HIGH" {
		t.Errorf("verdictFailure() = %q", got)
	}
}
