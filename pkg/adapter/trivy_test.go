package adapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scangate/scangate/pkg/types"
)

const trivyReport = `{
  "SchemaVersion": 2,
  "ArtifactName": "./src",
  "Results": [
    {
      "Target": "requirements.txt",
      "Type": "pip",
      "Vulnerabilities": [
        {
          "VulnerabilityID": "CVE-2023-30861",
          "PkgName": "flask",
          "InstalledVersion": "2.2.0",
          "Severity": "HIGH",
          "Title": "flask: possible disclosure of permanent session cookie"
        },
        {
          "VulnerabilityID": "CVE-2024-22195",
          "PkgName": "jinja2",
          "InstalledVersion": "3.1.2",
          "Severity": "MEDIUM",
          "Title": "jinja2: HTML attribute injection"
        }
      ]
    },
    {
      "Target": "Dockerfile",
      "Type": "dockerfile",
      "Misconfigurations": [
        {
          "ID": "DS002",
          "Title": "Image user should not be root",
          "Severity": "HIGH",
          "CauseMetadata": {"StartLine": 1, "EndLine": 1}
        }
      ]
    }
  ]
}`

func newTrivy(t *testing.T, exec types.CommandExecutor) *TrivyAdapter {
	t.Helper()
	a, err := NewTrivyAdapter(exec, testLogger(t), Settings{})
	require.NoError(t, err)
	return a
}

func TestTrivyRun(t *testing.T) {
	exec := &fakeExecutor{stdout: trivyReport, exitCode: 0}
	result := newTrivy(t, exec).Run(context.Background(), "./src")

	assert.Equal(t, "trivy", exec.gotName)
	assert.Equal(t, "fs", exec.gotArgs[0])
	assert.Contains(t, exec.gotArgs, "--exit-code")
	require.Equal(t, types.StatusSucceeded, result.Status)
	require.Len(t, result.Findings, 3)

	vuln := result.Findings[0]
	assert.Equal(t, TrivyID, vuln.ScannerID)
	assert.Equal(t, "CVE-2023-30861", vuln.Category)
	assert.Equal(t, types.SeverityHigh, vuln.Severity)
	require.NotNil(t, vuln.Package)
	assert.Equal(t, "flask", vuln.Package.Name)
	assert.Equal(t, "2.2.0", vuln.Package.Version)
	assert.Equal(t, "pip", vuln.Package.Ecosystem)
	assert.Nil(t, vuln.Location)

	misconf := result.Findings[2]
	assert.Equal(t, "DS002", misconf.Category)
	require.NotNil(t, misconf.Location)
	assert.Equal(t, "Dockerfile", misconf.Location.FilePath)
	assert.Equal(t, 1, misconf.Location.StartLine)
	assert.Nil(t, misconf.Package)
}

func TestTrivyRunFailure(t *testing.T) {
	exec := &fakeExecutor{stderr: "FATAL: failed to initialize DB\n", exitCode: 1, err: errors.New("exit status 1")}
	result := newTrivy(t, exec).Run(context.Background(), "./src")

	require.Equal(t, types.StatusFailed, result.Status)
	var invErr *InvocationError
	require.True(t, errors.As(result.Err, &invErr))
	assert.Contains(t, result.ErrorDetail, "failed to initialize DB")
}

func TestTrivyRunTimeoutKeepsCapturedOutput(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	exec := &fakeExecutor{stdout: trivyReport, block: true}
	result := newTrivy(t, exec).Run(ctx, "./src")

	require.Equal(t, types.StatusTimedOut, result.Status)
	require.Len(t, result.Findings, 3)
}

func TestTrivyRunMalformedOutput(t *testing.T) {
	exec := &fakeExecutor{stdout: "{", exitCode: 0}
	result := newTrivy(t, exec).Run(context.Background(), "./src")

	require.Equal(t, types.StatusFailed, result.Status)
	var parseErr *ParseError
	require.True(t, errors.As(result.Err, &parseErr))
}

func TestTrivyNativeOrderPreserved(t *testing.T) {
	exec := &fakeExecutor{stdout: trivyReport, exitCode: 0}
	result := newTrivy(t, exec).Run(context.Background(), "./src")
	require.Equal(t, types.StatusSucceeded, result.Status)

	got := make([]string, len(result.Findings))
	for i, f := range result.Findings {
		got[i] = f.RuleID
	}
	assert.Equal(t, []string{"CVE-2023-30861", "CVE-2024-22195", "DS002"}, got)
}
