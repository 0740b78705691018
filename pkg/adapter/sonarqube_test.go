package adapter

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scangate/scangate/pkg/types"
)

const sonarResponse = `{
  "total": 2,
  "issues": [
    {
      "key": "AYxQ1",
      "rule": "python:S2077",
      "severity": "BLOCKER",
      "component": "sample-app:src/app.py",
      "line": 41,
      "message": "Make sure using a dynamically formatted SQL query is safe here.",
      "type": "VULNERABILITY"
    },
    {
      "key": "AYxQ2",
      "rule": "python:S1481",
      "severity": "MINOR",
      "component": "sample-app:src/app.py",
      "line": 12,
      "message": "Remove this unused local variable.",
      "type": "CODE_SMELL"
    }
  ]
}`

func sonarSettings() Settings {
	return Settings{
		URL:        "http://sonar.internal:9000",
		ProjectKey: "sample-app",
		Token:      "squ_token",
	}
}

func httpBody(body string, status int) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestSonarQubeRun(t *testing.T) {
	client := &fakeHTTPClient{resp: httpBody(sonarResponse, http.StatusOK)}
	a, err := NewSonarQubeAdapter(client, testLogger(t), sonarSettings())
	require.NoError(t, err)

	result := a.Run(context.Background(), "./src")

	require.NotNil(t, client.gotReq)
	assert.Contains(t, client.gotReq.URL.String(), "componentKeys=sample-app")
	assert.Equal(t, "Bearer squ_token", client.gotReq.Header.Get("Authorization"))

	require.Equal(t, types.StatusSucceeded, result.Status)
	assert.Equal(t, http.StatusOK, result.ExitCode)
	require.Len(t, result.Findings, 2)

	vuln := result.Findings[0]
	assert.Equal(t, SonarQubeID, vuln.ScannerID)
	assert.Equal(t, "python:S2077", vuln.RuleID)
	assert.Equal(t, "CWE-89", vuln.Category, "known rules map onto CWE categories")
	assert.Equal(t, types.SeverityCritical, vuln.Severity, "BLOCKER maps to CRITICAL")
	require.NotNil(t, vuln.Location)
	assert.Equal(t, "src/app.py", vuln.Location.FilePath)
	assert.Equal(t, 41, vuln.Location.StartLine)

	smell := result.Findings[1]
	assert.Equal(t, "python:S1481", smell.Category, "unmapped rules keep the rule key")
	assert.Equal(t, types.SeverityLow, smell.Severity)
}

func TestSonarQubeRunTransportError(t *testing.T) {
	client := &fakeHTTPClient{err: errors.New("dial tcp: connection refused")}
	a, err := NewSonarQubeAdapter(client, testLogger(t), sonarSettings())
	require.NoError(t, err)

	result := a.Run(context.Background(), "./src")

	require.Equal(t, types.StatusFailed, result.Status)
	var invErr *InvocationError
	require.True(t, errors.As(result.Err, &invErr))
	assert.True(t, invErr.Transient, "transport errors are transient and retryable")
}

func TestSonarQubeRunServerError(t *testing.T) {
	client := &fakeHTTPClient{resp: httpBody("upstream unavailable", http.StatusBadGateway)}
	a, err := NewSonarQubeAdapter(client, testLogger(t), sonarSettings())
	require.NoError(t, err)

	result := a.Run(context.Background(), "./src")

	require.Equal(t, types.StatusFailed, result.Status)
	assert.Equal(t, http.StatusBadGateway, result.ExitCode)
	var invErr *InvocationError
	require.True(t, errors.As(result.Err, &invErr))
	assert.True(t, invErr.Transient)
}

func TestSonarQubeRunAuthError(t *testing.T) {
	client := &fakeHTTPClient{resp: httpBody("insufficient privileges", http.StatusForbidden)}
	a, err := NewSonarQubeAdapter(client, testLogger(t), sonarSettings())
	require.NoError(t, err)

	result := a.Run(context.Background(), "./src")

	require.Equal(t, types.StatusFailed, result.Status)
	var invErr *InvocationError
	require.True(t, errors.As(result.Err, &invErr))
	assert.False(t, invErr.Transient, "auth errors are deterministic, not retryable")
}

func TestSonarQubeRunMalformedResponse(t *testing.T) {
	client := &fakeHTTPClient{resp: httpBody("<html>maintenance</html>", http.StatusOK)}
	a, err := NewSonarQubeAdapter(client, testLogger(t), sonarSettings())
	require.NoError(t, err)

	result := a.Run(context.Background(), "./src")

	require.Equal(t, types.StatusFailed, result.Status)
	var parseErr *ParseError
	require.True(t, errors.As(result.Err, &parseErr))
}

func TestNewSonarQubeAdapterValidation(t *testing.T) {
	client := &fakeHTTPClient{}
	_, err := NewSonarQubeAdapter(client, testLogger(t), Settings{ProjectKey: "x"})
	require.Error(t, err)

	_, err = NewSonarQubeAdapter(client, testLogger(t), Settings{URL: "http://x"})
	require.Error(t, err)
}

func TestComponentPath(t *testing.T) {
	tests := []struct {
		component string
		want      string
	}{
		{"sample-app:src/app.py", "src/app.py"},
		{"src/app.py", "src/app.py"},
		{"proj:nested:path.py", "nested:path.py"},
	}
	for _, tt := range tests {
		if got := componentPath(tt.component); got != tt.want {
			t.Errorf("componentPath(%q) = %q, want %q", tt.component, got, tt.want)
		}
	}
}
