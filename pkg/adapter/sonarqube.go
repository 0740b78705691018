package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/scangate/scangate/pkg/types"
)

// SonarQubeID is the scanner id of the code-quality server adapter.
const SonarQubeID = "sonarqube"

// sonarDefaultSeverities maps SonarQube's issue severity vocabulary.
var sonarDefaultSeverities = SeverityMap{
	"BLOCKER":  types.SeverityCritical,
	"CRITICAL": types.SeverityHigh,
	"MAJOR":    types.SeverityMedium,
	"MINOR":    types.SeverityLow,
	"INFO":     types.SeverityInfo,
}

// sonarRuleCategories maps common SonarQube rule keys onto CWE categories so
// that issues logically equivalent to other scanners' findings share a dedup
// group. Unmapped rules fall back to the rule key itself.
var sonarRuleCategories = map[string]string{
	"python:S2077": "CWE-89",  // SQL injection
	"python:S4790": "CWE-327", // weak hashing
	"python:S2076": "CWE-78",  // OS command injection
	"python:S2245": "CWE-330", // insecure randomness
	"python:S6437": "CWE-798", // hardcoded credentials
}

// SonarQubeAdapter pulls open issues for a project from a SonarQube server
// over HTTP. The adapter owns its own connection; it is never shared.
type SonarQubeAdapter struct {
	client     types.HTTPClientInterface
	logger     types.Logger
	baseURL    string
	projectKey string
	token      string
	severities SeverityMap
}

// NewSonarQubeAdapter creates a quality-server adapter from its declarative
// settings and an HTTP client owned by this adapter.
func NewSonarQubeAdapter(client types.HTTPClientInterface, logger types.Logger,
	settings Settings) (*SonarQubeAdapter, error) {
	if settings.URL == "" {
		return nil, fmt.Errorf("sonarqube adapter: url is required")
	}
	if settings.ProjectKey == "" {
		return nil, fmt.Errorf("sonarqube adapter: project_key is required")
	}
	severities, err := resolveSeverityMap(sonarDefaultSeverities, settings.SeverityOverrides)
	if err != nil {
		return nil, fmt.Errorf("sonarqube adapter: %w", err)
	}
	return &SonarQubeAdapter{
		client:     client,
		logger:     logger,
		baseURL:    strings.TrimRight(settings.URL, "/"),
		projectKey: settings.ProjectKey,
		token:      settings.Token,
		severities: severities,
	}, nil
}

func (s *SonarQubeAdapter) ID() string { return SonarQubeID }

func (s *SonarQubeAdapter) Kind() Kind { return KindQualityServer }

// Run fetches unresolved issues for the configured project. Transport errors
// and 5xx responses are transient invocation errors eligible for retry; 4xx
// responses are not. The HTTP status code stands in for the exit code.
func (s *SonarQubeAdapter) Run(ctx context.Context, _ string) types.ScanResult {
	start := time.Now()

	query := url.Values{}
	query.Set("componentKeys", s.projectKey)
	query.Set("resolved", "false")
	query.Set("ps", "500")
	endpoint := fmt.Sprintf("%s/api/issues/search?%s", s.baseURL, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return failedResult(SonarQubeID, -1, start, nil,
			&InvocationError{Scanner: SonarQubeID, Err: err})
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if ctx.Err() != nil {
		return contextResult(ctx, SonarQubeID, -1, start, nil)
	}
	if err != nil {
		s.logger.Warn("sonarqube request failed", zap.Error(err))
		return failedResult(SonarQubeID, -1, start, nil,
			&InvocationError{Scanner: SonarQubeID, Err: err, Transient: true})
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return failedResult(SonarQubeID, resp.StatusCode, start, nil,
			&InvocationError{Scanner: SonarQubeID, Err: err, Transient: true})
	}
	if resp.StatusCode != http.StatusOK {
		invErr := &InvocationError{
			Scanner:   SonarQubeID,
			Err:       fmt.Errorf("server returned %s", resp.Status),
			Transient: resp.StatusCode >= http.StatusInternalServerError,
		}
		s.logger.Warn("sonarqube request rejected",
			zap.Int("status", resp.StatusCode), zap.Error(invErr))
		return failedResult(SonarQubeID, resp.StatusCode, start, nil, invErr)
	}

	findings, parseErr := s.parse(body)
	if parseErr != nil {
		s.logger.Warn("sonarqube response unparseable", zap.Error(parseErr))
		return failedResult(SonarQubeID, resp.StatusCode, start, findings,
			&ParseError{Scanner: SonarQubeID, Err: parseErr})
	}
	s.logger.Debug("sonarqube issue fetch complete", zap.Int("findings", len(findings)))
	return succeededResult(SonarQubeID, resp.StatusCode, start, findings)
}

type sonarIssue struct {
	Key       string `json:"key"`
	Rule      string `json:"rule"`
	Severity  string `json:"severity"`
	Component string `json:"component"`
	Line      int    `json:"line"`
	Message   string `json:"message"`
	Type      string `json:"type"`
}

func (s *SonarQubeAdapter) parse(body []byte) ([]types.Finding, error) {
	var doc struct {
		Issues []json.RawMessage `json:"issues"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	var findings []types.Finding
	for i, raw := range doc.Issues {
		var issue sonarIssue
		if err := json.Unmarshal(raw, &issue); err != nil {
			return findings, fmt.Errorf("decoding issue %d: %w", i, err)
		}
		category := issue.Rule
		if mapped, ok := sonarRuleCategories[issue.Rule]; ok {
			category = mapped
		}
		findings = append(findings, types.Finding{
			ScannerID: SonarQubeID,
			RuleID:    issue.Rule,
			Category:  category,
			Severity:  s.severities.Map(issue.Severity, types.SeverityInfo),
			Location: &types.Location{
				FilePath:  componentPath(issue.Component),
				StartLine: issue.Line,
			},
			Message: issue.Message,
			Raw:     raw,
		})
	}
	return findings, nil
}

// componentPath strips the project-key prefix from a SonarQube component
// ("proj:src/app.py" -> "src/app.py").
func componentPath(component string) string {
	if idx := strings.Index(component, ":"); idx >= 0 {
		return filepath.ToSlash(component[idx+1:])
	}
	return filepath.ToSlash(component)
}
