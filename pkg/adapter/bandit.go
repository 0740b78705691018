package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/scangate/scangate/pkg/types"
)

// BanditID is the scanner id of the Python lint adapter.
const BanditID = "bandit"

// banditDefaultSeverities maps bandit's issue_severity vocabulary.
var banditDefaultSeverities = SeverityMap{
	"HIGH":   types.SeverityHigh,
	"MEDIUM": types.SeverityMedium,
	"LOW":    types.SeverityLow,
}

// BanditAdapter runs the bandit Python linter against a source tree and
// parses its JSON report.
type BanditAdapter struct {
	exec       types.CommandExecutor
	logger     types.Logger
	extraArgs  []string
	severities SeverityMap
}

// NewBanditAdapter creates a bandit adapter from its declarative settings.
func NewBanditAdapter(exec types.CommandExecutor, logger types.Logger,
	settings Settings) (*BanditAdapter, error) {
	severities, err := resolveSeverityMap(banditDefaultSeverities, settings.SeverityOverrides)
	if err != nil {
		return nil, fmt.Errorf("bandit adapter: %w", err)
	}
	return &BanditAdapter{
		exec:       exec,
		logger:     logger,
		extraArgs:  settings.Args,
		severities: severities,
	}, nil
}

func (b *BanditAdapter) ID() string { return BanditID }

func (b *BanditAdapter) Kind() Kind { return KindLint }

// Run invokes bandit with machine-readable JSON output. Bandit exits 1 when
// issues were found; only exit codes above 1 (or a failure to start) are
// execution failures.
func (b *BanditAdapter) Run(ctx context.Context, target string) types.ScanResult {
	start := time.Now()

	args := []string{"-r", target, "-f", "json", "-q"}
	args = append(args, b.extraArgs...)

	stdout, stderr, exitCode, err := b.exec.ExecuteCommand(ctx, "bandit", args, nil)
	if ctx.Err() != nil {
		// A killed scanner may still have emitted a usable report.
		partial, _ := b.parse([]byte(stdout))
		return contextResult(ctx, BanditID, exitCode, start, partial)
	}
	if err != nil && exitCode != 1 {
		invErr := &InvocationError{
			Scanner: BanditID,
			Err:     fmt.Errorf("%w (stderr: %s)", err, firstLine(stderr)),
		}
		b.logger.Warn("bandit invocation failed",
			zap.Int("exit_code", exitCode), zap.Error(invErr))
		return failedResult(BanditID, exitCode, start, nil, invErr)
	}

	findings, parseErr := b.parse([]byte(stdout))
	if parseErr != nil {
		b.logger.Warn("bandit report unparseable", zap.Error(parseErr))
		return failedResult(BanditID, exitCode, start, findings,
			&ParseError{Scanner: BanditID, Err: parseErr})
	}
	b.logger.Debug("bandit scan complete", zap.Int("findings", len(findings)))
	return succeededResult(BanditID, exitCode, start, findings)
}

type banditIssue struct {
	Filename   string `json:"filename"`
	LineNumber int    `json:"line_number"`
	IssueText  string `json:"issue_text"`
	TestID     string `json:"test_id"`
	TestName   string `json:"test_name"`
	Severity   string `json:"issue_severity"`
	Confidence string `json:"issue_confidence"`
	IssueCwe   struct {
		ID int `json:"id"`
	} `json:"issue_cwe"`
}

// parse decodes bandit's JSON report. Records are decoded one at a time so a
// malformed record still yields the findings parsed before it.
func (b *BanditAdapter) parse(out []byte) ([]types.Finding, error) {
	var doc struct {
		Results []json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(out, &doc); err != nil {
		return nil, fmt.Errorf("decoding report: %w", err)
	}

	var findings []types.Finding
	for i, raw := range doc.Results {
		var issue banditIssue
		if err := json.Unmarshal(raw, &issue); err != nil {
			return findings, fmt.Errorf("decoding result %d: %w", i, err)
		}
		category := issue.TestID
		if issue.IssueCwe.ID > 0 {
			category = fmt.Sprintf("CWE-%d", issue.IssueCwe.ID)
		}
		findings = append(findings, types.Finding{
			ScannerID: BanditID,
			RuleID:    issue.TestID,
			Category:  category,
			Severity:  b.severities.Map(issue.Severity, types.SeverityInfo),
			Location: &types.Location{
				FilePath:  filepath.ToSlash(issue.Filename),
				StartLine: issue.LineNumber,
			},
			Message: issue.IssueText,
			Raw:     raw,
		})
	}
	return findings, nil
}
