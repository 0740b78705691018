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

// TrivyID is the scanner id of the filesystem vulnerability adapter.
const TrivyID = "trivy"

// trivyDefaultSeverities maps trivy's severity vocabulary.
var trivyDefaultSeverities = SeverityMap{
	"CRITICAL": types.SeverityCritical,
	"HIGH":     types.SeverityHigh,
	"MEDIUM":   types.SeverityMedium,
	"LOW":      types.SeverityLow,
	"UNKNOWN":  types.SeverityInfo,
}

// TrivyAdapter runs trivy in filesystem mode and parses its JSON report,
// covering both dependency vulnerabilities and misconfigurations.
type TrivyAdapter struct {
	exec       types.CommandExecutor
	logger     types.Logger
	extraArgs  []string
	severities SeverityMap
}

// NewTrivyAdapter creates a trivy adapter from its declarative settings.
func NewTrivyAdapter(exec types.CommandExecutor, logger types.Logger,
	settings Settings) (*TrivyAdapter, error) {
	severities, err := resolveSeverityMap(trivyDefaultSeverities, settings.SeverityOverrides)
	if err != nil {
		return nil, fmt.Errorf("trivy adapter: %w", err)
	}
	return &TrivyAdapter{
		exec:       exec,
		logger:     logger,
		extraArgs:  settings.Args,
		severities: severities,
	}, nil
}

func (t *TrivyAdapter) ID() string { return TrivyID }

func (t *TrivyAdapter) Kind() Kind { return KindFilesystemVuln }

// Run invokes trivy fs with JSON output. The exit code is pinned to zero for
// the findings-present case (--exit-code 0), so any nonzero exit is a genuine
// execution failure.
func (t *TrivyAdapter) Run(ctx context.Context, target string) types.ScanResult {
	start := time.Now()

	args := []string{"fs", "--format", "json", "--quiet", "--exit-code", "0"}
	args = append(args, t.extraArgs...)
	args = append(args, target)

	stdout, stderr, exitCode, err := t.exec.ExecuteCommand(ctx, "trivy", args, nil)
	if ctx.Err() != nil {
		// A killed scanner may still have emitted a usable report.
		partial, _ := t.parse([]byte(stdout))
		return contextResult(ctx, TrivyID, exitCode, start, partial)
	}
	if err != nil {
		invErr := &InvocationError{
			Scanner: TrivyID,
			Err:     fmt.Errorf("%w (stderr: %s)", err, firstLine(stderr)),
		}
		t.logger.Warn("trivy invocation failed",
			zap.Int("exit_code", exitCode), zap.Error(invErr))
		return failedResult(TrivyID, exitCode, start, nil, invErr)
	}

	findings, parseErr := t.parse([]byte(stdout))
	if parseErr != nil {
		t.logger.Warn("trivy report unparseable", zap.Error(parseErr))
		return failedResult(TrivyID, exitCode, start, findings,
			&ParseError{Scanner: TrivyID, Err: parseErr})
	}
	t.logger.Debug("trivy scan complete", zap.Int("findings", len(findings)))
	return succeededResult(TrivyID, exitCode, start, findings)
}

type trivyVulnerability struct {
	VulnerabilityID  string `json:"VulnerabilityID"`
	PkgName          string `json:"PkgName"`
	InstalledVersion string `json:"InstalledVersion"`
	Severity         string `json:"Severity"`
	Title            string `json:"Title"`
	Description      string `json:"Description"`
}

type trivyMisconfiguration struct {
	ID            string `json:"ID"`
	Title         string `json:"Title"`
	Description   string `json:"Description"`
	Severity      string `json:"Severity"`
	CauseMetadata struct {
		StartLine int `json:"StartLine"`
		EndLine   int `json:"EndLine"`
	} `json:"CauseMetadata"`
}

// parse decodes trivy's JSON report into findings, preserving the report's
// native ordering. Malformed records keep the findings decoded before them.
func (t *TrivyAdapter) parse(out []byte) ([]types.Finding, error) {
	var doc struct {
		Results []struct {
			Target            string            `json:"Target"`
			Type              string            `json:"Type"`
			Vulnerabilities   []json.RawMessage `json:"Vulnerabilities"`
			Misconfigurations []json.RawMessage `json:"Misconfigurations"`
		} `json:"Results"`
	}
	if err := json.Unmarshal(out, &doc); err != nil {
		return nil, fmt.Errorf("decoding report: %w", err)
	}

	var findings []types.Finding
	for _, res := range doc.Results {
		target := filepath.ToSlash(res.Target)
		for i, raw := range res.Vulnerabilities {
			var vuln trivyVulnerability
			if err := json.Unmarshal(raw, &vuln); err != nil {
				return findings, fmt.Errorf("decoding vulnerability %d of %s: %w", i, target, err)
			}
			findings = append(findings, types.Finding{
				ScannerID: TrivyID,
				RuleID:    vuln.VulnerabilityID,
				Category:  vuln.VulnerabilityID,
				Severity:  t.severities.Map(vuln.Severity, types.SeverityInfo),
				Package: &types.PackageCoordinate{
					Name:      vuln.PkgName,
					Version:   vuln.InstalledVersion,
					Ecosystem: res.Type,
				},
				Message: firstNonEmpty(vuln.Title, vuln.Description),
				Raw:     raw,
			})
		}
		for i, raw := range res.Misconfigurations {
			var misconf trivyMisconfiguration
			if err := json.Unmarshal(raw, &misconf); err != nil {
				return findings, fmt.Errorf("decoding misconfiguration %d of %s: %w", i, target, err)
			}
			findings = append(findings, types.Finding{
				ScannerID: TrivyID,
				RuleID:    misconf.ID,
				Category:  misconf.ID,
				Severity:  t.severities.Map(misconf.Severity, types.SeverityInfo),
				Location: &types.Location{
					FilePath:  target,
					StartLine: misconf.CauseMetadata.StartLine,
					EndLine:   misconf.CauseMetadata.EndLine,
				},
				Message: firstNonEmpty(misconf.Title, misconf.Description),
				Raw:     raw,
			})
		}
	}
	return findings, nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
