package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/scangate/scangate/pkg/types"
)

// OSVScannerID is the scanner id of the dependency vulnerability adapter.
const OSVScannerID = "osv-scanner"

// osvDefaultSeverities maps the OSV database's severity vocabulary.
var osvDefaultSeverities = SeverityMap{
	"CRITICAL": types.SeverityCritical,
	"HIGH":     types.SeverityHigh,
	"MODERATE": types.SeverityMedium,
	"MEDIUM":   types.SeverityMedium,
	"LOW":      types.SeverityLow,
}

// OSVAdapter runs osv-scanner against dependency manifests and lockfiles in
// the target tree, querying the open-source-vulnerability database.
type OSVAdapter struct {
	exec       types.CommandExecutor
	logger     types.Logger
	extraArgs  []string
	severities SeverityMap
}

// NewOSVAdapter creates an osv-scanner adapter from its declarative settings.
func NewOSVAdapter(exec types.CommandExecutor, logger types.Logger,
	settings Settings) (*OSVAdapter, error) {
	severities, err := resolveSeverityMap(osvDefaultSeverities, settings.SeverityOverrides)
	if err != nil {
		return nil, fmt.Errorf("osv-scanner adapter: %w", err)
	}
	return &OSVAdapter{
		exec:       exec,
		logger:     logger,
		extraArgs:  settings.Args,
		severities: severities,
	}, nil
}

func (o *OSVAdapter) ID() string { return OSVScannerID }

func (o *OSVAdapter) Kind() Kind { return KindDependencyVuln }

// Run invokes osv-scanner with JSON output. osv-scanner exits 1 when
// vulnerabilities were found; higher exit codes are execution failures.
func (o *OSVAdapter) Run(ctx context.Context, target string) types.ScanResult {
	start := time.Now()

	args := []string{"--format", "json", "--recursive"}
	args = append(args, o.extraArgs...)
	args = append(args, target)

	stdout, stderr, exitCode, err := o.exec.ExecuteCommand(ctx, "osv-scanner", args, nil)
	if ctx.Err() != nil {
		// A killed scanner may still have emitted a usable report.
		partial, _ := o.parse([]byte(stdout))
		return contextResult(ctx, OSVScannerID, exitCode, start, partial)
	}
	if err != nil && exitCode != 1 {
		invErr := &InvocationError{
			Scanner: OSVScannerID,
			Err:     fmt.Errorf("%w (stderr: %s)", err, firstLine(stderr)),
		}
		o.logger.Warn("osv-scanner invocation failed",
			zap.Int("exit_code", exitCode), zap.Error(invErr))
		return failedResult(OSVScannerID, exitCode, start, nil, invErr)
	}

	findings, parseErr := o.parse([]byte(stdout))
	if parseErr != nil {
		o.logger.Warn("osv-scanner report unparseable", zap.Error(parseErr))
		return failedResult(OSVScannerID, exitCode, start, findings,
			&ParseError{Scanner: OSVScannerID, Err: parseErr})
	}
	o.logger.Debug("osv-scanner scan complete", zap.Int("findings", len(findings)))
	return succeededResult(OSVScannerID, exitCode, start, findings)
}

type osvVulnerability struct {
	ID               string   `json:"id"`
	Aliases          []string `json:"aliases"`
	Summary          string   `json:"summary"`
	Details          string   `json:"details"`
	DatabaseSpecific struct {
		Severity string `json:"severity"`
	} `json:"database_specific"`
}

// parse decodes osv-scanner's JSON report. The vulnerability id is normalized
// to a CVE alias when one exists so that the same underlying issue reported
// by other scanners lands in the same dedup group.
func (o *OSVAdapter) parse(out []byte) ([]types.Finding, error) {
	var doc struct {
		Results []struct {
			Source struct {
				Path string `json:"path"`
			} `json:"source"`
			Packages []struct {
				Package struct {
					Name      string `json:"name"`
					Version   string `json:"version"`
					Ecosystem string `json:"ecosystem"`
				} `json:"package"`
				Vulnerabilities []json.RawMessage `json:"vulnerabilities"`
			} `json:"packages"`
		} `json:"results"`
	}
	if err := json.Unmarshal(out, &doc); err != nil {
		return nil, fmt.Errorf("decoding report: %w", err)
	}

	var findings []types.Finding
	for _, res := range doc.Results {
		for _, pkg := range res.Packages {
			for i, raw := range pkg.Vulnerabilities {
				var vuln osvVulnerability
				if err := json.Unmarshal(raw, &vuln); err != nil {
					return findings, fmt.Errorf("decoding vulnerability %d of %s: %w",
						i, pkg.Package.Name, err)
				}
				findings = append(findings, types.Finding{
					ScannerID: OSVScannerID,
					RuleID:    vuln.ID,
					Category:  canonicalVulnID(vuln.ID, vuln.Aliases),
					Severity:  o.severities.Map(vuln.DatabaseSpecific.Severity, types.SeverityInfo),
					Package: &types.PackageCoordinate{
						Name:      pkg.Package.Name,
						Version:   pkg.Package.Version,
						Ecosystem: pkg.Package.Ecosystem,
					},
					Message: firstNonEmpty(vuln.Summary, vuln.Details),
					Raw:     raw,
				})
			}
		}
	}
	return findings, nil
}

// canonicalVulnID prefers a CVE alias over database-native ids (GHSA, PYSEC)
// because the CVE id is what other scanners report for the same issue.
func canonicalVulnID(id string, aliases []string) string {
	for _, alias := range aliases {
		if strings.HasPrefix(alias, "CVE-") {
			return alias
		}
	}
	return id
}
