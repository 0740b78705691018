package report

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/scangate/scangate/pkg/types"
)

const sarifSchema = "https://raw.githubusercontent.com/oasis-tcs/sarif-spec/master/Schemata/sarif-schema-2.1.0.json"

type sarifLog struct {
	Version string     `json:"version"`
	Schema  string     `json:"$schema"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool    sarifTool     `json:"tool"`
	Results []sarifResult `json:"results"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type sarifResult struct {
	RuleID    string          `json:"ruleId"`
	Level     string          `json:"level"`
	Message   sarifMessage    `json:"message"`
	Locations []sarifLocation `json:"locations,omitempty"`
	// Fingerprint groups equivalent results across tools.
	PartialFingerprints map[string]string `json:"partialFingerprints,omitempty"`
}

type sarifMessage struct {
	Text string `json:"text"`
}

type sarifLocation struct {
	PhysicalLocation sarifPhysicalLocation `json:"physicalLocation"`
}

type sarifPhysicalLocation struct {
	ArtifactLocation sarifArtifactLocation `json:"artifactLocation"`
	Region           sarifRegion           `json:"region"`
}

type sarifArtifactLocation struct {
	URI string `json:"uri"`
}

type sarifRegion struct {
	StartLine int `json:"startLine"`
}

// WriteSARIF writes the deduplicated findings as a SARIF 2.1.0 log with one
// run, one result per dedup group.
func WriteSARIF(w io.Writer, v *types.Verdict, toolVersion string) error {
	results := make([]sarifResult, 0, len(v.Groups))
	for _, group := range v.Groups {
		first := group.Findings[0]
		res := sarifResult{
			RuleID:  first.Category,
			Level:   severityToLevel(group.Severity),
			Message: sarifMessage{Text: first.Message},
			PartialFingerprints: map[string]string{
				"scangate/v1": group.Fingerprint,
			},
		}
		if first.Location != nil && first.Location.FilePath != "" {
			start := first.Location.StartLine
			if start <= 0 {
				start = 1
			}
			res.Locations = []sarifLocation{{
				PhysicalLocation: sarifPhysicalLocation{
					ArtifactLocation: sarifArtifactLocation{URI: first.Location.FilePath},
					Region:           sarifRegion{StartLine: start},
				},
			}}
		}
		results = append(results, res)
	}

	doc := sarifLog{
		Version: "2.1.0",
		Schema:  sarifSchema,
		Runs: []sarifRun{{
			Tool: sarifTool{Driver: sarifDriver{
				Name:    "scangate",
				Version: toolVersion,
			}},
			Results: results,
		}},
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("error encoding sarif: %w", err)
	}
	return nil
}

// severityToLevel maps the unified scale onto SARIF's levels.
func severityToLevel(sev types.Severity) string {
	switch sev {
	case types.SeverityCritical, types.SeverityHigh:
		return "error"
	case types.SeverityMedium:
		return "warning"
	default:
		return "note"
	}
}
