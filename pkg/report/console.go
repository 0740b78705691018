package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/scangate/scangate/pkg/types"
)

// WriteConsole renders a human-readable summary: per-scanner outcomes, the
// severity breakdown of deduplicated findings, and the verdict line.
func WriteConsole(w io.Writer, v *types.Verdict) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, "SCANNER\tSTATUS\tFINDINGS\tDURATION\tDETAIL")
	for _, res := range v.Results {
		detail := res.ErrorDetail
		if detail == "" {
			detail = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			res.ScannerID, res.Status, v.ScannerTotals[res.ScannerID],
			res.Duration.Round(time.Millisecond), detail)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("error writing summary table: %w", err)
	}

	fmt.Fprintln(w)
	parts := make([]string, 0, len(types.Severities))
	for _, sev := range types.Severities {
		parts = append(parts, fmt.Sprintf("%s=%d", sev, v.SeverityTotals[sev.String()]))
	}
	fmt.Fprintf(w, "Findings (%d groups", len(v.Groups))
	if n := len(v.Ungrouped); n > 0 {
		fmt.Fprintf(w, ", %d ungrouped", n)
	}
	fmt.Fprintf(w, "): %s\n", strings.Join(parts, " "))

	switch {
	case v.RequiredFailed:
		fmt.Fprintf(w, "Verdict: FAILED (required scanner did not complete)\n")
	case !v.Passed:
		fmt.Fprintf(w, "Verdict: FAILED (findings at or above %s)\n", v.GatingSeverity)
	default:
		fmt.Fprintf(w, "Verdict: PASSED (gating at %s)\n", v.GatingSeverity)
	}
	return nil
}
