package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/scangate/scangate/pkg/types"
)

// WriteCSV writes one row per dedup group.
func WriteCSV(w io.Writer, v *types.Verdict, includeHeader bool) error {
	csvWriter := csv.NewWriter(w)

	if includeHeader {
		err := csvWriter.Write([]string{
			"Fingerprint",
			"Severity",
			"Scanners",
			"Category",
			"Target",
			"Message",
		})
		if err != nil {
			return fmt.Errorf("error writing csv header: %w", err)
		}
	}

	for _, group := range v.Groups {
		first := group.Findings[0]
		err := csvWriter.Write([]string{
			group.Fingerprint,
			group.Severity.String(),
			strings.Join(group.Scanners, "|"),
			first.Category,
			findingTarget(first),
			first.Message,
		})
		if err != nil {
			return fmt.Errorf("error writing csv record: %w", err)
		}
	}

	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return fmt.Errorf("error flushing csv: %w", err)
	}
	return nil
}

// findingTarget renders the file location or package coordinate of a finding.
func findingTarget(f types.Finding) string {
	switch {
	case f.Location != nil && f.Location.FilePath != "":
		if f.Location.StartLine > 0 {
			return f.Location.FilePath + ":" + strconv.Itoa(f.Location.StartLine)
		}
		return f.Location.FilePath
	case f.Package != nil && f.Package.Name != "":
		return f.Package.Name + "@" + f.Package.Version
	default:
		return ""
	}
}
