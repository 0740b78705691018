// Package dedup merges findings from all scanners into one canonical set of
// fingerprint-keyed groups.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/scangate/scangate/pkg/types"
)

// Result is the output of one normalization pass.
type Result struct {
	// Groups is sorted by severity descending, then fingerprint ascending,
	// so repeated runs on unchanged input diff cleanly.
	Groups []types.DedupGroup
	// Ungrouped holds findings with neither a location nor a package
	// coordinate. They cannot be safely deduplicated and are surfaced
	// individually.
	Ungrouped []types.Finding
}

// Fingerprint derives the stable dedup key for a finding from its rule
// category and normalized location or package coordinate. Message text never
// participates, so reworded scanner output does not split groups. The second
// return is false when the finding carries neither a location nor a package
// coordinate.
func Fingerprint(f types.Finding) (string, bool) {
	var key string
	switch {
	case f.Location != nil && f.Location.FilePath != "":
		key = fmt.Sprintf("loc|%s|%s|%d",
			f.Category, filepath.ToSlash(f.Location.FilePath), f.Location.StartLine)
	case f.Package != nil && f.Package.Name != "":
		key = fmt.Sprintf("pkg|%s|%s@%s",
			f.Category, f.Package.Name, normalizeVersion(f.Package.Version))
	default:
		return "", false
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:16]), true
}

// Normalize flattens the findings of every scan result, computes a
// fingerprint per finding, and collapses duplicates reported by multiple
// scanners for the same underlying issue. It is a pure transformation:
// normalizing the same input twice yields identical output, and the input
// results are never mutated.
func Normalize(results []types.ScanResult) Result {
	var out Result
	byFingerprint := make(map[string]int)

	for _, res := range results {
		for _, f := range res.Findings {
			fp, ok := Fingerprint(f)
			if !ok {
				out.Ungrouped = append(out.Ungrouped, f)
				continue
			}
			f.Fingerprint = fp

			idx, seen := byFingerprint[fp]
			if !seen {
				byFingerprint[fp] = len(out.Groups)
				out.Groups = append(out.Groups, types.DedupGroup{
					Fingerprint: fp,
					Severity:    f.Severity,
					Scanners:    []string{f.ScannerID},
					Findings:    []types.Finding{f},
				})
				continue
			}

			group := &out.Groups[idx]
			// Representative severity is the maximum across the group; a
			// single scanner's CRITICAL is never downgraded by other
			// scanners' silence.
			group.Severity = types.MaxSeverity(group.Severity, f.Severity)
			group.Findings = append(group.Findings, f)
			if !containsString(group.Scanners, f.ScannerID) {
				group.Scanners = append(group.Scanners, f.ScannerID)
			}
		}
	}

	for i := range out.Groups {
		sort.Strings(out.Groups[i].Scanners)
	}
	sort.SliceStable(out.Groups, func(i, j int) bool {
		if out.Groups[i].Severity != out.Groups[j].Severity {
			return out.Groups[i].Severity > out.Groups[j].Severity
		}
		return out.Groups[i].Fingerprint < out.Groups[j].Fingerprint
	})

	return out
}

// normalizeVersion canonicalizes semver-parseable versions ("2.2" and
// "v2.2.0" fingerprint identically); anything unparseable is kept verbatim.
func normalizeVersion(version string) string {
	v, err := semver.NewVersion(strings.TrimPrefix(version, "v"))
	if err != nil {
		return version
	}
	return v.String()
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
