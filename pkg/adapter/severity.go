package adapter

import (
	"fmt"
	"strings"

	"github.com/scangate/scangate/pkg/types"
)

// SeverityMap maps a tool's native severity vocabulary onto the unified
// scale. The mapping is part of the adapter contract, never inferred; each
// adapter ships a default table and configuration may override entries.
type SeverityMap map[string]types.Severity

// Map returns the unified severity for a native name, or the fallback when
// the name is not in the table. Lookup is case-insensitive.
func (m SeverityMap) Map(native string, fallback types.Severity) types.Severity {
	if sev, ok := m[strings.ToUpper(strings.TrimSpace(native))]; ok {
		return sev
	}
	return fallback
}

// resolveSeverityMap merges override entries onto a copy of the default
// table. Override values were validated at config load; an invalid one here
// is a programming error.
func resolveSeverityMap(defaults SeverityMap, overrides map[string]string) (SeverityMap, error) {
	merged := make(SeverityMap, len(defaults)+len(overrides))
	for native, sev := range defaults {
		merged[native] = sev
	}
	for native, name := range overrides {
		sev, err := types.ParseSeverity(name)
		if err != nil {
			return nil, fmt.Errorf("severity override for %q: %w", native, err)
		}
		merged[strings.ToUpper(strings.TrimSpace(native))] = sev
	}
	return merged, nil
}
