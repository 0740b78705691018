// Package report formats a Verdict for external consumers. The engine core
// only produces the structured Verdict; everything here is presentation.
package report

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/scangate/scangate/pkg/types"
)

// WriteJSON writes the full verdict as indented JSON.
func WriteJSON(w io.Writer, v *types.Verdict) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("error encoding verdict: %w", err)
	}
	return nil
}
