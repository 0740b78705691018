package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/scangate/scangate/pkg/types"
)

// Run represents one recorded pipeline execution.
type Run struct {
	ID             uint            `json:"ID" gorm:"primaryKey;autoIncrement"`
	CreatedAt      time.Time       `json:"CreatedAt" gorm:"autoCreateTime"`
	Target         string          `json:"Target"`
	Passed         bool            `json:"Passed"`
	GatingSeverity string          `json:"GatingSeverity"`
	RequiredFailed bool            `json:"RequiredFailed"`
	Scans          []ScanRecord    `json:"Scans" gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
	Findings       []FindingRecord `json:"Findings" gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
}

// ScanRecord is the persisted outcome of one adapter execution.
type ScanRecord struct {
	ID          uint   `json:"ID" gorm:"primaryKey;autoIncrement"`
	RunID       uint   `json:"RunID" gorm:"index"`
	ScannerID   string `json:"ScannerID"`
	Status      string `json:"Status"`
	ExitCode    int    `json:"ExitCode"`
	DurationMS  int64  `json:"DurationMS"`
	ErrorDetail string `json:"ErrorDetail"`
}

// FindingRecord is one deduplicated finding group, flattened for storage.
type FindingRecord struct {
	ID             uint            `json:"ID" gorm:"primaryKey;autoIncrement"`
	RunID          uint            `json:"RunID" gorm:"index"`
	Fingerprint    string          `json:"Fingerprint" gorm:"index"`
	Severity       string          `json:"Severity"`
	Scanners       JSONStringArray `json:"Scanners" gorm:"type:text"`
	Category       string          `json:"Category"`
	RuleID         string          `json:"RuleID"`
	FilePath       string          `json:"FilePath"`
	StartLine      int             `json:"StartLine"`
	PackageName    string          `json:"PackageName"`
	PackageVersion string          `json:"PackageVersion"`
	Message        string          `json:"Message"`
	Occurrences    int             `json:"Occurrences"`
}

// JSONStringArray custom type for handling JSON serialization of string arrays.
type JSONStringArray []string

// Value implements the driver.Valuer interface for database serialization.
func (j JSONStringArray) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil // Return nil if the array is empty
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface for database deserialization.
func (j *JSONStringArray) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	default:
		return fmt.Errorf("JSONStringArray Scan error: expected []byte or string, got %T", value)
	}
}

// RunFromVerdict flattens a verdict into the persisted shape.
func RunFromVerdict(target string, v *types.Verdict) *Run {
	run := &Run{
		Target:         target,
		Passed:         v.Passed,
		GatingSeverity: v.GatingSeverity.String(),
		RequiredFailed: v.RequiredFailed,
		CreatedAt:      v.CreatedAt,
	}
	for _, res := range v.Results {
		run.Scans = append(run.Scans, ScanRecord{
			ScannerID:   res.ScannerID,
			Status:      string(res.Status),
			ExitCode:    res.ExitCode,
			DurationMS:  res.Duration.Milliseconds(),
			ErrorDetail: res.ErrorDetail,
		})
	}
	for _, group := range v.Groups {
		first := group.Findings[0]
		rec := FindingRecord{
			Fingerprint: group.Fingerprint,
			Severity:    group.Severity.String(),
			Scanners:    JSONStringArray(group.Scanners),
			Category:    first.Category,
			RuleID:      first.RuleID,
			Message:     first.Message,
			Occurrences: len(group.Findings),
		}
		if first.Location != nil {
			rec.FilePath = first.Location.FilePath
			rec.StartLine = first.Location.StartLine
		}
		if first.Package != nil {
			rec.PackageName = first.Package.Name
			rec.PackageVersion = first.Package.Version
		}
		run.Findings = append(run.Findings, rec)
	}
	for _, f := range v.Ungrouped {
		run.Findings = append(run.Findings, FindingRecord{
			Severity:    f.Severity.String(),
			Scanners:    JSONStringArray{f.ScannerID},
			Category:    f.Category,
			RuleID:      f.RuleID,
			Message:     f.Message,
			Occurrences: 1,
		})
	}
	return run
}
