package models

import (
	"time"

	"github.com/google/uuid"
)

// ComplianceReport is the scored result of a completed analysis.
// Produced exactly once per completed job and cached by AnalysisID.
type ComplianceReport struct {
	AnalysisID   uuid.UUID `json:"analysis_id"`
	FileID       uuid.UUID `json:"file_id"`
	Filename     string    `json:"filename"`
	Standard     string    `json:"standard"`
	AnalysisTime time.Time `json:"analysis_time"`

	TotalViolations int `json:"total_violations"`
	CriticalCount   int `json:"critical_count"`
	WarningCount    int `json:"warning_count"`
	InfoCount       int `json:"info_count"`

	Violations []Violation `json:"violations"`

	IsCompliant     bool    `json:"is_compliant"`
	ComplianceScore float64 `json:"compliance_score"`
}

// ExportFormat is a serialization format for a report download.
type ExportFormat string

const (
	ExportFormatJSON ExportFormat = "json"
	ExportFormatHTML ExportFormat = "html"
	ExportFormatPDF  ExportFormat = "pdf"
)
