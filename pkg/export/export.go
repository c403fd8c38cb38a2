// Package export renders compliance reports for download.
package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-cadcheck/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/models"
)

// Content types of the rendered formats.
const (
	ContentTypeJSON = "application/json"
	ContentTypeHTML = "text/html; charset=utf-8"
	ContentTypePDF  = "application/pdf"
)

// ParseFormat validates a requested export format. An empty value means JSON.
// PDF is recognised but not rendered by this build.
func ParseFormat(s string) (models.ExportFormat, error) {
	switch f := models.ExportFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "", models.ExportFormatJSON:
		return models.ExportFormatJSON, nil
	case models.ExportFormatHTML:
		return models.ExportFormatHTML, nil
	case models.ExportFormatPDF:
		return "", fmt.Errorf("%w: pdf", apperrors.ErrFormatNotAvailable)
	default:
		return "", fmt.Errorf("%w: %q (supported: json, html)", apperrors.ErrUnsupportedFormat, s)
	}
}

// Render serializes report in format and returns the bytes and content type.
func Render(report *models.ComplianceReport, format models.ExportFormat) ([]byte, string, error) {
	switch format {
	case models.ExportFormatJSON:
		data, err := JSON(report)
		return data, ContentTypeJSON, err
	case models.ExportFormatHTML:
		data, err := HTML(report)
		return data, ContentTypeHTML, err
	case models.ExportFormatPDF:
		return nil, "", fmt.Errorf("%w: pdf", apperrors.ErrFormatNotAvailable)
	default:
		return nil, "", fmt.Errorf("%w: %q", apperrors.ErrUnsupportedFormat, format)
	}
}

// JSON renders the report as indented JSON with non-ASCII text kept as is.
func JSON(report *models.ComplianceReport) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	return buf.Bytes(), nil
}

// Filename is the attachment name used for a downloaded report.
func Filename(report *models.ComplianceReport, format models.ExportFormat) string {
	return fmt.Sprintf("report_%s.%s", report.AnalysisID, format)
}
