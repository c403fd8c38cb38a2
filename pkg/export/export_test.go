package export

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-cadcheck/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/models"
)

func sampleReport() *models.ComplianceReport {
	return &models.ComplianceReport{
		AnalysisID:      uuid.MustParse("6f1c1d1e-4a55-4c1b-9a43-2b0c7bd2a001"),
		FileID:          uuid.MustParse("6f1c1d1e-4a55-4c1b-9a43-2b0c7bd2a002"),
		Filename:        "bracket<v2>.dxf",
		Standard:        "GB/T 14665-2012",
		AnalysisTime:    time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC),
		TotalViolations: 2,
		CriticalCount:   1,
		WarningCount:    1,
		Violations: []models.Violation{
			{
				ID:           "a",
				Type:         models.ViolationTypeLayer,
				Severity:     models.SeverityCritical,
				Rule:         "GB/T 14665-2012 表6 - 图层命名",
				Description:  `图层名称 "Layer1" 不符合标准图层命名规则`,
				Layer:        "Layer1",
				EntityHandle: "1F",
				Suggestion:   "<script>alert(1)</script>",
			},
			{
				ID:            "b",
				Type:          models.ViolationTypeGeometry,
				Severity:      models.SeverityWarning,
				Rule:          "GB/T 14665-2012 - 几何重合",
				Description:   "圆心近似重合",
				Location:      &models.Location{X: 10, Y: 20.25},
				EntityDetails: map[string]any{"distance_mm": 0.2, "other_handle": "2A"},
			},
		},
		IsCompliant:     false,
		ComplianceScore: 80,
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    models.ExportFormat
		wantErr error
	}{
		{"", models.ExportFormatJSON, nil},
		{"json", models.ExportFormatJSON, nil},
		{" HTML ", models.ExportFormatHTML, nil},
		{"pdf", "", apperrors.ErrFormatNotAvailable},
		{"xml", "", apperrors.ErrUnsupportedFormat},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.ErrorIs(t, err, apperrors.ErrValidation)
				assert.NotErrorIs(t, err, apperrors.ErrNotFound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseFormat("xml")
	assert.NotErrorIs(t, err, apperrors.ErrFormatNotAvailable)
}

func TestJSON_RoundTrips(t *testing.T) {
	report := sampleReport()
	data, err := JSON(report)
	require.NoError(t, err)

	assert.Contains(t, string(data), "\n  \"analysis_id\"")
	assert.Contains(t, string(data), "图层错误")
	assert.Contains(t, string(data), "<script>")

	var back models.ComplianceReport
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, report.AnalysisID, back.AnalysisID)
	assert.Equal(t, report.ComplianceScore, back.ComplianceScore)
	assert.Equal(t, report.IsCompliant, back.IsCompliant)
	require.Len(t, back.Violations, 2)
	assert.Equal(t, report.Violations[0].Description, back.Violations[0].Description)
	assert.Equal(t, *report.Violations[1].Location, *back.Violations[1].Location)
	assert.True(t, report.AnalysisTime.Equal(back.AnalysisTime))
}

func TestHTML_SelfContained(t *testing.T) {
	data, err := HTML(sampleReport())
	require.NoError(t, err)
	page := string(data)

	assert.True(t, strings.HasPrefix(page, "<!DOCTYPE html>"))
	assert.Contains(t, page, "bracket&lt;v2&gt;.dxf")
	assert.Contains(t, page, "&lt;script&gt;alert(1)&lt;/script&gt;")
	assert.NotContains(t, strings.ToLower(page), "<script")
	assert.NotContains(t, page, "src=")
	assert.NotContains(t, page, "href=")
	assert.Contains(t, page, "不合规")
	assert.Contains(t, page, "80.0")
	assert.Contains(t, page, "(10.00, 20.25)")
	assert.Contains(t, page, "distance_mm: 0.2")
	assert.Contains(t, page, `class="critical"`)
}

func TestHTML_NoViolations(t *testing.T) {
	report := sampleReport()
	report.Violations = nil
	report.TotalViolations, report.CriticalCount, report.WarningCount = 0, 0, 0
	report.IsCompliant, report.ComplianceScore = true, 100

	data, err := HTML(report)
	require.NoError(t, err)
	assert.Contains(t, string(data), "未发现违规项")
	assert.Contains(t, string(data), "合规")
}

func TestRender(t *testing.T) {
	report := sampleReport()

	_, ct, err := Render(report, models.ExportFormatJSON)
	require.NoError(t, err)
	assert.Equal(t, ContentTypeJSON, ct)

	_, ct, err = Render(report, models.ExportFormatHTML)
	require.NoError(t, err)
	assert.Equal(t, ContentTypeHTML, ct)

	_, _, err = Render(report, models.ExportFormatPDF)
	require.ErrorIs(t, err, apperrors.ErrFormatNotAvailable)

	assert.Equal(t, "report_6f1c1d1e-4a55-4c1b-9a43-2b0c7bd2a001.html", Filename(report, models.ExportFormatHTML))
}
