package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-cadcheck/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/export"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/models"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/repositories"
)

func violations(severities ...models.Severity) []models.Violation {
	out := make([]models.Violation, len(severities))
	for i, s := range severities {
		out[i] = models.Violation{ID: uuid.NewString(), Type: models.ViolationTypeLayer, Severity: s}
	}
	return out
}

func repeat(s models.Severity, n int) []models.Severity {
	out := make([]models.Severity, n)
	for i := range out {
		out[i] = s
	}
	return out
}

func TestReportService_Compile(t *testing.T) {
	svc := NewReportService(repositories.NewMemoryAnalysisRepository(), DefaultScoring(), zap.NewNop())
	job := &models.AnalysisJob{AnalysisID: uuid.New(), FileID: uuid.New(), Standard: "GB/T 14665-2012"}
	doc := &models.Document{FileID: job.FileID, Filename: "part.dxf"}

	tests := []struct {
		name      string
		vs        []models.Severity
		score     float64
		compliant bool
	}{
		{"clean", nil, 100, true},
		{"one critical", []models.Severity{models.SeverityCritical}, 85, false},
		{"four warnings pass", repeat(models.SeverityWarning, 4), 80, true},
		{"five warnings fail", repeat(models.SeverityWarning, 5), 75, false},
		{"info only", repeat(models.SeverityInfo, 20), 80, true},
		{"floor at zero", repeat(models.SeverityCritical, 8), 0, false},
		{"mixed", []models.Severity{models.SeverityCritical, models.SeverityWarning, models.SeverityInfo}, 79, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := svc.Compile(job, doc, violations(tt.vs...), time.Date(2024, 5, 1, 0, 0, 0, 0, time.Local))
			assert.Equal(t, tt.score, r.ComplianceScore)
			assert.Equal(t, tt.compliant, r.IsCompliant)
			assert.Equal(t, len(tt.vs), r.TotalViolations)
			assert.Equal(t, r.TotalViolations, r.CriticalCount+r.WarningCount+r.InfoCount)
			assert.Equal(t, "part.dxf", r.Filename)
			assert.Equal(t, time.UTC, r.AnalysisTime.Location())
			assert.NotNil(t, r.Violations)
		})
	}
}

func TestReportService_ScoreMonotone(t *testing.T) {
	svc := NewReportService(repositories.NewMemoryAnalysisRepository(), DefaultScoring(), zap.NewNop())
	job := &models.AnalysisJob{AnalysisID: uuid.New()}
	order := []models.Severity{models.SeverityInfo, models.SeverityCritical, models.SeverityWarning}

	var vs []models.Severity
	prev := 100.0
	for i := 0; i < 30; i++ {
		vs = append(vs, order[i%len(order)])
		r := svc.Compile(job, nil, violations(vs...), time.Now())
		assert.LessOrEqual(t, r.ComplianceScore, prev)
		assert.GreaterOrEqual(t, r.ComplianceScore, 0.0)
		if r.CriticalCount > 0 {
			assert.False(t, r.IsCompliant)
		}
		prev = r.ComplianceScore
	}
}

func TestReportService_CustomScoring(t *testing.T) {
	scoring := Scoring{CriticalWeight: 0.1, WarningWeight: 0.2, InfoWeight: 0.3, PassThreshold: 99}
	svc := NewReportService(repositories.NewMemoryAnalysisRepository(), scoring, zap.NewNop())

	r := svc.Compile(&models.AnalysisJob{}, nil,
		violations(models.SeverityInfo, models.SeverityInfo, models.SeverityInfo), time.Now())
	assert.Equal(t, 99.1, r.ComplianceScore)
	assert.True(t, r.IsCompliant)
}

func TestReportService_ScoreStaysInRange(t *testing.T) {
	scoring := Scoring{CriticalWeight: 15, WarningWeight: 5, InfoWeight: -3, PassThreshold: 80}
	svc := NewReportService(repositories.NewMemoryAnalysisRepository(), scoring, zap.NewNop())
	job := &models.AnalysisJob{AnalysisID: uuid.New()}

	clean := svc.Compile(job, nil, nil, time.Now())
	assert.Equal(t, 100.0, clean.ComplianceScore)

	infos := svc.Compile(job, nil, violations(models.SeverityInfo, models.SeverityInfo), time.Now())
	assert.LessOrEqual(t, infos.ComplianceScore, clean.ComplianceScore)
	assert.Equal(t, 2, infos.InfoCount)

	heavy := svc.Compile(job, nil, violations(repeat(models.SeverityCritical, 10)...), time.Now())
	assert.Equal(t, 0.0, heavy.ComplianceScore)
}

func completedJob(t *testing.T, repo repositories.AnalysisRepository, svc ReportService) *models.AnalysisJob {
	t.Helper()
	ctx := context.Background()
	job := &models.AnalysisJob{
		AnalysisID: uuid.New(),
		FileID:     uuid.New(),
		Standard:   "GB/T 14665-2012",
		Status:     models.AnalysisStatusPending,
		CreatedAt:  time.Now(),
	}
	require.NoError(t, repo.Create(ctx, job))
	_, err := repo.Transition(ctx, job.AnalysisID, models.AnalysisStatusProcessing, "", time.Now())
	require.NoError(t, err)

	report := svc.Compile(job, &models.Document{Filename: "part.dxf"},
		violations(models.SeverityCritical, models.SeverityWarning), time.Now())
	_, err = repo.Complete(ctx, report, time.Now())
	require.NoError(t, err)
	return job
}

func TestReportService_GetNotReady(t *testing.T) {
	repo := repositories.NewMemoryAnalysisRepository()
	svc := NewReportService(repo, DefaultScoring(), zap.NewNop())
	ctx := context.Background()

	job := &models.AnalysisJob{AnalysisID: uuid.New(), Status: models.AnalysisStatusPending, CreatedAt: time.Now()}
	require.NoError(t, repo.Create(ctx, job))

	_, err := svc.Get(ctx, job.AnalysisID)
	require.ErrorIs(t, err, apperrors.ErrReportNotReady)
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = svc.Get(ctx, uuid.New())
	require.ErrorIs(t, err, apperrors.ErrNotFound)
	require.NotErrorIs(t, err, apperrors.ErrReportNotReady)
}

func TestReportService_Export(t *testing.T) {
	repo := repositories.NewMemoryAnalysisRepository()
	svc := NewReportService(repo, DefaultScoring(), zap.NewNop())
	ctx := context.Background()
	job := completedJob(t, repo, svc)

	out, err := svc.Export(ctx, job.AnalysisID, "")
	require.NoError(t, err)
	assert.Equal(t, export.ContentTypeJSON, out.ContentType)
	assert.Equal(t, "report_"+job.AnalysisID.String()+".json", out.Filename)

	var back models.ComplianceReport
	require.NoError(t, json.Unmarshal(out.Data, &back))
	stored, err := svc.Get(ctx, job.AnalysisID)
	require.NoError(t, err)
	assert.Equal(t, stored.ComplianceScore, back.ComplianceScore)
	assert.Equal(t, stored.TotalViolations, back.TotalViolations)
	assert.Equal(t, stored.IsCompliant, back.IsCompliant)

	out, err = svc.Export(ctx, job.AnalysisID, "html")
	require.NoError(t, err)
	assert.Equal(t, export.ContentTypeHTML, out.ContentType)
	assert.Contains(t, string(out.Data), "part.dxf")

	_, err = svc.Export(ctx, job.AnalysisID, "xml")
	require.ErrorIs(t, err, apperrors.ErrUnsupportedFormat)
	require.NotErrorIs(t, err, apperrors.ErrNotFound)

	_, err = svc.Export(ctx, job.AnalysisID, "pdf")
	require.ErrorIs(t, err, apperrors.ErrFormatNotAvailable)

	_, err = svc.Export(ctx, uuid.New(), "json")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}
