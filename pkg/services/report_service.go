package services

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-cadcheck/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/config"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/export"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/models"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/repositories"
)

// Scoring holds the penalty per violation severity and the pass mark.
type Scoring struct {
	CriticalWeight float64
	WarningWeight  float64
	InfoWeight     float64
	PassThreshold  float64
}

// DefaultScoring deducts 15/5/1 points per critical/warning/info violation
// and passes at 80.
func DefaultScoring() Scoring {
	return Scoring{
		CriticalWeight: 15,
		WarningWeight:  5,
		InfoWeight:     1,
		PassThreshold:  80,
	}
}

// ScoringFromConfig reads the scoring parameters of the analysis section.
func ScoringFromConfig(cfg *config.AnalysisConfig) Scoring {
	return Scoring{
		CriticalWeight: cfg.CriticalWeight,
		WarningWeight:  cfg.WarningWeight,
		InfoWeight:     cfg.InfoWeight,
		PassThreshold:  cfg.PassThreshold,
	}
}

// ReportService compiles, serves and exports compliance reports.
type ReportService interface {
	// Compile scores a violation list. It is a pure function of its inputs.
	Compile(job *models.AnalysisJob, doc *models.Document, violations []models.Violation, analysisTime time.Time) *models.ComplianceReport

	// Get returns the report of a completed analysis.
	Get(ctx context.Context, analysisID uuid.UUID) (*models.ComplianceReport, error)

	// Export renders the report of a completed analysis and returns the
	// bytes, content type and download file name.
	Export(ctx context.Context, analysisID uuid.UUID, format string) (*ExportedReport, error)
}

// ExportedReport is a rendered report ready to send.
type ExportedReport struct {
	Data        []byte
	ContentType string
	Filename    string
}

type reportService struct {
	repo    repositories.AnalysisRepository
	scoring Scoring
	logger  *zap.Logger
}

// NewReportService creates a report service over the analysis registry.
func NewReportService(repo repositories.AnalysisRepository, scoring Scoring, logger *zap.Logger) ReportService {
	return &reportService{
		repo:    repo,
		scoring: scoring,
		logger:  logger.Named("report-service"),
	}
}

var _ ReportService = (*reportService)(nil)

func (s *reportService) Compile(job *models.AnalysisJob, doc *models.Document, violations []models.Violation, analysisTime time.Time) *models.ComplianceReport {
	report := &models.ComplianceReport{
		AnalysisID:      job.AnalysisID,
		FileID:          job.FileID,
		Standard:        job.Standard,
		AnalysisTime:    analysisTime.UTC(),
		TotalViolations: len(violations),
		Violations:      violations,
	}
	if doc != nil {
		report.Filename = doc.Filename
	}
	if report.Violations == nil {
		report.Violations = []models.Violation{}
	}

	var penalty float64
	for _, v := range violations {
		switch v.Severity {
		case models.SeverityCritical:
			report.CriticalCount++
			penalty += math.Max(0, s.scoring.CriticalWeight)
		case models.SeverityWarning:
			report.WarningCount++
			penalty += math.Max(0, s.scoring.WarningWeight)
		case models.SeverityInfo:
			report.InfoCount++
			penalty += math.Max(0, s.scoring.InfoWeight)
		}
	}

	// Weights only deduct, so the score stays in [0, 100] and never rises
	// as violations are added.
	score := math.Round((100-penalty)*100) / 100
	report.ComplianceScore = math.Min(100, math.Max(0, score))
	report.IsCompliant = report.CriticalCount == 0 && report.ComplianceScore >= s.scoring.PassThreshold
	return report
}

func (s *reportService) Get(ctx context.Context, analysisID uuid.UUID) (*models.ComplianceReport, error) {
	job, err := s.repo.Get(ctx, analysisID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.AnalysisStatusCompleted {
		return nil, fmt.Errorf("%w: analysis %s is %s", apperrors.ErrReportNotReady, analysisID, job.Status)
	}
	return s.repo.GetReport(ctx, analysisID)
}

func (s *reportService) Export(ctx context.Context, analysisID uuid.UUID, format string) (*ExportedReport, error) {
	f, err := export.ParseFormat(format)
	if err != nil {
		return nil, err
	}

	report, err := s.Get(ctx, analysisID)
	if err != nil {
		return nil, err
	}

	data, contentType, err := export.Render(report, f)
	if err != nil {
		s.logger.Error("Failed to render report",
			zap.String("analysis_id", analysisID.String()),
			zap.String("format", string(f)),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInternal, err)
	}

	return &ExportedReport{
		Data:        data,
		ContentType: contentType,
		Filename:    export.Filename(report, f),
	}, nil
}
