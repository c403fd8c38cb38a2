package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-cadcheck/pkg/models"
)

// AnalysisRepository is the job registry and report cache.
// Implementations must be safe for concurrent use.
type AnalysisRepository interface {
	Create(ctx context.Context, job *models.AnalysisJob) error
	Get(ctx context.Context, analysisID uuid.UUID) (*models.AnalysisJob, error)

	// Transition moves a job to status. It fails with ErrInvalidTransition
	// when the current status does not allow it, so a terminal job is never
	// modified.
	Transition(ctx context.Context, analysisID uuid.UUID, status models.AnalysisStatus, message string, at time.Time) (*models.AnalysisJob, error)

	// Complete stores the report and moves the job to Completed atomically.
	Complete(ctx context.Context, report *models.ComplianceReport, at time.Time) (*models.AnalysisJob, error)
	GetReport(ctx context.Context, analysisID uuid.UUID) (*models.ComplianceReport, error)

	// DeleteFinishedBefore removes terminal jobs (and their reports) that
	// finished before cutoff.
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// FailUnfinished moves every pending or processing job to Failed with
	// message. It is meant for startup, before any worker owns a job.
	FailUnfinished(ctx context.Context, message string, at time.Time) (int64, error)
}

// applyTransition updates timestamps and message for a status change that
// has already been validated.
func applyTransition(job *models.AnalysisJob, status models.AnalysisStatus, message string, at time.Time) {
	job.Status = status
	switch status {
	case models.AnalysisStatusProcessing:
		job.StartedAt = &at
	case models.AnalysisStatusCompleted, models.AnalysisStatusFailed:
		job.CompletedAt = &at
		job.Message = message
	}
}
