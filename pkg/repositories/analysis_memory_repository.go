package repositories

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-cadcheck/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/models"
)

type memoryAnalysisRepository struct {
	mu      sync.RWMutex
	jobs    map[uuid.UUID]*models.AnalysisJob
	reports map[uuid.UUID]*models.ComplianceReport
}

// NewMemoryAnalysisRepository creates an in-process AnalysisRepository.
// Contents are lost on restart.
func NewMemoryAnalysisRepository() AnalysisRepository {
	return &memoryAnalysisRepository{
		jobs:    make(map[uuid.UUID]*models.AnalysisJob),
		reports: make(map[uuid.UUID]*models.ComplianceReport),
	}
}

var _ AnalysisRepository = (*memoryAnalysisRepository)(nil)

func jobNotFound(id uuid.UUID) error {
	return fmt.Errorf("%w: analysis %s", apperrors.ErrNotFound, id)
}

func (r *memoryAnalysisRepository) Create(ctx context.Context, job *models.AnalysisJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.AnalysisID]; exists {
		return fmt.Errorf("analysis %s already exists", job.AnalysisID)
	}
	r.jobs[job.AnalysisID] = job.Clone()
	return nil
}

func (r *memoryAnalysisRepository) Get(ctx context.Context, analysisID uuid.UUID) (*models.AnalysisJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[analysisID]
	if !ok {
		return nil, jobNotFound(analysisID)
	}
	return job.Clone(), nil
}

func (r *memoryAnalysisRepository) transitionLocked(analysisID uuid.UUID, status models.AnalysisStatus, message string, at time.Time) (*models.AnalysisJob, error) {
	job, ok := r.jobs[analysisID]
	if !ok {
		return nil, jobNotFound(analysisID)
	}
	if !job.Status.CanTransitionTo(status) {
		return nil, fmt.Errorf("%w: %s -> %s", apperrors.ErrInvalidTransition, job.Status, status)
	}
	applyTransition(job, status, message, at)
	return job.Clone(), nil
}

func (r *memoryAnalysisRepository) Transition(ctx context.Context, analysisID uuid.UUID, status models.AnalysisStatus, message string, at time.Time) (*models.AnalysisJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transitionLocked(analysisID, status, message, at)
}

func (r *memoryAnalysisRepository) Complete(ctx context.Context, report *models.ComplianceReport, at time.Time) (*models.AnalysisJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, err := r.transitionLocked(report.AnalysisID, models.AnalysisStatusCompleted, "", at)
	if err != nil {
		return nil, err
	}
	r.reports[report.AnalysisID] = report
	return job, nil
}

func (r *memoryAnalysisRepository) GetReport(ctx context.Context, analysisID uuid.UUID) (*models.ComplianceReport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	report, ok := r.reports[analysisID]
	if !ok {
		return nil, fmt.Errorf("%w: report %s", apperrors.ErrNotFound, analysisID)
	}
	return report, nil
}

func (r *memoryAnalysisRepository) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, job := range r.jobs {
		if !job.Status.IsTerminal() || job.CompletedAt == nil || !job.CompletedAt.Before(cutoff) {
			continue
		}
		delete(r.jobs, id)
		delete(r.reports, id)
		n++
	}
	return n, nil
}

func (r *memoryAnalysisRepository) FailUnfinished(ctx context.Context, message string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, job := range r.jobs {
		if job.Status.IsTerminal() {
			continue
		}
		applyTransition(job, models.AnalysisStatusFailed, message, at)
		n++
	}
	return n, nil
}
