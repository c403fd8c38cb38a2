package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-cadcheck/pkg/repositories"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/storage"
)

// DefaultRetentionHours is the default retention period for uploads and finished jobs.
const DefaultRetentionHours = 72

// DefaultRetentionInterval is how often the scheduler prunes.
const DefaultRetentionInterval = time.Hour

// RetentionResult reports what a prune pass removed.
type RetentionResult struct {
	Documents int
	Jobs      int64
}

// RetentionService handles cleanup of old uploads and finished analyses.
type RetentionService interface {
	// Prune removes uploads and terminal jobs older than the retention period.
	Prune(ctx context.Context) (RetentionResult, error)

	// RunScheduler starts a background goroutine that prunes on the given interval.
	// It runs immediately on startup, then repeats every interval.
	// Cancel the context to stop the scheduler.
	RunScheduler(ctx context.Context, interval time.Duration)
}

type retentionService struct {
	store     storage.DocumentStore
	repo      repositories.AnalysisRepository
	retention time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewRetentionService creates a retention service. retentionHours <= 0 uses
// DefaultRetentionHours.
func NewRetentionService(
	store storage.DocumentStore,
	repo repositories.AnalysisRepository,
	retentionHours int,
	logger *zap.Logger,
) RetentionService {
	if retentionHours <= 0 {
		retentionHours = DefaultRetentionHours
	}
	return &retentionService{
		store:     store,
		repo:      repo,
		retention: time.Duration(retentionHours) * time.Hour,
		now:       time.Now,
		logger:    logger.Named("retention-service"),
	}
}

var _ RetentionService = (*retentionService)(nil)

func (s *retentionService) Prune(ctx context.Context) (RetentionResult, error) {
	cutoff := s.now().Add(-s.retention)
	var result RetentionResult

	jobs, err := s.repo.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("Failed to prune analysis jobs", zap.Error(err))
		return result, fmt.Errorf("failed to prune analysis jobs: %w", err)
	}
	result.Jobs = jobs

	docs, err := s.store.PruneOlderThan(ctx, cutoff)
	result.Documents = docs
	if err != nil {
		s.logger.Error("Failed to prune documents", zap.Error(err))
		return result, fmt.Errorf("failed to prune documents: %w", err)
	}

	if result.Jobs > 0 || result.Documents > 0 {
		s.logger.Info("Retention cleanup completed",
			zap.Duration("retention", s.retention),
			zap.Int64("jobs_deleted", result.Jobs),
			zap.Int("documents_deleted", result.Documents))
	}
	return result, nil
}

// RunScheduler starts a background loop that prunes old data.
func (s *retentionService) RunScheduler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultRetentionInterval
	}
	go func() {
		s.logger.Info("Retention scheduler started",
			zap.Duration("interval", interval),
			zap.Duration("retention", s.retention))

		// Run immediately on startup, then at each interval
		s.pruneOnce(ctx)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Retention scheduler stopped")
				return
			case <-ticker.C:
				s.pruneOnce(ctx)
			}
		}
	}()
}

func (s *retentionService) pruneOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.Prune(ctx); err != nil {
		s.logger.Warn("Retention scheduler: prune failed", zap.Error(err))
	}
}
