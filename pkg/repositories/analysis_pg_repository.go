package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-cadcheck/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/database"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/models"
)

type pgAnalysisRepository struct {
	db *database.DB
}

// NewPostgresAnalysisRepository creates an AnalysisRepository backed by PostgreSQL.
func NewPostgresAnalysisRepository(db *database.DB) AnalysisRepository {
	return &pgAnalysisRepository{db: db}
}

var _ AnalysisRepository = (*pgAnalysisRepository)(nil)

const jobColumns = `analysis_id, file_id, standard, status, message, created_at, started_at, completed_at`

// ============================================================================
// Jobs
// ============================================================================

func (r *pgAnalysisRepository) Create(ctx context.Context, job *models.AnalysisJob) error {
	query := `
		INSERT INTO analysis_jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Exec(ctx, query,
		job.AnalysisID, job.FileID, job.Standard, job.Status, job.Message,
		job.CreatedAt, job.StartedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create analysis job: %w", err)
	}
	return nil
}

func scanJob(row pgx.Row) (*models.AnalysisJob, error) {
	var job models.AnalysisJob
	err := row.Scan(
		&job.AnalysisID, &job.FileID, &job.Standard, &job.Status, &job.Message,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *pgAnalysisRepository) Get(ctx context.Context, analysisID uuid.UUID) (*models.AnalysisJob, error) {
	query := `SELECT ` + jobColumns + ` FROM analysis_jobs WHERE analysis_id = $1`

	job, err := scanJob(r.db.QueryRow(ctx, query, analysisID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, jobNotFound(analysisID)
		}
		return nil, fmt.Errorf("failed to get analysis job: %w", err)
	}
	return job, nil
}

// transitionTx locks the row, validates the change and writes it.
func transitionTx(ctx context.Context, tx pgx.Tx, analysisID uuid.UUID, status models.AnalysisStatus, message string, at time.Time) (*models.AnalysisJob, error) {
	query := `SELECT ` + jobColumns + ` FROM analysis_jobs WHERE analysis_id = $1 FOR UPDATE`

	job, err := scanJob(tx.QueryRow(ctx, query, analysisID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, jobNotFound(analysisID)
		}
		return nil, fmt.Errorf("failed to lock analysis job: %w", err)
	}
	if !job.Status.CanTransitionTo(status) {
		return nil, fmt.Errorf("%w: %s -> %s", apperrors.ErrInvalidTransition, job.Status, status)
	}
	applyTransition(job, status, message, at)

	update := `
		UPDATE analysis_jobs
		SET status = $2, message = $3, started_at = $4, completed_at = $5
		WHERE analysis_id = $1`
	if _, err := tx.Exec(ctx, update, job.AnalysisID, job.Status, job.Message, job.StartedAt, job.CompletedAt); err != nil {
		return nil, fmt.Errorf("failed to update analysis job: %w", err)
	}
	return job, nil
}

func (r *pgAnalysisRepository) Transition(ctx context.Context, analysisID uuid.UUID, status models.AnalysisStatus, message string, at time.Time) (*models.AnalysisJob, error) {
	var job *models.AnalysisJob
	err := pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		var err error
		job, err = transitionTx(ctx, tx, analysisID, status, message, at)
		return err
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ============================================================================
// Reports
// ============================================================================

func (r *pgAnalysisRepository) Complete(ctx context.Context, report *models.ComplianceReport, at time.Time) (*models.AnalysisJob, error) {
	payload, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}

	var job *models.AnalysisJob
	err = pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		var err error
		job, err = transitionTx(ctx, tx, report.AnalysisID, models.AnalysisStatusCompleted, "", at)
		if err != nil {
			return err
		}
		insert := `INSERT INTO compliance_reports (analysis_id, report, created_at) VALUES ($1, $2, $3)`
		if _, err := tx.Exec(ctx, insert, report.AnalysisID, payload, at); err != nil {
			return fmt.Errorf("failed to store report: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (r *pgAnalysisRepository) GetReport(ctx context.Context, analysisID uuid.UUID) (*models.ComplianceReport, error) {
	var payload []byte
	err := r.db.QueryRow(ctx, `SELECT report FROM compliance_reports WHERE analysis_id = $1`, analysisID).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: report %s", apperrors.ErrNotFound, analysisID)
		}
		return nil, fmt.Errorf("failed to get report: %w", err)
	}

	var report models.ComplianceReport
	if err := json.Unmarshal(payload, &report); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	return &report, nil
}

func (r *pgAnalysisRepository) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM analysis_jobs
		WHERE status IN ('completed', 'failed') AND completed_at < $1`

	tag, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete finished jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *pgAnalysisRepository) FailUnfinished(ctx context.Context, message string, at time.Time) (int64, error) {
	query := `
		UPDATE analysis_jobs
		SET status = 'failed', message = $1, completed_at = $2
		WHERE status IN ('pending', 'processing')`

	tag, err := r.db.Exec(ctx, query, message, at)
	if err != nil {
		return 0, fmt.Errorf("failed to fail unfinished jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}
