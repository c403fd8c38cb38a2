package services

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-cadcheck/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/dwg"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/dxf"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/models"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/repositories"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/retry"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/rules"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/services/workqueue"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/storage"
)

// DefaultAnalysisTimeout bounds a single analysis when none is configured.
const DefaultAnalysisTimeout = 60 * time.Second

// finalizeTimeout bounds the registry write that records a job's outcome
// after its own context has ended.
const finalizeTimeout = 5 * time.Second

// DrawingConverter turns a stored DWG file into a DXF stream.
type DrawingConverter interface {
	Convert(ctx context.Context, src string) (io.ReadCloser, error)
}

// AnalysisService runs compliance analyses as asynchronous jobs.
type AnalysisService interface {
	// Submit creates a pending job for an uploaded file and queues it.
	Submit(ctx context.Context, fileID uuid.UUID, standard string) (*models.AnalysisJob, error)

	// Status returns a snapshot of a job.
	Status(ctx context.Context, analysisID uuid.UUID) (*models.AnalysisJob, error)

	// Report returns the report of a completed job.
	Report(ctx context.Context, analysisID uuid.UUID) (*models.ComplianceReport, error)

	// Check uploads, analyzes and reports in one synchronous call. The
	// uploaded file is removed afterwards; the job and report are kept.
	Check(ctx context.Context, filename string, r io.Reader, standard string) (*models.ComplianceReport, error)

	// FailInterrupted fails jobs a previous process left pending or
	// processing. Call it at startup, before the first Submit.
	FailInterrupted(ctx context.Context) (int64, error)
}

// AnalysisOptions configures an analysis service.
type AnalysisOptions struct {
	DefaultStandard string
	Timeout         time.Duration
}

type analysisService struct {
	repo      repositories.AnalysisRepository
	store     storage.DocumentStore
	ingest    IngestService
	engine    *rules.Engine
	reports   ReportService
	converter DrawingConverter
	queue     *workqueue.Queue
	opts      AnalysisOptions
	retryCfg  *retry.Config
	now       func() time.Time
	logger    *zap.Logger
}

// NewAnalysisService wires the analysis pipeline.
func NewAnalysisService(
	repo repositories.AnalysisRepository,
	store storage.DocumentStore,
	ingest IngestService,
	engine *rules.Engine,
	reports ReportService,
	converter DrawingConverter,
	queue *workqueue.Queue,
	opts AnalysisOptions,
	logger *zap.Logger,
) AnalysisService {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultAnalysisTimeout
	}
	if opts.DefaultStandard == "" {
		opts.DefaultStandard = rules.DefaultStandard
	}
	return &analysisService{
		repo:      repo,
		store:     store,
		ingest:    ingest,
		engine:    engine,
		reports:   reports,
		converter: converter,
		queue:     queue,
		opts:      opts,
		retryCfg:  retry.DefaultConfig(),
		now:       time.Now,
		logger:    logger.Named("analysis-service"),
	}
}

var _ AnalysisService = (*analysisService)(nil)

// analysisTask runs one job on the work queue.
type analysisTask struct {
	workqueue.BaseTask
	svc *analysisService
	job *models.AnalysisJob
	doc *models.Document
}

// Execute implements workqueue.Task.
func (t *analysisTask) Execute(ctx context.Context) error {
	return t.svc.execute(ctx, t.job, t.doc)
}

// Dropped implements workqueue.Dropper: a job the queue discards on
// shutdown must not stay pending.
func (t *analysisTask) Dropped() {
	t.svc.fail(context.Background(), t.job, apperrors.ErrQueueShutdown)
}

var _ workqueue.Dropper = (*analysisTask)(nil)

func (s *analysisService) Submit(ctx context.Context, fileID uuid.UUID, standard string) (*models.AnalysisJob, error) {
	job, doc, err := s.newJob(ctx, fileID, standard)
	if err != nil {
		return nil, err
	}

	task := &analysisTask{
		BaseTask: workqueue.NewBaseTask(job.AnalysisID.String(), "analyze "+job.AnalysisID.String()),
		svc:      s,
		job:      job,
		doc:      doc,
	}
	if err := s.queue.Enqueue(task); err != nil {
		s.fail(ctx, job, err)
		return nil, err
	}

	s.logger.Info("Analysis submitted",
		zap.String("analysis_id", job.AnalysisID.String()),
		zap.String("file_id", fileID.String()),
		zap.String("standard", job.Standard))
	return job.Clone(), nil
}

func (s *analysisService) newJob(ctx context.Context, fileID uuid.UUID, standard string) (*models.AnalysisJob, *models.Document, error) {
	standard = strings.TrimSpace(standard)
	if standard == "" {
		standard = s.opts.DefaultStandard
	}
	if !s.engine.Registry().Has(standard) {
		return nil, nil, fmt.Errorf("%w: %q (available: %s)",
			apperrors.ErrUnknownStd, standard, strings.Join(s.engine.Registry().Standards(), ", "))
	}

	doc, err := s.store.Get(ctx, fileID)
	if err != nil {
		return nil, nil, err
	}

	job := &models.AnalysisJob{
		AnalysisID: uuid.New(),
		FileID:     fileID,
		Standard:   standard,
		Status:     models.AnalysisStatusPending,
		CreatedAt:  s.now().UTC(),
	}
	err = retry.DoIfRetryable(ctx, s.retryCfg, func() error {
		return s.repo.Create(ctx, job)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create analysis job: %w", err)
	}
	return job, doc, nil
}

// interruptedMessage is the failure message of jobs found unfinished at startup.
const interruptedMessage = "analysis interrupted by a service restart, please resubmit"

func (s *analysisService) FailInterrupted(ctx context.Context) (int64, error) {
	n, err := s.repo.FailUnfinished(ctx, interruptedMessage, s.now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Warn("Failed analyses left unfinished by a previous run", zap.Int64("count", n))
	}
	return n, nil
}

func (s *analysisService) Status(ctx context.Context, analysisID uuid.UUID) (*models.AnalysisJob, error) {
	return s.repo.Get(ctx, analysisID)
}

func (s *analysisService) Report(ctx context.Context, analysisID uuid.UUID) (*models.ComplianceReport, error) {
	return s.reports.Get(ctx, analysisID)
}

func (s *analysisService) Check(ctx context.Context, filename string, r io.Reader, standard string) (*models.ComplianceReport, error) {
	doc, err := s.ingest.Ingest(ctx, filename, r)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := s.ingest.Delete(context.WithoutCancel(ctx), doc.FileID); err != nil {
			s.logger.Warn("Failed to remove checked document",
				zap.String("file_id", doc.FileID.String()),
				zap.Error(err))
		}
	}()

	job, doc, err := s.newJob(ctx, doc.FileID, standard)
	if err != nil {
		return nil, err
	}
	if err := s.execute(ctx, job, doc); err != nil {
		return nil, err
	}
	return s.reports.Get(ctx, job.AnalysisID)
}

type outcome struct {
	report *models.ComplianceReport
	err    error
}

// execute drives a job from Pending to a terminal state. The pipeline runs
// in its own goroutine so the job fails on time even if a stage ignores
// cancellation.
func (s *analysisService) execute(ctx context.Context, job *models.AnalysisJob, doc *models.Document) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	logger := s.logger.With(zap.String("analysis_id", job.AnalysisID.String()))

	err := retry.DoIfRetryable(ctx, s.retryCfg, func() error {
		_, err := s.repo.Transition(ctx, job.AnalysisID, models.AnalysisStatusProcessing, "", s.now().UTC())
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			err = s.timeoutErr(ctx)
			s.fail(ctx, job, err)
		}
		// Already terminal: timed out or failed before a worker got to it.
		logger.Warn("Analysis not started", zap.Error(err))
		return err
	}

	start := time.Now()
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("Analysis panicked", zap.Any("panic", rec), zap.Stack("stack"))
				done <- outcome{err: fmt.Errorf("%w: analysis panicked: %v", apperrors.ErrInternal, rec)}
			}
		}()
		report, err := s.analyze(ctx, job, doc)
		done <- outcome{report: report, err: err}
	}()

	var res outcome
	select {
	case res = <-done:
	case <-ctx.Done():
		res.err = s.timeoutErr(ctx)
	}

	if res.err != nil {
		s.fail(ctx, job, res.err)
		return res.err
	}

	err = retry.DoIfRetryable(context.WithoutCancel(ctx), s.retryCfg, func() error {
		_, err := s.repo.Complete(context.WithoutCancel(ctx), res.report, s.now().UTC())
		return err
	})
	if err != nil {
		logger.Error("Failed to record analysis result", zap.Error(err))
		if !errors.Is(err, apperrors.ErrInvalidTransition) {
			s.fail(ctx, job, err)
		}
		return err
	}

	logger.Info("Analysis completed",
		zap.Int("violations", res.report.TotalViolations),
		zap.Float64("score", res.report.ComplianceScore),
		zap.Bool("compliant", res.report.IsCompliant),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (s *analysisService) timeoutErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w (%s)", apperrors.ErrAnalysisTimedOut, s.opts.Timeout)
	}
	return ctx.Err()
}

// analyze parses the stored drawing, evaluates the rules and compiles the report.
func (s *analysisService) analyze(ctx context.Context, job *models.AnalysisJob, doc *models.Document) (*models.ComplianceReport, error) {
	rc, err := s.store.Open(ctx, doc.FileID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	br := bufio.NewReader(rc)
	var src io.Reader = br
	head, _ := br.Peek(dwg.MagicLen)
	if release, isDWG := dwg.Detect(head); isDWG || doc.IsDWG() {
		s.logger.Debug("Converting DWG drawing",
			zap.String("analysis_id", job.AnalysisID.String()),
			zap.String("release", release))
		converted, err := s.converter.Convert(ctx, doc.StoredPath)
		if err != nil {
			return nil, err
		}
		defer func() { _ = converted.Close() }()
		src = converted
	}

	model, err := dxf.Parse(src)
	if err != nil {
		return nil, err
	}
	if len(model.Diagnostics) > 0 {
		s.logger.Debug("Drawing parsed with diagnostics",
			zap.String("analysis_id", job.AnalysisID.String()),
			zap.Int("diagnostics", len(model.Diagnostics)))
	}

	violations, err := s.engine.Evaluate(ctx, model, job.Standard)
	if err != nil {
		return nil, err
	}

	return s.reports.Compile(job, doc, violations, s.now()), nil
}

// fail records a terminal failure. Internal errors are reported to the
// client with a generic message; the detail stays in the logs.
func (s *analysisService) fail(ctx context.Context, job *models.AnalysisJob, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	message := failureMessage(cause)
	_, err := s.repo.Transition(ctx, job.AnalysisID, models.AnalysisStatusFailed, message, s.now().UTC())
	if err != nil {
		s.logger.Warn("Could not mark analysis failed",
			zap.String("analysis_id", job.AnalysisID.String()),
			zap.Error(err))
		return
	}
	s.logger.Info("Analysis failed",
		zap.String("analysis_id", job.AnalysisID.String()),
		zap.String("message", message),
		zap.Error(cause))
}

func failureMessage(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrParse),
		errors.Is(err, apperrors.ErrValidation),
		errors.Is(err, apperrors.ErrTimeout),
		errors.Is(err, apperrors.ErrNotFound):
		return err.Error()
	case errors.Is(err, apperrors.ErrQueueShutdown), errors.Is(err, context.Canceled):
		return "analysis cancelled: service is shutting down, please resubmit"
	default:
		return "internal error while analyzing drawing"
	}
}
