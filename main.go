package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/ekaya-cadcheck/pkg/config"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/database"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/dwg"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/handlers"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/logging"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/middleware"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/repositories"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/retry"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/rules"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/services"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/services/workqueue"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/storage"
)

// Version is set at build time via ldflags
var Version = "dev"

// shutdownTimeout bounds how long in-flight requests and analyses may run
// after a termination signal.
const shutdownTimeout = 30 * time.Second

// queueGrace lets a job record its own timeout before the queue gives up on it.
const queueGrace = 5 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("version", cfg.Version),
		zap.String("env", cfg.Env),
		zap.String("base_url", cfg.BaseURL),
		zap.String("upload_dir", cfg.Upload.Dir),
		zap.Int64("upload_max_bytes", cfg.Upload.MaxBytes),
		zap.Int("workers", cfg.Analysis.Workers),
		zap.Duration("analysis_timeout", cfg.Analysis.Timeout()),
		zap.Bool("database", cfg.Database.Enabled()),
		zap.Bool("dwg_converter", cfg.DWG.ConverterPath != ""))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
	logger.Info("Server stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	store, err := storage.NewLocalStore(cfg.Upload.Dir, cfg.Upload.MaxBytes, logger)
	if err != nil {
		return err
	}

	repo, closeRepo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRepo()

	registry := rules.NewDefaultRegistry()
	var watcher *rules.Watcher
	if cfg.Rules.Path != "" {
		watcher = rules.NewWatcher(cfg.Rules.Path, registry, logger)
		if err := watcher.Reload(); err != nil {
			return err
		}
	}
	engine := rules.NewEngine(registry, logger)
	converter := dwg.NewConverter(cfg.DWG, logger)

	queue := workqueue.New(logger,
		workqueue.WithStrategy(workqueue.NewBoundedStrategy(cfg.Analysis.Workers)),
		workqueue.WithTaskTimeout(cfg.Analysis.Timeout()+queueGrace))

	ingestService := services.NewIngestService(store, &cfg.Upload, logger)
	reportService := services.NewReportService(repo, services.ScoringFromConfig(&cfg.Analysis), logger)
	analysisService := services.NewAnalysisService(repo, store, ingestService, engine, reportService, converter, queue,
		services.AnalysisOptions{
			DefaultStandard: cfg.Analysis.DefaultStandard,
			Timeout:         cfg.Analysis.Timeout(),
		}, logger)

	if _, err := analysisService.FailInterrupted(ctx); err != nil {
		return fmt.Errorf("failed to settle interrupted analyses: %w", err)
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, logger)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, queue, converter, logger).RegisterRoutes(mux)
	handlers.NewUploadHandler(ingestService, cfg.Upload.MaxBytes, logger).RegisterRoutes(mux, limiter.Limit)
	handlers.NewAnalysisHandler(analysisService, cfg.Upload.MaxBytes, logger).RegisterRoutes(mux, limiter.Limit)
	handlers.NewReportHandler(reportService, logger).RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = middleware.RequestLogger(logger.Named("http"))(handler)
	handler = middleware.Recoverer(logger)(handler)
	handler = middleware.CORS(cfg.CORSOrigins)(handler)

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting ekaya-cadcheck",
			zap.String("addr", srv.Addr),
			zap.String("version", cfg.Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if watcher != nil && cfg.Rules.Watch {
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}

	if cfg.Upload.RetentionHours > 0 {
		retention := services.NewRetentionService(store, repo, cfg.Upload.RetentionHours, logger)
		g.Go(func() error {
			retention.RunScheduler(gctx, services.DefaultRetentionInterval)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Stop accepting requests first so no new jobs are queued.
		err := srv.Shutdown(shutdownCtx)
		if qerr := queue.Shutdown(shutdownCtx); qerr != nil {
			logger.Warn("Analysis queue did not drain", zap.Error(qerr))
		}
		return err
	})

	return g.Wait()
}

// openRepository returns the PostgreSQL job registry when a database is
// configured and the in-memory one otherwise.
func openRepository(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repositories.AnalysisRepository, func(), error) {
	if !cfg.Database.Enabled() {
		logger.Info("No database configured; analysis jobs are kept in memory")
		return repositories.NewMemoryAnalysisRepository(), func() {}, nil
	}

	db, err := retry.DoWithResult(ctx, retry.StartupConfig(), func() (*database.DB, error) {
		return database.Open(ctx, &database.Config{
			URL:            cfg.Database.ConnectionString(),
			MaxConnections: cfg.Database.MaxConnections,
		}, logger)
	})
	if err != nil {
		return nil, nil, err
	}
	return repositories.NewPostgresAnalysisRepository(db), db.Close, nil
}
