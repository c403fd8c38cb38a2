package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-cadcheck/pkg/config"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/dwg"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/export"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/logging"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/models"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/repositories"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/rules"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/services"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/services/workqueue"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/storage"
)

const formatText = "text"

type checkOptions struct {
	standard       string
	rulesPath      string
	format         string
	output         string
	converterPath  string
	converterKind  string
	timeoutSeconds int
	maxBytes       int64
	strict         bool
	verbose        bool
}

func runCheck(cmd *cobra.Command, opts *checkOptions, paths []string) error {
	var format models.ExportFormat
	if opts.format != formatText {
		f, err := export.ParseFormat(opts.format)
		if err != nil {
			return err
		}
		format = f
	}

	logger := zap.NewNop()
	if opts.verbose {
		l, err := logging.New("local", "debug")
		if err != nil {
			return err
		}
		logger = l
		defer func() { _ = logger.Sync() }()
	}

	workDir, err := os.MkdirTemp("", "check-drawing-*")
	if err != nil {
		return fmt.Errorf("failed to create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	analysis, err := newPipeline(opts, workDir, logger)
	if err != nil {
		return err
	}

	var failed, nonCompliant int
	for _, path := range paths {
		report, err := checkFile(cmd.Context(), analysis, path, opts.standard)
		if err != nil {
			cmd.PrintErrf("%s: %v\n", path, err)
			failed++
			continue
		}
		if !report.IsCompliant {
			nonCompliant++
		}
		if err := emit(cmd, opts, format, report); err != nil {
			return err
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d files could not be analyzed", failed, len(paths))
	}
	if opts.strict && nonCompliant > 0 {
		return fmt.Errorf("%d of %d drawings are not compliant", nonCompliant, len(paths))
	}
	return nil
}

// newPipeline assembles the same services the API server uses, backed by a
// throwaway document store and an in-memory job registry.
func newPipeline(opts *checkOptions, workDir string, logger *zap.Logger) (services.AnalysisService, error) {
	store, err := storage.NewLocalStore(filepath.Join(workDir, "uploads"), opts.maxBytes, logger)
	if err != nil {
		return nil, err
	}

	registry := rules.NewDefaultRegistry()
	if opts.rulesPath != "" {
		rs, err := rules.LoadRuleSet(opts.rulesPath)
		if err != nil {
			return nil, err
		}
		if err := registry.Load(rs); err != nil {
			return nil, err
		}
	}

	converter := dwg.NewConverter(config.DWGConfig{
		ConverterPath:  opts.converterPath,
		ConverterKind:  opts.converterKind,
		TempDir:        filepath.Join(workDir, "dwg"),
		TimeoutSeconds: opts.timeoutSeconds,
	}, logger)

	repo := repositories.NewMemoryAnalysisRepository()
	ingest := services.NewIngestService(store, &config.UploadConfig{
		MaxBytes:          opts.maxBytes,
		AllowedExtensions: []string{"dxf", "dwg"},
	}, logger)
	reports := services.NewReportService(repo, services.DefaultScoring(), logger)
	queue := workqueue.New(logger, workqueue.WithStrategy(workqueue.NewSerializedStrategy()))

	return services.NewAnalysisService(repo, store, ingest, rules.NewEngine(registry, logger), reports, converter, queue,
		services.AnalysisOptions{Timeout: time.Duration(opts.timeoutSeconds) * time.Second}, logger), nil
}

func checkFile(ctx context.Context, analysis services.AnalysisService, path, standard string) (*models.ComplianceReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return analysis.Check(ctx, filepath.Base(path), f, standard)
}

func emit(cmd *cobra.Command, opts *checkOptions, format models.ExportFormat, report *models.ComplianceReport) error {
	if format == "" {
		printSummary(cmd, report)
		return nil
	}

	data, _, err := export.Render(report, format)
	if err != nil {
		return err
	}
	if opts.output == "" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}

	if err := os.MkdirAll(opts.output, 0o750); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	dst := filepath.Join(opts.output, export.Filename(report, format))
	if err := os.WriteFile(dst, data, 0o640); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", report.Filename, dst)
	return err
}

func printSummary(cmd *cobra.Command, report *models.ComplianceReport) {
	out := cmd.OutOrStdout()
	verdict := "合规"
	if !report.IsCompliant {
		verdict = "不合规"
	}
	fmt.Fprintf(out, "%s  %s  合规分数 %.2f  (%s %d, %s %d, %s %d)\n",
		report.Filename, verdict, report.ComplianceScore,
		models.SeverityCritical, report.CriticalCount,
		models.SeverityWarning, report.WarningCount,
		models.SeverityInfo, report.InfoCount)

	for i, v := range report.Violations {
		where := v.Layer
		if v.EntityHandle != "" {
			where = fmt.Sprintf("%s #%s", where, v.EntityHandle)
		}
		fmt.Fprintf(out, "  %d. [%s] %s %s: %s\n", i+1, v.Severity, v.Type, where, v.Description)
		if v.Suggestion != "" {
			fmt.Fprintf(out, "     建议: %s\n", v.Suggestion)
		}
	}
}
