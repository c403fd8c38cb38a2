package services

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-cadcheck/pkg/config"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/dwg"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/models"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/repositories"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/rules"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/services/workqueue"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/storage"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/testhelpers"
)

// converterFunc adapts a function to DrawingConverter.
type converterFunc func(ctx context.Context, src string) (io.ReadCloser, error)

func (f converterFunc) Convert(ctx context.Context, src string) (io.ReadCloser, error) {
	return f(ctx, src)
}

// noConverter behaves like a deployment without a DWG converter installed.
var noConverter = converterFunc(func(ctx context.Context, src string) (io.ReadCloser, error) {
	return nil, dwg.Unconvertible("no DWG converter configured")
})

type testEnv struct {
	store    *storage.LocalStore
	repo     repositories.AnalysisRepository
	ingest   IngestService
	reports  ReportService
	analysis AnalysisService
	queue    *workqueue.Queue
}

type envOption func(*envConfig)

type envConfig struct {
	converter DrawingConverter
	timeout   time.Duration
}

func withConverter(c DrawingConverter) envOption {
	return func(e *envConfig) { e.converter = c }
}

func withTimeout(d time.Duration) envOption {
	return func(e *envConfig) { e.timeout = d }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	ec := envConfig{converter: noConverter, timeout: 5 * time.Second}
	for _, o := range opts {
		o(&ec)
	}

	logger := zap.NewNop()
	store, err := storage.NewLocalStore(t.TempDir(), 1<<20, logger)
	require.NoError(t, err)

	repo := repositories.NewMemoryAnalysisRepository()
	queue := workqueue.New(logger, workqueue.WithStrategy(workqueue.NewBoundedStrategy(2)))
	t.Cleanup(func() { queue.Cancel() })

	ingest := NewIngestService(store, &config.UploadConfig{
		MaxBytes:          1 << 20,
		AllowedExtensions: []string{"dxf", "dwg"},
	}, logger)
	reports := NewReportService(repo, DefaultScoring(), logger)
	engine := rules.NewEngine(rules.NewDefaultRegistry(), logger)
	analysis := NewAnalysisService(repo, store, ingest, engine, reports, ec.converter, queue,
		AnalysisOptions{Timeout: ec.timeout}, logger)

	return &testEnv{
		store:    store,
		repo:     repo,
		ingest:   ingest,
		reports:  reports,
		analysis: analysis,
		queue:    queue,
	}
}

func (e *testEnv) upload(t *testing.T, name string, data []byte) *models.Document {
	t.Helper()
	doc, err := e.ingest.Ingest(context.Background(), name, bytes.NewReader(data))
	require.NoError(t, err)
	return doc
}

// analyze submits a job and waits until the queue has drained.
func (e *testEnv) analyze(t *testing.T, fileID uuid.UUID) *models.AnalysisJob {
	t.Helper()
	ctx := context.Background()
	job, err := e.analysis.Submit(ctx, fileID, "")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_ = e.queue.Wait(waitCtx)
	require.NoError(t, waitCtx.Err())

	got, err := e.analysis.Status(ctx, job.AnalysisID)
	require.NoError(t, err)
	return got
}

// layer1Drawing has one non-standard layer and two nearly concentric circles.
func layer1Drawing() []byte {
	d := testhelpers.NewDXF().Layer("Layer1", 7, models.LineweightDefault)
	d.Circle("Layer1", 0, 0, 5)
	d.Circle("Layer1", 0.2, 0, 5)
	return d.Bytes()
}

func cleanDrawing() []byte {
	d := testhelpers.NewDXF().
		Layer("01粗实线", 7, 50).
		Layer("08尺寸线", 3, 25).
		Layer("11文字", 7, 25).
		Style("GB", "gbenor.shx").
		DimStyle("ISO-25", "", 2.5, 3.5, "mm")
	d.Line("01粗实线", 0, 0, 100, 0)
	d.Circle("01粗实线", 50, 50, 10)
	d.Text("11文字", "GB", "技术要求", 3.5)
	d.Dimension("08尺寸线", "ISO-25", "", 100)
	return d.Bytes()
}
