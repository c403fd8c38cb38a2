package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-cadcheck/pkg/config"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/dwg"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/models"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/repositories"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/rules"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/services"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/services/workqueue"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/storage"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/testhelpers"
)

const testMaxBytes = 64 << 10

type apiEnv struct {
	mux   *http.ServeMux
	queue *workqueue.Queue
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	logger := zap.NewNop()

	store, err := storage.NewLocalStore(t.TempDir(), testMaxBytes, logger)
	require.NoError(t, err)
	repo := repositories.NewMemoryAnalysisRepository()
	queue := workqueue.New(logger, workqueue.WithStrategy(workqueue.NewBoundedStrategy(2)))
	t.Cleanup(func() { queue.Cancel() })

	cfg := &config.Config{Version: "test-version", Env: "test"}
	ingest := services.NewIngestService(store, &config.UploadConfig{
		MaxBytes:          testMaxBytes,
		AllowedExtensions: []string{"dxf", "dwg"},
	}, logger)
	reports := services.NewReportService(repo, services.DefaultScoring(), logger)
	engine := rules.NewEngine(rules.NewDefaultRegistry(), logger)
	converter := dwg.NewConverter(config.DWGConfig{}, logger)
	analysis := services.NewAnalysisService(repo, store, ingest, engine, reports, converter, queue,
		services.AnalysisOptions{Timeout: 5 * time.Second}, logger)

	mux := http.NewServeMux()
	NewHealthHandler(cfg, queue, converter, logger).RegisterRoutes(mux)
	NewUploadHandler(ingest, testMaxBytes, logger).RegisterRoutes(mux, nil)
	NewAnalysisHandler(analysis, testMaxBytes, logger).RegisterRoutes(mux, nil)
	NewReportHandler(reports, logger).RegisterRoutes(mux)

	return &apiEnv{mux: mux, queue: queue}
}

func (e *apiEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func (e *apiEnv) get(path string) *httptest.ResponseRecorder {
	return e.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (e *apiEnv) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = e.queue.Wait(ctx)
	require.NoError(t, ctx.Err())
}

// multipartRequest builds a multipart POST with optional fields written
// before the file part. An empty filename omits the file part.
func multipartRequest(t *testing.T, path, filename string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func assertError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) ErrorBody {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	body := decode[ErrorBody](t, rec)
	assert.Equal(t, code, body.Error)
	assert.NotEmpty(t, body.Detail)
	return body
}

func layer1Drawing() []byte {
	d := testhelpers.NewDXF().Layer("Layer1", 7, models.LineweightDefault)
	d.Circle("Layer1", 0, 0, 5)
	d.Circle("Layer1", 0.2, 0, 5)
	return d.Bytes()
}

func (e *apiEnv) upload(t *testing.T, name string, data []byte) UploadResponse {
	t.Helper()
	rec := e.do(multipartRequest(t, "/api/v1/upload", name, data, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[UploadResponse](t, rec)
}

func (e *apiEnv) submit(t *testing.T, fileID uuid.UUID) AnalysisResponse {
	t.Helper()
	rec := e.do(jsonRequest(http.MethodPost, "/api/v1/analyze", `{"file_id":"`+fileID.String()+`"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[AnalysisResponse](t, rec)
}

func TestUpload_Accepts(t *testing.T) {
	env := newAPIEnv(t)
	data := layer1Drawing()

	resp := env.upload(t, "part.DXF", data)

	assert.NotEqual(t, uuid.Nil, resp.FileID)
	assert.Equal(t, "part.DXF", resp.Filename)
	assert.Equal(t, int64(len(data)), resp.Size)
	assert.Equal(t, "文件上传成功", resp.Message)
	assert.False(t, resp.UploadTime.IsZero())
}

func TestUpload_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		data     []byte
		status   int
		code     string
	}{
		{"empty file", "empty.dxf", nil, http.StatusBadRequest, "empty_file"},
		{"wrong extension", "notes.txt", []byte("hello"), http.StatusBadRequest, "invalid_file_format"},
		{"no extension", "drawing", []byte("hello"), http.StatusBadRequest, "invalid_file_format"},
		{"missing file part", "", nil, http.StatusBadRequest, "missing_file"},
		{"too large", "big.dxf", bytes.Repeat([]byte("0\n"), testMaxBytes), http.StatusRequestEntityTooLarge, "file_too_large"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newAPIEnv(t)
			rec := env.do(multipartRequest(t, "/api/v1/upload", tt.filename, tt.data, nil))
			assertError(t, rec, tt.status, tt.code)
			assert.Equal(t, 0, env.queue.Progress().Total)
		})
	}
}

func TestUpload_NotMultipart(t *testing.T) {
	env := newAPIEnv(t)
	rec := env.do(jsonRequest(http.MethodPost, "/api/v1/upload", `{}`))
	assertError(t, rec, http.StatusBadRequest, "missing_file")
}

func TestUpload_Delete(t *testing.T) {
	env := newAPIEnv(t)
	up := env.upload(t, "part.dxf", layer1Drawing())

	rec := env.do(httptest.NewRequest(http.MethodDelete, "/api/v1/upload/"+up.FileID.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[DeleteUploadResponse](t, rec)
	assert.Equal(t, "文件删除成功", resp.Message)
	assert.Equal(t, up.FileID, resp.FileID)

	rec = env.do(httptest.NewRequest(http.MethodDelete, "/api/v1/upload/"+up.FileID.String(), nil))
	assertError(t, rec, http.StatusNotFound, "file_not_found")

	rec = env.do(httptest.NewRequest(http.MethodDelete, "/api/v1/upload/not-a-uuid", nil))
	assertError(t, rec, http.StatusNotFound, "file_not_found")

	// The file is gone, so it can no longer be analyzed.
	rec = env.do(jsonRequest(http.MethodPost, "/api/v1/analyze", `{"file_id":"`+up.FileID.String()+`"}`))
	assertError(t, rec, http.StatusNotFound, "file_not_found")
}

func TestAnalyze_FullFlow(t *testing.T) {
	env := newAPIEnv(t)
	up := env.upload(t, "part.dxf", layer1Drawing())

	submitted := env.submit(t, up.FileID)
	assert.Equal(t, up.FileID, submitted.FileID)
	assert.Equal(t, "分析任务已创建，正在处理中", submitted.Message)

	env.drain(t)

	rec := env.get("/api/v1/analyze/" + submitted.AnalysisID.String())
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[AnalysisResponse](t, rec)
	assert.Equal(t, models.AnalysisStatusCompleted, status.Status)
	assert.Equal(t, "分析完成", status.Message)

	rec = env.get("/api/v1/report/" + submitted.AnalysisID.String())
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[models.ComplianceReport](t, rec)
	assert.Equal(t, submitted.AnalysisID, report.AnalysisID)
	assert.Equal(t, "part.dxf", report.Filename)
	assert.Equal(t, 1, report.CriticalCount)
	assert.Equal(t, 1, report.WarningCount)
	assert.InDelta(t, 80.0, report.ComplianceScore, 1e-9)
	assert.False(t, report.IsCompliant)
}

func TestAnalyze_Errors(t *testing.T) {
	env := newAPIEnv(t)
	up := env.upload(t, "part.dxf", layer1Drawing())

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"malformed json", `{"file_id":`, http.StatusBadRequest, "invalid_request"},
		{"empty body", ``, http.StatusBadRequest, "invalid_request"},
		{"malformed file id", `{"file_id":"abc"}`, http.StatusNotFound, "file_not_found"},
		{"unknown file", `{"file_id":"` + uuid.NewString() + `"}`, http.StatusNotFound, "file_not_found"},
		{"unknown standard", `{"file_id":"` + up.FileID.String() + `","standard":"ISO 128"}`, http.StatusBadRequest, "unknown_standard"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(jsonRequest(http.MethodPost, "/api/v1/analyze", tt.body))
			assertError(t, rec, tt.status, tt.code)
		})
	}
	assert.Equal(t, 0, env.queue.Progress().Total)
}

func TestAnalyze_UnknownJob(t *testing.T) {
	env := newAPIEnv(t)

	assertError(t, env.get("/api/v1/analyze/"+uuid.NewString()), http.StatusNotFound, "analysis_not_found")
	assertError(t, env.get("/api/v1/analyze/nonexistent"), http.StatusNotFound, "analysis_not_found")
	assertError(t, env.get("/api/v1/report/"+uuid.NewString()), http.StatusNotFound, "analysis_not_found")
}

func TestAnalyze_UnconvertibleDWG(t *testing.T) {
	env := newAPIEnv(t)
	up := env.upload(t, "part.dwg", append([]byte("AC1032"), make([]byte, 128)...))

	submitted := env.submit(t, up.FileID)
	env.drain(t)

	rec := env.get("/api/v1/analyze/" + submitted.AnalysisID.String())
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[AnalysisResponse](t, rec)
	assert.Equal(t, models.AnalysisStatusFailed, status.Status)
	assert.True(t, strings.HasPrefix(status.Message, "分析失败: "), status.Message)
	assert.Contains(t, status.Message, "DWG")
	assert.Contains(t, status.Message, "转换")

	assertError(t, env.get("/api/v1/report/"+submitted.AnalysisID.String()), http.StatusNotFound, "report_not_ready")
	assertError(t, env.get("/api/v1/report/"+submitted.AnalysisID.String()+"/export"), http.StatusNotFound, "report_not_ready")
}

func TestReport_Export(t *testing.T) {
	env := newAPIEnv(t)
	up := env.upload(t, "part.dxf", layer1Drawing())
	id := env.submit(t, up.FileID).AnalysisID.String()
	env.drain(t)

	t.Run("json by default", func(t *testing.T) {
		rec := env.get("/api/v1/report/" + id + "/export")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
		assert.Equal(t, "attachment; filename=report_"+id+".json", rec.Header().Get("Content-Disposition"))

		report := decode[models.ComplianceReport](t, rec)
		assert.Equal(t, id, report.AnalysisID.String())
		assert.Equal(t, 2, report.TotalViolations)
	})

	t.Run("json export matches the report", func(t *testing.T) {
		report := decode[map[string]any](t, env.get("/api/v1/report/"+id))
		exported := decode[map[string]any](t, env.get("/api/v1/report/"+id+"/export?format=json"))

		assert.Equal(t, report, exported)
		assert.NotEmpty(t, exported["violations"])
	})

	t.Run("html", func(t *testing.T) {
		rec := env.get("/api/v1/report/" + id + "/export?format=html")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
		assert.Equal(t, "attachment; filename=report_"+id+".html", rec.Header().Get("Content-Disposition"))
		body, err := io.ReadAll(rec.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "part.dxf")
		assert.NotContains(t, string(body), "<script")
	})

	t.Run("pdf not implemented", func(t *testing.T) {
		assertError(t, env.get("/api/v1/report/"+id+"/export?format=pdf"), http.StatusNotImplemented, "format_not_available")
	})

	t.Run("unsupported format", func(t *testing.T) {
		assertError(t, env.get("/api/v1/report/"+id+"/export?format=xml"), http.StatusBadRequest, "unsupported_format")
	})

	t.Run("unknown analysis", func(t *testing.T) {
		assertError(t, env.get("/api/v1/report/"+uuid.NewString()+"/export?format=json"), http.StatusNotFound, "analysis_not_found")
	})
}

func TestCheck(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(multipartRequest(t, "/api/v1/check", "part.dxf", layer1Drawing(),
		map[string]string{"standard": "gb/t  14665-2012"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[CheckResponse](t, rec)
	assert.Equal(t, models.AnalysisStatusCompleted, resp.Status)
	assert.Equal(t, "分析完成", resp.Message)
	assert.Equal(t, "part.dxf", resp.Filename)
	require.NotNil(t, resp.Report)
	assert.InDelta(t, 80.0, resp.Report.ComplianceScore, 1e-9)

	// The job is kept and its report stays retrievable.
	rec = env.get("/api/v1/report/" + resp.AnalysisID.String())
	assert.Equal(t, http.StatusOK, rec.Code)

	// The upload itself is removed.
	rec = env.do(httptest.NewRequest(http.MethodDelete, "/api/v1/upload/"+resp.FileID.String(), nil))
	assertError(t, rec, http.StatusNotFound, "file_not_found")
}

func TestCheck_Errors(t *testing.T) {
	env := newAPIEnv(t)

	assertError(t, env.do(multipartRequest(t, "/api/v1/check", "empty.dxf", nil, nil)),
		http.StatusBadRequest, "empty_file")
	assertError(t, env.do(multipartRequest(t, "/api/v1/check?standard=ISO%20128", "part.dxf", layer1Drawing(), nil)),
		http.StatusBadRequest, "unknown_standard")
	assertError(t, env.do(multipartRequest(t, "/api/v1/check", "broken.dxf", []byte("0\nSECTION\n2\n"), nil)),
		http.StatusUnprocessableEntity, "parse_error")

	body := assertError(t, env.do(multipartRequest(t, "/api/v1/check", "part.dwg", append([]byte("AC1027"), make([]byte, 64)...), nil)),
		http.StatusUnprocessableEntity, "parse_error")
	assert.Contains(t, body.Detail, "DWG")
}

func TestHealth(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.get("/health")
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[HealthResponse](t, rec)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "test-version", health.Version)
	assert.Equal(t, "ready", health.Services["parser"])
	assert.Equal(t, "unavailable", health.Services["converter"])
	require.NotNil(t, health.Queue)
	assert.Equal(t, 2, health.Queue.Workers)

	rec = env.get("/")
	require.Equal(t, http.StatusOK, rec.Code)
	root := decode[RootResponse](t, rec)
	assert.Equal(t, "ok", root.Status)
	assert.Equal(t, ServiceName, root.Service)

	rec = env.get("/ping")
	require.Equal(t, http.StatusOK, rec.Code)
	ping := decode[PingResponse](t, rec)
	assert.Equal(t, ServiceName, ping.Service)
	assert.Equal(t, "test", ping.Environment)
}

func TestHealth_WithoutQueue(t *testing.T) {
	handler := NewHealthHandler(&config.Config{Version: "v"}, nil, nil, zap.NewNop())

	rec := httptest.NewRecorder()
	handler.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[HealthResponse](t, rec)
	assert.Nil(t, health.Queue)
	assert.Equal(t, "unavailable", health.Services["converter"])
}

func TestUnknownRoute(t *testing.T) {
	env := newAPIEnv(t)
	assert.Equal(t, http.StatusNotFound, env.get("/api/v1/nothing").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, env.do(httptest.NewRequest(http.MethodPut, "/api/v1/upload", nil)).Code)
}
