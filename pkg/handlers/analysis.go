package handlers

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-cadcheck/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/models"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/services"
)

// maxAnalyzeBodyBytes bounds the JSON body of an analyze request.
const maxAnalyzeBodyBytes = 64 << 10

// AnalyzeRequest starts an analysis of an uploaded file.
type AnalyzeRequest struct {
	FileID   string `json:"file_id"`
	Standard string `json:"standard"`
}

// AnalysisResponse reports the state of an analysis job.
type AnalysisResponse struct {
	AnalysisID uuid.UUID             `json:"analysis_id"`
	FileID     uuid.UUID             `json:"file_id"`
	Status     models.AnalysisStatus `json:"status"`
	Message    string                `json:"message"`
}

// CheckResponse is the result of a synchronous check.
type CheckResponse struct {
	AnalysisID uuid.UUID                `json:"analysis_id"`
	FileID     uuid.UUID                `json:"file_id"`
	Filename   string                   `json:"filename"`
	Status     models.AnalysisStatus    `json:"status"`
	Message    string                   `json:"message"`
	Report     *models.ComplianceReport `json:"report"`
}

// AnalysisHandler handles analysis job submission, polling and synchronous checks.
type AnalysisHandler struct {
	analysis services.AnalysisService
	maxBytes int64
	logger   *zap.Logger
}

// NewAnalysisHandler creates an analysis handler. maxBytes bounds the
// upload accepted by the synchronous check route.
func NewAnalysisHandler(analysis services.AnalysisService, maxBytes int64, logger *zap.Logger) *AnalysisHandler {
	return &AnalysisHandler{
		analysis: analysis,
		maxBytes: maxBytes,
		logger:   logger.Named("analysis-handler"),
	}
}

// RegisterRoutes registers the analysis routes. limit wraps the routes that
// do work on the caller's behalf and may be nil.
func (h *AnalysisHandler) RegisterRoutes(mux *http.ServeMux, limit RouteMiddleware) {
	if limit == nil {
		limit = passThrough
	}
	mux.HandleFunc("POST /api/v1/analyze", limit(h.Submit))
	mux.HandleFunc("GET /api/v1/analyze/{analysis_id}", h.Status)
	mux.HandleFunc("POST /api/v1/check", limit(h.Check))
}

// Submit handles POST /api/v1/analyze.
func (h *AnalysisHandler) Submit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAnalyzeBodyBytes)

	var req AnalyzeRequest
	if err := decodeJSON(r, &req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "请求体格式错误"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	fileID, err := uuid.Parse(req.FileID)
	if err != nil {
		if err := ErrorResponse(w, http.StatusNotFound, "file_not_found", "文件不存在"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	job, err := h.analysis.Submit(r.Context(), fileID, req.Standard)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			if err := ErrorResponse(w, http.StatusNotFound, "file_not_found", "文件不存在"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		writeServiceError(w, err, h.logger)
		return
	}

	resp := AnalysisResponse{
		AnalysisID: job.AnalysisID,
		FileID:     job.FileID,
		Status:     job.Status,
		Message:    "分析任务已创建，正在处理中",
	}
	if err := WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("Failed to encode analysis response", zap.Error(err))
	}
}

// Status handles GET /api/v1/analyze/{analysis_id}.
func (h *AnalysisHandler) Status(w http.ResponseWriter, r *http.Request) {
	analysisID, ok := ParseAnalysisID(w, r, h.logger)
	if !ok {
		return
	}

	job, err := h.analysis.Status(r.Context(), analysisID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			if err := ErrorResponse(w, http.StatusNotFound, "analysis_not_found", "分析任务不存在"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		writeServiceError(w, err, h.logger)
		return
	}

	resp := AnalysisResponse{
		AnalysisID: job.AnalysisID,
		FileID:     job.FileID,
		Status:     job.Status,
		Message:    job.StatusMessage(),
	}
	if err := WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("Failed to encode analysis response", zap.Error(err))
	}
}

// Check handles POST /api/v1/check: upload, analyze and report in one call.
// The standard comes from the "standard" query parameter or a form field
// sent before the file part.
func (h *AnalysisHandler) Check(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+multipartOverhead)

	fields := map[string]string{}
	part, err := openFilePart(r, fields)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	defer part.Close()

	standard := r.URL.Query().Get("standard")
	if standard == "" {
		standard = fields["standard"]
	}

	report, err := h.analysis.Check(r.Context(), part.FileName(), part, standard)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	resp := CheckResponse{
		AnalysisID: report.AnalysisID,
		FileID:     report.FileID,
		Filename:   report.Filename,
		Status:     models.AnalysisStatusCompleted,
		Message:    "分析完成",
		Report:     report,
	}
	if err := WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("Failed to encode check response", zap.Error(err))
	}
}
