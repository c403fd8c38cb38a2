package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-cadcheck/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/services"
)

// ReportHandler serves compliance reports and their downloads.
type ReportHandler struct {
	reports services.ReportService
	logger  *zap.Logger
}

// NewReportHandler creates a report handler.
func NewReportHandler(reports services.ReportService, logger *zap.Logger) *ReportHandler {
	return &ReportHandler{
		reports: reports,
		logger:  logger.Named("report-handler"),
	}
}

// RegisterRoutes registers the report routes.
func (h *ReportHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/report/{analysis_id}", h.Get)
	mux.HandleFunc("GET /api/v1/report/{analysis_id}/export", h.Export)
}

// Get handles GET /api/v1/report/{analysis_id}.
// Only completed analyses have a report; anything else is 404.
func (h *ReportHandler) Get(w http.ResponseWriter, r *http.Request) {
	analysisID, ok := ParseAnalysisID(w, r, h.logger)
	if !ok {
		return
	}

	report, err := h.reports.Get(r.Context(), analysisID)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, report); err != nil {
		h.logger.Error("Failed to encode report", zap.Error(err))
	}
}

// Export handles GET /api/v1/report/{analysis_id}/export?format=json|html|pdf.
func (h *ReportHandler) Export(w http.ResponseWriter, r *http.Request) {
	analysisID, ok := ParseAnalysisID(w, r, h.logger)
	if !ok {
		return
	}

	exported, err := h.reports.Export(r.Context(), analysisID, r.URL.Query().Get("format"))
	if err != nil {
		h.writeLookupError(w, err)
		return
	}

	w.Header().Set("Content-Type", exported.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", exported.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(exported.Data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(exported.Data); err != nil {
		h.logger.Warn("Failed to write export", zap.String("analysis_id", analysisID.String()), zap.Error(err))
	}
}

func (h *ReportHandler) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, apperrors.ErrNotFound) && !errors.Is(err, apperrors.ErrReportNotReady) {
		if err := ErrorResponse(w, http.StatusNotFound, "analysis_not_found", "分析任务不存在"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	writeServiceError(w, err, h.logger)
}
