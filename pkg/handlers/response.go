package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-cadcheck/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/logging"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, detail string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(ErrorBody{
		Error:  errorCode,
		Detail: detail,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(data)
}

func decodeJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// errorMapping pairs a sentinel with the response written for it. Order
// matters: more specific errors come before the category they wrap.
type errorMapping struct {
	target error
	status int
	code   string
	detail string // empty means use err.Error()
}

var errorMappings = []errorMapping{
	{apperrors.ErrFileTooLarge, http.StatusRequestEntityTooLarge, "file_too_large", ""},
	{apperrors.ErrFormatNotAvailable, http.StatusNotImplemented, "format_not_available", "PDF 导出功能尚未实现"},
	{apperrors.ErrUnsupportedFormat, http.StatusBadRequest, "unsupported_format", ""},
	{apperrors.ErrInvalidFormat, http.StatusBadRequest, "invalid_file_format", ""},
	{apperrors.ErrEmptyFile, http.StatusBadRequest, "empty_file", "文件为空"},
	{apperrors.ErrMissingFile, http.StatusBadRequest, "missing_file", "缺少上传文件"},
	{apperrors.ErrUnknownStd, http.StatusBadRequest, "unknown_standard", ""},
	{apperrors.ErrValidation, http.StatusBadRequest, "validation_error", ""},
	{apperrors.ErrReportNotReady, http.StatusNotFound, "report_not_ready", "报告尚未完成或不存在"},
	{apperrors.ErrNotFound, http.StatusNotFound, "not_found", ""},
	{apperrors.ErrParse, http.StatusUnprocessableEntity, "parse_error", ""},
	{apperrors.ErrTimeout, http.StatusGatewayTimeout, "timeout", ""},
	{apperrors.ErrQueueShutdown, http.StatusServiceUnavailable, "service_unavailable", "服务正在关闭，请稍后重试"},
}

// writeServiceError maps a service error onto an HTTP response. Anything
// unclassified becomes a 500 with a generic message; the cause is logged.
func writeServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	status, code, detail := http.StatusInternalServerError, "internal_error", "服务器内部错误"

	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		status, code, detail = http.StatusRequestEntityTooLarge, "file_too_large", apperrors.ErrFileTooLarge.Error()
	} else {
		for _, m := range errorMappings {
			if errors.Is(err, m.target) {
				status, code, detail = m.status, m.code, m.detail
				if detail == "" {
					detail = err.Error()
				}
				break
			}
		}
	}

	if status == http.StatusInternalServerError {
		logger.Error("Request failed", zap.String("error", logging.SanitizeError(err)))
	}

	if err := ErrorResponse(w, status, code, detail); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}
