package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-cadcheck/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/services"
)

// multipartOverhead is the allowance for boundaries and part headers on top
// of the configured file size limit.
const multipartOverhead = 1 << 20

// maxFieldBytes bounds a non-file form field.
const maxFieldBytes = 4 << 10

// RouteMiddleware wraps a single route, e.g. with rate limiting.
type RouteMiddleware func(http.HandlerFunc) http.HandlerFunc

func passThrough(next http.HandlerFunc) http.HandlerFunc { return next }

// UploadResponse describes a stored upload.
type UploadResponse struct {
	FileID     uuid.UUID `json:"file_id"`
	Filename   string    `json:"filename"`
	Size       int64     `json:"size"`
	UploadTime time.Time `json:"upload_time"`
	Message    string    `json:"message"`
}

// DeleteUploadResponse confirms removal of an upload.
type DeleteUploadResponse struct {
	Message string    `json:"message"`
	FileID  uuid.UUID `json:"file_id"`
}

// UploadHandler handles drawing uploads.
type UploadHandler struct {
	ingest   services.IngestService
	maxBytes int64
	logger   *zap.Logger
}

// NewUploadHandler creates an upload handler accepting files up to maxBytes.
func NewUploadHandler(ingest services.IngestService, maxBytes int64, logger *zap.Logger) *UploadHandler {
	return &UploadHandler{
		ingest:   ingest,
		maxBytes: maxBytes,
		logger:   logger.Named("upload-handler"),
	}
}

// RegisterRoutes registers the upload routes. limit wraps the upload route
// and may be nil.
func (h *UploadHandler) RegisterRoutes(mux *http.ServeMux, limit RouteMiddleware) {
	if limit == nil {
		limit = passThrough
	}
	mux.HandleFunc("POST /api/v1/upload", limit(h.Upload))
	mux.HandleFunc("DELETE /api/v1/upload/{file_id}", h.Delete)
}

// Upload handles POST /api/v1/upload with a multipart "file" part.
// The part is streamed into the document store without buffering it in memory.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+multipartOverhead)

	part, err := openFilePart(r, nil)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	defer part.Close()

	doc, err := h.ingest.Ingest(r.Context(), part.FileName(), part)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	resp := UploadResponse{
		FileID:     doc.FileID,
		Filename:   doc.Filename,
		Size:       doc.ByteSize,
		UploadTime: doc.UploadTime,
		Message:    "文件上传成功",
	}
	if err := WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("Failed to encode upload response", zap.Error(err))
	}
}

// Delete handles DELETE /api/v1/upload/{file_id}.
func (h *UploadHandler) Delete(w http.ResponseWriter, r *http.Request) {
	fileID, ok := ParseFileID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.ingest.Delete(r.Context(), fileID); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			if err := ErrorResponse(w, http.StatusNotFound, "file_not_found", "文件不存在"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		writeServiceError(w, err, h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, DeleteUploadResponse{Message: "文件删除成功", FileID: fileID}); err != nil {
		h.logger.Error("Failed to encode delete response", zap.Error(err))
	}
}

// openFilePart advances to the "file" part of a multipart body. Small text
// fields seen before it are collected into fields when fields is non-nil.
func openFilePart(r *http.Request, fields map[string]string) (*multipart.Part, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, apperrors.ErrMissingFile
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, apperrors.ErrMissingFile
		}
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: malformed multipart body: %v", apperrors.ErrValidation, err)
		}

		if part.FormName() == "file" {
			return part, nil
		}
		if fields != nil && part.FileName() == "" {
			value, err := io.ReadAll(io.LimitReader(part, maxFieldBytes))
			if err != nil {
				_ = part.Close()
				return nil, fmt.Errorf("%w: malformed form field: %v", apperrors.ErrValidation, err)
			}
			fields[part.FormName()] = strings.TrimSpace(string(value))
		}
		_ = part.Close()
	}
}
