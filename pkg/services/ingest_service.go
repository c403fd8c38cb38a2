package services

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-cadcheck/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/config"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/logging"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/models"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/storage"
)

// IngestService accepts uploaded drawings into the document store.
type IngestService interface {
	// Ingest validates and stores an upload. Nothing is stored when it fails.
	Ingest(ctx context.Context, filename string, r io.Reader) (*models.Document, error)

	// Get returns the metadata of a stored upload.
	Get(ctx context.Context, fileID uuid.UUID) (*models.Document, error)

	// Delete removes a stored upload.
	Delete(ctx context.Context, fileID uuid.UUID) error
}

type ingestService struct {
	store   storage.DocumentStore
	allowed []string
	logger  *zap.Logger
}

// NewIngestService creates an ingest service accepting the configured extensions.
func NewIngestService(store storage.DocumentStore, cfg *config.UploadConfig, logger *zap.Logger) IngestService {
	return &ingestService{
		store:   store,
		allowed: cfg.AllowedExtensions,
		logger:  logger.Named("ingest-service"),
	}
}

var _ IngestService = (*ingestService)(nil)

func (s *ingestService) Ingest(ctx context.Context, filename string, r io.Reader) (*models.Document, error) {
	if r == nil || strings.TrimSpace(filename) == "" {
		return nil, apperrors.ErrMissingFile
	}

	// Browsers may send a full client path; keep only the base name.
	name := filepath.Base(strings.ReplaceAll(filename, `\`, "/"))
	ext, err := s.extension(name)
	if err != nil {
		return nil, err
	}

	doc, err := s.store.Put(ctx, name, ext, r)
	if err != nil {
		s.logger.Info("Rejected upload",
			zap.String("filename", logging.SanitizeFilename(name)),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("Document uploaded",
		zap.String("file_id", doc.FileID.String()),
		zap.String("filename", logging.SanitizeFilename(doc.Filename)),
		zap.Int64("size", doc.ByteSize))
	return doc, nil
}

func (s *ingestService) extension(name string) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	for _, a := range s.allowed {
		if ext == a {
			return ext, nil
		}
	}
	return "", fmt.Errorf("%w: %q, supported: %s",
		apperrors.ErrInvalidFormat, logging.SanitizeFilename(name), strings.Join(s.allowed, ", "))
}

func (s *ingestService) Get(ctx context.Context, fileID uuid.UUID) (*models.Document, error) {
	return s.store.Get(ctx, fileID)
}

func (s *ingestService) Delete(ctx context.Context, fileID uuid.UUID) error {
	if err := s.store.Delete(ctx, fileID); err != nil {
		return err
	}
	s.logger.Info("Document deleted", zap.String("file_id", fileID.String()))
	return nil
}
