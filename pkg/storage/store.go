package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ipfs/go-cid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-cadcheck/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/logging"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/models"
)

// DocumentStore persists uploaded drawings.
type DocumentStore interface {
	// Put streams r into the store. Nothing is persisted when it fails.
	Put(ctx context.Context, filename, ext string, r io.Reader) (*models.Document, error)
	Get(ctx context.Context, fileID uuid.UUID) (*models.Document, error)
	// Open returns the stored bytes after verifying them against the content id.
	Open(ctx context.Context, fileID uuid.UUID) (io.ReadCloser, error)
	Delete(ctx context.Context, fileID uuid.UUID) error
	// PruneOlderThan removes documents uploaded before cutoff and returns how many.
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

const (
	blobDir = "blobs"
	metaDir = "meta"
	tmpDir  = "tmp"
)

// LocalStore keeps blobs under <root>/blobs/<cid[:2]>/<cid> and one JSON
// metadata record per upload under <root>/meta/<file_id>.json. Identical
// uploads share a blob.
type LocalStore struct {
	root     string
	maxBytes int64
	logger   *zap.Logger

	mu   sync.RWMutex
	docs map[uuid.UUID]*models.Document
	refs map[string]int
	now  func() time.Time
}

var _ DocumentStore = (*LocalStore)(nil)

// NewLocalStore opens (or creates) a store rooted at root and loads the
// metadata of previously stored uploads.
func NewLocalStore(root string, maxBytes int64, logger *zap.Logger) (*LocalStore, error) {
	if root == "" {
		return nil, errors.New("storage: root directory is required")
	}
	for _, d := range []string{blobDir, metaDir, tmpDir} {
		if err := os.MkdirAll(filepath.Join(root, d), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create storage dir: %w", err)
		}
	}
	s := &LocalStore{
		root:     root,
		maxBytes: maxBytes,
		logger:   logger.Named("storage"),
		docs:     make(map[uuid.UUID]*models.Document),
		refs:     make(map[string]int),
		now:      time.Now,
	}
	if err := s.loadIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *LocalStore) loadIndex() error {
	entries, err := os.ReadDir(filepath.Join(s.root, metaDir))
	if err != nil {
		return fmt.Errorf("failed to read metadata dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.root, metaDir, e.Name()))
		if err != nil {
			return fmt.Errorf("failed to read metadata: %w", err)
		}
		var doc models.Document
		if err := json.Unmarshal(data, &doc); err != nil {
			s.logger.Warn("Skipping unreadable document metadata",
				zap.String("file", e.Name()),
				zap.Error(err))
			continue
		}
		doc.StoredPath = s.blobPath(doc.ContentID)
		s.docs[doc.FileID] = &doc
		s.refs[doc.ContentID]++
	}
	if len(s.docs) > 0 {
		s.logger.Info("Loaded stored documents", zap.Int("count", len(s.docs)))
	}
	return nil
}

func (s *LocalStore) blobPath(contentID string) string {
	if len(contentID) < 2 {
		return filepath.Join(s.root, blobDir, contentID)
	}
	return filepath.Join(s.root, blobDir, contentID[:2], contentID)
}

func (s *LocalStore) metaPath(fileID uuid.UUID) string {
	return filepath.Join(s.root, metaDir, fileID.String()+".json")
}

// Put writes r to a temp file while hashing it, then moves it into place.
func (s *LocalStore) Put(ctx context.Context, filename, ext string, r io.Reader) (*models.Document, error) {
	tmp, err := os.CreateTemp(filepath.Join(s.root, tmpDir), "upload-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	hasher := newContentHasher()
	src := r
	if s.maxBytes > 0 {
		src = io.LimitReader(r, s.maxBytes+1)
	}
	n, err := io.Copy(io.MultiWriter(tmp, hasher), src)
	if err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}
	if n == 0 {
		return nil, apperrors.ErrEmptyFile
	}
	if s.maxBytes > 0 && n > s.maxBytes {
		return nil, fmt.Errorf("%w: limit is %d bytes", apperrors.ErrFileTooLarge, s.maxBytes)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := tmp.Sync(); err != nil {
		return nil, fmt.Errorf("failed to sync upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close upload: %w", err)
	}

	id, err := hasher.CID()
	if err != nil {
		return nil, fmt.Errorf("failed to compute content id: %w", err)
	}
	doc := &models.Document{
		FileID:     uuid.New(),
		Filename:   filename,
		Extension:  ext,
		ByteSize:   n,
		ContentID:  id.String(),
		UploadTime: s.now().UTC(),
	}
	doc.StoredPath = s.blobPath(doc.ContentID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(doc.StoredPath); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(doc.StoredPath), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create blob dir: %w", err)
		}
		if err := os.Rename(tmp.Name(), doc.StoredPath); err != nil {
			return nil, fmt.Errorf("failed to commit upload: %w", err)
		}
		committed = true
	} else {
		_ = os.Remove(tmp.Name())
		committed = true
	}

	if err := s.writeMeta(doc); err != nil {
		if s.refs[doc.ContentID] == 0 {
			_ = os.Remove(doc.StoredPath)
		}
		return nil, err
	}
	s.docs[doc.FileID] = doc
	s.refs[doc.ContentID]++

	s.logger.Debug("Stored document",
		zap.String("file_id", doc.FileID.String()),
		zap.String("filename", logging.SanitizeFilename(filename)),
		zap.String("content_id", doc.ContentID),
		zap.Int64("size", n))
	return copyDoc(doc), nil
}

func (s *LocalStore) writeMeta(doc *models.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	path := s.metaPath(doc.FileID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

func copyDoc(d *models.Document) *models.Document {
	c := *d
	return &c
}

func notFound(fileID uuid.UUID) error {
	return fmt.Errorf("%w: file %s", apperrors.ErrNotFound, fileID)
}

// Get returns the metadata of an upload.
func (s *LocalStore) Get(ctx context.Context, fileID uuid.UUID) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[fileID]
	if !ok {
		return nil, notFound(fileID)
	}
	return copyDoc(doc), nil
}

// Open reads the blob and checks it still hashes to its content id.
func (s *LocalStore) Open(ctx context.Context, fileID uuid.UUID) (io.ReadCloser, error) {
	doc, err := s.Get(ctx, fileID)
	if err != nil {
		return nil, err
	}
	want, err := cid.Decode(doc.ContentID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid content id %q", apperrors.ErrContentIDMismatch, doc.ContentID)
	}
	data, err := os.ReadFile(doc.StoredPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: blob for file %s is missing", apperrors.ErrContentIDMismatch, fileID)
		}
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	got, err := ContentID(data)
	if err != nil {
		return nil, fmt.Errorf("failed to compute content id: %w", err)
	}
	if !got.Equals(want) {
		s.logger.Error("Stored document failed integrity check",
			zap.String("file_id", fileID.String()),
			zap.String("content_id", doc.ContentID))
		return nil, fmt.Errorf("%w: file %s", apperrors.ErrContentIDMismatch, fileID)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Delete removes an upload. The blob goes when no other upload shares it.
func (s *LocalStore) Delete(ctx context.Context, fileID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(fileID)
}

func (s *LocalStore) deleteLocked(fileID uuid.UUID) error {
	doc, ok := s.docs[fileID]
	if !ok {
		return notFound(fileID)
	}
	if err := os.Remove(s.metaPath(fileID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete metadata: %w", err)
	}
	delete(s.docs, fileID)
	s.refs[doc.ContentID]--
	if s.refs[doc.ContentID] <= 0 {
		delete(s.refs, doc.ContentID)
		if err := os.Remove(doc.StoredPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("Failed to delete blob",
				zap.String("content_id", doc.ContentID),
				zap.Error(err))
		}
	}
	return nil
}

// PruneOlderThan removes uploads older than cutoff, oldest first.
func (s *LocalStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []*models.Document
	for _, d := range s.docs {
		if d.UploadTime.Before(cutoff) {
			expired = append(expired, d)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].UploadTime.Before(expired[j].UploadTime)
	})

	removed := 0
	for _, d := range expired {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if err := s.deleteLocked(d.FileID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
