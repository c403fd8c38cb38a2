package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Document is an uploaded drawing. Created on ingest, immutable afterwards.
type Document struct {
	FileID     uuid.UUID `json:"file_id"`
	Filename   string    `json:"filename"`
	Extension  string    `json:"extension"`
	ByteSize   int64     `json:"size"`
	ContentID  string    `json:"content_id"`
	StoredPath string    `json:"-"`
	UploadTime time.Time `json:"upload_time"`
}

// IsDWG reports whether the document was uploaded as a DWG file.
func (d *Document) IsDWG() bool {
	return strings.EqualFold(d.Extension, "dwg")
}
