package apperrors

import (
	"errors"
	"fmt"
)

// Error categories. Handlers and the orchestrator classify failures with
// errors.Is against these; specific errors below wrap exactly one of them.
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrParse      = errors.New("parse error")
	ErrTimeout    = errors.New("timeout")
	ErrInternal   = errors.New("internal error")
)

// Ingest errors.
var (
	ErrEmptyFile     = fmt.Errorf("%w: empty file", ErrValidation)
	ErrFileTooLarge  = fmt.Errorf("%w: file too large", ErrValidation)
	ErrInvalidFormat = fmt.Errorf("%w: invalid file format", ErrValidation)
	ErrMissingFile   = fmt.Errorf("%w: missing file", ErrValidation)
	ErrUnknownStd    = fmt.Errorf("%w: unknown standard", ErrValidation)
)

// Drawing errors.
var (
	ErrMalformedDXF       = fmt.Errorf("%w: malformed DXF", ErrParse)
	ErrUnsupportedVersion = fmt.Errorf("%w: unsupported DXF version", ErrParse)
	ErrUnconvertibleDWG   = fmt.Errorf("%w: DWG conversion failed", ErrParse)
)

// Report and job errors.
var (
	ErrUnsupportedFormat   = fmt.Errorf("%w: unsupported export format", ErrValidation)
	ErrFormatNotAvailable  = fmt.Errorf("%w: export format not available", ErrUnsupportedFormat)
	ErrReportNotReady      = fmt.Errorf("%w: report not ready", ErrNotFound)
	ErrInvalidTransition   = fmt.Errorf("%w: invalid status transition", ErrInternal)
	ErrAnalysisTimedOut    = fmt.Errorf("%w: analysis exceeded time limit", ErrTimeout)
	ErrQueueShutdown       = fmt.Errorf("%w: work queue is shut down", ErrInternal)
	ErrContentIDMismatch   = fmt.Errorf("%w: stored content does not match its content id", ErrInternal)
	ErrConverterNotPresent = errors.New("no DWG converter configured")
)
