package dwg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-cadcheck/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/config"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/logging"
)

// Converter kinds.
const (
	KindODA     = "oda"
	KindDwg2Dxf = "dwg2dxf"
)

// Converter runs an external DWG to DXF conversion tool.
type Converter struct {
	kind    string
	path    string
	tempDir string
	timeout time.Duration
	logger  *zap.Logger
}

// NewConverter creates a converter from configuration. An empty converter
// path yields a converter that always reports ErrUnconvertibleDWG.
func NewConverter(cfg config.DWGConfig, logger *zap.Logger) *Converter {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &Converter{
		kind:    strings.ToLower(cfg.ConverterKind),
		path:    cfg.ConverterPath,
		tempDir: cfg.TempDir,
		timeout: timeout,
		logger:  logger.Named("dwg"),
	}
}

// Available reports whether an executable is configured.
func (c *Converter) Available() bool {
	return c.path != ""
}

// Convert converts the DWG at src and returns an open reader over the
// resulting DXF. Closing the reader removes all temporary files.
func (c *Converter) Convert(ctx context.Context, src string) (io.ReadCloser, error) {
	if !c.Available() {
		return nil, Unconvertible(apperrors.ErrConverterNotPresent.Error())
	}

	if c.tempDir != "" {
		if err := os.MkdirAll(c.tempDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create temp dir: %w", err)
		}
	}
	work, err := os.MkdirTemp(c.tempDir, "dwg-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create conversion dir: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	out, err := c.run(ctx, src, work)
	if err != nil {
		_ = os.RemoveAll(work)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, Unconvertible(fmt.Sprintf("converter timed out after %s", c.timeout))
		}
		c.logger.Warn("DWG conversion failed",
			zap.String("file", logging.SanitizeFilename(src)),
			zap.String("converter", c.kind),
			zap.Error(err))
		return nil, Unconvertible(err.Error())
	}

	f, err := os.Open(out)
	if err != nil {
		_ = os.RemoveAll(work)
		return nil, Unconvertible("converter produced no DXF output")
	}

	c.logger.Info("Converted DWG drawing",
		zap.String("file", logging.SanitizeFilename(src)),
		zap.String("converter", c.kind),
		zap.Duration("elapsed", time.Since(start)))

	return &convertedFile{File: f, dir: work}, nil
}

func (c *Converter) run(ctx context.Context, src, work string) (string, error) {
	switch c.kind {
	case KindODA:
		return c.runODA(ctx, src, work)
	case KindDwg2Dxf, "":
		out := filepath.Join(work, "drawing.dxf")
		return out, c.exec(ctx, "-y", "-o", out, src)
	default:
		return "", fmt.Errorf("unknown converter kind %q", c.kind)
	}
}

// runODA stages the input alone in a folder since ODA File Converter
// operates on directories.
func (c *Converter) runODA(ctx context.Context, src, work string) (string, error) {
	inDir := filepath.Join(work, "in")
	outDir := filepath.Join(work, "out")
	for _, d := range []string{inDir, outDir} {
		if err := os.MkdirAll(d, 0o750); err != nil {
			return "", err
		}
	}
	if err := copyFile(src, filepath.Join(inDir, "drawing.dwg")); err != nil {
		return "", err
	}
	if err := c.exec(ctx, inDir, outDir, "ACAD2018", "DXF", "0", "1", "*.DWG"); err != nil {
		return "", err
	}
	return filepath.Join(outDir, "drawing.dxf"), nil
}

func (c *Converter) exec(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, c.path, args...)
	cmd.WaitDelay = time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("%w: %s", err, logging.TruncateString(msg, 200))
		}
		return err
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

type convertedFile struct {
	*os.File
	dir string
}

func (f *convertedFile) Close() error {
	err := f.File.Close()
	if rmErr := os.RemoveAll(f.dir); err == nil {
		err = rmErr
	}
	return err
}
