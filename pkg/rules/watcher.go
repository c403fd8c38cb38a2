package rules

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultReloadDelay coalesces bursts of editor writes into one reload.
const DefaultReloadDelay = 250 * time.Millisecond

// Watcher reloads a YAML rule set into a registry whenever the file changes.
// A file that fails to load leaves the previous rules in place.
type Watcher struct {
	path     string
	registry *Registry
	logger   *zap.Logger
	delay    time.Duration
}

// NewWatcher creates a watcher for path.
func NewWatcher(path string, registry *Registry, logger *zap.Logger) *Watcher {
	return &Watcher{
		path:     filepath.Clean(path),
		registry: registry,
		logger:   logger.Named("rules-watcher"),
		delay:    DefaultReloadDelay,
	}
}

// Run blocks until ctx is cancelled. The parent directory is watched so
// that atomic rename-over saves are seen.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}
	w.logger.Info("Watching rule set", zap.String("path", w.path))

	timer := time.NewTimer(w.delay)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				timer.Reset(w.delay)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Rule set watcher error", zap.Error(err))

		case <-timer.C:
			_ = w.Reload()
		}
	}
}

// Reload reads the file and installs its rules.
func (w *Watcher) Reload() error {
	rs, err := LoadRuleSet(w.path)
	if err != nil {
		w.logger.Warn("Rule set reload failed, keeping previous rules",
			zap.String("path", w.path),
			zap.Error(err))
		return err
	}
	if err := w.registry.Load(rs); err != nil {
		w.logger.Warn("Rule set rejected", zap.String("path", w.path), zap.Error(err))
		return err
	}
	w.logger.Info("Reloaded rule set",
		zap.String("path", w.path),
		zap.String("standard", rs.Standard),
		zap.Int("disabled", len(rs.Disabled)))
	return nil
}
