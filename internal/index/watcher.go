package index

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/lcca/internal/storage"
)

// reconcileDelay coalesces the burst of events a single save produces.
const reconcileDelay = 200 * time.Millisecond

// EventCallback is called after a watcher-driven catalog change.
// kind is one of "created", "updated", "deleted".
type EventCallback func(kind string, projectID string)

// Watch starts an fsnotify watcher on the projects root and keeps the catalog
// in sync until ctx is cancelled. It calls cb (if non-nil) after each
// catalog mutation.
//
// Events only mark a project dirty; dirty projects are reconciled once the
// tree has been quiet for reconcileDelay.
func Watch(ctx context.Context, db ProjectIndex, root storage.Provider, logger *slog.Logger, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	rootDir := root.Dir()
	if err := addDirsRecursive(w, rootDir); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", rootDir))

	dirty := make(map[string]struct{})
	timer := time.NewTimer(reconcileDelay)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info("watcher: stopped")
			return nil

		case <-timer.C:
			for id := range dirty {
				kind, err := Reconcile(db, root, id)
				if err != nil {
					logger.Warn("watcher: reconcile failed", slog.String("project", id), slog.String("error", err.Error()))
					continue
				}
				if kind == "" {
					continue
				}
				logger.Debug("watcher: reconciled", slog.String("project", id), slog.String("op", kind))
				if cb != nil {
					cb(kind, id)
				}
			}
			clear(dirty)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					}
				}
			}

			id, ok := projectOf(rootDir, ev.Name)
			if !ok {
				continue
			}
			dirty[id] = struct{}{}
			timer.Reset(reconcileDelay)

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// projectOf maps an event path to the project directory it belongs to.
// Dot-prefixed entries (temp files, hidden dirs) are ignored.
func projectOf(rootDir, path string) (string, bool) {
	rel, err := filepath.Rel(rootDir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	for _, p := range parts {
		if strings.HasPrefix(p, ".") {
			return "", false
		}
	}
	return parts[0], true
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return w.Add(path)
		}
		return nil
	})
}
