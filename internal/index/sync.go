package index

import (
	"errors"
	"log/slog"
	"os"
	"strings"

	"github.com/starford/lcca/internal/apperr"
	"github.com/starford/lcca/internal/document"
	"github.com/starford/lcca/internal/models"
	"github.com/starford/lcca/internal/storage"
)

// Sync walks the projects root and brings the catalog up to date:
//   - new/changed projects are summarized and upserted
//   - projects removed from disk are deleted from the catalog
func Sync(db ProjectIndex, root storage.Provider, logger *slog.Logger) error {
	infos, err := root.List()
	if err != nil {
		return err
	}

	checksums, err := db.AllChecksums()
	if err != nil {
		return err
	}

	disk := make(map[string]struct{}, len(infos))
	for _, info := range infos {
		disk[info.ID] = struct{}{}

		if checksums[info.ID] == info.Checksum {
			continue
		}
		if err := indexProject(db, root, info); err != nil {
			logger.Warn("sync: index failed", slog.String("project", info.ID), slog.String("error", err.Error()))
		} else {
			logger.Debug("sync: indexed", slog.String("project", info.ID))
		}
	}

	for id := range checksums {
		if _, ok := disk[id]; !ok {
			if err := db.DeleteProject(id); err != nil {
				logger.Warn("sync: delete failed", slog.String("project", id), slog.String("error", err.Error()))
			} else {
				logger.Debug("sync: removed stale", slog.String("project", id))
			}
		}
	}
	return nil
}

// Reconcile brings one project's catalog row in line with disk. It returns
// "created", "updated", "deleted", or "" when nothing changed.
func Reconcile(db ProjectIndex, root storage.Provider, id string) (string, error) {
	old, err := db.GetChecksum(id)
	if err != nil {
		return "", err
	}

	info, err := root.Info(id)
	if errors.Is(err, apperr.ErrNotFound) || errors.Is(err, apperr.ErrInvalidName) {
		if old == "" {
			return "", nil
		}
		return "deleted", db.DeleteProject(id)
	}
	if err != nil {
		return "", err
	}
	if old == info.Checksum {
		return "", nil
	}
	if err := indexProject(db, root, info); err != nil {
		return "", err
	}
	if old == "" {
		return "created", nil
	}
	return "updated", nil
}

// indexProject loads the project's document and upserts it with a search summary.
func indexProject(db ProjectIndex, root storage.Provider, info models.ProjectInfo) error {
	summary := ""
	if doc := loadForIndex(root, info); doc != nil {
		summary = Summarize(doc)
	}
	return db.UpsertProject(info, summary)
}

// loadForIndex reads whichever of canonical and backup parses, without
// repairing anything on disk.
func loadForIndex(root storage.Provider, info models.ProjectInfo) *document.Document {
	store, err := root.Store(info.ID)
	if err != nil {
		return nil
	}
	if doc, err := store.Load(); err == nil {
		return doc
	}
	data, err := os.ReadFile(store.BackupPath())
	if err != nil {
		return nil
	}
	doc, _ := document.Parse(data)
	return doc
}

// Summarize renders the searchable text of a document: its metadata values
// followed by its section names.
func Summarize(doc *document.Document) string {
	var parts []string
	for _, k := range doc.Metadata.Keys() {
		if v := doc.Metadata.GetString(k, ""); v != "" {
			parts = append(parts, v)
		}
	}
	parts = append(parts, doc.SectionNames()...)
	return strings.Join(parts, " ")
}
