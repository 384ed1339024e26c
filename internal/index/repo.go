package index

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/starford/lcca/internal/apperr"
	"github.com/starford/lcca/internal/models"
)

// SearchResult is one search hit.
type SearchResult struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Snippet string `json:"snippet"`
}

// Sort keys accepted by ListProjects.
const (
	SortID      = "id"
	SortName    = "name"
	SortUpdated = "updated"
)

var sortClauses = map[string]string{
	SortID:      "id ASC",
	SortName:    "name COLLATE NOCASE ASC, id ASC",
	SortUpdated: "updated_at DESC, id ASC",
}

const projectColumns = `id, name, created_at, recovering, checkpoints, checksum, updated_at`

// UpsertProject inserts or replaces a catalog row and its search entry.
func (db *DB) UpsertProject(p models.ProjectInfo, summary string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	_, err = tx.Exec(`
		INSERT INTO projects (id, name, created_at, recovering, checkpoints, checksum, summary, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name        = excluded.name,
			created_at  = excluded.created_at,
			recovering  = excluded.recovering,
			checkpoints = excluded.checkpoints,
			checksum    = excluded.checksum,
			summary     = excluded.summary,
			updated_at  = excluded.updated_at
	`, p.ID, p.Name, p.CreatedAt, p.Recovering, p.Checkpoints, p.Checksum, summary, p.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("index: upsert project: %w", err)
	}

	if err := ftsUpsert(tx, p.ID, p.Name, summary); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteProject removes a catalog row and its search entry.
func (db *DB) DeleteProject(id string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ftsDelete(tx, id)
	if _, err := tx.Exec(`DELETE FROM projects WHERE id = ?`, id); err != nil {
		return fmt.Errorf("index: delete project: %w", err)
	}
	return tx.Commit()
}

// GetChecksum returns the stored checksum, or "" when the project is not cataloged.
func (db *DB) GetChecksum(id string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM projects WHERE id = ?`, id).Scan(&cs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("index: checksum: %w", err)
	}
	return cs, nil
}

// GetProject returns one catalog row.
func (db *DB) GetProject(id string) (*models.ProjectInfo, error) {
	row := db.conn.QueryRow(`SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: project %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: get project: %w", err)
	}
	return &p, nil
}

// ListProjects returns a page of the catalog and the total row count.
// Unknown sort keys fall back to SortID.
func (db *DB) ListProjects(limit, offset int, sort string) ([]models.ProjectInfo, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	order, ok := sortClauses[sort]
	if !ok {
		order = sortClauses[SortID]
	}

	var total int
	if err := db.conn.QueryRow(`SELECT count(*) FROM projects`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("index: count projects: %w", err)
	}

	rows, err := db.conn.Query(`SELECT `+projectColumns+` FROM projects ORDER BY `+order+` LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("index: list projects: %w", err)
	}
	defer rows.Close()

	out := make([]models.ProjectInfo, 0, limit)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

// AllChecksums returns id → checksum for every cataloged project.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT id, checksum FROM projects`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var id, cs string
		if err := rows.Scan(&id, &cs); err != nil {
			return nil, err
		}
		out[id] = cs
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProject(s scanner) (models.ProjectInfo, error) {
	var p models.ProjectInfo
	err := s.Scan(&p.ID, &p.Name, &p.CreatedAt, &p.Recovering, &p.Checkpoints, &p.Checksum, &p.UpdatedAt)
	return p, err
}
