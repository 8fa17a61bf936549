package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) InsertProject(ctx context.Context, item Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name)
		VALUES ($1, $2)
	`, item.ID, item.Name)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.name, p.created_at, p.updated_at, COUNT(v.id)
		FROM projects p
		LEFT JOIN versions v ON v.project_id = p.id
		GROUP BY p.id
		ORDER BY p.updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	items := make([]Project, 0)
	for rows.Next() {
		var item Project
		if err := rows.Scan(&item.ID, &item.Name, &item.CreatedAt, &item.UpdatedAt, &item.VersionCount); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	var item Project
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, created_at, updated_at
		FROM projects
		WHERE id=$1
	`, projectID).Scan(&item.ID, &item.Name, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Project{}, err
	}
	return item, nil
}

// DeleteProject removes the project row; versions and annotations cascade.
// It returns the deleted project's versions so callers can drop their content.
func (s *PostgresStore) DeleteProject(ctx context.Context, projectID string) ([]Version, error) {
	versions, err := s.ListVersions(ctx, projectID)
	if err != nil {
		return nil, err
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id=$1`, projectID)
	if err != nil {
		return nil, fmt.Errorf("delete project: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return nil, sql.ErrNoRows
	}
	return versions, nil
}

const versionColumns = `id, project_id, filename, filetype, storage, blob_key, commit_hash, content_type, size_bytes, page_count, annotation_count, created_at`

func scanVersion(row interface{ Scan(...any) error }) (Version, error) {
	var item Version
	err := row.Scan(
		&item.ID,
		&item.ProjectID,
		&item.Filename,
		&item.FileType,
		&item.Storage,
		&item.BlobKey,
		&item.CommitHash,
		&item.ContentType,
		&item.SizeBytes,
		&item.PageCount,
		&item.AnnotationCount,
		&item.CreatedAt,
	)
	return item, err
}

func (s *PostgresStore) InsertVersion(ctx context.Context, item Version) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert version: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO versions (id, project_id, filename, filetype, storage, blob_key, commit_hash, content_type, size_bytes, page_count, annotation_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, item.ID, item.ProjectID, item.Filename, item.FileType, item.Storage, item.BlobKey, item.CommitHash, item.ContentType, item.SizeBytes, item.PageCount, item.AnnotationCount)
	if err != nil {
		return fmt.Errorf("insert version: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE projects SET updated_at=NOW() WHERE id=$1`, item.ProjectID); err != nil {
		return fmt.Errorf("touch project: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert version: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListVersions(ctx context.Context, projectID string) ([]Version, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+versionColumns+`
		FROM versions
		WHERE project_id=$1
		ORDER BY created_at DESC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	items := make([]Version, 0)
	for rows.Next() {
		item, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetVersion(ctx context.Context, versionID string) (Version, error) {
	return scanVersion(s.db.QueryRowContext(ctx, `
		SELECT `+versionColumns+`
		FROM versions
		WHERE id=$1
	`, versionID))
}

func (s *PostgresStore) DeleteVersion(ctx context.Context, versionID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM versions WHERE id=$1`, versionID)
	if err != nil {
		return fmt.Errorf("delete version: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ReplaceVersionAnnotations swaps the stored annotation rows of a version in one transaction.
func (s *PostgresStore) ReplaceVersionAnnotations(ctx context.Context, versionID string, rows []AnnotationRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace annotations: %w", err)
	}
	defer tx.Rollback()

	var projectID string
	if err := tx.QueryRowContext(ctx, `SELECT project_id FROM versions WHERE id=$1`, versionID).Scan(&projectID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM annotations WHERE version_id=$1`, versionID); err != nil {
		return fmt.Errorf("clear annotations: %w", err)
	}
	for _, row := range rows {
		related := row.RelatedIDs
		if related == nil {
			related = []int{}
		}
		relatedJSON, err := json.Marshal(related)
		if err != nil {
			return fmt.Errorf("marshal related ids: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO annotations (version_id, annotation_id, project_id, selected_text, tag, code, related_ids)
			VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
		`, versionID, row.AnnotationID, projectID, row.SelectedText, row.Tag, row.Code, string(relatedJSON)); err != nil {
			return fmt.Errorf("insert annotation %d: %w", row.AnnotationID, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE versions SET annotation_count=$2 WHERE id=$1`, versionID, len(rows)); err != nil {
		return fmt.Errorf("update annotation count: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace annotations: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListVersionAnnotations(ctx context.Context, versionID string) ([]AnnotationRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT version_id, project_id, annotation_id, selected_text, tag, code, related_ids
		FROM annotations
		WHERE version_id=$1
		ORDER BY annotation_id ASC
	`, versionID)
	if err != nil {
		return nil, fmt.Errorf("list annotations: %w", err)
	}
	defer rows.Close()

	items := make([]AnnotationRow, 0)
	for rows.Next() {
		var item AnnotationRow
		var relatedJSON []byte
		if err := rows.Scan(&item.VersionID, &item.ProjectID, &item.AnnotationID, &item.SelectedText, &item.Tag, &item.Code, &relatedJSON); err != nil {
			return nil, fmt.Errorf("scan annotation: %w", err)
		}
		if err := json.Unmarshal(relatedJSON, &item.RelatedIDs); err != nil {
			return nil, fmt.Errorf("decode related ids: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate annotations: %w", err)
	}
	return items, nil
}

// ClearAll wipes every project, version and annotation.
func (s *PostgresStore) ClearAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `TRUNCATE annotations, versions, projects`); err != nil {
		return fmt.Errorf("clear database: %w", err)
	}
	return nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
