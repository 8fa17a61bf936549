package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; without Postgres nothing else works either.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search matches annotations.search_vector with plainto_tsquery, ranks with
// ts_rank and highlights the selected text with ts_headline.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where, args := pgWhere(q)

	var total int
	countSQL := `SELECT count(*) FROM annotations a WHERE ` + where
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT a.version_id, a.project_id, a.annotation_id, a.selected_text,
			ts_headline('english', a.selected_text, plainto_tsquery('english', $1), 'StartSel=<mark>,StopSel=</mark>,MaxFragments=1,MaxWords=30') AS snippet,
			a.tag, a.code, v.filename
		FROM annotations a
		JOIN versions v ON v.id = a.version_id
		WHERE %s
		ORDER BY ts_rank(a.search_vector, plainto_tsquery('english', $1)) DESC, a.version_id, a.annotation_id
		LIMIT %d OFFSET %d`, where, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.VersionID, &r.ProjectID, &r.AnnotationID, &r.SelectedText, &r.Snippet, &r.Tag, &r.Code, &r.Filename); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.ID = RecordID(r.VersionID, r.AnnotationID)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

func pgWhere(q Query) (string, []any) {
	clauses := []string{"a.search_vector @@ plainto_tsquery('english', $1)"}
	args := []any{q.Text}
	if q.ProjectID != "" {
		args = append(args, q.ProjectID)
		clauses = append(clauses, fmt.Sprintf("a.project_id = $%d", len(args)))
	}
	if q.Tag != "" {
		args = append(args, q.Tag)
		clauses = append(clauses, fmt.Sprintf("a.tag = $%d", len(args)))
	}
	return strings.Join(clauses, " AND "), args
}

// LoadAllRecords returns every stored annotation for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT a.version_id, a.project_id, a.annotation_id, a.selected_text, a.tag, a.code, v.filename
		FROM annotations a
		JOIN versions v ON v.id = a.version_id
	`)
	if err != nil {
		return nil, fmt.Errorf("load annotations: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.VersionID, &r.ProjectID, &r.AnnotationID, &r.SelectedText, &r.Tag, &r.Code, &r.Filename); err != nil {
			return nil, fmt.Errorf("scan annotation: %w", err)
		}
		r.ID = RecordID(r.VersionID, r.AnnotationID)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate annotations: %w", err)
	}
	return records, nil
}
