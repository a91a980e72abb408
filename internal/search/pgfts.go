package search

import (
	"context"
	"database/sql"
	"fmt"
)

// PgFTS searches the text items of the stored document with PostgreSQL
// full-text search over the JSONB content column.
type PgFTS struct {
	db         *sql.DB
	documentID string
}

func NewPgFTS(db *sql.DB, documentID string) *PgFTS {
	return &PgFTS{db: db, documentID: documentID}
}

func (p *PgFTS) Healthy() bool { return p.db != nil }

func (p *PgFTS) Name() string { return "postgres" }

const itemsCTE = `
	WITH items AS (
		SELECT (e.ordinality - 1)::int AS position, e.value->>'content' AS text
		FROM documents d, jsonb_array_elements(d.content) WITH ORDINALITY AS e(value, ordinality)
		WHERE d.id = $1 AND e.value->>'type' = 'text'
	)`

// Search ranks matching text items with ts_rank and highlights them with
// ts_headline.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	limit := limitOf(q)

	countSQL := itemsCTE + `
	SELECT COUNT(*) FROM items
	WHERE to_tsvector('english', text) @@ plainto_tsquery('english', $2)`

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, p.documentID, q.Text).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := itemsCTE + `
	SELECT position, text,
		ts_headline('english', text, plainto_tsquery('english', $2), 'StartSel=<mark>, StopSel=</mark>, MaxWords=35, MinWords=15')
	FROM items
	WHERE to_tsvector('english', text) @@ plainto_tsquery('english', $2)
	ORDER BY ts_rank(to_tsvector('english', text), plainto_tsquery('english', $2)) DESC, position
	LIMIT $3`

	rows, err := p.db.QueryContext(ctx, dataSQL, p.documentID, q.Text, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.Position, &r.Text, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.ID = itemID(r.Position)
		results = append(results, r)
	}
	return results, total, rows.Err()
}
