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

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across plates, plate items and comments
// using plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
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

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text, q.TeamID, q.PlateID}

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultPlate {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'plate'::text AS type, p.id, p.name AS title, ''::text AS snippet,
				p.id AS plate_id, ''::text AS plate_item_id,
				ts_rank(p.fts, %s) AS rank
			FROM plates p
			WHERE p.fts @@ %s AND p.team_id = $2 AND p.archived = FALSE
				AND ($3 = '' OR p.id = $3)`, tsQuery, tsQuery))
	}

	if q.FilterType == "" || q.FilterType == ResultPlateItem {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'plateItem'::text AS type, i.id, i.title,
				ts_headline('english', coalesce(i.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				i.plate_id, i.id AS plate_item_id,
				ts_rank(i.fts, %s) AS rank
			FROM plate_items i
			JOIN plates p ON p.id = i.plate_id
			WHERE i.fts @@ %s AND p.team_id = $2 AND i.archived = FALSE
				AND ($3 = '' OR i.plate_id = $3)`, tsQuery, tsQuery, tsQuery))
	}

	if q.FilterType == "" || q.FilterType == ResultComment {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'comment'::text AS type, c.id, c.author_name AS title,
				ts_headline('english', coalesce(c.body, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				i.plate_id, c.plate_item_id,
				ts_rank(c.fts, %s) AS rank
			FROM comments c
			JOIN plate_items i ON i.id = c.plate_item_id
			JOIN plates p ON p.id = i.plate_id
			WHERE c.fts @@ %s AND p.team_id = $2
				AND ($3 = '' OR i.plate_id = $3)`, tsQuery, tsQuery, tsQuery))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, plate_id, plate_item_id
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.Type, &r.ID, &r.Title, &r.Snippet, &r.PlateID, &r.PlateItemID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]PlateRecord, []PlateItemRecord, []CommentRecord, error) {
	plateRows, err := p.db.QueryContext(ctx, `SELECT id, name, team_id, platter_id, archived FROM plates`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load plates: %w", err)
	}
	defer plateRows.Close()

	plates := make([]PlateRecord, 0)
	for plateRows.Next() {
		var r PlateRecord
		if err := plateRows.Scan(&r.ID, &r.Name, &r.TeamID, &r.PlatterID, &r.Archived); err != nil {
			return nil, nil, nil, fmt.Errorf("scan plate: %w", err)
		}
		plates = append(plates, r)
	}
	if err := plateRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate plates: %w", err)
	}

	itemRows, err := p.db.QueryContext(ctx, `
		SELECT i.id, i.title, i.description, p.team_id, i.plate_id, i.archived
		FROM plate_items i
		JOIN plates p ON p.id = i.plate_id
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load plate items: %w", err)
	}
	defer itemRows.Close()

	items := make([]PlateItemRecord, 0)
	for itemRows.Next() {
		var r PlateItemRecord
		if err := itemRows.Scan(&r.ID, &r.Title, &r.Description, &r.TeamID, &r.PlateID, &r.Archived); err != nil {
			return nil, nil, nil, fmt.Errorf("scan plate item: %w", err)
		}
		items = append(items, r)
	}
	if err := itemRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate plate items: %w", err)
	}

	commentRows, err := p.db.QueryContext(ctx, `
		SELECT c.id, c.body, c.author_name, p.team_id, i.plate_id, c.plate_item_id
		FROM comments c
		JOIN plate_items i ON i.id = c.plate_item_id
		JOIN plates p ON p.id = i.plate_id
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load comments: %w", err)
	}
	defer commentRows.Close()

	comments := make([]CommentRecord, 0)
	for commentRows.Next() {
		var r CommentRecord
		if err := commentRows.Scan(&r.ID, &r.Body, &r.AuthorName, &r.TeamID, &r.PlateID, &r.PlateItemID); err != nil {
			return nil, nil, nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, r)
	}
	if err := commentRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate comments: %w", err)
	}

	return plates, items, comments, nil
}
