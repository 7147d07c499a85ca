package search

import (
	"context"
	"database/sql"
	"encoding/json"
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

// Healthy is always true: without Postgres nothing else works either.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search unions feedback and comment matches ranked by ts_rank, with
// ts_headline snippets.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" || q.emptyScope() {
		return nil, 0, nil
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	scope := ""
	if !q.All {
		encoded, err := json.Marshal(q.BoardIDs)
		if err != nil {
			return nil, 0, fmt.Errorf("encode board scope: %w", err)
		}
		scope = " AND f.board_id::text IN (SELECT jsonb_array_elements_text(" + arg(string(encoded)) + "::jsonb))"
	}

	var subQueries []string
	if q.FilterType == "" || q.FilterType == ResultFeedback {
		where := "f.search_vector @@ " + tsQuery + " AND f.is_active AND f.status <> 'draft'" + scope
		if q.Status != "" {
			where += " AND f.status = " + arg(q.Status)
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'feedback'::text AS type, f.id::text AS id, f.title,
				ts_headline('english', f.description, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				f.id::text AS feedback_id, f.board_id::text AS board_id, f.status,
				ts_rank(f.search_vector, %s) AS rank
			FROM feedback f
			WHERE %s`, tsQuery, tsQuery, where))
	}
	if q.FilterType == "" || q.FilterType == ResultComment {
		where := "c.search_vector @@ " + tsQuery + " AND c.is_active AND f.is_active AND f.status <> 'draft'" + scope
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'comment'::text AS type, c.id::text AS id, ''::text AS title,
				ts_headline('english', c.content, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				f.id::text AS feedback_id, f.board_id::text AS board_id, ''::text AS status,
				ts_rank(c.search_vector, %s) AS rank
			FROM comments c
			JOIN feedback f ON f.id = c.feedback_id
			WHERE %s`, tsQuery, tsQuery, where))
	}
	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	union := strings.Join(subQueries, " UNION ALL ")

	var total int
	if err := p.db.QueryRowContext(ctx, "SELECT count(*) FROM ("+union+") sub", args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, feedback_id, board_id, status
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`, union, q.limit(), q.offset())
	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			r   Result
			typ string
		)
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.FeedbackID, &r.BoardID, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every indexable record for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]FeedbackRecord, []CommentRecord, error) {
	feedbackRows, err := p.db.QueryContext(ctx, `
		SELECT f.id, f.title, f.description, f.board_id, f.status, f.category, f.priority,
			(SELECT COALESCE(json_agg(t.tag ORDER BY t.tag), '[]'::json) FROM feedback_tags t WHERE t.feedback_id = f.id)
		FROM feedback f
		WHERE f.is_active AND f.status <> 'draft'
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load feedback: %w", err)
	}
	defer feedbackRows.Close()

	feedback := make([]FeedbackRecord, 0)
	for feedbackRows.Next() {
		var (
			r    FeedbackRecord
			tags []byte
		)
		if err := feedbackRows.Scan(&r.ID, &r.Title, &r.Description, &r.BoardID, &r.Status, &r.Category, &r.Priority, &tags); err != nil {
			return nil, nil, fmt.Errorf("scan feedback: %w", err)
		}
		_ = json.Unmarshal(tags, &r.Tags)
		feedback = append(feedback, r)
	}
	if err := feedbackRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate feedback: %w", err)
	}

	commentRows, err := p.db.QueryContext(ctx, `
		SELECT c.id, c.content, c.feedback_id, f.board_id
		FROM comments c
		JOIN feedback f ON f.id = c.feedback_id
		WHERE c.is_active AND f.is_active AND f.status <> 'draft'
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load comments: %w", err)
	}
	defer commentRows.Close()

	comments := make([]CommentRecord, 0)
	for commentRows.Next() {
		var r CommentRecord
		if err := commentRows.Scan(&r.ID, &r.Content, &r.FeedbackID, &r.BoardID); err != nil {
			return nil, nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, r)
	}
	if err := commentRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate comments: %w", err)
	}

	return feedback, comments, nil
}
