package search

import "context"

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultFeedback ResultType = "feedback"
	ResultComment  ResultType = "comment"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type       ResultType `json:"type"`
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Snippet    string     `json:"snippet"`
	FeedbackID string     `json:"feedbackId"`
	BoardID    string     `json:"boardId"`
	Status     string     `json:"status,omitempty"`
}

// Query describes a search request. BoardIDs scopes the search to boards the
// caller may read; an empty scope matches nothing unless All is set.
type Query struct {
	Text       string
	FilterType ResultType
	BoardIDs   []string
	All        bool
	Status     string
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// FeedbackRecord is what the index holds for a feedback item. Only active,
// non-draft items are indexed.
type FeedbackRecord struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	BoardID     string   `json:"boardId"`
	Status      string   `json:"status"`
	Category    string   `json:"category"`
	Priority    string   `json:"priority"`
	Tags        []string `json:"tags"`
}

// CommentRecord is what the index holds for an active comment.
type CommentRecord struct {
	ID         string `json:"id"`
	Content    string `json:"content"`
	FeedbackID string `json:"feedbackId"`
	BoardID    string `json:"boardId"`
}

func (q Query) emptyScope() bool {
	return !q.All && len(q.BoardIDs) == 0
}

func (q Query) limit() int {
	if q.Limit <= 0 || q.Limit > 100 {
		return 20
	}
	return q.Limit
}

func (q Query) offset() int {
	if q.Offset < 0 {
		return 0
	}
	return q.Offset
}
