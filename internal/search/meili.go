package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"go.uber.org/zap"
)

const (
	idxFeedback = "feedbackhub_feedback"
	idxComments = "feedbackhub_comments"
)

// Meili implements Searcher via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	log     *zap.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili never fails: an unreachable server starts unhealthy and the
// health loop picks it up once it appears.
func NewMeili(url, apiKey string, log *zap.Logger) *Meili {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		log:    log.Named("meili"),
		done:   make(chan struct{}),
	}

	if _, err := m.client.Health(); err != nil {
		m.log.Warn("meilisearch unavailable", zap.String("url", url), zap.Error(err))
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	indexes := []struct {
		uid        string
		filterable []string
		searchable []string
	}{
		{
			uid:        idxFeedback,
			filterable: []string{"boardId", "status", "category", "priority", "tags"},
			searchable: []string{"title", "description", "tags"},
		},
		{
			uid:        idxComments,
			filterable: []string{"boardId", "feedbackId"},
			searchable: []string{"content"},
		},
	}

	for _, idx := range indexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: idx.uid, PrimaryKey: "id"}); err != nil {
			m.log.Debug("create index (may already exist)", zap.String("index", idx.uid), zap.Error(err))
		}

		index := m.client.Index(idx.uid)
		filterable := make([]interface{}, len(idx.filterable))
		for i, v := range idx.filterable {
			filterable[i] = v
		}
		if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
			m.log.Warn("update filterable attributes", zap.String("index", idx.uid), zap.Error(err))
		}
		if _, err := index.UpdateSearchableAttributes(&idx.searchable); err != nil {
			m.log.Warn("update searchable attributes", zap.String("index", idx.uid), zap.Error(err))
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.log.Info("meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(_ context.Context, q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}
	if q.emptyScope() {
		return nil, 0, nil
	}

	scope := boardFilter(q)
	var queries []*meili.SearchRequest
	if q.FilterType == "" || q.FilterType == ResultFeedback {
		filters := append([]string(nil), scope...)
		if q.Status != "" {
			filters = append(filters, "status = "+strconv.Quote(q.Status))
		}
		queries = append(queries, m.request(idxFeedback, q, filters))
	}
	if q.FilterType == "" || q.FilterType == ResultComment {
		queries = append(queries, m.request(idxComments, q, scope))
	}
	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{Queries: queries})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		rtyp := indexToResultType(sr.IndexUID)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, rtyp))
		}
	}
	return results, total, nil
}

func (m *Meili) request(uid string, q Query, filters []string) *meili.SearchRequest {
	sr := &meili.SearchRequest{
		IndexUID:              uid,
		Query:                 q.Text,
		Limit:                 int64(q.limit()),
		Offset:                int64(q.offset()),
		AttributesToHighlight: []string{"*"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	}
	if len(filters) > 0 {
		sr.Filter = filters
	}
	return sr
}

// boardFilter renders the board scope as a Meilisearch IN expression.
func boardFilter(q Query) []string {
	if q.All {
		return nil
	}
	quoted := make([]string, len(q.BoardIDs))
	for i, id := range q.BoardIDs {
		quoted[i] = strconv.Quote(id)
	}
	return []string{"boardId IN [" + strings.Join(quoted, ", ") + "]"}
}

func indexToResultType(uid string) ResultType {
	switch uid {
	case idxFeedback:
		return ResultFeedback
	case idxComments:
		return ResultComment
	default:
		return ""
	}
}

func hitToResult(hit meili.Hit, rtyp ResultType) Result {
	r := Result{Type: rtyp}
	r.ID = decodeString(hit, "id")
	r.BoardID = decodeString(hit, "boardId")

	switch rtyp {
	case ResultFeedback:
		r.FeedbackID = r.ID
		r.Status = decodeString(hit, "status")
		r.Title = firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "description"), decodeString(hit, "description"))
	case ResultComment:
		r.FeedbackID = decodeString(hit, "feedbackId")
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "content"), decodeString(hit, "content"))
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(formatted[key], &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func (m *Meili) IndexFeedback(records ...FeedbackRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxFeedback).AddDocuments(records, nil)
	return err
}

func (m *Meili) IndexComments(records ...CommentRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxComments).AddDocuments(records, nil)
	return err
}

func (m *Meili) DeleteFeedback(id string) error {
	_, err := m.client.Index(idxFeedback).DeleteDocument(id, nil)
	return err
}

func (m *Meili) DeleteComments(ids ...string) error {
	for _, id := range ids {
		if _, err := m.client.Index(idxComments).DeleteDocument(id, nil); err != nil {
			return err
		}
	}
	return nil
}
