package search

import (
	"context"

	"go.uber.org/zap"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
// Index writes go only to Meilisearch; Postgres keeps its vectors itself.
type Service struct {
	meili *Meili
	pgfts *PgFTS
	log   *zap.Logger
}

// NewService accepts a nil meili when Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{meili: meili, pgfts: pgfts, log: log.Named("search")}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warn("meilisearch failed, falling back to pgfts", zap.Error(err))
	}
	if s.pgfts == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}

	results, total, err := s.pgfts.Search(ctx, q)
	if err != nil {
		s.log.Error("pgfts search failed", zap.Error(err))
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

func (s *Service) enabled() bool {
	return s.meili != nil && s.meili.Healthy()
}

// IndexFeedback is fire-and-forget.
func (s *Service) IndexFeedback(record FeedbackRecord) {
	if !s.enabled() {
		return
	}
	go func() {
		if err := s.meili.IndexFeedback(record); err != nil {
			s.log.Warn("index feedback", zap.String("feedback_id", record.ID), zap.Error(err))
		}
	}()
}

func (s *Service) DeleteFeedback(id string) {
	if !s.enabled() {
		return
	}
	go func() {
		if err := s.meili.DeleteFeedback(id); err != nil {
			s.log.Warn("delete feedback from index", zap.String("feedback_id", id), zap.Error(err))
		}
	}()
}

func (s *Service) IndexComment(record CommentRecord) {
	if !s.enabled() {
		return
	}
	go func() {
		if err := s.meili.IndexComments(record); err != nil {
			s.log.Warn("index comment", zap.String("comment_id", record.ID), zap.Error(err))
		}
	}()
}

func (s *Service) DeleteComments(ids ...string) {
	if !s.enabled() || len(ids) == 0 {
		return
	}
	go func() {
		if err := s.meili.DeleteComments(ids...); err != nil {
			s.log.Warn("delete comments from index", zap.Int("count", len(ids)), zap.Error(err))
		}
	}()
}

// ReindexAllFromPG pushes every indexable row into Meilisearch. Called once
// at startup when Meilisearch is reachable.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if !s.enabled() || s.pgfts == nil {
		return
	}
	feedback, comments, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		s.log.Error("reindex load failed", zap.Error(err))
		return
	}
	if err := s.meili.IndexFeedback(feedback...); err != nil {
		s.log.Error("reindex feedback", zap.Error(err))
	}
	if err := s.meili.IndexComments(comments...); err != nil {
		s.log.Error("reindex comments", zap.Error(err))
	}
	s.log.Info("search reindex complete", zap.Int("feedback", len(feedback)), zap.Int("comments", len(comments)))
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
