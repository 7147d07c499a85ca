package app

import (
	"context"
	"strings"

	"feedbackhub/api/internal/policy"
	"feedbackhub/api/internal/search"
	"feedbackhub/api/internal/store"
	"feedbackhub/api/internal/thread"
	"feedbackhub/api/internal/util"
	"feedbackhub/api/internal/votes"

	"go.uber.org/zap"
)

type CommentInput struct {
	FeedbackID     string  `json:"feedbackId" validate:"omitempty,uuid"`
	ParentID       *string `json:"parentId" validate:"omitempty,uuid"`
	Content        *string `json:"content" validate:"omitempty,max=10000"`
	AnonymousName  *string `json:"anonymousName" validate:"omitempty,max=255"`
	AnonymousEmail *string `json:"anonymousEmail" validate:"omitempty,email,max=254"`
}

type CommentListInput struct {
	FeedbackID string
	ParentID   string
	Nested     bool
}

// CommentView is a comment with the counters and viewer flags the API shows.
type CommentView struct {
	Comment    store.Comment
	ReplyCount int
	MyVote     votes.Kind
	CanEdit    bool
	Replies    []CommentView
}

// ListComments returns the feedback's comments oldest first. Inactive
// comments are shown only to moderators and their authors. With Nested the
// result holds root comments and their replies; an active reply under a
// comment the actor cannot see is listed at the top level.
func (s *Service) ListComments(ctx context.Context, actor policy.Actor, input CommentListInput) ([]CommentView, error) {
	if strings.TrimSpace(input.FeedbackID) == "" {
		return nil, validationError("feedback is required", map[string]string{"feedback": "required"})
	}
	item, board, err := s.loadFeedback(ctx, actor, input.FeedbackID)
	if err != nil {
		return nil, err
	}
	comments, err := s.store.ListComments(ctx, item.ID)
	if err != nil {
		return nil, err
	}

	moderates := policy.CanModerateComment(actor, board)
	visible := make([]store.Comment, 0, len(comments))
	for _, comment := range comments {
		if comment.IsActive || moderates || comment.IsAuthor(actor.ID) {
			visible = append(visible, comment)
		}
	}
	tree := thread.Build(visible)

	if input.Nested {
		return s.commentNodes(ctx, actor, board, tree.Nested())
	}

	views := make([]CommentView, 0, len(visible))
	for _, comment := range visible {
		if input.ParentID != "" && derefString(comment.ParentID) != input.ParentID {
			continue
		}
		view, err := s.commentView(ctx, actor, board, comment, tree.ReplyCount(comment.ID))
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

func (s *Service) commentNodes(ctx context.Context, actor policy.Actor, board store.Board, nodes []thread.Node) ([]CommentView, error) {
	views := make([]CommentView, 0, len(nodes))
	for _, node := range nodes {
		view, err := s.commentView(ctx, actor, board, node.Comment, node.ReplyCount)
		if err != nil {
			return nil, err
		}
		if view.Replies, err = s.commentNodes(ctx, actor, board, node.Replies); err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

func (s *Service) GetComment(ctx context.Context, actor policy.Actor, commentID string) (CommentView, error) {
	comment, item, board, err := s.loadComment(ctx, actor, commentID)
	if err != nil {
		return CommentView{}, err
	}
	return s.commentViewInThread(ctx, actor, item, board, comment)
}

// CreateComment adds a root comment or, with ParentID, a reply. The parent
// must belong to the same feedback item.
func (s *Service) CreateComment(ctx context.Context, actor policy.Actor, input CommentInput) (CommentView, error) {
	if input.FeedbackID == "" {
		return CommentView{}, validationError("Feedback is required", map[string]string{"feedbackId": "required"})
	}
	content := util.RichText(derefString(input.Content))
	if content == "" {
		return CommentView{}, validationError("Comment content is required", map[string]string{"content": "required"})
	}

	var (
		comment store.Comment
		board   store.Board
	)
	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		var (
			item store.Feedback
			err  error
		)
		item, board, err = s.loadFeedback(ctx, actor, input.FeedbackID)
		if err != nil {
			return err
		}
		if !policy.CanComment(actor, board, item) {
			if !actor.Authenticated && board.AllowComments && item.IsActive {
				return unauthorized("Sign in to comment on this feedback")
			}
			return forbidden("Comments are not allowed on this feedback")
		}

		comment = store.Comment{
			ID:         util.NewID(),
			Content:    content,
			FeedbackID: item.ID,
			IsActive:   true,
		}
		if parentID := stringPtr(derefString(input.ParentID)); parentID != nil {
			parent, err := s.store.GetComment(ctx, *parentID)
			if err != nil || parent.FeedbackID != item.ID {
				return validationError("Parent comment must belong to the same feedback", map[string]string{"parentId": "invalid"})
			}
			comment.ParentID = &parent.ID
		}
		if actor.Authenticated {
			comment.AuthorID = &actor.ID
		} else {
			comment.AnonymousName = util.PlainText(derefString(input.AnonymousName))
			comment.AnonymousEmail = strings.TrimSpace(derefString(input.AnonymousEmail))
		}

		if err := s.store.InsertComment(ctx, comment); err != nil {
			return err
		}
		comment, err = s.store.GetComment(ctx, comment.ID)
		return err
	})
	if err != nil {
		return CommentView{}, err
	}

	s.syncCommentIndex(comment, board.ID)
	s.log.Info("comment created", zap.String("comment_id", comment.ID), zap.String("feedback_id", comment.FeedbackID))
	return s.commentView(ctx, actor, board, comment, 0)
}

// UpdateComment changes the content. PUT and PATCH differ only in whether
// content is required.
func (s *Service) UpdateComment(ctx context.Context, actor policy.Actor, commentID string, input CommentInput, partial bool) (CommentView, error) {
	if err := requireAuthenticated(actor); err != nil {
		return CommentView{}, err
	}
	if !partial && input.Content == nil {
		return CommentView{}, validationError("Comment content is required", map[string]string{"content": "required"})
	}

	var (
		comment store.Comment
		item    store.Feedback
		board   store.Board
	)
	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		comment, item, board, err = s.loadComment(ctx, actor, commentID)
		if err != nil {
			return err
		}
		if !policy.CanEditComment(actor, board, comment) {
			return forbidden("You cannot edit this comment")
		}
		if input.ParentID != nil && derefString(input.ParentID) != derefString(comment.ParentID) {
			return validationError("A comment cannot be moved", map[string]string{"parentId": "immutable"})
		}
		if input.Content != nil {
			comment.Content = util.RichText(*input.Content)
			if comment.Content == "" {
				return validationError("Comment content cannot be blank", map[string]string{"content": "required"})
			}
		}
		if err := s.store.UpdateComment(ctx, comment); err != nil {
			return err
		}
		comment, err = s.store.GetComment(ctx, comment.ID)
		return err
	})
	if err != nil {
		return CommentView{}, err
	}

	s.syncCommentIndex(comment, board.ID)
	return s.commentViewInThread(ctx, actor, item, board, comment)
}

// DeleteComment removes the comment together with every reply below it.
func (s *Service) DeleteComment(ctx context.Context, actor policy.Actor, commentID string) error {
	if err := requireAuthenticated(actor); err != nil {
		return err
	}

	var removed []string
	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		comment, item, board, err := s.loadComment(ctx, actor, commentID)
		if err != nil {
			return err
		}
		if !policy.CanDeleteComment(actor, board, comment) {
			return forbidden("You cannot delete this comment")
		}
		comments, err := s.store.ListComments(ctx, item.ID)
		if err != nil {
			return err
		}
		removed = thread.Build(comments).Subtree(comment.ID)
		if len(removed) == 0 {
			removed = []string{comment.ID}
		}
		_, err = s.store.DeleteComments(ctx, removed)
		return err
	})
	if err != nil {
		return err
	}

	s.search.DeleteComments(removed...)
	s.audit("comment deleted", actor, zap.String("comment_id", commentID), zap.Int("removed", len(removed)))
	return nil
}

func (s *Service) VoteComment(ctx context.Context, actor policy.Actor, commentID, voteType string) (CommentView, error) {
	kind, ok := votes.ParseKind(voteType)
	if !ok {
		return CommentView{}, validationError("vote_type must be upvote or downvote", map[string]string{"voteType": "oneof"})
	}
	if err := requireAuthenticated(actor); err != nil {
		return CommentView{}, err
	}
	return s.changeCommentVote(ctx, actor, commentID, func(ctx context.Context, comment store.Comment, board store.Board) error {
		if !policy.CanVoteComment(actor, board, comment) {
			return forbidden("Voting is not allowed on this comment")
		}
		return s.store.CastVote(ctx, votes.TargetComment, comment.ID, actor.ID, kind)
	})
}

// RemoveCommentVote is idempotent.
func (s *Service) RemoveCommentVote(ctx context.Context, actor policy.Actor, commentID string) (CommentView, error) {
	if err := requireAuthenticated(actor); err != nil {
		return CommentView{}, err
	}
	return s.changeCommentVote(ctx, actor, commentID, func(ctx context.Context, comment store.Comment, _ store.Board) error {
		return s.store.ClearVote(ctx, votes.TargetComment, comment.ID, actor.ID)
	})
}

func (s *Service) changeCommentVote(ctx context.Context, actor policy.Actor, commentID string, apply func(context.Context, store.Comment, store.Board) error) (CommentView, error) {
	var (
		comment store.Comment
		item    store.Feedback
		board   store.Board
	)
	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		comment, item, board, err = s.loadComment(ctx, actor, commentID)
		if err != nil {
			return err
		}
		if err := apply(ctx, comment, board); err != nil {
			return err
		}
		comment, err = s.store.GetComment(ctx, comment.ID)
		return err
	})
	if err != nil {
		return CommentView{}, err
	}
	s.audit("comment vote changed", actor, zap.String("comment_id", comment.ID))
	return s.commentViewInThread(ctx, actor, item, board, comment)
}

// ModerateComment hides or restores a comment. Hidden comments drop out of
// the search index.
func (s *Service) ModerateComment(ctx context.Context, actor policy.Actor, commentID string, isActive bool) (CommentView, error) {
	if err := requireAuthenticated(actor); err != nil {
		return CommentView{}, err
	}

	var (
		comment store.Comment
		item    store.Feedback
		board   store.Board
	)
	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		comment, item, board, err = s.loadComment(ctx, actor, commentID)
		if err != nil {
			return err
		}
		if !policy.CanModerateComment(actor, board) {
			return forbidden("Only board moderators can moderate comments")
		}
		comment.IsActive = isActive
		if err := s.store.UpdateComment(ctx, comment); err != nil {
			return err
		}
		comment, err = s.store.GetComment(ctx, comment.ID)
		return err
	})
	if err != nil {
		return CommentView{}, err
	}

	s.syncCommentIndex(comment, board.ID)
	s.audit("comment moderated", actor, zap.String("comment_id", comment.ID), zap.Bool("is_active", isActive))
	return s.commentViewInThread(ctx, actor, item, board, comment)
}

func (s *Service) commentViewInThread(ctx context.Context, actor policy.Actor, item store.Feedback, board store.Board, comment store.Comment) (CommentView, error) {
	comments, err := s.store.ListComments(ctx, item.ID)
	if err != nil {
		return CommentView{}, err
	}
	return s.commentView(ctx, actor, board, comment, thread.Build(comments).ReplyCount(comment.ID))
}

func (s *Service) commentView(ctx context.Context, actor policy.Actor, board store.Board, comment store.Comment, replyCount int) (CommentView, error) {
	view := CommentView{
		Comment:    comment,
		ReplyCount: replyCount,
		CanEdit:    policy.CanEditComment(actor, board, comment),
	}
	if actor.Authenticated {
		ballot, err := s.store.GetBallot(ctx, votes.TargetComment, comment.ID)
		if err != nil {
			return CommentView{}, err
		}
		view.MyVote = ballot[actor.ID]
		tally := ballot.Tally()
		view.Comment.Upvotes, view.Comment.Downvotes = tally.Up, tally.Down
	}
	return view, nil
}

func (s *Service) syncCommentIndex(comment store.Comment, boardID string) {
	if !comment.IsActive {
		s.search.DeleteComments(comment.ID)
		return
	}
	s.search.IndexComment(search.CommentRecord{
		ID:         comment.ID,
		Content:    comment.Content,
		FeedbackID: comment.FeedbackID,
		BoardID:    boardID,
	})
}
