package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"feedbackhub/api/internal/attachments"
	"feedbackhub/api/internal/policy"
	"feedbackhub/api/internal/search"
	"feedbackhub/api/internal/store"
	"feedbackhub/api/internal/util"
	"feedbackhub/api/internal/votes"

	"go.uber.org/zap"
)

const (
	maxTagLength       = 50
	attachmentURLValid = 15 * time.Minute
)

type FeedbackInput struct {
	BoardID        *string  `json:"boardId" validate:"omitempty,uuid"`
	Title          *string  `json:"title" validate:"omitempty,max=255"`
	Description    *string  `json:"description" validate:"omitempty,max=20000"`
	Status         *string  `json:"status" validate:"omitempty,oneof=draft pending under_review planned in_progress completed declined duplicate"`
	Priority       *string  `json:"priority" validate:"omitempty,oneof=low medium high critical"`
	Category       *string  `json:"category" validate:"omitempty,oneof=feature bug improvement question other"`
	AssignedToID   *string  `json:"assignedToId" validate:"omitempty,uuid"`
	AnonymousName  *string  `json:"anonymousName" validate:"omitempty,max=255"`
	AnonymousEmail *string  `json:"anonymousEmail" validate:"omitempty,email,max=254"`
	IsActive       *bool    `json:"isActive"`
	Tags           []string `json:"tags" validate:"omitempty,max=20,dive,max=50"`
}

type FeedbackListInput struct {
	BoardID      string
	Status       string
	Priority     string
	Category     string
	AssignedToID string
	Search       string
	Ordering     string
	Limit        int
	Offset       int
}

// FeedbackDetail is a feedback item as one viewer sees it.
type FeedbackDetail struct {
	Feedback    store.Feedback
	MyVote      votes.Kind
	Upvoters    []string
	Downvoters  []string
	CanEdit     bool
	CanVote     bool
	CanModerate bool
}

type AttachmentView struct {
	Attachment store.Attachment
	URL        string
}

func (s *Service) ListFeedback(ctx context.Context, actor policy.Actor, input FeedbackListInput) ([]store.Feedback, int, error) {
	details := map[string]string{}
	if input.Status != "" && !oneOf(input.Status, store.FeedbackStatuses) {
		details["status"] = "oneof"
	}
	if input.Priority != "" && !oneOf(input.Priority, store.FeedbackPriorities) {
		details["priority"] = "oneof"
	}
	if input.Category != "" && !oneOf(input.Category, store.FeedbackCategories) {
		details["category"] = "oneof"
	}
	if len(details) > 0 {
		return nil, 0, validationError("Invalid filter", details)
	}

	return s.store.ListFeedback(ctx, store.FeedbackFilter{
		ViewerID:      actor.ID,
		ViewerIsAdmin: actor.IsAdmin(),
		BoardID:       input.BoardID,
		Status:        input.Status,
		Priority:      input.Priority,
		Category:      input.Category,
		AssignedToID:  input.AssignedToID,
		Search:        input.Search,
		Ordering:      input.Ordering,
		Limit:         input.Limit,
		Offset:        input.Offset,
	})
}

func (s *Service) GetFeedback(ctx context.Context, actor policy.Actor, feedbackID string) (FeedbackDetail, error) {
	item, board, err := s.loadFeedback(ctx, actor, feedbackID)
	if err != nil {
		return FeedbackDetail{}, err
	}
	return s.feedbackDetail(ctx, actor, item, board)
}

// CreateFeedback starts items as pending, or as draft when the board wants
// approval and the author cannot moderate it. Moderators may pick any status.
func (s *Service) CreateFeedback(ctx context.Context, actor policy.Actor, input FeedbackInput) (FeedbackDetail, error) {
	if input.BoardID == nil || *input.BoardID == "" {
		return FeedbackDetail{}, validationError("Board is required", map[string]string{"boardId": "required"})
	}
	title := util.PlainText(derefString(input.Title))
	description := util.RichText(derefString(input.Description))
	details := map[string]string{}
	if title == "" {
		details["title"] = "required"
	}
	if description == "" {
		details["description"] = "required"
	}
	if len(details) > 0 {
		return FeedbackDetail{}, validationError("Title and description are required", details)
	}

	var (
		item  store.Feedback
		board store.Board
	)
	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		board, err = s.loadBoard(ctx, *input.BoardID)
		if err != nil {
			return err
		}
		if !policy.CanAccessBoard(actor, board) {
			return notFound("Board")
		}
		if !policy.CanSubmitFeedback(actor, board) {
			return unauthorized("Sign in to submit feedback on this board")
		}
		moderates := policy.CanChangeStatus(actor, board)

		item = store.Feedback{
			ID:          util.NewID(),
			Title:       title,
			Description: description,
			Status:      store.StatusPending,
			Priority:    store.DefaultPriority,
			Category:    store.DefaultCategory,
			BoardID:     board.ID,
			IsActive:    true,
		}
		if board.RequireApproval && !moderates {
			item.Status = store.StatusDraft
		}
		if input.Status != nil {
			if !moderates {
				return forbidden("Only board moderators can set the status")
			}
			item.Status = *input.Status
		}
		if input.AssignedToID != nil && *input.AssignedToID != "" {
			if !moderates {
				return forbidden("Only board moderators can assign feedback")
			}
			assignee, err := s.loadUser(ctx, *input.AssignedToID)
			if err != nil {
				return err
			}
			item.AssignedToID = &assignee.ID
		}
		if input.Priority != nil {
			item.Priority = *input.Priority
		}
		if input.Category != nil {
			item.Category = *input.Category
		}
		if actor.Authenticated {
			item.AuthorID = &actor.ID
		} else {
			item.AnonymousName = util.PlainText(derefString(input.AnonymousName))
			item.AnonymousEmail = strings.TrimSpace(derefString(input.AnonymousEmail))
		}

		if err := s.store.InsertFeedback(ctx, item); err != nil {
			return err
		}
		for _, tag := range input.Tags {
			if tag = normalizeTag(tag); tag != "" {
				if err := s.store.AddTag(ctx, item.ID, tag); err != nil {
					return err
				}
			}
		}
		item, err = s.store.GetFeedback(ctx, item.ID)
		return err
	})
	if err != nil {
		return FeedbackDetail{}, err
	}

	s.syncFeedbackIndex(item)
	s.log.Info("feedback created", zap.String("feedback_id", item.ID), zap.String("board_id", item.BoardID), zap.String("status", item.Status))
	return s.feedbackDetail(ctx, actor, item, board)
}

// UpdateFeedback serves PUT and PATCH. Status, assignment and priority are
// triage fields reserved to board moderators; a status change records
// history in the same transaction.
func (s *Service) UpdateFeedback(ctx context.Context, actor policy.Actor, feedbackID string, input FeedbackInput, partial bool) (FeedbackDetail, *store.StatusHistory, error) {
	if err := requireAuthenticated(actor); err != nil {
		return FeedbackDetail{}, nil, err
	}
	if !partial && (input.Title == nil || input.Description == nil) {
		return FeedbackDetail{}, nil, validationError("Title and description are required", map[string]string{"title": "required", "description": "required"})
	}

	var (
		item  store.Feedback
		board store.Board
		entry *store.StatusHistory
	)
	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		item, board, err = s.lockFeedback(ctx, actor, feedbackID)
		if err != nil {
			return err
		}
		if !policy.CanEditFeedback(actor, board, item) {
			return forbidden("You cannot edit this feedback")
		}
		if input.BoardID != nil && *input.BoardID != item.BoardID {
			return validationError("Feedback cannot move between boards", map[string]string{"boardId": "immutable"})
		}

		oldStatus := item.Status
		triage := (input.Status != nil && *input.Status != item.Status) ||
			(input.Priority != nil && *input.Priority != item.Priority) ||
			(input.AssignedToID != nil && *input.AssignedToID != derefString(item.AssignedToID))
		if triage && !policy.CanChangeStatus(actor, board) {
			return forbidden("Only board moderators can change status, priority or assignment")
		}

		if input.Title != nil {
			item.Title = util.PlainText(*input.Title)
		}
		if input.Description != nil {
			item.Description = util.RichText(*input.Description)
		}
		if item.Title == "" || item.Description == "" {
			return validationError("Title and description cannot be blank", nil)
		}
		if input.Status != nil {
			item.Status = *input.Status
		}
		if input.Priority != nil {
			item.Priority = *input.Priority
		}
		if input.Category != nil {
			item.Category = *input.Category
		}
		if input.AssignedToID != nil {
			if *input.AssignedToID == "" {
				item.AssignedToID = nil
			} else {
				assignee, err := s.loadUser(ctx, *input.AssignedToID)
				if err != nil {
					return err
				}
				item.AssignedToID = &assignee.ID
			}
		}
		if input.AnonymousName != nil && item.AuthorID == nil {
			item.AnonymousName = util.PlainText(*input.AnonymousName)
		}
		if input.AnonymousEmail != nil && item.AuthorID == nil {
			item.AnonymousEmail = strings.TrimSpace(*input.AnonymousEmail)
		}
		if input.IsActive != nil {
			item.IsActive = *input.IsActive
		}

		if err := s.store.UpdateFeedback(ctx, item); err != nil {
			return err
		}
		if item.Status != oldStatus {
			recorded, err := s.recordStatusChange(ctx, actor, item.ID, oldStatus, item.Status, "")
			if err != nil {
				return err
			}
			entry = &recorded
		}
		item, err = s.store.GetFeedback(ctx, item.ID)
		return err
	})
	if err != nil {
		return FeedbackDetail{}, nil, err
	}

	s.syncFeedbackIndex(item)
	if entry != nil {
		s.auditStatusChange(actor, *entry)
	}
	detail, err := s.feedbackDetail(ctx, actor, item, board)
	return detail, entry, err
}

// SetFeedbackStatus changes the status and returns the audit record it
// wrote. Setting the current status again writes nothing and returns a nil
// record.
func (s *Service) SetFeedbackStatus(ctx context.Context, actor policy.Actor, feedbackID, status, notes string) (FeedbackDetail, *store.StatusHistory, error) {
	if err := requireAuthenticated(actor); err != nil {
		return FeedbackDetail{}, nil, err
	}
	status = strings.TrimSpace(status)
	if !oneOf(status, store.FeedbackStatuses) {
		return FeedbackDetail{}, nil, validationError("Unknown status", map[string]string{"status": "oneof"})
	}

	var (
		item  store.Feedback
		board store.Board
		entry *store.StatusHistory
	)
	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		item, board, err = s.lockFeedback(ctx, actor, feedbackID)
		if err != nil {
			return err
		}
		if !policy.CanChangeStatus(actor, board) {
			return forbidden("Only board moderators can change the status")
		}
		if item.Status == status {
			return nil
		}

		oldStatus := item.Status
		item.Status = status
		if err := s.store.UpdateFeedback(ctx, item); err != nil {
			return err
		}
		recorded, err := s.recordStatusChange(ctx, actor, item.ID, oldStatus, status, notes)
		if err != nil {
			return err
		}
		entry = &recorded
		item, err = s.store.GetFeedback(ctx, item.ID)
		return err
	})
	if err != nil {
		return FeedbackDetail{}, nil, err
	}

	if entry != nil {
		s.syncFeedbackIndex(item)
		s.auditStatusChange(actor, *entry)
	}
	detail, err := s.feedbackDetail(ctx, actor, item, board)
	return detail, entry, err
}

func (s *Service) recordStatusChange(ctx context.Context, actor policy.Actor, feedbackID, oldStatus, newStatus, notes string) (store.StatusHistory, error) {
	note := fmt.Sprintf("Status changed from %s to %s", oldStatus, newStatus)
	if extra := util.PlainText(notes); extra != "" {
		note += ": " + extra
	}
	entry := store.StatusHistory{
		FeedbackID: feedbackID,
		OldStatus:  &oldStatus,
		NewStatus:  newStatus,
		Notes:      note,
	}
	if actor.Authenticated {
		entry.ChangedByID = &actor.ID
	}
	return s.store.InsertStatusHistory(ctx, entry)
}

func (s *Service) auditStatusChange(actor policy.Actor, entry store.StatusHistory) {
	s.audit("feedback status changed", actor,
		zap.String("feedback_id", entry.FeedbackID),
		zap.String("old_status", derefString(entry.OldStatus)),
		zap.String("new_status", entry.NewStatus),
	)
}

func (s *Service) ListStatusHistory(ctx context.Context, actor policy.Actor, feedbackID string) ([]store.StatusHistory, error) {
	item, _, err := s.loadFeedback(ctx, actor, feedbackID)
	if err != nil {
		return nil, err
	}
	return s.store.ListStatusHistory(ctx, item.ID)
}

// DeleteFeedback hard-deletes the item. Comments, votes, tags and history go
// with it through the foreign keys; stored files are removed afterwards.
func (s *Service) DeleteFeedback(ctx context.Context, actor policy.Actor, feedbackID string) error {
	if err := requireAuthenticated(actor); err != nil {
		return err
	}

	var (
		files      []store.Attachment
		commentIDs []string
	)
	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		item, board, err := s.loadFeedback(ctx, actor, feedbackID)
		if err != nil {
			return err
		}
		if !policy.CanDeleteFeedback(actor, board, item) {
			return forbidden("You cannot delete this feedback")
		}
		if files, err = s.store.ListAttachments(ctx, item.ID); err != nil {
			return err
		}
		comments, err := s.store.ListComments(ctx, item.ID)
		if err != nil {
			return err
		}
		for _, comment := range comments {
			commentIDs = append(commentIDs, comment.ID)
		}
		return s.store.DeleteFeedback(ctx, item.ID)
	})
	if err != nil {
		return err
	}

	s.search.DeleteFeedback(feedbackID)
	s.search.DeleteComments(commentIDs...)
	if s.files != nil {
		for _, file := range files {
			if err := s.files.Remove(ctx, file.ObjectKey); err != nil {
				s.log.Warn("remove attachment object", zap.String("key", file.ObjectKey), zap.Error(err))
			}
		}
	}
	s.audit("feedback deleted", actor, zap.String("feedback_id", feedbackID))
	return nil
}

// VoteFeedback casts or replaces the actor's vote. Storage keeps one row per
// (feedback, user), so an upvote followed by a downvote leaves only the
// downvote.
func (s *Service) VoteFeedback(ctx context.Context, actor policy.Actor, feedbackID, voteType string) (FeedbackDetail, error) {
	kind, ok := votes.ParseKind(voteType)
	if !ok {
		return FeedbackDetail{}, validationError("vote_type must be upvote or downvote", map[string]string{"voteType": "oneof"})
	}
	if err := requireAuthenticated(actor); err != nil {
		return FeedbackDetail{}, err
	}

	var (
		item  store.Feedback
		board store.Board
	)
	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		item, board, err = s.loadFeedback(ctx, actor, feedbackID)
		if err != nil {
			return err
		}
		if !policy.CanVoteFeedback(actor, board, item) {
			return forbidden("Voting is not allowed on this feedback")
		}
		if err := s.store.CastVote(ctx, votes.TargetFeedback, item.ID, actor.ID, kind); err != nil {
			return err
		}
		item, err = s.store.GetFeedback(ctx, item.ID)
		return err
	})
	if err != nil {
		return FeedbackDetail{}, err
	}
	s.audit("feedback vote cast", actor, zap.String("feedback_id", item.ID), zap.String("kind", string(kind)))
	return s.feedbackDetail(ctx, actor, item, board)
}

// RemoveFeedbackVote is idempotent: removing an absent vote succeeds.
func (s *Service) RemoveFeedbackVote(ctx context.Context, actor policy.Actor, feedbackID string) (FeedbackDetail, error) {
	if err := requireAuthenticated(actor); err != nil {
		return FeedbackDetail{}, err
	}

	var (
		item  store.Feedback
		board store.Board
	)
	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		item, board, err = s.loadFeedback(ctx, actor, feedbackID)
		if err != nil {
			return err
		}
		if err := s.store.ClearVote(ctx, votes.TargetFeedback, item.ID, actor.ID); err != nil {
			return err
		}
		item, err = s.store.GetFeedback(ctx, item.ID)
		return err
	})
	if err != nil {
		return FeedbackDetail{}, err
	}
	s.audit("feedback vote removed", actor, zap.String("feedback_id", item.ID))
	return s.feedbackDetail(ctx, actor, item, board)
}

func (s *Service) AddTag(ctx context.Context, actor policy.Actor, feedbackID, tag string) (FeedbackDetail, error) {
	return s.changeTag(ctx, actor, feedbackID, tag, true)
}

func (s *Service) RemoveTag(ctx context.Context, actor policy.Actor, feedbackID, tag string) (FeedbackDetail, error) {
	return s.changeTag(ctx, actor, feedbackID, tag, false)
}

func (s *Service) changeTag(ctx context.Context, actor policy.Actor, feedbackID, tag string, add bool) (FeedbackDetail, error) {
	if err := requireAuthenticated(actor); err != nil {
		return FeedbackDetail{}, err
	}
	tag = normalizeTag(tag)
	if tag == "" {
		return FeedbackDetail{}, validationError("Tag is required", map[string]string{"tag": "required"})
	}

	var (
		item  store.Feedback
		board store.Board
	)
	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		item, board, err = s.loadFeedback(ctx, actor, feedbackID)
		if err != nil {
			return err
		}
		if !policy.CanEditFeedback(actor, board, item) {
			return forbidden("You cannot edit this feedback")
		}
		if add {
			err = s.store.AddTag(ctx, item.ID, tag)
		} else {
			err = s.store.RemoveTag(ctx, item.ID, tag)
		}
		if err != nil {
			return err
		}
		item, err = s.store.GetFeedback(ctx, item.ID)
		return err
	})
	if err != nil {
		return FeedbackDetail{}, err
	}
	s.syncFeedbackIndex(item)
	return s.feedbackDetail(ctx, actor, item, board)
}

// AttachFile uploads the body to object storage and records its metadata.
// The object is removed again if the metadata row cannot be written.
func (s *Service) AttachFile(ctx context.Context, actor policy.Actor, feedbackID, fileName, contentType string, body io.Reader, size int64) (AttachmentView, error) {
	if err := requireAuthenticated(actor); err != nil {
		return AttachmentView{}, err
	}
	if s.files == nil {
		return AttachmentView{}, domainError(http.StatusServiceUnavailable, "ATTACHMENTS_UNAVAILABLE", "File storage is not configured", nil)
	}
	if limit := s.files.MaxBytes(); limit > 0 && size > limit {
		return AttachmentView{}, domainError(http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "File exceeds the upload limit", map[string]int64{"maxBytes": limit})
	}

	item, board, err := s.loadFeedback(ctx, actor, feedbackID)
	if err != nil {
		return AttachmentView{}, err
	}
	if !policy.CanEditFeedback(actor, board, item) {
		return AttachmentView{}, forbidden("You cannot attach files to this feedback")
	}

	key, err := s.files.Put(ctx, item.ID, fileName, contentType, body, size)
	if errors.Is(err, attachments.ErrTooLarge) {
		return AttachmentView{}, domainError(http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "File exceeds the upload limit", nil)
	}
	if err != nil {
		return AttachmentView{}, err
	}

	record := store.Attachment{
		ID:          util.NewID(),
		FeedbackID:  item.ID,
		ObjectKey:   key,
		FileName:    attachments.SanitizeFilename(fileName),
		ContentType: contentType,
		SizeBytes:   size,
		UploadedBy:  &actor.ID,
		CreatedAt:   s.now(),
	}
	if err := s.store.InsertAttachment(ctx, record); err != nil {
		if removeErr := s.files.Remove(ctx, key); removeErr != nil {
			s.log.Warn("remove orphaned attachment", zap.String("key", key), zap.Error(removeErr))
		}
		return AttachmentView{}, err
	}

	s.audit("attachment added", actor, zap.String("feedback_id", item.ID), zap.String("attachment_id", record.ID), zap.Int64("size_bytes", size))
	return s.attachmentView(ctx, record), nil
}

func (s *Service) ListAttachments(ctx context.Context, actor policy.Actor, feedbackID string) ([]AttachmentView, error) {
	item, _, err := s.loadFeedback(ctx, actor, feedbackID)
	if err != nil {
		return nil, err
	}
	records, err := s.store.ListAttachments(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	views := make([]AttachmentView, 0, len(records))
	for _, record := range records {
		views = append(views, s.attachmentView(ctx, record))
	}
	return views, nil
}

func (s *Service) attachmentView(ctx context.Context, record store.Attachment) AttachmentView {
	view := AttachmentView{Attachment: record}
	if s.files == nil {
		return view
	}
	url, err := s.files.PresignedURL(ctx, record.ObjectKey, record.FileName, attachmentURLValid)
	if err != nil {
		s.log.Warn("presign attachment", zap.String("attachment_id", record.ID), zap.Error(err))
		return view
	}
	view.URL = url
	return view
}

// Search scopes the query to boards the actor can read. Admins search
// everything.
func (s *Service) Search(ctx context.Context, actor policy.Actor, text, resultType, status string, limit, offset int) (search.Response, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return search.Response{}, validationError("Search text is required", map[string]string{"q": "required"})
	}
	filterType := search.ResultType(resultType)
	if filterType != "" && filterType != search.ResultFeedback && filterType != search.ResultComment {
		return search.Response{}, validationError("Unknown result type", map[string]string{"type": "oneof"})
	}

	query := search.Query{
		Text:       text,
		FilterType: filterType,
		Status:     status,
		All:        actor.IsAdmin(),
		Limit:      limit,
		Offset:     offset,
	}
	if !query.All {
		boardIDs, err := s.store.AccessibleBoardIDs(ctx, actor.ID, false)
		if err != nil {
			return search.Response{}, err
		}
		query.BoardIDs = boardIDs
	}
	return s.search.Search(ctx, query), nil
}

func (s *Service) lockFeedback(ctx context.Context, actor policy.Actor, feedbackID string) (store.Feedback, store.Board, error) {
	if !util.ValidID(feedbackID) {
		return store.Feedback{}, store.Board{}, notFound("Feedback")
	}
	if _, err := s.store.LockFeedback(ctx, feedbackID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Feedback{}, store.Board{}, notFound("Feedback")
		}
		return store.Feedback{}, store.Board{}, err
	}
	return s.loadFeedback(ctx, actor, feedbackID)
}

func (s *Service) feedbackDetail(ctx context.Context, actor policy.Actor, item store.Feedback, board store.Board) (FeedbackDetail, error) {
	ballot, err := s.store.GetBallot(ctx, votes.TargetFeedback, item.ID)
	if err != nil {
		return FeedbackDetail{}, err
	}
	// Counts come from the ballot just read so they agree with the voter lists.
	tally := ballot.Tally()
	item.Upvotes, item.Downvotes = tally.Up, tally.Down
	upvoters := ballot.Voters(votes.Upvote)
	downvoters := ballot.Voters(votes.Downvote)
	sort.Strings(upvoters)
	sort.Strings(downvoters)

	return FeedbackDetail{
		Feedback:    item,
		MyVote:      ballot[actor.ID],
		Upvoters:    upvoters,
		Downvoters:  downvoters,
		CanEdit:     policy.CanEditFeedback(actor, board, item),
		CanVote:     policy.CanVoteFeedback(actor, board, item),
		CanModerate: policy.CanChangeStatus(actor, board),
	}, nil
}

// syncFeedbackIndex keeps the search index to active, approved items.
func (s *Service) syncFeedbackIndex(item store.Feedback) {
	if !item.IsActive || item.Status == store.StatusDraft {
		s.search.DeleteFeedback(item.ID)
		return
	}
	s.search.IndexFeedback(search.FeedbackRecord{
		ID:          item.ID,
		Title:       item.Title,
		Description: item.Description,
		BoardID:     item.BoardID,
		Status:      item.Status,
		Category:    item.Category,
		Priority:    item.Priority,
		Tags:        item.Tags,
	})
}

func normalizeTag(tag string) string {
	tag = strings.ToLower(util.PlainText(tag))
	if runes := []rune(tag); len(runes) > maxTagLength {
		tag = string(runes[:maxTagLength])
	}
	return strings.TrimSpace(tag)
}
