package app

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"feedbackhub/api/internal/policy"
	"feedbackhub/api/internal/store"

	"github.com/go-chi/chi/v5"
)

// multipartOverhead is allowed on top of the file limit for form framing.
const multipartOverhead = 1 << 20

func (s *HTTPServer) handleListFeedback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, offset, err := pagination(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	items, total, err := s.service.ListFeedback(r.Context(), actorFrom(r), FeedbackListInput{
		BoardID:      strings.TrimSpace(query.Get("board")),
		Status:       strings.TrimSpace(query.Get("status")),
		Priority:     strings.TrimSpace(query.Get("priority")),
		Category:     strings.TrimSpace(query.Get("category")),
		AssignedToID: strings.TrimSpace(query.Get("assignedTo")),
		Search:       strings.TrimSpace(query.Get("search")),
		Ordering:     strings.TrimSpace(query.Get("ordering")),
		Limit:        limit,
		Offset:       offset,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"feedback": feedbackListPayload(items), "total": total})
}

func (s *HTTPServer) handleCreateFeedback(w http.ResponseWriter, r *http.Request) {
	var body FeedbackInput
	if err := s.bind(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	detail, err := s.service.CreateFeedback(r.Context(), actorFrom(r), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"feedback": feedbackPayload(detail)})
}

func (s *HTTPServer) handleGetFeedback(w http.ResponseWriter, r *http.Request) {
	detail, err := s.service.GetFeedback(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"feedback": feedbackPayload(detail)})
}

func (s *HTTPServer) handleUpdateFeedback(partial bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body FeedbackInput
		if err := s.bind(r, &body); err != nil {
			s.fail(w, r, err)
			return
		}
		detail, entry, err := s.service.UpdateFeedback(r.Context(), actorFrom(r), chi.URLParam(r, "id"), body, partial)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, statusChangePayload(detail, entry))
	}
}

func (s *HTTPServer) handleDeleteFeedback(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteFeedback(r.Context(), actorFrom(r), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type voteBody struct {
	VoteType string `json:"voteType" validate:"required,oneof=upvote downvote"`
}

func (s *HTTPServer) handleVoteFeedback(w http.ResponseWriter, r *http.Request) {
	var body voteBody
	if err := s.bind(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	detail, err := s.service.VoteFeedback(r.Context(), actorFrom(r), chi.URLParam(r, "id"), body.VoteType)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"feedback": feedbackPayload(detail)})
}

func (s *HTTPServer) handleRemoveFeedbackVote(w http.ResponseWriter, r *http.Request) {
	detail, err := s.service.RemoveFeedbackVote(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"feedback": feedbackPayload(detail)})
}

func (s *HTTPServer) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status" validate:"required"`
		Notes  string `json:"notes" validate:"max=2000"`
	}
	if err := s.bind(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	detail, entry, err := s.service.SetFeedbackStatus(r.Context(), actorFrom(r), chi.URLParam(r, "id"), body.Status, body.Notes)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusChangePayload(detail, entry))
}

type tagFunc func(ctx context.Context, actor policy.Actor, feedbackID, tag string) (FeedbackDetail, error)

func (s *HTTPServer) handleTag(change tagFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Tag string `json:"tag" validate:"required,max=50"`
		}
		if err := s.bind(r, &body); err != nil {
			s.fail(w, r, err)
			return
		}
		detail, err := change(r.Context(), actorFrom(r), chi.URLParam(r, "id"), body.Tag)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"feedback": feedbackPayload(detail)})
	}
}

// handleAttachFile takes a multipart form with the upload in the "file" field.
func (s *HTTPServer) handleAttachFile(w http.ResponseWriter, r *http.Request) {
	if limit := s.service.cfg.AttachmentMaxBytes; limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "File exceeds the upload limit", nil)
			return
		}
		s.fail(w, r, invalidBody("Expected a multipart form"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.fail(w, r, validationError("file is required", map[string]string{"file": "required"}))
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	view, err := s.service.AttachFile(r.Context(), actorFrom(r), chi.URLParam(r, "id"), header.Filename, contentType, file, header.Size)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"attachment": attachmentPayload(view)})
}

func (s *HTTPServer) handleListAttachments(w http.ResponseWriter, r *http.Request) {
	views, err := s.service.ListAttachments(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attachments": attachmentsPayload(views)})
}

func (s *HTTPServer) handleStatusHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.service.ListStatusHistory(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": statusHistoryListPayload(entries)})
}

func (s *HTTPServer) handleListComments(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	nested, err := queryBool(r, "nested")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	views, err := s.service.ListComments(r.Context(), actorFrom(r), CommentListInput{
		FeedbackID: strings.TrimSpace(query.Get("feedback")),
		ParentID:   strings.TrimSpace(query.Get("parent")),
		Nested:     nested != nil && *nested,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"comments": commentsPayload(views)})
}

func (s *HTTPServer) handleCreateComment(w http.ResponseWriter, r *http.Request) {
	var body CommentInput
	if err := s.bind(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	view, err := s.service.CreateComment(r.Context(), actorFrom(r), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"comment": commentPayload(view)})
}

func (s *HTTPServer) handleGetComment(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.GetComment(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"comment": commentPayload(view)})
}

func (s *HTTPServer) handleUpdateComment(partial bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body CommentInput
		if err := s.bind(r, &body); err != nil {
			s.fail(w, r, err)
			return
		}
		view, err := s.service.UpdateComment(r.Context(), actorFrom(r), chi.URLParam(r, "id"), body, partial)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"comment": commentPayload(view)})
	}
}

func (s *HTTPServer) handleDeleteComment(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteComment(r.Context(), actorFrom(r), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleVoteComment(w http.ResponseWriter, r *http.Request) {
	var body voteBody
	if err := s.bind(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	view, err := s.service.VoteComment(r.Context(), actorFrom(r), chi.URLParam(r, "id"), body.VoteType)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"comment": commentPayload(view)})
}

func (s *HTTPServer) handleRemoveCommentVote(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.RemoveCommentVote(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"comment": commentPayload(view)})
}

func (s *HTTPServer) handleModerateComment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IsActive *bool `json:"isActive" validate:"required"`
	}
	if err := s.bind(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	view, err := s.service.ModerateComment(r.Context(), actorFrom(r), chi.URLParam(r, "id"), *body.IsActive)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"comment": commentPayload(view)})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, offset, err := pagination(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	response, err := s.service.Search(r.Context(), actorFrom(r),
		query.Get("q"),
		strings.TrimSpace(query.Get("type")),
		strings.TrimSpace(query.Get("status")),
		limit, offset,
	)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func statusChangePayload(detail FeedbackDetail, entry *store.StatusHistory) map[string]any {
	payload := map[string]any{"feedback": feedbackPayload(detail), "history": nil}
	if entry != nil {
		payload["history"] = statusHistoryPayload(*entry)
	}
	return payload
}
