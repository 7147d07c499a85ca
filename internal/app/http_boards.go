package app

import (
	"context"
	"net/http"
	"strings"

	"feedbackhub/api/internal/policy"
	"feedbackhub/api/internal/store"

	"github.com/go-chi/chi/v5"
)

func (s *HTTPServer) handleListBoards(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	isActive, err := queryBool(r, "isActive")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	limit, offset, err := pagination(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	boards, err := s.service.ListBoards(r.Context(), actorFrom(r), BoardListInput{
		Visibility: strings.TrimSpace(query.Get("visibility")),
		IsActive:   isActive,
		OwnerID:    strings.TrimSpace(query.Get("owner")),
		Search:     strings.TrimSpace(query.Get("search")),
		Ordering:   strings.TrimSpace(query.Get("ordering")),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"boards": boardsPayload(boards)})
}

func (s *HTTPServer) handleCreateBoard(w http.ResponseWriter, r *http.Request) {
	var body BoardInput
	if err := s.bind(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	board, err := s.service.CreateBoard(r.Context(), actorFrom(r), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"board": boardPayload(board)})
}

func (s *HTTPServer) handleGetBoard(w http.ResponseWriter, r *http.Request) {
	board, err := s.service.GetBoard(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"board": boardPayload(board)})
}

func (s *HTTPServer) handleUpdateBoard(partial bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body BoardInput
		if err := s.bind(r, &body); err != nil {
			s.fail(w, r, err)
			return
		}
		board, err := s.service.UpdateBoard(r.Context(), actorFrom(r), chi.URLParam(r, "id"), body, partial)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"board": boardPayload(board)})
	}
}

func (s *HTTPServer) handleDeleteBoard(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteBoard(r.Context(), actorFrom(r), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type membershipFunc func(ctx context.Context, actor policy.Actor, boardID, userID string) (store.Board, error)

func (s *HTTPServer) handleMembership(change membershipFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			UserID string `json:"userId" validate:"required"`
		}
		if err := s.bind(r, &body); err != nil {
			s.fail(w, r, err)
			return
		}
		board, err := change(r.Context(), actorFrom(r), chi.URLParam(r, "id"), body.UserID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"board": boardPayload(board)})
	}
}

func (s *HTTPServer) handleListBoardInvitations(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListBoardInvitations(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invitations": invitationsPayload(items)})
}

func (s *HTTPServer) handleCreateInvitation(w http.ResponseWriter, r *http.Request) {
	var body InvitationInput
	if err := s.bind(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	invitation, err := s.service.CreateInvitation(r.Context(), actorFrom(r), chi.URLParam(r, "id"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"invitation": invitationPayload(invitation)})
}

func (s *HTTPServer) handleListMyInvitations(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListMyInvitations(r.Context(), actorFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invitations": invitationsPayload(items)})
}

type invitationResponseFunc func(ctx context.Context, actor policy.Actor, invitationID string) (InvitationView, error)

func (s *HTTPServer) handleRespondInvitation(respond invitationResponseFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		invitation, err := respond(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"invitation": invitationPayload(invitation)})
	}
}

func (s *HTTPServer) handleExpireInvitations(w http.ResponseWriter, r *http.Request) {
	count, err := s.service.ExpireInvitations(r.Context(), actorFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"expired": count})
}
