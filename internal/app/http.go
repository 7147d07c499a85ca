package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"feedbackhub/api/internal/auth"
	"feedbackhub/api/internal/policy"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	log        *zap.Logger
	validate   *validator.Validate
}

func NewHTTPServer(service *Service, corsOrigin string, log *zap.Logger) *HTTPServer {
	if log == nil {
		log = zap.NewNop()
	}
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &HTTPServer{service: service, corsOrigin: corsOrigin, log: log.Named("http"), validate: validate}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withMiddleware)
	r.Use(middleware.StripSlashes)
	r.Use(middleware.Recoverer)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/ready", s.handleReady)
		r.Get("/session", s.handleSession)

		r.Group(func(r chi.Router) {
			r.Use(s.withActor)

			r.Post("/auth/register", s.handleRegister)
			r.Post("/auth/signin", s.handleSignIn)
			r.Post("/auth/refresh", s.handleRefresh)
			r.Post("/auth/logout", s.handleLogout)
			r.Post("/auth/change-password", s.handleChangePassword)
			r.Get("/me", s.handleMe)

			r.Get("/users", s.handleListUsers)
			r.Put("/users/{id}/role", s.handleUserRole)

			r.Get("/boards", s.handleListBoards)
			r.Post("/boards", s.handleCreateBoard)
			r.Get("/boards/{id}", s.handleGetBoard)
			r.Put("/boards/{id}", s.handleUpdateBoard(false))
			r.Patch("/boards/{id}", s.handleUpdateBoard(true))
			r.Delete("/boards/{id}", s.handleDeleteBoard)
			r.Post("/boards/{id}/add-member", s.handleMembership(s.service.AddBoardMember))
			r.Post("/boards/{id}/remove-member", s.handleMembership(s.service.RemoveBoardMember))
			r.Post("/boards/{id}/add-moderator", s.handleMembership(s.service.AddBoardModerator))
			r.Post("/boards/{id}/remove-moderator", s.handleMembership(s.service.RemoveBoardModerator))
			r.Get("/boards/{id}/invitations", s.handleListBoardInvitations)
			r.Post("/boards/{id}/invitations", s.handleCreateInvitation)

			r.Get("/feedback", s.handleListFeedback)
			r.Post("/feedback", s.handleCreateFeedback)
			r.Get("/feedback/{id}", s.handleGetFeedback)
			r.Put("/feedback/{id}", s.handleUpdateFeedback(false))
			r.Patch("/feedback/{id}", s.handleUpdateFeedback(true))
			r.Delete("/feedback/{id}", s.handleDeleteFeedback)
			r.Post("/feedback/{id}/vote", s.handleVoteFeedback)
			r.Post("/feedback/{id}/remove-vote", s.handleRemoveFeedbackVote)
			r.Post("/feedback/{id}/set-status", s.handleSetStatus)
			r.Post("/feedback/{id}/add-tag", s.handleTag(s.service.AddTag))
			r.Post("/feedback/{id}/remove-tag", s.handleTag(s.service.RemoveTag))
			r.Post("/feedback/{id}/attach-file", s.handleAttachFile)
			r.Get("/feedback/{id}/history", s.handleStatusHistory)
			r.Get("/feedback/{id}/attachments", s.handleListAttachments)

			r.Get("/comments", s.handleListComments)
			r.Post("/comments", s.handleCreateComment)
			r.Get("/comments/{id}", s.handleGetComment)
			r.Put("/comments/{id}", s.handleUpdateComment(false))
			r.Patch("/comments/{id}", s.handleUpdateComment(true))
			r.Delete("/comments/{id}", s.handleDeleteComment)
			r.Post("/comments/{id}/vote", s.handleVoteComment)
			r.Post("/comments/{id}/remove-vote", s.handleRemoveCommentVote)
			r.Post("/comments/{id}/moderate", s.handleModerateComment)

			r.Get("/invitations", s.handleListMyInvitations)
			r.Post("/invitations/expire", s.handleExpireInvitations)
			r.Post("/invitations/{id}/accept", s.handleRespondInvitation(s.service.AcceptInvitation))
			r.Post("/invitations/{id}/decline", s.handleRespondInvitation(s.service.DeclineInvitation))

			r.Get("/search", s.handleSearch)
		})
	})
	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

// handleSession never fails: a missing or bad token reads as signed out.
func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
		return
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"userName":      session.UserName,
		"userId":        session.UserID,
		"email":         session.Email,
		"role":          session.Role,
	})
}

func (s *HTTPServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body RegisterInput
	if err := s.bind(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	user, err := s.service.Register(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": userPayload(user)})
}

func (s *HTTPServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email" validate:"required"`
		Password string `json:"password" validate:"required"`
	}
	if err := s.bind(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	session, err := s.service.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken" validate:"required"`
	}
	if err := s.bind(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	session, err := s.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	_ = decodeBody(r, &body)
	if err := s.service.Logout(r.Context(), body.RefreshToken); err != nil {
		s.log.Warn("logout", zap.String("request_id", requestID(r.Context())), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OldPassword string `json:"oldPassword" validate:"required"`
		NewPassword string `json:"newPassword" validate:"required,max=128"`
	}
	if err := s.bind(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.service.ChangePassword(r.Context(), actorFrom(r), body.OldPassword, body.NewPassword); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.service.Me(r.Context(), actorFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": userPayload(user)})
}

func (s *HTTPServer) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.service.ListUsers(r.Context(), actorFrom(r), r.URL.Query().Get("role"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": usersPayload(users)})
}

func (s *HTTPServer) handleUserRole(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Role string `json:"role" validate:"required,oneof=admin moderator contributor"`
	}
	if err := s.bind(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	user, err := s.service.UpdateUserRole(r.Context(), actorFrom(r), chi.URLParam(r, "id"), body.Role)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": userPayload(user)})
}

type actorKey struct{}

// withActor resolves the bearer token, when present, into the request's
// actor. Requests without a token run as the anonymous actor; a bad token is
// rejected.
func (s *HTTPServer) withActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := policy.Anonymous()
		if token := bearerToken(r); token != "" {
			session, err := s.service.SessionFromToken(r.Context(), token)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			actor = session.Actor()
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

func actorFrom(r *http.Request) policy.Actor {
	if actor, ok := r.Context().Value(actorKey{}).(policy.Actor); ok {
		return actor
	}
	return policy.Anonymous()
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		s.log.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", time.Since(started).Milliseconds()),
		)
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

// fail writes err as a JSON error. Server errors are logged with the request
// id because the client only sees a generic message.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

// bind decodes the JSON body into target and runs its validate tags. Field
// failures come back as 422 with the failing tag per JSON field name.
func (s *HTTPServer) bind(r *http.Request, target any) error {
	if err := decodeBody(r, target); err != nil {
		return invalidBody(err.Error())
	}
	if err := s.validate.Struct(target); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			details := make(map[string]string, len(fieldErrs))
			for _, fieldErr := range fieldErrs {
				details[fieldErr.Field()] = fieldErr.Tag()
			}
			return validationError("Validation failed", details)
		}
		return invalidBody(err.Error())
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// queryInt reads an integer query parameter, returning fallback when absent.
func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0, validationError(name+" must be an integer", map[string]string{name: "int"})
	}
	return parsed, nil
}

func queryBool(r *http.Request, name string) (*bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, validationError(name+" must be a boolean", map[string]string{name: "bool"})
	}
	return &parsed, nil
}

func pagination(r *http.Request) (limit, offset int, err error) {
	if limit, err = queryInt(r, "limit", 0); err != nil {
		return 0, 0, err
	}
	if offset, err = queryInt(r, "offset", 0); err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
