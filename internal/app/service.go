package app

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"strings"
	"time"

	"feedbackhub/api/internal/attachments"
	"feedbackhub/api/internal/authpw"
	"feedbackhub/api/internal/config"
	"feedbackhub/api/internal/policy"
	"feedbackhub/api/internal/search"
	"feedbackhub/api/internal/store"
	"feedbackhub/api/internal/util"
	"feedbackhub/api/internal/votes"

	"go.uber.org/zap"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

// Actor is the principal the session's requests run as.
func (s Session) Actor() policy.Actor {
	return policy.FromUser(store.User{ID: s.UserID, Email: s.Email, Role: s.Role})
}

type dataStore interface {
	RunInTx(context.Context, func(context.Context) error) error
	Ping(context.Context) error

	InsertUser(context.Context, store.User) error
	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	ListUsers(context.Context, string) ([]store.User, error)
	UpdateUserRole(context.Context, string, string) error
	UpdateUserPassword(context.Context, string, string) error

	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (string, error)
	RevokeRefreshSession(context.Context, string) error

	InsertBoard(context.Context, store.Board) error
	BoardSlugExists(context.Context, string) (bool, error)
	GetBoard(context.Context, string) (store.Board, error)
	ListBoards(context.Context, store.BoardFilter) ([]store.Board, error)
	UpdateBoard(context.Context, store.Board) error
	DeleteBoard(context.Context, string) error
	AddBoardMembership(context.Context, string, string, string) error
	RemoveBoardMembership(context.Context, string, string, string) error
	AccessibleBoardIDs(context.Context, string, bool) ([]string, error)

	InsertFeedback(context.Context, store.Feedback) error
	GetFeedback(context.Context, string) (store.Feedback, error)
	LockFeedback(context.Context, string) (store.Feedback, error)
	ListFeedback(context.Context, store.FeedbackFilter) ([]store.Feedback, int, error)
	UpdateFeedback(context.Context, store.Feedback) error
	DeleteFeedback(context.Context, string) error
	AddTag(context.Context, string, string) error
	RemoveTag(context.Context, string, string) error

	CastVote(context.Context, votes.Target, string, string, votes.Kind) error
	ClearVote(context.Context, votes.Target, string, string) error
	GetBallot(context.Context, votes.Target, string) (votes.Ballot, error)

	InsertAttachment(context.Context, store.Attachment) error
	ListAttachments(context.Context, string) ([]store.Attachment, error)

	InsertComment(context.Context, store.Comment) error
	GetComment(context.Context, string) (store.Comment, error)
	ListComments(context.Context, string) ([]store.Comment, error)
	UpdateComment(context.Context, store.Comment) error
	DeleteComments(context.Context, []string) (int64, error)

	InsertStatusHistory(context.Context, store.StatusHistory) (store.StatusHistory, error)
	ListStatusHistory(context.Context, string) ([]store.StatusHistory, error)

	InsertInvitation(context.Context, store.Invitation) error
	GetInvitation(context.Context, string) (store.Invitation, error)
	LockInvitation(context.Context, string) (store.Invitation, error)
	ListBoardInvitations(context.Context, string) ([]store.Invitation, error)
	ListInvitationsFor(context.Context, string, string) ([]store.Invitation, error)
	UpdateInvitationStatus(context.Context, string, string, *time.Time) error
	ExpirePendingInvitations(context.Context, time.Time) (int64, error)
}

// sessionStore keeps refresh tokens. Redis and Postgres both implement it.
type sessionStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (string, error)
	RevokeRefreshSession(context.Context, string) error
}

// userSessionRevoker is implemented by session stores that index tokens per user.
type userSessionRevoker interface {
	RevokeUserSessions(context.Context, string) error
}

type searchIndex interface {
	Search(context.Context, search.Query) search.Response
	IndexFeedback(search.FeedbackRecord)
	DeleteFeedback(string)
	IndexComment(search.CommentRecord)
	DeleteComments(...string)
}

type fileStore interface {
	MaxBytes() int64
	Put(ctx context.Context, feedbackID, fileName, contentType string, body io.Reader, size int64) (string, error)
	PresignedURL(ctx context.Context, key, fileName string, expiry time.Duration) (string, error)
	Remove(ctx context.Context, key string) error
}

type Service struct {
	cfg       config.Config
	store     dataStore
	passwords *authpw.Service
	sessions  sessionStore
	search    searchIndex
	files     fileStore
	log       *zap.Logger
	now       func() time.Time
}

// New wires the service. sessions falls back to the Postgres store and files
// may be nil when object storage is not configured.
func New(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore, index *search.Service, files *attachments.Store, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	svc := &Service{
		cfg:       cfg,
		store:     dataStore,
		passwords: authpw.NewService(dataStore),
		sessions:  sessions,
		search:    index,
		log:       log.Named("service"),
		now:       time.Now,
	}
	if sessions == nil {
		svc.sessions = dataStore
	}
	if index == nil {
		svc.search = search.NewService(nil, nil, log)
	}
	if files != nil {
		svc.files = files
	}
	return svc
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// audit logs a state change that operators may need to reconstruct later.
func (s *Service) audit(event string, actor policy.Actor, fields ...zap.Field) {
	fields = append(fields, zap.Bool("audit", true), zap.String("actor_id", actor.ID))
	s.log.Info(event, fields...)
}

// Malformed ids are reported as not found without a query.
func (s *Service) loadBoard(ctx context.Context, boardID string) (store.Board, error) {
	if !util.ValidID(boardID) {
		return store.Board{}, notFound("Board")
	}
	board, err := s.store.GetBoard(ctx, boardID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Board{}, notFound("Board")
	}
	return board, err
}

func (s *Service) loadUser(ctx context.Context, userID string) (store.User, error) {
	if !util.ValidID(userID) {
		return store.User{}, notFound("User")
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, notFound("User")
	}
	return user, err
}

// loadFeedback returns the item with its board, hiding items the actor may
// not see behind a 404.
func (s *Service) loadFeedback(ctx context.Context, actor policy.Actor, feedbackID string) (store.Feedback, store.Board, error) {
	if !util.ValidID(feedbackID) {
		return store.Feedback{}, store.Board{}, notFound("Feedback")
	}
	item, err := s.store.GetFeedback(ctx, feedbackID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Feedback{}, store.Board{}, notFound("Feedback")
	}
	if err != nil {
		return store.Feedback{}, store.Board{}, err
	}
	board, err := s.loadBoard(ctx, item.BoardID)
	if err != nil {
		return store.Feedback{}, store.Board{}, err
	}
	if !policy.CanViewFeedback(actor, board, item) {
		return store.Feedback{}, store.Board{}, notFound("Feedback")
	}
	return item, board, nil
}

func (s *Service) loadComment(ctx context.Context, actor policy.Actor, commentID string) (store.Comment, store.Feedback, store.Board, error) {
	if !util.ValidID(commentID) {
		return store.Comment{}, store.Feedback{}, store.Board{}, notFound("Comment")
	}
	comment, err := s.store.GetComment(ctx, commentID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Comment{}, store.Feedback{}, store.Board{}, notFound("Comment")
	}
	if err != nil {
		return store.Comment{}, store.Feedback{}, store.Board{}, err
	}
	item, board, err := s.loadFeedback(ctx, actor, comment.FeedbackID)
	if err != nil {
		var domainErr *DomainError
		if errors.As(err, &domainErr) && domainErr.Code == "NOT_FOUND" {
			return store.Comment{}, store.Feedback{}, store.Board{}, notFound("Comment")
		}
		return store.Comment{}, store.Feedback{}, store.Board{}, err
	}
	if !comment.IsActive && !comment.IsAuthor(actor.ID) && !policy.CanModerateComment(actor, board) {
		return store.Comment{}, store.Feedback{}, store.Board{}, notFound("Comment")
	}
	return comment, item, board, nil
}

func requireAuthenticated(actor policy.Actor) error {
	if !actor.Authenticated {
		return unauthorized("Authentication required")
	}
	return nil
}

func oneOf(value string, allowed []string) bool {
	for _, candidate := range allowed {
		if value == candidate {
			return true
		}
	}
	return false
}

func stringPtr(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
