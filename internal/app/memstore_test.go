package app

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"testing"
	"time"

	"feedbackhub/api/internal/authpw"
	"feedbackhub/api/internal/config"
	"feedbackhub/api/internal/policy"
	"feedbackhub/api/internal/rbac"
	"feedbackhub/api/internal/search"
	"feedbackhub/api/internal/store"
	"feedbackhub/api/internal/util"
	"feedbackhub/api/internal/votes"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

type memRefresh struct {
	userID    string
	expiresAt time.Time
	revoked   bool
}

// memStore is an in-memory dataStore. It derives the same aggregates the
// Postgres queries compute: vote counts, comment counts, board totals.
type memStore struct {
	users       map[string]store.User
	refresh     map[string]memRefresh
	boards      map[string]store.Board
	boardOrder  []string
	memberships map[string]map[string]map[string]bool

	feedback      map[string]store.Feedback
	feedbackOrder []string
	tags          map[string]map[string]bool
	ballots       map[votes.Target]map[string]votes.Ballot
	attachments   []store.Attachment

	comments     map[string]store.Comment
	commentOrder []string

	history    []store.StatusHistory
	historySeq int64

	invitations     map[string]store.Invitation
	invitationOrder []string

	pingErr error
	clock   time.Time
}

func newMemStore() *memStore {
	return &memStore{
		users:       map[string]store.User{},
		refresh:     map[string]memRefresh{},
		boards:      map[string]store.Board{},
		memberships: map[string]map[string]map[string]bool{},
		feedback:    map[string]store.Feedback{},
		tags:        map[string]map[string]bool{},
		ballots: map[votes.Target]map[string]votes.Ballot{
			votes.TargetFeedback: {},
			votes.TargetComment:  {},
		},
		comments:    map[string]store.Comment{},
		invitations: map[string]store.Invitation{},
		clock:       time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

// tick gives every write a distinct, increasing timestamp.
func (m *memStore) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *memStore) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func (m *memStore) Ping(context.Context) error { return m.pingErr }

// Users

func (m *memStore) InsertUser(_ context.Context, user store.User) error {
	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return &pgconn.PgError{Code: "23505"}
		}
	}
	user.CreatedAt = m.tick()
	user.UpdatedAt = user.CreatedAt
	m.users[user.ID] = user
	return nil
}

func (m *memStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	user, ok := m.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (m *memStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	for _, user := range m.users {
		if strings.EqualFold(user.Email, strings.TrimSpace(email)) {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (m *memStore) ListUsers(_ context.Context, role string) ([]store.User, error) {
	out := make([]store.User, 0)
	for _, user := range m.users {
		if role == "" || user.Role == role {
			out = append(out, user)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (m *memStore) UpdateUserRole(_ context.Context, userID, role string) error {
	user, ok := m.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	user.Role = role
	m.users[userID] = user
	return nil
}

func (m *memStore) UpdateUserPassword(_ context.Context, userID, passwordHash string) error {
	user, ok := m.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	user.PasswordHash = passwordHash
	m.users[userID] = user
	return nil
}

func (m *memStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, expiresAt time.Time) error {
	m.refresh[tokenHash] = memRefresh{userID: userID, expiresAt: expiresAt}
	return nil
}

func (m *memStore) LookupRefreshSession(_ context.Context, tokenHash string) (string, error) {
	record, ok := m.refresh[tokenHash]
	if !ok || record.revoked || time.Now().After(record.expiresAt) {
		return "", sql.ErrNoRows
	}
	return record.userID, nil
}

func (m *memStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	if record, ok := m.refresh[tokenHash]; ok {
		record.revoked = true
		m.refresh[tokenHash] = record
	}
	return nil
}

// Boards

func (m *memStore) InsertBoard(_ context.Context, board store.Board) error {
	for _, existing := range m.boards {
		if existing.Slug == board.Slug {
			return &pgconn.PgError{Code: "23505"}
		}
	}
	board.CreatedAt = m.tick()
	board.UpdatedAt = board.CreatedAt
	m.boards[board.ID] = board
	m.boardOrder = append(m.boardOrder, board.ID)
	return nil
}

func (m *memStore) BoardSlugExists(_ context.Context, slug string) (bool, error) {
	for _, board := range m.boards {
		if board.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) GetBoard(_ context.Context, boardID string) (store.Board, error) {
	board, ok := m.boards[boardID]
	if !ok {
		return store.Board{}, sql.ErrNoRows
	}
	return m.decorateBoard(board), nil
}

func (m *memStore) decorateBoard(board store.Board) store.Board {
	board.ModeratorIDs = m.roleMembers(board.ID, store.MembershipModerator)
	board.MemberIDs = m.roleMembers(board.ID, store.MembershipMember)
	if owner, ok := m.users[board.OwnerID]; ok {
		board.OwnerName = owner.DisplayName()
	}
	board.FeedbackCount, board.TotalVotes = 0, 0
	for _, id := range m.feedbackOrder {
		item := m.feedback[id]
		if item.BoardID != board.ID || !item.IsActive {
			continue
		}
		board.FeedbackCount++
		board.TotalVotes += m.ballot(votes.TargetFeedback, id).Tally().Net()
	}
	return board
}

func (m *memStore) roleMembers(boardID, role string) []string {
	ids := make([]string, 0)
	for userID := range m.memberships[boardID][role] {
		ids = append(ids, userID)
	}
	sort.Strings(ids)
	return ids
}

func (m *memStore) ListBoards(ctx context.Context, filter store.BoardFilter) ([]store.Board, error) {
	out := make([]store.Board, 0)
	for _, id := range m.boardOrder {
		board, _ := m.GetBoard(ctx, id)
		if filter.Visibility != "" && board.Visibility != filter.Visibility {
			continue
		}
		if filter.IsActive != nil && board.IsActive != *filter.IsActive {
			continue
		}
		if filter.OwnerID != "" && board.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(board.Name+" "+board.Description+" "+board.Slug), strings.ToLower(filter.Search)) {
			continue
		}
		out = append(out, board)
	}
	return out, nil
}

func (m *memStore) UpdateBoard(_ context.Context, board store.Board) error {
	existing, ok := m.boards[board.ID]
	if !ok {
		return sql.ErrNoRows
	}
	board.CreatedAt = existing.CreatedAt
	board.UpdatedAt = m.tick()
	m.boards[board.ID] = board
	return nil
}

func (m *memStore) DeleteBoard(ctx context.Context, boardID string) error {
	if _, ok := m.boards[boardID]; !ok {
		return sql.ErrNoRows
	}
	for _, id := range append([]string(nil), m.feedbackOrder...) {
		if m.feedback[id].BoardID == boardID {
			_ = m.DeleteFeedback(ctx, id)
		}
	}
	delete(m.boards, boardID)
	delete(m.memberships, boardID)
	return nil
}

func (m *memStore) AddBoardMembership(_ context.Context, boardID, userID, role string) error {
	if m.memberships[boardID] == nil {
		m.memberships[boardID] = map[string]map[string]bool{}
	}
	if m.memberships[boardID][role] == nil {
		m.memberships[boardID][role] = map[string]bool{}
	}
	m.memberships[boardID][role][userID] = true
	return nil
}

func (m *memStore) RemoveBoardMembership(_ context.Context, boardID, userID, role string) error {
	delete(m.memberships[boardID][role], userID)
	return nil
}

func (m *memStore) AccessibleBoardIDs(ctx context.Context, viewerID string, viewerIsAdmin bool) ([]string, error) {
	ids := make([]string, 0)
	for _, id := range m.boardOrder {
		board, _ := m.GetBoard(ctx, id)
		if !board.IsActive {
			continue
		}
		if viewerIsAdmin || board.Visibility == store.VisibilityPublic || board.OwnerID == viewerID ||
			board.HasMember(viewerID) || board.HasModerator(viewerID) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Feedback

func (m *memStore) InsertFeedback(_ context.Context, item store.Feedback) error {
	item.CreatedAt = m.tick()
	item.UpdatedAt = item.CreatedAt
	m.feedback[item.ID] = item
	m.feedbackOrder = append(m.feedbackOrder, item.ID)
	return nil
}

func (m *memStore) GetFeedback(_ context.Context, feedbackID string) (store.Feedback, error) {
	item, ok := m.feedback[feedbackID]
	if !ok {
		return store.Feedback{}, sql.ErrNoRows
	}
	tally := m.ballot(votes.TargetFeedback, item.ID).Tally()
	item.Upvotes, item.Downvotes = tally.Up, tally.Down
	item.CommentCount = 0
	for _, comment := range m.comments {
		if comment.FeedbackID == item.ID && comment.IsActive {
			item.CommentCount++
		}
	}
	item.Tags = make([]string, 0)
	for tag := range m.tags[item.ID] {
		item.Tags = append(item.Tags, tag)
	}
	sort.Strings(item.Tags)
	if item.AuthorID != nil {
		if author, ok := m.users[*item.AuthorID]; ok {
			item.Author = &store.UserRef{ID: author.ID, Name: author.DisplayName(), Email: author.Email}
		}
	}
	return item, nil
}

func (m *memStore) LockFeedback(ctx context.Context, feedbackID string) (store.Feedback, error) {
	return m.GetFeedback(ctx, feedbackID)
}

func (m *memStore) ListFeedback(ctx context.Context, filter store.FeedbackFilter) ([]store.Feedback, int, error) {
	viewer := policy.Anonymous()
	if user, ok := m.users[filter.ViewerID]; ok {
		viewer = policy.FromUser(user)
	}
	out := make([]store.Feedback, 0)
	for _, id := range m.feedbackOrder {
		item, _ := m.GetFeedback(ctx, id)
		board, _ := m.GetBoard(ctx, item.BoardID)
		if !filter.ViewerIsAdmin && !policy.CanViewFeedback(viewer, board, item) {
			continue
		}
		if (filter.BoardID != "" && item.BoardID != filter.BoardID) ||
			(filter.Status != "" && item.Status != filter.Status) ||
			(filter.Priority != "" && item.Priority != filter.Priority) ||
			(filter.Category != "" && item.Category != filter.Category) ||
			(filter.AssignedToID != "" && derefString(item.AssignedToID) != filter.AssignedToID) {
			continue
		}
		out = append(out, item)
	}
	return out, len(out), nil
}

func (m *memStore) UpdateFeedback(_ context.Context, item store.Feedback) error {
	existing, ok := m.feedback[item.ID]
	if !ok {
		return sql.ErrNoRows
	}
	existing.Title = item.Title
	existing.Description = item.Description
	existing.Status = item.Status
	existing.Priority = item.Priority
	existing.Category = item.Category
	existing.AssignedToID = item.AssignedToID
	existing.AnonymousName = item.AnonymousName
	existing.AnonymousEmail = item.AnonymousEmail
	existing.IsActive = item.IsActive
	existing.UpdatedAt = m.tick()
	m.feedback[item.ID] = existing
	return nil
}

func (m *memStore) DeleteFeedback(ctx context.Context, feedbackID string) error {
	if _, ok := m.feedback[feedbackID]; !ok {
		return sql.ErrNoRows
	}
	var commentIDs []string
	for id, comment := range m.comments {
		if comment.FeedbackID == feedbackID {
			commentIDs = append(commentIDs, id)
		}
	}
	_, _ = m.DeleteComments(ctx, commentIDs)

	kept := m.history[:0]
	for _, entry := range m.history {
		if entry.FeedbackID != feedbackID {
			kept = append(kept, entry)
		}
	}
	m.history = kept

	attachments := m.attachments[:0]
	for _, attachment := range m.attachments {
		if attachment.FeedbackID != feedbackID {
			attachments = append(attachments, attachment)
		}
	}
	m.attachments = attachments

	delete(m.feedback, feedbackID)
	delete(m.tags, feedbackID)
	delete(m.ballots[votes.TargetFeedback], feedbackID)
	m.feedbackOrder = removeID(m.feedbackOrder, feedbackID)
	return nil
}

func (m *memStore) AddTag(_ context.Context, feedbackID, tag string) error {
	if m.tags[feedbackID] == nil {
		m.tags[feedbackID] = map[string]bool{}
	}
	m.tags[feedbackID][tag] = true
	return nil
}

func (m *memStore) RemoveTag(_ context.Context, feedbackID, tag string) error {
	delete(m.tags[feedbackID], tag)
	return nil
}

// Votes

func (m *memStore) ballot(target votes.Target, entityID string) votes.Ballot {
	ballot, ok := m.ballots[target][entityID]
	if !ok {
		ballot = votes.Ballot{}
		m.ballots[target][entityID] = ballot
	}
	return ballot
}

func (m *memStore) CastVote(_ context.Context, target votes.Target, entityID, userID string, kind votes.Kind) error {
	m.ballot(target, entityID)[userID] = kind
	return nil
}

func (m *memStore) ClearVote(_ context.Context, target votes.Target, entityID, userID string) error {
	delete(m.ballot(target, entityID), userID)
	return nil
}

func (m *memStore) GetBallot(_ context.Context, target votes.Target, entityID string) (votes.Ballot, error) {
	out := votes.Ballot{}
	for userID, kind := range m.ballot(target, entityID) {
		out[userID] = kind
	}
	return out, nil
}

// Attachments

func (m *memStore) InsertAttachment(_ context.Context, item store.Attachment) error {
	m.attachments = append(m.attachments, item)
	return nil
}

func (m *memStore) ListAttachments(_ context.Context, feedbackID string) ([]store.Attachment, error) {
	out := make([]store.Attachment, 0)
	for _, item := range m.attachments {
		if item.FeedbackID == feedbackID {
			out = append(out, item)
		}
	}
	return out, nil
}

// Comments

func (m *memStore) InsertComment(_ context.Context, item store.Comment) error {
	item.CreatedAt = m.tick()
	item.UpdatedAt = item.CreatedAt
	m.comments[item.ID] = item
	m.commentOrder = append(m.commentOrder, item.ID)
	return nil
}

func (m *memStore) GetComment(_ context.Context, commentID string) (store.Comment, error) {
	item, ok := m.comments[commentID]
	if !ok {
		return store.Comment{}, sql.ErrNoRows
	}
	tally := m.ballot(votes.TargetComment, item.ID).Tally()
	item.Upvotes, item.Downvotes = tally.Up, tally.Down
	return item, nil
}

func (m *memStore) ListComments(ctx context.Context, feedbackID string) ([]store.Comment, error) {
	out := make([]store.Comment, 0)
	for _, id := range m.commentOrder {
		if m.comments[id].FeedbackID == feedbackID {
			item, _ := m.GetComment(ctx, id)
			out = append(out, item)
		}
	}
	return out, nil
}

func (m *memStore) UpdateComment(_ context.Context, item store.Comment) error {
	existing, ok := m.comments[item.ID]
	if !ok {
		return sql.ErrNoRows
	}
	existing.Content = item.Content
	existing.IsActive = item.IsActive
	existing.UpdatedAt = m.tick()
	m.comments[item.ID] = existing
	return nil
}

// DeleteComments follows the parent cascade like the foreign key does.
func (m *memStore) DeleteComments(_ context.Context, ids []string) (int64, error) {
	pending := append([]string(nil), ids...)
	var removed int64
	for len(pending) > 0 {
		id := pending[0]
		pending = pending[1:]
		if _, ok := m.comments[id]; !ok {
			continue
		}
		delete(m.comments, id)
		delete(m.ballots[votes.TargetComment], id)
		m.commentOrder = removeID(m.commentOrder, id)
		removed++
		for childID, child := range m.comments {
			if child.ParentID != nil && *child.ParentID == id {
				pending = append(pending, childID)
			}
		}
	}
	return removed, nil
}

// Status history

func (m *memStore) InsertStatusHistory(_ context.Context, entry store.StatusHistory) (store.StatusHistory, error) {
	m.historySeq++
	entry.ID = m.historySeq
	entry.ChangedAt = m.tick()
	if entry.ChangedByID != nil {
		if user, ok := m.users[*entry.ChangedByID]; ok {
			entry.ChangedBy = user.DisplayName()
		}
	}
	m.history = append(m.history, entry)
	return entry, nil
}

func (m *memStore) ListStatusHistory(_ context.Context, feedbackID string) ([]store.StatusHistory, error) {
	out := make([]store.StatusHistory, 0)
	for i := len(m.history) - 1; i >= 0; i-- {
		if m.history[i].FeedbackID == feedbackID {
			out = append(out, m.history[i])
		}
	}
	return out, nil
}

// Invitations

func (m *memStore) InsertInvitation(_ context.Context, item store.Invitation) error {
	item.Email = strings.ToLower(item.Email)
	m.invitations[item.ID] = item
	m.invitationOrder = append(m.invitationOrder, item.ID)
	return nil
}

func (m *memStore) GetInvitation(_ context.Context, invitationID string) (store.Invitation, error) {
	item, ok := m.invitations[invitationID]
	if !ok {
		return store.Invitation{}, sql.ErrNoRows
	}
	if board, ok := m.boards[item.BoardID]; ok {
		item.BoardName = board.Name
	}
	return item, nil
}

func (m *memStore) LockInvitation(ctx context.Context, invitationID string) (store.Invitation, error) {
	return m.GetInvitation(ctx, invitationID)
}

func (m *memStore) ListBoardInvitations(ctx context.Context, boardID string) ([]store.Invitation, error) {
	out := make([]store.Invitation, 0)
	for _, id := range m.invitationOrder {
		if m.invitations[id].BoardID == boardID {
			item, _ := m.GetInvitation(ctx, id)
			out = append(out, item)
		}
	}
	return out, nil
}

func (m *memStore) ListInvitationsFor(ctx context.Context, userID, email string) ([]store.Invitation, error) {
	out := make([]store.Invitation, 0)
	for _, id := range m.invitationOrder {
		item, _ := m.GetInvitation(ctx, id)
		if (item.InvitedUserID != nil && *item.InvitedUserID == userID) || strings.EqualFold(item.Email, email) {
			out = append(out, item)
		}
	}
	return out, nil
}

func (m *memStore) UpdateInvitationStatus(_ context.Context, invitationID, status string, respondedAt *time.Time) error {
	item, ok := m.invitations[invitationID]
	if !ok {
		return sql.ErrNoRows
	}
	item.Status = status
	item.RespondedAt = respondedAt
	m.invitations[invitationID] = item
	return nil
}

func (m *memStore) ExpirePendingInvitations(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for id, item := range m.invitations {
		if item.Status == store.InvitationPending && item.ExpiresAt.Before(now) {
			item.Status = store.InvitationExpired
			m.invitations[id] = item
			n++
		}
	}
	return n, nil
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, candidate := range ids {
		if candidate != id {
			out = append(out, candidate)
		}
	}
	return out
}

// recordingIndex captures search index writes.
type recordingIndex struct {
	indexedFeedback []string
	deletedFeedback []string
	indexedComments []string
	deletedComments []string
}

func (r *recordingIndex) Search(_ context.Context, q search.Query) search.Response {
	return search.Response{Results: []search.Result{}, Query: q.Text}
}
func (r *recordingIndex) IndexFeedback(record search.FeedbackRecord) {
	r.indexedFeedback = append(r.indexedFeedback, record.ID)
}
func (r *recordingIndex) DeleteFeedback(id string) { r.deletedFeedback = append(r.deletedFeedback, id) }
func (r *recordingIndex) IndexComment(record search.CommentRecord) {
	r.indexedComments = append(r.indexedComments, record.ID)
}
func (r *recordingIndex) DeleteComments(ids ...string) {
	r.deletedComments = append(r.deletedComments, ids...)
}

func newTestService(st *memStore) *Service {
	return &Service{
		cfg: config.Config{
			JWTSecret:  "test-secret",
			AccessTTL:  time.Hour,
			RefreshTTL: 24 * time.Hour,
			InviteTTL:  7 * 24 * time.Hour,
		},
		store:     st,
		passwords: authpw.NewService(st),
		sessions:  st,
		search:    &recordingIndex{},
		log:       zap.NewNop(),
		now:       time.Now,
	}
}

// seedUser inserts an active account and returns its actor.
func seedUser(t *testing.T, st *memStore, username string, role rbac.Role) policy.Actor {
	t.Helper()
	user := store.User{
		ID:       util.NewID(),
		Email:    username + "@example.com",
		Username: username,
		Role:     string(role),
		IsActive: true,
	}
	if err := st.InsertUser(context.Background(), user); err != nil {
		t.Fatalf("seed user %s: %v", username, err)
	}
	return policy.FromUser(user)
}

func seedBoard(t *testing.T, svc *Service, owner policy.Actor, input BoardInput) store.Board {
	t.Helper()
	board, err := svc.CreateBoard(context.Background(), owner, input)
	if err != nil {
		t.Fatalf("create board: %v", err)
	}
	return board
}

func seedFeedback(t *testing.T, svc *Service, author policy.Actor, boardID, title string) FeedbackDetail {
	t.Helper()
	detail, err := svc.CreateFeedback(context.Background(), author, FeedbackInput{
		BoardID:     &boardID,
		Title:       &title,
		Description: strPtr("Details for " + title),
	})
	if err != nil {
		t.Fatalf("create feedback: %v", err)
	}
	return detail
}

func strPtr(value string) *string { return &value }

func boolPtr(value bool) *bool { return &value }
