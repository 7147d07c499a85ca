package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"feedbackhub/api/internal/votes"
)

// openTestStore applies migrations against FEEDBACK_TEST_DATABASE_URL and
// seeds one user, board and feedback item.
func openTestStore(t *testing.T) (*PostgresStore, User, Board, Feedback) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := strings.TrimSpace(os.Getenv("FEEDBACK_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("FEEDBACK_TEST_DATABASE_URL is not set")
	}

	ctx := context.Background()
	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	s := NewPostgresStore(db)
	suffix := uuid.NewString()[:8]
	user := User{ID: uuid.NewString(), Email: "it-" + suffix + "@example.com", Username: "it-" + suffix, Role: "contributor", IsActive: true}
	if err := s.InsertUser(ctx, user); err != nil {
		t.Fatalf("insert user: %v", err)
	}
	board := Board{ID: uuid.NewString(), Name: "IT " + suffix, Slug: "it-" + suffix, Visibility: VisibilityPublic,
		OwnerID: user.ID, AllowComments: true, AllowVoting: true, IsActive: true}
	if err := s.InsertBoard(ctx, board); err != nil {
		t.Fatalf("insert board: %v", err)
	}
	item := Feedback{ID: uuid.NewString(), Title: "Dark mode", Description: "please", Status: StatusPending,
		Priority: DefaultPriority, Category: DefaultCategory, BoardID: board.ID, AuthorID: &user.ID, IsActive: true}
	if err := s.InsertFeedback(ctx, item); err != nil {
		t.Fatalf("insert feedback: %v", err)
	}
	t.Cleanup(func() {
		_ = s.DeleteBoard(context.Background(), board.ID)
		_, _ = db.ExecContext(context.Background(), `DELETE FROM users WHERE id::text=$1`, user.ID)
	})
	return s, user, board, item
}

func TestStatusHistoryBlocksUpdateButFollowsCascade(t *testing.T) {
	s, user, _, item := openTestStore(t)
	ctx := context.Background()

	old := StatusPending
	entry, err := s.InsertStatusHistory(ctx, StatusHistory{FeedbackID: item.ID, OldStatus: &old, NewStatus: StatusCompleted, ChangedByID: &user.ID})
	if err != nil {
		t.Fatalf("insert history: %v", err)
	}

	_, err = s.DB().ExecContext(ctx, `UPDATE feedback_status_history SET notes='edited' WHERE id=$1`, entry.ID)
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.SQLState() != "55000" {
		t.Fatalf("expected SQLSTATE 55000 on update, got %v", err)
	}

	_, err = s.DB().ExecContext(ctx, `DELETE FROM feedback_status_history WHERE id=$1`, entry.ID)
	if !errors.As(err, &pgErr) || pgErr.SQLState() != "55000" {
		t.Fatalf("expected SQLSTATE 55000 on direct delete, got %v", err)
	}

	if err := s.DeleteFeedback(ctx, item.ID); err != nil {
		t.Fatalf("cascade delete feedback: %v", err)
	}
	history, err := s.ListStatusHistory(ctx, item.ID)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected history removed with feedback, got %d rows", len(history))
	}
}

func TestDeletingUserNullsStatusHistoryActor(t *testing.T) {
	s, _, _, item := openTestStore(t)
	ctx := context.Background()

	suffix := uuid.NewString()[:8]
	moderator := User{ID: uuid.NewString(), Email: "mod-" + suffix + "@example.com", Username: "mod-" + suffix, Role: "moderator", IsActive: true}
	if err := s.InsertUser(ctx, moderator); err != nil {
		t.Fatalf("insert moderator: %v", err)
	}
	old := StatusPending
	entry, err := s.InsertStatusHistory(ctx, StatusHistory{FeedbackID: item.ID, OldStatus: &old, NewStatus: StatusPlanned, ChangedByID: &moderator.ID, Notes: "planned"})
	if err != nil {
		t.Fatalf("insert history: %v", err)
	}

	// Clearing the actor by hand is still an immutable-row update.
	_, err = s.DB().ExecContext(ctx, `UPDATE feedback_status_history SET changed_by=NULL WHERE id=$1`, entry.ID)
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.SQLState() != "55000" {
		t.Fatalf("expected SQLSTATE 55000 on direct update, got %v", err)
	}

	if _, err := s.DB().ExecContext(ctx, `DELETE FROM users WHERE id::text=$1`, moderator.ID); err != nil {
		t.Fatalf("delete user with status history: %v", err)
	}
	history, err := s.ListStatusHistory(ctx, item.ID)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected the history row to survive, got %d rows", len(history))
	}
	got := history[0]
	if got.ChangedByID != nil || got.NewStatus != StatusPlanned || got.Notes != "planned" || got.OldStatus == nil || *got.OldStatus != StatusPending {
		t.Fatalf("expected only changed_by cleared, got %+v", got)
	}
}

func TestDeleteBoardCascadesToFeedback(t *testing.T) {
	s, user, board, item := openTestStore(t)
	ctx := context.Background()

	old := StatusPending
	if _, err := s.InsertStatusHistory(ctx, StatusHistory{FeedbackID: item.ID, OldStatus: &old, NewStatus: StatusPlanned, ChangedByID: &user.ID}); err != nil {
		t.Fatalf("insert history: %v", err)
	}
	if err := s.DeleteBoard(ctx, board.ID); err != nil {
		t.Fatalf("delete board: %v", err)
	}
	if _, err := s.GetFeedback(ctx, item.ID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected feedback removed with its board, got %v", err)
	}
	history, err := s.ListStatusHistory(ctx, item.ID)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected history removed with the board, got %d rows", len(history))
	}
}

func TestVoteUpsertKeepsOneKindPerUser(t *testing.T) {
	s, user, _, item := openTestStore(t)
	ctx := context.Background()

	if err := s.CastVote(ctx, votes.TargetFeedback, item.ID, user.ID, votes.Upvote); err != nil {
		t.Fatalf("upvote: %v", err)
	}
	if err := s.CastVote(ctx, votes.TargetFeedback, item.ID, user.ID, votes.Downvote); err != nil {
		t.Fatalf("downvote: %v", err)
	}
	got, err := s.GetFeedback(ctx, item.ID)
	if err != nil {
		t.Fatalf("get feedback: %v", err)
	}
	if got.Upvotes != 0 || got.Downvotes != 1 {
		t.Fatalf("expected 0 up / 1 down, got %d / %d", got.Upvotes, got.Downvotes)
	}

	for i := 0; i < 2; i++ {
		if err := s.ClearVote(ctx, votes.TargetFeedback, item.ID, user.ID); err != nil {
			t.Fatalf("clear vote: %v", err)
		}
	}
	ballot, err := s.GetBallot(ctx, votes.TargetFeedback, item.ID)
	if err != nil {
		t.Fatalf("ballot: %v", err)
	}
	if len(ballot) != 0 {
		t.Fatalf("expected empty ballot, got %v", ballot)
	}
}

func TestRunInTxRollsBackOnError(t *testing.T) {
	s, _, _, item := openTestStore(t)
	ctx := context.Background()

	sentinel := errors.New("abort")
	err := s.RunInTx(ctx, func(ctx context.Context) error {
		locked, err := s.LockFeedback(ctx, item.ID)
		if err != nil {
			return err
		}
		locked.Status = StatusPlanned
		if err := s.UpdateFeedback(ctx, locked); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	got, err := s.GetFeedback(ctx, item.ID)
	if err != nil {
		t.Fatalf("get feedback: %v", err)
	}
	if got.Status != StatusPending {
		t.Fatalf("expected rollback to keep pending, got %s", got.Status)
	}
}

func TestDeleteCommentsRemovesReplies(t *testing.T) {
	s, user, _, item := openTestStore(t)
	ctx := context.Background()

	parent := Comment{ID: uuid.NewString(), Content: "parent", FeedbackID: item.ID, AuthorID: &user.ID, IsActive: true}
	reply := Comment{ID: uuid.NewString(), Content: "reply", FeedbackID: item.ID, AuthorID: &user.ID, ParentID: &parent.ID, IsActive: true}
	for _, c := range []Comment{parent, reply} {
		if err := s.InsertComment(ctx, c); err != nil {
			t.Fatalf("insert comment: %v", err)
		}
	}
	if _, err := s.DeleteComments(ctx, []string{parent.ID}); err != nil {
		t.Fatalf("delete comments: %v", err)
	}
	remaining, err := s.ListComments(ctx, item.ID)
	if err != nil {
		t.Fatalf("list comments: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected reply cascaded, got %d comments", len(remaining))
	}
}

func TestExpirePendingInvitations(t *testing.T) {
	s, user, board, _ := openTestStore(t)
	ctx := context.Background()

	inv := Invitation{ID: uuid.NewString(), BoardID: board.ID, Email: "late@example.com", InvitedByID: user.ID,
		Role: MembershipMember, Status: InvitationPending, ExpiresAt: time.Now().Add(-time.Hour)}
	if err := s.InsertInvitation(ctx, inv); err != nil {
		t.Fatalf("insert invitation: %v", err)
	}
	if _, err := s.ExpirePendingInvitations(ctx, time.Now()); err != nil {
		t.Fatalf("expire: %v", err)
	}
	got, err := s.GetInvitation(ctx, inv.ID)
	if err != nil {
		t.Fatalf("get invitation: %v", err)
	}
	if got.Status != InvitationExpired {
		t.Fatalf("expected expired, got %s", got.Status)
	}
}
