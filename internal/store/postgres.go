package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"feedbackhub/api/internal/votes"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

// conn returns the transaction bound by RunInTx, or the pool.
func (s *PostgresStore) conn(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// RunInTx runs fn with a transaction bound to its context. Nested calls join
// the outer transaction.
func (s *PostgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// IsUniqueViolation reports a Postgres 23505 anywhere in the chain.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

type rowScanner interface {
	Scan(dest ...any) error
}

func requireAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func decodeIDs(raw []byte) []string {
	ids := make([]string, 0)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &ids)
	}
	return ids
}

func encodeIDs(ids []string) string {
	if ids == nil {
		ids = []string{}
	}
	encoded, _ := json.Marshal(ids)
	return string(encoded)
}

// Users

const userColumns = `id, email, username, first_name, last_name, password_hash, role, is_active, created_at, updated_at`

func scanUser(row rowScanner) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Email, &user.Username, &user.FirstName, &user.LastName,
		&user.PasswordHash, &user.Role, &user.IsActive, &user.CreatedAt, &user.UpdatedAt)
	return user, err
}

func (s *PostgresStore) InsertUser(ctx context.Context, user User) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO users (id, email, username, first_name, last_name, password_hash, role, is_active)
		VALUES ($1, LOWER($2), $3, $4, $5, $6, $7, $8)
	`, user.ID, user.Email, user.Username, user.FirstName, user.LastName, user.PasswordHash, user.Role, user.IsActive)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id::text=$1`, userID)
	return scanUser(row)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=LOWER($1)`, strings.TrimSpace(email))
	return scanUser(row)
}

// ListUsers returns every user, or only those holding role when it is set.
func (s *PostgresStore) ListUsers(ctx context.Context, role string) ([]User, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE ($1='' OR role=$1)
		ORDER BY username
	`, role)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateUserRole(ctx context.Context, userID, role string) error {
	result, err := s.conn(ctx).ExecContext(ctx, `UPDATE users SET role=$2, updated_at=NOW() WHERE id::text=$1`, userID, role)
	if err != nil {
		return fmt.Errorf("update user role: %w", err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	result, err := s.conn(ctx).ExecContext(ctx, `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id::text=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update user password: %w", err)
	}
	return requireAffected(result)
}

// Refresh sessions, used when Redis is not configured.

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.conn(ctx).ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT rs.user_id
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
			AND u.is_active
	`, tokenHash).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

// Boards

const boardSelect = `
	SELECT b.id, b.name, b.description, b.slug, b.visibility, b.owner_id,
		o.first_name, o.last_name, o.username,
		b.allow_anonymous_feedback, b.require_approval, b.allow_comments, b.allow_voting, b.is_active,
		(SELECT COALESCE(json_agg(m.user_id ORDER BY m.created_at), '[]'::json)
			FROM board_memberships m WHERE m.board_id = b.id AND m.role = 'moderator'),
		(SELECT COALESCE(json_agg(m.user_id ORDER BY m.created_at), '[]'::json)
			FROM board_memberships m WHERE m.board_id = b.id AND m.role = 'member'),
		(SELECT COUNT(*) FROM feedback f WHERE f.board_id = b.id AND f.is_active),
		(SELECT COALESCE(SUM(CASE WHEN v.kind = 'upvote' THEN 1 ELSE -1 END), 0)
			FROM feedback_votes v JOIN feedback f ON f.id = v.feedback_id
			WHERE f.board_id = b.id AND f.is_active),
		b.created_at, b.updated_at
	FROM boards b
	JOIN users o ON o.id = b.owner_id`

func scanBoard(row rowScanner) (Board, error) {
	var (
		board               Board
		owner               User
		moderators, members []byte
	)
	err := row.Scan(
		&board.ID, &board.Name, &board.Description, &board.Slug, &board.Visibility, &board.OwnerID,
		&owner.FirstName, &owner.LastName, &owner.Username,
		&board.AllowAnonymousFeedback, &board.RequireApproval, &board.AllowComments, &board.AllowVoting, &board.IsActive,
		&moderators, &members,
		&board.FeedbackCount, &board.TotalVotes,
		&board.CreatedAt, &board.UpdatedAt,
	)
	if err != nil {
		return Board{}, err
	}
	board.OwnerName = owner.DisplayName()
	board.ModeratorIDs = decodeIDs(moderators)
	board.MemberIDs = decodeIDs(members)
	return board, nil
}

func (s *PostgresStore) InsertBoard(ctx context.Context, board Board) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO boards (id, name, description, slug, visibility, owner_id,
			allow_anonymous_feedback, require_approval, allow_comments, allow_voting, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, board.ID, board.Name, board.Description, board.Slug, board.Visibility, board.OwnerID,
		board.AllowAnonymousFeedback, board.RequireApproval, board.AllowComments, board.AllowVoting, board.IsActive)
	if err != nil {
		return fmt.Errorf("insert board: %w", err)
	}
	return nil
}

func (s *PostgresStore) BoardSlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := s.conn(ctx).QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM boards WHERE slug=$1)`, slug).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check board slug: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) GetBoard(ctx context.Context, boardID string) (Board, error) {
	return scanBoard(s.conn(ctx).QueryRowContext(ctx, boardSelect+` WHERE b.id::text=$1`, boardID))
}

var boardOrdering = map[string]string{
	"created_at": "b.created_at",
	"updated_at": "b.updated_at",
	"name":       "b.name",
}

// ListBoards pre-filters to boards the viewer could see; callers still apply
// the access predicate per row.
func (s *PostgresStore) ListBoards(ctx context.Context, filter BoardFilter) ([]Board, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if !filter.ViewerIsAdmin {
		viewer := arg(filter.ViewerID)
		where = append(where, `(b.owner_id::text = `+viewer+` OR (b.is_active AND (b.visibility = 'public'
			OR EXISTS(SELECT 1 FROM board_memberships m WHERE m.board_id = b.id AND m.user_id::text = `+viewer+`))))`)
	}
	if filter.Visibility != "" {
		where = append(where, "b.visibility = "+arg(filter.Visibility))
	}
	if filter.IsActive != nil {
		where = append(where, "b.is_active = "+arg(*filter.IsActive))
	}
	if filter.OwnerID != "" {
		where = append(where, "b.owner_id::text = "+arg(filter.OwnerID))
	}
	if q := strings.TrimSpace(filter.Search); q != "" {
		p := arg("%" + q + "%")
		where = append(where, "(b.name ILIKE "+p+" OR b.description ILIKE "+p+" OR b.slug ILIKE "+p+")")
	}

	query := boardSelect
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY " + orderClause(filter.Ordering, boardOrdering, "-created_at")
	query += limitClause(filter.Limit, filter.Offset)

	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	defer rows.Close()

	items := make([]Board, 0)
	for rows.Next() {
		board, err := scanBoard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan board: %w", err)
		}
		items = append(items, board)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate boards: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateBoard(ctx context.Context, board Board) error {
	result, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE boards
		SET name=$2, description=$3, slug=$4, visibility=$5,
			allow_anonymous_feedback=$6, require_approval=$7, allow_comments=$8, allow_voting=$9,
			is_active=$10, updated_at=NOW()
		WHERE id::text=$1
	`, board.ID, board.Name, board.Description, board.Slug, board.Visibility,
		board.AllowAnonymousFeedback, board.RequireApproval, board.AllowComments, board.AllowVoting, board.IsActive)
	if err != nil {
		return fmt.Errorf("update board: %w", err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) DeleteBoard(ctx context.Context, boardID string) error {
	result, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM boards WHERE id::text=$1`, boardID)
	if err != nil {
		return fmt.Errorf("delete board: %w", err)
	}
	return requireAffected(result)
}

// AddBoardMembership is idempotent.
func (s *PostgresStore) AddBoardMembership(ctx context.Context, boardID, userID, role string) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO board_memberships (board_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (board_id, user_id, role) DO NOTHING
	`, boardID, userID, role)
	if err != nil {
		return fmt.Errorf("add board %s: %w", role, err)
	}
	return nil
}

func (s *PostgresStore) RemoveBoardMembership(ctx context.Context, boardID, userID, role string) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		DELETE FROM board_memberships WHERE board_id::text=$1 AND user_id::text=$2 AND role=$3
	`, boardID, userID, role)
	if err != nil {
		return fmt.Errorf("remove board %s: %w", role, err)
	}
	return nil
}

// AccessibleBoardIDs lists active boards the viewer can read, for scoping search.
func (s *PostgresStore) AccessibleBoardIDs(ctx context.Context, viewerID string, viewerIsAdmin bool) ([]string, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT b.id
		FROM boards b
		WHERE b.is_active AND ($2::boolean OR b.visibility = 'public' OR b.owner_id::text = $1
			OR EXISTS(SELECT 1 FROM board_memberships m WHERE m.board_id = b.id AND m.user_id::text = $1))
	`, viewerID, viewerIsAdmin)
	if err != nil {
		return nil, fmt.Errorf("list accessible boards: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan board id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate board ids: %w", err)
	}
	return ids, nil
}

// Feedback

const feedbackSelect = `
	SELECT f.id, f.title, f.description, f.status, f.priority, f.category, f.board_id,
		f.author_id, u.first_name, u.last_name, u.username, u.email,
		f.assigned_to_id, f.anonymous_name, f.anonymous_email, f.is_active,
		vt.up, vt.down,
		(SELECT COUNT(*) FROM comments c WHERE c.feedback_id = f.id AND c.is_active),
		(SELECT COALESCE(json_agg(t.tag ORDER BY t.tag), '[]'::json) FROM feedback_tags t WHERE t.feedback_id = f.id),
		f.created_at, f.updated_at
	FROM feedback f
	JOIN boards b ON b.id = f.board_id
	LEFT JOIN users u ON u.id = f.author_id
	LEFT JOIN LATERAL (
		SELECT COUNT(*) FILTER (WHERE v.kind = 'upvote') AS up,
			COUNT(*) FILTER (WHERE v.kind = 'downvote') AS down
		FROM feedback_votes v WHERE v.feedback_id = f.id
	) vt ON TRUE`

func scanFeedback(row rowScanner) (Feedback, error) {
	var (
		item    Feedback
		author  authorColumns
		tagsRaw []byte
	)
	err := row.Scan(
		&item.ID, &item.Title, &item.Description, &item.Status, &item.Priority, &item.Category, &item.BoardID,
		&item.AuthorID, &author.firstName, &author.lastName, &author.username, &author.email,
		&item.AssignedToID, &item.AnonymousName, &item.AnonymousEmail, &item.IsActive,
		&item.Upvotes, &item.Downvotes, &item.CommentCount, &tagsRaw,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return Feedback{}, err
	}
	item.Author = author.ref(item.AuthorID)
	item.Tags = decodeIDs(tagsRaw)
	return item, nil
}

type authorColumns struct {
	firstName, lastName, username, email sql.NullString
}

func (a authorColumns) ref(authorID *string) *UserRef {
	if authorID == nil {
		return nil
	}
	user := User{FirstName: a.firstName.String, LastName: a.lastName.String, Username: a.username.String}
	return &UserRef{ID: *authorID, Name: user.DisplayName(), Email: a.email.String}
}

func (s *PostgresStore) InsertFeedback(ctx context.Context, item Feedback) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO feedback (id, title, description, status, priority, category, board_id,
			author_id, assigned_to_id, anonymous_name, anonymous_email, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, item.ID, item.Title, item.Description, item.Status, item.Priority, item.Category, item.BoardID,
		item.AuthorID, item.AssignedToID, item.AnonymousName, item.AnonymousEmail, item.IsActive)
	if err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetFeedback(ctx context.Context, feedbackID string) (Feedback, error) {
	return scanFeedback(s.conn(ctx).QueryRowContext(ctx, feedbackSelect+` WHERE f.id::text=$1`, feedbackID))
}

// LockFeedback takes a row lock for the rest of the transaction so concurrent
// status writes serialize.
func (s *PostgresStore) LockFeedback(ctx context.Context, feedbackID string) (Feedback, error) {
	var id string
	if err := s.conn(ctx).QueryRowContext(ctx, `SELECT id FROM feedback WHERE id::text=$1 FOR UPDATE`, feedbackID).Scan(&id); err != nil {
		return Feedback{}, err
	}
	return s.GetFeedback(ctx, id)
}

var feedbackOrdering = map[string]string{
	"created_at": "f.created_at",
	"updated_at": "f.updated_at",
	"vote_count": "(vt.up - vt.down)",
}

func (s *PostgresStore) ListFeedback(ctx context.Context, filter FeedbackFilter) ([]Feedback, int, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if !filter.ViewerIsAdmin {
		viewer := arg(filter.ViewerID)
		moderates := `(b.owner_id::text = ` + viewer + ` OR EXISTS(SELECT 1 FROM board_memberships m
			WHERE m.board_id = b.id AND m.role = 'moderator' AND m.user_id::text = ` + viewer + `))`
		where = append(where,
			`b.is_active AND (b.visibility = 'public' OR `+moderates+` OR EXISTS(SELECT 1 FROM board_memberships m
				WHERE m.board_id = b.id AND m.user_id::text = `+viewer+`))`,
			`((f.is_active AND f.status <> 'draft') OR f.author_id::text = `+viewer+` OR `+moderates+`)`,
		)
	}
	if filter.BoardID != "" {
		where = append(where, "f.board_id::text = "+arg(filter.BoardID))
	}
	if filter.Status != "" {
		where = append(where, "f.status = "+arg(filter.Status))
	}
	if filter.Priority != "" {
		where = append(where, "f.priority = "+arg(filter.Priority))
	}
	if filter.Category != "" {
		where = append(where, "f.category = "+arg(filter.Category))
	}
	if filter.AssignedToID != "" {
		where = append(where, "f.assigned_to_id::text = "+arg(filter.AssignedToID))
	}
	if q := strings.TrimSpace(filter.Search); q != "" {
		p := arg("%" + q + "%")
		where = append(where, "(f.title ILIKE "+p+" OR f.description ILIKE "+p+
			" OR f.anonymous_name ILIKE "+p+" OR f.anonymous_email ILIKE "+p+")")
	}

	whereSQL := ""
	if len(where) > 0 {
		whereSQL = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	countSQL := `SELECT COUNT(*) FROM feedback f JOIN boards b ON b.id = f.board_id` + whereSQL
	if err := s.conn(ctx).QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count feedback: %w", err)
	}

	query := feedbackSelect + whereSQL +
		" ORDER BY " + orderClause(filter.Ordering, feedbackOrdering, "-created_at") +
		limitClause(filter.Limit, filter.Offset)
	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list feedback: %w", err)
	}
	defer rows.Close()

	items := make([]Feedback, 0)
	for rows.Next() {
		item, err := scanFeedback(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan feedback: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate feedback: %w", err)
	}
	return items, total, nil
}

func (s *PostgresStore) UpdateFeedback(ctx context.Context, item Feedback) error {
	result, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE feedback
		SET title=$2, description=$3, status=$4, priority=$5, category=$6,
			assigned_to_id=$7, anonymous_name=$8, anonymous_email=$9, is_active=$10, updated_at=NOW()
		WHERE id::text=$1
	`, item.ID, item.Title, item.Description, item.Status, item.Priority, item.Category,
		item.AssignedToID, item.AnonymousName, item.AnonymousEmail, item.IsActive)
	if err != nil {
		return fmt.Errorf("update feedback: %w", err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) DeleteFeedback(ctx context.Context, feedbackID string) error {
	result, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM feedback WHERE id::text=$1`, feedbackID)
	if err != nil {
		return fmt.Errorf("delete feedback: %w", err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) AddTag(ctx context.Context, feedbackID, tag string) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO feedback_tags (feedback_id, tag) VALUES ($1, $2)
		ON CONFLICT (feedback_id, tag) DO NOTHING
	`, feedbackID, tag)
	if err != nil {
		return fmt.Errorf("add tag: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveTag(ctx context.Context, feedbackID, tag string) error {
	_, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM feedback_tags WHERE feedback_id::text=$1 AND tag=$2`, feedbackID, tag)
	if err != nil {
		return fmt.Errorf("remove tag: %w", err)
	}
	return nil
}

// Votes. Each target has its own join table keyed by (entity, user), so a
// user holds at most one kind per entity.

var voteTables = map[votes.Target]struct{ table, column string }{
	votes.TargetFeedback: {table: "feedback_votes", column: "feedback_id"},
	votes.TargetComment:  {table: "comment_votes", column: "comment_id"},
}

func voteTable(target votes.Target) (string, string, error) {
	t, ok := voteTables[target]
	if !ok {
		return "", "", fmt.Errorf("unknown vote target %q", target)
	}
	return t.table, t.column, nil
}

func (s *PostgresStore) CastVote(ctx context.Context, target votes.Target, entityID, userID string, kind votes.Kind) error {
	table, column, err := voteTable(target)
	if err != nil {
		return err
	}
	_, err = s.conn(ctx).ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (%s, user_id, kind) VALUES ($1, $2, $3)
		ON CONFLICT (%s, user_id) DO UPDATE SET kind=EXCLUDED.kind, created_at=NOW()
	`, table, column, column), entityID, userID, string(kind))
	if err != nil {
		return fmt.Errorf("cast %s vote: %w", target, err)
	}
	return nil
}

func (s *PostgresStore) ClearVote(ctx context.Context, target votes.Target, entityID, userID string) error {
	table, column, err := voteTable(target)
	if err != nil {
		return err
	}
	_, err = s.conn(ctx).ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s::text=$1 AND user_id::text=$2`, table, column), entityID, userID)
	if err != nil {
		return fmt.Errorf("clear %s vote: %w", target, err)
	}
	return nil
}

func (s *PostgresStore) GetBallot(ctx context.Context, target votes.Target, entityID string) (votes.Ballot, error) {
	table, column, err := voteTable(target)
	if err != nil {
		return nil, err
	}
	rows, err := s.conn(ctx).QueryContext(ctx, fmt.Sprintf(`SELECT user_id, kind FROM %s WHERE %s::text=$1`, table, column), entityID)
	if err != nil {
		return nil, fmt.Errorf("load %s ballot: %w", target, err)
	}
	defer rows.Close()

	ballot := votes.Ballot{}
	for rows.Next() {
		var userID, kind string
		if err := rows.Scan(&userID, &kind); err != nil {
			return nil, fmt.Errorf("scan %s vote: %w", target, err)
		}
		ballot[userID] = votes.Kind(kind)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s votes: %w", target, err)
	}
	return ballot, nil
}

// Attachments

func (s *PostgresStore) InsertAttachment(ctx context.Context, item Attachment) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO feedback_attachments (id, feedback_id, object_key, file_name, content_type, size_bytes, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.FeedbackID, item.ObjectKey, item.FileName, item.ContentType, item.SizeBytes, item.UploadedBy)
	if err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAttachments(ctx context.Context, feedbackID string) ([]Attachment, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT id, feedback_id, object_key, file_name, content_type, size_bytes, uploaded_by, created_at
		FROM feedback_attachments
		WHERE feedback_id::text=$1
		ORDER BY created_at
	`, feedbackID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	items := make([]Attachment, 0)
	for rows.Next() {
		var item Attachment
		if err := rows.Scan(&item.ID, &item.FeedbackID, &item.ObjectKey, &item.FileName, &item.ContentType,
			&item.SizeBytes, &item.UploadedBy, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attachments: %w", err)
	}
	return items, nil
}

// Comments

const commentSelect = `
	SELECT c.id, c.content, c.feedback_id,
		c.author_id, u.first_name, u.last_name, u.username, u.email,
		c.parent_id, c.anonymous_name, c.anonymous_email, c.is_active,
		(SELECT COUNT(*) FROM comment_votes v WHERE v.comment_id = c.id AND v.kind = 'upvote'),
		(SELECT COUNT(*) FROM comment_votes v WHERE v.comment_id = c.id AND v.kind = 'downvote'),
		c.created_at, c.updated_at
	FROM comments c
	LEFT JOIN users u ON u.id = c.author_id`

func scanComment(row rowScanner) (Comment, error) {
	var (
		item   Comment
		author authorColumns
	)
	err := row.Scan(
		&item.ID, &item.Content, &item.FeedbackID,
		&item.AuthorID, &author.firstName, &author.lastName, &author.username, &author.email,
		&item.ParentID, &item.AnonymousName, &item.AnonymousEmail, &item.IsActive,
		&item.Upvotes, &item.Downvotes,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return Comment{}, err
	}
	item.Author = author.ref(item.AuthorID)
	return item, nil
}

func (s *PostgresStore) InsertComment(ctx context.Context, item Comment) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO comments (id, content, feedback_id, author_id, parent_id, anonymous_name, anonymous_email, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, item.ID, item.Content, item.FeedbackID, item.AuthorID, item.ParentID, item.AnonymousName, item.AnonymousEmail, item.IsActive)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetComment(ctx context.Context, commentID string) (Comment, error) {
	return scanComment(s.conn(ctx).QueryRowContext(ctx, commentSelect+` WHERE c.id::text=$1`, commentID))
}

// ListComments returns every comment on a feedback item, oldest first.
func (s *PostgresStore) ListComments(ctx context.Context, feedbackID string) ([]Comment, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, commentSelect+` WHERE c.feedback_id::text=$1 ORDER BY c.created_at, c.id`, feedbackID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		item, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateComment(ctx context.Context, item Comment) error {
	result, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE comments SET content=$2, is_active=$3, updated_at=NOW() WHERE id::text=$1
	`, item.ID, item.Content, item.IsActive)
	if err != nil {
		return fmt.Errorf("update comment: %w", err)
	}
	return requireAffected(result)
}

// DeleteComments removes an explicit id set; the parent FK cascade covers any
// reply created after the set was computed.
func (s *PostgresStore) DeleteComments(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result, err := s.conn(ctx).ExecContext(ctx, `
		DELETE FROM comments
		WHERE id::text IN (SELECT jsonb_array_elements_text($1::jsonb))
	`, encodeIDs(ids))
	if err != nil {
		return 0, fmt.Errorf("delete comments: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted comments: %w", err)
	}
	return n, nil
}

// Status history

func (s *PostgresStore) InsertStatusHistory(ctx context.Context, entry StatusHistory) (StatusHistory, error) {
	err := s.conn(ctx).QueryRowContext(ctx, `
		INSERT INTO feedback_status_history (feedback_id, old_status, new_status, changed_by, notes)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, changed_at
	`, entry.FeedbackID, entry.OldStatus, entry.NewStatus, entry.ChangedByID, entry.Notes).Scan(&entry.ID, &entry.ChangedAt)
	if err != nil {
		return StatusHistory{}, fmt.Errorf("insert status history: %w", err)
	}
	return entry, nil
}

func (s *PostgresStore) ListStatusHistory(ctx context.Context, feedbackID string) ([]StatusHistory, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT h.id, h.feedback_id, h.old_status, h.new_status, h.changed_by,
			u.first_name, u.last_name, u.username, h.notes, h.changed_at
		FROM feedback_status_history h
		LEFT JOIN users u ON u.id = h.changed_by
		WHERE h.feedback_id::text=$1
		ORDER BY h.changed_at DESC, h.id DESC
	`, feedbackID)
	if err != nil {
		return nil, fmt.Errorf("list status history: %w", err)
	}
	defer rows.Close()

	items := make([]StatusHistory, 0)
	for rows.Next() {
		var (
			item                          StatusHistory
			firstName, lastName, username sql.NullString
		)
		if err := rows.Scan(&item.ID, &item.FeedbackID, &item.OldStatus, &item.NewStatus, &item.ChangedByID,
			&firstName, &lastName, &username, &item.Notes, &item.ChangedAt); err != nil {
			return nil, fmt.Errorf("scan status history: %w", err)
		}
		if item.ChangedByID != nil {
			item.ChangedBy = User{FirstName: firstName.String, LastName: lastName.String, Username: username.String}.DisplayName()
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status history: %w", err)
	}
	return items, nil
}

// Invitations

const invitationSelect = `
	SELECT i.id, i.board_id, b.name, i.email, i.invited_by, i.invited_user_id, i.role, i.status,
		i.message, i.expires_at, i.responded_at, i.created_at
	FROM board_invitations i
	JOIN boards b ON b.id = i.board_id`

func scanInvitation(row rowScanner) (Invitation, error) {
	var item Invitation
	err := row.Scan(&item.ID, &item.BoardID, &item.BoardName, &item.Email, &item.InvitedByID, &item.InvitedUserID,
		&item.Role, &item.Status, &item.Message, &item.ExpiresAt, &item.RespondedAt, &item.CreatedAt)
	return item, err
}

func (s *PostgresStore) InsertInvitation(ctx context.Context, item Invitation) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO board_invitations (id, board_id, email, invited_by, invited_user_id, role, status, message, expires_at)
		VALUES ($1, $2, LOWER($3), $4, $5, $6, $7, $8, $9)
	`, item.ID, item.BoardID, item.Email, item.InvitedByID, item.InvitedUserID, item.Role, item.Status, item.Message, item.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert invitation: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetInvitation(ctx context.Context, invitationID string) (Invitation, error) {
	return scanInvitation(s.conn(ctx).QueryRowContext(ctx, invitationSelect+` WHERE i.id::text=$1`, invitationID))
}

// LockInvitation serializes concurrent accept/decline on one invitation.
func (s *PostgresStore) LockInvitation(ctx context.Context, invitationID string) (Invitation, error) {
	return scanInvitation(s.conn(ctx).QueryRowContext(ctx, invitationSelect+` WHERE i.id::text=$1 FOR UPDATE OF i`, invitationID))
}

func (s *PostgresStore) ListBoardInvitations(ctx context.Context, boardID string) ([]Invitation, error) {
	return s.listInvitations(ctx, invitationSelect+` WHERE i.board_id::text=$1 ORDER BY i.created_at DESC`, boardID)
}

// ListInvitationsFor matches the resolved user or the invited address.
func (s *PostgresStore) ListInvitationsFor(ctx context.Context, userID, email string) ([]Invitation, error) {
	return s.listInvitations(ctx, invitationSelect+`
		WHERE i.invited_user_id::text=$1 OR LOWER(i.email)=LOWER($2)
		ORDER BY i.created_at DESC`, userID, email)
}

func (s *PostgresStore) listInvitations(ctx context.Context, query string, args ...any) ([]Invitation, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	defer rows.Close()

	items := make([]Invitation, 0)
	for rows.Next() {
		item, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invitation: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invitations: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateInvitationStatus(ctx context.Context, invitationID, status string, respondedAt *time.Time) error {
	result, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE board_invitations SET status=$2, responded_at=$3 WHERE id::text=$1
	`, invitationID, status, respondedAt)
	if err != nil {
		return fmt.Errorf("update invitation: %w", err)
	}
	return requireAffected(result)
}

// ExpirePendingInvitations persists the expired state for pending invitations
// past their deadline and returns how many changed.
func (s *PostgresStore) ExpirePendingInvitations(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE board_invitations SET status='expired' WHERE status='pending' AND expires_at < $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("expire invitations: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count expired invitations: %w", err)
	}
	return n, nil
}

// orderClause maps "field" or "-field" through allowed, falling back to def.
func orderClause(ordering string, allowed map[string]string, def string) string {
	build := func(value string) (string, bool) {
		desc := strings.HasPrefix(value, "-")
		column, ok := allowed[strings.TrimPrefix(value, "-")]
		if !ok {
			return "", false
		}
		if desc {
			return column + " DESC", true
		}
		return column + " ASC", true
	}
	if clause, ok := build(strings.TrimSpace(ordering)); ok {
		return clause
	}
	clause, _ := build(def)
	return clause
}

func limitClause(limit, offset int) string {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
}
