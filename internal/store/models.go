package store

import (
	"strings"
	"time"
)

const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
)

const (
	MembershipMember    = "member"
	MembershipModerator = "moderator"
)

const (
	StatusDraft       = "draft"
	StatusPending     = "pending"
	StatusUnderReview = "under_review"
	StatusPlanned     = "planned"
	StatusInProgress  = "in_progress"
	StatusCompleted   = "completed"
	StatusDeclined    = "declined"
	StatusDuplicate   = "duplicate"
)

var FeedbackStatuses = []string{
	StatusDraft, StatusPending, StatusUnderReview, StatusPlanned,
	StatusInProgress, StatusCompleted, StatusDeclined, StatusDuplicate,
}

var FeedbackPriorities = []string{"low", "medium", "high", "critical"}

var FeedbackCategories = []string{"feature", "bug", "improvement", "question", "other"}

const (
	DefaultPriority = "medium"
	DefaultCategory = "feature"
)

const (
	InvitationPending  = "pending"
	InvitationAccepted = "accepted"
	InvitationDeclined = "declined"
	InvitationExpired  = "expired"
)

type User struct {
	ID           string
	Email        string
	Username     string
	FirstName    string
	LastName     string
	PasswordHash string
	Role         string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DisplayName is the full name, falling back to the username.
func (u User) DisplayName() string {
	full := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if full != "" {
		return full
	}
	return u.Username
}

// UserRef is the slice of a user joined onto authored rows.
type UserRef struct {
	ID    string
	Name  string
	Email string
}

type Board struct {
	ID                     string
	Name                   string
	Description            string
	Slug                   string
	Visibility             string
	OwnerID                string
	OwnerName              string
	ModeratorIDs           []string
	MemberIDs              []string
	AllowAnonymousFeedback bool
	RequireApproval        bool
	AllowComments          bool
	AllowVoting            bool
	IsActive               bool
	FeedbackCount          int
	TotalVotes             int
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

func (b Board) HasModerator(userID string) bool {
	return containsID(b.ModeratorIDs, userID)
}

func (b Board) HasMember(userID string) bool {
	return containsID(b.MemberIDs, userID)
}

type BoardFilter struct {
	ViewerID      string
	ViewerIsAdmin bool
	Visibility    string
	IsActive      *bool
	OwnerID       string
	Search        string
	Ordering      string
	Limit         int
	Offset        int
}

type Feedback struct {
	ID             string
	Title          string
	Description    string
	Status         string
	Priority       string
	Category       string
	BoardID        string
	AuthorID       *string
	Author         *UserRef
	AssignedToID   *string
	AnonymousName  string
	AnonymousEmail string
	IsActive       bool
	Upvotes        int
	Downvotes      int
	CommentCount   int
	Tags           []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AuthorName resolves the linked account name, then the anonymous name,
// then the literal "Anonymous".
func (f Feedback) AuthorName() string {
	return authorName(f.Author, f.AnonymousName)
}

func (f Feedback) AuthorEmail() string {
	if f.Author != nil {
		return f.Author.Email
	}
	return f.AnonymousEmail
}

func (f Feedback) IsAuthor(userID string) bool {
	return userID != "" && f.AuthorID != nil && *f.AuthorID == userID
}

type FeedbackFilter struct {
	ViewerID      string
	ViewerIsAdmin bool
	BoardID       string
	Status        string
	Priority      string
	Category      string
	AssignedToID  string
	Search        string
	Ordering      string
	Limit         int
	Offset        int
}

type StatusHistory struct {
	ID          int64
	FeedbackID  string
	OldStatus   *string
	NewStatus   string
	ChangedByID *string
	ChangedBy   string
	Notes       string
	ChangedAt   time.Time
}

type Comment struct {
	ID             string
	Content        string
	FeedbackID     string
	AuthorID       *string
	Author         *UserRef
	ParentID       *string
	AnonymousName  string
	AnonymousEmail string
	IsActive       bool
	Upvotes        int
	Downvotes      int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (c Comment) AuthorName() string {
	return authorName(c.Author, c.AnonymousName)
}

func (c Comment) AuthorEmail() string {
	if c.Author != nil {
		return c.Author.Email
	}
	return c.AnonymousEmail
}

func (c Comment) IsAuthor(userID string) bool {
	return userID != "" && c.AuthorID != nil && *c.AuthorID == userID
}

func (c Comment) IsReply() bool {
	return c.ParentID != nil
}

type Attachment struct {
	ID          string
	FeedbackID  string
	ObjectKey   string
	FileName    string
	ContentType string
	SizeBytes   int64
	UploadedBy  *string
	CreatedAt   time.Time
}

type Invitation struct {
	ID            string
	BoardID       string
	BoardName     string
	Email         string
	InvitedByID   string
	InvitedUserID *string
	Role          string
	Status        string
	Message       string
	ExpiresAt     time.Time
	RespondedAt   *time.Time
	CreatedAt     time.Time
}

// Expired is computed at read time; the stored status may still be pending.
func (i Invitation) Expired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}

// Respondable holds only for a pending invitation that has not expired.
func (i Invitation) Respondable(now time.Time) bool {
	return i.Status == InvitationPending && !i.Expired(now)
}

func authorName(author *UserRef, anonymousName string) string {
	if author != nil {
		return author.Name
	}
	if strings.TrimSpace(anonymousName) != "" {
		return anonymousName
	}
	return "Anonymous"
}

func containsID(ids []string, id string) bool {
	if id == "" {
		return false
	}
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
