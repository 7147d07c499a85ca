// Package policy holds the pure permission predicates for boards, feedback,
// comments and invitations. Every function reads only its arguments, so the
// service can evaluate them inside a transaction without extra queries.
package policy

import (
	"strings"

	"feedbackhub/api/internal/rbac"
	"feedbackhub/api/internal/store"
)

// Actor is the principal a request runs as.
type Actor struct {
	ID            string
	Email         string
	Role          rbac.Role
	Authenticated bool
}

func Anonymous() Actor {
	return Actor{}
}

func FromUser(user store.User) Actor {
	return Actor{
		ID:            user.ID,
		Email:         user.Email,
		Role:          rbac.Normalize(user.Role),
		Authenticated: user.ID != "",
	}
}

func (a Actor) IsAdmin() bool {
	return a.Authenticated && rbac.CanAdmin(a.Role)
}

// CanModerateGlobally reports the role-level moderation capability, which is
// independent of any single board.
func (a Actor) CanModerateGlobally() bool {
	return a.Authenticated && rbac.CanModerate(a.Role)
}

// Board rules

func CanAccessBoard(a Actor, b store.Board) bool {
	if !b.IsActive {
		return false
	}
	if b.Visibility == store.VisibilityPublic {
		return true
	}
	if !a.Authenticated {
		return false
	}
	return a.IsAdmin() || b.OwnerID == a.ID || b.HasModerator(a.ID) || b.HasMember(a.ID)
}

func CanModerateBoard(a Actor, b store.Board) bool {
	if !a.Authenticated {
		return false
	}
	return a.IsAdmin() || b.OwnerID == a.ID || b.HasModerator(a.ID)
}

// CanEditBoard excludes board moderators: they moderate content but do not
// change settings.
func CanEditBoard(a Actor, b store.Board) bool {
	if !a.Authenticated {
		return false
	}
	return a.IsAdmin() || b.OwnerID == a.ID
}

// Feedback rules

func CanSubmitFeedback(a Actor, b store.Board) bool {
	if !CanAccessBoard(a, b) {
		return false
	}
	return a.Authenticated || b.AllowAnonymousFeedback
}

// CanViewFeedback hides inactive or unapproved items from everyone but
// their author and the board's moderators.
func CanViewFeedback(a Actor, b store.Board, f store.Feedback) bool {
	if !CanAccessBoard(a, b) {
		return CanModerateBoard(a, b)
	}
	if f.IsActive && f.Status != store.StatusDraft {
		return true
	}
	return f.IsAuthor(a.ID) || CanModerateBoard(a, b)
}

func CanVoteFeedback(a Actor, b store.Board, f store.Feedback) bool {
	return a.Authenticated && b.AllowVoting && f.IsActive
}

func CanEditFeedback(a Actor, b store.Board, f store.Feedback) bool {
	if !a.Authenticated {
		return false
	}
	return a.IsAdmin() || f.IsAuthor(a.ID) || CanModerateBoard(a, b)
}

func CanDeleteFeedback(a Actor, b store.Board, f store.Feedback) bool {
	return CanEditFeedback(a, b, f)
}

// CanChangeStatus also gates assignment and priority, which are triage fields.
func CanChangeStatus(a Actor, b store.Board) bool {
	return CanModerateBoard(a, b)
}

// Comment rules. The feedback's board decides moderation and voting.

func CanComment(a Actor, b store.Board, f store.Feedback) bool {
	if !CanAccessBoard(a, b) || !b.AllowComments || !f.IsActive {
		return false
	}
	return a.Authenticated || b.AllowAnonymousFeedback
}

func CanVoteComment(a Actor, b store.Board, c store.Comment) bool {
	return a.Authenticated && b.AllowVoting && c.IsActive
}

func CanEditComment(a Actor, b store.Board, c store.Comment) bool {
	if !a.Authenticated {
		return false
	}
	return a.IsAdmin() || c.IsAuthor(a.ID) || CanModerateBoard(a, b)
}

func CanDeleteComment(a Actor, b store.Board, c store.Comment) bool {
	return CanEditComment(a, b, c)
}

func CanModerateComment(a Actor, b store.Board) bool {
	return CanModerateBoard(a, b)
}

// Invitation rules

// CanRespondToInvitation matches either the resolved invited account or,
// when the invite predates the account, the address it was sent to.
func CanRespondToInvitation(a Actor, inv store.Invitation) bool {
	if !a.Authenticated {
		return false
	}
	if inv.InvitedUserID != nil && *inv.InvitedUserID == a.ID {
		return true
	}
	return a.Email != "" && strings.EqualFold(strings.TrimSpace(a.Email), strings.TrimSpace(inv.Email))
}

func CanInvite(a Actor, b store.Board) bool {
	return CanModerateBoard(a, b)
}
