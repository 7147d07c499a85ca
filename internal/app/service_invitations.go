package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"feedbackhub/api/internal/policy"
	"feedbackhub/api/internal/store"
	"feedbackhub/api/internal/util"

	"go.uber.org/zap"
)

type InvitationInput struct {
	Email     string     `json:"email" validate:"required,email,max=254"`
	Role      string     `json:"role" validate:"omitempty,oneof=member moderator"`
	Message   string     `json:"message" validate:"max=2000"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

// InvitationView pairs an invitation with its expiry as of the read.
type InvitationView struct {
	Invitation store.Invitation
	IsExpired  bool
}

func (s *Service) CreateInvitation(ctx context.Context, actor policy.Actor, boardID string, input InvitationInput) (InvitationView, error) {
	if err := requireAuthenticated(actor); err != nil {
		return InvitationView{}, err
	}
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" {
		return InvitationView{}, validationError("Email is required", map[string]string{"email": "required"})
	}
	role := strings.TrimSpace(input.Role)
	if role == "" {
		role = store.MembershipMember
	}
	if role != store.MembershipMember && role != store.MembershipModerator {
		return InvitationView{}, validationError("Role must be member or moderator", map[string]string{"role": "oneof"})
	}
	now := s.now()
	expiresAt := now.Add(s.cfg.InviteTTL)
	if input.ExpiresAt != nil {
		if !input.ExpiresAt.After(now) {
			return InvitationView{}, validationError("Expiry must be in the future", map[string]string{"expiresAt": "future"})
		}
		expiresAt = *input.ExpiresAt
	}

	var invitation store.Invitation
	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		board, err := s.loadBoard(ctx, boardID)
		if err != nil {
			return err
		}
		if !canSeeBoard(actor, board) {
			return notFound("Board")
		}
		if !policy.CanInvite(actor, board) {
			return forbidden("Only board owners and moderators can invite")
		}

		invitation = store.Invitation{
			ID:          util.NewID(),
			BoardID:     board.ID,
			BoardName:   board.Name,
			Email:       email,
			InvitedByID: actor.ID,
			Role:        role,
			Status:      store.InvitationPending,
			Message:     util.PlainText(input.Message),
			ExpiresAt:   expiresAt,
			CreatedAt:   now,
		}
		invited, err := s.store.GetUserByEmail(ctx, email)
		switch {
		case err == nil:
			invitation.InvitedUserID = &invited.ID
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}
		if err := s.store.InsertInvitation(ctx, invitation); err != nil {
			return err
		}
		invitation, err = s.store.GetInvitation(ctx, invitation.ID)
		return err
	})
	if err != nil {
		return InvitationView{}, err
	}

	s.audit("invitation created", actor, zap.String("invitation_id", invitation.ID), zap.String("board_id", invitation.BoardID), zap.String("role", role))
	return s.invitationView(invitation), nil
}

func (s *Service) ListBoardInvitations(ctx context.Context, actor policy.Actor, boardID string) ([]InvitationView, error) {
	if err := requireAuthenticated(actor); err != nil {
		return nil, err
	}
	board, err := s.loadBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}
	if !canSeeBoard(actor, board) {
		return nil, notFound("Board")
	}
	if !policy.CanInvite(actor, board) {
		return nil, forbidden("Only board owners and moderators can view invitations")
	}
	items, err := s.store.ListBoardInvitations(ctx, board.ID)
	if err != nil {
		return nil, err
	}
	return s.invitationViews(items), nil
}

// ListMyInvitations returns invitations addressed to the actor's account or
// email address.
func (s *Service) ListMyInvitations(ctx context.Context, actor policy.Actor) ([]InvitationView, error) {
	if err := requireAuthenticated(actor); err != nil {
		return nil, err
	}
	items, err := s.store.ListInvitationsFor(ctx, actor.ID, actor.Email)
	if err != nil {
		return nil, err
	}
	return s.invitationViews(items), nil
}

func (s *Service) AcceptInvitation(ctx context.Context, actor policy.Actor, invitationID string) (InvitationView, error) {
	return s.respondToInvitation(ctx, actor, invitationID, true)
}

func (s *Service) DeclineInvitation(ctx context.Context, actor policy.Actor, invitationID string) (InvitationView, error) {
	return s.respondToInvitation(ctx, actor, invitationID, false)
}

// respondToInvitation is one-shot. Only a pending invitation that has not
// expired can be answered; anything else is INVITATION_CLOSED and nothing is
// written.
func (s *Service) respondToInvitation(ctx context.Context, actor policy.Actor, invitationID string, accept bool) (InvitationView, error) {
	if err := requireAuthenticated(actor); err != nil {
		return InvitationView{}, err
	}

	if !util.ValidID(invitationID) {
		return InvitationView{}, notFound("Invitation")
	}

	var invitation store.Invitation
	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		invitation, err = s.store.LockInvitation(ctx, invitationID)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("Invitation")
		}
		if err != nil {
			return err
		}
		if !policy.CanRespondToInvitation(actor, invitation) {
			return notFound("Invitation")
		}
		now := s.now()
		if !invitation.Respondable(now) {
			return conflict("INVITATION_CLOSED", "Invitation is no longer open")
		}

		status := store.InvitationDeclined
		if accept {
			status = store.InvitationAccepted
			if err := s.store.AddBoardMembership(ctx, invitation.BoardID, actor.ID, invitation.Role); err != nil {
				return err
			}
		}
		if err := s.store.UpdateInvitationStatus(ctx, invitation.ID, status, &now); err != nil {
			return err
		}
		invitation, err = s.store.GetInvitation(ctx, invitation.ID)
		return err
	})
	if err != nil {
		return InvitationView{}, err
	}

	s.audit("invitation answered", actor,
		zap.String("invitation_id", invitation.ID),
		zap.String("board_id", invitation.BoardID),
		zap.String("status", invitation.Status),
	)
	return s.invitationView(invitation), nil
}

// ExpireInvitations persists the expired status for every pending invitation
// past its deadline.
func (s *Service) ExpireInvitations(ctx context.Context, actor policy.Actor) (int64, error) {
	if err := requireAuthenticated(actor); err != nil {
		return 0, err
	}
	if !actor.IsAdmin() {
		return 0, forbidden("Only administrators can expire invitations")
	}
	n, err := s.store.ExpirePendingInvitations(ctx, s.now())
	if err != nil {
		return 0, err
	}
	s.audit("invitations expired", actor, zap.Int64("count", n))
	return n, nil
}

func (s *Service) invitationView(item store.Invitation) InvitationView {
	return InvitationView{
		Invitation: item,
		IsExpired:  item.Status == store.InvitationExpired || (item.Status == store.InvitationPending && item.Expired(s.now())),
	}
}

func (s *Service) invitationViews(items []store.Invitation) []InvitationView {
	views := make([]InvitationView, 0, len(items))
	for _, item := range items {
		views = append(views, s.invitationView(item))
	}
	return views
}
