package app

import (
	"context"
	"strings"

	"feedbackhub/api/internal/policy"
	"feedbackhub/api/internal/store"
	"feedbackhub/api/internal/util"

	"go.uber.org/zap"
)

const slugAttempts = 3

type BoardInput struct {
	Name                   *string `json:"name" validate:"omitempty,max=255"`
	Description            *string `json:"description" validate:"omitempty,max=10000"`
	Slug                   *string `json:"slug" validate:"omitempty,max=255"`
	Visibility             *string `json:"visibility" validate:"omitempty,oneof=public private"`
	AllowAnonymousFeedback *bool   `json:"allowAnonymousFeedback"`
	RequireApproval        *bool   `json:"requireApproval"`
	AllowComments          *bool   `json:"allowComments"`
	AllowVoting            *bool   `json:"allowVoting"`
	IsActive               *bool   `json:"isActive"`
}

type BoardListInput struct {
	Visibility string
	IsActive   *bool
	OwnerID    string
	Search     string
	Ordering   string
	Limit      int
	Offset     int
}

// canSeeBoard lets owners and moderators reach a board even after it was
// deactivated.
func canSeeBoard(actor policy.Actor, board store.Board) bool {
	return policy.CanAccessBoard(actor, board) || policy.CanModerateBoard(actor, board)
}

func (s *Service) ListBoards(ctx context.Context, actor policy.Actor, input BoardListInput) ([]store.Board, error) {
	boards, err := s.store.ListBoards(ctx, store.BoardFilter{
		ViewerID:      actor.ID,
		ViewerIsAdmin: actor.IsAdmin(),
		Visibility:    input.Visibility,
		IsActive:      input.IsActive,
		OwnerID:       input.OwnerID,
		Search:        input.Search,
		Ordering:      input.Ordering,
		Limit:         input.Limit,
		Offset:        input.Offset,
	})
	if err != nil {
		return nil, err
	}

	visible := make([]store.Board, 0, len(boards))
	for _, board := range boards {
		if canSeeBoard(actor, board) {
			visible = append(visible, board)
		}
	}
	return visible, nil
}

func (s *Service) GetBoard(ctx context.Context, actor policy.Actor, boardID string) (store.Board, error) {
	board, err := s.loadBoard(ctx, boardID)
	if err != nil {
		return store.Board{}, err
	}
	if !canSeeBoard(actor, board) {
		return store.Board{}, notFound("Board")
	}
	return board, nil
}

// CreateBoard makes the actor the owner. Without an explicit slug one is
// derived from the name as name, name-1, name-2, ...
func (s *Service) CreateBoard(ctx context.Context, actor policy.Actor, input BoardInput) (store.Board, error) {
	if err := requireAuthenticated(actor); err != nil {
		return store.Board{}, err
	}

	board := store.Board{
		Visibility:    store.VisibilityPublic,
		OwnerID:       actor.ID,
		AllowComments: true,
		AllowVoting:   true,
		IsActive:      true,
	}
	applyBoardInput(&board, input)
	if board.Name == "" {
		return store.Board{}, validationError("Board name is required", map[string]string{"name": "required"})
	}

	explicitSlug := input.Slug != nil && strings.TrimSpace(*input.Slug) != ""
	if explicitSlug {
		board.Slug = util.Slugify(*input.Slug)
		if board.Slug == "" {
			return store.Board{}, validationError("Slug must contain letters or digits", map[string]string{"slug": "invalid"})
		}
	}

	for attempt := 0; attempt < slugAttempts; attempt++ {
		if !explicitSlug {
			slug, err := util.UniqueSlug(util.Slugify(board.Name), func(candidate string) (bool, error) {
				return s.store.BoardSlugExists(ctx, candidate)
			})
			if err != nil {
				return store.Board{}, err
			}
			board.Slug = slug
		}

		board.ID = util.NewID()
		err := s.store.InsertBoard(ctx, board)
		if err == nil {
			s.audit("board created", actor, zap.String("board_id", board.ID), zap.String("slug", board.Slug))
			return s.loadBoard(ctx, board.ID)
		}
		if !store.IsUniqueViolation(err) {
			return store.Board{}, err
		}
		if explicitSlug {
			break
		}
		// Another request took the derived slug between the check and the insert.
	}
	return store.Board{}, conflict("SLUG_TAKEN", "A board with this slug already exists")
}

// UpdateBoard serves both PUT and PATCH. A full update must carry a name;
// isActive=false soft-deletes the board.
func (s *Service) UpdateBoard(ctx context.Context, actor policy.Actor, boardID string, input BoardInput, partial bool) (store.Board, error) {
	if err := requireAuthenticated(actor); err != nil {
		return store.Board{}, err
	}
	if !partial && (input.Name == nil || strings.TrimSpace(*input.Name) == "") {
		return store.Board{}, validationError("Board name is required", map[string]string{"name": "required"})
	}

	var updated store.Board
	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		board, err := s.loadBoard(ctx, boardID)
		if err != nil {
			return err
		}
		if !canSeeBoard(actor, board) {
			return notFound("Board")
		}
		if !policy.CanEditBoard(actor, board) {
			return forbidden("Only the board owner can change board settings")
		}

		applyBoardInput(&board, input)
		if board.Name == "" {
			return validationError("Board name cannot be blank", map[string]string{"name": "required"})
		}
		if input.Slug != nil {
			slug := util.Slugify(*input.Slug)
			if slug == "" {
				return validationError("Slug must contain letters or digits", map[string]string{"slug": "invalid"})
			}
			if slug != board.Slug {
				taken, err := s.store.BoardSlugExists(ctx, slug)
				if err != nil {
					return err
				}
				if taken {
					return conflict("SLUG_TAKEN", "A board with this slug already exists")
				}
				board.Slug = slug
			}
		}

		if err := s.store.UpdateBoard(ctx, board); err != nil {
			if store.IsUniqueViolation(err) {
				return conflict("SLUG_TAKEN", "A board with this slug already exists")
			}
			return err
		}
		updated, err = s.store.GetBoard(ctx, board.ID)
		return err
	})
	if err != nil {
		return store.Board{}, err
	}
	s.audit("board updated", actor, zap.String("board_id", updated.ID), zap.Bool("is_active", updated.IsActive))
	return updated, nil
}

// DeleteBoard removes the board and, through the foreign keys, all of its
// feedback, comments, votes and history.
func (s *Service) DeleteBoard(ctx context.Context, actor policy.Actor, boardID string) error {
	if err := requireAuthenticated(actor); err != nil {
		return err
	}
	board, err := s.loadBoard(ctx, boardID)
	if err != nil {
		return err
	}
	if !canSeeBoard(actor, board) {
		return notFound("Board")
	}
	if !policy.CanEditBoard(actor, board) {
		return forbidden("Only the board owner can delete the board")
	}
	if err := s.store.DeleteBoard(ctx, board.ID); err != nil {
		return err
	}
	s.audit("board deleted", actor, zap.String("board_id", board.ID))
	return nil
}

func (s *Service) AddBoardMember(ctx context.Context, actor policy.Actor, boardID, userID string) (store.Board, error) {
	return s.changeMembership(ctx, actor, boardID, userID, store.MembershipMember, true)
}

func (s *Service) RemoveBoardMember(ctx context.Context, actor policy.Actor, boardID, userID string) (store.Board, error) {
	return s.changeMembership(ctx, actor, boardID, userID, store.MembershipMember, false)
}

func (s *Service) AddBoardModerator(ctx context.Context, actor policy.Actor, boardID, userID string) (store.Board, error) {
	return s.changeMembership(ctx, actor, boardID, userID, store.MembershipModerator, true)
}

func (s *Service) RemoveBoardModerator(ctx context.Context, actor policy.Actor, boardID, userID string) (store.Board, error) {
	return s.changeMembership(ctx, actor, boardID, userID, store.MembershipModerator, false)
}

// changeMembership has set semantics: adding a present user or removing an
// absent one succeeds without effect.
func (s *Service) changeMembership(ctx context.Context, actor policy.Actor, boardID, userID, role string, add bool) (store.Board, error) {
	if err := requireAuthenticated(actor); err != nil {
		return store.Board{}, err
	}

	var updated store.Board
	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		board, err := s.loadBoard(ctx, boardID)
		if err != nil {
			return err
		}
		if !canSeeBoard(actor, board) {
			return notFound("Board")
		}
		if !policy.CanModerateBoard(actor, board) {
			return forbidden("Only board owners and moderators can manage membership")
		}
		user, err := s.loadUser(ctx, userID)
		if err != nil {
			return err
		}

		if add {
			err = s.store.AddBoardMembership(ctx, board.ID, user.ID, role)
		} else {
			err = s.store.RemoveBoardMembership(ctx, board.ID, user.ID, role)
		}
		if err != nil {
			return err
		}
		updated, err = s.store.GetBoard(ctx, board.ID)
		return err
	})
	if err != nil {
		return store.Board{}, err
	}

	event := "board " + role + " removed"
	if add {
		event = "board " + role + " added"
	}
	s.audit(event, actor, zap.String("board_id", boardID), zap.String("user_id", userID))
	return updated, nil
}

func applyBoardInput(board *store.Board, input BoardInput) {
	if input.Name != nil {
		board.Name = util.PlainText(*input.Name)
	}
	if input.Description != nil {
		board.Description = util.RichText(*input.Description)
	}
	if input.Visibility != nil {
		board.Visibility = *input.Visibility
	}
	if input.AllowAnonymousFeedback != nil {
		board.AllowAnonymousFeedback = *input.AllowAnonymousFeedback
	}
	if input.RequireApproval != nil {
		board.RequireApproval = *input.RequireApproval
	}
	if input.AllowComments != nil {
		board.AllowComments = *input.AllowComments
	}
	if input.AllowVoting != nil {
		board.AllowVoting = *input.AllowVoting
	}
	if input.IsActive != nil {
		board.IsActive = *input.IsActive
	}
}
