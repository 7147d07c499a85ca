package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"feedbackhub/api/internal/auth"
	"feedbackhub/api/internal/authpw"
	"feedbackhub/api/internal/policy"
	"feedbackhub/api/internal/rbac"
	"feedbackhub/api/internal/session"
	"feedbackhub/api/internal/store"

	"go.uber.org/zap"
)

type RegisterInput struct {
	Email     string `json:"email" validate:"required,email,max=254"`
	Username  string `json:"username" validate:"required,max=150"`
	Password  string `json:"password" validate:"required,min=8,max=128"`
	FirstName string `json:"firstName" validate:"max=150"`
	LastName  string `json:"lastName" validate:"max=150"`
}

// BootstrapAdmin creates the configured admin account when it does not exist
// yet. An existing account is left untouched.
func (s *Service) BootstrapAdmin(ctx context.Context) error {
	email := strings.TrimSpace(s.cfg.BootstrapAdminEmail)
	if email == "" || s.cfg.BootstrapAdminPassword == "" {
		return nil
	}

	_, err := s.store.GetUserByEmail(ctx, email)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	username := email
	if at := strings.Index(email, "@"); at > 0 {
		username = email[:at]
	}
	user, err := s.passwords.Register(ctx, authpw.RegisterRequest{
		Email:    email,
		Username: username,
		Password: s.cfg.BootstrapAdminPassword,
		Role:     rbac.RoleAdmin,
	})
	if err != nil {
		return err
	}
	s.log.Info("bootstrap admin created", zap.String("user_id", user.ID), zap.String("email", user.Email))
	return nil
}

func (s *Service) Register(ctx context.Context, input RegisterInput) (store.User, error) {
	user, err := s.passwords.Register(ctx, authpw.RegisterRequest{
		Email:     input.Email,
		Username:  input.Username,
		Password:  input.Password,
		FirstName: input.FirstName,
		LastName:  input.LastName,
	})
	switch {
	case errors.Is(err, authpw.ErrEmailTaken):
		return store.User{}, conflict("EMAIL_EXISTS", "Email already registered")
	case errors.Is(err, authpw.ErrWeakPassword), errors.Is(err, authpw.ErrMissingFields):
		return store.User{}, validationError(err.Error(), nil)
	case err != nil:
		return store.User{}, err
	}
	return user, nil
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.passwords.SignIn(ctx, email, password)
	if errors.Is(err, authpw.ErrInvalidCredentials) {
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	}
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

// Refresh rotates the refresh token: the presented one is revoked and a new
// pair is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	userID, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, session.ErrSessionNotFound) {
		return Session{}, unauthorized("Refresh token is invalid or expired")
	}
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}

	user, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, unauthorized("Refresh token is invalid or expired")
	}
	if err != nil {
		return Session{}, err
	}
	if !user.IsActive {
		return Session{}, unauthorized("Account is inactive")
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	claims := auth.NewClaims(user.ID, user.Email, user.Role, s.cfg.AccessTTL)
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), claims)
	if err != nil {
		return Session{}, err
	}

	refresh := auth.NewRefreshToken()
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, s.now().Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName(),
		Email:        user.Email,
		Role:         user.Role,
		JTI:          claims.JTI,
		ExpiresAt:    claims.ExpiresAt(),
	}, nil
}

// SessionFromToken reloads the user so a role change or deactivation applies
// before the access token expires.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}
	if !user.IsActive {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName(),
		Email:     user.Email,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: claims.ExpiresAt(),
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
}

func (s *Service) Me(ctx context.Context, actor policy.Actor) (store.User, error) {
	if err := requireAuthenticated(actor); err != nil {
		return store.User{}, err
	}
	return s.loadUser(ctx, actor.ID)
}

func (s *Service) ChangePassword(ctx context.Context, actor policy.Actor, oldPassword, newPassword string) error {
	if err := requireAuthenticated(actor); err != nil {
		return err
	}
	err := s.passwords.ChangePassword(ctx, actor.ID, oldPassword, newPassword)
	switch {
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return validationError("Current password is incorrect", map[string]string{"oldPassword": "incorrect"})
	case errors.Is(err, authpw.ErrWeakPassword):
		return validationError(err.Error(), map[string]string{"newPassword": "min"})
	case err != nil:
		return err
	}
	s.audit("password changed", actor)
	return nil
}

// ListUsers shows moderators and admins everyone; contributors only see
// other contributors.
func (s *Service) ListUsers(ctx context.Context, actor policy.Actor, role string) ([]store.User, error) {
	if err := requireAuthenticated(actor); err != nil {
		return nil, err
	}
	role = strings.TrimSpace(role)
	if role != "" && !rbac.Valid(role) {
		return nil, validationError("Unknown role", map[string]string{"role": "oneof"})
	}
	if !actor.CanModerateGlobally() {
		if role != "" && role != string(rbac.RoleContributor) {
			return []store.User{}, nil
		}
		role = string(rbac.RoleContributor)
	}

	users, err := s.store.ListUsers(ctx, role)
	if err != nil {
		return nil, err
	}
	active := make([]store.User, 0, len(users))
	for _, user := range users {
		if user.IsActive {
			active = append(active, user)
		}
	}
	return active, nil
}

// UpdateUserRole is admin only. An admin cannot demote themselves.
func (s *Service) UpdateUserRole(ctx context.Context, actor policy.Actor, userID, role string) (store.User, error) {
	if err := requireAuthenticated(actor); err != nil {
		return store.User{}, err
	}
	if !actor.IsAdmin() {
		return store.User{}, forbidden("Only administrators can change user roles")
	}
	if !rbac.Valid(role) {
		return store.User{}, validationError("Unknown role", map[string]string{"role": "oneof"})
	}
	if userID == actor.ID && rbac.Role(role) != rbac.RoleAdmin {
		return store.User{}, validationError("You cannot remove your own admin role", map[string]string{"role": "self"})
	}

	var updated store.User
	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		user, err := s.loadUser(ctx, userID)
		if err != nil {
			return err
		}
		if err := s.store.UpdateUserRole(ctx, user.ID, role); err != nil {
			return err
		}
		user.Role = role
		updated = user
		return nil
	})
	if err != nil {
		return store.User{}, err
	}

	// Force a fresh sign-in so clients pick up the new role.
	if revoker, ok := s.sessions.(userSessionRevoker); ok {
		if err := revoker.RevokeUserSessions(ctx, updated.ID); err != nil {
			s.log.Warn("revoke sessions after role change", zap.String("user_id", updated.ID), zap.Error(err))
		}
	}
	s.audit("user role changed", actor, zap.String("user_id", updated.ID), zap.String("role", role))
	return updated, nil
}
