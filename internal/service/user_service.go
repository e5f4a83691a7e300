package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"tourbook/internal/auth"
	"tourbook/internal/config"
	"tourbook/internal/domain"
	"tourbook/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var errBadCredentials = domain.Authf("invalid email or password")

// AuthResult is returned by register and login.
type AuthResult struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

type UserService struct {
	repo     domain.UserRepository
	sessions domain.SessionRepository
	tokens   *auth.TokenManager
	config   *config.Config
	now      func() time.Time
	logger   *zerolog.Logger
}

func NewUserService(
	repo domain.UserRepository,
	sessions domain.SessionRepository,
	tokens *auth.TokenManager,
	config *config.Config,
	logger *zerolog.Logger,
) *UserService {
	return &UserService{
		repo:     repo,
		sessions: sessions,
		tokens:   tokens,
		config:   config,
		now:      time.Now,
		logger:   logger,
	}
}

// configuredRole returns the role granted by config, or "" when the email is
// in neither list.
func (s *UserService) configuredRole(email string) string {
	switch {
	case s.config.IsAdmin(email):
		return models.RoleAdmin
	case s.config.IsStaff(email):
		return models.RoleStaff
	default:
		return ""
	}
}

func (s *UserService) Register(ctx context.Context, req domain.RegisterRequest) (*AuthResult, error) {
	if err := domain.ValidateRegister(&req); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	role := s.configuredRole(req.Email)
	if role == "" {
		role = models.RoleUser
	}
	user := &models.User{
		Name:         req.Name,
		Email:        req.Email,
		Phone:        req.Phone,
		PasswordHash: hash,
		Role:         role,
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", user.ID).Str("role", user.Role).Msg("user registered")

	return s.startSession(ctx, user)
}

func (s *UserService) Login(ctx context.Context, req domain.LoginRequest) (*AuthResult, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return nil, domain.Validationf(domain.MsgMissingFields)
	}

	if limit := s.config.Auth.LoginAttempts; limit > 0 {
		allowed, err := s.sessions.CheckRateLimit(ctx, "login:"+email, limit, s.config.Auth.LoginAttemptsTTL)
		if err != nil {
			s.logger.Warn().Err(err).Msg("login rate limit check failed")
		} else if !allowed {
			return nil, &domain.Error{Kind: domain.ErrRateLimited, Msg: "too many login attempts, try again later"}
		}
	}

	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, errBadCredentials
		}
		return nil, err
	}
	ok, err := auth.CheckPassword(user.PasswordHash, req.Password)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.logger.Info().Str("user_id", user.ID).Msg("login rejected")
		return nil, errBadCredentials
	}

	if role := s.configuredRole(email); role != "" && role != user.Role {
		if err := s.repo.UpdateUserRole(ctx, user.ID, role); err != nil {
			return nil, err
		}
		s.logger.Info().Str("user_id", user.ID).Str("from", user.Role).Str("to", role).Msg("user role updated")
		user.Role = role
	}

	return s.startSession(ctx, user)
}

func (s *UserService) startSession(ctx context.Context, user *models.User) (*AuthResult, error) {
	sessionID := uuid.NewString()
	token, expiresAt, err := s.tokens.Issue(user.ID, user.Name, user.Role, sessionID)
	if err != nil {
		return nil, err
	}

	session := &models.Session{
		ID:        sessionID,
		UserID:    user.ID,
		Role:      user.Role,
		CreatedAt: s.now().UTC(),
		ExpiresAt: expiresAt,
	}
	if err := s.sessions.SaveSession(ctx, session); err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

// Authenticate turns a bearer token into the calling actor. The token must
// verify and its session must not have been revoked.
func (s *UserService) Authenticate(ctx context.Context, token string) (*domain.Actor, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	session, err := s.sessions.GetSession(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if session == nil || session.UserID != claims.Subject {
		return nil, domain.Authf("session expired, please log in again")
	}
	return &domain.Actor{
		UserID:    claims.Subject,
		Name:      claims.Name,
		Role:      session.Role,
		SessionID: session.ID,
	}, nil
}

func (s *UserService) Logout(ctx context.Context, actor *domain.Actor) error {
	if !actor.Authenticated() {
		return domain.Authf("please log in to continue")
	}
	if err := s.sessions.DeleteSession(ctx, actor.SessionID); err != nil {
		return err
	}
	s.logger.Info().Str("user_id", actor.UserID).Msg("user logged out")
	return nil
}

func (s *UserService) Me(ctx context.Context, actor *domain.Actor) (*models.User, error) {
	if !actor.Authenticated() {
		return nil, domain.Authf("please log in to continue")
	}
	return s.repo.GetUserByID(ctx, actor.UserID)
}

// ListUsers is the admin users table.
func (s *UserService) ListUsers(ctx context.Context, actor *domain.Actor) ([]models.User, error) {
	if !actor.IsAdmin() {
		return nil, deny(actor)
	}
	return s.repo.GetAllUsers(ctx)
}
