package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tourbook/internal/domain"
	"tourbook/internal/models"
)

// sessionState is the only thing the client persists.
type sessionState struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

// Session is the single session provider: it signs in, remembers the token in
// a JSON file and hands it to every request.
type Session struct {
	client *Client
	path   string

	mu    sync.RWMutex
	state *sessionState
}

func openSession(c *Client, path string) (*Session, error) {
	s := &Session{client: c, path: path}
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	var state sessionState
	if err := json.Unmarshal(data, &state); err != nil {
		// A corrupt file is the same as being signed out.
		c.logger.Warn().Err(err).Str("path", path).Msg("ignoring unreadable session file")
		return s, nil
	}
	s.state = &state
	return s, nil
}

type authResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

// Login exchanges credentials for a token and stores it.
func (s *Session) Login(ctx context.Context, email, password string) (*models.User, error) {
	var res authResponse
	err := s.client.doJSON(ctx, http.MethodPost, "/api/auth/login",
		domain.LoginRequest{Email: email, Password: password}, &res)
	if err != nil {
		return nil, err
	}
	if err := s.store(&res); err != nil {
		return nil, err
	}
	return res.User, nil
}

// Register creates an account and signs in with it.
func (s *Session) Register(ctx context.Context, req domain.RegisterRequest) (*models.User, error) {
	if err := domain.ValidateRegister(&req); err != nil {
		return nil, err
	}
	var res authResponse
	if err := s.client.doJSON(ctx, http.MethodPost, "/api/auth/register", req, &res); err != nil {
		return nil, err
	}
	if err := s.store(&res); err != nil {
		return nil, err
	}
	return res.User, nil
}

// Logout revokes the token server-side and forgets it locally. The local
// session is dropped even when the server call fails.
func (s *Session) Logout(ctx context.Context) error {
	if s.Token() == "" {
		return s.clear()
	}
	err := s.client.doJSON(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
	if clearErr := s.clear(); clearErr != nil {
		return clearErr
	}
	if err != nil && !errors.Is(err, domain.ErrAuth) {
		return err
	}
	return nil
}

// CurrentUser returns the signed-in user, or nil.
func (s *Session) CurrentUser() *models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.validLocked() {
		return nil
	}
	u := *s.state.User
	return &u
}

// Token returns the bearer token, or "" when signed out or expired.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.validLocked() {
		return ""
	}
	return s.state.Token
}

// Refresh reloads the current user from the server.
func (s *Session) Refresh(ctx context.Context) (*models.User, error) {
	if s.Token() == "" {
		return nil, domain.Authf("not logged in")
	}
	var wrap struct {
		User *models.User `json:"user"`
	}
	if err := s.client.doJSON(ctx, http.MethodGet, "/api/auth/me", nil, &wrap); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return wrap.User, nil
	}
	s.state.User = wrap.User
	return wrap.User, s.persistLocked()
}

func (s *Session) validLocked() bool {
	if s.state == nil || s.state.Token == "" || s.state.User == nil {
		return false
	}
	return s.state.ExpiresAt.IsZero() || s.client.now().Before(s.state.ExpiresAt)
}

func (s *Session) store(res *authResponse) error {
	if res.Token == "" || res.User == nil {
		return fmt.Errorf("login response carried no session")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = &sessionState{Token: res.Token, ExpiresAt: res.ExpiresAt, User: res.User}
	return s.persistLocked()
}

func (s *Session) clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = nil
	if s.path == "" {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}

func (s *Session) persistLocked() error {
	if s.path == "" {
		return nil
	}
	data, err := json.Marshal(s.state)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return os.Rename(tmp, s.path)
}
