package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/rl1809/pos-register/internal/port"
)

// TokenStore holds the API token for the current session.
type TokenStore struct {
	mu    sync.RWMutex
	token string
}

func NewTokenStore() *TokenStore {
	return &TokenStore{}
}

func (t *TokenStore) Token() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.token
}

func (t *TokenStore) Set(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.token = token
}

type SessionService struct {
	api    port.POSAPI
	tokens *TokenStore
	cart   CartSource
	logger *zap.Logger

	mu       sync.Mutex
	loggedIn bool
	email    string
}

func NewSessionService(api port.POSAPI, tokens *TokenStore, cart CartSource, logger *zap.Logger) *SessionService {
	return &SessionService{
		api:    api,
		tokens: tokens,
		cart:   cart,
		logger: logger.Named("session"),
	}
}

func (s *SessionService) Login(ctx context.Context, email, password string) error {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return ErrInvalidCredentials
	}

	token, err := s.api.Login(ctx, email, password)
	if err != nil {
		s.logger.Info("login failed", zap.String("email", email), zap.Error(err))
		return fmt.Errorf("login: %w", err)
	}

	s.tokens.Set(token)
	s.mu.Lock()
	s.loggedIn = true
	s.email = email
	s.mu.Unlock()

	s.logger.Info("logged in", zap.String("email", email), zap.Bool("token", token != ""))
	return nil
}

// Logout drops the token and empties the cart.
func (s *SessionService) Logout(ctx context.Context) error {
	s.tokens.Set("")
	s.mu.Lock()
	email := s.email
	s.loggedIn = false
	s.email = ""
	s.mu.Unlock()

	if err := s.cart.Clear(ctx); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	s.logger.Info("logged out", zap.String("email", email))
	return nil
}

func (s *SessionService) LoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedIn
}
