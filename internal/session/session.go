// Package session holds the signed-in account for the default server.
package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"notify-sync-client/internal/model"
	"notify-sync-client/internal/store"
	"notify-sync-client/internal/topic"
)

const (
	keyUsername = "session.username"
	keyToken    = "session.token"
)

// Session stores the account username and token in the prefs collection.
type Session struct {
	store          store.Store
	defaultBaseURL string
	logger         *zap.SugaredLogger

	mu    sync.Mutex
	hooks []func(ctx context.Context)
}

func New(s store.Store, defaultBaseURL string, logger *zap.SugaredLogger) *Session {
	return &Session{store: s, defaultBaseURL: topic.NormalizeBaseURL(defaultBaseURL), logger: logger}
}

// Store saves the session and the matching credential for the default server,
// so streams to it authenticate with the account token.
func (s *Session) Store(ctx context.Context, username, token string) error {
	if err := s.store.SetPref(ctx, keyUsername, username); err != nil {
		return err
	}
	if err := s.store.SetPref(ctx, keyToken, token); err != nil {
		return err
	}
	return s.store.SaveUser(ctx, &model.User{BaseURL: s.defaultBaseURL, Username: username, Token: token})
}

// Token returns the bearer token, or "" when signed out.
func (s *Session) Token(ctx context.Context) (string, error) {
	v, _, err := s.store.GetPref(ctx, keyToken)
	return v, err
}

// Username returns the signed-in username, or "".
func (s *Session) Username(ctx context.Context) (string, error) {
	v, _, err := s.store.GetPref(ctx, keyUsername)
	return v, err
}

// Exists reports whether a session token is stored.
func (s *Session) Exists(ctx context.Context) bool {
	token, err := s.Token(ctx)
	return err == nil && token != ""
}

// OnReset registers fn to run after every Reset.
func (s *Session) OnReset(fn func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// Reset signs out: the whole local store is purged and the reset hooks run.
func (s *Session) Reset(ctx context.Context) error {
	s.logger.Warn("session reset, login required")
	if err := s.store.Purge(ctx); err != nil {
		s.logger.Errorw("failed to purge local store", "error", err)
		return err
	}

	s.mu.Lock()
	hooks := append([]func(context.Context){}, s.hooks...)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn(ctx)
	}
	return nil
}
