// Package authstate holds the signed-in user and bearer token and keeps
// them in durable client storage.
package authstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"campuschat/pkg/domain"
	"campuschat/pkg/store"
)

type Status int

const (
	StatusLoading Status = iota
	StatusAuthenticated
	StatusUnauthenticated
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusAuthenticated:
		return "authenticated"
	case StatusUnauthenticated:
		return "unauthenticated"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// State is the auth state machine: loading -> authenticated | unauthenticated.
type State struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	status    Status
	user      domain.User
	token     string
	listeners []func(Status)
}

// New returns a State in the loading status. Call Restore to resolve it.
func New(s store.Store, logger *slog.Logger) *State {
	if logger == nil {
		logger = slog.Default()
	}
	return &State{
		store:  s,
		logger: logger.With("component", "auth"),
		now:    time.Now,
		status: StatusLoading,
	}
}

// Restore re-hydrates user and token from storage. Missing, malformed or
// expired credentials resolve to unauthenticated.
func (s *State) Restore(ctx context.Context) error {
	token, ok, err := s.store.Get(ctx, store.KeyToken)
	if err != nil {
		s.setUnauthenticated()
		return fmt.Errorf("restore token: %w", err)
	}
	token = strings.TrimSpace(token)
	if !ok || token == "" {
		s.setUnauthenticated()
		return nil
	}
	if tokenExpired(token, s.now()) {
		s.logger.Info("stored token expired")
		return s.clear(ctx)
	}
	var user domain.User
	found, err := store.GetJSON(ctx, s.store, store.KeyUser, &user)
	if errors.Is(err, store.ErrMalformed) {
		s.logger.Warn("ignoring malformed stored user", "err", err)
		return s.clear(ctx)
	}
	if err != nil {
		s.setUnauthenticated()
		return fmt.Errorf("restore user: %w", err)
	}
	if !found {
		return s.clear(ctx)
	}
	s.set(StatusAuthenticated, user, token)
	return nil
}

// Login stores user and token and marks the state authenticated.
func (s *State) Login(ctx context.Context, user domain.User, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("login: empty token")
	}
	if err := s.store.Set(ctx, store.KeyToken, token); err != nil {
		return fmt.Errorf("persist token: %w", err)
	}
	if err := store.SetJSON(ctx, s.store, store.KeyUser, user); err != nil {
		return fmt.Errorf("persist user: %w", err)
	}
	s.set(StatusAuthenticated, user, token)
	return nil
}

// SetUser refreshes the stored user without touching the token.
func (s *State) SetUser(ctx context.Context, user domain.User) error {
	s.mu.Lock()
	if s.status != StatusAuthenticated {
		s.mu.Unlock()
		return errors.New("set user: not authenticated")
	}
	s.user = user
	s.mu.Unlock()
	return store.SetJSON(ctx, s.store, store.KeyUser, user)
}

// Logout clears storage and memory.
func (s *State) Logout(ctx context.Context) error {
	return s.clear(ctx)
}

// Expire is the unauthorized-response path; it clears credentials the
// same way Logout does.
func (s *State) Expire(ctx context.Context) {
	s.logger.Warn("credentials rejected by backend; signing out")
	if err := s.clear(ctx); err != nil {
		s.logger.Error("failed to clear credentials", "err", err)
	}
}

// Token returns the bearer token, or "" when unauthenticated.
func (s *State) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// User returns the signed-in user.
func (s *State) User() (domain.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user, s.status == StatusAuthenticated
}

func (s *State) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *State) IsAuthenticated() bool {
	return s.Status() == StatusAuthenticated
}

// Subscribe registers fn to run after every status change.
func (s *State) Subscribe(fn func(Status)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *State) clear(ctx context.Context) error {
	s.setUnauthenticated()
	if err := s.store.Remove(ctx, store.KeyToken, store.KeyUser); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}

func (s *State) setUnauthenticated() {
	s.set(StatusUnauthenticated, domain.User{}, "")
}

func (s *State) set(status Status, user domain.User, token string) {
	s.mu.Lock()
	changed := s.status != status
	s.status = status
	s.user = user
	s.token = token
	listeners := append([]func(Status){}, s.listeners...)
	s.mu.Unlock()
	if !changed {
		return
	}
	for _, fn := range listeners {
		fn(status)
	}
}

// tokenExpired reports whether token is a JWT whose exp lies before now.
// Opaque tokens never expire client-side.
func tokenExpired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(now)
}
