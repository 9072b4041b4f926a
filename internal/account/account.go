// Package account implements the login, register, logout and whoami flows.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"campuschat/internal/authstate"
	"campuschat/internal/i18n"
	"campuschat/pkg/apiclient"
	"campuschat/pkg/domain"
)

var (
	ErrInvalidInput      = errors.New("required fields missing")
	ErrPasswordMismatch  = errors.New("passwords do not match")
	ErrMissingCredential = errors.New("backend returned no token")
)

// AuthAPI is the part of the backend the account flows use.
type AuthAPI interface {
	Register(ctx context.Context, req apiclient.RegisterRequest) (apiclient.AuthResponse, error)
	Login(ctx context.Context, email, password string) (apiclient.AuthResponse, error)
	Logout(ctx context.Context) error
	Me(ctx context.Context) (domain.User, error)
}

type Service struct {
	api    AuthAPI
	auth   *authstate.State
	logger *slog.Logger
}

func New(api AuthAPI, auth *authstate.State, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{api: api, auth: auth, logger: logger.With("component", "account")}
}

// Login exchanges credentials for a token and signs the client in.
func (s *Service) Login(ctx context.Context, email, password string) (domain.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return domain.User{}, ErrInvalidInput
	}
	resp, err := s.api.Login(ctx, email, password)
	if err != nil {
		return domain.User{}, fmt.Errorf("login: %w", err)
	}
	if err := s.signIn(ctx, resp); err != nil {
		return domain.User{}, err
	}
	s.logger.Info("signed in", "user_id", resp.User.ID)
	return resp.User, nil
}

// RegisterInput is the registration form.
type RegisterInput struct {
	Name                 string
	Email                string
	Password             string
	PasswordConfirmation string
}

// Validate checks the form locally before any request is made. Password
// rules are left to the backend.
func (in RegisterInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" || strings.TrimSpace(in.Email) == "" || in.Password == "" {
		return ErrInvalidInput
	}
	if in.Password != in.PasswordConfirmation {
		return ErrPasswordMismatch
	}
	return nil
}

// Register creates the account and signs the client in with the returned token.
func (s *Service) Register(ctx context.Context, in RegisterInput) (domain.User, error) {
	if err := in.Validate(); err != nil {
		return domain.User{}, err
	}
	resp, err := s.api.Register(ctx, apiclient.RegisterRequest{
		Name:                 strings.TrimSpace(in.Name),
		Email:                strings.TrimSpace(in.Email),
		Password:             in.Password,
		PasswordConfirmation: in.PasswordConfirmation,
	})
	if err != nil {
		return domain.User{}, fmt.Errorf("register: %w", err)
	}
	if err := s.signIn(ctx, resp); err != nil {
		return domain.User{}, err
	}
	s.logger.Info("registered", "user_id", resp.User.ID)
	return resp.User, nil
}

// Logout tells the backend, then always clears local credentials.
func (s *Service) Logout(ctx context.Context) error {
	if s.auth.IsAuthenticated() {
		if err := s.api.Logout(ctx); err != nil {
			s.logger.Warn("backend logout failed", "err", err)
		}
	}
	return s.auth.Logout(ctx)
}

// WhoAmI fetches the current user and refreshes the stored copy.
func (s *Service) WhoAmI(ctx context.Context) (domain.User, error) {
	user, err := s.api.Me(ctx)
	if err != nil {
		return domain.User{}, fmt.Errorf("whoami: %w", err)
	}
	if err := s.auth.SetUser(ctx, user); err != nil {
		return user, err
	}
	return user, nil
}

func (s *Service) signIn(ctx context.Context, resp apiclient.AuthResponse) error {
	if strings.TrimSpace(resp.Token) == "" {
		return ErrMissingCredential
	}
	if err := s.auth.Login(ctx, resp.User, resp.Token); err != nil {
		return fmt.Errorf("persist credentials: %w", err)
	}
	return nil
}

// Describe turns an account error into the text shown to the user. Backend
// error strings win; fallback is the flow's generic failure text.
func Describe(err error, texts i18n.Catalog, fallback string) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return texts.FieldsRequired
	case errors.Is(err, ErrPasswordMismatch):
		return texts.PasswordMismatch
	}
	if msg := apiclient.BackendMessage(err); msg != "" {
		return msg
	}
	return fallback
}
