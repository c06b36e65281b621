package services

import (
	"context"
	"errors"
	"fmt"

	"gumroad/internal/domain"
	"gumroad/internal/repos"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrBadCreds = errors.New("invalid email or password")
	// ErrSuspended is returned for sellers whose risk review suspended them.
	// Their existing sessions stop resolving too.
	ErrSuspended = errors.New("seller account is suspended")
)

// AuthService signs sellers in and resolves the seller behind a session id.
type AuthService struct {
	Users *repos.UserRepo
}

func NewAuthService(users *repos.UserRepo) *AuthService { return &AuthService{Users: users} }

// Login reports ErrSuspended only after the password matches.
func (s *AuthService) Login(ctx context.Context, sid, email, password string) (*domain.User, error) {
	u, err := s.Users.ByEmail(ctx, email)
	if err != nil {
		return nil, ErrBadCreds
	}
	if bcrypt.CompareHashAndPassword([]byte(u.Hash), []byte(password)) != nil {
		return nil, ErrBadCreds
	}
	if u.RiskState == domain.RiskStateSuspended {
		return nil, ErrSuspended
	}
	if err := s.Users.BindSession(ctx, sid, u.ID); err != nil {
		return nil, fmt.Errorf("bind session: %w", err)
	}
	return u, nil
}

func (s *AuthService) Logout(ctx context.Context, sid string) error {
	if err := s.Users.UnbindSession(ctx, sid); err != nil {
		return fmt.Errorf("unbind session: %w", err)
	}
	return nil
}

func (s *AuthService) CurrentUser(ctx context.Context, sid string) (*domain.User, error) {
	u, err := s.Users.SessionUser(ctx, sid)
	if err != nil {
		return nil, err
	}
	if u.RiskState == domain.RiskStateSuspended {
		return nil, ErrSuspended
	}
	return u, nil
}
