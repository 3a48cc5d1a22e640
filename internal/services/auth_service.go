package services

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"dukapos/internal/domain"
	"dukapos/internal/repos"
)

var ErrBadCreds = errors.New("invalid email or password")

// AuthService is the Identity capability: it turns a session into the acting
// cashier and their business.
type AuthService struct {
	Users *repos.UserRepo
}

func (s *AuthService) Login(ctx context.Context, sid, email, password string) (*domain.User, error) {
	u, err := s.Users.ByEmail(ctx, email)
	if err != nil {
		return nil, ErrBadCreds
	}
	if bcrypt.CompareHashAndPassword([]byte(u.Hash), []byte(password)) != nil {
		return nil, ErrBadCreds
	}
	if err := s.Users.BindSession(ctx, sid, u.ID); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *AuthService) Logout(ctx context.Context, sid string) error {
	return s.Users.UnbindSession(ctx, sid)
}

func (s *AuthService) CurrentUser(ctx context.Context, sid string) (*domain.User, error) {
	return s.Users.SessionUser(ctx, sid)
}

// Identity resolves the session to the acting cashier.
func (s *AuthService) Identity(ctx context.Context, sid string) (domain.Identity, error) {
	u, err := s.Users.SessionUser(ctx, sid)
	if err != nil {
		return domain.Identity{}, err
	}
	return u.Identity(), nil
}
