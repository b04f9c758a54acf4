// Package accounts registers users and signs them in.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/PaulBabatuyi/realtyhub/internal/apperr"
	"github.com/PaulBabatuyi/realtyhub/internal/auth"
	"github.com/PaulBabatuyi/realtyhub/internal/data"
	"github.com/PaulBabatuyi/realtyhub/internal/normalize"
)

const minPasswordLen = 8

// Service implements registration and login.
type Service struct {
	users  data.UserStore
	jwt    *auth.JWTManager
	logger *log.Logger
}

// NewService returns a Service.
func NewService(users data.UserStore, jwt *auth.JWTManager, logger *log.Logger) *Service {
	return &Service{users: users, jwt: jwt, logger: logger.With("component", "accounts")}
}

// Register creates a user and signs it in.
func (s *Service) Register(ctx context.Context, username, email, password string) (*data.User, auth.Pair, error) {
	username = normalize.Username(username)
	email = normalize.Email(email)
	var fe apperr.FieldErrors
	if !normalize.ValidUsername(username) {
		fe.Add("username", "must be 3-32 characters of a-z, 0-9, _ or -")
	}
	if !strings.Contains(email, "@") {
		fe.Add("email", "is not an email address")
	}
	if len(password) < minPasswordLen {
		fe.Add("password", fmt.Sprintf("must be at least %d characters", minPasswordLen))
	}
	if err := fe.Err(); err != nil {
		return nil, auth.Pair{}, err
	}

	hashed, err := auth.HashPassword(password)
	if err != nil {
		return nil, auth.Pair{}, fmt.Errorf("hash password: %w", err)
	}
	user, err := s.users.CreateUser(ctx, &data.User{
		Username: username,
		Emails:   []data.EmailAddress{{Address: email, Primary: true}},
		Password: hashed,
	})
	if err != nil {
		return nil, auth.Pair{}, err
	}
	pair, err := s.jwt.IssuePair(user.ID, user.Username)
	if err != nil {
		return nil, auth.Pair{}, fmt.Errorf("issue credentials: %w", err)
	}
	s.logger.Info("user registered", "user", user.Username)
	return user, pair, nil
}

// Login signs a user in by username or email. Unknown users and wrong
// passwords fail the same way.
func (s *Service) Login(ctx context.Context, identifier, password string) (*data.User, auth.Pair, error) {
	identifier = strings.TrimSpace(identifier)
	var (
		user *data.User
		err  error
	)
	if strings.Contains(identifier, "@") {
		user, err = s.users.GetUserByEmail(ctx, identifier)
	} else {
		user, err = s.users.GetUserByUsername(ctx, identifier)
	}
	invalid := fmt.Errorf("%w: invalid credentials", apperr.ErrUnauthenticated)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return nil, auth.Pair{}, invalid
	case err != nil:
		return nil, auth.Pair{}, err
	}
	if err := auth.CheckPassword(user.Password, password); err != nil {
		return nil, auth.Pair{}, invalid
	}
	pair, err := s.jwt.IssuePair(user.ID, user.Username)
	if err != nil {
		return nil, auth.Pair{}, fmt.Errorf("issue credentials: %w", err)
	}
	return user, pair, nil
}

// Me returns the user a verified credential belongs to.
func (s *Service) Me(ctx context.Context, claims *auth.Claims) (*data.User, error) {
	user, err := s.users.GetUserByUsername(ctx, claims.Username)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, fmt.Errorf("%w: user no longer exists", apperr.ErrUnauthenticated)
	}
	return user, err
}
