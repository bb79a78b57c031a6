// Package auth authenticates dashboard operators.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"prepaidgrid/backend/services/control-service/internal/apperr"
	"prepaidgrid/backend/services/control-service/internal/models"
)

// ErrInvalidCredentials is returned for any failed login.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// DefaultRole is assigned to accounts created without one.
const DefaultRole = "operator"

// UserRepository is the user storage the service needs.
type UserRepository interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

// Service handles operator accounts.
type Service struct {
	repo   UserRepository
	hasher Hasher
	tokens *TokenService
	logger *zap.Logger
}

// NewService builds the service.
func NewService(repo UserRepository, hasher Hasher, tokens *TokenService, logger *zap.Logger) *Service {
	return &Service{repo: repo, hasher: hasher, tokens: tokens, logger: logger}
}

// Login checks credentials and issues a token.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}

	token, expires, err := s.tokens.Generate(user.ID, user.Email, user.Role)
	if err != nil {
		return nil, err
	}
	s.logger.Info("operator logged in", zap.Int64("user_id", user.ID))
	return &LoginResult{Token: token, ExpiresAt: expires, User: user}, nil
}

// EnsureUser creates the account when it does not exist yet. Used to seed the first
// operator at startup.
func (s *Service) EnsureUser(ctx context.Context, email, password, role string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return apperr.Invalid("email", "is required")
	}
	if _, err := s.repo.GetUserByEmail(ctx, email); err == nil {
		return nil
	} else if !apperr.IsNotFound(err) {
		return err
	}
	if role == "" {
		role = DefaultRole
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return apperr.Invalid("password", "%v", err)
	}
	user := &models.User{Email: email, PasswordHash: hash, Role: role}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		if apperr.IsConflict(err) {
			return nil
		}
		return err
	}
	s.logger.Info("operator account created", zap.Int64("user_id", user.ID), zap.String("email", user.Email))
	return nil
}
