package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"prepaidgrid/backend/services/control-service/internal/apperr"
	"prepaidgrid/backend/services/control-service/internal/models"
)

type memoryUsers struct {
	users map[string]*models.User
	next  int64
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{users: make(map[string]*models.User)}
}

func (m *memoryUsers) CreateUser(_ context.Context, user *models.User) error {
	if _, ok := m.users[user.Email]; ok {
		return apperr.Conflict("user", "duplicate")
	}
	m.next++
	user.ID = m.next
	copyUser := *user
	m.users[user.Email] = &copyUser
	return nil
}

func (m *memoryUsers) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	u, ok := m.users[email]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", email, apperr.ErrNotFound)
	}
	copyUser := *u
	return &copyUser, nil
}

func newTestService() (*Service, *memoryUsers) {
	repo := newMemoryUsers()
	svc := NewService(repo, NewBcryptHasher(bcrypt.MinCost), NewTokenService("secret", time.Hour), zap.NewNop())
	return svc, repo
}

func TestLoginIssuesValidToken(t *testing.T) {
	svc, _ := newTestService()
	if err := svc.EnsureUser(context.Background(), "Admin@Example.com", "s3cret", ""); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}

	res, err := svc.Login(context.Background(), " admin@example.com", "s3cret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	claims, err := svc.tokens.Validate(res.Token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.UserID != res.User.ID || claims.Role != DefaultRole || claims.Email != "admin@example.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc, _ := newTestService()
	if err := svc.EnsureUser(context.Background(), "ops@example.com", "right", "admin"); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}

	cases := []struct{ email, password string }{
		{"ops@example.com", "wrong"},
		{"nobody@example.com", "right"},
		{"", ""},
	}
	for _, tc := range cases {
		if _, err := svc.Login(context.Background(), tc.email, tc.password); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("Login(%q): expected invalid credentials, got %v", tc.email, err)
		}
	}
}

func TestEnsureUserIsIdempotent(t *testing.T) {
	svc, repo := newTestService()
	for i := 0; i < 2; i++ {
		if err := svc.EnsureUser(context.Background(), "ops@example.com", "pw", ""); err != nil {
			t.Fatalf("EnsureUser #%d: %v", i, err)
		}
	}
	if len(repo.users) != 1 {
		t.Fatalf("expected one user, got %d", len(repo.users))
	}
}

func TestValidateRejectsForeignAndExpiredTokens(t *testing.T) {
	issuer := NewTokenService("secret", time.Hour)
	other := NewTokenService("other", time.Hour)

	token, _, err := other.Generate(1, "a@b.c", "operator")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := issuer.Validate(token); err == nil {
		t.Fatalf("token signed with another secret must be rejected")
	}

	issuer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _, err := issuer.Generate(1, "a@b.c", "operator")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := issuer.Validate(expired); err == nil || !strings.Contains(err.Error(), "expired") {
		t.Fatalf("expected expiry error, got %v", err)
	}

	if _, _, err := issuer.Generate(0, "", ""); err == nil {
		t.Fatalf("expected error for missing user id")
	}
}

func TestBcryptHasherRejectsUnusablePasswords(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)

	if _, err := h.Hash(""); !errors.Is(err, errEmptyPassword) {
		t.Fatalf("Hash(empty): expected errEmptyPassword, got %v", err)
	}
	if _, err := h.Hash(strings.Repeat("x", maxPasswordBytes+1)); !errors.Is(err, errPasswordTooLong) {
		t.Fatalf("Hash(73 bytes): expected errPasswordTooLong, got %v", err)
	}

	hash, err := h.Hash(strings.Repeat("x", maxPasswordBytes))
	if err != nil {
		t.Fatalf("Hash(72 bytes): %v", err)
	}
	if err := h.Compare(hash, strings.Repeat("x", maxPasswordBytes)); err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if err := h.Compare(hash, "wrong"); err == nil {
		t.Fatal("Compare: expected mismatch")
	}
}
