package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"prepaidgrid/backend/services/control-service/internal/auth"
	"prepaidgrid/backend/services/control-service/internal/models"
)

// Authenticator logs operators in.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*auth.LoginResult, error)
}

// NewLoginHandler handles POST /auth/login.
func NewLoginHandler(authService Authenticator, logger *zap.Logger) http.HandlerFunc {
	type request struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	type response struct {
		Token     string       `json:"token"`
		TokenType string       `json:"token_type"`
		ExpiresAt time.Time    `json:"expires_at"`
		User      *models.User `json:"user"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if !decodeJSON(w, r, &req) {
			return
		}

		req.Email = strings.TrimSpace(req.Email)
		if req.Email == "" || req.Password == "" {
			writeError(w, http.StatusBadRequest, "email and password are required")
			return
		}

		res, err := authService.Login(r.Context(), req.Email, req.Password)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidCredentials) {
				writeError(w, http.StatusUnauthorized, "invalid credentials")
				return
			}
			logger.Error("login failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to login")
			return
		}

		writeJSON(w, http.StatusOK, response{
			Token:     res.Token,
			TokenType: "Bearer",
			ExpiresAt: res.ExpiresAt,
			User:      res.User,
		})
	}
}
