package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tradeflow-ai/tradeflow/internal/auth"
	"github.com/tradeflow-ai/tradeflow/internal/domain"
	"github.com/tradeflow-ai/tradeflow/internal/store"
)

type signupRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Signup registers a new account. A taken username is a client error and
// performs no write.
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		Error(w, http.StatusBadRequest, "username and password are required")
		return
	}

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		slog.Error("failed to hash password", "error", err)
		Error(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	now := time.Now()
	user := &domain.User{
		ID:             uuid.NewString(),
		Username:       req.Username,
		HashedPassword: hashed,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := h.repo.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, store.ErrUsernameTaken) {
			Error(w, http.StatusBadRequest, "username already registered")
			return
		}
		slog.Error("failed to create user", "error", err)
		Error(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	slog.Info("user registered", "username", user.Username)
	JSON(w, http.StatusOK, map[string]string{"message": "User created successfully"})
}

// Token exchanges form-encoded credentials for a bearer token. The response
// does not reveal whether the username or the password was wrong.
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		Error(w, http.StatusBadRequest, "invalid form body")
		return
	}
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")

	user, err := h.repo.GetUserByUsername(r.Context(), username)
	if err != nil {
		slog.Error("failed to look up user", "error", err)
		Error(w, http.StatusInternalServerError, "login failed")
		return
	}
	if user == nil || !auth.VerifyPassword(user.HashedPassword, password) {
		Error(w, http.StatusUnauthorized, auth.ErrInvalidCredentials.Error())
		return
	}

	token, err := h.issuer.Issue(user.Username)
	if err != nil {
		slog.Error("failed to issue token", "error", err)
		Error(w, http.StatusInternalServerError, "login failed")
		return
	}

	JSON(w, http.StatusOK, map[string]string{
		"access_token": token,
		"token_type":   "bearer",
	})
}
