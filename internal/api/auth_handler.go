package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alecgard/loopkit/internal/auth"
	"github.com/alecgard/loopkit/internal/loop"
	"github.com/alecgard/loopkit/internal/user"
)

// authHandler groups authentication HTTP handlers.
type authHandler struct {
	members  MemberStore
	sessions Sessions
}

func newAuthHandler(members MemberStore, sessions Sessions) *authHandler {
	return &authHandler{members: members, sessions: sessions}
}

// Login handles POST /api/v2/auth/login.
func (h *authHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "email and password are required")
		return
	}

	acct, err := h.members.GetByEmail(r.Context(), req.Email)
	if err != nil {
		if !errors.Is(err, loop.ErrNotFound) {
			writeStoreError(w, r, err, "user")
			return
		}
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid email or password")
		return
	}

	if !user.CheckPassword(acct, req.Password) {
		auditLog(r, "login_failed", "user", acct.ID)
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid email or password")
		return
	}

	token, _, err := h.members.CreateSession(r.Context(), acct.ID)
	if err != nil {
		slog.Error("creating session", "error", err, "user_id", acct.ID)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to create session")
		return
	}

	auditLog(r, "login", "user", acct.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  acct.User,
	})
}

// Logout handles POST /api/v2/auth/logout.
func (h *authHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := auth.TokenFromContext(r.Context())
	if token == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := h.sessions.Revoke(r.Context(), token); err != nil {
		writeStoreError(w, r, err, "session")
		return
	}
	if u := auth.UserFromContext(r.Context()); u != nil {
		auditLog(r, "logout", "user", u.ID)
	}
	w.WriteHeader(http.StatusNoContent)
}
