package api

import (
	"net/http"
	"time"

	"github.com/alecgard/loopkit/internal/auth"
	"github.com/alecgard/loopkit/internal/loop"
	"github.com/go-chi/chi/v5"
)

// memberHandler serves the authenticated member's own account.
type memberHandler struct {
	members MemberStore
	chains  ChainReader
	now     func() time.Time
}

func newMemberHandler(members MemberStore, chains ChainReader) *memberHandler {
	return &memberHandler{members: members, chains: chains, now: time.Now}
}

// Me handles GET /api/v2/user/me.
func (h *memberHandler) Me(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())
	if u == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "not authenticated")
		return
	}

	acct, err := h.members.GetByID(r.Context(), u.ID)
	if err != nil {
		writeStoreError(w, r, err, "user")
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// SetPause handles PATCH /api/v2/user/{uid}/pause.
func (h *memberHandler) SetPause(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")

	var req struct {
		PausedUntil *time.Time `json:"paused_until"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	if req.PausedUntil != nil && !req.PausedUntil.After(h.now()) {
		// A window that already ended is the same as not pausing.
		req.PausedUntil = nil
	}

	if err := h.members.SetPausedUntil(r.Context(), uid, req.PausedUntil); err != nil {
		writeStoreError(w, r, err, "user")
		return
	}

	var until any
	if req.PausedUntil != nil {
		until = req.PausedUntil.UTC().Format(time.RFC3339)
	}
	auditLog(r, "set_pause", "user", uid, "paused_until", until)
	writeJSON(w, http.StatusOK, map[string]any{"paused_until": req.PausedUntil})
}

// SetChain handles PUT /api/v2/user/{uid}/chain. Only chains the member is an
// approved member of can be selected; a null chain_uid clears the selection.
func (h *memberHandler) SetChain(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	u := auth.UserFromContext(r.Context())

	var req struct {
		ChainID *string `json:"chain_uid"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	chainID := ""
	if req.ChainID != nil {
		chainID = *req.ChainID
	}

	if chainID != "" {
		if !loop.IsApprovedMember(u, chainID) {
			writeError(w, http.StatusUnprocessableEntity, "validation_error", "not an approved member of this chain")
			return
		}
		if _, err := h.chains.Get(r.Context(), chainID); err != nil {
			writeStoreError(w, r, err, "chain")
			return
		}
	}

	if err := h.members.SetSelectedChain(r.Context(), uid, chainID); err != nil {
		writeStoreError(w, r, err, "user")
		return
	}

	auditLog(r, "set_chain", "user", uid, "chain_uid", chainID)
	writeJSON(w, http.StatusOK, map[string]any{"chain_uid": req.ChainID})
}
