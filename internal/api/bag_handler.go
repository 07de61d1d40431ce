package api

import (
	"net/http"

	"github.com/alecgard/loopkit/internal/auth"
	"github.com/alecgard/loopkit/internal/loop"
	"github.com/go-chi/chi/v5"
)

type bagHandler struct {
	bags BagReader
}

func newBagHandler(bags BagReader) *bagHandler {
	return &bagHandler{bags: bags}
}

// ListForUser handles GET /api/v2/bags?user_uid=. Members can only list the
// bags they hold themselves; user_uid defaults to the caller.
func (h *bagHandler) ListForUser(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())
	if u == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "not authenticated")
		return
	}

	uid := r.URL.Query().Get("user_uid")
	if uid == "" {
		uid = u.ID
	}
	if uid != u.ID {
		writeError(w, http.StatusForbidden, "forbidden", "members can only list their own bags")
		return
	}

	bags, err := h.bags.ListByUser(r.Context(), uid)
	if err != nil {
		writeStoreError(w, r, err, "bags")
		return
	}
	writeJSON(w, http.StatusOK, bags)
}

// ListForChain handles GET /api/v2/chain/{uid}/bags. Only approved members
// of the chain see where its bags are.
func (h *bagHandler) ListForChain(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())
	if u == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "not authenticated")
		return
	}

	chainID := chi.URLParam(r, "uid")
	if !loop.IsApprovedMember(u, chainID) {
		writeError(w, http.StatusForbidden, "forbidden", "only approved members can list a loop's bags")
		return
	}

	bags, err := h.bags.ListByChain(r.Context(), chainID)
	if err != nil {
		writeStoreError(w, r, err, "bags")
		return
	}
	writeJSON(w, http.StatusOK, bags)
}
