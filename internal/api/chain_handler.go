package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type chainHandler struct {
	chains ChainReader
}

func newChainHandler(chains ChainReader) *chainHandler {
	return &chainHandler{chains: chains}
}

// Get handles GET /api/v2/chain/{uid}.
func (h *chainHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.chains.Get(r.Context(), chi.URLParam(r, "uid"))
	if err != nil {
		writeStoreError(w, r, err, "chain")
		return
	}
	writeJSON(w, http.StatusOK, c)
}
