package handlers

import (
	"net/http"

	"github.com/termweave/termweave/internal/tmux"
)

// Health reports liveness and whether the tmux binary is usable.
type Health struct {
	Dir *tmux.Directory
}

func (h *Health) Check(w http.ResponseWriter, r *http.Request) {
	tmuxOK := h.Dir.CheckBinary(r.Context()) == nil
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"tmux_available": tmuxOK,
	})
}
