package handlers

import (
	"log"
	"net/http"
	"strconv"

	"github.com/termweave/termweave/internal/database"
)

// Audit exposes recent audit events for operators.
type Audit struct {
	Store *database.Store
}

func (h *Audit) Recent(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	events, err := h.Store.Recent(limit)
	if err != nil {
		log.Printf("audit: query failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to read audit log")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}
