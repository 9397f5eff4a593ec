package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/termweave/termweave/internal/database"
	"github.com/termweave/termweave/internal/logutil"
	"github.com/termweave/termweave/internal/terminal"
	"github.com/termweave/termweave/internal/tmux"
)

// Sessions serves the session directory CRUD surface.
type Sessions struct {
	Dir   *tmux.Directory
	Term  *terminal.Manager
	Audit *database.Store
}

type sessionResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Location  string    `json:"location"`
	Windows   int       `json:"windows"`
	Attached  bool      `json:"attached"`
	CreatedAt time.Time `json:"created_at"`
	Width     int       `json:"width,omitempty"`
	Height    int       `json:"height,omitempty"`
}

func (h *Sessions) toResponse(s tmux.Session) sessionResponse {
	return sessionResponse{
		ID:        s.ID(),
		Name:      s.Name,
		Location:  s.Location,
		Windows:   s.Windows,
		Attached:  s.Attached || h.Term.Attached(s.Name),
		CreatedAt: s.CreatedAt,
		Width:     s.Width,
		Height:    s.Height,
	}
}

// List returns all sessions in the directory's stable order.
func (h *Sessions) List(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.Dir.List(r.Context())
	if err != nil {
		log.Printf("sessions: list failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}

	resp := make([]sessionResponse, len(sessions))
	for i, s := range sessions {
		resp[i] = h.toResponse(s)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": resp})
}

// Create starts a new session. An omitted name gets a generated one.
func (h *Sessions) Create(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	s, err := h.Dir.Create(r.Context(), body.Name)
	switch {
	case errors.Is(err, tmux.ErrInvalidName):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, tmux.ErrSessionExists):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		log.Printf("sessions: create %q failed: %v", logutil.SanitizeForLog(body.Name), err)
		writeError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}

	if h.Audit != nil {
		h.Audit.Record(database.EventSessionCreated, s.Name, clientIP(r), "")
	}
	log.Printf("sessions: created %s", s.Name)
	writeJSON(w, http.StatusCreated, h.toResponse(s))
}

// Get returns one session by name.
func (h *Sessions) Get(w http.ResponseWriter, r *http.Request) {
	name := tmux.ParseID(chi.URLParam(r, "name"))

	s, err := h.Dir.Get(r.Context(), name)
	if errors.Is(err, tmux.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	if err != nil {
		log.Printf("sessions: get %s failed: %v", logutil.SanitizeForLog(name), err)
		writeError(w, http.StatusInternalServerError, "Failed to inspect session")
		return
	}
	writeJSON(w, http.StatusOK, h.toResponse(s))
}

// Delete destroys a session and any attached pty handle. Destroying a
// session that is already gone is a 404, so callers can distinguish
// "already gone" from "gone now".
func (h *Sessions) Delete(w http.ResponseWriter, r *http.Request) {
	name := tmux.ParseID(chi.URLParam(r, "name"))

	// Record the close reason on any live handle before tmux kills the
	// attach process, so the bridge reports "session destroyed" rather
	// than a generic end.
	h.Term.Destroy(name, "session destroyed")

	err := h.Dir.Destroy(r.Context(), name)
	if errors.Is(err, tmux.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	if err != nil {
		log.Printf("sessions: destroy %s failed: %v", logutil.SanitizeForLog(name), err)
		writeError(w, http.StatusInternalServerError, "Failed to destroy session")
		return
	}

	if h.Audit != nil {
		h.Audit.Record(database.EventSessionDestroyed, name, clientIP(r), "")
	}
	log.Printf("sessions: destroyed %s", logutil.SanitizeForLog(name))
	writeJSON(w, http.StatusOK, map[string]string{"status": "destroyed"})
}
