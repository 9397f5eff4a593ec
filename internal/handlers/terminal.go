package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/termweave/termweave/internal/auth"
	"github.com/termweave/termweave/internal/bridge"
	"github.com/termweave/termweave/internal/database"
	"github.com/termweave/termweave/internal/logutil"
	"github.com/termweave/termweave/internal/terminal"
	"github.com/termweave/termweave/internal/tmux"
)

const wsReadLimit = 1024 * 1024

// Terminal upgrades websocket connections and runs the relay for one
// session attachment. Token verification happens before any tmux or
// pty work so unauthenticated connections are turned away cheaply.
type Terminal struct {
	Tokens *auth.TokenManager
	Dir    *tmux.Directory
	Term   *terminal.Manager
	Audit  *database.Store
}

func sizeParam(r *http.Request, key string, fallback uint16) uint16 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > 0xffff {
		return fallback
	}
	return uint16(n)
}

func (h *Terminal) Serve(w http.ResponseWriter, r *http.Request) {
	name := tmux.ParseID(chi.URLParam(r, "name"))
	token := r.URL.Query().Get("token")

	// The browser WebSocket API cannot set headers, so the access token
	// rides in the query string. Verify before the upgrade touches
	// anything stateful.
	_, authErr := h.Tokens.Verify(token, auth.TokenAccess)

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Printf("terminal: websocket accept from %s failed: %v", r.RemoteAddr, err)
		return
	}
	conn.SetReadLimit(wsReadLimit)

	if authErr != nil {
		log.Printf("terminal: rejected %s for %s: %v", r.RemoteAddr, logutil.SanitizeForLog(name), authErr)
		conn.Close(bridge.CloseAuthFailed, "authentication failed")
		return
	}

	if _, err := h.Dir.Get(r.Context(), name); err != nil {
		if errors.Is(err, tmux.ErrSessionNotFound) {
			conn.Close(bridge.CloseSessionNotFound, "session not found")
		} else {
			log.Printf("terminal: lookup %s failed: %v", logutil.SanitizeForLog(name), err)
			conn.Close(bridge.CloseSessionUnavailable, "session unavailable")
		}
		return
	}

	cols := sizeParam(r, "cols", terminal.DefaultCols)
	rows := sizeParam(r, "rows", terminal.DefaultRows)

	handle, history, err := h.Term.Attach(name, cols, rows)
	if err != nil {
		if errors.Is(err, terminal.ErrSessionBusy) {
			conn.Close(bridge.CloseSessionBusy, "session busy")
		} else {
			log.Printf("terminal: attach %s failed: %v", logutil.SanitizeForLog(name), err)
			conn.Close(bridge.CloseSessionUnavailable, "session unavailable")
		}
		return
	}
	defer h.Term.Detach(handle)

	if h.Audit != nil {
		h.Audit.Record(database.EventBridgeAttached, name, r.RemoteAddr, "")
	}

	b := bridge.New(conn, handle, bridge.Config{
		Session: name,
		Remote:  r.RemoteAddr,
		Cols:    cols,
		Rows:    rows,
		History: history.Snapshot(),
		Mirror:  history,
		Detach:  func() { h.Term.Detach(handle) },
	})
	reason := b.Run(r.Context())

	if h.Audit != nil {
		h.Audit.Record(database.EventBridgeDetached, name, r.RemoteAddr, reason)
	}
}
