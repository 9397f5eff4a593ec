package terminal

import (
	"fmt"
	"log"
	"os/exec"
	"sync"

	"github.com/termweave/termweave/internal/logutil"
)

// Manager owns all live pty handles and the per-session scrollback
// buffers. It enforces the attach exclusivity policy: at most one live
// handle per session, a second concurrent attach is rejected with
// ErrSessionBusy.
//
// Scrollback outlives handles: it is kept per session name until the
// session is destroyed, so a client that detaches and re-attaches sees
// the output it missed.
type Manager struct {
	mu             sync.Mutex
	attachCmd      func(name string) *exec.Cmd
	scrollbackSize int
	handles        map[string]*Handle
	history        map[string]*Scrollback
}

// NewManager creates a Manager spawning attach subprocesses via attachCmd.
func NewManager(attachCmd func(name string) *exec.Cmd, scrollbackSize int) *Manager {
	return &Manager{
		attachCmd:      attachCmd,
		scrollbackSize: scrollbackSize,
		handles:        make(map[string]*Handle),
		history:        make(map[string]*Scrollback),
	}
}

// Attach spawns an attach subprocess for the session and returns the
// handle together with the session's scrollback buffer. The mutex guards
// only the map bookkeeping; the subprocess spawn happens outside it so a
// slow spawn never stalls attaches to other sessions.
func (m *Manager) Attach(name string, cols, rows uint16) (*Handle, *Scrollback, error) {
	m.mu.Lock()
	if h := m.handles[name]; h != nil {
		if !h.Exited() {
			m.mu.Unlock()
			return nil, nil, ErrSessionBusy
		}
		delete(m.handles, name)
	}
	sb := m.history[name]
	if sb == nil {
		sb = NewScrollback(m.scrollbackSize)
		m.history[name] = sb
	}
	cmd := m.attachCmd(name)
	m.mu.Unlock()

	h, err := startHandle(name, cmd, cols, rows)
	if err != nil {
		return nil, nil, fmt.Errorf("attach %s: %w", name, err)
	}

	m.mu.Lock()
	if prev := m.handles[name]; prev != nil && !prev.Exited() {
		// Lost the race to a concurrent attach.
		m.mu.Unlock()
		h.Close()
		return nil, nil, ErrSessionBusy
	}
	m.handles[name] = h
	m.mu.Unlock()
	return h, sb, nil
}

// Detach releases a bridge's handle, terminating the attach subprocess.
// The tmux session and its scrollback survive: detach never kills, only
// Destroy does.
func (m *Manager) Detach(h *Handle) {
	m.mu.Lock()
	if m.handles[h.session] == h {
		delete(m.handles, h.session)
	}
	m.mu.Unlock()
	h.Close()
}

// Attached reports whether the session currently has a live handle.
func (m *Manager) Attached(name string) bool {
	m.mu.Lock()
	h := m.handles[name]
	m.mu.Unlock()
	return h != nil && !h.Exited()
}

// Destroy closes any live handle for the session, recording the given
// close reason for the bridge to report, and drops the scrollback. Called
// when the session itself is being destroyed.
func (m *Manager) Destroy(name, reason string) {
	m.mu.Lock()
	h := m.handles[name]
	delete(m.handles, name)
	delete(m.history, name)
	m.mu.Unlock()

	if h != nil {
		h.setReason(reason)
		h.Close()
		log.Printf("terminal: destroyed handle for session %s", logutil.SanitizeForLog(name))
	}
}

// CloseAll terminates every live handle. Used on server shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	handles := make([]*Handle, 0, len(m.handles))
	for _, h := range m.handles {
		handles = append(handles, h)
	}
	m.handles = make(map[string]*Handle)
	m.mu.Unlock()

	for _, h := range handles {
		h.setReason("server shutting down")
		h.Close()
	}
}
