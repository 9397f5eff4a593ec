// Package terminal spawns and owns pseudoterminal-backed attach
// subprocesses, one live handle per session at most.
package terminal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/creack/pty"
)

var (
	// ErrPtyClosed means the subprocess behind the handle has exited.
	ErrPtyClosed = errors.New("pty closed")
	// ErrSessionBusy means the session already has a live handle. Policy:
	// one writer, no read-only observers; a second attach is rejected.
	ErrSessionBusy = errors.New("session already attached")
)

// Input and dimension bounds enforced on client-supplied values.
const (
	MaxInputMessageSize = 64 * 1024

	MaxCols uint16 = 500
	MaxRows uint16 = 500

	DefaultCols uint16 = 80
	DefaultRows uint16 = 24
)

// ClampSize normalizes client-reported terminal dimensions: zero falls
// back to the defaults, oversized values are capped.
func ClampSize(cols, rows uint16) (uint16, uint16) {
	if cols == 0 {
		cols = DefaultCols
	}
	if rows == 0 {
		rows = DefaultRows
	}
	if cols > MaxCols {
		cols = MaxCols
	}
	if rows > MaxRows {
		rows = MaxRows
	}
	return cols, rows
}

// Handle is one live pseudoterminal-backed subprocess attached to exactly
// one session. The bridge that attached it is its sole reader and writer.
type Handle struct {
	session string
	cmd     *exec.Cmd
	ptmx    *os.File

	mu     sync.Mutex
	cols   uint16
	rows   uint16
	reason string

	done      chan struct{}
	closeOnce sync.Once
}

func startHandle(session string, cmd *exec.Cmd, cols, rows uint16) (*Handle, error) {
	cols, rows = ClampSize(cols, rows)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}

	h := &Handle{
		session: session,
		cmd:     cmd,
		ptmx:    ptmx,
		cols:    cols,
		rows:    rows,
		done:    make(chan struct{}),
	}
	go func() {
		cmd.Wait()
		close(h.done)
	}()
	return h, nil
}

// Session returns the name of the session this handle is attached to.
func (h *Handle) Session() string {
	return h.session
}

// Read returns pty output as the subprocess produces it; consumed by
// exactly one bridge loop. Once the subprocess exits (or the handle is
// closed) the error is io.EOF.
func (h *Handle) Read(p []byte) (int, error) {
	n, err := h.ptmx.Read(p)
	if err != nil {
		// Linux reports EIO on pty master reads after the child exits.
		if errors.Is(err, syscall.EIO) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.EOF) {
			return n, io.EOF
		}
		return n, err
	}
	return n, nil
}

// Write forwards raw bytes to the subprocess input stream.
func (h *Handle) Write(p []byte) (int, error) {
	select {
	case <-h.done:
		return 0, ErrPtyClosed
	default:
	}
	n, err := h.ptmx.Write(p)
	if err != nil {
		select {
		case <-h.done:
			return n, ErrPtyClosed
		default:
		}
		return n, err
	}
	return n, nil
}

// Resize changes the terminal dimensions, clamping to the allowed bounds.
// Unchanged dimensions are a no-op so rapid resize events do not turn into
// a signal storm on the subprocess.
func (h *Handle) Resize(cols, rows uint16) error {
	cols, rows = ClampSize(cols, rows)

	h.mu.Lock()
	if cols == h.cols && rows == h.rows {
		h.mu.Unlock()
		return nil
	}
	h.cols = cols
	h.rows = rows
	h.mu.Unlock()

	if err := pty.Setsize(h.ptmx, &pty.Winsize{Cols: cols, Rows: rows}); err != nil {
		return fmt.Errorf("resize pty: %w", err)
	}
	return nil
}

// Size returns the current terminal dimensions.
func (h *Handle) Size() (cols, rows uint16) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cols, h.rows
}

// Done is closed when the subprocess exits, by itself or via Close.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Exited reports whether the subprocess has exited.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// CloseReason returns the reason recorded for this handle's termination,
// or "" if none was recorded.
func (h *Handle) CloseReason() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reason
}

func (h *Handle) setReason(reason string) {
	h.mu.Lock()
	if h.reason == "" {
		h.reason = reason
	}
	h.mu.Unlock()
}

// Close terminates the attach subprocess and releases the pty. Closing a
// handle detaches from the tmux session; it never kills the session
// itself.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		h.ptmx.Close()
		if h.cmd.Process != nil {
			h.cmd.Process.Kill()
		}
	})
	return nil
}
