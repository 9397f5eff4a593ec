package terminal

import "sync"

// DefaultScrollbackSize is the default per-session scrollback cap.
const DefaultScrollbackSize = 256 * 1024

// Scrollback is a bounded, thread-safe buffer of recent terminal output,
// kept per session so a re-attaching client sees what it missed. Oldest
// data is trimmed once the cap is exceeded.
type Scrollback struct {
	mu     sync.Mutex
	data   []byte
	maxLen int
}

// NewScrollback creates a buffer holding at most maxLen bytes. A
// non-positive maxLen uses DefaultScrollbackSize.
func NewScrollback(maxLen int) *Scrollback {
	if maxLen <= 0 {
		maxLen = DefaultScrollbackSize
	}
	return &Scrollback{maxLen: maxLen}
}

// Write appends output, trimming from the front when the cap is exceeded.
// Implements io.Writer so the bridge can mirror pty output into it.
func (s *Scrollback) Write(p []byte) (int, error) {
	s.mu.Lock()
	s.data = append(s.data, p...)
	if len(s.data) > s.maxLen {
		s.data = s.data[len(s.data)-s.maxLen:]
	}
	s.mu.Unlock()
	return len(p), nil
}

// Snapshot returns a copy of the current contents.
func (s *Scrollback) Snapshot() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, len(s.data))
	copy(out, s.data)
	return out
}

// Len returns the current buffer length.
func (s *Scrollback) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}
