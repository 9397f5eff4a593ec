// Package tmux is the session directory: the authoritative mapping from
// session names to live tmux sessions. All operations shell out to the
// tmux binary; tmux itself is the serialization point for session
// mutations, so the directory holds no lock across a subprocess call.
package tmux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrSessionNotFound means the named session does not exist. A repeat
	// destroy returns this too, so callers can tell "already gone" from
	// "gone now".
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExists means a create collided with an existing name.
	ErrSessionExists = errors.New("session already exists")
	// ErrInvalidName means the session name failed validation.
	ErrInvalidName = errors.New("invalid session name")
)

// listFormat asks tmux for the fields backing a Session record.
const listFormat = "#{session_name}|#{session_created}|#{session_attached}|#{session_windows}|#{session_width}|#{session_height}"

const commandTimeout = 10 * time.Second

var nameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Session is one tmux session as reported by the server. The identity is
// the composite {Location, Name}; Location is a fixed value today but
// leaves room for non-local placement.
type Session struct {
	Location  string    `json:"location"`
	Name      string    `json:"name"`
	Windows   int       `json:"windows"`
	Attached  bool      `json:"attached"`
	CreatedAt time.Time `json:"created_at"`
	Width     int       `json:"width,omitempty"`
	Height    int       `json:"height,omitempty"`
}

// ID returns the composite session identifier, "location:name".
func (s Session) ID() string {
	return s.Location + ":" + s.Name
}

// ParseID extracts the session name from a composite identifier. A bare
// name passes through unchanged.
func ParseID(id string) string {
	if _, name, ok := strings.Cut(id, ":"); ok {
		return name
	}
	return id
}

// Result is the outcome of one tmux invocation. Code carries the exit
// status; a non-nil error from a Runner means the command could not run
// at all.
type Result struct {
	Stdout string
	Stderr string
	Code   int
}

// Runner executes the tmux binary. Injectable so tests can fake the
// subprocess boundary.
type Runner func(ctx context.Context, args ...string) (Result, error)

// CommandRunner returns a Runner that executes bin with a bounded
// timeout per invocation.
func CommandRunner(bin string) Runner {
	return func(ctx context.Context, args ...string) (Result, error) {
		ctx, cancel := context.WithTimeout(ctx, commandTimeout)
		defer cancel()

		cmd := exec.CommandContext(ctx, bin, args...)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		err := cmd.Run()
		res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				res.Code = exitErr.ExitCode()
				return res, nil
			}
			if ctx.Err() != nil {
				return res, fmt.Errorf("%s command timed out", bin)
			}
			return res, fmt.Errorf("run %s: %w", bin, err)
		}
		return res, nil
	}
}

// Directory lists, creates, inspects, and destroys tmux sessions.
type Directory struct {
	location string
	bin      string
	run      Runner
	nowFn    func() time.Time // injectable clock for testing
}

// NewDirectory creates a Directory for the given location identifier and
// tmux binary.
func NewDirectory(location, bin string) *Directory {
	return NewDirectoryWithRunner(location, bin, CommandRunner(bin))
}

// NewDirectoryWithRunner creates a Directory with a custom Runner behind
// the subprocess boundary.
func NewDirectoryWithRunner(location, bin string, run Runner) *Directory {
	return &Directory{
		location: location,
		bin:      bin,
		run:      run,
		nowFn:    time.Now,
	}
}

// CheckBinary verifies tmux is installed and runnable.
func (d *Directory) CheckBinary(ctx context.Context) error {
	res, err := d.run(ctx, "-V")
	if err != nil {
		return fmt.Errorf("tmux is not installed: %w", err)
	}
	if res.Code != 0 {
		return fmt.Errorf("tmux is not accessible: %s", strings.TrimSpace(res.Stderr))
	}
	return nil
}

// List returns all sessions in the order tmux reports them, which is
// stable across calls absent external changes. No server running means no
// sessions, not an error.
func (d *Directory) List(ctx context.Context) ([]Session, error) {
	res, err := d.run(ctx, "list-sessions", "-F", listFormat)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	if res.Code != 0 {
		stderr := strings.ToLower(res.Stderr)
		if strings.Contains(stderr, "no server running") || strings.Contains(stderr, "no sessions") {
			return []Session{}, nil
		}
		return nil, fmt.Errorf("list sessions: %s", strings.TrimSpace(res.Stderr))
	}

	var sessions []Session
	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		if line == "" {
			continue
		}
		s, ok := d.parseLine(line)
		if !ok {
			continue
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

func (d *Directory) parseLine(line string) (Session, bool) {
	parts := strings.Split(line, "|")
	if len(parts) < 4 {
		return Session{}, false
	}
	created, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Session{}, false
	}
	windows, err := strconv.Atoi(parts[3])
	if err != nil {
		return Session{}, false
	}
	s := Session{
		Location:  d.location,
		Name:      parts[0],
		CreatedAt: time.Unix(created, 0),
		Attached:  parts[2] != "0" && parts[2] != "",
		Windows:   windows,
	}
	if len(parts) > 4 {
		s.Width, _ = strconv.Atoi(parts[4])
	}
	if len(parts) > 5 {
		s.Height, _ = strconv.Atoi(parts[5])
	}
	return s, true
}

// Get returns the session with the given name.
func (d *Directory) Get(ctx context.Context, name string) (Session, error) {
	sessions, err := d.List(ctx)
	if err != nil {
		return Session{}, err
	}
	for _, s := range sessions {
		if s.Name == name {
			return s, nil
		}
	}
	return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, name)
}

// Create starts a new detached session. An empty name gets a generated,
// timestamp-based one; collisions on generated names retry with a numeric
// suffix. Duplicate explicit names fail with ErrSessionExists; tmux's own
// duplicate detection is the atomic check, so no lock spans the exec.
func (d *Directory) Create(ctx context.Context, name string) (Session, error) {
	generated := name == ""
	if generated {
		name = "session-" + d.nowFn().Format("20060102-150405")
	} else if !nameRe.MatchString(name) {
		return Session{}, fmt.Errorf("%w: %q (use only letters, numbers, - and _)", ErrInvalidName, name)
	}

	candidate := name
	for attempt := 2; ; attempt++ {
		err := d.createOne(ctx, candidate)
		if err == nil {
			break
		}
		if generated && errors.Is(err, ErrSessionExists) && attempt <= 6 {
			candidate = fmt.Sprintf("%s-%d", name, attempt)
			continue
		}
		return Session{}, err
	}

	s, err := d.Get(ctx, candidate)
	if err != nil {
		return Session{}, fmt.Errorf("session %q created but not listed: %w", candidate, err)
	}
	return s, nil
}

func (d *Directory) createOne(ctx context.Context, name string) error {
	res, err := d.run(ctx, "new-session", "-d", "-s", name)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if res.Code != 0 {
		if strings.Contains(res.Stderr, "duplicate session") {
			return fmt.Errorf("%w: %s", ErrSessionExists, name)
		}
		return fmt.Errorf("create session %s: %s", name, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// Destroy kills the named session. Destroying a session that is already
// gone returns ErrSessionNotFound, so a second destroy is distinguishable
// and never a crash.
func (d *Directory) Destroy(ctx context.Context, name string) error {
	res, err := d.run(ctx, "kill-session", "-t", "="+name)
	if err != nil {
		return fmt.Errorf("destroy session: %w", err)
	}
	if res.Code != 0 {
		stderr := strings.ToLower(res.Stderr)
		if strings.Contains(stderr, "can't find session") || strings.Contains(stderr, "no server running") {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, name)
		}
		return fmt.Errorf("destroy session %s: %s", name, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// AttachCommand builds the subprocess the pty manager runs to attach to a
// session. The "=" prefix pins tmux to an exact name match.
func (d *Directory) AttachCommand(name string) *exec.Cmd {
	return exec.Command(d.bin, "attach-session", "-t", "="+name)
}

// Location returns the directory's fixed location identifier.
func (d *Directory) Location() string {
	return d.location
}
