package tmux

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// fakeRunner records tmux invocations and replays canned results.
type fakeRunner struct {
	calls   [][]string
	results []Result
	errs    []error
}

func (f *fakeRunner) run(ctx context.Context, args ...string) (Result, error) {
	f.calls = append(f.calls, args)
	i := len(f.calls) - 1
	var res Result
	if i < len(f.results) {
		res = f.results[i]
	}
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return res, err
}

func newTestDirectory(f *fakeRunner) *Directory {
	d := NewDirectory("local", "tmux")
	d.run = f.run
	return d
}

func TestListParsesSessions(t *testing.T) {
	f := &fakeRunner{results: []Result{{
		Stdout: "work|1700000000|1|3|120|40\nscratch|1700000100|0|1|80|24\n",
	}}}
	d := newTestDirectory(f)

	sessions, err := d.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}

	s := sessions[0]
	if s.Name != "work" || !s.Attached || s.Windows != 3 {
		t.Errorf("unexpected first session: %+v", s)
	}
	if s.Width != 120 || s.Height != 40 {
		t.Errorf("expected 120x40, got %dx%d", s.Width, s.Height)
	}
	if !s.CreatedAt.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("unexpected created at: %s", s.CreatedAt)
	}
	if s.ID() != "local:work" {
		t.Errorf("expected id local:work, got %q", s.ID())
	}

	if sessions[1].Attached {
		t.Error("expected second session detached")
	}
}

func TestListNoServerRunning(t *testing.T) {
	f := &fakeRunner{results: []Result{{
		Stderr: "no server running on /tmp/tmux-1000/default",
		Code:   1,
	}}}
	d := newTestDirectory(f)

	sessions, err := d.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("expected no sessions, got %d", len(sessions))
	}
}

func TestListSkipsMalformedLines(t *testing.T) {
	f := &fakeRunner{results: []Result{{
		Stdout: "good|1700000000|0|1|80|24\nbad-line\nalso|notanumber|0|1|80|24\n",
	}}}
	d := newTestDirectory(f)

	sessions, err := d.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Name != "good" {
		t.Errorf("expected only the well-formed session, got %+v", sessions)
	}
}

func TestGetNotFound(t *testing.T) {
	f := &fakeRunner{results: []Result{{
		Stdout: "other|1700000000|0|1|80|24\n",
	}}}
	d := newTestDirectory(f)

	_, err := d.Get(context.Background(), "missing")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestCreateExplicitName(t *testing.T) {
	f := &fakeRunner{results: []Result{
		{}, // new-session
		{Stdout: "work|1700000000|0|1|80|24\n"}, // list-sessions
	}}
	d := newTestDirectory(f)

	s, err := d.Create(context.Background(), "work")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if s.Name != "work" {
		t.Errorf("expected name work, got %q", s.Name)
	}

	first := f.calls[0]
	want := []string{"new-session", "-d", "-s", "work"}
	if strings.Join(first, " ") != strings.Join(want, " ") {
		t.Errorf("unexpected tmux args: %v", first)
	}
}

func TestCreateInvalidName(t *testing.T) {
	f := &fakeRunner{}
	d := newTestDirectory(f)

	for _, name := range []string{"has space", "semi;colon", "dot.dot", "slash/name", "a\nb"} {
		_, err := d.Create(context.Background(), name)
		if !errors.Is(err, ErrInvalidName) {
			t.Errorf("name %q: expected ErrInvalidName, got %v", name, err)
		}
	}
	if len(f.calls) != 0 {
		t.Errorf("invalid names must be rejected before tmux runs, got %d calls", len(f.calls))
	}
}

func TestCreateDuplicateName(t *testing.T) {
	f := &fakeRunner{results: []Result{
		{Stderr: "duplicate session: work", Code: 1},
	}}
	d := newTestDirectory(f)

	_, err := d.Create(context.Background(), "work")
	if !errors.Is(err, ErrSessionExists) {
		t.Errorf("expected ErrSessionExists, got %v", err)
	}
}

func TestCreateGeneratedName(t *testing.T) {
	f := &fakeRunner{results: []Result{
		{}, // new-session
		{Stdout: "session-20260101-120000|1700000000|0|1|80|24\n"},
	}}
	d := newTestDirectory(f)
	d.nowFn = func() time.Time {
		return time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	}

	s, err := d.Create(context.Background(), "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if s.Name != "session-20260101-120000" {
		t.Errorf("unexpected generated name %q", s.Name)
	}
}

func TestCreateGeneratedNameRetriesOnCollision(t *testing.T) {
	f := &fakeRunner{results: []Result{
		{Stderr: "duplicate session: session-20260101-120000", Code: 1},
		{}, // retry with -2 suffix
		{Stdout: "session-20260101-120000-2|1700000000|0|1|80|24\n"},
	}}
	d := newTestDirectory(f)
	d.nowFn = func() time.Time {
		return time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	}

	s, err := d.Create(context.Background(), "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if s.Name != "session-20260101-120000-2" {
		t.Errorf("expected suffixed name, got %q", s.Name)
	}

	second := f.calls[1]
	if second[len(second)-1] != "session-20260101-120000-2" {
		t.Errorf("expected retry with suffix, got %v", second)
	}
}

func TestDestroy(t *testing.T) {
	f := &fakeRunner{results: []Result{{}}}
	d := newTestDirectory(f)

	if err := d.Destroy(context.Background(), "work"); err != nil {
		t.Fatalf("destroy: %v", err)
	}

	want := []string{"kill-session", "-t", "=work"}
	if strings.Join(f.calls[0], " ") != strings.Join(want, " ") {
		t.Errorf("unexpected tmux args: %v", f.calls[0])
	}
}

func TestDestroyMissingSession(t *testing.T) {
	f := &fakeRunner{results: []Result{
		{Stderr: "can't find session: work", Code: 1},
		{Stderr: "no server running on /tmp/tmux-1000/default", Code: 1},
	}}
	d := newTestDirectory(f)

	if err := d.Destroy(context.Background(), "work"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
	// A repeat destroy with no server at all reports the same error.
	if err := d.Destroy(context.Background(), "work"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound on repeat, got %v", err)
	}
}

func TestCheckBinary(t *testing.T) {
	f := &fakeRunner{results: []Result{{Stdout: "tmux 3.4\n"}}}
	d := newTestDirectory(f)
	if err := d.CheckBinary(context.Background()); err != nil {
		t.Errorf("expected tmux available, got %v", err)
	}

	f = &fakeRunner{errs: []error{fmt.Errorf("exec: not found")}}
	d = newTestDirectory(f)
	if err := d.CheckBinary(context.Background()); err == nil {
		t.Error("expected error when tmux cannot run")
	}
}

func TestAttachCommand(t *testing.T) {
	d := NewDirectory("local", "tmux")
	cmd := d.AttachCommand("work")

	args := cmd.Args
	if len(args) < 4 || args[1] != "attach-session" || args[3] != "=work" {
		t.Errorf("unexpected attach args: %v", args)
	}
}

func TestParseID(t *testing.T) {
	if got := ParseID("local:work"); got != "work" {
		t.Errorf("expected work, got %q", got)
	}
	if got := ParseID("work"); got != "work" {
		t.Errorf("expected pass-through, got %q", got)
	}
}
