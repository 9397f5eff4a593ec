package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
)

type inboundFrame struct {
	typ  websocket.MessageType
	data []byte
}

type sentFrame struct {
	Typ  websocket.MessageType
	Data []byte
}

// fakeSocket feeds canned inbound frames and records everything written.
type fakeSocket struct {
	inbound chan inboundFrame

	mu       sync.Mutex
	sent     []sentFrame
	closed   bool
	code     websocket.StatusCode
	reason   string
	writeErr error
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{inbound: make(chan inboundFrame, 16)}
}

func (f *fakeSocket) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case frame, ok := <-f.inbound:
		if !ok {
			return 0, nil, errors.New("use of closed network connection")
		}
		return frame.typ, frame.data, nil
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (f *fakeSocket) Write(ctx context.Context, typ websocket.MessageType, p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	data := make([]byte, len(p))
	copy(data, p)
	f.sent = append(f.sent, sentFrame{Typ: typ, Data: data})
	return nil
}

func (f *fakeSocket) Close(code websocket.StatusCode, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.code = code
	f.reason = reason
	return nil
}

func (f *fakeSocket) frames() []sentFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentFrame, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeSocket) sendText(t *testing.T, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	f.inbound <- inboundFrame{typ: websocket.MessageText, data: data}
}

// fakeTerminal records writes and resizes and serves reads from a pipe.
type fakeTerminal struct {
	pr *io.PipeReader
	pw *io.PipeWriter

	mu      sync.Mutex
	written []byte
	resizes [][2]uint16
	reason  string

	done     chan struct{}
	doneOnce sync.Once
}

func newFakeTerminal() *fakeTerminal {
	pr, pw := io.Pipe()
	return &fakeTerminal{pr: pr, pw: pw, done: make(chan struct{})}
}

func (f *fakeTerminal) Read(p []byte) (int, error) { return f.pr.Read(p) }

func (f *fakeTerminal) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, p...)
	return len(p), nil
}

func (f *fakeTerminal) Resize(cols, rows uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resizes = append(f.resizes, [2]uint16{cols, rows})
	return nil
}

func (f *fakeTerminal) Done() <-chan struct{} { return f.done }

func (f *fakeTerminal) CloseReason() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reason
}

func (f *fakeTerminal) input() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]byte, len(f.written))
	copy(out, f.written)
	return out
}

func (f *fakeTerminal) sizeEvents() [][2]uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][2]uint16, len(f.resizes))
	copy(out, f.resizes)
	return out
}

// exit simulates the attach subprocess ending: the pty read side hits EOF.
// The first recorded reason wins, matching the real handle.
func (f *fakeTerminal) exit(reason string) {
	f.mu.Lock()
	if f.reason == "" {
		f.reason = reason
	}
	f.mu.Unlock()
	f.doneOnce.Do(func() { close(f.done) })
	f.pw.Close()
}

func runBridge(t *testing.T, sock *fakeSocket, term *fakeTerminal, cfg Config) (*Bridge, <-chan string) {
	t.Helper()
	cfg.Detach = func() { term.exit("") }
	b := New(sock, term, cfg)
	done := make(chan string, 1)
	go func() { done <- b.Run(context.Background()) }()
	return b, done
}

func waitReason(t *testing.T, done <-chan string) string {
	t.Helper()
	select {
	case r := <-done:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("bridge did not finish")
		return ""
	}
}

func textMessages(t *testing.T, frames []sentFrame) []controlMessage {
	t.Helper()
	var msgs []controlMessage
	for _, fr := range frames {
		if fr.Typ != websocket.MessageText {
			continue
		}
		var m controlMessage
		if err := json.Unmarshal(fr.Data, &m); err != nil {
			t.Fatalf("unmarshal control frame %q: %v", fr.Data, err)
		}
		msgs = append(msgs, m)
	}
	return msgs
}

func TestResizeThenInputOrdering(t *testing.T) {
	sock := newFakeSocket()
	term := newFakeTerminal()

	sock.sendText(t, map[string]interface{}{"type": "resize", "cols": 100, "rows": 30})
	sock.sendText(t, map[string]interface{}{
		"type": "input",
		"data": base64.StdEncoding.EncodeToString([]byte("ls\n")),
	})
	close(sock.inbound)

	_, done := runBridge(t, sock, term, Config{Session: "work", Cols: 80, Rows: 24})
	waitReason(t, done)

	sizes := term.sizeEvents()
	if len(sizes) != 2 {
		t.Fatalf("expected initial + client resize, got %v", sizes)
	}
	if sizes[0] != [2]uint16{80, 24} {
		t.Errorf("expected initial 80x24, got %v", sizes[0])
	}
	if sizes[1] != [2]uint16{100, 30} {
		t.Errorf("expected client resize 100x30, got %v", sizes[1])
	}
	if got := string(term.input()); got != "ls\n" {
		t.Errorf("expected input after resize, got %q", got)
	}
}

func TestRawBinaryInput(t *testing.T) {
	sock := newFakeSocket()
	term := newFakeTerminal()

	sock.inbound <- inboundFrame{typ: websocket.MessageBinary, data: []byte{0x03}}
	close(sock.inbound)

	_, done := runBridge(t, sock, term, Config{Session: "work"})
	waitReason(t, done)

	if got := term.input(); len(got) != 1 || got[0] != 0x03 {
		t.Errorf("expected raw byte forwarded, got %v", got)
	}
}

func TestPingPong(t *testing.T) {
	sock := newFakeSocket()
	term := newFakeTerminal()

	sock.sendText(t, map[string]string{"type": "ping"})
	close(sock.inbound)

	_, done := runBridge(t, sock, term, Config{Session: "work"})
	waitReason(t, done)

	msgs := textMessages(t, sock.frames())
	if len(msgs) == 0 || msgs[0].Type != "pong" {
		t.Fatalf("expected pong first, got %+v", msgs)
	}
}

func TestMalformedAndUnknownMessagesKeepSessionAlive(t *testing.T) {
	sock := newFakeSocket()
	term := newFakeTerminal()

	sock.inbound <- inboundFrame{typ: websocket.MessageText, data: []byte("{not json")}
	sock.sendText(t, map[string]string{"type": "teleport"})
	sock.sendText(t, map[string]interface{}{"type": "resize", "cols": 0, "rows": 30})
	sock.sendText(t, map[string]interface{}{
		"type": "input",
		"data": base64.StdEncoding.EncodeToString([]byte("still here\n")),
	})
	close(sock.inbound)

	_, done := runBridge(t, sock, term, Config{Session: "work"})
	waitReason(t, done)

	msgs := textMessages(t, sock.frames())
	var errCount int
	for _, m := range msgs {
		if m.Type == "error" {
			errCount++
		}
	}
	if errCount != 3 {
		t.Errorf("expected 3 error messages, got %d: %+v", errCount, msgs)
	}

	// The session outlived the bad messages: the later input arrived.
	if got := string(term.input()); got != "still here\n" {
		t.Errorf("expected input after bad messages, got %q", got)
	}
}

func TestInvalidBase64Input(t *testing.T) {
	sock := newFakeSocket()
	term := newFakeTerminal()

	sock.sendText(t, map[string]string{"type": "input", "data": "%%%not-base64"})
	close(sock.inbound)

	_, done := runBridge(t, sock, term, Config{Session: "work"})
	waitReason(t, done)

	msgs := textMessages(t, sock.frames())
	if len(msgs) == 0 || msgs[0].Type != "error" {
		t.Fatalf("expected error message, got %+v", msgs)
	}
	if len(term.input()) != 0 {
		t.Errorf("expected no input forwarded, got %q", term.input())
	}
}

func TestOutputRelayedInOrderAndMirrored(t *testing.T) {
	sock := newFakeSocket()
	term := newFakeTerminal()
	var mirror fakeTerminal

	b := New(sock, term, Config{
		Session: "work",
		History: []byte("old output"),
		Mirror:  &mirror,
		Detach:  func() { term.exit("") },
	})
	done := make(chan string, 1)
	go func() { done <- b.Run(context.Background()) }()

	term.pw.Write([]byte("first"))
	term.pw.Write([]byte("second"))
	term.exit("")
	close(sock.inbound)

	waitReason(t, done)

	var binary []byte
	frames := sock.frames()
	for _, fr := range frames {
		if fr.Typ == websocket.MessageBinary {
			binary = append(binary, fr.Data...)
		}
	}
	if got := string(binary); got != "old outputfirstsecond" {
		t.Errorf("expected history then output in order, got %q", got)
	}
	if frames[0].Typ != websocket.MessageBinary || string(frames[0].Data) != "old output" {
		t.Errorf("expected history replayed first, got %+v", frames[0])
	}

	// Live output is mirrored; replayed history is not.
	if got := string(mirror.input()); got != "firstsecond" {
		t.Errorf("expected mirror of live output, got %q", got)
	}
}

func TestPtyExitSendsClosedAndClosesSocket(t *testing.T) {
	sock := newFakeSocket()
	term := newFakeTerminal()

	b := New(sock, term, Config{Session: "work", Detach: func() { term.exit("") }})
	done := make(chan string, 1)
	go func() { done <- b.Run(context.Background()) }()

	term.exit("session destroyed")

	reason := waitReason(t, done)
	if reason != "session destroyed" {
		t.Errorf("expected recorded reason, got %q", reason)
	}
	if b.State() != StateClosed {
		t.Errorf("expected closed state, got %s", b.State())
	}

	msgs := textMessages(t, sock.frames())
	last := msgs[len(msgs)-1]
	if last.Type != "closed" || last.Reason != "session destroyed" {
		t.Errorf("expected closed control message, got %+v", last)
	}

	sock.mu.Lock()
	defer sock.mu.Unlock()
	if !sock.closed {
		t.Error("expected socket closed")
	}
	if sock.code != websocket.StatusNormalClosure {
		t.Errorf("expected normal closure, got %d", sock.code)
	}
}

func TestClientDisconnectDetaches(t *testing.T) {
	sock := newFakeSocket()
	term := newFakeTerminal()

	detached := make(chan struct{})
	b := New(sock, term, Config{Session: "work", Detach: func() {
		close(detached)
		term.exit("")
	}})
	done := make(chan string, 1)
	go func() { done <- b.Run(context.Background()) }()

	close(sock.inbound)

	waitReason(t, done)
	select {
	case <-detached:
	default:
		t.Error("expected detach callback invoked")
	}
	if b.State() != StateClosed {
		t.Errorf("expected closed state, got %s", b.State())
	}
}

func TestOversizedInputRejected(t *testing.T) {
	sock := newFakeSocket()
	term := newFakeTerminal()

	big := make([]byte, maxInputSize+1)
	sock.inbound <- inboundFrame{typ: websocket.MessageBinary, data: big}
	close(sock.inbound)

	_, done := runBridge(t, sock, term, Config{Session: "work"})
	waitReason(t, done)

	if len(term.input()) != 0 {
		t.Errorf("expected oversized input dropped, got %d bytes", len(term.input()))
	}
	msgs := textMessages(t, sock.frames())
	if len(msgs) == 0 || msgs[0].Type != "error" {
		t.Fatalf("expected error message, got %+v", msgs)
	}
}

func TestConcurrentBridgesAreIsolated(t *testing.T) {
	sockA, termA := newFakeSocket(), newFakeTerminal()
	sockB, termB := newFakeSocket(), newFakeTerminal()

	_, doneA := runBridge(t, sockA, termA, Config{Session: "a"})
	_, doneB := runBridge(t, sockB, termB, Config{Session: "b"})

	termA.pw.Write([]byte("for a"))
	termB.pw.Write([]byte("for b"))

	// Tear down A; B keeps relaying.
	termA.exit("")
	close(sockA.inbound)
	waitReason(t, doneA)

	sockB.sendText(t, map[string]interface{}{
		"type": "input",
		"data": base64.StdEncoding.EncodeToString([]byte("still relaying\n")),
	})

	deadline := time.After(5 * time.Second)
	for string(termB.input()) != "still relaying\n" {
		select {
		case <-deadline:
			t.Fatalf("bridge b stopped relaying, input %q", termB.input())
		case <-time.After(10 * time.Millisecond):
		}
	}

	termB.exit("")
	close(sockB.inbound)
	waitReason(t, doneB)

	for _, fr := range sockA.frames() {
		if fr.Typ == websocket.MessageBinary && string(fr.Data) == "for b" {
			t.Error("output for b leaked to a")
		}
	}
}
