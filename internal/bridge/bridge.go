// Package bridge relays bytes between one websocket connection and one
// pseudoterminal handle for the connection's lifetime.
//
// Inbound, the client speaks JSON text frames ("input", "resize", "ping")
// or raw binary keystrokes; outbound, pty output goes as binary frames
// with pong/error/closed control messages as JSON text. Output is written
// without batching: terminal interactivity beats throughput here. A slow
// client applies backpressure to the pty read loop through the blocking
// websocket write; nothing accumulates in an unbounded queue.
package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/termweave/termweave/internal/logutil"
)

// State tracks the bridge lifecycle. Connecting through Attached are
// driven by the connection gate and the attach step in the websocket
// handler; the bridge itself runs Relaying through Closed, with Failed as
// the terminal error state reachable from anywhere.
type State string

const (
	StateConnecting    State = "connecting"
	StateAuthenticated State = "authenticated"
	StateAttached      State = "attached"
	StateRelaying      State = "relaying"
	StateClosing       State = "closing"
	StateClosed        State = "closed"
	StateFailed        State = "failed"
)

// Application close codes used during the handshake and gate phases.
const (
	CloseAuthFailed         websocket.StatusCode = 4401
	CloseSessionNotFound    websocket.StatusCode = 4404
	CloseSessionBusy        websocket.StatusCode = 4409
	CloseSessionUnavailable websocket.StatusCode = 4500
)

const (
	maxInputSize   = 64 * 1024
	readBufferSize = 32 * 1024
	// closedMessageTimeout bounds the best-effort final "closed" message.
	closedMessageTimeout = 2 * time.Second
)

// Socket is the subset of *websocket.Conn the bridge drives. Faked in
// tests.
type Socket interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Terminal is the pty handle surface the bridge relays against. Faked in
// tests.
type Terminal interface {
	io.Reader
	io.Writer
	Resize(cols, rows uint16) error
	Done() <-chan struct{}
	CloseReason() string
}

type clientMessage struct {
	Type string `json:"type"`
	Data string `json:"data"`
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

type controlMessage struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Config carries everything the bridge needs beyond the two endpoints.
type Config struct {
	// Session and Remote identify the bridge in logs.
	Session string
	Remote  string
	// Cols and Rows are the client-reported dimensions applied on entry
	// to Relaying, so output wraps correctly from the first byte.
	Cols uint16
	Rows uint16
	// History is replayed to the client as one binary frame before live
	// output begins.
	History []byte
	// Mirror receives a copy of all pty output (the scrollback buffer).
	Mirror io.Writer
	// Detach releases the pty handle. It must unblock a pending
	// Terminal.Read; the bridge calls it exactly once, on entering
	// Closing.
	Detach func()
}

// Bridge pairs one connection with one pty handle. A failure on either
// side tears down this bridge only; other bridges on other sessions are
// unaffected.
type Bridge struct {
	conn Socket
	term Terminal
	cfg  Config

	mu     sync.Mutex
	state  State
	reason string
}

// New creates a bridge ready to relay. The caller has already gated and
// attached, so the bridge starts in StateAttached.
func New(conn Socket, term Terminal, cfg Config) *Bridge {
	return &Bridge{conn: conn, term: term, cfg: cfg, state: StateAttached}
}

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Bridge) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

// setReason records the close reason; the first writer wins.
func (b *Bridge) setReason(r string) {
	b.mu.Lock()
	if b.reason == "" {
		b.reason = r
	}
	b.mu.Unlock()
}

// Reason returns the recorded close reason, defaulting to "session ended".
func (b *Bridge) Reason() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.reason == "" {
		return "session ended"
	}
	return b.reason
}

// Run relays both directions until either side ends, then cancels both,
// detaches the pty, sends a best-effort closed message, and closes the
// socket. It returns the close reason.
func (b *Bridge) Run(ctx context.Context) string {
	relayCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	b.setState(StateRelaying)

	if err := b.term.Resize(b.cfg.Cols, b.cfg.Rows); err != nil {
		log.Printf("bridge %s (%s): initial resize: %v", b.logSession(), b.cfg.Remote, err)
	}

	if len(b.cfg.History) > 0 {
		if err := b.conn.Write(relayCtx, websocket.MessageBinary, b.cfg.History); err != nil {
			b.setReason("client disconnected")
			cancel()
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		b.relayOutput(relayCtx)
	}()

	b.relayInput(relayCtx)
	cancel()

	// Closing: release the pty first so a pending pty read unblocks,
	// then wait for the output direction. Neither direction outlives
	// its peer.
	b.setState(StateClosing)
	if b.cfg.Detach != nil {
		b.cfg.Detach()
	}
	wg.Wait()

	reason := b.Reason()
	b.sendClosed(reason)
	b.conn.Close(websocket.StatusNormalClosure, reason)
	b.setState(StateClosed)
	return reason
}

// relayOutput pumps pty output to the client as binary frames, in order,
// mirroring each chunk into the scrollback.
func (b *Bridge) relayOutput(ctx context.Context) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := b.term.Read(buf)
		if n > 0 {
			data := buf[:n]
			if b.cfg.Mirror != nil {
				b.cfg.Mirror.Write(data)
			}
			if werr := b.conn.Write(ctx, websocket.MessageBinary, data); werr != nil {
				if ctx.Err() == nil {
					b.setReason("client disconnected")
				}
				return
			}
		}
		if err != nil {
			if err == io.EOF {
				// Process exit is a normal session end, not a failure.
				reason := b.term.CloseReason()
				if reason == "" {
					reason = "session ended"
				}
				b.setReason(reason)
			} else {
				log.Printf("bridge %s (%s): pty read failed: %v", b.logSession(), b.cfg.Remote, err)
				b.setState(StateFailed)
				b.setReason("terminal read error")
			}
			return
		}
	}
}

// relayInput pumps client messages to the pty until the connection ends
// or teardown cancels the context.
func (b *Bridge) relayInput(ctx context.Context) {
	for {
		msgType, data, err := b.conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if status := websocket.CloseStatus(err); status != -1 {
				b.setReason("client disconnected")
			} else {
				log.Printf("bridge %s (%s): connection read failed: %v", b.logSession(), b.cfg.Remote, err)
				b.setState(StateFailed)
				b.setReason("connection error")
			}
			return
		}

		if msgType == websocket.MessageBinary {
			// Raw keystrokes without the JSON envelope.
			if len(data) > maxInputSize {
				b.sendError(ctx, "input message too large")
				continue
			}
			if _, err := b.term.Write(data); err != nil {
				return
			}
			continue
		}

		if !b.handleControl(ctx, data) {
			return
		}
	}
}

// handleControl processes one JSON control message. Malformed or
// unrecognized messages are answered with an error control message and do
// not terminate the session; only a dead pty ends the loop (false).
func (b *Bridge) handleControl(ctx context.Context, data []byte) bool {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("bridge %s (%s): malformed message: %v", b.logSession(), b.cfg.Remote, err)
		b.sendError(ctx, "malformed message")
		return true
	}

	switch msg.Type {
	case "input":
		decoded, err := base64.StdEncoding.DecodeString(msg.Data)
		if err != nil {
			b.sendError(ctx, "input data is not valid base64")
			return true
		}
		if len(decoded) > maxInputSize {
			b.sendError(ctx, "input message too large")
			return true
		}
		if _, err := b.term.Write(decoded); err != nil {
			return false
		}
	case "resize":
		if msg.Cols == 0 || msg.Rows == 0 {
			b.sendError(ctx, "resize requires cols and rows")
			return true
		}
		if err := b.term.Resize(msg.Cols, msg.Rows); err != nil {
			log.Printf("bridge %s (%s): resize failed: %v", b.logSession(), b.cfg.Remote, err)
		}
	case "ping":
		b.sendControl(ctx, controlMessage{Type: "pong"})
	default:
		b.sendError(ctx, fmt.Sprintf("unknown message type %q", logutil.SanitizeForLog(msg.Type)))
	}
	return true
}

func (b *Bridge) sendError(ctx context.Context, message string) {
	b.sendControl(ctx, controlMessage{Type: "error", Message: message})
}

func (b *Bridge) sendControl(ctx context.Context, msg controlMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := b.conn.Write(ctx, websocket.MessageText, payload); err != nil && ctx.Err() == nil {
		log.Printf("bridge %s (%s): control message send failed: %v", b.logSession(), b.cfg.Remote, err)
	}
}

// sendClosed sends the final closed control message on a fresh context:
// the relay context is already cancelled by the time teardown runs. Best
// effort only; a failure here is not escalated.
func (b *Bridge) sendClosed(reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), closedMessageTimeout)
	defer cancel()

	payload, err := json.Marshal(controlMessage{Type: "closed", Reason: reason})
	if err != nil {
		return
	}
	b.conn.Write(ctx, websocket.MessageText, payload)
}

func (b *Bridge) logSession() string {
	return logutil.SanitizeForLog(b.cfg.Session)
}
