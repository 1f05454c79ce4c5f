// Package ws is the Stream Multiplexer: one task per live client
// connection, JSON-frame discriminated-union message loop, and the raw
// binary shell pass-through.
//
// It generalises the teacher's internal/ws/terminal.go PTY pump —
// gorilla/websocket, bidirectional goroutines, binary frame
// discriminator — from a single message type (terminal I/O) into a
// `type`-discriminated JSON envelope carrying claude-command, shell, and
// abort-session frames, per spec.md §4.6 and the redesign note in
// spec.md §9 that collapses scattered type switches into one match site.
package ws

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentserver/agentserver/internal/apperr"
	"github.com/agentserver/agentserver/internal/auth"
	"github.com/agentserver/agentserver/internal/sandboxdriver"
	"github.com/agentserver/agentserver/internal/session"
	"github.com/agentserver/agentserver/internal/supervisor"
	"github.com/agentserver/agentserver/internal/workspace"
)

// shellReplayBufferSize bounds how much recent shell output a reconnecting
// client can replay — enough for a screenful of scrollback, not a full
// session transcript.
const shellReplayBufferSize = 8 * 1024

// Binary shell-frame discriminators, carried verbatim from the teacher's
// terminal.go wire protocol for the "shell" message type.
const (
	ShellMsgInput  byte = 0
	ShellMsgResize byte = 1
	ShellMsgPing   byte = 2

	ShellMsgOutput byte = 0
	ShellMsgPong   byte = 1
)

const (
	sendBufferSize       = 256
	backpressureDeadline = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// inFrame is the client → server JSON envelope.
type inFrame struct {
	Type      string        `json:"type"`
	Command   string        `json:"command,omitempty"`
	Options   ClaudeOptions `json:"options,omitempty"`
	SessionID string        `json:"sessionId,omitempty"`
}

// ClaudeOptions is the options object carried by a claude-command frame.
type ClaudeOptions struct {
	SessionID   string `json:"sessionId,omitempty"`
	ProjectPath string `json:"projectPath"`
	Model       string `json:"model,omitempty"`
	Resume      bool   `json:"resume,omitempty"`
}

// outFrame is the server → client JSON envelope; fields are tagged
// omitempty so each event kind only serialises what it needs.
type outFrame struct {
	Type        string      `json:"type"`
	SessionID   string      `json:"sessionId,omitempty"`
	ContainerID string      `json:"containerId,omitempty"`
	ExitCode    *int        `json:"exitCode,omitempty"`
	Kind        string      `json:"kind,omitempty"`
	Message     string      `json:"message,omitempty"`
	Payload     interface{} `json:"payload,omitempty"`
}

// SettingsResolver supplies the exec environment for a claude-command
// invocation: the user's MCP config and allowed/denied tool lists.
type SettingsResolver interface {
	ExecEnv(userID, provider string) ([]string, error)
}

// Mux handles one upgraded WebSocket connection end to end.
type Mux struct {
	Signer     *auth.TokenSigner
	Supervisor *supervisor.Supervisor
	Sessions   *session.Manager
	Settings   SettingsResolver
	AgentArgv  func(opts ClaudeOptions) []string

	shellBuffersMu sync.Mutex
	shellBuffers   map[string]*session.RingBuffer
}

// shellBuffer returns the ring buffer that tees userID's shell output,
// creating it on first use. It lives on the Mux, not the per-connection
// state, so it outlives any one socket: a client that drops and
// reconnects its shell sees the buffered scrollback before live output
// resumes.
func (m *Mux) shellBuffer(userID string) *session.RingBuffer {
	m.shellBuffersMu.Lock()
	defer m.shellBuffersMu.Unlock()
	if m.shellBuffers == nil {
		m.shellBuffers = make(map[string]*session.RingBuffer)
	}
	buf, ok := m.shellBuffers[userID]
	if !ok {
		buf = session.NewRingBuffer(shellReplayBufferSize)
		m.shellBuffers[userID] = buf
	}
	return buf
}

// ServeHTTP implements the connection protocol of spec.md §4.6: validate
// the bearer token, acquire the sandbox, announce readiness, then run the
// message loop.
func (m *Mux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	claims, err := m.Signer.VerifyWSToken(token)
	if err != nil {
		conn, upErr := upgrader.Upgrade(w, r, nil)
		if upErr != nil {
			return
		}
		closeWith(conn, apperr.WSClosePolicy, "Authentication failed")
		conn.Close()
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade error: %v", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	handle, err := m.Supervisor.Acquire(ctx, claims.UserID, claims.Tier)
	if err != nil {
		closeWith(conn, apperr.WSCloseCode(err), string(apperr.KindOf(err)))
		return
	}

	if err := conn.WriteJSON(outFrame{Type: "ready", ContainerID: handle.EngineID}); err != nil {
		return
	}

	c := &connection{
		mux:    m,
		conn:   conn,
		userID: claims.UserID,
		handle: handle,
		send:   make(chan outFrame, sendBufferSize),
		done:   make(chan struct{}),
	}
	c.run(ctx)
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(5*time.Second))
}

// connection is the single-threaded task state for one client: all logic
// here runs on the connection's read-loop goroutine, except the writer
// pump (backpressure bookkeeping) and the shell output pump, neither of
// which touch connection state the read loop also mutates.
type connection struct {
	mux    *Mux
	conn   *websocket.Conn
	userID string
	handle *supervisor.Handle

	activeSessionID string
	shellStream     *sandboxdriver.Stream

	send chan outFrame
	done chan struct{}
}

func (c *connection) run(ctx context.Context) {
	go c.writePump()
	defer close(c.done)

	for {
		msgType, raw, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		if msgType == websocket.BinaryMessage {
			if c.shellStream != nil {
				c.handleShellInput(raw, c.shellStream)
			}
			continue
		}

		var f inFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			log.Printf("ws: malformed frame from user %s: %v", c.userID, err)
			continue
		}
		switch f.Type {
		case "claude-command":
			go c.handleClaudeCommand(ctx, f)
		case "shell":
			c.startShell(ctx)
		case "abort-session":
			c.handleAbortSession(f.SessionID)
		default:
			log.Printf("ws: ignoring unknown frame type %q from user %s", f.Type, c.userID)
		}
	}

	if c.activeSessionID != "" {
		c.mux.Sessions.Close(c.activeSessionID)
	}
}

// writePump drains c.send to the socket, enforcing the backpressure
// deadline of spec.md §4.6: if the client does not drain within the
// deadline, the connection is closed with code 1013 and the session's
// active flag is cleared, while the exec itself runs to completion.
func (c *connection) writePump() {
	timer := time.NewTimer(backpressureDeadline)
	defer timer.Stop()
	for {
		select {
		case f, ok := <-c.send:
			if !ok {
				return
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			if err := c.conn.WriteJSON(f); err != nil {
				return
			}
			timer.Reset(backpressureDeadline)
		case <-timer.C:
			closeWith(c.conn, apperr.WSCloseTryAgain, "backpressure deadline exceeded")
			if c.activeSessionID != "" {
				c.mux.Sessions.Close(c.activeSessionID)
			}
			c.conn.Close()
			return
		case <-c.done:
			return
		}
	}
}

func (c *connection) emit(f outFrame) {
	select {
	case c.send <- f:
	case <-c.done:
	}
}

// handleClaudeCommand implements the claude-command branch of spec.md
// §4.6's message loop. It addresses c.activeSessionID rather than a local
// copy throughout, since pumpAgentLines may rebind it mid-flight once the
// agent reports the real UUID for a session started under a temp-<ts> ID.
func (c *connection) handleClaudeCommand(ctx context.Context, f inFrame) {
	opts := f.Options
	sessionID, err := c.mux.Sessions.Start(c.userID, opts.ProjectPath, opts.SessionID)
	if err != nil {
		c.emit(outFrame{Type: "claude-error", Kind: string(apperr.KindOf(err)), Message: err.Error()})
		return
	}
	c.activeSessionID = sessionID

	ok, err := c.mux.Sessions.TryBeginProcessing(sessionID)
	if err != nil {
		c.emit(outFrame{Type: "claude-error", SessionID: sessionID, Kind: string(apperr.KindSession), Message: err.Error()})
		return
	}
	if !ok {
		c.emit(outFrame{Type: "claude-error", SessionID: sessionID, Kind: "Busy", Message: "a command is already running for this session"})
		return
	}
	defer func() { c.mux.Sessions.EndProcessing(c.activeSessionID) }()

	c.mux.Sessions.Attach(sessionID, func(ev session.Event) {
		c.emit(outFrame{Type: eventFrameType(ev.Kind), SessionID: c.activeSessionID, Payload: ev.Payload})
	})

	containerPath, err := workspace.ToContainerPath(opts.ProjectPath)
	if err != nil {
		c.emit(outFrame{Type: "claude-error", SessionID: c.activeSessionID, Kind: string(apperr.KindOf(err)), Message: err.Error()})
		return
	}

	var env []string
	if c.mux.Settings != nil {
		env, _ = c.mux.Settings.ExecEnv(c.userID, "")
	}

	argv := c.mux.AgentArgv(opts)
	stream, err := c.mux.Supervisor.Exec(ctx, c.handle, argv, sandboxdriver.ExecOptions{Cwd: containerPath, Env: env})
	if err != nil {
		c.mux.Sessions.IngestEvent(c.activeSessionID, session.Event{Kind: session.KindError, Payload: err.Error()})
		c.emit(outFrame{Type: "claude-error", SessionID: c.activeSessionID, Kind: string(apperr.KindOf(err)), Message: err.Error()})
		return
	}
	defer stream.Close()

	// abort(session_id) must signal the in-flight exec-stream to
	// terminate, per spec.md §4.5 — closing the stream unblocks
	// pumpAgentLines's scanner immediately instead of waiting for the
	// command to finish on its own.
	if s, ok := c.mux.Sessions.Get(c.activeSessionID); ok {
		if abortCh := s.AbortChannel(); abortCh != nil {
			go func() {
				select {
				case <-abortCh:
					stream.Close()
				case <-stream.Done():
				}
			}()
		}
	}

	exitCode := c.pumpAgentLines(stream)
	c.mux.Sessions.IngestEvent(c.activeSessionID, session.Event{Kind: session.KindComplete, Payload: map[string]int{"exitCode": exitCode}})
	c.emit(outFrame{Type: "claude-complete", SessionID: c.activeSessionID, ExitCode: &exitCode})
}

// pumpAgentLines reads the exec stdout line by line, interpreting each
// line as a JSON event per spec.md §4.6, journaling and forwarding each
// one, and returns the exec's exit code.
//
// The agent runtime's first line carries its own "session_id" once it has
// assigned one; when that differs from the temp-<ts> ID the session was
// started under, the Session Manager rebinds it and the client is told
// via session-created, per spec.md §4.5's "entry is renamed and any
// Multiplexer holding the temporary ID is notified via a rebind
// callback."
func (c *connection) pumpAgentLines(stream *sandboxdriver.Stream) int {
	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var payload map[string]interface{}
		if err := json.Unmarshal(line, &payload); err != nil {
			continue
		}
		if realID, ok := payload["session_id"].(string); ok && realID != "" && realID != c.activeSessionID {
			oldID := c.activeSessionID
			err := c.mux.Sessions.Rebind(oldID, realID, func(_, newID string) {
				c.activeSessionID = newID
			})
			if err != nil {
				log.Printf("ws: session rebind %s -> %s failed: %v", oldID, realID, err)
			} else {
				c.emit(outFrame{Type: "session-created", SessionID: realID})
			}
			continue
		}
		kind, _ := payload["kind"].(string)
		c.mux.Sessions.IngestEvent(c.activeSessionID, session.Event{Kind: mapAgentKind(kind), Payload: payload})
	}
	<-stream.Done()
	if stream.ExitCode != nil {
		return *stream.ExitCode
	}
	return 0
}

func mapAgentKind(agentKind string) string {
	switch agentKind {
	case "assistant", "claude-response":
		return session.KindAssistant
	case "tool_use":
		return session.KindToolUse
	case "tool_result":
		return session.KindToolResult
	case "thinking":
		return session.KindThinking
	case "token-budget", "token_budget":
		return session.KindTokenBudget
	default:
		return session.KindAssistant
	}
}

func eventFrameType(kind string) string {
	switch kind {
	case session.KindToolUse, session.KindToolResult:
		return "claude-output"
	case session.KindTokenBudget:
		return "token-budget"
	case session.KindError:
		return "claude-error"
	case session.KindAborted:
		return "session-aborted"
	default:
		return "claude-response"
	}
}

// startShell implements the shell branch of spec.md §4.6: attach a PTY
// and pipe raw bytes both ways. Input arrives as subsequent binary
// frames on the same connection (dispatched in run); output is pumped to
// the client directly, bypassing c.send since PTY data has no
// backpressure-relevant JSON framing to batch.
func (c *connection) startShell(ctx context.Context) {
	stream, err := c.mux.Supervisor.Exec(ctx, c.handle, []string{"/bin/sh"}, sandboxdriver.ExecOptions{TTY: true, Stdin: true})
	if err != nil {
		log.Printf("ws: shell exec failed for user %s: %v", c.userID, err)
		return
	}
	c.shellStream = stream

	replay := c.mux.shellBuffer(c.userID)
	if backlog := replay.Bytes(); len(backlog) > 0 {
		c.conn.WriteMessage(websocket.BinaryMessage, append([]byte{ShellMsgOutput}, backlog...))
	}

	go func() {
		defer func() { c.shellStream = nil }()
		buf := make([]byte, 4096)
		for {
			n, err := stream.Read(buf)
			if n > 0 {
				replay.Write(buf[:n])
				if werr := c.conn.WriteMessage(websocket.BinaryMessage, append([]byte{ShellMsgOutput}, buf[:n]...)); werr != nil {
					return
				}
			}
			if err != nil {
				if err != io.EOF {
					log.Printf("ws: shell stream read error: %v", err)
				}
				return
			}
		}
	}()
}

func (c *connection) handleShellInput(message []byte, stream *sandboxdriver.Stream) {
	if len(message) == 0 {
		return
	}
	switch message[0] {
	case ShellMsgInput:
		stream.Write(message[1:])
	case ShellMsgResize:
		if len(message) >= 5 {
			cols := binary.BigEndian.Uint16(message[1:3])
			rows := binary.BigEndian.Uint16(message[3:5])
			stream.Resize(rows, cols)
		}
	case ShellMsgPing:
		c.conn.WriteMessage(websocket.BinaryMessage, []byte{ShellMsgPong})
	}
}

func (c *connection) handleAbortSession(sessionID string) {
	if sessionID == "" {
		sessionID = c.activeSessionID
	}
	if sessionID == "" {
		return
	}
	go func() {
		if err := c.mux.Sessions.Abort(sessionID); err != nil {
			log.Printf("ws: abort failed for session %s: %v", sessionID, err)
		}
	}()
}
