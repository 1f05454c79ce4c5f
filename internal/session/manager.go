// Package session implements logical conversations layered above
// sandboxes: start/resume, event ingestion into a durable history ledger,
// abort, and close, tracking the "processing" and "active" flags and the
// temporary-to-real ID rebind spec.md §4.5 requires.
//
// It generalises the teacher's internal/session (DB-backed Store plus an
// in-memory RingBuffer) by replacing the ring buffer's role with an
// append-only JSONL ledger on disk — the teacher buffers output only in
// memory, but spec.md requires durable per-session history survivable
// across restarts.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/agentserver/agentserver/internal/apperr"
	"github.com/agentserver/agentserver/internal/workspace"
)

// Kinds of history events, per spec.md §4.5.
const (
	KindUser         = "user"
	KindAssistant    = "assistant"
	KindToolUse      = "tool_use"
	KindToolResult   = "tool_result"
	KindThinking     = "thinking"
	KindTokenBudget  = "token_budget"
	KindError        = "error"
	KindComplete     = "complete"
	KindAborted      = "aborted"
)

// Event is one line of a session's history ledger.
type Event struct {
	Ts      time.Time       `json:"ts"`
	Kind    string          `json:"kind"`
	Payload interface{}     `json:"payload"`
}

// RebindFunc is invoked when a temporary session ID is replaced with the
// real UUID the agent runtime reports, so an attached Multiplexer can
// update any client-facing references.
type RebindFunc func(oldID, newID string)

// Subscriber receives ingested events for an attached session, allowing
// the Stream Multiplexer to fan them out live in addition to the ledger
// append.
type Subscriber func(Event)

// Session is the in-memory representation of a logical conversation.
type Session struct {
	ID            string
	UserID        string
	ProjectPath   string
	CreatedAt     time.Time
	LastMessageAt time.Time
	Active        bool
	Processing    bool

	mu         sync.Mutex
	subscriber Subscriber
	abortCh    chan struct{}
}

// Manager owns every Session for every user.
type Manager struct {
	layout *workspace.Layout

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(layout *workspace.Layout) *Manager {
	return &Manager{layout: layout, sessions: make(map[string]*Session)}
}

// Start allocates or resumes a session. If resumeID belongs to userID it
// is marked active; otherwise a temporary ID of the shape temp-<ts> is
// allocated, per spec.md §4.5.
func (m *Manager) Start(userID, projectPath, resumeID string) (string, error) {
	if _, err := workspace.ToContainerPath(projectPath); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if resumeID != "" {
		if s, ok := m.sessions[resumeID]; ok && s.UserID == userID {
			s.mu.Lock()
			s.Active = true
			s.mu.Unlock()
			return resumeID, nil
		}
	}

	id := fmt.Sprintf("temp-%d", time.Now().UnixNano()/int64(time.Millisecond))
	now := time.Now()
	m.sessions[id] = &Session{
		ID:            id,
		UserID:        userID,
		ProjectPath:   projectPath,
		CreatedAt:     now,
		LastMessageAt: now,
		Active:        true,
	}
	return id, nil
}

// Rebind replaces a temporary session ID with the real UUID the agent
// runtime reports and notifies the attached Multiplexer via rebind.
func (m *Manager) Rebind(oldID, newID string, rebind RebindFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[oldID]
	if !ok {
		return apperr.New(apperr.KindSession, "rebind", fmt.Errorf("session %q not found", oldID))
	}
	s.ID = newID
	delete(m.sessions, oldID)
	m.sessions[newID] = s
	if rebind != nil {
		rebind(oldID, newID)
	}
	return nil
}

// Get returns a session by ID.
func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// Attach registers a live Multiplexer subscriber for a session and marks
// it active.
func (m *Manager) Attach(sessionID string, sub Subscriber) error {
	s, ok := m.Get(sessionID)
	if !ok {
		return apperr.New(apperr.KindSession, "attach", fmt.Errorf("session %q not found", sessionID))
	}
	s.mu.Lock()
	s.subscriber = sub
	s.Active = true
	s.mu.Unlock()
	return nil
}

// Detach clears the active flag on WebSocket close. Per spec.md §4.6, if
// the session is still processing, the in-flight command runs to
// completion — only its journaling to history continues, not delivery to
// a client.
func (m *Manager) Detach(sessionID string) {
	s, ok := m.Get(sessionID)
	if !ok {
		return
	}
	s.mu.Lock()
	s.Active = false
	s.subscriber = nil
	s.mu.Unlock()
}

// TryBeginProcessing enforces the at-most-one-command-at-a-time
// invariant. Returns false (Busy) if a command is already in flight.
func (m *Manager) TryBeginProcessing(sessionID string) (bool, error) {
	s, ok := m.Get(sessionID)
	if !ok {
		return false, apperr.New(apperr.KindSession, "try_begin_processing", fmt.Errorf("session %q not found", sessionID))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Processing {
		return false, nil
	}
	s.Processing = true
	s.abortCh = make(chan struct{})
	return true, nil
}

// EndProcessing clears the processing flag, called unconditionally once
// the owning exec-stream closes — regardless of how it closed — so the
// 3-second bound in spec.md §8 always holds.
func (m *Manager) EndProcessing(sessionID string) {
	s, ok := m.Get(sessionID)
	if !ok {
		return
	}
	s.mu.Lock()
	s.Processing = false
	s.mu.Unlock()
}

// Abort signals the in-flight exec-stream (if any) to terminate, waits up
// to 2s, then unmarks processing regardless of the exec's own outcome.
func (m *Manager) Abort(sessionID string) error {
	s, ok := m.Get(sessionID)
	if !ok {
		return apperr.New(apperr.KindSession, "abort", fmt.Errorf("session %q not found", sessionID))
	}
	s.mu.Lock()
	if !s.Processing {
		s.mu.Unlock()
		return nil
	}
	abortCh := s.abortCh
	s.mu.Unlock()

	if abortCh != nil {
		close(abortCh)
	}

	timer := time.NewTimer(2 * time.Second)
	defer timer.Stop()
	<-timer.C

	s.mu.Lock()
	s.Processing = false
	s.mu.Unlock()

	m.IngestEvent(sessionID, Event{Ts: time.Now(), Kind: KindAborted, Payload: nil})
	return nil
}

// AbortChannel returns the channel that closes when Abort is called for
// the session's current processing generation, or nil if not processing.
func (s *Session) AbortChannel() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.abortCh
}

// Close detaches the client; the session itself persists per spec.md §4.5
// ("inactivity does not destroy a session, only its live stream").
func (m *Manager) Close(sessionID string) {
	m.Detach(sessionID)
}

// HasActiveSession reports whether userID has any session with a live
// client attached — consulted by the Supervisor's idle sweeper.
func (m *Manager) HasActiveSession(userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		if s.UserID != userID {
			continue
		}
		s.mu.Lock()
		active := s.Active
		s.mu.Unlock()
		if active {
			return true
		}
	}
	return false
}

// IngestEvent appends an event to the session's history ledger and
// forwards it to any attached subscriber.
func (m *Manager) IngestEvent(sessionID string, ev Event) error {
	s, ok := m.Get(sessionID)
	if !ok {
		return apperr.New(apperr.KindSession, "ingest_event", fmt.Errorf("session %q not found", sessionID))
	}
	if ev.Ts.IsZero() {
		ev.Ts = time.Now()
	}

	ledger := NewLedger(m.layout, s.UserID, s.ID)
	if err := ledger.Append(ev); err != nil {
		return apperr.New(apperr.KindIO, "ingest_event", err)
	}

	s.mu.Lock()
	s.LastMessageAt = ev.Ts
	sub := s.subscriber
	s.mu.Unlock()

	if sub != nil {
		sub(ev)
	}
	return nil
}
