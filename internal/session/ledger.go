package session

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/agentserver/agentserver/internal/workspace"
)

// Ledger is an append-only JSONL history file for one session, rooted at
// <user data dir>/.claude/sessions/<id>/messages.jsonl. Readers tolerate a
// truncated final line, since the writer may be killed mid-append.
type Ledger struct {
	path string
}

func NewLedger(layout *workspace.Layout, userID, sessionID string) *Ledger {
	dir := filepath.Join(layout.SessionsDir(userID), sessionID)
	return &Ledger{path: filepath.Join(dir, "messages.jsonl")}
}

// Append writes one event as a single JSON line, creating the session's
// directory on first use.
func (l *Ledger) Append(ev Event) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	line, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	_, err = f.Write(line)
	return err
}

// ReadAll returns every well-formed event in the ledger, skipping a
// truncated final line rather than failing.
func (l *Ledger) ReadAll() ([]Event, error) {
	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// Tail returns at most n of the most recent events, for reconnect
// catch-up without replaying an entire long-lived session's history.
func (l *Ledger) Tail(n int) ([]Event, error) {
	all, err := l.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(all) <= n {
		return all, nil
	}
	return all[len(all)-n:], nil
}
