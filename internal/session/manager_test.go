package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentserver/agentserver/internal/workspace"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(workspace.New(t.TempDir()))
}

func TestStartAllocatesTemporaryID(t *testing.T) {
	m := newTestManager(t)
	id, err := m.Start("u1", "", "")
	require.NoError(t, err)
	assert.Contains(t, id, "temp-")

	s, ok := m.Get(id)
	require.True(t, ok)
	assert.Equal(t, "u1", s.UserID)
	assert.True(t, s.Active)
}

func TestStartRejectsPathEscape(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Start("u1", "../../etc", "")
	require.Error(t, err)
}

func TestStartResumesOwnedSession(t *testing.T) {
	m := newTestManager(t)
	id, err := m.Start("u1", "", "")
	require.NoError(t, err)
	m.Detach(id)

	resumed, err := m.Start("u1", "", id)
	require.NoError(t, err)
	assert.Equal(t, id, resumed)

	s, _ := m.Get(id)
	assert.True(t, s.Active)
}

func TestRebindMovesSessionUnderNewID(t *testing.T) {
	m := newTestManager(t)
	tempID, err := m.Start("u1", "", "")
	require.NoError(t, err)

	var notified [2]string
	err = m.Rebind(tempID, "real-uuid", func(oldID, newID string) {
		notified = [2]string{oldID, newID}
	})
	require.NoError(t, err)

	_, ok := m.Get(tempID)
	assert.False(t, ok)
	s, ok := m.Get("real-uuid")
	require.True(t, ok)
	assert.Equal(t, "real-uuid", s.ID)
	assert.Equal(t, [2]string{tempID, "real-uuid"}, notified)
}

func TestProcessingFlagExcludesConcurrentCommands(t *testing.T) {
	m := newTestManager(t)
	id, err := m.Start("u1", "", "")
	require.NoError(t, err)

	ok, err := m.TryBeginProcessing(id)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.TryBeginProcessing(id)
	require.NoError(t, err)
	assert.False(t, ok, "a session already processing must reject a second command")

	m.EndProcessing(id)
	ok, err = m.TryBeginProcessing(id)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIngestEventAppendsToLedgerAndNotifiesSubscriber(t *testing.T) {
	m := newTestManager(t)
	id, err := m.Start("u1", "proj", "")
	require.NoError(t, err)

	var received []Event
	require.NoError(t, m.Attach(id, func(ev Event) { received = append(received, ev) }))

	require.NoError(t, m.IngestEvent(id, Event{Kind: KindUser, Payload: map[string]string{"text": "hi"}}))
	require.NoError(t, m.IngestEvent(id, Event{Kind: KindAssistant, Payload: map[string]string{"text": "hello"}}))

	require.Len(t, received, 2)
	assert.Equal(t, KindUser, received[0].Kind)

	ledger := NewLedger(m.layout, "u1", id)
	events, err := ledger.ReadAll()
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, KindAssistant, events[1].Kind)
}

func TestAbortClearsProcessingAndRecordsEvent(t *testing.T) {
	m := newTestManager(t)
	id, err := m.Start("u1", "", "")
	require.NoError(t, err)

	ok, err := m.TryBeginProcessing(id)
	require.NoError(t, err)
	require.True(t, ok)

	done := make(chan struct{})
	go func() {
		require.NoError(t, m.Abort(id))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("abort did not return within its grace window")
	}

	s, _ := m.Get(id)
	assert.False(t, s.Processing)

	ledger := NewLedger(m.layout, "u1", id)
	events, err := ledger.ReadAll()
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, KindAborted, events[len(events)-1].Kind)
}

func TestHasActiveSessionReflectsAttachedClients(t *testing.T) {
	m := newTestManager(t)
	id, err := m.Start("u1", "", "")
	require.NoError(t, err)
	assert.True(t, m.HasActiveSession("u1"))

	m.Close(id)
	assert.False(t, m.HasActiveSession("u1"))
	assert.False(t, m.HasActiveSession("u2"))
}
