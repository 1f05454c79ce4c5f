package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentserver/agentserver/internal/session"
)

func TestMapAgentKindCoversKnownKinds(t *testing.T) {
	cases := map[string]string{
		"assistant":     session.KindAssistant,
		"tool_use":      session.KindToolUse,
		"tool_result":   session.KindToolResult,
		"thinking":      session.KindThinking,
		"token-budget":  session.KindTokenBudget,
		"mystery":       session.KindAssistant,
	}
	for in, want := range cases {
		assert.Equal(t, want, mapAgentKind(in))
	}
}

func TestEventFrameTypeMapsTaxonomy(t *testing.T) {
	assert.Equal(t, "claude-output", eventFrameType(session.KindToolUse))
	assert.Equal(t, "claude-output", eventFrameType(session.KindToolResult))
	assert.Equal(t, "token-budget", eventFrameType(session.KindTokenBudget))
	assert.Equal(t, "claude-error", eventFrameType(session.KindError))
	assert.Equal(t, "session-aborted", eventFrameType(session.KindAborted))
	assert.Equal(t, "claude-response", eventFrameType(session.KindAssistant))
}
