package db

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func TestExecEnvEmptyWithNoSettingsOrServers(t *testing.T) {
	database := openTestDB(t)
	require.NoError(t, database.CreateUser("u1", "alice", "hash"))

	env, err := database.ExecEnv("u1", "anthropic")
	require.NoError(t, err)
	require.Empty(t, env)
}

func TestExecEnvIncludesToolsAndSkipPermissions(t *testing.T) {
	database := openTestDB(t)
	require.NoError(t, database.CreateUser("u1", "alice", "hash"))
	require.NoError(t, database.PutUserSettings(&UserSettings{
		UserID:          "u1",
		Provider:        "anthropic",
		AllowedTools:    []string{"Read", "Edit"},
		DisallowedTools: []string{"Bash"},
		SkipPermissions: true,
	}))

	env, err := database.ExecEnv("u1", "anthropic")
	require.NoError(t, err)
	require.Contains(t, env, `CLAUDE_ALLOWED_TOOLS=["Read","Edit"]`)
	require.Contains(t, env, `CLAUDE_DISALLOWED_TOOLS=["Bash"]`)
	require.Contains(t, env, "CLAUDE_SKIP_PERMISSIONS=1")
}

func TestExecEnvOnlyIncludesEnabledMcpServers(t *testing.T) {
	database := openTestDB(t)
	require.NoError(t, database.CreateUser("u1", "alice", "hash"))
	require.NoError(t, database.CreateMcpServer(&McpServerRecord{
		UserID: "u1", Name: "fs", Type: "stdio", Config: `{"cmd":"mcp-fs"}`, Enabled: true,
	}))
	require.NoError(t, database.CreateMcpServer(&McpServerRecord{
		UserID: "u1", Name: "disabled", Type: "stdio", Config: `{}`, Enabled: false,
	}))

	env, err := database.ExecEnv("u1", "anthropic")
	require.NoError(t, err)
	require.Len(t, env, 1)
	require.Contains(t, env[0], "CLAUDE_MCP_SERVERS=")
	require.Contains(t, env[0], `"name":"fs"`)
	require.NotContains(t, env[0], "disabled")
}

func TestExecEnvUnknownUserReturnsEmpty(t *testing.T) {
	database := openTestDB(t)

	env, err := database.ExecEnv("ghost", "anthropic")
	require.NoError(t, err)
	require.Empty(t, env)
}
