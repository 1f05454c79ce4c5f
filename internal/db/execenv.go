package db

import (
	"encoding/json"
	"fmt"
)

// ExecEnv implements ws.SettingsResolver: it builds the environment
// variables a claude-command invocation's argv augments with the user's
// allowed/denied tool lists and MCP server configuration, per spec.md
// §4.6 ("env augmented with the user's MCP config and allowed/denied
// tools from UserSettings"). Read-through, no caching — called once per
// command so edits to settings take effect on the next command, never
// mid-command, per spec.md §4.7.
func (db *DB) ExecEnv(userID, provider string) ([]string, error) {
	var env []string

	settings, err := db.GetUserSettings(userID, provider)
	if err != nil {
		return nil, fmt.Errorf("exec env: %w", err)
	}
	if settings != nil {
		if len(settings.AllowedTools) > 0 {
			b, _ := json.Marshal(settings.AllowedTools)
			env = append(env, "CLAUDE_ALLOWED_TOOLS="+string(b))
		}
		if len(settings.DisallowedTools) > 0 {
			b, _ := json.Marshal(settings.DisallowedTools)
			env = append(env, "CLAUDE_DISALLOWED_TOOLS="+string(b))
		}
		if settings.SkipPermissions {
			env = append(env, "CLAUDE_SKIP_PERMISSIONS=1")
		}
	}

	servers, err := db.ListMcpServers(userID)
	if err != nil {
		return nil, fmt.Errorf("exec env: %w", err)
	}
	var enabled []map[string]interface{}
	for _, s := range servers {
		if !s.Enabled {
			continue
		}
		var cfg interface{}
		if err := json.Unmarshal([]byte(s.Config), &cfg); err != nil {
			cfg = s.Config
		}
		enabled = append(enabled, map[string]interface{}{
			"name": s.Name, "type": s.Type, "config": cfg,
		})
	}
	if len(enabled) > 0 {
		b, err := json.Marshal(enabled)
		if err != nil {
			return nil, fmt.Errorf("exec env: marshal mcp config: %w", err)
		}
		env = append(env, "CLAUDE_MCP_SERVERS="+string(b))
	}

	return env, nil
}
