package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// UserSettings is the per-(user_id, provider) record of spec.md §3.
type UserSettings struct {
	UserID          string
	Provider        string
	AllowedTools    []string
	DisallowedTools []string
	SkipPermissions bool
}

func (db *DB) GetUserSettings(userID, provider string) (*UserSettings, error) {
	var allowedJSON, disallowedJSON string
	s := &UserSettings{UserID: userID, Provider: provider}
	err := db.QueryRow(
		`SELECT allowed_tools, disallowed_tools, skip_permissions
		 FROM user_settings WHERE user_id = ? AND provider = ?`,
		userID, provider,
	).Scan(&allowedJSON, &disallowedJSON, &s.SkipPermissions)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user settings: %w", err)
	}
	json.Unmarshal([]byte(allowedJSON), &s.AllowedTools)
	json.Unmarshal([]byte(disallowedJSON), &s.DisallowedTools)
	return s, nil
}

// PutUserSettings upserts a UserSettings record, enforcing the
// (user_id, provider) uniqueness spec.md §3 requires.
func (db *DB) PutUserSettings(s *UserSettings) error {
	allowedJSON, err := json.Marshal(s.AllowedTools)
	if err != nil {
		return fmt.Errorf("marshal allowed tools: %w", err)
	}
	disallowedJSON, err := json.Marshal(s.DisallowedTools)
	if err != nil {
		return fmt.Errorf("marshal disallowed tools: %w", err)
	}
	_, err = db.Exec(
		`INSERT INTO user_settings (user_id, provider, allowed_tools, disallowed_tools, skip_permissions, updated_at)
		 VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(user_id, provider) DO UPDATE SET
		   allowed_tools = excluded.allowed_tools,
		   disallowed_tools = excluded.disallowed_tools,
		   skip_permissions = excluded.skip_permissions,
		   updated_at = CURRENT_TIMESTAMP`,
		s.UserID, s.Provider, string(allowedJSON), string(disallowedJSON), s.SkipPermissions,
	)
	if err != nil {
		return fmt.Errorf("put user settings: %w", err)
	}
	return nil
}
