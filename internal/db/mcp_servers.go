package db

import (
	"database/sql"
	"fmt"
	"time"
)

// McpServerRecord is the per-(user_id, name) record of spec.md §3.
type McpServerRecord struct {
	UserID    string
	Name      string
	Type      string // stdio, http, sse
	Config    string // opaque JSON blob
	Enabled   bool
	CreatedAt time.Time
}

func (db *DB) CreateMcpServer(r *McpServerRecord) error {
	_, err := db.Exec(
		`INSERT INTO mcp_servers (user_id, name, type, config, enabled) VALUES (?, ?, ?, ?, ?)`,
		r.UserID, r.Name, r.Type, r.Config, r.Enabled,
	)
	if err != nil {
		return fmt.Errorf("create mcp server: %w", err)
	}
	return nil
}

func (db *DB) GetMcpServer(userID, name string) (*McpServerRecord, error) {
	r := &McpServerRecord{}
	err := db.QueryRow(
		`SELECT user_id, name, type, config, enabled, created_at FROM mcp_servers WHERE user_id = ? AND name = ?`,
		userID, name,
	).Scan(&r.UserID, &r.Name, &r.Type, &r.Config, &r.Enabled, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get mcp server: %w", err)
	}
	return r, nil
}

func (db *DB) ListMcpServers(userID string) ([]*McpServerRecord, error) {
	rows, err := db.Query(
		`SELECT user_id, name, type, config, enabled, created_at FROM mcp_servers WHERE user_id = ? ORDER BY created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list mcp servers: %w", err)
	}
	defer rows.Close()

	var servers []*McpServerRecord
	for rows.Next() {
		r := &McpServerRecord{}
		if err := rows.Scan(&r.UserID, &r.Name, &r.Type, &r.Config, &r.Enabled, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan mcp server: %w", err)
		}
		servers = append(servers, r)
	}
	return servers, rows.Err()
}

func (db *DB) UpdateMcpServer(r *McpServerRecord) error {
	_, err := db.Exec(
		`UPDATE mcp_servers SET type = ?, config = ?, enabled = ? WHERE user_id = ? AND name = ?`,
		r.Type, r.Config, r.Enabled, r.UserID, r.Name,
	)
	if err != nil {
		return fmt.Errorf("update mcp server: %w", err)
	}
	return nil
}

func (db *DB) DeleteMcpServer(userID, name string) error {
	_, err := db.Exec("DELETE FROM mcp_servers WHERE user_id = ? AND name = ?", userID, name)
	if err != nil {
		return fmt.Errorf("delete mcp server: %w", err)
	}
	return nil
}
