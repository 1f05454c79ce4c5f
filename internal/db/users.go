package db

import (
	"database/sql"
	"fmt"
	"time"
)

// User is the Identity record of spec.md §3.
type User struct {
	ID           string
	Username     string
	PasswordHash *string
	Role         string
	Tier         string
	CreatedAt    time.Time
}

func (db *DB) CreateUser(id, username, passwordHash string) error {
	_, err := db.Exec(
		"INSERT INTO users (id, username, password_hash) VALUES (?, ?, ?)",
		id, username, passwordHash,
	)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (db *DB) GetUserByUsername(username string) (*User, error) {
	u := &User{}
	err := db.QueryRow(
		"SELECT id, username, password_hash, role, tier, created_at FROM users WHERE username = ?",
		username,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.Tier, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by username: %w", err)
	}
	return u, nil
}

func (db *DB) GetUserByID(id string) (*User, error) {
	u := &User{}
	err := db.QueryRow(
		"SELECT id, username, password_hash, role, tier, created_at FROM users WHERE id = ?",
		id,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.Tier, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return u, nil
}

func (db *DB) ListAllUsers() ([]*User, error) {
	rows, err := db.Query(
		"SELECT id, username, password_hash, role, tier, created_at FROM users ORDER BY created_at ASC",
	)
	if err != nil {
		return nil, fmt.Errorf("list all users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u := &User{}
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.Tier, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ListUserIDs implements extension.UserLister.
func (db *DB) ListUserIDs() ([]string, error) {
	rows, err := db.Query("SELECT id FROM users ORDER BY created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("list user ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (db *DB) CountUsers() (int, error) {
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

func (db *DB) UpdateUserRole(userID, role string) error {
	_, err := db.Exec("UPDATE users SET role = ? WHERE id = ?", role, userID)
	if err != nil {
		return fmt.Errorf("update user role: %w", err)
	}
	return nil
}

func (db *DB) UpdateUserTier(userID, tier string) error {
	_, err := db.Exec("UPDATE users SET tier = ? WHERE id = ?", tier, userID)
	if err != nil {
		return fmt.Errorf("update user tier: %w", err)
	}
	return nil
}

// DeleteUser cascades to the user's sandbox record, settings, and MCP
// servers via foreign keys, per spec.md §3 ("deleting a user cascades to
// its containers and extension state"). The host data directory itself
// is left untouched — callers decide separately whether to preserve it.
func (db *DB) DeleteUser(userID string) error {
	_, err := db.Exec("DELETE FROM users WHERE id = ?", userID)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}
