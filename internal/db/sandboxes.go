package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/agentserver/agentserver/internal/supervisor"
)

// GetSandboxByUser implements supervisor.Store.
func (db *DB) GetSandboxByUser(userID string) (*supervisor.Record, error) {
	r := &supervisor.Record{}
	err := db.QueryRow(
		`SELECT user_id, engine_id, name, status, tier_snapshot, created_at, last_active_at
		 FROM sandboxes WHERE user_id = ?`,
		userID,
	).Scan(&r.UserID, &r.EngineID, &r.Name, &r.Status, &r.Tier, &r.CreatedAt, &r.LastActiveAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sandbox by user: %w", err)
	}
	return r, nil
}

// CreateSandbox implements supervisor.Store.
func (db *DB) CreateSandbox(userID, engineID, name, tier string) (*supervisor.Record, error) {
	now := time.Now()
	_, err := db.Exec(
		`INSERT INTO sandboxes (user_id, engine_id, name, status, tier_snapshot, created_at, last_active_at)
		 VALUES (?, ?, ?, 'creating', ?, ?, ?)`,
		userID, engineID, name, tier, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create sandbox: %w", err)
	}
	return &supervisor.Record{
		UserID: userID, EngineID: engineID, Name: name,
		Status: "creating", Tier: tier, CreatedAt: now, LastActiveAt: now,
	}, nil
}

// UpdateSandboxStatus implements supervisor.Store.
func (db *DB) UpdateSandboxStatus(userID, status string) error {
	_, err := db.Exec("UPDATE sandboxes SET status = ? WHERE user_id = ?", status, userID)
	if err != nil {
		return fmt.Errorf("update sandbox status: %w", err)
	}
	return nil
}

// UpdateSandboxEngineID implements supervisor.Store.
func (db *DB) UpdateSandboxEngineID(userID, engineID string) error {
	_, err := db.Exec("UPDATE sandboxes SET engine_id = ? WHERE user_id = ?", engineID, userID)
	if err != nil {
		return fmt.Errorf("update sandbox engine id: %w", err)
	}
	return nil
}

// UpdateSandboxActivity implements supervisor.Store.
func (db *DB) UpdateSandboxActivity(userID string) error {
	_, err := db.Exec("UPDATE sandboxes SET last_active_at = ? WHERE user_id = ?", time.Now(), userID)
	if err != nil {
		return fmt.Errorf("update sandbox activity: %w", err)
	}
	return nil
}

// DeleteSandbox implements supervisor.Store.
func (db *DB) DeleteSandbox(userID string) error {
	_, err := db.Exec("DELETE FROM sandboxes WHERE user_id = ?", userID)
	if err != nil {
		return fmt.Errorf("delete sandbox: %w", err)
	}
	return nil
}

// ListRunningSandboxes implements supervisor.Store, feeding start-up
// reconciliation.
func (db *DB) ListRunningSandboxes() ([]*supervisor.Record, error) {
	rows, err := db.Query(
		`SELECT user_id, engine_id, name, status, tier_snapshot, created_at, last_active_at
		 FROM sandboxes WHERE status = 'running'`,
	)
	if err != nil {
		return nil, fmt.Errorf("list running sandboxes: %w", err)
	}
	defer rows.Close()

	var records []*supervisor.Record
	for rows.Next() {
		r := &supervisor.Record{}
		if err := rows.Scan(&r.UserID, &r.EngineID, &r.Name, &r.Status, &r.Tier, &r.CreatedAt, &r.LastActiveAt); err != nil {
			return nil, fmt.Errorf("scan sandbox: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// RecordMetric appends a SandboxMetric sample, per spec.md §3.
func (db *DB) RecordMetric(engineID string, cpuPct float64, memUsed, memLimit, diskUsed int64) error {
	_, err := db.Exec(
		`INSERT INTO sandbox_metrics (engine_id, cpu_pct, mem_used, mem_limit, disk_used) VALUES (?, ?, ?, ?, ?)`,
		engineID, cpuPct, memUsed, memLimit, diskUsed,
	)
	if err != nil {
		return fmt.Errorf("record metric: %w", err)
	}
	return nil
}

// PruneMetricsOlderThan deletes samples older than cutoff, keeping the
// append-only table bounded per spec.md §3 ("pruned by age").
func (db *DB) PruneMetricsOlderThan(cutoff time.Time) error {
	_, err := db.Exec("DELETE FROM sandbox_metrics WHERE ts < ?", cutoff)
	if err != nil {
		return fmt.Errorf("prune metrics: %w", err)
	}
	return nil
}
