// Package history records completed rebalancing passes in a local SQLite
// database so operators can review what the tool did after the fact. The
// rebalancing engine itself never touches this store.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/carlosvargasvip/proxmox-scripts/internal/balancer"
)

// PassRecord is one stored pass summary.
type PassRecord struct {
	ID        int64
	StartedAt time.Time
	Mode      string
	Nodes     int
	VMs       int
	Succeeded int
	Failed    int
	Duration  time.Duration
}

// Store manages the SQLite-backed pass history.
type Store struct {
	db *sql.DB
}

// DefaultPath returns the history database path: next to the executable,
// falling back to the working directory.
func DefaultPath() string {
	exePath, err := os.Executable()
	if err != nil {
		exePath = "."
	}
	return filepath.Join(filepath.Dir(exePath), "pvebalance_history.db")
}

// Open opens (creating if needed) the history database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return store, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS passes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			started_at INTEGER NOT NULL,
			mode TEXT NOT NULL,
			nodes INTEGER NOT NULL,
			vms INTEGER NOT NULL,
			succeeded INTEGER NOT NULL,
			failed INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create passes table: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS migrations (
			pass_id INTEGER NOT NULL REFERENCES passes(id),
			vmid INTEGER NOT NULL,
			source TEXT NOT NULL,
			target TEXT NOT NULL,
			result TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT ''
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

// RecordPass stores one pass summary with all its migration attempts.
func (s *Store) RecordPass(startedAt time.Time, duration time.Duration, nodes, vms int, summary *balancer.Summary) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin history transaction: %w", err)
	}
	defer tx.Rollback()

	failed := 0
	for _, n := range summary.FailureCounts() {
		failed += n
	}

	res, err := tx.Exec(`
		INSERT INTO passes (started_at, mode, nodes, vms, succeeded, failed, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		startedAt.Unix(), string(summary.Mode), nodes, vms,
		summary.Succeeded(), failed, duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to insert pass: %w", err)
	}
	passID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read pass id: %w", err)
	}

	for _, ev := range summary.Events {
		result := "success"
		errText := ""
		if ev.Failed() {
			result = ev.Kind().String()
			errText = ev.Err.Error()
		}
		if _, err := tx.Exec(`
			INSERT INTO migrations (pass_id, vmid, source, target, result, error)
			VALUES (?, ?, ?, ?, ?, ?)`,
			passID, ev.Migration.VMID, ev.Migration.Source, ev.Migration.Target,
			result, errText); err != nil {
			return fmt.Errorf("failed to insert migration record: %w", err)
		}
	}

	return tx.Commit()
}

// RecentPasses returns the most recent n passes, newest first.
func (s *Store) RecentPasses(n int) ([]PassRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, mode, nodes, vms, succeeded, failed, duration_ms
		FROM passes ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query passes: %w", err)
	}
	defer rows.Close()

	var records []PassRecord
	for rows.Next() {
		var rec PassRecord
		var startedAt int64
		var durationMs int64
		if err := rows.Scan(&rec.ID, &startedAt, &rec.Mode, &rec.Nodes, &rec.VMs,
			&rec.Succeeded, &rec.Failed, &durationMs); err != nil {
			return nil, fmt.Errorf("failed to scan pass row: %w", err)
		}
		rec.StartedAt = time.Unix(startedAt, 0)
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		records = append(records, rec)
	}
	return records, rows.Err()
}
