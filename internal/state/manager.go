package state

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Ning0612/treesync/internal/domain"
)

// DBFileName is the history database file inside the data directory
const DBFileName = "history.db"

// Run statuses
const (
	StatusSuccess   = "success"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Manager persists the history of finished runs
type Manager struct {
	db *sql.DB
}

// RunRecord represents a single finished run
type RunRecord struct {
	ID          int64
	RunID       string
	SourceRoot  string
	TargetRoot  string
	StartTime   time.Time
	EndTime     time.Time
	Status      string
	Succeeded   int
	Skipped     int
	Failed      int
	BytesSynced int64
	DryRun      bool
	Error       string
}

// Duration returns how long the run took
func (r RunRecord) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// RecordFromOutcome builds a record from a finished outcome.
// runErr is the fatal error that ended the run, if any.
func RecordFromOutcome(o *domain.Outcome, runErr error) RunRecord {
	r := RunRecord{
		RunID:       o.RunID,
		SourceRoot:  o.SourceRoot,
		TargetRoot:  o.TargetRoot,
		StartTime:   o.StartedAt,
		EndTime:     o.StartedAt.Add(o.Elapsed),
		Succeeded:   o.Totals.Succeeded,
		Skipped:     o.Totals.Skipped,
		Failed:      o.Totals.Failed,
		BytesSynced: o.BytesTransferred,
		DryRun:      o.DryRun,
	}

	switch {
	case o.Cancelled || errors.Is(runErr, domain.ErrCancelled):
		r.Status = StatusCancelled
	case runErr != nil:
		r.Status = StatusFailed
	case o.HasFailures():
		r.Status = StatusPartial
	default:
		r.Status = StatusSuccess
	}

	if runErr != nil {
		r.Error = runErr.Error()
	} else if len(o.Failures) > 0 {
		r.Error = o.Failures[0].String()
	}
	return r
}

// NewManager opens (or creates) the history database in dataDir
func NewManager(dataDir string) (*Manager, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("data directory cannot be empty")
	}

	// Ensure directory exists
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DBFileName)
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Limit connection pool to prevent "database is locked" errors
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Enable WAL mode for better concurrency and set busy timeout
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode and busy timeout: %w", err)
	}

	manager := &Manager{db: db}

	if err := manager.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return manager, nil
}

func (m *Manager) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL UNIQUE,
		source_root TEXT NOT NULL,
		target_root TEXT NOT NULL,
		start_time TIMESTAMP NOT NULL,
		end_time TIMESTAMP NOT NULL,
		status TEXT NOT NULL,
		succeeded INTEGER DEFAULT 0,
		skipped INTEGER DEFAULT 0,
		failed INTEGER DEFAULT 0,
		bytes_synced INTEGER DEFAULT 0,
		dry_run BOOLEAN DEFAULT 0,
		error TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_runs_target_time ON runs(target_root, start_time DESC);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	`

	_, err := m.db.Exec(schema)
	return err
}

func validStatus(s string) bool {
	switch s {
	case StatusSuccess, StatusPartial, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// SaveRun records a finished run
func (m *Manager) SaveRun(record RunRecord) error {
	if !validStatus(record.Status) {
		return fmt.Errorf("invalid status: %s", record.Status)
	}
	if record.RunID == "" {
		return fmt.Errorf("run ID cannot be empty")
	}

	query := `
		INSERT INTO runs (run_id, source_root, target_root, start_time, end_time, status,
			succeeded, skipped, failed, bytes_synced, dry_run, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := m.db.Exec(query,
		record.RunID,
		record.SourceRoot,
		record.TargetRoot,
		record.StartTime,
		record.EndTime,
		record.Status,
		record.Succeeded,
		record.Skipped,
		record.Failed,
		record.BytesSynced,
		record.DryRun,
		record.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to save run record: %w", err)
	}

	return nil
}

const selectColumns = `
	SELECT id, run_id, source_root, target_root, start_time, end_time, status,
		succeeded, skipped, failed, bytes_synced, dry_run, error
	FROM runs`

// GetHistory retrieves the most recent runs into targetRoot
func (m *Manager) GetHistory(targetRoot string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	rows, err := m.db.Query(selectColumns+`
		WHERE target_root = ?
		ORDER BY start_time DESC
		LIMIT ?`, targetRoot, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	return scanRecords(rows)
}

// GetAllHistory retrieves the most recent runs for every target
func (m *Manager) GetAllHistory(limit int) ([]RunRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	rows, err := m.db.Query(selectColumns+`
		ORDER BY start_time DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query all history: %w", err)
	}
	return scanRecords(rows)
}

// GetLastSuccess retrieves the last successful non-dry run into targetRoot.
// Returns nil without error when there is none.
func (m *Manager) GetLastSuccess(targetRoot string) (*RunRecord, error) {
	row := m.db.QueryRow(selectColumns+`
		WHERE target_root = ? AND status = ? AND dry_run = 0
		ORDER BY start_time DESC
		LIMIT 1`, targetRoot, StatusSuccess)

	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last success: %w", err)
	}
	return &record, nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (RunRecord, error) {
	var r RunRecord
	var errText sql.NullString
	err := s.Scan(
		&r.ID,
		&r.RunID,
		&r.SourceRoot,
		&r.TargetRoot,
		&r.StartTime,
		&r.EndTime,
		&r.Status,
		&r.Succeeded,
		&r.Skipped,
		&r.Failed,
		&r.BytesSynced,
		&r.DryRun,
		&errText,
	)
	r.Error = errText.String
	return r, err
}

func scanRecords(rows *sql.Rows) ([]RunRecord, error) {
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}

	return records, nil
}
