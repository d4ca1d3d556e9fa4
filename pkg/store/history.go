package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/markus-lassfolk/acsd/pkg/acs"
	"github.com/markus-lassfolk/acsd/pkg/logx"
)

// HistoryEntry is one row of the selection audit log
type HistoryEntry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Iface     string    `json:"iface"`
	Seq       uint64    `json:"seq"`
	JobID     string    `json:"job_id,omitempty"`
	Path      string    `json:"path"`
	Primary   uint32    `json:"primary_freq"`
	Width     int       `json:"width"`
	HwMode    string    `json:"hw_mode"`
	Fallback  bool      `json:"fallback"`
	Reason    string    `json:"reason,omitempty"`
}

// HistoryDB is an append-only sqlite log of completed selections
type HistoryDB struct {
	db     *sql.DB
	logger *logx.Logger
	now    func() time.Time
}

// OpenHistory opens or creates the history database at path
func OpenHistory(path string, logger *logx.Logger) (*HistoryDB, error) {
	if logger == nil {
		logger = logx.NewLogger("info", "store")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite serializes writers anyway
	db.SetMaxOpenConns(1)

	h := &HistoryDB{db: db, logger: logger, now: time.Now}
	if err := h.initializeDatabase(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return h, nil
}

func (h *HistoryDB) initializeDatabase() error {
	createTableSQL := `
	CREATE TABLE IF NOT EXISTS selections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		iface TEXT NOT NULL,
		seq INTEGER NOT NULL,
		job_id TEXT,
		path TEXT NOT NULL,
		primary_freq INTEGER NOT NULL,
		width INTEGER NOT NULL,
		hw_mode TEXT NOT NULL,
		fallback BOOLEAN DEFAULT FALSE,
		reason TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_selections_iface ON selections(iface, timestamp);
	CREATE INDEX IF NOT EXISTS idx_selections_timestamp ON selections(timestamp);
	`

	_, err := h.db.Exec(createTableSQL)
	return err
}

// Append records a completed selection
func (h *HistoryDB) Append(res *acs.Result) error {
	insertSQL := `
	INSERT INTO selections (
		timestamp, iface, seq, job_id, path, primary_freq, width, hw_mode, fallback, reason
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := h.db.Exec(insertSQL,
		h.now().UTC(), res.Iface, res.Seq, res.JobID, res.Path,
		res.Primary, res.Width, res.HwMode.String(), res.Fallback, res.Reason,
	)
	if err != nil {
		return fmt.Errorf("failed to insert selection: %w", err)
	}
	return nil
}

// Recent returns the newest entries, optionally for one interface
func (h *HistoryDB) Recent(iface string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, timestamp, iface, seq, job_id, path, primary_freq, width, hw_mode, fallback, reason
		FROM selections`
	args := []interface{}{}
	if iface != "" {
		query += " WHERE iface = ?"
		args = append(args, iface)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := h.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var jobID, reason sql.NullString
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Iface, &e.Seq, &jobID, &e.Path,
			&e.Primary, &e.Width, &e.HwMode, &e.Fallback, &reason); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		e.JobID = jobID.String
		e.Reason = reason.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes entries older than the retention period
func (h *HistoryDB) Prune(retentionDays int) (int64, error) {
	cutoff := h.now().UTC().AddDate(0, 0, -retentionDays)
	result, err := h.db.Exec("DELETE FROM selections WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		h.logger.Info("history_pruned", "deleted", n, "cutoff", cutoff)
	}
	return n, nil
}

// Deliver appends a completed selection
func (h *HistoryDB) Deliver(res *acs.Result) {
	if err := h.Append(res); err != nil {
		h.logger.Error("history_append_failed", "iface", res.Iface, "error", err)
	}
}

// Close closes the database connection
func (h *HistoryDB) Close() error {
	return h.db.Close()
}
