package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"fac-data-pipeline/internal/config"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// Runs is the registry of pipeline runs backing the HTTP API. Unlike the
// staging store it outlives individual runs.
type Runs struct {
	db *sql.DB
}

// RunInfo is one registry row as returned to API clients.
type RunInfo struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// OpenRuns opens (creating if needed) the run registry database.
func OpenRuns(path string) (*Runs, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "open run registry")
	}

	ddl := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		config TEXT,
		status TEXT,
		error TEXT,
		created_at DATETIME,
		updated_at DATETIME
	);
	`
	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create runs table")
	}
	return &Runs{db: db}, nil
}

// SaveRun stores a new pending run with its configuration.
func (r *Runs) SaveRun(runID string, cfg *config.Config) error {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "marshal run config")
	}
	now := time.Now().UTC()
	_, err = r.db.Exec(`INSERT INTO runs (id, config, status, error, created_at, updated_at) VALUES (?, ?, ?, '', ?, ?)`,
		runID, string(cfgJSON), "pending", now, now)
	return errors.Wrap(err, "save run")
}

// UpdateStatus records a state transition for a run.
func (r *Runs) UpdateStatus(runID, status string) error {
	_, err := r.db.Exec(`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), runID)
	return errors.Wrap(err, "update run status")
}

// SaveError records the fatal error of a failed run.
func (r *Runs) SaveError(runID string, runErr error) error {
	if runErr == nil {
		return nil
	}
	_, err := r.db.Exec(`UPDATE runs SET error = ?, updated_at = ? WHERE id = ?`,
		runErr.Error(), time.Now().UTC(), runID)
	return errors.Wrap(err, "save run error")
}

// ListRuns returns all runs, newest first.
func (r *Runs) ListRuns() ([]RunInfo, error) {
	rows, err := r.db.Query(`SELECT id, status, error, created_at, updated_at FROM runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "list runs")
	}
	defer rows.Close()

	var runs []RunInfo
	for rows.Next() {
		var info RunInfo
		if err := rows.Scan(&info.ID, &info.Status, &info.Error, &info.CreatedAt, &info.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "scan run row")
		}
		runs = append(runs, info)
	}
	return runs, rows.Err()
}

// GetRun fetches one run with its stored configuration.
func (r *Runs) GetRun(runID string) (*RunInfo, *config.Config, error) {
	var info RunInfo
	var cfgJSON string
	err := r.db.QueryRow(`SELECT id, config, status, error, created_at, updated_at FROM runs WHERE id = ?`, runID).
		Scan(&info.ID, &cfgJSON, &info.Status, &info.Error, &info.CreatedAt, &info.UpdatedAt)
	if err != nil {
		return nil, nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(cfgJSON), &cfg); err != nil {
		return nil, nil, errors.Wrap(err, "unmarshal run config")
	}
	return &info, &cfg, nil
}

// Close releases the registry handle.
func (r *Runs) Close() error { return r.db.Close() }
