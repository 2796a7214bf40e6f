package crossforge

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// HistoryFile is the run ledger inside the working directory.
const HistoryFile = "history.db"

const historySchema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	started_at  TEXT NOT NULL,
	finished_at TEXT,
	status      TEXT NOT NULL,
	version     TEXT NOT NULL,
	error       TEXT
);
CREATE TABLE IF NOT EXISTS steps (
	run_id      TEXT NOT NULL REFERENCES runs(id),
	idx         INTEGER NOT NULL,
	name        TEXT NOT NULL,
	status      TEXT NOT NULL,
	duration_s  REAL NOT NULL DEFAULT 0,
	log_path    TEXT NOT NULL DEFAULT '',
	error       TEXT,
	PRIMARY KEY (run_id, idx)
);`

// Run and step states stored in the ledger.
const (
	statusRunning   = "running"
	statusSucceeded = "succeeded"
	statusFailed    = "failed"
	statusSkipped   = "skipped"
)

// RunRecord is one row of the runs table.
type RunRecord struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     string
	Version    string
	Error      string
}

// StepRecord is one executed or skipped step of a run.
type StepRecord struct {
	Index    int
	Name     string
	Status   string
	Duration time.Duration
	LogPath  string
	Error    string
}

// History records runs and their steps. It implements pipeline.Reporter for
// the current run; write failures are logged, never returned to the
// pipeline.
type History struct {
	db    *sql.DB
	mu    sync.Mutex
	runID string
}

// OpenHistory opens or creates the ledger at path.
func OpenHistory(path string) (*History, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	for _, pragma := range []string{`PRAGMA journal_mode = WAL`, `PRAGMA busy_timeout = 5000`} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(historySchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}
	return &History{db: db}, nil
}

func (h *History) Close() error {
	if h == nil || h.db == nil {
		return nil
	}
	return h.db.Close()
}

// BeginRun inserts a new run and makes it the target of reporter calls.
func (h *History) BeginRun() (string, error) {
	id := uuid.New().String()
	_, err := h.db.Exec(`INSERT INTO runs (id, started_at, status, version) VALUES (?, ?, ?, ?)`,
		id, now(), statusRunning, version)
	if err != nil {
		return "", fmt.Errorf("record run: %w", err)
	}
	h.mu.Lock()
	h.runID = id
	h.mu.Unlock()
	return id, nil
}

// FinishRun closes the current run with the pipeline result.
func (h *History) FinishRun(runErr error) error {
	id := h.currentRun()
	if id == "" {
		return nil
	}
	status, msg := statusSucceeded, sql.NullString{}
	if runErr != nil {
		status = statusFailed
		msg = sql.NullString{String: runErr.Error(), Valid: true}
	}
	_, err := h.db.Exec(`UPDATE runs SET finished_at = ?, status = ?, error = ? WHERE id = ?`,
		now(), status, msg, id)
	return err
}

func (h *History) currentRun() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.runID
}

func (h *History) StepSkipped(index int, name string) {
	if id := h.currentRun(); id != "" {
		h.exec(`INSERT OR REPLACE INTO steps (run_id, idx, name, status) VALUES (?, ?, ?, ?)`,
			id, index, name, statusSkipped)
	}
}

func (h *History) StepStarted(index int, name, logPath string) {
	if id := h.currentRun(); id != "" {
		h.exec(`INSERT OR REPLACE INTO steps (run_id, idx, name, status, log_path) VALUES (?, ?, ?, ?, ?)`,
			id, index, name, statusRunning, logPath)
	}
}

func (h *History) StepFinished(index int, _ string, elapsed time.Duration, err error) {
	id := h.currentRun()
	if id == "" {
		return
	}
	status, msg := statusSucceeded, sql.NullString{}
	if err != nil {
		status = statusFailed
		msg = sql.NullString{String: err.Error(), Valid: true}
	}
	h.exec(`UPDATE steps SET status = ?, duration_s = ?, error = ? WHERE run_id = ? AND idx = ?`,
		status, elapsed.Seconds(), msg, id, index)
}

func (h *History) exec(query string, args ...any) {
	if _, err := h.db.Exec(query, args...); err != nil {
		slog.Warn("history write failed", "err", err)
	}
}

// Runs returns the latest runs, newest first.
func (h *History) Runs(limit int) ([]RunRecord, error) {
	rows, err := h.db.Query(`SELECT id, started_at, COALESCE(finished_at, ''), status, version, COALESCE(error, '')
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var started, finished string
		if err := rows.Scan(&r.ID, &started, &finished, &r.Status, &r.Version, &r.Error); err != nil {
			return nil, err
		}
		r.StartedAt, _ = time.Parse(historyTime, started)
		if finished != "" {
			r.FinishedAt, _ = time.Parse(historyTime, finished)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Steps returns the steps recorded for runID in pipeline order.
func (h *History) Steps(runID string) ([]StepRecord, error) {
	rows, err := h.db.Query(`SELECT idx, name, status, duration_s, log_path, COALESCE(error, '')
		FROM steps WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StepRecord
	for rows.Next() {
		var s StepRecord
		var secs float64
		if err := rows.Scan(&s.Index, &s.Name, &s.Status, &secs, &s.LogPath, &s.Error); err != nil {
			return nil, err
		}
		s.Duration = time.Duration(secs * float64(time.Second))
		out = append(out, s)
	}
	return out, rows.Err()
}

// historyTime sorts lexically, unlike RFC3339Nano which trims zeros.
const historyTime = "2006-01-02T15:04:05.000000000Z07:00"

func now() string {
	return time.Now().UTC().Format(historyTime)
}
