package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	_ "modernc.org/sqlite"
)

// ErrRunNotFound indicates the requested run id is not in the history.
var ErrRunNotFound = errors.New("run not found")

// Run statuses.
const (
	StatusSuccess = "Success"
	StatusError   = "Error"
)

// timeLayout has fixed width so created_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Run is the record of one execution.
type Run struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	Status    string    `json:"status"`
	Output    []string  `json:"output"`
	Error     string    `json:"error,omitempty"`
	Steps     int64     `json:"steps"`
}

// History stores finished runs in sqlite.
type History struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenHistory opens (creating if needed) the run history database at path.
func OpenHistory(path string) (*History, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		created_at TEXT NOT NULL,
		status TEXT NOT NULL,
		output TEXT NOT NULL,
		error TEXT NOT NULL,
		steps INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}
	return &History{db: db}, nil
}

// Close closes the database connection.
func (h *History) Close() error {
	return h.db.Close()
}

// Record stores a run.
func (h *History) Record(ctx context.Context, r *Run) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	output, err := json.Marshal(r.Output)
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	_, err = h.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO runs (id, created_at, status, output, error, steps) VALUES (?, ?, ?, ?, ?, ?)",
		r.ID, r.CreatedAt.UTC().Format(timeLayout), r.Status, string(output), r.Error, r.Steps,
	)
	if err != nil {
		return fmt.Errorf("saving run: %w", err)
	}
	return nil
}

// Get loads a run by id.
func (h *History) Get(ctx context.Context, id string) (*Run, error) {
	row := h.db.QueryRowContext(ctx,
		"SELECT id, created_at, status, output, error, steps FROM runs WHERE id = ?", id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return r, err
}

// Recent returns up to limit runs, newest first.
func (h *History) Recent(ctx context.Context, limit int) ([]*Run, error) {
	rows, err := h.db.QueryContext(ctx,
		"SELECT id, created_at, status, output, error, steps FROM runs ORDER BY created_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		r       Run
		created string
		output  string
	)
	if err := s.Scan(&r.ID, &created, &r.Status, &output, &r.Error, &r.Steps); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("reading run: %w", err)
	}
	t, err := time.Parse(timeLayout, created)
	if err != nil {
		return nil, fmt.Errorf("run %s: bad timestamp %q: %w", r.ID, created, err)
	}
	r.CreatedAt = t
	if err := json.Unmarshal([]byte(output), &r.Output); err != nil {
		return nil, fmt.Errorf("run %s: decoding output: %w", r.ID, err)
	}
	return &r, nil
}
