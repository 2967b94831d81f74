// Package journal keeps a SQLite log of finished interaction cycles.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"secondbrain/internal/assistant"
)

type Journal struct{ db *sql.DB }

// Entry is one logged cycle.
type Entry struct {
	ID        int64          `json:"id"`
	Started   time.Time      `json:"started"`
	Duration  time.Duration  `json:"duration"`
	Utterance string         `json:"utterance"`
	Language  string         `json:"lang"`
	Intent    string         `json:"intent"`
	Mode      string         `json:"mode,omitempty"`
	Outcome   string         `json:"outcome"`
	Response  string         `json:"response"`
	Objects   map[string]int `json:"objects,omitempty"`
	Error     string         `json:"error,omitempty"`
}

func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	// sqlite has a single writer.
	db.SetMaxOpenConns(1)
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return &Journal{db: db}, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS cycles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			started_at TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			utterance TEXT NOT NULL,
			lang TEXT NOT NULL,
			intent TEXT NOT NULL,
			mode TEXT NOT NULL,
			outcome TEXT NOT NULL,
			response TEXT NOT NULL,
			objects_json TEXT NOT NULL,
			error TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_cycles_outcome ON cycles(outcome);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (j *Journal) Close() error { return j.db.Close() }

// ObserveCycle implements [assistant.Observer].
func (j *Journal) ObserveCycle(ctx context.Context, c assistant.Cycle) error {
	objects := []byte("{}")
	if len(c.Objects) > 0 {
		var err error
		if objects, err = json.Marshal(c.Objects); err != nil {
			return fmt.Errorf("journal: encode objects: %w", err)
		}
	}
	errText := ""
	if c.Err != nil {
		errText = c.Err.Error()
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO cycles (started_at, duration_ms, utterance, lang, intent, mode, outcome, response, objects_json, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Started.UTC().Format(time.RFC3339Nano),
		c.Duration.Milliseconds(),
		c.Utterance,
		c.Language,
		string(c.Intent),
		string(c.Mode),
		string(c.Outcome),
		c.Response,
		string(objects),
		errText,
	)
	if err != nil {
		return fmt.Errorf("journal: insert: %w", err)
	}
	return nil
}

// Recent returns up to n entries, newest first.
func (j *Journal) Recent(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		n = 10
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, started_at, duration_ms, utterance, lang, intent, mode, outcome, response, objects_json, error
		 FROM cycles ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			started string
			ms      int64
			objects string
		)
		if err := rows.Scan(&e.ID, &started, &ms, &e.Utterance, &e.Language, &e.Intent, &e.Mode,
			&e.Outcome, &e.Response, &objects, &e.Error); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		if e.Started, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("journal: entry %d: %w", e.ID, err)
		}
		e.Duration = time.Duration(ms) * time.Millisecond
		if err := json.Unmarshal([]byte(objects), &e.Objects); err != nil {
			return nil, fmt.Errorf("journal: entry %d objects: %w", e.ID, err)
		}
		if len(e.Objects) == 0 {
			e.Objects = nil
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Counts returns the number of logged cycles per outcome.
func (j *Journal) Counts(ctx context.Context) (map[string]int, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM cycles GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			outcome string
			n       int
		)
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		out[outcome] = n
	}
	return out, rows.Err()
}
