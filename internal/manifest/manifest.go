// Package manifest keeps a SQLite ledger of extraction runs.
package manifest

import (
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Run statuses.
const (
	StatusCreated = "created"
	StatusExists  = "exists"
	StatusFailed  = "failed"
)

// schema.sql creates the runs table and its indexes.
//
//go:embed schema.sql
var schemaSQL string

// Run is one recorded pipeline invocation.
type Run struct {
	ID        string
	Patient   string
	Input     string
	Output    string
	Status    string
	Message   string
	StartedAt time.Time
	Duration  time.Duration
}

// Manifest is an open run ledger.
type Manifest struct {
	*sql.DB
}

// Open opens or creates the ledger at path.
func Open(path string) (*Manifest, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create manifest schema: %w", err)
	}
	return &Manifest{db}, nil
}

// Record stores r, assigning it a new ID when it has none, and returns the
// ID.
func (m *Manifest) Record(r Run) (string, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	_, err := m.Exec(`
		INSERT INTO runs (id, patient, input_path, output_path, status, message, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Patient, r.Input, r.Output, r.Status, r.Message, r.StartedAt.UnixNano(), r.Duration.Milliseconds())
	if err != nil {
		return "", fmt.Errorf("record run: %w", err)
	}
	return r.ID, nil
}

// Runs returns the most recent runs first. A non-empty patient restricts
// the result to that patient; limit <= 0 means no limit.
func (m *Manifest) Runs(patient string, limit int) ([]Run, error) {
	query := `SELECT id, patient, input_path, output_path, status, message, started_at, duration_ms FROM runs`
	var args []any
	if patient != "" {
		query += ` WHERE patient = ?`
		args = append(args, patient)
	}
	query += ` ORDER BY started_at DESC, id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := m.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r          Run
			startedAt  int64
			durationMs int64
		)
		if err := rows.Scan(&r.ID, &r.Patient, &r.Input, &r.Output, &r.Status, &r.Message, &startedAt, &durationMs); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt = time.Unix(0, startedAt)
		r.Duration = time.Duration(durationMs) * time.Millisecond
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
