// Package postgres persists the desk's event stream and run history.
// Persistence is optional: the daemon runs fine without a database,
// it just loses history across restarts.
package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/AaronLay10/ScratchDesk/internal/config"
	_ "github.com/lib/pq"
)

// EventRow represents an event stored in Postgres.
type EventRow struct {
	EventID   int64                  `json:"event_id"`
	Timestamp time.Time              `json:"ts"`
	Level     string                 `json:"level"`
	Event     string                 `json:"event"`
	Message   *string                `json:"msg,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	DeskID    string                 `json:"desk_id"`
	RunID     *string                `json:"run_id,omitempty"`
}

// RunRow represents one execution run stored in Postgres.
type RunRow struct {
	RunID          string     `json:"run_id"`
	DeskID         string     `json:"desk_id"`
	ProgramNumber  int        `json:"program_number"`
	ProgramName    string     `json:"program_name"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	Outcome        *string    `json:"outcome,omitempty"`
	StepsTotal     int        `json:"steps_total"`
	StepsCompleted int        `json:"steps_completed"`
}

// Client manages the Postgres connection for event and run storage.
type Client struct {
	db     *sql.DB
	deskID string
}

// New creates a new Postgres client using environment variables and
// bootstraps the schema. Callers treat an error as "run without
// persistence".
func New(deskID string) (*Client, error) {
	host := getEnv("PGHOST", "127.0.0.1")
	port := getEnv("PGPORT", "5432")
	user := getEnv("PGUSER", "scratchdesk")
	dbname := getEnv("PGDATABASE", "scratchdesk")
	password, err := config.ResolveSecret("PGPASSWORD")
	if err != nil {
		return nil, fmt.Errorf("resolve PGPASSWORD: %w", err)
	}

	var connStr string
	if password != "" {
		connStr = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			host, port, user, password, dbname)
	} else {
		connStr = fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=disable",
			host, port, user, dbname)
	}

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	client := &Client{
		db:     db,
		deskID: deskID,
	}

	if err := client.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create desk tables: %w", err)
	}

	return client, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func (c *Client) createTables() error {
	query := `
		CREATE TABLE IF NOT EXISTS desk_events (
			event_id BIGSERIAL PRIMARY KEY,
			ts       TIMESTAMPTZ NOT NULL,
			level    TEXT NOT NULL,
			event    TEXT NOT NULL,
			msg      TEXT,
			fields   JSONB,
			desk_id  TEXT NOT NULL,
			run_id   TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_desk_events_ts ON desk_events(ts DESC);
		CREATE INDEX IF NOT EXISTS idx_desk_events_desk_id ON desk_events(desk_id);
		CREATE INDEX IF NOT EXISTS idx_desk_events_run_id ON desk_events(run_id);

		CREATE TABLE IF NOT EXISTS desk_runs (
			run_id          TEXT PRIMARY KEY,
			desk_id         TEXT NOT NULL,
			program_number  INTEGER NOT NULL,
			program_name    TEXT NOT NULL,
			started_at      TIMESTAMPTZ NOT NULL,
			ended_at        TIMESTAMPTZ,
			outcome         TEXT,
			steps_total     INTEGER NOT NULL DEFAULT 0,
			steps_completed INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_desk_runs_started_at ON desk_runs(started_at DESC);
	`
	_, err := c.db.Exec(query)
	return err
}

// AppendEvent inserts an event into the database.
func (c *Client) AppendEvent(ts time.Time, level, event, msg string, fields map[string]interface{}, runID string) error {
	var fieldsJSON []byte
	var err error
	if fields != nil {
		fieldsJSON, err = json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("failed to marshal fields: %w", err)
		}
	}

	var msgPtr *string
	if msg != "" {
		msgPtr = &msg
	}

	var runPtr *string
	if runID != "" {
		runPtr = &runID
	}

	query := `
		INSERT INTO desk_events (ts, level, event, msg, fields, desk_id, run_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = c.db.Exec(query, ts, level, event, msgPtr, fieldsJSON, c.deskID, runPtr)
	return err
}

// QueryEvents returns the last N events for this desk in descending
// order by timestamp. runID narrows to one run when non-empty.
func (c *Client) QueryEvents(runID string, limit int) ([]EventRow, error) {
	if limit <= 0 {
		limit = 200
	}
	if limit > 10000 {
		limit = 10000
	}

	query := `
		SELECT event_id, ts, level, event, msg, fields, desk_id, run_id
		FROM desk_events
		WHERE desk_id = $1 AND ($2 = '' OR run_id = $2)
		ORDER BY ts DESC
		LIMIT $3
	`
	rows, err := c.db.Query(query, c.deskID, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		var fieldsJSON []byte
		var msg, run sql.NullString

		if err := rows.Scan(&e.EventID, &e.Timestamp, &e.Level, &e.Event, &msg, &fieldsJSON, &e.DeskID, &run); err != nil {
			return nil, err
		}

		if msg.Valid {
			e.Message = &msg.String
		}
		if run.Valid {
			e.RunID = &run.String
		}
		if len(fieldsJSON) > 0 {
			if err := json.Unmarshal(fieldsJSON, &e.Fields); err != nil {
				return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
			}
		}

		events = append(events, e)
	}

	return events, rows.Err()
}

// StartRun records a new execution run.
func (c *Client) StartRun(runID string, programNumber int, programName string, stepsTotal int, startedAt time.Time) error {
	query := `
		INSERT INTO desk_runs (run_id, desk_id, program_number, program_name, started_at, steps_total)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := c.db.Exec(query, runID, c.deskID, programNumber, programName, startedAt, stepsTotal)
	return err
}

// FinishRun closes out a run with its outcome and completed step count.
func (c *Client) FinishRun(runID, outcome string, stepsCompleted int, endedAt time.Time) error {
	query := `
		UPDATE desk_runs
		SET ended_at = $2, outcome = $3, steps_completed = $4
		WHERE run_id = $1
	`
	_, err := c.db.Exec(query, runID, endedAt, outcome, stepsCompleted)
	return err
}

// QueryRuns returns the most recent runs for this desk, newest first.
func (c *Client) QueryRuns(limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}

	query := `
		SELECT run_id, desk_id, program_number, program_name, started_at, ended_at, outcome, steps_total, steps_completed
		FROM desk_runs
		WHERE desk_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`
	rows, err := c.db.Query(query, c.deskID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunRow
	for rows.Next() {
		var r RunRow
		var ended sql.NullTime
		var outcome sql.NullString

		if err := rows.Scan(&r.RunID, &r.DeskID, &r.ProgramNumber, &r.ProgramName, &r.StartedAt, &ended, &outcome, &r.StepsTotal, &r.StepsCompleted); err != nil {
			return nil, err
		}

		if ended.Valid {
			r.EndedAt = &ended.Time
		}
		if outcome.Valid {
			r.Outcome = &outcome.String
		}

		runs = append(runs, r)
	}

	return runs, rows.Err()
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
