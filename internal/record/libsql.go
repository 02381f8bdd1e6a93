package record

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/agentgraph/pkg/schema"
)

const runEventsSchema = `CREATE TABLE IF NOT EXISTS run_events (
	id         TEXT NOT NULL,
	run_id     TEXT NOT NULL,
	flow_id    TEXT NOT NULL,
	node_id    TEXT,
	agent_id   TEXT,
	event_type TEXT NOT NULL,
	payload    TEXT,
	sequence   INTEGER NOT NULL,
	timestamp  TIMESTAMP NOT NULL,
	PRIMARY KEY (run_id, sequence)
)`

// LibSQLRecorder persists run events in a libSQL (embedded SQLite) database.
// Opt-in via engine options; the default recorder is in-memory.
type LibSQLRecorder struct {
	db *sql.DB
}

// NewLibSQLRecorder opens (or creates) the database at the given file URI,
// e.g. "file:/path/to/runs.db", and ensures the event table exists.
func NewLibSQLRecorder(dbPath string) (*LibSQLRecorder, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Connection-level PRAGMAs; some return rows, so QueryRow.
	for _, p := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	if _, err := db.Exec(runEventsSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create run_events table: %w", err)
	}

	return &LibSQLRecorder{db: db}, nil
}

// Append inserts the event with the next per-run sequence. The read and
// insert run in one transaction so concurrent appenders cannot interleave.
func (r *LibSQLRecorder) Append(ctx context.Context, event *schema.RunEvent) error {
	if event == nil {
		return schema.NewError(schema.ErrCodeRecord, "event is nil")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	var payload sql.NullString
	if len(event.Payload) > 0 {
		b, err := json.Marshal(event.Payload)
		if err != nil {
			return schema.NewError(schema.ErrCodeRecord, "marshal event payload").WithCause(err)
		}
		payload = sql.NullString{String: string(b), Valid: true}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return schema.NewError(schema.ErrCodeRecord, "begin event tx").WithCause(err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM run_events WHERE run_id = ?`, event.RunID,
	).Scan(&seq); err != nil {
		return schema.NewError(schema.ErrCodeRecord, "next event sequence").WithCause(err)
	}
	event.Sequence = seq

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO run_events (id, run_id, flow_id, node_id, agent_id, event_type, payload, sequence, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.RunID, event.FlowID, nullStr(event.NodeID), nullStr(event.AgentID),
		event.Type, payload, seq, event.Timestamp,
	); err != nil {
		return schema.NewError(schema.ErrCodeRecord, "insert run event").WithCause(err)
	}

	if err := tx.Commit(); err != nil {
		return schema.NewError(schema.ErrCodeRecord, "commit run event").WithCause(err)
	}
	return nil
}

// Events returns the run's events ordered by sequence.
func (r *LibSQLRecorder) Events(ctx context.Context, runID string) ([]schema.RunEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, run_id, flow_id, node_id, agent_id, event_type, payload, sequence, timestamp
		 FROM run_events WHERE run_id = ? ORDER BY sequence ASC`, runID)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeRecord, "query run events").WithCause(err)
	}
	defer rows.Close()

	var events []schema.RunEvent
	for rows.Next() {
		var (
			e                        schema.RunEvent
			nodeID, agentID, payload sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.RunID, &e.FlowID, &nodeID, &agentID,
			&e.Type, &payload, &e.Sequence, &e.Timestamp); err != nil {
			return nil, schema.NewError(schema.ErrCodeRecord, "scan run event").WithCause(err)
		}
		e.NodeID = nodeID.String
		e.AgentID = agentID.String
		if payload.Valid {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				return nil, schema.NewError(schema.ErrCodeRecord, "decode event payload").WithCause(err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, schema.NewError(schema.ErrCodeRecord, "iterate run events").WithCause(err)
	}
	return events, nil
}

// Close closes the database.
func (r *LibSQLRecorder) Close() error { return r.db.Close() }

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ Recorder = (*LibSQLRecorder)(nil)
