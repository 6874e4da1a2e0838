// Package db records pipeline events in a local DuckDB database so past
// runs can be inspected with the state subcommand.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb" // DuckDB driver
)

// Event types recorded per pipeline stage.
const (
	EventSubmitStart   = "submit_start"
	EventSubmitEnd     = "submit_end"
	EventPollMatch     = "poll_match"
	EventDownloadStart = "download_start"
	EventDownloadEnd   = "download_end"
	EventExtractEnd    = "extract_end"
	EventPublishEnd    = "publish_end"
	EventError         = "error"
)

const schemaSequenceSQL = `CREATE SEQUENCE IF NOT EXISTS backup_event_log_id_seq;`
const schemaTableSQL = `
CREATE TABLE IF NOT EXISTS backup_event_log (
    log_id          BIGINT PRIMARY KEY DEFAULT nextval('backup_event_log_id_seq'),
    run_id          VARCHAR NOT NULL,
    format          VARCHAR NOT NULL,
    event           VARCHAR NOT NULL,
    event_timestamp TIMESTAMP NOT NULL,
    download_url    VARCHAR,
    output_path     VARCHAR,
    message         VARCHAR,
    duration_ms     BIGINT
);
CREATE INDEX IF NOT EXISTS idx_backup_event_log_run ON backup_event_log (run_id, format);
CREATE INDEX IF NOT EXISTS idx_backup_event_log_event_time ON backup_event_log (event, event_timestamp);
`

// InitializeSchema creates the sequence and table in the correct order.
func InitializeSchema(conn *sql.DB) error {
	if _, err := conn.Exec(schemaSequenceSQL); err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return fmt.Errorf("failed to execute sequence setup: %w", err)
	}
	if _, err := conn.Exec(schemaTableSQL); err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return fmt.Errorf("failed to execute table/index setup: %w", err)
	}
	return nil
}

// EventLog writes pipeline events. A nil EventLog, or one built over a nil
// connection, discards events silently so callers never guard recording.
type EventLog struct {
	conn   *sql.DB
	logger *slog.Logger
}

func NewEventLog(conn *sql.DB, logger *slog.Logger) *EventLog {
	return &EventLog{conn: conn, logger: logger}
}

// Record inserts one event row. Recording is best-effort: a failed insert
// is logged and never interrupts the pipeline.
func (e *EventLog) Record(ctx context.Context, runID string, format, event, downloadURL, outputPath, message string, duration *time.Duration) {
	if e == nil || e.conn == nil {
		return
	}
	query := `
        INSERT INTO backup_event_log (run_id, format, event, event_timestamp, download_url, output_path, message, duration_ms)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?);
    `
	var durationMs sql.NullInt64
	if duration != nil {
		durationMs = sql.NullInt64{Int64: duration.Milliseconds(), Valid: true}
	}
	_, err := e.conn.ExecContext(ctx, query,
		runID,
		format,
		event,
		time.Now().UTC(),
		sql.NullString{String: downloadURL, Valid: downloadURL != ""},
		sql.NullString{String: outputPath, Valid: outputPath != ""},
		sql.NullString{String: message, Valid: message != ""},
		durationMs,
	)
	if err != nil && e.logger != nil {
		e.logger.Warn("Failed to record pipeline event.",
			slog.String("event", event), slog.String("format", format), "error", err)
	}
}

// Event is one row of the pipeline event log.
type Event struct {
	LogID       int64
	RunID       string
	Format      string
	Event       string
	Timestamp   time.Time
	DownloadURL string
	OutputPath  string
	Message     string
	DurationMs  sql.NullInt64
}

// RecentEvents returns up to limit rows, newest first, optionally filtered
// by event type.
func RecentEvents(ctx context.Context, conn *sql.DB, eventFilter string, limit int) ([]Event, error) {
	query := `
        SELECT log_id, run_id, format, event, event_timestamp, download_url, output_path, message, duration_ms
        FROM backup_event_log
    `
	args := []any{}
	if eventFilter != "" {
		query += ` WHERE event = ?`
		args = append(args, eventFilter)
	}
	query += ` ORDER BY event_timestamp DESC, log_id DESC LIMIT ?;`
	args = append(args, limit)

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query event log: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var downloadURL, outputPath, message sql.NullString
		if err := rows.Scan(&ev.LogID, &ev.RunID, &ev.Format, &ev.Event, &ev.Timestamp, &downloadURL, &outputPath, &message, &ev.DurationMs); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		ev.DownloadURL = downloadURL.String
		ev.OutputPath = outputPath.String
		ev.Message = message.String
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event log rows: %w", err)
	}
	return events, nil
}
