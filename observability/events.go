// Package observability records file lifecycle events and HTTP request logs
// into a dedicated SQLite database. Recording is best-effort: a failing
// observability store never blocks a save.
package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/drawfile/idgen"
)

// Event types recorded by the file service and the save loop.
const (
	EventSave      = "save"
	EventBackup    = "backup"
	EventConflict  = "conflict"
	EventReload    = "reload"
	EventOverwrite = "overwrite"
)

// FileEvent is one domain-level event on a file.
type FileEvent struct {
	EventType   string
	FilePath    string
	ContentHash string
	Detail      string // optional free text or JSON
	Success     bool
}

// EventLogger writes file events and HTTP request logs.
type EventLogger struct {
	db    *sql.DB
	newID idgen.Generator
}

// EventLoggerOption configures an EventLogger.
type EventLoggerOption func(*EventLogger)

// WithEventIDGenerator sets a custom ID generator for event IDs.
func WithEventIDGenerator(gen idgen.Generator) EventLoggerOption {
	return func(l *EventLogger) { l.newID = gen }
}

// NewEventLogger creates a logger backed by the given observability database.
func NewEventLogger(db *sql.DB, opts ...EventLoggerOption) *EventLogger {
	l := &EventLogger{
		db:    db,
		newID: idgen.Prefixed("evt_", idgen.Default),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// LogEvent records a file event. Errors are logged via slog but never
// propagate.
func (l *EventLogger) LogEvent(ctx context.Context, event FileEvent) {
	if l == nil || l.db == nil {
		return
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO file_events (
			event_id, event_type, file_path, content_hash, detail, success, created_at
		) VALUES (?,?,?,?,?,?,?)`,
		l.newID(), event.EventType, event.FilePath, event.ContentHash,
		event.Detail, event.Success, time.Now().Unix())
	if err != nil {
		slog.Error("observability: event log failed", "error", err, "event_type", event.EventType)
	}
}

// LogRequest records one HTTP request. Same best-effort policy as LogEvent.
func (l *EventLogger) LogRequest(ctx context.Context, method, path string, status int, duration time.Duration, remoteAddr, userAgent string) {
	if l == nil || l.db == nil {
		return
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO http_request_logs (
			log_id, method, path, status_code, duration_ms, remote_addr, user_agent, created_at
		) VALUES (?,?,?,?,?,?,?,?)`,
		l.newID(), method, path, status, duration.Milliseconds(),
		remoteAddr, userAgent, time.Now().Unix())
	if err != nil {
		slog.Error("observability: request log failed", "error", err, "path", path)
	}
}

// RetentionConfig specifies per-table retention in days. Zero means no cleanup.
type RetentionConfig struct {
	FileEventsDays int
	HTTPLogsDays   int
	RunVacuumAfter bool
}

// Cleanup deletes records exceeding the retention thresholds.
func Cleanup(ctx context.Context, db *sql.DB, cfg RetentionConfig) error {
	now := time.Now().Unix()

	type target struct {
		table string
		days  int
	}
	targets := []target{
		{"file_events", cfg.FileEventsDays},
		{"http_request_logs", cfg.HTTPLogsDays},
	}

	for _, t := range targets {
		if t.days <= 0 {
			continue
		}
		cutoff := now - int64(t.days*86400)
		q := fmt.Sprintf("DELETE FROM %s WHERE created_at < ?", t.table)
		if _, err := db.ExecContext(ctx, q, cutoff); err != nil {
			return fmt.Errorf("cleanup %s: %w", t.table, err)
		}
	}

	if cfg.RunVacuumAfter {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			return fmt.Errorf("vacuum: %w", err)
		}
	}
	return nil
}
