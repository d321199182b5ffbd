package observability

import "database/sql"

// Schema contains the DDL for the drawfile observability tables. Call
// Init(db) to apply it, or embed the constant in your own schema management.
const Schema = `
-- File lifecycle events: saves, backups, conflicts, reloads, overwrites.
CREATE TABLE IF NOT EXISTS file_events (
    event_id TEXT PRIMARY KEY,
    event_type TEXT NOT NULL,
    file_path TEXT NOT NULL,
    content_hash TEXT,
    detail TEXT,
    success INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_file_events_path
    ON file_events(file_path, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_file_events_type
    ON file_events(event_type, created_at DESC);

-- HTTP Request Logs (for retention cleanup)
CREATE TABLE IF NOT EXISTS http_request_logs (
    log_id TEXT PRIMARY KEY DEFAULT ('hrl_' || hex(randomblob(16))),
    method TEXT NOT NULL,
    path TEXT NOT NULL,
    status_code INTEGER,
    duration_ms INTEGER,
    remote_addr TEXT,
    user_agent TEXT,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_http_logs_time ON http_request_logs(created_at DESC);
`

// Init applies the observability schema to the given database.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
