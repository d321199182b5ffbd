package observability

import (
	"context"
	"testing"
	"time"

	"github.com/hazyhaar/drawfile/dbopen"

	_ "modernc.org/sqlite"
)

func TestLogEvent(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	l := NewEventLogger(db)
	ctx := context.Background()

	l.LogEvent(ctx, FileEvent{
		EventType:   EventSave,
		FilePath:    "/data/drawing.excalidraw",
		ContentHash: "abc123",
		Success:     true,
	})
	l.LogEvent(ctx, FileEvent{
		EventType: EventBackup,
		FilePath:  "/data/drawing.excalidraw",
		Detail:    "slot 03",
		Success:   false,
	})

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM file_events").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Fatalf("events: got %d, want 2", count)
	}

	var eventType, hash string
	err := db.QueryRow(
		"SELECT event_type, content_hash FROM file_events WHERE success = 1").Scan(&eventType, &hash)
	if err != nil {
		t.Fatal(err)
	}
	if eventType != EventSave || hash != "abc123" {
		t.Fatalf("got %s/%s", eventType, hash)
	}
}

func TestLogEventNilLoggerIsNoOp(t *testing.T) {
	var l *EventLogger
	// Must not panic.
	l.LogEvent(context.Background(), FileEvent{EventType: EventSave})
}

func TestLogRequest(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	l := NewEventLogger(db)

	l.LogRequest(context.Background(), "POST", "/api/save-file", 200, 42*time.Millisecond, "127.0.0.1", "test-agent")

	var method string
	var durationMS int64
	err := db.QueryRow("SELECT method, duration_ms FROM http_request_logs").Scan(&method, &durationMS)
	if err != nil {
		t.Fatal(err)
	}
	if method != "POST" || durationMS != 42 {
		t.Fatalf("got %s/%d", method, durationMS)
	}
}

func TestCleanup(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	ctx := context.Background()

	old := time.Now().Unix() - 90*86400
	if _, err := db.Exec(
		`INSERT INTO file_events (event_id, event_type, file_path, success, created_at)
		 VALUES ('evt_old', 'save', '/f', 1, ?), ('evt_new', 'save', '/f', 1, ?)`,
		old, time.Now().Unix()); err != nil {
		t.Fatal(err)
	}

	if err := Cleanup(ctx, db, RetentionConfig{FileEventsDays: 30}); err != nil {
		t.Fatal(err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM file_events").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("after cleanup: got %d, want 1", count)
	}
}
