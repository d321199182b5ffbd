package drawfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":3031" {
		t.Fatalf("listen: %q", cfg.Listen)
	}
	if cfg.BackupSlots != 10 {
		t.Fatalf("backup_slots: %d", cfg.BackupSlots)
	}
	if cfg.BackupCooldown != 5*time.Minute {
		t.Fatalf("backup_cooldown: %v", cfg.BackupCooldown)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drawfile.yaml")
	content := `
listen: ":8080"
data_root: /srv/drawings
backup_cooldown: 1m
backup_slots: 5
observability_db: /var/lib/drawfile/obs.db
retention:
  file_events_days: 14
log_level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":8080" || cfg.DataRoot != "/srv/drawings" {
		t.Fatalf("cfg: %+v", cfg)
	}
	if cfg.BackupCooldown != time.Minute || cfg.BackupSlots != 5 {
		t.Fatalf("backup: %v %d", cfg.BackupCooldown, cfg.BackupSlots)
	}
	if cfg.Retention.FileEventsDays != 14 {
		t.Fatalf("retention: %+v", cfg.Retention)
	}
	// Unset fields still get defaults.
	if cfg.Retention.HTTPLogsDays != 7 {
		t.Fatalf("http_logs_days default: %d", cfg.Retention.HTTPLogsDays)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log_level: %q", cfg.LogLevel)
	}
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	for name, content := range map[string]string{
		"slots":     "backup_slots: 200",
		"log_level": "log_level: verbose",
	} {
		path := filepath.Join(t.TempDir(), name+".yaml")
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadConfig(path); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config path")
	}
}
