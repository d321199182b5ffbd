package filestore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	if cfg.Root == "" {
		cfg.Root = t.TempDir()
	}
	s, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestLoadNotFound(t *testing.T) {
	s := newTestStore(t, Config{})
	_, _, err := s.Load("missing.excalidraw")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLoadEmptyFile(t *testing.T) {
	// WHAT: a zero-byte file loads as empty bytes, not an error.
	s := newTestStore(t, Config{})
	abs, _ := s.Resolve("empty.excalidraw")
	if err := os.WriteFile(abs, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	data, info, err := s.Load("empty.excalidraw")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(data) != 0 || !info.Exists {
		t.Fatalf("data=%d exists=%v", len(data), info.Exists)
	}
}

func TestSaveReportsBackup(t *testing.T) {
	// WHAT: Save tells the caller whether a backup slot was written, so the
	// event log can record backups without re-scanning the ring.
	s := newTestStore(t, Config{})
	content := []byte(`{"type":"excalidraw","elements":[]}`)

	info, err := s.Save("d.excalidraw", content, false)
	if err != nil {
		t.Fatal(err)
	}
	if info.BackedUp {
		t.Fatal("first write reported a backup")
	}

	info, err = s.Save("d.excalidraw", append(content, '\n'), true)
	if err != nil {
		t.Fatal(err)
	}
	if !info.BackedUp {
		t.Fatal("forced overwrite did not report its backup")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t, Config{})
	content := []byte(`{"type":"excalidraw","elements":[]}`)

	info, err := s.Save("drawing.excalidraw", content, false)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if info.Hash != HashBytes(content) {
		t.Fatal("save hash does not reflect written bytes")
	}

	data, loadInfo, err := s.Load("drawing.excalidraw")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(data) != string(content) {
		t.Fatal("content mismatch")
	}
	if loadInfo.Hash != info.Hash {
		t.Fatal("load hash differs from save hash")
	}
}

func TestStatHashIsFresh(t *testing.T) {
	// WHAT: Stat hashes the current bytes, never a cached value.
	// WHY: the conflict check depends on seeing external writes.
	s := newTestStore(t, Config{})
	s.Save("f.excalidraw", []byte("v1"), false)
	first, _ := s.Stat("f.excalidraw")

	abs, _ := s.Resolve("f.excalidraw")
	if err := os.WriteFile(abs, []byte("v2-external"), 0o644); err != nil {
		t.Fatal(err)
	}
	second, _ := s.Stat("f.excalidraw")
	if first.Hash == second.Hash {
		t.Fatal("external mutation not visible in hash")
	}
	if second.Hash != HashBytes([]byte("v2-external")) {
		t.Fatal("hash does not match on-disk bytes")
	}
}

func TestStatMissingFile(t *testing.T) {
	s := newTestStore(t, Config{})
	info, err := s.Stat("nope.excalidraw")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Exists {
		t.Fatal("missing file reported as existing")
	}
}

func TestResolveRejectsTraversal(t *testing.T) {
	s := newTestStore(t, Config{})
	for _, p := range []string{"../outside.txt", "a/../../outside.txt", "/etc/passwd"} {
		if _, err := s.Resolve(p); !errors.Is(err, ErrOutsideRoot) {
			t.Errorf("Resolve(%q): expected ErrOutsideRoot, got %v", p, err)
		}
	}
}

func TestResolveAcceptsAbsoluteUnderRoot(t *testing.T) {
	root := t.TempDir()
	s := newTestStore(t, Config{Root: root})
	abs := filepath.Join(root, "sub", "f.excalidraw")
	got, err := s.Resolve(abs)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != abs {
		t.Fatalf("got %q, want %q", got, abs)
	}
}

func TestSaveIsAtomic(t *testing.T) {
	s := newTestStore(t, Config{})
	s.Save("f.excalidraw", []byte("v1"), false)
	s.Save("f.excalidraw", []byte("v2"), false)

	abs, _ := s.Resolve("f.excalidraw")
	if _, err := os.Stat(abs + ".tmp"); !os.IsNotExist(err) {
		t.Fatal("temp file left behind")
	}
	data, _, _ := s.Load("f.excalidraw")
	if string(data) != "v2" {
		t.Fatalf("got %q", data)
	}
}

func TestBackupCooldown(t *testing.T) {
	// WHAT: two unforced saves inside the cooldown produce one backup.
	s := newTestStore(t, Config{BackupCooldown: time.Hour})
	s.Save("f.excalidraw", []byte("v1"), false)

	// First overwrite: no slots yet, backup of v1 is written.
	s.Save("f.excalidraw", []byte("v2"), false)
	slots, _ := s.BackupSlots("f.excalidraw")
	if len(slots) != 1 {
		t.Fatalf("slots after first overwrite: %d, want 1", len(slots))
	}

	// Second overwrite inside the cooldown: skipped.
	s.Save("f.excalidraw", []byte("v3"), false)
	slots, _ = s.BackupSlots("f.excalidraw")
	if len(slots) != 1 {
		t.Fatalf("slots after cooldown save: %d, want 1", len(slots))
	}

	// Forced: written regardless.
	s.Save("f.excalidraw", []byte("v4"), true)
	slots, _ = s.BackupSlots("f.excalidraw")
	if len(slots) != 2 {
		t.Fatalf("slots after forced save: %d, want 2", len(slots))
	}
}

func TestBackupPreservesPreWriteBytes(t *testing.T) {
	s := newTestStore(t, Config{})
	s.Save("f.excalidraw", []byte("original"), false)
	s.Save("f.excalidraw", []byte("replacement"), true)

	slots, _ := s.BackupSlots("f.excalidraw")
	if len(slots) != 1 {
		t.Fatalf("slots: %d", len(slots))
	}
	data, err := os.ReadFile(slots[0])
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "original" {
		t.Fatalf("backup holds %q, want pre-write bytes", data)
	}
}

func TestBackupRingRotation(t *testing.T) {
	// WHAT: after 11 forced backups only 10 slots exist and the oldest
	// pre-existing slot is the one overwritten on the 11th.
	s := newTestStore(t, Config{BackupSlots: 10})
	s.Save("f.excalidraw", []byte("gen-00"), false)

	for i := 1; i <= 10; i++ {
		s.Save("f.excalidraw", []byte(genContent(i)), true)
		ageSlots(t, s, "f.excalidraw")
	}
	slots, _ := s.BackupSlots("f.excalidraw")
	if len(slots) != 10 {
		t.Fatalf("slots after 10 backups: %d", len(slots))
	}

	// Slot 00 holds gen-00, the oldest content. The 11th backup must evict it.
	s.Save("f.excalidraw", []byte("gen-11"), true)
	slots, _ = s.BackupSlots("f.excalidraw")
	if len(slots) != 10 {
		t.Fatalf("slots after 11 backups: %d, want exactly 10", len(slots))
	}

	found := false
	for _, p := range slots {
		data, _ := os.ReadFile(p)
		if string(data) == "gen-00" {
			found = true
		}
	}
	if found {
		t.Fatal("oldest backup content survived the 11th rotation")
	}
}

func genContent(i int) string { return "gen-" + string(rune('0'+i/10)) + string(rune('0'+i%10)) }

// ageSlots pushes every existing slot's mtime into the past with a distinct
// offset per slot, so oldest-mtime selection is unambiguous regardless of
// filesystem timestamp granularity.
func ageSlots(t *testing.T, s *Store, path string) {
	t.Helper()
	slots, err := s.BackupSlots(path)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	for i, p := range slots {
		fi, err := os.Stat(p)
		if err != nil {
			t.Fatal(err)
		}
		aged := fi.ModTime().Add(-time.Duration(len(slots)-i) * time.Minute)
		// Keep relative order but guarantee separation.
		_ = now
		if err := os.Chtimes(p, aged, aged); err != nil {
			t.Fatal(err)
		}
	}
}

func TestVaultPathSkipsBackup(t *testing.T) {
	s := newTestStore(t, Config{})
	path := filepath.Join("obsidian", "note.excalidraw.md")
	s.Save(path, []byte("v1"), false)
	s.Save(path, []byte("v2"), true)

	slots, err := s.BackupSlots(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(slots) != 0 {
		t.Fatalf("vault path produced %d backups, want 0", len(slots))
	}
}
