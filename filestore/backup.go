package filestore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// slot describes one position in the backup ring.
type slot struct {
	index   int
	path    string
	exists  bool
	modTime time.Time
}

// backup copies the current on-disk bytes of target into the backup ring
// before they are overwritten. Rules:
//
//   - nothing to back up if the target does not exist yet (first write);
//   - skip silently when the youngest slot is younger than the cooldown,
//     unless forced (manual save, conflict overwrite);
//   - reuse the first empty slot, else overwrite the oldest-mtime slot
//     (ties break to the lowest slot number).
//
// Reports whether a slot was written.
func (s *Store) backup(target string, force bool) (bool, error) {
	current, err := os.ReadFile(target)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read current: %w", err)
	}

	slots, err := s.scanSlots(target)
	if err != nil {
		return false, err
	}

	if !force {
		var youngest time.Time
		for _, sl := range slots {
			if sl.exists && sl.modTime.After(youngest) {
				youngest = sl.modTime
			}
		}
		if !youngest.IsZero() && time.Since(youngest) < s.cfg.BackupCooldown {
			s.logger.Debug("filestore: backup within cooldown, skipped",
				"target", target, "youngest", youngest)
			return false, nil
		}
	}

	chosen := chooseSlot(slots)
	if err := os.MkdirAll(filepath.Dir(chosen.path), 0o755); err != nil {
		return false, fmt.Errorf("mkdir backup dir: %w", err)
	}
	if err := os.WriteFile(chosen.path, current, 0o644); err != nil {
		return false, fmt.Errorf("write slot %02d: %w", chosen.index, err)
	}

	s.logger.Info("filestore: backup written",
		"target", target, "slot", chosen.index, "bytes", len(current), "forced", force)
	return true, nil
}

// scanSlots enumerates the fixed ring for a target file. Slots live in a
// sibling backup/ directory and are named {basename}_backup_{NN}.{ext}.
func (s *Store) scanSlots(target string) ([]slot, error) {
	dir := filepath.Join(filepath.Dir(target), "backup")
	base := filepath.Base(target)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	slots := make([]slot, s.cfg.BackupSlots)
	for i := range slots {
		name := fmt.Sprintf("%s_backup_%02d%s", stem, i, ext)
		p := filepath.Join(dir, name)
		slots[i] = slot{index: i, path: p}
		fi, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("stat slot %02d: %w", i, err)
		}
		slots[i].exists = true
		slots[i].modTime = fi.ModTime()
	}
	return slots, nil
}

func chooseSlot(slots []slot) slot {
	for _, sl := range slots {
		if !sl.exists {
			return sl
		}
	}
	oldest := slots[0]
	for _, sl := range slots[1:] {
		if sl.modTime.Before(oldest.modTime) {
			oldest = sl
		}
	}
	return oldest
}

// BackupSlots lists the existing backups for a file, oldest first. Recovery
// is a manual concern; this exists for tooling and tests.
func (s *Store) BackupSlots(path string) ([]string, error) {
	abs, err := s.Resolve(path)
	if err != nil {
		return nil, err
	}
	slots, err := s.scanSlots(abs)
	if err != nil {
		return nil, err
	}
	var existing []slot
	for _, sl := range slots {
		if sl.exists {
			existing = append(existing, sl)
		}
	}
	// Oldest first, slot number as tiebreak.
	for i := 0; i < len(existing); i++ {
		for j := i + 1; j < len(existing); j++ {
			a, b := existing[i], existing[j]
			if b.modTime.Before(a.modTime) || (b.modTime.Equal(a.modTime) && b.index < a.index) {
				existing[i], existing[j] = b, a
			}
		}
	}
	paths := make([]string, len(existing))
	for i, sl := range existing {
		paths[i] = sl.path
	}
	return paths, nil
}
