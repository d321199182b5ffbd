// Package filestore owns the authoritative files on disk: load, metadata,
// save with a rotating backup ring. Writes are atomic (.tmp then rename) so
// a reader never observes a partial file, and the content hash is always
// computed fresh from the bytes on disk, never cached.
package filestore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hazyhaar/drawfile/obsidian"
)

// ErrNotFound is returned when the requested file does not exist.
var ErrNotFound = errors.New("filestore: file not found")

// ErrOutsideRoot is returned when a path escapes the configured root.
var ErrOutsideRoot = errors.New("filestore: path outside data root")

// Info is the metadata probe result for a file.
type Info struct {
	Exists     bool
	Hash       string // sha256 hex of the bytes currently on disk
	ModifiedAt time.Time
	BackedUp   bool // set by Save when a backup slot was written first
}

// Config configures a Store.
type Config struct {
	// Root is the directory boundary. Paths are resolved against it and may
	// not escape it. Required.
	Root string
	// BackupCooldown is the minimum age of the youngest backup slot before a
	// new unforced backup is written. Default: 5 minutes.
	BackupCooldown time.Duration
	// BackupSlots is the ring size. Default: 10.
	BackupSlots int
}

func (c *Config) defaults() {
	if c.BackupCooldown <= 0 {
		c.BackupCooldown = 5 * time.Minute
	}
	if c.BackupSlots <= 0 {
		c.BackupSlots = 10
	}
}

// Store reads and writes files under a root directory.
type Store struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Store. The root directory is created if absent.
func New(cfg Config, logger *slog.Logger) (*Store, error) {
	cfg.defaults()
	if cfg.Root == "" {
		return nil, fmt.Errorf("filestore: root is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("filestore: resolve root: %w", err)
	}
	cfg.Root = abs
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: mkdir root: %w", err)
	}
	return &Store{cfg: cfg, logger: logger}, nil
}

// Resolve maps a request path to an absolute path under the root. Absolute
// request paths must already be inside the root; relative paths are joined
// to it. Traversal outside the root is rejected.
func (s *Store) Resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("filestore: empty path")
	}
	var abs string
	if filepath.IsAbs(path) {
		abs = filepath.Clean(path)
	} else {
		abs = filepath.Join(s.cfg.Root, path)
	}
	rel, err := filepath.Rel(s.cfg.Root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrOutsideRoot
	}
	return abs, nil
}

// Load reads the file bytes and its current metadata. A missing file is
// ErrNotFound; an existing zero-byte file is empty bytes, not an error.
func (s *Store) Load(path string) ([]byte, Info, error) {
	abs, err := s.Resolve(path)
	if err != nil {
		return nil, Info{}, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Info{}, ErrNotFound
		}
		return nil, Info{}, fmt.Errorf("filestore: read %s: %w", path, err)
	}
	info, err := s.stat(abs)
	if err != nil {
		return nil, Info{}, err
	}
	return data, info, nil
}

// Stat returns existence, fresh content hash, and modification time.
func (s *Store) Stat(path string) (Info, error) {
	abs, err := s.Resolve(path)
	if err != nil {
		return Info{}, err
	}
	return s.stat(abs)
}

func (s *Store) stat(abs string) (Info, error) {
	fi, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return Info{}, nil
		}
		return Info{}, fmt.Errorf("filestore: stat: %w", err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return Info{}, fmt.Errorf("filestore: read for hash: %w", err)
	}
	return Info{
		Exists:     true,
		Hash:       HashBytes(data),
		ModifiedAt: fi.ModTime(),
	}, nil
}

// Save writes data to path: backup of the pre-write bytes first (unless the
// path is vault-managed), then an atomic write, then a fresh hash of what
// landed on disk. A backup failure is logged and never fails the save.
func (s *Store) Save(path string, data []byte, forceBackup bool) (Info, error) {
	abs, err := s.Resolve(path)
	if err != nil {
		return Info{}, err
	}

	var backedUp bool
	if obsidian.IsVaultPath(abs) {
		// The vault ecosystem manages its own versioning.
		s.logger.Debug("filestore: vault path, backup skipped", "path", path)
	} else {
		wrote, err := s.backup(abs, forceBackup)
		if err != nil {
			s.logger.Error("filestore: backup failed", "path", path, "error", err)
		}
		backedUp = wrote
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return Info{}, fmt.Errorf("filestore: mkdir: %w", err)
	}
	tmp := abs + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return Info{}, fmt.Errorf("filestore: write %s: %w", path, err)
	}
	if err := os.Rename(tmp, abs); err != nil {
		os.Remove(tmp)
		return Info{}, fmt.Errorf("filestore: rename %s: %w", path, err)
	}

	info, err := s.stat(abs)
	if err != nil {
		return info, err
	}
	info.BackedUp = backedUp
	return info, nil
}

// HashBytes returns the sha256 hex digest of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
