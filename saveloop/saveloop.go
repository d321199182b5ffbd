// Package saveloop drives persistence for one open document: it decides when
// a drawing mutation becomes a save, keeps exactly one save in flight, polls
// for external changes, and reconciles hash divergence before any local
// bytes reach disk.
//
// The state machine per document is Idle → PendingDebounce → Saving → Idle,
// with a force-flush transition available from any state. A failed save
// always returns the machine to Idle so future edits can retry.
package saveloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/drawfile/fileclient"
	"github.com/hazyhaar/drawfile/fingerprint"
	"github.com/hazyhaar/drawfile/observability"
	"github.com/hazyhaar/drawfile/obsidian"
	"github.com/hazyhaar/drawfile/snapshot"
)

// StoreClient is the slice of the file service client the scheduler needs.
type StoreClient interface {
	Load(ctx context.Context, path string) (*fileclient.LoadResult, error)
	Metadata(ctx context.Context, path string) fileclient.Metadata
	Save(ctx context.Context, path string, scene *snapshot.Scene, forceBackup bool) (*fileclient.SaveResult, error)
}

// SceneSource returns the current live scene. It is called again when a
// debounce timer fires, never cached: edits that landed after the timer was
// armed must be included. Must be safe to call from any goroutine.
type SceneSource func() *snapshot.Scene

// SceneSink replaces the local working scene after a conflict reload.
type SceneSink func(*snapshot.Scene)

// Decision is the user's answer to a conflict prompt.
type Decision int

const (
	// DecisionReload discards the local in-progress save and adopts the
	// remote content.
	DecisionReload Decision = iota
	// DecisionOverwrite saves the local content, with the clobbered remote
	// version preserved in the backup ring first.
	DecisionOverwrite
)

// Prompter presents the reload-vs-overwrite choice. Called at most once per
// divergent remote hash: while the user deliberates, further scheduler ticks
// skip the prompt instead of stacking dialogs.
type Prompter interface {
	ResolveConflict(ctx context.Context, path, remoteHash string) Decision
}

// Config configures a Scheduler for one document.
type Config struct {
	// Path is the remote file path. Required; documents without a backing
	// file have no scheduler (every change is persisted locally by the
	// caller, see fingerprint.NewDetector(false)).
	Path string
	// Debounce is the main quiet window after a qualifying edit.
	// Default: 4s.
	Debounce time.Duration
	// Burst is the sub-window that catches the tail of a fast edit burst:
	// if an edit landed within Burst of the timer firing, the commit is
	// pushed back by Burst. Default: 400ms.
	Burst time.Duration
	// PollInterval is the period of the external-change probe.
	// Default: 7s.
	PollInterval time.Duration
	// InitialRemoteHash is the content hash seen when the document was
	// loaded. Empty means the file did not exist yet.
	InitialRemoteHash string
	// Notify surfaces user-facing messages (conflict outcomes, rejected
	// saves). Optional.
	Notify func(message string)
	// Events records conflict lifecycle events when the host runs with an
	// observability store. Optional; nil drops them.
	Events *observability.EventLogger
}

func (c *Config) defaults() {
	if c.Debounce <= 0 {
		c.Debounce = 4 * time.Second
	}
	if c.Burst <= 0 {
		c.Burst = 400 * time.Millisecond
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 7 * time.Second
	}
}

// Scheduler owns the save state for one open document.
type Scheduler struct {
	cfg        Config
	client     StoreClient
	source     SceneSource
	sink       SceneSink
	prompter   Prompter
	logger     *slog.Logger
	det        *fingerprint.Detector
	autoReload bool

	mu             sync.Mutex
	timer          *time.Timer
	pending        bool
	saving         bool
	lastChange     time.Time
	lastRemoteHash string
	notifiedHash   string
	overwriteHash  string
	runCtx         context.Context
}

// New creates a Scheduler. prompter may be nil, in which case divergence
// always resolves to reload (the non-destructive choice).
func New(cfg Config, client StoreClient, source SceneSource, sink SceneSink, prompter Prompter, logger *slog.Logger) (*Scheduler, error) {
	cfg.defaults()
	if cfg.Path == "" {
		return nil, fmt.Errorf("saveloop: path is required")
	}
	if client == nil || source == nil || sink == nil {
		return nil, fmt.Errorf("saveloop: client, source and sink are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	det := fingerprint.NewDetector(true)
	return &Scheduler{
		cfg:            cfg,
		client:         client,
		source:         source,
		sink:           sink,
		prompter:       prompter,
		logger:         logger,
		det:            det,
		autoReload:     obsidian.IsVaultPath(cfg.Path),
		lastRemoteHash: cfg.InitialRemoteHash,
		runCtx:         context.Background(),
	}, nil
}

// SetBaseline seeds the detector with the fingerprint of the scene as
// loaded, so the first no-op notification does not trigger a save.
func (s *Scheduler) SetBaseline(scene *snapshot.Scene) {
	fp := fingerprint.Compute(scene)
	s.mu.Lock()
	s.det.SetBaseline(fp)
	s.mu.Unlock()
}

// Run starts the external-change poll and blocks until ctx is cancelled.
// Timer-fired saves inherit ctx.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	s.runCtx = ctx
	s.mu.Unlock()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.logger.Debug("saveloop: running", "path", s.cfg.Path, "poll", s.cfg.PollInterval)

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			if s.timer != nil {
				s.timer.Stop()
			}
			s.pending = false
			s.mu.Unlock()
			s.logger.Debug("saveloop: stopped", "path", s.cfg.Path)
			return
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

// NotifyChange reports a drawing mutation. Insignificant changes (identical
// fingerprint) are dropped here; qualifying ones arm the debounce timer.
// Repeated calls while a timer is pending coalesce into the one armed save.
func (s *Scheduler) NotifyChange() {
	s.mu.Lock()
	s.lastChange = time.Now()
	if s.pending {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if !s.shouldPersist(s.source()) {
		return
	}

	s.mu.Lock()
	if s.pending {
		s.mu.Unlock()
		return
	}
	s.pending = true
	if s.timer == nil {
		s.timer = time.AfterFunc(s.cfg.Debounce, s.onDebounce)
	} else {
		s.timer.Reset(s.cfg.Debounce)
	}
	s.mu.Unlock()
}

// ForceFlush cancels any pending debounce and saves immediately. The
// conflict check still applies; only the quiet window is bypassed.
// forceBackup is set for explicit user-triggered saves so the server writes
// a backup regardless of its cooldown.
//
// A flush raced against an in-flight save is suppressed, not queued: the
// next qualifying edit or poll reconciles any residual delta.
func (s *Scheduler) ForceFlush(ctx context.Context, forceBackup bool) error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.pending = false
	if s.saving {
		s.mu.Unlock()
		s.logger.Debug("saveloop: flush suppressed, save in flight", "path", s.cfg.Path)
		return nil
	}
	s.mu.Unlock()

	return s.doSave(ctx, forceBackup, "")
}

// FlushDetached is the page-unload path: fire the save and return without
// waiting for the response. Best-effort: the host may die before any reply
// arrives. Only the response wait is relaxed; the pre-save divergence check
// still runs, and with nobody left to answer a prompt a divergent remote
// wins over the departing local state.
func (s *Scheduler) FlushDetached() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.pending = false
	s.mu.Unlock()

	scene := s.source()
	if !s.shouldPersist(scene) {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		meta := s.client.Metadata(ctx, s.cfg.Path)
		if !meta.Reachable {
			return
		}
		s.mu.Lock()
		last := s.lastRemoteHash
		overwrite := s.overwriteHash
		s.mu.Unlock()
		if meta.Exists && meta.Hash != last && meta.Hash != overwrite {
			s.logger.Warn("saveloop: unload flush skipped, file changed externally",
				"path", s.cfg.Path, "remote_hash", meta.Hash)
			return
		}

		if dc, ok := s.client.(interface {
			SaveDetached(path string, scene *snapshot.Scene)
		}); ok {
			dc.SaveDetached(s.cfg.Path, scene)
			return
		}
		if err := s.doSave(ctx, false, ""); err != nil {
			s.logger.Warn("saveloop: unload flush failed", "path", s.cfg.Path, "error", err)
		}
	}()
}

func (s *Scheduler) onDebounce() {
	s.mu.Lock()
	if !s.pending {
		s.mu.Unlock()
		return
	}
	// Tail of a fast burst: give it one more sub-window to settle.
	if since := time.Since(s.lastChange); since < s.cfg.Burst {
		s.timer.Reset(s.cfg.Burst)
		s.mu.Unlock()
		return
	}
	s.pending = false
	ctx := s.runCtx
	s.mu.Unlock()

	if err := s.doSave(ctx, false, ""); err != nil {
		s.logger.Warn("saveloop: debounced save failed", "path", s.cfg.Path, "error", err)
	}
}

func (s *Scheduler) shouldPersist(scene *snapshot.Scene) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.det.ShouldPersist(scene)
}

// doSave runs the full pipeline: re-read the live scene, re-check
// significance, resolve conflicts, save, update baselines. resolvedHash is
// the remote hash the user already chose to overwrite, if any.
func (s *Scheduler) doSave(ctx context.Context, forceBackup bool, resolvedHash string) error {
	s.mu.Lock()
	if s.saving {
		s.mu.Unlock()
		return nil
	}
	s.saving = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.saving = false
		s.mu.Unlock()
	}()

	scene := s.source()
	// A resolved conflict always writes: the point of Overwrite is to restore
	// local content even when it matches the local baseline.
	if resolvedHash == "" && !s.shouldPersist(scene) {
		return nil
	}

	meta := s.client.Metadata(ctx, s.cfg.Path)
	if !meta.Reachable {
		// Transient: the next tick retries implicitly.
		s.logger.Debug("saveloop: service unreachable, save deferred", "path", s.cfg.Path)
		return nil
	}

	s.mu.Lock()
	last := s.lastRemoteHash
	s.mu.Unlock()

	// Divergence covers the file appearing when it was expected absent:
	// last is empty then, and any existing remote hash differs from it.
	if meta.Exists && meta.Hash != last && meta.Hash != resolvedHash {
		proceed, force := s.resolveDivergence(ctx, meta.Hash)
		if !proceed {
			return nil
		}
		if force {
			forceBackup = true
		}
	}

	res, err := s.client.Save(ctx, s.cfg.Path, scene, forceBackup)
	if err != nil {
		var rejected *fileclient.RejectedError
		if errors.As(err, &rejected) {
			// Non-retryable; local state is kept so nothing is lost.
			s.notifyUser("save failed: " + rejected.Message)
			s.logger.Error("saveloop: save rejected", "path", s.cfg.Path, "error", rejected.Message)
		} else {
			s.logger.Warn("saveloop: save failed", "path", s.cfg.Path, "error", err)
		}
		return err
	}

	fp := fingerprint.Compute(scene)
	s.mu.Lock()
	s.det.SetBaseline(fp)
	s.lastRemoteHash = res.Hash
	s.notifiedHash = ""
	s.overwriteHash = ""
	s.mu.Unlock()

	s.logger.Info("saveloop: saved", "path", s.cfg.Path, "hash", res.Hash)
	return nil
}

// resolveDivergence handles a remote hash that no longer matches the last
// known one: an external writer touched the file. Returns whether the
// pending save should proceed, and whether it must force a backup.
func (s *Scheduler) resolveDivergence(ctx context.Context, remoteHash string) (proceed, forceBackup bool) {
	if s.autoReload {
		// Vault files: the external tool is the primary editor there, so
		// reconcile silently instead of interrupting the user.
		s.reload(ctx)
		return false, false
	}

	s.mu.Lock()
	if s.overwriteHash == remoteHash {
		// The user already chose Overwrite for this hash; an earlier
		// attempt failed before the write landed. Do not re-prompt.
		s.mu.Unlock()
		return true, true
	}
	already := s.notifiedHash == remoteHash
	s.notifiedHash = remoteHash
	s.mu.Unlock()
	if already {
		// Prompt for this hash is already on screen; skip this attempt.
		return false, false
	}

	s.cfg.Events.LogEvent(ctx, observability.FileEvent{
		EventType:   observability.EventConflict,
		FilePath:    s.cfg.Path,
		ContentHash: remoteHash,
		Success:     true,
	})

	decision := DecisionReload
	if s.prompter != nil {
		decision = s.prompter.ResolveConflict(ctx, s.cfg.Path, remoteHash)
	}

	if decision == DecisionOverwrite {
		s.mu.Lock()
		s.overwriteHash = remoteHash
		s.mu.Unlock()
		s.cfg.Events.LogEvent(ctx, observability.FileEvent{
			EventType:   observability.EventOverwrite,
			FilePath:    s.cfg.Path,
			ContentHash: remoteHash,
			Success:     true,
		})
		s.notifyUser("external changes overwritten; previous version kept in backup")
		return true, true
	}
	s.reload(ctx)
	return false, false
}

// reload adopts the remote content as the new local working scene.
func (s *Scheduler) reload(ctx context.Context) {
	res, err := s.client.Load(ctx, s.cfg.Path)
	if err != nil {
		s.logger.Error("saveloop: conflict reload failed", "path", s.cfg.Path, "error", err)
		return
	}
	s.sink(res.Scene)

	fp := fingerprint.Compute(res.Scene)
	s.mu.Lock()
	s.det.SetBaseline(fp)
	s.lastRemoteHash = res.Hash
	s.notifiedHash = ""
	s.overwriteHash = ""
	s.mu.Unlock()

	s.cfg.Events.LogEvent(ctx, observability.FileEvent{
		EventType:   observability.EventReload,
		FilePath:    s.cfg.Path,
		ContentHash: res.Hash,
		Success:     true,
	})
	s.notifyUser("file changed externally; reloaded")
	s.logger.Info("saveloop: reloaded external changes", "path", s.cfg.Path, "hash", res.Hash)
}

// pollOnce is the read-only external-change probe. It never writes, but may
// drive the reload path when divergence is found without any local edit.
func (s *Scheduler) pollOnce(ctx context.Context) {
	meta := s.client.Metadata(ctx, s.cfg.Path)
	if !meta.Reachable || !meta.Exists {
		return
	}

	s.mu.Lock()
	last := s.lastRemoteHash
	saving := s.saving
	s.mu.Unlock()

	if saving || meta.Hash == last {
		return
	}

	proceed, force := s.resolveDivergence(ctx, meta.Hash)
	if proceed {
		// Overwrite chosen from the poll prompt: push the local scene now.
		if err := s.doSave(ctx, force, meta.Hash); err != nil {
			s.logger.Warn("saveloop: overwrite save failed", "path", s.cfg.Path, "error", err)
		}
	}
}

func (s *Scheduler) notifyUser(msg string) {
	if s.cfg.Notify != nil {
		s.cfg.Notify(msg)
	}
}
