package drawfile

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/drawfile/dbopen"
	"github.com/hazyhaar/drawfile/filestore"
	"github.com/hazyhaar/drawfile/httpapi"
	"github.com/hazyhaar/drawfile/observability"

	_ "modernc.org/sqlite"
)

// Service is a fully wired file service instance.
type Service struct {
	cfg    *Config
	logger *slog.Logger
	store  *filestore.Store
	db     *sql.DB
	events *observability.EventLogger
	srv    *http.Server
}

// NewService builds the service from configuration. The observability
// database is optional; without it events are dropped silently.
func NewService(cfg *Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	store, err := filestore.New(filestore.Config{
		Root:           cfg.DataRoot,
		BackupCooldown: cfg.BackupCooldown,
		BackupSlots:    cfg.BackupSlots,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("service: open store: %w", err)
	}

	var db *sql.DB
	var events *observability.EventLogger
	if cfg.ObservabilityDB != "" {
		db, err = dbopen.Open(cfg.ObservabilityDB,
			dbopen.WithMkdirAll(),
			dbopen.WithSchema(observability.Schema),
		)
		if err != nil {
			return nil, fmt.Errorf("service: open observability db: %w", err)
		}
		events = observability.NewEventLogger(db)
	}

	api := httpapi.New(store, events, logger)
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Service{
		cfg:    cfg,
		logger: logger,
		store:  store,
		db:     db,
		events: events,
		srv:    srv,
	}, nil
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully. The
// retention sweeper runs alongside when an observability database is
// configured.
func (s *Service) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("service: listening", "addr", s.cfg.Listen, "data_root", s.cfg.DataRoot)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	if s.db != nil {
		go s.retentionLoop(ctx)
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("service: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("service: shutdown", "error", err)
	}
	return s.Close()
}

// Close releases resources. Safe to call after Run returns.
func (s *Service) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Service) retentionLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Retention.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := observability.Cleanup(ctx, s.db, observability.RetentionConfig{
				FileEventsDays: s.cfg.Retention.FileEventsDays,
				HTTPLogsDays:   s.cfg.Retention.HTTPLogsDays,
			})
			if err != nil {
				s.logger.Warn("service: retention sweep failed", "error", err)
			}
		}
	}
}
