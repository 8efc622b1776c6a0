// Package syncer runs periodic incremental history imports in the
// background. Each run imports entries watched since the last successful
// checkpoint and advances the checkpoint only when the whole run succeeds.
package syncer

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/driftwave/driftsync/internal/importer"
)

// checkpointKey is the settings key holding the last successful history
// import instant, as an RFC 3339 string.
const checkpointKey = "sync.last_history_at"

// Service schedules and executes periodic import runs.
type Service struct {
	provider *importer.Provider
	store    importer.SettingsStore
	db       *sql.DB
	logger   zerolog.Logger
	interval time.Duration

	scheduler gocron.Scheduler
}

// New creates a sync service. The db connection is used to record run
// outcomes for inspection.
func New(provider *importer.Provider, store importer.SettingsStore, db *sql.DB, interval time.Duration, logger zerolog.Logger) (*Service, error) {
	gs, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &Service{
		provider:  provider,
		store:     store,
		db:        db,
		logger:    logger.With().Str("component", "syncer").Logger(),
		interval:  interval,
		scheduler: gs,
	}, nil
}

// Start registers the periodic job and starts the scheduler.
func (s *Service) Start() error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() {
			if err := s.RunOnce(context.Background()); err != nil {
				s.logger.Error().Err(err).Msg("scheduled sync run failed")
			}
		}),
		gocron.WithName("trakt-history-sync"),
	)
	if err != nil {
		return fmt.Errorf("failed to register sync job: %w", err)
	}

	s.scheduler.Start()
	s.logger.Info().Dur("interval", s.interval).Msg("periodic sync started")
	return nil
}

// Stop shuts the scheduler down, waiting for a running job to finish.
func (s *Service) Stop() error {
	return s.scheduler.Shutdown()
}

// RunOnce executes a single incremental import run. Unauthenticated
// providers are skipped silently; that is the normal state before the
// user completes device authorization.
func (s *Service) RunOnce(ctx context.Context) error {
	if !s.provider.IsAuthenticated() {
		s.logger.Debug().Msg("skipping sync run: not authenticated")
		return nil
	}

	runID := uuid.NewString()
	startedAt := time.Now().UTC()
	log := s.logger.With().Str("runId", runID).Logger()

	since := s.loadCheckpoint(ctx)
	log.Info().Msg("sync run started")

	s.recordRunStart(ctx, runID, startedAt)

	events, err := s.provider.ImportHistory(ctx, since)
	if err != nil {
		s.recordRunResult(ctx, runID, 0, err)
		return fmt.Errorf("history import failed: %w", err)
	}

	// Advance the checkpoint only after a fully successful run, so a
	// failed run re-imports rather than skipping entries.
	if err := s.store.Set(ctx, checkpointKey, startedAt.Format(time.RFC3339)); err != nil {
		s.recordRunResult(ctx, runID, len(events), err)
		return fmt.Errorf("failed to advance sync checkpoint: %w", err)
	}

	s.recordRunResult(ctx, runID, len(events), nil)
	log.Info().Int("items", len(events)).Msg("sync run complete")
	return nil
}

// loadCheckpoint returns the last successful run instant, or nil for a
// full import on the first run.
func (s *Service) loadCheckpoint(ctx context.Context) *time.Time {
	raw, err := s.store.Get(ctx, checkpointKey)
	if err != nil || raw == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		s.logger.Warn().Str("value", raw).Msg("ignoring malformed sync checkpoint")
		return nil
	}
	return &parsed
}

func (s *Service) recordRunStart(ctx context.Context, runID string, startedAt time.Time) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_runs (id, started_at) VALUES (?, ?)`,
		runID, startedAt.Format(time.RFC3339))
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to record sync run start")
	}
}

func (s *Service) recordRunResult(ctx context.Context, runID string, items int, runErr error) {
	errText := sql.NullString{}
	if runErr != nil {
		errText = sql.NullString{String: runErr.Error(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE sync_runs SET finished_at = ?, items_imported = ?, error = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), items, errText, runID)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to record sync run result")
	}
}
